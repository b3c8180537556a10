package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationErrors(t *testing.T) {
	verr := NewValidationErrors()
	assert.False(t, verr.HasIssues())
	assert.NoError(t, verr.OrNil())

	verr.Add("thresholds.auto_link", "must be >= auto_suggest").Addf("weights.amount", "must be non-negative, got %v", -1)
	require.True(t, verr.HasIssues())
	assert.Len(t, verr.Issues, 2)
	assert.Contains(t, verr.Error(), "thresholds.auto_link: must be >= auto_suggest")

	err := verr.OrNil()
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.False(t, IsConflict(err))
}

func TestErrorPredicatesUnwrap(t *testing.T) {
	wrapped := fmt.Errorf("accept: %w", NewConflictError("item already matched", "a1"))
	assert.True(t, IsConflict(wrapped))
	assert.False(t, IsNotFound(wrapped))

	nf := fmt.Errorf("lookup: %w", NewNotFoundError("candidate", "c1"))
	assert.True(t, IsNotFound(nf))
	assert.Equal(t, "lookup: candidate c1 not found", nf.Error())

	assert.True(t, IsScoring(NewScoringError("amount", 1.5, "out of range")))
}

func TestToHTTPError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"validation", NewValidationErrors().Add("items_1", "required"), http.StatusUnprocessableEntity},
		{"conflict", NewConflictError("run already in progress"), http.StatusConflict},
		{"not found", NewNotFoundError("match", "m1"), http.StatusNotFound},
		{"wrapped conflict", fmt.Errorf("ctx: %w", NewConflictError("x")), http.StatusConflict},
		{"http passthrough", httperror.NewHTTPError(http.StatusBadRequest, "bad"), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := ToHTTPError(tt.err)
			require.True(t, httperror.IsHTTPError(out))
			assert.Equal(t, tt.code, httperror.GetStatusCode(out))
		})
	}

	plain := fmt.Errorf("boom")
	assert.Equal(t, plain, ToHTTPError(plain))
	assert.NoError(t, ToHTTPError(nil))
}
