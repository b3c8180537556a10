package middleware

import (
	stdcontext "context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/context"
	apperrors "github.com/Ramsey-B/fern/pkg/errors"
)

func nopLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = Error(nopLogger())
	e.Use(Context())
	return e
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestContext(t *testing.T) {
	e := newEcho()
	var tenant, user, requestID string
	e.GET("/ping", func(c echo.Context) error {
		ctx := c.Request().Context()
		tenant = context.GetTenantID(ctx)
		user = context.GetUserID(ctx)
		requestID = context.GetRequestID(ctx)
		return c.NoContent(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderTenantID, "tenant-1")
	req.Header.Set(HeaderUserID, "alice")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "tenant-1", tenant)
	assert.Equal(t, "alice", user)
	assert.NotEmpty(t, requestID)
	assert.Equal(t, requestID, rec.Header().Get(echo.HeaderXRequestID))
}

func TestError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{name: "validation", err: apperrors.NewValidationErrors().Add("thresholds", "out of order"), code: http.StatusUnprocessableEntity, message: "validation failed"},
		{name: "conflict", err: apperrors.NewConflictError("items are already matched", "a1"), code: http.StatusConflict, message: "items are already matched"},
		{name: "not found", err: apperrors.NewNotFoundError("candidate", "cand_1"), code: http.StatusNotFound, message: "candidate cand_1 not found"},
		{name: "echo", err: echo.NewHTTPError(http.StatusUnauthorized, "missing bearer"), code: http.StatusUnauthorized, message: "missing bearer"},
		{name: "unknown", err: errors.New("boom"), code: http.StatusInternalServerError, message: "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEcho()
			e.GET("/fail", func(c echo.Context) error { return tt.err })

			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fail", nil))

			assert.Equal(t, tt.code, rec.Code)
			body := decodeError(t, rec)
			assert.Contains(t, body.Message, tt.message)
			assert.NotEmpty(t, body.RequestID)
		})
	}
}

func TestRequireTenant(t *testing.T) {
	e := newEcho()
	g := e.Group("/api", RequireTenant())
	g.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ok", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/ok", nil)
	req.Header.Set(HeaderTenantID, "tenant-1")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

type fakeVerifier struct {
	claims *UserClaims
}

func (f fakeVerifier) Verify(_ stdcontext.Context, raw string) (*UserClaims, error) {
	if raw != "good" {
		return nil, errors.New("signature mismatch")
	}
	return f.claims, nil
}

func TestAuthentication(t *testing.T) {
	e := newEcho()
	e.Use(Authentication(nopLogger(), fakeVerifier{claims: &UserClaims{Sub: "user-9", TenantID: "tenant-from-token"}}))
	var tenant, user string
	e.GET("/me", func(c echo.Context) error {
		tenant = context.GetTenantID(c.Request().Context())
		user = context.GetUserID(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{name: "missing", header: "", code: http.StatusUnauthorized},
		{name: "invalid", header: "Bearer bad", code: http.StatusUnauthorized},
		{name: "valid", header: "Bearer good", code: http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			req.Header.Set(HeaderTenantID, "tenant-from-header")
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			assert.Equal(t, tt.code, rec.Code)
		})
	}

	assert.Equal(t, "tenant-from-token", tenant)
	assert.Equal(t, "user-9", user)
}
