package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItem_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		date string
		want time.Time
	}{
		{name: "date only", date: `"2024-01-15"`, want: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{name: "rfc3339", date: `"2024-01-15T10:30:00Z"`, want: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)},
		{name: "missing", date: `null`, want: time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var it Item
			body := `{"item_id":"a1","source":1,"amount":"12.50","currency":"USD","date":` + tt.date + `,"description":"Acme"}`
			require.NoError(t, json.Unmarshal([]byte(body), &it))
			assert.True(t, tt.want.Equal(it.Date), "got %v", it.Date)
			assert.Equal(t, "a1", it.ID)
			assert.Equal(t, SideOne, it.Source)
			assert.Equal(t, "12.5", it.Amount.String())
			require.NotNil(t, it.Description)
			assert.Equal(t, "Acme", *it.Description)
		})
	}

	var it Item
	assert.ErrorContains(t, json.Unmarshal([]byte(`{"item_id":"a1","date":"15/01/2024"}`), &it), "invalid date")
}

func TestItem_JSONRoundTripKeepsDate(t *testing.T) {
	in := Item{ID: "b1", Source: SideTwo, Currency: "EUR", Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Item
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, in.Date.Equal(out.Date))
}

func TestInferCardinality(t *testing.T) {
	assert.Equal(t, CardinalityOneToOne, InferCardinality(1, 1))
	assert.Equal(t, CardinalityOneToMany, InferCardinality(1, 3))
	assert.Equal(t, CardinalityManyToOne, InferCardinality(2, 1))
	assert.Equal(t, CardinalityManyToMany, InferCardinality(2, 2))
}
