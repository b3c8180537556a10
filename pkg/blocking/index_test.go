package blocking

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func newItem(id string, side models.Side, amount string, date time.Time, currency string) models.Item {
	return models.Item{ID: id, Source: side, Amount: decimal.RequireFromString(amount), Date: date, Currency: currency}
}

var base = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

func TestBuild_Disabled(t *testing.T) {
	items := []models.Item{
		newItem("b2", models.SideTwo, "10", base, "USD"),
		newItem("a1", models.SideOne, "10", base, "USD"),
		newItem("b1", models.SideTwo, "20", base, "USD"),
	}

	ix := NewBuilder(models.BlockingConfig{Enabled: false}, nil, 2).Build(items)
	require.Equal(t, []string{AllItemsKey}, ix.Keys())
	bucket, ok := ix.Bucket(AllItemsKey)
	require.True(t, ok)
	assert.Len(t, bucket.Side1, 1)
	assert.Equal(t, []string{"b1", "b2"}, []string{bucket.Side2[0].ID, bucket.Side2[1].ID})
	assert.Equal(t, 2, bucket.Pairs())
	require.Len(t, ix.Warnings, 1)
	assert.Contains(t, ix.Warnings[0], "exceed the ceiling of 2")
}

func TestBuild_NoWarningUnderCeiling(t *testing.T) {
	items := []models.Item{newItem("a1", models.SideOne, "10", base, "USD")}
	ix := NewBuilder(models.BlockingConfig{}, nil, 10).Build(items)
	assert.Empty(t, ix.Warnings)
	assert.Empty(t, ix.Comparable())
}

func TestBuild_BlocksByFields(t *testing.T) {
	cfg := models.BlockingConfig{Enabled: true, Fields: []string{"currency", "amount"}}
	items := []models.Item{
		newItem("a1", models.SideOne, "100.00", base, "USD"),
		newItem("b1", models.SideTwo, "120.00", base, "usd"),
		newItem("b2", models.SideTwo, "1000.00", base, "USD"),
		newItem("a2", models.SideOne, "100.00", base, "EUR"),
	}

	ix := NewBuilder(cfg, nil, 0).Build(items)
	assert.Equal(t, []string{"currency=EUR|amount=e2", "currency=USD|amount=e2", "currency=USD|amount=e3"}, ix.Keys())

	comparable := ix.Comparable()
	require.Len(t, comparable, 1)
	assert.Equal(t, "currency=USD|amount=e2", comparable[0].Key)
	assert.Equal(t, "a1", comparable[0].Side1[0].ID)
	assert.Equal(t, "b1", comparable[0].Side2[0].ID)
}

func TestBuild_Deterministic(t *testing.T) {
	cfg := models.BlockingConfig{Enabled: true, Fields: []string{"date", "currency"}}
	items := []models.Item{
		newItem("a1", models.SideOne, "1", base, "USD"),
		newItem("b1", models.SideTwo, "1", base.AddDate(0, 0, 1), "USD"),
		newItem("a2", models.SideOne, "1", base.AddDate(0, 0, 30), "USD"),
	}
	reversed := []models.Item{items[2], items[1], items[0]}

	first := NewBuilder(cfg, nil, 0).Build(items)
	second := NewBuilder(cfg, nil, 0).Build(reversed)
	assert.Equal(t, first.Keys(), second.Keys())
	for _, key := range first.Keys() {
		b1, _ := first.Bucket(key)
		b2, _ := second.Bucket(key)
		assert.Equal(t, b1, b2)
	}
}

func TestKey_Segments(t *testing.T) {
	b := NewBuilder(models.BlockingConfig{Enabled: true, Fields: []string{"counterparty", "extra.ref", "amount"}}, nil, 0)
	it := newItem("a1", models.SideOne, "0.05", base, "USD")
	it.Counterparty = models.String("ACME, Corp.")
	it.Extra = map[string]any{"ref": "Inv-9"}
	assert.Equal(t, "counterparty=acm|extra.ref=inv9|amount=e-2", b.Key(it))

	empty := newItem("a2", models.SideOne, "0", time.Time{}, "USD")
	assert.Equal(t, "counterparty=|extra.ref=|amount=zero", b.Key(empty))
}

func TestAmountMagnitude(t *testing.T) {
	tests := map[string]string{
		"1":       "e0",
		"9.99":    "e0",
		"10":      "e1",
		"999.99":  "e2",
		"1000":    "e3",
		"-1000":   "e3",
		"0.5":     "e-1",
		"0.01":    "e-2",
		"0":       "zero",
		"1234567": "e6",
	}
	for in, want := range tests {
		assert.Equal(t, want, amountMagnitude(decimal.RequireFromString(in)), in)
	}
}

func TestDateBucketWindow(t *testing.T) {
	b := NewBuilder(models.BlockingConfig{Enabled: true, Fields: []string{"date"}, DateWindowDays: 7}, nil, 0)
	// 2024-01-15 is 19737 days after the epoch; 19737/7 = 2819 remainder 4
	assert.Equal(t, "date=2819", b.Key(newItem("a", models.SideOne, "1", base, "USD")))
	assert.Equal(t, "date=2819", b.Key(newItem("a", models.SideOne, "1", base.AddDate(0, 0, 2), "USD")))
	assert.Equal(t, "date=2820", b.Key(newItem("a", models.SideOne, "1", base.AddDate(0, 0, 3), "USD")))
	assert.Equal(t, "date=-1", b.Key(newItem("a", models.SideOne, "1", time.Date(1969, 12, 31, 0, 0, 0, 0, time.UTC), "USD")))
}

func TestValidField(t *testing.T) {
	assert.True(t, ValidField("date"))
	assert.True(t, ValidField("extra.meta.ref"))
	assert.False(t, ValidField("extra."))
	assert.False(t, ValidField("source"))
}
