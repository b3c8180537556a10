package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Acme Corp", "acme corp"},
		{"  ACME,   Corp.  ", "acme corp"},
		{"O'Brien & Sons", "obrien sons"},
		{"Café Zürich", "café zürich"},
		{"", ""},
		{"---", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Text(tt.in), tt.in)
	}
}

func TestApplyChain(t *testing.T) {
	assert.Equal(t, "acme corp", ApplyChain("ACME Corp."))
	assert.Equal(t, "ACMECORP", ApplyChain(" acme-corp ", "reference"))
	assert.Equal(t, "acme", ApplyChain("Acme Corporation", "strip_corporate_suffix"))
	assert.Equal(t, "unchanged", ApplyChain("unchanged", "does_not_exist"))
}

func TestRegistry(t *testing.T) {
	_, ok := Get("text")
	assert.True(t, ok)
	_, ok = Get("nope")
	assert.False(t, ok)
}

func TestPrefixAndCurrency(t *testing.T) {
	assert.Equal(t, "acm", Prefix("acme corp", 3))
	assert.Equal(t, "ab", Prefix("ab", 3))
	assert.Equal(t, "zür", Prefix("zürich", 3))
	assert.Equal(t, "all", Prefix("all", 0))
	assert.Equal(t, "USD", Currency(" usd "))
}

func TestReference(t *testing.T) {
	assert.Equal(t, "INV00123", Reference("inv-00123"))
	assert.Equal(t, "123", DigitsOnly("#1-2-3"))
}
