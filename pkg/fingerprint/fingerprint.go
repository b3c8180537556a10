// Package fingerprint derives deterministic identities for candidates, item content and configs
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"sort"
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
)

// candidateIDPrefix keeps candidate ids visually distinct from match ids
const candidateIDPrefix = "cand_"

// Generate creates a deterministic fingerprint for arbitrary data.
// The fingerprint is a SHA256 hash of the canonicalized JSON.
func Generate(data any) string {
	hash := sha256.Sum256([]byte(canonicalize(data)))
	return hex.EncodeToString(hash[:])
}

// GenerateFromValue fingerprints any JSON-serializable value by canonicalizing its JSON form
func GenerateFromValue(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	return Generate(generic), nil
}

// CandidateID returns the identity of a pairing. The order of ids inside each group does not matter.
func CandidateID(group1, group2 []string) string {
	g1 := slices.Clone(group1)
	g2 := slices.Clone(group2)
	sort.Strings(g1)
	sort.Strings(g2)

	var b strings.Builder
	b.WriteString("1:")
	b.WriteString(strings.Join(g1, "\x1f"))
	b.WriteString("|2:")
	b.WriteString(strings.Join(g2, "\x1f"))

	hash := sha256.Sum256([]byte(b.String()))
	return candidateIDPrefix + hex.EncodeToString(hash[:16])
}

// Items fingerprints the content of a set of items. Any change to an item's fields changes the result.
func Items(items []models.Item) string {
	sorted := slices.Clone(items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	parts := make([]any, 0, len(sorted))
	for _, item := range sorted {
		parts = append(parts, itemData(item))
	}
	return Generate(parts)
}

// Config fingerprints a reconciliation config
func Config(cfg *models.ReconciliationConfig) (string, error) {
	return GenerateFromValue(cfg)
}

func itemData(item models.Item) map[string]any {
	data := map[string]any{
		"id":       item.ID,
		"source":   int(item.Source),
		"amount":   item.Amount.String(),
		"currency": item.Currency,
	}
	if !item.Date.IsZero() {
		data["date"] = models.DateOnly(item.Date).Format("2006-01-02")
	}
	if item.Counterparty != nil {
		data["counterparty"] = *item.Counterparty
	}
	if item.Description != nil {
		data["description"] = *item.Description
	}
	if len(item.Extra) > 0 {
		data["extra"] = normalizeJSON(item.Extra)
	}
	return data
}

// normalizeJSON round-trips a value through JSON so typed values and their decoded forms fingerprint alike
func normalizeJSON(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

// canonicalize creates a deterministic string representation by sorting map keys recursively
func canonicalize(data any) string {
	var b strings.Builder
	writeCanonical(&b, data)
	return b.String()
}

func writeCanonical(b *strings.Builder, data any) {
	switch v := data.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString("{")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(",")
			}
			keyJSON, _ := json.Marshal(k)
			b.Write(keyJSON)
			b.WriteString(":")
			writeCanonical(b, v[k])
		}
		b.WriteString("}")
	case []any:
		b.WriteString("[")
		for i, elem := range v {
			if i > 0 {
				b.WriteString(",")
			}
			writeCanonical(b, elem)
		}
		b.WriteString("]")
	default:
		// For primitives, use JSON encoding
		raw, _ := json.Marshal(v)
		b.Write(raw)
	}
}

// HasChanged compares two fingerprints to detect changes
func HasChanged(oldFingerprint, newFingerprint string) bool {
	return oldFingerprint != newFingerprint
}
