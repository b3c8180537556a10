// Package manualmatch validates user-submitted matches that bypass scoring
package manualmatch

import (
	"fmt"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/scoring"
)

// Report is the outcome of validating a manual match. Errors block the match, warnings do not.
type Report struct {
	Cardinality models.Cardinality
	Errors      []models.ValidationIssue
	Warnings    []models.ValidationIssue
	// Unknown lists ids with no stored item
	Unknown []string
	// Matched lists ids that already belong to a match
	Matched []string
}

// Valid reports whether the match may be created
func (r *Report) Valid() bool {
	return len(r.Errors) == 0 && len(r.Unknown) == 0 && len(r.Matched) == 0
}

func (r *Report) addError(field, format string, args ...any) {
	r.Errors = append(r.Errors, models.ValidationIssue{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) addWarning(field, format string, args ...any) {
	r.Warnings = append(r.Warnings, models.ValidationIssue{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks a proposed match against the current state of its items
func Validate(items1, items2 []string, states map[string]models.ItemState, tol models.Tolerances) *Report {
	report := &Report{Cardinality: models.InferCardinality(len(items1), len(items2))}

	if len(items1) == 0 {
		report.addError("items_1", "at least one item from source 1 is required")
	}
	if len(items2) == 0 {
		report.addError("items_2", "at least one item from source 2 is required")
	}

	seen := make(map[string]bool, len(items1)+len(items2))
	group1 := checkSide(report, "items_1", items1, models.SideOne, states, seen)
	group2 := checkSide(report, "items_2", items2, models.SideTwo, states, seen)

	if !report.Valid() || len(group1) == 0 || len(group2) == 0 {
		return report
	}

	checkAmounts(report, group1, group2, tol)
	return report
}

func checkSide(report *Report, field string, ids []string, side models.Side, states map[string]models.ItemState, seen map[string]bool) []models.Item {
	group := make([]models.Item, 0, len(ids))
	for i, id := range ids {
		path := fmt.Sprintf("%s[%d]", field, i)
		if seen[id] {
			report.addError(path, "item %s is listed more than once", id)
			continue
		}
		seen[id] = true

		state, ok := states[id]
		if !ok {
			report.Unknown = append(report.Unknown, id)
			continue
		}
		if state.Source != side {
			report.addError(path, "item %s belongs to source %d", id, state.Source)
			continue
		}
		if state.IsMatched() {
			report.Matched = append(report.Matched, id)
			continue
		}
		group = append(group, state.Item)
	}
	return group
}

func checkAmounts(report *Report, group1, group2 []models.Item, tol models.Tolerances) {
	currency := normalizers.Currency(group1[0].Currency)
	for _, item := range append(append([]models.Item{}, group1...), group2...) {
		if normalizers.Currency(item.Currency) != currency {
			report.addWarning("currency", "items use more than one currency; amounts were not compared")
			return
		}
	}

	sum1, sum2 := scoring.Sum(group1), scoring.Sum(group2)
	if scoring.WithinTolerance(sum1, sum2, tol) {
		return
	}
	report.addWarning("amount", "amount totals differ beyond tolerance: %s vs %s", sum1.StringFixed(2), sum2.StringFixed(2))
}
