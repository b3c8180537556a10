package reconcile

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Ramsey-B/fern/pkg/blocking"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/scoring"
)

// pairing is one group of side 1 items compared against one group of side 2 items
type pairing struct {
	group1 []models.Item
	group2 []models.Item
}

// bucketPairings lists every one-to-one pairing of the bucket followed, when grouping is enabled, by the
// one-to-many and many-to-one groupings whose amount sums agree within tolerance. Output order is deterministic.
func bucketPairings(b *blocking.Bucket, cfg *models.ReconciliationConfig) ([]pairing, []string) {
	pairings := make([]pairing, 0, b.Pairs())
	for _, a := range b.Side1 {
		for _, o := range b.Side2 {
			pairings = append(pairings, pairing{group1: []models.Item{a}, group2: []models.Item{o}})
		}
	}

	if !cfg.Grouping.Enabled || cfg.Grouping.MaxGroupSize < 2 {
		return pairings, nil
	}

	var warnings []string
	if limit := cfg.Grouping.MaxBucketItems; limit > 0 && (len(b.Side1) > limit || len(b.Side2) > limit) {
		warnings = append(warnings, fmt.Sprintf("grouping skipped for bucket %s: %d/%d items exceed the limit of %d per side", b.Key, len(b.Side1), len(b.Side2), limit))
		return pairings, warnings
	}

	for _, anchor := range b.Side1 {
		for _, group := range amountGroups(anchor, b.Side2, cfg) {
			pairings = append(pairings, pairing{group1: []models.Item{anchor}, group2: group})
		}
	}
	for _, anchor := range b.Side2 {
		for _, group := range amountGroups(anchor, b.Side1, cfg) {
			pairings = append(pairings, pairing{group1: group, group2: []models.Item{anchor}})
		}
	}
	return pairings, warnings
}

// amountGroups returns the combinations of 2..MaxGroupSize items from others, in id order, that share the
// anchor's currency and whose amounts sum to the anchor's amount within tolerance
func amountGroups(anchor models.Item, others []models.Item, cfg *models.ReconciliationConfig) [][]models.Item {
	currency := normalizers.Currency(anchor.Currency)
	eligible := make([]models.Item, 0, len(others))
	for _, o := range others {
		if normalizers.Currency(o.Currency) == currency {
			eligible = append(eligible, o)
		}
	}

	maxSize := cfg.Grouping.MaxGroupSize
	if maxSize > len(eligible) {
		maxSize = len(eligible)
	}

	var groups [][]models.Item
	current := make([]models.Item, 0, maxSize)

	var walk func(start int, sum decimal.Decimal)
	walk = func(start int, sum decimal.Decimal) {
		if len(current) >= 2 && scoring.WithinTolerance(anchor.Amount, sum, cfg.Tolerances) {
			groups = append(groups, append([]models.Item(nil), current...))
		}
		if len(current) == maxSize {
			return
		}
		for i := start; i < len(eligible); i++ {
			current = append(current, eligible[i])
			walk(i+1, sum.Add(eligible[i].Amount))
			current = current[:len(current)-1]
		}
	}
	walk(0, decimal.Zero)

	return groups
}

func itemIDs(items []models.Item) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}
