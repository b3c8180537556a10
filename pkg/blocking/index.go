// Package blocking partitions items into comparison buckets so only plausible pairs are scored
package blocking

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Ramsey-B/fern/pkg/extractor"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// AllItemsKey is the key of the single bucket produced when blocking is disabled
const AllItemsKey = "*"

const (
	defaultDateWindowDays     = 7
	defaultCounterpartyPrefix = 3
	secondsPerDay             = 86400
)

var (
	one = decimal.NewFromInt(1)
	ten = decimal.NewFromInt(10)
)

// Bucket holds the items of both sides that share a block key. Items are sorted by id.
type Bucket struct {
	Key   string
	Side1 []models.Item
	Side2 []models.Item
}

// Comparable reports whether the bucket holds items from both sides
func (b *Bucket) Comparable() bool {
	return len(b.Side1) > 0 && len(b.Side2) > 0
}

// Pairs returns the number of cross-side pairs in the bucket
func (b *Bucket) Pairs() int {
	return len(b.Side1) * len(b.Side2)
}

// Index is the result of partitioning a set of items
type Index struct {
	buckets  map[string]*Bucket
	keys     []string
	Warnings []string
}

// Keys returns the bucket keys in sorted order
func (ix *Index) Keys() []string {
	return ix.keys
}

// Bucket returns the bucket for a key
func (ix *Index) Bucket(key string) (*Bucket, bool) {
	b, ok := ix.buckets[key]
	return b, ok
}

// Len returns the number of buckets
func (ix *Index) Len() int {
	return len(ix.keys)
}

// Comparable returns the buckets that contain both sides, in key order
func (ix *Index) Comparable() []*Bucket {
	out := make([]*Bucket, 0, len(ix.keys))
	for _, key := range ix.keys {
		if b := ix.buckets[key]; b.Comparable() {
			out = append(out, b)
		}
	}
	return out
}

// Builder computes block keys from item fields
type Builder struct {
	cfg       models.BlockingConfig
	extractor *extractor.Extractor
	ceiling   int
}

// NewBuilder creates a Builder. ceiling is the item count above which an unblocked build emits a size warning; 0 disables the warning.
func NewBuilder(cfg models.BlockingConfig, ext *extractor.Extractor, ceiling int) *Builder {
	if ext == nil {
		ext = extractor.New()
	}
	if cfg.DateWindowDays <= 0 {
		cfg.DateWindowDays = defaultDateWindowDays
	}
	if cfg.CounterpartyPrefix <= 0 {
		cfg.CounterpartyPrefix = defaultCounterpartyPrefix
	}
	return &Builder{cfg: cfg, extractor: ext, ceiling: ceiling}
}

// Build partitions items. Identical items and config always yield identical buckets.
func (b *Builder) Build(items []models.Item) *Index {
	ix := &Index{buckets: make(map[string]*Bucket)}

	blocked := b.cfg.Enabled && len(b.cfg.Fields) > 0
	if !blocked && b.ceiling > 0 && len(items) > b.ceiling {
		ix.Warnings = append(ix.Warnings, fmt.Sprintf("blocking disabled: %d items exceed the ceiling of %d and will be compared as a full cross-product", len(items), b.ceiling))
	}

	for _, item := range items {
		key := AllItemsKey
		if blocked {
			key = b.Key(item)
		}

		bucket, ok := ix.buckets[key]
		if !ok {
			bucket = &Bucket{Key: key}
			ix.buckets[key] = bucket
			ix.keys = append(ix.keys, key)
		}
		if item.Source == models.SideOne {
			bucket.Side1 = append(bucket.Side1, item)
		} else {
			bucket.Side2 = append(bucket.Side2, item)
		}
	}

	sort.Strings(ix.keys)
	for _, bucket := range ix.buckets {
		sortItems(bucket.Side1)
		sortItems(bucket.Side2)
	}
	return ix
}

// Key derives the block key of an item from the configured fields
func (b *Builder) Key(item models.Item) string {
	segments := make([]string, 0, len(b.cfg.Fields))
	for _, field := range b.cfg.Fields {
		segments = append(segments, field+"="+b.segment(item, field))
	}
	return strings.Join(segments, "|")
}

func (b *Builder) segment(item models.Item, field string) string {
	switch field {
	case models.FeatureDate:
		if item.Date.IsZero() {
			return ""
		}
		return strconv.FormatInt(dateBucket(item, b.cfg.DateWindowDays), 10)
	case models.FeatureAmount:
		return amountMagnitude(item.Amount)
	case models.FeatureCurrency:
		return normalizers.Currency(item.Currency)
	case models.FeatureCounterparty:
		return textPrefix(item.Counterparty, b.cfg.CounterpartyPrefix)
	case models.FeatureDescription:
		return textPrefix(item.Description, b.cfg.CounterpartyPrefix)
	}

	if models.IsExtraFeature(field) {
		value, err := b.extractor.ExtractString(item.Extra, models.ExtraExpression(field))
		if err != nil || value == nil {
			return ""
		}
		return normalizers.Text(*value)
	}
	return ""
}

func dateBucket(item models.Item, window int) int64 {
	days := models.DateOnly(item.Date).Unix() / secondsPerDay
	w := int64(window)
	// floor division keeps pre-epoch dates in consistent windows
	q := days / w
	if days%w != 0 && days < 0 {
		q--
	}
	return q
}

// amountMagnitude returns the order of magnitude of |amount| as "e<n>", or "zero"
func amountMagnitude(amount decimal.Decimal) string {
	abs := amount.Abs()
	if abs.IsZero() {
		return "zero"
	}
	if abs.GreaterThanOrEqual(one) {
		return fmt.Sprintf("e%d", len(abs.Truncate(0).String())-1)
	}
	m := 0
	for abs.LessThan(one) {
		abs = abs.Mul(ten)
		m--
	}
	return fmt.Sprintf("e%d", m)
}

func textPrefix(value *string, n int) string {
	if value == nil {
		return ""
	}
	return normalizers.Prefix(normalizers.Text(*value), n)
}

func sortItems(items []models.Item) {
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
}

// ValidField reports whether a blocking field name is supported
func ValidField(field string) bool {
	switch field {
	case models.FeatureDate, models.FeatureAmount, models.FeatureCurrency, models.FeatureCounterparty, models.FeatureDescription:
		return true
	}
	return models.IsExtraFeature(field)
}
