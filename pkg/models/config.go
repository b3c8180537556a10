package models

import "strings"

// Built-in feature names. Extra-bag features use the "extra." prefix followed by a JMESPath expression.
const (
	FeatureAmount       = "amount"
	FeatureDate         = "date"
	FeatureCounterparty = "counterparty"
	FeatureDescription  = "description"
	FeatureCurrency     = "currency"

	ExtraFeaturePrefix = "extra."
)

// IsExtraFeature reports whether the feature reads from the item extra bag
func IsExtraFeature(feature string) bool {
	return strings.HasPrefix(feature, ExtraFeaturePrefix) && len(feature) > len(ExtraFeaturePrefix)
}

// ExtraExpression returns the extraction expression of an extra feature
func ExtraExpression(feature string) string {
	return strings.TrimPrefix(feature, ExtraFeaturePrefix)
}

// String similarity metrics
const (
	StringMetricJaroWinkler = "jaro_winkler"
	StringMetricLevenshtein = "levenshtein"
	// StringMetricExact scores 1 for case-insensitive equality of the normalized text and 0 otherwise
	StringMetricExact = "exact"
)

// ReconciliationConfig drives blocking, scoring and classification for a dataset
type ReconciliationConfig struct {
	Thresholds   Thresholds          `json:"thresholds" yaml:"thresholds"`
	Tolerances   Tolerances          `json:"tolerances" yaml:"tolerances"`
	Weights      map[string]float64  `json:"weights" yaml:"weights" validate:"required,min=1"`
	Blocking     BlockingConfig      `json:"blocking" yaml:"blocking"`
	StringMetric string              `json:"string_metric,omitempty" yaml:"string_metric,omitempty" validate:"omitempty,oneof=jaro_winkler levenshtein exact"`
	Normalizers  map[string][]string `json:"normalizers,omitempty" yaml:"normalizers,omitempty"`
	Grouping     GroupingConfig      `json:"grouping" yaml:"grouping"`
	AutoCommit   bool                `json:"auto_commit" yaml:"auto_commit"`
}

// Thresholds are the score boundaries between decision tiers. auto_link >= auto_suggest >= manual.
type Thresholds struct {
	AutoLink    float64 `json:"auto_link" yaml:"auto_link" validate:"gte=0,lte=1"`
	AutoSuggest float64 `json:"auto_suggest" yaml:"auto_suggest" validate:"gte=0,lte=1"`
	Manual      float64 `json:"manual" yaml:"manual" validate:"gte=0,lte=1"`
}

// Tolerances bound the deviation a feature may show before its score degrades
type Tolerances struct {
	AmountPercent *float64 `json:"amount_percent,omitempty" yaml:"amount_percent,omitempty" validate:"omitempty,gte=0"`
	AmountFixed   *float64 `json:"amount_fixed,omitempty" yaml:"amount_fixed,omitempty" validate:"omitempty,gte=0"`
	DateDays      *int     `json:"date_days,omitempty" yaml:"date_days,omitempty" validate:"omitempty,gte=0"`
}

// BlockingConfig selects the fields that form the blocking key
type BlockingConfig struct {
	Enabled            bool     `json:"enabled" yaml:"enabled"`
	Fields             []string `json:"fields" yaml:"fields"`
	DateWindowDays     int      `json:"date_window_days,omitempty" yaml:"date_window_days,omitempty" validate:"gte=0"`
	CounterpartyPrefix int      `json:"counterparty_prefix,omitempty" yaml:"counterparty_prefix,omitempty" validate:"gte=0"`
}

// GroupingConfig controls generation of one-to-many and many-to-one candidates
type GroupingConfig struct {
	Enabled        bool `json:"enabled" yaml:"enabled"`
	MaxGroupSize   int  `json:"max_group_size,omitempty" yaml:"max_group_size,omitempty" validate:"gte=0,lte=5"`
	MaxBucketItems int  `json:"max_bucket_items,omitempty" yaml:"max_bucket_items,omitempty" validate:"gte=0"`
}

// Metric returns the configured string metric, defaulting to Jaro-Winkler
func (c *ReconciliationConfig) Metric() string {
	if c.StringMetric == "" {
		return StringMetricJaroWinkler
	}
	return c.StringMetric
}

// Float64 returns a pointer to v
func Float64(v float64) *float64 {
	return &v
}

// Int returns a pointer to v
func Int(v int) *int {
	return &v
}

// String returns a pointer to v
func String(v string) *string {
	return &v
}
