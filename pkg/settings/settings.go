// Package settings loads, defaults and validates reconciliation configs
package settings

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/fern/pkg/blocking"
	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/extractor"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/utils"
)

const (
	defaultDateWindowDays     = 7
	defaultCounterpartyPrefix = 3
	defaultMaxGroupSize       = 3
	defaultMaxBucketItems     = 25
)

// Default returns the config used for datasets that have not stored one
func Default() *models.ReconciliationConfig {
	return &models.ReconciliationConfig{
		Thresholds: models.Thresholds{AutoLink: 0.95, AutoSuggest: 0.80, Manual: 0.60},
		Tolerances: models.Tolerances{
			AmountPercent: models.Float64(0.01),
			DateDays:      models.Int(3),
		},
		Weights: map[string]float64{
			models.FeatureAmount:       0.5,
			models.FeatureDate:         0.3,
			models.FeatureDescription:  0.1,
			models.FeatureCounterparty: 0.1,
		},
		Blocking: models.BlockingConfig{
			Enabled:            true,
			Fields:             []string{models.FeatureCurrency},
			DateWindowDays:     defaultDateWindowDays,
			CounterpartyPrefix: defaultCounterpartyPrefix,
		},
		StringMetric: models.StringMetricJaroWinkler,
	}
}

// ApplyDefaults fills optional fields so that a stored config is explicit about every setting it depends on
func ApplyDefaults(cfg *models.ReconciliationConfig) {
	if cfg.StringMetric == "" {
		cfg.StringMetric = models.StringMetricJaroWinkler
	}
	if cfg.Blocking.DateWindowDays == 0 {
		cfg.Blocking.DateWindowDays = defaultDateWindowDays
	}
	if cfg.Blocking.CounterpartyPrefix == 0 {
		cfg.Blocking.CounterpartyPrefix = defaultCounterpartyPrefix
	}
	if cfg.Grouping.Enabled {
		if cfg.Grouping.MaxGroupSize == 0 {
			cfg.Grouping.MaxGroupSize = defaultMaxGroupSize
		}
		if cfg.Grouping.MaxBucketItems == 0 {
			cfg.Grouping.MaxBucketItems = defaultMaxBucketItems
		}
	}
}

// Parse decodes a YAML or JSON config document. Unknown keys are rejected.
func Parse(data []byte) (*models.ReconciliationConfig, error) {
	cfg := &models.ReconciliationConfig{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, apperrors.NewValidationErrors().Add("", fmt.Sprintf("invalid config document: %v", err))
	}
	return cfg, nil
}

// Load reads, defaults and validates a config file
func Load(path string) (*models.ReconciliationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints plus the cross-field rules: threshold ordering, non-negative weights,
// known features and tolerance presence for every weighted feature. The whole config is rejected on any issue.
func Validate(cfg *models.ReconciliationConfig) error {
	if cfg == nil {
		return apperrors.NewValidationErrors().Add("", "config is required")
	}

	verr := apperrors.NewValidationErrors()
	if _, err := utils.Validate(*cfg); err != nil {
		structErr, ok := apperrors.AsValidation(err)
		if !ok {
			return err
		}
		verr.Issues = append(verr.Issues, structErr.Issues...)
	}

	t := cfg.Thresholds
	if t.AutoLink < t.AutoSuggest {
		verr.Addf("thresholds.auto_link", "must be greater than or equal to auto_suggest (%v < %v)", t.AutoLink, t.AutoSuggest)
	}
	if t.AutoSuggest < t.Manual {
		verr.Addf("thresholds.auto_suggest", "must be greater than or equal to manual (%v < %v)", t.AutoSuggest, t.Manual)
	}

	validateWeights(cfg, verr)
	validateBlocking(cfg, verr)
	validateNormalizers(cfg, verr)

	if cfg.Grouping.Enabled && cfg.Grouping.MaxGroupSize < 2 {
		verr.Add("grouping.max_group_size", "must be at least 2 when grouping is enabled")
	}
	if cfg.Grouping.Enabled && cfg.Weights[models.FeatureAmount] <= 0 {
		verr.Add("grouping.enabled", "grouping requires a weighted amount feature")
	}

	return verr.OrNil()
}

func validateWeights(cfg *models.ReconciliationConfig, verr *apperrors.ValidationErrors) {
	ext := extractor.New()
	positive := 0

	for _, feature := range sortedKeys(cfg.Weights) {
		weight := cfg.Weights[feature]
		field := "weights." + feature

		if math.IsNaN(weight) || math.IsInf(weight, 0) {
			verr.Add(field, "must be a finite number")
			continue
		}
		if weight < 0 {
			verr.Addf(field, "must be non-negative, got %v", weight)
			continue
		}
		if !KnownFeature(feature) {
			verr.Add(field, "unknown feature")
			continue
		}
		if models.IsExtraFeature(feature) {
			if _, err := ext.Compile(models.ExtraExpression(feature)); err != nil {
				verr.Add(field, err.Error())
				continue
			}
		}
		if weight == 0 {
			continue
		}
		positive++

		switch feature {
		case models.FeatureAmount:
			if cfg.Tolerances.AmountPercent == nil && cfg.Tolerances.AmountFixed == nil {
				verr.Add("tolerances.amount_percent", "amount_percent or amount_fixed is required when amount is weighted")
			}
		case models.FeatureDate:
			if cfg.Tolerances.DateDays == nil {
				verr.Add("tolerances.date_days", "date_days is required when date is weighted")
			}
		}
	}

	if len(cfg.Weights) > 0 && positive == 0 {
		verr.Add("weights", "at least one feature must have a positive weight")
	}
	if p := cfg.Tolerances.AmountPercent; p != nil && (math.IsNaN(*p) || math.IsInf(*p, 0)) {
		verr.Add("tolerances.amount_percent", "must be a finite number")
	}
	if f := cfg.Tolerances.AmountFixed; f != nil && (math.IsNaN(*f) || math.IsInf(*f, 0)) {
		verr.Add("tolerances.amount_fixed", "must be a finite number")
	}
}

func validateBlocking(cfg *models.ReconciliationConfig, verr *apperrors.ValidationErrors) {
	if cfg.Blocking.Enabled && len(cfg.Blocking.Fields) == 0 {
		verr.Add("blocking.fields", "at least one field is required when blocking is enabled")
	}

	ext := extractor.New()
	seen := make(map[string]bool)
	for i, field := range cfg.Blocking.Fields {
		path := fmt.Sprintf("blocking.fields[%d]", i)
		if !blocking.ValidField(field) {
			verr.Addf(path, "unsupported blocking field '%s'", field)
			continue
		}
		if seen[field] {
			verr.Addf(path, "duplicate blocking field '%s'", field)
			continue
		}
		seen[field] = true
		if models.IsExtraFeature(field) {
			if _, err := ext.Compile(models.ExtraExpression(field)); err != nil {
				verr.Add(path, err.Error())
			}
		}
	}
}

func validateNormalizers(cfg *models.ReconciliationConfig, verr *apperrors.ValidationErrors) {
	for _, feature := range sortedKeys(cfg.Normalizers) {
		field := "normalizers." + feature
		if _, ok := cfg.Weights[feature]; !ok {
			verr.Add(field, "normalizers may only be set for weighted features")
			continue
		}
		if feature == models.FeatureAmount || feature == models.FeatureDate {
			verr.Add(field, "normalizers apply to text features only")
			continue
		}
		for _, name := range cfg.Normalizers[feature] {
			if _, ok := normalizers.Get(name); !ok {
				verr.Addf(field, "unknown normalizer '%s'", name)
			}
		}
	}
}

// KnownFeature reports whether a weight key names a supported feature
func KnownFeature(feature string) bool {
	switch feature {
	case models.FeatureAmount, models.FeatureDate, models.FeatureCounterparty, models.FeatureDescription:
		return true
	}
	return models.IsExtraFeature(feature)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Marshal renders a config as YAML
func Marshal(cfg *models.ReconciliationConfig) ([]byte, error) {
	return yaml.Marshal(cfg)
}
