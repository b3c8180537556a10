package settings

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

func issueFields(t *testing.T, err error) []string {
	t.Helper()
	verr, ok := apperrors.AsValidation(err)
	require.True(t, ok, "expected validation errors, got %v", err)
	fields := make([]string, 0, len(verr.Issues))
	for _, issue := range verr.Issues {
		fields = append(fields, issue.Field)
	}
	return fields
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Validate(Default()))
}

func TestValidate_Rules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *models.ReconciliationConfig)
		field  string
	}{
		{"auto_link below auto_suggest", func(c *models.ReconciliationConfig) { c.Thresholds.AutoLink = 0.7 }, "thresholds.auto_link"},
		{"auto_suggest below manual", func(c *models.ReconciliationConfig) { c.Thresholds.Manual = 0.9; c.Thresholds.AutoSuggest = 0.85 }, "thresholds.auto_suggest"},
		{"threshold out of range", func(c *models.ReconciliationConfig) { c.Thresholds.Manual = -0.1 }, "thresholds.manual"},
		{"negative weight", func(c *models.ReconciliationConfig) { c.Weights["amount"] = -1 }, "weights.amount"},
		{"NaN weight", func(c *models.ReconciliationConfig) { c.Weights["date"] = math.NaN() }, "weights.date"},
		{"unknown feature", func(c *models.ReconciliationConfig) { c.Weights["colour"] = 1 }, "weights.colour"},
		{"bad extra expression", func(c *models.ReconciliationConfig) { c.Weights["extra.meta.["] = 1 }, "weights.extra.meta.["},
		{"amount without tolerance", func(c *models.ReconciliationConfig) { c.Tolerances.AmountPercent = nil }, "tolerances.amount_percent"},
		{"date without tolerance", func(c *models.ReconciliationConfig) { c.Tolerances.DateDays = nil }, "tolerances.date_days"},
		{"all weights zero", func(c *models.ReconciliationConfig) {
			c.Weights = map[string]float64{"amount": 0, "date": 0}
		}, "weights"},
		{"blocking enabled without fields", func(c *models.ReconciliationConfig) { c.Blocking.Fields = nil }, "blocking.fields"},
		{"unsupported blocking field", func(c *models.ReconciliationConfig) { c.Blocking.Fields = []string{"source"} }, "blocking.fields[0]"},
		{"duplicate blocking field", func(c *models.ReconciliationConfig) { c.Blocking.Fields = []string{"date", "date"} }, "blocking.fields[1]"},
		{"unknown metric", func(c *models.ReconciliationConfig) { c.StringMetric = "soundex" }, "string_metric"},
		{"unknown normalizer", func(c *models.ReconciliationConfig) {
			c.Normalizers = map[string][]string{"description": {"shout"}}
		}, "normalizers.description"},
		{"normalizer on unweighted feature", func(c *models.ReconciliationConfig) {
			c.Normalizers = map[string][]string{"extra.ref": {"reference"}}
		}, "normalizers.extra.ref"},
		{"grouping too small", func(c *models.ReconciliationConfig) {
			c.Grouping = models.GroupingConfig{Enabled: true, MaxGroupSize: 1}
		}, "grouping.max_group_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, issueFields(t, err), tt.field)
		})
	}
}

func TestValidate_ZeroWeightNeedsNoTolerance(t *testing.T) {
	cfg := Default()
	cfg.Weights["date"] = 0
	cfg.Tolerances.DateDays = nil
	assert.NoError(t, Validate(cfg))
}

func TestValidate_FixedToleranceSatisfiesAmount(t *testing.T) {
	cfg := Default()
	cfg.Tolerances.AmountPercent = nil
	cfg.Tolerances.AmountFixed = models.Float64(0.5)
	assert.NoError(t, Validate(cfg))
}

func TestParse(t *testing.T) {
	doc := `
thresholds:
  auto_link: 0.95
  auto_suggest: 0.8
  manual: 0.6
tolerances:
  amount_percent: 0.01
  date_days: 0
weights:
  amount: 0.5
  date: 0.3
  description: 0.2
blocking:
  enabled: false
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, 0.95, cfg.Thresholds.AutoLink)
	require.NotNil(t, cfg.Tolerances.DateDays)
	assert.Equal(t, 0, *cfg.Tolerances.DateDays)
	assert.Nil(t, cfg.Tolerances.AmountFixed)
	assert.Equal(t, 0.2, cfg.Weights["description"])
	assert.NoError(t, Validate(cfg))
}

func TestParse_JSONAndUnknownKeys(t *testing.T) {
	cfg, err := Parse([]byte(`{"thresholds": {"auto_link": 0.9, "auto_suggest": 0.8, "manual": 0.5}, "weights": {"amount": 1}, "tolerances": {"amount_fixed": 1}}`))
	require.NoError(t, err)
	assert.NoError(t, Validate(cfg))

	_, err = Parse([]byte("thresholds:\n  auto_lnk: 0.9\n"))
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recon.yaml")
	require.NoError(t, os.WriteFile(path, []byte("thresholds:\n  auto_link: 0.5\n  auto_suggest: 0.8\n  manual: 0.6\nweights:\n  amount: 1\ntolerances:\n  amount_percent: 0.01\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, issueFields(t, err), "thresholds.auto_link")

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestApplyDefaults(t *testing.T) {
	cfg := &models.ReconciliationConfig{Grouping: models.GroupingConfig{Enabled: true}}
	ApplyDefaults(cfg)
	assert.Equal(t, models.StringMetricJaroWinkler, cfg.StringMetric)
	assert.Equal(t, 7, cfg.Blocking.DateWindowDays)
	assert.Equal(t, 3, cfg.Grouping.MaxGroupSize)
	assert.Equal(t, 25, cfg.Grouping.MaxBucketItems)

	out, err := Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(out), "string_metric: jaro_winkler")
}
