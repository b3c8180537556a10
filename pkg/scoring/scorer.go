// Package scoring computes per-feature similarity and the weighted overall score of a candidate pairing
package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/extractor"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// Result holds the scores of one pairing
type Result struct {
	FeatureScores map[string]float64
	OverallScore  float64
}

// Scorer compares two groups of items feature by feature
type Scorer struct {
	similarity *Similarity
	extractor  *extractor.Extractor
}

// NewScorer creates a new Scorer
func NewScorer(ext *extractor.Extractor) *Scorer {
	if ext == nil {
		ext = extractor.New()
	}
	return &Scorer{
		similarity: NewSimilarity(),
		extractor:  ext,
	}
}

// Score compares groupA (side 1) against groupB (side 2). Features that cannot be computed for the pair
// are excluded and the remaining weights renormalized. A NaN or out-of-range score is a ScoringError.
func (s *Scorer) Score(groupA, groupB []models.Item, cfg *models.ReconciliationConfig) (*Result, error) {
	if len(groupA) == 0 || len(groupB) == 0 {
		return nil, apperrors.NewScoringError("", 0, "both groups must contain at least one item")
	}

	features := make([]string, 0, len(cfg.Weights))
	for feature, weight := range cfg.Weights {
		if weight > 0 {
			features = append(features, feature)
		}
	}
	// summation order is fixed so identical inputs always produce identical floats
	sort.Strings(features)

	result := &Result{FeatureScores: make(map[string]float64, len(features))}
	var weightedSum, totalWeight float64

	for _, feature := range features {
		score, present, err := s.scoreFeature(feature, groupA, groupB, cfg)
		if err != nil {
			return nil, err
		}
		if !present {
			continue
		}
		if err := checkRange(feature, score); err != nil {
			return nil, err
		}

		weight := cfg.Weights[feature]
		result.FeatureScores[feature] = score
		weightedSum += weight * score
		totalWeight += weight
	}

	if totalWeight == 0 {
		return nil, apperrors.NewScoringError("", 0, "no comparable features for pairing")
	}

	result.OverallScore = weightedSum / totalWeight
	if err := checkRange("overall", result.OverallScore); err != nil {
		return nil, err
	}
	return result, nil
}

func checkRange(feature string, score float64) error {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return apperrors.NewScoringError(feature, score, "score is not a finite number")
	}
	if score < 0 || score > 1 {
		return apperrors.NewScoringError(feature, score, "score is outside [0,1]")
	}
	return nil
}

func (s *Scorer) scoreFeature(feature string, groupA, groupB []models.Item, cfg *models.ReconciliationConfig) (float64, bool, error) {
	switch feature {
	case models.FeatureAmount:
		score, ok := AmountScore(groupA, groupB, cfg.Tolerances)
		return score, ok, nil
	case models.FeatureDate:
		score, ok := DateScore(groupA, groupB, cfg.Tolerances)
		return score, ok, nil
	case models.FeatureCounterparty:
		score, ok := s.textScore(textValues(groupA, counterparty), textValues(groupB, counterparty), feature, cfg)
		return score, ok, nil
	case models.FeatureDescription:
		score, ok := s.textScore(textValues(groupA, description), textValues(groupB, description), feature, cfg)
		return score, ok, nil
	}

	if models.IsExtraFeature(feature) {
		return s.extraScore(feature, groupA, groupB, cfg)
	}
	return 0, false, apperrors.NewScoringError(feature, 0, "unknown feature")
}

// AmountScore compares the summed amounts of both groups.
// With a percent tolerance the score decays linearly with the relative difference; with only a fixed
// tolerance it is a step function. Mixed currencies score 0.
func AmountScore(groupA, groupB []models.Item, tol models.Tolerances) (float64, bool) {
	currency := normalizers.Currency(groupA[0].Currency)
	for _, item := range append(append([]models.Item{}, groupA...), groupB...) {
		if normalizers.Currency(item.Currency) != currency {
			return 0, true
		}
	}

	sumA, sumB := Sum(groupA), Sum(groupB)
	diff := sumA.Sub(sumB).Abs()
	if diff.IsZero() {
		return 1.0, true
	}

	if tol.AmountPercent != nil {
		pct := *tol.AmountPercent
		if pct == 0 {
			return 0, true
		}
		denom := decimal.Max(sumA.Abs(), sumB.Abs())
		relDiff := diff.Div(denom).InexactFloat64()
		return math.Max(0, 1-relDiff/pct), true
	}

	if tol.AmountFixed != nil {
		if diff.LessThanOrEqual(decimal.NewFromFloat(*tol.AmountFixed)) {
			return 1.0, true
		}
		return 0, true
	}

	return 0, true
}

// Sum adds the amounts of a group
func Sum(items []models.Item) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Amount)
	}
	return total
}

// WithinTolerance reports whether two amounts agree under the configured tolerances: exact, within the fixed
// tolerance, or within the relative percent tolerance
func WithinTolerance(a, b decimal.Decimal, tol models.Tolerances) bool {
	diff := a.Sub(b).Abs()
	if diff.IsZero() {
		return true
	}
	if tol.AmountFixed != nil && diff.LessThanOrEqual(decimal.NewFromFloat(*tol.AmountFixed)) {
		return true
	}
	if tol.AmountPercent != nil && *tol.AmountPercent > 0 {
		denom := decimal.Max(a.Abs(), b.Abs())
		return diff.Div(denom).LessThanOrEqual(decimal.NewFromFloat(*tol.AmountPercent))
	}
	return false
}

// DateScore compares the worst-case day distance between the groups against the date tolerance
func DateScore(groupA, groupB []models.Item, tol models.Tolerances) (float64, bool) {
	for _, item := range groupA {
		if item.Date.IsZero() {
			return 0, false
		}
	}
	for _, item := range groupB {
		if item.Date.IsZero() {
			return 0, false
		}
	}

	maxDelta := 0
	for _, a := range groupA {
		for _, b := range groupB {
			maxDelta = max(maxDelta, DaysBetween(a.Date, b.Date))
		}
	}

	if maxDelta == 0 {
		return 1.0, true
	}
	tolDays := 0
	if tol.DateDays != nil {
		tolDays = *tol.DateDays
	}
	if tolDays == 0 {
		return 0, true
	}
	return math.Max(0, 1-float64(maxDelta)/float64(tolDays)), true
}

// DaysBetween returns the absolute number of calendar days between two dates
func DaysBetween(a, b time.Time) int {
	delta := models.DateOnly(a).Sub(models.DateOnly(b))
	days := int(math.Round(delta.Hours() / 24))
	if days < 0 {
		return -days
	}
	return days
}

func counterparty(item models.Item) *string { return item.Counterparty }
func description(item models.Item) *string  { return item.Description }

func textValues(items []models.Item, get func(models.Item) *string) []any {
	values := make([]any, 0, len(items))
	for _, item := range items {
		if v := get(item); v != nil && *v != "" {
			values = append(values, *v)
		}
	}
	return values
}

func (s *Scorer) textScore(a, b []any, feature string, cfg *models.ReconciliationConfig) (float64, bool) {
	if len(a) == 0 || len(b) == 0 {
		return 0, false
	}
	chain := cfg.Normalizers[feature]
	metric := cfg.Metric()
	return bestAverage(a, b, func(x, y any) float64 {
		return s.compareValues(x, y, chain, metric)
	}), true
}

func (s *Scorer) extraScore(feature string, groupA, groupB []models.Item, cfg *models.ReconciliationConfig) (float64, bool, error) {
	expr := models.ExtraExpression(feature)
	extract := func(items []models.Item) ([]any, error) {
		values := make([]any, 0, len(items))
		for _, item := range items {
			v, err := s.extractor.Extract(item.Extra, expr)
			if err != nil {
				return nil, apperrors.NewScoringError(feature, 0, err.Error())
			}
			if v != nil {
				values = append(values, v)
			}
		}
		return values, nil
	}

	a, err := extract(groupA)
	if err != nil {
		return 0, false, err
	}
	b, err := extract(groupB)
	if err != nil {
		return 0, false, err
	}
	score, ok := s.textScore(a, b, feature, cfg)
	return score, ok, nil
}

// compareValues uses the string metric for two strings and equality for anything else
func (s *Scorer) compareValues(a, b any, chain []string, metric string) float64 {
	sa, aok := a.(string)
	sb, bok := b.(string)
	if aok && bok {
		na := normalizers.ApplyChain(sa, chain...)
		nb := normalizers.ApplyChain(sb, chain...)
		if na == "" && nb == "" {
			return 1.0
		}
		return s.similarity.Compare(metric, na, nb)
	}
	if extractor.ToString(a) == extractor.ToString(b) {
		return 1.0
	}
	return 0.0
}

// bestAverage matches every value of the smaller side to its best counterpart and averages the results
func bestAverage(a, b []any, compare func(x, y any) float64) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	var total float64
	for _, x := range a {
		best := 0.0
		for _, y := range b {
			best = math.Max(best, compare(x, y))
		}
		total += best
	}
	return total / float64(len(a))
}
