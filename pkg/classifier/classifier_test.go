package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/pkg/models"
)

var thresholds = models.Thresholds{AutoLink: 0.95, AutoSuggest: 0.80, Manual: 0.60}

func TestClassify(t *testing.T) {
	tests := []struct {
		score float64
		want  models.DecisionTier
	}{
		{1.0, models.TierAutoLink},
		{0.95, models.TierAutoLink},
		{0.9499, models.TierSuggest},
		{0.80, models.TierSuggest},
		{0.7999, models.TierManual},
		{0.60, models.TierManual},
		{0.5999, models.TierNoMatch},
		{0, models.TierNoMatch},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.score, thresholds), "score %v", tt.score)
	}
}

func TestClassify_EqualThresholds(t *testing.T) {
	flat := models.Thresholds{AutoLink: 0.9, AutoSuggest: 0.9, Manual: 0.9}
	assert.Equal(t, models.TierAutoLink, Classify(0.9, flat))
	assert.Equal(t, models.TierNoMatch, Classify(0.89, flat))
}

func candidate(id string, score float64, tier models.DecisionTier, g1, g2 []string) *models.MatchCandidate {
	return &models.MatchCandidate{ID: id, OverallScore: score, Tier: tier, Group1: g1, Group2: g2}
}

func TestResolveAutoLinks(t *testing.T) {
	best := candidate("c-best", 0.99, models.TierAutoLink, []string{"a1"}, []string{"b1"})
	loser := candidate("c-loser", 0.97, models.TierAutoLink, []string{"a1"}, []string{"b2"})
	independent := candidate("c-indep", 0.96, models.TierAutoLink, []string{"a2"}, []string{"b2"})
	suggestion := candidate("c-suggest", 0.85, models.TierSuggest, []string{"a1"}, []string{"b3"})

	res := ResolveAutoLinks([]*models.MatchCandidate{loser, suggestion, independent, best})

	assert.Equal(t, []string{"c-best", "c-indep"}, res.Winners)
	assert.Equal(t, []string{"c-loser"}, res.Demoted)
	assert.Equal(t, models.TierSuggest, loser.Tier)
	assert.Equal(t, models.TierAutoLink, best.Tier)
	assert.Equal(t, models.TierAutoLink, independent.Tier)
	assert.Equal(t, models.TierSuggest, suggestion.Tier)
}

func TestResolveAutoLinks_TieBreaksOnID(t *testing.T) {
	b := candidate("b", 0.97, models.TierAutoLink, []string{"a1"}, []string{"b1"})
	a := candidate("a", 0.97, models.TierAutoLink, []string{"a1"}, []string{"b2"})

	res := ResolveAutoLinks([]*models.MatchCandidate{b, a})
	assert.Equal(t, []string{"a"}, res.Winners)
	assert.Equal(t, models.TierSuggest, b.Tier)
}

func TestResolveAutoLinks_GroupClaimsAllItems(t *testing.T) {
	group := candidate("g", 0.99, models.TierAutoLink, []string{"a1"}, []string{"b1", "b2"})
	pair := candidate("p", 0.98, models.TierAutoLink, []string{"a2"}, []string{"b2"})

	res := ResolveAutoLinks([]*models.MatchCandidate{pair, group})
	assert.Equal(t, []string{"g"}, res.Winners)
	assert.Equal(t, []string{"p"}, res.Demoted)
}
