// Package classifier maps overall scores to decision tiers and resolves conflicting auto-links
package classifier

import (
	"sort"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Classify maps an overall score to a decision tier
func Classify(score float64, t models.Thresholds) models.DecisionTier {
	switch {
	case score >= t.AutoLink:
		return models.TierAutoLink
	case score >= t.AutoSuggest:
		return models.TierSuggest
	case score >= t.Manual:
		return models.TierManual
	default:
		return models.TierNoMatch
	}
}

// Resolution is the outcome of auto-link conflict resolution
type Resolution struct {
	// Winners are the auto_link candidate ids that may be committed automatically, in assignment order
	Winners []string
	// Demoted are the auto_link candidate ids that lost an item to a higher-scoring winner
	Demoted []string
}

// ResolveAutoLinks assigns items greedily to auto_link candidates in descending score order, ties broken by
// candidate id. A candidate wins only if none of its items were claimed by an earlier winner; losers are
// demoted to suggest in place. Candidates of other tiers are left untouched.
func ResolveAutoLinks(candidates []*models.MatchCandidate) Resolution {
	autoLinks := make([]*models.MatchCandidate, 0)
	for _, c := range candidates {
		if c.Tier == models.TierAutoLink {
			autoLinks = append(autoLinks, c)
		}
	}

	sort.SliceStable(autoLinks, func(i, j int) bool {
		if autoLinks[i].OverallScore != autoLinks[j].OverallScore {
			return autoLinks[i].OverallScore > autoLinks[j].OverallScore
		}
		return autoLinks[i].ID < autoLinks[j].ID
	})

	var res Resolution
	claimed := make(map[string]bool)
	for _, c := range autoLinks {
		conflict := false
		for _, id := range c.ItemIDs() {
			if claimed[id] {
				conflict = true
				break
			}
		}

		if conflict {
			c.Tier = models.TierSuggest
			res.Demoted = append(res.Demoted, c.ID)
			continue
		}

		for _, id := range c.ItemIDs() {
			claimed[id] = true
		}
		res.Winners = append(res.Winners, c.ID)
	}

	return res
}
