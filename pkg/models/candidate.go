package models

import (
	"slices"
	"time"
)

// DecisionTier is the classification bucket derived from an overall score
type DecisionTier string

const (
	TierAutoLink DecisionTier = "auto_link"
	TierSuggest  DecisionTier = "suggest"
	TierManual   DecisionTier = "manual"
	TierNoMatch  DecisionTier = "no_match"
)

// Tiers lists the persisted tiers in descending confidence order
var Tiers = []DecisionTier{TierAutoLink, TierSuggest, TierManual}

// Valid reports whether the tier is a known tier
func (t DecisionTier) Valid() bool {
	return t == TierAutoLink || t == TierSuggest || t == TierManual || t == TierNoMatch
}

// CandidateStatus is the review state of a candidate
type CandidateStatus string

const (
	CandidateStatusPending  CandidateStatus = "pending"
	CandidateStatusAccepted CandidateStatus = "accepted"
	CandidateStatusRejected CandidateStatus = "rejected"
	// CandidateStatusInvalidated marks a candidate whose items were claimed by another match.
	// It stays readable until a later run recomputes the pairing.
	CandidateStatusInvalidated CandidateStatus = "invalidated"
)

// MatchCandidate is a scored pairing of items from side 1 (Group1) and side 2 (Group2)
type MatchCandidate struct {
	ID                string             `json:"candidate_id"`
	Group1            []string           `json:"group_1"`
	Group2            []string           `json:"group_2"`
	FeatureScores     map[string]float64 `json:"feature_scores"`
	OverallScore      float64            `json:"overall_score"`
	Tier              DecisionTier       `json:"decision_tier"`
	Status            CandidateStatus    `json:"status"`
	ItemsFingerprint  string             `json:"items_fingerprint"`
	ConfigFingerprint string             `json:"config_fingerprint"`
	ComputedAt        time.Time          `json:"computed_at"`
}

// ItemIDs returns every item id referenced by the candidate
func (c *MatchCandidate) ItemIDs() []string {
	ids := make([]string, 0, len(c.Group1)+len(c.Group2))
	ids = append(ids, c.Group1...)
	ids = append(ids, c.Group2...)
	return ids
}

// References reports whether the candidate includes the item
func (c *MatchCandidate) References(itemID string) bool {
	return slices.Contains(c.Group1, itemID) || slices.Contains(c.Group2, itemID)
}

// Overlaps reports whether the two candidates share any item
func (c *MatchCandidate) Overlaps(other *MatchCandidate) bool {
	for _, id := range other.ItemIDs() {
		if c.References(id) {
			return true
		}
	}
	return false
}

// SameResult reports whether two computations of the same pairing produced an identical outcome
func (c *MatchCandidate) SameResult(other *MatchCandidate) bool {
	return c.ID == other.ID &&
		c.ItemsFingerprint == other.ItemsFingerprint &&
		c.OverallScore == other.OverallScore &&
		c.Tier == other.Tier
}

// Clone returns a deep copy of the candidate
func (c MatchCandidate) Clone() MatchCandidate {
	out := c
	out.Group1 = slices.Clone(c.Group1)
	out.Group2 = slices.Clone(c.Group2)
	if c.FeatureScores != nil {
		out.FeatureScores = make(map[string]float64, len(c.FeatureScores))
		for k, v := range c.FeatureScores {
			out.FeatureScores[k] = v
		}
	}
	return out
}

// RejectCandidateRequest is the request body for rejecting a candidate
type RejectCandidateRequest struct {
	Reason *string `json:"reason,omitempty" validate:"omitempty,max=1000"`
}
