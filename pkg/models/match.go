package models

import (
	"slices"
	"time"
)

// Cardinality is the shape of a match
type Cardinality string

const (
	CardinalityOneToOne   Cardinality = "one_to_one"
	CardinalityOneToMany  Cardinality = "one_to_many"
	CardinalityManyToOne  Cardinality = "many_to_one"
	CardinalityManyToMany Cardinality = "many_to_many"
)

// InferCardinality derives the match shape from the group sizes
func InferCardinality(side1, side2 int) Cardinality {
	switch {
	case side1 <= 1 && side2 <= 1:
		return CardinalityOneToOne
	case side1 <= 1:
		return CardinalityOneToMany
	case side2 <= 1:
		return CardinalityManyToOne
	default:
		return CardinalityManyToMany
	}
}

// MatchMethod records how a match was created
type MatchMethod string

const (
	MatchMethodAuto     MatchMethod = "auto"
	MatchMethodManual   MatchMethod = "manual"
	MatchMethodAssisted MatchMethod = "assisted"
)

// ReconciliationMatch is a confirmed link between items of both sides
type ReconciliationMatch struct {
	ID          string      `json:"match_id"`
	Items1      []string    `json:"items_1"`
	Items2      []string    `json:"items_2"`
	Cardinality Cardinality `json:"cardinality"`
	Confidence  *float64    `json:"confidence"`
	Method      MatchMethod `json:"method"`
	CandidateID *string     `json:"candidate_id,omitempty"`
	Notes       *string     `json:"notes,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	CreatedBy   *string     `json:"created_by,omitempty"`
}

// ItemIDs returns every item id referenced by the match
func (m *ReconciliationMatch) ItemIDs() []string {
	ids := make([]string, 0, len(m.Items1)+len(m.Items2))
	ids = append(ids, m.Items1...)
	ids = append(ids, m.Items2...)
	return ids
}

// Clone returns a deep copy of the match
func (m ReconciliationMatch) Clone() ReconciliationMatch {
	out := m
	out.Items1 = slices.Clone(m.Items1)
	out.Items2 = slices.Clone(m.Items2)
	return out
}

// ManualMatchRequest is the request body for creating a manual match
type ManualMatchRequest struct {
	Items1 []string `json:"items_1" validate:"required,min=1,dive,required"`
	Items2 []string `json:"items_2" validate:"required,min=1,dive,required"`
	Notes  *string  `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// UnmatchRequest is the request body for reversing a match
type UnmatchRequest struct {
	Reason *string `json:"reason,omitempty" validate:"omitempty,max=1000"`
}

// ManualMatchResult is a created manual match plus any non-blocking warnings
type ManualMatchResult struct {
	Match    *ReconciliationMatch `json:"match"`
	Warnings []ValidationIssue    `json:"warnings"`
}

// ValidationIssue is a single field-level validation finding
type ValidationIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}
