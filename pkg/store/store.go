// Package store is the authoritative record of items, candidates, matches and rejections.
// Every mutation is transactional against the per-item matched flag.
package store

import (
	"context"
	"sort"
	"time"

	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

// ItemFilter narrows item listings
type ItemFilter struct {
	Side          *models.Side
	UnmatchedOnly bool
}

// CandidateFilter narrows candidate listings. A nil status lists pending candidates.
type CandidateFilter struct {
	Tier   *models.DecisionTier
	Status *models.CandidateStatus
}

// Snapshot is the consistent view a run computes against
type Snapshot struct {
	Version       int64
	ConfigVersion int64
	// Config is nil when the dataset has not stored one
	Config     *models.ReconciliationConfig
	Items      []models.Item
	Pending    []models.MatchCandidate
	Rejections map[string]models.Rejection
}

// RunCommit replaces the pending candidate set of a scope in one transaction
type RunCommit struct {
	RunID         string
	BaseVersion   int64
	ConfigVersion int64
	// Candidates is the new pending set, sorted by candidate id
	Candidates []models.MatchCandidate
	// AutoAccept lists auto_link winners to commit as auto matches, in assignment order
	AutoAccept []string
	Actor      *string
	At         time.Time
}

// CommitResult describes what a run commit changed
type CommitResult struct {
	Version     int64
	Pending     []models.MatchCandidate
	Removed     []string
	Purged      []string
	Suppressed  []string
	AutoMatches []models.ReconciliationMatch
	// Concurrent is set when other writes landed between the snapshot and the commit
	Concurrent bool
}

// Store is the match state store contract shared by the in-memory and postgres implementations
type Store interface {
	UpsertItems(ctx context.Context, scope models.Scope, items []models.Item) error
	GetItems(ctx context.Context, scope models.Scope, ids []string) (map[string]models.ItemState, error)
	ListItems(ctx context.Context, scope models.Scope, filter ItemFilter) ([]models.ItemState, error)

	GetConfig(ctx context.Context, scope models.Scope) (*models.ReconciliationConfig, error)
	SaveConfig(ctx context.Context, scope models.Scope, cfg *models.ReconciliationConfig, actor *string) error

	Snapshot(ctx context.Context, scope models.Scope) (*Snapshot, error)
	CommitRun(ctx context.Context, scope models.Scope, commit RunCommit) (*CommitResult, error)

	GetCandidate(ctx context.Context, scope models.Scope, id string) (*models.MatchCandidate, error)
	ListCandidates(ctx context.Context, scope models.Scope, filter CandidateFilter) ([]models.MatchCandidate, error)

	Accept(ctx context.Context, scope models.Scope, candidateID string, actor *string) (*models.ReconciliationMatch, error)
	Reject(ctx context.Context, scope models.Scope, candidateID string, reason, actor *string) (*models.Rejection, error)
	CreateMatch(ctx context.Context, scope models.Scope, match *models.ReconciliationMatch) error
	Unmatch(ctx context.Context, scope models.Scope, matchID string, reason, actor *string) (*models.ReconciliationMatch, error)

	GetMatch(ctx context.Context, scope models.Scope, id string) (*models.ReconciliationMatch, error)
	ListMatches(ctx context.Context, scope models.Scope) ([]models.ReconciliationMatch, error)
	ListRejections(ctx context.Context, scope models.Scope) ([]models.Rejection, error)
	ListAudit(ctx context.Context, scope models.Scope, limit int) ([]models.AuditEntry, error)
}

// CommitState answers the questions a commit plan needs about current state
type CommitState interface {
	// ItemMatched reports whether the item exists and whether it currently belongs to a match
	ItemMatched(id string) (known bool, matched bool)
	Rejection(candidateID string) (models.Rejection, bool)
}

// CommitPlan is the outcome of reconciling a run's candidate set against current state
type CommitPlan struct {
	// Pending is the final pending set, sorted by candidate id
	Pending []models.MatchCandidate
	// Auto are the candidates to commit as auto matches
	Auto []models.MatchCandidate
	// Purged candidates reference items that were matched or removed since the snapshot
	Purged []string
	// Suppressed candidates were rejected with an unchanged fingerprint since the snapshot
	Suppressed []string
	// Displaced are candidates invalidated because an auto match claimed one of their items
	Displaced []models.MatchCandidate
}

// PlanCommit applies commit-time revalidation to a run's candidates. It never mutates its inputs.
func PlanCommit(candidates []models.MatchCandidate, autoAccept []string, state CommitState) CommitPlan {
	var plan CommitPlan
	kept := make([]models.MatchCandidate, 0, len(candidates))

	for _, c := range candidates {
		if referencesUnavailable(c, state) {
			plan.Purged = append(plan.Purged, c.ID)
			continue
		}
		if rej, ok := state.Rejection(c.ID); ok && rej.Suppresses(&c) {
			plan.Suppressed = append(plan.Suppressed, c.ID)
			continue
		}
		kept = append(kept, c.Clone())
	}

	byID := make(map[string]int, len(kept))
	for i, c := range kept {
		byID[c.ID] = i
	}

	claimed := make(map[string]bool)
	autoIDs := make(map[string]bool)
	for _, id := range autoAccept {
		idx, ok := byID[id]
		if !ok {
			continue
		}
		c := kept[idx]
		conflict := false
		for _, itemID := range c.ItemIDs() {
			if claimed[itemID] {
				conflict = true
				break
			}
		}
		if conflict {
			continue
		}
		for _, itemID := range c.ItemIDs() {
			claimed[itemID] = true
		}
		autoIDs[id] = true
		plan.Auto = append(plan.Auto, c)
	}

	for _, c := range kept {
		if autoIDs[c.ID] {
			continue
		}
		displaced := false
		for _, itemID := range c.ItemIDs() {
			if claimed[itemID] {
				displaced = true
				break
			}
		}
		if displaced {
			plan.Displaced = append(plan.Displaced, c)
			continue
		}
		plan.Pending = append(plan.Pending, c)
	}

	SortByID(plan.Pending)
	return plan
}

func referencesUnavailable(c models.MatchCandidate, state CommitState) bool {
	for _, id := range c.ItemIDs() {
		known, matched := state.ItemMatched(id)
		if !known || matched {
			return true
		}
	}
	return false
}

// RemovedIDs returns the previously pending ids that are not in the new pending set, sorted
func RemovedIDs(previous []string, pending []models.MatchCandidate) []string {
	still := make(map[string]bool, len(pending))
	for _, c := range pending {
		still[c.ID] = true
	}
	removed := make([]string, 0)
	for _, id := range previous {
		if !still[id] {
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

// SortByID orders candidates by candidate id
func SortByID(candidates []models.MatchCandidate) {
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
}

// SortForReview orders candidates by descending score, then candidate id
func SortForReview(candidates []models.MatchCandidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].OverallScore != candidates[j].OverallScore {
			return candidates[i].OverallScore > candidates[j].OverallScore
		}
		return candidates[i].ID < candidates[j].ID
	})
}

// CheckAcceptable returns the ConflictError for a candidate that can no longer be accepted
func CheckAcceptable(c *models.MatchCandidate) error {
	switch c.Status {
	case models.CandidateStatusAccepted:
		return apperrors.NewConflictErrorf("candidate %s is already accepted", c.ID)
	case models.CandidateStatusRejected:
		return apperrors.NewConflictErrorf("candidate %s was rejected", c.ID)
	case models.CandidateStatusInvalidated:
		return invalidatedError(c.ID)
	}
	return nil
}

// CheckRejectable returns the ConflictError for a candidate that can no longer be rejected.
// Rejecting an already rejected candidate is not an error.
func CheckRejectable(c *models.MatchCandidate) error {
	switch c.Status {
	case models.CandidateStatusAccepted:
		return apperrors.NewConflictErrorf("candidate %s is already accepted; unmatch it instead", c.ID)
	case models.CandidateStatusInvalidated:
		return invalidatedError(c.ID)
	}
	return nil
}

func invalidatedError(id string) error {
	return apperrors.NewConflictErrorf("candidate %s is no longer valid: one of its items was matched; refresh candidates and retry", id)
}

// MatchFromCandidate builds the match created by accepting a candidate
func MatchFromCandidate(c *models.MatchCandidate, id string, method models.MatchMethod, actor *string, at time.Time) *models.ReconciliationMatch {
	confidence := c.OverallScore
	candidateID := c.ID
	return &models.ReconciliationMatch{
		ID:          id,
		Items1:      append([]string{}, c.Group1...),
		Items2:      append([]string{}, c.Group2...),
		Cardinality: models.InferCardinality(len(c.Group1), len(c.Group2)),
		Confidence:  &confidence,
		Method:      method,
		CandidateID: &candidateID,
		CreatedAt:   at,
		CreatedBy:   actor,
	}
}

// AcceptMethod is the match method recorded when a candidate is accepted
func AcceptMethod(c *models.MatchCandidate) models.MatchMethod {
	if c.Tier == models.TierAutoLink {
		return models.MatchMethodAuto
	}
	return models.MatchMethodAssisted
}

// Matches reports whether a candidate passes a filter
func (f CandidateFilter) Matches(c *models.MatchCandidate) bool {
	status := models.CandidateStatusPending
	if f.Status != nil {
		status = *f.Status
	}
	if c.Status != status {
		return false
	}
	return f.Tier == nil || c.Tier == *f.Tier
}

// Matches reports whether an item passes a filter
func (f ItemFilter) Matches(s *models.ItemState) bool {
	if f.Side != nil && s.Source != *f.Side {
		return false
	}
	return !f.UnmatchedOnly || !s.IsMatched()
}
