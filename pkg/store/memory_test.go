package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/models"
)

var (
	testScope = models.Scope{TenantID: "t1", DatasetID: "bank-vs-ledger"}
	fixedNow  = time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
)

func newItem(id string, side models.Side, amount string) models.Item {
	return models.Item{
		ID:       id,
		Source:   side,
		Amount:   decimal.RequireFromString(amount),
		Currency: "USD",
		Date:     time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
	}
}

func candidateFor(items []models.Item, g1, g2 []string, score float64, tier models.DecisionTier) models.MatchCandidate {
	byID := make(map[string]models.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	members := make([]models.Item, 0, len(g1)+len(g2))
	for _, id := range append(append([]string{}, g1...), g2...) {
		members = append(members, byID[id])
	}
	return models.MatchCandidate{
		ID:                fingerprint.CandidateID(g1, g2),
		Group1:            g1,
		Group2:            g2,
		FeatureScores:     map[string]float64{"amount": score},
		OverallScore:      score,
		Tier:              tier,
		Status:            models.CandidateStatusPending,
		ItemsFingerprint:  fingerprint.Items(members),
		ConfigFingerprint: "cfg-1",
		ComputedAt:        fixedNow,
	}
}

type fixture struct {
	store *MemoryStore
	items []models.Item
	ctx   context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: NewMemoryStore(WithClock(func() time.Time { return fixedNow })),
		items: []models.Item{
			newItem("a1", models.SideOne, "100.00"),
			newItem("a2", models.SideOne, "50.00"),
			newItem("b1", models.SideTwo, "100.00"),
			newItem("b2", models.SideTwo, "50.00"),
		},
		ctx: context.Background(),
	}
	require.NoError(t, f.store.UpsertItems(f.ctx, testScope, f.items))
	return f
}

func (f *fixture) commit(t *testing.T, candidates []models.MatchCandidate, auto ...string) *CommitResult {
	t.Helper()
	snap, err := f.store.Snapshot(f.ctx, testScope)
	require.NoError(t, err)
	SortByID(candidates)
	res, err := f.store.CommitRun(f.ctx, testScope, RunCommit{
		RunID:         "run-1",
		BaseVersion:   snap.Version,
		ConfigVersion: snap.ConfigVersion,
		Candidates:    candidates,
		AutoAccept:    auto,
	})
	require.NoError(t, err)
	return res
}

func TestMemoryStore_CommitAndList(t *testing.T) {
	f := newFixture(t)
	c1 := candidateFor(f.items, []string{"a1"}, []string{"b1"}, 0.9, models.TierSuggest)
	c2 := candidateFor(f.items, []string{"a2"}, []string{"b2"}, 0.7, models.TierManual)

	res := f.commit(t, []models.MatchCandidate{c1, c2})
	assert.Len(t, res.Pending, 2)
	assert.Empty(t, res.Removed)

	list, err := f.store.ListCandidates(f.ctx, testScope, CandidateFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, c1.ID, list[0].ID)

	tier := models.TierManual
	list, err = f.store.ListCandidates(f.ctx, testScope, CandidateFilter{Tier: &tier})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, c2.ID, list[0].ID)

	res = f.commit(t, []models.MatchCandidate{c1})
	assert.Equal(t, []string{c2.ID}, res.Removed)
}

func TestMemoryStore_AcceptInvalidatesOverlapping(t *testing.T) {
	f := newFixture(t)
	c1 := candidateFor(f.items, []string{"a1"}, []string{"b1"}, 0.9, models.TierSuggest)
	c2 := candidateFor(f.items, []string{"a1"}, []string{"b2"}, 0.7, models.TierManual)
	c3 := candidateFor(f.items, []string{"a2"}, []string{"b2"}, 0.85, models.TierSuggest)
	f.commit(t, []models.MatchCandidate{c1, c2, c3})

	actor := "reviewer"
	match, err := f.store.Accept(f.ctx, testScope, c1.ID, &actor)
	require.NoError(t, err)
	assert.Equal(t, models.MatchMethodAssisted, match.Method)
	assert.Equal(t, models.CardinalityOneToOne, match.Cardinality)
	require.NotNil(t, match.Confidence)
	assert.Equal(t, 0.9, *match.Confidence)

	pending, err := f.store.ListCandidates(f.ctx, testScope, CandidateFilter{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, c3.ID, pending[0].ID)

	items, err := f.store.GetItems(f.ctx, testScope, []string{"a1", "b1", "a2"})
	require.NoError(t, err)
	assert.True(t, items["a1"].IsMatched())
	assert.True(t, items["b1"].IsMatched())
	assert.False(t, items["a2"].IsMatched())

	_, err = f.store.Accept(f.ctx, testScope, c1.ID, &actor)
	assert.True(t, apperrors.IsConflict(err))

	_, err = f.store.Accept(f.ctx, testScope, c2.ID, &actor)
	assert.True(t, apperrors.IsConflict(err), "competing accept: %v", err)

	_, err = f.store.Reject(f.ctx, testScope, c2.ID, nil, &actor)
	assert.True(t, apperrors.IsConflict(err), "competing reject: %v", err)

	stale, err := f.store.GetCandidate(f.ctx, testScope, c2.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CandidateStatusInvalidated, stale.Status)

	status := models.CandidateStatusInvalidated
	invalidated, err := f.store.ListCandidates(f.ctx, testScope, CandidateFilter{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, []string{c2.ID}, candidateIDs(invalidated))
}

func TestMemoryStore_ManualMatchInvalidatesOverlapping(t *testing.T) {
	f := newFixture(t)
	c := candidateFor(f.items, []string{"a1"}, []string{"b1"}, 0.9, models.TierSuggest)
	f.commit(t, []models.MatchCandidate{c})

	manual := &models.ReconciliationMatch{Items1: []string{"a1"}, Items2: []string{"b2"}, Method: models.MatchMethodManual}
	require.NoError(t, f.store.CreateMatch(f.ctx, testScope, manual))

	_, err := f.store.Accept(f.ctx, testScope, c.ID, nil)
	assert.True(t, apperrors.IsConflict(err))
	_, err = f.store.Reject(f.ctx, testScope, c.ID, nil, nil)
	assert.True(t, apperrors.IsConflict(err))

	pending, err := f.store.ListCandidates(f.ctx, testScope, CandidateFilter{})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMemoryStore_CommitInvalidatesDisplacedCandidates(t *testing.T) {
	f := newFixture(t)
	winner := candidateFor(f.items, []string{"a1"}, []string{"b1"}, 0.99, models.TierAutoLink)
	loser := candidateFor(f.items, []string{"a1"}, []string{"b2"}, 0.7, models.TierManual)

	res := f.commit(t, []models.MatchCandidate{winner, loser}, winner.ID)
	require.Len(t, res.AutoMatches, 1)
	assert.Empty(t, res.Pending)

	displaced, err := f.store.GetCandidate(f.ctx, testScope, loser.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CandidateStatusInvalidated, displaced.Status)

	_, err = f.store.Accept(f.ctx, testScope, loser.ID, nil)
	assert.True(t, apperrors.IsConflict(err))

	res = f.commit(t, []models.MatchCandidate{candidateFor(f.items, []string{"a2"}, []string{"b2"}, 0.8, models.TierSuggest)})
	require.Len(t, res.Pending, 1)
	_, err = f.store.Accept(f.ctx, testScope, res.Pending[0].ID, nil)
	require.NoError(t, err)
}

func candidateIDs(cands []models.MatchCandidate) []string {
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.ID
	}
	return ids
}

func TestMemoryStore_AcceptAutoLinkRecordsAutoMethod(t *testing.T) {
	f := newFixture(t)
	c := candidateFor(f.items, []string{"a1"}, []string{"b1"}, 0.99, models.TierAutoLink)
	f.commit(t, []models.MatchCandidate{c})

	match, err := f.store.Accept(f.ctx, testScope, c.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.MatchMethodAuto, match.Method)
}

func TestMemoryStore_AcceptStaleCandidate(t *testing.T) {
	f := newFixture(t)
	c := candidateFor(f.items, []string{"a1"}, []string{"b1"}, 0.9, models.TierSuggest)
	f.commit(t, []models.MatchCandidate{c})

	changed := newItem("b1", models.SideTwo, "101.00")
	require.NoError(t, f.store.UpsertItems(f.ctx, testScope, []models.Item{changed}))

	_, err := f.store.Accept(f.ctx, testScope, c.ID, nil)
	assert.True(t, apperrors.IsConflict(err))
}

func TestMemoryStore_Reject(t *testing.T) {
	f := newFixture(t)
	c := candidateFor(f.items, []string{"a1"}, []string{"b1"}, 0.9, models.TierSuggest)
	f.commit(t, []models.MatchCandidate{c})

	reason := "different invoice"
	rej, err := f.store.Reject(f.ctx, testScope, c.ID, &reason, nil)
	require.NoError(t, err)
	assert.Equal(t, c.ItemsFingerprint, rej.ItemsFingerprint)
	assert.Equal(t, "cfg-1", rej.ConfigFingerprint)

	again, err := f.store.Reject(f.ctx, testScope, c.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, rej.RejectedAt, again.RejectedAt)
	require.NotNil(t, again.Reason)
	assert.Equal(t, reason, *again.Reason)

	_, err = f.store.Accept(f.ctx, testScope, c.ID, nil)
	assert.True(t, apperrors.IsConflict(err))

	res := f.commit(t, []models.MatchCandidate{c})
	assert.Empty(t, res.Pending)
	assert.Equal(t, []string{c.ID}, res.Suppressed)

	rejections, err := f.store.ListRejections(f.ctx, testScope)
	require.NoError(t, err)
	assert.Len(t, rejections, 1)
}

func TestMemoryStore_RejectAcceptedCandidate(t *testing.T) {
	f := newFixture(t)
	c := candidateFor(f.items, []string{"a1"}, []string{"b1"}, 0.9, models.TierSuggest)
	f.commit(t, []models.MatchCandidate{c})
	_, err := f.store.Accept(f.ctx, testScope, c.ID, nil)
	require.NoError(t, err)

	_, err = f.store.Reject(f.ctx, testScope, c.ID, nil, nil)
	assert.True(t, apperrors.IsConflict(err))
}

func TestMemoryStore_CommitPurgesMatchedItems(t *testing.T) {
	f := newFixture(t)
	snap, err := f.store.Snapshot(f.ctx, testScope)
	require.NoError(t, err)

	manual := &models.ReconciliationMatch{Items1: []string{"a1"}, Items2: []string{"b1"}, Method: models.MatchMethodManual}
	require.NoError(t, f.store.CreateMatch(f.ctx, testScope, manual))

	c1 := candidateFor(f.items, []string{"a1"}, []string{"b1"}, 0.9, models.TierSuggest)
	c2 := candidateFor(f.items, []string{"a2"}, []string{"b2"}, 0.9, models.TierSuggest)
	candidates := []models.MatchCandidate{c1, c2}
	SortByID(candidates)

	res, err := f.store.CommitRun(f.ctx, testScope, RunCommit{
		RunID:         "run-1",
		BaseVersion:   snap.Version,
		ConfigVersion: snap.ConfigVersion,
		Candidates:    candidates,
	})
	require.NoError(t, err)
	assert.True(t, res.Concurrent)
	assert.Equal(t, []string{c1.ID}, res.Purged)
	require.Len(t, res.Pending, 1)
	assert.Equal(t, c2.ID, res.Pending[0].ID)
}

func TestMemoryStore_CommitRejectsConfigChange(t *testing.T) {
	f := newFixture(t)
	snap, err := f.store.Snapshot(f.ctx, testScope)
	require.NoError(t, err)

	require.NoError(t, f.store.SaveConfig(f.ctx, testScope, &models.ReconciliationConfig{}, nil))

	_, err = f.store.CommitRun(f.ctx, testScope, RunCommit{ConfigVersion: snap.ConfigVersion})
	assert.True(t, apperrors.IsConflict(err))
}

func TestMemoryStore_CommitAutoAccept(t *testing.T) {
	f := newFixture(t)
	c1 := candidateFor(f.items, []string{"a1"}, []string{"b1"}, 0.99, models.TierAutoLink)
	c2 := candidateFor(f.items, []string{"a2"}, []string{"b1"}, 0.7, models.TierManual)
	c3 := candidateFor(f.items, []string{"a2"}, []string{"b2"}, 0.85, models.TierSuggest)

	res := f.commit(t, []models.MatchCandidate{c1, c2, c3}, c1.ID)
	require.Len(t, res.AutoMatches, 1)
	assert.Equal(t, models.MatchMethodAuto, res.AutoMatches[0].Method)
	require.Len(t, res.Pending, 1)
	assert.Equal(t, c3.ID, res.Pending[0].ID)

	got, err := f.store.GetCandidate(f.ctx, testScope, c1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CandidateStatusAccepted, got.Status)
}

func TestMemoryStore_CreateMatch(t *testing.T) {
	f := newFixture(t)
	c := candidateFor(f.items, []string{"a2"}, []string{"b2"}, 0.7, models.TierManual)
	f.commit(t, []models.MatchCandidate{c})

	m := &models.ReconciliationMatch{Items1: []string{"a1", "a2"}, Items2: []string{"b1", "b2"}, Method: models.MatchMethodManual}
	require.NoError(t, f.store.CreateMatch(f.ctx, testScope, m))
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, fixedNow, m.CreatedAt)

	pending, err := f.store.ListCandidates(f.ctx, testScope, CandidateFilter{})
	require.NoError(t, err)
	assert.Empty(t, pending)

	err = f.store.CreateMatch(f.ctx, testScope, &models.ReconciliationMatch{Items1: []string{"a1"}, Items2: []string{"b1"}})
	assert.True(t, apperrors.IsConflict(err))

	err = f.store.CreateMatch(f.ctx, testScope, &models.ReconciliationMatch{Items1: []string{"zz"}, Items2: []string{"b1"}})
	assert.True(t, apperrors.IsNotFound(err))
}

func TestMemoryStore_UnmatchClearsRejectionAndCandidate(t *testing.T) {
	f := newFixture(t)
	c := candidateFor(f.items, []string{"a1"}, []string{"b1"}, 0.9, models.TierSuggest)
	f.commit(t, []models.MatchCandidate{c})
	_, err := f.store.Reject(f.ctx, testScope, c.ID, nil, nil)
	require.NoError(t, err)

	m := &models.ReconciliationMatch{Items1: []string{"a1"}, Items2: []string{"b1"}, Method: models.MatchMethodManual}
	require.NoError(t, f.store.CreateMatch(f.ctx, testScope, m))

	reason := "wrong pairing"
	removed, err := f.store.Unmatch(f.ctx, testScope, m.ID, &reason, nil)
	require.NoError(t, err)
	assert.Equal(t, m.ID, removed.ID)

	items, err := f.store.GetItems(f.ctx, testScope, []string{"a1", "b1"})
	require.NoError(t, err)
	assert.False(t, items["a1"].IsMatched())
	assert.False(t, items["b1"].IsMatched())

	_, err = f.store.GetCandidate(f.ctx, testScope, c.ID)
	assert.True(t, apperrors.IsNotFound(err))
	rejections, err := f.store.ListRejections(f.ctx, testScope)
	require.NoError(t, err)
	assert.Empty(t, rejections)

	_, err = f.store.Unmatch(f.ctx, testScope, m.ID, nil, nil)
	assert.True(t, apperrors.IsNotFound(err))

	audit, err := f.store.ListAudit(f.ctx, testScope, 1)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, models.AuditActionUnmatch, audit[0].Action)
	require.NotNil(t, audit[0].Reason)
	assert.Equal(t, reason, *audit[0].Reason)
}

func TestMemoryStore_UpsertMatchedItemConflict(t *testing.T) {
	f := newFixture(t)
	m := &models.ReconciliationMatch{Items1: []string{"a1"}, Items2: []string{"b1"}, Method: models.MatchMethodManual}
	require.NoError(t, f.store.CreateMatch(f.ctx, testScope, m))

	require.NoError(t, f.store.UpsertItems(f.ctx, testScope, []models.Item{f.items[0]}))

	err := f.store.UpsertItems(f.ctx, testScope, []models.Item{newItem("a1", models.SideOne, "99.00")})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestMemoryStore_ScopesAreIsolated(t *testing.T) {
	f := newFixture(t)
	other := models.Scope{TenantID: "t2", DatasetID: "bank-vs-ledger"}

	items, err := f.store.ListItems(f.ctx, other, ItemFilter{})
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = f.store.GetConfig(f.ctx, other)
	assert.True(t, apperrors.IsNotFound(err))

	side := models.SideTwo
	items, err = f.store.ListItems(f.ctx, testScope, ItemFilter{Side: &side})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "b1", items[0].ID)
}
