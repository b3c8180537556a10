package postgres_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/db"
	"github.com/Ramsey-B/fern/internal/testsupport"
	"github.com/Ramsey-B/fern/pkg/database"
	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/reconcile"
	"github.com/Ramsey-B/fern/pkg/runlock"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/store/postgres"
)

var jan15 = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	s, _ := newTestStoreWithDB(t)
	return s
}

func newTestStoreWithDB(t *testing.T) (*postgres.Store, database.DB) {
	t.Helper()
	ctx := context.Background()
	pg := testsupport.StartPostgres(ctx, t)
	logger := testsupport.Logger()

	conn, err := database.Connect(ctx, database.Config{
		Host:     pg.Host,
		Port:     pg.Port,
		User:     pg.User,
		Password: pg.Password,
		Name:     pg.Database,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	migrations := database.NewMigrationService(logger, &database.MigrationConfig{Embedded: db.Migrations()})
	require.NoError(t, migrations.Migrate(conn.SQL(), pg.Database))

	return postgres.New(conn, logger), conn
}

func item(id string, side models.Side, amount string) models.Item {
	desc := "Acme Corp"
	return models.Item{
		ID:          id,
		Source:      side,
		Amount:      decimal.RequireFromString(amount),
		Currency:    "USD",
		Date:        jan15,
		Description: &desc,
		Extra:       map[string]any{"ref": "INV-1"},
	}
}

func candidate(items []models.Item, g1, g2 []string, score float64, tier models.DecisionTier) models.MatchCandidate {
	byID := make(map[string]models.Item)
	for _, it := range items {
		byID[it.ID] = it
	}
	var members []models.Item
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
		ConfigFingerprint: "cfg",
		ComputedAt:        jan15,
	}
}

func TestPostgresStore_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	scope := models.Scope{TenantID: "tenant-1", DatasetID: "bank"}

	items := []models.Item{
		item("a1", models.SideOne, "100.00"),
		item("a2", models.SideOne, "50.00"),
		item("b1", models.SideTwo, "100.00"),
		item("b2", models.SideTwo, "50.00"),
	}
	require.NoError(t, s.UpsertItems(ctx, scope, items))

	stored, err := s.GetItems(ctx, scope, []string{"a1"})
	require.NoError(t, err)
	require.Contains(t, stored, "a1")
	assert.True(t, stored["a1"].Amount.Equal(decimal.RequireFromString("100")))
	assert.Equal(t, jan15, stored["a1"].Date)
	assert.Equal(t, "INV-1", stored["a1"].Extra["ref"])

	snap, err := s.Snapshot(ctx, scope)
	require.NoError(t, err)
	assert.Len(t, snap.Items, 4)
	assert.Nil(t, snap.Config)

	c1 := candidate(items, []string{"a1"}, []string{"b1"}, 0.9, models.TierSuggest)
	c2 := candidate(items, []string{"a1"}, []string{"b2"}, 0.65, models.TierManual)
	c3 := candidate(items, []string{"a2"}, []string{"b2"}, 0.85, models.TierSuggest)
	cands := []models.MatchCandidate{c1, c2, c3}
	store.SortByID(cands)

	res, err := s.CommitRun(ctx, scope, store.RunCommit{
		RunID:         "run-1",
		BaseVersion:   snap.Version,
		ConfigVersion: snap.ConfigVersion,
		Candidates:    cands,
	})
	require.NoError(t, err)
	assert.Len(t, res.Pending, 3)
	assert.False(t, res.Concurrent)

	match, err := s.Accept(ctx, scope, c1.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.MatchMethodAssisted, match.Method)

	pending, err := s.ListCandidates(ctx, scope, store.CandidateFilter{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, c3.ID, pending[0].ID)

	reason := "not the same invoice"
	rej, err := s.Reject(ctx, scope, c3.ID, &reason, nil)
	require.NoError(t, err)
	assert.Equal(t, c3.ItemsFingerprint, rej.ItemsFingerprint)

	snap, err = s.Snapshot(ctx, scope)
	require.NoError(t, err)
	assert.Len(t, snap.Items, 2)
	assert.Contains(t, snap.Rejections, c3.ID)

	removed, err := s.Unmatch(ctx, scope, match.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, match.ID, removed.ID)

	_, err = s.GetMatch(ctx, scope, match.ID)
	assert.True(t, apperrors.IsNotFound(err))

	audit, err := s.ListAudit(ctx, scope, 10)
	require.NoError(t, err)
	assert.Len(t, audit, 4)
}

func TestPostgresStore_ConcurrentAcceptOneWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	scope := models.Scope{TenantID: "tenant-1", DatasetID: "race"}

	items := []models.Item{
		item("a1", models.SideOne, "100.00"),
		item("b1", models.SideTwo, "100.00"),
		item("b2", models.SideTwo, "100.00"),
	}
	require.NoError(t, s.UpsertItems(ctx, scope, items))

	c1 := candidate(items, []string{"a1"}, []string{"b1"}, 0.9, models.TierSuggest)
	c2 := candidate(items, []string{"a1"}, []string{"b2"}, 0.9, models.TierSuggest)
	cands := []models.MatchCandidate{c1, c2}
	store.SortByID(cands)

	snap, err := s.Snapshot(ctx, scope)
	require.NoError(t, err)
	_, err = s.CommitRun(ctx, scope, store.RunCommit{RunID: "run", BaseVersion: snap.Version, ConfigVersion: snap.ConfigVersion, Candidates: cands})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{c1.ID, c2.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = s.Accept(ctx, scope, id, nil)
		}(i, id)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, apperrors.IsConflict(err), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)

	matches, err := s.ListMatches(ctx, scope)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestPostgresStore_ConfigVersioning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	scope := models.Scope{TenantID: "tenant-1", DatasetID: "cfg"}

	_, err := s.GetConfig(ctx, scope)
	assert.True(t, apperrors.IsNotFound(err))

	snap, err := s.Snapshot(ctx, scope)
	require.NoError(t, err)

	cfg := &models.ReconciliationConfig{
		Thresholds: models.Thresholds{AutoLink: 0.9, AutoSuggest: 0.8, Manual: 0.5},
		Weights:    map[string]float64{"amount": 1},
		Tolerances: models.Tolerances{AmountPercent: models.Float64(0.02)},
	}
	require.NoError(t, s.SaveConfig(ctx, scope, cfg, nil))

	got, err := s.GetConfig(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.Thresholds.AutoLink)
	require.NotNil(t, got.Tolerances.AmountPercent)
	assert.Equal(t, 0.02, *got.Tolerances.AmountPercent)

	_, err = s.CommitRun(ctx, scope, store.RunCommit{RunID: "run", BaseVersion: snap.Version, ConfigVersion: snap.ConfigVersion})
	assert.True(t, apperrors.IsConflict(err))
}

func commitCandidates(t *testing.T, s *postgres.Store, scope models.Scope, cands []models.MatchCandidate, auto ...string) *store.CommitResult {
	t.Helper()
	ctx := context.Background()
	snap, err := s.Snapshot(ctx, scope)
	require.NoError(t, err)
	store.SortByID(cands)
	res, err := s.CommitRun(ctx, scope, store.RunCommit{
		RunID:         "run",
		BaseVersion:   snap.Version,
		ConfigVersion: snap.ConfigVersion,
		Candidates:    cands,
		AutoAccept:    auto,
	})
	require.NoError(t, err)
	return res
}

func TestPostgresStore_OverlappingCandidateConflictsAfterAccept(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	scope := models.Scope{TenantID: "tenant-1", DatasetID: "overlap"}

	items := []models.Item{
		item("a1", models.SideOne, "100.00"),
		item("b1", models.SideTwo, "100.00"),
		item("b2", models.SideTwo, "100.00"),
	}
	require.NoError(t, s.UpsertItems(ctx, scope, items))

	c1 := candidate(items, []string{"a1"}, []string{"b1"}, 0.9, models.TierSuggest)
	c2 := candidate(items, []string{"a1"}, []string{"b2"}, 0.8, models.TierSuggest)
	commitCandidates(t, s, scope, []models.MatchCandidate{c1, c2})

	_, err := s.Accept(ctx, scope, c1.ID, nil)
	require.NoError(t, err)

	_, err = s.Accept(ctx, scope, c2.ID, nil)
	assert.True(t, apperrors.IsConflict(err), "competing accept: %v", err)
	_, err = s.Reject(ctx, scope, c2.ID, nil, nil)
	assert.True(t, apperrors.IsConflict(err), "competing reject: %v", err)

	got, err := s.GetCandidate(ctx, scope, c2.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CandidateStatusInvalidated, got.Status)

	pending, err := s.ListCandidates(ctx, scope, store.CandidateFilter{})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPostgresStore_DisplacedCandidateConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	scope := models.Scope{TenantID: "tenant-1", DatasetID: "displaced"}

	items := []models.Item{
		item("a1", models.SideOne, "100.00"),
		item("b1", models.SideTwo, "100.00"),
		item("b2", models.SideTwo, "100.00"),
	}
	require.NoError(t, s.UpsertItems(ctx, scope, items))

	winner := candidate(items, []string{"a1"}, []string{"b1"}, 0.99, models.TierAutoLink)
	loser := candidate(items, []string{"a1"}, []string{"b2"}, 0.7, models.TierManual)
	res := commitCandidates(t, s, scope, []models.MatchCandidate{winner, loser}, winner.ID)
	require.Len(t, res.AutoMatches, 1)
	assert.Empty(t, res.Pending)

	_, err := s.Accept(ctx, scope, loser.ID, nil)
	assert.True(t, apperrors.IsConflict(err), "unexpected error: %v", err)
}

func TestPostgresStore_ItemOperationsIgnoreScopeLock(t *testing.T) {
	s, conn := newTestStoreWithDB(t)
	ctx := context.Background()
	scope := models.Scope{TenantID: "tenant-1", DatasetID: "parallel"}

	items := []models.Item{
		item("a1", models.SideOne, "100.00"),
		item("a2", models.SideOne, "50.00"),
		item("b1", models.SideTwo, "100.00"),
		item("b2", models.SideTwo, "50.00"),
	}
	require.NoError(t, s.UpsertItems(ctx, scope, items))
	c1 := candidate(items, []string{"a1"}, []string{"b1"}, 0.9, models.TierSuggest)
	c2 := candidate(items, []string{"a2"}, []string{"b2"}, 0.9, models.TierSuggest)
	commitCandidates(t, s, scope, []models.MatchCandidate{c1, c2})

	holder, err := conn.SQL().BeginTx(ctx, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = holder.Rollback() })
	_, err = holder.ExecContext(ctx, `SELECT 1 FROM reconciliation_scopes WHERE tenant_id = $1 AND dataset_id = $2 FOR UPDATE`, scope.TenantID, scope.DatasetID)
	require.NoError(t, err)

	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, 3)
	wg.Add(3)
	go func() {
		defer wg.Done()
		_, errs[0] = s.Accept(opCtx, scope, c1.ID, nil)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = s.Reject(opCtx, scope, c2.ID, nil, nil)
	}()
	go func() {
		defer wg.Done()
		errs[2] = s.UpsertItems(opCtx, scope, []models.Item{item("b3", models.SideTwo, "75.00")})
	}()
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "operation %d", i)
	}
}

func TestPostgresStore_RerunIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	scope := models.Scope{TenantID: "tenant-1", DatasetID: "rerun"}

	require.NoError(t, s.UpsertItems(ctx, scope, []models.Item{
		item("a1", models.SideOne, "100.00"),
		item("a2", models.SideOne, "50.00"),
		item("b1", models.SideTwo, "100.00"),
		item("b2", models.SideTwo, "50.00"),
	}))

	orchestrator := reconcile.NewOrchestrator(s, runlock.NewMemoryLocker(), testsupport.Logger(), reconcile.Options{Workers: 2})

	first, err := orchestrator.Run(ctx, scope, nil)
	require.NoError(t, err)
	require.NotEmpty(t, first.Candidates)

	second, err := orchestrator.Run(ctx, scope, nil)
	require.NoError(t, err)

	firstJSON, err := json.Marshal(first.Candidates)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second.Candidates)
	require.NoError(t, err)
	assert.JSONEq(t, string(firstJSON), string(secondJSON))
	assert.Zero(t, second.Stats.Added)
	assert.Zero(t, second.Stats.Updated)
	assert.Equal(t, len(first.Candidates), second.Stats.Unchanged)

	stored, err := s.ListCandidates(ctx, scope, store.CandidateFilter{})
	require.NoError(t, err)
	storedJSON, err := json.Marshal(sortedByID(stored))
	require.NoError(t, err)
	assert.JSONEq(t, string(firstJSON), string(storedJSON))
}

func sortedByID(cands []models.MatchCandidate) []models.MatchCandidate {
	out := append([]models.MatchCandidate(nil), cands...)
	store.SortByID(out)
	return out
}
