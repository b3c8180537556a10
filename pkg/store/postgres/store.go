// Package postgres is the postgres-backed match state store
package postgres

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/internal/repositories/audit"
	"github.com/Ramsey-B/fern/internal/repositories/candidates"
	"github.com/Ramsey-B/fern/internal/repositories/items"
	"github.com/Ramsey-B/fern/internal/repositories/matches"
	"github.com/Ramsey-B/fern/internal/repositories/rejections"
	"github.com/Ramsey-B/fern/internal/repositories/scopestate"
	"github.com/Ramsey-B/fern/pkg/database"
	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Store runs every mutation in one read-committed transaction.
//
// Run commits and config writes lock the dataset's scope row. Item-level operations (ingest, accept,
// reject, manual match, unmatch) lock only the item and candidate rows they touch, so work on disjoint
// items of the same dataset proceeds in parallel. Locks are always taken in the order scope row, items
// by item id, pending candidates by candidate id.
type Store struct {
	db         database.DB
	logger     ectologger.Logger
	scopes     *scopestate.Repository
	items      *items.Repository
	candidates *candidates.Repository
	matches    *matches.Repository
	rejections *rejections.Repository
	audit      *audit.Repository
	now        func() time.Time
}

var _ store.Store = (*Store)(nil)

func New(db database.DB, logger ectologger.Logger) *Store {
	return &Store{
		db:         db,
		logger:     logger,
		scopes:     scopestate.NewRepository(db, logger),
		items:      items.NewRepository(db, logger),
		candidates: candidates.NewRepository(db, logger),
		matches:    matches.NewRepository(db, logger),
		rejections: rejections.NewRepository(db, logger),
		audit:      audit.NewRepository(db, logger),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

var readCommitted = &sql.TxOptions{Isolation: sql.LevelReadCommitted}

func (s *Store) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return database.WithTx(ctx, s.db, readCommitted, func(ctx context.Context, _ database.Tx) error {
		return fn(ctx)
	})
}

func (s *Store) withScopeLock(ctx context.Context, scope models.Scope, fn func(ctx context.Context, state *scopestate.State) error) error {
	return database.WithTx(ctx, s.db, readCommitted, func(ctx context.Context, _ database.Tx) error {
		state, err := s.scopes.Get(ctx, scope, true)
		if err != nil {
			return err
		}
		return fn(ctx, state)
	})
}

func (s *Store) UpsertItems(ctx context.Context, scope models.Scope, list []models.Item) error {
	ctx, span := tracing.StartSpan(ctx, "postgres.Store.UpsertItems")
	defer span.End()

	sorted := append([]models.Item(nil), list...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	ids := make([]string, 0, len(sorted))
	for _, item := range sorted {
		ids = append(ids, item.ID)
	}

	return s.inTx(ctx, func(ctx context.Context) error {
		existing, err := s.items.GetByIDs(ctx, scope, ids, true)
		if err != nil {
			return err
		}

		var locked []string
		for _, item := range sorted {
			current, ok := existing[item.ID]
			if ok && current.IsMatched() && fingerprint.HasChanged(fingerprint.Items([]models.Item{current.Item}), fingerprint.Items([]models.Item{item})) {
				locked = append(locked, item.ID)
			}
		}
		if len(locked) > 0 {
			return apperrors.NewConflictError("matched items cannot be modified; unmatch them first", locked...)
		}

		return s.items.Upsert(ctx, scope, sorted)
	})
}

func (s *Store) GetItems(ctx context.Context, scope models.Scope, ids []string) (map[string]models.ItemState, error) {
	return s.items.GetByIDs(ctx, scope, ids, false)
}

func (s *Store) ListItems(ctx context.Context, scope models.Scope, filter store.ItemFilter) ([]models.ItemState, error) {
	return s.items.List(ctx, scope, filter.Side, filter.UnmatchedOnly)
}

func (s *Store) GetConfig(ctx context.Context, scope models.Scope) (*models.ReconciliationConfig, error) {
	state, err := s.scopes.Get(ctx, scope, false)
	if err != nil {
		return nil, err
	}
	if state.Config.Data == nil {
		return nil, apperrors.NewNotFoundError("config", scope.Key())
	}
	return state.Config.Data, nil
}

func (s *Store) SaveConfig(ctx context.Context, scope models.Scope, cfg *models.ReconciliationConfig, actor *string) error {
	ctx, span := tracing.StartSpan(ctx, "postgres.Store.SaveConfig")
	defer span.End()

	return s.withScopeLock(ctx, scope, func(ctx context.Context, _ *scopestate.State) error {
		if err := s.scopes.SaveConfig(ctx, scope, cfg); err != nil {
			return err
		}
		return s.audit.Append(ctx, scope, models.AuditActionConfig, scope.Key(), actor, nil, s.now())
	})
}

// Snapshot reads the run inputs inside one repeatable-read transaction so they are mutually consistent
func (s *Store) Snapshot(ctx context.Context, scope models.Scope) (*store.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "postgres.Store.Snapshot")
	defer span.End()

	snap := &store.Snapshot{Rejections: make(map[string]models.Rejection)}
	opts := &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	err := database.WithTx(ctx, s.db, opts, func(ctx context.Context, _ database.Tx) error {
		state, err := s.scopes.Get(ctx, scope, false)
		if err != nil {
			return err
		}
		snap.Version = state.Version
		snap.ConfigVersion = state.ConfigVersion
		snap.Config = state.Config.Data

		unmatched, err := s.items.List(ctx, scope, nil, true)
		if err != nil {
			return err
		}
		snap.Items = make([]models.Item, 0, len(unmatched))
		for _, item := range unmatched {
			snap.Items = append(snap.Items, item.Item)
		}

		pending, err := s.candidates.List(ctx, scope, models.CandidateStatusPending, nil)
		if err != nil {
			return err
		}
		store.SortByID(pending)
		snap.Pending = pending

		rejected, err := s.rejections.List(ctx, scope)
		if err != nil {
			return err
		}
		for _, rej := range rejected {
			snap.Rejections[rej.CandidateID] = rej
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

type commitState struct {
	items      map[string]models.ItemState
	rejections map[string]models.Rejection
}

func (c *commitState) ItemMatched(id string) (bool, bool) {
	item, ok := c.items[id]
	if !ok {
		return false, false
	}
	return true, item.IsMatched()
}

func (c *commitState) Rejection(candidateID string) (models.Rejection, bool) {
	rej, ok := c.rejections[candidateID]
	return rej, ok
}

func (s *Store) CommitRun(ctx context.Context, scope models.Scope, commit store.RunCommit) (*store.CommitResult, error) {
	ctx, span := tracing.StartSpan(ctx, "postgres.Store.CommitRun")
	defer span.End()

	at := commit.At
	if at.IsZero() {
		at = s.now()
	}

	result := &store.CommitResult{}
	err := s.withScopeLock(ctx, scope, func(ctx context.Context, state *scopestate.State) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if state.ConfigVersion != commit.ConfigVersion {
			return apperrors.NewConflictError("config changed during run; rerun reconciliation")
		}

		referenced := make(map[string]bool)
		for _, c := range commit.Candidates {
			for _, id := range c.ItemIDs() {
				referenced[id] = true
			}
		}
		ids := make([]string, 0, len(referenced))
		for id := range referenced {
			ids = append(ids, id)
		}

		sort.Strings(ids)
		current, err := s.items.GetByIDs(ctx, scope, ids, true)
		if err != nil {
			return err
		}
		rejected, err := s.rejections.List(ctx, scope)
		if err != nil {
			return err
		}
		cs := &commitState{items: current, rejections: make(map[string]models.Rejection, len(rejected))}
		for _, rej := range rejected {
			cs.rejections[rej.CandidateID] = rej
		}

		plan := store.PlanCommit(commit.Candidates, commit.AutoAccept, cs)
		result.Concurrent = state.Version != commit.BaseVersion || len(plan.Purged) > 0 || len(plan.Suppressed) > 0

		previous, err := s.candidates.DeletePending(ctx, scope)
		if err != nil {
			return err
		}

		for _, c := range plan.Auto {
			match := store.MatchFromCandidate(&c, uuid.New().String(), models.MatchMethodAuto, commit.Actor, at)
			if err := s.createMatch(ctx, scope, match); err != nil {
				return err
			}
			if err := s.candidates.Upsert(ctx, scope, []models.MatchCandidate{c}, models.CandidateStatusAccepted); err != nil {
				return err
			}
			if err := s.audit.Append(ctx, scope, models.AuditActionAccept, c.ID, commit.Actor, nil, at); err != nil {
				return err
			}
			result.AutoMatches = append(result.AutoMatches, *match)
		}

		if err := s.candidates.Upsert(ctx, scope, plan.Displaced, models.CandidateStatusInvalidated); err != nil {
			return err
		}
		if err := s.candidates.Upsert(ctx, scope, plan.Pending, models.CandidateStatusPending); err != nil {
			return err
		}
		if err := s.audit.Append(ctx, scope, models.AuditActionRun, commit.RunID, commit.Actor, nil, at); err != nil {
			return err
		}

		version, err := s.scopes.Bump(ctx, scope)
		if err != nil {
			return err
		}

		result.Version = version
		result.Pending = plan.Pending
		result.Purged = plan.Purged
		result.Suppressed = plan.Suppressed
		result.Removed = store.RemovedIDs(previous, plan.Pending)
		return nil
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return result, nil
}

// createMatch inserts the match and claims its items. A claim that touches fewer rows than the match
// references means another writer matched one of the items first.
func (s *Store) createMatch(ctx context.Context, scope models.Scope, match *models.ReconciliationMatch) error {
	ids := match.ItemIDs()
	if err := s.matches.Create(ctx, scope, match); err != nil {
		return err
	}
	claimed, err := s.items.Claim(ctx, scope, match.ID, ids)
	if err != nil {
		return err
	}
	if claimed != int64(len(ids)) {
		return apperrors.NewConflictError("items are already matched", ids...)
	}
	return nil
}

func (s *Store) GetCandidate(ctx context.Context, scope models.Scope, id string) (*models.MatchCandidate, error) {
	return s.candidates.Get(ctx, scope, id, false)
}

func (s *Store) ListCandidates(ctx context.Context, scope models.Scope, filter store.CandidateFilter) ([]models.MatchCandidate, error) {
	status := models.CandidateStatusPending
	if filter.Status != nil {
		status = *filter.Status
	}
	return s.candidates.List(ctx, scope, status, filter.Tier)
}

func unavailable(states map[string]models.ItemState, ids []string) (missing, matched []string) {
	for _, id := range ids {
		state, ok := states[id]
		switch {
		case !ok:
			missing = append(missing, id)
		case state.IsMatched():
			matched = append(matched, id)
		}
	}
	return missing, matched
}

func (s *Store) Accept(ctx context.Context, scope models.Scope, candidateID string, actor *string) (*models.ReconciliationMatch, error) {
	ctx, span := tracing.StartSpan(ctx, "postgres.Store.Accept")
	defer span.End()

	var match *models.ReconciliationMatch
	err := s.inTx(ctx, func(ctx context.Context) error {
		seen, err := s.candidates.Get(ctx, scope, candidateID, false)
		if err != nil {
			return err
		}
		if err := store.CheckAcceptable(seen); err != nil {
			return err
		}

		ids := seen.ItemIDs()
		states, err := s.items.GetByIDs(ctx, scope, ids, true)
		if err != nil {
			return err
		}
		pending, err := s.candidates.LockPending(ctx, scope, []string{candidateID}, ids)
		if err != nil {
			return err
		}
		c, ok := pending[candidateID]
		if !ok {
			return s.changedCandidate(ctx, scope, candidateID, store.CheckAcceptable)
		}

		missing, matched := unavailable(states, ids)
		if len(matched) > 0 {
			return apperrors.NewConflictError("candidate items are already matched", matched...)
		}
		current := make([]models.Item, 0, len(states))
		for _, state := range states {
			current = append(current, state.Item)
		}
		if len(missing) > 0 || fingerprint.HasChanged(c.ItemsFingerprint, fingerprint.Items(current)) {
			return apperrors.NewConflictError("candidate is stale; rerun reconciliation", candidateID)
		}

		at := s.now()
		match = store.MatchFromCandidate(&c, uuid.New().String(), store.AcceptMethod(&c), actor, at)
		if err := s.createMatch(ctx, scope, match); err != nil {
			return err
		}
		if err := s.candidates.SetStatus(ctx, scope, candidateID, models.CandidateStatusAccepted); err != nil {
			return err
		}
		if err := s.candidates.InvalidateOverlappingPending(ctx, scope, ids, candidateID); err != nil {
			return err
		}
		return s.audit.Append(ctx, scope, models.AuditActionAccept, candidateID, actor, nil, at)
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return match, nil
}

// changedCandidate explains why a candidate that was pending a moment ago is no longer lockable
func (s *Store) changedCandidate(ctx context.Context, scope models.Scope, candidateID string, check func(*models.MatchCandidate) error) error {
	latest, err := s.candidates.Get(ctx, scope, candidateID, false)
	if err != nil {
		return err
	}
	if err := check(latest); err != nil {
		return err
	}
	return apperrors.NewConflictError("candidate changed concurrently; retry", candidateID)
}

func (s *Store) Reject(ctx context.Context, scope models.Scope, candidateID string, reason, actor *string) (*models.Rejection, error) {
	ctx, span := tracing.StartSpan(ctx, "postgres.Store.Reject")
	defer span.End()

	var rejection *models.Rejection
	err := s.inTx(ctx, func(ctx context.Context) error {
		c, err := s.candidates.Get(ctx, scope, candidateID, true)
		if err != nil {
			return err
		}
		if err := store.CheckRejectable(c); err != nil {
			return err
		}
		if c.Status == models.CandidateStatusRejected {
			existing, err := s.rejections.Get(ctx, scope, candidateID)
			if err != nil {
				return err
			}
			if existing != nil {
				rejection = existing
				return nil
			}
		}

		at := s.now()
		rej := store.NewRejection(c, reason, actor, at)
		if err := s.rejections.Upsert(ctx, scope, rej); err != nil {
			return err
		}
		if err := s.candidates.SetStatus(ctx, scope, candidateID, models.CandidateStatusRejected); err != nil {
			return err
		}
		if err := s.audit.Append(ctx, scope, models.AuditActionReject, candidateID, actor, reason, at); err != nil {
			return err
		}
		rejection = &rej
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rejection, nil
}

func (s *Store) CreateMatch(ctx context.Context, scope models.Scope, match *models.ReconciliationMatch) error {
	ctx, span := tracing.StartSpan(ctx, "postgres.Store.CreateMatch")
	defer span.End()

	if match.ID == "" {
		match.ID = uuid.New().String()
	}
	if match.CreatedAt.IsZero() {
		match.CreatedAt = s.now()
	}

	return s.inTx(ctx, func(ctx context.Context) error {
		ids := match.ItemIDs()
		states, err := s.items.GetByIDs(ctx, scope, ids, true)
		if err != nil {
			return err
		}
		missing, matched := unavailable(states, ids)
		if len(missing) > 0 {
			return apperrors.NewNotFoundError("item", missing[0])
		}
		if len(matched) > 0 {
			return apperrors.NewConflictError("items are already matched", matched...)
		}
		if _, err := s.candidates.LockPending(ctx, scope, nil, ids); err != nil {
			return err
		}

		if err := s.createMatch(ctx, scope, match); err != nil {
			return err
		}
		if err := s.candidates.InvalidateOverlappingPending(ctx, scope, ids, ""); err != nil {
			return err
		}
		return s.audit.Append(ctx, scope, models.AuditActionManualMatch, match.ID, match.CreatedBy, match.Notes, match.CreatedAt)
	})
}

func (s *Store) Unmatch(ctx context.Context, scope models.Scope, matchID string, reason, actor *string) (*models.ReconciliationMatch, error) {
	ctx, span := tracing.StartSpan(ctx, "postgres.Store.Unmatch")
	defer span.End()

	var removed *models.ReconciliationMatch
	err := s.inTx(ctx, func(ctx context.Context) error {
		match, err := s.matches.Get(ctx, scope, matchID, true)
		if err != nil {
			return err
		}
		if _, err := s.items.GetByIDs(ctx, scope, match.ItemIDs(), true); err != nil {
			return err
		}

		if err := s.items.Release(ctx, scope, matchID); err != nil {
			return err
		}
		if err := s.matches.Delete(ctx, scope, matchID); err != nil {
			return err
		}

		pairing := fingerprint.CandidateID(match.Items1, match.Items2)
		stale := []string{pairing}
		if match.CandidateID != nil && *match.CandidateID != pairing {
			stale = append(stale, *match.CandidateID)
		}
		if err := s.candidates.Delete(ctx, scope, stale...); err != nil {
			return err
		}
		if err := s.rejections.Delete(ctx, scope, pairing); err != nil {
			return err
		}
		if err := s.audit.Append(ctx, scope, models.AuditActionUnmatch, matchID, actor, reason, s.now()); err != nil {
			return err
		}
		removed = match
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *Store) GetMatch(ctx context.Context, scope models.Scope, id string) (*models.ReconciliationMatch, error) {
	return s.matches.Get(ctx, scope, id, false)
}

func (s *Store) ListMatches(ctx context.Context, scope models.Scope) ([]models.ReconciliationMatch, error) {
	return s.matches.List(ctx, scope)
}

func (s *Store) ListRejections(ctx context.Context, scope models.Scope) ([]models.Rejection, error) {
	return s.rejections.List(ctx, scope)
}

func (s *Store) ListAudit(ctx context.Context, scope models.Scope, limit int) ([]models.AuditEntry, error) {
	return s.audit.List(ctx, scope, limit)
}
