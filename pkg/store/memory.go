package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/models"
)

type scopeData struct {
	mu            sync.Mutex
	version       int64
	config        *models.ReconciliationConfig
	configVersion int64
	items         map[string]*models.ItemState
	candidates    map[string]*models.MatchCandidate
	matches       map[string]*models.ReconciliationMatch
	rejections    map[string]models.Rejection
	audit         []models.AuditEntry
}

func newScopeData() *scopeData {
	return &scopeData{
		items:      make(map[string]*models.ItemState),
		candidates: make(map[string]*models.MatchCandidate),
		matches:    make(map[string]*models.ReconciliationMatch),
		rejections: make(map[string]models.Rejection),
	}
}

// MemoryStore keeps all state in process. Each operation runs under its scope's mutex,
// which gives it the same all-or-nothing visibility as a serializable transaction.
type MemoryStore struct {
	mu     sync.Mutex
	scopes map[string]*scopeData
	now    func() time.Time
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source used for created_at and audit timestamps
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		scopes: make(map[string]*scopeData),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) scope(scope models.Scope) *scopeData {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.scopes[scope.Key()]
	if !ok {
		data = newScopeData()
		s.scopes[scope.Key()] = data
	}
	return data
}

func (d *scopeData) appendAudit(action models.AuditAction, entityID string, actor, reason *string, at time.Time) {
	d.audit = append(d.audit, models.AuditEntry{
		ID:       uuid.New().String(),
		Action:   action,
		EntityID: entityID,
		Actor:    actor,
		Reason:   reason,
		At:       at,
	})
}

func (d *scopeData) ItemMatched(id string) (bool, bool) {
	item, ok := d.items[id]
	if !ok {
		return false, false
	}
	return true, item.IsMatched()
}

func (d *scopeData) Rejection(candidateID string) (models.Rejection, bool) {
	rej, ok := d.rejections[candidateID]
	return rej, ok
}

// claim marks the items as owned by the match. Callers check availability first.
func (d *scopeData) claim(matchID string, itemIDs []string) {
	for _, id := range itemIDs {
		owner := matchID
		d.items[id].MatchID = &owner
	}
}

func (d *scopeData) unavailable(itemIDs []string) (missing, matched []string) {
	for _, id := range itemIDs {
		item, ok := d.items[id]
		switch {
		case !ok:
			missing = append(missing, id)
		case item.IsMatched():
			matched = append(matched, id)
		}
	}
	return missing, matched
}

// invalidateOverlapping marks pending candidates that reference any of the items as invalidated
func (d *scopeData) invalidateOverlapping(itemIDs []string, keep string) {
	for id, c := range d.candidates {
		if id == keep || c.Status != models.CandidateStatusPending {
			continue
		}
		for _, itemID := range itemIDs {
			if c.References(itemID) {
				c.Status = models.CandidateStatusInvalidated
				break
			}
		}
	}
}

func (d *scopeData) itemsOf(ids []string) []models.Item {
	items := make([]models.Item, 0, len(ids))
	for _, id := range ids {
		if state, ok := d.items[id]; ok {
			items = append(items, state.Item)
		}
	}
	return items
}

func (s *MemoryStore) UpsertItems(ctx context.Context, scope models.Scope, items []models.Item) error {
	d := s.scope(scope)
	d.mu.Lock()
	defer d.mu.Unlock()

	var locked []string
	for _, item := range items {
		existing, ok := d.items[item.ID]
		if ok && existing.IsMatched() && fingerprint.HasChanged(fingerprint.Items([]models.Item{existing.Item}), fingerprint.Items([]models.Item{item})) {
			locked = append(locked, item.ID)
		}
	}
	if len(locked) > 0 {
		return apperrors.NewConflictError("matched items cannot be modified; unmatch them first", locked...)
	}

	for _, item := range items {
		if existing, ok := d.items[item.ID]; ok {
			existing.Item = item
			continue
		}
		d.items[item.ID] = &models.ItemState{Item: item}
	}
	d.version++
	return nil
}

func (s *MemoryStore) GetItems(ctx context.Context, scope models.Scope, ids []string) (map[string]models.ItemState, error) {
	d := s.scope(scope)
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]models.ItemState, len(ids))
	for _, id := range ids {
		if item, ok := d.items[id]; ok {
			out[id] = *item
		}
	}
	return out, nil
}

func (s *MemoryStore) ListItems(ctx context.Context, scope models.Scope, filter ItemFilter) ([]models.ItemState, error) {
	d := s.scope(scope)
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]models.ItemState, 0, len(d.items))
	for _, item := range d.items {
		if filter.Matches(item) {
			out = append(out, *item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetConfig(ctx context.Context, scope models.Scope) (*models.ReconciliationConfig, error) {
	d := s.scope(scope)
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.config == nil {
		return nil, apperrors.NewNotFoundError("config", scope.Key())
	}
	cfg := *d.config
	return &cfg, nil
}

func (s *MemoryStore) SaveConfig(ctx context.Context, scope models.Scope, cfg *models.ReconciliationConfig, actor *string) error {
	d := s.scope(scope)
	d.mu.Lock()
	defer d.mu.Unlock()

	stored := *cfg
	d.config = &stored
	d.configVersion++
	d.version++
	d.appendAudit(models.AuditActionConfig, scope.Key(), actor, nil, s.now())
	return nil
}

func (s *MemoryStore) Snapshot(ctx context.Context, scope models.Scope) (*Snapshot, error) {
	d := s.scope(scope)
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := &Snapshot{
		Version:       d.version,
		ConfigVersion: d.configVersion,
		Items:         make([]models.Item, 0, len(d.items)),
		Rejections:    make(map[string]models.Rejection, len(d.rejections)),
	}
	if d.config != nil {
		cfg := *d.config
		snap.Config = &cfg
	}
	for _, item := range d.items {
		if !item.IsMatched() {
			snap.Items = append(snap.Items, item.Item)
		}
	}
	sort.Slice(snap.Items, func(i, j int) bool { return snap.Items[i].ID < snap.Items[j].ID })

	for _, c := range d.candidates {
		if c.Status == models.CandidateStatusPending {
			snap.Pending = append(snap.Pending, c.Clone())
		}
	}
	SortByID(snap.Pending)

	for id, rej := range d.rejections {
		snap.Rejections[id] = rej
	}
	return snap, nil
}

func (s *MemoryStore) CommitRun(ctx context.Context, scope models.Scope, commit RunCommit) (*CommitResult, error) {
	d := s.scope(scope)
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if commit.ConfigVersion != d.configVersion {
		return nil, apperrors.NewConflictError("config changed during run; rerun reconciliation")
	}

	previous := make([]string, 0)
	for id, c := range d.candidates {
		if c.Status == models.CandidateStatusPending {
			previous = append(previous, id)
		}
	}

	plan := PlanCommit(commit.Candidates, commit.AutoAccept, d)

	for _, id := range previous {
		delete(d.candidates, id)
	}

	at := commit.At
	if at.IsZero() {
		at = s.now()
	}

	result := &CommitResult{
		Purged:     plan.Purged,
		Suppressed: plan.Suppressed,
		Concurrent: commit.BaseVersion != d.version || len(plan.Purged) > 0 || len(plan.Suppressed) > 0,
	}

	for _, c := range plan.Auto {
		accepted := c.Clone()
		accepted.Status = models.CandidateStatusAccepted
		match := MatchFromCandidate(&accepted, uuid.New().String(), models.MatchMethodAuto, commit.Actor, at)
		d.matches[match.ID] = match
		d.claim(match.ID, match.ItemIDs())
		d.candidates[accepted.ID] = &accepted
		d.appendAudit(models.AuditActionAccept, accepted.ID, commit.Actor, nil, at)
		result.AutoMatches = append(result.AutoMatches, match.Clone())
	}

	for _, c := range plan.Displaced {
		invalidated := c.Clone()
		invalidated.Status = models.CandidateStatusInvalidated
		d.candidates[invalidated.ID] = &invalidated
	}

	for _, c := range plan.Pending {
		pending := c.Clone()
		pending.Status = models.CandidateStatusPending
		d.candidates[pending.ID] = &pending
	}

	d.version++
	d.appendAudit(models.AuditActionRun, commit.RunID, commit.Actor, nil, at)

	result.Version = d.version
	result.Pending = plan.Pending
	result.Removed = RemovedIDs(previous, plan.Pending)
	return result, nil
}

func (s *MemoryStore) GetCandidate(ctx context.Context, scope models.Scope, id string) (*models.MatchCandidate, error) {
	d := s.scope(scope)
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.candidates[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("candidate", id)
	}
	out := c.Clone()
	return &out, nil
}

func (s *MemoryStore) ListCandidates(ctx context.Context, scope models.Scope, filter CandidateFilter) ([]models.MatchCandidate, error) {
	d := s.scope(scope)
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]models.MatchCandidate, 0)
	for _, c := range d.candidates {
		if filter.Matches(c) {
			out = append(out, c.Clone())
		}
	}
	SortForReview(out)
	return out, nil
}

func (s *MemoryStore) Accept(ctx context.Context, scope models.Scope, candidateID string, actor *string) (*models.ReconciliationMatch, error) {
	d := s.scope(scope)
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.candidates[candidateID]
	if !ok {
		return nil, apperrors.NewNotFoundError("candidate", candidateID)
	}
	if err := CheckAcceptable(c); err != nil {
		return nil, err
	}

	ids := c.ItemIDs()
	missing, matched := d.unavailable(ids)
	if len(matched) > 0 {
		return nil, apperrors.NewConflictError("candidate items are already matched", matched...)
	}
	if len(missing) > 0 || fingerprint.HasChanged(c.ItemsFingerprint, fingerprint.Items(d.itemsOf(ids))) {
		return nil, apperrors.NewConflictError("candidate is stale; rerun reconciliation", candidateID)
	}

	at := s.now()
	match := MatchFromCandidate(c, uuid.New().String(), AcceptMethod(c), actor, at)
	d.matches[match.ID] = match
	d.claim(match.ID, ids)
	c.Status = models.CandidateStatusAccepted
	d.invalidateOverlapping(ids, candidateID)
	d.appendAudit(models.AuditActionAccept, candidateID, actor, nil, at)
	d.version++

	out := match.Clone()
	return &out, nil
}

func (s *MemoryStore) Reject(ctx context.Context, scope models.Scope, candidateID string, reason, actor *string) (*models.Rejection, error) {
	d := s.scope(scope)
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.candidates[candidateID]
	if !ok {
		return nil, apperrors.NewNotFoundError("candidate", candidateID)
	}
	if err := CheckRejectable(c); err != nil {
		return nil, err
	}
	if c.Status == models.CandidateStatusRejected {
		if rej, ok := d.rejections[candidateID]; ok {
			return &rej, nil
		}
	}

	at := s.now()
	rej := NewRejection(c, reason, actor, at)
	d.rejections[candidateID] = rej
	c.Status = models.CandidateStatusRejected
	d.appendAudit(models.AuditActionReject, candidateID, actor, reason, at)
	d.version++
	return &rej, nil
}

// NewRejection records the fingerprints of a candidate being rejected
func NewRejection(c *models.MatchCandidate, reason, actor *string, at time.Time) models.Rejection {
	return models.Rejection{
		CandidateID:       c.ID,
		Group1:            append([]string{}, c.Group1...),
		Group2:            append([]string{}, c.Group2...),
		ItemsFingerprint:  c.ItemsFingerprint,
		ConfigFingerprint: c.ConfigFingerprint,
		Reason:            reason,
		RejectedBy:        actor,
		RejectedAt:        at,
	}
}

func (s *MemoryStore) CreateMatch(ctx context.Context, scope models.Scope, match *models.ReconciliationMatch) error {
	d := s.scope(scope)
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := match.ItemIDs()
	missing, matched := d.unavailable(ids)
	if len(missing) > 0 {
		return apperrors.NewNotFoundError("item", missing[0])
	}
	if len(matched) > 0 {
		return apperrors.NewConflictError("items are already matched", matched...)
	}

	if match.ID == "" {
		match.ID = uuid.New().String()
	}
	if match.CreatedAt.IsZero() {
		match.CreatedAt = s.now()
	}

	stored := match.Clone()
	d.matches[stored.ID] = &stored
	d.claim(stored.ID, ids)
	d.invalidateOverlapping(ids, "")
	d.appendAudit(models.AuditActionManualMatch, stored.ID, stored.CreatedBy, stored.Notes, stored.CreatedAt)
	d.version++
	return nil
}

func (s *MemoryStore) Unmatch(ctx context.Context, scope models.Scope, matchID string, reason, actor *string) (*models.ReconciliationMatch, error) {
	d := s.scope(scope)
	d.mu.Lock()
	defer d.mu.Unlock()

	match, ok := d.matches[matchID]
	if !ok {
		return nil, apperrors.NewNotFoundError("match", matchID)
	}

	delete(d.matches, matchID)
	for _, id := range match.ItemIDs() {
		if item, ok := d.items[id]; ok && item.MatchID != nil && *item.MatchID == matchID {
			item.MatchID = nil
		}
	}

	pairing := fingerprint.CandidateID(match.Items1, match.Items2)
	delete(d.candidates, pairing)
	delete(d.rejections, pairing)
	if match.CandidateID != nil {
		delete(d.candidates, *match.CandidateID)
	}

	d.appendAudit(models.AuditActionUnmatch, matchID, actor, reason, s.now())
	d.version++

	out := match.Clone()
	return &out, nil
}

func (s *MemoryStore) GetMatch(ctx context.Context, scope models.Scope, id string) (*models.ReconciliationMatch, error) {
	d := s.scope(scope)
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.matches[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("match", id)
	}
	out := m.Clone()
	return &out, nil
}

func (s *MemoryStore) ListMatches(ctx context.Context, scope models.Scope) ([]models.ReconciliationMatch, error) {
	d := s.scope(scope)
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]models.ReconciliationMatch, 0, len(d.matches))
	for _, m := range d.matches {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) ListRejections(ctx context.Context, scope models.Scope) ([]models.Rejection, error) {
	d := s.scope(scope)
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]models.Rejection, 0, len(d.rejections))
	for _, rej := range d.rejections {
		out = append(out, rej)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CandidateID < out[j].CandidateID })
	return out, nil
}

func (s *MemoryStore) ListAudit(ctx context.Context, scope models.Scope, limit int) ([]models.AuditEntry, error) {
	d := s.scope(scope)
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]models.AuditEntry, 0, len(d.audit))
	for i := len(d.audit) - 1; i >= 0; i-- {
		out = append(out, d.audit[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
