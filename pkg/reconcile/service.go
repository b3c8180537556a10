package reconcile

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/manualmatch"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/report"
	"github.com/Ramsey-B/fern/pkg/settings"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/utils"
)

// Service is the engine's external operation set. The actor of every mutation is taken from the request context.
type Service struct {
	store         store.Store
	orchestrator  *Orchestrator
	emitter       *events.Emitter
	reports       *report.Registry
	defaultConfig *models.ReconciliationConfig
	logger        ectologger.Logger
	now           func() time.Time
}

// ServiceOption configures optional collaborators
type ServiceOption func(*Service)

func WithEmitter(emitter *events.Emitter) ServiceOption {
	return func(s *Service) { s.emitter = emitter }
}

func WithReports(registry *report.Registry) ServiceOption {
	return func(s *Service) { s.reports = registry }
}

func WithDefaultConfig(cfg *models.ReconciliationConfig) ServiceOption {
	return func(s *Service) { s.defaultConfig = cfg }
}

func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(st store.Store, orchestrator *Orchestrator, logger ectologger.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:         st,
		orchestrator:  orchestrator,
		logger:        logger,
		defaultConfig: settings.Default(),
		reports:       report.NewRegistry(report.NewCSVReporter()),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.emitter == nil {
		s.emitter = events.NewEmitter(events.NoopPublisher{}, logger)
	}
	return s
}

func (s *Service) log(ctx context.Context) ectologger.Logger {
	return s.logger.WithContext(ctx).WithFields(fernctx.LogFields(ctx))
}

func conflict(operation string, err error) error {
	if apperrors.IsConflict(err) {
		metrics.RecordConflict(operation)
	}
	return err
}

// IngestItems validates and upserts items. Dates are truncated to calendar days and currencies upper-cased.
func (s *Service) IngestItems(ctx context.Context, scope models.Scope, items []models.Item) error {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Service.IngestItems")
	defer span.End()

	verr := apperrors.NewValidationErrors()
	if len(items) == 0 {
		verr.Add("items", "at least one item is required")
	}

	seen := make(map[string]int, len(items))
	normalized := make([]models.Item, 0, len(items))
	for i, item := range items {
		prefix := fmt.Sprintf("items[%d]", i)
		if _, err := utils.Validate(item); err != nil {
			if structErr, ok := apperrors.AsValidation(err); ok {
				for _, issue := range structErr.Issues {
					verr.Add(prefix+"."+issue.Field, issue.Message)
				}
			} else {
				return err
			}
		}
		if item.Date.IsZero() {
			verr.Add(prefix+".date", "is required")
		}
		if first, dup := seen[item.ID]; dup && item.ID != "" {
			verr.Addf(prefix+".item_id", "duplicates items[%d]", first)
		}
		seen[item.ID] = i

		item.Currency = normalizers.Currency(item.Currency)
		item.Date = models.DateOnly(item.Date)
		normalized = append(normalized, item)
	}
	if err := verr.OrNil(); err != nil {
		return err
	}

	if err := s.store.UpsertItems(ctx, scope, normalized); err != nil {
		return conflict("ingest", err)
	}

	s.log(ctx).WithFields(map[string]any{"dataset_id": scope.DatasetID, "count": len(normalized)}).Info("Ingested items")
	return nil
}

// GetUnmatchedItems lists unmatched items, optionally for one side
func (s *Service) GetUnmatchedItems(ctx context.Context, scope models.Scope, side *models.Side) ([]models.Item, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Service.GetUnmatchedItems")
	defer span.End()

	if side != nil && !side.Valid() {
		return nil, apperrors.NewValidationErrors().Addf("side", "must be 1 or 2, got %d", *side)
	}

	states, err := s.store.ListItems(ctx, scope, store.ItemFilter{Side: side, UnmatchedOnly: true})
	if err != nil {
		return nil, err
	}
	return ectolinq.Map(states, func(st models.ItemState) models.Item { return st.Item }), nil
}

// GetCandidates lists pending candidates, highest score first
func (s *Service) GetCandidates(ctx context.Context, scope models.Scope, tier *models.DecisionTier) ([]models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Service.GetCandidates")
	defer span.End()

	if tier != nil && (!tier.Valid() || *tier == models.TierNoMatch) {
		return nil, apperrors.NewValidationErrors().Addf("tier", "must be one of auto_link, suggest, manual, got '%s'", *tier)
	}

	candidates, err := s.store.ListCandidates(ctx, scope, store.CandidateFilter{Tier: tier})
	if err != nil {
		return nil, err
	}
	store.SortForReview(candidates)
	return candidates, nil
}

func (s *Service) GetCandidate(ctx context.Context, scope models.Scope, candidateID string) (*models.MatchCandidate, error) {
	return s.store.GetCandidate(ctx, scope, candidateID)
}

// AcceptMatch confirms a pending candidate as a match
func (s *Service) AcceptMatch(ctx context.Context, scope models.Scope, candidateID string) (*models.ReconciliationMatch, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Service.AcceptMatch")
	defer span.End()

	match, err := s.store.Accept(ctx, scope, candidateID, fernctx.GetActor(ctx))
	if err != nil {
		tracing.RecordError(span, err)
		return nil, conflict("accept", err)
	}

	metrics.RecordMatchCreated(scope.TenantID, string(match.Method), 1)
	_ = s.emitter.EmitMatchCreated(ctx, scope, match)

	s.log(ctx).WithFields(map[string]any{
		"dataset_id":   scope.DatasetID,
		"candidate_id": candidateID,
		"match_id":     match.ID,
	}).Info("Accepted candidate")
	return match, nil
}

// RejectMatch rejects a candidate and records its fingerprint so later runs suppress it
func (s *Service) RejectMatch(ctx context.Context, scope models.Scope, candidateID string, reason *string) error {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Service.RejectMatch")
	defer span.End()

	rejection, err := s.store.Reject(ctx, scope, candidateID, reason, fernctx.GetActor(ctx))
	if err != nil {
		tracing.RecordError(span, err)
		return conflict("reject", err)
	}

	metrics.RecordRejection(scope.TenantID)
	_ = s.emitter.EmitCandidateRejected(ctx, scope, rejection)

	s.log(ctx).WithFields(map[string]any{"dataset_id": scope.DatasetID, "candidate_id": candidateID}).Info("Rejected candidate")
	return nil
}

// CreateManualMatch validates and creates a match that bypasses scoring. Amount and currency mismatches are
// returned as warnings and do not block the match.
func (s *Service) CreateManualMatch(ctx context.Context, scope models.Scope, req models.ManualMatchRequest) (*models.ManualMatchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Service.CreateManualMatch")
	defer span.End()

	ids := make([]string, 0, len(req.Items1)+len(req.Items2))
	ids = append(ids, req.Items1...)
	ids = append(ids, req.Items2...)

	states, err := s.store.GetItems(ctx, scope, ids)
	if err != nil {
		return nil, err
	}
	cfg, err := s.effectiveConfig(ctx, scope)
	if err != nil {
		return nil, err
	}

	rpt := manualmatch.Validate(req.Items1, req.Items2, states, cfg.Tolerances)
	if len(rpt.Errors) > 0 {
		return nil, apperrors.NewValidationErrors(rpt.Errors...)
	}
	if len(rpt.Unknown) > 0 {
		return nil, apperrors.NewNotFoundError("item", strings.Join(rpt.Unknown, ", "))
	}
	if len(rpt.Matched) > 0 {
		return nil, conflict("manual_match", apperrors.NewConflictError("items already belong to a match", rpt.Matched...))
	}

	match := &models.ReconciliationMatch{
		ID:          uuid.New().String(),
		Items1:      append([]string{}, req.Items1...),
		Items2:      append([]string{}, req.Items2...),
		Cardinality: rpt.Cardinality,
		Method:      models.MatchMethodManual,
		Notes:       req.Notes,
		CreatedAt:   s.now().UTC(),
		CreatedBy:   fernctx.GetActor(ctx),
	}
	if err := s.store.CreateMatch(ctx, scope, match); err != nil {
		tracing.RecordError(span, err)
		return nil, conflict("manual_match", err)
	}

	metrics.RecordMatchCreated(scope.TenantID, string(models.MatchMethodManual), 1)
	_ = s.emitter.EmitMatchCreated(ctx, scope, match)

	warnings := rpt.Warnings
	if warnings == nil {
		warnings = []models.ValidationIssue{}
	}

	s.log(ctx).WithFields(map[string]any{
		"dataset_id": scope.DatasetID,
		"match_id":   match.ID,
		"warnings":   len(warnings),
	}).Info("Created manual match")
	return &models.ManualMatchResult{Match: match, Warnings: warnings}, nil
}

// Unmatch removes a match and returns its items to the unmatched pool
func (s *Service) Unmatch(ctx context.Context, scope models.Scope, matchID string, reason *string) error {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Service.Unmatch")
	defer span.End()

	match, err := s.store.Unmatch(ctx, scope, matchID, reason, fernctx.GetActor(ctx))
	if err != nil {
		tracing.RecordError(span, err)
		return conflict("unmatch", err)
	}

	metrics.RecordMatchRemoved(scope.TenantID)
	_ = s.emitter.EmitMatchRemoved(ctx, scope, match, reason)

	s.log(ctx).WithFields(map[string]any{"dataset_id": scope.DatasetID, "match_id": matchID}).Info("Removed match")
	return nil
}

func (s *Service) GetMatches(ctx context.Context, scope models.Scope) ([]models.ReconciliationMatch, error) {
	return s.store.ListMatches(ctx, scope)
}

func (s *Service) GetMatch(ctx context.Context, scope models.Scope, matchID string) (*models.ReconciliationMatch, error) {
	return s.store.GetMatch(ctx, scope, matchID)
}

// GetConfig returns the stored config of a dataset. NotFoundError when none was stored.
func (s *Service) GetConfig(ctx context.Context, scope models.Scope) (*models.ReconciliationConfig, error) {
	return s.store.GetConfig(ctx, scope)
}

func (s *Service) effectiveConfig(ctx context.Context, scope models.Scope) (*models.ReconciliationConfig, error) {
	cfg, err := s.store.GetConfig(ctx, scope)
	if apperrors.IsNotFound(err) {
		return s.defaultConfig, nil
	}
	return cfg, err
}

// UpdateConfig defaults, validates and stores a dataset config. An invalid config is rejected as a whole.
func (s *Service) UpdateConfig(ctx context.Context, scope models.Scope, cfg *models.ReconciliationConfig) error {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Service.UpdateConfig")
	defer span.End()

	if cfg == nil {
		return apperrors.NewValidationErrors().Add("", "config is required")
	}
	settings.ApplyDefaults(cfg)
	if err := settings.Validate(cfg); err != nil {
		return err
	}

	if err := s.store.SaveConfig(ctx, scope, cfg, fernctx.GetActor(ctx)); err != nil {
		return err
	}

	s.log(ctx).WithFields(map[string]any{"dataset_id": scope.DatasetID}).Info("Updated reconciliation config")
	return nil
}

// RerunReconciliation runs a full pass for the dataset
func (s *Service) RerunReconciliation(ctx context.Context, scope models.Scope) (*models.RunResult, error) {
	result, err := s.orchestrator.Run(ctx, scope, fernctx.GetActor(ctx))
	if err != nil {
		return nil, err
	}

	for _, id := range result.AutoMatched {
		match, err := s.store.GetMatch(ctx, scope, id)
		if err != nil {
			s.log(ctx).WithError(err).Warnf("Failed to load auto match %s for event", id)
			continue
		}
		_ = s.emitter.EmitMatchCreated(ctx, scope, match)
	}
	_ = s.emitter.EmitRunCompleted(ctx, scope, result)

	return result, nil
}

// GetSummary projects the dataset's progress from the current store state
func (s *Service) GetSummary(ctx context.Context, scope models.Scope) (*models.Summary, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Service.GetSummary")
	defer span.End()

	items, err := s.store.ListItems(ctx, scope, store.ItemFilter{})
	if err != nil {
		return nil, err
	}
	candidates, err := s.store.ListCandidates(ctx, scope, store.CandidateFilter{})
	if err != nil {
		return nil, err
	}
	matches, err := s.store.ListMatches(ctx, scope)
	if err != nil {
		return nil, err
	}

	summary := &models.Summary{
		Scope:             scope,
		TotalItems:        map[models.Side]int{models.SideOne: 0, models.SideTwo: 0},
		MatchedItems:      map[models.Side]int{models.SideOne: 0, models.SideTwo: 0},
		UnmatchedItems:    map[models.Side]int{models.SideOne: 0, models.SideTwo: 0},
		CandidatesByTier:  make(map[models.DecisionTier]int),
		MatchesByMethod:   make(map[models.MatchMethod]int),
		PendingCandidates: len(candidates),
	}
	for _, tier := range models.Tiers {
		summary.CandidatesByTier[tier] = 0
	}

	matched := 0
	for _, item := range items {
		summary.TotalItems[item.Source]++
		if item.IsMatched() {
			summary.MatchedItems[item.Source]++
			matched++
		} else {
			summary.UnmatchedItems[item.Source]++
		}
	}
	for _, c := range candidates {
		summary.CandidatesByTier[c.Tier]++
	}
	for _, m := range matches {
		summary.MatchesByMethod[m.Method]++
	}
	if len(items) > 0 {
		summary.ProgressPercent = float64(matched) * 100 / float64(len(items))
	}
	return summary, nil
}

// ListAudit returns the newest audit entries first
func (s *Service) ListAudit(ctx context.Context, scope models.Scope, limit int) ([]models.AuditEntry, error) {
	return s.store.ListAudit(ctx, scope, limit)
}

// ExportReport renders the dataset state in the requested format and returns the document and its content type
func (s *Service) ExportReport(ctx context.Context, scope models.Scope, format string) ([]byte, string, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Service.ExportReport")
	defer span.End()

	if format == "" {
		format = "csv"
	}
	reporter, err := s.reports.Get(format)
	if err != nil {
		return nil, "", apperrors.NewValidationErrors().Add("format", err.Error())
	}

	matches, err := s.store.ListMatches(ctx, scope)
	if err != nil {
		return nil, "", err
	}
	candidates, err := s.GetCandidates(ctx, scope, nil)
	if err != nil {
		return nil, "", err
	}
	unmatched, err := s.GetUnmatchedItems(ctx, scope, nil)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	if err := reporter.Render(&buf, &report.Data{
		Scope:       scope,
		GeneratedAt: s.now().UTC(),
		Matches:     matches,
		Candidates:  candidates,
		Unmatched:   unmatched,
	}); err != nil {
		return nil, "", fmt.Errorf("failed to render %s report: %w", format, err)
	}
	return buf.Bytes(), reporter.ContentType(), nil
}
