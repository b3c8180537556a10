// Package reconcile runs reconciliation passes and exposes the engine's operation set
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/fern/pkg/blocking"
	"github.com/Ramsey-B/fern/pkg/classifier"
	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/extractor"
	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/runlock"
	"github.com/Ramsey-B/fern/pkg/scoring"
	"github.com/Ramsey-B/fern/pkg/settings"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	defaultWorkers = 4
	defaultLockTTL = 30 * time.Second
)

var errLockLost = errors.New("run lock lost")

// Options tune the orchestrator
type Options struct {
	// Workers bounds the number of buckets scored concurrently
	Workers int
	// LockTTL is the run lock lifetime. The lock is extended while the run is alive.
	LockTTL time.Duration
	// BlockingWarnCeiling is the item count above which an unblocked run logs a size warning
	BlockingWarnCeiling int
	// DefaultConfig is used for datasets without a stored config. settings.Default() when nil.
	DefaultConfig *models.ReconciliationConfig
	// Now overrides the clock
	Now func() time.Time
}

// Orchestrator runs full reconciliation passes: block, score, classify, diff and commit
type Orchestrator struct {
	store     store.Store
	locker    runlock.Locker
	scorer    *scoring.Scorer
	extractor *extractor.Extractor
	logger    ectologger.Logger
	opts      Options
}

func NewOrchestrator(st store.Store, locker runlock.Locker, logger ectologger.Logger, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	if opts.DefaultConfig == nil {
		opts.DefaultConfig = settings.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if locker == nil {
		locker = runlock.NewMemoryLocker()
	}

	ext := extractor.New()
	return &Orchestrator{
		store:     st,
		locker:    locker,
		scorer:    scoring.NewScorer(ext),
		extractor: ext,
		logger:    logger,
		opts:      opts,
	}
}

// bucketResult is the scored output of one bucket
type bucketResult struct {
	candidates []models.MatchCandidate
	compared   int
	skipped    int
	warnings   []string
}

// Run executes one reconciliation pass for the scope. Only one run per scope may be active; a second caller
// gets a ConflictError. Nothing is committed when the run fails or is cancelled.
func (o *Orchestrator) Run(ctx context.Context, scope models.Scope, actor *string) (*models.RunResult, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Orchestrator.Run",
		attribute.String("tenant_id", scope.TenantID),
		attribute.String("dataset_id", scope.DatasetID))
	defer span.End()

	// Stored timestamps carry microsecond precision
	startedAt := o.opts.Now().UTC().Truncate(time.Microsecond)
	runID := uuid.New().String()
	logger := o.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":     runID,
		"tenant_id":  scope.TenantID,
		"dataset_id": scope.DatasetID,
	})

	result, err := o.run(ctx, scope, actor, runID, startedAt, logger)
	duration := o.opts.Now().UTC().Sub(startedAt)
	if err != nil {
		tracing.RecordError(span, err)
		status := "failed"
		switch {
		case apperrors.IsConflict(err):
			status = "conflict"
			metrics.RecordConflict("run")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			status = "cancelled"
		}
		metrics.RecordRun(scope.TenantID, status, duration.Seconds(), 0)
		logger.WithError(err).Warnf("Reconciliation run %s", status)
		return nil, err
	}

	result.Duration = duration
	metrics.RecordRun(scope.TenantID, "success", duration.Seconds(), result.Stats.SkippedPairs)
	metrics.RecordPending(scope.TenantID, scope.DatasetID, countByTier(result.Candidates), tierLabels())

	logger.WithFields(map[string]any{
		"pending":     len(result.Candidates),
		"added":       result.Stats.Added,
		"updated":     result.Stats.Updated,
		"unchanged":   result.Stats.Unchanged,
		"invalidated": len(result.InvalidatedCandidateIDs),
		"auto":        len(result.AutoMatched),
		"duration_ms": duration.Milliseconds(),
	}).Info("Reconciliation run completed")

	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, scope models.Scope, actor *string, runID string, startedAt time.Time, logger ectologger.Logger) (*models.RunResult, error) {
	lock, err := o.locker.Acquire(ctx, "run:"+scope.Key(), o.opts.LockTTL)
	if err != nil {
		if errors.Is(err, runlock.ErrLockNotAcquired) {
			return nil, apperrors.NewConflictErrorf("a reconciliation run is already in progress for dataset %s", scope.DatasetID)
		}
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			logger.WithError(err).Warn("Failed to release run lock")
		}
	}()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := runlock.KeepAlive(runCtx, lock, o.opts.LockTTL, func(err error) {
		logger.WithError(err).Error("Run lock lost, aborting run")
		cancel(errLockLost)
	})
	defer stop()

	result, err := o.compute(runCtx, scope, actor, runID, startedAt, logger)
	if err != nil && errors.Is(context.Cause(runCtx), errLockLost) {
		return nil, apperrors.NewConflictError("run lock lost; another run may have started")
	}
	return result, err
}

func (o *Orchestrator) compute(ctx context.Context, scope models.Scope, actor *string, runID string, startedAt time.Time, logger ectologger.Logger) (*models.RunResult, error) {
	snap, err := o.store.Snapshot(ctx, scope)
	if err != nil {
		return nil, err
	}

	cfg := snap.Config
	if cfg == nil {
		cfg = o.opts.DefaultConfig
	}
	if err := settings.Validate(cfg); err != nil {
		return nil, err
	}
	configFingerprint, err := fingerprint.Config(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint config: %w", err)
	}

	index := blocking.NewBuilder(cfg.Blocking, o.extractor, o.opts.BlockingWarnCeiling).Build(snap.Items)
	for _, warning := range index.Warnings {
		logger.Warn(warning)
	}

	buckets := index.Comparable()
	results, err := o.scoreBuckets(ctx, buckets, cfg, configFingerprint, startedAt, logger)
	if err != nil {
		return nil, err
	}

	res := &models.RunResult{
		RunID:     runID,
		StartedAt: startedAt,
		Warnings:  append([]string{}, index.Warnings...),
		Stats: models.RunStats{
			UnmatchedItems: len(snap.Items),
			Buckets:        index.Len(),
		},
	}

	merged := make(map[string]models.MatchCandidate)
	for _, br := range results {
		res.Stats.ComparedPairs += br.compared
		res.Stats.SkippedPairs += br.skipped
		res.Warnings = append(res.Warnings, br.warnings...)
		for _, c := range br.candidates {
			merged[c.ID] = c
		}
	}

	candidates := make([]models.MatchCandidate, 0, len(merged))
	for _, c := range merged {
		if rej, ok := snap.Rejections[c.ID]; ok && rej.Suppresses(&c) {
			res.Stats.Suppressed++
			continue
		}
		candidates = append(candidates, c)
	}
	store.SortByID(candidates)

	refs := make([]*models.MatchCandidate, len(candidates))
	for i := range candidates {
		refs[i] = &candidates[i]
	}
	resolution := classifier.ResolveAutoLinks(refs)
	res.Stats.Demoted = len(resolution.Demoted)

	o.diff(candidates, snap.Pending, configFingerprint, &res.Stats)

	var autoAccept []string
	if cfg.AutoCommit {
		autoAccept = resolution.Winners
	}

	// last point at which a cancelled run leaves no trace
	if err := ctx.Err(); err != nil {
		return nil, context.Cause(ctx)
	}

	commit, err := o.store.CommitRun(ctx, scope, store.RunCommit{
		RunID:         runID,
		BaseVersion:   snap.Version,
		ConfigVersion: snap.ConfigVersion,
		Candidates:    candidates,
		AutoAccept:    autoAccept,
		Actor:         actor,
		At:            startedAt,
	})
	if err != nil {
		return nil, err
	}

	res.Stats.Suppressed += len(commit.Suppressed)
	res.Candidates = commit.Pending
	if res.Candidates == nil {
		res.Candidates = []models.MatchCandidate{}
	}
	res.InvalidatedCandidateIDs = commit.Removed
	if res.InvalidatedCandidateIDs == nil {
		res.InvalidatedCandidateIDs = []string{}
	}
	res.AutoMatched = make([]string, 0, len(commit.AutoMatches))
	for _, m := range commit.AutoMatches {
		res.AutoMatched = append(res.AutoMatched, m.ID)
	}
	if len(commit.Purged) > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d candidates dropped because their items were matched during the run", len(commit.Purged)))
	}
	if len(commit.AutoMatches) > 0 {
		metrics.RecordMatchCreated(scope.TenantID, string(models.MatchMethodAuto), len(commit.AutoMatches))
	}

	return res, nil
}

// scoreBuckets fans the buckets out over the worker pool. Results keep bucket order.
func (o *Orchestrator) scoreBuckets(ctx context.Context, buckets []*blocking.Bucket, cfg *models.ReconciliationConfig, configFingerprint string, at time.Time, logger ectologger.Logger) ([]bucketResult, error) {
	results := make([]bucketResult, len(buckets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)

	for i, b := range buckets {
		if err := gctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			br, skippedErrs := o.scoreBucket(b, cfg, configFingerprint, at)
			for _, serr := range skippedErrs {
				logger.WithError(serr).WithFields(map[string]any{"bucket": b.Key}).Warn("Skipping pairing with scoring error")
			}
			results[i] = br
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, context.Cause(ctx)
	}
	return results, nil
}

func (o *Orchestrator) scoreBucket(b *blocking.Bucket, cfg *models.ReconciliationConfig, configFingerprint string, at time.Time) (bucketResult, []error) {
	pairings, warnings := bucketPairings(b, cfg)
	br := bucketResult{warnings: warnings}

	var skipped []error
	for _, p := range pairings {
		br.compared++
		scored, err := o.scorer.Score(p.group1, p.group2, cfg)
		if err != nil {
			br.skipped++
			skipped = append(skipped, err)
			continue
		}

		tier := classifier.Classify(scored.OverallScore, cfg.Thresholds)
		if tier == models.TierNoMatch {
			continue
		}

		g1, g2 := itemIDs(p.group1), itemIDs(p.group2)
		members := make([]models.Item, 0, len(p.group1)+len(p.group2))
		members = append(members, p.group1...)
		members = append(members, p.group2...)

		br.candidates = append(br.candidates, models.MatchCandidate{
			ID:                fingerprint.CandidateID(g1, g2),
			Group1:            g1,
			Group2:            g2,
			FeatureScores:     scored.FeatureScores,
			OverallScore:      scored.OverallScore,
			Tier:              tier,
			Status:            models.CandidateStatusPending,
			ItemsFingerprint:  fingerprint.Items(members),
			ConfigFingerprint: configFingerprint,
			ComputedAt:        at,
		})
	}
	return br, skipped
}

// diff carries unchanged candidates over from the previous pending set so their records, computed_at included,
// stay identical across runs. The config fingerprint is refreshed so rejections bind to the current config.
func (o *Orchestrator) diff(candidates []models.MatchCandidate, previous []models.MatchCandidate, configFingerprint string, stats *models.RunStats) {
	prev := make(map[string]models.MatchCandidate, len(previous))
	for _, c := range previous {
		prev[c.ID] = c
	}

	for i := range candidates {
		old, ok := prev[candidates[i].ID]
		switch {
		case !ok:
			stats.Added++
		case old.SameResult(&candidates[i]):
			kept := old.Clone()
			kept.ConfigFingerprint = configFingerprint
			kept.Status = models.CandidateStatusPending
			candidates[i] = kept
			stats.Unchanged++
		default:
			stats.Updated++
		}
	}
}

func countByTier(candidates []models.MatchCandidate) map[string]int {
	counts := make(map[string]int)
	for _, c := range candidates {
		counts[string(c.Tier)]++
	}
	return counts
}

func tierLabels() []string {
	labels := make([]string, len(models.Tiers))
	for i, t := range models.Tiers {
		labels[i] = string(t)
	}
	sort.Strings(labels)
	return labels
}
