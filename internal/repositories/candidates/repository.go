package candidates

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/pkg/database"
	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const insertBatchSize = 500

var columns = []string{"candidate_id", "group_1", "group_2", "feature_scores", "overall_score", "decision_tier", "status", "items_fingerprint", "config_fingerprint", "computed_at"}

type Row struct {
	CandidateID       string                              `db:"candidate_id"`
	Group1            pq.StringArray                      `db:"group_1"`
	Group2            pq.StringArray                      `db:"group_2"`
	FeatureScores     database.JSONB[map[string]float64] `db:"feature_scores"`
	OverallScore      float64                             `db:"overall_score"`
	DecisionTier      string                              `db:"decision_tier"`
	Status            string                              `db:"status"`
	ItemsFingerprint  string                              `db:"items_fingerprint"`
	ConfigFingerprint string                              `db:"config_fingerprint"`
	ComputedAt        time.Time                           `db:"computed_at"`
}

func (row Row) ToModel() models.MatchCandidate {
	return models.MatchCandidate{
		ID:                row.CandidateID,
		Group1:            []string(row.Group1),
		Group2:            []string(row.Group2),
		FeatureScores:     row.FeatureScores.Data,
		OverallScore:      row.OverallScore,
		Tier:              models.DecisionTier(row.DecisionTier),
		Status:            models.CandidateStatus(row.Status),
		ItemsFingerprint:  row.ItemsFingerprint,
		ConfigFingerprint: row.ConfigFingerprint,
		ComputedAt:        row.ComputedAt.UTC(),
	}
}

type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Upsert writes candidates with the given status, replacing any existing row for the same pairing
func (r *Repository) Upsert(ctx context.Context, scope models.Scope, candidates []models.MatchCandidate, status models.CandidateStatus) error {
	ctx, span := tracing.StartSpan(ctx, "candidates.Repository.Upsert")
	defer span.End()

	for start := 0; start < len(candidates); start += insertBatchSize {
		end := min(start+insertBatchSize, len(candidates))

		ib := database.NewInsertBuilder()
		ib.InsertInto("match_candidates")
		ib.Cols(append([]string{"tenant_id", "dataset_id"}, columns...)...)
		for _, c := range candidates[start:end] {
			ib.Values(scope.TenantID, scope.DatasetID, c.ID, pq.Array(c.Group1), pq.Array(c.Group2),
				database.NewJSONB(c.FeatureScores), c.OverallScore, string(c.Tier), string(status),
				c.ItemsFingerprint, c.ConfigFingerprint, c.ComputedAt.UTC().Truncate(time.Microsecond))
		}
		database.Upsert(ib, []string{"tenant_id", "dataset_id", "candidate_id"},
			"group_1", "group_2", "feature_scores", "overall_score", "decision_tier", "status",
			"items_fingerprint", "config_fingerprint", "computed_at")

		query, args := ib.Build()
		if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"scope": scope.Key(),
				"count": end - start,
			}).Error("Failed to upsert candidates")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert candidates")
		}
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, scope models.Scope, id string, forUpdate bool) (*models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "candidates.Repository.Get")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("match_candidates")
	sb.Where(
		sb.Equal("tenant_id", scope.TenantID),
		sb.Equal("dataset_id", scope.DatasetID),
		sb.Equal("candidate_id", id),
	)
	if forUpdate {
		sb.ForUpdate()
	}

	query, args := sb.Build()
	var row Row
	if err := r.db.Executor(ctx).GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("candidate", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"candidate_id": id}).Error("Failed to get candidate")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get candidate")
	}
	c := row.ToModel()
	return &c, nil
}

// List returns candidates by status (and optionally tier), highest score first
func (r *Repository) List(ctx context.Context, scope models.Scope, status models.CandidateStatus, tier *models.DecisionTier) ([]models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "candidates.Repository.List")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("match_candidates")
	where := []string{
		sb.Equal("tenant_id", scope.TenantID),
		sb.Equal("dataset_id", scope.DatasetID),
		sb.Equal("status", string(status)),
	}
	if tier != nil {
		where = append(where, sb.Equal("decision_tier", string(*tier)))
	}
	sb.Where(where...)
	sb.OrderBy("overall_score DESC", "candidate_id ASC")

	query, args := sb.Build()
	var rows []Row
	if err := r.db.Executor(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"scope": scope.Key()}).Error("Failed to list candidates")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list candidates")
	}

	out := make([]models.MatchCandidate, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ToModel())
	}
	return out, nil
}

// DeletePending removes the whole pending set and returns the removed ids.
// Rows are locked in candidate id order before they are deleted.
func (r *Repository) DeletePending(ctx context.Context, scope models.Scope) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "candidates.Repository.DeletePending")
	defer span.End()

	const query = `WITH locked AS (
			SELECT candidate_id FROM match_candidates
			WHERE tenant_id = $1 AND dataset_id = $2 AND status = $3
			ORDER BY candidate_id
			FOR UPDATE
		)
		DELETE FROM match_candidates m USING locked
		WHERE m.tenant_id = $1 AND m.dataset_id = $2 AND m.candidate_id = locked.candidate_id
		RETURNING m.candidate_id`

	var ids []string
	if err := r.db.Executor(ctx).SelectContext(ctx, &ids, query, scope.TenantID, scope.DatasetID, string(models.CandidateStatusPending)); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"scope": scope.Key()}).Error("Failed to delete pending candidates")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete pending candidates")
	}
	return ids, nil
}

// LockPending locks, in candidate id order, the pending candidates that are either named in ids or
// reference any of the items, and returns them keyed by id
func (r *Repository) LockPending(ctx context.Context, scope models.Scope, ids, itemIDs []string) (map[string]models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "candidates.Repository.LockPending")
	defer span.End()

	if ids == nil {
		ids = []string{}
	}

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("match_candidates")
	items := sb.Var(pq.Array(itemIDs))
	sb.Where(
		sb.Equal("tenant_id", scope.TenantID),
		sb.Equal("dataset_id", scope.DatasetID),
		sb.Equal("status", string(models.CandidateStatusPending)),
		fmt.Sprintf("(candidate_id = ANY(%s) OR group_1 && %s OR group_2 && %s)", sb.Var(pq.Array(ids)), items, items),
	)
	sb.OrderBy("candidate_id")
	sb.ForUpdate()

	query, args := sb.Build()
	var rows []Row
	if err := r.db.Executor(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"scope": scope.Key()}).Error("Failed to lock pending candidates")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to lock pending candidates")
	}

	out := make(map[string]models.MatchCandidate, len(rows))
	for _, row := range rows {
		out[row.CandidateID] = row.ToModel()
	}
	return out, nil
}

// InvalidateOverlappingPending marks pending candidates that reference any of the items as invalidated,
// except the given candidate. Callers lock the affected rows with LockPending first.
func (r *Repository) InvalidateOverlappingPending(ctx context.Context, scope models.Scope, itemIDs []string, except string) error {
	ctx, span := tracing.StartSpan(ctx, "candidates.Repository.InvalidateOverlappingPending")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update("match_candidates")
	ub.Set(ub.Assign("status", string(models.CandidateStatusInvalidated)))
	items := ub.Var(pq.Array(itemIDs))
	ub.Where(
		ub.Equal("tenant_id", scope.TenantID),
		ub.Equal("dataset_id", scope.DatasetID),
		ub.Equal("status", string(models.CandidateStatusPending)),
		ub.NotEqual("candidate_id", except),
		fmt.Sprintf("(group_1 && %s OR group_2 && %s)", items, items),
	)

	query, args := ub.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"scope": scope.Key()}).Error("Failed to invalidate overlapping candidates")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to invalidate overlapping candidates")
	}
	return nil
}

func (r *Repository) SetStatus(ctx context.Context, scope models.Scope, id string, status models.CandidateStatus) error {
	ctx, span := tracing.StartSpan(ctx, "candidates.Repository.SetStatus")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update("match_candidates")
	ub.Set(ub.Assign("status", string(status)))
	ub.Where(
		ub.Equal("tenant_id", scope.TenantID),
		ub.Equal("dataset_id", scope.DatasetID),
		ub.Equal("candidate_id", id),
	)

	query, args := ub.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"candidate_id": id}).Error("Failed to update candidate status")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update candidate status")
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, scope models.Scope, ids ...string) error {
	ctx, span := tracing.StartSpan(ctx, "candidates.Repository.Delete")
	defer span.End()

	if len(ids) == 0 {
		return nil
	}

	db := database.NewDeleteBuilder()
	db.DeleteFrom("match_candidates")
	db.Where(
		db.Equal("tenant_id", scope.TenantID),
		db.Equal("dataset_id", scope.DatasetID),
		fmt.Sprintf("candidate_id = ANY(%s)", db.Var(pq.Array(ids))),
	)

	query, args := db.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"scope": scope.Key()}).Error("Failed to delete candidates")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete candidates")
	}
	return nil
}
