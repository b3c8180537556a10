package rejections

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var columns = []string{"candidate_id", "group_1", "group_2", "items_fingerprint", "config_fingerprint", "reason", "rejected_by", "rejected_at"}

type Row struct {
	CandidateID       string         `db:"candidate_id"`
	Group1            pq.StringArray `db:"group_1"`
	Group2            pq.StringArray `db:"group_2"`
	ItemsFingerprint  string         `db:"items_fingerprint"`
	ConfigFingerprint string         `db:"config_fingerprint"`
	Reason            sql.NullString `db:"reason"`
	RejectedBy        sql.NullString `db:"rejected_by"`
	RejectedAt        time.Time      `db:"rejected_at"`
}

func (row Row) ToModel() models.Rejection {
	rej := models.Rejection{
		CandidateID:       row.CandidateID,
		Group1:            []string(row.Group1),
		Group2:            []string(row.Group2),
		ItemsFingerprint:  row.ItemsFingerprint,
		ConfigFingerprint: row.ConfigFingerprint,
		RejectedAt:        row.RejectedAt.UTC(),
	}
	if row.Reason.Valid {
		rej.Reason = &row.Reason.String
	}
	if row.RejectedBy.Valid {
		rej.RejectedBy = &row.RejectedBy.String
	}
	return rej
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Upsert records a rejection, replacing an older fingerprint for the same pairing
func (r *Repository) Upsert(ctx context.Context, scope models.Scope, rej models.Rejection) error {
	ctx, span := tracing.StartSpan(ctx, "rejections.Repository.Upsert")
	defer span.End()

	ib := database.NewInsertBuilder()
	ib.InsertInto("candidate_rejections")
	ib.Cols(append([]string{"tenant_id", "dataset_id"}, columns...)...)
	ib.Values(scope.TenantID, scope.DatasetID, rej.CandidateID, pq.Array(rej.Group1), pq.Array(rej.Group2),
		rej.ItemsFingerprint, rej.ConfigFingerprint, nullString(rej.Reason), nullString(rej.RejectedBy), rej.RejectedAt)
	database.Upsert(ib, []string{"tenant_id", "dataset_id", "candidate_id"},
		"items_fingerprint", "config_fingerprint", "reason", "rejected_by", "rejected_at")

	query, args := ib.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"candidate_id": rej.CandidateID}).Error("Failed to record rejection")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to record rejection")
	}
	return nil
}

// Get returns the rejection for a pairing, or nil when none exists
func (r *Repository) Get(ctx context.Context, scope models.Scope, candidateID string) (*models.Rejection, error) {
	ctx, span := tracing.StartSpan(ctx, "rejections.Repository.Get")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("candidate_rejections")
	sb.Where(
		sb.Equal("tenant_id", scope.TenantID),
		sb.Equal("dataset_id", scope.DatasetID),
		sb.Equal("candidate_id", candidateID),
	)

	query, args := sb.Build()
	var row Row
	if err := r.db.Executor(ctx).GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"candidate_id": candidateID}).Error("Failed to get rejection")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get rejection")
	}
	rej := row.ToModel()
	return &rej, nil
}

func (r *Repository) List(ctx context.Context, scope models.Scope) ([]models.Rejection, error) {
	ctx, span := tracing.StartSpan(ctx, "rejections.Repository.List")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("candidate_rejections")
	sb.Where(sb.Equal("tenant_id", scope.TenantID), sb.Equal("dataset_id", scope.DatasetID))
	sb.OrderBy("candidate_id")

	query, args := sb.Build()
	var rows []Row
	if err := r.db.Executor(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"scope": scope.Key()}).Error("Failed to list rejections")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list rejections")
	}

	out := make([]models.Rejection, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ToModel())
	}
	return out, nil
}

func (r *Repository) Delete(ctx context.Context, scope models.Scope, candidateID string) error {
	ctx, span := tracing.StartSpan(ctx, "rejections.Repository.Delete")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom("candidate_rejections")
	db.Where(
		db.Equal("tenant_id", scope.TenantID),
		db.Equal("dataset_id", scope.DatasetID),
		db.Equal("candidate_id", candidateID),
	)

	query, args := db.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"candidate_id": candidateID}).Error("Failed to delete rejection")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete rejection")
	}
	return nil
}
