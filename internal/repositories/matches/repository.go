package matches

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
	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var columns = []string{"match_id", "items_1", "items_2", "cardinality", "confidence", "method", "candidate_id", "notes", "created_at", "created_by"}

type Row struct {
	MatchID     string          `db:"match_id"`
	Items1      pq.StringArray  `db:"items_1"`
	Items2      pq.StringArray  `db:"items_2"`
	Cardinality string          `db:"cardinality"`
	Confidence  sql.NullFloat64 `db:"confidence"`
	Method      string          `db:"method"`
	CandidateID sql.NullString  `db:"candidate_id"`
	Notes       sql.NullString  `db:"notes"`
	CreatedAt   time.Time       `db:"created_at"`
	CreatedBy   sql.NullString  `db:"created_by"`
}

func (row Row) ToModel() models.ReconciliationMatch {
	m := models.ReconciliationMatch{
		ID:          row.MatchID,
		Items1:      []string(row.Items1),
		Items2:      []string(row.Items2),
		Cardinality: models.Cardinality(row.Cardinality),
		Method:      models.MatchMethod(row.Method),
		CreatedAt:   row.CreatedAt.UTC(),
	}
	if row.Confidence.Valid {
		m.Confidence = &row.Confidence.Float64
	}
	if row.CandidateID.Valid {
		m.CandidateID = &row.CandidateID.String
	}
	if row.Notes.Valid {
		m.Notes = &row.Notes.String
	}
	if row.CreatedBy.Valid {
		m.CreatedBy = &row.CreatedBy.String
	}
	return m
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

func (r *Repository) Create(ctx context.Context, scope models.Scope, m *models.ReconciliationMatch) error {
	ctx, span := tracing.StartSpan(ctx, "matches.Repository.Create")
	defer span.End()

	confidence := sql.NullFloat64{}
	if m.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *m.Confidence, Valid: true}
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto("reconciliation_matches")
	ib.Cols(append([]string{"tenant_id", "dataset_id"}, columns...)...)
	ib.Values(scope.TenantID, scope.DatasetID, m.ID, pq.Array(m.Items1), pq.Array(m.Items2), string(m.Cardinality),
		confidence, string(m.Method), nullString(m.CandidateID), nullString(m.Notes), m.CreatedAt, nullString(m.CreatedBy))

	query, args := ib.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"match_id": m.ID}).Error("Failed to create match")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create match")
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, scope models.Scope, id string, forUpdate bool) (*models.ReconciliationMatch, error) {
	ctx, span := tracing.StartSpan(ctx, "matches.Repository.Get")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("reconciliation_matches")
	sb.Where(
		sb.Equal("tenant_id", scope.TenantID),
		sb.Equal("dataset_id", scope.DatasetID),
		sb.Equal("match_id", id),
	)
	if forUpdate {
		sb.ForUpdate()
	}

	query, args := sb.Build()
	var row Row
	if err := r.db.Executor(ctx).GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("match", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"match_id": id}).Error("Failed to get match")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get match")
	}
	m := row.ToModel()
	return &m, nil
}

func (r *Repository) List(ctx context.Context, scope models.Scope) ([]models.ReconciliationMatch, error) {
	ctx, span := tracing.StartSpan(ctx, "matches.Repository.List")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("reconciliation_matches")
	sb.Where(sb.Equal("tenant_id", scope.TenantID), sb.Equal("dataset_id", scope.DatasetID))
	sb.OrderBy("created_at ASC", "match_id ASC")

	query, args := sb.Build()
	var rows []Row
	if err := r.db.Executor(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"scope": scope.Key()}).Error("Failed to list matches")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list matches")
	}

	out := make([]models.ReconciliationMatch, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ToModel())
	}
	return out, nil
}

func (r *Repository) Delete(ctx context.Context, scope models.Scope, id string) error {
	ctx, span := tracing.StartSpan(ctx, "matches.Repository.Delete")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom("reconciliation_matches")
	db.Where(
		db.Equal("tenant_id", scope.TenantID),
		db.Equal("dataset_id", scope.DatasetID),
		db.Equal("match_id", id),
	)

	query, args := db.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"match_id": id}).Error("Failed to delete match")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete match")
	}
	return nil
}
