package audit

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const defaultListLimit = 100

type Row struct {
	ID       string         `db:"id"`
	Action   string         `db:"action"`
	EntityID string         `db:"entity_id"`
	Actor    sql.NullString `db:"actor"`
	Reason   sql.NullString `db:"reason"`
	At       time.Time      `db:"at"`
}

func (row Row) ToModel() models.AuditEntry {
	entry := models.AuditEntry{
		ID:       row.ID,
		Action:   models.AuditAction(row.Action),
		EntityID: row.EntityID,
		At:       row.At.UTC(),
	}
	if row.Actor.Valid {
		entry.Actor = &row.Actor.String
	}
	if row.Reason.Valid {
		entry.Reason = &row.Reason.String
	}
	return entry
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

func (r *Repository) Append(ctx context.Context, scope models.Scope, action models.AuditAction, entityID string, actor, reason *string, at time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "audit.Repository.Append")
	defer span.End()

	ib := database.NewInsertBuilder()
	ib.InsertInto("reconciliation_audit")
	ib.Cols("id", "tenant_id", "dataset_id", "action", "entity_id", "actor", "reason", "at")
	ib.Values(uuid.New().String(), scope.TenantID, scope.DatasetID, string(action), entityID, nullString(actor), nullString(reason), at)

	query, args := ib.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"action":    action,
			"entity_id": entityID,
		}).Error("Failed to write audit entry")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to write audit entry")
	}
	return nil
}

// List returns the newest entries first
func (r *Repository) List(ctx context.Context, scope models.Scope, limit int) ([]models.AuditEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "audit.Repository.List")
	defer span.End()

	if limit < 1 || limit > 1000 {
		limit = defaultListLimit
	}

	sb := database.NewSelectBuilder()
	sb.Select("id", "action", "entity_id", "actor", "reason", "at")
	sb.From("reconciliation_audit")
	sb.Where(sb.Equal("tenant_id", scope.TenantID), sb.Equal("dataset_id", scope.DatasetID))
	sb.OrderBy("at DESC", "id DESC")
	sb.Limit(limit)

	query, args := sb.Build()
	var rows []Row
	if err := r.db.Executor(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"scope": scope.Key()}).Error("Failed to list audit entries")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list audit entries")
	}

	out := make([]models.AuditEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ToModel())
	}
	return out, nil
}
