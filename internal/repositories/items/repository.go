package items

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const insertBatchSize = 500

var columns = []string{"tenant_id", "dataset_id", "item_id", "source", "amount", "currency", "item_date", "counterparty", "description", "extra", "match_id"}

type Row struct {
	TenantID     string                          `db:"tenant_id"`
	DatasetID    string                          `db:"dataset_id"`
	ItemID       string                          `db:"item_id"`
	Source       int                             `db:"source"`
	Amount       decimal.Decimal                 `db:"amount"`
	Currency     string                          `db:"currency"`
	ItemDate     sql.NullTime                    `db:"item_date"`
	Counterparty sql.NullString                  `db:"counterparty"`
	Description  sql.NullString                  `db:"description"`
	Extra        database.JSONB[map[string]any] `db:"extra"`
	MatchID      sql.NullString                  `db:"match_id"`
}

func (row Row) ToState() models.ItemState {
	state := models.ItemState{
		Item: models.Item{
			ID:       row.ItemID,
			Source:   models.Side(row.Source),
			Amount:   row.Amount,
			Currency: row.Currency,
			Extra:    row.Extra.Data,
		},
	}
	if row.ItemDate.Valid {
		state.Date = models.DateOnly(row.ItemDate.Time)
	}
	if row.Counterparty.Valid {
		state.Counterparty = &row.Counterparty.String
	}
	if row.Description.Valid {
		state.Description = &row.Description.String
	}
	if row.MatchID.Valid {
		state.MatchID = &row.MatchID.String
	}
	return state
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullDate(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: models.DateOnly(t), Valid: true}
}

type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Upsert writes item content. The match_id column is never touched by ingestion.
func (r *Repository) Upsert(ctx context.Context, scope models.Scope, items []models.Item) error {
	ctx, span := tracing.StartSpan(ctx, "items.Repository.Upsert")
	defer span.End()

	for start := 0; start < len(items); start += insertBatchSize {
		end := min(start+insertBatchSize, len(items))

		ib := database.NewInsertBuilder()
		ib.InsertInto("reconciliation_items")
		ib.Cols(columns[:len(columns)-1]...)
		for _, item := range items[start:end] {
			ib.Values(scope.TenantID, scope.DatasetID, item.ID, int(item.Source), item.Amount, item.Currency,
				nullDate(item.Date), nullString(item.Counterparty), nullString(item.Description), database.NewJSONB(item.Extra))
		}
		database.Upsert(ib, []string{"tenant_id", "dataset_id", "item_id"},
			"source", "amount", "currency", "item_date", "counterparty", "description", "extra")
		ib.SQL(", updated_at = now()")

		query, args := ib.Build()
		if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"scope": scope.Key(),
				"count": end - start,
			}).Error("Failed to upsert items")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert items")
		}
	}
	return nil
}

// GetByIDs returns the stored items keyed by id. Unknown ids are absent from the result.
func (r *Repository) GetByIDs(ctx context.Context, scope models.Scope, ids []string, forUpdate bool) (map[string]models.ItemState, error) {
	ctx, span := tracing.StartSpan(ctx, "items.Repository.GetByIDs")
	defer span.End()

	out := make(map[string]models.ItemState, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("reconciliation_items")
	sb.Where(
		sb.Equal("tenant_id", scope.TenantID),
		sb.Equal("dataset_id", scope.DatasetID),
		fmt.Sprintf("item_id = ANY(%s)", sb.Var(pq.Array(ids))),
	)
	sb.OrderBy("item_id")
	if forUpdate {
		sb.ForUpdate()
	}

	query, args := sb.Build()
	var rows []Row
	if err := r.db.Executor(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"scope": scope.Key()}).Error("Failed to get items")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get items")
	}
	for _, row := range rows {
		out[row.ItemID] = row.ToState()
	}
	return out, nil
}

// List returns items ordered by id
func (r *Repository) List(ctx context.Context, scope models.Scope, side *models.Side, unmatchedOnly bool) ([]models.ItemState, error) {
	ctx, span := tracing.StartSpan(ctx, "items.Repository.List")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("reconciliation_items")
	where := []string{sb.Equal("tenant_id", scope.TenantID), sb.Equal("dataset_id", scope.DatasetID)}
	if side != nil {
		where = append(where, sb.Equal("source", int(*side)))
	}
	if unmatchedOnly {
		where = append(where, sb.IsNull("match_id"))
	}
	sb.Where(where...)
	sb.OrderBy("item_id")

	query, args := sb.Build()
	var rows []Row
	if err := r.db.Executor(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"scope": scope.Key()}).Error("Failed to list items")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list items")
	}

	out := make([]models.ItemState, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ToState())
	}
	return out, nil
}

// Claim assigns the items to a match only where they are still unmatched and returns how many rows changed
func (r *Repository) Claim(ctx context.Context, scope models.Scope, matchID string, ids []string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "items.Repository.Claim")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update("reconciliation_items")
	ub.Set(ub.Assign("match_id", matchID), "updated_at = now()")
	ub.Where(
		ub.Equal("tenant_id", scope.TenantID),
		ub.Equal("dataset_id", scope.DatasetID),
		fmt.Sprintf("item_id = ANY(%s)", ub.Var(pq.Array(ids))),
		ub.IsNull("match_id"),
	)

	query, args := ub.Build()
	res, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"scope": scope.Key(), "match_id": matchID}).Error("Failed to claim items")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to claim items")
	}
	return res.RowsAffected()
}

// Release returns every item owned by the match to the unmatched pool
func (r *Repository) Release(ctx context.Context, scope models.Scope, matchID string) error {
	ctx, span := tracing.StartSpan(ctx, "items.Repository.Release")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update("reconciliation_items")
	ub.Set("match_id = NULL", "updated_at = now()")
	ub.Where(
		ub.Equal("tenant_id", scope.TenantID),
		ub.Equal("dataset_id", scope.DatasetID),
		ub.Equal("match_id", matchID),
	)

	query, args := ub.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"scope": scope.Key(), "match_id": matchID}).Error("Failed to release items")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to release items")
	}
	return nil
}
