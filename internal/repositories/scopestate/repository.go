package scopestate

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// State is the per-dataset version row. Every mutation of a dataset bumps Version;
// config updates also bump ConfigVersion.
type State struct {
	TenantID      string                                        `db:"tenant_id"`
	DatasetID     string                                        `db:"dataset_id"`
	Version       int64                                         `db:"version"`
	Config        database.JSONB[*models.ReconciliationConfig] `db:"config"`
	ConfigVersion int64                                         `db:"config_version"`
}

type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

func (r *Repository) ensure(ctx context.Context, scope models.Scope) error {
	ib := database.NewInsertBuilder()
	ib.InsertInto("reconciliation_scopes")
	ib.Cols("tenant_id", "dataset_id")
	ib.Values(scope.TenantID, scope.DatasetID)
	database.OnConflictDoNothing(ib)

	query, args := ib.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"scope": scope.Key()}).Error("Failed to create scope state")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create scope state")
	}
	return nil
}

// Get reads the scope state. forUpdate creates the row when missing and locks it until the
// surrounding transaction ends, which serializes writers of the same dataset.
func (r *Repository) Get(ctx context.Context, scope models.Scope, forUpdate bool) (*State, error) {
	ctx, span := tracing.StartSpan(ctx, "scopestate.Repository.Get")
	defer span.End()

	if forUpdate {
		if err := r.ensure(ctx, scope); err != nil {
			return nil, err
		}
	}

	sb := database.NewSelectBuilder()
	sb.Select("tenant_id", "dataset_id", "version", "config", "config_version")
	sb.From("reconciliation_scopes")
	sb.Where(sb.Equal("tenant_id", scope.TenantID), sb.Equal("dataset_id", scope.DatasetID))
	if forUpdate {
		sb.ForUpdate()
	}

	query, args := sb.Build()
	var state State
	if err := r.db.Executor(ctx).GetContext(ctx, &state, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &State{TenantID: scope.TenantID, DatasetID: scope.DatasetID}, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"scope": scope.Key()}).Error("Failed to get scope state")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get scope state")
	}
	return &state, nil
}

// Bump increments the dataset version and returns the new value
func (r *Repository) Bump(ctx context.Context, scope models.Scope) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "scopestate.Repository.Bump")
	defer span.End()

	const query = `UPDATE reconciliation_scopes SET version = version + 1, updated_at = now()
		WHERE tenant_id = $1 AND dataset_id = $2 RETURNING version`

	var version int64
	if err := r.db.Executor(ctx).GetContext(ctx, &version, query, scope.TenantID, scope.DatasetID); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"scope": scope.Key()}).Error("Failed to bump scope version")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to bump scope version")
	}
	return version, nil
}

// SaveConfig stores the dataset config and bumps both versions
func (r *Repository) SaveConfig(ctx context.Context, scope models.Scope, cfg *models.ReconciliationConfig) error {
	ctx, span := tracing.StartSpan(ctx, "scopestate.Repository.SaveConfig")
	defer span.End()

	if err := r.ensure(ctx, scope); err != nil {
		return err
	}

	const query = `UPDATE reconciliation_scopes
		SET config = $3, config_version = config_version + 1, version = version + 1, updated_at = now()
		WHERE tenant_id = $1 AND dataset_id = $2`

	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, scope.TenantID, scope.DatasetID, database.NewJSONB(cfg)); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"scope": scope.Key()}).Error("Failed to save config")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to save config")
	}
	return nil
}
