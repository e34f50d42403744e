package tierconfig

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hospital/outpatient/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Executor { return db.ExecutorFrom(ctx, r.pool) }

func (r *repoPG) Get(ctx context.Context, scope Scope, scopeID *int64, key string) (json.RawMessage, bool, error) {
	var val json.RawMessage
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT config_value FROM tier_config
		WHERE scope = $1 AND COALESCE(scope_id, 0) = COALESCE($2::bigint, 0) AND config_key = $3 AND is_active`,
		scope, scopeID, key).Scan(&val)
	if db.IsNoRows(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *repoPG) Put(ctx context.Context, e *Entry) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO tier_config (scope, scope_id, config_key, config_value, is_active, updated_by)
		VALUES ($1, $2, $3, $4, TRUE, $5)
		ON CONFLICT (scope, (COALESCE(scope_id, 0)), config_key)
		DO UPDATE SET config_value = EXCLUDED.config_value, is_active = TRUE,
			updated_by = EXCLUDED.updated_by, updated_at = NOW()
		RETURNING config_id, is_active, updated_at`,
		e.Scope, e.ScopeID, e.Key, e.Value, e.UpdatedBy).Scan(&e.ID, &e.IsActive, &e.UpdatedAt)
}

func (r *repoPG) Deactivate(ctx context.Context, scope Scope, scopeID *int64, key string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE tier_config SET is_active = FALSE, updated_at = NOW()
		WHERE scope = $1 AND COALESCE(scope_id, 0) = COALESCE($2::bigint, 0) AND config_key = $3 AND is_active`,
		scope, scopeID, key)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) List(ctx context.Context, key string) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT config_id, scope, scope_id, config_key, config_value, is_active, updated_by, updated_at
		FROM tier_config WHERE config_key = $1 AND is_active
		ORDER BY CASE scope WHEN 'DOCTOR' THEN 1 WHEN 'CLINIC' THEN 2 WHEN 'MINOR_DEPT' THEN 3 ELSE 4 END, scope_id`,
		key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Scope, &e.ScopeID, &e.Key, &e.Value, &e.IsActive, &e.UpdatedBy, &e.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, &e)
	}
	return items, rows.Err()
}

type directoryPG struct{ pool *pgxpool.Pool }

// NewDirectoryPG reads the clinic table owned by department management.
func NewDirectoryPG(pool *pgxpool.Pool) Directory { return &directoryPG{pool: pool} }

func (d *directoryPG) MinorDeptOfClinic(ctx context.Context, clinicID int64) (*int64, error) {
	var id *int64
	err := db.ExecutorFrom(ctx, d.pool).QueryRow(ctx,
		`SELECT minor_dept_id FROM clinic WHERE clinic_id = $1`, clinicID).Scan(&id)
	if db.IsNoRows(err) {
		return nil, nil
	}
	return id, err
}
