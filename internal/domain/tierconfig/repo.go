package tierconfig

import (
	"context"
	"encoding/json"
)

type Repository interface {
	// Get returns the active value for (scope, scopeID, key); ok is false
	// when no active row exists.
	Get(ctx context.Context, scope Scope, scopeID *int64, key string) (value json.RawMessage, ok bool, err error)
	Put(ctx context.Context, e *Entry) error
	Deactivate(ctx context.Context, scope Scope, scopeID *int64, key string) (bool, error)
	List(ctx context.Context, key string) ([]*Entry, error)
}

// Directory answers organisational lookups owned by department management.
type Directory interface {
	MinorDeptOfClinic(ctx context.Context, clinicID int64) (*int64, error)
}
