package scheduling

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hospital/outpatient/internal/domain/tierconfig"
)

type Repository interface {
	Create(ctx context.Context, s *Schedule) error
	// Get returns apperr.NotFound when the schedule does not exist.
	Get(ctx context.Context, id int64) (*Schedule, error)
	// GetForUpdate is Get holding the row lock until the transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*Schedule, error)
	Update(ctx context.Context, s *Schedule) error
	Delete(ctx context.Context, id int64) (bool, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Schedule, int, error)
	// ActiveExists reports an active schedule for the slot other than excludeID.
	ActiveExists(ctx context.Context, doctorID int64, date time.Time, section Section, excludeID int64) (bool, error)
	// AdjustRemaining moves remaining_slots by delta only when the result
	// stays within [0, total_slots]; ok is false otherwise.
	AdjustRemaining(ctx context.Context, id int64, delta int) (ok bool, err error)
	Grow(ctx context.Context, id int64, n int) error
	SuspendOverlapping(ctx context.Context, doctorID int64, from, to time.Time, sections []Section) (int, error)
}

// PriceResolver is satisfied by *tierconfig.Resolver.
type PriceResolver interface {
	ResolvePrice(ctx context.Context, t tierconfig.Target, slotType SlotType, explicit decimal.Decimal) (decimal.Decimal, error)
}
