package queue

import (
	"context"

	"github.com/hospital/outpatient/internal/domain/booking"
	"github.com/hospital/outpatient/internal/domain/scheduling"
	"github.com/hospital/outpatient/internal/domain/tierconfig"
)

// OrderStore is satisfied by booking.Repository.
type OrderStore interface {
	Get(ctx context.Context, id int64) (*booking.Order, error)
	GetForUpdate(ctx context.Context, id int64) (*booking.Order, error)
	Update(ctx context.Context, o *booking.Order) error
	ListBySchedule(ctx context.Context, scheduleID int64) ([]*booking.Order, error)
}

// ScheduleLocker is satisfied by *scheduling.Catalog.
type ScheduleLocker interface {
	Get(ctx context.Context, id int64) (*scheduling.Schedule, error)
	LockForUpdate(ctx context.Context, id int64) (*scheduling.Schedule, error)
}

// PolicyResolver is satisfied by *tierconfig.Resolver.
type PolicyResolver interface {
	RegistrationPolicy(ctx context.Context, t tierconfig.Target) (tierconfig.RegistrationPolicy, error)
}
