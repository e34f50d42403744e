package booking

import (
	"context"
	"time"

	"github.com/hospital/outpatient/internal/domain/scheduling"
	"github.com/hospital/outpatient/internal/domain/tierconfig"
)

type Repository interface {
	// Create maps a second live order for the same patient and schedule to
	// apperr.DuplicateBooking.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id int64) (*Order, error)
	GetForUpdate(ctx context.Context, id int64) (*Order, error)
	Update(ctx context.Context, o *Order) error
	HasLive(ctx context.Context, patientID, scheduleID int64) (bool, error)
	// CountInPeriod counts the patient's non-cancelled orders with a slot
	// date in (from, to].
	CountInPeriod(ctx context.Context, patientID int64, from, to time.Time) (int, error)
	NextQueueNumber(ctx context.Context, scheduleID int64) (int, error)
	NextWaitlistPosition(ctx context.Context, scheduleID int64) (int, error)
	// WaitlistHead locks and returns the lowest-positioned waitlist order,
	// or nil when the waitlist is empty.
	WaitlistHead(ctx context.Context, scheduleID int64) (*Order, error)
	ListByPatient(ctx context.Context, patientID int64, status *Status, limit, offset int) ([]*Order, int, error)
	ListBySchedule(ctx context.Context, scheduleID int64) ([]*Order, error)
	// ListPendingUnpaid returns pending unpaid orders that have been waiting
	// for payment since before the given instant, oldest first.
	ListPendingUnpaid(ctx context.Context, before time.Time, limit int) ([]*Order, error)
}

// ScheduleStore is satisfied by *scheduling.Catalog.
type ScheduleStore interface {
	LockForUpdate(ctx context.Context, id int64) (*scheduling.Schedule, error)
	TakeSlot(ctx context.Context, s *scheduling.Schedule) error
	ReleaseSlot(ctx context.Context, s *scheduling.Schedule) (bool, error)
}

// PolicyResolver is satisfied by *tierconfig.Resolver.
type PolicyResolver interface {
	RegistrationPolicy(ctx context.Context, t tierconfig.Target) (tierconfig.RegistrationPolicy, error)
	SchedulePolicy(ctx context.Context, t tierconfig.Target) (tierconfig.SchedulePolicy, error)
}
