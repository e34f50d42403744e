package audit

import (
	"context"
	"time"

	"github.com/hospital/outpatient/internal/domain/booking"
	"github.com/hospital/outpatient/internal/domain/scheduling"
	"github.com/hospital/outpatient/internal/domain/tierconfig"
)

type Repository interface {
	CreateSchedule(ctx context.Context, a *ScheduleAudit) error
	GetSchedule(ctx context.Context, id int64) (*ScheduleAudit, error)
	GetScheduleForUpdate(ctx context.Context, id int64) (*ScheduleAudit, error)
	// DecideSchedule stores status, decision fields and cell errors.
	DecideSchedule(ctx context.Context, a *ScheduleAudit) error
	ListSchedule(ctx context.Context, f Filter, limit, offset int) ([]*ScheduleAudit, int, error)

	CreateLeave(ctx context.Context, a *LeaveAudit) error
	GetLeave(ctx context.Context, id int64) (*LeaveAudit, error)
	GetLeaveForUpdate(ctx context.Context, id int64) (*LeaveAudit, error)
	DecideLeave(ctx context.Context, a *LeaveAudit) error
	ListLeave(ctx context.Context, f Filter, limit, offset int) ([]*LeaveAudit, int, error)

	CreateAddSlot(ctx context.Context, a *AddSlotAudit) error
	GetAddSlot(ctx context.Context, id int64) (*AddSlotAudit, error)
	GetAddSlotForUpdate(ctx context.Context, id int64) (*AddSlotAudit, error)
	DecideAddSlot(ctx context.Context, a *AddSlotAudit) error
	ListAddSlot(ctx context.Context, f Filter, limit, offset int) ([]*AddSlotAudit, int, error)
}

// Catalog is satisfied by *scheduling.Catalog.
type Catalog interface {
	Create(ctx context.Context, req scheduling.CreateRequest) (*scheduling.Schedule, error)
	Get(ctx context.Context, id int64) (*scheduling.Schedule, error)
	LockForUpdate(ctx context.Context, id int64) (*scheduling.Schedule, error)
	Grow(ctx context.Context, s *scheduling.Schedule, n int) error
	SuspendOverlapping(ctx context.Context, doctorID int64, from, to time.Time, sections []scheduling.Section) (int, error)
}

// Ledger is satisfied by *booking.Ledger.
type Ledger interface {
	AllocateExtra(ctx context.Context, s *scheduling.Schedule, patientID int64,
		slotType tierconfig.SlotType, applicant int64) (*booking.Order, error)
}

// PolicyResolver is satisfied by *tierconfig.Resolver.
type PolicyResolver interface {
	SchedulePolicy(ctx context.Context, t tierconfig.Target) (tierconfig.SchedulePolicy, error)
}
