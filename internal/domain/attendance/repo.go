package attendance

import (
	"context"
	"time"

	"github.com/hospital/outpatient/internal/domain/scheduling"
)

type Repository interface {
	ActiveSchedulesOn(ctx context.Context, date time.Time) ([]ScheduleRef, error)
	// InsertAbsent writes an absent record unless the schedule already has
	// one; inserted reports which happened.
	InsertAbsent(ctx context.Context, ref ScheduleRef) (inserted bool, err error)
	// GetBySchedule returns nil when the schedule has no record yet.
	GetBySchedule(ctx context.Context, scheduleID int64) (*Record, error)
	Create(ctx context.Context, r *Record) error
	Update(ctx context.Context, r *Record) error
	ListAbsent(ctx context.Context, from, to time.Time, doctorID *int64) ([]*Record, error)
}

// ScheduleReader is satisfied by *scheduling.Catalog.
type ScheduleReader interface {
	Get(ctx context.Context, id int64) (*scheduling.Schedule, error)
}
