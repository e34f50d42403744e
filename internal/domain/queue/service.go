package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hospital/outpatient/internal/domain/booking"
	"github.com/hospital/outpatient/internal/domain/scheduling"
	"github.com/hospital/outpatient/internal/platform/apperr"
	"github.com/hospital/outpatient/internal/platform/db"
	"github.com/hospital/outpatient/internal/platform/telemetry"
)

// Service drives the consultation queue of a schedule. Every move runs in one
// transaction holding the schedule row lock, so at most one order per
// schedule is current.
type Service struct {
	orders    OrderStore
	schedules ScheduleLocker
	policies  PolicyResolver
	tx        db.Transactor
	now       func() time.Time
	logger    zerolog.Logger
}

func NewService(orders OrderStore, schedules ScheduleLocker, policies PolicyResolver, tx db.Transactor,
	logger zerolog.Logger) *Service {
	return &Service{orders: orders, schedules: schedules, policies: policies, tx: tx, now: time.Now, logger: logger}
}

// SetClock overrides time.Now, for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) Snapshot(ctx context.Context, scheduleID int64) (*Snapshot, error) {
	if _, err := s.schedules.Get(ctx, scheduleID); err != nil {
		return nil, err
	}
	orders, err := s.orders.ListBySchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	return buildSnapshot(scheduleID, orders), nil
}

// CallNext makes the best waiting candidate current. The previous current
// order, if any, loses the flag in the same transaction. Returns nil when no
// candidate is waiting.
func (s *Service) CallNext(ctx context.Context, scheduleID int64) (next *booking.Order, err error) {
	ctx, span := telemetry.Start(ctx, "queue", "CallNext", attribute.Int64("schedule_id", scheduleID))
	defer func() { telemetry.End(span, err) }()

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		next = nil
		if _, err := s.schedules.LockForUpdate(ctx, scheduleID); err != nil {
			return err
		}
		orders, err := s.orders.ListBySchedule(ctx, scheduleID)
		if err != nil {
			return err
		}
		snap := buildSnapshot(scheduleID, orders)
		if snap.Next == nil {
			return nil
		}
		if snap.Current != nil {
			snap.Current.IsCall = false
			if err := s.orders.Update(ctx, snap.Current); err != nil {
				return err
			}
		}
		now := s.now()
		next = snap.Next
		next.IsCall = true
		next.CallTime = &now
		return s.orders.Update(ctx, next)
	})
	if err != nil {
		return nil, err
	}
	if next != nil {
		s.logger.Debug().Int64("schedule_id", scheduleID).Int64("order_id", next.ID).Msg("patient called")
	}
	return next, nil
}

// lockCurrent locks the order's schedule and then the order, and checks that
// it is the current patient.
func (s *Service) lockCurrent(ctx context.Context, orderID int64) (*booking.Order, *scheduling.Schedule, error) {
	peek, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	sched, err := s.schedules.LockForUpdate(ctx, peek.ScheduleID)
	if err != nil {
		return nil, nil, err
	}
	o, err := s.orders.GetForUpdate(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if !o.Status.Queued() {
		return nil, nil, apperr.InvalidTransition.With("order %d is %s", o.ID, o.Status)
	}
	if !o.IsCall {
		return nil, nil, apperr.InvalidTransition.With("order %d is not the current patient", o.ID)
	}
	return o, sched, nil
}

// Pass sends the absent current patient back to the queue one priority step
// lower. When the registration policy sets a pass limit and the order
// reaches it, the order becomes a no-show instead.
func (s *Service) Pass(ctx context.Context, orderID int64) (res *PassResult, err error) {
	ctx, span := telemetry.Start(ctx, "queue", "Pass", attribute.Int64("order_id", orderID))
	defer func() { telemetry.End(span, err) }()

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		o, sched, err := s.lockCurrent(ctx, orderID)
		if err != nil {
			return err
		}
		policy, err := s.policies.RegistrationPolicy(ctx, sched.Target())
		if err != nil {
			return err
		}
		o.IsCall = false
		o.PassCount++
		o.Priority++
		res = &PassResult{Order: o}
		if policy.MaxPassCount > 0 && o.PassCount >= policy.MaxPassCount {
			o.Status = booking.StatusNoShow
			res.NoShow = true
		}
		return s.orders.Update(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int64("order_id", orderID).Int("pass_count", res.Order.PassCount).
		Bool("no_show", res.NoShow).Msg("patient passed")
	return res, nil
}

// Complete finishes the current patient's visit.
func (s *Service) Complete(ctx context.Context, orderID int64) (out *booking.Order, err error) {
	ctx, span := telemetry.Start(ctx, "queue", "Complete", attribute.Int64("order_id", orderID))
	defer func() { telemetry.End(span, err) }()

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		o, _, err := s.lockCurrent(ctx, orderID)
		if err != nil {
			return err
		}
		o.Status = booking.StatusCompleted
		o.IsCall = false
		if o.VisitTime == nil {
			now := s.now()
			o.VisitTime = &now
		}
		if err := s.orders.Update(ctx, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}
