package booking

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hospital/outpatient/internal/domain/scheduling"
	"github.com/hospital/outpatient/internal/domain/tierconfig"
	"github.com/hospital/outpatient/internal/platform/apperr"
	"github.com/hospital/outpatient/internal/platform/auth"
	"github.com/hospital/outpatient/internal/platform/db"
	"github.com/hospital/outpatient/internal/platform/telemetry"
)

const expireBatchSize = 500

// Ledger creates and cancels registration orders against schedules. Every
// mutation runs in one transaction holding the schedule row lock, which
// serializes it against other bookings, queue moves and audit approvals on
// the same schedule.
type Ledger struct {
	repo      Repository
	schedules ScheduleStore
	policies  PolicyResolver
	tx        db.Transactor
	loc       *time.Location
	now       func() time.Time
	logger    zerolog.Logger
}

type Option func(*Ledger)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func NewLedger(repo Repository, schedules ScheduleStore, policies PolicyResolver, tx db.Transactor,
	loc *time.Location, logger zerolog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		repo:      repo,
		schedules: schedules,
		policies:  policies,
		tx:        tx,
		loc:       loc,
		now:       time.Now,
		logger:    logger,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Ledger) Book(ctx context.Context, caller auth.Caller, req BookRequest) (o *Order, err error) {
	if req.ScheduleID <= 0 || req.PatientID <= 0 {
		return nil, apperr.Validation("schedule_id and patient_id are required")
	}
	ctx, span := telemetry.Start(ctx, "booking", "Book",
		attribute.Int64("schedule_id", req.ScheduleID), attribute.Int64("patient_id", req.PatientID))
	defer func() { telemetry.End(span, err) }()

	err = l.tx.WithTx(ctx, func(ctx context.Context) error {
		s, err := l.lockBookable(ctx, req.ScheduleID)
		if err != nil {
			return err
		}
		if s.RemainingSlots <= 0 {
			return apperr.SlotExhausted.With("schedule %d has no remaining slots", s.ID)
		}
		policy, err := l.checkPatient(ctx, s, req.PatientID)
		if err != nil {
			return err
		}
		if err := l.schedules.TakeSlot(ctx, s); err != nil {
			return err
		}
		o, err = l.place(ctx, s, req.PatientID, req.Symptoms, OriginBooking, 0, policy)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info().Int64("order_id", o.ID).Int64("schedule_id", o.ScheduleID).
		Int64("patient_id", o.PatientID).Int64("caller_id", caller.UserID).Msg("order booked")
	return o, nil
}

// JoinWaitlist records a waitlist order on a fully booked schedule. The order
// holds no slot until a cancellation promotes it.
func (l *Ledger) JoinWaitlist(ctx context.Context, caller auth.Caller, req BookRequest) (*Order, error) {
	if req.ScheduleID <= 0 || req.PatientID <= 0 {
		return nil, apperr.Validation("schedule_id and patient_id are required")
	}
	var o *Order
	err := l.tx.WithTx(ctx, func(ctx context.Context) error {
		s, err := l.lockBookable(ctx, req.ScheduleID)
		if err != nil {
			return err
		}
		if s.RemainingSlots > 0 {
			return apperr.InvalidTransition.With("schedule %d still has %d slots, book directly", s.ID, s.RemainingSlots)
		}
		if _, err := l.checkPatient(ctx, s, req.PatientID); err != nil {
			return err
		}
		pos, err := l.repo.NextWaitlistPosition(ctx, s.ID)
		if err != nil {
			return err
		}
		o = newOrder(s, req.PatientID, req.Symptoms, OriginWaitlist)
		o.Status = StatusWaitlist
		o.WaitlistPosition = &pos
		return l.repo.Create(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info().Int64("order_id", o.ID).Int64("schedule_id", o.ScheduleID).
		Int("position", *o.WaitlistPosition).Int64("caller_id", caller.UserID).Msg("joined waitlist")
	return o, nil
}

func (l *Ledger) lockBookable(ctx context.Context, scheduleID int64) (*scheduling.Schedule, error) {
	s, err := l.schedules.LockForUpdate(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if s.Status != scheduling.StatusActive {
		return nil, apperr.ScheduleSuspended.With("schedule %d is suspended", s.ID)
	}
	return s, nil
}

// checkPatient enforces one live order per patient and schedule and the
// patient's booking quota over the trailing period ending on the slot date.
func (l *Ledger) checkPatient(ctx context.Context, s *scheduling.Schedule, patientID int64) (tierconfig.RegistrationPolicy, error) {
	policy, err := l.policies.RegistrationPolicy(ctx, s.Target())
	if err != nil {
		return policy, err
	}
	if err := l.checkDuplicate(ctx, s, patientID); err != nil {
		return policy, err
	}
	from := s.Date.AddDate(0, 0, -policy.AppointmentPeriodDays)
	n, err := l.repo.CountInPeriod(ctx, patientID, from, s.Date)
	if err != nil {
		return policy, err
	}
	if n >= policy.MaxAppointmentsPerPeriod {
		return policy, apperr.QuotaExceeded.With("patient %d already holds %d bookings in the %d days up to %s",
			patientID, n, policy.AppointmentPeriodDays, s.Date.Format("2006-01-02"))
	}
	return policy, nil
}

func (l *Ledger) checkDuplicate(ctx context.Context, s *scheduling.Schedule, patientID int64) error {
	dup, err := l.repo.HasLive(ctx, patientID, s.ID)
	if err != nil {
		return err
	}
	if dup {
		return apperr.DuplicateBooking.With("patient %d already holds a booking on schedule %d", patientID, s.ID)
	}
	return nil
}

func newOrder(s *scheduling.Schedule, patientID int64, symptoms string, origin Origin) *Order {
	return &Order{
		PatientID:     patientID,
		ScheduleID:    s.ID,
		DoctorID:      s.DoctorID,
		SlotDate:      s.Date,
		Section:       s.Section,
		SlotType:      s.SlotType,
		Origin:        origin,
		Symptoms:      symptoms,
		PayAmount:     s.Price,
		PaymentStatus: PaymentUnpaid,
	}
}

// place creates a slot-holding order with the next queue number. The slot
// must already have been taken from s.
func (l *Ledger) place(ctx context.Context, s *scheduling.Schedule, patientID int64, symptoms string,
	origin Origin, priority int, policy tierconfig.RegistrationPolicy, opts ...func(*Order)) (*Order, error) {
	qn, err := l.repo.NextQueueNumber(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	o := newOrder(s, patientID, symptoms, origin)
	o.QueueNumber = &qn
	o.Priority = priority
	for _, opt := range opts {
		opt(o)
	}
	l.setInitialStatus(o, policy)
	if err := l.repo.Create(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (l *Ledger) setInitialStatus(o *Order, policy tierconfig.RegistrationPolicy) {
	if policy.PaymentRequired && o.PayAmount.IsPositive() {
		now := l.now()
		o.Status = StatusPending
		o.PendingSince = &now
		return
	}
	o.Status = StatusConfirmed
	o.PendingSince = nil
}

// AllocateExtra books patientID onto a schedule whose capacity the caller
// has just grown. The order takes slotType instead of the schedule's and
// records applicant as the requester. It skips the remaining-capacity and
// quota checks but still refuses a second live order for the same patient.
// Must run inside the caller's transaction with s locked.
func (l *Ledger) AllocateExtra(ctx context.Context, s *scheduling.Schedule, patientID int64,
	slotType tierconfig.SlotType, applicant int64) (*Order, error) {
	if slotType == "" {
		slotType = s.SlotType
	}
	if !slotType.Valid() {
		return nil, apperr.Validation("unknown slot type %q", slotType)
	}
	if err := l.checkDuplicate(ctx, s, patientID); err != nil {
		return nil, err
	}
	policy, err := l.policies.RegistrationPolicy(ctx, s.Target())
	if err != nil {
		return nil, err
	}
	if err := l.schedules.TakeSlot(ctx, s); err != nil {
		return nil, err
	}
	return l.place(ctx, s, patientID, "", OriginAddSlot, AddSlotPriority, policy, func(o *Order) {
		o.SlotType = slotType
		o.RequestedBy = &applicant
	})
}

// Cancel cancels an order while the cancellation window is open: until
// cancelHoursBefore hours before its section starts. Waitlist orders hold no
// slot and may leave at any time. A released slot goes to the head of the
// schedule's waitlist.
func (l *Ledger) Cancel(ctx context.Context, caller auth.Caller, orderID int64, reason string) (res *CancelResult, err error) {
	ctx, span := telemetry.Start(ctx, "booking", "Cancel", attribute.Int64("order_id", orderID))
	defer func() { telemetry.End(span, err) }()

	// The schedule lock is taken before the order lock, the same order every
	// other writer uses.
	peek, err := l.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	err = l.tx.WithTx(ctx, func(ctx context.Context) error {
		s, err := l.schedules.LockForUpdate(ctx, peek.ScheduleID)
		if err != nil && !errors.Is(err, apperr.NotFound) {
			return err
		}
		o, err := l.repo.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status.Terminal() {
			return apperr.InvalidTransition.With("order %d is already %s", o.ID, o.Status)
		}
		wasWaitlist := o.Status == StatusWaitlist
		if !wasWaitlist {
			if err := l.checkWindow(ctx, o, s); err != nil {
				return err
			}
		}

		res = &CancelResult{OrderID: o.ID}
		if o.PaymentStatus == PaymentPaid {
			refund := o.PayAmount
			res.Refund = &refund
			o.PaymentStatus = PaymentRefunded
		}
		l.markCancelled(o, &caller.UserID, reason)
		if err := l.repo.Update(ctx, o); err != nil {
			return err
		}
		if wasWaitlist || s == nil {
			return nil
		}
		promoted, err := l.release(ctx, s)
		if err != nil {
			return err
		}
		if promoted != nil {
			res.PromotedOrderID = &promoted.ID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info().Int64("order_id", orderID).Int64("caller_id", caller.UserID).
		Bool("refund", res.Refund != nil).Msg("order cancelled")
	return res, nil
}

func (l *Ledger) checkWindow(ctx context.Context, o *Order, s *scheduling.Schedule) error {
	target := tierconfig.Target{DoctorID: o.DoctorID}
	if s != nil {
		target.ClinicID = s.ClinicID
	}
	policy, err := l.policies.RegistrationPolicy(ctx, target)
	if err != nil {
		return err
	}
	sched, err := l.policies.SchedulePolicy(ctx, target)
	if err != nil {
		return err
	}
	start, err := sched.SectionStart(o.SlotDate, o.Section, l.loc)
	if err != nil {
		return apperr.ConfigurationError.Wrap(err)
	}
	deadline := start.Add(-time.Duration(policy.CancelHoursBefore) * time.Hour)
	if !l.now().Before(deadline) {
		return apperr.CancellationWindowExpired.With("order %d could be cancelled until %s",
			o.ID, deadline.Format(time.RFC3339))
	}
	return nil
}

func (l *Ledger) markCancelled(o *Order, by *int64, reason string) {
	now := l.now()
	o.Status = StatusCancelled
	o.IsCall = false
	o.WaitlistPosition = nil
	o.PendingSince = nil
	o.CancelledAt = &now
	o.CancelledBy = by
	if reason != "" {
		o.CancelReason = &reason
	}
}

// release returns one slot to s and hands it to the head of the waitlist.
func (l *Ledger) release(ctx context.Context, s *scheduling.Schedule) (*Order, error) {
	released, err := l.schedules.ReleaseSlot(ctx, s)
	if err != nil || !released || s.Status != scheduling.StatusActive {
		return nil, err
	}
	head, err := l.repo.WaitlistHead(ctx, s.ID)
	if err != nil || head == nil {
		return nil, err
	}
	policy, err := l.policies.RegistrationPolicy(ctx, s.Target())
	if err != nil {
		return nil, err
	}
	if err := l.schedules.TakeSlot(ctx, s); err != nil {
		return nil, err
	}
	qn, err := l.repo.NextQueueNumber(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	head.QueueNumber = &qn
	head.WaitlistPosition = nil
	l.setInitialStatus(head, policy)
	if err := l.repo.Update(ctx, head); err != nil {
		return nil, err
	}
	l.logger.Info().Int64("order_id", head.ID).Int64("schedule_id", s.ID).Msg("waitlist order promoted")
	return head, nil
}

// Pay records a successful payment callback.
func (l *Ledger) Pay(ctx context.Context, orderID int64) (*Order, error) {
	var out *Order
	err := l.tx.WithTx(ctx, func(ctx context.Context) error {
		o, err := l.repo.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !o.Status.Queued() || o.PaymentStatus != PaymentUnpaid {
			return apperr.InvalidTransition.With("order %d cannot be paid in status %s/%s", o.ID, o.Status, o.PaymentStatus)
		}
		now := l.now()
		o.Status = StatusConfirmed
		o.PaymentStatus = PaymentPaid
		o.PaidAt = &now
		o.PendingSince = nil
		if err := l.repo.Update(ctx, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

// ExpireUnpaid cancels pending orders whose payment window has lapsed and
// releases their slots. Each order is handled in its own transaction; a
// failure is logged and the sweep moves on.
func (l *Ledger) ExpireUnpaid(ctx context.Context) (ExpireResult, error) {
	var res ExpireResult
	now := l.now()
	candidates, err := l.repo.ListPendingUnpaid(ctx, now, expireBatchSize)
	if err != nil {
		return res, err
	}
	res.Scanned = len(candidates)

	var errs []error
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		expired, promoted, err := l.expireOne(ctx, c, now)
		switch {
		case err != nil:
			res.Failed++
			errs = append(errs, err)
			l.logger.Error().Err(err).Int64("order_id", c.ID).Msg("expire unpaid order failed")
		case expired:
			res.Expired++
			if promoted {
				res.Promoted++
			}
		}
	}
	if res.Expired > 0 || res.Failed > 0 {
		l.logger.Info().Int("scanned", res.Scanned).Int("expired", res.Expired).
			Int("promoted", res.Promoted).Int("failed", res.Failed).Msg("unpaid order sweep finished")
	}
	return res, errors.Join(errs...)
}

func (l *Ledger) expireOne(ctx context.Context, c *Order, now time.Time) (expired, promoted bool, err error) {
	err = l.tx.WithTx(ctx, func(ctx context.Context) error {
		s, err := l.schedules.LockForUpdate(ctx, c.ScheduleID)
		if err != nil && !errors.Is(err, apperr.NotFound) {
			return err
		}
		o, err := l.repo.GetForUpdate(ctx, c.ID)
		if err != nil {
			return err
		}
		if o.Status != StatusPending || o.PaymentStatus != PaymentUnpaid || o.PendingSince == nil {
			return nil
		}
		target := tierconfig.Target{DoctorID: o.DoctorID}
		if s != nil {
			target.ClinicID = s.ClinicID
		}
		policy, err := l.policies.RegistrationPolicy(ctx, target)
		if err != nil {
			return err
		}
		if now.Sub(*o.PendingSince) < time.Duration(policy.PaymentTimeoutMinutes)*time.Minute {
			return nil
		}
		l.markCancelled(o, nil, "payment timeout")
		if err := l.repo.Update(ctx, o); err != nil {
			return err
		}
		expired = true
		if s == nil {
			return nil
		}
		head, err := l.release(ctx, s)
		promoted = head != nil
		return err
	})
	if err != nil {
		return false, false, err
	}
	return expired, promoted, nil
}

func (l *Ledger) Get(ctx context.Context, id int64) (*Order, error) {
	return l.repo.Get(ctx, id)
}

func (l *Ledger) ListByPatient(ctx context.Context, patientID int64, status *Status, limit, offset int) ([]*Order, int, error) {
	if status != nil && !status.Valid() {
		return nil, 0, apperr.Validation("unknown order status %q", *status)
	}
	return l.repo.ListByPatient(ctx, patientID, status, limit, offset)
}

func (l *Ledger) ListBySchedule(ctx context.Context, scheduleID int64) ([]*Order, error) {
	return l.repo.ListBySchedule(ctx, scheduleID)
}
