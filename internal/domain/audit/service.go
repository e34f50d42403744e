package audit

import (
	"context"
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

// maxLeaveDays bounds a single leave request.
const maxLeaveDays = 90

// Pipeline runs the three proposal flows. A proposal is decided exactly once;
// approving it applies its effect in the same transaction that records the
// decision.
type Pipeline struct {
	repo     Repository
	catalog  Catalog
	ledger   Ledger
	policies PolicyResolver
	tx       db.Transactor
	now      func() time.Time
	logger   zerolog.Logger
}

func NewPipeline(repo Repository, catalog Catalog, ledger Ledger, policies PolicyResolver, tx db.Transactor,
	logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		repo:     repo,
		catalog:  catalog,
		ledger:   ledger,
		policies: policies,
		tx:       tx,
		now:      time.Now,
		logger:   logger,
	}
}

// SetClock overrides time.Now, for tests.
func (p *Pipeline) SetClock(now func() time.Time) { p.now = now }

func (p *Pipeline) decide(status Status, caller auth.Caller, remark string) (Status, Decision, error) {
	if status != StatusPending {
		return status, Decision{}, apperr.InvalidTransition.With("proposal already %s", status)
	}
	now := p.now()
	id := caller.UserID
	d := Decision{AuditorID: &id, AuditTime: &now}
	if remark != "" {
		d.AuditRemark = &remark
	}
	return StatusApproved, d, nil
}

// =========== Schedule proposals ===========

func (p *Pipeline) SubmitSchedule(ctx context.Context, caller auth.Caller, sub ScheduleSubmission) (*ScheduleAudit, error) {
	if sub.ClinicID <= 0 {
		return nil, apperr.Validation("clinic_id is required")
	}
	if sub.WeekStart.IsZero() {
		return nil, apperr.Validation("week_start is required")
	}
	assigned := 0
	for day := range sub.Grid {
		for shift, cell := range sub.Grid[day] {
			if cell == nil {
				continue
			}
			if cell.DoctorID <= 0 {
				return nil, apperr.Validation("grid[%d][%d]: doctor_id must be positive", day, shift)
			}
			if cell.SlotType != "" && !cell.SlotType.Valid() {
				return nil, apperr.Validation("grid[%d][%d]: unknown slot type %q", day, shift, cell.SlotType)
			}
			if cell.TotalSlots < 0 {
				return nil, apperr.Validation("grid[%d][%d]: total_slots must not be negative", day, shift)
			}
			assigned++
		}
	}
	if assigned == 0 {
		return nil, apperr.Validation("grid assigns no doctors")
	}

	start := scheduling.DateOnly(sub.WeekStart)
	a := &ScheduleAudit{
		SubmitterID: caller.UserID,
		ClinicID:    sub.ClinicID,
		MinorDeptID: sub.MinorDeptID,
		WeekStart:   start,
		WeekEnd:     start.AddDate(0, 0, 6),
		Grid:        sub.Grid,
		Remark:      sub.Remark,
		Status:      StatusPending,
	}
	if err := p.repo.CreateSchedule(ctx, a); err != nil {
		return nil, err
	}
	p.logger.Info().Int64("audit_id", a.ID).Int64("clinic_id", a.ClinicID).
		Str("week_start", start.Format(dateLayout)).Int("cells", assigned).Msg("schedule proposal submitted")
	return a, nil
}

// ApproveSchedule materializes every assigned grid cell as a schedule. A cell
// failing with a business error is rolled back to its own savepoint and
// reported in CellErrors; the rest of the week still commits. Storage and
// internal errors abort the whole approval.
func (p *Pipeline) ApproveSchedule(ctx context.Context, caller auth.Caller, id int64, remark string) (res *ScheduleApproval, err error) {
	ctx, span := telemetry.Start(ctx, "audit", "ApproveSchedule", attribute.Int64("audit_id", id))
	defer func() { telemetry.End(span, err) }()

	err = p.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := p.repo.GetScheduleForUpdate(ctx, id)
		if err != nil {
			return err
		}
		status, decision, err := p.decide(a.Status, caller, remark)
		if err != nil {
			return err
		}
		policy, err := p.policies.SchedulePolicy(ctx, tierconfig.Target{ClinicID: a.ClinicID, MinorDeptID: a.MinorDeptID})
		if err != nil {
			return err
		}

		res = &ScheduleApproval{Created: []int64{}, CellErrors: []CellError{}}
		for day := range a.Grid {
			date := a.WeekStart.AddDate(0, 0, day)
			for shift, cell := range a.Grid[day] {
				if cell == nil {
					continue
				}
				section := tierconfig.Sections[shift]
				s, err := p.catalog.Create(ctx, cellRequest(a, cell, date, section, policy))
				if err == nil {
					res.Created = append(res.Created, s.ID)
					continue
				}
				if !isCellError(err) {
					return err
				}
				res.CellErrors = append(res.CellErrors, CellError{
					Day:      day,
					Shift:    shift,
					Date:     date.Format(dateLayout),
					Section:  section,
					DoctorID: cell.DoctorID,
					Code:     apperr.CodeOf(err),
					Message:  err.Error(),
				})
			}
		}

		a.Status, a.Decision = status, decision
		if len(res.CellErrors) > 0 {
			a.CellErrors = res.CellErrors
		}
		if err := p.repo.DecideSchedule(ctx, a); err != nil {
			return err
		}
		res.Audit = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.logger.Info().Int64("audit_id", id).Int("created", len(res.Created)).
		Int("failed_cells", len(res.CellErrors)).Msg("schedule proposal approved")
	return res, nil
}

func cellRequest(a *ScheduleAudit, cell *GridCell, date time.Time, section tierconfig.Section,
	policy tierconfig.SchedulePolicy) scheduling.CreateRequest {
	req := scheduling.CreateRequest{
		DoctorID:   cell.DoctorID,
		ClinicID:   a.ClinicID,
		Date:       date,
		Section:    section,
		SlotType:   cell.SlotType,
		TotalSlots: cell.TotalSlots,
	}
	if req.SlotType == "" {
		req.SlotType = policy.DefaultSlotType
	}
	if req.TotalSlots == 0 {
		req.TotalSlots = policy.DefaultTotalSlots
	}
	return req
}

func isCellError(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindTransient, apperr.KindInternal:
		return false
	}
	return true
}

func (p *Pipeline) RejectSchedule(ctx context.Context, caller auth.Caller, id int64, remark string) (*ScheduleAudit, error) {
	var out *ScheduleAudit
	err := p.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := p.repo.GetScheduleForUpdate(ctx, id)
		if err != nil {
			return err
		}
		_, decision, err := p.decide(a.Status, caller, remark)
		if err != nil {
			return err
		}
		a.Status, a.Decision = StatusRejected, decision
		if err := p.repo.DecideSchedule(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

func (p *Pipeline) GetSchedule(ctx context.Context, id int64) (*ScheduleAudit, error) {
	return p.repo.GetSchedule(ctx, id)
}

func (p *Pipeline) ListSchedule(ctx context.Context, f Filter, limit, offset int) ([]*ScheduleAudit, int, error) {
	if err := f.validate(); err != nil {
		return nil, 0, err
	}
	return p.repo.ListSchedule(ctx, f, limit, offset)
}

func (f Filter) validate() error {
	if f.Status != nil && !f.Status.Valid() {
		return apperr.Validation("unknown audit status %q", *f.Status)
	}
	return nil
}

// =========== Leave proposals ===========

func (p *Pipeline) SubmitLeave(ctx context.Context, caller auth.Caller, sub LeaveSubmission) (*LeaveAudit, error) {
	if sub.DoctorID <= 0 {
		return nil, apperr.Validation("doctor_id is required")
	}
	if !caller.Has(auth.CapApproveAudit) && (caller.DoctorID == nil || *caller.DoctorID != sub.DoctorID) {
		return nil, apperr.Forbidden.With("caller may only request leave for their own schedules")
	}
	if sub.StartDate.IsZero() {
		return nil, apperr.Validation("start_date is required")
	}
	start := scheduling.DateOnly(sub.StartDate)
	end := start
	if !sub.EndDate.IsZero() {
		end = scheduling.DateOnly(sub.EndDate)
	}
	if end.Before(start) {
		return nil, apperr.Validation("end_date must not precede start_date")
	}
	if end.Sub(start) > maxLeaveDays*24*time.Hour {
		return nil, apperr.Validation("leave may span at most %d days", maxLeaveDays)
	}
	shift := sub.Shift
	if shift == "" {
		shift = LeaveFullDay
	}
	if !shift.Valid() {
		return nil, apperr.Validation("unknown shift %q", shift)
	}

	a := &LeaveAudit{
		DoctorID:    sub.DoctorID,
		SubmitterID: caller.UserID,
		StartDate:   start,
		EndDate:     end,
		Shift:       shift,
		Reason:      sub.Reason,
		Attachments: sub.Attachments,
		Status:      StatusPending,
	}
	if err := p.repo.CreateLeave(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// ApproveLeave suspends every active schedule of the doctor overlapping the
// leave. Existing bookings stay on the suspended schedules.
func (p *Pipeline) ApproveLeave(ctx context.Context, caller auth.Caller, id int64, remark string) (out *LeaveAudit, err error) {
	ctx, span := telemetry.Start(ctx, "audit", "ApproveLeave", attribute.Int64("audit_id", id))
	defer func() { telemetry.End(span, err) }()

	err = p.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := p.repo.GetLeaveForUpdate(ctx, id)
		if err != nil {
			return err
		}
		status, decision, err := p.decide(a.Status, caller, remark)
		if err != nil {
			return err
		}
		n, err := p.catalog.SuspendOverlapping(ctx, a.DoctorID, a.StartDate, a.EndDate, a.Shift.Sections())
		if err != nil {
			return err
		}
		a.Status, a.Decision, a.AffectedSchedules = status, decision, &n
		if err := p.repo.DecideLeave(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.logger.Info().Int64("audit_id", id).Int64("doctor_id", out.DoctorID).
		Int("suspended", *out.AffectedSchedules).Msg("leave approved")
	return out, nil
}

func (p *Pipeline) RejectLeave(ctx context.Context, caller auth.Caller, id int64, remark string) (*LeaveAudit, error) {
	var out *LeaveAudit
	err := p.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := p.repo.GetLeaveForUpdate(ctx, id)
		if err != nil {
			return err
		}
		_, decision, err := p.decide(a.Status, caller, remark)
		if err != nil {
			return err
		}
		a.Status, a.Decision = StatusRejected, decision
		if err := p.repo.DecideLeave(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

func (p *Pipeline) GetLeave(ctx context.Context, id int64) (*LeaveAudit, error) {
	return p.repo.GetLeave(ctx, id)
}

func (p *Pipeline) ListLeave(ctx context.Context, f Filter, limit, offset int) ([]*LeaveAudit, int, error) {
	if err := f.validate(); err != nil {
		return nil, 0, err
	}
	return p.repo.ListLeave(ctx, f, limit, offset)
}

// =========== Add-slot proposals ===========

// SubmitAddSlot records a request for one extra slot. Callers allowed to
// approve proposals get it applied in the same call.
func (p *Pipeline) SubmitAddSlot(ctx context.Context, caller auth.Caller, sub AddSlotSubmission) (*AddSlotAudit, error) {
	if sub.ScheduleID <= 0 || sub.PatientID <= 0 {
		return nil, apperr.Validation("schedule_id and patient_id are required")
	}
	s, err := p.catalog.Get(ctx, sub.ScheduleID)
	if err != nil {
		return nil, err
	}
	slotType := sub.SlotType
	if slotType == "" {
		slotType = s.SlotType
	}
	if !slotType.Valid() {
		return nil, apperr.Validation("unknown slot type %q", slotType)
	}
	a := &AddSlotAudit{
		ScheduleID:  s.ID,
		DoctorID:    s.DoctorID,
		PatientID:   sub.PatientID,
		SlotType:    slotType,
		Reason:      sub.Reason,
		ApplicantID: caller.UserID,
		Status:      StatusPending,
	}

	if !caller.Has(auth.CapApproveAudit) {
		if err := p.repo.CreateAddSlot(ctx, a); err != nil {
			return nil, err
		}
		return a, nil
	}

	err = p.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := p.repo.CreateAddSlot(ctx, a); err != nil {
			return err
		}
		return p.applyAddSlot(ctx, caller, a, "")
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ApproveAddSlot grows the schedule by one slot and books the named patient
// into it, ahead of the regular queue.
func (p *Pipeline) ApproveAddSlot(ctx context.Context, caller auth.Caller, id int64, remark string) (out *AddSlotAudit, err error) {
	ctx, span := telemetry.Start(ctx, "audit", "ApproveAddSlot", attribute.Int64("audit_id", id))
	defer func() { telemetry.End(span, err) }()

	err = p.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := p.repo.GetAddSlotForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := p.applyAddSlot(ctx, caller, a, remark); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

// applyAddSlot locks the schedule before touching capacity so it serializes
// with bookings and cancellations on the same schedule.
func (p *Pipeline) applyAddSlot(ctx context.Context, caller auth.Caller, a *AddSlotAudit, remark string) error {
	status, decision, err := p.decide(a.Status, caller, remark)
	if err != nil {
		return err
	}
	s, err := p.catalog.LockForUpdate(ctx, a.ScheduleID)
	if err != nil {
		return err
	}
	if s.Status != scheduling.StatusActive {
		return apperr.ScheduleSuspended.With("schedule %d is suspended", s.ID)
	}
	if err := p.catalog.Grow(ctx, s, 1); err != nil {
		return err
	}
	o, err := p.ledger.AllocateExtra(ctx, s, a.PatientID, a.SlotType, a.ApplicantID)
	if err != nil {
		return err
	}
	a.Status, a.Decision, a.OrderID = status, decision, &o.ID
	if err := p.repo.DecideAddSlot(ctx, a); err != nil {
		return err
	}
	p.logger.Info().Int64("audit_id", a.ID).Int64("schedule_id", s.ID).Int64("order_id", o.ID).
		Int("total_slots", s.TotalSlots).Msg("extra slot allocated")
	return nil
}

func (p *Pipeline) RejectAddSlot(ctx context.Context, caller auth.Caller, id int64, remark string) (*AddSlotAudit, error) {
	var out *AddSlotAudit
	err := p.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := p.repo.GetAddSlotForUpdate(ctx, id)
		if err != nil {
			return err
		}
		_, decision, err := p.decide(a.Status, caller, remark)
		if err != nil {
			return err
		}
		a.Status, a.Decision = StatusRejected, decision
		if err := p.repo.DecideAddSlot(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

func (p *Pipeline) GetAddSlot(ctx context.Context, id int64) (*AddSlotAudit, error) {
	return p.repo.GetAddSlot(ctx, id)
}

func (p *Pipeline) ListAddSlot(ctx context.Context, f Filter, limit, offset int) ([]*AddSlotAudit, int, error) {
	if err := f.validate(); err != nil {
		return nil, 0, err
	}
	return p.repo.ListAddSlot(ctx, f, limit, offset)
}
