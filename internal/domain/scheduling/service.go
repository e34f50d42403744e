package scheduling

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hospital/outpatient/internal/platform/apperr"
	"github.com/hospital/outpatient/internal/platform/db"
	"github.com/hospital/outpatient/internal/platform/telemetry"
)

// Catalog owns schedule records and the capacity counters on them.
type Catalog struct {
	repo   Repository
	prices PriceResolver
	tx     db.Transactor
	logger zerolog.Logger
}

func NewCatalog(repo Repository, prices PriceResolver, tx db.Transactor, logger zerolog.Logger) *Catalog {
	return &Catalog{repo: repo, prices: prices, tx: tx, logger: logger}
}

func validateSlot(section Section, slotType SlotType) error {
	if !section.Valid() {
		return apperr.Validation("unknown time section %q", section)
	}
	if !slotType.Valid() {
		return apperr.Validation("unknown slot type %q", slotType)
	}
	return nil
}

func (c *Catalog) Create(ctx context.Context, req CreateRequest) (s *Schedule, err error) {
	if req.DoctorID <= 0 || req.ClinicID <= 0 {
		return nil, apperr.Validation("doctor_id and clinic_id are required")
	}
	if req.Date.IsZero() {
		return nil, apperr.Validation("date is required")
	}
	if err := validateSlot(req.Section, req.SlotType); err != nil {
		return nil, err
	}
	if req.TotalSlots < 1 {
		return nil, apperr.Validation("total_slots must be at least 1")
	}
	if req.Status == "" {
		req.Status = StatusActive
	}
	if !req.Status.Valid() {
		return nil, apperr.Validation("unknown status %q", req.Status)
	}

	ctx, span := telemetry.Start(ctx, "scheduling", "Create",
		attribute.Int64("doctor_id", req.DoctorID), attribute.String("section", string(req.Section)))
	defer func() { telemetry.End(span, err) }()

	date := DateOnly(req.Date)
	s = &Schedule{
		DoctorID:       req.DoctorID,
		ClinicID:       req.ClinicID,
		Date:           date,
		WeekDay:        WeekDay(date),
		Section:        req.Section,
		SlotType:       req.SlotType,
		TotalSlots:     req.TotalSlots,
		RemainingSlots: req.TotalSlots,
		Status:         req.Status,
	}
	if s.Price, err = c.prices.ResolvePrice(ctx, s.Target(), s.SlotType, req.Price); err != nil {
		return nil, err
	}

	err = c.tx.WithTx(ctx, func(ctx context.Context) error {
		if s.Status == StatusActive {
			if err := c.checkConflict(ctx, s); err != nil {
				return err
			}
		}
		return c.repo.Create(ctx, s)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (c *Catalog) checkConflict(ctx context.Context, s *Schedule) error {
	exists, err := c.repo.ActiveExists(ctx, s.DoctorID, s.Date, s.Section, s.ID)
	if err != nil {
		return err
	}
	if exists {
		return apperr.ScheduleConflict.With("doctor %d already has an active %s schedule on %s",
			s.DoctorID, s.Section, s.Date.Format(dateLayout))
	}
	return nil
}

// Update applies a partial update. A total change moves remaining by the same
// delta, floored at zero. A supplied price <= 0 is re-resolved against the
// updated doctor and clinic.
func (c *Catalog) Update(ctx context.Context, id int64, req UpdateRequest) (*Schedule, error) {
	var out *Schedule
	err := c.tx.WithTx(ctx, func(ctx context.Context) error {
		s, err := c.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		before := *s

		if req.DoctorID != nil {
			s.DoctorID = *req.DoctorID
		}
		if req.ClinicID != nil {
			s.ClinicID = *req.ClinicID
		}
		if req.Date != nil {
			s.Date = DateOnly(*req.Date)
			s.WeekDay = WeekDay(s.Date)
		}
		if req.Section != nil {
			s.Section = *req.Section
		}
		if req.SlotType != nil {
			s.SlotType = *req.SlotType
		}
		if req.Status != nil {
			if !req.Status.Valid() {
				return apperr.Validation("unknown status %q", *req.Status)
			}
			s.Status = *req.Status
		}
		if err := validateSlot(s.Section, s.SlotType); err != nil {
			return err
		}
		if s.DoctorID <= 0 || s.ClinicID <= 0 {
			return apperr.Validation("doctor_id and clinic_id must be positive")
		}
		if req.TotalSlots != nil {
			if *req.TotalSlots < 0 {
				return apperr.Validation("total_slots must not be negative")
			}
			delta := *req.TotalSlots - s.TotalSlots
			s.TotalSlots = *req.TotalSlots
			s.RemainingSlots = max(0, s.RemainingSlots+delta)
		}
		if req.Price != nil {
			price, err := c.prices.ResolvePrice(ctx, s.Target(), s.SlotType, *req.Price)
			if err != nil {
				return err
			}
			s.Price = price
		}

		moved := s.DoctorID != before.DoctorID || !s.Date.Equal(before.Date) || s.Section != before.Section
		activated := s.Status == StatusActive && before.Status != StatusActive
		if s.Status == StatusActive && (moved || activated) {
			if err := c.checkConflict(ctx, s); err != nil {
				return err
			}
		}
		if err := c.repo.Update(ctx, s); err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

// Delete removes the schedule. Open orders against it are not cancelled.
func (c *Catalog) Delete(ctx context.Context, id int64) error {
	found, err := c.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return apperr.NotFoundf("schedule %d not found", id)
	}
	return nil
}

func (c *Catalog) Suspend(ctx context.Context, id int64) (*Schedule, error) {
	return c.setStatus(ctx, id, StatusSuspended)
}

// Reactivate fails with ScheduleConflict when another active schedule took
// the slot while this one was suspended.
func (c *Catalog) Reactivate(ctx context.Context, id int64) (*Schedule, error) {
	return c.setStatus(ctx, id, StatusActive)
}

func (c *Catalog) setStatus(ctx context.Context, id int64, status Status) (*Schedule, error) {
	var out *Schedule
	err := c.tx.WithTx(ctx, func(ctx context.Context) error {
		s, err := c.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if s.Status == status {
			return apperr.InvalidTransition.With("schedule %d is already %s", id, status)
		}
		if status == StatusActive {
			if err := c.checkConflict(ctx, s); err != nil {
				return err
			}
		}
		s.Status = status
		if err := c.repo.Update(ctx, s); err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

func (c *Catalog) Get(ctx context.Context, id int64) (*Schedule, error) {
	return c.repo.Get(ctx, id)
}

func (c *Catalog) List(ctx context.Context, f Filter, limit, offset int) ([]*Schedule, int, error) {
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return nil, 0, apperr.Validation("from must not be after to")
	}
	return c.repo.List(ctx, f, limit, offset)
}

// LockForUpdate reads the schedule and holds its row lock for the rest of
// the caller's transaction. It must run inside WithTx.
func (c *Catalog) LockForUpdate(ctx context.Context, id int64) (*Schedule, error) {
	return c.repo.GetForUpdate(ctx, id)
}

// TakeSlot consumes one remaining slot of a locked schedule.
func (c *Catalog) TakeSlot(ctx context.Context, s *Schedule) error {
	ok, err := c.repo.AdjustRemaining(ctx, s.ID, -1)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.SlotExhausted.With("schedule %d has no remaining slots", s.ID)
	}
	s.RemainingSlots--
	return nil
}

// ReleaseSlot returns one slot to a locked schedule. Releasing onto a
// schedule that is already at full capacity is a no-op, which happens when
// total was lowered below the booked count.
func (c *Catalog) ReleaseSlot(ctx context.Context, s *Schedule) (bool, error) {
	ok, err := c.repo.AdjustRemaining(ctx, s.ID, 1)
	if err != nil {
		return false, err
	}
	if ok {
		s.RemainingSlots++
	} else {
		c.logger.Warn().Int64("schedule_id", s.ID).Int("total", s.TotalSlots).
			Msg("released slot onto a full schedule")
	}
	return ok, nil
}

// Grow adds n slots to both total and remaining of a locked schedule.
func (c *Catalog) Grow(ctx context.Context, s *Schedule, n int) error {
	if err := c.repo.Grow(ctx, s.ID, n); err != nil {
		return err
	}
	s.TotalSlots += n
	s.RemainingSlots += n
	return nil
}

// SuspendOverlapping suspends the doctor's active schedules in [from, to]
// for the given sections and reports how many changed.
func (c *Catalog) SuspendOverlapping(ctx context.Context, doctorID int64, from, to time.Time, sections []Section) (int, error) {
	return c.repo.SuspendOverlapping(ctx, doctorID, DateOnly(from), DateOnly(to), sections)
}
