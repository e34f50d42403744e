package attendance

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/hospital/outpatient/internal/domain/scheduling"
	"github.com/hospital/outpatient/internal/platform/apperr"
	"github.com/hospital/outpatient/internal/platform/auth"
	"github.com/hospital/outpatient/internal/platform/db"
)

const dateLayout = "2006-01-02"

// maxRangeDays bounds a single MarkAbsentRange or report call.
const maxRangeDays = 366

// Marker reconciles schedules without a check-in into absence records and
// records doctors' check-in and check-out.
type Marker struct {
	repo      Repository
	schedules ScheduleReader
	tx        db.Transactor
	loc       *time.Location
	now       func() time.Time
	logger    zerolog.Logger
}

func NewMarker(repo Repository, schedules ScheduleReader, tx db.Transactor, loc *time.Location, logger zerolog.Logger) *Marker {
	return &Marker{repo: repo, schedules: schedules, tx: tx, loc: loc, now: time.Now, logger: logger}
}

// SetClock overrides time.Now, for tests.
func (m *Marker) SetClock(now func() time.Time) { m.now = now }

func (m *Marker) today() time.Time {
	return scheduling.DateOnly(m.now().In(m.loc))
}

// MarkAbsent writes an absent record for every active schedule on date that
// has no attendance record. Re-running it only counts the existing records.
// Only past dates can be marked.
func (m *Marker) MarkAbsent(ctx context.Context, date time.Time) (DayStats, error) {
	date = scheduling.DateOnly(date)
	stats := DayStats{Date: date.Format(dateLayout)}
	if !date.Before(m.today()) {
		return stats, apperr.Validation("date %s has not ended yet", stats.Date)
	}

	err := m.tx.WithTx(ctx, func(ctx context.Context) error {
		stats = DayStats{Date: stats.Date}
		refs, err := m.repo.ActiveSchedulesOn(ctx, date)
		if err != nil {
			return err
		}
		stats.TotalSchedules = len(refs)
		for _, ref := range refs {
			inserted, err := m.repo.InsertAbsent(ctx, ref)
			if err != nil {
				return err
			}
			if inserted {
				stats.AbsentMarked++
			} else {
				stats.AlreadyMarked++
			}
		}
		return nil
	})
	if err != nil {
		return DayStats{Date: stats.Date}, err
	}
	m.logger.Info().Str("date", stats.Date).Int("total", stats.TotalSchedules).
		Int("absent_marked", stats.AbsentMarked).Int("already_marked", stats.AlreadyMarked).
		Msg("absence marking finished")
	return stats, nil
}

// MarkAbsentRange runs MarkAbsent for each day in [from, to]. It stops at the
// first failing day and returns the days already processed.
func (m *Marker) MarkAbsentRange(ctx context.Context, from, to time.Time) ([]DayStats, error) {
	from, to = scheduling.DateOnly(from), scheduling.DateOnly(to)
	if err := validateRange(from, to); err != nil {
		return nil, err
	}
	var out []DayStats
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		stats, err := m.MarkAbsent(ctx, d)
		if err != nil {
			return out, err
		}
		out = append(out, stats)
	}
	return out, nil
}

// MarkYesterday is the scheduled entry point.
func (m *Marker) MarkYesterday(ctx context.Context) (DayStats, error) {
	return m.MarkAbsent(ctx, m.today().AddDate(0, 0, -1))
}

func validateRange(from, to time.Time) error {
	if from.After(to) {
		return apperr.Validation("from %s is after to %s", from.Format(dateLayout), to.Format(dateLayout))
	}
	if to.Sub(from) > maxRangeDays*24*time.Hour {
		return apperr.Validation("date range exceeds %d days", maxRangeDays)
	}
	return nil
}

// ownSchedule loads the schedule and checks the caller is its doctor.
func (m *Marker) ownSchedule(ctx context.Context, caller auth.Caller, scheduleID int64) (*scheduling.Schedule, error) {
	s, err := m.schedules.Get(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin && (caller.DoctorID == nil || *caller.DoctorID != s.DoctorID) {
		return nil, apperr.Forbidden.With("schedule %d belongs to another doctor", s.ID)
	}
	return s, nil
}

func (m *Marker) CheckIn(ctx context.Context, caller auth.Caller, scheduleID int64, pos Position) (*Record, error) {
	var out *Record
	err := m.tx.WithTx(ctx, func(ctx context.Context) error {
		s, err := m.ownSchedule(ctx, caller, scheduleID)
		if err != nil {
			return err
		}
		if s.Status != scheduling.StatusActive {
			return apperr.ScheduleSuspended.With("schedule %d is suspended", s.ID)
		}
		if !s.Date.Equal(m.today()) {
			return apperr.InvalidTransition.With("schedule %d is on %s, check-in is only open that day",
				s.ID, s.Date.Format(dateLayout))
		}
		existing, err := m.repo.GetBySchedule(ctx, s.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.InvalidTransition.With("schedule %d is already %s", s.ID, existing.Status)
		}
		now := m.now()
		rec := &Record{
			ScheduleID:   s.ID,
			DoctorID:     s.DoctorID,
			ScheduleDate: s.Date,
			Section:      s.Section,
			CheckinTime:  &now,
			CheckinLat:   &pos.Lat,
			CheckinLng:   &pos.Lng,
			Status:       StatusCheckedIn,
		}
		if err := m.repo.Create(ctx, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, err
}

func (m *Marker) CheckOut(ctx context.Context, caller auth.Caller, scheduleID int64, pos Position) (*Record, error) {
	var out *Record
	err := m.tx.WithTx(ctx, func(ctx context.Context) error {
		if _, err := m.ownSchedule(ctx, caller, scheduleID); err != nil {
			return err
		}
		rec, err := m.repo.GetBySchedule(ctx, scheduleID)
		if err != nil {
			return err
		}
		if rec == nil || rec.Status != StatusCheckedIn {
			return apperr.InvalidTransition.With("schedule %d has no open check-in", scheduleID)
		}
		now := m.now()
		minutes := int(now.Sub(*rec.CheckinTime).Minutes())
		rec.CheckoutTime = &now
		rec.CheckoutLat = &pos.Lat
		rec.CheckoutLng = &pos.Lng
		rec.WorkDurationMinutes = &minutes
		rec.Status = StatusCheckedOut
		if err := m.repo.Update(ctx, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, err
}

// AbsenceStats summarizes absent records per doctor over [from, to].
func (m *Marker) AbsenceStats(ctx context.Context, from, to time.Time, doctorID *int64) (*AbsenceReport, error) {
	from, to = scheduling.DateOnly(from), scheduling.DateOnly(to)
	if err := validateRange(from, to); err != nil {
		return nil, err
	}
	records, err := m.repo.ListAbsent(ctx, from, to, doctorID)
	if err != nil {
		return nil, err
	}
	counts := make(map[int64]int)
	for _, r := range records {
		counts[r.DoctorID]++
	}
	report := &AbsenceReport{
		From:        from.Format(dateLayout),
		To:          to.Format(dateLayout),
		TotalAbsent: len(records),
		Doctors:     make([]DoctorAbsence, 0, len(counts)),
		Records:     records,
	}
	for id, n := range counts {
		report.Doctors = append(report.Doctors, DoctorAbsence{DoctorID: id, AbsentCount: n})
	}
	sort.Slice(report.Doctors, func(i, j int) bool {
		if report.Doctors[i].AbsentCount != report.Doctors[j].AbsentCount {
			return report.Doctors[i].AbsentCount > report.Doctors[j].AbsentCount
		}
		return report.Doctors[i].DoctorID < report.Doctors[j].DoctorID
	})
	return report, nil
}
