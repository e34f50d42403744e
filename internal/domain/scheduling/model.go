package scheduling

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hospital/outpatient/internal/domain/tierconfig"
)

type (
	SlotType = tierconfig.SlotType
	Section  = tierconfig.Section
)

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

func (s Status) Valid() bool {
	return s == StatusActive || s == StatusSuspended
}

const dateLayout = "2006-01-02"

// Schedule is one doctor's published capacity for a date and section.
type Schedule struct {
	ID             int64           `json:"schedule_id"`
	DoctorID       int64           `json:"doctor_id"`
	ClinicID       int64           `json:"clinic_id"`
	Date           time.Time       `json:"date"`
	WeekDay        int             `json:"week_day"`
	Section        Section         `json:"time_section"`
	SlotType       SlotType        `json:"slot_type"`
	TotalSlots     int             `json:"total_slots"`
	RemainingSlots int             `json:"remaining_slots"`
	Price          decimal.Decimal `json:"price"`
	Status         Status          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// MarshalJSON renders Date as a calendar date.
func (s Schedule) MarshalJSON() ([]byte, error) {
	type plain Schedule
	return json.Marshal(struct {
		plain
		Date string `json:"date"`
	}{plain: plain(s), Date: s.Date.Format(dateLayout)})
}

// Target returns the tier-config target the schedule's price resolves against.
func (s *Schedule) Target() tierconfig.Target {
	return tierconfig.Target{DoctorID: s.DoctorID, ClinicID: s.ClinicID}
}

// Booked is the number of slots currently taken out of the published total.
func (s *Schedule) Booked() int {
	return s.TotalSlots - s.RemainingSlots
}

// WeekDay returns the ISO weekday of d, 1 for Monday through 7 for Sunday.
func WeekDay(d time.Time) int {
	wd := int(d.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// DateOnly truncates t to midnight UTC of its calendar date.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

type CreateRequest struct {
	DoctorID   int64
	ClinicID   int64
	Date       time.Time
	Section    Section
	SlotType   SlotType
	TotalSlots int
	// Price <= 0 resolves through the tier chain.
	Price decimal.Decimal
	// Status defaults to active.
	Status Status
}

// UpdateRequest carries a partial update; nil fields are left unchanged.
type UpdateRequest struct {
	DoctorID   *int64
	ClinicID   *int64
	Date       *time.Time
	Section    *Section
	SlotType   *SlotType
	TotalSlots *int
	Price      *decimal.Decimal
	Status     *Status
}

type Filter struct {
	DoctorID *int64
	ClinicID *int64
	From     *time.Time
	To       *time.Time
	Section  *Section
	Status   *Status
}
