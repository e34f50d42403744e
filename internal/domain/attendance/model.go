package attendance

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hospital/outpatient/internal/domain/tierconfig"
)

type Status string

const (
	StatusCheckedIn  Status = "checked_in"
	StatusCheckedOut Status = "checked_out"
	StatusAbsent     Status = "absent"
)

// Record is the attendance outcome of one schedule.
type Record struct {
	ID                  int64              `json:"record_id"`
	ScheduleID          int64              `json:"schedule_id"`
	DoctorID            int64              `json:"doctor_id"`
	ScheduleDate        time.Time          `json:"schedule_date"`
	Section             tierconfig.Section `json:"time_section,omitempty"`
	CheckinTime         *time.Time         `json:"checkin_time,omitempty"`
	CheckinLat          *decimal.Decimal   `json:"checkin_lat,omitempty"`
	CheckinLng          *decimal.Decimal   `json:"checkin_lng,omitempty"`
	CheckoutTime        *time.Time         `json:"checkout_time,omitempty"`
	CheckoutLat         *decimal.Decimal   `json:"checkout_lat,omitempty"`
	CheckoutLng         *decimal.Decimal   `json:"checkout_lng,omitempty"`
	WorkDurationMinutes *int               `json:"work_duration_minutes,omitempty"`
	Status              Status             `json:"status"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// ScheduleRef is the part of a schedule the marker needs.
type ScheduleRef struct {
	ScheduleID int64
	DoctorID   int64
	Date       time.Time
}

type Position struct {
	Lat decimal.Decimal `json:"lat"`
	Lng decimal.Decimal `json:"lng"`
}

type DayStats struct {
	Date           string `json:"date"`
	TotalSchedules int    `json:"total_schedules"`
	AbsentMarked   int    `json:"absent_marked"`
	AlreadyMarked  int    `json:"already_marked"`
}

type DoctorAbsence struct {
	DoctorID    int64 `json:"doctor_id"`
	AbsentCount int   `json:"absent_count"`
}

type AbsenceReport struct {
	From        string          `json:"from"`
	To          string          `json:"to"`
	TotalAbsent int             `json:"total_absent"`
	Doctors     []DoctorAbsence `json:"doctor_statistics"`
	Records     []*Record       `json:"records"`
}
