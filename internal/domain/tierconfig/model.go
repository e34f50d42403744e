package tierconfig

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Scope string

const (
	ScopeGlobal    Scope = "GLOBAL"
	ScopeMinorDept Scope = "MINOR_DEPT"
	ScopeClinic    Scope = "CLINIC"
	ScopeDoctor    Scope = "DOCTOR"
)

func (s Scope) Valid() bool {
	switch s {
	case ScopeGlobal, ScopeMinorDept, ScopeClinic, ScopeDoctor:
		return true
	}
	return false
}

// Configuration keys.
const (
	KeyPrice        = "registration.price"
	KeyRegistration = "registration"
	KeySchedule     = "schedule"
)

// SlotType is the fee tier of a schedule.
type SlotType string

const (
	SlotNormal  SlotType = "normal"
	SlotExpert  SlotType = "expert"
	SlotSpecial SlotType = "special"
)

func (t SlotType) Valid() bool {
	switch t {
	case SlotNormal, SlotExpert, SlotSpecial:
		return true
	}
	return false
}

// Section is a shift within a day.
type Section string

const (
	SectionMorning   Section = "morning"
	SectionAfternoon Section = "afternoon"
	SectionEvening   Section = "evening"
)

// Sections lists the shifts in day order; the index is the grid column.
var Sections = [3]Section{SectionMorning, SectionAfternoon, SectionEvening}

func (s Section) Valid() bool {
	switch s {
	case SectionMorning, SectionAfternoon, SectionEvening:
		return true
	}
	return false
}

// DefaultPrices apply when no tier configures a price for the slot type.
var DefaultPrices = map[SlotType]decimal.Decimal{
	SlotNormal:  decimal.NewFromInt(50),
	SlotExpert:  decimal.NewFromInt(100),
	SlotSpecial: decimal.NewFromInt(500),
}

// Target identifies whose configuration applies. MinorDeptID may be left nil;
// the resolver then looks it up from the clinic.
type Target struct {
	DoctorID    int64
	ClinicID    int64
	MinorDeptID *int64
}

// Entry is one tier_config row.
type Entry struct {
	ID        int64           `json:"config_id"`
	Scope     Scope           `json:"scope"`
	ScopeID   *int64          `json:"scope_id,omitempty"`
	Key       string          `json:"config_key"`
	Value     json.RawMessage `json:"config_value"`
	IsActive  bool            `json:"is_active"`
	UpdatedBy *int64          `json:"updated_by,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RegistrationPolicy is the booking policy stored under KeyRegistration.
// A JSON null at any tier leaves the field to the next tier up.
type RegistrationPolicy struct {
	CancelHoursBefore        int  `json:"cancelHoursBefore"`
	MaxAppointmentsPerPeriod int  `json:"maxAppointmentsPerPeriod"`
	AppointmentPeriodDays    int  `json:"appointmentPeriodDays"`
	PaymentRequired          bool `json:"paymentRequired"`
	// MaxPassCount turns an order into a no-show once it has been passed
	// this many times. Zero keeps passed patients in the queue forever.
	MaxPassCount          int `json:"maxPassCount"`
	PaymentTimeoutMinutes int `json:"paymentTimeoutMinutes"`
}

func DefaultRegistrationPolicy() RegistrationPolicy {
	return RegistrationPolicy{
		CancelHoursBefore:        2,
		MaxAppointmentsPerPeriod: 10,
		AppointmentPeriodDays:    8,
		PaymentRequired:          true,
		MaxPassCount:             0,
		PaymentTimeoutMinutes:    30,
	}
}

func (p RegistrationPolicy) validate() error {
	switch {
	case p.CancelHoursBefore < 0:
		return fmt.Errorf("cancelHoursBefore must not be negative")
	case p.MaxAppointmentsPerPeriod < 1:
		return fmt.Errorf("maxAppointmentsPerPeriod must be at least 1")
	case p.AppointmentPeriodDays < 1:
		return fmt.Errorf("appointmentPeriodDays must be at least 1")
	case p.MaxPassCount < 0:
		return fmt.Errorf("maxPassCount must not be negative")
	case p.PaymentTimeoutMinutes < 1:
		return fmt.Errorf("paymentTimeoutMinutes must be at least 1")
	}
	return nil
}

// SchedulePolicy is stored under KeySchedule: the wall-clock window of each
// section and the defaults used when a weekly grid is materialized.
type SchedulePolicy struct {
	MorningStart      string   `json:"morningStart"`
	MorningEnd        string   `json:"morningEnd"`
	AfternoonStart    string   `json:"afternoonStart"`
	AfternoonEnd      string   `json:"afternoonEnd"`
	EveningStart      string   `json:"eveningStart"`
	EveningEnd        string   `json:"eveningEnd"`
	DefaultTotalSlots int      `json:"defaultTotalSlots"`
	DefaultSlotType   SlotType `json:"defaultSlotType"`
}

func DefaultSchedulePolicy() SchedulePolicy {
	return SchedulePolicy{
		MorningStart:      "08:00",
		MorningEnd:        "12:00",
		AfternoonStart:    "13:30",
		AfternoonEnd:      "17:30",
		EveningStart:      "18:00",
		EveningEnd:        "21:00",
		DefaultTotalSlots: 50,
		DefaultSlotType:   SlotNormal,
	}
}

// Window returns the start and end clock strings of section.
func (p SchedulePolicy) Window(s Section) (start, end string) {
	switch s {
	case SectionMorning:
		return p.MorningStart, p.MorningEnd
	case SectionAfternoon:
		return p.AfternoonStart, p.AfternoonEnd
	default:
		return p.EveningStart, p.EveningEnd
	}
}

// SectionStart returns the instant section begins on date, in loc.
func (p SchedulePolicy) SectionStart(date time.Time, s Section, loc *time.Location) (time.Time, error) {
	start, _ := p.Window(s)
	h, m, err := parseClock(start)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(date.Year(), date.Month(), date.Day(), h, m, 0, 0, loc), nil
}

func (p SchedulePolicy) validate() error {
	for _, s := range Sections {
		start, end := p.Window(s)
		sh, sm, err := parseClock(start)
		if err != nil {
			return err
		}
		eh, em, err := parseClock(end)
		if err != nil {
			return err
		}
		if eh*60+em <= sh*60+sm {
			return fmt.Errorf("%s ends before it starts", s)
		}
	}
	if p.DefaultTotalSlots < 1 {
		return fmt.Errorf("defaultTotalSlots must be at least 1")
	}
	if !p.DefaultSlotType.Valid() {
		return fmt.Errorf("defaultSlotType %q is not a slot type", p.DefaultSlotType)
	}
	return nil
}

func parseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock time %q", s)
	}
	return t.Hour(), t.Minute(), nil
}
