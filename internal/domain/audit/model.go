package audit

import (
	"encoding/json"
	"time"

	"github.com/hospital/outpatient/internal/domain/tierconfig"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusRejected
}

const dateLayout = "2006-01-02"

// Decision is the one-shot outcome recorded on every proposal kind.
type Decision struct {
	AuditorID   *int64     `json:"auditor_id"`
	AuditTime   *time.Time `json:"audit_time"`
	AuditRemark *string    `json:"audit_remark,omitempty"`
}

// GridCell assigns a doctor to one (day, shift) of a proposed week. Zero
// SlotType and TotalSlots take the clinic's schedule defaults.
type GridCell struct {
	DoctorID   int64               `json:"doctor_id"`
	SlotType   tierconfig.SlotType `json:"slot_type,omitempty"`
	TotalSlots int                 `json:"total_slots,omitempty"`
}

// Grid is indexed by day offset from the week start (0-6) and shift
// (tierconfig.Sections order). A nil cell leaves that shift unscheduled.
type Grid [7][3]*GridCell

// CellError reports a grid cell that could not be materialized.
type CellError struct {
	Day      int                `json:"day"`
	Shift    int                `json:"shift"`
	Date     string             `json:"date"`
	Section  tierconfig.Section `json:"section"`
	DoctorID int64              `json:"doctor_id"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
}

type ScheduleAudit struct {
	ID          int64       `json:"audit_id"`
	SubmitterID int64       `json:"submitter_id"`
	ClinicID    int64       `json:"clinic_id"`
	MinorDeptID *int64      `json:"minor_dept_id,omitempty"`
	WeekStart   time.Time   `json:"week_start"`
	WeekEnd     time.Time   `json:"week_end"`
	Grid        Grid        `json:"grid"`
	Remark      string      `json:"remark"`
	Status      Status      `json:"status"`
	CellErrors  []CellError `json:"cell_errors,omitempty"`
	Decision
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a ScheduleAudit) MarshalJSON() ([]byte, error) {
	type plain ScheduleAudit
	return json.Marshal(struct {
		plain
		WeekStart string `json:"week_start"`
		WeekEnd   string `json:"week_end"`
	}{plain(a), a.WeekStart.Format(dateLayout), a.WeekEnd.Format(dateLayout)})
}

// ScheduleApproval is the result of approving a schedule proposal.
type ScheduleApproval struct {
	Audit      *ScheduleAudit `json:"audit"`
	Created    []int64        `json:"created_schedule_ids"`
	CellErrors []CellError    `json:"cell_errors"`
}

// LeaveShift is a time section or the whole day.
type LeaveShift string

const LeaveFullDay LeaveShift = "full"

// Sections expands the shift to the time sections it covers.
func (s LeaveShift) Sections() []tierconfig.Section {
	if s == LeaveFullDay {
		return tierconfig.Sections[:]
	}
	return []tierconfig.Section{tierconfig.Section(s)}
}

func (s LeaveShift) Valid() bool {
	return s == LeaveFullDay || tierconfig.Section(s).Valid()
}

// Attachment is metadata only; the file lives in external storage.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type LeaveAudit struct {
	ID          int64        `json:"audit_id"`
	DoctorID    int64        `json:"doctor_id"`
	SubmitterID int64        `json:"submitter_id"`
	StartDate   time.Time    `json:"start_date"`
	EndDate     time.Time    `json:"end_date"`
	Shift       LeaveShift   `json:"shift"`
	Reason      string       `json:"reason"`
	Attachments []Attachment `json:"attachments"`
	Status      Status       `json:"status"`
	Decision
	AffectedSchedules *int      `json:"affected_schedules,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (a LeaveAudit) MarshalJSON() ([]byte, error) {
	type plain LeaveAudit
	return json.Marshal(struct {
		plain
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}{plain(a), a.StartDate.Format(dateLayout), a.EndDate.Format(dateLayout)})
}

type AddSlotAudit struct {
	ID          int64               `json:"audit_id"`
	ScheduleID  int64               `json:"schedule_id"`
	DoctorID    int64               `json:"doctor_id"`
	PatientID   int64               `json:"patient_id"`
	SlotType    tierconfig.SlotType `json:"slot_type"`
	Reason      string              `json:"reason"`
	ApplicantID int64               `json:"applicant_id"`
	Status      Status              `json:"status"`
	Decision
	OrderID   *int64    `json:"order_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Filter struct {
	Status   *Status
	ClinicID *int64
	DoctorID *int64
}

type ScheduleSubmission struct {
	ClinicID    int64
	MinorDeptID *int64
	WeekStart   time.Time
	Grid        Grid
	Remark      string
}

type LeaveSubmission struct {
	DoctorID    int64
	StartDate   time.Time
	EndDate     time.Time
	Shift       LeaveShift
	Reason      string
	Attachments []Attachment
}

type AddSlotSubmission struct {
	ScheduleID int64
	PatientID  int64
	SlotType   tierconfig.SlotType
	Reason     string
}
