package booking

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hospital/outpatient/internal/domain/tierconfig"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusWaitlist  Status = "waitlist"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusWaitlist, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Terminal statuses are never left again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// Queued reports whether an order in this status holds a slot and can be
// called by the consultation queue.
func (s Status) Queued() bool {
	return s == StatusPending || s == StatusConfirmed
}

type Origin string

const (
	OriginBooking  Origin = "booking"
	OriginAddSlot  Origin = "add_slot"
	OriginWaitlist Origin = "waitlist"
)

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

// AddSlotPriority puts add-slot patients ahead of regular bookings.
const AddSlotPriority = -1

type Order struct {
	ID               int64               `json:"order_id"`
	PatientID        int64               `json:"patient_id"`
	ScheduleID       int64               `json:"schedule_id"`
	DoctorID         int64               `json:"doctor_id"`
	SlotDate         time.Time           `json:"slot_date"`
	Section          tierconfig.Section  `json:"time_section"`
	SlotType         tierconfig.SlotType `json:"slot_type"`
	QueueNumber      *int                `json:"queue_number"`
	Status           Status              `json:"status"`
	Origin           Origin              `json:"origin"`
	IsCall           bool                `json:"is_call"`
	CallTime         *time.Time          `json:"call_time,omitempty"`
	VisitTime        *time.Time          `json:"visit_time,omitempty"`
	PassCount        int                 `json:"pass_count"`
	Priority         int                 `json:"priority"`
	WaitlistPosition *int                `json:"waitlist_position,omitempty"`
	Symptoms         string              `json:"symptoms"`
	PayAmount        decimal.Decimal     `json:"pay_amount"`
	PaymentStatus    PaymentStatus       `json:"payment_status"`
	PaidAt           *time.Time          `json:"paid_at,omitempty"`
	PendingSince     *time.Time          `json:"-"`
	CancelledBy      *int64              `json:"cancelled_by,omitempty"`
	CancelReason     *string             `json:"cancel_reason,omitempty"`
	CancelledAt      *time.Time          `json:"cancelled_at,omitempty"`
	RequestedBy      *int64              `json:"requested_by,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// MarshalJSON renders SlotDate as a calendar date.
func (o Order) MarshalJSON() ([]byte, error) {
	type plain Order
	return json.Marshal(struct {
		plain
		SlotDate string `json:"slot_date"`
	}{plain: plain(o), SlotDate: o.SlotDate.Format("2006-01-02")})
}

type BookRequest struct {
	ScheduleID int64
	PatientID  int64
	Symptoms   string
}

type CancelResult struct {
	OrderID int64 `json:"order_id"`
	// Refund is nil when nothing had been paid.
	Refund *decimal.Decimal `json:"refund_amount"`
	// PromotedOrderID names the waitlist order that took the released slot.
	PromotedOrderID *int64 `json:"promoted_order_id,omitempty"`
}

type ExpireResult struct {
	Scanned  int `json:"scanned"`
	Expired  int `json:"expired"`
	Promoted int `json:"promoted"`
	Failed   int `json:"failed"`
}
