package booking

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hospital/outpatient/internal/platform/apperr"
	"github.com/hospital/outpatient/internal/platform/db"
)

const constraintPatientSchedule = "uq_order_patient_schedule"

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Executor {
	return db.ExecutorFrom(ctx, r.pool)
}

const orderCols = `order_id, patient_id, schedule_id, doctor_id, slot_date, time_section, slot_type,
	queue_number, status, origin, is_call, call_time, visit_time, pass_count, priority,
	waitlist_position, symptoms, pay_amount, payment_status, paid_at, pending_since,
	cancelled_by, cancel_reason, cancelled_at, requested_by, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.PatientID, &o.ScheduleID, &o.DoctorID, &o.SlotDate, &o.Section, &o.SlotType,
		&o.QueueNumber, &o.Status, &o.Origin, &o.IsCall, &o.CallTime, &o.VisitTime, &o.PassCount, &o.Priority,
		&o.WaitlistPosition, &o.Symptoms, &o.PayAmount, &o.PaymentStatus, &o.PaidAt, &o.PendingSince,
		&o.CancelledBy, &o.CancelReason, &o.CancelledAt, &o.RequestedBy, &o.CreatedAt, &o.UpdatedAt)
	return &o, err
}

func collect(rows pgx.Rows) ([]*Order, error) {
	defer rows.Close()
	var items []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, o *Order) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO registration_order (patient_id, schedule_id, doctor_id, slot_date, time_section, slot_type,
			queue_number, status, origin, priority, waitlist_position, symptoms, pay_amount, payment_status,
			pending_since, requested_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING order_id, created_at, updated_at`,
		o.PatientID, o.ScheduleID, o.DoctorID, o.SlotDate, o.Section, o.SlotType,
		o.QueueNumber, o.Status, o.Origin, o.Priority, o.WaitlistPosition, o.Symptoms, o.PayAmount, o.PaymentStatus,
		o.PendingSince, o.RequestedBy,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if db.IsUniqueViolation(err, constraintPatientSchedule) {
		return apperr.DuplicateBooking.Wrap(err)
	}
	return err
}

func (r *repoPG) get(ctx context.Context, id int64, suffix string) (*Order, error) {
	o, err := scanOrder(r.conn(ctx).QueryRow(ctx,
		`SELECT `+orderCols+` FROM registration_order WHERE order_id = $1`+suffix, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFoundf("order %d not found", id)
	}
	return o, err
}

func (r *repoPG) Get(ctx context.Context, id int64) (*Order, error) {
	return r.get(ctx, id, "")
}

func (r *repoPG) GetForUpdate(ctx context.Context, id int64) (*Order, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *repoPG) Update(ctx context.Context, o *Order) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE registration_order SET queue_number=$2, status=$3, is_call=$4, call_time=$5, visit_time=$6,
			pass_count=$7, priority=$8, waitlist_position=$9, payment_status=$10, paid_at=$11,
			pending_since=$12, cancelled_by=$13, cancel_reason=$14, cancelled_at=$15, updated_at=NOW()
		WHERE order_id = $1
		RETURNING updated_at`,
		o.ID, o.QueueNumber, o.Status, o.IsCall, o.CallTime, o.VisitTime,
		o.PassCount, o.Priority, o.WaitlistPosition, o.PaymentStatus, o.PaidAt,
		o.PendingSince, o.CancelledBy, o.CancelReason, o.CancelledAt,
	).Scan(&o.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.NotFoundf("order %d not found", o.ID)
	}
	return err
}

func (r *repoPG) HasLive(ctx context.Context, patientID, scheduleID int64) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM registration_order
			WHERE patient_id = $1 AND schedule_id = $2 AND status <> 'cancelled')`,
		patientID, scheduleID).Scan(&exists)
	return exists, err
}

func (r *repoPG) CountInPeriod(ctx context.Context, patientID int64, from, to time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM registration_order
		WHERE patient_id = $1 AND slot_date > $2 AND slot_date <= $3 AND status <> 'cancelled'`,
		patientID, from, to).Scan(&n)
	return n, err
}

// NextQueueNumber runs under the schedule row lock, so max+1 is stable.
func (r *repoPG) NextQueueNumber(ctx context.Context, scheduleID int64) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(MAX(queue_number), 0) + 1 FROM registration_order WHERE schedule_id = $1`,
		scheduleID).Scan(&n)
	return n, err
}

func (r *repoPG) NextWaitlistPosition(ctx context.Context, scheduleID int64) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(MAX(waitlist_position), 0) + 1 FROM registration_order
		WHERE schedule_id = $1 AND status = 'waitlist'`,
		scheduleID).Scan(&n)
	return n, err
}

func (r *repoPG) WaitlistHead(ctx context.Context, scheduleID int64) (*Order, error) {
	o, err := scanOrder(r.conn(ctx).QueryRow(ctx, `
		SELECT `+orderCols+` FROM registration_order
		WHERE schedule_id = $1 AND status = 'waitlist'
		ORDER BY waitlist_position, created_at, order_id
		LIMIT 1
		FOR UPDATE`, scheduleID))
	if db.IsNoRows(err) {
		return nil, nil
	}
	return o, err
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID int64, status *Status, limit, offset int) ([]*Order, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM registration_order
		WHERE patient_id = $1 AND ($2::text IS NULL OR status = $2)`,
		patientID, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+orderCols+` FROM registration_order
		WHERE patient_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY slot_date DESC, order_id DESC
		LIMIT $3 OFFSET $4`,
		patientID, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collect(rows)
	return items, total, err
}

func (r *repoPG) ListBySchedule(ctx context.Context, scheduleID int64) ([]*Order, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+orderCols+` FROM registration_order
		WHERE schedule_id = $1
		ORDER BY priority, queue_number NULLS LAST, waitlist_position NULLS LAST, created_at, order_id`,
		scheduleID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *repoPG) ListPendingUnpaid(ctx context.Context, before time.Time, limit int) ([]*Order, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+orderCols+` FROM registration_order
		WHERE status = 'pending' AND payment_status = 'unpaid' AND pending_since <= $1
		ORDER BY pending_since, order_id
		LIMIT $2`,
		before, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}
