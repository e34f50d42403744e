package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hospital/outpatient/internal/platform/apperr"
	"github.com/hospital/outpatient/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Executor {
	return db.ExecutorFrom(ctx, r.pool)
}

// listQuery builds the shared WHERE clause for proposal listings. ownerCol
// is the column the ClinicID or DoctorID filter applies to.
func listQuery(f Filter, ownerCol string) (string, []interface{}) {
	cond := "1=1"
	var args []interface{}
	if f.Status != nil {
		args = append(args, *f.Status)
		cond += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if ownerCol == "clinic_id" && f.ClinicID != nil {
		args = append(args, *f.ClinicID)
		cond += fmt.Sprintf(" AND clinic_id = $%d", len(args))
	}
	if ownerCol == "doctor_id" && f.DoctorID != nil {
		args = append(args, *f.DoctorID)
		cond += fmt.Sprintf(" AND doctor_id = $%d", len(args))
	}
	return cond, args
}

func list[T any](ctx context.Context, q db.Executor, table, cols, cond string, args []interface{},
	limit, offset int, scan func(pgx.Row) (*T, error)) ([]*T, int, error) {
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM `+table+` WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY created_at DESC, audit_id DESC LIMIT $%d OFFSET $%d`,
		cols, table, cond, len(args)+1, len(args)+2)
	rows, err := q.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

func notFound(kind string, id int64, err error) error {
	if db.IsNoRows(err) {
		return apperr.NotFoundf("%s audit %d not found", kind, id)
	}
	return err
}

// =========== Schedule audits ===========

const scheduleAuditCols = `audit_id, submitter_id, clinic_id, minor_dept_id, week_start, week_end, grid,
	remark, status, auditor_id, audit_time, audit_remark, cell_errors, created_at, updated_at`

func scanScheduleAudit(row pgx.Row) (*ScheduleAudit, error) {
	var a ScheduleAudit
	var grid, cellErrs []byte
	err := row.Scan(&a.ID, &a.SubmitterID, &a.ClinicID, &a.MinorDeptID, &a.WeekStart, &a.WeekEnd, &grid,
		&a.Remark, &a.Status, &a.AuditorID, &a.AuditTime, &a.AuditRemark, &cellErrs, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(grid, &a.Grid); err != nil {
		return nil, fmt.Errorf("decode grid of audit %d: %w", a.ID, err)
	}
	if len(cellErrs) > 0 {
		if err := json.Unmarshal(cellErrs, &a.CellErrors); err != nil {
			return nil, fmt.Errorf("decode cell errors of audit %d: %w", a.ID, err)
		}
	}
	return &a, nil
}

func (r *repoPG) CreateSchedule(ctx context.Context, a *ScheduleAudit) error {
	grid, err := json.Marshal(a.Grid)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO schedule_audit (submitter_id, clinic_id, minor_dept_id, week_start, week_end, grid, remark, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING audit_id, created_at, updated_at`,
		a.SubmitterID, a.ClinicID, a.MinorDeptID, a.WeekStart, a.WeekEnd, grid, a.Remark, a.Status,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if db.IsUniqueViolation(err, "uq_schedule_audit_week") {
		return apperr.ScheduleConflict.With("clinic %d already has a pending or approved proposal for the week of %s",
			a.ClinicID, a.WeekStart.Format(dateLayout))
	}
	return err
}

func (r *repoPG) getSchedule(ctx context.Context, id int64, suffix string) (*ScheduleAudit, error) {
	a, err := scanScheduleAudit(r.conn(ctx).QueryRow(ctx,
		`SELECT `+scheduleAuditCols+` FROM schedule_audit WHERE audit_id = $1`+suffix, id))
	return a, notFound("schedule", id, err)
}

func (r *repoPG) GetSchedule(ctx context.Context, id int64) (*ScheduleAudit, error) {
	return r.getSchedule(ctx, id, "")
}

func (r *repoPG) GetScheduleForUpdate(ctx context.Context, id int64) (*ScheduleAudit, error) {
	return r.getSchedule(ctx, id, " FOR UPDATE")
}

func (r *repoPG) DecideSchedule(ctx context.Context, a *ScheduleAudit) error {
	var cellErrs []byte
	if a.CellErrors != nil {
		var err error
		if cellErrs, err = json.Marshal(a.CellErrors); err != nil {
			return err
		}
	}
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE schedule_audit SET status=$2, auditor_id=$3, audit_time=$4, audit_remark=$5, cell_errors=$6,
			updated_at=NOW()
		WHERE audit_id = $1
		RETURNING updated_at`,
		a.ID, a.Status, a.AuditorID, a.AuditTime, a.AuditRemark, cellErrs,
	).Scan(&a.UpdatedAt)
}

func (r *repoPG) ListSchedule(ctx context.Context, f Filter, limit, offset int) ([]*ScheduleAudit, int, error) {
	cond, args := listQuery(f, "clinic_id")
	return list(ctx, r.conn(ctx), "schedule_audit", scheduleAuditCols, cond, args, limit, offset, scanScheduleAudit)
}

// =========== Leave audits ===========

const leaveAuditCols = `audit_id, doctor_id, submitter_id, start_date, end_date, shift, reason, attachments,
	status, auditor_id, audit_time, audit_remark, affected_schedules, created_at, updated_at`

func scanLeaveAudit(row pgx.Row) (*LeaveAudit, error) {
	var a LeaveAudit
	var attachments []byte
	err := row.Scan(&a.ID, &a.DoctorID, &a.SubmitterID, &a.StartDate, &a.EndDate, &a.Shift, &a.Reason, &attachments,
		&a.Status, &a.AuditorID, &a.AuditTime, &a.AuditRemark, &a.AffectedSchedules, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(attachments, &a.Attachments); err != nil {
		return nil, fmt.Errorf("decode attachments of leave %d: %w", a.ID, err)
	}
	return &a, nil
}

func (r *repoPG) CreateLeave(ctx context.Context, a *LeaveAudit) error {
	if a.Attachments == nil {
		a.Attachments = []Attachment{}
	}
	attachments, err := json.Marshal(a.Attachments)
	if err != nil {
		return err
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO leave_audit (doctor_id, submitter_id, start_date, end_date, shift, reason, attachments, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING audit_id, created_at, updated_at`,
		a.DoctorID, a.SubmitterID, a.StartDate, a.EndDate, a.Shift, a.Reason, attachments, a.Status,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

func (r *repoPG) getLeave(ctx context.Context, id int64, suffix string) (*LeaveAudit, error) {
	a, err := scanLeaveAudit(r.conn(ctx).QueryRow(ctx,
		`SELECT `+leaveAuditCols+` FROM leave_audit WHERE audit_id = $1`+suffix, id))
	return a, notFound("leave", id, err)
}

func (r *repoPG) GetLeave(ctx context.Context, id int64) (*LeaveAudit, error) {
	return r.getLeave(ctx, id, "")
}

func (r *repoPG) GetLeaveForUpdate(ctx context.Context, id int64) (*LeaveAudit, error) {
	return r.getLeave(ctx, id, " FOR UPDATE")
}

func (r *repoPG) DecideLeave(ctx context.Context, a *LeaveAudit) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE leave_audit SET status=$2, auditor_id=$3, audit_time=$4, audit_remark=$5, affected_schedules=$6,
			updated_at=NOW()
		WHERE audit_id = $1
		RETURNING updated_at`,
		a.ID, a.Status, a.AuditorID, a.AuditTime, a.AuditRemark, a.AffectedSchedules,
	).Scan(&a.UpdatedAt)
}

func (r *repoPG) ListLeave(ctx context.Context, f Filter, limit, offset int) ([]*LeaveAudit, int, error) {
	cond, args := listQuery(f, "doctor_id")
	return list(ctx, r.conn(ctx), "leave_audit", leaveAuditCols, cond, args, limit, offset, scanLeaveAudit)
}

// =========== Add-slot audits ===========

const addSlotAuditCols = `audit_id, schedule_id, doctor_id, patient_id, slot_type, reason, applicant_id,
	status, auditor_id, audit_time, audit_remark, order_id, created_at, updated_at`

func scanAddSlotAudit(row pgx.Row) (*AddSlotAudit, error) {
	var a AddSlotAudit
	err := row.Scan(&a.ID, &a.ScheduleID, &a.DoctorID, &a.PatientID, &a.SlotType, &a.Reason, &a.ApplicantID,
		&a.Status, &a.AuditorID, &a.AuditTime, &a.AuditRemark, &a.OrderID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repoPG) CreateAddSlot(ctx context.Context, a *AddSlotAudit) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO add_slot_audit (schedule_id, doctor_id, patient_id, slot_type, reason, applicant_id, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING audit_id, created_at, updated_at`,
		a.ScheduleID, a.DoctorID, a.PatientID, a.SlotType, a.Reason, a.ApplicantID, a.Status,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

func (r *repoPG) getAddSlot(ctx context.Context, id int64, suffix string) (*AddSlotAudit, error) {
	a, err := scanAddSlotAudit(r.conn(ctx).QueryRow(ctx,
		`SELECT `+addSlotAuditCols+` FROM add_slot_audit WHERE audit_id = $1`+suffix, id))
	return a, notFound("add-slot", id, err)
}

func (r *repoPG) GetAddSlot(ctx context.Context, id int64) (*AddSlotAudit, error) {
	return r.getAddSlot(ctx, id, "")
}

func (r *repoPG) GetAddSlotForUpdate(ctx context.Context, id int64) (*AddSlotAudit, error) {
	return r.getAddSlot(ctx, id, " FOR UPDATE")
}

func (r *repoPG) DecideAddSlot(ctx context.Context, a *AddSlotAudit) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE add_slot_audit SET status=$2, auditor_id=$3, audit_time=$4, audit_remark=$5, order_id=$6,
			updated_at=NOW()
		WHERE audit_id = $1
		RETURNING updated_at`,
		a.ID, a.Status, a.AuditorID, a.AuditTime, a.AuditRemark, a.OrderID,
	).Scan(&a.UpdatedAt)
}

func (r *repoPG) ListAddSlot(ctx context.Context, f Filter, limit, offset int) ([]*AddSlotAudit, int, error) {
	cond, args := listQuery(f, "doctor_id")
	return list(ctx, r.conn(ctx), "add_slot_audit", addSlotAuditCols, cond, args, limit, offset, scanAddSlotAudit)
}
