package attendance

import (
	"context"
	"time"

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

const recordCols = `a.record_id, a.schedule_id, a.doctor_id, a.schedule_date, COALESCE(s.time_section, ''),
	a.checkin_time, a.checkin_lat, a.checkin_lng, a.checkout_time, a.checkout_lat, a.checkout_lng,
	a.work_duration_minutes, a.status, a.created_at, a.updated_at`

const recordFrom = ` FROM attendance_record a LEFT JOIN schedule s ON s.schedule_id = a.schedule_id`

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.ScheduleID, &rec.DoctorID, &rec.ScheduleDate, &rec.Section,
		&rec.CheckinTime, &rec.CheckinLat, &rec.CheckinLng, &rec.CheckoutTime, &rec.CheckoutLat, &rec.CheckoutLng,
		&rec.WorkDurationMinutes, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt)
	return &rec, err
}

func (r *repoPG) ActiveSchedulesOn(ctx context.Context, date time.Time) ([]ScheduleRef, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT schedule_id, doctor_id, schedule_date FROM schedule
		WHERE schedule_date = $1 AND status = 'active'
		ORDER BY schedule_id`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var refs []ScheduleRef
	for rows.Next() {
		var ref ScheduleRef
		if err := rows.Scan(&ref.ScheduleID, &ref.DoctorID, &ref.Date); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (r *repoPG) InsertAbsent(ctx context.Context, ref ScheduleRef) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO attendance_record (schedule_id, doctor_id, schedule_date, status)
		VALUES ($1, $2, $3, 'absent')
		ON CONFLICT (schedule_id) DO NOTHING`,
		ref.ScheduleID, ref.DoctorID, ref.Date)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) GetBySchedule(ctx context.Context, scheduleID int64) (*Record, error) {
	rec, err := scanRecord(r.conn(ctx).QueryRow(ctx,
		`SELECT `+recordCols+recordFrom+` WHERE a.schedule_id = $1 FOR UPDATE OF a`, scheduleID))
	if db.IsNoRows(err) {
		return nil, nil
	}
	return rec, err
}

func (r *repoPG) Create(ctx context.Context, rec *Record) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO attendance_record (schedule_id, doctor_id, schedule_date, checkin_time, checkin_lat,
			checkin_lng, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING record_id, created_at, updated_at`,
		rec.ScheduleID, rec.DoctorID, rec.ScheduleDate, rec.CheckinTime, rec.CheckinLat, rec.CheckinLng, rec.Status,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if db.IsUniqueViolation(err, "uq_attendance_schedule") {
		return apperr.InvalidTransition.With("schedule %d already has an attendance record", rec.ScheduleID)
	}
	return err
}

func (r *repoPG) Update(ctx context.Context, rec *Record) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE attendance_record SET checkout_time=$2, checkout_lat=$3, checkout_lng=$4,
			work_duration_minutes=$5, status=$6, updated_at=NOW()
		WHERE record_id = $1
		RETURNING updated_at`,
		rec.ID, rec.CheckoutTime, rec.CheckoutLat, rec.CheckoutLng, rec.WorkDurationMinutes, rec.Status,
	).Scan(&rec.UpdatedAt)
}

func (r *repoPG) ListAbsent(ctx context.Context, from, to time.Time, doctorID *int64) ([]*Record, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+recordCols+recordFrom+`
		WHERE a.status = 'absent' AND a.schedule_date BETWEEN $1 AND $2
			AND ($3::bigint IS NULL OR a.doctor_id = $3)
		ORDER BY a.schedule_date DESC, a.record_id`,
		from, to, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
