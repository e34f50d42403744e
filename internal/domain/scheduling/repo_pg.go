package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hospital/outpatient/internal/platform/apperr"
	"github.com/hospital/outpatient/internal/platform/db"
)

const constraintActiveSlot = "uq_schedule_active_slot"

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Executor {
	return db.ExecutorFrom(ctx, r.pool)
}

const scheduleCols = `schedule_id, doctor_id, clinic_id, schedule_date, week_day, time_section,
	slot_type, total_slots, remaining_slots, price, status, created_at, updated_at`

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule
	err := row.Scan(&s.ID, &s.DoctorID, &s.ClinicID, &s.Date, &s.WeekDay, &s.Section,
		&s.SlotType, &s.TotalSlots, &s.RemainingSlots, &s.Price, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func mapWriteErr(err error) error {
	if db.IsUniqueViolation(err, constraintActiveSlot) {
		return apperr.ScheduleConflict.Wrap(err)
	}
	return err
}

func (r *repoPG) Create(ctx context.Context, s *Schedule) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO schedule (doctor_id, clinic_id, schedule_date, week_day, time_section, slot_type,
			total_slots, remaining_slots, price, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING schedule_id, created_at, updated_at`,
		s.DoctorID, s.ClinicID, s.Date, s.WeekDay, s.Section, s.SlotType,
		s.TotalSlots, s.RemainingSlots, s.Price, s.Status,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	return mapWriteErr(err)
}

func (r *repoPG) get(ctx context.Context, id int64, suffix string) (*Schedule, error) {
	s, err := scanSchedule(r.conn(ctx).QueryRow(ctx,
		`SELECT `+scheduleCols+` FROM schedule WHERE schedule_id = $1`+suffix, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFoundf("schedule %d not found", id)
	}
	return s, err
}

func (r *repoPG) Get(ctx context.Context, id int64) (*Schedule, error) {
	return r.get(ctx, id, "")
}

func (r *repoPG) GetForUpdate(ctx context.Context, id int64) (*Schedule, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *repoPG) Update(ctx context.Context, s *Schedule) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE schedule SET doctor_id=$2, clinic_id=$3, schedule_date=$4, week_day=$5, time_section=$6,
			slot_type=$7, total_slots=$8, remaining_slots=$9, price=$10, status=$11, updated_at=NOW()
		WHERE schedule_id = $1
		RETURNING updated_at`,
		s.ID, s.DoctorID, s.ClinicID, s.Date, s.WeekDay, s.Section,
		s.SlotType, s.TotalSlots, s.RemainingSlots, s.Price, s.Status,
	).Scan(&s.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.NotFoundf("schedule %d not found", s.ID)
	}
	return mapWriteErr(err)
}

func (r *repoPG) Delete(ctx context.Context, id int64) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM schedule WHERE schedule_id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Schedule, int, error) {
	where := []string{"1=1"}
	var args []interface{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.ClinicID != nil {
		add("clinic_id = $%d", *f.ClinicID)
	}
	if f.From != nil {
		add("schedule_date >= $%d", *f.From)
	}
	if f.To != nil {
		add("schedule_date <= $%d", *f.To)
	}
	if f.Section != nil {
		add("time_section = $%d", *f.Section)
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM schedule WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM schedule WHERE %s
		ORDER BY schedule_date, time_section, doctor_id, schedule_id LIMIT $%d OFFSET $%d`,
		scheduleCols, cond, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

func (r *repoPG) ActiveExists(ctx context.Context, doctorID int64, date time.Time, section Section, excludeID int64) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM schedule
			WHERE doctor_id = $1 AND schedule_date = $2 AND time_section = $3
				AND status = 'active' AND schedule_id <> $4)`,
		doctorID, date, section, excludeID).Scan(&exists)
	return exists, err
}

func (r *repoPG) AdjustRemaining(ctx context.Context, id int64, delta int) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE schedule SET remaining_slots = remaining_slots + $2, updated_at = NOW()
		WHERE schedule_id = $1
			AND remaining_slots + $2 >= 0
			AND remaining_slots + $2 <= total_slots`,
		id, delta)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) Grow(ctx context.Context, id int64, n int) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE schedule SET total_slots = total_slots + $2, remaining_slots = remaining_slots + $2,
			updated_at = NOW()
		WHERE schedule_id = $1`, id, n)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFoundf("schedule %d not found", id)
	}
	return nil
}

func (r *repoPG) SuspendOverlapping(ctx context.Context, doctorID int64, from, to time.Time, sections []Section) (int, error) {
	names := make([]string, len(sections))
	for i, s := range sections {
		names[i] = string(s)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE schedule SET status = 'suspended', updated_at = NOW()
		WHERE doctor_id = $1 AND schedule_date BETWEEN $2 AND $3
			AND time_section = ANY($4) AND status = 'active'`,
		doctorID, from, to, names)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
