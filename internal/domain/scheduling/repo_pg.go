package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/db"
)

// activeSlotConstraint is the partial unique index over non-cancelled
// (doctor_id, scheduled_at) pairs.
const activeSlotConstraint = "appointment_active_slot_key"

// =========== Schedule Repository ===========

type scheduleRepoPG struct{ pool *pgxpool.Pool }

func NewScheduleRepoPG(pool *pgxpool.Pool) ScheduleRepository { return &scheduleRepoPG{pool: pool} }

func (r *scheduleRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const schedCols = `doctor_id, day_of_week, start_minute, end_minute, updated_at`

func scanScheduleEntry(row pgx.Row) (*WeeklyScheduleEntry, error) {
	var e WeeklyScheduleEntry
	var day, start, end int16
	if err := row.Scan(&e.DoctorID, &day, &start, &end, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.DayOfWeek = time.Weekday(day)
	e.StartTime = TimeOfDay(start)
	e.EndTime = TimeOfDay(end)
	return &e, nil
}

func (r *scheduleRepoPG) Upsert(ctx context.Context, e *WeeklyScheduleEntry) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO weekly_schedule (doctor_id, day_of_week, start_minute, end_minute, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (doctor_id, day_of_week)
		DO UPDATE SET start_minute = EXCLUDED.start_minute, end_minute = EXCLUDED.end_minute,
			updated_at = EXCLUDED.updated_at`,
		e.DoctorID, int16(e.DayOfWeek), int16(e.StartTime), int16(e.EndTime), e.UpdatedAt)
	return db.Classify("upsert weekly schedule", err)
}

func (r *scheduleRepoPG) Delete(ctx context.Context, doctorID uuid.UUID, day time.Weekday) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM weekly_schedule WHERE doctor_id = $1 AND day_of_week = $2`, doctorID, int16(day))
	if err != nil {
		return db.Classify("delete weekly schedule", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("weekly schedule %s/%s: %w", doctorID, day, apperr.ErrNotFound)
	}
	return nil
}

func (r *scheduleRepoPG) Get(ctx context.Context, doctorID uuid.UUID, day time.Weekday) (*WeeklyScheduleEntry, error) {
	e, err := scanScheduleEntry(r.conn(ctx).QueryRow(ctx,
		`SELECT `+schedCols+` FROM weekly_schedule WHERE doctor_id = $1 AND day_of_week = $2`, doctorID, int16(day)))
	if err != nil {
		return nil, db.Classify("get weekly schedule", err)
	}
	return e, nil
}

func (r *scheduleRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*WeeklyScheduleEntry, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+schedCols+` FROM weekly_schedule WHERE doctor_id = $1 ORDER BY day_of_week`, doctorID)
	if err != nil {
		return nil, db.Classify("list weekly schedule", err)
	}
	defer rows.Close()
	var items []*WeeklyScheduleEntry
	for rows.Next() {
		e, err := scanScheduleEntry(rows)
		if err != nil {
			return nil, db.Classify("scan weekly schedule", err)
		}
		items = append(items, e)
	}
	return items, db.Classify("iterate weekly schedule", rows.Err())
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const apptCols = `id, patient_id, doctor_id, scheduled_at, status, reason,
	cancelled_by, cancellation_reason, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.ScheduledAt, &status, &a.Reason,
		&a.CancelledBy, &a.CancellationReason, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = Status(status)
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointment (id, patient_id, doctor_id, scheduled_at, status, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.PatientID, a.DoctorID, a.ScheduledAt, string(a.Status), a.Reason, a.CreatedAt, a.UpdatedAt)
	if db.IsUniqueViolation(err, activeSlotConstraint) {
		return fmt.Errorf("doctor %s at %s: %w", a.DoctorID, a.ScheduledAt.Format(time.RFC3339), apperr.ErrSlotAlreadyTaken)
	}
	return db.Classify("insert appointment", err)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	if err != nil {
		return nil, db.Classify(fmt.Sprintf("get appointment %s", id), err)
	}
	return a, nil
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, change StatusChange) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment
		SET status = $3, cancelled_by = COALESCE($4, cancelled_by),
			cancellation_reason = COALESCE($5, cancellation_reason), updated_at = $6
		WHERE id = $1 AND status = $2`,
		change.AppointmentID, string(change.From), string(change.To),
		change.CancelledBy, change.CancellationReason, change.At)
	if err != nil {
		return false, db.Classify("update appointment status", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *appointmentRepoPG) ListByDoctorBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE doctor_id = $1 AND scheduled_at >= $2 AND scheduled_at < $3
		ORDER BY scheduled_at`, doctorID, from, to)
	if err != nil {
		return nil, db.Classify("list doctor appointments", err)
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, status Status, limit, offset int) ([]*Appointment, int, error) {
	return r.listBy(ctx, "patient_id", patientID, status, limit, offset)
}

func (r *appointmentRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, status Status, limit, offset int) ([]*Appointment, int, error) {
	return r.listBy(ctx, "doctor_id", doctorID, status, limit, offset)
}

// listBy pages appointments for one party, newest first. column is one of
// the two fixed party columns, never user input.
func (r *appointmentRepoPG) listBy(ctx context.Context, column string, id uuid.UUID, status Status, limit, offset int) ([]*Appointment, int, error) {
	where := fmt.Sprintf(` WHERE %s = $1`, column)
	args := []interface{}{id}
	if status != "" {
		where += ` AND status = $2`
		args = append(args, string(status))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify("count appointments", err)
	}

	idx := len(args) + 1
	query := `SELECT ` + apptCols + ` FROM appointment` + where +
		fmt.Sprintf(` ORDER BY scheduled_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, db.Classify("list appointments", err)
	}
	defer rows.Close()
	items, err := collectAppointments(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func collectAppointments(rows pgx.Rows) ([]*Appointment, error) {
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, db.Classify("scan appointment", err)
		}
		items = append(items, a)
	}
	return items, db.Classify("iterate appointments", rows.Err())
}
