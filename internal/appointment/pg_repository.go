package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sashanth17/medicare-scheduling/internal/db"
)

const pgUniqueViolation = "23505"

const appointmentColumns = `id, doctor_id, patient_id, appointment_date, appointment_number,
	status, created_at, actual_start, actual_end, notes`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var notes *string

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.Date,
		&a.Number,
		&a.Status,
		&a.CreatedAt,
		&a.ActualStart,
		&a.ActualEnd,
		&notes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if notes != nil {
		a.Notes = *notes
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func appointmentSelect() sq.SelectBuilder {
	return db.Psql.Select(appointmentColumns).From("appointments")
}

func (r *PgRepository) query(ctx context.Context, b sq.SelectBuilder) ([]Appointment, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build appointment query: %w", err)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// Interface methods

func (r *PgRepository) Create(ctx context.Context, a *Appointment) (*Appointment, error) {
	var notes *string
	if a.Notes != "" {
		notes = &a.Notes
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (doctor_id, patient_id, appointment_date, appointment_number, status, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING `+appointmentColumns,
		a.DoctorID, a.PatientID, a.Date, a.Number, a.Status, notes)

	created, err := scanAppointment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id int64) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id int64, from, to AppointmentStatus, actualStart, actualEnd *time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    actual_start = COALESCE($4, actual_start),
		    actual_end = COALESCE($5, actual_end)
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, to, from, actualStart, actualEnd)

	updated, err := scanAppointment(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	// No row matched: either the id is unknown or someone else moved it first.
	current, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: appointment is %s", ErrInvalidTransition, current.Status)
}

func (r *PgRepository) ListByDoctorAndDate(ctx context.Context, doctorID int64, date time.Time) ([]Appointment, error) {
	result, err := r.query(ctx, appointmentSelect().
		Where(sq.Eq{"doctor_id": doctorID, "appointment_date": date}).
		OrderBy("appointment_number ASC"))
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return result, nil
}

func (r *PgRepository) FindNextBooked(ctx context.Context, doctorID int64, date time.Time) (*Appointment, error) {
	query, args, err := appointmentSelect().
		Where(sq.Eq{"doctor_id": doctorID, "appointment_date": date, "status": StatusBooked}).
		OrderBy("appointment_number ASC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build next appointment query: %w", err)
	}
	return scanAppointment(r.pool.QueryRow(ctx, query, args...))
}

func (r *PgRepository) List(ctx context.Context, limit, offset int) ([]Appointment, error) {
	result, err := r.query(ctx, appointmentSelect().
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)))
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return result, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
