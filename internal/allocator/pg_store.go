package allocator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sashanth17/medicare-scheduling/internal/lock"
)

// lock_not_available, raised when SET LOCAL lock_timeout expires
const pgLockNotAvailable = "55P03"

type PgCounterStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPgCounterStore returns a store whose row lock wait is bounded by
// lockTimeout, so a stuck holder surfaces as lock.ErrLockTimeout instead of
// blocking the pool connection.
func NewPgCounterStore(pool *pgxpool.Pool, lockTimeout time.Duration) *PgCounterStore {
	return &PgCounterStore{pool: pool, lockTimeout: lockTimeout}
}

func (s *PgCounterStore) Increment(ctx context.Context, doctorID int64, date time.Time) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin counter tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, setLockTimeout(s.lockTimeout)); err != nil {
		return 0, fmt.Errorf("set lock timeout: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO daily_appointment_counters (doctor_id, date, last)
		VALUES ($1, $2, 0)
		ON CONFLICT (doctor_id, date) DO NOTHING
	`, doctorID, date)
	if err != nil {
		return 0, mapLockError(fmt.Errorf("ensure counter row: %w", err))
	}

	var last int
	err = tx.QueryRow(ctx, `
		SELECT last
		FROM daily_appointment_counters
		WHERE doctor_id = $1 AND date = $2
		FOR UPDATE
	`, doctorID, date).Scan(&last)
	if err != nil {
		return 0, mapLockError(fmt.Errorf("lock counter row: %w", err))
	}

	last++

	_, err = tx.Exec(ctx, `
		UPDATE daily_appointment_counters
		SET last = $3
		WHERE doctor_id = $1 AND date = $2
	`, doctorID, date, last)
	if err != nil {
		return 0, mapLockError(fmt.Errorf("update counter row: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit counter tx: %w", err)
	}

	return last, nil
}

// setLockTimeout never emits 0ms, which Postgres reads as no timeout at all.
func setLockTimeout(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", ms)
}

func mapLockError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
		return fmt.Errorf("%w: %v", lock.ErrLockTimeout, err)
	}
	return err
}
