package allocator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sashanth17/medicare-scheduling/internal/lock"
)

// DateLayout is the wire and key format of a calendar date.
const DateLayout = "2006-01-02"

var (
	ErrAllocationTimeout = errors.New("appointment number allocation timed out")
	ErrAllocationFailed  = errors.New("appointment number allocation failed")
)

// CounterStore persists one DailyCounter row per (doctor, date). Increment
// must durably commit before returning the new value.
type CounterStore interface {
	Increment(ctx context.Context, doctorID int64, date time.Time) (int, error)
}

// Recorder receives one observation per Reserve call.
type Recorder interface {
	ObserveReserve(outcome string, d time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) ObserveReserve(string, time.Duration) {}

// Allocator hands out appointment numbers. Callers for the same doctor and
// date are serialized through the locker; different keys never contend.
type Allocator struct {
	locker   lock.Locker
	counters CounterStore
	recorder Recorder
	log      zerolog.Logger
}

func New(locker lock.Locker, counters CounterStore, recorder Recorder, log zerolog.Logger) *Allocator {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Allocator{
		locker:   locker,
		counters: counters,
		recorder: recorder,
		log:      log.With().Str("component", "allocator").Logger(),
	}
}

// Day drops the clock part of t, keeping its calendar date.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// CounterKey names the lock guarding one daily counter.
func CounterKey(doctorID int64, date time.Time) string {
	return fmt.Sprintf("counter:%d:%s", doctorID, date.Format(DateLayout))
}

// Reserve returns the next number for doctorID on date. A lock timeout is
// retried once before ErrAllocationTimeout is returned.
func (a *Allocator) Reserve(ctx context.Context, doctorID int64, date time.Time) (int, error) {
	day := Day(date)
	key := CounterKey(doctorID, day)
	start := time.Now()

	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		var n int
		n, err = a.reserveOnce(ctx, key, doctorID, day)
		if err == nil {
			a.recorder.ObserveReserve("ok", time.Since(start))
			return n, nil
		}
		if !errors.Is(err, lock.ErrLockTimeout) {
			break
		}
		a.log.Warn().
			Int64("doctor_id", doctorID).
			Str("date", day.Format(DateLayout)).
			Int("attempt", attempt).
			Msg("counter lock wait exceeded")
	}

	// Only the caller's own context ending passes through. A deadline set by
	// the locker around the write is a persistence failure.
	switch ctxErr := ctx.Err(); {
	case errors.Is(err, lock.ErrLockTimeout):
		a.recorder.ObserveReserve("timeout", time.Since(start))
		return 0, fmt.Errorf("%w: doctor %d on %s", ErrAllocationTimeout, doctorID, day.Format(DateLayout))
	case ctxErr != nil:
		a.recorder.ObserveReserve("cancelled", time.Since(start))
		return 0, ctxErr
	default:
		a.recorder.ObserveReserve("failed", time.Since(start))
		return 0, fmt.Errorf("%w: %v", ErrAllocationFailed, err)
	}
}

func (a *Allocator) reserveOnce(ctx context.Context, key string, doctorID int64, day time.Time) (int, error) {
	var issued int
	err := a.locker.WithKeyLock(ctx, key, func(lockCtx context.Context) error {
		n, err := a.counters.Increment(lockCtx, doctorID, day)
		if err != nil {
			return fmt.Errorf("increment counter: %w", err)
		}
		issued = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return issued, nil
}
