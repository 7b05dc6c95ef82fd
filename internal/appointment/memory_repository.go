package appointment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type numberKey struct {
	doctorID int64
	date     string
	number   int
}

// MemoryRepository backs service and HTTP tests; serve always uses PgRepository.
type MemoryRepository struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]Appointment
	taken  map[numberKey]int64
	events []EventLog
	now    func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rows:  make(map[int64]Appointment),
		taken: make(map[numberKey]int64),
		now:   time.Now,
	}
}

func keyOf(a Appointment) numberKey {
	return numberKey{doctorID: a.DoctorID, date: a.Date.Format("2006-01-02"), number: a.Number}
}

func (r *MemoryRepository) Create(_ context.Context, a *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := keyOf(*a)
	if _, ok := r.taken[k]; ok {
		return nil, ErrDuplicate
	}

	r.nextID++
	created := *a
	created.ID = r.nextID
	created.CreatedAt = r.now()
	r.rows[created.ID] = created
	r.taken[k] = created.ID

	return &created, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.rows[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	delete(r.rows, id)
	delete(r.taken, keyOf(a))
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id int64) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.rows[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id int64, from, to AppointmentStatus, actualStart, actualEnd *time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.rows[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != from {
		return nil, fmt.Errorf("%w: appointment is %s", ErrInvalidTransition, a.Status)
	}

	a.Status = to
	if actualStart != nil {
		a.ActualStart = actualStart
	}
	if actualEnd != nil {
		a.ActualEnd = actualEnd
	}
	r.rows[id] = a
	return &a, nil
}

func (r *MemoryRepository) ListByDoctorAndDate(_ context.Context, doctorID int64, date time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	day := date.Format("2006-01-02")
	var result []Appointment
	for _, a := range r.rows {
		if a.DoctorID == doctorID && a.Date.Format("2006-01-02") == day {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Number < result[j].Number })
	return result, nil
}

func (r *MemoryRepository) FindNextBooked(ctx context.Context, doctorID int64, date time.Time) (*Appointment, error) {
	all, _ := r.ListByDoctorAndDate(ctx, doctorID, date)
	for _, a := range all {
		if a.Status == StatusBooked {
			return &a, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *MemoryRepository) List(_ context.Context, limit, offset int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]Appointment, 0, len(r.rows))
	for _, a := range r.rows {
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = int64(len(r.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now()
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded audit trail, oldest first.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]EventLog, len(r.events))
	copy(out, r.events)
	return out
}
