package directory

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryDoctors is a DoctorDirectory over an in-process map.
type MemoryDoctors struct {
	mu      sync.RWMutex
	doctors map[int64]Doctor
}

func NewMemoryDoctors(doctors ...Doctor) *MemoryDoctors {
	m := &MemoryDoctors{doctors: make(map[int64]Doctor)}
	for _, d := range doctors {
		m.doctors[d.ID] = d
	}
	return m
}

func (m *MemoryDoctors) Put(d Doctor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doctors[d.ID] = d
}

func (m *MemoryDoctors) FindByID(_ context.Context, id int64) (*Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (m *MemoryDoctors) SearchByNameSubstring(_ context.Context, q string) ([]Doctor, error) {
	needle := strings.ToLower(strings.TrimSpace(q))

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Doctor
	for _, d := range m.doctors {
		if strings.Contains(strings.ToLower(d.User.FirstName), needle) ||
			strings.Contains(strings.ToLower(d.User.LastName), needle) ||
			strings.Contains(strings.ToLower(d.User.Username), needle) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MemoryUsers is a PatientDirectory over an in-process map.
type MemoryUsers struct {
	mu    sync.RWMutex
	users map[int64]User
}

func NewMemoryUsers(users ...User) *MemoryUsers {
	m := &MemoryUsers{users: make(map[int64]User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *MemoryUsers) Put(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *MemoryUsers) FindByID(_ context.Context, id int64) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &u, nil
}

func (m *MemoryUsers) FindByPhone(_ context.Context, phone string) (*User, error) {
	if phone == "" {
		return nil, ErrPatientNotFound
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var match *User
	for _, u := range m.users {
		if NormalizePhone(u.PhoneNumber) != phone {
			continue
		}
		if match == nil || u.ID < match.ID {
			u := u
			match = &u
		}
	}
	if match == nil {
		return nil, ErrPatientNotFound
	}
	return match, nil
}
