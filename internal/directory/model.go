package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrDoctorNotFound  = fmt.Errorf("doctor %w", ErrNotFound)
	ErrPatientNotFound = fmt.Errorf("patient %w", ErrNotFound)
)

// User is a registered identity. Patients are plain users.
type User struct {
	ID          int64
	Username    string
	FirstName   string
	LastName    string
	PhoneNumber string
}

func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// ServiceHours is a doctor's daily working window as offsets from midnight.
type ServiceHours struct {
	Start time.Duration
	End   time.Duration
}

// Contains reports whether the wall clock of t lies inside the window,
// both ends included.
func (h ServiceHours) Contains(t time.Time) bool {
	tod := time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
	return tod >= h.Start && tod <= h.End
}

type Doctor struct {
	ID           int64
	User         User
	ServiceHours *ServiceHours // nil when the profile defines no window
}

// DisplayName prefers the full name and falls back to the username.
func (d Doctor) DisplayName() string {
	if name := d.User.FullName(); name != "" {
		return name
	}
	if d.User.Username != "" {
		return d.User.Username
	}
	return fmt.Sprintf("doctor #%d", d.ID)
}

// DoctorDirectory is the read side of the doctor profile service.
type DoctorDirectory interface {
	FindByID(ctx context.Context, id int64) (*Doctor, error)
	// SearchByNameSubstring matches first name, last name or username case
	// insensitively and returns doctors ordered by id.
	SearchByNameSubstring(ctx context.Context, q string) ([]Doctor, error)
}

// PatientDirectory is the read side of the identity service.
type PatientDirectory interface {
	FindByID(ctx context.Context, id int64) (*User, error)
	// FindByPhone expects a number already passed through NormalizePhone.
	FindByPhone(ctx context.Context, phone string) (*User, error)
}

// NormalizePhone trims the input, keeps a leading '+' and drops every other
// non-digit. Empty input gives an empty result.
func NormalizePhone(raw string) string {
	p := strings.TrimSpace(raw)
	if p == "" {
		return ""
	}

	var b strings.Builder
	if strings.HasPrefix(p, "+") {
		b.WriteByte('+')
		p = p[1:]
	}
	for _, r := range p {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
