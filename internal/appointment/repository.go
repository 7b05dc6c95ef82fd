package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashanth17/medicare-scheduling/internal/allocator"
	"github.com/sashanth17/medicare-scheduling/internal/directory"
)

var (
	ErrNotFound            = directory.ErrNotFound
	ErrDoctorNotFound      = directory.ErrDoctorNotFound
	ErrPatientNotFound     = directory.ErrPatientNotFound
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", directory.ErrNotFound)

	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnavailable       = errors.New("doctor not available at this time")
	ErrDuplicate         = errors.New("appointment number already taken for this doctor and date")

	ErrAllocationTimeout = allocator.ErrAllocationTimeout
	ErrAllocationFailed  = allocator.ErrAllocationFailed
)

// Repository contains all persistence needed by the service.
type Repository interface {
	// Create fails with ErrDuplicate when (doctor, date, number) is taken.
	Create(ctx context.Context, a *Appointment) (*Appointment, error)
	Delete(ctx context.Context, id int64) error
	GetByID(ctx context.Context, id int64) (*Appointment, error)

	// UpdateStatus only applies when the stored status still equals from.
	// Nil timestamps leave the stored value untouched.
	UpdateStatus(ctx context.Context, id int64, from, to AppointmentStatus, actualStart, actualEnd *time.Time) (*Appointment, error)

	// Ascending by appointment number.
	ListByDoctorAndDate(ctx context.Context, doctorID int64, date time.Time) ([]Appointment, error)
	// Lowest numbered appointment still booked, or ErrAppointmentNotFound.
	FindNextBooked(ctx context.Context, doctorID int64, date time.Time) (*Appointment, error)
	// Newest first.
	List(ctx context.Context, limit, offset int) ([]Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
