package appointment

import (
	"time"
)

type AppointmentStatus string

const (
	StatusBooked     AppointmentStatus = "booked"
	StatusInProgress AppointmentStatus = "in_progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
)

// Appointment is identified by (DoctorID, Date, Number); none of the three
// change after creation.
type Appointment struct {
	ID          int64
	DoctorID    int64
	PatientID   int64
	Date        time.Time
	Number      int
	Status      AppointmentStatus
	CreatedAt   time.Time
	ActualStart *time.Time
	ActualEnd   *time.Time
	Notes       string
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *int64
	Payload       []byte
	CreatedAt     time.Time
}

// AppointmentDetail carries the display names the API shows next to the ids.
type AppointmentDetail struct {
	Appointment
	DoctorName      string
	PatientUsername string
}

// DoctorSchedule is one doctor's appointments for one day, ordered by number.
type DoctorSchedule struct {
	DoctorID     int64
	DoctorName   string
	Date         time.Time
	Appointments []AppointmentDetail
}
