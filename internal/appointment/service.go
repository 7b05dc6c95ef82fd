package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sashanth17/medicare-scheduling/internal/allocator"
	"github.com/sashanth17/medicare-scheduling/internal/directory"
)

const (
	EventAppointmentBooked         = "APPOINTMENT_BOOKED"
	EventAppointmentRolledBack     = "APPOINTMENT_ROLLED_BACK"
	EventAppointmentRollbackFailed = "APPOINTMENT_ROLLBACK_FAILED"
	EventAppointmentStarted        = "APPOINTMENT_STARTED"
	EventAppointmentCompleted      = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled      = "APPOINTMENT_CANCELLED"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// NumberAllocator issues the next appointment number for a doctor and day.
type NumberAllocator interface {
	Reserve(ctx context.Context, doctorID int64, date time.Time) (int, error)
}

type Recorder interface {
	IncBooking(outcome string)
	IncTransition(action, outcome string)
}

type noopRecorder struct{}

func (noopRecorder) IncBooking(string)            {}
func (noopRecorder) IncTransition(string, string) {}

type Option func(*Service)

// WithClock replaces time.Now, mostly for tests around the service-hours guard.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.metrics = r
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

type Service struct {
	repo     Repository
	alloc    NumberAllocator
	doctors  directory.DoctorDirectory
	patients directory.PatientDirectory

	now     func() time.Time
	loc     *time.Location
	metrics Recorder
	log     zerolog.Logger
}

func NewService(repo Repository, alloc NumberAllocator, doctors directory.DoctorDirectory, patients directory.PatientDirectory, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		alloc:    alloc,
		doctors:  doctors,
		patients: patients,
		now:      time.Now,
		loc:      time.Local,
		metrics:  noopRecorder{},
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "appointments").Logger()
	return s
}

// Today is the current calendar date in the clinic location.
func (s *Service) Today() time.Time {
	return allocator.Day(s.now().In(s.loc))
}

func (s *Service) dayOrToday(date time.Time) time.Time {
	if date.IsZero() {
		return s.Today()
	}
	return allocator.Day(date)
}

type BookByIDsRequest struct {
	DoctorID  int64
	PatientID int64
	Date      time.Time
	Notes     string
}

type BookByNameRequest struct {
	DoctorName string
	Phone      string
	Date       time.Time
	Notes      string
}

// BookByIdentifiers books doctorID for patientID. Unknown ids surface as
// ErrDoctorNotFound or ErrPatientNotFound.
func (s *Service) BookByIdentifiers(ctx context.Context, req BookByIDsRequest) (*AppointmentDetail, error) {
	if req.DoctorID <= 0 || req.PatientID <= 0 {
		return nil, fmt.Errorf("%w: doctor_id and patient_id must be positive", ErrValidation)
	}
	if req.Date.IsZero() {
		return nil, fmt.Errorf("%w: appointment_date is required", ErrValidation)
	}

	doctor, err := s.doctors.FindByID(ctx, req.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	patient, err := s.patients.FindByID(ctx, req.PatientID)
	if err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}

	return s.book(ctx, doctor, patient, req.Date, req.Notes)
}

// BookByNameAndPhone resolves the doctor by name substring, first match by
// id, and the patient by normalized phone number.
func (s *Service) BookByNameAndPhone(ctx context.Context, req BookByNameRequest) (*AppointmentDetail, error) {
	name := strings.TrimSpace(req.DoctorName)
	phone := directory.NormalizePhone(req.Phone)
	if name == "" || phone == "" {
		return nil, fmt.Errorf("%w: doctor_name and phone_number are required", ErrValidation)
	}
	if req.Date.IsZero() {
		return nil, fmt.Errorf("%w: appointment_date is required", ErrValidation)
	}

	doctor, err := s.resolveDoctorByName(ctx, name)
	if err != nil {
		return nil, err
	}
	patient, err := s.patients.FindByPhone(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("find patient by phone: %w", err)
	}

	return s.book(ctx, doctor, patient, req.Date, req.Notes)
}

func (s *Service) resolveDoctorByName(ctx context.Context, name string) (*directory.Doctor, error) {
	matches, err := s.doctors.SearchByNameSubstring(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("search doctors: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no doctor matching %q", ErrDoctorNotFound, name)
	}
	return &matches[0], nil
}

func (s *Service) book(ctx context.Context, doctor *directory.Doctor, patient *directory.User, date time.Time, notes string) (*AppointmentDetail, error) {
	day := allocator.Day(date)
	log := s.log.With().
		Int64("doctor_id", doctor.ID).
		Int64("patient_id", patient.ID).
		Str("date", day.Format(allocator.DateLayout)).
		Logger()

	number, err := s.alloc.Reserve(ctx, doctor.ID, day)
	if err != nil {
		s.metrics.IncBooking(bookingOutcome(err))
		return nil, fmt.Errorf("reserve appointment number: %w", err)
	}

	created, err := s.repo.Create(ctx, &Appointment{
		DoctorID:  doctor.ID,
		PatientID: patient.ID,
		Date:      day,
		Number:    number,
		Status:    StatusBooked,
		Notes:     notes,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			log.Error().Int("number", number).Msg("allocator issued a number that is already stored")
		}
		s.metrics.IncBooking("failed")
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	if !s.availableNow(doctor, day) {
		s.rollback(ctx, created, log)
		s.metrics.IncBooking("unavailable")
		return nil, fmt.Errorf("%w: %s works %s", ErrUnavailable, doctor.DisplayName(), formatHours(doctor.ServiceHours))
	}

	log.Info().Int64("appointment_id", created.ID).Int("number", created.Number).Msg("appointment booked")
	s.logEvent(ctx, created.ID, EventAppointmentBooked, map[string]any{
		"doctor_id":          doctor.ID,
		"patient_id":         patient.ID,
		"appointment_date":   day.Format(allocator.DateLayout),
		"appointment_number": created.Number,
	})
	s.metrics.IncBooking("booked")

	return &AppointmentDetail{
		Appointment:     *created,
		DoctorName:      doctor.DisplayName(),
		PatientUsername: patient.Username,
	}, nil
}

// availableNow applies the same-day guard. Other dates and doctors without a
// window always pass.
func (s *Service) availableNow(doctor *directory.Doctor, day time.Time) bool {
	if doctor.ServiceHours == nil {
		return true
	}
	now := s.now().In(s.loc)
	if !allocator.Day(now).Equal(day) {
		return true
	}
	return doctor.ServiceHours.Contains(now)
}

// rollback deletes a row that failed the guard. The number stays burned.
func (s *Service) rollback(ctx context.Context, a *Appointment, log zerolog.Logger) {
	payload := map[string]any{
		"doctor_id":          a.DoctorID,
		"appointment_date":   a.Date.Format(allocator.DateLayout),
		"appointment_number": a.Number,
		"reason":             "outside_service_hours",
	}

	ctx = context.WithoutCancel(ctx)
	if err := s.repo.Delete(ctx, a.ID); err != nil {
		log.Error().Err(err).
			Int64("appointment_id", a.ID).
			Int("number", a.Number).
			Msg("failed to delete appointment outside service hours")
		payload["error"] = err.Error()
		s.logEvent(ctx, a.ID, EventAppointmentRollbackFailed, payload)
		return
	}

	log.Info().Int64("appointment_id", a.ID).Int("number", a.Number).Msg("appointment rolled back, outside service hours")
	s.logEvent(ctx, a.ID, EventAppointmentRolledBack, payload)
}

func bookingOutcome(err error) string {
	switch {
	case errors.Is(err, ErrAllocationTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "failed"
	}
}

func formatHours(h *directory.ServiceHours) string {
	if h == nil {
		return "no fixed hours"
	}
	return fmt.Sprintf("%s-%s", clock(h.Start), clock(h.End))
}

func clock(d time.Duration) string {
	return time.Time{}.Add(d).Format("15:04")
}

// Start moves a booked appointment to in_progress.
func (s *Service) Start(ctx context.Context, id int64) (*AppointmentDetail, error) {
	return s.transition(ctx, id, Start, EventAppointmentStarted)
}

// Complete closes a booked or in-progress appointment.
func (s *Service) Complete(ctx context.Context, id int64) (*AppointmentDetail, error) {
	return s.transition(ctx, id, Complete, EventAppointmentCompleted)
}

func (s *Service) Cancel(ctx context.Context, id int64) (*AppointmentDetail, error) {
	return s.transition(ctx, id, Cancel, EventAppointmentCancelled)
}

func (s *Service) transition(ctx context.Context, id int64, t Transition, eventType string) (*AppointmentDetail, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	next, err := t.Apply(*appt, s.now())
	if err != nil {
		s.metrics.IncTransition(t.Action, "rejected")
		return nil, err
	}

	updated, err := s.repo.UpdateStatus(ctx, id, appt.Status, next.Status, next.ActualStart, next.ActualEnd)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			s.metrics.IncTransition(t.Action, "rejected")
			return nil, err
		}
		s.metrics.IncTransition(t.Action, "failed")
		return nil, fmt.Errorf("%s appointment: %w", t.Action, err)
	}

	s.log.Info().
		Int64("appointment_id", id).
		Str("from", string(appt.Status)).
		Str("to", string(updated.Status)).
		Msg("appointment status changed")
	s.logEvent(ctx, id, eventType, map[string]any{
		"from": appt.Status,
		"to":   updated.Status,
	})
	s.metrics.IncTransition(t.Action, "ok")

	details := s.describe(ctx, []Appointment{*updated})
	return &details[0], nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID int64, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn().Err(err).
			Str("event", eventType).
			Int64("appointment_id", appointmentID).
			Msg("failed to insert event log")
	}
}

// Schedule lists a doctor's appointments for date, today when date is zero.
func (s *Service) Schedule(ctx context.Context, doctorID int64, date time.Time) (*DoctorSchedule, error) {
	doctor, err := s.doctors.FindByID(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	return s.schedule(ctx, doctor, s.dayOrToday(date))
}

// ScheduleByDoctorName is Schedule for the first doctor matching name.
func (s *Service) ScheduleByDoctorName(ctx context.Context, name string, date time.Time) (*DoctorSchedule, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: doctor name is required", ErrValidation)
	}
	doctor, err := s.resolveDoctorByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.schedule(ctx, doctor, s.dayOrToday(date))
}

func (s *Service) schedule(ctx context.Context, doctor *directory.Doctor, day time.Time) (*DoctorSchedule, error) {
	appts, err := s.repo.ListByDoctorAndDate(ctx, doctor.ID, day)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	s.log.Debug().
		Int64("doctor_id", doctor.ID).
		Str("date", day.Format(allocator.DateLayout)).
		Int("count", len(appts)).
		Msg("schedule listed")

	return &DoctorSchedule{
		DoctorID:     doctor.ID,
		DoctorName:   doctor.DisplayName(),
		Date:         day,
		Appointments: s.describe(ctx, appts, withDoctor(doctor)),
	}, nil
}

// NextBooked returns today's lowest numbered appointment still waiting.
func (s *Service) NextBooked(ctx context.Context, doctorID int64) (*AppointmentDetail, error) {
	doctor, err := s.doctors.FindByID(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	next, err := s.repo.FindNextBooked(ctx, doctorID, s.Today())
	if err != nil {
		return nil, fmt.Errorf("find next appointment: %w", err)
	}

	details := s.describe(ctx, []Appointment{*next}, withDoctor(doctor))
	return &details[0], nil
}

// GetAppointment retrieves a fully hydrated appointment by ID
func (s *Service) GetAppointment(ctx context.Context, id int64) (*AppointmentDetail, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	details := s.describe(ctx, []Appointment{*appt})
	return &details[0], nil
}

// AppointmentPage carries the limit and offset actually applied.
type AppointmentPage struct {
	Appointments []AppointmentDetail
	Limit        int
	Offset       int
}

// ListAppointments pages through all appointments, newest first. A
// non-positive limit means DefaultListLimit; larger ones are capped at
// MaxListLimit.
func (s *Service) ListAppointments(ctx context.Context, limit, offset int) (*AppointmentPage, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	appts, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return &AppointmentPage{
		Appointments: s.describe(ctx, appts),
		Limit:        limit,
		Offset:       offset,
	}, nil
}

type describeOption func(map[int64]string)

func withDoctor(d *directory.Doctor) describeOption {
	return func(names map[int64]string) { names[d.ID] = d.DisplayName() }
}

// describe attaches display names. Lookups that fail leave the name empty;
// the appointment itself is still returned.
func (s *Service) describe(ctx context.Context, appts []Appointment, opts ...describeOption) []AppointmentDetail {
	doctorNames := make(map[int64]string)
	usernames := make(map[int64]string)
	for _, opt := range opts {
		opt(doctorNames)
	}

	out := make([]AppointmentDetail, 0, len(appts))
	for _, a := range appts {
		name, ok := doctorNames[a.DoctorID]
		if !ok {
			if d, err := s.doctors.FindByID(ctx, a.DoctorID); err == nil {
				name = d.DisplayName()
			} else {
				s.log.Debug().Err(err).Int64("doctor_id", a.DoctorID).Msg("doctor lookup failed")
			}
			doctorNames[a.DoctorID] = name
		}

		username, ok := usernames[a.PatientID]
		if !ok {
			if u, err := s.patients.FindByID(ctx, a.PatientID); err == nil {
				username = u.Username
			} else {
				s.log.Debug().Err(err).Int64("patient_id", a.PatientID).Msg("patient lookup failed")
			}
			usernames[a.PatientID] = username
		}

		out = append(out, AppointmentDetail{
			Appointment:     a,
			DoctorName:      name,
			PatientUsername: username,
		})
	}
	return out
}
