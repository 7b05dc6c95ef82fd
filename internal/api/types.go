package api

import (
	"encoding/json"
	"time"

	"github.com/sashanth17/medicare-scheduling/internal/allocator"
	"github.com/sashanth17/medicare-scheduling/internal/appointment"
)

// BookAppointmentRequest books either by ids (doctor_id + patient_id) or by
// doctor_name + phone_number.
type BookAppointmentRequest struct {
	DoctorID        *int64 `json:"doctor_id"`
	PatientID       *int64 `json:"patient_id"`
	DoctorName      string `json:"doctor_name"`
	PhoneNumber     string `json:"phone_number"`
	AppointmentDate string `json:"appointment_date"`
	Notes           string `json:"notes"`
}

func (r BookAppointmentRequest) byIdentifiers() bool {
	return r.DoctorID != nil || r.PatientID != nil
}

type AppointmentResponse struct {
	ID                int64      `json:"id"`
	Doctor            int64      `json:"doctor"`
	DoctorName        string     `json:"doctor_name"`
	Patient           int64      `json:"patient"`
	PatientUsername   string     `json:"patient_username"`
	AppointmentDate   string     `json:"appointment_date"`
	AppointmentNumber int        `json:"appointment_number"`
	Status            string     `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
	ActualStart       *time.Time `json:"actual_start"`
	ActualEnd         *time.Time `json:"actual_end"`
	Notes             string     `json:"notes"`
}

func toAppointmentResponse(a appointment.AppointmentDetail) AppointmentResponse {
	return AppointmentResponse{
		ID:                a.ID,
		Doctor:            a.DoctorID,
		DoctorName:        a.DoctorName,
		Patient:           a.PatientID,
		PatientUsername:   a.PatientUsername,
		AppointmentDate:   a.Date.Format(allocator.DateLayout),
		AppointmentNumber: a.Number,
		Status:            string(a.Status),
		CreatedAt:         a.CreatedAt,
		ActualStart:       a.ActualStart,
		ActualEnd:         a.ActualEnd,
		Notes:             a.Notes,
	}
}

func toAppointmentResponses(in []appointment.AppointmentDetail) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(in))
	for _, a := range in {
		out = append(out, toAppointmentResponse(a))
	}
	return out
}

type ScheduleResponse struct {
	Doctor       string                `json:"doctor"`
	Date         string                `json:"date"`
	Appointments []AppointmentResponse `json:"appointments"`
}

type SearchResponse struct {
	SearchedFor  string                `json:"searched_for"`
	DoctorFound  string                `json:"doctor_found"`
	Date         string                `json:"date"`
	Appointments []AppointmentResponse `json:"appointments"`
}

type AppointmentListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

type CreateOfferRequest struct {
	UserID        int64             `json:"user_id"`
	SDP           string            `json:"sdp"`
	ICECandidates []json.RawMessage `json:"ice_candidates"`
}

type SubmitAnswerRequest struct {
	PatientID     int64             `json:"patient_id"`
	SDP           string            `json:"sdp"`
	ICECandidates []json.RawMessage `json:"ice_candidates"`
}

type StatusResponse struct {
	Status string `json:"status"`
	UserID int64  `json:"user_id,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
