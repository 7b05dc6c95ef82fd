package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sashanth17/medicare-scheduling/internal/allocator"
	"github.com/sashanth17/medicare-scheduling/internal/appointment"
)

func bookAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		if req.AppointmentDate == "" {
			writeError(w, http.StatusBadRequest, "invalid_appointment_date", "appointment_date is required")
			return
		}
		date, ok := parseDateParam(req.AppointmentDate)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_appointment_date", "appointment_date must be YYYY-MM-DD")
			return
		}

		var (
			appt *appointment.AppointmentDetail
			err  error
		)
		if req.byIdentifiers() {
			if req.DoctorID == nil || req.PatientID == nil {
				writeError(w, http.StatusBadRequest, "invalid_request_body", "doctor_id and patient_id must be given together")
				return
			}
			appt, err = svc.BookByIdentifiers(r.Context(), appointment.BookByIDsRequest{
				DoctorID:  *req.DoctorID,
				PatientID: *req.PatientID,
				Date:      date,
				Notes:     req.Notes,
			})
		} else {
			appt, err = svc.BookByNameAndPhone(r.Context(), appointment.BookByNameRequest{
				DoctorName: req.DoctorName,
				Phone:      req.PhoneNumber,
				Date:       date,
				Notes:      req.Notes,
			})
		}
		if err != nil {
			handleBookError(w, err, req.byIdentifiers())
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt))
	}
}

func doctorScheduleHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseIDParam(r, "doctorID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor id must be a positive integer")
			return
		}
		date, ok := parseDateParam(r.URL.Query().Get("date"))
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_date", "Invalid date format. Use YYYY-MM-DD.")
			return
		}

		schedule, err := svc.Schedule(r.Context(), doctorID, date)
		if err != nil {
			handleQueryError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, ScheduleResponse{
			Doctor:       schedule.DoctorName,
			Date:         schedule.Date.Format(allocator.DateLayout),
			Appointments: toAppointmentResponses(schedule.Appointments),
		})
	}
}

func doctorScheduleByNameHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimSpace(r.URL.Query().Get("name"))
		if name == "" {
			writeError(w, http.StatusBadRequest, "missing_name", "Provide doctor_id in path or name query parameter.")
			return
		}
		date, ok := parseDateParam(r.URL.Query().Get("date"))
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_date", "Invalid date format. Use YYYY-MM-DD.")
			return
		}

		schedule, err := svc.ScheduleByDoctorName(r.Context(), name, date)
		if err != nil {
			handleQueryError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, ScheduleResponse{
			Doctor:       schedule.DoctorName,
			Date:         schedule.Date.Format(allocator.DateLayout),
			Appointments: toAppointmentResponses(schedule.Appointments),
		})
	}
}

func searchByDoctorHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			writeError(w, http.StatusBadRequest, "missing_query", "Query parameter 'q' is required.")
			return
		}
		date, ok := parseDateParam(r.URL.Query().Get("date"))
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_date", "Invalid date format. Use YYYY-MM-DD.")
			return
		}

		schedule, err := svc.ScheduleByDoctorName(r.Context(), q, date)
		if err != nil {
			handleQueryError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, SearchResponse{
			SearchedFor:  q,
			DoctorFound:  schedule.DoctorName,
			Date:         schedule.Date.Format(allocator.DateLayout),
			Appointments: toAppointmentResponses(schedule.Appointments),
		})
	}
}

func nextAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseIDParam(r, "doctorID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor id must be a positive integer")
			return
		}

		next, err := svc.NextBooked(r.Context(), doctorID)
		if err != nil {
			if errors.Is(err, appointment.ErrAppointmentNotFound) {
				writeError(w, http.StatusNotFound, "no_more_appointments", "No more appointments today")
				return
			}
			handleQueryError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*next))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a positive integer")
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleQueryError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := parseIntQuery(r, "limit")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		offset, ok := parseIntQuery(r, "offset")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be a non-negative integer")
			return
		}

		page, err := svc.ListAppointments(r.Context(), limit, offset)
		if err != nil {
			handleQueryError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, AppointmentListResponse{
			Appointments: toAppointmentResponses(page.Appointments),
			Limit:        page.Limit,
			Offset:       page.Offset,
		})
	}
}

type transitionCall func(ctx context.Context, id int64) (*appointment.AppointmentDetail, error)

func transitionHandler(apply transitionCall, action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a positive integer")
			return
		}

		appt, err := apply(r.Context(), id)
		if err != nil {
			handleTransitionError(w, err, action)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func handleBookError(w http.ResponseWriter, err error, byIdentifiers bool) {
	switch {
	case errors.Is(err, appointment.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, appointment.ErrUnavailable):
		writeError(w, http.StatusBadRequest, "doctor_unavailable", "Doctor not available at this time")
	case errors.Is(err, appointment.ErrDoctorNotFound):
		if byIdentifiers {
			writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "doctor_not_found", "No doctor found matching that name.")
	case errors.Is(err, appointment.ErrPatientNotFound):
		if byIdentifiers {
			writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "patient_not_found", "No user found with this phone number.")
	case errors.Is(err, appointment.ErrAllocationTimeout):
		writeError(w, http.StatusServiceUnavailable, "allocation_timeout", "appointment numbers are busy for this doctor, please retry shortly")
	case errors.Is(err, appointment.ErrDuplicate):
		writeError(w, http.StatusConflict, "duplicate_appointment_number", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleTransitionError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusBadRequest, "invalid_status_transition", "Appointment cannot be "+pastTense(action))
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func pastTense(action string) string {
	switch action {
	case "start":
		return "started"
	case "complete":
		return "completed"
	case "cancel":
		return "cancelled"
	default:
		return action + "ed"
	}
}

func handleQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
