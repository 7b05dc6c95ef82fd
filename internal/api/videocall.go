package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/sashanth17/medicare-scheduling/internal/directory"
	"github.com/sashanth17/medicare-scheduling/internal/signaling"
)

// createOfferHandler queues a patient's offer for the next polling doctor.
func createOfferHandler(mb signaling.Mailbox, users directory.PatientDirectory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateOfferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.UserID <= 0 || req.SDP == "" {
			writeError(w, http.StatusBadRequest, "missing_fields", "user_id and sdp are required")
			return
		}

		if _, err := users.FindByID(r.Context(), req.UserID); err != nil {
			if errors.Is(err, directory.ErrNotFound) {
				writeError(w, http.StatusNotFound, "user_not_found", "User not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		err := mb.EnqueueOffer(r.Context(), signaling.Offer{
			UserID:        req.UserID,
			SDP:           req.SDP,
			ICECandidates: nonNilCandidates(req.ICECandidates),
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusCreated, StatusResponse{Status: "queued", UserID: req.UserID})
	}
}

func pollOfferHandler(mb signaling.Mailbox) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offer, err := mb.DequeueOffer(r.Context())
		if err != nil {
			if errors.Is(err, signaling.ErrEmpty) {
				writeJSON(w, http.StatusOK, StatusResponse{Status: "empty"})
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, offer)
	}
}

func submitAnswerHandler(mb signaling.Mailbox) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SubmitAnswerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.PatientID <= 0 || req.SDP == "" {
			writeError(w, http.StatusBadRequest, "missing_fields", "patient_id and sdp are required")
			return
		}

		err := mb.PutAnswer(r.Context(), signaling.Answer{
			PatientID:     req.PatientID,
			SDP:           req.SDP,
			ICECandidates: nonNilCandidates(req.ICECandidates),
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, StatusResponse{Status: "answer stored"})
	}
}

func takeAnswerHandler(mb signaling.Mailbox) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("user_id")
		if raw == "" {
			writeError(w, http.StatusBadRequest, "missing_user_id", "user_id query parameter is required")
			return
		}
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_user_id", "user_id must be a positive integer")
			return
		}

		answer, err := mb.TakeAnswer(r.Context(), userID)
		if err != nil {
			if errors.Is(err, signaling.ErrNoAnswer) {
				writeJSON(w, http.StatusOK, StatusResponse{Status: "no answer yet"})
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, answer)
	}
}

func nonNilCandidates(in []json.RawMessage) []json.RawMessage {
	if in == nil {
		return []json.RawMessage{}
	}
	return in
}
