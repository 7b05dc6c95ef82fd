package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sashanth17/medicare-scheduling/internal/appointment"
	"github.com/sashanth17/medicare-scheduling/internal/directory"
	"github.com/sashanth17/medicare-scheduling/internal/signaling"
)

type RouterConfig struct {
	Service *appointment.Service
	Mailbox signaling.Mailbox
	Users   directory.PatientDirectory

	Postgres Pinger
	Redis    *redis.Client

	// Metrics and MetricsHandler are optional.
	Metrics        HTTPObserver
	MetricsHandler http.Handler

	Logger  zerolog.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoveryMiddleware(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}

	// Health endpoints
	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	// Appointment endpoints
	svc := cfg.Service
	r.Route("/appointments", func(r chi.Router) {
		r.Get("/", listAppointmentsHandler(svc))
		r.Post("/book", bookAppointmentHandler(svc))
		r.Get("/search", searchByDoctorHandler(svc))
		r.Get("/doctor", doctorScheduleByNameHandler(svc))
		r.Get("/doctor/{doctorID}", doctorScheduleHandler(svc))
		r.Get("/doctor/{doctorID}/next", nextAppointmentHandler(svc))
		r.Get("/{id}", getAppointmentHandler(svc))
		r.Post("/{id}/start", transitionHandler(svc.Start, "start"))
		r.Post("/{id}/complete", transitionHandler(svc.Complete, "complete"))
		r.Post("/{id}/cancel", transitionHandler(svc.Cancel, "cancel"))
	})

	// Video consult signaling
	if cfg.Mailbox != nil {
		r.Route("/videocall", func(r chi.Router) {
			r.Post("/offer", createOfferHandler(cfg.Mailbox, cfg.Users))
			r.Get("/doctor/poll", pollOfferHandler(cfg.Mailbox))
			r.Post("/doctor/poll", submitAnswerHandler(cfg.Mailbox))
			r.Get("/answer", takeAnswerHandler(cfg.Mailbox))
		})
	}

	return r
}
