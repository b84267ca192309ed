package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medibook/clinic-booking/internal/auth"
	"github.com/medibook/clinic-booking/internal/booking"
	"github.com/medibook/clinic-booking/internal/directory"
	"github.com/medibook/clinic-booking/internal/metrics"
)

type BookingService interface {
	Book(ctx context.Context, req booking.BookRequest) (*booking.Appointment, error)
	Cancel(ctx context.Context, req booking.CancelRequest) (*booking.CancelResult, error)
	AddAvailability(ctx context.Context, req booking.AvailabilityRequest) (*booking.Slot, error)
	DeleteAvailability(ctx context.Context, doctorID, slotID int64) error
	SubmitReview(ctx context.Context, req booking.ReviewRequest) (*booking.Review, error)
	UpcomingFreeSlots(ctx context.Context, doctorID int64) ([]booking.Slot, error)
	DoctorSlots(ctx context.Context, doctorID int64) ([]booking.Slot, error)
	PatientAppointments(ctx context.Context, patientID int64) ([]booking.Appointment, error)
	DoctorAppointments(ctx context.Context, doctorID int64) ([]booking.Appointment, error)
	DoctorReviews(ctx context.Context, doctorID int64) ([]booking.Review, error)
}

type DirectoryService interface {
	Search(ctx context.Context, f directory.Filter) ([]directory.Doctor, error)
	Specializations(ctx context.Context) ([]string, error)
	Cities(ctx context.Context) ([]string, error)
	Doctor(ctx context.Context, id int64) (*directory.Doctor, error)
	DoctorByUserID(ctx context.Context, userID int64) (*directory.Doctor, error)
	PatientByUserID(ctx context.Context, userID int64) (*directory.Patient, error)
	UnverifiedDoctors(ctx context.Context) ([]directory.Doctor, error)
	Stats(ctx context.Context) (*directory.Stats, error)
}

type RouterConfig struct {
	Booking   BookingService
	Directory DirectoryService
	Tokens    TokenParser
	Logger    zerolog.Logger
	Metrics   *metrics.HTTPMetrics
	Gatherer  prometheus.Gatherer // nil serves the default registry
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(MetricsMiddleware(cfg.Metrics))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	h := &Handler{
		booking:   cfg.Booking,
		directory: cfg.Directory,
		logger:    cfg.Logger,
	}

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(cfg.Tokens, cfg.Logger))

		r.Get("/", h.search)
		r.Get("/doctor/{doctor_id}", h.doctorProfile)

		r.Route("/booking", func(r chi.Router) {
			r.With(RequireRole(cfg.Logger)).Get("/dashboard", h.dashboard)

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(cfg.Logger, auth.RolePatient))
				r.Post("/book/{doctor_id}", h.book)
				r.Post("/cancel/{appointment_id}", h.cancel)
				r.Post("/submit_review/{appointment_id}", h.submitReview)
			})

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(cfg.Logger, auth.RoleDoctor))
				r.Post("/add_availability", h.addAvailability)
				r.Post("/delete_availability/{id}", h.deleteAvailability)
			})
		})
	})

	return r
}
