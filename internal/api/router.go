package api

import (
	"context"
	"net/http"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Salad109/medical-office-manager/internal/appointment"
	"github.com/Salad109/medical-office-manager/internal/audit"
	"github.com/Salad109/medical-office-manager/internal/identity"
	"github.com/Salad109/medical-office-manager/internal/metrics"
	"github.com/Salad109/medical-office-manager/internal/user"
	"github.com/Salad109/medical-office-manager/internal/visit"
)

type UserService interface {
	Register(ctx context.Context, in user.RegisterInput) (*user.User, error)
	UpdateProfile(ctx context.Context, id int64, in user.ProfileInput) (*user.User, error)
	GetUser(ctx context.Context, id int64) (*user.User, error)
	Search(ctx context.Context, query string, role identity.Role, limit, offset int) ([]user.User, error)
	Authenticate(ctx context.Context, username, password string) (*user.User, error)
}

type AppointmentService interface {
	Book(ctx context.Context, patientID int64, date civil.Date, at civil.Time) (*appointment.Appointment, error)
	Cancel(ctx context.Context, id int64) (*appointment.Appointment, error)
	Get(ctx context.Context, id int64) (*appointment.Appointment, error)
	List(ctx context.Context, date civil.Date) ([]appointment.Appointment, error)
	ListForPatient(ctx context.Context, patientID int64, limit, offset int) ([]appointment.Appointment, error)
	AvailableSlots(ctx context.Context, patientID int64, date civil.Date) ([]civil.Time, error)
}

type VisitService interface {
	Complete(ctx context.Context, appointmentID, doctorID int64, notes string) (*visit.Visit, error)
	Get(ctx context.Context, id int64) (*visit.Visit, error)
	GetByAppointment(ctx context.Context, appointmentID int64) (*visit.Visit, error)
	ListForPatient(ctx context.Context, patientID int64, limit, offset int) ([]visit.Visit, error)
}

type AuditService interface {
	List(ctx context.Context, f audit.Filter) ([]audit.Entry, error)
}

type TokenService interface {
	TokenVerifier
	Issue(p identity.Principal) (string, time.Time, error)
}

type RouterConfig struct {
	Users        UserService
	Appointments AppointmentService
	Visits       VisitService
	Audit        AuditService
	Tokens       TokenService
	PgPool       *pgxpool.Pool
	Redis        *redis.Client // nil when the day cache is disabled
	Logger       zerolog.Logger
	Env          string
	Version      string
	LoginRPS     float64
	LoginBurst   int
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoverMiddleware)
	r.Use(MetricsMiddleware)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", metrics.Handler())

	loginLimiter := rate.NewLimiter(rate.Limit(cfg.LoginRPS), cfg.LoginBurst)
	if cfg.LoginRPS <= 0 {
		loginLimiter = rate.NewLimiter(rate.Inf, 0)
	}

	r.Group(func(r chi.Router) {
		r.Use(AttributionMiddleware(cfg.Tokens))

		// Anonymous endpoints
		r.With(RateLimitMiddleware(loginLimiter)).Post("/auth/login", loginHandler(cfg.Users, cfg.Tokens))
		r.Post("/users", registerHandler(cfg.Users))

		r.Group(func(r chi.Router) {
			r.Use(RequireAuth)

			// Users
			r.Get("/users/me", meHandler(cfg.Users))
			r.With(RequireRole(identity.RoleStaff, identity.RoleDoctor)).Get("/users", searchUsersHandler(cfg.Users))
			r.Get("/users/{id}", getUserHandler(cfg.Users))
			r.Put("/users/{id}", updateProfileHandler(cfg.Users))

			// Appointments
			r.With(RequireRole(identity.RolePatient, identity.RoleStaff)).Post("/appointments", bookAppointmentHandler(cfg.Appointments))
			r.With(RequireRole(identity.RoleStaff, identity.RoleDoctor)).Get("/appointments", listAppointmentsHandler(cfg.Appointments))
			r.With(RequireRole(identity.RolePatient, identity.RoleStaff)).Get("/appointments/available", availableSlotsHandler(cfg.Appointments))
			r.Get("/appointments/{id}", getAppointmentHandler(cfg.Appointments))
			r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Appointments))

			// Visits
			r.With(RequireRole(identity.RoleDoctor)).Post("/appointments/{id}/visit", completeVisitHandler(cfg.Visits))
			r.Get("/appointments/{id}/visit", getAppointmentVisitHandler(cfg.Visits))
			r.Get("/visits/{id}", getVisitHandler(cfg.Visits))

			// Patient views
			r.Get("/patients/{id}/visits", patientVisitsHandler(cfg.Visits))
			r.With(RequireRole(identity.RolePatient, identity.RoleStaff)).Get("/patients/{id}/appointments", patientAppointmentsHandler(cfg.Appointments))

			// Audit
			r.With(RequireRole(identity.RoleStaff)).Get("/audit", listAuditHandler(cfg.Audit))
		})
	})

	return r
}
