// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AppointmentsBooked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medoffice_appointments_booked_total",
		Help: "Appointments successfully booked",
	})

	AppointmentsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medoffice_appointments_cancelled_total",
		Help: "Appointments cancelled",
	})

	VisitsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medoffice_visits_completed_total",
		Help: "Visits created, each completing one appointment",
	})

	Conflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medoffice_conflicts_total",
		Help: "Operations rejected by a uniqueness or state check",
	}, []string{"operation"})

	AuditEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medoffice_audit_entries_total",
		Help: "Audit entries written, by entity and action",
	}, []string{"entity", "action"})

	DayCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medoffice_day_cache_lookups_total",
		Help: "Appointment day cache lookups by result",
	}, []string{"result"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "medoffice_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
