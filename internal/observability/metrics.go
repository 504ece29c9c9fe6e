package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_coordination"

var (
	RidesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "rides_created_total", Help: "Total rides created"})
	TransitionsTotal  = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transitions_total", Help: "Accepted ride status transitions"},
		[]string{"from", "to"},
	)
	TransitionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transition_errors_total", Help: "Rejected ride operations by reason"},
		[]string{"reason"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notifications_total", Help: "Notification attempts by event and outcome"},
		[]string{"event", "outcome"},
	)
	PresenceConnections = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "presence_connections", Help: "Identities with a live connection"})

	OTPIssuedTotal        = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "otp_issued_total", Help: "One-time codes issued"})
	OTPVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "otp_verifications_total", Help: "One-time code verifications by result"},
		[]string{"result"},
	)

	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_published_total", Help: "Ride events published to the event stream"},
		[]string{"outcome"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
