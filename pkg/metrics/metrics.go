package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InvitationEvents counts invitation lifecycle transitions by event
	// (created|accepted|declined|cancelled|resent|expired|rejected).
	InvitationEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "careteam_invitation_events_total",
			Help: "Total number of invitation lifecycle events",
		},
		[]string{"event"},
	)

	// MFAVerifications records verification attempts by method and result (success|failure|blocked).
	MFAVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "careteam_mfa_verifications_total",
			Help: "Total number of MFA verification attempts",
		},
		[]string{"method", "result"},
	)

	// MFALockouts counts principals locked out after repeated failures.
	MFALockouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "careteam_mfa_lockouts_total",
			Help: "Total number of MFA lockouts triggered",
		},
	)

	// NotificationDeliveries counts invitation notifications by channel and result (sent|skipped|failed).
	NotificationDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "careteam_notification_deliveries_total",
			Help: "Total number of invitation notification deliveries",
		},
		[]string{"channel", "result"},
	)

	// AccessChecks counts team capability evaluations (allow|deny).
	AccessChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "careteam_access_checks_total",
			Help: "Total number of team capability checks",
		},
		[]string{"capability", "result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "careteam_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
