package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_submissions_total",
		Help: "Manual payment submissions by result.",
	}, []string{"result"})

	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_transitions_total",
		Help: "Reviewer actions applied to payment records by action and result.",
	}, []string{"action", "result"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Notification deliveries by channel and result.",
	}, []string{"channel", "result"})

	EnrollmentActivationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_activations_total",
		Help: "Enrollment activation attempts by result.",
	}, []string{"result"})

	ActivationBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "enrollment_activation_backlog",
		Help: "Verified payments still waiting for their enrollment.",
	})
)
