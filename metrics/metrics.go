package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TaskTransitions counts task status changes by target status.
	TaskTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowmarket_task_transitions_total",
		Help: "Task status transitions by target status.",
	}, []string{"status"})

	// SubtaskTransitions counts subtask status changes by target status.
	SubtaskTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowmarket_subtask_transitions_total",
		Help: "Subtask status transitions by target status.",
	}, []string{"status"})

	// PaymentReleases counts approval-time payment release outcomes.
	PaymentReleases = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowmarket_payment_releases_total",
		Help: "Payment release outcomes at subtask approval.",
	}, []string{"outcome"})

	// DisputesOpened counts raised disputes.
	DisputesOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowmarket_disputes_opened_total",
		Help: "Disputes raised against subtasks.",
	})

	// DisputesResolved counts resolved disputes.
	DisputesResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowmarket_disputes_resolved_total",
		Help: "Disputes resolved by an admin.",
	})

	// ArtifactPins counts artifact uploads to the content store.
	ArtifactPins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowmarket_artifact_pins_total",
		Help: "Artifacts pinned to the content store.",
	})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
