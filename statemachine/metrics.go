package statemachine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric definitions with appropriate labels.
var (
	// transitionsTotal tracks selected transitions by machine, source, target and event.
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_statemachine_transitions_total",
		Help: "Total number of transitions taken by machine, from_state, to_state, and event",
	}, []string{"machine", "from_state", "to_state", "event"})

	// guardEvaluationsTotal tracks guard outcomes (pass, fail, error).
	guardEvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_statemachine_guard_evaluations_total",
		Help: "Total number of guard evaluations by machine, guard type, and outcome",
	}, []string{"machine", "guard", "outcome"})

	// actionDuration tracks individual action execution time.
	actionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "workflow_statemachine_action_duration_seconds",
		Help:    "Duration of action execution by machine, action, and outcome",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"machine", "action", "outcome"})
)

const (
	outcomeSuccess = "success"
	outcomeError   = "error"
	outcomePass    = "pass"
	outcomeFail    = "fail"
)

func sanitizeMachine(id string) string {
	if id == "" {
		return "unknown"
	}

	return id
}

func sanitizeState(state string) string {
	if state == "" {
		return "none"
	}

	return state
}
