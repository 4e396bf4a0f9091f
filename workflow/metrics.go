package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// eventsTotal counts SendEvent calls by event type and outcome.
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workflow",
		Subsystem: "runner",
		Name:      "events_total",
		Help:      "Total number of events sent to workflow runners by event and outcome",
	}, []string{"event", "outcome"})

	eventDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "workflow",
		Subsystem: "runner",
		Name:      "event_duration_seconds",
		Help:      "Duration of SendEvent, callbacks included, by event",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"event"})

	// pluginInvocationsTotal counts plugin invocations by category and outcome.
	pluginInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workflow",
		Subsystem: "runner",
		Name:      "plugin_invocations_total",
		Help:      "Total number of plugin invocations by category and outcome",
	}, []string{"category", "outcome"})

	pluginDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "workflow",
		Subsystem: "runner",
		Name:      "plugin_duration_seconds",
		Help:      "Duration of plugin invocations by category",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"category"})
)

const (
	outcomeSuccess = "success"
	outcomeError   = "error"
	outcomeIllegal = "illegal"
)

func outcomeOf(err error) string {
	if err != nil {
		return outcomeError
	}

	return outcomeSuccess
}
