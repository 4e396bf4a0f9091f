package bus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "workflow",
	Subsystem: "bus",
	Name:      "notifications_total",
	Help:      "Total number of notifications published, by event name",
}, []string{"event"})

var handlerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "workflow",
	Subsystem: "bus",
	Name:      "handler_errors_total",
	Help:      "Total number of subscriber failures (errors and panics), by event name",
}, []string{"event"})
