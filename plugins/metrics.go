package plugins

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// httpRequestDuration tracks outbound API plugin calls by kind and status
// code ("error" for transport failures).
var httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "workflow",
	Subsystem: "plugins",
	Name:      "http_request_duration_seconds",
	Help:      "Duration of API plugin requests by kind and status",
	Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
}, []string{"kind", "status"})
