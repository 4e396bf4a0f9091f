package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestResolvedEndpoint(t *testing.T) {
	tests := []struct {
		name             string
		kubernetesHost   string
		customEndpoint   string
		expectedEndpoint string
	}{
		{
			name:             "Kubernetes detected",
			kubernetesHost:   "10.0.0.1",
			expectedEndpoint: kubernetesCollectorEndpoint,
		},
		{
			name:             "outside Kubernetes",
			expectedEndpoint: "",
		},
		{
			name:             "custom endpoint wins",
			kubernetesHost:   "10.0.0.1",
			customEndpoint:   "http://custom-collector:4318",
			expectedEndpoint: "http://custom-collector:4318",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Setenv("KUBERNETES_SERVICE_HOST", test.kubernetesHost)

			config := DefaultConfig()
			config.Endpoint = test.customEndpoint

			assert.Equal(t, test.expectedEndpoint, config.ResolvedEndpoint())
		})
	}
}

func TestInitializeDisabled(t *testing.T) {
	t.Setenv("KUBERNETES_SERVICE_HOST", "")

	require.NoError(t, Initialize(t.Context(), DefaultConfig()))

	config := DefaultConfig()
	config.Enabled = true
	require.NoError(t, Initialize(t.Context(), config))

	require.NoError(t, Shutdown(t.Context()))
}

func TestInstallExportsSpans(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	exporter := tracetest.NewInMemoryExporter()

	config := DefaultConfig()
	config.Environment = "test"

	require.NoError(t, install(t.Context(), config, sdktrace.WithSyncer(exporter)))

	_, span := otel.Tracer("telemetry-test").Start(t.Context(), "probe")
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "probe", spans[0].Name)

	var service string

	for _, attr := range spans[0].Resource.Attributes() {
		if attr.Key == "service.name" {
			service = attr.Value.AsString()
		}
	}

	assert.Equal(t, defaultServiceName, service)

	require.NoError(t, Shutdown(t.Context()))
	require.NoError(t, Shutdown(t.Context()))
}
