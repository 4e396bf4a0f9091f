// Package telemetry installs the OpenTelemetry tracer provider that runner,
// state machine and HTTP plugin spans are exported through.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/amp-labs/workflow-core/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

const (
	defaultServiceName    = "workflow-core"
	defaultServiceVersion = "1.0.0"
	defaultTimeout        = 5 * time.Second

	kubernetesCollectorEndpoint = "http://opentelemetry-collector.opentelemetry.svc.cluster.local:4318"
)

var (
	providerMu     sync.Mutex
	tracerProvider *sdktrace.TracerProvider
)

// Config holds the OpenTelemetry configuration.
type Config struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	ServiceName    string        `yaml:"serviceName" mapstructure:"serviceName"`
	ServiceVersion string        `yaml:"serviceVersion" mapstructure:"serviceVersion"`
	Environment    string        `yaml:"environment" mapstructure:"environment"`
	Endpoint       string        `yaml:"endpoint" mapstructure:"endpoint"`
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// DefaultConfig returns a disabled configuration with the default service
// name, version and export timeout filled in.
func DefaultConfig() Config {
	return Config{
		ServiceName:    defaultServiceName,
		ServiceVersion: defaultServiceVersion,
		Timeout:        defaultTimeout,
	}
}

// ResolvedEndpoint returns the configured endpoint. Inside Kubernetes an
// empty endpoint falls back to the in-cluster collector service.
func (c Config) ResolvedEndpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}

	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return kubernetesCollectorEndpoint
	}

	return ""
}

// Initialize sets up OpenTelemetry tracing with the given configuration.
func Initialize(ctx context.Context, config Config) error {
	log := logger.Get(ctx)

	if !config.Enabled {
		log.InfoContext(ctx, "OpenTelemetry tracing is disabled")

		return nil
	}

	endpoint := config.ResolvedEndpoint()
	if endpoint == "" {
		log.WarnContext(ctx, "OpenTelemetry endpoint not configured, tracing will be disabled")

		return nil
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(endpoint),
		otlptracehttp.WithTimeout(timeout),
	)
	if err != nil {
		return fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	if err := install(ctx, config, sdktrace.WithBatcher(exporter)); err != nil {
		return err
	}

	log.InfoContext(ctx, "OpenTelemetry tracing initialized",
		"service", config.ServiceName,
		"version", config.ServiceVersion,
		"environment", config.Environment,
		"endpoint", endpoint,
	)

	return nil
}

// install builds the provider around the given span processor and makes it
// the global one.
func install(ctx context.Context, config Config, processor sdktrace.TracerProviderOption) error {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		processor,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	providerMu.Lock()
	tracerProvider = provider
	providerMu.Unlock()

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return nil
}

// Shutdown flushes and stops the tracer provider installed by Initialize.
func Shutdown(ctx context.Context) error {
	providerMu.Lock()
	provider := tracerProvider
	tracerProvider = nil
	providerMu.Unlock()

	if provider == nil {
		return nil
	}

	logger.Get(ctx).InfoContext(ctx, "shutting down OpenTelemetry tracer provider")

	return provider.Shutdown(ctx)
}
