package transport

import (
	"fmt"
	"net/http"
	"time"

	"github.com/amp-labs/workflow-core/http/redact"
	"github.com/amp-labs/workflow-core/logger"
	"github.com/google/uuid"
)

// NewLoggingTransport wraps transport (http.DefaultTransport if nil) so that
// every exchange is logged with the logger in the request context. Requests
// and their responses or errors share a UUIDv7 correlation id. Credentials in
// the URL and headers are redacted.
func NewLoggingTransport(transport http.RoundTripper) http.RoundTripper {
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &loggingTransport{transport: transport}
}

type loggingTransport struct {
	transport http.RoundTripper
}

var _ http.RoundTripper = (*loggingTransport)(nil)

func (l *loggingTransport) RoundTrip(request *http.Request) (*http.Response, error) {
	uuid7, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("error generating UUID: %w", err)
	}

	ctx := request.Context()
	log := logger.Get(ctx).With(
		"correlation_id", uuid7.String(),
		"method", request.Method,
		"url", redact.URL(ctx, request.URL, redact.Sensitive))

	log.DebugContext(ctx, "sending http request",
		"headers", redact.Headers(ctx, request.Header, redact.Sensitive))

	start := time.Now()

	response, err := l.transport.RoundTrip(request)
	if err != nil {
		log.ErrorContext(ctx, "http request failed",
			"duration", time.Since(start),
			"error", err)

		return response, err
	}

	log.DebugContext(ctx, "received http response",
		"status", response.StatusCode,
		"duration", time.Since(start))

	return response, nil
}
