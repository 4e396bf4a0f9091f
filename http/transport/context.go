package transport

import (
	"context"
	"net/http"
)

// contextKey is a type for context keys defined in this package.
type contextKey string

const contextKeyTransport contextKey = "http-transport"

// WithTransport stores a round tripper NewClient uses instead of building one.
func WithTransport(ctx context.Context, transport http.RoundTripper) context.Context {
	return context.WithValue(ctx, contextKeyTransport, transport)
}

// Get returns the round tripper stored in ctx, or nil.
func Get(ctx context.Context) http.RoundTripper {
	if ctx == nil {
		return nil
	}

	transport, ok := ctx.Value(contextKeyTransport).(http.RoundTripper)
	if !ok {
		return nil
	}

	return transport
}
