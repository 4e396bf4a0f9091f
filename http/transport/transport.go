// Package transport builds the HTTP stack plugins call out through.
//
// New creates a pooled http.Transport, optionally dialing through a shared DNS
// cache. NewClient layers retries, request logging and OpenTelemetry
// instrumentation on top of it (or on top of a round tripper stored in the
// context with WithTransport, which tests use to stub the network).
//
//	client := transport.NewClient(ctx, transport.DefaultConfig())
//	resp, err := client.Do(req)
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// New returns a new http.Transport configured from cfg. Try to use a single
// instance and reuse it for all requests to take advantage of connection pooling.
func New(cfg Config) *http.Transport {
	cfg = cfg.withDefaults()

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: cfg.KeepAlive,
		}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ExpectContinueTimeout: defaultExpectContinueTimeout,
	}

	if cfg.DisableConnectionPooling {
		transport.DisableKeepAlives = true
	}

	if cfg.EnableDNSCache {
		useDNSCacheDialer(transport, cfg.DialTimeout, cfg.KeepAlive)
	}

	if cfg.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec
		}
	}

	return transport
}

// NewClient returns an http.Client whose transport retries transient
// failures, logs every exchange and records client spans. The base round
// tripper is the one stored in ctx, if any, else New(cfg).
func NewClient(ctx context.Context, cfg Config) *http.Client {
	base := Get(ctx)
	if base == nil {
		base = New(cfg)
	}

	var rt http.RoundTripper = NewLoggingTransport(base)

	if cfg.MaxRetries > 0 {
		rt = NewRetryTransport(rt, cfg.MaxRetries)
	}

	if !cfg.DisableTracing {
		rt = otelhttp.NewTransport(rt)
	}

	return &http.Client{
		Transport: rt,
		Timeout:   cfg.Timeout,
	}
}
