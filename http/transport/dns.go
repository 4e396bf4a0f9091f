package transport

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/amp-labs/workflow-core/logger"
	"github.com/rs/dnscache"
)

// dnsResolver is shared by every transport that enables DNS caching.
var dnsResolver = &dnscache.Resolver{}

// useDNSCacheDialer modifies the given http.Transport to use a DNS caching dialer.
func useDNSCacheDialer(trans *http.Transport, timeout, keepAlive time.Duration) {
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: keepAlive,
	}

	// Webhook bursts can make the system resolver time out, so lookups go
	// through the cache and each resolved address is tried in turn.
	trans.DialContext = func(ctx context.Context, network string, addr string) (conn net.Conn, err error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}

		ips, err := dnsResolver.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}

		for _, ip := range ips {
			conn, err = dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
			if err == nil {
				break
			}
		}

		return
	}
}

// RefreshDNSCache refreshes the shared resolver every interval, dropping
// entries unused since the previous refresh, until ctx is done.
func RefreshDNSCache(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultDNSCacheRefresh
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dnsResolver.Refresh(true)
			logger.Get(ctx).DebugContext(ctx, "refreshed dns cache")
		}
	}
}
