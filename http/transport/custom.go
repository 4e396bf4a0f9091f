package transport

import (
	"errors"
	"fmt"
	"net/http"
)

var ErrOffline = errors.New("outbound http is disabled")

// RoundTripFunc adapts a function to http.RoundTripper. Stored in a context
// with WithTransport it replaces the network for every client NewClient
// builds from that context.
type RoundTripFunc func(req *http.Request) (*http.Response, error)

var _ http.RoundTripper = RoundTripFunc(nil)

func (f RoundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Offline returns a round tripper that rejects every request with ErrOffline.
// Retries give up on it immediately.
func Offline() http.RoundTripper { //nolint:ireturn
	return RoundTripFunc(func(req *http.Request) (*http.Response, error) {
		return nil, fmt.Errorf("%w: %s %s", ErrOffline, req.Method, req.URL.Host)
	})
}
