package transport

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/cenkalti/backoff/v5"
)

var ErrRetryableStatus = errors.New("retryable status")

// NewRetryTransport retries transient failures up to maxRetries times with
// exponential backoff. Network errors, 429 and 5xx responses are transient.
// Requests with a body are only retried when the body can be replayed
// (req.GetBody is set, as http.NewRequest does for in-memory readers). The
// response of the last attempt is returned as is, so callers still see the
// final status code and body.
func NewRetryTransport(transport http.RoundTripper, maxRetries uint) http.RoundTripper {
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &retryTransport{
		transport:  transport,
		maxRetries: maxRetries,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
}

type retryTransport struct {
	transport  http.RoundTripper
	maxRetries uint
	newBackOff func() backoff.BackOff
}

var _ http.RoundTripper = (*retryTransport)(nil)

func (r *retryTransport) RoundTrip(request *http.Request) (*http.Response, error) {
	maxTries := r.maxRetries + 1
	if request.Body != nil && request.Body != http.NoBody && request.GetBody == nil {
		maxTries = 1
	}

	var attempt uint

	operation := func() (*http.Response, error) {
		attempt++

		req := request

		if attempt > 1 && request.GetBody != nil {
			body, err := request.GetBody()
			if err != nil {
				return nil, backoff.Permanent(err)
			}

			req = request.Clone(request.Context())
			req.Body = body
		}

		response, err := r.transport.RoundTrip(req)
		if err != nil {
			if request.Context().Err() != nil || errors.Is(err, ErrOffline) || attempt >= maxTries {
				return nil, backoff.Permanent(err)
			}

			return nil, err
		}

		if !retryableStatus(response.StatusCode) || attempt >= maxTries {
			return response, nil
		}

		retryAfter := response.Header.Get("Retry-After")

		_, _ = io.Copy(io.Discard, response.Body)
		_ = response.Body.Close()

		if seconds, convErr := strconv.Atoi(retryAfter); convErr == nil && seconds > 0 {
			return nil, backoff.RetryAfter(seconds)
		}

		return nil, fmt.Errorf("%w: %d", ErrRetryableStatus, response.StatusCode)
	}

	return backoff.Retry(request.Context(), operation,
		backoff.WithBackOff(r.newBackOff()),
		backoff.WithMaxTries(maxTries))
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
