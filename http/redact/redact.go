// Package redact masks credentials in HTTP headers and query parameters
// before plugin traffic is logged.
package redact

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

const redacted = "[redacted]"

// schemeLength keeps "Bearer " or "Basic " visible in Authorization values.
const schemeLength = 7

// PartiallyRedactString shows the first visibleRunes characters and replaces the rest
// with asterisks, or with "[redacted]" when truncate is set. Strings no longer than
// visibleRunes are returned unchanged.
//
//	PartiallyRedactString("sk_live_abc123def456", 8, false) // "sk_live_************"
//	PartiallyRedactString("sk_live_abc123def456", 8, true)  // "sk_live_[redacted]"
func PartiallyRedactString(value string, visibleRunes int, truncate bool) string {
	if len(value) <= visibleRunes {
		return value
	}

	show := value[:visibleRunes]

	if truncate {
		return show + redacted
	}

	hide := strings.Map(func(r rune) rune {
		return '*'
	}, value[visibleRunes:])

	return show + hide
}

// Action says how one header or query value is written out.
type Action int

const (
	ActionKeep Action = iota
	// ActionRedactFully replaces the value with "[redacted]".
	ActionRedactFully
	// ActionRedactPartialWithMask keeps the first N characters and masks the rest.
	ActionRedactPartialWithMask
	// ActionRedactPartialTruncate keeps the first N characters and appends "[redacted]".
	ActionRedactPartialTruncate
	// ActionDelete drops the value.
	ActionDelete
)

// Func decides how to redact one key/value pair. partialLength applies to the
// partial actions.
type Func func(ctx context.Context, key, value string) (action Action, partialLength int)

var sensitiveHeaders = map[string]bool{ //nolint:gochecknoglobals
	"Cookie":              true,
	"Set-Cookie":          true,
	"X-Api-Key":           true,
	"X-Auth-Token":        true,
	"Proxy-Authorization": true,
}

var sensitiveQueryFragments = []string{"token", "key", "secret", "signature", "password"} //nolint:gochecknoglobals

// Sensitive is the Func plugin transports log with. Authorization keeps its
// scheme, known credential headers and query parameters whose name looks like a
// credential are fully redacted, and everything else is kept.
func Sensitive(_ context.Context, key, _ string) (Action, int) {
	canonical := http.CanonicalHeaderKey(key)

	if canonical == "Authorization" {
		return ActionRedactPartialTruncate, schemeLength
	}

	if sensitiveHeaders[canonical] {
		return ActionRedactFully, 0
	}

	lower := strings.ToLower(key)
	for _, fragment := range sensitiveQueryFragments {
		if strings.Contains(lower, fragment) {
			return ActionRedactFully, 0
		}
	}

	return ActionKeep, 0
}

// apply runs redact over every value of a multi-map and calls add for the
// values that survive.
func apply(ctx context.Context, values map[string][]string, redact Func, add func(key, value string)) {
	for key, vals := range values {
		for _, val := range vals {
			action, partialLen := redact(ctx, key, val)

			switch action {
			case ActionRedactFully:
				add(key, redacted)
			case ActionRedactPartialWithMask:
				add(key, PartiallyRedactString(val, partialLen, false))
			case ActionRedactPartialTruncate:
				add(key, PartiallyRedactString(val, partialLen, true))
			case ActionDelete:
			case ActionKeep:
				add(key, val)
			default:
				add(key, val)
			}
		}
	}
}

// Headers returns a redacted copy of headers. A nil redact clones them.
func Headers(ctx context.Context, headers http.Header, redact Func) http.Header {
	if headers == nil {
		return nil
	}

	if redact == nil {
		return headers.Clone()
	}

	out := make(http.Header, len(headers))
	apply(ctx, headers, redact, out.Add)

	return out
}

// URLValues returns a redacted copy of query parameters. A nil redact clones them.
func URLValues(ctx context.Context, values url.Values, redact Func) url.Values {
	if values == nil {
		return nil
	}

	out := make(url.Values, len(values))

	if redact == nil {
		for key, vals := range values {
			out[key] = append([]string(nil), vals...)
		}

		return out
	}

	apply(ctx, values, redact, out.Add)

	return out
}

// URL returns u as a string with user info removed and query parameters
// redacted.
func URL(ctx context.Context, u *url.URL, redact Func) string {
	if u == nil {
		return ""
	}

	clean := *u
	clean.User = nil

	if clean.RawQuery != "" {
		clean.RawQuery = URLValues(ctx, u.Query(), redact).Encode()
	}

	return clean.String()
}
