package logger

import (
	"context"
	"errors"
	"log/slog"
	"slices"
)

// AnnotateError attaches slog key/value pairs to err. When the error is later
// logged through a handler wrapped by ErrorAttrs (ConfigureLoggingWithOptions
// installs one) the pairs are added to the record, so the log line written by
// the runner still carries the request details of the plugin that failed.
//
//	return nil, logger.AnnotateError(err, "method", req.Method, "status", resp.StatusCode)
//
// Annotating an annotated error appends to its pairs. A nil err stays nil.
func AnnotateError(err error, args ...any) error {
	if err == nil {
		return nil
	}

	attrs := slog.Group("", args...).Value.Group()

	if annotated, ok := err.(*annotatedError); ok { //nolint:errorlint
		return &annotatedError{err: annotated.err, attrs: append(slices.Clone(annotated.attrs), attrs...)}
	}

	return &annotatedError{err: err, attrs: attrs}
}

// ErrorAttrs wraps inner so that error attributes annotated with
// AnnotateError contribute their pairs to the record.
func ErrorAttrs(inner slog.Handler) slog.Handler { //nolint:ireturn
	if _, ok := inner.(*errorAttrsHandler); ok {
		return inner
	}

	return &errorAttrsHandler{inner: inner}
}

type annotatedError struct {
	err   error
	attrs []slog.Attr
}

func (e *annotatedError) Error() string {
	return e.err.Error()
}

func (e *annotatedError) Unwrap() error {
	return e.err
}

type errorAttrsHandler struct {
	inner slog.Handler
}

func (h *errorAttrsHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle finds annotations anywhere in the chain of each error attribute, so
// a plugin error wrapped by the runner still yields its pairs.
func (h *errorAttrsHandler) Handle(ctx context.Context, record slog.Record) error {
	var extra []slog.Attr

	record.Attrs(func(attr slog.Attr) bool {
		err, ok := attr.Value.Any().(error)
		if !ok {
			return true
		}

		var annotated *annotatedError
		if errors.As(err, &annotated) {
			extra = append(extra, annotated.attrs...)
		}

		return true
	})

	if len(extra) == 0 {
		return h.inner.Handle(ctx, record)
	}

	enriched := record.Clone()
	enriched.AddAttrs(extra...)

	return h.inner.Handle(ctx, enriched)
}

func (h *errorAttrsHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &errorAttrsHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *errorAttrsHandler) WithGroup(name string) slog.Handler {
	return &errorAttrsHandler{inner: h.inner.WithGroup(name)}
}
