// Package errs provides structured error types and helpers for tracker services.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies an error category in the tracking pipeline.
type Kind string

const (
	// KindValidation indicates caller input that violates a contract.
	KindValidation Kind = "validation"
	// KindNotFound indicates a missing shipment, event, or subscription.
	KindNotFound Kind = "not_found"
	// KindAccessDenied indicates the caller does not own the resource.
	KindAccessDenied Kind = "access_denied"
	// KindDuplicate indicates an event that was already applied.
	KindDuplicate Kind = "duplicate"
	// KindTransientUpstream indicates a retryable upstream failure.
	KindTransientUpstream Kind = "transient_upstream"
	// KindPermanentUpstream indicates an upstream failure that must not be retried.
	KindPermanentUpstream Kind = "permanent_upstream"
	// KindStore indicates an unexpected persistence failure.
	KindStore Kind = "store"
)

// E captures structured error information produced across the tracker stack.
type E struct {
	Source  string
	Kind    Kind
	HTTP    int
	Message string
	Fields  map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the originating component and kind.
func New(source string, kind Kind, opts ...Option) *E {
	e := &E{
		Source:  strings.TrimSpace(source),
		Kind:    kind,
		HTTP:    0,
		Message: "",
		Fields:  nil,
		cause:   nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithHTTP records the associated upstream HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithField appends a single metadata key/value pair.
func WithField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Fields == nil {
			e.Fields = make(map[string]string, 1)
		}
		e.Fields[trimmedKey] = strings.TrimSpace(value)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	source := strings.TrimSpace(e.Source)
	if source == "" {
		source = "unknown"
	}
	parts = append(parts, "source="+source)

	kind := strings.TrimSpace(string(e.Kind))
	if kind == "" {
		kind = "unknown"
	}
	parts = append(parts, "kind="+kind)

	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	for _, k := range sortedKeys(e.Fields) {
		parts = append(parts, k+"="+strconv.Quote(e.Fields[k]))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// KindOf reports the kind carried by err, or an empty kind when err does not
// wrap an *E envelope.
func KindOf(err error) Kind {
	var envelope *E
	if errors.As(err, &envelope) {
		return envelope.Kind
	}
	return Kind("")
}

// IsKind reports whether err wraps an envelope of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return IsKind(err, KindValidation) }

// IsNotFound reports whether err represents a missing resource.
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

// IsAccessDenied reports whether err represents an ownership violation.
func IsAccessDenied(err error) bool { return IsKind(err, KindAccessDenied) }

// IsDuplicate reports whether err represents an already-applied event.
func IsDuplicate(err error) bool { return IsKind(err, KindDuplicate) }

// IsTransient reports whether err represents a retryable upstream failure.
func IsTransient(err error) bool { return IsKind(err, KindTransientUpstream) }

// IsPermanent reports whether err represents a non-retryable upstream failure.
func IsPermanent(err error) bool { return IsKind(err, KindPermanentUpstream) }

// IsStore reports whether err represents a persistence failure.
func IsStore(err error) bool { return IsKind(err, KindStore) }

// Validation returns a standardized validation error.
func Validation(source, msg string) *E {
	return New(source, KindValidation, WithMessage(msg))
}

// NotFound returns a standardized not-found error.
func NotFound(source, msg string) *E {
	return New(source, KindNotFound, WithMessage(msg))
}

// AccessDenied returns a standardized ownership error.
func AccessDenied(source, msg string) *E {
	return New(source, KindAccessDenied, WithMessage(msg))
}

// Store wraps an unexpected persistence failure.
func Store(source string, cause error) *E {
	return New(source, KindStore, WithCause(cause))
}

func sortedKeys(fields map[string]string) []string {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
