package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesSourceAndFields(t *testing.T) {
	err := New(
		"feed",
		KindTransientUpstream,
		WithHTTP(503),
		WithMessage("upstream unavailable"),
		WithField("awb", "125-12345678"),
		WithField("endpoint", "/v1/events"),
		WithCause(errors.New("feed http 503")),
	)

	out := err.Error()
	if !strings.Contains(out, "source=feed") {
		t.Fatalf("expected source marker in error string: %s", out)
	}
	if !strings.Contains(out, "kind=transient_upstream") {
		t.Fatalf("expected kind marker in error string: %s", out)
	}
	if !strings.Contains(out, "http=503") {
		t.Fatalf("expected http status in error string: %s", out)
	}
	if !strings.Contains(out, "message=\"upstream unavailable\"") {
		t.Fatalf("expected message in error string: %s", out)
	}
	if !strings.Contains(out, "awb=\"125-12345678\" endpoint=\"/v1/events\"") {
		t.Fatalf("expected sorted fields in error string: %s", out)
	}
	if !strings.Contains(out, "cause=\"feed http 503\"") {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestErrorFormattingBlankSourceAndKind(t *testing.T) {
	err := New("  ", Kind(""))
	out := err.Error()
	if out != "source=unknown kind=unknown" {
		t.Fatalf("unexpected formatting for blank envelope: %s", out)
	}
}

func TestWithFieldIgnoresBlankKey(t *testing.T) {
	err := New("pipeline", KindValidation, WithField("  ", "ignored"), WithField("code", " BOOKED "))
	if len(err.Fields) != 1 {
		t.Fatalf("expected single field, got %v", err.Fields)
	}
	if got := err.Fields["code"]; got != "BOOKED" {
		t.Fatalf("expected trimmed field value, got %q", got)
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := New("store", KindStore, WithCause(cause))
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to reach the cause")
	}
	wrapped := fmt.Errorf("saving shipment: %w", err)
	var envelope *E
	if !errors.As(wrapped, &envelope) {
		t.Fatalf("expected errors.As to find the envelope")
	}
	if envelope.Kind != KindStore {
		t.Fatalf("expected store kind, got %q", envelope.Kind)
	}
}

func TestKindOfPlainError(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != Kind("") {
		t.Fatalf("expected empty kind for plain error, got %q", got)
	}
	if KindOf(nil) != Kind("") {
		t.Fatalf("expected empty kind for nil error")
	}
}

func TestKindPredicates(t *testing.T) {
	cases := []struct {
		err  error
		pred func(error) bool
	}{
		{Validation("api", "bad awb"), IsValidation},
		{NotFound("api", "no such shipment"), IsNotFound},
		{AccessDenied("api", "not your shipment"), IsAccessDenied},
		{New("pipeline", KindDuplicate), IsDuplicate},
		{New("feed", KindTransientUpstream), IsTransient},
		{New("feed", KindPermanentUpstream), IsPermanent},
		{Store("postgres", errors.New("boom")), IsStore},
	}
	for _, tc := range cases {
		if !tc.pred(tc.err) {
			t.Fatalf("predicate rejected matching error: %s", tc.err)
		}
	}
	if IsValidation(NotFound("api", "missing")) {
		t.Fatalf("validation predicate matched a not-found error")
	}
}

func TestConstructorShorthands(t *testing.T) {
	v := Validation("manual", "event_code is required")
	if v.Kind != KindValidation || v.Message != "event_code is required" {
		t.Fatalf("unexpected validation envelope: %+v", v)
	}
	s := Store("postgres", errors.New("tx aborted"))
	if s.Kind != KindStore || s.Unwrap() == nil {
		t.Fatalf("unexpected store envelope: %+v", s)
	}
}

func TestNilErrorString(t *testing.T) {
	var e *E
	if got := e.Error(); got != "<nil>" {
		t.Fatalf("expected <nil> string for nil error, got %q", got)
	}
}
