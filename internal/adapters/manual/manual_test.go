package manual

import (
	"context"
	"testing"
	"time"

	"github.com/cargolink/tracker/internal/domain"
)

func TestPrepareNormalizesEvent(t *testing.T) {
	adapter := New()
	entered := time.Date(2025, 8, 5, 10, 0, 0, 0, time.FixedZone("SGT", 8*3600))

	event, err := adapter.Prepare(domain.CanonicalEvent{
		Code:      "  cargo_collected ",
		EventTime: entered,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Code != domain.CodeCargoCollected {
		t.Fatalf("expected uppercased trimmed code, got %q", event.Code)
	}
	if event.OriginalTimezone != "+08:00" {
		t.Fatalf("expected preserved zone designator, got %q", event.OriginalTimezone)
	}
	if event.EventTime.Location() != time.UTC {
		t.Fatalf("expected UTC-normalized event time")
	}
	if !event.EventTime.Equal(entered) {
		t.Fatalf("normalization must not shift the instant")
	}
	if event.Category != domain.CategoryStatusUpdate || event.Severity != domain.SeverityInfo {
		t.Fatalf("expected category and severity defaults, got %s/%s", event.Category, event.Severity)
	}
}

func TestPrepareKeepsExplicitFields(t *testing.T) {
	adapter := New()
	event, err := adapter.Prepare(domain.CanonicalEvent{
		Code:             "DAMAGE_REPORTED",
		EventTime:        time.Now().UTC(),
		OriginalTimezone: "+03:00",
		Category:         domain.CategoryException,
		Severity:         domain.SeverityCritical,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.OriginalTimezone != "+03:00" {
		t.Fatalf("explicit zone must win, got %q", event.OriginalTimezone)
	}
	if event.Category != domain.CategoryException || event.Severity != domain.SeverityCritical {
		t.Fatalf("explicit classification must win")
	}
}

func TestPrepareRejectsIncompleteEvents(t *testing.T) {
	adapter := New()
	if _, err := adapter.Prepare(domain.CanonicalEvent{EventTime: time.Now()}); err == nil {
		t.Fatalf("missing code must be rejected")
	}
	if _, err := adapter.Prepare(domain.CanonicalEvent{Code: "DELIVERED"}); err == nil {
		t.Fatalf("missing event time must be rejected")
	}
}

func TestFetchIsInert(t *testing.T) {
	adapter := New()
	if adapter.SourceID() != SourceID {
		t.Fatalf("unexpected source id %q", adapter.SourceID())
	}
	events, err := adapter.Fetch(context.Background(), domain.Shipment{})
	if err != nil || events != nil {
		t.Fatalf("manual adapter never polls, got %v, %v", events, err)
	}
}
