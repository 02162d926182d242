// Package feed implements the industry tracking feed adapter.
package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"

	"github.com/cargolink/tracker/errs"
	"github.com/cargolink/tracker/internal/domain"
	"github.com/cargolink/tracker/internal/observability"
)

type trackingResponse struct {
	AWB    string         `json:"awb"`
	Events []eventRecord  `json:"events"`
	Meta   map[string]any `json:"meta,omitempty"`
}

type eventRecord struct {
	EventCode   string   `json:"eventCode"`
	Description string   `json:"description"`
	Timestamp   string   `json:"timestamp"`
	ExternalID  string   `json:"externalId"`
	Flight      string   `json:"flightNumber"`
	Station     string   `json:"station"`
	StationName string   `json:"stationName"`
	City        string   `json:"city"`
	Country     string   `json:"country"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Temperature *float64 `json:"temperatureC"`
	Humidity    *float64 `json:"humidityPct"`
}

// codeMapping translates the feed's event vocabulary to canonical codes.
var codeMapping = map[string]string{
	"BKD": domain.CodeBookingConfirmed,
	"RCS": domain.CodeCargoCollected,
	"MAN": domain.CodeManifested,
	"DEP": domain.CodeFlightDeparted,
	"TRN": domain.CodeInTransit,
	"ARR": domain.CodeFlightArrived,
	"CCS": domain.CodeCustomsStarted,
	"CCL": domain.CodeCustomsCleared,
	"CHD": domain.CodeCustomsHold,
	"OFD": domain.CodeOutForDelivery,
	"DLV": domain.CodeDelivered,
	"HLD": domain.CodeShipmentOnHold,
	"DMG": domain.CodeDamageReported,
	"DLY": domain.CodeDelayReported,
	"POS": domain.CodeLocationUpdate,
}

// exception codes and the severity the feed grades them with.
var exceptionSeverity = map[string]domain.Severity{
	domain.CodeCustomsHold:    domain.SeverityWarning,
	domain.CodeShipmentOnHold: domain.SeverityWarning,
	domain.CodeDamageReported: domain.SeverityCritical,
	domain.CodeDelayReported:  domain.SeverityWarning,
}

// Adapter fetches tracking data from the external industry feed and
// normalizes it into canonical events.
type Adapter struct {
	opts   Options
	client *http.Client
}

// New constructs a feed adapter. The catalog is consulted to classify
// milestone and critical events.
func New(opts Options) (*Adapter, error) {
	opts = withDefaults(opts)
	if strings.TrimSpace(opts.Config.BaseURL) == "" {
		return nil, errs.Validation("feed adapter", "base url required")
	}
	if opts.Catalog == nil {
		return nil, errs.Validation("feed adapter", "milestone catalog required")
	}
	return &Adapter{
		opts:   opts,
		client: &http.Client{Timeout: opts.Config.HTTPTimeout},
	}, nil
}

// SourceID returns the registry identifier the adapter ingests under.
func (a *Adapter) SourceID() string {
	return a.opts.Config.SourceID
}

// Fetch retrieves the feed's current events for the shipment. Transient
// upstream failures are retried in-call with exponential backoff before a
// transient error surfaces to the scheduler.
func (a *Adapter) Fetch(ctx context.Context, shipment domain.Shipment) ([]domain.CanonicalEvent, error) {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = a.opts.Config.RetryInterval

	var lastErr error
	for attempt := 0; attempt < a.opts.Config.MaxAttempts; attempt++ {
		records, err := a.fetchOnce(ctx, shipment.AWBNumber)
		if err == nil {
			return a.normalize(ctx, shipment, records), nil
		}
		lastErr = err
		if !errs.IsTransient(err) {
			return nil, err
		}
		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errs.New("feed adapter", errs.KindTransientUpstream,
				errs.WithMessage("fetch cancelled"), errs.WithCause(ctx.Err()))
		case <-time.After(sleep):
		}
	}
	return nil, lastErr
}

func (a *Adapter) fetchOnce(ctx context.Context, awb string) ([]eventRecord, error) {
	endpoint := a.opts.trackingEndpoint()
	params := url.Values{}
	params.Set("awb", awb)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, errs.New("feed adapter", errs.KindPermanentUpstream,
			errs.WithMessage("create tracking request"), errs.WithCause(err))
	}
	req.Header.Set("X-Api-Key", a.opts.Config.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, errs.New("feed adapter", errs.KindTransientUpstream,
			errs.WithMessage("request tracking"), errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		kind := errs.KindPermanentUpstream
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			kind = errs.KindTransientUpstream
		}
		return nil, errs.New("feed adapter", kind,
			errs.WithMessage(fmt.Sprintf("tracking status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))),
			errs.WithField("awb", awb))
	}

	var payload trackingResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errs.New("feed adapter", errs.KindPermanentUpstream,
			errs.WithMessage("decode tracking response"), errs.WithCause(err))
	}
	return payload.Events, nil
}

func (a *Adapter) normalize(ctx context.Context, shipment domain.Shipment, records []eventRecord) []domain.CanonicalEvent {
	events := make([]domain.CanonicalEvent, 0, len(records))
	for _, record := range records {
		evt, ok := a.normalizeRecord(ctx, shipment, record)
		if !ok {
			continue
		}
		events = append(events, evt)
	}
	return events
}

func (a *Adapter) normalizeRecord(ctx context.Context, shipment domain.Shipment, record eventRecord) (domain.CanonicalEvent, bool) {
	upstream := strings.ToUpper(strings.TrimSpace(record.EventCode))
	if upstream == "" {
		observability.Log().Warn("feed event without code dropped",
			observability.Field{Key: "awb", Value: shipment.AWBNumber})
		return domain.CanonicalEvent{}, false
	}

	eventTime, zone, ok := parseEventTime(record.Timestamp)
	if !ok {
		observability.Log().Warn("feed event with unparseable timestamp dropped",
			observability.Field{Key: "awb", Value: shipment.AWBNumber},
			observability.Field{Key: "code", Value: upstream})
		return domain.CanonicalEvent{}, false
	}

	code, known := codeMapping[upstream]
	if !known {
		// Unknown vocabulary persists as a plain status update only when the
		// record carries enough metadata to be useful.
		if strings.TrimSpace(record.Description) == "" && locationOf(record).Empty() {
			observability.Log().Warn("unknown feed event code dropped",
				observability.Field{Key: "awb", Value: shipment.AWBNumber},
				observability.Field{Key: "code", Value: upstream})
			return domain.CanonicalEvent{}, false
		}
		code = domain.CodeStatusUpdate
	}

	evt := domain.CanonicalEvent{
		Code:             code,
		Description:      strings.TrimSpace(record.Description),
		Category:         domain.CategoryStatusUpdate,
		Location:         locationOf(record),
		EventTime:        eventTime,
		OriginalTimezone: zone,
		Severity:         domain.SeverityInfo,
		ExternalID:       strings.TrimSpace(record.ExternalID),
		SourceReference:  upstream,
		CustomerVisible:  true,

		TemperatureCelsius: record.Temperature,
		HumidityPercent:    record.Humidity,
	}
	if code == domain.CodeLocationUpdate {
		evt.Category = domain.CategoryLocationUpdate
	}

	if milestone, err := a.opts.Catalog.MilestoneByCode(ctx, code); err == nil {
		evt.Category = domain.CategoryMilestone
		evt.IsMilestone = true
		evt.IsCritical = milestone.Critical
	}
	if severity, exceptional := exceptionSeverity[code]; exceptional {
		evt.Category = domain.CategoryException
		evt.IsException = true
		evt.Severity = severity
		evt.IsCritical = evt.IsCritical || severity == domain.SeverityCritical
	}

	if flight := strings.TrimSpace(record.Flight); flight != "" {
		extra, err := json.Marshal(map[string]string{"flightNumber": flight})
		if err == nil {
			evt.AdditionalInfo = extra
		}
	}
	return evt, true
}

func locationOf(record eventRecord) domain.Location {
	return domain.Location{
		Name:        strings.TrimSpace(record.StationName),
		Country:     strings.TrimSpace(record.Country),
		City:        strings.TrimSpace(record.City),
		AirportCode: strings.ToUpper(strings.TrimSpace(record.Station)),
		Latitude:    record.Latitude,
		Longitude:   record.Longitude,
	}
}

// parseEventTime normalizes the feed timestamp to UTC while preserving the
// upstream zone designator.
func parseEventTime(raw string) (time.Time, string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, "", false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-0700", "2006-01-02 15:04:05Z07:00"} {
		ts, err := time.Parse(layout, trimmed)
		if err != nil {
			continue
		}
		zone := ts.Format("-07:00")
		return ts.UTC(), zone, true
	}
	return time.Time{}, "", false
}
