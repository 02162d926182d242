package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cargolink/tracker/errs"
	"github.com/cargolink/tracker/internal/adapters/manual"
	"github.com/cargolink/tracker/internal/domain"
	"github.com/cargolink/tracker/internal/domain/shipmentstore"
	"github.com/cargolink/tracker/internal/infra/persistence/memory"
	"github.com/cargolink/tracker/internal/pipeline"
)

type fakeRefresher struct {
	mu        sync.Mutex
	refreshed []string
	ticks     int
	err       error
}

func (f *fakeRefresher) Refresh(_ context.Context, shipment domain.Shipment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, shipment.AWBNumber)
	return f.err
}

func (f *fakeRefresher) Tick(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks++
	return f.err
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	hits    int
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (f *fakeCache) Get(_ context.Context, awb string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payload, ok := f.entries[awb]
	if ok {
		f.hits++
	}
	return payload, ok
}

func (f *fakeCache) Set(_ context.Context, awb string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	f.entries[awb] = append([]byte(nil), payload...)
}

type fixture struct {
	server    *httptest.Server
	store     *memory.Store
	refresher *fakeRefresher
}

func newServerFixture(t *testing.T) *fixture {
	return newServerFixtureWithCache(t, nil)
}

func newServerFixtureWithCache(t *testing.T, cache SnapshotCache) *fixture {
	t.Helper()
	store := memory.NewStore()
	p, err := pipeline.New(pipeline.Options{UnitOfWork: store, Catalog: store})
	require.NoError(t, err)

	auth := NewTokenAuthorizer(map[string]Principal{
		"tok-c1":    {SubscriberID: "sub-1", CustomerID: "c-1", Role: RoleCustomer},
		"tok-c2":    {SubscriberID: "sub-2", CustomerID: "c-2", Role: RoleCustomer},
		"tok-op":    {SubscriberID: "ops", Role: RoleOperator},
		"tok-admin": {SubscriberID: "root", Role: RoleAdmin},
	})
	refresher := &fakeRefresher{}
	handler, err := NewHandler(Options{
		Shipments:     store,
		Events:        store,
		Subscriptions: store.Subscriptions(),
		Pipeline:      p,
		Refresher:     refresher,
		Manual:        manual.New(),
		Auth:          auth,
		Cache:         cache,
	})
	require.NoError(t, err)

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &fixture{server: server, store: store, refresher: refresher}
}

func (f *fixture) seedShipment(t *testing.T, id, awb, customer string) domain.Shipment {
	t.Helper()
	shipment := domain.Shipment{
		ID:                 id,
		AWBNumber:          awb,
		CustomerID:         customer,
		OriginAirport:      "SIN",
		DestinationAirport: "HKG",
		Pieces:             2,
		WeightKg:           decimal.NewFromFloat(10.5),
		CurrentStatus:      domain.StatusInTransit,
		CurrentLocation:    "DXB",
		TrackingEnabled:    true,
		TrackingFrequency:  30,
	}
	require.NoError(t, f.store.Create(context.Background(), shipment))
	return shipment
}

func (f *fixture) do(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestPublicTrackingByAWB(t *testing.T) {
	f := newServerFixture(t)
	shipment := f.seedShipment(t, "shp-1", "125-12345678", "c-1")

	visible := domain.TrackingEvent{
		CanonicalEvent: domain.CanonicalEvent{
			Code:            domain.CodeFlightDeparted,
			EventTime:       time.Now().UTC().Add(-time.Hour),
			Category:        domain.CategoryMilestone,
			Severity:        domain.SeverityInfo,
			CustomerVisible: true,
		},
		EventID:    "evt-vis",
		ShipmentID: shipment.ID,
		CreatedAt:  time.Now().UTC(),
	}
	internal := visible
	internal.EventID = "evt-int"
	internal.Code = domain.CodeStatusUpdate
	internal.CustomerVisible = false
	require.NoError(t, f.store.Append(context.Background(), visible))
	require.NoError(t, f.store.Append(context.Background(), internal))

	resp := f.do(t, http.MethodGet, "/tracking/awb/125-12345678", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body snapshotResponse
	decodeBody(t, resp, &body)
	require.Equal(t, "125-12345678", body.AWB)
	require.Equal(t, domain.StatusInTransit, body.Status)
	require.Len(t, body.Events, 1, "public view hides internal events")
	require.Equal(t, "evt-vis", body.Events[0].EventID)
}

func TestPublicTrackingReadsThroughCache(t *testing.T) {
	cache := newFakeCache()
	f := newServerFixtureWithCache(t, cache)
	f.seedShipment(t, "shp-1", "125-12345678", "c-1")

	resp := f.do(t, http.MethodGet, "/tracking/awb/125-12345678", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, cache.sets)
	require.Zero(t, cache.hits)

	// The cached payload answers the second request even after the row
	// changes underneath it.
	require.NoError(t, f.store.ApplyState(context.Background(), shipmentstore.StateUpdate{
		ShipmentID: "shp-1",
		Status:     domain.StatusDelivered,
	}))
	resp = f.do(t, http.MethodGet, "/tracking/awb/125-12345678", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, cache.hits)
	require.Equal(t, 1, cache.sets)

	var body snapshotResponse
	decodeBody(t, resp, &body)
	require.Equal(t, "125-12345678", body.AWB)
	require.Equal(t, domain.StatusInTransit, body.Status)
}

func TestPublicTrackingSkipsCacheOnMiss(t *testing.T) {
	cache := newFakeCache()
	f := newServerFixtureWithCache(t, cache)

	resp := f.do(t, http.MethodGet, "/tracking/awb/125-99999999", "", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Zero(t, cache.sets, "failed lookups are not cached")
}

func TestPublicTrackingRejectsMalformedAWB(t *testing.T) {
	f := newServerFixture(t)
	resp := f.do(t, http.MethodGet, "/tracking/awb/12-3456789", "", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPublicTrackingUnknownAWB(t *testing.T) {
	f := newServerFixture(t)
	resp := f.do(t, http.MethodGet, "/tracking/awb/999-99999999", "", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestShipmentDetailRequiresOwnership(t *testing.T) {
	f := newServerFixture(t)
	shipment := f.seedShipment(t, "shp-1", "125-12345678", "c-1")

	resp := f.do(t, http.MethodGet, "/tracking/shipments/"+shipment.ID, "", "")
	require.Equal(t, http.StatusForbidden, resp.StatusCode, "anonymous callers cannot read shipments")

	resp = f.do(t, http.MethodGet, "/tracking/shipments/"+shipment.ID, "tok-c2", "")
	require.Equal(t, http.StatusForbidden, resp.StatusCode, "other customers cannot read the shipment")

	resp = f.do(t, http.MethodGet, "/tracking/shipments/"+shipment.ID, "tok-c1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/tracking/shipments/"+shipment.ID, "tok-op", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, "operators read any shipment")
}

func TestCustomerHistoryScoping(t *testing.T) {
	f := newServerFixture(t)
	f.seedShipment(t, "shp-1", "125-12345678", "c-1")
	f.seedShipment(t, "shp-2", "125-22222222", "c-1")
	f.seedShipment(t, "shp-3", "125-33333333", "c-2")

	resp := f.do(t, http.MethodGet, "/tracking/customer/c-1/history", "tok-c1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Shipments []domain.Shipment `json:"shipments"`
	}
	decodeBody(t, resp, &body)
	require.Len(t, body.Shipments, 2)

	resp = f.do(t, http.MethodGet, "/tracking/customer/c-1/history", "tok-c2", "")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/tracking/customer/c-1/history", "tok-admin", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, "admins may read any customer history")
}

func TestCustomerHistoryPaginationBounds(t *testing.T) {
	f := newServerFixture(t)
	resp := f.do(t, http.MethodGet, "/tracking/customer/c-1/history?limit=0", "tok-c1", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/tracking/customer/c-1/history?limit=101", "tok-c1", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/tracking/customer/c-1/history?offset=-1", "tok-c1", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestShipmentEventsFilters(t *testing.T) {
	f := newServerFixture(t)
	shipment := f.seedShipment(t, "shp-1", "125-12345678", "c-1")

	milestone := domain.TrackingEvent{
		CanonicalEvent: domain.CanonicalEvent{
			Code:        domain.CodeFlightArrived,
			EventTime:   time.Now().UTC().Add(-time.Hour),
			Category:    domain.CategoryMilestone,
			IsMilestone: true,
			Severity:    domain.SeverityInfo,
		},
		EventID:    "evt-mile",
		ShipmentID: shipment.ID,
		CreatedAt:  time.Now().UTC(),
	}
	plain := milestone
	plain.EventID = "evt-plain"
	plain.Code = domain.CodeStatusUpdate
	plain.Category = domain.CategoryStatusUpdate
	plain.IsMilestone = false
	require.NoError(t, f.store.Append(context.Background(), milestone))
	require.NoError(t, f.store.Append(context.Background(), plain))

	resp := f.do(t, http.MethodGet, "/tracking/shipments/"+shipment.ID+"/events", "tok-c1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Events []domain.TrackingEvent `json:"events"`
	}
	decodeBody(t, resp, &body)
	require.Len(t, body.Events, 2)

	resp = f.do(t, http.MethodGet, "/tracking/shipments/"+shipment.ID+"/events?milestones_only=true", "tok-c1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body.Events = nil
	decodeBody(t, resp, &body)
	require.Len(t, body.Events, 1)
	require.Equal(t, "evt-mile", body.Events[0].EventID)
}

func TestManualEventIngestion(t *testing.T) {
	f := newServerFixture(t)
	f.seedShipment(t, "shp-1", "125-12345678", "c-1")

	payload := `{"awb": "125-12345678", "event": {"code": "cargo_collected", "eventTime": "2025-08-05T10:00:00Z", "location": {"airportCode": "SIN"}}}`

	resp := f.do(t, http.MethodPost, "/tracking/events", "tok-c1", payload)
	require.Equal(t, http.StatusForbidden, resp.StatusCode, "customers cannot ingest events")

	resp = f.do(t, http.MethodPost, "/tracking/events", "tok-op", payload)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var body map[string]any
	decodeBody(t, resp, &body)
	require.Equal(t, "created", body["outcome"])

	// Same code four minutes later, still inside the dedup window.
	dup := `{"awb": "125-12345678", "event": {"code": "CARGO_COLLECTED", "eventTime": "2025-08-05T10:04:00Z"}}`
	resp = f.do(t, http.MethodPost, "/tracking/events", "tok-op", dup)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/tracking/events", "tok-op", `{"awb": "125-12345678"`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	missing := `{"awb": "999-99999999", "event": {"code": "DELIVERED", "eventTime": "2025-08-05T10:00:00Z"}}`
	resp = f.do(t, http.MethodPost, "/tracking/events", "tok-op", missing)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestForceUpdate(t *testing.T) {
	f := newServerFixture(t)
	f.seedShipment(t, "shp-1", "125-12345678", "c-1")

	resp := f.do(t, http.MethodPost, "/tracking/update/125-12345678", "tok-c1", "")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/tracking/update/banana", "tok-op", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/tracking/update/125-12345678", "tok-op", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"125-12345678"}, f.refresher.refreshed)
}

func TestForceUpdateSurfacesRefreshFailure(t *testing.T) {
	f := newServerFixture(t)
	f.seedShipment(t, "shp-1", "125-12345678", "c-1")
	f.refresher.err = errs.New("feed", errs.KindTransientUpstream,
		errs.WithMessage("upstream unavailable"))

	resp := f.do(t, http.MethodPost, "/tracking/update/125-12345678", "tok-op", "")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestBulkUpdate(t *testing.T) {
	f := newServerFixture(t)
	f.seedShipment(t, "shp-1", "125-12345678", "c-1")

	resp := f.do(t, http.MethodPost, "/tracking/bulk-update", "tok-op", `{"awbs": []}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/tracking/bulk-update", "tok-op",
		`{"awbs": ["125-12345678", "999-99999999", "oops"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Results map[string]string `json:"results"`
	}
	decodeBody(t, resp, &body)
	require.Equal(t, "refreshed", body.Results["125-12345678"])
	require.Equal(t, "not found", body.Results["999-99999999"])
	require.Equal(t, "invalid awb format", body.Results["oops"])

	f.refresher.err = errs.New("feed", errs.KindTransientUpstream,
		errs.WithMessage("upstream unavailable"))
	resp = f.do(t, http.MethodPost, "/tracking/bulk-update", "tok-op", `{"awbs": ["125-12345678"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &body)
	require.Equal(t, "refresh failed", body.Results["125-12345678"])
}

func TestSubscribeEndpoint(t *testing.T) {
	f := newServerFixture(t)
	f.seedShipment(t, "shp-1", "125-12345678", "c-1")

	payload := `{"awb": "125-12345678", "method": "WEBHOOK", "endpoint": "https://hooks.example.com/x", "filter": {"milestone": true}}`

	resp := f.do(t, http.MethodPost, "/tracking/subscribe", "tok-c2", payload)
	require.Equal(t, http.StatusForbidden, resp.StatusCode, "cannot subscribe to another customer's shipment")

	resp = f.do(t, http.MethodPost, "/tracking/subscribe", "tok-c1", payload)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created domain.Subscription
	decodeBody(t, resp, &created)
	require.NotEmpty(t, created.ID)
	require.Equal(t, "sub-1", created.SubscriberID)
	require.True(t, created.Active)
	require.True(t, created.Filter.Milestone)

	bad := `{"awb": "125-12345678", "method": "SMOKE_SIGNAL", "endpoint": "x"}`
	resp = f.do(t, http.MethodPost, "/tracking/subscribe", "tok-c1", bad)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatisticsEndpoint(t *testing.T) {
	f := newServerFixture(t)

	resp := f.do(t, http.MethodGet, "/tracking/statistics?date_from=2025-08-01&date_to=2025-08-31", "tok-op", "")
	require.Equal(t, http.StatusForbidden, resp.StatusCode, "statistics are admin only")

	resp = f.do(t, http.MethodGet, "/tracking/statistics", "tok-admin", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, "date range is required")

	resp = f.do(t, http.MethodGet, "/tracking/statistics?date_from=2025-08-31&date_to=2025-08-01", "tok-admin", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, "inverted range is rejected")

	resp = f.do(t, http.MethodGet, "/tracking/statistics?date_from=2025-08-01&date_to=2025-08-31", "tok-admin", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProcessUpdatesTriggersTick(t *testing.T) {
	f := newServerFixture(t)

	resp := f.do(t, http.MethodPost, "/tracking/process-updates", "tok-op", "")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/tracking/process-updates", "tok-admin", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, f.refresher.ticks)
	var body struct {
		Status string `json:"status"`
	}
	decodeBody(t, resp, &body)
	require.Equal(t, "completed", body.Status)

	f.refresher.err = errs.New("feed", errs.KindTransientUpstream)
	resp = f.do(t, http.MethodPost, "/tracking/process-updates", "tok-admin", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &body)
	require.Equal(t, "completed_with_errors", body.Status)
}

func TestHealthEndpoint(t *testing.T) {
	f := newServerFixture(t)
	resp := f.do(t, http.MethodGet, "/tracking/health", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
