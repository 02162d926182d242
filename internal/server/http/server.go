// Package http provides the read-side HTTP handlers of the tracking core.
// The surrounding front-end mounts the handler; the core owns routing,
// validation, and status mapping.
package http

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/cargolink/tracker/errs"
	"github.com/cargolink/tracker/internal/domain"
	"github.com/cargolink/tracker/internal/domain/eventstore"
	"github.com/cargolink/tracker/internal/domain/shipmentstore"
	"github.com/cargolink/tracker/internal/domain/substore"
	"github.com/cargolink/tracker/internal/observability"
	"github.com/cargolink/tracker/internal/pipeline"
)

var awbPattern = regexp.MustCompile(`^[0-9]{3}-[0-9]{8}$`)

const (
	defaultPageLimit  = 20
	maxPageLimit      = 100
	maxEventPageLimit = 1000
	maxBulkUpdate     = 100
)

// Refresher drives on-demand adapter refreshes and scheduler ticks. Both
// report aggregated fetch/apply failures.
type Refresher interface {
	Refresh(ctx context.Context, shipment domain.Shipment) error
	Tick(ctx context.Context) error
}

// SnapshotCache holds rendered public tracking responses keyed by AWB.
// Implementations absorb their own failures; a failed read is a miss.
type SnapshotCache interface {
	Get(ctx context.Context, awb string) ([]byte, bool)
	Set(ctx context.Context, awb string, payload []byte)
}

// ManualPreparer validates operator-entered events before ingestion.
type ManualPreparer interface {
	Prepare(event domain.CanonicalEvent) (domain.CanonicalEvent, error)
	SourceID() string
}

// Options configure the handler set.
type Options struct {
	Shipments     shipmentstore.Store
	Events        eventstore.Store
	Subscriptions substore.Store
	Pipeline      *pipeline.Pipeline
	Refresher     Refresher
	Manual        ManualPreparer
	Auth          Authorizer

	// Cache short-circuits the public tracking endpoint when set.
	Cache SnapshotCache

	// Health reports readiness of the backing services.
	Health func(ctx context.Context) error
	// Push handles websocket upgrade requests when set.
	Push http.Handler
}

// Server carries the route handlers.
type Server struct {
	opts Options
}

// NewHandler builds the tracking route set.
func NewHandler(opts Options) (http.Handler, error) {
	if opts.Shipments == nil || opts.Events == nil || opts.Subscriptions == nil {
		return nil, errs.Validation("http server", "stores required")
	}
	if opts.Pipeline == nil {
		return nil, errs.Validation("http server", "pipeline required")
	}
	if opts.Refresher == nil {
		return nil, errs.Validation("http server", "refresher required")
	}
	if opts.Manual == nil {
		return nil, errs.Validation("http server", "manual adapter required")
	}
	if opts.Auth == nil {
		return nil, errs.Validation("http server", "authorizer required")
	}

	s := &Server{opts: opts}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tracking/awb/{awb}", s.handlePublicTracking)
	mux.HandleFunc("GET /tracking/shipments/{id}", s.handleShipment)
	mux.HandleFunc("GET /tracking/customer/{id}/history", s.handleCustomerHistory)
	mux.HandleFunc("GET /tracking/shipments/{id}/events", s.handleShipmentEvents)
	mux.HandleFunc("POST /tracking/events", s.handleManualEvent)
	mux.HandleFunc("POST /tracking/update/{awb}", s.handleForceUpdate)
	mux.HandleFunc("POST /tracking/bulk-update", s.handleBulkUpdate)
	mux.HandleFunc("POST /tracking/subscribe", s.handleSubscribe)
	mux.HandleFunc("GET /tracking/statistics", s.handleStatistics)
	mux.HandleFunc("POST /tracking/process-updates", s.handleProcessUpdates)
	mux.HandleFunc("GET /tracking/health", s.handleHealth)
	if opts.Push != nil {
		mux.Handle("GET /tracking/ws", opts.Push)
	}
	return mux, nil
}

// snapshotResponse is the read model served for a shipment.
type snapshotResponse struct {
	ShipmentID            string                 `json:"shipmentId"`
	AWB                   string                 `json:"awb"`
	Status                domain.ShipmentStatus  `json:"status"`
	Location              string                 `json:"location,omitempty"`
	Origin                string                 `json:"origin"`
	Destination           string                 `json:"destination"`
	EstimatedDeliveryDate *time.Time             `json:"estimatedDeliveryDate,omitempty"`
	DeliveryDate          *time.Time             `json:"deliveryDate,omitempty"`
	HasExceptions         bool                   `json:"hasExceptions"`
	Events                []domain.TrackingEvent `json:"events,omitempty"`
}

func (s *Server) handlePublicTracking(w http.ResponseWriter, r *http.Request) {
	awb := r.PathValue("awb")
	if !awbPattern.MatchString(awb) {
		writeError(w, http.StatusBadRequest, "awb must match NNN-NNNNNNNN")
		return
	}
	if s.opts.Cache != nil {
		if payload, ok := s.opts.Cache.Get(r.Context(), awb); ok {
			writeRawJSON(w, http.StatusOK, payload)
			return
		}
	}
	shipment, err := s.opts.Shipments.GetByAWB(r.Context(), awb)
	if err != nil {
		writeErr(w, err)
		return
	}
	events, err := s.opts.Events.List(r.Context(), eventstore.Query{
		ShipmentID:          shipment.ID,
		CustomerVisibleOnly: true,
		Limit:               defaultPageLimit,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	body := snapshot(shipment, events)
	if s.opts.Cache != nil {
		if payload, err := json.Marshal(body); err == nil {
			s.opts.Cache.Set(r.Context(), awb, payload)
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleShipment(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.require(w, r, RoleCustomer)
	if !ok {
		return
	}
	shipment, err := s.opts.Shipments.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if !s.mayRead(principal, shipment) {
		writeError(w, http.StatusForbidden, "shipment not owned by caller")
		return
	}
	events, err := s.opts.Events.List(r.Context(), eventstore.Query{
		ShipmentID: shipment.ID,
		Limit:      maxPageLimit,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot(shipment, events))
}

func (s *Server) handleCustomerHistory(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.require(w, r, RoleCustomer)
	if !ok {
		return
	}
	customerID := r.PathValue("id")
	if !principal.AtLeast(RoleOperator) && principal.CustomerID != customerID {
		writeError(w, http.StatusForbidden, "history restricted to own customer id")
		return
	}
	limit, offset, ok := pagination(w, r, maxPageLimit)
	if !ok {
		return
	}
	shipments, err := s.opts.Shipments.ListByCustomer(r.Context(), shipmentstore.HistoryQuery{
		CustomerID: customerID,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"customerId": customerID,
		"shipments":  shipments,
		"limit":      limit,
		"offset":     offset,
	})
}

func (s *Server) handleShipmentEvents(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.require(w, r, RoleCustomer)
	if !ok {
		return
	}
	shipment, err := s.opts.Shipments.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if !s.mayRead(principal, shipment) {
		writeError(w, http.StatusForbidden, "shipment not owned by caller")
		return
	}
	limit, offset, ok := pagination(w, r, maxEventPageLimit)
	if !ok {
		return
	}
	query := eventstore.Query{
		ShipmentID:          shipment.ID,
		MilestonesOnly:      boolParam(r, "milestones_only"),
		ExceptionsOnly:      boolParam(r, "exceptions_only"),
		CustomerVisibleOnly: boolParam(r, "customer_visible_only"),
		Limit:               limit,
		Offset:              offset,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("category")); raw != "" {
		category := domain.EventCategory(strings.ToUpper(raw))
		query.Category = &category
	}
	events, err := s.opts.Events.List(r.Context(), query)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"shipmentId": shipment.ID,
		"events":     events,
		"limit":      limit,
		"offset":     offset,
	})
}

// manualEventRequest is the operator ingestion body. Either the shipment id
// or the AWB identifies the target.
type manualEventRequest struct {
	ShipmentID string                `json:"shipmentId"`
	AWB        string                `json:"awb"`
	Event      domain.CanonicalEvent `json:"event"`
}

func (s *Server) handleManualEvent(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.require(w, r, RoleOperator); !ok {
		return
	}
	var req manualEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	shipment, err := s.resolveShipment(r.Context(), req.ShipmentID, req.AWB)
	if err != nil {
		writeErr(w, err)
		return
	}
	event, err := s.opts.Manual.Prepare(req.Event)
	if err != nil {
		writeErr(w, err)
		return
	}
	outcome, err := s.opts.Pipeline.Apply(r.Context(), shipment.ID, event, s.opts.Manual.SourceID())
	if err != nil {
		writeErr(w, err)
		return
	}
	if outcome == pipeline.OutcomeDuplicate {
		writeJSON(w, http.StatusConflict, map[string]any{"outcome": outcome})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"outcome": outcome, "shipmentId": shipment.ID})
}

func (s *Server) handleForceUpdate(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.require(w, r, RoleOperator); !ok {
		return
	}
	awb := r.PathValue("awb")
	if !awbPattern.MatchString(awb) {
		writeError(w, http.StatusBadRequest, "awb must match NNN-NNNNNNNN")
		return
	}
	shipment, err := s.opts.Shipments.GetByAWB(r.Context(), awb)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.opts.Refresher.Refresh(r.Context(), shipment); err != nil {
		writeErr(w, err)
		return
	}
	refreshed, err := s.opts.Shipments.GetByID(r.Context(), shipment.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot(refreshed, nil))
}

type bulkUpdateRequest struct {
	AWBs []string `json:"awbs"`
}

func (s *Server) handleBulkUpdate(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.require(w, r, RoleOperator); !ok {
		return
	}
	var req bulkUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if len(req.AWBs) == 0 || len(req.AWBs) > maxBulkUpdate {
		writeError(w, http.StatusBadRequest, "awbs must contain between 1 and 100 entries")
		return
	}
	results := make(map[string]string, len(req.AWBs))
	for _, awb := range req.AWBs {
		if !awbPattern.MatchString(awb) {
			results[awb] = "invalid awb format"
			continue
		}
		shipment, err := s.opts.Shipments.GetByAWB(r.Context(), awb)
		if err != nil {
			results[awb] = "not found"
			continue
		}
		if err := s.opts.Refresher.Refresh(r.Context(), shipment); err != nil {
			results[awb] = "refresh failed"
			continue
		}
		results[awb] = "refreshed"
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type subscribeRequest struct {
	ShipmentID string                    `json:"shipmentId"`
	AWB        string                    `json:"awb"`
	Method     domain.DeliveryMethod     `json:"method"`
	Endpoint   string                    `json:"endpoint"`
	Filter     domain.SubscriptionFilter `json:"filter"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.require(w, r, RoleCustomer)
	if !ok {
		return
	}
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	shipment, err := s.resolveShipment(r.Context(), req.ShipmentID, req.AWB)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !s.mayRead(principal, shipment) {
		writeError(w, http.StatusForbidden, "shipment not owned by caller")
		return
	}
	created, err := s.opts.Subscriptions.Create(r.Context(), domain.Subscription{
		ShipmentID:   shipment.ID,
		SubscriberID: principal.SubscriberID,
		Method:       req.Method,
		Endpoint:     req.Endpoint,
		Filter:       req.Filter,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.require(w, r, RoleAdmin); !ok {
		return
	}
	from, to, ok := dateRange(w, r)
	if !ok {
		return
	}
	stats, err := s.opts.Events.Stats(r.Context(), from, to)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dateFrom":   from,
		"dateTo":     to,
		"statistics": stats,
	})
}

func (s *Server) handleProcessUpdates(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.require(w, r, RoleAdmin); !ok {
		return
	}
	started := time.Now()
	status := "completed"
	if err := s.opts.Refresher.Tick(r.Context()); err != nil {
		status = "completed_with_errors"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"durationMs": time.Since(started).Milliseconds(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		if err := s.opts.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) require(w http.ResponseWriter, r *http.Request, role Role) (Principal, bool) {
	principal, err := s.opts.Auth.Authenticate(r)
	if err != nil {
		writeError(w, http.StatusForbidden, "authentication failed")
		return Principal{}, false
	}
	if !principal.AtLeast(role) {
		writeError(w, http.StatusForbidden, "insufficient role")
		return Principal{}, false
	}
	return principal, true
}

func (s *Server) mayRead(principal Principal, shipment domain.Shipment) bool {
	if principal.AtLeast(RoleOperator) {
		return true
	}
	return principal.CustomerID != "" && principal.CustomerID == shipment.CustomerID
}

func (s *Server) resolveShipment(ctx context.Context, shipmentID, awb string) (domain.Shipment, error) {
	switch {
	case strings.TrimSpace(shipmentID) != "":
		return s.opts.Shipments.GetByID(ctx, shipmentID)
	case strings.TrimSpace(awb) != "":
		if !awbPattern.MatchString(awb) {
			return domain.Shipment{}, errs.Validation("http server", "awb must match NNN-NNNNNNNN")
		}
		return s.opts.Shipments.GetByAWB(ctx, awb)
	default:
		return domain.Shipment{}, errs.Validation("http server", "shipment id or awb required")
	}
}

func snapshot(shipment domain.Shipment, events []domain.TrackingEvent) snapshotResponse {
	return snapshotResponse{
		ShipmentID:            shipment.ID,
		AWB:                   shipment.AWBNumber,
		Status:                shipment.CurrentStatus,
		Location:              shipment.CurrentLocation,
		Origin:                shipment.OriginAirport,
		Destination:           shipment.DestinationAirport,
		EstimatedDeliveryDate: shipment.EstimatedDeliveryDate,
		DeliveryDate:          shipment.DeliveryDate,
		HasExceptions:         shipment.HasExceptions,
		Events:                events,
	}
}

func pagination(w http.ResponseWriter, r *http.Request, maxLimit int) (int, int, bool) {
	limit := defaultPageLimit
	offset := 0
	query := r.URL.Query()
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxLimit {
			writeError(w, http.StatusBadRequest, "limit out of range")
			return 0, 0, false
		}
		limit = parsed
	}
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "offset must be non-negative")
			return 0, 0, false
		}
		offset = parsed
	}
	return limit, offset, true
}

func dateRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	query := r.URL.Query()
	from, err := parseDate(query.Get("date_from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date_from is required and must be RFC 3339 or YYYY-MM-DD")
		return time.Time{}, time.Time{}, false
	}
	to, err := parseDate(query.Get("date_to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date_to is required and must be RFC 3339 or YYYY-MM-DD")
		return time.Time{}, time.Time{}, false
	}
	if !from.Before(to) {
		writeError(w, http.StatusBadRequest, "date_from must precede date_to")
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func parseDate(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if ts, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse("2006-01-02", trimmed)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

func boolParam(r *http.Request, name string) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get(name)))
	return err == nil && value
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		observability.Log().Warn("response encode failed",
			observability.Field{Key: "error", Value: err.Error()})
	}
}

func writeRawJSON(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		observability.Log().Warn("response write failed",
			observability.Field{Key: "error", Value: err.Error()})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

// writeErr maps the error taxonomy onto HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errs.KindOf(err) {
	case errs.KindValidation:
		status = http.StatusBadRequest
	case errs.KindNotFound:
		status = http.StatusNotFound
	case errs.KindAccessDenied:
		status = http.StatusForbidden
	case errs.KindDuplicate:
		status = http.StatusConflict
	case errs.KindTransientUpstream:
		status = http.StatusServiceUnavailable
	case errs.KindPermanentUpstream:
		status = http.StatusBadGateway
	}
	writeError(w, status, err.Error())
}
