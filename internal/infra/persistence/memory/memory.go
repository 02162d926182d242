// Package memory provides in-memory implementations of the tracker
// persistence contracts for tests and local development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cargolink/tracker/errs"
	"github.com/cargolink/tracker/internal/domain"
	"github.com/cargolink/tracker/internal/domain/eventstore"
	"github.com/cargolink/tracker/internal/domain/shipmentstore"
	"github.com/cargolink/tracker/internal/domain/substore"
)

// Store keeps every tracker entity in process memory behind one mutex. A
// WithinTx call snapshots state up front and restores it when the callback
// fails, matching the all-or-nothing contract of the Postgres unit of work.
type Store struct {
	mu            sync.RWMutex
	shipments     map[string]domain.Shipment
	events        map[string][]domain.TrackingEvent
	subscriptions map[string]domain.Subscription
	deliveries    map[string]substore.DeliveryRecord
	milestones    map[string]domain.Milestone
	sources       map[string]domain.Source
}

// NewStore constructs an empty Store pre-loaded with the default source
// registry and milestone catalog.
func NewStore() *Store {
	s := &Store{
		shipments:     make(map[string]domain.Shipment),
		events:        make(map[string][]domain.TrackingEvent),
		subscriptions: make(map[string]domain.Subscription),
		deliveries:    make(map[string]substore.DeliveryRecord),
		milestones:    make(map[string]domain.Milestone),
		sources:       make(map[string]domain.Source),
	}
	for _, src := range defaultSources() {
		s.sources[src.ID] = src
	}
	for _, m := range defaultMilestones() {
		s.milestones[m.Code] = m
	}
	return s
}

func defaultSources() []domain.Source {
	return []domain.Source{
		{ID: "industry-feed", Name: "Industry Tracking Feed", Type: domain.SourceIndustryFeed, Priority: 10, Active: true},
		{ID: "carrier-api", Name: "Carrier API", Type: domain.SourceCarrier, Priority: 20, Active: true},
		{ID: "customs-api", Name: "Customs API", Type: domain.SourceCustoms, Priority: 30, Active: true},
		{ID: "ground-ops", Name: "Ground Handler", Type: domain.SourceGroundHandler, Priority: 40, Active: false},
		{ID: "manual", Name: "Manual Entry", Type: domain.SourceManual, Priority: 50, Active: true},
	}
}

func defaultMilestones() []domain.Milestone {
	return []domain.Milestone{
		{Code: domain.CodeShipmentCreated, Name: "Shipment Registered", Category: domain.MilestonePickup, SequenceOrder: 10},
		{Code: domain.CodeCargoCollected, Name: "Cargo Collected", Category: domain.MilestonePickup, SequenceOrder: 20},
		{Code: domain.CodeManifested, Name: "Manifested on Flight", Category: domain.MilestoneDeparture, SequenceOrder: 30},
		{Code: domain.CodeFlightDeparted, Name: "Flight Departed", Category: domain.MilestoneDeparture, SequenceOrder: 40, Critical: true},
		{Code: domain.CodeInTransit, Name: "In Transit", Category: domain.MilestoneTransit, SequenceOrder: 50},
		{Code: domain.CodeFlightArrived, Name: "Flight Arrived", Category: domain.MilestoneArrival, SequenceOrder: 60, Critical: true},
		{Code: domain.CodeCustomsStarted, Name: "Customs Processing", Category: domain.MilestoneCustoms, SequenceOrder: 70},
		{Code: domain.CodeCustomsCleared, Name: "Customs Cleared", Category: domain.MilestoneCustoms, SequenceOrder: 80, Critical: true},
		{Code: domain.CodeOutForDelivery, Name: "Out for Delivery", Category: domain.MilestoneDelivery, SequenceOrder: 90},
		{Code: domain.CodeDelivered, Name: "Delivered", Category: domain.MilestoneDelivery, SequenceOrder: 100, Critical: true},
	}
}

func deliveryKey(eventID, subscriptionID string) string {
	return eventID + ":" + subscriptionID
}

// --- shipmentstore.Store ---

// Create inserts a shipment, enforcing AWB uniqueness.
func (s *Store) Create(_ context.Context, shipment domain.Shipment) error {
	if err := shipment.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.shipments {
		if existing.AWBNumber == shipment.AWBNumber {
			return errs.New("memory store", errs.KindDuplicate, errs.WithMessage("awb already registered"))
		}
	}
	if shipment.ID == "" {
		shipment.ID = uuid.NewString()
	}
	if shipment.CurrentStatus == "" {
		shipment.CurrentStatus = domain.StatusCreated
	}
	now := time.Now().UTC()
	shipment.CreatedAt = now
	shipment.UpdatedAt = now
	s.shipments[shipment.ID] = shipment
	return nil
}

// GetByID looks up a shipment by identifier.
func (s *Store) GetByID(_ context.Context, shipmentID string) (domain.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shipment, ok := s.shipments[shipmentID]
	if !ok {
		return domain.Shipment{}, errs.NotFound("memory store", "shipment not found")
	}
	return shipment, nil
}

// GetByAWB looks up a shipment by air waybill number.
func (s *Store) GetByAWB(_ context.Context, awb string) (domain.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, shipment := range s.shipments {
		if shipment.AWBNumber == awb {
			return shipment, nil
		}
	}
	return domain.Shipment{}, errs.NotFound("memory store", "shipment not found")
}

// GetForUpdate behaves as GetByID; the store mutex serializes writers.
func (s *Store) GetForUpdate(ctx context.Context, shipmentID string) (domain.Shipment, error) {
	return s.GetByID(ctx, shipmentID)
}

// ApplyState writes the derived projection fields.
func (s *Store) ApplyState(_ context.Context, update shipmentstore.StateUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	shipment, ok := s.shipments[update.ShipmentID]
	if !ok {
		return errs.NotFound("memory store", "shipment not found")
	}
	shipment.CurrentStatus = update.Status
	shipment.CurrentLocation = update.Location
	shipment.DeliveryDate = update.DeliveryDate
	if update.EstimatedDeliveryDate != nil {
		shipment.EstimatedDeliveryDate = update.EstimatedDeliveryDate
	}
	shipment.HasExceptions = update.HasExceptions
	shipment.UpdatedAt = time.Now().UTC()
	s.shipments[update.ShipmentID] = shipment
	return nil
}

// ListByCustomer returns a page of shipments owned by a customer, newest first.
func (s *Store) ListByCustomer(_ context.Context, query shipmentstore.HistoryQuery) ([]domain.Shipment, error) {
	if strings.TrimSpace(query.CustomerID) == "" {
		return nil, errs.Validation("memory store", "customer id required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var owned []domain.Shipment
	for _, shipment := range s.shipments {
		if shipment.CustomerID == query.CustomerID {
			owned = append(owned, shipment)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].CreatedAt.After(owned[j].CreatedAt) })
	limit := query.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(owned) {
		return nil, nil
	}
	end := offset + limit
	if end > len(owned) {
		end = len(owned)
	}
	return owned[offset:end], nil
}

// ListDueForPoll returns shipments eligible for refresh at now.
func (s *Store) ListDueForPoll(_ context.Context, now time.Time, limit int) ([]domain.Shipment, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []domain.Shipment
	for _, shipment := range s.shipments {
		if !shipment.TrackingEnabled || shipment.Quiescent() {
			continue
		}
		if shipment.LastTrackedAt != nil {
			interval := time.Duration(shipment.TrackingFrequency) * time.Minute
			if now.Sub(*shipment.LastTrackedAt) < interval {
				continue
			}
		}
		due = append(due, shipment)
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i].LastTrackedAt, due[j].LastTrackedAt
		switch {
		case a == nil:
			return true
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// MarkTracked stamps last_tracked_at with the tick time.
func (s *Store) MarkTracked(_ context.Context, shipmentID string, trackedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	shipment, ok := s.shipments[shipmentID]
	if !ok {
		return errs.NotFound("memory store", "shipment not found")
	}
	shipment.LastTrackedAt = &trackedAt
	s.shipments[shipmentID] = shipment
	return nil
}

// SetTrackingEnabled toggles polling for a shipment.
func (s *Store) SetTrackingEnabled(_ context.Context, shipmentID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	shipment, ok := s.shipments[shipmentID]
	if !ok {
		return errs.NotFound("memory store", "shipment not found")
	}
	shipment.TrackingEnabled = enabled
	s.shipments[shipmentID] = shipment
	return nil
}

// Cancel applies the administrative CANCELLED status.
func (s *Store) Cancel(_ context.Context, shipmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	shipment, ok := s.shipments[shipmentID]
	if !ok {
		return errs.NotFound("memory store", "shipment not found")
	}
	shipment.CurrentStatus = domain.StatusCancelled
	s.shipments[shipmentID] = shipment
	return nil
}

// --- eventstore.Store ---

// Append inserts an immutable event row.
func (s *Store) Append(_ context.Context, event domain.TrackingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ShipmentID] = append(s.events[event.ShipmentID], event)
	return nil
}

// ListCodeWindow returns the shipment's events with the given code inside the window.
func (s *Store) ListCodeWindow(_ context.Context, shipmentID, code string, at time.Time, window time.Duration) ([]domain.TrackingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []domain.TrackingEvent
	for _, evt := range s.events[shipmentID] {
		if evt.Code != code {
			continue
		}
		delta := evt.EventTime.Sub(at)
		if delta < 0 {
			delta = -delta
		}
		if delta < window {
			matched = append(matched, evt)
		}
	}
	return matched, nil
}

// ListAll returns every event for the shipment, unordered.
func (s *Store) ListAll(_ context.Context, shipmentID string) ([]domain.TrackingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TrackingEvent, len(s.events[shipmentID]))
	copy(out, s.events[shipmentID])
	return out, nil
}

// List retrieves events matching the supplied query filters with pagination.
func (s *Store) List(_ context.Context, query eventstore.Query) ([]domain.TrackingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []domain.TrackingEvent
	for _, evt := range s.events[query.ShipmentID] {
		if query.Category != nil && evt.Category != *query.Category {
			continue
		}
		if query.MilestonesOnly && !evt.IsMilestone {
			continue
		}
		if query.ExceptionsOnly && !evt.IsException {
			continue
		}
		if query.CustomerVisibleOnly && !evt.CustomerVisible {
			continue
		}
		matched = append(matched, evt)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[j].Before(matched[i]) })
	limit := query.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

// FindByExternalID retrieves events carrying the upstream identifier.
func (s *Store) FindByExternalID(_ context.Context, externalID string) ([]domain.TrackingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []domain.TrackingEvent
	for _, events := range s.events {
		for _, evt := range events {
			if evt.ExternalID != "" && evt.ExternalID == externalID {
				matched = append(matched, evt)
			}
		}
	}
	return matched, nil
}

// Stats aggregates event counts over the half-open range [from, to).
func (s *Store) Stats(_ context.Context, from, to time.Time) (eventstore.Statistics, error) {
	var stats eventstore.Statistics
	if !from.Before(to) {
		return stats, errs.Validation("memory store", "from must precede to")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, events := range s.events {
		for _, evt := range events {
			if evt.EventTime.Before(from) || !evt.EventTime.Before(to) {
				continue
			}
			stats.Total++
			if evt.IsMilestone {
				stats.Milestones++
			}
			if evt.IsException {
				stats.Exceptions++
			}
			if evt.IsCritical {
				stats.Critical++
			}
			if evt.CustomerVisible {
				stats.CustomerVisible++
			}
			if record, ok := s.deliveredRecordLocked(evt.EventID); ok && record.Delivered {
				stats.NotificationSent++
			}
		}
	}
	return stats, nil
}

func (s *Store) deliveredRecordLocked(eventID string) (substore.DeliveryRecord, bool) {
	for _, record := range s.deliveries {
		if record.EventID == eventID && record.Delivered {
			return record, true
		}
	}
	return substore.DeliveryRecord{}, false
}

// ListUnnotified returns events matching an active subscription that have no
// delivery record at all. Failed records are terminal and keep the event out.
func (s *Store) ListUnnotified(_ context.Context, limit int) ([]domain.TrackingEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pending []domain.TrackingEvent
	for shipmentID, events := range s.events {
		for _, evt := range events {
			for _, sub := range s.subscriptions {
				if sub.ShipmentID != shipmentID || !sub.Matches(evt) {
					continue
				}
				if _, ok := s.deliveries[deliveryKey(evt.EventID, sub.ID)]; !ok {
					pending = append(pending, evt)
					break
				}
			}
			if len(pending) >= limit {
				return pending, nil
			}
		}
	}
	return pending, nil
}

// --- substore.Store ---

// SubscriptionStore exposes the subscription view of the shared state. A
// separate type is needed because the shipment and subscription contracts
// both name Create and GetByID.
type SubscriptionStore struct {
	core *Store
}

// Subscriptions returns the substore.Store facade over this store.
func (s *Store) Subscriptions() *SubscriptionStore {
	return &SubscriptionStore{core: s}
}

// Create inserts a new active subscription.
func (s *SubscriptionStore) Create(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	return s.core.createSubscription(ctx, sub)
}

// GetByID looks up a subscription.
func (s *SubscriptionStore) GetByID(ctx context.Context, id string) (domain.Subscription, error) {
	return s.core.getSubscription(ctx, id)
}

// ListActiveByShipment returns the active subscriptions for a shipment.
func (s *SubscriptionStore) ListActiveByShipment(ctx context.Context, shipmentID string) ([]domain.Subscription, error) {
	return s.core.listActiveByShipment(ctx, shipmentID)
}

// Deactivate marks a subscription inactive.
func (s *SubscriptionStore) Deactivate(ctx context.Context, id string) error {
	return s.core.deactivateSubscription(ctx, id)
}

// RecordDelivery upserts the delivery outcome for (event, subscription).
func (s *SubscriptionStore) RecordDelivery(ctx context.Context, record substore.DeliveryRecord) error {
	return s.core.recordDelivery(ctx, record)
}

// ListDeliveries returns delivery records for an event.
func (s *SubscriptionStore) ListDeliveries(ctx context.Context, eventID string) ([]substore.DeliveryRecord, error) {
	return s.core.listDeliveries(ctx, eventID)
}

func (s *Store) createSubscription(_ context.Context, sub domain.Subscription) (domain.Subscription, error) {
	if err := sub.Validate(); err != nil {
		return domain.Subscription{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.subscriptions {
		if existing.ShipmentID == sub.ShipmentID && existing.SubscriberID == sub.SubscriberID && existing.Method == sub.Method {
			return domain.Subscription{}, errs.New("memory store", errs.KindDuplicate,
				errs.WithMessage("subscription already exists for shipment, subscriber, and method"))
		}
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	sub.Active = true
	sub.CreatedAt = time.Now().UTC()
	s.subscriptions[sub.ID] = sub
	return sub, nil
}

func (s *Store) getSubscription(_ context.Context, id string) (domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return domain.Subscription{}, errs.NotFound("memory store", "subscription not found")
	}
	return sub, nil
}

func (s *Store) listActiveByShipment(_ context.Context, shipmentID string) ([]domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var subs []domain.Subscription
	for _, sub := range s.subscriptions {
		if sub.ShipmentID == shipmentID && sub.Active {
			subs = append(subs, sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].CreatedAt.Before(subs[j].CreatedAt) })
	return subs, nil
}

func (s *Store) deactivateSubscription(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return errs.NotFound("memory store", "subscription not found")
	}
	sub.Active = false
	s.subscriptions[id] = sub
	return nil
}

func (s *Store) recordDelivery(_ context.Context, record substore.DeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[deliveryKey(record.EventID, record.SubscriptionID)] = record
	return nil
}

func (s *Store) listDeliveries(_ context.Context, eventID string) ([]substore.DeliveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []substore.DeliveryRecord
	for _, record := range s.deliveries {
		if record.EventID == eventID {
			records = append(records, record)
		}
	}
	return records, nil
}

// --- catalogstore.Store ---

// Milestones returns the milestone catalog ordered by sequence.
func (s *Store) Milestones(_ context.Context) ([]domain.Milestone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Milestone, 0, len(s.milestones))
	for _, m := range s.milestones {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceOrder < out[j].SequenceOrder })
	return out, nil
}

// MilestoneByCode looks up a single catalog entry.
func (s *Store) MilestoneByCode(_ context.Context, code string) (domain.Milestone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.milestones[code]
	if !ok {
		return domain.Milestone{}, errs.NotFound("memory store", "milestone not found")
	}
	return m, nil
}

// Sources returns the source registry ordered by priority.
func (s *Store) Sources(_ context.Context) ([]domain.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Source, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

// SourceByID looks up a registered source.
func (s *Store) SourceByID(_ context.Context, id string) (domain.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[id]
	if !ok {
		return domain.Source{}, errs.NotFound("memory store", "source not found")
	}
	return src, nil
}

// --- unit of work ---

// WithinTx executes fn against the store, restoring the pre-call snapshot on
// failure so callers observe all-or-nothing semantics.
func (s *Store) WithinTx(ctx context.Context, fn func(context.Context, eventstore.Tx, shipmentstore.Tx) error) error {
	if fn == nil {
		return errs.Validation("memory store", "transaction callback required")
	}
	snapshotShipments := s.snapshotShipments()
	snapshotEvents := s.snapshotEvents()
	if err := fn(ctx, s, s); err != nil {
		s.mu.Lock()
		s.shipments = snapshotShipments
		s.events = snapshotEvents
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) snapshotShipments() map[string]domain.Shipment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.Shipment, len(s.shipments))
	for k, v := range s.shipments {
		out[k] = v
	}
	return out
}

func (s *Store) snapshotEvents() map[string][]domain.TrackingEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]domain.TrackingEvent, len(s.events))
	for k, v := range s.events {
		events := make([]domain.TrackingEvent, len(v))
		copy(events, v)
		out[k] = events
	}
	return out
}
