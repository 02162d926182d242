// Package hub implements the in-process subscription and fan-out broker for
// push clients, plus its websocket transport.
package hub

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cargolink/tracker/errs"
	"github.com/cargolink/tracker/internal/domain"
	"github.com/cargolink/tracker/internal/domain/eventstore"
	"github.com/cargolink/tracker/internal/domain/shipmentstore"
	"github.com/cargolink/tracker/internal/observability"
)

// Identity is the authenticated principal behind a push session.
type Identity struct {
	SubscriberID string
	CustomerID   string
	// Operator sessions may subscribe to any shipment.
	Operator bool
}

// Authenticator verifies a push session token.
type Authenticator interface {
	Verify(ctx context.Context, token, subscriberID, customerID string) (Identity, error)
}

// ShipmentTopic returns the topic carrying every event of one shipment.
func ShipmentTopic(shipmentID string) string {
	return "shipment:" + shipmentID
}

// CustomerTopic returns the topic carrying events of all shipments owned by
// a customer.
func CustomerTopic(customerID string) string {
	return "customer:" + customerID
}

// Options configure the hub.
type Options struct {
	Shipments shipmentstore.Store
	Events    eventstore.Store
	Auth      Authenticator

	// QueueCapacity bounds each client's outbound queue.
	QueueCapacity int
	// DropLimit disconnects a client once its queue overflowed this many times.
	DropLimit int
	// SnapshotEvents caps the recent events carried in a snapshot.
	SnapshotEvents int
}

const (
	defaultQueueCapacity  = 64
	defaultDropLimit      = 256
	defaultSnapshotEvents = 10
)

// Hub routes applied tracking events to subscribed push clients.
type Hub struct {
	opts Options

	mu      sync.RWMutex
	clients map[string]*Client
	topics  map[string]map[string]*Client
	closed  bool
}

// New constructs a hub.
func New(opts Options) (*Hub, error) {
	if opts.Shipments == nil {
		return nil, errs.Validation("hub", "shipment store required")
	}
	if opts.Events == nil {
		return nil, errs.Validation("hub", "event store required")
	}
	if opts.Auth == nil {
		return nil, errs.Validation("hub", "authenticator required")
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = defaultQueueCapacity
	}
	if opts.DropLimit <= 0 {
		opts.DropLimit = defaultDropLimit
	}
	if opts.SnapshotEvents <= 0 {
		opts.SnapshotEvents = defaultSnapshotEvents
	}
	return &Hub{
		opts:    opts,
		clients: make(map[string]*Client),
		topics:  make(map[string]map[string]*Client),
	}, nil
}

// Client is one push session with its joined topics and outbound queue.
type Client struct {
	id string

	mu       sync.Mutex
	identity *Identity
	topics   map[string]struct{}
	queue    chan Outbound
	dropped  int
	closed   bool
}

// ID returns the session identifier.
func (c *Client) ID() string { return c.id }

// Outbound returns the channel the transport drains.
func (c *Client) Outbound() <-chan Outbound { return c.queue }

// Dropped returns how many messages were discarded by back-pressure.
func (c *Client) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Authenticated reports whether the session carries an identity.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity != nil
}

// enqueue adds a message to the outbound queue, dropping the oldest unsent
// message when full. Returns false once the drop limit is exceeded.
func (c *Client) enqueue(msg Outbound, dropLimit int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	for {
		select {
		case c.queue <- msg:
			if c.dropped > dropLimit {
				return false
			}
			return true
		default:
			select {
			case <-c.queue:
				c.dropped++
			default:
			}
		}
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.queue)
}

// Connect allocates a session and emits the welcome message.
func (h *Hub) Connect() (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errs.New("hub", errs.KindValidation, errs.WithMessage("hub is shut down"))
	}
	client := &Client{
		id:     uuid.NewString(),
		topics: make(map[string]struct{}),
		queue:  make(chan Outbound, h.opts.QueueCapacity),
	}
	h.clients[client.id] = client
	now := time.Now().UTC()
	client.enqueue(Outbound{
		Type:         TypeConnected,
		SessionID:    client.id,
		Capabilities: []string{"subscribe", "snapshot", "critical_updates"},
		ServerTime:   &now,
	}, h.opts.DropLimit)
	observability.Telemetry().SetGauge("tracker_hub_clients", float64(len(h.clients)), nil)
	return client, nil
}

// Authenticate binds an identity to the session. Subscribing is refused
// until it succeeds.
func (h *Hub) Authenticate(ctx context.Context, client *Client, token, subscriberID, customerID string) error {
	identity, err := h.opts.Auth.Verify(ctx, token, subscriberID, customerID)
	if err != nil {
		client.enqueue(Outbound{Type: TypeAuthError, Reason: "invalid credentials"}, h.opts.DropLimit)
		return errs.AccessDenied("hub", "authentication failed")
	}
	client.mu.Lock()
	client.identity = &identity
	client.mu.Unlock()
	client.enqueue(Outbound{Type: TypeAuthenticated, SubscriberID: identity.SubscriberID}, h.opts.DropLimit)
	return nil
}

// Subscribe joins the shipment topic after an ownership check and emits the
// initial snapshot. Either the shipment id or the AWB identifies the target.
func (h *Hub) Subscribe(ctx context.Context, client *Client, shipmentID, awb string) error {
	identity, err := h.identityOf(client)
	if err != nil {
		client.enqueue(Outbound{Type: TypeSubscriptionError, Reason: "authentication required"}, h.opts.DropLimit)
		return err
	}

	shipment, err := h.resolveShipment(ctx, shipmentID, awb)
	if err != nil {
		client.enqueue(Outbound{Type: TypeSubscriptionError, Reason: "shipment not found"}, h.opts.DropLimit)
		return err
	}
	if !identity.Operator && shipment.CustomerID != identity.CustomerID {
		client.enqueue(Outbound{Type: TypeSubscriptionError, Reason: "access denied"}, h.opts.DropLimit)
		return errs.AccessDenied("hub", "shipment not owned by subscriber")
	}

	topic := ShipmentTopic(shipment.ID)
	h.join(client, topic)

	snapshot, err := h.snapshot(ctx, shipment)
	if err != nil {
		observability.Log().Warn("snapshot build failed",
			observability.Field{Key: "shipment_id", Value: shipment.ID},
			observability.Field{Key: "error", Value: err.Error()})
	}
	client.enqueue(Outbound{
		Type:       TypeSubscribed,
		ShipmentID: shipment.ID,
		AWB:        shipment.AWBNumber,
		Topic:      topic,
		Snapshot:   snapshot,
	}, h.opts.DropLimit)
	return nil
}

// SubscribeCustomer joins the customer topic; sessions may only follow their
// own customer id unless they are operators.
func (h *Hub) SubscribeCustomer(_ context.Context, client *Client, customerID string) error {
	identity, err := h.identityOf(client)
	if err != nil {
		client.enqueue(Outbound{Type: TypeSubscriptionError, Reason: "authentication required"}, h.opts.DropLimit)
		return err
	}
	if strings.TrimSpace(customerID) == "" {
		return errs.Validation("hub", "customer id required")
	}
	if !identity.Operator && identity.CustomerID != customerID {
		client.enqueue(Outbound{Type: TypeSubscriptionError, Reason: "access denied"}, h.opts.DropLimit)
		return errs.AccessDenied("hub", "customer topic not owned by subscriber")
	}
	topic := CustomerTopic(customerID)
	h.join(client, topic)
	client.enqueue(Outbound{Type: TypeSubscribed, CustomerID: customerID, Topic: topic}, h.opts.DropLimit)
	return nil
}

// Unsubscribe leaves the shipment topic.
func (h *Hub) Unsubscribe(client *Client, shipmentID string) {
	h.leave(client, ShipmentTopic(shipmentID))
}

// Disconnect removes the session from every topic and closes its queue.
func (h *Hub) Disconnect(client *Client) {
	if client == nil {
		return
	}
	h.mu.Lock()
	delete(h.clients, client.id)
	for topic, members := range h.topics {
		delete(members, client.id)
		if len(members) == 0 {
			delete(h.topics, topic)
		}
	}
	remaining := len(h.clients)
	h.mu.Unlock()
	client.close()
	observability.Telemetry().SetGauge("tracker_hub_clients", float64(remaining), nil)
}

// Ping replies with a pong carrying server time.
func (h *Hub) Ping(client *Client) {
	now := time.Now().UTC()
	client.enqueue(Outbound{Type: TypePong, ServerTime: &now}, h.opts.DropLimit)
}

// PublishEvent fans an applied event out to the shipment and customer topics.
// Publishers never block on client queues; overflowing clients lose their
// oldest messages and are disconnected past the drop limit.
func (h *Hub) PublishEvent(shipment domain.Shipment, event domain.TrackingEvent, state domain.DerivedState) {
	evt := event
	snapshot := &Snapshot{
		ShipmentID:            shipment.ID,
		AWB:                   shipment.AWBNumber,
		Status:                state.Status,
		Location:              state.Location,
		EstimatedDeliveryDate: shipment.EstimatedDeliveryDate,
		DeliveryDate:          state.DeliveryDate,
		HasExceptions:         state.HasExceptions,
	}

	messages := []Outbound{{
		Type:       TypeTrackingEvent,
		ShipmentID: shipment.ID,
		AWB:        shipment.AWBNumber,
		Event:      &evt,
		Snapshot:   snapshot,
	}}
	if event.NotifiesOutOfBand() {
		messages = append(messages, Outbound{
			Type:         TypeCriticalUpdate,
			ShipmentID:   shipment.ID,
			AWB:          shipment.AWBNumber,
			Event:        &evt,
			Snapshot:     snapshot,
			Notification: renderNotification(shipment, event),
		})
	}
	h.broadcast(ShipmentTopic(shipment.ID), messages)

	if shipment.CustomerID != "" {
		// Customer-topic subscribers see the same vocabulary, stamped with
		// the owning customer id.
		forCustomer := make([]Outbound, len(messages))
		for i, msg := range messages {
			msg.CustomerID = shipment.CustomerID
			forCustomer[i] = msg
		}
		h.broadcast(CustomerTopic(shipment.CustomerID), forCustomer)
	}
}

// PublishBulk emits a bulk update for a shipment, used after forced refreshes.
func (h *Hub) PublishBulk(shipmentID string, events []domain.TrackingEvent) {
	h.broadcast(ShipmentTopic(shipmentID), []Outbound{{
		Type:       TypeBulkUpdate,
		ShipmentID: shipmentID,
		Events:     events,
	}})
}

// Shutdown notifies every client and closes all sessions.
func (h *Hub) Shutdown(reason string) {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	now := time.Now().UTC()
	for _, client := range clients {
		client.enqueue(Outbound{Type: TypeShutdown, Reason: reason, ServerTime: &now}, h.opts.DropLimit)
		h.Disconnect(client)
	}
}

func (h *Hub) identityOf(client *Client) (Identity, error) {
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.identity == nil {
		return Identity{}, errs.AccessDenied("hub", "subscribe requires authentication")
	}
	return *client.identity, nil
}

func (h *Hub) resolveShipment(ctx context.Context, shipmentID, awb string) (domain.Shipment, error) {
	switch {
	case strings.TrimSpace(shipmentID) != "":
		return h.opts.Shipments.GetByID(ctx, shipmentID)
	case strings.TrimSpace(awb) != "":
		return h.opts.Shipments.GetByAWB(ctx, awb)
	default:
		return domain.Shipment{}, errs.Validation("hub", "shipment id or awb required")
	}
}

func (h *Hub) snapshot(ctx context.Context, shipment domain.Shipment) (*Snapshot, error) {
	recent, err := h.opts.Events.List(ctx, eventstore.Query{
		ShipmentID: shipment.ID,
		Limit:      h.opts.SnapshotEvents,
	})
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		ShipmentID:            shipment.ID,
		AWB:                   shipment.AWBNumber,
		Status:                shipment.CurrentStatus,
		Location:              shipment.CurrentLocation,
		EstimatedDeliveryDate: shipment.EstimatedDeliveryDate,
		DeliveryDate:          shipment.DeliveryDate,
		HasExceptions:         shipment.HasExceptions,
		RecentEvents:          recent,
	}, nil
}

func (h *Hub) join(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.topics[topic]
	if !ok {
		members = make(map[string]*Client)
		h.topics[topic] = members
	}
	members[client.id] = client
	client.mu.Lock()
	client.topics[topic] = struct{}{}
	client.mu.Unlock()
}

func (h *Hub) leave(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.topics[topic]; ok {
		delete(members, client.id)
		if len(members) == 0 {
			delete(h.topics, topic)
		}
	}
	client.mu.Lock()
	delete(client.topics, topic)
	client.mu.Unlock()
}

func (h *Hub) broadcast(topic string, messages []Outbound) {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.topics[topic]))
	for _, client := range h.topics[topic] {
		members = append(members, client)
	}
	h.mu.RUnlock()

	var overflowed []*Client
	for _, client := range members {
		for _, msg := range messages {
			if !client.enqueue(msg, h.opts.DropLimit) {
				overflowed = append(overflowed, client)
				break
			}
		}
	}
	for _, client := range overflowed {
		observability.Log().Warn("client dropped for persistent overflow",
			observability.Field{Key: "session_id", Value: client.id},
			observability.Field{Key: "dropped", Value: client.Dropped()})
		h.Disconnect(client)
	}
	observability.Telemetry().IncCounter("tracker_hub_published_total", float64(len(messages)), map[string]string{"topic_kind": topicKind(topic)})
}

func topicKind(topic string) string {
	if strings.HasPrefix(topic, "customer:") {
		return "customer"
	}
	return "shipment"
}

func renderNotification(shipment domain.Shipment, event domain.TrackingEvent) *Notification {
	kind := "milestone"
	switch {
	case event.IsException:
		kind = "exception"
	case event.IsCritical:
		kind = "critical"
	}
	body := event.Description
	if body == "" {
		body = event.Code
	}
	if !event.Location.Empty() {
		body = fmt.Sprintf("%s at %s", body, event.Location.Display())
	}
	return &Notification{
		Title: fmt.Sprintf("Shipment %s: %s", shipment.AWBNumber, event.Code),
		Body:  body,
		Type:  kind,
	}
}
