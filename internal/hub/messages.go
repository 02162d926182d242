package hub

import (
	"time"

	json "github.com/goccy/go-json"

	"github.com/cargolink/tracker/internal/domain"
)

// Inbound message types accepted on the push session.
const (
	TypeAuthenticate      = "authenticate"
	TypeSubscribeShipment = "subscribe_shipment"
	TypeUnsubscribe       = "unsubscribe_shipment"
	TypeSubscribeCustomer = "subscribe_customer"
	TypePing              = "ping"
)

// Outbound message types emitted on the push session.
const (
	TypeConnected         = "connected"
	TypeAuthenticated     = "authenticated"
	TypeAuthError         = "auth_error"
	TypeSubscribed        = "subscribed"
	TypeSubscriptionError = "subscription_error"
	TypeTrackingEvent     = "tracking_event"
	TypeCriticalUpdate    = "critical_update"
	TypeCustomerUpdate    = "customer_tracking_update"
	TypeBulkUpdate        = "bulk_tracking_update"
	TypeSystemNotice      = "system_notification"
	TypeShutdown          = "service_shutdown"
	TypePong              = "pong"
)

// Inbound is the envelope of a client-to-server message.
type Inbound struct {
	Type         string `json:"type"`
	Token        string `json:"token,omitempty"`
	SubscriberID string `json:"subscriberId,omitempty"`
	CustomerID   string `json:"customerId,omitempty"`
	ShipmentID   string `json:"shipmentId,omitempty"`
	AWB          string `json:"awb,omitempty"`
}

// Outbound is the envelope of a server-to-client message.
type Outbound struct {
	Type string `json:"type"`

	SessionID    string     `json:"sessionId,omitempty"`
	Capabilities []string   `json:"capabilities,omitempty"`
	ServerTime   *time.Time `json:"serverTime,omitempty"`

	SubscriberID string `json:"subscriberId,omitempty"`
	Reason       string `json:"reason,omitempty"`

	ShipmentID string `json:"shipmentId,omitempty"`
	AWB        string `json:"awb,omitempty"`
	Topic      string `json:"topic,omitempty"`
	CustomerID string `json:"customerId,omitempty"`

	Event        *domain.TrackingEvent      `json:"event,omitempty"`
	Events       []domain.TrackingEvent     `json:"events,omitempty"`
	Snapshot     *Snapshot                  `json:"shipmentSnapshot,omitempty"`
	Notification *Notification              `json:"notification,omitempty"`
	Extra        map[string]json.RawMessage `json:"extra,omitempty"`
}

// Snapshot is the shipment state carried with subscription acks and events.
type Snapshot struct {
	ShipmentID            string                 `json:"shipmentId"`
	AWB                   string                 `json:"awb"`
	Status                domain.ShipmentStatus  `json:"status"`
	Location              string                 `json:"location,omitempty"`
	EstimatedDeliveryDate *time.Time             `json:"estimatedDeliveryDate,omitempty"`
	DeliveryDate          *time.Time             `json:"deliveryDate,omitempty"`
	HasExceptions         bool                   `json:"hasExceptions"`
	RecentEvents          []domain.TrackingEvent `json:"recentEvents,omitempty"`
}

// Notification renders the out-of-band alert for critical updates.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Type  string `json:"type"`
}
