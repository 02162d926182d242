package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/cargolink/tracker/internal/domain"
	"github.com/cargolink/tracker/internal/observability"
)

// WebhookDeliverer POSTs the rendered payload to the subscription endpoint.
type WebhookDeliverer struct {
	client *http.Client
}

// NewWebhookDeliverer constructs the webhook transport.
func NewWebhookDeliverer(timeout time.Duration) *WebhookDeliverer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookDeliverer{client: &http.Client{Timeout: timeout}}
}

// Method returns the delivery method served.
func (d *WebhookDeliverer) Method() domain.DeliveryMethod {
	return domain.MethodWebhook
}

// Deliver POSTs the payload as JSON. 2xx is ok; 408/429/5xx and transport
// errors are transient; other statuses are permanent.
func (d *WebhookDeliverer) Deliver(ctx context.Context, endpoint string, payload Payload) DeliverResult {
	if strings.TrimSpace(endpoint) == "" {
		return DeliverResult{Status: DeliverPermanent, Detail: "empty webhook endpoint"}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return DeliverResult{Status: DeliverPermanent, Detail: fmt.Sprintf("encode payload: %v", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return DeliverResult{Status: DeliverPermanent, Detail: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return DeliverResult{Status: DeliverTransient, Detail: fmt.Sprintf("post webhook: %v", err)}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return DeliverResult{Status: DeliverOK}
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return DeliverResult{Status: DeliverTransient, Detail: fmt.Sprintf("webhook status %d", resp.StatusCode)}
	default:
		return DeliverResult{Status: DeliverPermanent, Detail: fmt.Sprintf("webhook status %d", resp.StatusCode)}
	}
}

// LogDeliverer stands in for transports without a wired provider; it logs the
// notification and reports success. Email and SMS ship as log deliverers
// until their gateways are integrated.
type LogDeliverer struct {
	method domain.DeliveryMethod
}

// NewEmailDeliverer constructs the email placeholder.
func NewEmailDeliverer() *LogDeliverer {
	return &LogDeliverer{method: domain.MethodEmail}
}

// NewSMSDeliverer constructs the SMS placeholder.
func NewSMSDeliverer() *LogDeliverer {
	return &LogDeliverer{method: domain.MethodSMS}
}

// Method returns the delivery method served.
func (d *LogDeliverer) Method() domain.DeliveryMethod {
	return d.method
}

// Deliver logs the notification and succeeds.
func (d *LogDeliverer) Deliver(_ context.Context, endpoint string, payload Payload) DeliverResult {
	observability.Log().Info("notification delivered",
		observability.Field{Key: "method", Value: string(d.method)},
		observability.Field{Key: "endpoint", Value: endpoint},
		observability.Field{Key: "awb", Value: payload.AWB},
		observability.Field{Key: "code", Value: payload.Event.Code})
	return DeliverResult{Status: DeliverOK}
}

// PushDeliverer routes PUSH-method subscriptions through the fan-out hub so
// connected sessions see a system notification even when they are not joined
// to the shipment topic.
type PushDeliverer struct {
	publish func(shipmentID string, events []domain.TrackingEvent)
}

// NewPushDeliverer constructs the push-method deliverer over a hub publish
// function.
func NewPushDeliverer(publish func(shipmentID string, events []domain.TrackingEvent)) *PushDeliverer {
	return &PushDeliverer{publish: publish}
}

// Method returns the delivery method served.
func (d *PushDeliverer) Method() domain.DeliveryMethod {
	return domain.MethodPush
}

// Deliver republishes the event on the shipment topic.
func (d *PushDeliverer) Deliver(_ context.Context, _ string, payload Payload) DeliverResult {
	if d.publish == nil {
		return DeliverResult{Status: DeliverPermanent, Detail: "push channel not wired"}
	}
	d.publish(payload.Event.ShipmentID, []domain.TrackingEvent{payload.Event})
	return DeliverResult{Status: DeliverOK}
}
