package hub

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/cargolink/tracker/internal/observability"
)

const (
	wsReadLimit    = 64 << 10
	wsWriteTimeout = 10 * time.Second
)

// WSHandler serves push sessions over websocket.
type WSHandler struct {
	hub *Hub
}

// NewWSHandler wraps a hub with the websocket transport.
func NewWSHandler(h *Hub) *WSHandler {
	return &WSHandler{hub: h}
}

// ServeHTTP upgrades the request and runs the session until either side
// closes. A disconnect cancels the outbound drain and any in-flight work.
func (ws *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observability.Log().Warn("websocket accept failed",
			observability.Field{Key: "error", Value: err.Error()})
		return
	}
	conn.SetReadLimit(wsReadLimit)

	client, err := ws.hub.Connect()
	if err != nil {
		_ = conn.Close(websocket.StatusTryAgainLater, "shutting down")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer ws.hub.Disconnect(client)
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	go func() {
		defer cancel()
		ws.writeLoop(ctx, conn, client)
	}()
	ws.readLoop(ctx, conn, client)
}

func (ws *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-client.Outbound():
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (ws *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *Client) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			client.enqueue(Outbound{Type: TypeSystemNotice, Reason: "malformed message"}, ws.hub.opts.DropLimit)
			continue
		}
		ws.dispatch(ctx, client, msg)
	}
}

func (ws *WSHandler) dispatch(ctx context.Context, client *Client, msg Inbound) {
	switch strings.TrimSpace(msg.Type) {
	case TypeAuthenticate:
		_ = ws.hub.Authenticate(ctx, client, msg.Token, msg.SubscriberID, msg.CustomerID)
	case TypeSubscribeShipment:
		_ = ws.hub.Subscribe(ctx, client, msg.ShipmentID, msg.AWB)
	case TypeUnsubscribe:
		ws.hub.Unsubscribe(client, msg.ShipmentID)
	case TypeSubscribeCustomer:
		_ = ws.hub.SubscribeCustomer(ctx, client, msg.CustomerID)
	case TypePing:
		ws.hub.Ping(client)
	default:
		client.enqueue(Outbound{Type: TypeSystemNotice, Reason: "unknown message type"}, ws.hub.opts.DropLimit)
	}
}
