package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/farmra-core/internal/auth"
	"github.com/nerrad567/farmra-core/internal/device"
	"github.com/nerrad567/farmra-core/internal/infrastructure/config"
	"github.com/nerrad567/farmra-core/internal/infrastructure/logging"
	"github.com/nerrad567/farmra-core/internal/telemetry"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// ChannelDeviceChanged carries every persisted device change.
	ChannelDeviceChanged = telemetry.EventDeviceChanged

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// subscribableChannels lists the channels a client may subscribe to.
var subscribableChannels = map[string]struct{}{
	ChannelDeviceChanged: {},
}

// WSMessage is a message sent to a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsInbound is a client message; the payload is decoded by its handler.
type wsInbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload selects channels and, optionally, the devices to
// follow on them. An empty DeviceIDs follows every device the client may see.
type WSSubscribePayload struct {
	Channels  []string `json:"channels"`
	DeviceIDs []string `json:"deviceIds,omitempty"`
}

// deviceFilter is the set of devices followed on one channel. A nil filter
// follows all of them.
type deviceFilter map[string]struct{}

func newDeviceFilter(ids []string) deviceFilter {
	if len(ids) == 0 {
		return nil
	}
	f := make(deviceFilter, len(ids))
	for _, id := range ids {
		f[id] = struct{}{}
	}
	return f
}

func (f deviceFilter) follows(deviceID string) bool {
	if f == nil || deviceID == "" {
		return true
	}
	_, ok := f[deviceID]
	return ok
}

// Hub fans device events out to connected dashboard clients.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	now     func() time.Time
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
	dropped atomic.Int64
}

// WSClient is one connected dashboard.
type WSClient struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	identity auth.Identity // bound by the WebSocket ticket

	mu            sync.RWMutex
	subscriptions map[string]deviceFilter
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "principal_id", client.identity.PrincipalID, "clients", n)
}

// Unregister removes a client from the hub. Only the call that removes the
// client closes its send channel.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(client.send)
		h.logger.Debug("websocket client disconnected", "principal_id", client.identity.PrincipalID, "clients", n)
	}
}

// Broadcast sends an event to every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	h.deliver(channel, "", payload, nil)
}

// DeviceChanged relays a device change to subscribed clients. CUSTOMER
// clients only receive changes to devices they own.
func (h *Hub) DeviceChanged(_ context.Context, change device.Change) {
	if change.Device == nil {
		return
	}
	dev := change.Device
	event := telemetry.NewDeviceEvent(change, h.now())
	h.deliver(ChannelDeviceChanged, dev.ID, event, func(identity auth.Identity) bool {
		return canSee(identity, dev)
	})
}

// deliver encodes the event once and queues it for each client that
// subscribed to channel, follows deviceID and passes allow.
func (h *Hub) deliver(channel, deviceID string, payload any, allow func(auth.Identity) bool) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal websocket event", "channel", channel, "error", err)
		return
	}

	// The hub lock is released before client locks are taken.
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	sent := 0
	for _, client := range clients {
		if !client.wants(channel, deviceID) {
			continue
		}
		if allow != nil && !allow(client.identity) {
			continue
		}
		if client.trySend(data) {
			sent++
			continue
		}
		h.dropped.Add(1)
		h.logger.Warn("websocket client too slow, event dropped",
			"principal_id", client.identity.PrincipalID,
			"channel", channel,
			"device_id", deviceID,
		)
	}
	if sent > 0 {
		h.logger.Debug("websocket event sent", "channel", channel, "device_id", deviceID, "recipients", sent)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many events were discarded because a client's
// buffer was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// handleWebSocket upgrades the connection for the principal bound to a
// ticket from POST /api/ws-ticket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	identity, ok := s.tickets.consume(ticket)
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkWSOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "principal_id", identity.PrincipalID, "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		identity:      identity,
		subscriptions: make(map[string]deviceFilter),
	}
	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// checkWSOrigin admits clients that send no Origin header and browsers on
// the CORS allow-list.
func (s *Server) checkWSOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.isAllowedOrigin(origin)
}

// wsTimings converts the configured keepalive settings.
func wsTimings(cfg config.WebSocketConfig) (pingInterval, pongWait time.Duration) {
	return time.Duration(cfg.PingInterval) * time.Second, time.Duration(cfg.PongTimeout) * time.Second
}

func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	pingInterval, pongWait := wsTimings(cfg)
	extend := func() error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	}

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend() //nolint:errcheck,gosec // read errors surface below
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "principal_id", c.identity.PrincipalID, "error", err)
			}
			return
		}
		// Any client message counts as a keepalive; some browsers never
		// answer protocol pings.
		extend() //nolint:errcheck,gosec // read errors surface above
		c.handleMessage(message)
	}
}

func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval, pongWait := wsTimings(cfg)
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(messageType int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(pongWait)) //nolint:errcheck,gosec // write error reported instead
		return c.conn.WriteMessage(messageType, data)
	}

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck,gosec // connection is going away
				return
			}
			if err := write(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg wsInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.subscribe(msg)
	case WSTypeUnsubscribe:
		c.unsubscribe(msg)
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// decodeSubscription parses a subscribe or unsubscribe payload and checks
// every channel is one the hub publishes.
func decodeSubscription(raw json.RawMessage) (WSSubscribePayload, error) {
	var sub WSSubscribePayload
	if len(raw) == 0 {
		return sub, errors.New("payload is required")
	}
	if err := json.Unmarshal(raw, &sub); err != nil {
		return sub, errors.New("invalid subscription payload")
	}
	if len(sub.Channels) == 0 {
		return sub, errors.New("at least one channel is required")
	}
	for _, ch := range sub.Channels {
		if _, ok := subscribableChannels[ch]; !ok {
			return sub, fmt.Errorf("unknown channel: %s", ch)
		}
	}
	return sub, nil
}

// subscribe replaces the device filter of each named channel.
func (c *WSClient) subscribe(msg wsInbound) {
	sub, err := decodeSubscription(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, err.Error())
		return
	}

	filter := newDeviceFilter(sub.DeviceIDs)
	c.mu.Lock()
	for _, ch := range sub.Channels {
		c.subscriptions[ch] = filter
	}
	c.mu.Unlock()

	c.hub.logger.Debug("websocket client subscribed",
		"principal_id", c.identity.PrincipalID,
		"channels", sub.Channels,
		"device_ids", sub.DeviceIDs,
	)
	c.reply(msg.ID, WSTypeResponse, map[string]any{
		"subscribed": sub.Channels,
		"deviceIds":  sub.DeviceIDs,
	})
}

func (c *WSClient) unsubscribe(msg wsInbound) {
	sub, err := decodeSubscription(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, err.Error())
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		delete(c.subscriptions, ch)
	}
	c.mu.Unlock()

	c.reply(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": sub.Channels})
}

// wants reports whether the client follows deviceID on channel.
func (c *WSClient) wants(channel, deviceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	filter, ok := c.subscriptions[channel]
	return ok && filter.follows(deviceID)
}

// trySend queues data without blocking. It returns false when the buffer
// is full; a client that disconnected mid-broadcast counts as delivered.
func (c *WSClient) trySend(data []byte) (queued bool) {
	defer func() {
		if recover() != nil { // send on closed channel
			queued = true
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: c.hub.now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
