package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/farmra-core/internal/auth"
	"github.com/nerrad567/farmra-core/internal/device"
	"github.com/nerrad567/farmra-core/internal/infrastructure/config"
	"github.com/nerrad567/farmra-core/internal/infrastructure/logging"
	"github.com/nerrad567/farmra-core/internal/telemetry"
)

func testHub(t *testing.T) *Hub {
	t.Helper()
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, log)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func mockClient(hub *Hub, identity auth.Identity, channels ...string) *WSClient {
	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]deviceFilter),
		identity:      identity,
	}
	for _, ch := range channels {
		client.subscriptions[ch] = nil
	}
	hub.Register(client)
	return client
}

func receive(t *testing.T, client *WSClient) (WSMessage, bool) {
	t.Helper()
	select {
	case msg := <-client.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return wsMsg, true
	case <-time.After(200 * time.Millisecond):
		return WSMessage{}, false
	}
}

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := testHub(t)
	client := mockClient(hub, auth.Identity{Role: auth.RoleAdmin}, ChannelDeviceChanged)

	hub.Broadcast(ChannelDeviceChanged, map[string]any{"deviceId": "S1"})

	msg, ok := receive(t, client)
	if !ok {
		t.Fatal("timed out waiting for broadcast message")
	}
	if msg.Type != WSTypeEvent || msg.EventType != ChannelDeviceChanged {
		t.Errorf("message = %+v", msg)
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := testHub(t)
	client := mockClient(hub, auth.Identity{Role: auth.RoleAdmin}, "system.status")

	hub.Broadcast(ChannelDeviceChanged, map[string]any{"deviceId": "S1"})

	if _, ok := receive(t, client); ok {
		t.Error("unsubscribed client should not receive message")
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := testHub(t)

	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}
	client := mockClient(hub, auth.Identity{})
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}
	hub.Unregister(client)
	hub.Unregister(client) // second unregister must not double-close
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
}

func TestHub_DeviceChangedScopesCustomers(t *testing.T) {
	hub := testHub(t)
	owner := uuid.New()

	admin := mockClient(hub, auth.Identity{PrincipalID: uuid.New(), Role: auth.RoleAdmin}, ChannelDeviceChanged)
	ownerClient := mockClient(hub, auth.Identity{PrincipalID: owner, Role: auth.RoleCustomer}, ChannelDeviceChanged)
	stranger := mockClient(hub, auth.Identity{PrincipalID: uuid.New(), Role: auth.RoleCustomer}, ChannelDeviceChanged)

	hub.DeviceChanged(context.Background(), device.Change{
		Action: device.ActionDeactivate,
		Device: &device.Device{ID: "S1", Status: device.StatusDeactivated, CustomerID: ptr(owner.String())},
	})

	for name, client := range map[string]*WSClient{"admin": admin, "owner": ownerClient} {
		msg, ok := receive(t, client)
		if !ok {
			t.Errorf("%s did not receive the change", name)
			continue
		}
		payload, _ := json.Marshal(msg.Payload)
		var event telemetry.DeviceEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if event.DeviceID != "S1" || event.Action != device.ActionDeactivate {
			t.Errorf("%s event = %+v", name, event)
		}
	}
	if _, ok := receive(t, stranger); ok {
		t.Error("customer received a change to a device it does not own")
	}

	// A change without a device is ignored.
	hub.DeviceChanged(context.Background(), device.Change{Action: device.ActionDelete})
	if _, ok := receive(t, admin); ok {
		t.Error("nil device change should not be broadcast")
	}
}

func TestHub_DeviceFilter(t *testing.T) {
	hub := testHub(t)
	admin := auth.Identity{PrincipalID: uuid.New(), Role: auth.RoleAdmin}

	follower := mockClient(hub, admin)
	follower.subscriptions[ChannelDeviceChanged] = newDeviceFilter([]string{"S2"})
	everything := mockClient(hub, admin, ChannelDeviceChanged)

	hub.DeviceChanged(context.Background(), device.Change{
		Action: device.ActionUpdate,
		Device: &device.Device{ID: "S1", Status: device.StatusOnline},
	})

	if _, ok := receive(t, everything); !ok {
		t.Error("unfiltered subscriber did not receive S1")
	}
	if _, ok := receive(t, follower); ok {
		t.Error("subscriber following S2 received S1")
	}

	hub.DeviceChanged(context.Background(), device.Change{
		Action: device.ActionUpdate,
		Device: &device.Device{ID: "S2", Status: device.StatusOnline},
	})
	if _, ok := receive(t, follower); !ok {
		t.Error("subscriber following S2 did not receive S2")
	}
}

func TestHub_DroppedWhenBufferFull(t *testing.T) {
	hub := testHub(t)
	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, 1),
		subscriptions: map[string]deviceFilter{ChannelDeviceChanged: nil},
		identity:      auth.Identity{Role: auth.RoleAdmin},
	}
	hub.Register(client)

	hub.Broadcast(ChannelDeviceChanged, "first")
	hub.Broadcast(ChannelDeviceChanged, "second")

	if got := hub.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
}

func TestDecodeSubscription(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{"valid", `{"channels":["device.changed"],"deviceIds":["S1"]}`, ""},
		{"missing payload", ``, "payload is required"},
		{"not an object", `[1,2]`, "invalid subscription payload"},
		{"no channels", `{"channels":[]}`, "at least one channel"},
		{"unknown channel", `{"channels":["weather.alerts"]}`, "unknown channel: weather.alerts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeSubscription(json.RawMessage(tt.raw))
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("decodeSubscription() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("decodeSubscription() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestCheckWSOrigin(t *testing.T) {
	s := &Server{cfg: config.APIConfig{CORS: config.CORSConfig{AllowedOrigins: []string{"https://dash.farm.example"}}}}

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://dash.farm.example", true},
		{"https://evil.example", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/api/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := s.checkWSOrigin(r); got != tt.want {
			t.Errorf("checkWSOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

// wsURL returns a ticketed WebSocket URL for token on the test server.
func wsURL(t *testing.T, ts *httptest.Server, token string) string {
	t.Helper()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/ws-ticket", nil) //nolint:noctx // Test request
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("ws-ticket request failed: %v", err)
	}
	defer resp.Body.Close()

	var ticket struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
		t.Fatalf("decode ticket response: %v", err)
	}
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws?ticket=" + ticket.Ticket
}

func TestWebSocket_FullConnection(t *testing.T) {
	f := newAPIFixture(t)
	ts := httptest.NewServer(f.router)
	defer ts.Close()

	token, _ := f.as(t, auth.RoleTechnician)
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL(t, ts, token), nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelDeviceChanged}},
	}); err != nil {
		t.Fatalf("write subscribe message: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // Test deadline
	var response WSMessage
	if err := ws.ReadJSON(&response); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if response.Type != WSTypeResponse || response.ID != "sub-1" {
		t.Fatalf("response = %+v", response)
	}
	if f.srv.hub.ClientCount() != 1 {
		t.Errorf("hub client count = %d, want 1", f.srv.hub.ClientCount())
	}

	// A lifecycle change through the API reaches the subscriber.
	if w := f.do(t, http.MethodPost, "/api/devices", token, map[string]any{"id": "S1", "name": "North"}); w.Code != http.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}
	var event WSMessage
	if err := ws.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Type != WSTypeEvent || event.EventType != ChannelDeviceChanged {
		t.Errorf("event = %+v", event)
	}

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var pong WSMessage
	if err := ws.ReadJSON(&pong); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if pong.Type != WSTypePong || pong.ID != "p1" {
		t.Errorf("pong = %+v", pong)
	}

	if err := ws.WriteJSON(WSMessage{Type: "dance", ID: "d1"}); err != nil {
		t.Fatalf("write unknown: %v", err)
	}
	var unknown WSMessage
	if err := ws.ReadJSON(&unknown); err != nil {
		t.Fatalf("read error: %v", err)
	}
	if unknown.Type != WSTypeError {
		t.Errorf("unknown type response = %+v", unknown)
	}

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-2",
		Payload: WSSubscribePayload{Channels: []string{"weather.alerts"}},
	}); err != nil {
		t.Fatalf("write bad subscribe: %v", err)
	}
	var rejected WSMessage
	if err := ws.ReadJSON(&rejected); err != nil {
		t.Fatalf("read rejection: %v", err)
	}
	if rejected.Type != WSTypeError || rejected.ID != "sub-2" {
		t.Errorf("unknown channel response = %+v", rejected)
	}
}

func TestWebSocket_TicketRequired(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name string
		path string
	}{
		{"no ticket", "/api/ws"},
		{"invalid ticket", "/api/ws?ticket=deadbeef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := f.do(t, http.MethodGet, tt.path, "", nil); w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		})
	}
}
