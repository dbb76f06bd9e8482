package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dawidpodolak/panelsense-gateway/internal/entity"
	"github.com/dawidpodolak/panelsense-gateway/internal/infrastructure/logging"
)

const testToken = "long-lived-token"

// fakeHub is a minimal Home Assistant websocket API.
type fakeHub struct {
	t           *testing.T
	server      *httptest.Server
	events      chan any
	received    chan map[string]any
	connections atomic.Int32
	pings       atomic.Int32

	// dropAfterSubscribe closes the first connection once subscribed.
	dropAfterSubscribe bool
	// silent never sends auth_required.
	silent bool
	// refuseSubscribe answers the subscription with success=false.
	refuseSubscribe bool
	// ignorePings reads pings but never answers them.
	ignorePings bool
}

func newFakeHub(t *testing.T) *fakeHub {
	t.Helper()
	h := &fakeHub{
		t:        t,
		events:   make(chan any, 16),
		received: make(chan map[string]any, 16),
	}
	h.server = httptest.NewServer(http.HandlerFunc(h.handle))
	t.Cleanup(h.server.Close)
	return h
}

func (h *fakeHub) url() string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http") + "/api/websocket"
}

func (h *fakeHub) handle(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	n := h.connections.Add(1)

	if h.silent {
		conn.ReadMessage() //nolint:errcheck // block until the client gives up
		return
	}

	conn.WriteJSON(map[string]any{"type": "auth_required", "ha_version": "2026.10.0"}) //nolint:errcheck // test server

	var auth map[string]any
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth["type"] != "auth" || auth["access_token"] != testToken {
		conn.WriteJSON(map[string]any{"type": "auth_invalid", "message": "Invalid access token"}) //nolint:errcheck // test server
		return
	}
	conn.WriteJSON(map[string]any{"type": "auth_ok", "ha_version": "2026.10.0"}) //nolint:errcheck // test server

	var sub map[string]any
	if err := conn.ReadJSON(&sub); err != nil {
		return
	}
	if sub["type"] != "subscribe_events" || sub["event_type"] != "state_changed" {
		h.t.Errorf("unexpected subscription %v", sub)
		return
	}
	conn.WriteJSON(map[string]any{"id": sub["id"], "type": "result", "success": !h.refuseSubscribe}) //nolint:errcheck // test server
	if h.refuseSubscribe {
		return
	}

	if h.dropAfterSubscribe && n == 1 {
		return
	}

	pings := make(chan any, 16)
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg["type"] == "ping" {
				h.pings.Add(1)
				pings <- msg["id"]
				continue
			}
			h.received <- msg
		}
	}()

	for {
		select {
		case ev := <-h.events:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case id := <-pings:
			if h.ignorePings {
				continue
			}
			if err := conn.WriteJSON(map[string]any{"id": id, "type": "pong"}); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func stateChanged(entityID, state string, attrs map[string]any) map[string]any {
	return map[string]any{
		"id":   1,
		"type": "event",
		"event": map[string]any{
			"event_type": "state_changed",
			"data": map[string]any{
				"entity_id": entityID,
				"new_state": map[string]any{
					"entity_id":  entityID,
					"state":      state,
					"attributes": attrs,
				},
			},
		},
	}
}

type chanHandler chan entity.Entity

func (h chanHandler) HandleEvent(_ context.Context, e entity.Entity) { h <- e }

func newTestClient(t *testing.T, url, token string, mutate func(*Options)) (*Client, chanHandler) {
	t.Helper()
	handler := make(chanHandler, 16)
	opts := Options{
		URL:              url,
		Token:            token,
		HandshakeTimeout: time.Second,
		InitialDelay:     10 * time.Millisecond,
		MaxDelay:         40 * time.Millisecond,
		Handler:          handler,
		Logger:           logging.Discard(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, handler
}

// runClient runs c until the test ends and returns Run's result channel.
func runClient(t *testing.T, c *Client) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		result <- c.Run(ctx)
		close(finished)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-finished:
		case <-time.After(2 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})
	return result
}

func waitConnected(t *testing.T, c *Client) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !c.IsConnected() {
		if time.Now().After(deadline) {
			t.Fatal("client did not connect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClient_RelaysStateChanges(t *testing.T) {
	hub := newFakeHub(t)
	c, handler := newTestClient(t, hub.url(), testToken, nil)
	runClient(t, c)
	waitConnected(t, c)

	hub.events <- stateChanged("sensor.temperature", "21.5", nil)
	hub.events <- map[string]any{"id": 1, "type": "event", "event": map[string]any{"event_type": "state_changed", "data": map[string]any{"entity_id": "light.gone", "new_state": nil}}}
	hub.events <- stateChanged("light.kitchen", "on", map[string]any{"brightness": 200, "friendly_name": "Kitchen"})

	select {
	case e := <-handler:
		light, ok := e.(entity.Light)
		if !ok {
			t.Fatalf("event = %T, want entity.Light", e)
		}
		if light.EntityID != "light.kitchen" || *light.Brightness != 200 || !*light.On {
			t.Errorf("light = %+v", light)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event relayed")
	}

	select {
	case e := <-handler:
		t.Errorf("unexpected extra event %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
	if c.Stats().Events != 1 {
		t.Errorf("Stats().Events = %d, want 1", c.Stats().Events)
	}
}

func TestClient_DispatchSendsCallService(t *testing.T) {
	hub := newFakeHub(t)
	c, _ := newTestClient(t, hub.url(), testToken, nil)
	runClient(t, c)
	waitConnected(t, c)

	cmd := entity.Cover{EntityID: "cover.garage", Position: entity.Ptr(30)}
	if err := c.Dispatch(context.Background(), cmd); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	select {
	case msg := <-hub.received:
		raw, _ := json.Marshal(msg) //nolint:errcheck // map of JSON values
		want := []string{`"type":"call_service"`, `"domain":"cover"`, `"service":"set_cover_position"`, `"position":30`, `"entity_id":"cover.garage"`}
		for _, w := range want {
			if !strings.Contains(string(raw), w) {
				t.Errorf("call_service frame %s missing %s", raw, w)
			}
		}
		if id, _ := msg["id"].(float64); id < 2 { //nolint:errcheck // zero on mismatch
			t.Errorf("id = %v, want greater than the subscription id", msg["id"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not receive the command")
	}
}

func TestClient_DispatchNoAction(t *testing.T) {
	c, _ := newTestClient(t, "ws://unused", testToken, nil)

	err := c.Dispatch(context.Background(), entity.Switch{EntityID: "switch.a"})
	if err == nil || errors.Is(err, ErrNotConnected) {
		t.Errorf("Dispatch() error = %v, want codec no-action error", err)
	}
}

func TestClient_DispatchWhileDisconnected(t *testing.T) {
	c, _ := newTestClient(t, "ws://unused", testToken, nil)

	err := c.Dispatch(context.Background(), entity.Switch{EntityID: "switch.a", On: entity.Ptr(true)})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Dispatch() error = %v, want ErrNotConnected", err)
	}
}

func TestClient_AuthInvalidIsFatal(t *testing.T) {
	hub := newFakeHub(t)
	c, _ := newTestClient(t, hub.url(), "wrong-token", nil)

	select {
	case err := <-runClient(t, c):
		if !errors.Is(err, ErrAuthInvalid) {
			t.Errorf("Run() error = %v, want ErrAuthInvalid", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() should stop on auth_invalid")
	}
	if n := hub.connections.Load(); n != 1 {
		t.Errorf("connections = %d, want 1 (no retry)", n)
	}
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	hub := newFakeHub(t)
	hub.dropAfterSubscribe = true
	c, handler := newTestClient(t, hub.url(), testToken, nil)
	runClient(t, c)

	deadline := time.Now().Add(2 * time.Second)
	for hub.connections.Load() < 2 || !c.IsConnected() {
		if time.Now().After(deadline) {
			t.Fatalf("client did not reconnect (connections = %d)", hub.connections.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.events <- stateChanged("switch.kettle", "off", nil)
	select {
	case e := <-handler:
		if e.ID() != "switch.kettle" {
			t.Errorf("event = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event after reconnect")
	}
	if c.Stats().Reconnects == 0 {
		t.Error("Stats().Reconnects should count the reconnect")
	}
}

func TestClient_MaxAttempts(t *testing.T) {
	hub := newFakeHub(t)
	url := hub.url()
	hub.server.Close()

	c, _ := newTestClient(t, url, testToken, func(o *Options) { o.MaxAttempts = 3 })

	select {
	case err := <-runClient(t, c):
		if !errors.Is(err, ErrReconnectExhausted) {
			t.Errorf("Run() error = %v, want ErrReconnectExhausted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() should give up after MaxAttempts")
	}
}

func TestClient_DropDoesNotSpendAttempts(t *testing.T) {
	hub := newFakeHub(t)
	hub.dropAfterSubscribe = true
	c, _ := newTestClient(t, hub.url(), testToken, func(o *Options) { o.MaxAttempts = 1 })
	result := runClient(t, c)

	deadline := time.Now().Add(2 * time.Second)
	for hub.connections.Load() < 2 || !c.IsConnected() {
		select {
		case err := <-result:
			t.Fatalf("Run() returned %v after connections = %d, want a reconnect", err, hub.connections.Load())
		default:
		}
		if time.Now().After(deadline) {
			t.Fatalf("client did not reconnect (connections = %d)", hub.connections.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClient_KeepalivePings(t *testing.T) {
	hub := newFakeHub(t)
	c, _ := newTestClient(t, hub.url(), testToken, func(o *Options) {
		o.PingInterval = 20 * time.Millisecond
		o.PongTimeout = 100 * time.Millisecond
	})
	runClient(t, c)
	waitConnected(t, c)

	deadline := time.Now().Add(2 * time.Second)
	for hub.pings.Load() < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("pings = %d, want at least 5", hub.pings.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := hub.connections.Load(); n != 1 || !c.IsConnected() {
		t.Errorf("connections = %d, connected = %v, want one live connection", n, c.IsConnected())
	}
}

func TestClient_MissingPongReconnects(t *testing.T) {
	hub := newFakeHub(t)
	hub.ignorePings = true
	c, _ := newTestClient(t, hub.url(), testToken, func(o *Options) {
		o.PingInterval = 20 * time.Millisecond
		o.PongTimeout = 30 * time.Millisecond
	})
	runClient(t, c)

	deadline := time.Now().Add(2 * time.Second)
	for hub.connections.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("silent hub connection was not dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClient_HandshakeTimeout(t *testing.T) {
	hub := newFakeHub(t)
	hub.silent = true
	c, _ := newTestClient(t, hub.url(), testToken, func(o *Options) {
		o.HandshakeTimeout = 50 * time.Millisecond
		o.MaxAttempts = 1
	})

	select {
	case err := <-runClient(t, c):
		if !errors.Is(err, ErrHandshake) {
			t.Errorf("Run() error = %v, want ErrHandshake", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handshake should time out")
	}
}

func TestClient_SubscriptionRefused(t *testing.T) {
	hub := newFakeHub(t)
	hub.refuseSubscribe = true
	c, _ := newTestClient(t, hub.url(), testToken, func(o *Options) { o.MaxAttempts = 1 })

	select {
	case err := <-runClient(t, c):
		if !errors.Is(err, ErrSubscribe) {
			t.Errorf("Run() error = %v, want ErrSubscribe", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() should fail on refused subscription")
	}
}

func TestNextDelay(t *testing.T) {
	tests := []struct {
		in, limit, want time.Duration
	}{
		{time.Second, time.Minute, 2 * time.Second},
		{40 * time.Second, time.Minute, time.Minute},
		{time.Minute, time.Minute, time.Minute},
	}
	for _, tt := range tests {
		if got := nextDelay(tt.in, tt.limit); got != tt.want {
			t.Errorf("nextDelay(%v, %v) = %v, want %v", tt.in, tt.limit, got, tt.want)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	base := Options{URL: "ws://x", Token: "t", Handler: make(chanHandler), Logger: logging.Discard()}

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"missing url", func(o *Options) { o.URL = "" }},
		{"missing token", func(o *Options) { o.Token = "" }},
		{"missing handler", func(o *Options) { o.Handler = nil }},
		{"missing logger", func(o *Options) { o.Logger = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := base
			tt.mutate(&opts)
			if _, err := New(opts); err == nil {
				t.Error("New() expected error")
			}
		})
	}

	c, err := New(base)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.opts.HandshakeTimeout != defaultHandshakeTimeout || c.opts.MaxDelay != defaultMaxDelay {
		t.Errorf("defaults not applied: %+v", c.opts)
	}
}
