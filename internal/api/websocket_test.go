package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dawidpodolak/panelsense-gateway/internal/entity"
	"github.com/dawidpodolak/panelsense-gateway/internal/gateway"
	"github.com/dawidpodolak/panelsense-gateway/internal/infrastructure/config"
)

// ─── Panel scenarios ────────────────────────────────────────────────

func TestWebSocket_AuthenticatedCommand(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedPanel(t, "hall", "s3cret", "")
	ws := env.connect(t, "hall", "s3cret")

	cmd := `{"id":1,"type":"HA_ACTION_SWITCH","payload":{"entity_id":"switch.kettle","on":true}}`
	if err := ws.WriteMessage(websocket.TextMessage, []byte(cmd)); err != nil {
		t.Fatalf("writing command: %v", err)
	}

	select {
	case e := <-env.sink.got:
		sw, ok := e.(entity.Switch)
		if !ok || sw.EntityID != "switch.kettle" || sw.On == nil || !*sw.On {
			t.Errorf("dispatched = %#v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command was not dispatched")
	}
}

func TestWebSocket_BadSecretRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedPanel(t, "hall", "s3cret", "")

	ws := env.dial(t)
	if err := ws.WriteJSON(map[string]string{"installation_id": "hall", "secret": "guess"}); err != nil {
		t.Fatalf("writing claim: %v", err)
	}

	if code := expectClose(t, ws); code != websocket.ClosePolicyViolation {
		t.Errorf("close code = %d, want %d", code, websocket.ClosePolicyViolation)
	}
	if env.registry.Count() != 0 {
		t.Errorf("registry count = %d, want 0", env.registry.Count())
	}
}

func TestWebSocket_UnknownClientRejected(t *testing.T) {
	env := newTestEnv(t, nil)

	ws := env.dial(t)
	if err := ws.WriteJSON(map[string]string{"installation_id": "ghost", "secret": "x"}); err != nil {
		t.Fatalf("writing claim: %v", err)
	}

	if code := expectClose(t, ws); code != websocket.ClosePolicyViolation {
		t.Errorf("close code = %d, want %d", code, websocket.ClosePolicyViolation)
	}
}

func TestWebSocket_AuthTimeout(t *testing.T) {
	env := newTestEnv(t, nil)
	ws := env.dial(t)

	if code := expectClose(t, ws); code != websocket.ClosePolicyViolation {
		t.Errorf("close code = %d, want %d", code, websocket.ClosePolicyViolation)
	}
}

func TestWebSocket_InvalidDataKeepsSession(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedPanel(t, "hall", "s3cret", "")
	ws := env.connect(t, "hall", "s3cret")

	invalid := []string{
		`not json`,
		`{"type":"HA_ACTION_LIGHT","payload":{"brightness":10}}`,
		`{"type":"HA_ACTION_COVER","payload":{"entity_id":"light.wrong_domain"}}`,
	}
	for _, frame := range invalid {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("writing frame: %v", err)
		}
		if got := readFrame(t, ws); got != `{"error_code":"INVALID_DATA","message":"Invalid data"}` {
			t.Errorf("response to %s = %s", frame, got)
		}
	}

	cmd := `{"type":"HA_ACTION_LIGHT","payload":{"entity_id":"light.desk","on":false}}`
	if err := ws.WriteMessage(websocket.TextMessage, []byte(cmd)); err != nil {
		t.Fatalf("writing command: %v", err)
	}
	select {
	case e := <-env.sink.got:
		if e.ID() != "light.desk" {
			t.Errorf("dispatched %s, want light.desk", e.ID())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not survive invalid frames")
	}
}

func TestWebSocket_BroadcastReachesEveryPanel(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedPanel(t, "hall", "one", "")
	env.seedPanel(t, "kitchen", "two", "")
	hall := env.connect(t, "hall", "one")
	kitchen := env.connect(t, "kitchen", "two")

	res := env.broadcaster.Broadcast(context.Background(), entity.Light{
		EntityID:   "light.ceiling",
		On:         entity.Ptr(true),
		Brightness: entity.Ptr(128),
	})
	if res.Recipients != 2 || res.Failed != 0 {
		t.Errorf("Broadcast() = %+v, want 2 recipients and no failures", res)
	}

	want := `{"type":"HA_ACTION_LIGHT","payload":{"entity_id":"light.ceiling","on":true,"brightness":128}}`
	for name, ws := range map[string]*websocket.Conn{"hall": hall, "kitchen": kitchen} {
		if got := readFrame(t, ws); got != want {
			t.Errorf("%s received %s, want %s", name, got, want)
		}
	}
}

func TestWebSocket_ConfigurationOnConnect(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedPanel(t, "hall", "s3cret", "stored-layout")
	ws := env.connect(t, "hall", "s3cret")

	if got := readFrame(t, ws); got != `{"type":"CONFIGURATION","config":"stored-layout"}` {
		t.Errorf("first frame = %s", got)
	}
}

func TestWebSocket_ReconnectReplacesSession(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedPanel(t, "hall", "s3cret", "")

	first := env.connect(t, "hall", "s3cret")
	old, _ := env.registry.Find("hall")

	second := env.dial(t)
	if err := second.WriteJSON(map[string]string{"installation_id": "hall", "secret": "s3cret"}); err != nil {
		t.Fatalf("writing claim: %v", err)
	}
	waitFor(t, func() bool {
		cur, ok := env.registry.Find("hall")
		return ok && cur.ID != old.ID
	})

	if code := expectClose(t, first); code != websocket.CloseNormalClosure {
		t.Errorf("replaced connection close code = %d, want %d", code, websocket.CloseNormalClosure)
	}

	// The replaced session's exit path must not deregister its successor.
	time.Sleep(50 * time.Millisecond)
	if env.registry.Count() != 1 {
		t.Fatalf("registry count = %d, want 1", env.registry.Count())
	}
	res := env.broadcaster.Broadcast(context.Background(), entity.Switch{EntityID: "switch.fan", On: entity.Ptr(false)})
	if res.Recipients != 1 {
		t.Errorf("Broadcast() recipients = %d, want 1", res.Recipients)
	}
	if got := readFrame(t, second); !strings.Contains(got, "switch.fan") {
		t.Errorf("new session received %s", got)
	}
}

func TestWebSocket_DisconnectDeregisters(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedPanel(t, "hall", "s3cret", "")
	ws := env.connect(t, "hall", "s3cret")

	ws.Close() //nolint:errcheck // simulating a dropped panel
	waitFor(t, func() bool { return env.registry.Count() == 0 })

	waitFor(t, func() bool {
		c, err := env.repo.Get(context.Background(), "hall")
		return err == nil && c.LastSeenAt != nil
	})
}

func TestServerClose_EndsSessions(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedPanel(t, "hall", "s3cret", "")
	ws := env.connect(t, "hall", "s3cret")

	if err := env.srv.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	expectClose(t, ws)
	if env.registry.Count() != 0 {
		t.Errorf("registry count = %d after Close, want 0", env.registry.Count())
	}
}

// ─── wsConn ─────────────────────────────────────────────────────────

// wsPair returns the server side of a websocket connection and the client side.
func wsPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()

	conns := make(chan *websocket.Conn, 1)
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- c
	}))
	t.Cleanup(hs.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(hs.URL, "http"), nil) //nolint:bodyclose // upgraded
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // test cleanup

	select {
	case server := <-conns:
		t.Cleanup(func() { server.Close() }) //nolint:errcheck // test cleanup
		return server, client
	case <-time.After(2 * time.Second):
		t.Fatal("server side never upgraded")
		return nil, nil
	}
}

func TestWSConn_SlowConsumerIsClosed(t *testing.T) {
	server, client := wsPair(t)
	conn := newWSConn(server, config.WebSocketConfig{SendBuffer: 1})
	conn.sendTimeout = 50 * time.Millisecond
	// No write pump: the queue never drains.

	ctx := context.Background()
	if err := conn.Send(ctx, []byte("first")); err != nil {
		t.Fatalf("first Send() error = %v", err)
	}

	start := time.Now()
	err := conn.Send(ctx, []byte("second"))
	if !errors.Is(err, gateway.ErrSlowConsumer) {
		t.Fatalf("second Send() error = %v, want ErrSlowConsumer", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Send() gave up after %v, want the send timeout", elapsed)
	}

	if err := conn.Send(ctx, []byte("third")); !errors.Is(err, gateway.ErrConnClosed) {
		t.Errorf("Send() after close error = %v, want ErrConnClosed", err)
	}
	if code := expectClose(t, client); code != websocket.CloseNormalClosure {
		t.Errorf("close code = %d, want %d", code, websocket.CloseNormalClosure)
	}
}

func TestWSConn_WritePumpDeliversInOrder(t *testing.T) {
	server, client := wsPair(t)
	conn := newWSConn(server, config.WebSocketConfig{SendBuffer: 4})
	go conn.writePump()
	defer conn.Close() //nolint:errcheck // test cleanup

	for _, msg := range []string{"a", "b", "c"} {
		if err := conn.Send(context.Background(), []byte(msg)); err != nil {
			t.Fatalf("Send(%s) error = %v", msg, err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		if got := readFrame(t, client); got != want {
			t.Errorf("frame = %q, want %q", got, want)
		}
	}
}

func TestWSConn_ReadMessageHonoursContext(t *testing.T) {
	server, _ := wsPair(t)
	conn := newWSConn(server, config.WebSocketConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := conn.ReadMessage(ctx)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("ReadMessage() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadMessage did not return after cancel")
	}
}

func TestWSConn_ReadMessageDeadline(t *testing.T) {
	server, _ := wsPair(t)
	conn := newWSConn(server, config.WebSocketConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := conn.ReadMessage(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ReadMessage() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestWSConn_RejectUsesPolicyViolation(t *testing.T) {
	server, client := wsPair(t)
	conn := newWSConn(server, config.WebSocketConfig{})

	if err := conn.Reject(); err != nil {
		t.Fatalf("Reject() error = %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("Close() after Reject() error = %v", err)
	}
	if code := expectClose(t, client); code != websocket.ClosePolicyViolation {
		t.Errorf("close code = %d, want %d", code, websocket.ClosePolicyViolation)
	}
}
