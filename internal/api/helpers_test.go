package api

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dawidpodolak/panelsense-gateway/internal/audit"
	"github.com/dawidpodolak/panelsense-gateway/internal/auth"
	"github.com/dawidpodolak/panelsense-gateway/internal/bridges/homeassistant"
	"github.com/dawidpodolak/panelsense-gateway/internal/entity"
	"github.com/dawidpodolak/panelsense-gateway/internal/gateway"
	"github.com/dawidpodolak/panelsense-gateway/internal/infrastructure/config"
	"github.com/dawidpodolak/panelsense-gateway/internal/infrastructure/database"
	"github.com/dawidpodolak/panelsense-gateway/internal/infrastructure/logging"
	_ "github.com/dawidpodolak/panelsense-gateway/migrations" // registers the schema
)

const testJWTSecret = "test-secret-key-at-least-32-characters-long"

// recordingSink collects dispatched commands.
type recordingSink struct {
	got chan entity.Entity
}

func (s *recordingSink) Dispatch(_ context.Context, e entity.Entity) error {
	s.got <- e
	return nil
}

type fakeUpstream struct {
	connected bool
}

func (f fakeUpstream) Stats() homeassistant.Stats {
	return homeassistant.Stats{Connected: f.connected, Events: 3}
}

// testEnv is a gateway wired to a real SQLite store behind an httptest server.
type testEnv struct {
	srv         *Server
	http        *httptest.Server
	repo        *auth.SQLiteClientRepository
	audit       *audit.SQLiteRepository
	registry    *gateway.Registry
	broadcaster *gateway.Broadcaster
	sink        *recordingSink
}

func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "api-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}

	log := logging.Discard()
	repo := auth.NewClientRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)
	registry := gateway.NewRegistry()
	broadcaster := gateway.NewBroadcaster(registry, log)
	sink := &recordingSink{got: make(chan entity.Entity, 16)}
	router := gateway.NewRouter(gateway.RouterOptions{
		Registry:      registry,
		Authenticator: gateway.NewAuthenticator(repo),
		Sink:          sink,
		Store:         repo,
		Logger:        log,
		AuthTimeout:   time.Second,
	})

	deps := Deps{
		Config: config.ServerConfig{
			Host:     "127.0.0.1",
			Timeouts: config.ServerTimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 65536,
			PingInterval:   30,
			PongTimeout:    10,
			SendBuffer:     16,
			SendTimeout:    1,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: testJWTSecret, AccessTokenTTL: 15},
		},
		Logger:       log,
		Router:       router,
		Registry:     registry,
		Broadcaster:  broadcaster,
		Configurator: gateway.NewConfigurator(repo, broadcaster, log),
		Upstream:     fakeUpstream{connected: true},
		DB:           db,
		Audit:        auditRepo,
		Version:      "test",
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	srv.startAuditDrain()
	hs := httptest.NewServer(srv.buildRouter())
	t.Cleanup(func() {
		srv.Close() //nolint:errcheck // test cleanup
		hs.Close()
	})

	return &testEnv{
		srv:         srv,
		http:        hs,
		repo:        repo,
		audit:       auditRepo,
		registry:    registry,
		broadcaster: broadcaster,
		sink:        sink,
	}
}

// seedPanel stores an active panel record.
func (e *testEnv) seedPanel(t *testing.T, id, secret, configuration string) {
	t.Helper()

	hash, err := auth.HashSecret(secret)
	if err != nil {
		t.Fatalf("hashing secret: %v", err)
	}
	err = e.repo.Create(context.Background(), &auth.Client{
		InstallationID: id,
		Name:           "Panel " + id,
		SecretHash:     hash,
		Configuration:  configuration,
		IsActive:       true,
	})
	if err != nil {
		t.Fatalf("creating panel %s: %v", id, err)
	}
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
}

// dial opens a raw panel connection without authenticating.
func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	ws, resp, err := websocket.DefaultDialer.Dial(e.wsURL(), nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close() //nolint:errcheck // handshake response
	}
	t.Cleanup(func() { ws.Close() }) //nolint:errcheck // test cleanup
	return ws
}

// connect authenticates a panel and waits until it is registered.
func (e *testEnv) connect(t *testing.T, id, secret string) *websocket.Conn {
	t.Helper()

	ws := e.dial(t)
	if err := ws.WriteJSON(map[string]string{"installation_id": id, "secret": secret}); err != nil {
		t.Fatalf("writing claim: %v", err)
	}
	waitFor(t, func() bool {
		_, ok := e.registry.Find(id)
		return ok
	})
	return ws
}

// do runs an HTTP request through the router.
func (e *testEnv) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.srv.buildRouter().ServeHTTP(w, req)
	return w
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, err := auth.GenerateAdminToken("admin", testJWTSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateAdminToken() error: %v", err)
	}
	return token
}

// readFrame reads one text frame within two seconds.
func readFrame(t *testing.T, ws *websocket.Conn) string {
	t.Helper()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // surfaced by ReadMessage
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	return string(data)
}

// expectClose reads until the server closes the connection and returns the close code.
func expectClose(t *testing.T, ws *websocket.Conn) int {
	t.Helper()

	ws.SetReadDeadline(time.Now().Add(3 * time.Second)) //nolint:errcheck // surfaced by ReadMessage
	for {
		_, data, err := ws.ReadMessage()
		if err == nil {
			t.Logf("ignoring frame before close: %s", data)
			continue
		}
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return closeErr.Code
		}
		t.Fatalf("expected close frame, got %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
