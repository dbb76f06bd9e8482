package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeHomeAssistant completes the handshake and then idles.
func fakeHomeAssistant(t *testing.T, token string) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteJSON(map[string]any{"type": "auth_required"}) //nolint:errcheck
		var auth struct {
			AccessToken string `json:"access_token"`
		}
		if err := conn.ReadJSON(&auth); err != nil {
			return
		}
		if auth.AccessToken != token {
			conn.WriteJSON(map[string]any{"type": "auth_invalid", "message": "bad token"}) //nolint:errcheck
			return
		}
		conn.WriteJSON(map[string]any{"type": "auth_ok", "ha_version": "2026.10.0"}) //nolint:errcheck

		var sub struct {
			ID int64 `json:"id"`
		}
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		conn.WriteJSON(map[string]any{"id": sub.ID, "type": "result", "success": true}) //nolint:errcheck

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// freePort returns a port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("PANELSENSE_CONFIG", path)
}

func testConfig(port int, haURL, dbPath string) string {
	return fmt.Sprintf(`
server:
  host: "127.0.0.1"
  port: %d

home_assistant:
  url: %q
  token: "ha-test-token"
  handshake_timeout: 2
  reconnect:
    initial_delay: 1
    max_delay: 2

database:
  path: %q
  wal_mode: true
  busy_timeout: 5

mqtt:
  enabled: false

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stderr

security:
  jwt:
    secret: "test-secret-for-development-only-0123456789"
`, port, haURL, dbPath)
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("PANELSENSE_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies validation rejects an empty database path.
func TestRun_MissingDatabasePath(t *testing.T) {
	writeConfig(t, testConfig(8652, "ws://127.0.0.1:1/api/websocket", ""))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "database.path") {
		t.Fatalf("run() error = %v, want database.path validation error", err)
	}
}

// TestRun_StartsAndStops runs the whole gateway against a fake hub and
// shuts it down through context cancellation.
func TestRun_StartsAndStops(t *testing.T) {
	port := freePort(t)
	haURL := fakeHomeAssistant(t, "ha-test-token")
	writeConfig(t, testConfig(port, haURL, filepath.Join(t.TempDir(), "panelsense.db")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(healthURL) //nolint:noctx // test polling
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("gateway never became healthy: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v, want nil on shutdown", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancellation")
	}
}

// TestRun_BadUpstreamToken verifies a rejected hub token stops the gateway.
func TestRun_BadUpstreamToken(t *testing.T) {
	port := freePort(t)
	haURL := fakeHomeAssistant(t, "another-token")
	writeConfig(t, testConfig(port, haURL, filepath.Join(t.TempDir(), "panelsense.db")))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "gateway stopped") {
		t.Fatalf("run() error = %v, want upstream failure", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("PANELSENSE_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("PANELSENSE_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}
