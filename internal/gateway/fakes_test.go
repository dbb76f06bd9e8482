package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dawidpodolak/panelsense-gateway/internal/auth"
	"github.com/dawidpodolak/panelsense-gateway/internal/entity"
)

// fakeConn is an in-memory Conn.
type fakeConn struct {
	addr    string
	inbound chan []byte
	sent    chan []byte
	done    chan struct{}

	mu       sync.Mutex
	sendErr  error
	closed   bool
	rejected bool
	once     sync.Once
}

func newFakeConn(addr string) *fakeConn {
	return &fakeConn{
		addr:    addr,
		inbound: make(chan []byte, 16),
		sent:    make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.done:
		return nil, ErrConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Send(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent <- data
	return nil
}

func (c *fakeConn) Reject() error {
	c.mu.Lock()
	c.rejected = true
	c.mu.Unlock()
	return c.Close()
}

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

func (c *fakeConn) RemoteAddr() string { return c.addr }

func (c *fakeConn) failSends(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) isRejected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rejected
}

// push delivers a frame as if the panel had sent it.
func (c *fakeConn) push(frame string) {
	c.inbound <- []byte(frame)
}

// next waits for the next frame sent to the panel.
func (c *fakeConn) next(t *testing.T) string {
	t.Helper()
	select {
	case data := <-c.sent:
		return string(data)
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: no frame sent", c.addr)
		return ""
	}
}

// expectNone asserts nothing is sent within a short window.
func (c *fakeConn) expectNone(t *testing.T) {
	t.Helper()
	select {
	case data := <-c.sent:
		t.Fatalf("%s: unexpected frame %s", c.addr, data)
	case <-time.After(50 * time.Millisecond):
	}
}

// fakeStore is an in-memory CredentialStore.
type fakeStore struct {
	mu       sync.Mutex
	clients  map[string]*auth.Client
	lastSeen map[string]int
	updates  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		clients:  make(map[string]*auth.Client),
		lastSeen: make(map[string]int),
	}
}

var (
	hashMu    sync.Mutex
	hashCache = map[string]string{}
)

// hashFor returns a cached Argon2id hash of secret.
func hashFor(t *testing.T, secret string) string {
	t.Helper()
	hashMu.Lock()
	defer hashMu.Unlock()

	if h, ok := hashCache[secret]; ok {
		return h
	}
	h, err := auth.HashSecret(secret)
	if err != nil {
		t.Fatalf("HashSecret() error = %v", err)
	}
	hashCache[secret] = h
	return h
}

func (s *fakeStore) add(t *testing.T, id, secret, config string, active bool) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[id] = &auth.Client{
		InstallationID: id,
		Name:           "Panel " + id,
		SecretHash:     hashFor(t, secret),
		Configuration:  config,
		IsActive:       active,
	}
}

func (s *fakeStore) Get(_ context.Context, id string) (*auth.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return nil, auth.ErrClientNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *fakeStore) UpdateConfiguration(_ context.Context, id, config string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return auth.ErrClientNotFound
	}
	c.Configuration = config
	s.updates++
	return nil
}

func (s *fakeStore) UpdateLastSeen(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen[id]++
	return nil
}

func (s *fakeStore) lastSeenCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen[id]
}

func (s *fakeStore) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

// fakeSink records dispatched commands.
type fakeSink struct {
	got chan entity.Entity
	err error
}

func newFakeSink() *fakeSink {
	return &fakeSink{got: make(chan entity.Entity, 16)}
}

func (s *fakeSink) Dispatch(_ context.Context, e entity.Entity) error {
	s.got <- e
	return s.err
}

func (s *fakeSink) next(t *testing.T) entity.Entity {
	t.Helper()
	select {
	case e := <-s.got:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no command dispatched")
		return nil
	}
}

func (s *fakeSink) expectNone(t *testing.T) {
	t.Helper()
	select {
	case e := <-s.got:
		t.Fatalf("unexpected dispatch %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// testSession builds a registered-ready session without authentication.
func testSession(id string, conn Conn) *Session {
	return newSession(conn, &auth.Client{InstallationID: id, Name: id})
}
