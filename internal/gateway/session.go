package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dawidpodolak/panelsense-gateway/internal/auth"
)

// Conn is the transport of one panel connection.
//
// ReadMessage is called from a single goroutine. Send and Close may be
// called concurrently with each other and with ReadMessage.
type Conn interface {
	// ReadMessage blocks until the next text frame arrives, the connection
	// fails or ctx is done.
	ReadMessage(ctx context.Context) ([]byte, error)

	// Send queues data for delivery. It returns ErrSlowConsumer (and closes
	// the connection) when the queue stays full, ErrConnClosed after Close.
	Send(ctx context.Context, data []byte) error

	// Reject closes the connection with a policy-violation close code.
	Reject() error

	// Close closes the connection. It is safe to call more than once.
	Close() error

	// RemoteAddr identifies the peer for logging.
	RemoteAddr() string
}

// Session is one authenticated panel connection.
type Session struct {
	ID             string
	InstallationID string
	Name           string
	Authenticated  bool
	ConnectedAt    time.Time

	conn Conn

	mu            sync.Mutex
	configuration string
}

// newSession builds an authenticated session for a verified credential record.
func newSession(conn Conn, client *auth.Client) *Session {
	return &Session{
		ID:             uuid.NewString(),
		InstallationID: client.InstallationID,
		Name:           client.Name,
		Authenticated:  true,
		ConnectedAt:    time.Now().UTC(),
		conn:           conn,
		configuration:  client.Configuration,
	}
}

// Send delivers one encoded frame to the panel.
func (s *Session) Send(ctx context.Context, data []byte) error {
	return s.conn.Send(ctx, data)
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

// RemoteAddr returns the peer address of the connection.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr()
}

// Configuration returns the configuration blob last delivered to the panel.
func (s *Session) Configuration() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configuration
}

func (s *Session) setConfiguration(config string) {
	s.mu.Lock()
	s.configuration = config
	s.mu.Unlock()
}
