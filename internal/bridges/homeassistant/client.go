package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dawidpodolak/panelsense-gateway/internal/codec"
	"github.com/dawidpodolak/panelsense-gateway/internal/entity"
	"github.com/dawidpodolak/panelsense-gateway/internal/infrastructure/logging"
)

// Client defaults.
const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultInitialDelay     = time.Second
	defaultMaxDelay         = 60 * time.Second
	defaultPingInterval     = 30 * time.Second
	defaultPongTimeout      = 10 * time.Second

	// writeTimeout bounds a single frame write to the hub.
	writeTimeout = 10 * time.Second

	// maxMessageSize caps inbound frames. get_states style payloads are
	// never requested, so state_changed events stay well below this.
	maxMessageSize = 4 << 20
)

// EventHandler receives every relayed state change.
type EventHandler interface {
	HandleEvent(ctx context.Context, e entity.Entity)
}

// Options configures a Client.
type Options struct {
	// URL is the websocket API endpoint, e.g. ws://homeassistant:8123/api/websocket.
	URL string

	// Token is a long-lived access token or the supervisor token.
	Token string

	// HandshakeTimeout bounds each handshake step. Zero uses 10s.
	HandshakeTimeout time.Duration

	// InitialDelay and MaxDelay bound the reconnect backoff.
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// MaxAttempts limits consecutive failed connection attempts. Zero means unlimited.
	// Losing an established connection does not count as a failed attempt.
	MaxAttempts int

	// PingInterval is the time between keepalive pings. The connection is
	// dropped when no frame arrives within PingInterval + PongTimeout.
	// Zero uses 30s and 10s.
	PingInterval time.Duration
	PongTimeout  time.Duration

	// Handler receives decoded state changes.
	Handler EventHandler

	// Logger is required.
	Logger *logging.Logger

	// Dialer overrides the websocket dialer. Optional.
	Dialer *websocket.Dialer
}

// Client maintains the upstream connection.
//
// Thread Safety: Dispatch, IsConnected and Stats are safe for concurrent
// use with Run.
type Client struct {
	opts   Options
	dialer *websocket.Dialer
	logger *logging.Logger

	// mu serialises writes and guards conn.
	mu   sync.Mutex
	conn *websocket.Conn

	nextID    atomic.Int64
	connected atomic.Bool

	events       atomic.Uint64
	commandsSent atomic.Uint64
	reconnects   atomic.Uint64
}

// Stats is a point-in-time copy of the client counters.
type Stats struct {
	Connected    bool   `json:"connected"`
	Events       uint64 `json:"events"`
	CommandsSent uint64 `json:"commands_sent"`
	Reconnects   uint64 `json:"reconnects"`
}

// New creates a Client. Call Run to connect.
func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("homeassistant: url is required")
	}
	if opts.Token == "" {
		return nil, fmt.Errorf("homeassistant: token is required")
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("homeassistant: event handler is required")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("homeassistant: logger is required")
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = defaultInitialDelay
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = defaultPongTimeout
	}
	if opts.MaxDelay < opts.InitialDelay {
		opts.MaxDelay = max(defaultMaxDelay, opts.InitialDelay)
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	}

	return &Client{
		opts:   opts,
		dialer: dialer,
		logger: opts.Logger,
	}, nil
}

// Run connects and relays events until ctx is cancelled. It returns nil on
// cancellation, ErrAuthInvalid when the token is rejected and
// ErrReconnectExhausted when MaxAttempts consecutive attempts fail.
func (c *Client) Run(ctx context.Context) error {
	delay := c.opts.InitialDelay
	failures := 0

	for {
		established, err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrAuthInvalid) {
			c.logger.Error("home assistant rejected the access token")
			return err
		}

		if established {
			failures = 0
			delay = c.opts.InitialDelay
			c.logger.Warn("home assistant connection lost, reconnecting",
				"error", err,
				"retry_in", delay.String(),
			)
		} else {
			failures++
			if c.opts.MaxAttempts > 0 && failures >= c.opts.MaxAttempts {
				return fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, failures, err)
			}
			c.logger.Warn("home assistant connection failed, retrying",
				"error", err,
				"attempt", failures,
				"retry_in", delay.String(),
			)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = nextDelay(delay, c.opts.MaxDelay)
		c.reconnects.Add(1)
	}
}

// nextDelay doubles d, capped at limit.
func nextDelay(d, limit time.Duration) time.Duration {
	d *= 2
	if d > limit {
		return limit
	}
	return d
}

// session runs one connection from dial to loss. established reports
// whether the handshake and subscription completed.
func (c *Client) session(ctx context.Context) (established bool, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	conn, resp, err := c.dialer.DialContext(dialCtx, c.opts.URL, nil)
	cancel()
	if resp != nil && resp.Body != nil {
		resp.Body.Close() //nolint:errcheck // body is unused
	}
	if err != nil {
		return false, fmt.Errorf("dialing %s: %w", c.opts.URL, err)
	}
	defer conn.Close() //nolint:errcheck // connection is being discarded

	conn.SetReadLimit(maxMessageSize)

	if err := c.handshake(conn); err != nil {
		return false, err
	}
	if err := c.subscribe(conn); err != nil {
		return false, err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)
	c.logger.Info("connected to home assistant", "url", c.opts.URL)

	defer func() {
		c.connected.Store(false)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	stop := context.AfterFunc(ctx, func() {
		conn.Close() //nolint:errcheck // unblocks the receive loop
	})
	defer stop()

	pingCtx, cancelPing := context.WithCancel(ctx)
	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		c.keepalive(pingCtx, conn)
	}()
	defer func() {
		cancelPing()
		<-pingDone
	}()

	return true, c.receive(ctx, conn)
}

// keepalive pings the hub every PingInterval. A failed write closes conn,
// which ends the receive loop.
func (c *Client) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck // surfaced by WriteJSON
			err := conn.WriteJSON(pingMessage{ID: c.nextID.Add(1), Type: typePing})
			c.mu.Unlock()
			if err != nil {
				c.logger.Debug("home assistant ping failed", "error", err)
				conn.Close() //nolint:errcheck // unblocks the receive loop
				return
			}
		}
	}
}

func (c *Client) handshake(conn *websocket.Conn) error {
	msg, err := c.readStep(conn)
	if err != nil {
		return err
	}
	if msg.Type != typeAuthRequired {
		return fmt.Errorf("%w: expected %s, got %q", ErrHandshake, typeAuthRequired, msg.Type)
	}

	if err := c.writeStep(conn, authMessage{Type: typeAuth, AccessToken: c.opts.Token}); err != nil {
		return err
	}

	msg, err = c.readStep(conn)
	if err != nil {
		return err
	}
	switch msg.Type {
	case typeAuthOK:
		c.logger.Debug("home assistant authenticated", "ha_version", msg.HAVersion)
		return nil
	case typeAuthInvalid:
		return fmt.Errorf("%w: %s", ErrAuthInvalid, msg.Message)
	default:
		return fmt.Errorf("%w: unexpected %q after auth", ErrHandshake, msg.Type)
	}
}

func (c *Client) subscribe(conn *websocket.Conn) error {
	id := c.nextID.Add(1)
	if err := c.writeStep(conn, subscribeMessage{ID: id, Type: typeSubscribeEvents, EventType: eventStateChanged}); err != nil {
		return err
	}

	for {
		msg, err := c.readStep(conn)
		if err != nil {
			return err
		}
		if msg.Type != typeResult || msg.ID != id {
			continue
		}
		if msg.Success == nil || !*msg.Success {
			return fmt.Errorf("%w: %s", ErrSubscribe, describe(msg.Error))
		}
		return nil
	}
}

// readStep reads one handshake frame within the handshake timeout.
func (c *Client) readStep(conn *websocket.Conn) (message, error) {
	conn.SetReadDeadline(time.Now().Add(c.opts.HandshakeTimeout)) //nolint:errcheck // surfaced by ReadJSON

	var msg message
	if err := conn.ReadJSON(&msg); err != nil {
		return message{}, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	return msg, nil
}

func (c *Client) writeStep(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(c.opts.HandshakeTimeout)) //nolint:errcheck // surfaced by WriteJSON
	if err := conn.WriteJSON(v); err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	return nil
}

func (c *Client) receive(ctx context.Context, conn *websocket.Conn) error {
	for {
		// Any frame, the pong included, proves the hub is alive.
		conn.SetReadDeadline(time.Now().Add(c.opts.PingInterval + c.opts.PongTimeout)) //nolint:errcheck // surfaced by ReadMessage
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDisconnected, err)
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("undecodable home assistant frame", "error", err)
			continue
		}

		switch msg.Type {
		case typeEvent:
			c.handleEvent(ctx, msg.Event)
		case typeResult:
			if msg.Success != nil && !*msg.Success {
				c.logger.Warn("home assistant command failed", "id", msg.ID, "error", describe(msg.Error))
			}
		case typePong:
		default:
			c.logger.Debug("ignoring home assistant frame", "type", msg.Type)
		}
	}
}

func (c *Client) handleEvent(ctx context.Context, ev *event) {
	if ev == nil || ev.EventType != eventStateChanged || ev.Data.NewState == nil {
		return
	}

	e, err := codec.FromState(*ev.Data.NewState)
	if err != nil {
		if !errors.Is(err, codec.ErrUnsupportedDomain) {
			c.logger.Warn("decoding state change failed", "entity_id", ev.Data.EntityID, "error", err)
		}
		return
	}

	c.events.Add(1)
	c.opts.Handler.HandleEvent(ctx, e)
}

// Dispatch sends e to the hub as a call_service request.
// It implements the gateway's action sink.
func (c *Client) Dispatch(_ context.Context, e entity.Entity) error {
	call, err := codec.ToServiceCall(e)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}

	msg := callServiceMessage{ID: c.nextID.Add(1), Type: typeCallService, ServiceCall: call}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck // surfaced by WriteJSON
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("sending %s.%s: %w", call.Domain, call.Service, err)
	}

	c.commandsSent.Add(1)
	c.logger.Debug("command sent",
		"id", msg.ID,
		"service", call.Domain+"."+call.Service,
		"entity_id", call.Target.EntityID,
	)
	return nil
}

// IsConnected reports whether the handshake completed on the current connection.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Stats returns the client counters.
func (c *Client) Stats() Stats {
	return Stats{
		Connected:    c.connected.Load(),
		Events:       c.events.Load(),
		CommandsSent: c.commandsSent.Load(),
		Reconnects:   c.reconnects.Load(),
	}
}

func describe(e *resultError) string {
	if e == nil {
		return "no error detail"
	}
	return e.Code + ": " + e.Message
}
