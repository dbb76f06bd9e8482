package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dawidpodolak/panelsense-gateway/internal/gateway"
	"github.com/dawidpodolak/panelsense-gateway/internal/infrastructure/config"
)

// WebSocket defaults, used when the configuration leaves a value at zero.
const (
	defaultSendBuffer   = 256
	defaultSendTimeout  = 5 * time.Second
	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 10 * time.Second

	// closeWait bounds writing the close frame.
	closeWait = time.Second
)

// wsConn adapts a gorilla connection to gateway.Conn.
//
// Outbound frames go through a bounded queue drained by writePump, which is
// the only goroutine writing data frames. A Send that cannot enqueue within
// sendTimeout closes the connection.
type wsConn struct {
	conn   *websocket.Conn
	remote string

	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	sendTimeout time.Duration

	pingInterval time.Duration
	pongWait     time.Duration
}

func newWSConn(conn *websocket.Conn, cfg config.WebSocketConfig) *wsConn {
	c := &wsConn{
		conn:         conn,
		remote:       conn.RemoteAddr().String(),
		send:         make(chan []byte, positive(cfg.SendBuffer, defaultSendBuffer)),
		done:         make(chan struct{}),
		sendTimeout:  seconds(cfg.SendTimeout, defaultSendTimeout),
		pingInterval: seconds(cfg.PingInterval, defaultPingInterval),
		pongWait:     seconds(cfg.PongTimeout, defaultPongTimeout),
	}

	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pingInterval + c.pongWait))
	})
	return c
}

// ReadMessage returns the next data frame. A ctx deadline becomes the read
// deadline; otherwise the keepalive window applies.
func (c *wsConn) ReadMessage(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		deadline = time.Now().Add(c.pingInterval + c.pongWait)
	}
	c.conn.SetReadDeadline(deadline) //nolint:errcheck // surfaced by ReadMessage

	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now()) //nolint:errcheck // unblocks ReadMessage
	})
	defer stop()

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if hasDeadline && !time.Now().Before(deadline) {
			return nil, context.DeadlineExceeded
		}
		return nil, err
	}
	return data, nil
}

// Send enqueues data for the write pump.
func (c *wsConn) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return gateway.ErrConnClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
	}

	timer := time.NewTimer(c.sendTimeout)
	defer timer.Stop()

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return gateway.ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		c.Close() //nolint:errcheck // slow consumer is dropped
		return gateway.ErrSlowConsumer
	}
}

// Reject closes the connection with a policy-violation close code.
func (c *wsConn) Reject() error {
	return c.close(websocket.ClosePolicyViolation)
}

// Close closes the connection with a normal close code.
func (c *wsConn) Close() error {
	return c.close(websocket.CloseNormalClosure)
}

func (c *wsConn) RemoteAddr() string {
	return c.remote
}

// close is idempotent. WriteControl may run concurrently with the write pump.
func (c *wsConn) close(code int) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		//nolint:errcheck // best-effort close frame, the peer may be gone
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, ""),
			time.Now().Add(closeWait),
		)
		err = c.conn.Close()
	})
	return err
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.Close() //nolint:errcheck // write failure ends the connection
	}()

	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(c.pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(c.pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleWebSocket upgrades a panel connection and hands it to the gateway
// router. The handler returns when the session ends.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s.conns.Add(1)
	defer s.conns.Done()

	conn := newWSConn(ws, s.wsCfg)
	go conn.writePump()

	s.router.Serve(s.ctx, conn)
}

func positive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func seconds(v int, fallback time.Duration) time.Duration {
	if v > 0 {
		return time.Duration(v) * time.Second
	}
	return fallback
}
