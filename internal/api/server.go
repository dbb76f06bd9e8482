package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dawidpodolak/panelsense-gateway/internal/audit"
	"github.com/dawidpodolak/panelsense-gateway/internal/bridges/homeassistant"
	"github.com/dawidpodolak/panelsense-gateway/internal/gateway"
	"github.com/dawidpodolak/panelsense-gateway/internal/infrastructure/config"
	"github.com/dawidpodolak/panelsense-gateway/internal/infrastructure/database"
	"github.com/dawidpodolak/panelsense-gateway/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// and panel sessions to finish during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Upstream reports the state of the Home Assistant connection.
type Upstream interface {
	Stats() homeassistant.Stats
}

// MQTTStatus reports the state of the MQTT mirror connection.
type MQTTStatus interface {
	IsConnected() bool
	SubscriptionCount() int
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config       config.ServerConfig
	WS           config.WebSocketConfig
	Security     config.SecurityConfig
	Logger       *logging.Logger
	Router       *gateway.Router
	Registry     *gateway.Registry
	Broadcaster  *gateway.Broadcaster
	Configurator *gateway.Configurator
	Upstream     Upstream         // optional: reported by health and metrics
	MQTT         MQTTStatus       // optional: reported by metrics
	DB           *database.DB     // optional: reported by health and metrics
	Audit        audit.Repository // optional: records admin actions
	Version      string
}

// Server is the HTTP server panels and administrators talk to.
type Server struct {
	cfg          config.ServerConfig
	wsCfg        config.WebSocketConfig
	secCfg       config.SecurityConfig
	logger       *logging.Logger
	router       *gateway.Router
	registry     *gateway.Registry
	broadcaster  *gateway.Broadcaster
	configurator *gateway.Configurator
	upstream     Upstream
	mqtt         MQTTStatus
	db           *database.DB
	auditRepo    audit.Repository
	auditCh      chan *audit.Entry
	auditDone    chan struct{}
	version      string
	startTime    time.Time
	upgrader     websocket.Upgrader

	server   *http.Server
	listener net.Listener

	// ctx scopes panel sessions; cancel ends them all.
	ctx    context.Context //nolint:containedctx // lifetime of hijacked connections
	cancel context.CancelFunc
	conns  sync.WaitGroup
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Router == nil || deps.Registry == nil {
		return nil, fmt.Errorf("gateway router and registry are required")
	}
	if deps.Broadcaster == nil || deps.Configurator == nil {
		return nil, fmt.Errorf("broadcaster and configurator are required")
	}

	s := &Server{
		cfg:          deps.Config,
		wsCfg:        deps.WS,
		secCfg:       deps.Security,
		logger:       deps.Logger.With("component", "api"),
		router:       deps.Router,
		registry:     deps.Registry,
		broadcaster:  deps.Broadcaster,
		configurator: deps.Configurator,
		upstream:     deps.Upstream,
		mqtt:         deps.MQTT,
		db:           deps.DB,
		auditRepo:    deps.Audit,
		version:      deps.Version,
		startTime:    time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				// Panels are native apps and send no meaningful Origin.
				return true
			},
		},
	}
	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.Entry, auditChanSize)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Start binds the listener and serves in a background goroutine.
//
// Panel sessions end when ctx is cancelled or Close is called.
func (s *Server) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	s.startAuditDrain()

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", "error", err)
		}
	}()

	return nil
}

// startAuditDrain starts the audit writer bound to the server context.
func (s *Server) startAuditDrain() {
	if s.auditRepo == nil || s.auditDone != nil {
		return
	}
	s.auditDone = make(chan struct{})
	go s.drainAuditLog(s.ctx)
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops accepting requests, ends every panel session and waits up
// to 10 seconds for them to finish.
func (s *Server) Close() error {
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	var err error
	if s.server != nil {
		s.logger.Info("server shutting down")
		if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("shutting down server: %w", shutdownErr)
		}
	}

	// Shutdown does not track hijacked websocket connections.
	s.registry.CloseAll()
	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("panel sessions still running after shutdown timeout")
	}

	if s.auditDone != nil {
		select {
		case <-s.auditDone:
		case <-ctx.Done():
		}
	}

	return err
}

// HealthCheck verifies the server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
