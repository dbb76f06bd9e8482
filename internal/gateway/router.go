package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dawidpodolak/panelsense-gateway/internal/codec"
	"github.com/dawidpodolak/panelsense-gateway/internal/entity"
	"github.com/dawidpodolak/panelsense-gateway/internal/infrastructure/logging"
)

// defaultAuthTimeout bounds the wait for the credential claim.
const defaultAuthTimeout = 10 * time.Second

// lastSeenTimeout bounds the best-effort last-seen update on disconnect.
const lastSeenTimeout = 2 * time.Second

// ActionSink receives commands decoded from panel frames.
type ActionSink interface {
	Dispatch(ctx context.Context, e entity.Entity) error
}

// RouterOptions configures a Router.
type RouterOptions struct {
	Registry      *Registry
	Authenticator *Authenticator
	Sink          ActionSink
	Store         CredentialStore
	Logger        *logging.Logger

	// AuthTimeout bounds the wait for the credential claim. Zero uses 10s.
	AuthTimeout time.Duration
}

// Router drives the lifecycle of panel connections.
type Router struct {
	registry      *Registry
	authenticator *Authenticator
	sink          ActionSink
	store         CredentialStore
	logger        *logging.Logger
	authTimeout   time.Duration

	admitted     atomic.Int64
	rejected     atomic.Int64
	commands     atomic.Int64
	invalidFrame atomic.Int64
}

// RouterStats is a point-in-time copy of the router counters.
type RouterStats struct {
	Admitted      int64 `json:"admitted"`
	Rejected      int64 `json:"rejected"`
	Commands      int64 `json:"commands"`
	InvalidFrames int64 `json:"invalid_frames"`
}

// NewRouter creates a Router.
func NewRouter(opts RouterOptions) *Router {
	timeout := opts.AuthTimeout
	if timeout <= 0 {
		timeout = defaultAuthTimeout
	}
	return &Router{
		registry:      opts.Registry,
		authenticator: opts.Authenticator,
		sink:          opts.Sink,
		store:         opts.Store,
		logger:        opts.Logger,
		authTimeout:   timeout,
	}
}

// Serve runs one connection until it closes or ctx is cancelled.
// The first frame must be a credential claim; a failed claim closes the
// connection with a policy-violation code and nothing is registered.
func (r *Router) Serve(ctx context.Context, conn Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, func() {
		conn.Close() //nolint:errcheck // unblocks ReadMessage
	})
	defer stop()

	session, err := r.admit(ctx, conn)
	if err != nil {
		r.rejected.Add(1)
		r.logger.Info("panel rejected", "remote", conn.RemoteAddr(), "error", err)
		conn.Reject() //nolint:errcheck // connection is being discarded
		return
	}
	defer r.release(session)

	r.admitted.Add(1)
	if replaced := r.registry.Add(session); replaced != nil {
		r.logger.Info("panel session replaced",
			"installation_id", session.InstallationID,
			"previous_session", replaced.ID,
		)
	}
	r.logger.Info("panel connected",
		"installation_id", session.InstallationID,
		"name", session.Name,
		"session", session.ID,
		"remote", conn.RemoteAddr(),
	)

	r.sendConfiguration(ctx, session)

	for {
		data, err := conn.ReadMessage(ctx)
		if err != nil {
			r.logger.Debug("panel read ended", "installation_id", session.InstallationID, "error", err)
			return
		}
		r.handleFrame(ctx, session, data)
	}
}

// Stats returns the router counters.
func (r *Router) Stats() RouterStats {
	return RouterStats{
		Admitted:      r.admitted.Load(),
		Rejected:      r.rejected.Load(),
		Commands:      r.commands.Load(),
		InvalidFrames: r.invalidFrame.Load(),
	}
}

func (r *Router) admit(ctx context.Context, conn Conn) (*Session, error) {
	authCtx, cancel := context.WithTimeout(ctx, r.authTimeout)
	defer cancel()

	frame, err := conn.ReadMessage(authCtx)
	if err != nil {
		return nil, err
	}
	return r.authenticator.Authenticate(authCtx, frame, conn)
}

// release is the single exit path of an admitted connection.
func (r *Router) release(s *Session) {
	removed := r.registry.Release(s)
	s.Close() //nolint:errcheck // already closed on most exit paths

	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), lastSeenTimeout)
		defer cancel()
		if err := r.store.UpdateLastSeen(ctx, s.InstallationID); err != nil {
			r.logger.Warn("updating last seen failed", "installation_id", s.InstallationID, "error", err)
		}
	}

	r.logger.Info("panel disconnected",
		"installation_id", s.InstallationID,
		"session", s.ID,
		"deregistered", removed,
	)
}

func (r *Router) sendConfiguration(ctx context.Context, s *Session) {
	config := s.Configuration()
	if config == "" {
		return
	}

	data, err := codec.EncodeConfiguration(config)
	if err != nil {
		r.logger.Error("encoding configuration failed", "installation_id", s.InstallationID, "error", err)
		return
	}
	if err := s.Send(ctx, data); err != nil {
		r.logger.Warn("sending configuration failed", "installation_id", s.InstallationID, "error", err)
	}
}

// handleFrame processes one inbound frame. Failures are confined to the
// frame: the loop continues with the next one.
func (r *Router) handleFrame(ctx context.Context, s *Session, data []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic handling panel frame",
				"installation_id", s.InstallationID,
				"panic", rec,
			)
			r.sendInvalidData(ctx, s)
		}
	}()

	env, err := codec.DecodeEnvelope(data)
	if err != nil {
		r.logger.Debug("invalid panel frame", "installation_id", s.InstallationID, "error", err)
		r.sendInvalidData(ctx, s)
		return
	}

	if !env.Type.IsCommand() {
		r.logger.Debug("ignoring panel frame", "installation_id", s.InstallationID, "type", env.Type)
		return
	}

	e, err := codec.DecodeCommand(env.Type, env.Payload)
	if err != nil {
		r.logger.Debug("invalid panel command", "installation_id", s.InstallationID, "type", env.Type, "error", err)
		r.sendInvalidData(ctx, s)
		return
	}

	r.commands.Add(1)
	if err := r.sink.Dispatch(ctx, e); err != nil {
		level := r.logger.Warn
		if errors.Is(err, codec.ErrNoAction) {
			level = r.logger.Debug
		}
		level("dispatching panel command failed",
			"installation_id", s.InstallationID,
			"entity_id", e.ID(),
			"error", err,
		)
	}
}

func (r *Router) sendInvalidData(ctx context.Context, s *Session) {
	r.invalidFrame.Add(1)

	data, err := codec.EncodeError(codec.CodeInvalidData, codec.InvalidDataMessage)
	if err != nil {
		return
	}
	if err := s.Send(ctx, data); err != nil {
		r.logger.Debug("sending error frame failed", "installation_id", s.InstallationID, "error", err)
	}
}
