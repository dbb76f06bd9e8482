package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dawidpodolak/panelsense-gateway/internal/codec"
	"github.com/dawidpodolak/panelsense-gateway/internal/entity"
	"github.com/dawidpodolak/panelsense-gateway/internal/infrastructure/logging"
)

// Observer is notified of every event after it has been fanned out.
type Observer interface {
	Observe(ctx context.Context, e entity.Entity)
}

// Result summarises one broadcast.
type Result struct {
	Recipients int
	Failed     int
}

// Broadcaster fans canonical events out to every registered session.
type Broadcaster struct {
	registry  *Registry
	logger    *logging.Logger
	observers []Observer

	events   atomic.Int64
	sends    atomic.Int64
	failures atomic.Int64
}

// BroadcastStats is a point-in-time copy of the broadcaster counters.
type BroadcastStats struct {
	Events       int64 `json:"events"`
	Sends        int64 `json:"sends"`
	SendFailures int64 `json:"send_failures"`
}

// NewBroadcaster creates a Broadcaster over registry.
func NewBroadcaster(registry *Registry, logger *logging.Logger, observers ...Observer) *Broadcaster {
	return &Broadcaster{registry: registry, logger: logger, observers: observers}
}

// Broadcast sends e to every session present in the registry at call time,
// one goroutine per recipient, and returns when every send has completed.
// A failed send is logged and counted; it does not stop other sends and
// does not deregister the session.
func (b *Broadcaster) Broadcast(ctx context.Context, e entity.Entity) Result {
	b.events.Add(1)
	defer b.notify(ctx, e)

	sessions := b.registry.Snapshot()
	res := Result{Recipients: len(sessions)}
	if len(sessions) == 0 {
		return res
	}

	// Every panel speaks the same schema, so the frame is encoded once.
	data, err := codec.EncodeEvent(e)
	if err != nil {
		b.logger.Error("encoding broadcast failed", "entity_id", e.ID(), "error", err)
		res.Failed = len(sessions)
		return res
	}

	var (
		wg     sync.WaitGroup
		failed atomic.Int64
	)
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.Send(ctx, data); err != nil {
				failed.Add(1)
				b.logger.Warn("broadcast send failed",
					"installation_id", s.InstallationID,
					"entity_id", e.ID(),
					"error", err,
				)
			}
		}(s)
	}
	wg.Wait()

	res.Failed = int(failed.Load())
	b.sends.Add(int64(res.Recipients))
	b.failures.Add(int64(res.Failed))
	return res
}

// HandleEvent broadcasts e, discarding the result.
func (b *Broadcaster) HandleEvent(ctx context.Context, e entity.Entity) {
	res := b.Broadcast(ctx, e)
	b.logger.Debug("state broadcast",
		"entity_id", e.ID(),
		"recipients", res.Recipients,
		"failed", res.Failed,
	)
}

// Push sends a configuration frame to the live session of installationID.
func (b *Broadcaster) Push(ctx context.Context, installationID, config string) error {
	s, ok := b.registry.Find(installationID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, installationID)
	}

	data, err := codec.EncodeConfiguration(config)
	if err != nil {
		return fmt.Errorf("encoding configuration: %w", err)
	}
	if err := s.Send(ctx, data); err != nil {
		return fmt.Errorf("pushing configuration to %s: %w", installationID, err)
	}
	s.setConfiguration(config)
	return nil
}

// Stats returns the broadcaster counters.
func (b *Broadcaster) Stats() BroadcastStats {
	return BroadcastStats{
		Events:       b.events.Load(),
		Sends:        b.sends.Load(),
		SendFailures: b.failures.Load(),
	}
}

func (b *Broadcaster) notify(ctx context.Context, e entity.Entity) {
	for _, o := range b.observers {
		o.Observe(ctx, e)
	}
}
