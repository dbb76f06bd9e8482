package mirror

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/dawidpodolak/panelsense-gateway/internal/codec"
	"github.com/dawidpodolak/panelsense-gateway/internal/entity"
	"github.com/dawidpodolak/panelsense-gateway/internal/infrastructure/logging"
	"github.com/dawidpodolak/panelsense-gateway/internal/infrastructure/mqtt"
)

// defaultQueueSize bounds the events waiting to be published.
const defaultQueueSize = 256

// Publisher is the subset of the MQTT client used for state publishing.
// The broker connection decides the QoS.
type Publisher interface {
	PublishRetained(topic string, payload []byte) error
}

// StatePublisher publishes every entity state as a retained message on
// {prefix}/{domain}/{object_id}/state. The payload is the broadcast frame
// panels receive.
type StatePublisher struct {
	pub    Publisher
	topics mqtt.Topics
	logger *logging.Logger
	queue  chan entity.Entity

	published atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// PublishStats is a point-in-time copy of the publisher counters.
type PublishStats struct {
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
	Failed    int64 `json:"failed"`
}

// NewStatePublisher creates a StatePublisher. Run must be started for
// anything to be published.
func NewStatePublisher(pub Publisher, topics mqtt.Topics, logger *logging.Logger) *StatePublisher {
	return &StatePublisher{
		pub:    pub,
		topics: topics,
		logger: logger.With("component", "mirror.mqtt"),
		queue:  make(chan entity.Entity, defaultQueueSize),
	}
}

// Observe queues e for publishing. A full queue drops the event.
func (p *StatePublisher) Observe(_ context.Context, e entity.Entity) {
	select {
	case p.queue <- e:
	default:
		p.dropped.Add(1)
		p.logger.Warn("mirror queue full, state dropped", "entity_id", e.ID())
	}
}

// Run publishes queued events until ctx is cancelled.
func (p *StatePublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-p.queue:
			if err := p.publish(e); err != nil {
				p.failed.Add(1)
				p.logger.Warn("publishing state failed", "entity_id", e.ID(), "error", err)
				continue
			}
			p.published.Add(1)
		}
	}
}

func (p *StatePublisher) publish(e entity.Entity) error {
	objectID, err := objectIDOf(e)
	if err != nil {
		return err
	}
	data, err := codec.EncodeEvent(e)
	if err != nil {
		return err
	}
	topic := p.topics.EntityState(string(e.Domain()), objectID)
	if err := p.pub.PublishRetained(topic, data); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

// Stats returns the publisher counters.
func (p *StatePublisher) Stats() PublishStats {
	return PublishStats{
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Failed:    p.failed.Load(),
	}
}

// objectIDOf strips the domain from an entity id ("light.kitchen" -> "kitchen").
func objectIDOf(e entity.Entity) (string, error) {
	domain, objectID, ok := strings.Cut(e.ID(), ".")
	if !ok || objectID == "" || entity.Domain(domain) != e.Domain() {
		return "", fmt.Errorf("entity id %q has no %s object id", e.ID(), e.Domain())
	}
	return objectID, nil
}
