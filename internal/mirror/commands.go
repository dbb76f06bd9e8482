package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dawidpodolak/panelsense-gateway/internal/codec"
	"github.com/dawidpodolak/panelsense-gateway/internal/entity"
	"github.com/dawidpodolak/panelsense-gateway/internal/gateway"
	"github.com/dawidpodolak/panelsense-gateway/internal/infrastructure/logging"
	"github.com/dawidpodolak/panelsense-gateway/internal/infrastructure/mqtt"
)

// dispatchTimeout bounds forwarding one MQTT command upstream.
const dispatchTimeout = 5 * time.Second

// Subscriber is the subset of the MQTT client used by the command bridge.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// CommandBridge accepts commands on {prefix}/{domain}/{object_id}/set.
//
// The message body is the payload a panel would send in a command frame;
// entity_id may be omitted since the topic names the entity.
type CommandBridge struct {
	sub    Subscriber
	topics mqtt.Topics
	qos    byte
	sink   gateway.ActionSink
	logger *logging.Logger

	commands atomic.Int64
	rejected atomic.Int64
}

// CommandStats is a point-in-time copy of the bridge counters.
type CommandStats struct {
	Commands int64 `json:"commands"`
	Rejected int64 `json:"rejected"`
}

// NewCommandBridge creates a bridge dispatching to sink.
func NewCommandBridge(sub Subscriber, topics mqtt.Topics, qos byte, sink gateway.ActionSink, logger *logging.Logger) *CommandBridge {
	return &CommandBridge{
		sub:    sub,
		topics: topics,
		qos:    qos,
		sink:   sink,
		logger: logger.With("component", "mirror.commands"),
	}
}

// Start subscribes to the command tree.
func (b *CommandBridge) Start() error {
	if err := b.sub.Subscribe(b.topics.AllEntityCommands(), b.qos, b.handle); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	b.logger.Info("mqtt command bridge started", "topic", b.topics.AllEntityCommands())
	return nil
}

// Stop unsubscribes from the command tree.
func (b *CommandBridge) Stop() error {
	return b.sub.Unsubscribe(b.topics.AllEntityCommands())
}

// Stats returns the bridge counters.
func (b *CommandBridge) Stats() CommandStats {
	return CommandStats{
		Commands: b.commands.Load(),
		Rejected: b.rejected.Load(),
	}
}

func (b *CommandBridge) handle(topic string, payload []byte) error {
	e, err := b.decode(topic, payload)
	if err != nil {
		b.rejected.Add(1)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	b.commands.Add(1)
	if err := b.sink.Dispatch(ctx, e); err != nil {
		return fmt.Errorf("dispatching %s: %w", e.ID(), err)
	}
	b.logger.Debug("mqtt command dispatched", "entity_id", e.ID())
	return nil
}

// decode builds the command entity for one message. The entity id is
// always taken from the topic.
func (b *CommandBridge) decode(topic string, payload []byte) (entity.Entity, error) {
	domain, objectID, ok := b.topics.ParseCommandTopic(topic)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	kind, ok := codec.KindForDomain(entity.Domain(domain))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDomain, domain)
	}

	fields := map[string]json.RawMessage{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, fmt.Errorf("%w: %v", codec.ErrInvalidPayload, err) //nolint:errorlint // decode detail only
		}
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	id, err := json.Marshal(domain + "." + objectID)
	if err != nil {
		return nil, err
	}
	fields["entity_id"] = id

	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return codec.DecodeCommand(kind, raw)
}
