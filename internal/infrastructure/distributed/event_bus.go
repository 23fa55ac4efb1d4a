package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventType represents the type of event
type EventType string

const (
	EventStatus        EventType = "broadcast.status"
	EventNotice        EventType = "broadcast.notice"
	EventConfigChanged EventType = "settings.changed"
)

// Event is the envelope published on the status channel.
type Event struct {
	Type       EventType       `json:"type"`
	InstanceID string          `json:"instance_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

const defaultQueueSize = 64

// EventBus mirrors status updates onto a Redis channel so dashboards
// outside the process can follow a broadcast. Publishing from the sink
// methods never blocks: events are queued and dropped when the queue is full.
type EventBus struct {
	client     redis.UniversalClient
	instanceID string
	channel    string
	logger     *zap.SugaredLogger

	queue   chan *Event
	dropped atomic.Int64

	mu     sync.Mutex
	pubsub *redis.PubSub
}

var _ ports.StatusSink = (*EventBus)(nil)

func NewEventBus(client redis.UniversalClient, instanceID, channel string, logger *zap.SugaredLogger) *EventBus {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    channel,
		logger:     logger,
		queue:      make(chan *Event, defaultQueueSize),
	}
}

func (eb *EventBus) PublishStatus(update domain.StatusUpdate) {
	eb.enqueue(EventStatus, update)
}

func (eb *EventBus) PublishNotice(notice domain.Notice) {
	eb.enqueue(EventNotice, notice)
}

func (eb *EventBus) PublishChange(change domain.ConfigurationChange) {
	eb.enqueue(EventConfigChanged, change)
}

// Dropped counts events discarded because the queue was full.
func (eb *EventBus) Dropped() int64 {
	return eb.dropped.Load()
}

func (eb *EventBus) enqueue(t EventType, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		eb.logger.Warnw("failed to marshal event payload", "type", t, "error", err)
		return
	}
	event := &Event{Type: t, Payload: data}

	select {
	case eb.queue <- event:
	default:
		eb.dropped.Add(1)
		eb.logger.Debugw("event queue full, dropping event", "type", t)
	}
}

// Run publishes queued events until ctx is cancelled.
func (eb *EventBus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eb.queue:
			pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := eb.Publish(pubCtx, event); err != nil {
				eb.logger.Warnw("failed to publish event",
					"type", event.Type,
					"error", err,
				)
			}
			cancel()
		}
	}
}

// Publish sends one event synchronously.
func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = eb.instanceID
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event", "type", event.Type, "channel", eb.channel)
	return nil
}

// Subscribe calls handler for every event published by other instances.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	eb.mu.Lock()
	if eb.pubsub != nil {
		eb.mu.Unlock()
		return fmt.Errorf("already subscribed")
	}
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	eb.pubsub = pubsub
	eb.mu.Unlock()

	defer func() {
		eb.mu.Lock()
		eb.pubsub = nil
		eb.mu.Unlock()
		pubsub.Close()
	}()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			if event.InstanceID == eb.instanceID {
				continue
			}

			if err := handler(&event); err != nil {
				eb.logger.Warnw("error handling event",
					"type", event.Type,
					"error", err,
				)
			}
		}
	}
}

func (eb *EventBus) Close() error {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}
