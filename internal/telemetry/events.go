package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/farmra-core/internal/device"
	"github.com/nerrad567/farmra-core/internal/infrastructure/mqtt"
)

// EventDeviceChanged is the event type carried by every device change.
const EventDeviceChanged = "device.changed"

// DeviceEvent is the payload published for a device change.
type DeviceEvent struct {
	Type      string         `json:"type"`
	Action    string         `json:"action"`
	DeviceID  string         `json:"deviceId"`
	Device    *device.Device `json:"device"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewDeviceEvent builds the event for change at time at.
func NewDeviceEvent(change device.Change, at time.Time) DeviceEvent {
	return DeviceEvent{
		Type:      EventDeviceChanged,
		Action:    change.Action,
		DeviceID:  change.Device.ID,
		Device:    change.Device,
		Timestamp: at.UTC(),
	}
}

// Publisher sends a payload to an MQTT topic. *mqtt.Client implements it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// eventQueueSize is the buffer of the outbound event queue.
const eventQueueSize = 256

// EventPublisher republishes device changes to farmra/events/device/{id}.
// It implements device.Observer.
//
// DeviceChanged only enqueues; Run publishes from one goroutine, so an
// observer call never waits on the broker. Events are published in the
// order they were enqueued. A full queue drops the event with a warning.
type EventPublisher struct {
	publisher Publisher
	qos       byte
	logger    Logger
	now       func() time.Time
	queue     chan DeviceEvent
	done      chan struct{}
	once      sync.Once
	dropped   atomic.Int64
}

// NewEventPublisher creates an EventPublisher sending at the given QoS.
// Call Run to start publishing.
func NewEventPublisher(p Publisher, qos byte, logger Logger) *EventPublisher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &EventPublisher{
		publisher: p,
		qos:       qos,
		logger:    logger,
		now:       time.Now,
		queue:     make(chan DeviceEvent, eventQueueSize),
		done:      make(chan struct{}),
	}
}

// DeviceChanged enqueues the change. It never blocks.
func (e *EventPublisher) DeviceChanged(_ context.Context, change device.Change) {
	if change.Device == nil {
		return
	}
	event := NewDeviceEvent(change, e.now())
	select {
	case e.queue <- event:
	default:
		e.dropped.Add(1)
		e.logger.Warn("device event queue full, dropping event", "device_id", event.DeviceID, "action", event.Action)
	}
}

// Run publishes queued events until ctx is cancelled, then drains what is
// left in the queue and returns.
func (e *EventPublisher) Run(ctx context.Context) {
	defer e.once.Do(func() { close(e.done) })

	for {
		select {
		case event := <-e.queue:
			e.publish(event)
		case <-ctx.Done():
			for {
				select {
				case event := <-e.queue:
					e.publish(event)
				default:
					return
				}
			}
		}
	}
}

// Done is closed once Run has returned.
func (e *EventPublisher) Done() <-chan struct{} { return e.done }

// Dropped returns the number of events discarded because the queue was full.
func (e *EventPublisher) Dropped() int64 { return e.dropped.Load() }

// publish sends one event. A failure is logged; the device write it
// describes has already been persisted.
func (e *EventPublisher) publish(event DeviceEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		e.logger.Warn("device event encode failed", "device_id", event.DeviceID, "error", err)
		return
	}
	topic := mqtt.Topics{}.DeviceEvent(event.DeviceID)
	if err := e.publisher.Publish(topic, payload, e.qos, false); err != nil {
		e.logger.Warn("device event publish failed", "topic", topic, "error", err)
	}
}

var _ device.Observer = (*EventPublisher)(nil)
