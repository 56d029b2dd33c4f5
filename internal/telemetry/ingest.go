package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/farmra-core/internal/device"
	"github.com/nerrad567/farmra-core/internal/infrastructure/mqtt"
)

// messageTimeout bounds the handling of one MQTT message.
const messageTimeout = 5 * time.Second

// Applier applies a reading to a device. *device.Manager implements it.
type Applier interface {
	ApplyReading(ctx context.Context, id string, reading device.Telemetry, at time.Time) (*device.Device, error)
}

// HistoryWriter records accepted readings. *influxdb.Client implements it.
type HistoryWriter interface {
	WriteReading(deviceID string, fields map[string]float64, at time.Time)
}

// Subscriber registers MQTT message handlers. *mqtt.Client implements it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Logger is the logging surface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Ingestor validates readings and applies them to devices.
type Ingestor struct {
	applier Applier
	history HistoryWriter
	logger  Logger
	now     func() time.Time
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithHistory records every accepted reading to w.
func WithHistory(w HistoryWriter) Option {
	return func(i *Ingestor) { i.history = w }
}

// WithLogger sets the logger for rejected readings.
func WithLogger(l Logger) Option {
	return func(i *Ingestor) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithClock overrides the time source used for validation and for
// readings that carry no timestamp.
func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) { i.now = now }
}

// NewIngestor creates an Ingestor applying readings through applier.
func NewIngestor(applier Applier, opts ...Option) *Ingestor {
	i := &Ingestor{
		applier: applier,
		logger:  noopLogger{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest validates r, applies it to its device and records it to history.
// It returns the updated device. Every rejection is returned to the caller.
func (i *Ingestor) Ingest(ctx context.Context, r Reading) (*device.Device, error) {
	now := i.now()
	if err := r.Validate(now); err != nil {
		i.logger.Warn("reading rejected", "device_id", r.DeviceID, "error", err)
		return nil, err
	}

	at := r.Timestamp
	if at.IsZero() {
		at = now
	}

	d, err := i.applier.ApplyReading(ctx, r.DeviceID, r.Telemetry(), at)
	if err != nil {
		i.logger.Warn("reading rejected", "device_id", r.DeviceID, "error", err)
		return nil, err
	}

	if i.history != nil {
		i.history.WriteReading(d.ID, r.historyFields(), at.UTC())
	}
	i.logger.Debug("reading applied", "device_id", d.ID, "status", d.Status)
	return d, nil
}

// HandleMessage decodes an MQTT telemetry message and ingests it. The
// device id comes from the topic; a payload naming a different device is
// rejected.
func (i *Ingestor) HandleMessage(prefix, topic string, payload []byte) error {
	id, ok := mqtt.DeviceIDFromTelemetryTopic(prefix, topic)
	if !ok {
		return fmt.Errorf("%w: unexpected topic %q", ErrInvalidReading, topic)
	}

	r, err := DecodeReading(payload)
	if err != nil {
		return err
	}
	switch {
	case r.DeviceID == "":
		r.DeviceID = id
	case r.DeviceID != id:
		return fmt.Errorf("%w: payload device %q does not match topic device %q", ErrInvalidReading, r.DeviceID, id)
	}

	ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
	defer cancel()

	_, err = i.Ingest(ctx, r)
	return err
}

// Subscribe registers the ingest handler for every device under prefix.
func (i *Ingestor) Subscribe(sub Subscriber, prefix string, qos byte) error {
	topic := mqtt.Topics{}.AllTelemetry(prefix)
	if err := sub.Subscribe(topic, qos, func(topic string, payload []byte) error {
		return i.HandleMessage(prefix, topic, payload)
	}); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	return nil
}

// DecodeReading strictly decodes a JSON reading.
func DecodeReading(payload []byte) (Reading, error) {
	var r Reading
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&r); err != nil {
		return Reading{}, fmt.Errorf("%w: %w", ErrInvalidReading, err)
	}
	return r, nil
}
