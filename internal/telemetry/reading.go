package telemetry

import (
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/nerrad567/farmra-core/internal/device"
)

// ErrInvalidReading is returned when a reading cannot be decoded or fails
// validation before it reaches the device.
var ErrInvalidReading = errors.New("telemetry: invalid reading")

// maxClockSkew bounds how far in the future a node's timestamp may be.
const maxClockSkew = 5 * time.Minute

// History field names written per reading.
const (
	FieldSignalStrength  = "signal_strength"
	FieldPacketLoss      = "packet_loss"
	FieldBatteryLevel    = "battery_level"
	FieldSoilTemperature = "soil_temperature"
	FieldSoilMoisture    = "soil_moisture"
	FieldLightLevel      = "light_level"
)

// Reading is one upload from a sensor node. Absent fields leave the
// device's current value untouched.
type Reading struct {
	DeviceID        string    `json:"deviceId"`
	Timestamp       time.Time `json:"readingTimestamp"`
	SignalStrength  *float64  `json:"signalStrength,omitempty"`
	PacketLoss      *float64  `json:"packetLoss,omitempty"`
	BatteryLevel    *float64  `json:"batteryLevel,omitempty"`
	SoilTemperature *float64  `json:"soilTemperature,omitempty"`
	SoilMoisture    *float64  `json:"soilMoisture,omitempty"`
	LightLevel      *float64  `json:"lightLevel,omitempty"`
}

// Validate checks the reading against now. Ranges are checked again by
// the lifecycle manager; here only the shape of the upload is enforced.
func (r Reading) Validate(now time.Time) error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.DeviceID, validation.Required),
		validation.Field(&r.Timestamp, validation.By(func(v interface{}) error {
			ts, _ := v.(time.Time)
			if !ts.IsZero() && ts.After(now.Add(maxClockSkew)) {
				return errors.New("must not be in the future")
			}
			return nil
		})),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidReading, err)
	}
	if r.Telemetry().IsEmpty() {
		return fmt.Errorf("%w: reading carries no values", ErrInvalidReading)
	}
	return nil
}

// Telemetry maps the upload onto the device's telemetry fields.
func (r Reading) Telemetry() device.Telemetry {
	return device.Telemetry{
		SignalStrength: r.SignalStrength,
		PacketLoss:     r.PacketLoss,
		BatteryLevel:   r.BatteryLevel,
		Temperature:    r.SoilTemperature,
		Moisture:       r.SoilMoisture,
		Light:          r.LightLevel,
	}
}

// historyFields returns the reported values keyed by history field name.
func (r Reading) historyFields() map[string]float64 {
	fields := make(map[string]float64, 6)
	for name, v := range map[string]*float64{
		FieldSignalStrength:  r.SignalStrength,
		FieldPacketLoss:      r.PacketLoss,
		FieldBatteryLevel:    r.BatteryLevel,
		FieldSoilTemperature: r.SoilTemperature,
		FieldSoilMoisture:    r.SoilMoisture,
		FieldLightLevel:      r.LightLevel,
	} {
		if v != nil {
			fields[name] = *v
		}
	}
	return fields
}
