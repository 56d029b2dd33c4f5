package device

import (
	"fmt"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation"
)

// Validation constants.
const (
	maxIDLength   = 64
	maxNameLength = 100
)

// idPattern keeps ids safe to embed in URL paths and MQTT topics.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]*$`)

// ValidateDevice checks a device record: identity, coordinates, status,
// telemetry ranges and the lifecycle shape. The returned error wraps
// ErrInvalidDevice, or ErrInvalidState for a mixed lifecycle shape.
func ValidateDevice(d *Device) error {
	if d == nil {
		return invalidDevice("device is nil")
	}

	err := validation.ValidateStruct(d,
		validation.Field(&d.ID,
			validation.Required,
			validation.Length(1, maxIDLength),
			validation.Match(idPattern).Error("may contain only letters, digits, '_', '.', ':' and '-'"),
		),
		validation.Field(&d.Name, validation.Required, validation.Length(1, maxNameLength)),
		validation.Field(&d.Latitude, validation.Min(-90.0), validation.Max(90.0)),
		validation.Field(&d.Longitude, validation.Min(-180.0), validation.Max(180.0)),
		validation.Field(&d.Status,
			validation.Required,
			validation.In(StatusOnline, StatusWeak, StatusOffline, StatusDeactivated),
		),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDevice, err)
	}
	if err := ValidateTelemetry(d.Telemetry); err != nil {
		return err
	}
	return d.CheckLifecycle()
}

// ValidateRegistration checks a device submitted for registration. A new
// device must be active and carry no snapshot.
func ValidateRegistration(d *Device) error {
	if d != nil && d.Status.Valid() && !d.Status.Live() {
		return invalidDevice("a new device must be online, weak or offline")
	}
	return ValidateDevice(d)
}

// ValidateTelemetry checks the physical ranges of the set readings.
func ValidateTelemetry(t Telemetry) error {
	err := validation.ValidateStruct(&t,
		validation.Field(&t.SignalStrength, validation.Min(-200.0), validation.Max(50.0)),
		validation.Field(&t.PacketLoss, validation.Min(0.0), validation.Max(100.0)),
		validation.Field(&t.BatteryLevel, validation.Min(0.0), validation.Max(100.0)),
		validation.Field(&t.Temperature, validation.Min(-60.0), validation.Max(100.0)),
		validation.Field(&t.Moisture, validation.Min(0.0), validation.Max(100.0)),
		validation.Field(&t.Light, validation.Min(0.0)),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDevice, err)
	}
	return nil
}

// ValidateStatusFilter checks a status used to filter listings.
func ValidateStatusFilter(s Status) error {
	if !s.Valid() {
		return invalidDevice("unknown status %q", s)
	}
	return nil
}

func invalidDevice(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidDevice, fmt.Sprintf(format, args...))
}

func invalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}
