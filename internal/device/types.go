package device

import (
	"slices"
	"time"
)

// Status is the reported condition of a sensor node.
type Status string

// Known statuses. StatusDeactivated is only ever set by Deactivate.
const (
	StatusOnline      Status = "online"
	StatusWeak        Status = "weak"
	StatusOffline     Status = "offline"
	StatusDeactivated Status = "deactivated"
)

// AllStatuses returns every known status.
func AllStatuses() []Status {
	return []Status{StatusOnline, StatusWeak, StatusOffline, StatusDeactivated}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return slices.Contains(AllStatuses(), s)
}

// Live reports whether s is one of the statuses of an active device.
func (s Status) Live() bool {
	return s == StatusOnline || s == StatusWeak || s == StatusOffline
}

// Telemetry holds the live readings of a device. A nil field is unset.
//
// Units: signal strength in dBm, packet loss and battery level in percent,
// temperature in °C, moisture in percent volumetric water content, light in lux.
type Telemetry struct {
	SignalStrength *float64 `json:"signalStrength,omitempty"`
	PacketLoss     *float64 `json:"packetLoss,omitempty"`
	BatteryLevel   *float64 `json:"batteryLevel,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	Moisture       *float64 `json:"moisture,omitempty"`
	Light          *float64 `json:"light,omitempty"`
}

// IsEmpty reports whether every telemetry field is unset.
func (t Telemetry) IsEmpty() bool {
	return t.SignalStrength == nil && t.PacketLoss == nil && t.BatteryLevel == nil &&
		t.Temperature == nil && t.Moisture == nil && t.Light == nil
}

// Clone returns a copy that shares no pointers with t.
func (t Telemetry) Clone() Telemetry {
	return Telemetry{
		SignalStrength: clonePtr(t.SignalStrength),
		PacketLoss:     clonePtr(t.PacketLoss),
		BatteryLevel:   clonePtr(t.BatteryLevel),
		Temperature:    clonePtr(t.Temperature),
		Moisture:       clonePtr(t.Moisture),
		Light:          clonePtr(t.Light),
	}
}

// Merge returns t with every field that is set in other overwritten.
func (t Telemetry) Merge(other Telemetry) Telemetry {
	out := t.Clone()
	set := func(dst **float64, src *float64) {
		if src != nil {
			*dst = clonePtr(src)
		}
	}
	set(&out.SignalStrength, other.SignalStrength)
	set(&out.PacketLoss, other.PacketLoss)
	set(&out.BatteryLevel, other.BatteryLevel)
	set(&out.Temperature, other.Temperature)
	set(&out.Moisture, other.Moisture)
	set(&out.Light, other.Light)
	return out
}

// Snapshot is the status and telemetry captured when a device was deactivated.
type Snapshot struct {
	Status Status `json:"status"`
	Telemetry
}

// Device is a registered sensor node.
//
// A device is either active (status online, weak or offline, Snapshot nil)
// or deactivated (status deactivated, Telemetry empty, Snapshot set).
type Device struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Status    Status  `json:"status"`

	Telemetry

	CustomerID   *string `json:"customerId,omitempty"`
	TechnicianID *string `json:"technicianId,omitempty"`

	Snapshot *Snapshot `json:"savedSnapshot,omitempty"`

	LastReadingAt *time.Time `json:"lastReadingAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// DeepCopy creates a complete independent copy of the Device.
// The registry cache relies on this to keep cached records isolated.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d
	cpy.Telemetry = d.Telemetry.Clone()
	cpy.CustomerID = clonePtr(d.CustomerID)
	cpy.TechnicianID = clonePtr(d.TechnicianID)
	cpy.LastReadingAt = clonePtr(d.LastReadingAt)
	if d.Snapshot != nil {
		cpy.Snapshot = &Snapshot{Status: d.Snapshot.Status, Telemetry: d.Snapshot.Telemetry.Clone()}
	}
	return &cpy
}

// IsDeactivated reports whether the device is in the deactivated state.
func (d *Device) IsDeactivated() bool {
	return d.Status == StatusDeactivated
}

// CheckLifecycle verifies that the device is cleanly in one lifecycle
// state. It returns an error wrapping ErrInvalidState otherwise.
func (d *Device) CheckLifecycle() error {
	switch {
	case d.IsDeactivated():
		if d.Snapshot == nil {
			return invalidState("deactivated device has no snapshot")
		}
		if !d.Telemetry.IsEmpty() {
			return invalidState("deactivated device has live telemetry")
		}
		if !d.Snapshot.Status.Live() {
			return invalidState("snapshot status %q is not a live status", d.Snapshot.Status)
		}
	case d.Snapshot != nil:
		return invalidState("active device holds a snapshot")
	}
	return nil
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
