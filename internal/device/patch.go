package device

// Patch is a partial device update. Only fields that are Set are applied.
//
// A null telemetry field clears that reading. Null is rejected for name,
// status and coordinates, which always hold a value.
type Patch struct {
	Name      Optional[string]  `json:"name"`
	Status    Optional[Status]  `json:"status"`
	Latitude  Optional[float64] `json:"latitude"`
	Longitude Optional[float64] `json:"longitude"`

	SignalStrength Optional[float64] `json:"signalStrength"`
	PacketLoss     Optional[float64] `json:"packetLoss"`
	BatteryLevel   Optional[float64] `json:"batteryLevel"`
	Temperature    Optional[float64] `json:"temperature"`
	Moisture       Optional[float64] `json:"moisture"`
	Light          Optional[float64] `json:"light"`
}

// IsEmpty reports whether the patch sets nothing.
func (p *Patch) IsEmpty() bool {
	return !p.Name.Set && !p.Status.Set && !p.Latitude.Set && !p.Longitude.Set && !p.touchesLive()
}

// touchesLive reports whether the patch sets any telemetry field.
func (p *Patch) touchesLive() bool {
	return p.SignalStrength.Set || p.PacketLoss.Set || p.BatteryLevel.Set ||
		p.Temperature.Set || p.Moisture.Set || p.Light.Set
}

// Apply merges the patch into d. Either the whole patch is applied or,
// on error, d is left untouched.
//
// A deactivated device accepts only name and coordinate changes.
func (p *Patch) Apply(d *Device) error {
	if err := p.check(d); err != nil {
		return err
	}

	out := d.DeepCopy()
	if p.Name.Set {
		out.Name = p.Name.Value
	}
	if p.Status.Set {
		out.Status = p.Status.Value
	}
	if p.Latitude.Set {
		out.Latitude = p.Latitude.Value
	}
	if p.Longitude.Set {
		out.Longitude = p.Longitude.Value
	}

	applyReading(&out.SignalStrength, p.SignalStrength)
	applyReading(&out.PacketLoss, p.PacketLoss)
	applyReading(&out.BatteryLevel, p.BatteryLevel)
	applyReading(&out.Temperature, p.Temperature)
	applyReading(&out.Moisture, p.Moisture)
	applyReading(&out.Light, p.Light)

	if err := ValidateDevice(out); err != nil {
		return err
	}

	*d = *out
	return nil
}

func (p *Patch) check(d *Device) error {
	switch {
	case p.Name.Null:
		return invalidDevice("name cannot be null")
	case p.Status.Null:
		return invalidDevice("status cannot be null")
	case p.Latitude.Null || p.Longitude.Null:
		return invalidDevice("coordinates cannot be null")
	}

	if p.Status.HasValue() {
		if p.Status.Value == StatusDeactivated {
			return invalidState("status %q is set by deactivation only", StatusDeactivated)
		}
		if !p.Status.Value.Live() {
			return invalidDevice("unknown status %q", p.Status.Value)
		}
	}

	if d.IsDeactivated() && (p.Status.Set || p.touchesLive()) {
		return invalidState("device %s is deactivated; activate it before changing status or telemetry", d.ID)
	}
	return nil
}

func applyReading(dst **float64, o Optional[float64]) {
	switch {
	case !o.Set:
	case o.Null:
		*dst = nil
	default:
		v := o.Value
		*dst = &v
	}
}
