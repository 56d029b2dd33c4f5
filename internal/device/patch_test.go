package device

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestPatch_UnmarshalPresence(t *testing.T) {
	var p Patch
	body := `{"name":"North","latitude":0,"temperature":null,"moisture":12.5}`
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if !p.Name.HasValue() || p.Name.Value != "North" {
		t.Errorf("Name = %+v", p.Name)
	}
	if !p.Latitude.HasValue() || p.Latitude.Value != 0 {
		t.Errorf("Latitude = %+v, want present zero", p.Latitude)
	}
	if p.Longitude.Set {
		t.Error("absent longitude should not be Set")
	}
	if !p.Temperature.Set || !p.Temperature.Null {
		t.Errorf("Temperature = %+v, want explicit null", p.Temperature)
	}
	if !p.Moisture.HasValue() || p.Moisture.Value != 12.5 {
		t.Errorf("Moisture = %+v", p.Moisture)
	}
	if p.Status.Set || p.Light.Set {
		t.Error("absent fields should not be Set")
	}
}

func TestPatch_UnmarshalTypeMismatch(t *testing.T) {
	var p Patch
	if err := json.Unmarshal([]byte(`{"latitude":"north"}`), &p); err == nil {
		t.Error("Unmarshal() should reject a string coordinate")
	}
}

func TestPatch_Apply(t *testing.T) {
	tests := []struct {
		name    string
		patch   Patch
		wantErr error
		check   func(t *testing.T, d *Device)
	}{
		{
			name:  "sets only present fields",
			patch: Patch{Name: Some("Renamed"), Light: Some(500.0)},
			check: func(t *testing.T, d *Device) {
				if d.Name != "Renamed" || *d.Light != 500 || *d.Temperature != 22 {
					t.Errorf("Apply() = %+v", d)
				}
			},
		},
		{
			name:  "zero coordinates are applied",
			patch: Patch{Latitude: Some(0.0), Longitude: Some(0.0)},
			check: func(t *testing.T, d *Device) {
				if d.Latitude != 0 || d.Longitude != 0 {
					t.Errorf("coordinates = %v,%v, want 0,0", d.Latitude, d.Longitude)
				}
			},
		},
		{
			name:  "null clears telemetry",
			patch: Patch{SignalStrength: Null[float64](), BatteryLevel: Null[float64]()},
			check: func(t *testing.T, d *Device) {
				if d.SignalStrength != nil || d.BatteryLevel != nil || d.PacketLoss == nil {
					t.Errorf("telemetry = %+v", d.Telemetry)
				}
			},
		},
		{
			name:  "status change",
			patch: Patch{Status: Some(StatusOffline)},
			check: func(t *testing.T, d *Device) {
				if d.Status != StatusOffline {
					t.Errorf("Status = %q", d.Status)
				}
			},
		},
		{name: "null name", patch: Patch{Name: Null[string]()}, wantErr: ErrInvalidDevice},
		{name: "null status", patch: Patch{Status: Null[Status]()}, wantErr: ErrInvalidDevice},
		{name: "null latitude", patch: Patch{Latitude: Null[float64]()}, wantErr: ErrInvalidDevice},
		{name: "empty name", patch: Patch{Name: Some("")}, wantErr: ErrInvalidDevice},
		{name: "unknown status", patch: Patch{Status: Some(Status("asleep"))}, wantErr: ErrInvalidDevice},
		{name: "deactivated status", patch: Patch{Status: Some(StatusDeactivated)}, wantErr: ErrInvalidState},
		{name: "out of range reading", patch: Patch{PacketLoss: Some(150.0)}, wantErr: ErrInvalidDevice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDevice("S1")
			before := d.DeepCopy()

			err := tt.patch.Apply(d)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Apply() error = %v, want %v", err, tt.wantErr)
				}
				if !reflect.DeepEqual(d, before) {
					t.Error("failed Apply() modified the device")
				}
				return
			}
			if err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			tt.check(t, d)
		})
	}
}

func TestPatch_ApplyToDeactivated(t *testing.T) {
	d := testDevice("S1")
	d.Snapshot = &Snapshot{Status: d.Status, Telemetry: d.Telemetry.Clone()}
	d.Status = StatusDeactivated
	d.Telemetry = Telemetry{}

	if err := (&Patch{Temperature: Some(3.0)}).Apply(d); !errors.Is(err, ErrInvalidState) {
		t.Errorf("telemetry patch error = %v, want ErrInvalidState", err)
	}
	if err := (&Patch{Status: Some(StatusOnline)}).Apply(d); !errors.Is(err, ErrInvalidState) {
		t.Errorf("status patch error = %v, want ErrInvalidState", err)
	}
	if err := (&Patch{Name: Some("Stored"), Latitude: Some(10.0)}).Apply(d); err != nil {
		t.Errorf("name/coordinate patch error = %v", err)
	}
	if d.Name != "Stored" || d.Snapshot == nil {
		t.Errorf("Apply() = %+v", d)
	}
}

func TestPatch_IsEmpty(t *testing.T) {
	if !(&Patch{}).IsEmpty() {
		t.Error("zero patch should be empty")
	}
	if (&Patch{Moisture: Null[float64]()}).IsEmpty() {
		t.Error("patch with a null field is not empty")
	}
}
