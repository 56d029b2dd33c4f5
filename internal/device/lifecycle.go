package device

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WeakSignalThreshold is the signal strength in dBm below which a device
// reporting a reading is marked weak.
const WeakSignalThreshold = -90.0

// Change actions passed to observers.
const (
	ActionCreate     = "create"
	ActionUpdate     = "update"
	ActionAssign     = "assign"
	ActionUnassign   = "unassign"
	ActionDeactivate = "deactivate"
	ActionActivate   = "activate"
	ActionDelete     = "delete"
	ActionReading    = "reading"
)

// Change describes a persisted device mutation. For ActionDelete the
// device is the last record before removal.
type Change struct {
	Action string
	Device *Device
}

// Observer is notified after every successful device write. It runs after
// the device lock is released, so a slow observer does not hold up other
// writes to the same device. Changes to one device from concurrent writers
// may arrive out of order; Device.UpdatedAt orders them.
type Observer interface {
	DeviceChanged(ctx context.Context, change Change)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, change Change)

// DeviceChanged calls f.
func (f ObserverFunc) DeviceChanged(ctx context.Context, change Change) { f(ctx, change) }

// PrincipalResolver reports whether a principal id exists.
type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, id string) (bool, error)
}

// Manager enforces the device lifecycle on top of the Registry.
//
// Every read-modify-write on a device runs under that device's mutex, so
// concurrent mutations of one id are serialised while different ids
// proceed in parallel.
type Manager struct {
	registry   *Registry
	principals PrincipalResolver
	locks      *keyedMutex
	observers  []Observer
	logger     Logger
	now        func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the manager's logger.
func WithManagerLogger(l Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithManagerClock overrides the clock used for timestamps.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithObserver registers an observer of device changes.
func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) { m.observers = append(m.observers, o) }
}

// NewManager creates a lifecycle manager over registry. principals
// resolves assignment targets.
func NewManager(registry *Registry, principals PrincipalResolver, opts ...ManagerOption) *Manager {
	m := &Manager{
		registry:   registry,
		principals: principals,
		locks:      newKeyedMutex(),
		logger:     noopLogger{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddObserver registers an observer after construction.
// It must be called before the manager serves requests.
func (m *Manager) AddObserver(o Observer) {
	m.observers = append(m.observers, o)
}

// Registry returns the underlying registry.
func (m *Manager) Registry() *Registry { return m.registry }

// Register creates a new device. The status defaults to offline; any
// snapshot or reading timestamp on the input is discarded.
func (m *Manager) Register(ctx context.Context, d *Device) (*Device, error) {
	if d == nil {
		return nil, invalidDevice("device is nil")
	}

	dev, err := m.create(ctx, d)
	if err != nil {
		return nil, err
	}

	m.notify(ctx, ActionCreate, dev)
	return dev.DeepCopy(), nil
}

func (m *Manager) create(ctx context.Context, d *Device) (*Device, error) {
	unlock := m.locks.Lock(d.ID)
	defer unlock()

	dev := d.DeepCopy()
	if dev.Status == "" {
		dev.Status = StatusOffline
	}
	dev.Snapshot = nil
	dev.LastReadingAt = nil
	now := m.now().UTC()
	dev.CreatedAt = now
	dev.UpdatedAt = now

	if err := ValidateRegistration(dev); err != nil {
		return nil, err
	}
	if err := m.resolve(ctx, dev.CustomerID, "customer"); err != nil {
		return nil, err
	}
	if err := m.resolve(ctx, dev.TechnicianID, "technician"); err != nil {
		return nil, err
	}

	if err := m.registry.CreateDevice(ctx, dev); err != nil {
		return nil, err
	}
	return dev, nil
}

// Get returns the device with id.
func (m *Manager) Get(ctx context.Context, id string) (*Device, error) {
	return m.registry.GetDevice(ctx, id)
}

// List returns every device.
func (m *Manager) List(ctx context.Context) ([]Device, error) {
	return m.registry.ListDevices(ctx)
}

// ListByStatus returns devices with status.
func (m *Manager) ListByStatus(ctx context.Context, status Status) ([]Device, error) {
	if err := ValidateStatusFilter(status); err != nil {
		return nil, err
	}
	return m.registry.ListByStatus(ctx, status)
}

// ListByCustomer returns devices owned by customerID.
func (m *Manager) ListByCustomer(ctx context.Context, customerID string) ([]Device, error) {
	return m.registry.ListByCustomer(ctx, customerID)
}

// ListByTechnician returns devices assigned to technicianID.
func (m *Manager) ListByTechnician(ctx context.Context, technicianID string) ([]Device, error) {
	return m.registry.ListByTechnician(ctx, technicianID)
}

// Update applies a partial update. An empty patch returns the device
// unchanged.
func (m *Manager) Update(ctx context.Context, id string, patch Patch) (*Device, error) {
	return m.mutate(ctx, id, ActionUpdate, func(d *Device) (bool, error) {
		if patch.IsEmpty() {
			return false, nil
		}
		return true, patch.Apply(d)
	})
}

// Assign sets the owning customer and/or the assigned technician. A nil
// id leaves that reference unchanged. Each supplied id must name an
// existing principal.
func (m *Manager) Assign(ctx context.Context, id string, customerID, technicianID *string) (*Device, error) {
	if err := m.resolve(ctx, customerID, "customer"); err != nil {
		return nil, err
	}
	if err := m.resolve(ctx, technicianID, "technician"); err != nil {
		return nil, err
	}

	return m.mutate(ctx, id, ActionAssign, func(d *Device) (bool, error) {
		if customerID == nil && technicianID == nil {
			return false, nil
		}
		if customerID != nil {
			d.CustomerID = clonePtr(customerID)
		}
		if technicianID != nil {
			d.TechnicianID = clonePtr(technicianID)
		}
		return true, nil
	})
}

// ClearCustomer removes the owning customer reference.
func (m *Manager) ClearCustomer(ctx context.Context, id string) (*Device, error) {
	return m.mutate(ctx, id, ActionUnassign, func(d *Device) (bool, error) {
		if d.CustomerID == nil {
			return false, nil
		}
		d.CustomerID = nil
		return true, nil
	})
}

// ClearTechnician removes the assigned technician reference.
func (m *Manager) ClearTechnician(ctx context.Context, id string) (*Device, error) {
	return m.mutate(ctx, id, ActionUnassign, func(d *Device) (bool, error) {
		if d.TechnicianID == nil {
			return false, nil
		}
		d.TechnicianID = nil
		return true, nil
	})
}

// Deactivate moves the live status and telemetry into the snapshot and
// clears them. Deactivating a deactivated device returns it unchanged.
func (m *Manager) Deactivate(ctx context.Context, id string) (*Device, error) {
	return m.mutate(ctx, id, ActionDeactivate, func(d *Device) (bool, error) {
		if d.IsDeactivated() {
			return false, nil
		}
		d.Snapshot = &Snapshot{Status: d.Status, Telemetry: d.Telemetry.Clone()}
		d.Status = StatusDeactivated
		d.Telemetry = Telemetry{}
		return true, nil
	})
}

// Activate restores the snapshot taken by Deactivate and clears it.
// A device without a snapshot fails with ErrInvalidState and is not
// modified.
func (m *Manager) Activate(ctx context.Context, id string) (*Device, error) {
	return m.mutate(ctx, id, ActionActivate, func(d *Device) (bool, error) {
		if d.Snapshot == nil {
			return false, invalidState("device %s has no saved snapshot to restore", d.ID)
		}
		d.Status = d.Snapshot.Status
		d.Telemetry = d.Snapshot.Telemetry.Clone()
		d.Snapshot = nil
		return true, nil
	})
}

// ApplyReading merges a sensor reading into the live telemetry, records
// its time and derives the status from the signal strength. Readings for
// a deactivated device fail with ErrInvalidState.
func (m *Manager) ApplyReading(ctx context.Context, id string, reading Telemetry, at time.Time) (*Device, error) {
	if reading.IsEmpty() {
		return nil, invalidDevice("reading carries no values")
	}
	if err := ValidateTelemetry(reading); err != nil {
		return nil, err
	}

	return m.mutate(ctx, id, ActionReading, func(d *Device) (bool, error) {
		if d.IsDeactivated() {
			return false, invalidState("device %s is deactivated; reading rejected", d.ID)
		}
		d.Telemetry = d.Telemetry.Merge(reading)
		ts := at.UTC()
		d.LastReadingAt = &ts
		d.Status = StatusOnline
		if d.SignalStrength != nil && *d.SignalStrength < WeakSignalThreshold {
			d.Status = StatusWeak
		}
		return true, nil
	})
}

// Delete removes the device.
func (m *Manager) Delete(ctx context.Context, id string) error {
	last, err := m.remove(ctx, id)
	if err != nil {
		return err
	}

	m.notify(ctx, ActionDelete, last)
	return nil
}

func (m *Manager) remove(ctx context.Context, id string) (*Device, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	last, err := m.registry.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.registry.DeleteDevice(ctx, id); err != nil {
		return nil, err
	}
	return last, nil
}

// mutate runs fn on a copy of the device under the device's lock and
// persists the full record when fn reports a change. Observers are
// notified after the lock is released.
func (m *Manager) mutate(ctx context.Context, id, action string, fn func(*Device) (bool, error)) (*Device, error) {
	d, changed, err := m.apply(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	if !changed {
		return d, nil
	}

	m.logger.Info("device "+action, "id", d.ID, "status", d.Status)
	m.notify(ctx, action, d)
	return d.DeepCopy(), nil
}

func (m *Manager) apply(ctx context.Context, id string, fn func(*Device) (bool, error)) (*Device, bool, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	d, err := m.registry.GetDevice(ctx, id)
	if err != nil {
		return nil, false, err
	}

	changed, err := fn(d)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return d, false, nil
	}

	d.UpdatedAt = m.now().UTC()
	if err := m.registry.UpdateDevice(ctx, d); err != nil {
		return nil, false, err
	}
	return d, true, nil
}

// resolve checks that a supplied principal id exists.
func (m *Manager) resolve(ctx context.Context, id *string, kind string) error {
	if id == nil {
		return nil
	}
	if *id == "" {
		return invalidDevice("%s id is empty", kind)
	}
	if m.principals == nil {
		return errors.New("device: no principal resolver configured")
	}

	ok, err := m.principals.ResolvePrincipal(ctx, *id)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", kind, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s %q", ErrPrincipalNotFound, kind, *id)
	}
	return nil
}

func (m *Manager) notify(ctx context.Context, action string, d *Device) {
	for _, o := range m.observers {
		o.DeviceChanged(ctx, Change{Action: action, Device: d.DeepCopy()})
	}
}
