package device

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
)

// Logger defines the logging interface used by the Registry and Manager.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides device storage with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The cache is populated on startup via RefreshCache() and replaced
// record by record after each successful write, so a reader sees either
// the previous or the new full record, never a mix.
//
// All public methods are thread-safe. Lifecycle rules live in Manager;
// the Registry only validates record shape.
type Registry struct {
	repo    Repository
	cache   map[string]*Device // Cached devices by ID
	loaded  bool               // cache holds every device
	writes  uint64             // bumped by every cache write
	cacheMu sync.RWMutex       // Protects cache, loaded and writes
	logger  Logger
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.writes++
	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		d := devices[i]
		r.cache[d.ID] = d.DeepCopy()
	}
	r.loaded = true

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	loaded := r.loaded
	writes := r.writes
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}
	if loaded {
		return nil, ErrDeviceNotFound
	}

	device, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// A write since the read above may have replaced or removed the record.
	r.cacheMu.Lock()
	if _, exists := r.cache[id]; !exists && r.writes == writes {
		r.cache[id] = device.DeepCopy()
	}
	r.cacheMu.Unlock()

	return device, nil
}

// ListDevices retrieves all devices ordered by ID.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	if devices, ok := r.filterCache(func(*Device) bool { return true }); ok {
		return devices, nil
	}
	return r.repo.List(ctx)
}

// ListByStatus retrieves all devices with a status.
func (r *Registry) ListByStatus(ctx context.Context, status Status) ([]Device, error) {
	if devices, ok := r.filterCache(func(d *Device) bool { return d.Status == status }); ok {
		return devices, nil
	}
	return r.repo.ListByStatus(ctx, status)
}

// ListByCustomer retrieves all devices owned by a customer.
func (r *Registry) ListByCustomer(ctx context.Context, customerID string) ([]Device, error) {
	if devices, ok := r.filterCache(func(d *Device) bool {
		return d.CustomerID != nil && *d.CustomerID == customerID
	}); ok {
		return devices, nil
	}
	return r.repo.ListByCustomer(ctx, customerID)
}

// ListByTechnician retrieves all devices assigned to a technician.
func (r *Registry) ListByTechnician(ctx context.Context, technicianID string) ([]Device, error) {
	if devices, ok := r.filterCache(func(d *Device) bool {
		return d.TechnicianID != nil && *d.TechnicianID == technicianID
	}); ok {
		return devices, nil
	}
	return r.repo.ListByTechnician(ctx, technicianID)
}

// filterCache returns deep copies of matching cached devices ordered by
// ID. ok is false when the cache has not been fully loaded.
func (r *Registry) filterCache(match func(*Device) bool) ([]Device, bool) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	if !r.loaded {
		return nil, false
	}

	devices := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		if match(d) {
			devices = append(devices, *d.DeepCopy())
		}
	}
	slices.SortFunc(devices, func(a, b Device) int { return cmp.Compare(a.ID, b.ID) })
	return devices, true
}

// CreateDevice validates and persists a new device.
func (r *Registry) CreateDevice(ctx context.Context, device *Device) error {
	if err := ValidateDevice(device); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, device); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.writes++
	r.cache[device.ID] = device.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("device created", "id", device.ID, "name", device.Name)
	return nil
}

// UpdateDevice validates and persists the full device record.
func (r *Registry) UpdateDevice(ctx context.Context, device *Device) error {
	if err := ValidateDevice(device); err != nil {
		return err
	}

	if err := r.repo.Update(ctx, device); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.writes++
	r.cache[device.ID] = device.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Debug("device updated", "id", device.ID, "status", device.Status)
	return nil
}

// DeleteDevice removes a device.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.writes++
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "id", id)
	return nil
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int            `json:"totalDevices"`
	ByStatus     map[Status]int `json:"byStatus"`
	Unassigned   int            `json:"unassigned"`
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.cache),
		ByStatus:     make(map[Status]int),
	}
	for _, d := range r.cache {
		stats.ByStatus[d.Status]++
		if d.CustomerID == nil {
			stats.Unassigned++
		}
	}
	return stats
}
