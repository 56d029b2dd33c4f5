package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
//
// Create and Update write the complete record in a single statement.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices.
	List(ctx context.Context) ([]Device, error)

	// ListByStatus retrieves all devices with the given status.
	ListByStatus(ctx context.Context, status Status) ([]Device, error)

	// ListByCustomer retrieves all devices owned by a customer.
	ListByCustomer(ctx context.Context, customerID string) ([]Device, error)

	// ListByTechnician retrieves all devices assigned to a technician.
	ListByTechnician(ctx context.Context, technicianID string) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if a device with the same ID already exists.
	Create(ctx context.Context, device *Device) error

	// Update replaces an existing device record.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error

	// Delete removes a device by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error

	// Exists reports whether a device with the ID exists.
	Exists(ctx context.Context, id string) (bool, error)
}

const deviceColumns = `
	id, name, latitude, longitude, status,
	signal_strength, packet_loss, battery_level, temperature, moisture, light,
	customer_id, technician_id,
	snapshot_status, snapshot_signal_strength, snapshot_packet_loss, snapshot_battery_level,
	snapshot_temperature, snapshot_moisture, snapshot_light,
	last_reading_at, created_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection with migrations applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`

	device, err := scanDevice(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return device, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	return r.queryDevices(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY id`)
}

// ListByStatus retrieves all devices with the given status.
func (r *SQLiteRepository) ListByStatus(ctx context.Context, status Status) ([]Device, error) {
	return r.queryDevices(ctx, `SELECT `+deviceColumns+` FROM devices WHERE status = ? ORDER BY id`, string(status))
}

// ListByCustomer retrieves all devices owned by a customer.
func (r *SQLiteRepository) ListByCustomer(ctx context.Context, customerID string) ([]Device, error) {
	return r.queryDevices(ctx, `SELECT `+deviceColumns+` FROM devices WHERE customer_id = ? ORDER BY id`, customerID)
}

// ListByTechnician retrieves all devices assigned to a technician.
func (r *SQLiteRepository) ListByTechnician(ctx context.Context, technicianID string) ([]Device, error) {
	return r.queryDevices(ctx, `SELECT `+deviceColumns+` FROM devices WHERE technician_id = ? ORDER BY id`, technicianID)
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	if device.UpdatedAt.IsZero() {
		device.UpdatedAt = device.CreatedAt
	}

	query := `INSERT INTO devices (` + deviceColumns + `) VALUES (
		?, ?, ?, ?, ?,
		?, ?, ?, ?, ?, ?,
		?, ?,
		?, ?, ?, ?,
		?, ?, ?,
		?, ?, ?)`

	args := append([]any{device.ID}, rowValues(device)...)
	args = append(args, device.CreatedAt.UTC().Format(time.RFC3339Nano), device.UpdatedAt.UTC().Format(time.RFC3339Nano))

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update replaces an existing device record.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	if device.UpdatedAt.IsZero() {
		device.UpdatedAt = time.Now().UTC()
	}

	query := `
		UPDATE devices SET
			name = ?, latitude = ?, longitude = ?, status = ?,
			signal_strength = ?, packet_loss = ?, battery_level = ?,
			temperature = ?, moisture = ?, light = ?,
			customer_id = ?, technician_id = ?,
			snapshot_status = ?, snapshot_signal_strength = ?, snapshot_packet_loss = ?,
			snapshot_battery_level = ?, snapshot_temperature = ?, snapshot_moisture = ?,
			snapshot_light = ?,
			last_reading_at = ?, updated_at = ?
		WHERE id = ?`

	args := rowValues(device)
	args = append(args, device.UpdatedAt.UTC().Format(time.RFC3339Nano), device.ID)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// Exists checks if a device with the given ID exists.
func (r *SQLiteRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM devices WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking device exists: %w", err)
	}
	return count > 0, nil
}

// rowValues returns the column values from name through last_reading_at,
// in deviceColumns order.
func rowValues(d *Device) []any {
	var snap Snapshot
	var snapStatus sql.NullString
	if d.Snapshot != nil {
		snap = *d.Snapshot
		snapStatus = sql.NullString{String: string(snap.Status), Valid: true}
	}

	return []any{
		d.Name,
		d.Latitude,
		d.Longitude,
		string(d.Status),
		nullableFloat(d.SignalStrength),
		nullableFloat(d.PacketLoss),
		nullableFloat(d.BatteryLevel),
		nullableFloat(d.Temperature),
		nullableFloat(d.Moisture),
		nullableFloat(d.Light),
		nullableString(d.CustomerID),
		nullableString(d.TechnicianID),
		snapStatus,
		nullableFloat(snap.SignalStrength),
		nullableFloat(snap.PacketLoss),
		nullableFloat(snap.BatteryLevel),
		nullableFloat(snap.Temperature),
		nullableFloat(snap.Moisture),
		nullableFloat(snap.Light),
		nullableTime(d.LastReadingAt),
	}
}

// queryDevices executes a query and returns a slice of devices.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDevice scans a row or rows result into a Device.
func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var status string
	var live, saved [6]sql.NullFloat64
	var customerID, technicianID, snapStatus, lastReadingAt sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID, &d.Name, &d.Latitude, &d.Longitude, &status,
		&live[0], &live[1], &live[2], &live[3], &live[4], &live[5],
		&customerID, &technicianID,
		&snapStatus, &saved[0], &saved[1], &saved[2], &saved[3], &saved[4], &saved[5],
		&lastReadingAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Status = Status(status)
	d.Telemetry = telemetryFromColumns(live)
	if customerID.Valid {
		d.CustomerID = &customerID.String
	}
	if technicianID.Valid {
		d.TechnicianID = &technicianID.String
	}
	if snapStatus.Valid {
		d.Snapshot = &Snapshot{Status: Status(snapStatus.String), Telemetry: telemetryFromColumns(saved)}
	}

	if lastReadingAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastReadingAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_reading_at: %w", err)
		}
		d.LastReadingAt = &t
	}

	var parseErr error
	d.CreatedAt, parseErr = time.Parse(time.RFC3339Nano, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	d.UpdatedAt, parseErr = time.Parse(time.RFC3339Nano, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &d, nil
}

func telemetryFromColumns(c [6]sql.NullFloat64) Telemetry {
	return Telemetry{
		SignalStrength: floatPtr(c[0]),
		PacketLoss:     floatPtr(c[1]),
		BatteryLevel:   floatPtr(c[2]),
		Temperature:    floatPtr(c[3]),
		Moisture:       floatPtr(c[4]),
		Light:          floatPtr(c[5]),
	}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// nullableFloat returns a sql.NullFloat64 for optional readings.
func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// nullableTime returns a sql.NullString for optional time pointers.
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY")
}
