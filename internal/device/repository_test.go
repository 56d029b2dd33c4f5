package device

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/nerrad567/farmra-core/internal/infrastructure/database"
	_ "github.com/nerrad567/farmra-core/migrations"
)

// setupTestDB creates a temporary SQLite database with the migrations applied.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "devices.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db.DB
}

func TestSQLiteRepository_CreateAndGet(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	dev := testDevice("S1")
	dev.CustomerID = ptr("cust-1")
	reading := time.Date(2026, 3, 1, 8, 59, 30, 123456789, time.UTC)
	dev.LastReadingAt = &reading

	if err := repo.Create(ctx, dev); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "S1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if !reflect.DeepEqual(got, dev) {
		t.Errorf("GetByID() =\n %+v\nwant\n %+v", got, dev)
	}

	if err := repo.Create(ctx, testDevice("S1")); !errors.Is(err, ErrDeviceExists) {
		t.Errorf("Create(duplicate) error = %v, want ErrDeviceExists", err)
	}
	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByID(missing) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_SnapshotRoundTrip(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	dev := testDevice("S1")
	if err := repo.Create(ctx, dev); err != nil {
		t.Fatal(err)
	}

	dev.Snapshot = &Snapshot{Status: dev.Status, Telemetry: dev.Telemetry.Clone()}
	dev.Status = StatusDeactivated
	dev.Telemetry = Telemetry{}
	dev.UpdatedAt = dev.UpdatedAt.Add(time.Minute)
	if err := repo.Update(ctx, dev); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "S1")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, dev) {
		t.Errorf("GetByID() =\n %+v\nwant\n %+v", got, dev)
	}
}

// TestSQLiteRepository_RejectsMixedLifecycle checks the table constraint
// that backs the lifecycle invariant.
func TestSQLiteRepository_RejectsMixedLifecycle(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*Device)
	}{
		{"deactivated with telemetry", func(d *Device) {
			d.Status = StatusDeactivated
			d.Snapshot = &Snapshot{Status: StatusOnline}
		}},
		{"deactivated without snapshot", func(d *Device) {
			d.Status = StatusDeactivated
			d.Telemetry = Telemetry{}
		}},
		{"active with snapshot", func(d *Device) {
			d.Snapshot = &Snapshot{Status: StatusOnline}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDevice("bad")
			tt.mutate(d)
			if err := repo.Create(ctx, d); err == nil {
				t.Error("Create() accepted a record mixing both lifecycle states")
			}
		})
	}
}

func TestSQLiteRepository_Lists(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	a := testDevice("S2")
	a.CustomerID = ptr("cust-1")
	b := testDevice("S1")
	b.Status = StatusWeak
	b.TechnicianID = ptr("tech-1")
	for _, d := range []*Device{a, b} {
		if err := repo.Create(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(all); !reflect.DeepEqual(got, []string{"S1", "S2"}) {
		t.Errorf("List() = %v", got)
	}

	weak, _ := repo.ListByStatus(ctx, StatusWeak)
	if got := ids(weak); !reflect.DeepEqual(got, []string{"S1"}) {
		t.Errorf("ListByStatus() = %v", got)
	}
	owned, _ := repo.ListByCustomer(ctx, "cust-1")
	if got := ids(owned); !reflect.DeepEqual(got, []string{"S2"}) {
		t.Errorf("ListByCustomer() = %v", got)
	}
	assigned, _ := repo.ListByTechnician(ctx, "tech-1")
	if got := ids(assigned); !reflect.DeepEqual(got, []string{"S1"}) {
		t.Errorf("ListByTechnician() = %v", got)
	}
}

func TestSQLiteRepository_UpdateDeleteExists(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Update(ctx, testDevice("ghost")); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrDeviceNotFound", err)
	}
	if err := repo.Create(ctx, testDevice("S1")); err != nil {
		t.Fatal(err)
	}

	if ok, _ := repo.Exists(ctx, "S1"); !ok {
		t.Error("Exists(S1) = false")
	}
	if err := repo.Delete(ctx, "S1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if ok, _ := repo.Exists(ctx, "S1"); ok {
		t.Error("Exists(S1) after delete = true")
	}
	if err := repo.Delete(ctx, "S1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Delete(missing) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestManager_WithSQLite(t *testing.T) {
	registry := NewRegistry(NewSQLiteRepository(setupTestDB(t)))
	ctx := context.Background()
	if err := registry.RefreshCache(ctx); err != nil {
		t.Fatal(err)
	}
	mgr := NewManager(registry, stubResolver{})

	if _, err := mgr.Register(ctx, testDevice("S1")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := mgr.Deactivate(ctx, "S1"); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
	d, err := mgr.Activate(ctx, "S1")
	if err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if d.Status != StatusOnline || *d.Temperature != 22 {
		t.Errorf("Activate() = %+v", d)
	}
}
