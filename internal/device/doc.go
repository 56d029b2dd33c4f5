// Package device provides the sensor registry and device lifecycle for
// FarmRa Core.
//
// A device is a field sensor node registered under a caller-supplied id.
// It reports live telemetry (signal strength, packet loss, battery,
// soil temperature, soil moisture, light) and moves between two
// lifecycle states:
//
//	           Deactivate
//	ACTIVE ──────────────────▶ DEACTIVATED
//	(online/weak/offline,       (status deactivated,
//	 telemetry live,             telemetry cleared,
//	 no snapshot)                snapshot holds the old values)
//	       ◀──────────────────
//	            Activate
//
// Deactivate copies the status and the six readings into the snapshot
// and clears them in one record write. Activate restores them and clears
// the snapshot; on a device without a snapshot it fails with
// ErrInvalidState. The devices table carries a CHECK constraint that
// rejects any row mixing the two shapes.
//
// # Architecture
//
//	┌──────────────────┐    ┌──────────────────┐    ┌──────────────────┐
//	│     Manager      │    │     Registry     │    │    Repository    │
//	│  (lifecycle.go)  │───▶│   (registry.go)  │───▶│  (repository.go) │
//	│                  │    │                  │    │                  │
//	│ • transitions    │    │ • read cache     │    │ • SQLite queries │
//	│ • per-id locks   │    │ • deep copies    │    │ • full-row writes│
//	│ • observers      │    │ • shape checks   │    │                  │
//	└──────────────────┘    └──────────────────┘    └──────────────────┘
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db)
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(log)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	mgr := device.NewManager(registry, credentialStore, device.WithManagerLogger(log))
//	dev, err := mgr.Register(ctx, &device.Device{ID: "S1", Name: "North field sensor"})
//	dev, err = mgr.Deactivate(ctx, "S1")
//	dev, err = mgr.Activate(ctx, "S1")
//
// # Partial updates
//
// Patch carries one Optional per settable field, so an absent field, an
// explicit null and a zero value are all distinguishable. Zero is a valid
// coordinate.
//
// # Thread Safety
//
// Registry and Manager are safe for concurrent use. The Manager holds a
// per-device mutex for the whole read-modify-write of each mutation.
package device
