// Package database provides SQLite connectivity for FarmRa Core.
//
// This package manages:
//   - The connection, with WAL mode and a busy timeout
//   - Schema migrations read from a registered fs.FS
//   - Transaction helpers for multi-statement writes
//
// All queries in the repositories use parameterised statements and the
// database file is created with 0600 permissions.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are registered by importing the migrations package for its
// side effect.
package database
