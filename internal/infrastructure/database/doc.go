// Package database provides SQLite connectivity for Deckvault Core.
//
// This package manages:
//   - The database connection (WAL mode, busy timeout, foreign keys)
//   - Embedded, versioned schema migrations
//   - Health checks and lifecycle management
//
// Users, sessions, settings and the audit log all live in the same file.
// All queries use parameterised statements and the file is created with
// 0600 permissions because it holds password and refresh token hashes.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql, and are registered by the migrations package.
package database
