// Package database provides the SQLite connection backing the PanelSense
// panel credential store.
//
// Open applies pragmas through the connection string (busy timeout, foreign
// keys, optional WAL) and limits the pool to a single connection. Migrate
// applies embedded YYYYMMDD_HHMMSS_description.up.sql files in order, one
// transaction each, recording progress in schema_migrations.
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
package database
