// Package database provides SQLite connectivity for LayerFlow Core.
//
// This package manages:
//   - Database connection with WAL mode and enforced foreign keys
//   - Schema migrations loaded from an fs.FS (see the migrations package)
//   - Transaction helpers used by the workflow repository
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be NULLABLE or have DEFAULT
// values, and each .up.sql has a matching .down.sql.
package database
