// Package migration applies versioned SQL schema changes.
//
// Migrations are read from an fs.FS, normally an embed.FS owned by the store
// package, and follow the naming convention {version}_{description}.sql
// (e.g. "001_initial_schema.sql"). Applied versions are tracked in a
// schema_migrations table so each file runs once.
//
// The Manager is database agnostic. Stores supply an Executor: SQLExecutor
// covers database/sql drivers, and the PostgreSQL store ships its own pgx
// backed executor.
//
// Example usage:
//
//	manager := migration.NewManager(migrationFiles, "migrations", migration.NewSQLExecutor(db), logger)
//	if _, err := manager.Run(ctx); err != nil {
//		return fmt.Errorf("migrate: %w", err)
//	}
package migration
