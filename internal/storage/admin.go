package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"void/internal/config"
)

// EnsureDatabase creates the archive database on the server when it does not
// exist yet. It reports whether the database was created.
func EnsureDatabase(ctx context.Context, cfg config.Database) (bool, error) {
	admin, err := sql.Open("pgx", cfg.AdminDSN())
	if err != nil {
		return false, err
	}
	defer admin.Close()

	name := cfg.DatabaseName()
	var exists bool
	if err := admin.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("look up database %s: %w", name, err)
	}
	if exists {
		return false, nil
	}

	// CREATE DATABASE cannot run inside a transaction and takes no parameters.
	if _, err := admin.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(name)); err != nil {
		if IsDuplicateDatabase(err) {
			return false, nil
		}
		return false, fmt.Errorf("create database %s: %w", name, err)
	}
	return true, nil
}

// DropDatabase removes the archive database if it exists.
func DropDatabase(ctx context.Context, cfg config.Database) error {
	admin, err := sql.Open("pgx", cfg.AdminDSN())
	if err != nil {
		return err
	}
	defer admin.Close()

	name := cfg.DatabaseName()
	if _, err := admin.ExecContext(ctx, "DROP DATABASE IF EXISTS "+pq.QuoteIdentifier(name)); err != nil {
		return fmt.Errorf("drop database %s: %w", name, err)
	}
	return nil
}
