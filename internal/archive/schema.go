package archive

import (
	"context"
	"fmt"

	"void/internal/storage"
)

// Table is the observations table name.
const Table = "observations"

var schemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS postgis`,
	`CREATE EXTENSION IF NOT EXISTS postgis_sfcgal`,
	`CREATE TABLE IF NOT EXISTS observations (
        id SERIAL PRIMARY KEY,
        path VARCHAR(500) NOT NULL,
        exp FLOAT NOT NULL,
        observer VARCHAR(100),
        poly GEOMETRY(POLYGONZ) NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS observations_poly_gist ON observations USING GIST (poly)`,
}

// CreateTable creates the extensions, table and spatial index when missing.
func CreateTable(ctx context.Context, b storage.Backend) error {
	for _, stmt := range schemaStatements {
		if err := b.Execute(ctx, stmt); err != nil {
			if storage.IsMissingExtension(err) {
				return fmt.Errorf("create schema: server lacks PostGIS with SFCGAL support: %w", err)
			}
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}
