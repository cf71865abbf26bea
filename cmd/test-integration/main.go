package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"void/internal/archive"
	"void/internal/config"
	"void/internal/geometry"
	"void/internal/logging"
	"void/internal/record"
	"void/internal/storage"
)

const smokeDB = "void_smoke"

// scratch points the configured server at the smoke database.
func scratch(d config.Database) config.Database {
	d.Name = smokeDB
	if d.URL != "" {
		if u, err := url.Parse(d.URL); err == nil {
			u.Path = "/" + smokeDB
			d.URL = u.String()
		}
	}
	return d
}

func main() {
	fmt.Println("Testing PostGIS archive round trip")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	dbCfg := scratch(cfg.Database)
	logger := logging.New(os.Stderr, logging.LevelCritical, "void-smoke")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := storage.DropDatabase(ctx, dbCfg); err != nil {
		log.Fatal("Failed to drop smoke database:", err)
	}
	if _, err := storage.EnsureDatabase(ctx, dbCfg); err != nil {
		log.Fatal("Failed to create smoke database:", err)
	}
	defer storage.DropDatabase(context.Background(), dbCfg)

	db, err := storage.Open(ctx, dbCfg, logger, storage.Options{})
	if err != nil {
		log.Fatal("Failed to connect:", err)
	}
	defer db.Close()
	fmt.Printf("Connected to %s\n", dbCfg.DatabaseName())

	w := archive.NewWriter(db)
	if err := w.CreateTable(ctx); err != nil {
		log.Fatal("Failed to create table:", err)
	}

	square := geometry.Footprint{{X: -2, Y: -2}, {X: -2, Y: 2}, {X: 2, Y: -2}, {X: 2, Y: 2}}
	fixtures := []record.Record{
		record.New("P_1", "2019-04-24T10:07:28", 5, "VID", square),
		record.New("R_1", "2019-04-24T11:07:00", 5, "VID", square),
	}
	for _, rec := range fixtures {
		if err := w.Insert(ctx, rec); err != nil {
			log.Fatal("Failed to insert fixture:", err)
		}
	}
	fmt.Printf("Inserted %d observations\n", len(fixtures))

	sel := archive.NewSelector(db)
	path := []geometry.Vertex{{X: 0, Y: -5, T: 1556100448}, {X: 0, Y: 5, T: 1556104020}}
	matches, err := sel.FindIntersecting(ctx, path)
	if err != nil {
		log.Fatal("Intersection query failed:", err)
	}
	got := make([]string, len(matches))
	for i, m := range matches {
		got[i] = m.Path
	}
	fmt.Printf("Intersections: %s\n", strings.Join(got, ", "))
	if strings.Join(got, ",") != "P_1,R_1" {
		log.Fatalf("expected P_1,R_1, got %v", got)
	}

	inside, err := sel.FindWithinArea(ctx, geometry.Area{
		LowerLeft:  geometry.Point{X: -3, Y: -3},
		UpperRight: geometry.Point{X: 3, Y: 3},
	})
	if err != nil {
		log.Fatal("Area query failed:", err)
	}
	fmt.Printf("Within area: %d\n", len(inside))

	fmt.Println("Archive round trip OK")
}
