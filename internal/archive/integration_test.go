package archive

import (
	"context"
	"net/url"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"void/internal/config"
	"void/internal/geometry"
	"void/internal/record"
	"void/internal/storage"
)

const (
	t1       = 1_556_100_448.0
	t2       = 1_556_104_020.0
	dateObs1 = "2019-04-24T10:07:28"
	dateObs2 = "2019-04-24T11:07:00"
	exposure = 5.0
	observer = "a"
)

var (
	p1 = [][2]float64{{2, 2}, {-2, 2}, {-2, -2}, {2, -2}}
	p2 = [][2]float64{{7, 2}, {3, 2}, {3, -2}, {7, -2}}
	p3 = [][2]float64{{2, -3}, {-2, -3}, {-2, -7}, {2, -7}}
)

// testDatabase returns settings for a scratch archive database, either on the
// server named by VOID_TEST_DATABASE_URL or in a PostGIS container.
func testDatabase(t *testing.T) config.Database {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostGIS integration test in short mode")
	}

	if raw := os.Getenv("VOID_TEST_DATABASE_URL"); raw != "" {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		admin := strings.TrimPrefix(u.Path, "/")
		if admin == "" {
			admin = "postgres"
		}
		u.Path = "/void_test"
		return config.Database{URL: u.String(), AdminDB: admin}
	}

	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgis/postgis:16-3.4",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "void",
				"POSTGRES_PASSWORD": "void",
				"POSTGRES_DB":       "postgres",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(3 * time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	port, err := strconv.Atoi(mapped.Port())
	require.NoError(t, err)

	return config.Database{
		Host:     host,
		Port:     port,
		User:     "void",
		Password: "void",
		Name:     "void_test",
		SSLMode:  "disable",
		AdminDB:  "postgres",
	}
}

func seededArchive(t *testing.T) *storage.DB {
	t.Helper()
	cfg := testDatabase(t)
	ctx := context.Background()

	require.NoError(t, storage.DropDatabase(ctx, cfg))
	created, err := storage.EnsureDatabase(ctx, cfg)
	require.NoError(t, err)
	require.True(t, created)

	db, err := storage.Open(ctx, cfg, nil, storage.Options{})
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
		if err := storage.DropDatabase(context.Background(), cfg); err != nil {
			t.Logf("drop database: %v", err)
		}
	})

	w := NewWriter(db)
	require.NoError(t, w.CreateTable(ctx))
	require.NoError(t, w.CreateTable(ctx), "schema creation must be repeatable")

	fixtures := []record.Record{
		{Path: "P_1", DateObs: dateObs1, Exposure: exposure, Observer: observer, Polygon: p1},
		{Path: "P_2", DateObs: dateObs1, Exposure: exposure, Observer: observer, Polygon: p2},
		{Path: "P_3", DateObs: dateObs1, Exposure: exposure, Observer: observer, Polygon: p3},
		{Path: "R_1", DateObs: dateObs2, Exposure: exposure, Observer: observer, Polygon: p1},
	}
	for _, rec := range fixtures {
		require.NoError(t, w.Insert(ctx, rec))
	}
	return db
}

func matchPaths(ms []Match) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Path
	}
	return out
}

func TestPostGISIntersections(t *testing.T) {
	db := seededArchive(t)
	s := NewSelector(db)
	ctx := context.Background()

	t.Run("horizontal path at T1", func(t *testing.T) {
		got, err := s.FindIntersecting(ctx, []geometry.Vertex{{X: 0, Y: 0, T: t1}, {X: 5, Y: 0, T: t1}})
		require.NoError(t, err)
		assert.Equal(t, []string{"P_1", "P_2"}, matchPaths(got))
	})

	t.Run("path spanning T1 to T2", func(t *testing.T) {
		got, err := s.FindIntersecting(ctx, []geometry.Vertex{{X: 0, Y: 0, T: t1}, {X: 0, Y: 0, T: t2}})
		require.NoError(t, err)
		assert.Equal(t, []string{"P_1", "R_1"}, matchPaths(got))
	})

	t.Run("time exclusion", func(t *testing.T) {
		got, err := s.FindIntersecting(ctx, []geometry.Vertex{{X: 0, Y: 0, T: t1}, {X: 1, Y: 0, T: t1}})
		require.NoError(t, err)
		assert.Equal(t, []string{"P_1"}, matchPaths(got))
	})

	t.Run("fixed point inside exposure", func(t *testing.T) {
		got, err := s.FindIntersecting(ctx, FixedPointPath(0, -5, t1+2, 1))
		require.NoError(t, err)
		assert.Equal(t, []string{"P_3"}, matchPaths(got))
	})

	t.Run("empty result", func(t *testing.T) {
		got, err := s.FindIntersecting(ctx, FixedPointPath(50, 50, t1, 60))
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestPostGISWithinArea(t *testing.T) {
	db := seededArchive(t)
	s := NewSelector(db)

	area := geometry.Area{LowerLeft: geometry.Point{X: -3, Y: -3}, UpperRight: geometry.Point{X: 3, Y: 3}}
	got, err := s.FindWithinArea(context.Background(), area)
	require.NoError(t, err)
	assert.Equal(t, []string{"P_1", "R_1"}, matchPaths(got))
}
