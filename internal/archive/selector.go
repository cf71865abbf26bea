package archive

import (
	"context"
	"errors"
	"fmt"

	"void/internal/geometry"
	"void/internal/storage"
)

// ErrShortPath is returned for query paths with fewer than two vertices.
var ErrShortPath = errors.New("query path needs at least two vertices")

const intersectStatement = `SELECT id, path FROM observations
    WHERE ST_3DIntersects(ST_Extrude(poly, 0, 0, exp), ST_GeomFromText(?))
    ORDER BY id`

const envelopeStatement = `SELECT id, path, ST_AsText(ST_ExteriorRing(poly)) FROM observations
    WHERE poly && ST_MakeEnvelope(?, ?, ?, ?)
    ORDER BY id`

// Match identifies a stored observation.
type Match struct {
	ID   int64  `json:"id"`
	Path string `json:"path"`
}

// Selector answers intersection queries.
type Selector struct {
	backend storage.Backend
}

// NewSelector returns a selector on b.
func NewSelector(b storage.Backend) *Selector {
	return &Selector{backend: b}
}

// FixedPointPath is the two-vertex path of a fixed sky position observed
// during [t-half, t+half].
func FixedPointPath(ra, dec, t, half float64) []geometry.Vertex {
	return []geometry.Vertex{
		{X: ra, Y: dec, T: t - half},
		{X: ra, Y: dec, T: t + half},
	}
}

// QueryRing closes path by re-appending its first vertex. The input is not
// modified.
func QueryRing(path []geometry.Vertex) ([]geometry.Vertex, error) {
	if len(path) < 2 {
		return nil, ErrShortPath
	}
	return geometry.CloseRing(path), nil
}

// FindIntersecting returns the observations whose footprint, extruded along
// the time axis by its exposure, intersects the closed query path. Results
// are ordered by id, which is insertion order.
func (s *Selector) FindIntersecting(ctx context.Context, path []geometry.Vertex) ([]Match, error) {
	ring, err := QueryRing(path)
	if err != nil {
		return nil, err
	}
	rows, err := s.backend.Query(ctx, intersectStatement, geometry.EncodeLineString(ring))
	if err != nil {
		return nil, fmt.Errorf("intersection query: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.Path); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("intersection query: %w", err)
	}
	return out, nil
}

// FindWithinArea returns observations whose footprint lies strictly inside
// area. The bounding box operator narrows candidates on the index and the
// containment test is applied to every vertex.
func (s *Selector) FindWithinArea(ctx context.Context, area geometry.Area) ([]Match, error) {
	if err := area.Validate(); err != nil {
		return nil, err
	}
	rows, err := s.backend.Query(ctx, envelopeStatement,
		area.LowerLeft.X, area.LowerLeft.Y, area.UpperRight.X, area.UpperRight.Y)
	if err != nil {
		return nil, fmt.Errorf("area query: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		var ring string
		if err := rows.Scan(&m.ID, &m.Path, &ring); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		vertices, err := geometry.ParseLineString(ring)
		if err != nil {
			return nil, fmt.Errorf("observation %d: %w", m.ID, err)
		}
		if geometry.PolyWithinArea(geometry.Points(vertices), area) {
			out = append(out, m)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("area query: %w", err)
	}
	return out, nil
}
