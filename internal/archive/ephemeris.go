package archive

import (
	"encoding/json"
	"fmt"
	"io"

	"void/internal/geometry"
)

// DecodeEphemeris reads a JSON array of [ra, dec, unix_seconds] triples.
func DecodeEphemeris(r io.Reader) ([]geometry.Vertex, error) {
	var raw [][]float64
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode ephemeris: %w", err)
	}
	path := make([]geometry.Vertex, len(raw))
	for i, p := range raw {
		if len(p) != 3 {
			return nil, fmt.Errorf("ephemeris point %d: expected [ra, dec, time], got %d values", i, len(p))
		}
		path[i] = geometry.Vertex{X: p[0], Y: p[1], T: p[2]}
	}
	if len(path) < 2 {
		return nil, ErrShortPath
	}
	return path, nil
}
