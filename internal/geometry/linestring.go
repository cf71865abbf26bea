package geometry

import (
	"fmt"
	"strconv"
	"strings"
)

// Vertex is a space-time position: equatorial coordinates in degrees and a
// Unix timestamp in seconds.
type Vertex struct {
	X float64
	Y float64
	T float64
}

// AppendTime attaches t to every point and closes the ring by repeating the
// first vertex. The input is not modified. Passing an already closed ring
// repeats the first vertex a second time, so callers close exactly once.
func AppendTime(points []Point, t float64) []Vertex {
	if len(points) == 0 {
		return nil
	}
	ring := make([]Vertex, 0, len(points)+1)
	for _, p := range points {
		ring = append(ring, Vertex{X: p.X, Y: p.Y, T: t})
	}
	return append(ring, ring[0])
}

// CloseRing returns a copy of path with its first vertex appended.
func CloseRing(path []Vertex) []Vertex {
	if len(path) == 0 {
		return nil
	}
	ring := make([]Vertex, 0, len(path)+1)
	ring = append(ring, path...)
	return append(ring, path[0])
}

// EncodeLineString renders vertices as a WKT LINESTRING with "x y t" triples.
func EncodeLineString(ring []Vertex) string {
	var b strings.Builder
	b.WriteString("LINESTRING(")
	for i, v := range ring {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(formatFloat(v.X))
		b.WriteByte(' ')
		b.WriteString(formatFloat(v.Y))
		b.WriteByte(' ')
		b.WriteString(formatFloat(v.T))
	}
	b.WriteByte(')')
	return b.String()
}

// ParseLineString reads the output of EncodeLineString back into vertices.
// It also accepts the "LINESTRING Z (...)" form PostGIS returns from ST_AsText.
func ParseLineString(s string) ([]Vertex, error) {
	s = strings.TrimSpace(s)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "LINESTRING") {
		return nil, fmt.Errorf("not a linestring: %q", s)
	}
	body := strings.TrimSpace(s[len("LINESTRING"):])
	if len(body) > 0 && (body[0] == 'Z' || body[0] == 'z') {
		body = strings.TrimSpace(body[1:])
	}
	if !strings.HasPrefix(body, "(") || !strings.HasSuffix(body, ")") {
		return nil, fmt.Errorf("malformed linestring: %q", s)
	}
	body = body[1 : len(body)-1]
	if strings.TrimSpace(body) == "" {
		return nil, nil
	}

	parts := strings.Split(body, ",")
	ring := make([]Vertex, 0, len(parts))
	for _, part := range parts {
		fields := strings.Fields(part)
		if len(fields) != 3 {
			return nil, fmt.Errorf("vertex %q: expected 3 coordinates, got %d", part, len(fields))
		}
		var coords [3]float64
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("vertex %q: %w", part, err)
			}
			coords[i] = v
		}
		ring = append(ring, Vertex{X: coords[0], Y: coords[1], T: coords[2]})
	}
	return ring, nil
}

// Points drops the time coordinate.
func Points(ring []Vertex) []Point {
	out := make([]Point, len(ring))
	for i, v := range ring {
		out[i] = Point{X: v.X, Y: v.Y}
	}
	return out
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
