// Package record defines the JSON line formats passed between the pipeline
// commands.
package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"void/internal/geometry"
)

// Record is the transport form of one observation, emitted by reduce and
// consumed by write.
type Record struct {
	Path     string       `json:"path"`
	DateObs  string       `json:"date_obs"`
	Exposure float64      `json:"exposure"`
	Observer string       `json:"observer"`
	Polygon  [][2]float64 `json:"polygon"`
}

// HeaderData is the metadata read from a FITS header.
type HeaderData struct {
	DateObs   string  `json:"date_obs"`
	Exposure  float64 `json:"exposure"`
	Focus     *int    `json:"focus,omitempty"`
	RACenter  float64 `json:"ra_center"`
	DecCenter float64 `json:"dec_center"`
	XDegSize  float64 `json:"x_deg_size"`
	YDegSize  float64 `json:"y_deg_size"`
	PosAngle  float64 `json:"pos_angle"`
	Observer  string  `json:"observer,omitempty"`
}

// DecodeError reports a transport line that could not be decoded.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode record %q: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

var requiredFields = []string{"path", "date_obs", "exposure", "observer", "polygon"}

// Decode parses one transport line. Unknown fields, missing fields, trailing
// data and polygons that are not four [x, y] pairs are rejected.
func Decode(line string) (Record, error) {
	var present map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &present); err != nil {
		return Record{}, &DecodeError{Line: line, Err: err}
	}
	var missing, null []string
	for _, name := range requiredFields {
		raw, ok := present[name]
		switch {
		case !ok:
			missing = append(missing, name)
		case bytes.Equal(bytes.TrimSpace(raw), []byte("null")):
			null = append(null, name)
		}
	}
	if len(missing) > 0 {
		return Record{}, &DecodeError{Line: line, Err: fmt.Errorf("missing fields: %s", strings.Join(missing, ", "))}
	}
	if len(null) > 0 {
		return Record{}, &DecodeError{Line: line, Err: fmt.Errorf("null fields: %s", strings.Join(null, ", "))}
	}

	// polygon points are decoded loosely and checked below
	var wire struct {
		Record
		Polygon [][]*float64 `json:"polygon"`
	}
	dec := json.NewDecoder(strings.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&wire); err != nil {
		return Record{}, &DecodeError{Line: line, Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Record{}, &DecodeError{Line: line, Err: errors.New("trailing data after record")}
	}
	if len(wire.Polygon) != len(geometry.Footprint{}) {
		return Record{}, &DecodeError{Line: line, Err: fmt.Errorf("polygon has %d points, want 4", len(wire.Polygon))}
	}
	rec := wire.Record
	rec.Polygon = make([][2]float64, len(wire.Polygon))
	for i, p := range wire.Polygon {
		if len(p) != 2 || p[0] == nil || p[1] == nil {
			return Record{}, &DecodeError{Line: line, Err: fmt.Errorf("polygon point %d: want [x, y]", i)}
		}
		rec.Polygon[i] = [2]float64{*p[0], *p[1]}
	}
	return rec, nil
}

// Encode renders a record as a single JSON line without the trailing newline.
func Encode(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// New builds a transport record from a computed footprint.
func New(path, dateObs string, exposure float64, observer string, fp geometry.Footprint) Record {
	poly := make([][2]float64, len(fp))
	for i, p := range fp {
		poly[i] = [2]float64{p.X, p.Y}
	}
	return Record{
		Path:     path,
		DateObs:  dateObs,
		Exposure: exposure,
		Observer: observer,
		Polygon:  poly,
	}
}

// Points returns the polygon as geometry points, in transport order.
func (r Record) Points() []geometry.Point {
	out := make([]geometry.Point, len(r.Polygon))
	for i, p := range r.Polygon {
		out[i] = geometry.Point{X: p[0], Y: p[1]}
	}
	return out
}

// Timestamp returns DATE-OBS as Unix seconds.
func (r Record) Timestamp() (float64, error) {
	t, err := ParseDateObs(r.DateObs)
	if err != nil {
		return 0, err
	}
	return UnixSeconds(t), nil
}

var dateObsLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02",
}

// ParseDateObs parses an ISO-8601 timestamp in UTC. A bare date means
// midnight.
func ParseDateObs(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateObsLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO-8601 timestamp %q", s)
}

// UnixSeconds converts t to fractional Unix seconds.
func UnixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}
