package archive

import (
	"context"
	"fmt"

	"void/internal/geometry"
	"void/internal/record"
	"void/internal/storage"
)

const insertStatement = `INSERT INTO observations (path, exp, observer, poly)
    VALUES (?, ?, ?, ST_MakePolygon(ST_GeomFromText(?)))`

// Writer inserts observation records.
type Writer struct {
	backend storage.Backend
}

// NewWriter returns a writer on b.
func NewWriter(b storage.Backend) *Writer {
	return &Writer{backend: b}
}

// CreateTable prepares the schema.
func (w *Writer) CreateTable(ctx context.Context) error {
	return CreateTable(ctx, w.backend)
}

// Insert stores one record. The footprint is closed into a ring carrying the
// observation start time on every vertex.
func (w *Writer) Insert(ctx context.Context, rec record.Record) error {
	ring, err := Ring(rec)
	if err != nil {
		return err
	}
	if err := w.backend.Execute(ctx, insertStatement,
		rec.Path, rec.Exposure, rec.Observer, geometry.EncodeLineString(ring)); err != nil {
		return fmt.Errorf("insert %s: %w", rec.Path, err)
	}
	return nil
}

// InsertLine decodes one transport line and stores it.
func (w *Writer) InsertLine(ctx context.Context, line string) (record.Record, error) {
	rec, err := record.Decode(line)
	if err != nil {
		return rec, err
	}
	return rec, w.Insert(ctx, rec)
}

// Ring returns the closed space-time ring persisted for rec.
func Ring(rec record.Record) ([]geometry.Vertex, error) {
	t, err := rec.Timestamp()
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", rec.Path, err)
	}
	return geometry.AppendTime(rec.Points(), t), nil
}
