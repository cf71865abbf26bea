package pipeline

import (
	"context"
	"fmt"

	"void/internal/archive"
	"void/internal/fits"
	"void/internal/metrics"
	"void/internal/record"
)

// Reduction is the metadata and transport record derived from one file.
type Reduction struct {
	Header record.HeaderData
	Record record.Record
}

// Reduce reads the primary header of path and computes its footprint.
func Reduce(path, defaultObserver string) (Reduction, error) {
	h, err := fits.ReadHeaderFile(path)
	if err != nil {
		return Reduction{}, err
	}
	data, err := fits.ExtractMetadata(h, defaultObserver)
	if err != nil {
		return Reduction{}, fmt.Errorf("%s: %w", path, err)
	}
	rec := record.New(path, data.DateObs, data.Exposure, data.Observer, fits.Footprint(data))
	return Reduction{Header: data, Record: rec}, nil
}

// Ingester reduces a file and writes it to the archive in one job.
type Ingester struct {
	Writer      *archive.Writer
	Observer    string
	ReducedFlag string // set on the file after a successful insert when non-empty
	Metrics     *metrics.Metrics
}

// Process handles JobIngest jobs whose Input is a FITS path.
func (i *Ingester) Process(ctx context.Context, job Job) Result {
	if job.Type != JobIngest {
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
	red, err := Reduce(job.Input, i.Observer)
	if err != nil {
		i.Metrics.RecordItem(string(JobIngest), metrics.OutcomeFailed)
		return Result{Job: job, Error: err}
	}
	if err := i.Writer.Insert(ctx, red.Record); err != nil {
		i.Metrics.RecordItem(string(JobIngest), metrics.OutcomeFailed)
		return Result{Job: job, Error: err}
	}
	if i.ReducedFlag != "" {
		if err := fits.SetCard(job.Input, i.ReducedFlag, "True"); err != nil {
			i.Metrics.RecordItem(string(JobIngest), metrics.OutcomeFailed)
			return Result{Job: job, Error: fmt.Errorf("mark %s: %w", job.Input, err)}
		}
	}
	i.Metrics.RecordItem(string(JobIngest), metrics.OutcomeOK)
	return Result{Job: job, Meta: map[string]any{
		"path":      red.Record.Path,
		"date_obs":  red.Record.DateObs,
		"observer":  red.Record.Observer,
		"ra_center": red.Header.RACenter,
	}}
}
