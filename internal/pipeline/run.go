package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"void/internal/metrics"
	"void/internal/storage"
)

// NewID returns a job identifier such as "write-20190424T100728-1b4e28ba".
func NewID(prefix string) string {
	ts := time.Now().UTC().Format("20060102T150405")
	return fmt.Sprintf("%s-%s-%s", prefix, ts, uuid.NewString()[:8])
}

// Runner executes synchronous command-line jobs with journaling.
type Runner struct {
	Log     *slog.Logger
	Journal *storage.Journal
	Metrics *metrics.Metrics
}

// Run journals job, runs fn and logs the outcome. A cancelled context ends
// the job without error.
func (r *Runner) Run(ctx context.Context, job Job, fn func(context.Context) (map[string]any, error)) error {
	if job.ID == "" {
		job.ID = NewID(string(job.Type))
	}
	if err := r.Journal.RecordJobQueued(jobRecord(job)); err != nil {
		r.log().Warn("failed to journal job", "id", job.ID, "error", err)
	}
	return execute(ctx, r.log(), r.Journal, job, fn).Error
}

func (r *Runner) log() *slog.Logger {
	if r.Log == nil {
		return slog.Default()
	}
	return r.Log
}

// Counts summarises a line loop.
type Counts struct {
	OK      int
	Skipped int
	Failed  int
}

// Meta renders the counts for the journal.
func (c Counts) Meta() map[string]any {
	return map[string]any{"ok": c.OK, "skipped": c.Skipped, "failed": c.Failed}
}

// Lines calls handle for every non-blank line of in. A handler error is logged
// with the offending line and the loop moves on. Reading stops without error
// when ctx is cancelled; read errors are returned.
func (r *Runner) Lines(ctx context.Context, stage string, in io.Reader, handle func(ctx context.Context, line string) error) (Counts, error) {
	var counts Counts
	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return counts, nil
		case line, ok := <-lines:
			if !ok {
				if ctx.Err() != nil {
					return counts, nil
				}
				select {
				case err := <-readErr:
					return counts, err
				default:
					return counts, nil
				}
			}
			if strings.TrimSpace(line) == "" {
				counts.Skipped++
				r.Metrics.RecordItem(stage, metrics.OutcomeSkipped)
				continue
			}
			if err := handle(ctx, line); err != nil {
				if ctx.Err() != nil {
					return counts, nil
				}
				counts.Failed++
				r.Metrics.RecordItem(stage, metrics.OutcomeFailed)
				r.log().Warn("skipping input line", "stage", stage, "line", line, "error", err)
				continue
			}
			counts.OK++
			r.Metrics.RecordItem(stage, metrics.OutcomeOK)
		}
	}
}
