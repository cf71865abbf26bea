package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"log/slog"

	"void/internal/logging"
	"void/internal/storage"
)

// JobType enumerates pipeline stages.
type JobType string

const (
	JobSniff  JobType = "sniff"
	JobReduce JobType = "reduce"
	JobWrite  JobType = "write"
	JobSelect JobType = "select"
	JobIngest JobType = "ingest"
	JobInit   JobType = "init"
	JobFlag   JobType = "flag"
)

// Job represents a single unit of work.
type Job struct {
	ID      string         `json:"id"`
	Type    JobType        `json:"type"`
	Input   string         `json:"input"`
	Options map[string]any `json:"options,omitempty"`
}

// Result captures the outcome of a Job.
type Result struct {
	Job   Job
	Error error
	Meta  map[string]any
}

// MarshalJSON renders the error as text.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Job   Job            `json:"job"`
		Error string         `json:"error,omitempty"`
		Meta  map[string]any `json:"meta,omitempty"`
	}{r.Job, errString(r.Error), r.Meta})
}

// Processor executes a job and returns a Result.
type Processor interface {
	Process(ctx context.Context, job Job) Result
}

// Pipeline dispatches queued jobs across workers.
type Pipeline struct {
	processor Processor
	log       *slog.Logger
	jobs      chan Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	done      <-chan struct{}
	stopOnce  sync.Once
	journal   *storage.Journal
	mu        sync.Mutex
	stopped   bool
	subs      map[int]chan Result
	nextSubID int
}

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("pipeline stopped")

// New starts concurrency workers running processor.
func New(ctx context.Context, concurrency int, logger *slog.Logger, journal *storage.Journal, processor Processor) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		processor: processor,
		log:       logger,
		jobs:      make(chan Job, concurrency*2),
		cancel:    cancel,
		done:      ctx.Done(),
		journal:   journal,
		subs:      make(map[int]chan Result),
	}
	for i := 0; i < concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	return p
}

// Submit queues a job, waiting for room in the queue until ctx is done or
// the pipeline stops.
func (p *Pipeline) Submit(ctx context.Context, job Job) error {
	if job.ID == "" {
		job.ID = NewID(string(job.Type))
	}
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	if err := p.journal.RecordJobQueued(jobRecord(job)); err != nil {
		p.log.Warn("failed to journal job", "id", job.ID, "error", err)
	}

	var err error
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		err = ctx.Err()
	case <-p.done:
		err = ErrStopped
	}
	p.abandon(job)
	return err
}

// abandon marks a job that never reached a worker as cancelled.
func (p *Pipeline) abandon(job Job) {
	if err := p.journal.RecordJobResult(job.ID, storage.StatusCancelled, nil, ""); err != nil {
		p.log.Warn("failed to journal job result", "id", job.ID, "error", err)
	}
}

// Stop signals workers to exit and waits for completion. Jobs still queued
// are journaled as cancelled.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()
		p.cancel()
		p.wg.Wait()
	drain:
		for {
			select {
			case job := <-p.jobs:
				p.abandon(job)
			default:
				break drain
			}
		}
		p.mu.Lock()
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	})
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.jobs:
			res := execute(ctx, p.log, p.journal, job, func(ctx context.Context) (map[string]any, error) {
				res := p.processor.Process(ctx, job)
				return res.Meta, res.Error
			})
			p.broadcast(res)
		}
	}
}

// Subscribe returns a channel for receiving job results and an unsubscribe function.
func (p *Pipeline) Subscribe() (<-chan Result, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Result, 8)
	p.subs[id] = ch
	unsub := func() {
		p.mu.Lock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	}
	return ch, unsub
}

func (p *Pipeline) broadcast(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- res:
		default:
			p.log.Warn("result channel full", "subscriber", id, "job", res.Job.ID)
		}
	}
}

// execute runs fn as a journaled job with start, completion and failure
// logging. Cancellation is recorded as its own status and is not an error.
func execute(ctx context.Context, log *slog.Logger, journal *storage.Journal, job Job, fn func(context.Context) (map[string]any, error)) Result {
	start := time.Now()
	logging.LogJobStart(log, string(job.Type), job.ID, job.Input, job.Options)
	if err := journal.RecordJobStart(job.ID); err != nil {
		log.Warn("failed to journal job start", "id", job.ID, "error", err)
	}

	meta, err := fn(ctx)
	duration := time.Since(start)

	status := storage.StatusCompleted
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		status = storage.StatusCancelled
		log.Info("job cancelled", "type", job.Type, "id", job.ID, "duration_ms", duration.Milliseconds())
		err = nil
	case err != nil:
		status = storage.StatusFailed
		logging.LogJobError(log, string(job.Type), job.ID, duration, err, map[string]any{
			"input":   job.Input,
			"options": job.Options,
		})
	default:
		logging.LogJobComplete(log, string(job.Type), job.ID, duration, meta)
	}

	if jerr := journal.RecordJobResult(job.ID, status, meta, errString(err)); jerr != nil {
		log.Warn("failed to journal job result", "id", job.ID, "error", jerr)
	}
	return Result{Job: job, Error: err, Meta: meta}
}

func jobRecord(job Job) storage.JobRecord {
	optsJSON, _ := json.Marshal(job.Options)
	return storage.JobRecord{
		ID:          job.ID,
		JobType:     string(job.Type),
		Status:      storage.StatusQueued,
		InputPath:   job.Input,
		OptionsJSON: string(optsJSON),
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
