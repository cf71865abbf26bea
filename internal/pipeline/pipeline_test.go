package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"void/internal/archive"
	"void/internal/fits"
	"void/internal/storage"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openJournal(t *testing.T) *storage.Journal {
	t.Helper()
	j, err := storage.OpenJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestLinesSkipsBlankAndContinuesAfterErrors(t *testing.T) {
	r := &Runner{Log: quietLogger()}
	in := strings.NewReader("one\n\n  \nbad\nthree\n")

	var seen []string
	counts, err := r.Lines(context.Background(), "write", in, func(ctx context.Context, line string) error {
		if line == "bad" {
			return errors.New("malformed")
		}
		seen = append(seen, line)
		return nil
	})
	if err != nil {
		t.Fatalf("lines: %v", err)
	}
	if strings.Join(seen, ",") != "one,three" {
		t.Fatalf("unexpected lines %v", seen)
	}
	if counts != (Counts{OK: 2, Skipped: 2, Failed: 1}) {
		t.Fatalf("unexpected counts %+v", counts)
	}
}

func TestLinesStopsOnCancel(t *testing.T) {
	r := &Runner{Log: quietLogger()}
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.Lines(ctx, "write", pr, func(ctx context.Context, line string) error {
			cancel()
			return nil
		})
		done <- err
	}()

	pw.Write([]byte("first\n"))
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("cancellation should not be an error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("loop did not stop after cancellation")
	}
}

func TestRunnerJournalsOutcome(t *testing.T) {
	j := openJournal(t)
	r := &Runner{Log: quietLogger(), Journal: j}

	if err := r.Run(context.Background(), Job{ID: "write-ok", Type: JobWrite, Input: "stdin"}, func(ctx context.Context) (map[string]any, error) {
		return map[string]any{"ok": 3}, nil
	}); err != nil {
		t.Fatalf("run: %v", err)
	}
	boom := errors.New("connection refused")
	if err := r.Run(context.Background(), Job{ID: "write-bad", Type: JobWrite}, func(ctx context.Context) (map[string]any, error) {
		return nil, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected failure to propagate, got %v", err)
	}
	if err := r.Run(context.Background(), Job{ID: "write-cancel", Type: JobWrite}, func(ctx context.Context) (map[string]any, error) {
		return nil, context.Canceled
	}); err != nil {
		t.Fatalf("cancellation should not be an error: %v", err)
	}

	jobs, err := j.RecentJobs(10)
	if err != nil {
		t.Fatal(err)
	}
	status := map[string]string{}
	for _, rec := range jobs {
		status[rec.ID] = rec.Status
	}
	want := map[string]string{
		"write-ok":     storage.StatusCompleted,
		"write-bad":    storage.StatusFailed,
		"write-cancel": storage.StatusCancelled,
	}
	for id, s := range want {
		if status[id] != s {
			t.Fatalf("job %s: got status %q want %q", id, status[id], s)
		}
	}
}

func TestNewID(t *testing.T) {
	a, b := NewID("select"), NewID("select")
	if !strings.HasPrefix(a, "select-") || a == b {
		t.Fatalf("unexpected ids %q %q", a, b)
	}
}

type stubProcessor struct {
	calls chan Job
}

func (s *stubProcessor) Process(ctx context.Context, job Job) Result {
	s.calls <- job
	if job.Input == "fail" {
		return Result{Job: job, Error: errors.New("bad header")}
	}
	return Result{Job: job, Meta: map[string]any{"path": job.Input}}
}

func TestPipelineBroadcastsResults(t *testing.T) {
	j := openJournal(t)
	proc := &stubProcessor{calls: make(chan Job, 4)}
	p := New(context.Background(), 1, quietLogger(), j, proc)
	defer p.Stop()

	results, unsubscribe := p.Subscribe()
	defer unsubscribe()

	if err := p.Submit(context.Background(), Job{Type: JobIngest, Input: "/data/a.fit"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := p.Submit(context.Background(), Job{Type: JobIngest, Input: "fail"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	var got []Result
	for len(got) < 2 {
		select {
		case res := <-results:
			got = append(got, res)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for results")
		}
	}
	if got[0].Error != nil || got[0].Meta["path"] != "/data/a.fit" {
		t.Fatalf("unexpected first result %+v", got[0])
	}
	if got[1].Error == nil {
		t.Fatalf("expected failure for second job")
	}
	payload, err := got[1].MarshalJSON()
	if err != nil || !strings.Contains(string(payload), `"error":"bad header"`) {
		t.Fatalf("unexpected payload %s (%v)", payload, err)
	}
	if !strings.HasPrefix(got[0].Job.ID, "ingest-") {
		t.Fatalf("expected generated id, got %q", got[0].Job.ID)
	}
}

func TestPipelineStopReleasesWorkers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	proc := &stubProcessor{calls: make(chan Job, 4)}
	p := New(context.Background(), 3, quietLogger(), nil, proc)
	results, _ := p.Subscribe()

	if err := p.Submit(context.Background(), Job{Type: JobIngest, Input: "/data/a.fit"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-proc.calls
	p.Stop()
	p.Stop()

	for range results {
	}
	if err := p.Submit(context.Background(), Job{Type: JobIngest, Input: "/data/b.fit"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped after Stop, got %v", err)
	}
}

type slowProcessor struct {
	delay time.Duration
	done  chan string
}

func (s *slowProcessor) Process(ctx context.Context, job Job) Result {
	time.Sleep(s.delay)
	s.done <- job.Input
	return Result{Job: job}
}

func TestPipelineSubmitWaitsForQueueRoom(t *testing.T) {
	proc := &slowProcessor{delay: 50 * time.Millisecond, done: make(chan string, 20)}
	p := New(context.Background(), 2, quietLogger(), openJournal(t), proc)
	defer p.Stop()

	for i := 0; i < 20; i++ {
		if err := p.Submit(context.Background(), Job{Type: JobIngest, Input: fmt.Sprintf("/data/%02d.fit", i)}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	seen := make(map[string]bool)
	for len(seen) < 20 {
		select {
		case in := <-proc.done:
			seen[in] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of 20 jobs processed", len(seen))
		}
	}
}

func TestPipelineSubmitHonoursContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	proc := &blockingProcessor{release: block}
	p := New(context.Background(), 1, quietLogger(), nil, proc)
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	var err error
	for i := 0; i < 10 && err == nil; i++ {
		err = p.Submit(ctx, Job{Type: JobIngest, Input: "/data/a.fit"})
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error once the queue is full, got %v", err)
	}
}

type blockingProcessor struct {
	release <-chan struct{}
}

func (b *blockingProcessor) Process(ctx context.Context, job Job) Result {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return Result{Job: job}
}

type recordingBackend struct {
	stmts []string
	args  [][]any
}

func (b *recordingBackend) Execute(ctx context.Context, stmt string, args ...any) error {
	b.stmts = append(b.stmts, stmt)
	b.args = append(b.args, args)
	return nil
}

func (b *recordingBackend) Query(ctx context.Context, stmt string, args ...any) (storage.Rows, error) {
	return nil, errors.New("not implemented")
}

func writeFrame(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frame.fit")
	h := &fits.Header{Cards: []fits.Card{
		fits.NewValueCard("SIMPLE", "T", ""),
		fits.NewValueCard("BITPIX", "8", ""),
		fits.NewValueCard("NAXIS", "2", ""),
		fits.NewValueCard("NAXIS1", "200", ""),
		fits.NewValueCard("NAXIS2", "100", ""),
		fits.NewStringCard("DATE-OBS", "2019-04-24T10:07:28", ""),
		fits.NewValueCard("EXPTIME", "5.0", ""),
		fits.NewValueCard("CRVAL1", "10.0", ""),
		fits.NewValueCard("CRVAL2", "20.0", ""),
		fits.NewValueCard("CDELT1", "0.01", ""),
		fits.NewValueCard("CDELT2", "0.01", ""),
		fits.NewValueCard("CROTA2", "0", ""),
	}}
	if err := fits.WriteFile(path, h, make([]byte, 200*100)); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	return path
}

func TestReduce(t *testing.T) {
	path := writeFrame(t)
	red, err := Reduce(path, "VID")
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if red.Record.Observer != "VID" || red.Record.Exposure != 5 {
		t.Fatalf("unexpected record %+v", red.Record)
	}
	want := [][2]float64{{9, 19.5}, {9, 20.5}, {11, 19.5}, {11, 20.5}}
	for i, p := range red.Record.Polygon {
		if math.Abs(p[0]-want[i][0]) > 1e-9 || math.Abs(p[1]-want[i][1]) > 1e-9 {
			t.Fatalf("corner %d: got %v want %v", i, p, want[i])
		}
	}
}

func TestIngesterWritesAndMarks(t *testing.T) {
	path := writeFrame(t)
	backend := &recordingBackend{}
	ing := &Ingester{Writer: archive.NewWriter(backend), Observer: "VID", ReducedFlag: "REDUCED"}

	res := ing.Process(context.Background(), Job{ID: "ingest-1", Type: JobIngest, Input: path})
	if res.Error != nil {
		t.Fatalf("process: %v", res.Error)
	}
	if len(backend.stmts) != 1 || !strings.Contains(backend.stmts[0], "INSERT INTO observations") {
		t.Fatalf("unexpected statements %v", backend.stmts)
	}
	h, err := fits.ReadHeaderFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !fits.IsFlagged(h, "REDUCED") {
		t.Fatalf("file was not marked as reduced")
	}

	res = ing.Process(context.Background(), Job{Type: JobSelect})
	if res.Error == nil {
		t.Fatalf("expected error for unsupported job type")
	}
}
