package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"void/internal/archive"
	"void/internal/geometry"
	"void/internal/locator"
	"void/internal/metrics"
	"void/internal/pipeline"
	"void/internal/record"
	"void/internal/storage"
)

// Querier answers archive queries.
type Querier interface {
	FindIntersecting(ctx context.Context, path []geometry.Vertex) ([]archive.Match, error)
	FindWithinArea(ctx context.Context, area geometry.Area) ([]archive.Match, error)
}

// Options configures a Server. Pipeline and Watcher are optional.
type Options struct {
	Addr     string
	Journal  *storage.Journal
	Selector Querier
	Pipeline *pipeline.Pipeline
	Watcher  *locator.Watcher
	Metrics  *metrics.Metrics
	Log      *slog.Logger
}

// Server exposes the archive over HTTP and optionally ingests watched files.
type Server struct {
	addr     string
	journal  *storage.Journal
	selector Querier
	pipeline *pipeline.Pipeline
	watcher  *locator.Watcher
	metrics  *metrics.Metrics
	log      *slog.Logger
	server   *http.Server
}

// New creates a server from opts.
func New(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		addr:     opts.Addr,
		journal:  opts.Journal,
		selector: opts.Selector,
		pipeline: opts.Pipeline,
		watcher:  opts.Watcher,
		metrics:  opts.Metrics,
		log:      log,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.metrics.Middleware)
	s.setupRoutes(r)
	return r
}

// Start serves until ctx is cancelled. With a watcher and pipeline set, new
// files are queued for ingest; Start returns once forwarding has stopped.
func (s *Server) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if s.watcher != nil && s.pipeline != nil {
		g.Go(func() error {
			return s.watcher.Run(ctx)
		})
		g.Go(func() error {
			s.forwardWatched(ctx)
			return nil
		})
	}

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		<-ctx.Done()
		s.log.Info("shutting down server")

		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctxShutdown)
	})

	g.Go(func() error {
		s.log.Info("server starting", "addr", s.addr)
		if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	return g.Wait()
}

// forwardWatched blocks on a full queue rather than dropping paths the
// watcher has already flagged.
func (s *Server) forwardWatched(ctx context.Context) {
	for path := range s.watcher.Paths {
		if err := s.pipeline.Submit(ctx, pipeline.Job{Type: pipeline.JobIngest, Input: path}); err != nil {
			s.log.Error("failed to queue ingest", "path", path, "error", err)
		}
	}
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	r.HandleFunc("/stream", s.handleJobStream).Methods("GET")
	r.HandleFunc("/ws", s.handleJobSocket).Methods("GET")
	r.HandleFunc("/observations/intersections", s.handleFixedPoint).Methods("GET")
	r.HandleFunc("/observations/intersections", s.handleEphemeris).Methods("POST")
	r.HandleFunc("/observations/within", s.handleWithin).Methods("GET")
	r.Handle("/metrics", s.metrics.Handler()).Methods("GET")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	recs, err := s.journal.RecentJobs(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, recs)
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		http.Error(w, "no ingest pipeline running", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, _ := json.Marshal(res)
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}

func (s *Server) handleFixedPoint(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ra, err := floatParam(q.Get("ra"), "ra")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	dec, err := floatParam(q.Get("dec"), "dec")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	t, err := timeParam(q.Get("time"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	window, err := floatParam(q.Get("window"), "window")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if hours, _ := strconv.ParseBool(q.Get("ra_hours")); hours {
		ra = geometry.HoursToDegrees(ra)
	}
	s.intersect(w, r, archive.FixedPointPath(ra, dec, t, window*3600))
}

func (s *Server) handleEphemeris(w http.ResponseWriter, r *http.Request) {
	path, err := archive.DecodeEphemeris(http.MaxBytesReader(w, r.Body, 16<<20))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.intersect(w, r, path)
}

func (s *Server) intersect(w http.ResponseWriter, r *http.Request, path []geometry.Vertex) {
	start := time.Now()
	matches, err := s.selector.FindIntersecting(r.Context(), path)
	s.metrics.ObserveQuery("intersect", time.Since(start), len(matches), err)
	s.respondMatches(w, matches, err)
}

func (s *Server) handleWithin(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var vals [4]float64
	for i, key := range []string{"ra_min", "dec_min", "ra_max", "dec_max"} {
		v, err := floatParam(q.Get(key), key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		vals[i] = v
	}
	area := geometry.Area{
		LowerLeft:  geometry.Point{X: vals[0], Y: vals[1]},
		UpperRight: geometry.Point{X: vals[2], Y: vals[3]},
	}
	if err := area.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	start := time.Now()
	matches, err := s.selector.FindWithinArea(r.Context(), area)
	s.metrics.ObserveQuery("area", time.Since(start), len(matches), err)
	s.respondMatches(w, matches, err)
}

func (s *Server) respondMatches(w http.ResponseWriter, matches []archive.Match, err error) {
	switch {
	case err == nil:
		if matches == nil {
			matches = []archive.Match{}
		}
		writeJSON(w, matches)
	case errors.Is(err, archive.ErrShortPath):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case storage.IsUndefinedTable(err):
		http.Error(w, "archive is not initialised", http.StatusServiceUnavailable)
	default:
		s.log.Error("query failed", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func floatParam(v, name string) (float64, error) {
	if v == "" {
		return 0, errors.New("missing parameter " + name)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.New("invalid parameter " + name)
	}
	return f, nil
}

// timeParam accepts Unix seconds or an ISO-8601 timestamp.
func timeParam(v string) (float64, error) {
	if v == "" {
		return 0, errors.New("missing parameter time")
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f, nil
	}
	t, err := record.ParseDateObs(v)
	if err != nil {
		return 0, errors.New("invalid parameter time")
	}
	return record.UnixSeconds(t), nil
}
