package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"void/internal/archive"
	"void/internal/config"
	"void/internal/fits"
	"void/internal/fsutil"
	"void/internal/geometry"
	"void/internal/locator"
	"void/internal/metrics"
	"void/internal/pipeline"
	"void/internal/record"
	"void/internal/server"
	"void/internal/storage"
)

// archiveDB is an open archive connection.
type archiveDB interface {
	storage.Backend
	Close() error
}

type dbOpener func(ctx context.Context, cfg *config.Config, log *slog.Logger) (archiveDB, error)

type serverFunc func(ctx context.Context, opts server.Options) error

func defaultOpen(ctx context.Context, cfg *config.Config, log *slog.Logger) (archiveDB, error) {
	return storage.Open(ctx, cfg.Database, log, storage.Options{LogSQL: cfg.Logging.SQL})
}

func defaultServe(ctx context.Context, opts server.Options) error {
	return server.New(opts).Start(ctx)
}

// Root holds the dependencies shared by all commands.
type Root struct {
	cfg      *config.Config
	log      *slog.Logger
	journal  *storage.Journal
	metrics  *metrics.Metrics
	stdin    io.Reader
	stdout   io.Writer
	openDB   dbOpener
	ensureDB func(ctx context.Context, cfg config.Database) (bool, error)
	dropDB   func(ctx context.Context, cfg config.Database) error
	serveFn  serverFunc
}

// NewRoot constructs the command root. journal may be nil.
func NewRoot(cfg *config.Config, logger *slog.Logger, journal *storage.Journal) *Root {
	m, err := metrics.New(nil)
	if err != nil {
		logger.Warn("metrics disabled", "error", err)
	}
	return &Root{
		cfg:      cfg,
		log:      logger,
		journal:  journal,
		metrics:  m,
		stdin:    os.Stdin,
		stdout:   os.Stdout,
		openDB:   defaultOpen,
		ensureDB: storage.EnsureDatabase,
		dropDB:   storage.DropDatabase,
		serveFn:  defaultServe,
	}
}

func (r *Root) runner() *pipeline.Runner {
	return &pipeline.Runner{Log: r.log, Journal: r.journal, Metrics: r.metrics}
}

func (r *Root) println(s string) error {
	_, err := fmt.Fprintln(r.stdout, s)
	return err
}

type sniffOptions struct {
	timeRange string
	maxN      int
	flag      string
	noFlag    bool
	dryRun    bool
}

func (o sniffOptions) sniffer(dir string, log *slog.Logger) (*locator.Sniffer, error) {
	tf, err := locator.ParseTimeFilter(o.timeRange)
	if err != nil {
		return nil, err
	}
	if o.maxN < 0 {
		return nil, fmt.Errorf("--maxn must not be negative")
	}
	flag := o.flag
	if o.noFlag {
		flag = locator.DisabledFlag
	}
	if flag != "" && flag != locator.DisabledFlag {
		if err := fits.CheckKeyword(flag); err != nil {
			return nil, fmt.Errorf("--flag: %w", err)
		}
	}
	return &locator.Sniffer{
		SearchDir:  dir,
		MaxN:       o.maxN,
		TimeRange:  tf,
		FlagName:   flag,
		UpdateFlag: !o.dryRun,
		Logger:     log,
	}, nil
}

func (r *Root) cmdSniff(ctx context.Context, dir string, opts sniffOptions) error {
	s, err := opts.sniffer(dir, r.log)
	if err != nil {
		return err
	}
	job := pipeline.Job{Type: pipeline.JobSniff, Input: dir, Options: map[string]any{
		"time": opts.timeRange, "maxn": opts.maxN, "flag": s.FlagName, "update_flag": s.UpdateFlag,
	}}
	return r.runner().Run(ctx, job, func(ctx context.Context) (map[string]any, error) {
		found := 0
		err := s.Each(ctx, func(path string) error {
			found++
			r.metrics.RecordItem(string(pipeline.JobSniff), metrics.OutcomeOK)
			return r.println(path)
		})
		return map[string]any{"found": found}, err
	})
}

func (r *Root) cmdWatch(ctx context.Context, dir string, opts sniffOptions) error {
	s, err := opts.sniffer(dir, r.log)
	if err != nil {
		return err
	}
	w, err := locator.NewWatcher(s)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	for path := range w.Paths {
		if err := r.println(path); err != nil {
			return err
		}
	}
	return <-done
}

// cmdFlag marks every FITS file under dir as processed, whatever its state.
func (r *Root) cmdFlag(ctx context.Context, dir, flag string) error {
	if flag == "" || flag == locator.DisabledFlag {
		return fmt.Errorf("a flag name is required")
	}
	if err := fits.CheckKeyword(flag); err != nil {
		return fmt.Errorf("--flag: %w", err)
	}
	job := pipeline.Job{Type: pipeline.JobFlag, Input: dir, Options: map[string]any{"flag": flag}}
	return r.runner().Run(ctx, job, func(ctx context.Context) (map[string]any, error) {
		files, err := fsutil.ListFITS(dir)
		if err != nil {
			return nil, err
		}
		var counts pipeline.Counts
		for _, path := range files {
			if err := ctx.Err(); err != nil {
				return counts.Meta(), err
			}
			if err := fits.SetCard(path, flag, "True"); err != nil {
				r.log.Warn("failed to flag file", "path", path, "error", err)
				r.metrics.RecordItem(string(pipeline.JobFlag), metrics.OutcomeFailed)
				counts.Failed++
				continue
			}
			r.metrics.RecordItem(string(pipeline.JobFlag), metrics.OutcomeOK)
			counts.OK++
			if err := r.println(path); err != nil {
				return counts.Meta(), err
			}
		}
		return counts.Meta(), nil
	})
}

type reduceOptions struct {
	mark     bool
	header   bool
	observer string
}

func (r *Root) cmdReduce(ctx context.Context, paths []string, opts reduceOptions) error {
	observer := opts.observer
	if observer == "" {
		observer = r.cfg.Observer
	}
	input := "stdin"
	if len(paths) > 0 {
		input = strings.Join(paths, ",")
	}
	job := pipeline.Job{Type: pipeline.JobReduce, Input: input, Options: map[string]any{
		"mark": opts.mark, "header": opts.header, "observer": observer,
	}}

	handle := func(ctx context.Context, path string) error {
		path = strings.TrimSpace(path)
		red, err := pipeline.Reduce(path, observer)
		if err != nil {
			return err
		}
		var line string
		if opts.header {
			line, err = record.Encode(red.Header)
		} else {
			line, err = record.Encode(red.Record)
		}
		if err != nil {
			return err
		}
		if err := r.println(line); err != nil {
			return err
		}
		if opts.mark {
			if err := markReduced(path, r.cfg.Sniffer.ReducedFlag); err != nil {
				return err
			}
		}
		return nil
	}

	return r.runner().Run(ctx, job, func(ctx context.Context) (map[string]any, error) {
		in := r.stdin
		if len(paths) > 0 {
			in = strings.NewReader(strings.Join(paths, "\n"))
		}
		counts, err := r.runner().Lines(ctx, string(pipeline.JobReduce), in, handle)
		return counts.Meta(), err
	})
}

func (r *Root) cmdWrite(ctx context.Context, createTable bool) error {
	job := pipeline.Job{Type: pipeline.JobWrite, Input: "stdin", Options: map[string]any{
		"database": r.cfg.Database.DatabaseName(),
	}}
	return r.runner().Run(ctx, job, func(ctx context.Context) (map[string]any, error) {
		db, err := r.openDB(ctx, r.cfg, r.log)
		if err != nil {
			return nil, err
		}
		defer db.Close()

		w := archive.NewWriter(db)
		if createTable {
			if err := w.CreateTable(ctx); err != nil {
				return nil, err
			}
		}
		counts, err := r.runner().Lines(ctx, string(pipeline.JobWrite), r.stdin, func(ctx context.Context, line string) error {
			rec, err := w.InsertLine(ctx, line)
			if err != nil {
				return err
			}
			r.log.Info("inserted observation", "path", rec.Path)
			return nil
		})
		return counts.Meta(), err
	})
}

type selectOptions struct {
	ephemeris string
	ra        string
	dec       string
	time      string
	window    float64
	raHours   bool
	area      string
	json      bool
}

func (o selectOptions) mode() (string, error) {
	modes := 0
	mode := ""
	if o.ephemeris != "" {
		modes++
		mode = "ephemeris"
	}
	if o.ra != "" || o.dec != "" || o.time != "" {
		modes++
		mode = "fixed"
	}
	if o.area != "" {
		modes++
		mode = "area"
	}
	if modes != 1 {
		return "", fmt.Errorf("choose exactly one of --ephemeris, --ra/--dec/--time or --area")
	}
	return mode, nil
}

func (r *Root) cmdSelect(ctx context.Context, opts selectOptions) error {
	mode, err := opts.mode()
	if err != nil {
		return err
	}

	var path []geometry.Vertex
	var area geometry.Area
	switch mode {
	case "ephemeris":
		path, err = r.readEphemeris(opts.ephemeris)
	case "fixed":
		path, err = fixedPointPath(opts)
	case "area":
		area, err = parseArea(opts.area)
	}
	if err != nil {
		return err
	}

	job := pipeline.Job{Type: pipeline.JobSelect, Input: mode, Options: map[string]any{
		"ephemeris": opts.ephemeris, "ra": opts.ra, "dec": opts.dec, "time": opts.time,
		"window": opts.window, "area": opts.area,
	}}
	return r.runner().Run(ctx, job, func(ctx context.Context) (map[string]any, error) {
		db, err := r.openDB(ctx, r.cfg, r.log)
		if err != nil {
			return nil, err
		}
		defer db.Close()

		sel := archive.NewSelector(db)
		var matches []archive.Match
		if mode == "area" {
			matches, err = sel.FindWithinArea(ctx, area)
		} else {
			matches, err = sel.FindIntersecting(ctx, path)
		}
		if storage.IsUndefinedTable(err) {
			r.log.Warn("archive has no observations table yet, nothing to select", "database", r.cfg.Database.DatabaseName())
			return map[string]any{"matches": 0}, nil
		}
		if err != nil {
			return nil, err
		}

		for _, m := range matches {
			line := m.Path
			if opts.json {
				if line, err = record.Encode(m); err != nil {
					return nil, err
				}
			}
			if err := r.println(line); err != nil {
				return nil, err
			}
		}
		return map[string]any{"matches": len(matches)}, nil
	})
}

func (r *Root) readEphemeris(src string) ([]geometry.Vertex, error) {
	if src == "-" {
		return archive.DecodeEphemeris(r.stdin)
	}
	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return archive.DecodeEphemeris(f)
}

func fixedPointPath(opts selectOptions) ([]geometry.Vertex, error) {
	if opts.ra == "" || opts.dec == "" || opts.time == "" {
		return nil, fmt.Errorf("--ra, --dec and --time are required together")
	}
	if opts.window < 0 {
		return nil, fmt.Errorf("--window must not be negative")
	}
	ra, err := geometry.ParseSexagesimal(opts.ra)
	if err != nil {
		return nil, fmt.Errorf("--ra: %w", err)
	}
	if opts.raHours {
		ra = geometry.HoursToDegrees(ra)
	}
	dec, err := geometry.ParseSexagesimal(opts.dec)
	if err != nil {
		return nil, fmt.Errorf("--dec: %w", err)
	}
	t, err := parseTime(opts.time)
	if err != nil {
		return nil, fmt.Errorf("--time: %w", err)
	}
	return archive.FixedPointPath(ra, dec, t, opts.window*3600), nil
}

// parseTime accepts Unix seconds or an ISO-8601 timestamp.
func parseTime(s string) (float64, error) {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	t, err := record.ParseDateObs(s)
	if err != nil {
		return 0, err
	}
	return record.UnixSeconds(t), nil
}

// parseArea parses "RA_MIN,DEC_MIN,RA_MAX,DEC_MAX".
func parseArea(s string) (geometry.Area, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return geometry.Area{}, fmt.Errorf("--area: expected RA_MIN,DEC_MIN,RA_MAX,DEC_MAX")
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geometry.Area{}, fmt.Errorf("--area: %w", err)
		}
		v[i] = f
	}
	a := geometry.Area{
		LowerLeft:  geometry.Point{X: v[0], Y: v[1]},
		UpperRight: geometry.Point{X: v[2], Y: v[3]},
	}
	return a, a.Validate()
}

type serveOptions struct {
	addr    string
	watch   string
	workers int
	mark    bool
	sniff   sniffOptions
}

func (r *Root) cmdServe(ctx context.Context, opts serveOptions) error {
	db, err := r.openDB(ctx, r.cfg, r.log)
	if err != nil {
		return err
	}
	defer db.Close()

	srvOpts := server.Options{
		Addr:     opts.addr,
		Journal:  r.journal,
		Selector: archive.NewSelector(db),
		Metrics:  r.metrics,
		Log:      r.log,
	}

	if opts.watch != "" {
		writer := archive.NewWriter(db)
		if err := writer.CreateTable(ctx); err != nil {
			return err
		}
		s, err := opts.sniff.sniffer(opts.watch, r.log)
		if err != nil {
			return err
		}
		w, err := locator.NewWatcher(s)
		if err != nil {
			return err
		}
		ing := &pipeline.Ingester{Writer: writer, Observer: r.cfg.Observer, Metrics: r.metrics}
		if opts.mark {
			ing.ReducedFlag = r.cfg.Sniffer.ReducedFlag
		}
		pipe := pipeline.New(ctx, opts.workers, r.log, r.journal, ing)
		defer pipe.Stop()
		srvOpts.Pipeline = pipe
		srvOpts.Watcher = w
	}
	return r.serveFn(ctx, srvOpts)
}

func (r *Root) cmdInit(ctx context.Context, drop bool) error {
	job := pipeline.Job{Type: pipeline.JobInit, Input: r.cfg.Database.DatabaseName(), Options: map[string]any{"drop": drop}}
	return r.runner().Run(ctx, job, func(ctx context.Context) (map[string]any, error) {
		if drop {
			if err := r.dropDB(ctx, r.cfg.Database); err != nil {
				return nil, err
			}
		}
		created, err := r.ensureDB(ctx, r.cfg.Database)
		if err != nil {
			return nil, err
		}
		db, err := r.openDB(ctx, r.cfg, r.log)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		if err := archive.CreateTable(ctx, db); err != nil {
			return nil, err
		}
		r.log.Info("archive ready", "database", r.cfg.Database.DatabaseName(), "created", created)
		return map[string]any{"created": created}, nil
	})
}
