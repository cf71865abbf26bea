package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"void/internal/config"
)

// LevelCritical sits above slog.LevelError and is the only level shown at
// verbosity 0.
const LevelCritical = slog.Level(12)

// ParseVerbosity maps the 0..4 command line verbosity to a slog level.
func ParseVerbosity(v int) (slog.Level, error) {
	switch v {
	case 0:
		return LevelCritical, nil
	case 1:
		return slog.LevelError, nil
	case 2:
		return slog.LevelWarn, nil
	case 3:
		return slog.LevelInfo, nil
	case 4:
		return slog.LevelDebug, nil
	default:
		return 0, fmt.Errorf("invalid verbosity %d: expected 0..4", v)
	}
}

// New returns a logger writing the traditional layout to w.
func New(w io.Writer, level slog.Level, component string) *slog.Logger {
	return slog.New(NewHandler(w, level, component))
}

// Setup configures global logging on stderr with optional daily file output.
// Stdout is left alone since the pipeline commands write records there.
func Setup(cfg *config.Config, component string) (*slog.Logger, error) {
	level, err := ParseVerbosity(cfg.Logging.Verbosity)
	if err != nil {
		return nil, err
	}

	writers := []io.Writer{os.Stderr}

	if cfg.Logging.FileOutput {
		if err := os.MkdirAll(cfg.Logging.LogDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %v", err)
		}
		logFile := filepath.Join(cfg.Logging.LogDir, fmt.Sprintf("void-%s.log",
			time.Now().Format("2006-01-02")))

		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %v", err)
		}
		writers = append(writers, file)

		currentLogPath := filepath.Join(cfg.Logging.LogDir, "void-current.log")
		os.Remove(currentLogPath)
		_ = os.Symlink(filepath.Base(logFile), currentLogPath)
	}

	logger := New(io.MultiWriter(writers...), level, component)
	slog.SetDefault(logger)

	logger.Debug("logging initialized",
		"verbosity", cfg.Logging.Verbosity,
		"file_output", cfg.Logging.FileOutput,
		"log_dir", cfg.Logging.LogDir,
	)
	return logger, nil
}

// TraditionalHandler implements slog.Handler with the layout
// "LEVEL  time  pid  component  message [k=v ...]".
type TraditionalHandler struct {
	mu        *sync.Mutex
	logger    *log.Logger
	level     slog.Leveler
	component string
	attrs     []slog.Attr
	group     string
}

// NewHandler builds a TraditionalHandler writing to w.
func NewHandler(w io.Writer, level slog.Leveler, component string) *TraditionalHandler {
	return &TraditionalHandler{
		mu:        &sync.Mutex{},
		logger:    log.New(w, "", 0),
		level:     level,
		component: component,
	}
}

func (h *TraditionalHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *TraditionalHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make([]string, 0, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs = append(attrs, formatAttr("", a))
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, formatAttr(h.group, a))
		return true
	})

	msg := r.Message
	if len(attrs) > 0 {
		msg = fmt.Sprintf("%s [%s]", msg, strings.Join(attrs, " "))
	}

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.logger.Printf("%-8s  %s  %d  %s  %s",
		levelName(r.Level), ts.Format("2006-01-02 15:04:05.000"), os.Getpid(), h.component, msg)
	return nil
}

func (h *TraditionalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		clone.attrs = append(clone.attrs, a)
	}
	return &clone
}

func (h *TraditionalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if clone.group != "" {
		clone.group += "." + name
	} else {
		clone.group = name
	}
	return &clone
}

func formatAttr(group string, a slog.Attr) string {
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	return fmt.Sprintf("%s=%v", key, a.Value.Resolve())
}

func levelName(l slog.Level) string {
	if l >= LevelCritical {
		return "CRITICAL"
	}
	return strings.ToUpper(l.String())
}

// LogJobStart logs the beginning of a pipeline run.
func LogJobStart(logger *slog.Logger, jobType, jobID, input string, options map[string]any) {
	logger.Info("job started",
		"type", jobType,
		"id", jobID,
		"input", input,
		"options", options,
	)
}

// LogJobComplete logs successful run completion.
func LogJobComplete(logger *slog.Logger, jobType, jobID string, duration time.Duration, resultInfo map[string]any) {
	logger.Info("job completed successfully",
		"type", jobType,
		"id", jobID,
		"duration_ms", duration.Milliseconds(),
		"duration_human", duration.String(),
		"result", resultInfo,
	)
}

// LogJobError logs run failures.
func LogJobError(logger *slog.Logger, jobType, jobID string, duration time.Duration, err error, context map[string]any) {
	logger.Error("job failed",
		"type", jobType,
		"id", jobID,
		"duration_ms", duration.Milliseconds(),
		"error", err.Error(),
		"context", context,
	)
}
