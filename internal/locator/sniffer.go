package locator

import (
	"context"
	"fmt"
	"log/slog"

	"void/internal/fits"
	"void/internal/fsutil"
	"void/internal/record"
)

// DisabledFlag turns off the header flag check.
const DisabledFlag = "0"

// Sniffer finds FITS files that have not been ingested yet.
type Sniffer struct {
	SearchDir  string
	MaxN       int // 0 means unlimited
	TimeRange  TimeFilter
	FlagName   string
	UpdateFlag bool
	Logger     *slog.Logger
}

// Find walks SearchDir in lexical order and returns the files passing
// Validate. When UpdateFlag is set each returned file gets its flag card set.
func (s *Sniffer) Find(ctx context.Context) ([]string, error) {
	var out []string
	err := s.Each(ctx, func(path string) error {
		out = append(out, path)
		return nil
	})
	return out, err
}

// Each calls fn for every accepted file, stopping after MaxN files.
func (s *Sniffer) Each(ctx context.Context, fn func(path string) error) error {
	files, err := fsutil.ListFITS(s.SearchDir)
	if err != nil {
		return fmt.Errorf("walk %s: %w", s.SearchDir, err)
	}

	count := 0
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.MaxN > 0 && count >= s.MaxN {
			break
		}
		ok, err := s.Validate(path)
		if err != nil {
			s.logger().Warn("skipping unreadable file", "path", path, "error", err)
			continue
		}
		if !ok {
			continue
		}
		if s.UpdateFlag && s.flagEnabled() {
			if err := fits.SetCard(path, s.FlagName, "True"); err != nil {
				s.logger().Error("failed to flag file", "path", path, "error", err)
				continue
			}
		}
		count++
		if err := fn(path); err != nil {
			return err
		}
	}
	return nil
}

// Validate reports whether a FITS file is unflagged and within the time range.
func (s *Sniffer) Validate(path string) (bool, error) {
	if !fsutil.IsFITSFile(path) {
		return false, nil
	}
	if !s.flagEnabled() && s.TimeRange.IsZero() {
		return true, nil
	}

	h, err := fits.ReadHeaderFile(path)
	if err != nil {
		return false, err
	}
	if s.flagEnabled() && fits.IsFlagged(h, s.FlagName) {
		s.logger().Debug("already flagged", "path", path, "flag", s.FlagName)
		return false, nil
	}
	if s.TimeRange.IsZero() {
		return true, nil
	}

	dateObs, err := h.String("DATE-OBS")
	if err != nil {
		return false, err
	}
	t, err := record.ParseDateObs(dateObs)
	if err != nil {
		return false, err
	}
	return s.TimeRange.Match(t), nil
}

func (s *Sniffer) flagEnabled() bool {
	return s.FlagName != "" && s.FlagName != DisabledFlag
}

func (s *Sniffer) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
