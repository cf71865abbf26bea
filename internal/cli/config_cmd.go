package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"void/internal/config"
	"void/internal/fits"
)

func (r *Root) cmdConfig(ctx context.Context, args []string) error {
	_ = ctx
	if len(args) == 0 {
		return r.configShow()
	}
	switch args[0] {
	case "show":
		return r.configShow()
	default:
		return fmt.Errorf("unknown config command: %s", args[0])
	}
}

func (r *Root) configShow() error {
	fmt.Fprintf(r.stdout, "# config file: %s\n", config.Path())
	enc := json.NewEncoder(r.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(r.cfg.Redacted())
}

func (r *Root) cmdVersion() error {
	fmt.Fprintf(r.stdout, "void %s (%s, %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	return nil
}

func (r *Root) cmdJobs(ctx context.Context, limit int, asJSON bool) error {
	if r.journal == nil {
		return fmt.Errorf("job journal is not available")
	}
	_ = ctx
	jobs, err := r.journal.RecentJobs(limit)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(r.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	}

	tw := tabwriter.NewWriter(r.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tCREATED\tDURATION\tINPUT")
	for _, j := range jobs {
		duration := "-"
		if j.StartedAt != nil && j.CompletedAt != nil {
			duration = j.CompletedAt.Sub(*j.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			j.ID, j.JobType, j.Status, humanize.Time(j.CreatedAt), duration, j.InputPath)
	}
	return tw.Flush()
}

func markReduced(path, flag string) error {
	if flag == "" {
		return nil
	}
	return fits.SetCard(path, flag, "True")
}
