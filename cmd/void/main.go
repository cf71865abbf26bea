package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"void/internal/cli"
	"void/internal/config"
	"void/internal/fsutil"
	"void/internal/logging"
	"void/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx))
}

func run(ctx context.Context) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	log := logging.New(os.Stderr, slog.LevelWarn, "void")

	journal, err := storage.OpenJournal(fsutil.ExpandUser(cfg.Paths.JournalPath))
	if err != nil {
		log.Warn("job journal unavailable", "path", cfg.Paths.JournalPath, "error", err)
		journal = nil
	}
	defer journal.Close()

	if err := cli.NewRootCmd(cfg, log, journal).ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}
