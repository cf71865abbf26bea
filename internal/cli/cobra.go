package cli

import (
	"context"
	"log/slog"

	"void/internal/config"
	"void/internal/logging"
	"void/internal/storage"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

// NewRootCmd creates the root Cobra command
func NewRootCmd(cfg *config.Config, log *slog.Logger, journal *storage.Journal) *cobra.Command {
	return newRootCmd(NewRoot(cfg, log, journal))
}

// Run executes args against a fresh command tree.
func (r *Root) Run(ctx context.Context, args []string) error {
	cmd := newRootCmd(r)
	cmd.SetArgs(args)
	cmd.SetOut(r.stdout)
	return cmd.ExecuteContext(ctx)
}

func newRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "void",
		Short: "VOID archives FITS observations and finds images crossing a path",
		Long: `VOID locates FITS images, reduces their headers to sky footprints, stores them
in a PostGIS archive and selects observations whose footprint and exposure
window intersect a spatio-temporal path.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log, err := logging.Setup(root.cfg, "void-"+cmd.Name())
			if err != nil {
				return err
			}
			root.log = log
			return nil
		},
	}
	rootCmd.PersistentFlags().IntVarP(&root.cfg.Logging.Verbosity, "verbosity", "V", root.cfg.Logging.Verbosity,
		"log verbosity (0 critical, 1 error, 2 warning, 3 info, 4 debug)")

	rootCmd.AddCommand(newSniffCmd(root))
	rootCmd.AddCommand(newReduceCmd(root))
	rootCmd.AddCommand(newWriteCmd(root))
	rootCmd.AddCommand(newSelectCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newFlagCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newInitCmd(root))
	rootCmd.AddCommand(newJobsCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func addSniffFlags(cmd *cobra.Command, root *Root, opts *sniffOptions) {
	cmd.Flags().StringVarP(&opts.timeRange, "time", "t", "", `observation time filter ("<T", ">T" or "[T1,T2]")`)
	cmd.Flags().IntVarP(&opts.maxN, "maxn", "n", 0, "stop after this many files (0 = unlimited)")
	cmd.Flags().StringVarP(&opts.flag, "flag", "f", root.cfg.Sniffer.FlagName, "header flag marking already processed files")
	cmd.Flags().BoolVar(&opts.noFlag, "noflag", false, "ignore processing flags")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "do not set the flag on emitted files")
}

func newSniffCmd(root *Root) *cobra.Command {
	var opts sniffOptions
	cmd := &cobra.Command{
		Use:   "sniff <search_directory>",
		Short: "Print FITS files that have not been processed yet",
		Long: `Recursively list .fit and .fits files under a directory, skipping files that
carry the processing flag or fall outside the time filter. Each emitted file is
flagged unless --dry-run or --noflag is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdSniff(cmd.Context(), args[0], opts)
		},
	}
	addSniffFlags(cmd, root, &opts)
	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var opts sniffOptions
	cmd := &cobra.Command{
		Use:   "watch <search_directory>",
		Short: "Print new FITS files as they appear",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdWatch(cmd.Context(), args[0], opts)
		},
	}
	addSniffFlags(cmd, root, &opts)
	return cmd
}

func newFlagCmd(root *Root) *cobra.Command {
	var flag string
	cmd := &cobra.Command{
		Use:   "flag <directory>",
		Short: "Mark every FITS file under a directory as processed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdFlag(cmd.Context(), args[0], flag)
		},
	}
	cmd.Flags().StringVarP(&flag, "flag", "f", root.cfg.Sniffer.FlagName, "header flag to set")
	return cmd
}

func newReduceCmd(root *Root) *cobra.Command {
	var opts reduceOptions
	cmd := &cobra.Command{
		Use:   "reduce [fits_file...]",
		Short: "Reduce FITS headers to observation records",
		Long: `Read FITS paths from the arguments or, when none are given, one per line from
stdin. For each file print a JSON record with its sky footprint.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdReduce(cmd.Context(), args, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.mark, "mark", false, "set the reduced flag on each file")
	cmd.Flags().BoolVar(&opts.header, "header", false, "print the extracted header metadata instead of records")
	cmd.Flags().StringVar(&opts.observer, "observer", "", "observer used when the header has none")
	return cmd
}

func newWriteCmd(root *Root) *cobra.Command {
	var noCreate bool
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Insert observation records from stdin into the archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdWrite(cmd.Context(), !noCreate)
		},
	}
	cmd.Flags().BoolVar(&noCreate, "no-create", false, "do not create the observations table")
	return cmd
}

func newSelectCmd(root *Root) *cobra.Command {
	var opts selectOptions
	cmd := &cobra.Command{
		Use:   "select",
		Short: "Print archived observations that intersect a path or lie in an area",
		Long: `Select observations by one of:
  --ephemeris FILE   JSON list of [ra, dec, unix_time] vertices ("-" for stdin)
  --ra --dec --time  a fixed sky position observed around a moment
  --area             an RA/Dec box given as RA_MIN,DEC_MIN,RA_MAX,DEC_MAX`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdSelect(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.ephemeris, "ephemeris", "e", "", "ephemeris file")
	cmd.Flags().StringVar(&opts.ra, "ra", "", "right ascension (degrees or sexagesimal)")
	cmd.Flags().StringVar(&opts.dec, "dec", "", "declination (degrees or sexagesimal)")
	cmd.Flags().StringVar(&opts.time, "time", "", "unix seconds or ISO timestamp")
	cmd.Flags().Float64Var(&opts.window, "window", 1, "half width of the time window in hours")
	cmd.Flags().BoolVar(&opts.raHours, "ra-hours", false, "--ra is given in hours")
	cmd.Flags().StringVar(&opts.area, "area", "", "RA_MIN,DEC_MIN,RA_MAX,DEC_MAX")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print matches as JSON objects")
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve archive queries over HTTP",
		Long: `Start the HTTP query service. With --watch, new FITS files under the directory
are reduced and written to the archive as they appear.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", root.cfg.Server.Addr, "listen address")
	cmd.Flags().StringVar(&opts.watch, "watch", "", "directory to watch for new FITS files")
	cmd.Flags().IntVar(&opts.workers, "workers", 2, "ingest workers")
	cmd.Flags().BoolVar(&opts.mark, "mark", false, "set the reduced flag on ingested files")
	addSniffFlags(cmd, root, &opts.sniff)
	return cmd
}

func newInitCmd(root *Root) *cobra.Command {
	var drop bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the archive database, extensions and observations table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdInit(cmd.Context(), drop)
		},
	}
	cmd.Flags().BoolVar(&drop, "drop", false, "drop the archive database first")
	return cmd
}

func newJobsCmd(root *Root) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent pipeline runs from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdJobs(cmd.Context(), limit, asJSON)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print runs as JSON")
	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config [show]",
		Short: "Show the effective configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdConfig(cmd.Context(), args)
		},
	}
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdVersion()
		},
	}
}
