package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"connectomix/adapters/bids"
	"connectomix/adapters/excel"
	"connectomix/adapters/nifti"
	"connectomix/adapters/npy"
	"connectomix/adapters/postgres"
	"connectomix/adapters/report"
	"connectomix/app"
	"connectomix/internal"
	"connectomix/internal/config"
	"connectomix/internal/testkit"
	"connectomix/ports"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "connectomix",
		Short: "Functional connectivity analysis for preprocessed fMRI derivatives",
	}

	rootCmd.AddCommand(
		newParticipantCmd(),
		newConfigInitCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newParticipantCmd() *cobra.Command {
	var configFile string
	var participants, tasks, sessions, runLabels, spaces []string
	var method string
	var workers int

	cmd := &cobra.Command{
		Use:   "participant [derivatives-dir] [output-dir]",
		Short: "Compute connectivity for every matching subject run",
		Long: `Run the participant-level connectivity analysis over a derivatives
dataset. Every denoised bold series matching the requested entities is
processed independently: region extraction, censoring, confound
regression, band-pass filtering and connectivity estimation, with
matrices, sidecars and a run report written under output-dir.

Entity flags narrow the selection; an omitted flag matches everything.
Flags override the corresponding lists in the configuration file.

Example: connectomix participant /data/derivatives /data/connectomix --config analysis.yaml --participant-label 01,02 --task rest`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := participantOptions{
				derivativesDir: args[0],
				outputDir:      args[1],
				configFile:     configFile,
				participants:   participants,
				tasks:          tasks,
				sessions:       sessions,
				runs:           runLabels,
				spaces:         spaces,
				method:         method,
				workers:        workers,
			}
			return runParticipant(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "YAML analysis configuration file")
	cmd.Flags().StringSliceVar(&participants, "participant-label", nil, "Subjects to process (sub- prefix optional)")
	cmd.Flags().StringSliceVar(&tasks, "task", nil, "Tasks to process")
	cmd.Flags().StringSliceVar(&sessions, "session", nil, "Sessions to process")
	cmd.Flags().StringSliceVar(&runLabels, "run", nil, "Run indices to process")
	cmd.Flags().StringSliceVar(&spaces, "space", nil, "Template spaces to process")
	cmd.Flags().StringVar(&method, "method", "", "Override the configured method (seedToVoxel|roiToVoxel|seedToSeed|roiToRoi)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Parallel subject runs (default: WORKERS env or CPU count)")

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config-init [path]",
		Short: "Write a commented default configuration file",
		Long: `Write the default participant-level configuration as a commented YAML
file, ready to edit. Refuses to overwrite an existing file.

Example: connectomix config-init analysis.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteDefault(args[0]); err != nil {
				return err
			}
			fmt.Printf("Wrote default configuration to %s\n", args[0])
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the connectomix version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(internal.Version)
		},
	}
}

type participantOptions struct {
	derivativesDir string
	outputDir      string
	configFile     string
	participants   []string
	tasks          []string
	sessions       []string
	runs           []string
	spaces         []string
	method         string
	workers        int
}

func runParticipant(ctx context.Context, opts participantOptions) error {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return err
	}
	applyOverrides(cfg, opts)
	if err := cfg.Validate(); err != nil {
		return err
	}

	env := config.LoadEnvironment()
	if opts.workers > 0 {
		env.Workers = opts.workers
	}

	logger := internal.NewDefaultLogger()

	codec := nifti.NewCodec(logger)
	tables := bids.NewTables(logger)
	store := npy.NewStore(logger)
	layout := bids.NewLayout(opts.outputDir)

	service, err := app.NewParticipantService(app.Deps{
		Volumes:   codec,
		Tables:    tables,
		Series:    tables,
		Masks:     store,
		Matrices:  store,
		Sidecars:  bids.NewSidecarWriter(),
		Workbooks: excel.NewExporter(logger),
	}, layout, cfg, env.Workers, logger)
	if err != nil {
		return err
	}

	archive, db, err := openArchive(ctx, env, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	runner := app.NewRunner(app.RunnerDeps{
		Walker:   bids.NewWalker(opts.derivativesDir, logger),
		Layout:   layout,
		Resolver: app.NewRegionResolver(codec, tables, logger),
		Service:  service,
		Ledger:   testkit.NewInMemoryLedger(),
		Archive:  archive,
		Reporter: report.NewGenerator(logger),
	}, cfg, env, logger)

	result, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("\n=== ANALYSIS RESULTS ===\n")
	fmt.Printf("Invocation: %s\n", result.Invocation)
	fmt.Printf("Runs Processed: %d\n", result.Total)
	fmt.Printf("Succeeded: %d\n", result.Succeeded)
	if result.Partial > 0 {
		fmt.Printf("Partial: %d\n", result.Partial)
	}
	fmt.Printf("Failed: %d\n", result.Failed)
	if result.ReportPath != "" {
		fmt.Printf("Report: %s\n", result.ReportPath)
	}
	fmt.Printf("Elapsed: %s\n", result.Elapsed.Round(time.Millisecond))

	if result.Failed > 0 {
		fmt.Printf("\n❌ %d of %d runs failed\n", result.Failed, result.Total)
		if db != nil {
			db.Close()
		}
		os.Exit(2)
	}
	return nil
}

// openArchive connects the optional database ledger. Without a
// DATABASE_URL the analysis runs file-only and the archive stays nil.
func openArchive(ctx context.Context, env config.Environment, logger *internal.Logger) (ports.LedgerWriterPort, *sqlx.DB, error) {
	if env.DatabaseURL == "" {
		return nil, nil, nil
	}

	db, err := sqlx.Connect("postgres", env.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	ledger := postgres.NewLedger(db, logger)
	if err := ledger.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to prepare ledger schema: %w", err)
	}
	return ledger, db, nil
}

func applyOverrides(cfg *config.Config, opts participantOptions) {
	if len(opts.participants) > 0 {
		cfg.Subjects = stripPrefix(opts.participants, "sub-")
	}
	if len(opts.tasks) > 0 {
		cfg.Tasks = stripPrefix(opts.tasks, "task-")
	}
	if len(opts.sessions) > 0 {
		cfg.Sessions = stripPrefix(opts.sessions, "ses-")
	}
	if len(opts.runs) > 0 {
		cfg.Runs = stripPrefix(opts.runs, "run-")
	}
	if len(opts.spaces) > 0 {
		cfg.Spaces = stripPrefix(opts.spaces, "space-")
	}
	if opts.method != "" {
		cfg.Method = opts.method
	}
}

// stripPrefix drops the BIDS entity prefix so "sub-01" and "01" both
// select subject 01.
func stripPrefix(values []string, prefix string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.TrimPrefix(v, prefix)
	}
	return out
}
