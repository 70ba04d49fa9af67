// Package main provides the manage-user command line tool
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/memtensor/manageusers/pkg/batch"
	"github.com/memtensor/manageusers/pkg/config"
	"github.com/memtensor/manageusers/pkg/interfaces"
	"github.com/memtensor/manageusers/pkg/logger"
	"github.com/memtensor/manageusers/pkg/metrics"
	"github.com/memtensor/manageusers/pkg/users"
)

// Version information (set by build process)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the command tree and returns the process exit code
func execute(args []string, stdout, stderr io.Writer) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a := &app{}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	a.finish()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// app carries the state shared by all commands of one invocation
type app struct {
	configPath string
	logLevel   string
	dbPath     string
	output     string

	loader  *config.Loader
	cfg     *config.Config
	logger  *logger.ZeroLogger
	metrics interfaces.Metrics
	prom    *metrics.PrometheusMetrics
	manager *users.Manager
	closers []io.Closer
}

// setup loads configuration and builds the logger and metrics.
// Flags take precedence over the file and the environment.
func (a *app) setup() error {
	a.loader = config.NewLoader(a.configPath)
	if a.dbPath != "" {
		a.loader.Set("database.path", a.dbPath)
	}
	if a.logLevel != "" {
		a.loader.Set("logging.level", a.logLevel)
	}

	cfg, err := a.loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.cfg = cfg

	lg, closer, err := logger.NewFromOptions(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = lg
	a.closers = append(a.closers, closer)

	a.metrics = metrics.NewNoOpMetrics()
	if cfg.Metrics.Enabled {
		a.prom = metrics.NewPrometheusMetrics()
		a.metrics = a.prom
	}
	return nil
}

// openManager opens the account database once per invocation
func (a *app) openManager() (*users.Manager, error) {
	if a.manager != nil {
		return a.manager, nil
	}
	manager, err := users.NewManager(a.cfg, a.logger, a.metrics)
	if err != nil {
		return nil, err
	}
	a.manager = manager
	a.closers = append(a.closers, manager)
	return manager, nil
}

// finish writes the metrics textfile and releases resources
func (a *app) finish() {
	if a.prom != nil && a.cfg != nil && a.cfg.Metrics.TextfilePath != "" {
		if err := a.prom.WriteTextfile(a.cfg.Metrics.TextfilePath); err != nil {
			a.logger.Warn("Failed to write metrics textfile", map[string]interface{}{"error": err.Error()})
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
	a.closers = nil
}

func newRootCmd(a *app) *cobra.Command {
	var recordFlags batch.RecordFlags

	root := &cobra.Command{
		Use:   "manage-user USERNAME EMAIL",
		Short: "Create, update or remove a user account idempotently",
		Long: `Brings one account to the requested state: it is created when missing,
its staff and superuser flags are set exactly as given, and its group
membership is replaced by the named groups. With --remove the account is
deleted instead. Running the same command twice changes nothing the second time.

An explicit empty hash must be written as --initial-password-hash= and is rejected.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := recordFlags.Record(cmd.Flags(), args)
			if err != nil {
				return err
			}
			if err := rec.Validate(); err != nil {
				return err
			}

			manager, err := a.openManager()
			if err != nil {
				return err
			}
			outcome, err := manager.Reconcile(cmd.Context(), rec.Identity(), rec.Desired())
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), outcome, func(w io.Writer) { printOutcome(w, outcome) })
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "Path to the sqlite account database")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", "text", "Output format (text, json)")
	recordFlags.AddFlags(root.Flags())

	root.AddCommand(
		newBatchCmd(a),
		newGroupCmd(a),
		newUserCmd(a),
		newServeCmd(a),
		newMCPCmd(a),
		newTokenCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}
