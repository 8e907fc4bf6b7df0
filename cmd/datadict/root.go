package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"datadict/internal/column"
	"datadict/internal/config"
	"datadict/internal/datasource"
	"datadict/internal/logging"
	"datadict/internal/metrics"
	"datadict/internal/storage"
)

// app is the state shared by every subcommand. PersistentPreRunE fills cfg
// and log before any RunE executes.
type app struct {
	cfgPath string
	cfg     config.Config
	log     *zap.Logger
	stdout  io.Writer
	stderr  io.Writer
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}
	rc := &cobra.Command{
		Use:   "datadict",
		Short: "Build value dictionaries from CSV shards",
		Long: `datadict scans delimiter-separated shards and assigns every distinct value
of the tracked columns a unique integer id. Runs are resumable: progress is
committed together with the dictionaries, so a restarted build continues
where the last one stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}
	rc.SetOut(stdout)
	rc.SetErr(stderr)

	flags := rc.PersistentFlags()
	flags.StringVarP(&a.cfgPath, "config", "c", "", "config file (JSON, YAML or TOML)")
	flags.String("job", "datadict", "job name used in logs and metrics")
	flags.StringP("input", "i", "", "input archive, file, directory or .list manifest")
	flags.String("delimiter", config.DefaultDelimiter, "field delimiter")
	flags.String("sidecar", config.DefaultSidecar, "file naming the columns")
	flags.Bool("trim-space", false, "trim surrounding whitespace from values")
	flags.IntSlice("ignore", nil, "1-based column numbers never tracked")
	flags.String("store", config.DefaultStorageKind, "storage backend: "+strings.Join(storage.Kinds(), ", "))
	flags.String("dsn", "", "backend DSN; defaults to a file under --output for sqlite and bolt")
	flags.StringP("output", "o", ".", "output directory")
	flags.String("metrics", "none", "metrics backend: none, prometheus or datadog")
	flags.String("pushgateway", "", "Prometheus Pushgateway URL")
	flags.String("datadog-addr", "", "DogStatsD address")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("log-format", "console", "log format: console or json")

	rc.AddCommand(newBuildCommand(a))
	rc.AddCommand(newExportCommand(a))
	rc.AddCommand(newEncodeCommand(a))
	rc.AddCommand(newStatusCommand(a))
	rc.AddCommand(newConfigCommand(a))
	return rc
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgPath, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.log = log.With(zap.String("job", cfg.Job))
	return a.setupMetrics()
}

func (a *app) teardown() error {
	if err := metrics.Flush(); err != nil {
		a.log.Warn("metrics flush failed", zap.Error(err))
	}
	_ = a.log.Sync()
	return nil
}

// check validates the configuration sections a command depends on. Warnings
// are logged; any error fails the command.
func (a *app) check(sections ...string) error {
	var errs []string
	for _, iss := range config.Validate(a.cfg) {
		if !inSections(iss.Path, sections) {
			continue
		}
		if iss.Severity == config.SeverityError {
			errs = append(errs, iss.Error())
			continue
		}
		a.log.Warn(iss.Message, zap.String("path", iss.Path))
	}
	if len(errs) > 0 {
		return errors.WithHint(
			errors.Newf("invalid configuration:\n  %s", strings.Join(errs, "\n  ")),
			"run `datadict config validate` to list every finding")
	}
	return nil
}

func inSections(path string, sections []string) bool {
	if len(sections) == 0 {
		return true
	}
	for _, s := range sections {
		if path == s || strings.HasPrefix(path, s+".") || strings.HasPrefix(path, s+"[") {
			return true
		}
	}
	return false
}

// openStore opens the configured backend, creating the output directory of
// file-based stores.
func (a *app) openStore(ctx context.Context) (storage.Backend, error) {
	if a.cfg.Storage.DSN == "" {
		if err := os.MkdirAll(a.cfg.Storage.Output, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create %s", a.cfg.Storage.Output)
		}
	}
	s, err := storage.New(ctx, storage.Config{Kind: a.cfg.Storage.Kind, DSN: a.cfg.StoreDSN()})
	if err != nil {
		return nil, err
	}
	a.log.Info("store opened", zap.String(logging.FieldStore, a.cfg.Storage.Kind))
	return s, nil
}

// openInput discovers the shards and reads the sidecar column names, which
// are nil when there is no sidecar.
func (a *app) openInput(ctx context.Context) (*datasource.Input, []string, error) {
	in, err := datasource.Discover(ctx, a.cfg.Input.Path, a.cfg.Input.Sidecar)
	if err != nil {
		return nil, nil, err
	}
	names, err := in.ColumnNames(ctx, a.cfg.Input.Delimiter)
	if err != nil {
		_ = in.Close()
		return nil, nil, err
	}
	a.log.Info("input discovered",
		zap.String("path", a.cfg.Input.Path),
		zap.Int("shards", len(in.Shards)),
		zap.Bool("sidecar", names != nil),
	)
	return in, names, nil
}

// ignored returns descriptors for the configured ignored columns, named from
// the sidecar when one is available.
func (a *app) ignored(names []string) []column.Descriptor {
	out := make([]column.Descriptor, 0, len(a.cfg.Columns.Ignored))
	for _, n := range a.cfg.Columns.Ignored {
		if n < 1 {
			continue
		}
		name := ""
		if n <= len(names) {
			name = names[n-1]
		}
		out = append(out, column.New(n-1, name))
	}
	return out
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.stdout, format, args...)
}
