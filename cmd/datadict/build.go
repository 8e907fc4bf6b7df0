package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"datadict/internal/config"
	"datadict/internal/export"
	"datadict/internal/ingest"
	"datadict/internal/logging"
)

func newBuildCommand(a *app) *cobra.Command {
	var exportAfter bool
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Scan the input and extend the dictionaries",
		Long: `Scans every unfinished shard of the input and adds unseen values of the
tracked columns to their dictionaries. Interrupted runs resume at the last
committed row of each shard.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.check("job", "input", "columns", "storage", "runtime"); err != nil {
				return err
			}
			ctx := cmd.Context()

			in, names, err := a.openInput(ctx)
			if err != nil {
				return err
			}
			defer in.Close()

			cols, err := config.ResolveColumns(a.cfg, names)
			if err != nil {
				return err
			}

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			p := ingest.New(store, cols, ingest.OptionsFrom(a.cfg), a.log)
			a.log.Info("build started",
				zap.String(logging.FieldRunID, p.RunID()),
				zap.Int("columns", len(cols)),
			)
			if err := p.Run(ctx, in.Shards); err != nil {
				return err
			}
			st := p.Stats()
			a.printf("build %s: %d rows scanned, %d values inserted, %d shards done, %d skipped\n",
				p.RunID(), st.RowsScanned, st.ValuesInserted, st.ShardsDone, st.ShardsSkipped)

			if !exportAfter {
				return nil
			}
			e := export.New(store, export.Options{
				Dir:       a.cfg.Storage.Output,
				Delimiter: a.cfg.Input.Delimiter,
				Ignored:   a.ignored(names),
			}, a.log)
			for _, run := range []func() (string, error){
				func() (string, error) { return e.CSV(ctx) },
				func() (string, error) { return e.Workbook(ctx) },
			} {
				path, err := run()
				if err != nil {
					return err
				}
				a.printf("wrote %s\n", path)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntSlice("columns", nil, "1-based column numbers to track")
	flags.Int("first", 0, "track the first N columns")
	flags.Bool("from-sidecar", false, "track every column named in the sidecar")
	flags.Int("flush-rows", config.DefaultFlushRows, "rows per flush window")
	flags.Int("relay-capacity", config.DefaultRelayCapacity, "batches buffered between scanner and writer")
	flags.Int("commit-every", config.DefaultCommitEvery, "batches per store transaction")
	flags.BoolVar(&exportAfter, "export", false, "export CSV and Excel dictionaries after the build")
	return cmd
}
