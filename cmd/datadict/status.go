package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"datadict/internal/storage"
)

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show ledger progress and dictionary sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.check("storage"); err != nil {
				return err
			}
			ctx := cmd.Context()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if run, ok, err := store.Meta(ctx, storage.MetaLastRunID); err != nil {
				return err
			} else if ok {
				a.printf("last run: %s\n\n", run)
			}

			progress, err := store.ListProgress(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FILE\tROWS\tSTATE\tUPDATED")
			for _, p := range progress {
				state := "partial"
				if p.Finished {
					state = "done"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					p.File, humanize.Comma(p.LastRow), state, humanize.Time(p.UpdatedAt))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			tables, err := store.Tables(ctx)
			if err != nil {
				return err
			}
			a.printf("\n")
			fmt.Fprintln(tw, "COLUMN\tTABLE\tVALUES")
			for _, t := range tables {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Label(), t.Table(), humanize.Comma(t.Rows))
			}
			return tw.Flush()
		},
	}
}
