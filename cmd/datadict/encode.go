package main

import (
	"github.com/spf13/cobra"

	"datadict/internal/config"
	"datadict/internal/encode"
)

func newEncodeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Rewrite the input with dictionary ids and date features",
		Long: `Replaces the values of the encoded columns with their dictionary ids (-1 for
values the dictionary has never seen), expands the date column into calendar
features and normalises plain decimals. Records with an unparsable date, or a
date before the minimum year, are dropped. The result is written to
` + encode.ArchiveName + ` under the encode output directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.check("job", "input", "storage", "encode"); err != nil {
				return err
			}
			ctx := cmd.Context()

			opts, err := encode.OptionsFrom(a.cfg)
			if err != nil {
				return err
			}

			in, names, err := a.openInput(ctx)
			if err != nil {
				return err
			}
			defer in.Close()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			e := encode.New(store, opts, a.log)
			path, err := e.Run(ctx, in.Shards, names)
			if err != nil {
				return err
			}
			st := e.Stats()
			a.printf("wrote %s: %d records, %d dropped, %d unknown values\n",
				path, st.Written, st.Dropped, st.Unknown)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntSlice("encode-columns", nil, "1-based columns to replace by ids (default: every dictionary)")
	flags.Int("date-column", 0, "1-based date column to expand; 0 disables")
	flags.String("date-layout", config.DefaultDateLayout, "Go time layout of the date column")
	flags.Int("min-year", config.DefaultMinYear, "drop records dated before this year")
	flags.StringSlice("holidays", config.DefaultHolidays, "fixed holidays as MM-DD")
	flags.Bool("normalize-numbers", true, "format plain decimals with two fraction digits")
	flags.String("encode-output", "", "output directory (default: --output)")
	flags.String("rejects", "", "file listing dropped records with their reason")
	return cmd
}
