package main

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"datadict/internal/export"
)

func newExportCommand(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the dictionaries as a CSV archive and an Excel workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.check("job", "storage", "columns.ignored"); err != nil {
				return err
			}
			ctx := cmd.Context()

			var writers []func(*export.Exporter, context.Context) (string, error)
			switch strings.ToLower(format) {
			case "csv":
				writers = append(writers, (*export.Exporter).CSV)
			case "xlsx", "excel":
				writers = append(writers, (*export.Exporter).Workbook)
			case "all", "":
				writers = append(writers, (*export.Exporter).CSV, (*export.Exporter).Workbook)
			default:
				return errors.Newf("unknown export format %q (want csv, xlsx or all)", format)
			}

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			e := export.New(store, export.Options{
				Dir:       a.cfg.Storage.Output,
				Delimiter: a.cfg.Input.Delimiter,
				Ignored:   a.ignored(a.sidecarNames(ctx)),
			}, a.log)
			for _, w := range writers {
				path, err := w(e, ctx)
				if err != nil {
					return err
				}
				a.printf("wrote %s\n", path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "all", "csv, xlsx or all")
	return cmd
}

// sidecarNames reads column names when an input is configured. Export works
// without one; ignored columns are then labelled by number only.
func (a *app) sidecarNames(ctx context.Context) []string {
	if a.cfg.Input.Path == "" {
		return nil
	}
	in, names, err := a.openInput(ctx)
	if err != nil {
		a.log.Warn("column names unavailable", zap.Error(err))
		return nil
	}
	_ = in.Close()
	return names
}
