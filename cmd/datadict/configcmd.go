package main

import (
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"datadict/internal/config"
)

func newConfigCommand(a *app) *cobra.Command {
	cc := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cc.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := config.MarshalYAML(a.cfg)
			if err != nil {
				return err
			}
			_, err = a.stdout.Write(b)
			return err
		},
	})
	cc.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Report every configuration finding",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			issues := config.Validate(a.cfg)
			for _, iss := range issues {
				a.printf("%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
			}
			if config.HasErrors(issues) {
				return errors.New("configuration is invalid")
			}
			a.printf("configuration is valid\n")
			return nil
		},
	})
	return cc
}
