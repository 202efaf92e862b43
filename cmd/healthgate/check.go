package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	healthgate "github.com/JohnPlummer/jp-go-healthgate"
)

func newCheckCmd(root *rootOptions) *cobra.Command {
	var exitCode bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate every service once and print the aggregate health document",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}

			logger, closeLog, err := newLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeLog()

			gw, err := build(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer gw.Close()

			endpoints := gw.resolver.ResolveAll(cmd.Context())
			response := gw.aggregator.Evaluate(cmd.Context(), healthgate.URLs(endpoints))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(response); err != nil {
				return err
			}

			if exitCode && response.Status != healthgate.OverallHealthy {
				return &statusError{status: response.Status}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&exitCode, "exit-code", false, "exit non-zero unless the group is healthy")
	return cmd
}

type statusError struct {
	status healthgate.OverallStatus
}

func (e *statusError) Error() string {
	return "service group is " + string(e.status)
}
