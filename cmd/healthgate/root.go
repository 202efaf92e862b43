package main

import (
	"github.com/spf13/cobra"

	"github.com/JohnPlummer/jp-go-healthgate/config"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "healthgate",
		Short: "Aggregate backend health behind per-service circuit breakers",
		Long: `healthgate probes every configured backend service, guards each one with
its own circuit breaker and reports whether the group should receive traffic.

Configuration is read from defaults, an optional JSON file and HEALTHGATE_*
environment variables, in increasing order of precedence.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a JSON configuration file")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newCheckCmd(opts))
	return cmd
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.configPath)
}
