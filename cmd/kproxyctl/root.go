package main

import (
	"fmt"

	"github.com/danmuck/kproxy/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	LogLevel string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "kproxyctl",
		Short:         "Inspect length-prefixed Kafka request streams",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			return applyLogLevel(flags.LogLevel)
		},
	}
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "log level override (trace|debug|info|warn|error|off)")

	root.AddCommand(newDecodeCmd())
	root.AddCommand(newEncodeCmd())
	root.AddCommand(newMessagesCmd())
	root.AddCommand(newConfigCmd())
	return root
}

func applyLogLevel(raw string) error {
	if raw == "" {
		return nil
	}
	lvl, ok := logging.ParseLevel(raw)
	if !ok {
		return fmt.Errorf("unknown log level %q", raw)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}
