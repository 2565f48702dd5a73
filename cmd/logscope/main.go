package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "logscope",
		Short:         "Analyse web server logs for performance, security and traffic anomalies",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to configuration file (default $MIRADOR_LOGSCOPE_CONFIG)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	root.AddCommand(newAnalyzeCmd(flags))
	root.AddCommand(newMonitorCmd(flags))
	root.AddCommand(newPatternsCmd(flags))
	root.AddCommand(newAlertsCmd(flags))
	return root
}
