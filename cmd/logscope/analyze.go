package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-logscope/internal/ingest"
	"github.com/miradorstack/mirador-logscope/internal/render"
)

func newAnalyzeCmd(flags *rootFlags) *cobra.Command {
	var (
		logDir      string
		output      string
		analyzeOnly bool
		family      string
		variant     string
	)

	cmd := &cobra.Command{
		Use:   "analyze [file...]",
		Short: "Analyse log files once and print a report",
		Long: `Analyse every file matching logs.glob under the log directory, or the files
given as arguments, and print one report for the run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := render.ParseFormat(output)
			if err != nil {
				return err
			}

			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			if logDir != "" {
				a.cfg.Logs.Directory = logDir
			}
			if family != "" {
				a.cfg.Logs.Family = family
			}
			if cmd.Flags().Changed("variant") {
				a.cfg.Logs.Variant = variant
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			files := args
			if len(files) == 0 {
				files, err = ingest.Discover(a.cfg.Logs.Directory, a.cfg.Logs.Glob, a.cfg.Logs.Recursive)
				if err != nil {
					return err
				}
			}
			if len(files) == 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "No log files matching %q in %s\n", a.cfg.Logs.Glob, a.cfg.Logs.Directory)
				return nil
			}

			p, err := a.pipeline(ctx, !analyzeOnly, false)
			if err != nil {
				return err
			}
			report, err := p.Run(ctx, files)
			if err != nil {
				return err
			}
			return render.New(format).Render(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().StringVar(&logDir, "log-dir", "", "directory to scan (overrides logs.directory)")
	cmd.Flags().StringVarP(&output, "output", "o", string(render.FormatTable), "report format: table or json")
	cmd.Flags().BoolVar(&analyzeOnly, "analyze-only", false, "skip the database and the archive")
	cmd.Flags().StringVar(&family, "family", "", "log format family (overrides logs.family)")
	cmd.Flags().StringVar(&variant, "variant", "", `pattern variant; "auto" detects one per file, empty tries all`)
	return cmd
}
