package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-logscope/internal/ingest"
	"github.com/miradorstack/mirador-logscope/internal/parser"
	"github.com/miradorstack/mirador-logscope/internal/patterns"
)

func newPatternsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Inspect the log pattern registry",
	}
	cmd.AddCommand(newPatternsListCmd(flags), newPatternsDetectCmd(flags))
	return cmd
}

func newPatternsListCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered families and variants in priority order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "FAMILY\tVARIANT\tKIND\tGROUPS\n")
			for _, family := range a.registry.Families() {
				variants, err := a.registry.Variants(family)
				if err != nil {
					return err
				}
				for _, p := range variants {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Family, p.Variant, p.Kind, strings.Join(p.Groups(), ","))
				}
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "\nCapture groups: %s\n", strings.Join(patterns.KnownGroups(), ", "))
			return err
		},
	}
}

func newPatternsDetectCmd(flags *rootFlags) *cobra.Command {
	var family string
	cmd := &cobra.Command{
		Use:   "detect <file>",
		Short: "Report which variant of a family matches a log file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()
			if family == "" {
				family = a.cfg.Logs.Family
			}

			lines, err := ingest.ReadFile(args[0], a.cfg.Logs.MaxLineBytes)
			if err != nil {
				return err
			}
			pattern, err := parser.New(a.registry).DetectVariant(lines.Lines, family)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), pattern.ID())
			return nil
		},
	}
	cmd.Flags().StringVar(&family, "family", "", "format family (default logs.family)")
	return cmd
}
