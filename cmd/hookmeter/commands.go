package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/hookmeter"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	metricsDir string
	thresholds string
	jsonOut    bool
}

func newRootCmd(logger *slog.Logger, stdout io.Writer, code *int) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "hookmeter",
		Short: "Lifecycle hook metrics and threshold gates",
		Long: `hookmeter records lifecycle hook events into append-only channels,
aggregates recent history and gates on thresholds.

The command runner invokes one subcommand per hook and passes its data
through MJ2_* environment variables. Exit codes:
  0  continue
  1  a blocking gate failed (coverage below threshold)
  2  the hook could not run (bad input, config or storage failure)`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.PersistentFlags().StringVar(&g.metricsDir, "metrics-dir", "", "channel directory (overrides HOOKMETER_METRICS_DIR)")
	root.PersistentFlags().StringVar(&g.thresholds, "thresholds", "", "YAML thresholds file (overrides HOOKMETER_THRESHOLDS_FILE)")
	root.PersistentFlags().BoolVar(&g.jsonOut, "json", false, "print results as JSON")

	hooks := []struct{ name, short string }{
		{"post-command", "Record a completed command and emit the daily report"},
		{"pre-command", "Record that a command is starting"},
		{"test-run", "Record coverage and gate it against the threshold"},
		{"deploy", "Record a deployment and announce it"},
		{"spec-created", "Record a new spec and back it up"},
		{"spec-updated", "Record a spec update and back it up"},
		{"sync-done", "Record a completed sync"},
	}
	for _, h := range hooks {
		root.AddCommand(newHookCmd(h.name, h.short, g, logger, code))
	}
	root.AddCommand(
		newReportCmd(g, logger),
		newStatsCmd(g, logger),
		newExportCmd(g, logger),
		newVersionCmd(),
	)
	return root
}

func openApp(cmd *cobra.Command, g *globalFlags, logger *slog.Logger) (*hookmeter.App, error) {
	opts := []hookmeter.Option{
		hookmeter.WithLogger(logger),
		hookmeter.WithVersion(version),
	}
	if g.metricsDir != "" {
		opts = append(opts, hookmeter.WithMetricsDir(g.metricsDir))
	}
	if g.thresholds != "" {
		opts = append(opts, hookmeter.WithThresholdsFile(g.thresholds))
	}
	return hookmeter.New(cmd.Context(), opts...)
}

func newHookCmd(name, short string, g *globalFlags, logger *slog.Logger, code *int) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := openApp(cmd, g, logger)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(cmd.Context()) }()

			res, err := app.Run(cmd.Context(), name, environ())
			if err != nil {
				return err
			}
			*code = res.ExitCode

			if g.jsonOut {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			out := cmd.OutOrStdout()
			for _, line := range res.Lines {
				fmt.Fprintln(out, line)
			}
			for _, w := range res.Warnings {
				fmt.Fprintln(cmd.ErrOrStderr(), "Warning:", w)
			}
			return nil
		},
	}
}

func newReportCmd(g *globalFlags, logger *slog.Logger) *cobra.Command {
	var channel, by, period string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the period summary of a channel",
		Long: `Summarize one period of a channel by a tag. The period marker is not
touched, so this never suppresses or duplicates the automatic report.
Without --period the previous period is summarized.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := openApp(cmd, g, logger)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(cmd.Context()) }()

			sum, err := app.Report(cmd.Context(), channel, by, period)
			if err != nil {
				return err
			}
			if g.jsonOut {
				return writeJSON(cmd.OutOrStdout(), sum)
			}
			fmt.Fprint(cmd.OutOrStdout(), sum.Text)
			return nil
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "commands", "channel to summarize")
	cmd.Flags().StringVar(&by, "by", "command", "tag to group records by")
	cmd.Flags().StringVar(&period, "period", "", "period key, e.g. 2024-01-01, 2024-W01 or 2024-01")
	return cmd
}

func newStatsCmd(g *globalFlags, logger *slog.Logger) *cobra.Command {
	var channel, field, tag string
	var last int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print window statistics for a channel field",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := openApp(cmd, g, logger)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(cmd.Context()) }()

			st, err := app.Stats(cmd.Context(), channel, field, tag, last)
			if err != nil {
				return err
			}
			if g.jsonOut {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s.%s (last %d)\n", st.Channel, st.Field, st.Size)
			fmt.Fprintf(out, "  Values: %s\n", joinInts(st.Values))
			fmt.Fprintf(out, "  Average: %d\n", st.Average)
			fmt.Fprintf(out, "  Trend: %s (%+d)\n", st.Trend, st.Delta)
			fmt.Fprintf(out, "  Success rate: %d/%d (%d%%)\n", st.Succeeded, st.Total, st.Percent)
			if st.Malformed > 0 {
				fmt.Fprintf(out, "  Malformed lines skipped: %d\n", st.Malformed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "channel to read, e.g. coverage-history")
	cmd.Flags().StringVar(&field, "field", "", "numeric field, e.g. coverage_pct")
	cmd.Flags().StringVar(&tag, "tag", "", "only records with this tag, as key=value")
	cmd.Flags().IntVar(&last, "last", 0, "window size (default HOOKMETER_WINDOW_SIZE)")
	_ = cmd.MarkFlagRequired("channel")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}

func newExportCmd(g *globalFlags, logger *slog.Logger) *cobra.Command {
	var channels []string
	var sqlitePath string
	var postgres bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy channels into SQLite or the Postgres mirror",
		Long: `Replay channels into a SQLite file and/or the Postgres mirror configured
by HOOKMETER_DATABASE_URL. Records already exported are skipped, so the
command can be re-run safely.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if sqlitePath == "" && !postgres {
				return errors.New("export: pass --sqlite and/or --postgres")
			}
			app, err := openApp(cmd, g, logger)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(cmd.Context()) }()

			out := cmd.OutOrStdout()
			for _, ch := range channels {
				if sqlitePath != "" {
					n, err := app.ExportSQLite(cmd.Context(), ch, sqlitePath)
					if err != nil {
						return fmt.Errorf("export %s: %w", ch, err)
					}
					fmt.Fprintf(out, "%s: %d new rows in %s\n", ch, n, sqlitePath)
				}
				if postgres {
					n, err := app.Mirror(cmd.Context(), ch)
					if err != nil {
						return fmt.Errorf("export %s: %w", ch, err)
					}
					fmt.Fprintf(out, "%s: %d new rows in postgres\n", ch, n)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&channels, "channel", []string{
		"commands", "commands-pre", "coverage-history", "deploys", "specs", "syncs",
	}, "channels to export")
	cmd.Flags().StringVar(&sqlitePath, "sqlite", "", "SQLite database file")
	cmd.Flags().BoolVar(&postgres, "postgres", false, "mirror into HOOKMETER_DATABASE_URL")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "hookmeter", version)
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func joinInts(values []int64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}
