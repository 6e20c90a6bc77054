package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/openaq-sync/internal/model"
	"github.com/sells-group/openaq-sync/internal/monitoring"
	"github.com/sells-group/openaq-sync/internal/pipeline"
	"github.com/sells-group/openaq-sync/internal/warehouse"
)

// -- migrate --

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the warehouse tables",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pool, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := warehouse.Migrate(ctx, pool); err != nil {
			return err
		}
		names, err := warehouse.MigrationNames()
		if err != nil {
			return err
		}
		zap.L().Info("migrations applied", zap.Strings("migrations", names))
		return nil
	},
}

// -- validate --

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Print warehouse row counts and fail if a reference table is empty",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pool, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		asJSON, _ := cmd.Flags().GetBool("json")

		st, err := warehouse.Validate(ctx, pool)
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(st); encErr != nil {
				return encErr
			}
		} else {
			formatStats(os.Stdout, st)
		}
		return err
	},
}

// -- status --

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent task attempts from the task log",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pool, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := warehouse.Migrate(ctx, pool); err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := warehouse.NewTaskLog(pool).ListRecent(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No task attempts recorded.")
			return nil
		}

		formatTaskRuns(os.Stdout, runs)
		return nil
	},
}

// -- check --

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate task log alerts once and send them to the webhook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pool, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := warehouse.Migrate(ctx, pool); err != nil {
			return err
		}

		checker := monitoring.NewChecker(
			monitoring.NewCollector(warehouse.NewTaskLog(pool), pipeline.TaskValidate),
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring,
		)
		alerts := checker.Check(ctx)
		if len(alerts) == 0 {
			fmt.Fprintln(os.Stdout, "No alerts.")
			return nil
		}
		for _, a := range alerts {
			fmt.Fprintf(os.Stdout, "[%s] %s: %s\n", a.Severity, a.Type, a.Message)
		}
		return nil
	},
}

func formatStats(w io.Writer, st warehouse.Stats) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tROWS\tDISTINCT")
	for _, t := range st.Tables {
		fmt.Fprintf(tw, "%s\t%d\t%d %s\n", t.Table, t.Rows, t.Distinct, t.DistinctColumn)
	}
	tw.Flush() //nolint:errcheck

	if len(st.TopCountries) > 0 {
		fmt.Fprintln(w, "\nTop countries by locations:")
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, c := range st.TopCountries {
			fmt.Fprintf(tw, "  %s\t%d\n", c.CountryName, c.Locations)
		}
		tw.Flush() //nolint:errcheck
	}

	fmt.Fprintf(w, "\nSensors with measurements: %d\n", len(st.Sensors))
	if len(st.Sensors) == 0 {
		return
	}
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SENSOR\tPARAMETER\tMEASUREMENTS\tLATEST")
	for _, s := range st.Sensors {
		latest := "-"
		if s.LatestPeriodTo.Valid {
			latest = s.LatestPeriodTo.Time.UTC().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", s.SensorID, s.ParameterName.ValueOrZero(), s.Measurements, latest)
	}
	tw.Flush() //nolint:errcheck
}

func formatTaskRuns(w io.Writer, runs []model.TaskRun) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tTASK\tATTEMPT\tSTATUS\tSTARTED\tDURATION\tWRITTEN\tSKIPPED\tERROR")
	for _, r := range runs {
		runID := r.RunID
		if len(runID) > 8 {
			runID = runID[:8]
		}
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.Duration().Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%d\t%d\t%s\n",
			runID, r.Task, r.Attempt, r.Status,
			r.StartedAt.UTC().Format("2006-01-02 15:04"), dur,
			r.RowsWritten, r.RowsSkipped, truncate(r.Error, 50),
		)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	validateCmd.Flags().Bool("json", false, "print stats as JSON")
	statusCmd.Flags().Int("limit", 20, "maximum attempts to show")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(checkCmd)
}
