package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/openaq-sync/internal/metrics"
	"github.com/sells-group/openaq-sync/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full extract and load pipeline once",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, runErr := env.Pipeline.Run(ctx)
		if result != nil {
			formatRunResult(os.Stdout, result)
		}

		if err := metrics.Push(ctx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
			zap.L().Warn("metrics push failed", zap.Error(err))
		}
		return runErr
	},
}

func formatRunResult(w io.Writer, r *pipeline.RunResult) {
	if r.RunID != "" {
		fmt.Fprintf(w, "Run %s (%s)\n\n", r.RunID, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tSTATUS\tATTEMPTS\tWRITTEN\tSKIPPED\tDURATION\tERROR")
	for _, o := range r.Tasks {
		var written, skipped int64
		if o.Result != nil {
			written, skipped = o.Result.RowsWritten, o.Result.RowsSkipped
		}
		errMsg := ""
		if o.Err != nil {
			errMsg = truncate(o.Err.Error(), 60)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			o.Task, o.Status, o.Attempts, written, skipped,
			o.Duration.Round(time.Millisecond), errMsg,
		)
	}
	tw.Flush() //nolint:errcheck
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	rootCmd.AddCommand(runCmd)
}
