package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/openaq-sync/internal/pipeline"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect and run individual pipeline tasks",
}

// -- task list --

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pipeline tasks and their dependencies",
	RunE: func(_ *cobra.Command, _ []string) error {
		formatTaskGraph(os.Stdout)
		return nil
	},
}

// -- task run --

var taskRunCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Run a single task, ignoring its dependencies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if _, ok := pipeline.DependsOn(args[0]); !ok {
			return fmt.Errorf("unknown task %q (see `task list`)", args[0])
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		out, err := env.Pipeline.RunTask(ctx, args[0])
		if out != nil {
			formatRunResult(os.Stdout, &pipeline.RunResult{Tasks: []*pipeline.Outcome{out}})
		}
		return err
	},
}

func formatTaskGraph(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tDEPENDS ON")
	for _, name := range pipeline.TaskNames() {
		deps, _ := pipeline.DependsOn(name)
		d := strings.Join(deps, ", ")
		if d == "" {
			d = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\n", name, d)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskRunCmd)
	rootCmd.AddCommand(taskCmd)
}
