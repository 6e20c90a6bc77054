package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/openaq-sync/internal/model"
	"github.com/sells-group/openaq-sync/internal/sqliteimport"
	"github.com/sells-group/openaq-sync/internal/warehouse"
)

var importSQLiteCmd = &cobra.Command{
	Use:   "import-sqlite",
	Short: "Copy a legacy SQLite database into the warehouse",
	Long:  "Reads the countries, locations, parameters and station tables from a legacy SQLite file and replaces the matching warehouse tables.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		path, _ := cmd.Flags().GetString("file")

		src, err := sqliteimport.Open(path)
		if err != nil {
			return err
		}
		defer src.Close() //nolint:errcheck

		pool, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := warehouse.Migrate(ctx, pool); err != nil {
			return err
		}

		rep, err := sqliteimport.Import(ctx, src, pool)
		if len(rep.Tables) > 0 {
			formatImportReport(os.Stdout, rep)
		}
		if err != nil {
			return err
		}

		// Verification reads back what landed in Postgres.
		var checks []warehouse.TableStat
		for _, q := range []struct{ table, column string }{
			{model.TableCountries, "code"},
			{model.TableStation, "id"},
		} {
			if _, ok := rep.Table(q.table); !ok {
				continue
			}
			ts, err := warehouse.CountTable(ctx, pool, q.table, q.column)
			if err != nil {
				zap.L().Warn("import verification failed", zap.String("table", q.table), zap.Error(err))
				continue
			}
			checks = append(checks, ts)
		}
		if len(checks) > 0 {
			fmt.Fprintln(os.Stdout)
			formatStats(os.Stdout, warehouse.Stats{Tables: checks})
		}
		return nil
	},
}

func formatImportReport(w io.Writer, rep sqliteimport.Report) {
	fmt.Fprintf(w, "Imported from %s\n\n", rep.Source)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tREAD\tWRITTEN\tSKIPPED")
	for _, t := range rep.Tables {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", t.Table, t.Received, t.Written, t.TotalSkipped())
	}
	tw.Flush() //nolint:errcheck
	for _, m := range rep.Missing {
		fmt.Fprintf(w, "not present in source: %s\n", m)
	}
}

func init() {
	importSQLiteCmd.Flags().String("file", "airflow_countries_stations.db", "path to the SQLite database")
	rootCmd.AddCommand(importSQLiteCmd)
}
