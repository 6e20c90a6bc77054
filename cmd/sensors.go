package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/openaq-sync/internal/sensors"
)

var sensorsCmd = &cobra.Command{
	Use:   "sensors",
	Short: "List sensors of stored locations matching a country and locality",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pool, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		f := sensors.Filter{CountryCode: cfg.Sensors.CountryCode, Locality: cfg.Sensors.Locality}
		if cmd.Flags().Changed("country") {
			f.CountryCode, _ = cmd.Flags().GetString("country")
		}
		if cmd.Flags().Changed("locality") {
			f.Locality, _ = cmd.Flags().GetString("locality")
		}

		d, err := sensors.Discover(ctx, pool, f)
		if err != nil {
			return err
		}
		formatDiscovery(os.Stdout, d)
		return nil
	},
}

func formatDiscovery(w io.Writer, d sensors.Discovery) {
	fmt.Fprintf(w, "%d sensors across %d locations\n\n", len(d.Sensors), d.Locations)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SENSOR\tLOCATION\tNAME\tPARAMETER\tUNITS")
	for _, s := range d.Sensors {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\n",
			s.SensorID, s.LocationID, s.LocationName.ValueOrZero(),
			s.ParameterName.ValueOrZero(), s.ParameterUnits.ValueOrZero(),
		)
	}
	tw.Flush() //nolint:errcheck

	for _, sk := range d.Skipped {
		fmt.Fprintf(w, "skipped location %d (%s): %s\n", sk.LocationID, sk.Outcome, sk.Reason)
	}
}

func init() {
	sensorsCmd.Flags().String("country", "", "ISO country code (default from config)")
	sensorsCmd.Flags().String("locality", "", "locality substring, case and accent insensitive (default from config)")
	rootCmd.AddCommand(sensorsCmd)
}
