package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/vitalpoll/internal/vitals"
)

func newReadCmd() *cobra.Command {
	var ack bool

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read the vital signs once",
		Long: `Finds the configured device, connects, reads every telemetry characteristic once and
prints the decoded values. Nothing is written to the device unless --ack is given, in which
case the current time and the confirmation byte are sent like in a polling cycle.

Examples:
  # One reading from the default device
  vitalpoll read

  # One reading from another device, acknowledged
  vitalpoll read --address AA:BB:CC:DD:EE:FF --ack`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRead(cmd, ack)
		},
	}

	cmd.Flags().BoolVar(&ack, "ack", false, "Write time and confirmation after reading")
	return cmd
}

func runRead(cmd *cobra.Command, ack bool) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	p, err := newPoller(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	reading, err := p.ReadOnce(ctx, ack)
	if err != nil {
		return err
	}
	return printReading(cmd.OutOrStdout(), reading)
}

// printReading writes one "field  value" line per telemetry field, "-" for skipped ones.
func printReading(out io.Writer, reading vitals.Reading) error {
	fields := reading.Fields()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, f := range vitals.Telemetry {
		value, ok := fields.Get(f.Name)
		if !ok {
			value = "-"
		}
		fmt.Fprintf(w, "%s\t%s\n", f.Name, value)
	}
	return w.Flush()
}
