package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/vitalpoll/internal/device"
	"github.com/srg/vitalpoll/internal/devicefactory"
	"github.com/srg/vitalpoll/internal/groutine"
	"github.com/srg/vitalpoll/scanner"
	"golang.org/x/term"
)

const eventPollInterval = 100 * time.Millisecond

type scanFlags struct {
	duration time.Duration
	services []string
	allAdv   bool
}

func newScanCmd() *cobra.Command {
	var flags scanFlags

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for BLE devices",
		Long: `Scans for Bluetooth Low Energy devices and lists them by signal strength.

New devices are printed as they are discovered; when the scan ends a table of every device
is shown with the configured target highlighted. Use it to find the address to put in the
config file or pass with --address.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, flags)
		},
	}

	cmd.Flags().DurationVarP(&flags.duration, "duration", "d", 0, "Scan duration (default: scan_timeout from config)")
	cmd.Flags().StringSliceVarP(&flags.services, "services", "s", nil, "Only show devices advertising these service UUIDs")
	cmd.Flags().BoolVar(&flags.allAdv, "all", false, "Report every advertisement instead of filtering duplicates")
	return cmd
}

func runScan(cmd *cobra.Command, flags scanFlags) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	var serviceUUIDs []string
	if len(flags.services) > 0 {
		serviceUUIDs, err = device.ValidateUUID(flags.services...)
		if err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
	}

	radio, err := devicefactory.NewRadio()
	if err != nil {
		return fmt.Errorf("failed to open BLE radio: %w", err)
	}
	s, err := scanner.NewScanner(radio, logger)
	if err != nil {
		return fmt.Errorf("failed to create BLE scanner: %w", err)
	}

	opts := &scanner.ScanOptions{
		Duration:        cfg.ScanTimeout,
		DuplicateFilter: !flags.allAdv,
		ServiceUUIDs:    serviceUUIDs,
	}
	if flags.duration > 0 {
		opts.Duration = flags.duration
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	out := cmd.OutOrStdout()
	devices, err := scanWithLiveOutput(ctx, out, s, opts, logger)
	if err != nil {
		return err
	}

	return printDeviceTable(out, devices, cfg.Address, isTerminal(out))
}

// scanWithLiveOutput runs the scan in the background and prints newly discovered devices from
// the scanner's event ring while it runs.
func scanWithLiveOutput(ctx context.Context, out io.Writer, s *scanner.Scanner, opts *scanner.ScanOptions, logger *logrus.Logger) (map[string]device.DeviceInfo, error) {
	var (
		devices map[string]device.DeviceInfo
		scanErr error
		found   atomic.Int64
	)

	done := groutine.Go(ctx, "ble-scan", func(ctx context.Context) {
		devices, scanErr = s.Scan(ctx, opts)
	})

	tty := isTerminal(out)
	printf := func(format string, args ...any) { fmt.Fprintf(out, format, args...) }
	if tty {
		progress := startCountdown(ctx, out, "Scanning", opts.Duration, func() int { return int(found.Load()) })
		defer progress.Stop()
		printf = progress.Printf
	}

	newDevice := color.New(color.FgCyan)
	if !tty {
		newDevice.DisableColor()
	}

	report := func() {
		for _, ev := range s.DrainEvents() {
			if ev.Type != scanner.EventNew {
				continue
			}
			found.Add(1)
			info := ev.DeviceInfo
			printf("%s %s  %s  %d dBm\n", newDevice.Sprint("+"), info.Address(), info.Name(), info.RSSI())
		}
	}

	ticker := time.NewTicker(eventPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			report()
			if n := s.OverwrittenEvents(); n > 0 {
				logger.WithField("dropped", n).Debug("Scan events overwritten before display")
			}
			return devices, scanErr
		case <-ticker.C:
			report()
		}
	}
}

// printDeviceTable lists devices by descending RSSI; the row for target is marked and, on a
// terminal, coloured.
func printDeviceTable(out io.Writer, devices map[string]device.DeviceInfo, target string, colors bool) error {
	highlight := color.New(color.FgGreen, color.Bold)
	warn := color.New(color.FgYellow)
	for _, c := range []*color.Color{highlight, warn} {
		if colors {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		_, err := warn.Fprintf(out, "Target %s not seen\n", target)
		return err
	}

	list := make([]device.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].RSSI() != list[j].RSSI() {
			return list[i].RSSI() > list[j].RSSI()
		}
		return list[i].Address() < list[j].Address()
	})

	// color codes would break tabwriter's column widths, so the table is laid out first
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, " \tNAME\tADDRESS\tRSSI\tSERVICES")

	targetRow := -1
	for i, dev := range list {
		marker := " "
		if device.SameAddress(dev.Address(), target) {
			marker = "*"
			targetRow = i
		}

		name := dev.Name()
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		services := strings.Join(dev.AdvertisedServices(), ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d dBm\t%s\n", marker, name, dev.Address(), dev.RSSI(), services)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	lines := strings.SplitAfter(buf.String(), "\n")
	for i, line := range lines {
		if targetRow >= 0 && i == targetRow+1 {
			highlight.Fprint(out, strings.TrimSuffix(line, "\n"))
			fmt.Fprintln(out)
			continue
		}
		fmt.Fprint(out, line)
	}

	if targetRow < 0 {
		_, err := warn.Fprintf(out, "Target %s not seen\n", target)
		return err
	}
	_, err := highlight.Fprintf(out, "Target %s found (%d dBm)\n", target, list[targetRow].RSSI())
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
