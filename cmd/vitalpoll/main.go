package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"unicode"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/vitalpoll/internal/devicefactory"
	"github.com/srg/vitalpoll/internal/poller"
	"github.com/srg/vitalpoll/pkg/config"
	"github.com/srg/vitalpoll/scanner"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vitalpoll",
		Short: "Vital-signs BLE poller",
		Long: fmt.Sprintf(`Polls a vital-signs peripheral over Bluetooth Low Energy.

Without a subcommand vitalpoll finds the configured device, connects and reads heart rate,
SpO2, emergency flag, temperature, battery and IR extremes once per poll interval, then
writes the current time and a confirmation byte back. Any failure leads to a short delay,
a resend of the last IR values and a fresh scan. Press Ctrl+C to stop.

Default device address: %s`, config.DefaultAddress),
		Version:      fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         runPoller,
	}

	// Silence Cobra's "Error:" prefix - main() prints clean errors
	cmd.SilenceErrors = true

	flags := cmd.PersistentFlags()
	flags.String("config", "", "Path to a YAML config file")
	flags.String("address", "", "Device address (overrides config)")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.Bool("verbose", false, "Shorthand for --log-level=debug")

	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newReadCmd())
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// newPoller wires the shared radio, a scanner and the poller for cfg.
func newPoller(cfg *config.Config, logger *logrus.Logger) (*poller.Poller, error) {
	radio, err := devicefactory.NewRadio()
	if err != nil {
		return nil, fmt.Errorf("failed to open BLE radio: %w", err)
	}
	sc, err := scanner.NewScanner(radio, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE scanner: %w", err)
	}
	return poller.New(cfg.Address, sc, cfg.Policy(), logger), nil
}

func runPoller(cmd *cobra.Command, _ []string) error {
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

	return p.Run(ctx)
}
