package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/ringtap/internal/ble"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List nearby rings",
	Long: `Scan for BLE devices whose advertised name contains the filter
(default from config, "R0" matches R02/R03/R06) and list them strongest first.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanFilter string
	scanWindow time.Duration
	scanAll    bool
)

func init() {
	scanCmd.Flags().StringVarP(&scanFilter, "filter", "f", "", "device name substring (default from config)")
	scanCmd.Flags().DurationVarP(&scanWindow, "window", "w", 0, "scan window (default from config)")
	scanCmd.Flags().BoolVarP(&scanAll, "all", "a", false, "list every device, ignoring the name filter")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	filter := ble.ScanFilter{NameContains: cfg.Device.NameFilter}
	if scanFilter != "" {
		filter.NameContains = scanFilter
	}
	if scanAll {
		filter.NameContains = ""
	}
	window := cfg.Device.ScanWindow
	if scanWindow > 0 {
		window = scanWindow
	}

	ctx, stop := interruptible(cmd.Context())
	defer stop()

	fmt.Fprintf(cmd.ErrOrStderr(), "Scanning for %s...\n", window)
	devices, err := ble.ScanForDevices(ctx, ble.NewTinyGoAdapter(), filter, window)
	if err != nil && ctx.Err() == nil {
		return err
	}
	return printDevices(cmd, devices)
}

func printDevices(cmd *cobra.Command, devices []ble.Device) error {
	out := cmd.OutOrStdout()
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices found")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tID\tRSSI")
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\n", name, d.ID, d.RSSI)
	}
	return w.Flush()
}

// interruptible returns a context cancelled by SIGINT/SIGTERM.
func interruptible(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
