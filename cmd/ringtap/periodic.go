package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var periodicCmd = &cobra.Command{
	Use:   "periodic",
	Short: "Collect a short window on a fixed schedule",
	Long: `Collect sample-seconds of data every period-minutes until Ctrl+C. A tick that
finds a window still running is skipped. With --auto-connect the ring is
reconnected before every window.`,
	Args: cobra.NoArgs,
	RunE: runPeriodic,
}

var (
	periodicMinutes     int
	periodicSeconds     int
	periodicLabel       string
	periodicAutoConnect bool
)

func init() {
	periodicCmd.Flags().IntVarP(&periodicMinutes, "period-minutes", "p", 0, "minutes between windows (default from config)")
	periodicCmd.Flags().IntVarP(&periodicSeconds, "sample-seconds", "s", 0, "window length in seconds (default from config)")
	periodicCmd.Flags().StringVarP(&periodicLabel, "label", "l", "", "session label (default from config)")
	periodicCmd.Flags().BoolVar(&periodicAutoConnect, "auto-connect", true, "connect before each window when no ring is linked")
}

func runPeriodic(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	minutes := cfg.Periodic.PeriodMinutes
	if periodicMinutes > 0 {
		minutes = periodicMinutes
	}
	seconds := cfg.Periodic.SampleSeconds
	if periodicSeconds > 0 {
		seconds = periodicSeconds
	}
	autoConnect := cfg.Periodic.AutoConnect
	if cmd.Flags().Changed("auto-connect") {
		autoConnect = periodicAutoConnect
	}

	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := interruptible(cmd.Context())
	defer stop()

	if err := eng.Initialize(ctx); err != nil {
		return err
	}
	if !autoConnect {
		dev, err := eng.ScanAndConnect(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s (%s)\n", dev.Name, dev.ID)
	}

	if err := eng.StartPeriodic(minutes, seconds, periodicLabel, autoConnect); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Collecting %ds every %dm, Ctrl+C to quit\n", seconds, minutes)

	for {
		select {
		case sum, ok := <-eng.Ended():
			if !ok {
				return nil
			}
			printSummary(out, sum)
		case <-ctx.Done():
			fmt.Fprintln(out, "\nStopping schedule...")
			eng.StopPeriodic()

			sctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			if err := eng.StopCollection(sctx); err != nil {
				slog.Warn("Stop finished with errors", "error", err)
			}
			// A window that was running has now published its summary.
			select {
			case sum, ok := <-eng.Ended():
				if ok {
					printSummary(out, sum)
				}
			default:
			}
			return nil
		}
	}
}
