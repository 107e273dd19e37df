package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/chaz8081/ringtap/internal/ble"
	"github.com/chaz8081/ringtap/internal/config"
	"github.com/chaz8081/ringtap/internal/engine"
	"github.com/chaz8081/ringtap/internal/session"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run one collection session",
	Long: `Connect to the nearest ring, stream raw sensor frames for the given duration
(or until Ctrl+C), then upload any remaining samples and export the session.`,
	Args: cobra.NoArgs,
	RunE: runCollect,
}

var (
	collectDuration     time.Duration
	collectLabel        string
	collectUntilStopped bool
)

// stopTimeout bounds the drain and export after Ctrl+C.
const stopTimeout = 2 * time.Minute

func init() {
	collectCmd.Flags().DurationVarP(&collectDuration, "duration", "d", 0, "collection window (default from config)")
	collectCmd.Flags().StringVarP(&collectLabel, "label", "l", "", "session label (default from config)")
	collectCmd.Flags().BoolVar(&collectUntilStopped, "until-stopped", false, "collect until Ctrl+C")
}

func newEngine(cfg *config.Config) (*engine.Engine, error) {
	return engine.New(cfg, engine.Deps{Adapter: ble.NewTinyGoAdapter()})
}

func runCollect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d := cfg.Session.Duration
	if collectDuration > 0 {
		d = collectDuration
	}
	if collectUntilStopped {
		d = session.Forever
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
	dev, err := eng.ScanAndConnect(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Connected to %s (%s, %d dBm)\n", dev.Name, dev.ID, dev.RSSI)

	if err := eng.StartCollection(ctx, d, collectLabel); err != nil {
		return err
	}
	if d == session.Forever {
		fmt.Fprintln(out, "Collecting until Ctrl+C...")
	} else {
		fmt.Fprintf(out, "Collecting for %s, Ctrl+C to stop early...\n", d)
	}

	sum, err := waitForSession(ctx, eng, out)
	if err != nil {
		return err
	}
	printSummary(out, sum)
	return sum.Err
}

// waitForSession reports progress until the session ends on its own, the
// device drops, or ctx is cancelled. Either of the last two triggers a stop.
func waitForSession(ctx context.Context, eng *engine.Engine, out io.Writer) (session.Summary, error) {
	progress := time.NewTicker(5 * time.Second)
	defer progress.Stop()

	for {
		select {
		case sum, ok := <-eng.Ended():
			if !ok {
				return session.Summary{}, session.ErrClosed
			}
			return sum, nil

		case <-progress.C:
			snap := eng.Snapshot()
			printProgress(out, snap)
			if snap.ExportDue {
				fmt.Fprintln(out, "Ring disconnected, exporting what was collected")
				return stopAndWait(eng)
			}

		case <-ctx.Done():
			fmt.Fprintln(out, "\nStopping...")
			return stopAndWait(eng)
		}
	}
}

func stopAndWait(eng *engine.Engine) (session.Summary, error) {
	sctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := eng.StopCollection(sctx); err != nil {
		slog.Warn("Stop finished with errors", "error", err)
	}
	select {
	case sum, ok := <-eng.Ended():
		if !ok {
			return session.Summary{}, session.ErrClosed
		}
		return sum, nil
	case <-sctx.Done():
		return session.Summary{}, sctx.Err()
	}
}

func printProgress(out io.Writer, snap session.Snapshot) {
	line := fmt.Sprintf("  %s samples", humanize.Comma(int64(len(snap.Samples))))
	if snap.Skipped > 0 {
		line += fmt.Sprintf(", %s skipped", humanize.Comma(int64(snap.Skipped)))
	}
	if snap.Battery != nil {
		line += fmt.Sprintf(", battery %d%%", snap.Battery.Level)
	}
	if snap.LastError != "" {
		line += ", last error: " + snap.LastError
	}
	fmt.Fprintln(out, line)
}

func printSummary(out io.Writer, sum session.Summary) {
	fmt.Fprintf(out, "Session %s (%s) ended: %s\n", sum.SessionID, sum.Label, sum.Reason)
	fmt.Fprintf(out, "  started   %s\n", humanize.Time(sum.StartedAt))
	fmt.Fprintf(out, "  duration  %s\n", sum.EndedAt.Sub(sum.StartedAt).Round(time.Second))
	fmt.Fprintf(out, "  samples   %s (%s skipped)\n", humanize.Comma(int64(sum.Samples)), humanize.Comma(int64(sum.Skipped)))
	for _, path := range sum.Exports {
		fmt.Fprintf(out, "  export    %s%s\n", path, fileSize(path))
	}
	if sum.Err != nil {
		fmt.Fprintf(out, "  problems  %s\n", strings.ReplaceAll(sum.Err.Error(), "\n", "; "))
	}
}

func fileSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return " (" + humanize.Bytes(uint64(info.Size())) + ")"
}
