package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chaz8081/ringtap/internal/ble/protocol"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <frame>...",
	Short: "Decode notification frames offline",
	Long: `Decode one or more notification frames given as hex or base64 text, the way
the collector decodes frames from the ring.

Example:
  ringtap decode a1010064005000320005000000000000
  ringtap decode oQMBIwRWB4k=`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, arg := range args {
			fmt.Fprintln(cmd.OutOrStdout(), describeFrame(arg))
		}
		return nil
	},
}

// describeFrame normalizes text and renders the decoded reading on one line.
func describeFrame(text string) string {
	frame, lossy := protocol.NormalizeText(text)
	var sb strings.Builder
	sb.WriteString(hex.EncodeToString(frame))
	if lossy {
		sb.WriteString(" (recovered)")
	}
	sb.WriteString(": ")

	if b, ok := protocol.ParseBattery(frame); ok {
		fmt.Fprintf(&sb, "battery level=%d%% charging=%t", b.Level, b.Charging)
		return sb.String()
	}

	r, err := protocol.Decode(frame)
	if err != nil {
		sb.WriteString("skipped: ")
		sb.WriteString(err.Error())
		return sb.String()
	}
	switch r := r.(type) {
	case protocol.SpO2Reading:
		fmt.Fprintf(&sb, "spo2 value=%s max=%s min=%s diff=%s", r.Value, r.Max, r.Min, r.Diff)
	case protocol.PPGReading:
		fmt.Fprintf(&sb, "ppg value=%s max=%s min=%s diff=%s", r.Value, r.Max, r.Min, r.Diff)
	case protocol.AccelReading:
		fmt.Fprintf(&sb, "accel x=%s y=%s z=%s", r.X, r.Y, r.Z)
	}
	return sb.String()
}
