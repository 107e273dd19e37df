package main

import (
	"encoding/hex"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chaz8081/ringtap/internal/ble/protocol"
)

var commandsCmd = &cobra.Command{
	Use:   "commands [hex]...",
	Short: "Show command frames",
	Long: `With no arguments, list the built-in command frames. Each argument is framed
as a command (zero-padded to 15 bytes plus checksum) and printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "COMMAND\tFRAME")
		if len(args) == 0 {
			for _, c := range []struct {
				name  string
				frame []byte
			}{
				{"query-battery", protocol.QueryBattery()},
				{"set-units-metric", protocol.SetUnitsMetric()},
				{"enable-raw-sensor", protocol.EnableRawSensor()},
				{"disable-raw-sensor", protocol.DisableRawSensor()},
			} {
				fmt.Fprintf(w, "%s\t%s\n", c.name, hex.EncodeToString(c.frame))
			}
			return w.Flush()
		}
		for _, arg := range args {
			frame, err := protocol.BuildCommand(arg)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\n", arg, hex.EncodeToString(frame))
		}
		return w.Flush()
	},
}
