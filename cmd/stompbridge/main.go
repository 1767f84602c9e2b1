// stompbridge subscribes to STOMP-over-WebSocket backends and republishes every
// received frame to the local bus, an optional MQTT broker and an optional
// PostgreSQL archive.
//
// Usage: stompbridge run --config configs/stompbridge.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rickgao/stompbridge/internal/version"
)

var rootCmd = &cobra.Command{
	Use:           "stompbridge",
	Short:         "Bridge STOMP-over-WebSocket backends to a local message bus",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "stompbridge", version.String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
