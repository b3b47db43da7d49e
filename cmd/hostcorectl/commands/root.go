// Package commands implements the hostcorectl CLI commands.
package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/keepkey/hostcore/internal/registry"
	"github.com/keepkey/hostcore/internal/transport"
)

var (
	// cli is the connected Client, initialized in PersistentPreRunE.
	cli *Client

	// addr is the platform-specific connection address (e.g. a HID path).
	addr string

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// channelFlag selects the HID channel to talk on: normal or debug.
	channelFlag string
)

// platformConn supplies the concrete HID connection to the device; the USB
// endpoint itself is out of this module's scope, the same as cmd/hostcored's
// platformHID seam. A concrete platform build sets this from an init()
// function in a build-tagged file; left nil, the CLI fails fast rather than
// faking a connection.
var platformConn func(logger *slog.Logger, addr string) (Conn, error)

// errPlatformConnUnset indicates no platform build linked a concrete Conn.
var errPlatformConnUnset = errors.New("hostcorectl: no platform HID connection linked into this build")

var rootCmd = &cobra.Command{
	Use:   "hostcorectl",
	Short: "CLI client for the hostcored device protocol core",
	Long:  "hostcorectl sends framed request messages to a hostcored-driven device over its native HID transport and prints the response.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if platformConn == nil {
			return errPlatformConnUnset
		}

		logger := slog.Default()
		conn, err := platformConn(logger, addr)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}

		ch := registry.ChannelNormal
		if channelFlag == "debug" {
			ch = registry.ChannelDebug
		}
		cli = NewClient(conn, ch, transport.MaxFrameSizeEmulator)

		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "", "device connection address (platform-specific, e.g. a HID device path)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "output format: table, json")
	rootCmd.PersistentFlags().StringVar(&channelFlag, "channel", "normal", "HID channel: normal, debug")

	rootCmd.AddCommand(pingCmd())
	rootCmd.AddCommand(initializeCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(buttonAckCmd())
	rootCmd.AddCommand(eip712Cmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
