// SPDX-License-Identifier: GPL-2.0-or-later

package cmd

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logConsole bool

	// WebSocket transport override (serial-over-websocket bridges)
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
)

var rootCmd = &cobra.Command{
	Use:   "nasabridge",
	Short: "Samsung EHS field-bus to MQTT bridge",
	Long: `nasabridge listens on the NASA field bus of a Samsung EHS heat pump,
decodes its packets against the measurement dictionary and publishes the
readings over MQTT, including Home Assistant auto-discovery. With control
enabled it also accepts writes on the per-entity set topics and polls
configured measurement groups on a schedule.

The transport (serial line or TCP socket) comes from the config file; the
--url flag overrides both with a serial-over-websocket bridge. For WebSocket
authentication the password is read from the NASABRIDGE_PASSWORD environment
variable, or prompted interactively if not set.`,
	Version: "1.0.0",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yml", "Configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logConsole, "console", false, "Human-readable console logging instead of JSON")

	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL override (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
