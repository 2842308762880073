// SPDX-License-Identifier: Apache-2.0
//
// nasabridge - Samsung EHS field-bus to MQTT bridge
//
// Decodes the NASA protocol spoken on the field bus of Samsung EHS heat
// pumps and publishes the readings over MQTT, with Home Assistant
// auto-discovery and optional control.

package main

import (
	"os"

	"github.com/ehstools/nasabridge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
