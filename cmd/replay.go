// SPDX-License-Identifier: GPL-2.0-or-later

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehstools/nasabridge/pkg/capture"
	"github.com/ehstools/nasabridge/pkg/config"
	"github.com/ehstools/nasabridge/pkg/dictionary"
	"github.com/ehstools/nasabridge/pkg/discovery"
	"github.com/ehstools/nasabridge/pkg/logging"
	"github.com/ehstools/nasabridge/pkg/mqttbus"
	"github.com/ehstools/nasabridge/pkg/nasa"
)

var (
	replayFile  string
	replayDelay time.Duration
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a dump file through the bridge",
	Long: `Feed a previously captured dump file through the decode pipeline as if
the bytes arrived on the field bus, publishing readings and discovery
announcements to the configured MQTT broker. Useful for reprocessing a
capture after dictionary changes.`,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVarP(&replayFile, "file", "f", "", "Dump file to replay (required)")
	replayCmd.Flags().DurationVar(&replayDelay, "delay", 0, "Pause between captured chunks")
	replayCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(logging.Options{Level: logLevel, Console: logConsole})
	if err != nil {
		return err
	}
	dict, err := dictionary.Load(cfg.General.DictionaryFile)
	if err != nil {
		return err
	}

	chunks, err := capture.ReadDumpFile(replayFile)
	if err != nil {
		return err
	}
	log.Info().Str("file", replayFile).Int("chunks", len(chunks)).Msg("dump loaded")

	normalizer := func(name string) string { return name }
	if cfg.MQTT.CamelCaseNames {
		normalizer = discovery.CamelName
	}
	bus := mqttbus.New(mqttbus.Config{
		BrokerHost:      cfg.MQTT.BrokerURL,
		BrokerPort:      cfg.MQTT.BrokerPort,
		ClientID:        cfg.MQTT.ClientID,
		Username:        cfg.MQTT.User,
		Password:        cfg.MQTT.Password,
		TopicPrefix:     cfg.MQTT.TopicPrefix,
		DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
	}, normalizer, log)
	if err := bus.Connect(cmd.Context()); err != nil {
		return err
	}
	defer bus.Close()

	// Replay never opens the transport, so the capture sinks and the poll
	// scheduler stay idle; only the decode pipeline runs.
	replayCfg := *cfg
	replayCfg.General.DumpFile = ""
	b, err := assembleBridge(&replayCfg, dict, bus, log)
	if err != nil {
		return err
	}
	defer b.closeSinks()

	dec := nasa.NewDecoder()
	for _, chunk := range chunks {
		dec.Feed(chunk)
		for {
			pkt, err := dec.Next()
			if err != nil {
				continue
			}
			if pkt == nil {
				break
			}
			if err := b.pipe.Ingest(pkt); err != nil {
				return err
			}
		}
		if replayDelay > 0 {
			time.Sleep(replayDelay)
		}
	}

	stats := dec.Stats()
	fmt.Printf("Replayed %d packets (%d framing errors, %d checksum errors, %d bytes dropped)\n",
		stats.Packets, stats.FramingErrors, stats.ChecksumErrors, stats.BytesDropped)
	return nil
}
