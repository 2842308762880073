// SPDX-License-Identifier: GPL-2.0-or-later

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehstools/nasabridge/pkg/capture"
	"github.com/ehstools/nasabridge/pkg/codec"
	"github.com/ehstools/nasabridge/pkg/config"
	"github.com/ehstools/nasabridge/pkg/dictionary"
	"github.com/ehstools/nasabridge/pkg/discovery"
	"github.com/ehstools/nasabridge/pkg/logging"
	"github.com/ehstools/nasabridge/pkg/mqttbus"
	"github.com/ehstools/nasabridge/pkg/nasa"
	"github.com/ehstools/nasabridge/pkg/pipeline"
	"github.com/ehstools/nasabridge/pkg/poller"
	"github.com/ehstools/nasabridge/pkg/registry"
)

const (
	packetQueueSize   = 64
	outboundQueueSize = 16
	schedulerPeriod   = time.Second
)

var cleanKnownDevices bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the field-bus to MQTT bridge",
	Long: `Connect to the field bus and the MQTT broker and bridge between them:
decode incoming packets, publish readings and discovery announcements, poll
configured measurement groups and accept control writes when enabled.`,
	RunE: runBridge,
}

func init() {
	runCmd.Flags().BoolVar(&cleanKnownDevices, "clean-known-devices", false,
		"Forget all known devices at startup and re-discover from live traffic")
	rootCmd.AddCommand(runCmd)
}

func runBridge(cmd *cobra.Command, args []string) error {
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
	log.Info().Int("measurements", dict.Len()).
		Str("file", cfg.General.DictionaryFile).Msg("dictionary loaded")

	conn, connInfo, err := OpenConnection(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Info().Str("transport", connInfo).Msg("field bus connected")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
	if err := bus.Connect(ctx); err != nil {
		return err
	}
	defer bus.Close()

	b, err := assembleBridge(cfg, dict, bus, log)
	if err != nil {
		return err
	}
	defer b.closeSinks()

	if cleanKnownDevices {
		if err := b.pipe.ClearKnownDevices(); err != nil {
			return err
		}
		log.Info().Msg("known devices cleared")
	}

	return b.serve(ctx, conn)
}

// bridge ties the decode pipeline, the poll scheduler and the capture sinks
// together for one transport session.
type bridge struct {
	cfg   *config.Config
	log   zerolog.Logger
	pipe  *pipeline.Pipeline
	sched *poller.Scheduler
	dump  *capture.DumpWriter
	proto *capture.ProtocolWriter

	outbound chan []byte
	packets  chan *nasa.Packet
}

func assembleBridge(cfg *config.Config, dict *dictionary.Dictionary,
	bus *mqttbus.Client, log zerolog.Logger) (*bridge, error) {

	b := &bridge{
		cfg:      cfg,
		log:      log,
		outbound: make(chan []byte, outboundQueueSize),
		packets:  make(chan *nasa.Packet, packetQueueSize),
	}

	if cfg.General.DumpFile != "" {
		var err error
		b.dump, err = capture.OpenDump(cfg.General.DumpFile)
		if err != nil {
			return nil, err
		}
	}
	if cfg.General.ProtocolFile != "" {
		var err error
		b.proto, err = capture.OpenProtocol(cfg.General.ProtocolFile, dict)
		if err != nil {
			return nil, err
		}
	}

	cdc := codec.New(dict, log)
	cdc.LogUnknown = cfg.Logging.MessageNotFound || cfg.General.LogUnknown

	reg := registry.New()
	disc := discovery.New(bus, dict, discovery.Config{
		DiscoveryPrefix: discoveryPrefix(cfg),
		TopicPrefix:     cfg.MQTT.TopicPrefix,
		CamelCaseNames:  cfg.MQTT.CamelCaseNames,
		ControlEnabled:  cfg.General.AllowControl,
	}, log)

	var sink pipeline.Sink
	if b.proto != nil {
		sink = b.proto
	}
	b.pipe = pipeline.New(cdc, dict, reg, disc, bus, sink, log)
	b.pipe.LogFiltered = cfg.Logging.InvalidPacket
	b.pipe.LogProcessed = cfg.Logging.ProcessedMessage

	b.sched = poller.New(pollGroups(cfg), cdc, b.enqueue, log)
	b.sched.ControlEnabled = cfg.General.AllowControl
	b.sched.LogPoller = cfg.Logging.PollerMessage
	b.sched.LogControl = cfg.Logging.ControlMessage

	// Seed the registry from the retained snapshot before live traffic adds
	// to it, then wire the inbound triggers.
	if err := bus.RestoreKnownDevices(func(devices []registry.Device) {
		reg.Restore(devices)
		log.Info().Int("devices", len(devices)).Msg("known devices restored")
	}); err != nil {
		return nil, err
	}
	if err := bus.SubscribeStatus(func() {
		if err := b.pipe.RepublishAll(); err != nil {
			log.Error().Err(err).Msg("republish after consumer online failed")
		}
	}); err != nil {
		return nil, err
	}
	if cfg.General.AllowControl {
		entities := entityNames(dict, disc)
		if err := bus.SubscribeControl(func(entity, value string) {
			name, ok := entities[entity]
			if !ok {
				log.Warn().Str("entity", entity).Msg("set request for unknown entity")
				return
			}
			if err := b.sched.Control(name, value); err != nil {
				log.Error().Err(err).Str("measurement", name).Str("value", value).
					Msg("control request failed")
			}
		}); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// serve runs the reader, processor and scheduler loops until ctx is
// cancelled or the transport fails. It does not return before the processor
// has drained every queued packet, so callers may release the bus and the
// capture sinks as soon as it does.
func (b *bridge) serve(ctx context.Context, conn Connection) error {
	readErr := make(chan error, 1)
	drained := make(chan struct{})

	go b.readLoop(conn, readErr)
	go func() {
		b.processLoop()
		close(drained)
	}()
	go b.writeLoop(ctx, conn)
	go b.scheduleLoop(ctx)

	select {
	case <-ctx.Done():
		b.log.Info().Msg("shutting down")
		// Stop intake first: closing the transport unblocks the reader,
		// which closes the packet channel once its last chunk is queued.
		conn.Close()
		<-readErr
		<-drained
		return nil
	case err := <-readErr:
		<-drained
		if errors.Is(err, ErrConnectionClosed) {
			b.log.Info().Msg("transport closed")
			return nil
		}
		return fmt.Errorf("transport read: %w", err)
	}
}

// readLoop turns transport bytes into packets. Framing and checksum errors
// are bus noise: counted, optionally logged, never fatal.
func (b *bridge) readLoop(conn Connection, readErr chan<- error) {
	defer close(b.packets)

	dec := nasa.NewDecoder()
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			readErr <- err
			return
		}
		if n == 0 {
			continue
		}
		if b.dump != nil {
			if err := b.dump.WriteFrame(buf[:n]); err != nil {
				b.log.Warn().Err(err).Msg("dump write failed")
			}
		}

		dec.Feed(buf[:n])
		for {
			pkt, err := dec.Next()
			if err != nil {
				if b.cfg.Logging.InvalidPacket {
					b.log.Info().Err(err).Msg("invalid packet dropped")
				}
				continue
			}
			if pkt == nil {
				break
			}
			b.packets <- pkt
		}
	}
}

func (b *bridge) processLoop() {
	for pkt := range b.packets {
		if err := b.pipe.Ingest(pkt); err != nil {
			b.log.Error().Err(err).Msg("packet processing failed")
		}
	}
}

// writeLoop is the single writer on the transport; the scheduler and the
// control path both enqueue through it.
func (b *bridge) writeLoop(ctx context.Context, conn Connection) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-b.outbound:
			if _, err := conn.Write(frame); err != nil {
				b.log.Error().Err(err).Msg("transport write failed")
			}
		}
	}
}

func (b *bridge) scheduleLoop(ctx context.Context) {
	ticker := time.NewTicker(schedulerPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := b.sched.Tick(now); err != nil {
				b.log.Error().Err(err).Msg("poll tick failed")
			}
		}
	}
}

func (b *bridge) enqueue(frame []byte) error {
	select {
	case b.outbound <- frame:
		return nil
	default:
		return errors.New("outbound queue full")
	}
}

func (b *bridge) closeSinks() {
	if b.dump != nil {
		b.dump.Close()
	}
	if b.proto != nil {
		b.proto.Close()
	}
}

func discoveryPrefix(cfg *config.Config) string {
	if !cfg.MQTT.HomeAssistant {
		return ""
	}
	return cfg.MQTT.DiscoveryPrefix
}

func pollGroups(cfg *config.Config) []*poller.Group {
	if cfg.Polling == nil {
		return nil
	}
	groups := make([]*poller.Group, 0, len(cfg.Polling.Groups))
	for _, g := range cfg.Polling.Groups {
		groups = append(groups, &poller.Group{
			Name:         g.Name,
			Measurements: g.Measurements,
			Enabled:      g.Enabled,
			Interval:     g.Interval.Std(),
		})
	}
	return groups
}

// entityNames maps topic entity segments back to dictionary names for the
// control path.
func entityNames(dict *dictionary.Dictionary, disc *discovery.Publisher) map[string]string {
	names := make(map[string]string, dict.Len())
	for _, name := range dict.Names() {
		names[disc.NormalizeName(name)] = name
	}
	return names
}
