// SPDX-License-Identifier: Apache-2.0

// Package pipeline consumes decoded packets: it filters foreign-device
// chatter, turns packets into readings, keeps the device registry current,
// computes derived readings and pushes everything to the telemetry bus.
package pipeline

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ehstools/nasabridge/pkg/codec"
	"github.com/ehstools/nasabridge/pkg/dictionary"
	"github.com/ehstools/nasabridge/pkg/discovery"
	"github.com/ehstools/nasabridge/pkg/nasa"
	"github.com/ehstools/nasabridge/pkg/registry"
)

// Telemetry is the bus-side surface the pipeline publishes through.
type Telemetry interface {
	PublishReading(r codec.Reading) error
	PersistKnownDevices(devices []registry.Device) error
}

// Sink receives every published reading for offline capture. Optional.
type Sink interface {
	Record(r codec.Reading) error
}

// Pipeline is the ingest path. Ingest and RepublishAll serialize against
// each other; announcements triggered by a republish never interleave with a
// packet's registry mutations.
type Pipeline struct {
	mu     sync.Mutex
	codec  *codec.Codec
	dict   *dictionary.Dictionary
	reg    *registry.Registry
	disc   *discovery.Publisher
	bus    Telemetry
	sink   Sink
	log    zerolog.Logger
	values map[string]float64

	// Logging switches, mirrored from the config's logging block.
	LogFiltered  bool
	LogProcessed bool
}

// New creates an ingest pipeline. sink may be nil.
func New(c *codec.Codec, dict *dictionary.Dictionary, reg *registry.Registry,
	disc *discovery.Publisher, bus Telemetry, sink Sink, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		codec:  c,
		dict:   dict,
		reg:    reg,
		disc:   disc,
		bus:    bus,
		sink:   sink,
		log:    log,
		values: make(map[string]float64),
	}
}

// Ingest processes one decoded packet end to end. Bus noise never produces
// an error; only telemetry-side failures propagate.
func (p *Pipeline) Ingest(pkt *nasa.Packet) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !accepted(pkt) {
		ev := p.log.Debug()
		if p.LogFiltered {
			ev = p.log.Info()
		}
		ev.Stringer("src", pkt.Source).Stringer("dst", pkt.Destination).
			Msg("packet not between indoor and outdoor units, filtered")
		return nil
	}

	readings := p.codec.Decode(pkt)
	p.reg.Observe(pkt.Source, pkt.Timestamp)

	updated := make(map[string]bool, len(readings))
	announce := false
	for _, r := range readings {
		if p.reg.Record(pkt.Source, r.Name) {
			announce = true
		}
		if err := p.publish(r); err != nil {
			return err
		}
		if r.IsNumeric {
			p.values[r.Name] = r.Number
		}
		updated[r.Name] = true
	}

	derived, err := p.evaluateDerived(pkt, updated)
	if err != nil {
		return err
	}
	announce = announce || derived

	if announce {
		if dev, ok := p.reg.Device(pkt.Source); ok {
			if err := p.disc.Announce(dev); err != nil {
				return fmt.Errorf("discovery announce: %w", err)
			}
		}
		if err := p.bus.PersistKnownDevices(p.reg.Snapshot()); err != nil {
			return fmt.Errorf("persist known devices: %w", err)
		}
	}
	return nil
}

// evaluateDerived runs the derived rules and publishes any reading that
// fired. Reports whether a measurement name was seen for the first time.
func (p *Pipeline) evaluateDerived(pkt *nasa.Packet, updated map[string]bool) (bool, error) {
	announce := false
	for _, rule := range derivedRules {
		v, ok := rule.evaluate(p.values, updated)
		if !ok {
			continue
		}
		r := codec.Reading{
			Name:      rule.name,
			Device:    pkt.Source,
			Unit:      rule.unit,
			Time:      pkt.Timestamp,
			Number:    v,
			IsNumeric: true,
		}
		if def, known := p.dict.ByName(rule.name); known && def.Unit != "" {
			r.Unit = def.Unit
		}
		if p.reg.Record(pkt.Source, rule.name) {
			announce = true
		}
		if err := p.publish(r); err != nil {
			return false, err
		}
		p.values[rule.name] = v
		updated[rule.name] = true
	}
	return announce, nil
}

func (p *Pipeline) publish(r codec.Reading) error {
	ev := p.log.Debug()
	if p.LogProcessed {
		ev = p.log.Info()
	}
	ev.Str("name", r.Name).Str("value", r.Value()).Msg("reading")

	if p.sink != nil {
		if err := p.sink.Record(r); err != nil {
			p.log.Warn().Err(err).Msg("capture sink write failed")
		}
	}
	if err := p.bus.PublishReading(r); err != nil {
		return fmt.Errorf("publish %s: %w", r.Name, err)
	}
	return nil
}

// RepublishAll re-announces every known device in a single batch per device,
// typically in response to the telemetry bus signalling that a consumer came
// online. No packet needs to arrive first.
func (p *Pipeline) RepublishAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	devices := p.reg.Snapshot()
	p.log.Info().Int("devices", len(devices)).Msg("republishing discovery for all known devices")
	if err := p.disc.AnnounceAll(devices); err != nil {
		return err
	}
	return p.bus.PersistKnownDevices(devices)
}

// ClearKnownDevices forgets every device; the next packets re-announce from
// scratch.
func (p *Pipeline) ClearKnownDevices() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reg.Clear()
	return p.bus.PersistKnownDevices(nil)
}

// accepted reports whether a packet passes the indoor/outdoor filter.
// Responses addressed to the bridge itself still originate from a unit, so
// only the source class is checked.
func accepted(pkt *nasa.Packet) bool {
	return pkt.Source.Class == nasa.ClassIndoor || pkt.Source.Class == nasa.ClassOutdoor
}
