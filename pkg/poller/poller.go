// SPDX-License-Identifier: Apache-2.0

// Package poller drives the active side of the field bus: scheduled read
// requests for configured poll groups and externally submitted control
// writes. It builds packets and hands encoded frames to a send function; it
// never retries, retry policy belongs to the transport supervisor.
package poller

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehstools/nasabridge/pkg/codec"
	"github.com/ehstools/nasabridge/pkg/nasa"
)

// ErrControlDisabled is returned for control requests while control is
// globally disabled.
var ErrControlDisabled = errors.New("control is disabled")

// Experience has shown that more than 10 entries per read request is too
// much for one packet.
const chunkSize = 10

// The packet number stamped on every request the bridge originates.
const requestNumber = 166

// SendFunc transmits one encoded frame on the field bus. Implementations
// must serialize writes; the scheduler calls it from whatever goroutine
// invoked Tick or Control.
type SendFunc func(frame []byte) error

// Group is one named set of measurements polled on a shared cadence.
type Group struct {
	Name         string
	Measurements []string
	Enabled      bool
	Interval     time.Duration

	lastFired time.Time
}

// Due reports whether the group should fire at now.
func (g *Group) Due(now time.Time) bool {
	return g.Enabled && now.Sub(g.lastFired) >= g.Interval
}

// Scheduler issues read requests on group cadences and write requests on
// demand.
type Scheduler struct {
	groups []*Group
	codec  *codec.Codec
	send   SendFunc
	log    zerolog.Logger

	ControlEnabled bool
	LogPoller      bool
	LogControl     bool
}

// New creates a scheduler over the given groups.
func New(groups []*Group, c *codec.Codec, send SendFunc, log zerolog.Logger) *Scheduler {
	return &Scheduler{groups: groups, codec: c, send: send, log: log}
}

// Tick evaluates every enabled group against now and sends read requests for
// each due group. All of a group's measurements are requested within the
// same tick, chunked into packets of at most 10 entries.
func (s *Scheduler) Tick(now time.Time) error {
	for _, g := range s.groups {
		if !g.Due(now) {
			continue
		}
		if err := s.pollGroup(g); err != nil {
			return fmt.Errorf("poll group %s: %w", g.Name, err)
		}
		g.lastFired = now
	}
	return nil
}

func (s *Scheduler) pollGroup(g *Group) error {
	ev := s.log.Debug()
	if s.LogPoller {
		ev = s.log.Info()
	}
	ev.Str("group", g.Name).Int("measurements", len(g.Measurements)).Msg("polling group")

	for start := 0; start < len(g.Measurements); start += chunkSize {
		end := start + chunkSize
		if end > len(g.Measurements) {
			end = len(g.Measurements)
		}
		if err := s.sendReadRequest(g.Measurements[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// ReadRequest requests the current value of the given measurements outside
// of any group cadence.
func (s *Scheduler) ReadRequest(names []string) error {
	for start := 0; start < len(names); start += chunkSize {
		end := start + chunkSize
		if end > len(names) {
			end = len(names)
		}
		if err := s.sendReadRequest(names[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) sendReadRequest(names []string) error {
	pkt := readRequestPacket()
	for _, name := range names {
		msg, err := s.codec.ZeroMessage(name)
		if err != nil {
			// Unknown names in a group are a config mistake, not a reason
			// to starve the rest of the group.
			s.log.Warn().Err(err).Str("name", name).Msg("skipping unpollable measurement")
			continue
		}
		pkt.Messages = append(pkt.Messages, msg)
	}
	if len(pkt.Messages) == 0 {
		return nil
	}
	return s.transmit(pkt)
}

// Control validates and immediately transmits a write request for one
// measurement, bypassing every group cadence. Gating failures are returned
// synchronously and produce no transport write. After a successful write a
// follow-up read confirms the new value.
func (s *Scheduler) Control(name, value string) error {
	if !s.ControlEnabled {
		return fmt.Errorf("%w: rejecting write to %s", ErrControlDisabled, name)
	}

	msg, err := s.codec.EncodeValue(name, value, true)
	if err != nil {
		return err
	}

	ev := s.log.Debug()
	if s.LogControl {
		ev = s.log.Info()
	}
	ev.Str("name", name).Str("value", value).Msg("write request")

	pkt := writeRequestPacket()
	pkt.Messages = []nasa.Message{msg}
	if err := s.transmit(pkt); err != nil {
		return err
	}
	return s.ReadRequest([]string{name})
}

func (s *Scheduler) transmit(pkt *nasa.Packet) error {
	frame, err := nasa.Encode(pkt)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if err := s.send(frame); err != nil {
		return fmt.Errorf("transport write: %w", err)
	}
	return nil
}

// readRequestPacket builds the envelope the bridge uses for polls: the
// JIG-tester identity broadcasting on the set layer.
func readRequestPacket() *nasa.Packet {
	p := nasa.NewPacket(
		nasa.Address{Class: nasa.ClassJIGTester, Channel: 255, Unit: 0},
		nasa.Address{Class: nasa.ClassBroadcastSetLayer, Channel: 0, Unit: 32},
		nasa.TypeNormal, nasa.DataRead,
	)
	p.Information = true
	p.Version = 2
	p.Number = requestNumber
	return p
}

// writeRequestPacket builds the envelope for control writes, addressed to
// the indoor unit directly.
func writeRequestPacket() *nasa.Packet {
	p := nasa.NewPacket(
		nasa.Address{Class: nasa.ClassJIGTester, Channel: 0, Unit: 255},
		nasa.Address{Class: nasa.ClassIndoor, Channel: 0, Unit: 0},
		nasa.TypeNormal, nasa.DataRequest,
	)
	p.Information = true
	p.Version = 2
	p.Number = requestNumber
	return p
}
