// SPDX-License-Identifier: Apache-2.0

// Package codec translates between raw NASA message entries and typed
// readings using the message dictionary. Decoding is lossy-safe: unknown
// identifiers and unsupported structures are skipped without aborting the
// rest of the packet.
package codec

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehstools/nasabridge/pkg/dictionary"
	"github.com/ehstools/nasabridge/pkg/nasa"
)

// Gating errors returned by EncodeValue.
var (
	ErrUnknownMeasurement = errors.New("measurement not in dictionary")
	ErrNotWritable        = errors.New("measurement is not writable")
)

// Reading is one fully decoded, unit-converted measurement.
type Reading struct {
	Name   string
	Device nasa.Address
	Unit   string
	Time   time.Time

	// Exactly one of Number/Label is meaningful, selected by IsNumeric.
	Number    float64
	Label     string
	IsNumeric bool
}

// Value renders the reading for telemetry publishing.
func (r Reading) Value() string {
	if !r.IsNumeric {
		return r.Label
	}
	return strconv.FormatFloat(round2(r.Number), 'f', -1, 64)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Codec decodes packets into readings and encodes control values back into
// raw message entries.
type Codec struct {
	dict *dictionary.Dictionary
	log  zerolog.Logger

	// Promotes unknown-identifier logs from debug to info.
	LogUnknown bool
}

// New creates a codec over the given dictionary.
func New(dict *dictionary.Dictionary, log zerolog.Logger) *Codec {
	return &Codec{dict: dict, log: log}
}

// Decode converts every known message entry of a packet into a reading, in
// entry order. Unknown identifiers and oversized structures produce no
// reading but never abort the packet.
func (c *Codec) Decode(p *nasa.Packet) []Reading {
	readings := make([]Reading, 0, len(p.Messages))
	for _, msg := range p.Messages {
		def, ok := c.dict.ByID(msg.Number)
		if !ok {
			ev := c.log.Debug()
			if c.LogUnknown {
				ev = c.log.Info()
			}
			ev.Str("id", fmt.Sprintf("0x%04X", msg.Number)).
				Hex("payload", msg.Payload).
				Msg("message not found in dictionary")
			continue
		}

		if msg.Kind() == nasa.KindStructure && len(msg.Payload) > 1 {
			c.log.Debug().Str("name", def.Name).Int("width", len(msg.Payload)).
				Msg("unsupported structure width, entry skipped")
			continue
		}

		readings = append(readings, c.decodeMessage(def, msg, p))
	}
	return readings
}

func (c *Codec) decodeMessage(def *dictionary.Definition, msg nasa.Message, p *nasa.Packet) Reading {
	r := Reading{
		Name:   def.Name,
		Device: p.Source,
		Unit:   def.Unit,
		Time:   p.Timestamp,
	}

	if def.Kind == dictionary.KindEnum {
		// Enum tables key on the unsigned octet value.
		raw := unsignedBE(msg.Payload)
		if label, ok := def.EnumLabel(raw); ok {
			r.Label = label
			return r
		}
		// Out-of-table values are preserved numerically, never dropped.
		c.log.Warn().Str("name", def.Name).Int64("raw", raw).
			Msg("enum value not in table, publishing raw number")
		r.IsNumeric = true
		r.Number = float64(raw)
		return r
	}

	raw := signedBE(msg.Payload)
	r.IsNumeric = true
	r.Number = float64(raw)*def.Scale + def.Offset
	return r
}

// EncodeValue builds a raw message entry carrying the given value. The value
// may be a number or an enum label. When forWrite is set the definition must
// carry the writable flag.
func (c *Codec) EncodeValue(name, value string, forWrite bool) (nasa.Message, error) {
	def, ok := c.dict.ByName(name)
	if !ok {
		return nasa.Message{}, fmt.Errorf("%w: %s", ErrUnknownMeasurement, name)
	}
	if forWrite && !def.Writable {
		return nasa.Message{}, fmt.Errorf("%w: %s", ErrNotWritable, name)
	}

	raw, err := c.rawValue(def, value)
	if err != nil {
		return nasa.Message{}, err
	}

	width := nasa.KindOf(def.ID).PayloadWidth()
	if width == 0 {
		return nasa.Message{}, fmt.Errorf("cannot encode structure measurement %s", name)
	}
	payload := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		payload[i] = byte(raw)
		raw >>= 8
	}
	return nasa.Message{Number: def.ID, Payload: payload}, nil
}

// ZeroMessage builds a message entry with an all-zero payload, used as the
// placeholder in read requests.
func (c *Codec) ZeroMessage(name string) (nasa.Message, error) {
	def, ok := c.dict.ByName(name)
	if !ok {
		return nasa.Message{}, fmt.Errorf("%w: %s", ErrUnknownMeasurement, name)
	}
	width := nasa.KindOf(def.ID).PayloadWidth()
	if width == 0 {
		return nasa.Message{}, fmt.Errorf("cannot request structure measurement %s", name)
	}
	return nasa.Message{Number: def.ID, Payload: make([]byte, width)}, nil
}

// rawValue converts a user-facing value to its wire integer, reversing the
// enum table or the scale/offset transform.
func (c *Codec) rawValue(def *dictionary.Definition, value string) (int64, error) {
	if raw, ok := def.EnumValue(value); ok {
		return raw, nil
	}
	num, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("value %q for %s is neither a number nor an enum label", value, def.Name)
	}
	return int64(math.Round((num - def.Offset) / def.Scale)), nil
}

// unsignedBE interprets a payload as a big-endian unsigned integer.
func unsignedBE(b []byte) int64 {
	var v int64
	for _, x := range b {
		v = v<<8 | int64(x)
	}
	return v
}

// signedBE interprets a payload as a big-endian two's-complement integer.
func signedBE(b []byte) int64 {
	if len(b) == 0 {
		return 0
	}
	v := int64(int8(b[0])) // sign-extend from the first byte
	for _, x := range b[1:] {
		v = v<<8 | int64(x)
	}
	return v
}
