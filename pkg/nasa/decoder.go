// SPDX-License-Identifier: Apache-2.0

package nasa

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Decode failure classes. Both are recoverable: the decoder drops a single
// byte, resynchronizes on the next start marker and keeps going.
var (
	ErrBadFrame = errors.New("framing error")
	ErrChecksum = errors.New("checksum mismatch")
)

// Stats counts decoder outcomes since the last Reset.
type Stats struct {
	Packets        uint64
	FramingErrors  uint64
	ChecksumErrors uint64
	BytesDropped   uint64
}

// Decoder turns a raw byte stream into validated packets. Feed it arbitrary
// chunks with Feed and pull packets with Next; the decoder buffers partial
// frames internally and never fails fatally on bus noise.
type Decoder struct {
	buf   []byte
	stats Stats
}

// NewDecoder creates a new protocol decoder.
func NewDecoder() *Decoder {
	return &Decoder{buf: make([]byte, 0, MaxPacketSize*2)}
}

// Reset discards any buffered bytes and clears the statistics.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.stats = Stats{}
}

// Stats returns a copy of the decoder's counters.
func (d *Decoder) Stats() Stats {
	return d.stats
}

// Feed appends raw bytes from the transport to the decode buffer.
func (d *Decoder) Feed(data []byte) {
	d.buf = append(d.buf, data...)
}

// Next extracts the next complete packet from the buffer.
//
// Returns (packet, nil) when a frame was validated, (nil, nil) when more
// bytes are needed, and (nil, err) when a corrupted frame was dropped. After
// an error the caller may keep calling Next; the stream stays usable.
func (d *Decoder) Next() (*Packet, error) {
	for {
		// Resynchronize on the start marker.
		if n := d.skipToStart(); n > 0 {
			d.stats.BytesDropped += uint64(n)
		}
		if len(d.buf) < 3 {
			return nil, nil
		}

		size := int(binary.BigEndian.Uint16(d.buf[1:3]))
		total := size + 2
		if total < MinPacketSize || total > MaxPacketSize {
			d.dropByte()
			d.stats.FramingErrors++
			return nil, fmt.Errorf("%w: implausible size %d", ErrBadFrame, size)
		}
		if len(d.buf) < total {
			return nil, nil
		}

		frame := d.buf[:total]
		if frame[total-1] != EndByte {
			d.dropByte()
			d.stats.FramingErrors++
			return nil, fmt.Errorf("%w: bad end marker 0x%02X", ErrBadFrame, frame[total-1])
		}

		want := binary.BigEndian.Uint16(frame[total-3 : total-1])
		got := CalculateCRC(frame[3 : total-3])
		if want != got {
			d.dropByte()
			d.stats.ChecksumErrors++
			return nil, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrChecksum, want, got)
		}

		packet, err := parseFrame(frame)
		if err != nil {
			d.dropByte()
			d.stats.FramingErrors++
			return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
		}

		d.buf = d.buf[:copy(d.buf, d.buf[total:])]
		d.stats.Packets++
		return packet, nil
	}
}

// skipToStart discards bytes preceding the next start marker and returns how
// many were dropped.
func (d *Decoder) skipToStart() int {
	n := 0
	for n < len(d.buf) && d.buf[n] != StartByte {
		n++
	}
	if n > 0 {
		d.buf = d.buf[:copy(d.buf, d.buf[n:])]
	}
	return n
}

func (d *Decoder) dropByte() {
	if len(d.buf) > 0 {
		d.buf = d.buf[:copy(d.buf, d.buf[1:])]
		d.stats.BytesDropped++
	}
}

// parseFrame decodes a full, CRC-validated frame into a Packet.
func parseFrame(frame []byte) (*Packet, error) {
	srcClass := AddressClass(frame[3])
	dstClass := AddressClass(frame[6])
	if !srcClass.Known() {
		return nil, fmt.Errorf("source address class 0x%02X out of enum", frame[3])
	}
	if !dstClass.Known() {
		return nil, fmt.Errorf("destination address class 0x%02X out of enum", frame[6])
	}

	p := &Packet{
		Source:      Address{Class: srcClass, Channel: frame[4], Unit: frame[5]},
		Destination: Address{Class: dstClass, Channel: frame[7], Unit: frame[8]},
		Information: frame[9]&0x80 != 0,
		Version:     (frame[9] & 0x60) >> 5,
		RetryCount:  (frame[9] & 0x18) >> 3,
		Type:        PacketType((frame[10] & 0xF0) >> 4),
		DataType:    DataType(frame[10] & 0x0F),
		Number:      frame[11],
		Timestamp:   time.Now(),
	}

	capacity := int(frame[12])
	msgs, err := extractMessages(frame[HeaderSize:len(frame)-TrailerSize], capacity)
	if err != nil {
		return nil, err
	}
	p.Messages = msgs
	return p, nil
}

// extractMessages splits the payload region into capacity message entries.
// The entry count must match the declared capacity exactly.
func extractMessages(payload []byte, capacity int) ([]Message, error) {
	msgs := make([]Message, 0, capacity)
	rest := payload
	for i := 0; i < capacity; i++ {
		if len(rest) < 3 {
			return nil, fmt.Errorf("payload exhausted at entry %d of %d", i, capacity)
		}
		number := binary.BigEndian.Uint16(rest[0:2])
		width := KindOf(number).PayloadWidth()
		if width == 0 {
			// Structure entries consume the remainder and must be the
			// packet's only entry.
			if capacity != 1 {
				return nil, fmt.Errorf("structure message 0x%04X with capacity %d", number, capacity)
			}
			width = len(rest) - 2
		}
		if len(rest) < 2+width {
			return nil, fmt.Errorf("short payload for message 0x%04X: %d of %d bytes",
				number, len(rest)-2, width)
		}
		value := make([]byte, width)
		copy(value, rest[2:2+width])
		msgs = append(msgs, Message{Number: number, Payload: value})
		rest = rest[2+width:]
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%d trailing payload bytes after %d entries", len(rest), capacity)
	}
	return msgs, nil
}
