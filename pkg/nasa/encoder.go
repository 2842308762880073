// SPDX-License-Identifier: Apache-2.0

package nasa

import (
	"encoding/binary"
	"fmt"
)

// Encode serializes a packet to wire format: markers, size, addresses,
// info byte, message entries and CRC. Encode is the exact inverse of the
// decoder; a structurally valid packet round-trips byte for byte.
func Encode(p *Packet) ([]byte, error) {
	if len(p.Messages) == 0 {
		return nil, fmt.Errorf("packet has no messages")
	}
	if len(p.Messages) > 255 {
		return nil, fmt.Errorf("too many messages: %d", len(p.Messages))
	}

	payloadLen := 0
	for i, m := range p.Messages {
		width := m.Kind().PayloadWidth()
		if width == 0 {
			if len(p.Messages) != 1 {
				return nil, fmt.Errorf("structure message 0x%04X in multi-entry packet", m.Number)
			}
			width = len(m.Payload)
		}
		if len(m.Payload) != width {
			return nil, fmt.Errorf("message %d (0x%04X): payload is %d bytes, kind needs %d",
				i, m.Number, len(m.Payload), width)
		}
		payloadLen += 2 + width
	}

	total := HeaderSize + payloadLen + TrailerSize
	if total > MaxPacketSize {
		return nil, fmt.Errorf("packet too large: %d bytes (max %d)", total, MaxPacketSize)
	}

	frame := make([]byte, total)
	frame[0] = StartByte
	binary.BigEndian.PutUint16(frame[1:3], uint16(total-2))
	frame[3] = uint8(p.Source.Class)
	frame[4] = p.Source.Channel
	frame[5] = p.Source.Unit
	frame[6] = uint8(p.Destination.Class)
	frame[7] = p.Destination.Channel
	frame[8] = p.Destination.Unit
	frame[9] = boolBit(p.Information)<<7 | (p.Version&0x03)<<5 | (p.RetryCount&0x03)<<3
	frame[10] = uint8(p.Type)<<4 | uint8(p.DataType)&0x0F
	frame[11] = p.Number
	frame[12] = uint8(len(p.Messages))

	idx := HeaderSize
	for _, m := range p.Messages {
		binary.BigEndian.PutUint16(frame[idx:idx+2], m.Number)
		copy(frame[idx+2:], m.Payload)
		idx += 2 + len(m.Payload)
	}

	crc := CalculateCRC(frame[3 : total-3])
	binary.BigEndian.PutUint16(frame[total-3:total-1], crc)
	frame[total-1] = EndByte

	return frame, nil
}

func boolBit(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
