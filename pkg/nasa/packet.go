// SPDX-License-Identifier: Apache-2.0

package nasa

import (
	"fmt"
	"strings"
	"time"
)

// Address identifies a field-bus participant as (class, channel, unit).
type Address struct {
	Class   AddressClass
	Channel uint8
	Unit    uint8
}

func (a Address) String() string {
	return fmt.Sprintf("%s/%d/%d", a.Class, a.Channel, a.Unit)
}

// ID returns the stable lower-hex identity string used for discovery topics
// and the retained known-devices payload.
func (a Address) ID() string {
	return fmt.Sprintf("%02x_%02x_%02x", uint8(a.Class), a.Channel, a.Unit)
}

// ParseID parses the identity string produced by Address.ID.
func ParseID(s string) (Address, error) {
	var class, channel, unit uint8
	if _, err := fmt.Sscanf(s, "%02x_%02x_%02x", &class, &channel, &unit); err != nil {
		return Address{}, fmt.Errorf("bad device id %q: %w", s, err)
	}
	return Address{Class: AddressClass(class), Channel: channel, Unit: unit}, nil
}

// Message is one (identifier, raw payload) entry inside a packet.
type Message struct {
	Number  uint16
	Payload []byte
}

// Kind extracts the payload kind from bits 10-9 of the identifier.
func (m Message) Kind() MessageKind {
	return MessageKind((m.Number & 0x600) >> 9)
}

// KindOf returns the message kind encoded in a bare identifier.
func KindOf(number uint16) MessageKind {
	return Message{Number: number}.Kind()
}

// Packet is the decoded structural representation of one NASA frame.
type Packet struct {
	Source      Address
	Destination Address

	Information bool
	Version     uint8
	RetryCount  uint8

	Type     PacketType
	DataType DataType
	Number   uint8

	Messages []Message

	Timestamp time.Time
}

// NewPacket creates a packet with the given envelope and no messages.
func NewPacket(src, dst Address, typ PacketType, dataType DataType) *Packet {
	return &Packet{
		Source:      src,
		Destination: dst,
		Type:        typ,
		DataType:    dataType,
		Timestamp:   time.Now(),
	}
}

func (p *Packet) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Packet{src=%s dst=%s type=%d data=%d no=%d msgs=[",
		p.Source, p.Destination, p.Type, p.DataType, p.Number)
	for i, m := range p.Messages {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "0x%04X:%X", m.Number, m.Payload)
	}
	b.WriteString("]}")
	return b.String()
}
