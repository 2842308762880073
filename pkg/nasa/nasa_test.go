// SPDX-License-Identifier: Apache-2.0

package nasa

import (
	"bytes"
	"errors"
	"testing"
)

// ============================================================
// Test Helpers
// ============================================================

func testPacket() *Packet {
	p := NewPacket(
		Address{Class: ClassOutdoor, Channel: 0, Unit: 16},
		Address{Class: ClassIndoor, Channel: 0, Unit: 0},
		TypeNormal, DataNotification,
	)
	p.Information = true
	p.Version = 2
	p.Number = 42
	p.Messages = []Message{
		{Number: 0x4000, Payload: []byte{0x01}},
		{Number: 0x4202, Payload: []byte{0x01, 0x18}},
		{Number: 0x4427, Payload: []byte{0x00, 0x00, 0x12, 0x34}},
	}
	return p
}

func mustEncode(t *testing.T, p *Packet) []byte {
	t.Helper()
	frame, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return frame
}

func decodeAll(d *Decoder) ([]*Packet, []error) {
	var packets []*Packet
	var errs []error
	for {
		p, err := d.Next()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if p == nil {
			return packets, errs
		}
		packets = append(packets, p)
	}
}

// ============================================================
// CRC Tests
// ============================================================

func TestCalculateCRC_KnownValues(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected uint16
	}{
		{
			name:     "empty",
			data:     []byte{},
			expected: crcInitial,
		},
		{
			name:     "ASCII '123456789'",
			data:     []byte("123456789"),
			expected: 0x31C3, // CRC-16/XMODEM check value
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crc := CalculateCRC(tt.data)
			if crc != tt.expected {
				t.Errorf("CRC mismatch: expected 0x%04X, got 0x%04X", tt.expected, crc)
			}
		})
	}
}

// ============================================================
// Round-Trip Tests
// ============================================================

func TestRoundTrip(t *testing.T) {
	original := testPacket()
	frame := mustEncode(t, original)

	d := NewDecoder()
	d.Feed(frame)
	decoded, err := d.Next()
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded == nil {
		t.Fatal("decode returned no packet")
	}

	if decoded.Source != original.Source {
		t.Errorf("source mismatch: %v != %v", decoded.Source, original.Source)
	}
	if decoded.Destination != original.Destination {
		t.Errorf("destination mismatch: %v != %v", decoded.Destination, original.Destination)
	}
	if decoded.Information != original.Information ||
		decoded.Version != original.Version ||
		decoded.RetryCount != original.RetryCount {
		t.Errorf("info byte mismatch")
	}
	if decoded.Type != original.Type || decoded.DataType != original.DataType {
		t.Errorf("type mismatch: %d/%d != %d/%d",
			decoded.Type, decoded.DataType, original.Type, original.DataType)
	}
	if decoded.Number != original.Number {
		t.Errorf("packet number mismatch: %d != %d", decoded.Number, original.Number)
	}
	if len(decoded.Messages) != len(original.Messages) {
		t.Fatalf("message count mismatch: %d != %d", len(decoded.Messages), len(original.Messages))
	}
	for i := range original.Messages {
		if decoded.Messages[i].Number != original.Messages[i].Number {
			t.Errorf("message %d number mismatch", i)
		}
		if !bytes.Equal(decoded.Messages[i].Payload, original.Messages[i].Payload) {
			t.Errorf("message %d payload mismatch", i)
		}
	}

	// Re-encoding the decoded packet must reproduce the frame exactly.
	reencoded := mustEncode(t, decoded)
	if !bytes.Equal(frame, reencoded) {
		t.Errorf("re-encoded frame differs:\n  %X\n  %X", frame, reencoded)
	}
}

func TestRoundTrip_Structure(t *testing.T) {
	p := testPacket()
	p.Messages = []Message{
		{Number: 0x0602, Payload: []byte("EHS MONO   ")},
	}
	frame := mustEncode(t, p)

	d := NewDecoder()
	d.Feed(frame)
	decoded, err := d.Next()
	if err != nil || decoded == nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Messages[0].Kind() != KindStructure {
		t.Errorf("expected structure kind, got %d", decoded.Messages[0].Kind())
	}
	if !bytes.Equal(decoded.Messages[0].Payload, p.Messages[0].Payload) {
		t.Errorf("structure payload mismatch")
	}
}

// ============================================================
// Corruption Tests
// ============================================================

func TestCRCSensitivity_EveryBitFlip(t *testing.T) {
	frame := mustEncode(t, testPacket())

	// Flip every bit of the CRC'd region in turn; none may decode silently.
	for i := 3; i < len(frame)-3; i++ {
		for bit := 0; bit < 8; bit++ {
			corrupted := make([]byte, len(frame))
			copy(corrupted, frame)
			corrupted[i] ^= 1 << bit

			d := NewDecoder()
			d.Feed(corrupted)
			packets, errs := decodeAll(d)
			if len(packets) != 0 {
				t.Fatalf("byte %d bit %d: corrupted frame decoded to a packet", i, bit)
			}
			if len(errs) == 0 {
				t.Fatalf("byte %d bit %d: corruption not reported", i, bit)
			}
		}
	}
}

func TestResync_CorruptedThenValid(t *testing.T) {
	valid := mustEncode(t, testPacket())
	corrupted := make([]byte, len(valid))
	copy(corrupted, valid)
	corrupted[len(corrupted)-5] ^= 0xFF // clobber payload, CRC now wrong

	stream := append([]byte{0x00, 0x11, 0x22}, corrupted...)
	stream = append(stream, valid...)

	d := NewDecoder()
	d.Feed(stream)
	packets, errs := decodeAll(d)

	if len(packets) != 1 {
		t.Fatalf("expected exactly 1 packet after resync, got %d", len(packets))
	}
	if len(errs) == 0 {
		t.Error("corruption should have been reported at least once")
	}
	for _, err := range errs {
		if !errors.Is(err, ErrChecksum) && !errors.Is(err, ErrBadFrame) {
			t.Errorf("unexpected error class: %v", err)
		}
	}
}

func TestDecoder_PartialFeed(t *testing.T) {
	frame := mustEncode(t, testPacket())

	d := NewDecoder()
	for _, b := range frame[:len(frame)-1] {
		d.Feed([]byte{b})
		p, err := d.Next()
		if err != nil {
			t.Fatalf("decode error mid-frame: %v", err)
		}
		if p != nil {
			t.Fatal("packet completed before final byte")
		}
	}
	d.Feed(frame[len(frame)-1:])
	p, err := d.Next()
	if err != nil || p == nil {
		t.Fatalf("final byte should complete the packet: %v", err)
	}
}

func TestDecoder_CapacityMismatch(t *testing.T) {
	frame := mustEncode(t, testPacket())
	frame[12] = 2 // declare fewer entries than present

	// Recompute the CRC so only the capacity invariant fails.
	crc := CalculateCRC(frame[3 : len(frame)-3])
	frame[len(frame)-3] = byte(crc >> 8)
	frame[len(frame)-2] = byte(crc)

	d := NewDecoder()
	d.Feed(frame)
	packets, errs := decodeAll(d)
	if len(packets) != 0 {
		t.Fatal("capacity mismatch must not produce a packet")
	}
	if len(errs) == 0 || !errors.Is(errs[0], ErrBadFrame) {
		t.Errorf("expected framing error, got %v", errs)
	}
}

func TestDecoder_UnknownAddressClass(t *testing.T) {
	frame := mustEncode(t, testPacket())
	frame[3] = 0x99 // not a documented class

	crc := CalculateCRC(frame[3 : len(frame)-3])
	frame[len(frame)-3] = byte(crc >> 8)
	frame[len(frame)-2] = byte(crc)

	d := NewDecoder()
	d.Feed(frame)
	packets, errs := decodeAll(d)
	if len(packets) != 0 {
		t.Fatal("out-of-enum address class must not produce a packet")
	}
	if len(errs) == 0 {
		t.Fatal("out-of-enum address class should be reported")
	}
}

func TestDecoder_Stats(t *testing.T) {
	valid := mustEncode(t, testPacket())
	d := NewDecoder()
	d.Feed([]byte{0xAA, 0xBB})
	d.Feed(valid)
	packets, _ := decodeAll(d)
	if len(packets) != 1 {
		t.Fatalf("expected 1 packet, got %d", len(packets))
	}

	stats := d.Stats()
	if stats.Packets != 1 {
		t.Errorf("expected 1 packet counted, got %d", stats.Packets)
	}
	if stats.BytesDropped != 2 {
		t.Errorf("expected 2 dropped bytes, got %d", stats.BytesDropped)
	}
}

// ============================================================
// Encoder Validation Tests
// ============================================================

func TestEncode_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Packet)
	}{
		{
			name:   "no messages",
			mutate: func(p *Packet) { p.Messages = nil },
		},
		{
			name: "wrong payload width",
			mutate: func(p *Packet) {
				p.Messages = []Message{{Number: 0x4202, Payload: []byte{0x01}}}
			},
		},
		{
			name: "structure with siblings",
			mutate: func(p *Packet) {
				p.Messages = []Message{
					{Number: 0x0602, Payload: []byte("ABC")},
					{Number: 0x4000, Payload: []byte{0x01}},
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPacket()
			tt.mutate(p)
			if _, err := Encode(p); err == nil {
				t.Error("expected encode error")
			}
		})
	}
}

func TestMessageKind(t *testing.T) {
	tests := []struct {
		number uint16
		kind   MessageKind
		width  int
	}{
		{0x4000, KindEnum, 1},
		{0x4202, KindVariable, 2},
		{0x4427, KindLongVariable, 4},
		{0x0602, KindStructure, 0},
	}

	for _, tt := range tests {
		if got := KindOf(tt.number); got != tt.kind {
			t.Errorf("0x%04X: expected kind %d, got %d", tt.number, tt.kind, got)
		}
		if got := KindOf(tt.number).PayloadWidth(); got != tt.width {
			t.Errorf("0x%04X: expected width %d, got %d", tt.number, tt.width, got)
		}
	}
}
