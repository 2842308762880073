// SPDX-License-Identifier: Apache-2.0

// Package nasa implements the framing layer of the Samsung NASA field-bus
// protocol spoken on EHS heat-pump units.
//
// A frame is delimited by start/end marker bytes, carries source and
// destination addresses, a packet-info byte, a sequence of message entries
// and a trailing CRC-16. This package provides packet encoding/decoding with
// stream resynchronization and CRC validation; interpreting message payloads
// against the data dictionary lives in pkg/codec.
package nasa

// Protocol framing bytes
const (
	StartByte = 0x32
	EndByte   = 0x34
)

// Packet size limits. The two size bytes after the start marker count every
// byte of the frame except the two markers, so the full frame is size+2.
const (
	MinPacketSize = 14
	MaxPacketSize = 1024
	HeaderSize    = 13 // start marker through capacity byte
	TrailerSize   = 3  // CRC-16 plus end marker
)

// CRC-16/CCITT (XMODEM) configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0x0000
)

// AddressClass identifies the role of a field-bus participant.
type AddressClass uint8

// Address classes observed on the NASA bus.
const (
	ClassOutdoor               AddressClass = 0x10
	ClassHTU                   AddressClass = 0x11
	ClassIndoor                AddressClass = 0x20
	ClassERV                   AddressClass = 0x30
	ClassDiffuser              AddressClass = 0x35
	ClassMCU                   AddressClass = 0x38
	ClassRMC                   AddressClass = 0x40
	ClassWiredRemote           AddressClass = 0x50
	ClassPIM                   AddressClass = 0x58
	ClassSIM                   AddressClass = 0x59
	ClassPeak                  AddressClass = 0x5A
	ClassPowerDivider          AddressClass = 0x5B
	ClassOnOffController       AddressClass = 0x60
	ClassWiFiKit               AddressClass = 0x62
	ClassCentralController     AddressClass = 0x65
	ClassDMS                   AddressClass = 0x6A
	ClassJIGTester             AddressClass = 0x80
	ClassBroadcastSelfLayer    AddressClass = 0xB0
	ClassBroadcastControlLayer AddressClass = 0xB1
	ClassBroadcastSetLayer     AddressClass = 0xB2
	ClassBroadcastCS           AddressClass = 0xB3
	ClassBroadcastModuleLayer  AddressClass = 0xB4
	ClassBroadcastCSM          AddressClass = 0xB7
	ClassBroadcastLocalLayer   AddressClass = 0xB8
	ClassBroadcastCSML         AddressClass = 0xBF
	ClassUndefined             AddressClass = 0xFF
)

var addressClassNames = map[AddressClass]string{
	ClassOutdoor:               "Outdoor",
	ClassHTU:                   "HTU",
	ClassIndoor:                "Indoor",
	ClassERV:                   "ERV",
	ClassDiffuser:              "Diffuser",
	ClassMCU:                   "MCU",
	ClassRMC:                   "RMC",
	ClassWiredRemote:           "WiredRemote",
	ClassPIM:                   "PIM",
	ClassSIM:                   "SIM",
	ClassPeak:                  "Peak",
	ClassPowerDivider:          "PowerDivider",
	ClassOnOffController:       "OnOffController",
	ClassWiFiKit:               "WiFiKit",
	ClassCentralController:     "CentralController",
	ClassDMS:                   "DMS",
	ClassJIGTester:             "JIGTester",
	ClassBroadcastSelfLayer:    "BroadcastSelfLayer",
	ClassBroadcastControlLayer: "BroadcastControlLayer",
	ClassBroadcastSetLayer:     "BroadcastSetLayer",
	ClassBroadcastCS:           "BroadcastCS",
	ClassBroadcastModuleLayer:  "BroadcastModuleLayer",
	ClassBroadcastCSM:          "BroadcastCSM",
	ClassBroadcastLocalLayer:   "BroadcastLocalLayer",
	ClassBroadcastCSML:         "BroadcastCSML",
	ClassUndefined:             "Undefined",
}

// Known reports whether c is one of the documented address classes.
func (c AddressClass) Known() bool {
	_, ok := addressClassNames[c]
	return ok
}

func (c AddressClass) String() string {
	if name, ok := addressClassNames[c]; ok {
		return name
	}
	return "Unknown"
}

// PacketType is the high nibble of the packet-info byte.
type PacketType uint8

// Packet type values
const (
	TypeStandBy   PacketType = 0
	TypeNormal    PacketType = 1
	TypeGathering PacketType = 2
	TypeInstall   PacketType = 3
	TypeDownload  PacketType = 4
)

// DataType is the low nibble of the packet-info byte.
type DataType uint8

// Data type values
const (
	DataUndefined    DataType = 0
	DataRead         DataType = 1
	DataWrite        DataType = 2
	DataRequest      DataType = 3
	DataNotification DataType = 4
	DataResponse     DataType = 5
	DataAck          DataType = 6
	DataNack         DataType = 7
)

// MessageKind is encoded in bits 10-9 of a message identifier and determines
// the payload width of the entry.
type MessageKind uint8

// Message kind values
const (
	KindEnum         MessageKind = 0 // 1 byte
	KindVariable     MessageKind = 1 // 2 bytes
	KindLongVariable MessageKind = 2 // 4 bytes
	KindStructure    MessageKind = 3 // remainder of the payload
)

// PayloadWidth returns the fixed payload width for k, or 0 for structures
// whose width is determined by the frame.
func (k MessageKind) PayloadWidth() int {
	switch k {
	case KindEnum:
		return 1
	case KindVariable:
		return 2
	case KindLongVariable:
		return 4
	default:
		return 0
	}
}
