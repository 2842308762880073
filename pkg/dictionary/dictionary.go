// SPDX-License-Identifier: Apache-2.0

// Package dictionary loads the static NASA message dictionary: the mapping
// from 16-bit message identifiers to names, value kinds, units, enumeration
// tables and scaling rules. The dictionary is read once at startup from a
// YAML file and is immutable afterwards.
package dictionary

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind classifies how a definition's payload is interpreted.
type Kind int

// Value kinds
const (
	KindEnum Kind = iota
	KindVariable
	KindLongVariable
	KindStructure
)

var kindNames = map[string]Kind{
	"ENUM":      KindEnum,
	"VAR":       KindVariable,
	"LVAR":      KindLongVariable,
	"STRUCTURE": KindStructure,
}

func (k Kind) String() string {
	switch k {
	case KindEnum:
		return "ENUM"
	case KindVariable:
		return "VAR"
	case KindLongVariable:
		return "LVAR"
	default:
		return "STRUCTURE"
	}
}

// Definition describes one measurement: how to decode its payload and how to
// present it on the telemetry side. Definitions are shared and read-only.
type Definition struct {
	Name     string
	ID       uint16
	Kind     Kind
	Unit     string
	Writable bool
	Enum     map[int64]string
	Scale    float64
	Offset   float64

	// Optional telemetry-side hints carried through to discovery.
	StateClass  string
	DeviceClass string
}

// EnumLabel resolves a raw value through the enumeration table.
func (d *Definition) EnumLabel(raw int64) (string, bool) {
	label, ok := d.Enum[raw]
	return label, ok
}

// EnumValue reverse-resolves a label to its raw value.
func (d *Definition) EnumValue(label string) (int64, bool) {
	for raw, l := range d.Enum {
		if strings.EqualFold(l, label) {
			return raw, true
		}
	}
	return 0, false
}

// IsBinary reports whether the definition is an on/off enum, which maps to a
// binary sensor on the discovery side.
func (d *Definition) IsBinary() bool {
	if d.Kind != KindEnum || len(d.Enum) == 0 {
		return false
	}
	for _, label := range d.Enum {
		switch strings.ToLower(label) {
		case "on", "off":
		default:
			return false
		}
	}
	return true
}

// entry is the on-disk shape of one dictionary record.
type entry struct {
	Address     string            `yaml:"address"`
	Type        string            `yaml:"type"`
	Unit        string            `yaml:"unit"`
	Writable    bool              `yaml:"writable"`
	Enum        map[string]string `yaml:"enum"`
	Scale       *float64          `yaml:"scale"`
	Offset      float64           `yaml:"offset"`
	StateClass  string            `yaml:"state_class"`
	DeviceClass string            `yaml:"device_class"`
}

// Dictionary is the immutable lookup table, indexed both ways.
type Dictionary struct {
	byID   map[uint16]*Definition
	byName map[string]*Definition
}

// Load reads the dictionary from a YAML file.
func Load(path string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dictionary: %w", err)
	}
	defer f.Close()
	d, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("dictionary %s: %w", path, err)
	}
	return d, nil
}

// Parse reads dictionary YAML from r. Every entry must carry an address and
// a value kind; violations fail fast rather than surfacing later as decode
// errors.
func Parse(r io.Reader) (*Dictionary, error) {
	raw := map[string]entry{}
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	d := &Dictionary{
		byID:   make(map[uint16]*Definition, len(raw)),
		byName: make(map[string]*Definition, len(raw)),
	}
	for name, e := range raw {
		def, err := buildDefinition(name, e)
		if err != nil {
			return nil, err
		}
		if prev, dup := d.byID[def.ID]; dup {
			return nil, fmt.Errorf("entry %q: address 0x%04X already used by %q", name, def.ID, prev.Name)
		}
		d.byID[def.ID] = def
		d.byName[name] = def
	}
	return d, nil
}

func buildDefinition(name string, e entry) (*Definition, error) {
	if e.Address == "" {
		return nil, fmt.Errorf("entry %q: address is missing", name)
	}
	id, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(e.Address), "0x"), 16, 16)
	if err != nil {
		return nil, fmt.Errorf("entry %q: bad address %q: %w", name, e.Address, err)
	}
	kind, ok := kindNames[strings.ToUpper(e.Type)]
	if !ok {
		return nil, fmt.Errorf("entry %q: value kind %q is missing or unknown", name, e.Type)
	}

	def := &Definition{
		Name:        name,
		ID:          uint16(id),
		Kind:        kind,
		Unit:        e.Unit,
		Writable:    e.Writable,
		Offset:      e.Offset,
		Scale:       1,
		StateClass:  e.StateClass,
		DeviceClass: e.DeviceClass,
	}
	if e.Scale != nil {
		if *e.Scale == 0 {
			return nil, fmt.Errorf("entry %q: scale must not be zero", name)
		}
		def.Scale = *e.Scale
	}

	if len(e.Enum) > 0 {
		def.Enum = make(map[int64]string, len(e.Enum))
		for k, v := range e.Enum {
			raw, err := strconv.ParseInt(k, 0, 64)
			if err != nil {
				return nil, fmt.Errorf("entry %q: bad enum key %q: %w", name, k, err)
			}
			def.Enum[raw] = v
		}
	}
	return def, nil
}

// ByID looks up a definition by message identifier.
func (d *Dictionary) ByID(id uint16) (*Definition, bool) {
	def, ok := d.byID[id]
	return def, ok
}

// ByName looks up a definition by measurement name.
func (d *Dictionary) ByName(name string) (*Definition, bool) {
	def, ok := d.byName[name]
	return def, ok
}

// Len returns the number of entries.
func (d *Dictionary) Len() int {
	return len(d.byName)
}

// Names returns all measurement names in sorted order.
func (d *Dictionary) Names() []string {
	names := make([]string, 0, len(d.byName))
	for name := range d.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
