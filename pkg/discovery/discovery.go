// SPDX-License-Identifier: Apache-2.0

// Package discovery emits Home Assistant style auto-discovery announcements
// for known devices. Announcements are batched per device and idempotent:
// announcing the same device/measurement set twice produces byte-identical
// retained payloads, so a full republish is invisible to subscribers.
package discovery

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ehstools/nasabridge/pkg/dictionary"
	"github.com/ehstools/nasabridge/pkg/nasa"
	"github.com/ehstools/nasabridge/pkg/registry"
)

// Bus is the telemetry-side publish primitive the publisher needs.
type Bus interface {
	Publish(topic string, payload []byte, retained bool) error
}

// deviceInfo is the HA device block shared by every announcement.
type deviceInfo struct {
	Identifiers  string `json:"identifiers"`
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	SwVersion    string `json:"sw_version"`
}

type originInfo struct {
	Name       string `json:"name"`
	SupportURL string `json:"support_url,omitempty"`
}

// component is one measurement entity inside a device announcement.
type component struct {
	Platform          string `json:"platform"`
	Name              string `json:"name"`
	UniqueID          string `json:"unique_id"`
	StateTopic        string `json:"state_topic"`
	CommandTopic      string `json:"command_topic,omitempty"`
	ValueTemplate     string `json:"value_template"`
	UnitOfMeasurement string `json:"unit_of_measurement,omitempty"`
	DeviceClass       string `json:"device_class,omitempty"`
	StateClass        string `json:"state_class,omitempty"`
	PayloadOn         string `json:"payload_on,omitempty"`
	PayloadOff        string `json:"payload_off,omitempty"`
}

type announcement struct {
	Device     deviceInfo           `json:"device"`
	Origin     originInfo           `json:"origin"`
	Components map[string]component `json:"components"`
	QoS        int                  `json:"qos"`
}

// Publisher builds and publishes per-device discovery announcements.
type Publisher struct {
	bus             Bus
	dict            *dictionary.Dictionary
	discoveryPrefix string
	topicPrefix     string
	camelCase       bool
	controlEnabled  bool
	log             zerolog.Logger
}

// Config holds the announcement-shaping options.
type Config struct {
	DiscoveryPrefix string
	TopicPrefix     string
	CamelCaseNames  bool
	ControlEnabled  bool
}

// New creates a discovery publisher.
func New(bus Bus, dict *dictionary.Dictionary, cfg Config, log zerolog.Logger) *Publisher {
	return &Publisher{
		bus:             bus,
		dict:            dict,
		discoveryPrefix: strings.TrimSuffix(cfg.DiscoveryPrefix, "/"),
		topicPrefix:     strings.TrimSuffix(cfg.TopicPrefix, "/"),
		camelCase:       cfg.CamelCaseNames,
		controlEnabled:  cfg.ControlEnabled,
		log:             log,
	}
}

// Enabled reports whether a discovery prefix is configured at all.
func (p *Publisher) Enabled() bool {
	return p.discoveryPrefix != ""
}

// Announce publishes the retained discovery config for one device, covering
// every measurement announced so far in a single batched payload.
func (p *Publisher) Announce(dev registry.Device) error {
	if !p.Enabled() || len(dev.Measurements) == 0 {
		return nil
	}
	payload, err := p.BuildPayload(dev)
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("%s/device/%s/config", p.discoveryPrefix, deviceID(dev.Addr))
	p.log.Debug().Str("topic", topic).Int("components", len(dev.Measurements)).
		Msg("publishing discovery announcement")
	return p.bus.Publish(topic, payload, true)
}

// AnnounceAll republishes every known device in one batch per device.
func (p *Publisher) AnnounceAll(devices []registry.Device) error {
	for _, dev := range devices {
		if err := p.Announce(dev); err != nil {
			return fmt.Errorf("announce %s: %w", dev.Addr, err)
		}
	}
	return nil
}

// BuildPayload renders the announcement JSON for a device. Map keys are
// serialized in sorted order, so equal inputs yield byte-identical output.
func (p *Publisher) BuildPayload(dev registry.Device) ([]byte, error) {
	id := deviceID(dev.Addr)
	ann := announcement{
		Device: deviceInfo{
			Identifiers:  id,
			Name:         fmt.Sprintf("Samsung EHS %s", dev.Addr.Class),
			Manufacturer: "Samsung",
			Model:        "EHS",
			SwVersion:    "1.0.0",
		},
		Origin: originInfo{
			Name: "nasabridge",
		},
		Components: make(map[string]component, len(dev.Measurements)),
		QoS:        2,
	}

	names := append([]string(nil), dev.Measurements...)
	sort.Strings(names)
	for _, name := range names {
		ann.Components[p.NormalizeName(name)] = p.buildComponent(id, name)
	}
	return json.Marshal(ann)
}

func (p *Publisher) buildComponent(id, name string) component {
	norm := p.NormalizeName(name)
	def, known := p.dict.ByName(name)

	c := component{
		Platform:      "sensor",
		Name:          norm,
		UniqueID:      fmt.Sprintf("%s_%s", id, strings.ToLower(name)),
		StateTopic:    p.StateTopic(name),
		ValueTemplate: "{{ value }}",
	}
	if !known {
		return c
	}

	if def.IsBinary() {
		c.Platform = "binary_sensor"
		c.PayloadOn = "ON"
		c.PayloadOff = "OFF"
	} else if def.Unit != "" {
		c.UnitOfMeasurement = def.Unit
		c.DeviceClass = deviceClassForUnit(def.Unit)
		if c.DeviceClass == "" {
			c.StateClass = "measurement"
		}
	}

	if def.StateClass != "" {
		c.StateClass = def.StateClass
	}
	if def.DeviceClass != "" {
		c.DeviceClass = def.DeviceClass
	}
	if p.controlEnabled && def.Writable {
		c.CommandTopic = p.StateTopic(name) + "/set"
	}
	return c
}

// StateTopic returns the telemetry topic a measurement is published on.
func (p *Publisher) StateTopic(name string) string {
	return fmt.Sprintf("%s/entity/%s", p.topicPrefix, p.NormalizeName(name))
}

// deviceClassForUnit maps dictionary units to HA device classes.
func deviceClassForUnit(unit string) string {
	switch unit {
	case "°C":
		return "temperature"
	case "kW", "W", "HP":
		return "power"
	case "Wh", "kWh":
		return "energy"
	case "bar":
		return "pressure"
	case "hz", "Hz":
		return "frequency"
	default:
		return ""
	}
}

// NormalizeName strips the dictionary prefix and camel-cases the rest when
// configured, otherwise returns the name unchanged.
func (p *Publisher) NormalizeName(name string) string {
	if !p.camelCase {
		return name
	}
	return CamelName(name)
}

// CamelName strips a dictionary kind prefix and camel-cases the remainder,
// producing the topic-friendly entity name.
func CamelName(name string) string {
	for _, prefix := range []string{"ENUM_", "LVAR_", "NASA_", "VAR_", "STR_"} {
		if strings.HasPrefix(name, prefix) {
			name = name[len(prefix):]
			break
		}
	}
	parts := strings.Split(name, "_")
	var b strings.Builder
	b.WriteString(strings.ToLower(parts[0]))
	for _, part := range parts[1:] {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(strings.ToLower(part[1:]))
	}
	return b.String()
}

func deviceID(addr nasa.Address) string {
	return "samsung_ehs_" + addr.ID()
}
