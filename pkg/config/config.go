// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates the bridge's YAML configuration file.
// Validation is fail-fast: a missing or contradictory parameter aborts
// startup with a message naming the exact field.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Serial describes the serial-line transport.
type Serial struct {
	Device   string `yaml:"device"`
	Baudrate int    `yaml:"baudrate"`
}

// TCP describes the socket transport (a serial-to-network converter on the
// far end).
type TCP struct {
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
}

// MQTT describes the telemetry-bus connection and topic shaping.
type MQTT struct {
	BrokerURL       string `yaml:"broker-url"`
	BrokerPort      int    `yaml:"broker-port"`
	ClientID        string `yaml:"client-id"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	TopicPrefix     string `yaml:"topicPrefix"`
	HomeAssistant   bool   `yaml:"homeAssistantDiscovery"`
	DiscoveryPrefix string `yaml:"discoveryPrefix"`
	CamelCaseNames  bool   `yaml:"useCamelCaseTopicNames"`
}

// General holds dictionary paths and feature switches.
type General struct {
	DictionaryFile   string `yaml:"nasaRepositoryFile"`
	ProtocolFile     string `yaml:"protocolFile"`
	AllowControl     bool   `yaml:"allowControl"`
	DumpFile         string `yaml:"dumpFile"`
	LogUnknown       bool   `yaml:"logUnknownMessages"`
}

// Logging enables the per-event debug switches. All default to off; the
// pipeline stays quiet at info level in normal operation.
type Logging struct {
	DeviceAdded      bool `yaml:"deviceAdded"`
	MessageNotFound  bool `yaml:"messageNotFound"`
	ProcessedMessage bool `yaml:"processedMessage"`
	PollerMessage    bool `yaml:"pollerMessage"`
	ControlMessage   bool `yaml:"controlMessage"`
	InvalidPacket    bool `yaml:"invalidPacket"`
}

// Duration wraps time.Duration so schedules can be written in the config as
// "30s", "30m" or "24h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("bad schedule %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// PollGroup is one named polling schedule.
type PollGroup struct {
	Name         string   `yaml:"name"`
	Enabled      bool     `yaml:"enable"`
	Interval     Duration `yaml:"schedule"`
	Measurements []string `yaml:"message"`
}

// Polling is the optional active-read configuration.
type Polling struct {
	Groups []PollGroup `yaml:"fetch_interval"`
}

// Config is the root of the YAML file.
type Config struct {
	Serial  *Serial  `yaml:"serial,omitempty"`
	TCP     *TCP     `yaml:"tcp,omitempty"`
	MQTT    MQTT     `yaml:"mqtt"`
	General General  `yaml:"general"`
	Logging Logging  `yaml:"logging"`
	Polling *Polling `yaml:"polling,omitempty"`
}

// Load reads, parses and validates a configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates configuration bytes.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Serial != nil && c.Serial.Baudrate == 0 {
		c.Serial.Baudrate = 9600
	}
	if c.MQTT.BrokerPort == 0 {
		c.MQTT.BrokerPort = 1883
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "ehsSentinel"
	}
	if c.MQTT.HomeAssistant && c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.General.DictionaryFile == "" {
		c.General.DictionaryFile = "data/NasaRepository.yml"
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Serial == nil && c.TCP == nil {
		return errors.New("config: either serial or tcp must be configured")
	}
	if c.Serial != nil && c.TCP != nil {
		return errors.New("config: serial and tcp are mutually exclusive")
	}
	if c.Serial != nil && c.Serial.Device == "" {
		return errors.New("config: serial.device is required")
	}
	if c.TCP != nil {
		if c.TCP.IP == "" {
			return errors.New("config: tcp.ip is required")
		}
		if c.TCP.Port == 0 {
			return errors.New("config: tcp.port is required")
		}
	}
	if c.MQTT.BrokerURL == "" {
		return errors.New("config: mqtt.broker-url is required")
	}
	if c.Polling != nil {
		for i, g := range c.Polling.Groups {
			if g.Name == "" {
				return fmt.Errorf("config: polling group %d has no name", i)
			}
			if g.Interval <= 0 {
				return fmt.Errorf("config: polling group %q has no schedule", g.Name)
			}
			if len(g.Measurements) == 0 {
				return fmt.Errorf("config: polling group %q has no messages", g.Name)
			}
		}
	}
	return nil
}
