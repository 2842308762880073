// SPDX-License-Identifier: Apache-2.0

// Package mqttbus is the telemetry-bus boundary: an MQTT client wrapper
// providing reading publication, discovery publication, the retained
// known-devices mirror and the inbound subscriptions (control writes and the
// consumer online signal).
package mqttbus

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehstools/nasabridge/pkg/codec"
	"github.com/ehstools/nasabridge/pkg/nasa"
	"github.com/ehstools/nasabridge/pkg/registry"
)

const (
	connectTimeout   = 15 * time.Second
	knownDevicesPath = "known/devices"
)

// Config holds the broker connection and topic-shaping parameters.
type Config struct {
	BrokerHost      string
	BrokerPort      int
	ClientID        string
	Username        string
	Password        string
	TopicPrefix     string
	DiscoveryPrefix string
}

// Client wraps the paho MQTT client with the bridge's topic conventions.
type Client struct {
	mqtt       mqtt.Client
	prefix     string
	discovery  string
	log        zerolog.Logger
	normalizer func(string) string
	readingQoS byte
	controlQoS byte
}

// New creates an unconnected client. normalizer maps dictionary measurement
// names to their topic form.
func New(cfg Config, normalizer func(string) string, log zerolog.Logger) *Client {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "nasabridge-" + uuid.NewString()[:8]
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.BrokerHost, cfg.BrokerPort)).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectTimeout(connectTimeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt connection lost, reconnecting")
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		log.Info().Str("client_id", clientID).Msg("connected to mqtt broker")
	})

	return &Client{
		mqtt:       mqtt.NewClient(opts),
		prefix:     strings.TrimSuffix(cfg.TopicPrefix, "/"),
		discovery:  strings.TrimSuffix(cfg.DiscoveryPrefix, "/"),
		log:        log,
		normalizer: normalizer,
		readingQoS: 2,
		controlQoS: 1,
	}
}

// Connect establishes the broker session, honoring ctx for cancellation.
func (c *Client) Connect(ctx context.Context) error {
	token := c.mqtt.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Close disconnects from the broker, allowing in-flight messages a short
// grace period.
func (c *Client) Close() {
	c.mqtt.Disconnect(250)
}

// Publish sends a raw payload; this is the primitive the discovery publisher
// uses.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	token := c.mqtt.Publish(topic, c.readingQoS, retained, payload)
	token.Wait()
	return token.Error()
}

// ReadingTopic returns the telemetry topic for a measurement name.
func (c *Client) ReadingTopic(name string) string {
	return fmt.Sprintf("%s/entity/%s", c.prefix, c.normalizer(name))
}

// PublishReading publishes one decoded reading on its entity topic.
func (c *Client) PublishReading(r codec.Reading) error {
	topic := c.ReadingTopic(r.Name)
	c.log.Debug().Str("topic", topic).Str("value", r.Value()).Msg("mqtt publish")
	token := c.mqtt.Publish(topic, c.readingQoS, false, r.Value())
	token.Wait()
	return token.Error()
}

// PersistKnownDevices mirrors the registry snapshot into a retained topic so
// a restart does not re-announce every measurement.
func (c *Client) PersistKnownDevices(devices []registry.Device) error {
	topic := fmt.Sprintf("%s/%s", c.prefix, knownDevicesPath)
	token := c.mqtt.Publish(topic, 1, true, EncodeKnownDevices(devices))
	token.Wait()
	return token.Error()
}

// RestoreKnownDevices subscribes to the retained known-devices topic and
// hands the decoded snapshot to the callback once.
func (c *Client) RestoreKnownDevices(handler func([]registry.Device)) error {
	topic := fmt.Sprintf("%s/%s", c.prefix, knownDevicesPath)
	token := c.mqtt.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		if !msg.Retained() {
			return
		}
		devices, err := DecodeKnownDevices(string(msg.Payload()))
		if err != nil {
			c.log.Warn().Err(err).Msg("ignoring malformed known-devices payload")
			return
		}
		handler(devices)
	})
	token.Wait()
	return token.Error()
}

// SubscribeStatus watches the discovery status topic; a literal "online"
// payload is the consumer's republish-all trigger.
func (c *Client) SubscribeStatus(onOnline func()) error {
	if c.discovery == "" {
		return nil
	}
	topic := c.discovery + "/status"
	token := c.mqtt.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		c.log.Info().Str("topic", topic).Bytes("payload", msg.Payload()).
			Msg("telemetry consumer status")
		if string(msg.Payload()) == "online" {
			onOnline()
		}
	})
	token.Wait()
	return token.Error()
}

// SubscribeControl watches the per-entity set topics. The handler receives
// the entity segment of the topic and the raw payload.
func (c *Client) SubscribeControl(handler func(entity, value string)) error {
	pattern := fmt.Sprintf("%s/entity/+/set", c.prefix)
	token := c.mqtt.Subscribe(pattern, c.controlQoS, func(_ mqtt.Client, msg mqtt.Message) {
		parts := strings.Split(msg.Topic(), "/")
		if len(parts) < 2 {
			return
		}
		entity := parts[len(parts)-2]
		handler(entity, strings.TrimSpace(string(msg.Payload())))
	})
	token.Wait()
	return token.Error()
}

// EncodeKnownDevices renders the retained known-devices payload:
// one "deviceID:name,name,..." record per device, records joined by ";".
func EncodeKnownDevices(devices []registry.Device) string {
	records := make([]string, 0, len(devices))
	for _, d := range devices {
		records = append(records, d.Addr.ID()+":"+strings.Join(d.Measurements, ","))
	}
	return strings.Join(records, ";")
}

// DecodeKnownDevices parses the retained payload back into a snapshot.
func DecodeKnownDevices(payload string) ([]registry.Device, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, nil
	}
	var devices []registry.Device
	for _, record := range strings.Split(payload, ";") {
		id, rest, ok := strings.Cut(record, ":")
		if !ok {
			return nil, fmt.Errorf("malformed record %q", record)
		}
		addr, err := nasa.ParseID(id)
		if err != nil {
			return nil, err
		}
		dev := registry.Device{Addr: addr}
		for _, name := range strings.Split(rest, ",") {
			if name = strings.TrimSpace(name); name != "" {
				dev.Measurements = append(dev.Measurements, name)
			}
		}
		devices = append(devices, dev)
	}
	return devices, nil
}
