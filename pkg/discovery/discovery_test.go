// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehstools/nasabridge/pkg/dictionary"
	"github.com/ehstools/nasabridge/pkg/nasa"
	"github.com/ehstools/nasabridge/pkg/registry"
)

const testDict = `
NASA_POWER:
  address: "0x4000"
  type: ENUM
  writable: true
  enum:
    0: "OFF"
    1: "ON"
NASA_OUTDOOR_TW2_TEMP:
  address: "0x42e9"
  type: VAR
  unit: "°C"
  scale: 0.1
NASA_INDOOR_DHW_TARGET:
  address: "0x4235"
  type: VAR
  unit: "°C"
  scale: 0.1
  writable: true
`

type fakeBus struct {
	topics   []string
	payloads [][]byte
	retained []bool
}

func (f *fakeBus) Publish(topic string, payload []byte, retained bool) error {
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload)
	f.retained = append(f.retained, retained)
	return nil
}

func outdoorAddr() nasa.Address {
	return nasa.Address{Class: nasa.ClassOutdoor, Channel: 0, Unit: 16}
}

func newTestPublisher(t *testing.T, bus Bus, control bool) *Publisher {
	t.Helper()
	dict, err := dictionary.Parse(strings.NewReader(testDict))
	require.NoError(t, err)
	return New(bus, dict, Config{
		DiscoveryPrefix: "homeassistant",
		TopicPrefix:     "ehssentinel",
		CamelCaseNames:  true,
		ControlEnabled:  control,
	}, zerolog.Nop())
}

func TestAnnounce_Idempotent(t *testing.T) {
	bus := &fakeBus{}
	p := newTestPublisher(t, bus, false)

	dev := registry.Device{
		Addr:         outdoorAddr(),
		Measurements: []string{"NASA_OUTDOOR_TW2_TEMP", "NASA_POWER"},
	}

	require.NoError(t, p.Announce(dev))
	require.NoError(t, p.Announce(dev))
	require.Len(t, bus.payloads, 2)
	assert.Equal(t, bus.payloads[0], bus.payloads[1], "re-announcement must be byte-identical")
	assert.True(t, bus.retained[0])
	assert.Equal(t, "homeassistant/device/samsung_ehs_10_00_10/config", bus.topics[0])
}

func TestAnnounce_BatchesComponents(t *testing.T) {
	bus := &fakeBus{}
	p := newTestPublisher(t, bus, false)

	dev := registry.Device{
		Addr:         outdoorAddr(),
		Measurements: []string{"NASA_OUTDOOR_TW2_TEMP", "NASA_POWER"},
	}
	require.NoError(t, p.Announce(dev))
	require.Len(t, bus.payloads, 1, "one announcement per device, not per measurement")

	var ann map[string]any
	require.NoError(t, json.Unmarshal(bus.payloads[0], &ann))
	components, ok := ann["components"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, components, 2)

	power, ok := components["power"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "binary_sensor", power["platform"])
	assert.Equal(t, "ON", power["payload_on"])

	temp, ok := components["outdoorTw2Temp"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "sensor", temp["platform"])
	assert.Equal(t, "temperature", temp["device_class"])
	assert.Equal(t, "°C", temp["unit_of_measurement"])
	assert.Equal(t, "ehssentinel/entity/outdoorTw2Temp", temp["state_topic"])
}

func TestAnnounce_CommandTopicOnlyWhenControlEnabled(t *testing.T) {
	dev := registry.Device{
		Addr:         outdoorAddr(),
		Measurements: []string{"NASA_INDOOR_DHW_TARGET"},
	}

	for _, control := range []bool{false, true} {
		bus := &fakeBus{}
		p := newTestPublisher(t, bus, control)
		require.NoError(t, p.Announce(dev))

		var ann map[string]any
		require.NoError(t, json.Unmarshal(bus.payloads[0], &ann))
		comp := ann["components"].(map[string]any)["indoorDhwTarget"].(map[string]any)
		_, hasCmd := comp["command_topic"]
		assert.Equal(t, control, hasCmd)
	}
}

func TestAnnounce_SkipsEmptyDevice(t *testing.T) {
	bus := &fakeBus{}
	p := newTestPublisher(t, bus, false)
	require.NoError(t, p.Announce(registry.Device{Addr: outdoorAddr()}))
	assert.Empty(t, bus.topics)
}

func TestAnnounceAll(t *testing.T) {
	bus := &fakeBus{}
	p := newTestPublisher(t, bus, false)

	devices := []registry.Device{
		{Addr: outdoorAddr(), Measurements: []string{"NASA_POWER"}},
		{Addr: nasa.Address{Class: nasa.ClassIndoor}, Measurements: []string{"NASA_OUTDOOR_TW2_TEMP"}},
	}
	require.NoError(t, p.AnnounceAll(devices))
	assert.Len(t, bus.topics, 2, "exactly one batch per device")
}

func TestNormalizeName(t *testing.T) {
	bus := &fakeBus{}
	p := newTestPublisher(t, bus, true)

	tests := []struct {
		in   string
		want string
	}{
		{"NASA_OUTDOOR_TW2_TEMP", "outdoorTw2Temp"},
		{"VAR_IN_FLOW_SENSOR_CALC", "inFlowSensorCalc"},
		{"LVAR_IN_TOTAL_GENERATED_POWER", "inTotalGeneratedPower"},
		{"ENUM_IN_STATE", "inState"},
		{"PLAIN", "plain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.NormalizeName(tt.in))
	}
}

func TestParseID_RoundTrip(t *testing.T) {
	addr := outdoorAddr()
	parsed, err := nasa.ParseID(addr.ID())
	require.NoError(t, err)
	assert.Equal(t, addr, parsed)
}
