// SPDX-License-Identifier: Apache-2.0

package mqttbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehstools/nasabridge/pkg/discovery"
	"github.com/ehstools/nasabridge/pkg/nasa"
	"github.com/ehstools/nasabridge/pkg/registry"
)

func TestKnownDevicesRoundTrip(t *testing.T) {
	devices := []registry.Device{
		{
			Addr:         nasa.Address{Class: nasa.ClassOutdoor, Channel: 0, Unit: 0x10},
			Measurements: []string{"NASA_OUTDOOR_TW1_TEMP", "NASA_OUTDOOR_TW2_TEMP"},
		},
		{
			Addr:         nasa.Address{Class: nasa.ClassIndoor, Channel: 0, Unit: 0},
			Measurements: []string{"NASA_POWER"},
		},
	}

	payload := EncodeKnownDevices(devices)
	assert.Equal(t,
		"10_00_10:NASA_OUTDOOR_TW1_TEMP,NASA_OUTDOOR_TW2_TEMP;20_00_00:NASA_POWER",
		payload)

	restored, err := DecodeKnownDevices(payload)
	require.NoError(t, err)
	assert.Equal(t, devices, restored)
}

func TestKnownDevicesEmptyPayload(t *testing.T) {
	devices, err := DecodeKnownDevices("")
	require.NoError(t, err)
	assert.Nil(t, devices)
}

func TestKnownDevicesMalformed(t *testing.T) {
	for _, payload := range []string{
		"no-separator",
		"zz_00_00:NASA_POWER",
	} {
		_, err := DecodeKnownDevices(payload)
		assert.Error(t, err, "payload %q", payload)
	}
}

func TestReadingTopic(t *testing.T) {
	c := &Client{prefix: "ehs", normalizer: discovery.CamelName}
	assert.Equal(t, "ehs/entity/outdoorTw1Temp", c.ReadingTopic("NASA_OUTDOOR_TW1_TEMP"))
	assert.Equal(t, "ehs/entity/power", c.ReadingTopic("NASA_POWER"))
}
