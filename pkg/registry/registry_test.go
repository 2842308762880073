// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehstools/nasabridge/pkg/nasa"
)

func outdoor() nasa.Address {
	return nasa.Address{Class: nasa.ClassOutdoor, Channel: 0, Unit: 0x10}
}

func indoor() nasa.Address {
	return nasa.Address{Class: nasa.ClassIndoor, Channel: 0, Unit: 0}
}

func TestObserve_FirstSightingOnly(t *testing.T) {
	r := New()
	now := time.Now()

	assert.True(t, r.Observe(outdoor(), now))
	assert.False(t, r.Observe(outdoor(), now.Add(time.Second)))
	assert.True(t, r.Observe(indoor(), now))
	assert.Equal(t, 2, r.Len())

	dev, ok := r.Device(outdoor())
	require.True(t, ok)
	assert.Equal(t, now.Add(time.Second), dev.LastSeen)
}

func TestRecord_NewMeasurementsOnly(t *testing.T) {
	r := New()

	assert.True(t, r.Record(outdoor(), "NASA_OUTDOOR_TW1_TEMP"))
	assert.False(t, r.Record(outdoor(), "NASA_OUTDOOR_TW1_TEMP"))
	assert.True(t, r.Record(outdoor(), "NASA_OUTDOOR_TW2_TEMP"))

	// same name on a different device is still new
	assert.True(t, r.Record(indoor(), "NASA_OUTDOOR_TW1_TEMP"))
}

func TestSnapshot_DeterministicOrder(t *testing.T) {
	r := New()
	r.Record(indoor(), "NASA_POWER")
	r.Record(outdoor(), "NASA_OUTDOOR_TW2_TEMP")
	r.Record(outdoor(), "NASA_OUTDOOR_TW1_TEMP")

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, outdoor(), snap[0].Addr)
	assert.Equal(t,
		[]string{"NASA_OUTDOOR_TW1_TEMP", "NASA_OUTDOOR_TW2_TEMP"},
		snap[0].Measurements)
	assert.Equal(t, indoor(), snap[1].Addr)
	assert.Equal(t, []string{"NASA_POWER"}, snap[1].Measurements)
}

func TestRestore_SuppressesReannouncement(t *testing.T) {
	r := New()
	r.Restore([]Device{
		{Addr: outdoor(), Measurements: []string{"NASA_OUTDOOR_TW1_TEMP"}},
	})

	assert.False(t, r.Record(outdoor(), "NASA_OUTDOOR_TW1_TEMP"))
	assert.True(t, r.Record(outdoor(), "NASA_OUTDOOR_TW2_TEMP"))
}

func TestClear_ForgetsEverything(t *testing.T) {
	r := New()
	r.Observe(outdoor(), time.Now())
	r.Record(outdoor(), "NASA_POWER")

	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.True(t, r.Observe(outdoor(), time.Now()))
	assert.True(t, r.Record(outdoor(), "NASA_POWER"))
}
