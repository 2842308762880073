// SPDX-License-Identifier: Apache-2.0

package dictionary

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
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
LVAR_IN_TOTAL_GENERATED_POWER:
  address: "0x4427"
  type: LVAR
  unit: "Wh"
STR_OUTDOOR_MODEL_INFO:
  address: "0x0602"
  type: STRUCTURE
NASA_INDOOR_OPMODE:
  address: "0x4001"
  type: ENUM
  writable: true
  enum:
    0: "Auto"
    1: "Cool"
    4: "Heat"
`

func TestParse(t *testing.T) {
	d, err := Parse(strings.NewReader(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, 5, d.Len())

	def, ok := d.ByID(0x42e9)
	require.True(t, ok)
	assert.Equal(t, "NASA_OUTDOOR_TW2_TEMP", def.Name)
	assert.Equal(t, KindVariable, def.Kind)
	assert.Equal(t, 0.1, def.Scale)
	assert.Equal(t, "°C", def.Unit)
	assert.False(t, def.Writable)

	def, ok = d.ByName("NASA_POWER")
	require.True(t, ok)
	assert.Equal(t, uint16(0x4000), def.ID)
	assert.True(t, def.Writable)
	assert.Equal(t, 1.0, def.Scale, "scale defaults to identity")
}

func TestParse_FailFast(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing address",
			yaml: "BROKEN:\n  type: VAR\n",
		},
		{
			name: "missing kind",
			yaml: "BROKEN:\n  address: \"0x1234\"\n",
		},
		{
			name: "unknown kind",
			yaml: "BROKEN:\n  address: \"0x1234\"\n  type: FLOAT\n",
		},
		{
			name: "zero scale",
			yaml: "BROKEN:\n  address: \"0x1234\"\n  type: VAR\n  scale: 0\n",
		},
		{
			name: "duplicate address",
			yaml: "A:\n  address: \"0x1234\"\n  type: VAR\nB:\n  address: \"0x1234\"\n  type: VAR\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestEnumLookup(t *testing.T) {
	d, err := Parse(strings.NewReader(sampleYAML))
	require.NoError(t, err)

	def, _ := d.ByName("NASA_INDOOR_OPMODE")
	label, ok := def.EnumLabel(4)
	require.True(t, ok)
	assert.Equal(t, "Heat", label)

	_, ok = def.EnumLabel(9)
	assert.False(t, ok)

	raw, ok := def.EnumValue("heat")
	require.True(t, ok, "reverse lookup is case-insensitive")
	assert.Equal(t, int64(4), raw)
}

func TestIsBinary(t *testing.T) {
	d, err := Parse(strings.NewReader(sampleYAML))
	require.NoError(t, err)

	power, _ := d.ByName("NASA_POWER")
	assert.True(t, power.IsBinary())

	opmode, _ := d.ByName("NASA_INDOOR_OPMODE")
	assert.False(t, opmode.IsBinary())

	temp, _ := d.ByName("NASA_OUTDOOR_TW2_TEMP")
	assert.False(t, temp.IsBinary())
}

func TestNames_Sorted(t *testing.T) {
	d, err := Parse(strings.NewReader(sampleYAML))
	require.NoError(t, err)

	names := d.Names()
	require.Len(t, names, 5)
	for i := 1; i < len(names); i++ {
		assert.Less(t, names[i-1], names[i])
	}
}
