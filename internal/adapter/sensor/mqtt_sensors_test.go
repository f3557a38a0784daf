package sensor

import (
	"testing"
	"time"

	"venuszero/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseNumericPayloadBareNumber(t *testing.T) {
	v, err := parseNumericPayload([]byte(" 345.5 "))
	require.NoError(t, err)
	assert.Equal(t, 345.5, v)
}

func TestParseNumericPayloadJSONObject(t *testing.T) {
	v, err := parseNumericPayload([]byte(`{"value": -120}`))
	require.NoError(t, err)
	assert.Equal(t, -120.0, v)
}

func TestParseNumericPayloadGarbage(t *testing.T) {
	_, err := parseNumericPayload([]byte("unavailable"))
	assert.Error(t, err)
}

func TestGridPowerAgesOut(t *testing.T) {
	r := &MQTTSensorReader{excluded: map[string]sensorValue{}}

	_, ok := r.GridPowerWatt()
	assert.False(t, ok, "no sample yet")

	r.gridPower = sensorValue{value: 250, at: time.Now()}
	v, ok := r.GridPowerWatt()
	require.True(t, ok)
	assert.Equal(t, 250.0, v)

	r.gridPower = sensorValue{value: 250, at: time.Now().Add(-time.Minute)}
	_, ok = r.GridPowerWatt()
	assert.False(t, ok, "stale sample must read unavailable")
}

func TestExcludedDevicesSumSkipsStale(t *testing.T) {
	r := &MQTTSensorReader{excluded: map[string]sensorValue{
		"home/heater/power": {value: 1200, at: time.Now()},
		"home/ev/power":     {value: 2000, at: time.Now()},
		"home/oven/power":   {value: 3000, at: time.Now().Add(-5 * time.Minute)},
	}}

	assert.Equal(t, 3200.0, r.ExcludedDevicesPowerWatt())
}

func TestExcludedDevicesAdditionalCountsNegative(t *testing.T) {
	// the heater shows up in the grid reading, the well pump does not
	r := CreateMQTTSensorReader(config.SensorConfig{
		ExcludedDevices: []config.ExcludedDeviceConfig{
			{PowerTopic: "home/heater/power"},
			{PowerTopic: "home/pump/power", Additional: true},
		},
	}, zap.NewNop())
	r.excluded["home/heater/power"] = sensorValue{value: 1200, at: time.Now()}
	r.excluded["home/pump/power"] = sensorValue{value: 400, at: time.Now()}

	assert.Equal(t, 800.0, r.ExcludedDevicesPowerWatt())
}
