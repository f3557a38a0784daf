package battery

import (
	"testing"

	"venuszero/internal/config"
	"venuszero/pkg/venus_modbus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHandle(version string) (*Handle, *venus_modbus.TestBatteryModbusClient) {
	client := venus_modbus.CreateTestBatteryModbusClient("bat1", version)
	h := NewHandle(client, config.BatteryConfig{
		Name:                  "bat1",
		Version:               version,
		MaxChargePowerWatt:    2500,
		MaxDischargePowerWatt: 800,
		MinSOC:                10,
		MaxSOC:                95,
		HysteresisEnabled:     true,
		HysteresisPct:         5,
	}, zap.Must(zap.NewDevelopment()))
	return h, client
}

func TestApplyPowerDischarge(t *testing.T) {
	h, client := newTestHandle(venus_modbus.VersionV2)

	require.NoError(t, h.ApplyPower(400))

	assert.EqualValues(t, venus_modbus.ForceModeDischarge, client.ForceMode)
	assert.EqualValues(t, 400, client.DischargePower)
	assert.EqualValues(t, 0, client.ChargePower)
}

func TestApplyPowerCharge(t *testing.T) {
	h, client := newTestHandle(venus_modbus.VersionV2)

	require.NoError(t, h.ApplyPower(-1200))

	assert.EqualValues(t, venus_modbus.ForceModeCharge, client.ForceMode)
	assert.EqualValues(t, 1200, client.ChargePower)
	assert.EqualValues(t, 0, client.DischargePower)
}

func TestApplyPowerZeroReleasesForceMode(t *testing.T) {
	h, client := newTestHandle(venus_modbus.VersionV2)
	require.NoError(t, h.ApplyPower(500))

	require.NoError(t, h.ApplyPower(0))

	assert.EqualValues(t, venus_modbus.ForceModeNone, client.ForceMode)
	assert.EqualValues(t, 0, client.DischargePower)
}

func TestApplyPowerRetriesOnceOnDroppedWrite(t *testing.T) {
	h, client := newTestHandle(venus_modbus.VersionV2)
	// the first write of the first attempt silently does not stick
	client.DropWrites = 1

	require.NoError(t, h.ApplyPower(400))

	assert.EqualValues(t, 400, client.DischargePower)
	// two write rounds of three registers each
	assert.Equal(t, 6, client.WriteCount)
}

func TestApplyPowerFailsAfterTwoAttempts(t *testing.T) {
	h, client := newTestHandle(venus_modbus.VersionV2)
	client.DropWrites = 10

	err := h.ApplyPower(400)

	assert.ErrorIs(t, err, ErrCommandNotAcknowledged)
}

func TestRefreshTelemetrySnapshot(t *testing.T) {
	h, client := newTestHandle(venus_modbus.VersionV2)
	client.Telemetry.StateOfCharge = 72
	client.Telemetry.BatteryPowerWatt = -300

	require.NoError(t, h.RefreshTelemetry())

	rt := h.Runtime()
	assert.True(t, rt.Available)
	assert.InDelta(t, 72, rt.SOC, 0.001)
	assert.InDelta(t, -300, rt.PowerWatt, 0.001)
}

func TestRuntimeUnavailableBeforeFirstPoll(t *testing.T) {
	h, _ := newTestHandle(venus_modbus.VersionV2)

	assert.False(t, h.Runtime().Available)
}

func TestCutoffRegisterDetection(t *testing.T) {
	v2, _ := newTestHandle(venus_modbus.VersionV2)
	v3, _ := newTestHandle(venus_modbus.VersionV3)

	assert.True(t, v2.HasChargeCutoffRegister())
	assert.False(t, v3.HasChargeCutoffRegister())
}

func TestWriteChargeCutoffKeepsFloor(t *testing.T) {
	h, client := newTestHandle(venus_modbus.VersionV2)

	require.NoError(t, h.WriteChargeCutoff(100))

	assert.EqualValues(t, 100, client.CutoffMaxSOC)
	assert.EqualValues(t, 10, client.CutoffMinSOC)
}

func TestSetSOCLimitsPropagates(t *testing.T) {
	h, _ := newTestHandle(venus_modbus.VersionV2)

	h.SetSOCLimits(20, 85)

	l := h.Limits()
	assert.EqualValues(t, 20, l.MinSOC)
	assert.EqualValues(t, 85, l.MaxSOC)
}
