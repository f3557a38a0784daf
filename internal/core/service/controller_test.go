package service

import (
	"testing"
	"time"

	"venuszero/internal/core/domain"
	"venuszero/internal/core/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestController(sensors *fakeSensors, batteries ...*fakeBattery) (*Controller, *fakeNotifier) {
	handles := make([]port.BatteryHandle, len(batteries))
	for i, b := range batteries {
		handles[i] = b
	}
	notifier := &fakeNotifier{}
	logger := zap.Must(zap.NewDevelopment())
	history := newTestHistory(&memStore{})
	return &Controller{
		Batteries: handles,
		Sensors:   sensors,
		Notifier:  notifier,
		PD:        newTestPD(),
		Allocator: &PowerAllocator{StepWatt: 5, Logger: logger},
		Windows:   &TimeWindowEvaluator{},
		Predictive: &PredictiveEvaluator{
			History: history,
			Sensors: sensors,
			Logger:  logger,
		},
		Weekly: &WeeklyChargeManager{
			Enabled:       false,
			TargetWeekday: time.Sunday,
			Store:         &memStore{},
			Logger:        logger,
		},
		Logger:                   logger,
		PredictiveEnabled:        false,
		ContractedPowerWatt:      4600,
		SOCReevaluationThreshold: 30,
		SensorHistorySize:        2,
	}, notifier
}

func TestTickManualOverrideFreezesEverything(t *testing.T) {
	b := newFakeBattery("bat1", 50)
	c, _ := newTestController(&fakeSensors{grid: 500, gridOk: true}, b)

	state := domain.ControllerState{ManualOverride: true}
	state, result, err := c.Tick(monday(12, 0), state)
	require.NoError(t, err)

	assert.Equal(t, domain.ControlModeManualOverride, result.Mode)
	assert.Empty(t, b.applied, "manual mode must not write power commands")
	assert.False(t, state.Initialized, "manual mode must not touch PD state")
}

func TestTickDischargesOnGridImport(t *testing.T) {
	b := newFakeBattery("bat1", 50)
	c, _ := newTestController(&fakeSensors{grid: 400, gridOk: true}, b)

	_, result, err := c.Tick(monday(12, 0), domain.ControllerState{})
	require.NoError(t, err)

	assert.Equal(t, domain.ControlModeNormal, result.Mode)
	assert.InDelta(t, 400, result.TargetPowerWatt, 0.001)
	watt, ok := b.lastApplied()
	require.True(t, ok)
	assert.InDelta(t, 400, watt, 5)
}

func TestTickChargesOnGridExport(t *testing.T) {
	b := newFakeBattery("bat1", 50)
	c, _ := newTestController(&fakeSensors{grid: -1200, gridOk: true}, b)

	_, result, err := c.Tick(monday(12, 0), domain.ControllerState{})
	require.NoError(t, err)

	assert.InDelta(t, -1200, result.TargetPowerWatt, 0.001)
	watt, ok := b.lastApplied()
	require.True(t, ok)
	assert.InDelta(t, -1200, watt, 5)
}

func TestTickSkipsCycleWhenSensorUnavailable(t *testing.T) {
	b := newFakeBattery("bat1", 50)
	c, _ := newTestController(&fakeSensors{gridOk: false}, b)

	_, result, err := c.Tick(monday(12, 0), domain.ControllerState{})
	require.NoError(t, err)

	assert.Equal(t, domain.ControlModeIdle, result.Mode)
	assert.Empty(t, b.applied)
}

func TestTickDeadbandIgnoresExcludedLoad(t *testing.T) {
	b := newFakeBattery("bat1", 50)
	// grid balanced within the deadband while an excluded heater pulls
	// 300W through its own meter
	c, _ := newTestController(&fakeSensors{grid: 10, gridOk: true, excludedWatts: 300}, b)

	state, result, err := c.Tick(monday(12, 0), domain.ControllerState{})
	require.NoError(t, err)

	assert.Equal(t, domain.ControlModeIdle, result.Mode)
	assert.Zero(t, result.TargetPowerWatt)
	assert.Empty(t, b.applied, "a balanced grid must not command the battery")
	assert.False(t, state.Initialized)
}

func TestTickExcludedDeviceAdjustment(t *testing.T) {
	b := newFakeBattery("bat1", 50)
	c, _ := newTestController(&fakeSensors{grid: 700, gridOk: true, excludedWatts: 300}, b)

	_, result, err := c.Tick(monday(12, 0), domain.ControllerState{})
	require.NoError(t, err)

	// 300W of the import belongs to excluded devices and is not
	// compensated
	assert.InDelta(t, 400, result.TargetPowerWatt, 0.001)
}

func TestTickTimeRestrictionForcesZero(t *testing.T) {
	b := newFakeBattery("bat1", 50)
	c, _ := newTestController(&fakeSensors{grid: 800, gridOk: true}, b)
	// discharge only allowed monday night
	c.Windows = &TimeWindowEvaluator{Slots: []domain.TimeSlot{mondaySlot("22:00", "02:00", false)}}

	state, result, err := c.Tick(monday(12, 0), domain.ControllerState{})
	require.NoError(t, err)

	assert.Equal(t, domain.ControlModeRestricted, result.Mode)
	watt, ok := b.lastApplied()
	require.True(t, ok)
	assert.Zero(t, watt)
	assert.Zero(t, state.PreviousPowerWatt)
	// paused ticks must not count toward the oscillation guard
	assert.Zero(t, state.SignFlipCount)
	assert.Zero(t, state.LastErrorSign)
}

func TestTickRespectsSOCFloor(t *testing.T) {
	b := newFakeBattery("bat1", 8) // below the 10% floor
	c, _ := newTestController(&fakeSensors{grid: 500, gridOk: true}, b)

	_, _, err := c.Tick(monday(12, 0), domain.ControllerState{})
	require.NoError(t, err)

	watt, ok := b.lastApplied()
	require.True(t, ok)
	assert.Zero(t, watt, "an empty battery must not discharge")
}

func TestTickHysteresisBlocksCharge(t *testing.T) {
	b := newFakeBattery("bat1", 96) // above the 95% ceiling
	c, _ := newTestController(&fakeSensors{grid: -800, gridOk: true}, b)

	_, _, err := c.Tick(monday(12, 0), domain.ControllerState{})
	require.NoError(t, err)

	watt, ok := b.lastApplied()
	require.True(t, ok)
	assert.Zero(t, watt)

	// hysteresis keeps the battery blocked until it sags below
	// maxSoc - hysteresisPct
	b.setSOC(93)
	_, _, err = c.Tick(monday(12, 0), domain.ControllerState{})
	require.NoError(t, err)
	watt, _ = b.lastApplied()
	assert.Zero(t, watt)

	b.setSOC(89)
	_, _, err = c.Tick(monday(12, 0), domain.ControllerState{})
	require.NoError(t, err)
	watt, _ = b.lastApplied()
	assert.Negative(t, watt)
}

func TestTickPreEvaluationCachesAndNotifies(t *testing.T) {
	b := newFakeBattery("bat1", 30)
	sensors := &fakeSensors{grid: 10, gridOk: true}
	c, notifier := newTestController(sensors, b)
	c.PredictiveEnabled = true
	c.Windows = &TimeWindowEvaluator{Slots: []domain.TimeSlot{mondaySlot("22:00", "02:00", true)}}

	// 21:00 monday is one hour ahead of the slot start
	state, _, err := c.Tick(monday(21, 0), domain.ControllerState{})
	require.NoError(t, err)

	assert.True(t, state.PreEvaluated)
	require.NotNil(t, state.CachedDecision)
	assert.Equal(t, []string{gridChargeNotificationId}, notifier.notified)

	// second tick in the window must not evaluate again
	state, _, err = c.Tick(monday(21, 1), state)
	require.NoError(t, err)
	assert.Len(t, notifier.notified, 1)
}

func TestTickPredictiveSlotCharges(t *testing.T) {
	b := newFakeBattery("bat1", 30)
	sensors := &fakeSensors{grid: 200, gridOk: true}
	c, _ := newTestController(sensors, b)
	c.PredictiveEnabled = true
	c.Windows = &TimeWindowEvaluator{Slots: []domain.TimeSlot{mondaySlot("22:00", "02:00", true)}}

	// low battery and no solar forecast: the in-slot evaluation decides
	// to charge from grid
	state, result, err := c.Tick(monday(23, 0), domain.ControllerState{})
	require.NoError(t, err)

	assert.Equal(t, domain.ControlModePredictive, result.Mode)
	require.NotNil(t, result.Decision)
	assert.True(t, result.Decision.ShouldCharge)
	assert.True(t, state.InSlot)
	assert.LessOrEqual(t, result.TargetPowerWatt, 0.0, "predictive mode never discharges")
	watt, ok := b.lastApplied()
	require.True(t, ok)
	assert.LessOrEqual(t, watt, 0.0)
}

func TestTickPredictiveSlotSeedsFullChargePower(t *testing.T) {
	b := newFakeBattery("bat1", 30)
	c, _ := newTestController(&fakeSensors{grid: 200, gridOk: true}, b)
	c.PredictiveEnabled = true
	c.Windows = &TimeWindowEvaluator{Slots: []domain.TimeSlot{mondaySlot("22:00", "02:00", true)}}

	// the first charging tick starts at the full eligible charge power
	// instead of ramping there through the rate limiter
	state, result, err := c.Tick(monday(23, 0), domain.ControllerState{})
	require.NoError(t, err)

	assert.True(t, state.SlotChargeInitialized)
	assert.InDelta(t, -2500, result.TargetPowerWatt, 0.001)
	watt, ok := b.lastApplied()
	require.True(t, ok)
	assert.InDelta(t, -2500, watt, 5)
}

func TestTickInSlotInitialEvaluationNotifies(t *testing.T) {
	b := newFakeBattery("bat1", 30)
	c, notifier := newTestController(&fakeSensors{grid: 200, gridOk: true}, b)
	c.PredictiveEnabled = true
	c.Windows = &TimeWindowEvaluator{Slots: []domain.TimeSlot{mondaySlot("22:00", "02:00", true)}}

	// entering the slot without a pre-evaluated decision raises the
	// notification once
	state, _, err := c.Tick(monday(23, 0), domain.ControllerState{})
	require.NoError(t, err)

	assert.True(t, state.NotificationActive)
	assert.Equal(t, []string{gridChargeNotificationId}, notifier.notified)

	// later ticks serve the cached decision silently
	_, _, err = c.Tick(monday(23, 1), state)
	require.NoError(t, err)
	assert.Len(t, notifier.notified, 1)
}

func TestTickPredictiveOverrideForcesZero(t *testing.T) {
	b := newFakeBattery("bat1", 30)
	c, _ := newTestController(&fakeSensors{grid: 200, gridOk: true}, b)
	c.PredictiveEnabled = true
	c.Windows = &TimeWindowEvaluator{Slots: []domain.TimeSlot{mondaySlot("22:00", "02:00", true)}}

	state := domain.ControllerState{PredictiveOverride: true}
	_, result, err := c.Tick(monday(23, 0), state)
	require.NoError(t, err)

	assert.Equal(t, domain.ControlModePredictive, result.Mode)
	watt, ok := b.lastApplied()
	require.True(t, ok)
	assert.Zero(t, watt)
}

func TestTickSlotExitDampsButKeepsLastCommand(t *testing.T) {
	b := newFakeBattery("bat1", 30)
	c, notifier := newTestController(&fakeSensors{grid: 200, gridOk: true}, b)
	c.PredictiveEnabled = true

	state := domain.ControllerState{
		InSlot:                true,
		SlotChargeInitialized: true,
		Initialized:           true,
		PreviousPowerWatt:     -900,
		IntegralWatt:          -300,
		NotificationActive:    true,
	}
	// well outside the slot and the pre-evaluation window
	state, result, err := c.Tick(monday(12, 0), state)
	require.NoError(t, err)

	assert.False(t, state.InSlot)
	assert.False(t, state.SlotChargeInitialized)
	assert.False(t, state.NotificationActive)
	assert.Equal(t, []string{gridChargeNotificationId}, notifier.cleared)
	assert.False(t, state.PreEvaluated)
	assert.Nil(t, state.CachedDecision)

	// the loop ramps from the -900W slot command instead of
	// re-bootstrapping to a discharge matching the import
	assert.True(t, state.Initialized)
	assert.InDelta(t, -720, result.TargetPowerWatt, 0.001)
}

func TestTickWeeklyOverrideLiftsCeiling(t *testing.T) {
	b := newFakeBattery("bat1", 96) // above the configured 95% ceiling
	c, _ := newTestController(&fakeSensors{grid: -800, gridOk: true}, b)
	c.Weekly.Enabled = true

	// on the target weekday the effective ceiling is 100, so charging
	// continues past the configured maximum
	state := domain.ControllerState{}
	state, _, err := c.Tick(sunday(12), state)
	require.NoError(t, err)

	watt, ok := b.lastApplied()
	require.True(t, ok)
	assert.Negative(t, watt)
}

func TestControllerStartupAndShutdown(t *testing.T) {
	b := newFakeBattery("bat1", 50)
	c, _ := newTestController(&fakeSensors{}, b)

	require.NoError(t, c.Startup())
	assert.True(t, b.controlOn)
	assert.Equal(t, []float64{b.Limits().MaxSOC}, b.cutoffs)

	require.NoError(t, c.Shutdown())
	assert.True(t, b.shuttingDown)
	assert.False(t, b.controlOn)
	assert.True(t, b.closed)
	watt, ok := b.lastApplied()
	require.True(t, ok)
	assert.Zero(t, watt)
}
