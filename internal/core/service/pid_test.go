package service

import (
	"math"
	"testing"

	"venuszero/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testFleet = FleetCapacity{ChargeWatt: 2500, DischargeWatt: 2500}

func newTestPD() *PDController {
	return &PDController{
		Kp:                      0.65,
		Ki:                      0,
		Kd:                      0.5,
		IntegralDecay:           0.9,
		DeadbandWatt:            40,
		MaxPowerChangeWatt:      800,
		DirectionHysteresisWatt: 60,
		OscillationThreshold:    3,
		DtSeconds:               2,
		Logger:                  zap.Must(zap.NewDevelopment()),
	}
}

func initializedState(prevPower float64) domain.ControllerState {
	return domain.ControllerState{
		Initialized:       true,
		PreviousPowerWatt: prevPower,
		LastOutputSign:    sign(prevPower),
	}
}

func TestFirstTickBootstrap(t *testing.T) {
	pd := newTestPD()
	state := domain.ControllerState{}

	// importing 400W: the bootstrap seeds a matching discharge without
	// rate limiting
	out := pd.Step(&state, -400, testFleet, testFleet, true)

	assert.InDelta(t, 400, out, 0.01)
	assert.True(t, state.Initialized)
	assert.InDelta(t, 400, state.PreviousPowerWatt, 0.01)
	assert.InDelta(t, 400, state.PreviousErrorWatt, 0.01)
	assert.Zero(t, state.IntegralWatt)
}

func TestDeadbandIdempotence(t *testing.T) {
	pd := newTestPD()
	state := initializedState(500)
	state.IntegralWatt = 120

	for i := 0; i < 10; i++ {
		out := pd.Step(&state, 39, testFleet, testFleet, true)
		assert.InDelta(t, 500, out, 0.001)
		assert.InDelta(t, 500, state.PreviousPowerWatt, 0.001)
	}
	// inside the deadband the integral is force-reset and the flip
	// counter cleared
	assert.Zero(t, state.IntegralWatt)
	assert.Zero(t, state.SignFlipCount)
}

func TestAntiWindupClamp(t *testing.T) {
	pd := newTestPD()
	pd.Ki = 0.1
	state := initializedState(0)

	for i := 0; i < 200; i++ {
		pd.Step(&state, -1000, testFleet, testFleet, true)
		require.LessOrEqual(t, math.Abs(state.IntegralWatt), testFleet.ChargeWatt,
			"integral must stay within fleet capacity")
	}
}

func TestOscillationResetAfterThreeFlips(t *testing.T) {
	pd := newTestPD()
	pd.Kp = 1
	pd.Kd = 1
	pd.MaxPowerChangeWatt = 10000
	pd.DirectionHysteresisWatt = 0
	state := initializedState(0)
	fleet := FleetCapacity{ChargeWatt: 10000, DischargeWatt: 10000}

	pd.Step(&state, 100, fleet, fleet, true)  // sign +
	pd.Step(&state, -100, fleet, fleet, true) // flip 1
	pd.Step(&state, 100, fleet, fleet, true)  // flip 2

	// flip 3 resets integral and previousError before computing, so the
	// derivative term halves and the output lands exactly on zero
	out := pd.Step(&state, -100, fleet, fleet, true)

	assert.InDelta(t, 0, out, 0.001)
	assert.Zero(t, state.SignFlipCount)
	// integral re-accumulated from zero this tick
	assert.InDelta(t, -200, state.IntegralWatt, 0.001)
}

func TestOscillationTrackingFrozenWhenRestricted(t *testing.T) {
	pd := newTestPD()
	state := initializedState(0)

	pd.Step(&state, 100, testFleet, testFleet, false)
	pd.Step(&state, -100, testFleet, testFleet, false)
	pd.Step(&state, 100, testFleet, testFleet, false)
	pd.Step(&state, -100, testFleet, testFleet, false)

	assert.Zero(t, state.SignFlipCount)
	assert.Zero(t, state.LastErrorSign)
}

func TestFrozenStepKeepsDerivativeAndSignMemory(t *testing.T) {
	pd := newTestPD()
	state := initializedState(100)
	state.PreviousErrorWatt = 0

	// output flips to discharge-negative, yet the frozen step must not
	// record the crossing or the new error
	out := pd.Step(&state, 300, testFleet, testFleet, false)

	assert.InDelta(t, -170, out, 0.001)
	assert.InDelta(t, -170, state.PreviousPowerWatt, 0.001)
	assert.Zero(t, state.PreviousErrorWatt)
	assert.Equal(t, 1, state.LastOutputSign)
}

func TestDeadbandKeepsErrorSignMemory(t *testing.T) {
	pd := newTestPD()
	state := initializedState(500)
	state.LastErrorSign = -1
	state.SignFlipCount = 2

	pd.Step(&state, 10, testFleet, testFleet, true)

	assert.Equal(t, -1, state.LastErrorSign, "the deadband must not clear the sign memory")
	assert.Zero(t, state.SignFlipCount)
	assert.Zero(t, state.IntegralWatt)
}

func TestRateLimiter(t *testing.T) {
	pd := newTestPD()
	state := initializedState(0)
	state.PreviousErrorWatt = 0

	out := pd.Step(&state, -5000, testFleet, testFleet, true)

	assert.InDelta(t, 800, out, 0.001, "change per cycle is capped")
}

func TestDirectionHysteresisBlocksWeakCrossing(t *testing.T) {
	pd := newTestPD()
	pd.Kp = 1
	pd.Kd = 0
	state := initializedState(30)
	state.PreviousErrorWatt = 0

	// would cross from +30 to -40, weaker than the 60W threshold
	out := pd.Step(&state, 70, testFleet, testFleet, true)

	assert.Zero(t, out)
	assert.Zero(t, state.PreviousPowerWatt)
	// sign memory keeps the old direction for the next crossing attempt
	assert.Equal(t, 1, state.LastOutputSign)
}

func TestOutputClampedToEligibleCapacity(t *testing.T) {
	pd := newTestPD()
	pd.MaxPowerChangeWatt = 10000
	state := initializedState(0)
	eligible := FleetCapacity{ChargeWatt: 0, DischargeWatt: 300}

	out := pd.Step(&state, -2000, eligible, testFleet, true)

	assert.InDelta(t, 300, out, 0.001)
}

func TestFilterSampleMovingAverage(t *testing.T) {
	state := domain.ControllerState{}

	assert.InDelta(t, 100, FilterSample(&state, 100, 2), 0.001)
	assert.InDelta(t, 200, FilterSample(&state, 300, 2), 0.001)
	assert.InDelta(t, 400, FilterSample(&state, 500, 2), 0.001)
	assert.Len(t, state.SensorHistory, 2)
}
