package service

import (
	"math"

	"venuszero/internal/core/domain"

	"go.uber.org/zap"
)

// FleetCapacity is the combined power capacity of a set of batteries,
// both values positive.
type FleetCapacity struct {
	ChargeWatt    float64
	DischargeWatt float64
}

// PDController is the incremental feedback core. Each step corrects the
// previous power command instead of replacing it, so the loop converges
// even with a biased sensor. Positive power discharges, negative charges.
type PDController struct {
	Kp                      float64
	Ki                      float64
	Kd                      float64
	IntegralDecay           float64
	DeadbandWatt            float64
	MaxPowerChangeWatt      float64
	DirectionHysteresisWatt float64
	OscillationThreshold    int
	DtSeconds               float64
	Logger                  *zap.Logger
}

func sign(v float64) int {
	if v > 0 {
		return 1
	}
	if v < 0 {
		return -1
	}
	return 0
}

// Step runs one control cycle. errorWatt follows the setpoint-minus-
// measurement convention. eligible is the capacity of the batteries
// selectable this tick (the output clamp); windupClamp is the clamp on
// the integral term. trackOscillation freezes the error-sign,
// derivative and output-sign memory when false, so a tick paused by a
// time restriction cannot raise a false oscillation flag or skew the
// next live derivative.
func (c *PDController) Step(state *domain.ControllerState, errorWatt float64,
	eligible FleetCapacity, windupClamp FleetCapacity, trackOscillation bool) float64 {

	// bootstrap: the first tick seeds state instead of correcting it
	if !state.Initialized {
		state.Initialized = true
		state.PreviousPowerWatt = -errorWatt
		state.PreviousErrorWatt = -errorWatt
		state.IntegralWatt = 0
		out := clampToCapacity(state.PreviousPowerWatt, eligible)
		state.PreviousPowerWatt = out
		state.LastOutputSign = sign(out)
		return out
	}

	// deadband: no correction, integral force-reset. The last error
	// sign stays as-is so the oscillation guard resumes where it was.
	if math.Abs(errorWatt) < c.DeadbandWatt {
		state.IntegralWatt = 0
		state.SignFlipCount = 0
		return state.PreviousPowerWatt
	}

	// oscillation guard: N consecutive error-sign flips reset the
	// integral and derivative memory, P+D control continues
	if trackOscillation {
		s := sign(errorWatt)
		if state.LastErrorSign != 0 && s != 0 && s != state.LastErrorSign {
			state.SignFlipCount++
		} else if s == state.LastErrorSign {
			state.SignFlipCount = 0
		}
		state.LastErrorSign = s
		if state.SignFlipCount >= c.OscillationThreshold {
			c.Logger.Info("pd: oscillation detected, damping feedback memory",
				zap.Int("sign_flips", state.SignFlipCount))
			state.IntegralWatt = 0
			state.PreviousErrorWatt = 0
			state.SignFlipCount = 0
		}
	}

	// leaky integrator with stale-direction reset and anti-windup
	integral := state.IntegralWatt * c.IntegralDecay
	if sign(integral) != 0 && sign(errorWatt) != 0 && sign(integral) != sign(errorWatt) {
		integral = 0
	}
	saturated := integral >= windupClamp.DischargeWatt || integral <= -windupClamp.ChargeWatt
	if !saturated {
		integral += errorWatt * c.DtSeconds
	}
	integral = math.Min(windupClamp.DischargeWatt, math.Max(-windupClamp.ChargeWatt, integral))
	state.IntegralWatt = integral

	derivative := (errorWatt - state.PreviousErrorWatt) / c.DtSeconds
	output := state.PreviousPowerWatt - (c.Kp*errorWatt + c.Ki*integral + c.Kd*derivative)

	// rate limit the change, preserving its direction
	change := output - state.PreviousPowerWatt
	if math.Abs(change) > c.MaxPowerChangeWatt {
		output = state.PreviousPowerWatt + math.Copysign(c.MaxPowerChangeWatt, change)
	}

	// directional hysteresis: refuse a weak zero crossing
	if state.LastOutputSign != 0 && sign(output) != 0 && sign(output) != state.LastOutputSign &&
		math.Abs(output) < c.DirectionHysteresisWatt {
		output = 0
	}

	output = clampToCapacity(output, eligible)

	state.PreviousPowerWatt = output
	if trackOscillation {
		state.PreviousErrorWatt = errorWatt
		if sign(output) != 0 {
			state.LastOutputSign = sign(output)
		}
	}
	return output
}

func clampToCapacity(watt float64, limit FleetCapacity) float64 {
	return math.Min(limit.DischargeWatt, math.Max(-limit.ChargeWatt, watt))
}

// FilterSample appends a raw sensor sample to the moving-average window
// and returns the filtered value.
func FilterSample(state *domain.ControllerState, sample float64, window int) float64 {
	if window < 1 {
		window = 1
	}
	state.SensorHistory = append(state.SensorHistory, sample)
	if len(state.SensorHistory) > window {
		state.SensorHistory = state.SensorHistory[len(state.SensorHistory)-window:]
	}
	var sum float64
	for _, v := range state.SensorHistory {
		sum += v
	}
	return sum / float64(len(state.SensorHistory))
}
