package service

import (
	"venuszero/internal/core/domain"
)

// UpdateHysteresis advances the per-battery charge hysteresis latch:
// it engages at soc >= maxSoc and releases below maxSoc - hysteresisPct,
// so a battery hovering at its ceiling does not flap between eligible
// and not. Weekly full charge force-disables the latch.
func UpdateHysteresis(active bool, soc float64, limits domain.BatteryLimits, weeklyActive bool) bool {
	if !limits.HysteresisEnabled || weeklyActive {
		return false
	}
	if active {
		return soc >= limits.MaxSOC-limits.HysteresisPct
	}
	return soc >= limits.MaxSOC
}

// CanDischarge reports discharge eligibility: the battery must hold
// energy above its configured floor.
func CanDischarge(rt domain.BatteryRuntimeState, limits domain.BatteryLimits) bool {
	return rt.Available && rt.SOC > limits.MinSOC
}

// CanCharge reports charge eligibility against the effective ceiling
// for this tick, which weekly full charge may have raised to 100.
func CanCharge(rt domain.BatteryRuntimeState, effectiveMaxSOC float64, hysteresisActive bool) bool {
	return rt.Available && rt.SOC < effectiveMaxSOC && !hysteresisActive
}
