package port

import (
	"time"

	"venuszero/internal/core/domain"
)

// TickResult reports what one orchestrator pass did.
type TickResult struct {
	Mode            domain.ControlMode
	TargetPowerWatt float64
	Allocations     map[string]float64
	Decision        *domain.PredictiveDecision
}

// ControlLoop is the per-tick orchestrator. Tick mutates and returns
// the controller state explicitly; the caller owns serialization (no
// two ticks run concurrently).
type ControlLoop interface {
	Tick(now time.Time, state domain.ControllerState) (domain.ControllerState, TickResult, error)
	Shutdown() error
}
