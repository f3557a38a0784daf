package port

import (
	"venuszero/internal/core/domain"
)

// BatteryHandle is one controllable battery. Power commands are
// write+verify: the handle reads the command registers back and retries
// once before reporting failure.
type BatteryHandle interface {
	Name() string
	Limits() domain.BatteryLimits
	SetSOCLimits(minSOC float64, maxSOC float64)
	// Runtime returns the latest telemetry snapshot. Available is false
	// until the first successful poll.
	Runtime() domain.BatteryRuntimeState
	RefreshTelemetry() error
	// ApplyPower issues signed power: positive discharges, negative
	// charges, zero releases force mode.
	ApplyPower(watt float64) error
	EnableControl() error
	DisableControl() error
	// WriteChargeCutoff writes the hardware max-SOC register when the
	// battery has one; the bool reports whether it does.
	WriteChargeCutoff(maxSOC float64) error
	HasChargeCutoffRegister() bool
	SetShuttingDown(shuttingDown bool)
	Close() error
}
