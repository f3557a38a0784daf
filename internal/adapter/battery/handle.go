package battery

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"venuszero/internal/config"
	"venuszero/internal/core/domain"
	"venuszero/internal/core/port"
	"venuszero/internal/util"
	"venuszero/pkg/venus_modbus"

	"go.uber.org/zap"
)

const (
	commandAttempts  = 2
	ackSettleDelay   = 100 * time.Millisecond
	telemetryMaxAge  = 10 * time.Second
)

var ErrCommandNotAcknowledged = errors.New("power command not acknowledged by battery")

var telemetryRetryPolicy = util.RetryPolicy{
	Attempts:     3,
	InitialDelay: 200 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	Jitter:       0.25,
}

// Handle binds one physical battery to the controller: cached telemetry
// snapshot on one side, verified register writes on the other.
type Handle struct {
	client venus_modbus.BatteryModbusClient
	logger *zap.Logger

	mu           sync.Mutex
	limits       domain.BatteryLimits
	runtime      domain.BatteryRuntimeState
	shuttingDown bool
}

func NewHandle(client venus_modbus.BatteryModbusClient, cfg config.BatteryConfig, logger *zap.Logger) *Handle {
	return &Handle{
		client: client,
		logger: logger.With(zap.String("battery", cfg.Name)),
		limits: domain.BatteryLimits{
			MaxChargePowerWatt:    float64(cfg.MaxChargePowerWatt),
			MaxDischargePowerWatt: float64(cfg.MaxDischargePowerWatt),
			MinSOC:                cfg.MinSOC,
			MaxSOC:                cfg.MaxSOC,
			HysteresisEnabled:     cfg.HysteresisEnabled,
			HysteresisPct:         cfg.HysteresisPct,
		},
		runtime: domain.BatteryRuntimeState{Name: cfg.Name},
	}
}

func (h *Handle) Name() string {
	return h.client.Info().Name
}

func (h *Handle) Limits() domain.BatteryLimits {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.limits
}

// SetSOCLimits applies a live configuration change; the next tick picks
// it up without a restart.
func (h *Handle) SetSOCLimits(minSOC float64, maxSOC float64) {
	h.mu.Lock()
	h.limits.MinSOC = minSOC
	h.limits.MaxSOC = maxSOC
	h.mu.Unlock()
	h.logger.Info("battery: soc limits updated",
		zap.Float64("min_soc", minSOC), zap.Float64("max_soc", maxSOC))
}

func (h *Handle) Runtime() domain.BatteryRuntimeState {
	h.mu.Lock()
	defer h.mu.Unlock()
	rt := h.runtime
	if rt.Available && time.Since(rt.LastUpdate) > telemetryMaxAge {
		rt.Available = false
	}
	return rt
}

// RefreshTelemetry polls the battery registers and replaces the
// snapshot. Transient failures are retried with backoff; a cycle that
// still fails leaves the previous snapshot aging out.
func (h *Handle) RefreshTelemetry() error {
	t, err := util.RetryValue(telemetryRetryPolicy, h.client.GetTelemetry)
	if err != nil {
		if !h.isShuttingDown() {
			h.logger.Warn("battery: telemetry poll failed", zap.Error(err))
		}
		return err
	}
	h.mu.Lock()
	h.runtime = domain.BatteryRuntimeState{
		Name:                    h.runtime.Name,
		SOC:                     t.StateOfCharge,
		PowerWatt:               t.BatteryPowerWatt,
		StoredEnergyKwh:         t.StoredEnergyKwh,
		TotalCapacityKwh:        t.TotalCapacityKwh,
		DailyDischargeEnergyKwh: t.DailyDischargeEnergyKwh,
		LastUpdate:              time.Now(),
		Available:               true,
	}
	h.mu.Unlock()
	return nil
}

// ApplyPower writes a signed power command with ACK verification:
// discharge register first, then charge, then force mode (that order
// avoids a transient double-command state), read everything back and
// retry once on mismatch.
func (h *Handle) ApplyPower(watt float64) error {
	var chargeWatt, dischargeWatt uint16
	var mode uint16
	switch {
	case watt > 0:
		dischargeWatt = uint16(watt)
		mode = venus_modbus.ForceModeDischarge
	case watt < 0:
		chargeWatt = uint16(-watt)
		mode = venus_modbus.ForceModeCharge
	default:
		mode = venus_modbus.ForceModeNone
	}

	var lastErr error
	for attempt := 1; attempt <= commandAttempts; attempt++ {
		if err := h.writeCommand(chargeWatt, dischargeWatt, mode); err != nil {
			lastErr = err
			continue
		}
		time.Sleep(ackSettleDelay)
		if err := h.verifyCommand(chargeWatt, dischargeWatt, mode); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if !h.isShuttingDown() {
		h.logger.Error("battery: power command failed after retries",
			zap.Float64("watt", watt), zap.Error(lastErr))
	}
	return lastErr
}

func (h *Handle) writeCommand(chargeWatt, dischargeWatt, mode uint16) error {
	if err := h.client.WriteDischargePower(dischargeWatt); err != nil {
		return err
	}
	if err := h.client.WriteChargePower(chargeWatt); err != nil {
		return err
	}
	return h.client.WriteForceMode(mode)
}

func (h *Handle) verifyCommand(chargeWatt, dischargeWatt, mode uint16) error {
	fb, err := h.client.ReadPowerFeedback()
	if err != nil {
		return err
	}
	if fb.ForceMode != mode || fb.SetChargePowerWatt != chargeWatt || fb.SetDischargePowerWatt != dischargeWatt {
		return fmt.Errorf("%w: wanted mode=%d charge=%d discharge=%d, read mode=%d charge=%d discharge=%d",
			ErrCommandNotAcknowledged, mode, chargeWatt, dischargeWatt,
			fb.ForceMode, fb.SetChargePowerWatt, fb.SetDischargePowerWatt)
	}
	return nil
}

func (h *Handle) EnableControl() error {
	return h.client.EnableControl()
}

func (h *Handle) DisableControl() error {
	err := h.client.DisableControl()
	if err != nil && !h.isShuttingDown() {
		h.logger.Error("battery: failed to release control registers", zap.Error(err))
	}
	return err
}

// WriteChargeCutoff writes the hardware ceiling register, keeping the
// configured floor in place.
func (h *Handle) WriteChargeCutoff(maxSOC float64) error {
	return h.client.WriteSOCCutoffs(maxSOC, h.Limits().MinSOC)
}

func (h *Handle) HasChargeCutoffRegister() bool {
	return h.client.HasRegister(venus_modbus.RegChargingCutoffCapacity)
}

func (h *Handle) SetShuttingDown(shuttingDown bool) {
	h.mu.Lock()
	h.shuttingDown = shuttingDown
	h.mu.Unlock()
}

func (h *Handle) isShuttingDown() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.shuttingDown
}

func (h *Handle) Close() error {
	return h.client.Close()
}

// ensure interface compliance
var _ port.BatteryHandle = (*Handle)(nil)
