package service

import (
	"math"
	"sync"
	"time"

	"venuszero/internal/core/domain"
	"venuszero/internal/core/port"

	"go.uber.org/zap"
)

const gridChargeNotificationId = "grid_charge_decision"

// Controller is the per-tick orchestrator. Branches are evaluated in
// strict priority: manual mode, weekly register management, predictive
// pre-evaluation and slot handling, then normal feedback control.
type Controller struct {
	Batteries  []port.BatteryHandle
	Sensors    port.SensorReader
	Notifier   port.Notifier
	PD         *PDController
	Allocator  *PowerAllocator
	Windows    *TimeWindowEvaluator
	Predictive *PredictiveEvaluator
	Weekly     *WeeklyChargeManager
	Logger     *zap.Logger

	PredictiveEnabled        bool
	ContractedPowerWatt      float64
	SOCReevaluationThreshold float64
	SensorHistorySize        int

	mu         sync.Mutex
	hysteresis map[string]bool
	lastResult port.TickResult
}

// Startup takes over every battery's control registers and writes the
// configured SOC cutoffs where the hardware supports them.
func (c *Controller) Startup() error {
	c.Logger.Info("controller: feedback parameters",
		zap.Float64("kp", c.PD.Kp), zap.Float64("ki", c.PD.Ki), zap.Float64("kd", c.PD.Kd),
		zap.Float64("deadband_w", c.PD.DeadbandWatt),
		zap.Float64("max_change_w", c.PD.MaxPowerChangeWatt),
		zap.Int("batteries", len(c.Batteries)))
	for _, b := range c.Batteries {
		if err := b.EnableControl(); err != nil {
			return err
		}
		if b.HasChargeCutoffRegister() {
			if err := b.WriteChargeCutoff(b.Limits().MaxSOC); err != nil {
				c.Logger.Error("controller: failed to write initial charge cutoff",
					zap.String("battery", b.Name()), zap.Error(err))
			}
		}
	}
	return nil
}

// Shutdown is the scoped teardown: flag batteries as shutting down so
// expected disconnect errors stay quiet, zero power, release control
// registers, close transports.
func (c *Controller) Shutdown() error {
	var firstErr error
	for _, b := range c.Batteries {
		b.SetShuttingDown(true)
	}
	for _, b := range c.Batteries {
		if err := b.ApplyPower(0); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := b.DisableControl(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Tick runs one orchestrator pass. The caller guarantees serialization;
// state is threaded through explicitly.
func (c *Controller) Tick(now time.Time, state domain.ControllerState) (domain.ControllerState, port.TickResult, error) {
	// weekly register management runs regardless of mode
	state.Weekly = c.Weekly.Manage(now, state.Weekly, c.Batteries)
	weeklyActive := c.Weekly.Active(now, state.Weekly)

	c.updateHysteresis(weeklyActive)

	if state.ManualOverride {
		return state, c.finish(port.TickResult{Mode: domain.ControlModeManualOverride}), nil
	}

	// pre-evaluation ahead of the grid charge slot
	inPreEval := c.PredictiveEnabled && c.Windows.IsInPreEvaluationWindow(now)
	if inPreEval && !state.PreEvaluated {
		decision, err := c.Predictive.Evaluate(c.runtimes(), c.limits())
		if err != nil {
			c.Logger.Warn("controller: pre-evaluation failed, will retry next tick", zap.Error(err))
		} else {
			state.CachedDecision = decision
			state.PreEvaluated = true
			state.NotificationActive = true
			c.Notifier.Notify(gridChargeNotificationId, "Grid charge evaluation", decision.Reason)
		}
	}

	if c.PredictiveEnabled && c.Windows.IsInPredictiveSlot(now) {
		state.InSlot = true
		return c.predictiveSlotTick(now, state)
	}

	if state.InSlot {
		// slot exit: damp the feedback memory so the mode switch does
		// not ring, and drop the notification. The last power command
		// survives so normal control ramps from it.
		state.InSlot = false
		state.SlotChargeInitialized = false
		state.DampFeedback()
		if state.NotificationActive {
			c.Notifier.ClearNotification(gridChargeNotificationId)
			state.NotificationActive = false
		}
	}
	if !inPreEval {
		state.PreEvaluated = false
		state.PredictiveOverride = false
		state.CachedDecision = nil
	}

	return c.normalTick(now, state)
}

// predictiveSlotTick handles the inside-the-slot branch: either charge
// from grid toward the contracted-power ceiling or pin everything to 0.
func (c *Controller) predictiveSlotTick(now time.Time, state domain.ControllerState) (domain.ControllerState, port.TickResult, error) {
	result := port.TickResult{Mode: domain.ControlModePredictive}

	if state.PredictiveOverride {
		c.zeroAll()
		return state, c.finish(result), nil
	}

	decision := state.CachedDecision
	if decision == nil || decision.EvaluatedAtSOC-c.avgSOC() >= c.SOCReevaluationThreshold {
		initial := decision == nil
		fresh, err := c.Predictive.Evaluate(c.runtimes(), c.limits())
		if err != nil {
			c.Logger.Warn("controller: in-slot evaluation failed, holding batteries", zap.Error(err))
			c.zeroAll()
			return state, c.finish(result), nil
		}
		decision = fresh
		state.CachedDecision = fresh
		// the first in-slot evaluation raises the notification; SOC
		// re-evaluations update the cached decision silently
		if initial {
			state.NotificationActive = true
			c.Notifier.Notify(gridChargeNotificationId, "Grid charge evaluation", fresh.Reason)
		}
	}
	result.Decision = decision

	if !decision.ShouldCharge {
		c.zeroAll()
		return state, c.finish(result), nil
	}

	raw, ok := c.Sensors.GridPowerWatt()
	if !ok {
		c.Logger.Warn("controller: grid sensor unavailable in slot, holding batteries")
		c.zeroAll()
		return state, c.finish(result), nil
	}
	filtered := FilterSample(&state, raw, c.SensorHistorySize)

	// inverted error sense: importing below the contracted ceiling
	// means there is headroom to charge harder
	errorWatt := c.ContractedPowerWatt - filtered

	weeklyActive := c.Weekly.Active(now, state.Weekly)
	chargers, chargeCap := c.eligibleChargers(weeklyActive)
	eligible := FleetCapacity{ChargeWatt: chargeCap, DischargeWatt: 0}

	// the first charging tick of a slot seeds the loop at full charge
	// power instead of ramping up from the pre-slot command
	if !state.SlotChargeInitialized {
		state.SlotChargeInitialized = true
		state.Initialized = true
		state.PreviousErrorWatt = errorWatt
		state.PreviousPowerWatt = -math.Min(chargeCap, c.ContractedPowerWatt)
	}

	output := c.PD.Step(&state, errorWatt, eligible, c.fleetCapacity(), true)
	output = math.Min(0, output)
	result.TargetPowerWatt = output

	result.Allocations = c.Allocator.Allocate(-output, chargers)
	c.apply(result.Allocations, -1)

	return state, c.finish(result), nil
}

// normalTick is the default feedback branch driving net grid power to
// zero.
func (c *Controller) normalTick(now time.Time, state domain.ControllerState) (domain.ControllerState, port.TickResult, error) {
	raw, ok := c.Sensors.GridPowerWatt()
	if !ok {
		c.Logger.Warn("controller: grid sensor unavailable, skipping cycle")
		return state, c.finish(port.TickResult{Mode: domain.ControlModeIdle}), nil
	}
	filtered := FilterSample(&state, raw, c.SensorHistorySize)

	// the deadband is judged on the grid reading before excluded-device
	// compensation: a balanced grid means no action, whatever the
	// excluded loads draw
	if math.Abs(filtered) < c.PD.DeadbandWatt {
		state.IntegralWatt = 0
		state.SignFlipCount = 0
		return state, c.finish(port.TickResult{
			Mode:            domain.ControlModeIdle,
			TargetPowerWatt: state.PreviousPowerWatt,
		}), nil
	}
	filtered -= c.Sensors.ExcludedDevicesPowerWatt()

	// setpoint minus measurement: grid import yields a negative error,
	// pushing the incremental core toward more discharge
	errorWatt := -filtered

	weeklyActive := c.Weekly.Active(now, state.Weekly)
	chargers, chargeCap := c.eligibleChargers(weeklyActive)
	dischargers, dischargeCap := c.eligibleDischargers()
	eligible := FleetCapacity{ChargeWatt: chargeCap, DischargeWatt: dischargeCap}

	// probe on a scratch copy to learn the direction this tick would
	// take, so a time-slot restriction can freeze oscillation tracking
	probe := state
	probeOut := c.PD.Step(&probe, errorWatt, eligible, c.fleetCapacity(), false)
	restricted := probeOut != 0 && !c.Windows.IsOperationAllowed(now, probeOut < 0)

	output := c.PD.Step(&state, errorWatt, eligible, c.fleetCapacity(), !restricted)
	if restricted {
		output = 0
		state.PreviousPowerWatt = 0
	}

	result := port.TickResult{Mode: domain.ControlModeNormal, TargetPowerWatt: output}
	switch {
	case restricted:
		result.Mode = domain.ControlModeRestricted
		c.zeroAll()
	case output > 0:
		result.Allocations = c.Allocator.Allocate(output, dischargers)
		c.apply(result.Allocations, 1)
	case output < 0:
		result.Allocations = c.Allocator.Allocate(-output, chargers)
		c.apply(result.Allocations, -1)
	default:
		result.Mode = domain.ControlModeIdle
		c.zeroAll()
	}

	return state, c.finish(result), nil
}

// apply writes each allocation through its battery handle. A failing
// battery is logged and skipped, the rest still get their command.
func (c *Controller) apply(allocations map[string]float64, direction float64) {
	for _, b := range c.Batteries {
		watt := allocations[b.Name()] * direction
		if err := b.ApplyPower(watt); err != nil {
			c.Logger.Error("controller: power command failed",
				zap.String("battery", b.Name()), zap.Float64("watt", watt), zap.Error(err))
		}
	}
}

func (c *Controller) zeroAll() {
	for _, b := range c.Batteries {
		if err := b.ApplyPower(0); err != nil {
			c.Logger.Error("controller: failed to zero battery",
				zap.String("battery", b.Name()), zap.Error(err))
		}
	}
}

func (c *Controller) updateHysteresis(weeklyActive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hysteresis == nil {
		c.hysteresis = make(map[string]bool, len(c.Batteries))
	}
	for _, b := range c.Batteries {
		rt := b.Runtime()
		if !rt.Available {
			continue
		}
		c.hysteresis[b.Name()] = UpdateHysteresis(c.hysteresis[b.Name()], rt.SOC, b.Limits(), weeklyActive)
	}
}

func (c *Controller) hysteresisActive(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hysteresis[name]
}

func (c *Controller) eligibleChargers(weeklyActive bool) ([]BatteryShare, float64) {
	var shares []BatteryShare
	var total float64
	for _, b := range c.Batteries {
		rt, l := b.Runtime(), b.Limits()
		ceiling := c.Weekly.EffectiveMaxSOC(weeklyActive, l.MaxSOC)
		if CanCharge(rt, ceiling, c.hysteresisActive(b.Name())) {
			shares = append(shares, BatteryShare{Name: b.Name(), LimitWatt: l.MaxChargePowerWatt})
			total += l.MaxChargePowerWatt
		}
	}
	return shares, total
}

func (c *Controller) eligibleDischargers() ([]BatteryShare, float64) {
	var shares []BatteryShare
	var total float64
	for _, b := range c.Batteries {
		rt, l := b.Runtime(), b.Limits()
		if CanDischarge(rt, l) {
			shares = append(shares, BatteryShare{Name: b.Name(), LimitWatt: l.MaxDischargePowerWatt})
			total += l.MaxDischargePowerWatt
		}
	}
	return shares, total
}

// fleetCapacity is the full installed capacity, used as the anti-windup
// clamp regardless of which batteries are eligible this tick.
func (c *Controller) fleetCapacity() FleetCapacity {
	var f FleetCapacity
	for _, b := range c.Batteries {
		l := b.Limits()
		f.ChargeWatt += l.MaxChargePowerWatt
		f.DischargeWatt += l.MaxDischargePowerWatt
	}
	return f
}

func (c *Controller) runtimes() []domain.BatteryRuntimeState {
	out := make([]domain.BatteryRuntimeState, 0, len(c.Batteries))
	for _, b := range c.Batteries {
		rt := b.Runtime()
		rt.HysteresisActive = c.hysteresisActive(b.Name())
		out = append(out, rt)
	}
	return out
}

func (c *Controller) limits() map[string]domain.BatteryLimits {
	out := make(map[string]domain.BatteryLimits, len(c.Batteries))
	for _, b := range c.Batteries {
		out[b.Name()] = b.Limits()
	}
	return out
}

func (c *Controller) avgSOC() float64 {
	var sum float64
	live := 0
	for _, b := range c.Batteries {
		if rt := b.Runtime(); rt.Available {
			sum += rt.SOC
			live++
		}
	}
	if live == 0 {
		return 0
	}
	return sum / float64(live)
}

func (c *Controller) finish(result port.TickResult) port.TickResult {
	c.mu.Lock()
	c.lastResult = result
	c.mu.Unlock()
	return result
}

// LastResult serves the status surface without touching tick state.
func (c *Controller) LastResult() port.TickResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastResult
}

// Runtimes exposes the current battery snapshots for status reporting.
func (c *Controller) Runtimes() []domain.BatteryRuntimeState {
	return c.runtimes()
}

// ensure interface compliance
var _ port.ControlLoop = (*Controller)(nil)
