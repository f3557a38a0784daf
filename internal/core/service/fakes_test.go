package service

import (
	"sync"

	"venuszero/internal/core/domain"
	"venuszero/internal/core/port"
)

// fakeBattery records applied power and cutoff writes
type fakeBattery struct {
	mu           sync.Mutex
	name         string
	limits       domain.BatteryLimits
	runtime      domain.BatteryRuntimeState
	hasCutoff    bool
	applied      []float64
	cutoffs      []float64
	applyErr     error
	shuttingDown bool
	controlOn    bool
	closed       bool
}

func newFakeBattery(name string, soc float64) *fakeBattery {
	return &fakeBattery{
		name: name,
		limits: domain.BatteryLimits{
			MaxChargePowerWatt:    2500,
			MaxDischargePowerWatt: 800,
			MinSOC:                10,
			MaxSOC:                95,
			HysteresisEnabled:     true,
			HysteresisPct:         5,
		},
		runtime: domain.BatteryRuntimeState{
			Name:             name,
			SOC:              soc,
			TotalCapacityKwh: 5.12,
			Available:        true,
		},
		hasCutoff: true,
	}
}

func (b *fakeBattery) Name() string { return b.name }

func (b *fakeBattery) Limits() domain.BatteryLimits {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limits
}

func (b *fakeBattery) SetSOCLimits(minSOC float64, maxSOC float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.limits.MinSOC = minSOC
	b.limits.MaxSOC = maxSOC
}

func (b *fakeBattery) Runtime() domain.BatteryRuntimeState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runtime
}

func (b *fakeBattery) RefreshTelemetry() error { return nil }

func (b *fakeBattery) ApplyPower(watt float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.applyErr != nil {
		return b.applyErr
	}
	b.applied = append(b.applied, watt)
	return nil
}

func (b *fakeBattery) EnableControl() error {
	b.controlOn = true
	return nil
}

func (b *fakeBattery) DisableControl() error {
	b.controlOn = false
	return nil
}

func (b *fakeBattery) WriteChargeCutoff(maxSOC float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cutoffs = append(b.cutoffs, maxSOC)
	return nil
}

func (b *fakeBattery) HasChargeCutoffRegister() bool { return b.hasCutoff }

func (b *fakeBattery) SetShuttingDown(shuttingDown bool) {
	b.shuttingDown = shuttingDown
}

func (b *fakeBattery) Close() error {
	b.closed = true
	return nil
}

func (b *fakeBattery) lastApplied() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.applied) == 0 {
		return 0, false
	}
	return b.applied[len(b.applied)-1], true
}

func (b *fakeBattery) setSOC(soc float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.runtime.SOC = soc
}

var _ port.BatteryHandle = (*fakeBattery)(nil)

// fakeNotifier records raised and cleared notifications
type fakeNotifier struct {
	mu       sync.Mutex
	notified []string
	cleared  []string
}

func (n *fakeNotifier) Notify(id string, title string, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified = append(n.notified, id)
}

func (n *fakeNotifier) ClearNotification(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cleared = append(n.cleared, id)
}

var _ port.Notifier = (*fakeNotifier)(nil)
