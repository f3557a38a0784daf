package service

import (
	"time"

	"venuszero/internal/core/domain"
	"venuszero/internal/core/port"

	"go.uber.org/zap"
)

// WeeklyChargeManager runs the Idle -> Active -> Complete -> Idle cycle
// that lifts every battery to a true 100% once a week, so SOC drift from
// coulomb counting gets recalibrated.
type WeeklyChargeManager struct {
	Enabled       bool
	TargetWeekday time.Weekday
	Store         port.StateStore
	Logger        *zap.Logger
}

// Restore validates persisted completion state. Stale state from an
// earlier week, or from a since-changed target weekday, is discarded.
func (m *WeeklyChargeManager) Restore(stored *domain.WeeklyChargeState) domain.WeeklyChargeState {
	if stored == nil {
		return domain.WeeklyChargeState{}
	}
	if stored.Complete {
		if stored.CompletionWeekday == nil || stored.LastObservedWeekday == nil ||
			*stored.CompletionWeekday != m.TargetWeekday ||
			*stored.CompletionWeekday != *stored.LastObservedWeekday {
			m.Logger.Info("weekly: discarding stale persisted completion state")
			return domain.WeeklyChargeState{}
		}
	}
	return *stored
}

// Active reports whether the full-charge override is in force: target
// weekday reached and this week's charge not yet complete.
func (m *WeeklyChargeManager) Active(now time.Time, state domain.WeeklyChargeState) bool {
	return m.Enabled && now.Weekday() == m.TargetWeekday && !state.Complete
}

// EffectiveMaxSOC is the charge ceiling the rest of the controller must
// honor this tick.
func (m *WeeklyChargeManager) EffectiveMaxSOC(active bool, configured float64) float64 {
	if active {
		return 100
	}
	return configured
}

// Manage advances the state machine and keeps hardware cutoff registers
// consistent with it. Runs every tick regardless of control mode.
func (m *WeeklyChargeManager) Manage(now time.Time, state domain.WeeklyChargeState,
	batteries []port.BatteryHandle) domain.WeeklyChargeState {

	if !m.Enabled {
		if state.RegistersWritten {
			m.restoreCutoffs(batteries)
			state.RegistersWritten = false
			m.persist(state)
		}
		return state
	}

	today := now.Weekday()

	if state.Complete && today != m.TargetWeekday {
		// Complete -> Idle: the calendar moved off the target day
		m.Logger.Info("weekly: cycle reset for the new week")
		state.Complete = false
		state.RegistersWritten = false
		state.CompletionWeekday = nil
		state.LastObservedWeekday = &today
		m.persist(state)
		return state
	}

	if state.LastObservedWeekday == nil || *state.LastObservedWeekday != today {
		state.LastObservedWeekday = &today
		m.persist(state)
	}

	if !m.Active(now, state) {
		return state
	}

	// Idle -> Active: lift hardware ceilings on first entry
	if !state.RegistersWritten {
		m.Logger.Info("weekly: full charge started, raising charge ceilings to 100%")
		for _, b := range batteries {
			if !b.HasChargeCutoffRegister() {
				continue
			}
			if err := b.WriteChargeCutoff(100); err != nil {
				m.Logger.Error("weekly: failed to raise charge cutoff",
					zap.String("battery", b.Name()), zap.Error(err))
			}
		}
		state.RegistersWritten = true
		m.persist(state)
	}

	// Active -> Complete: every battery with live data is full
	live := 0
	full := 0
	for _, b := range batteries {
		rt := b.Runtime()
		if !rt.Available {
			continue
		}
		live++
		if rt.SOC >= 100 {
			full++
		}
	}
	if live > 0 && full == live {
		m.Logger.Info("weekly: full charge complete, restoring configured ceilings")
		m.restoreCutoffs(batteries)
		state.Complete = true
		state.RegistersWritten = false
		state.CompletionWeekday = &today
		state.LastObservedWeekday = &today
		m.persist(state)
	}

	return state
}

func (m *WeeklyChargeManager) restoreCutoffs(batteries []port.BatteryHandle) {
	for _, b := range batteries {
		if !b.HasChargeCutoffRegister() {
			continue
		}
		if err := b.WriteChargeCutoff(b.Limits().MaxSOC); err != nil {
			m.Logger.Error("weekly: failed to restore charge cutoff",
				zap.String("battery", b.Name()), zap.Error(err))
		}
	}
}

func (m *WeeklyChargeManager) persist(state domain.WeeklyChargeState) {
	if err := m.Store.SaveWeeklyState(state); err != nil {
		m.Logger.Error("weekly: failed to persist state", zap.Error(err))
	}
}
