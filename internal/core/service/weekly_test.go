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

// 2026-08-23 is a Sunday
func sunday(hour int) time.Time {
	return time.Date(2026, 8, 23, hour, 0, 0, 0, time.UTC)
}

func newTestWeekly(store *memStore) *WeeklyChargeManager {
	return &WeeklyChargeManager{
		Enabled:       true,
		TargetWeekday: time.Sunday,
		Store:         store,
		Logger:        zap.Must(zap.NewDevelopment()),
	}
}

func TestWeeklyActivatesOnTargetWeekday(t *testing.T) {
	m := newTestWeekly(&memStore{})
	state := domain.WeeklyChargeState{}

	assert.True(t, m.Active(sunday(10), state))
	assert.False(t, m.Active(sunday(10).AddDate(0, 0, 1), state))

	state.Complete = true
	assert.False(t, m.Active(sunday(10), state))
}

func TestWeeklyEffectiveMaxSOC(t *testing.T) {
	m := newTestWeekly(&memStore{})

	assert.EqualValues(t, 100, m.EffectiveMaxSOC(true, 90))
	assert.EqualValues(t, 90, m.EffectiveMaxSOC(false, 90))
}

func TestWeeklyFullCycle(t *testing.T) {
	store := &memStore{}
	m := newTestWeekly(store)
	withCutoff := newFakeBattery("bat1", 80)
	noCutoff := newFakeBattery("bat2", 80)
	noCutoff.hasCutoff = false
	batteries := []port.BatteryHandle{withCutoff, noCutoff}

	// entering the target weekday lifts the hardware ceiling once
	state := m.Manage(sunday(8), domain.WeeklyChargeState{}, batteries)
	require.True(t, state.RegistersWritten)
	require.False(t, state.Complete)
	require.Equal(t, []float64{100}, withCutoff.cutoffs)
	assert.Empty(t, noCutoff.cutoffs)

	// still charging: nothing changes
	state = m.Manage(sunday(9), state, batteries)
	require.Equal(t, []float64{100}, withCutoff.cutoffs)

	// one battery full is not enough
	withCutoff.setSOC(100)
	state = m.Manage(sunday(10), state, batteries)
	require.False(t, state.Complete)

	// all batteries full: completion restores the configured ceiling
	noCutoff.setSOC(100)
	state = m.Manage(sunday(11), state, batteries)
	require.True(t, state.Complete)
	require.False(t, state.RegistersWritten)
	require.NotNil(t, state.CompletionWeekday)
	assert.Equal(t, time.Sunday, *state.CompletionWeekday)
	assert.Equal(t, []float64{100, withCutoff.Limits().MaxSOC}, withCutoff.cutoffs)

	// completion was persisted
	require.NotNil(t, store.weekly)
	assert.True(t, store.weekly.Complete)

	// the next day resets the cycle
	state = m.Manage(sunday(11).AddDate(0, 0, 1), state, batteries)
	assert.False(t, state.Complete)
	assert.Nil(t, state.CompletionWeekday)
}

func TestWeeklyIgnoresOfflineBatteries(t *testing.T) {
	m := newTestWeekly(&memStore{})
	online := newFakeBattery("bat1", 100)
	offline := newFakeBattery("bat2", 40)
	offline.runtime.Available = false
	batteries := []port.BatteryHandle{online, offline}

	state := m.Manage(sunday(8), domain.WeeklyChargeState{}, batteries)

	// only batteries with live data count toward completion
	assert.True(t, state.Complete)
}

func TestWeeklyRestoreDiscardsStaleState(t *testing.T) {
	m := newTestWeekly(&memStore{})
	sun := time.Sunday
	mon := time.Monday

	fresh := m.Restore(&domain.WeeklyChargeState{
		Complete:            true,
		CompletionWeekday:   &sun,
		LastObservedWeekday: &sun,
	})
	assert.True(t, fresh.Complete)

	// completion recorded on a different weekday than configured
	stale := m.Restore(&domain.WeeklyChargeState{
		Complete:            true,
		CompletionWeekday:   &mon,
		LastObservedWeekday: &mon,
	})
	assert.False(t, stale.Complete)

	// last observed weekday moved past the completion day
	stale = m.Restore(&domain.WeeklyChargeState{
		Complete:            true,
		CompletionWeekday:   &sun,
		LastObservedWeekday: &mon,
	})
	assert.False(t, stale.Complete)

	assert.Equal(t, domain.WeeklyChargeState{}, m.Restore(nil))
}

func TestWeeklyDisabledRestoresRegisters(t *testing.T) {
	m := newTestWeekly(&memStore{})
	m.Enabled = false
	b := newFakeBattery("bat1", 80)

	state := m.Manage(sunday(8), domain.WeeklyChargeState{RegistersWritten: true}, []port.BatteryHandle{b})

	assert.False(t, state.RegistersWritten)
	assert.Equal(t, []float64{b.Limits().MaxSOC}, b.cutoffs)
}
