package port

import (
	"venuszero/internal/core/domain"
)

// StateStore persists controller state across restarts. Saves happen
// fire-and-forget from the tick but must land before shutdown.
type StateStore interface {
	LoadHistory() ([]domain.ConsumptionSample, error)
	SaveHistory(samples []domain.ConsumptionSample) error
	LoadWeeklyState() (*domain.WeeklyChargeState, error)
	SaveWeeklyState(state domain.WeeklyChargeState) error
}
