package service

import (
	"time"

	"venuszero/internal/config"
	"venuszero/internal/core/port"

	"go.uber.org/zap"
)

// NewControllerFromConfig wires the full control stack from the parsed
// configuration. The returned history is shared with the controller's
// predictive evaluator so the daily capture job can feed it.
func NewControllerFromConfig(cfg *config.Config, batteries []port.BatteryHandle,
	sensors port.SensorReader, notifier port.Notifier, store port.StateStore,
	logger *zap.Logger) (*Controller, *ConsumptionHistory, error) {

	slots, err := ParseTimeSlots(cfg.TimeSlots)
	if err != nil {
		return nil, nil, err
	}

	targetWeekday := time.Sunday
	if cfg.WeeklyCharge.Weekday != "" {
		targetWeekday, err = ParseWeekday(cfg.WeeklyCharge.Weekday)
		if err != nil {
			return nil, nil, err
		}
	}

	history := &ConsumptionHistory{
		MaxDays:        cfg.Predictive.HistoryDays,
		MinCredibleKwh: cfg.Predictive.MinCredibleConsumptionKwh,
		DefaultKwh:     cfg.Predictive.DefaultBaseConsumptionKwh,
		Store:          store,
		Logger:         logger,
	}

	controller := &Controller{
		Batteries: batteries,
		Sensors:   sensors,
		Notifier:  notifier,
		PD: &PDController{
			Kp:                      cfg.Control.Kp,
			Ki:                      cfg.Control.Ki,
			Kd:                      cfg.Control.Kd,
			IntegralDecay:           cfg.Control.IntegralDecay,
			DeadbandWatt:            cfg.Control.DeadbandWatt,
			MaxPowerChangeWatt:      cfg.Control.MaxPowerChangeWatt,
			DirectionHysteresisWatt: cfg.Control.DirectionHysteresisWatt,
			OscillationThreshold:    cfg.Control.OscillationThreshold,
			DtSeconds:               float64(cfg.Control.IntervalMillis) / 1000.0,
			Logger:                  logger,
		},
		Allocator: &PowerAllocator{
			StepWatt: cfg.Control.AllocationStepWatt,
			Logger:   logger,
		},
		Windows: &TimeWindowEvaluator{Slots: slots},
		Predictive: &PredictiveEvaluator{
			History: history,
			Sensors: sensors,
			Logger:  logger,
		},
		Weekly: &WeeklyChargeManager{
			Enabled:       cfg.WeeklyCharge.Enabled,
			TargetWeekday: targetWeekday,
			Store:         store,
			Logger:        logger,
		},
		Logger:                   logger,
		PredictiveEnabled:        cfg.Predictive.Enabled,
		ContractedPowerWatt:      cfg.Predictive.ContractedPowerWatt,
		SOCReevaluationThreshold: cfg.Predictive.SOCReevaluationThreshold,
		SensorHistorySize:        cfg.Control.SensorHistorySize,
	}

	return controller, history, nil
}
