package service

import (
	"errors"
	"fmt"
	"math"

	"venuszero/internal/core/domain"
	"venuszero/internal/core/port"

	"go.uber.org/zap"
)

var ErrNoBatteryCapacity = errors.New("no battery reported a usable capacity")

// PredictiveEvaluator decides whether grid charging should run ahead of
// the cheap window: stored plus forecast solar energy is weighed against
// the forecast consumption, and any deficit triggers a charge.
type PredictiveEvaluator struct {
	History *ConsumptionHistory
	Sensors port.SensorReader
	Logger  *zap.Logger
}

// Evaluate computes the full decomposed energy balance. limits supplies
// the configured SOC floors; the highest floor wins (conservative).
// Batteries without live telemetry are excluded from the averages.
func (e *PredictiveEvaluator) Evaluate(batteries []domain.BatteryRuntimeState,
	limits map[string]domain.BatteryLimits) (*domain.PredictiveDecision, error) {

	var totalCapacity, socSum, minSOC float64
	live := 0
	for _, b := range batteries {
		if !b.Available {
			continue
		}
		totalCapacity += b.TotalCapacityKwh
		socSum += b.SOC
		if l, ok := limits[b.Name]; ok && l.MinSOC > minSOC {
			minSOC = l.MinSOC
		}
		live++
	}
	if live == 0 || totalCapacity <= 0 {
		return nil, ErrNoBatteryCapacity
	}
	avgSOC := socSum / float64(live)

	storedEnergy := avgSOC / 100 * totalCapacity
	cutoffEnergy := minSOC / 100 * totalCapacity
	usableEnergy := math.Max(0, storedEnergy-cutoffEnergy)

	var solarForecast *float64
	forecastKwh := 0.0
	if v, ok := e.Sensors.SolarForecastKwh(); ok && v >= 0 {
		solarForecast = &v
		forecastKwh = v
	}

	avgConsumption := e.History.Average()
	totalAvailable := usableEnergy + forecastKwh
	// reported raw: a negative deficit is the surplus margin
	deficit := avgConsumption - totalAvailable
	shouldCharge := deficit > 0

	decision := &domain.PredictiveDecision{
		ShouldCharge:      shouldCharge,
		SolarForecastKwh:  solarForecast,
		StoredEnergyKwh:   storedEnergy,
		UsableEnergyKwh:   usableEnergy,
		CutoffEnergyKwh:   cutoffEnergy,
		AvgSOC:            avgSOC,
		AvgConsumptionKwh: avgConsumption,
		TotalAvailableKwh: totalAvailable,
		EnergyDeficitKwh:  deficit,
		DaysInHistory:     len(e.History.Samples()),
		Reason:            decisionReason(shouldCharge, deficit, totalAvailable, avgConsumption, solarForecast),
		EvaluatedAtSOC:    avgSOC,
	}

	e.Logger.Info("predictive: energy balance evaluated",
		zap.Bool("should_charge", decision.ShouldCharge),
		zap.Float64("usable_kwh", decision.UsableEnergyKwh),
		zap.Float64("forecast_kwh", forecastKwh),
		zap.Float64("avg_consumption_kwh", decision.AvgConsumptionKwh),
		zap.Float64("deficit_kwh", decision.EnergyDeficitKwh))

	return decision, nil
}

func decisionReason(shouldCharge bool, deficit, available, consumption float64, solar *float64) string {
	solarPart := "no solar forecast available, assuming 0.00 kWh"
	if solar != nil {
		solarPart = fmt.Sprintf("solar forecast %.2f kWh", *solar)
	}
	if shouldCharge {
		return fmt.Sprintf("energy deficit of %.2f kWh: %.2f kWh available (%s) against %.2f kWh expected consumption",
			deficit, available, solarPart, consumption)
	}
	return fmt.Sprintf("energy sufficient: %.2f kWh available (%s) against %.2f kWh expected consumption",
		available, solarPart, consumption)
}
