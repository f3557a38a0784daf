package service

import (
	"math"

	"go.uber.org/zap"
)

// BatteryShare is one battery's capacity in the direction being
// allocated (always positive).
type BatteryShare struct {
	Name      string
	LimitWatt float64
}

// PowerAllocator splits an unsigned power request across batteries in
// proportion to their limits, with saturation redistribution: a battery
// whose proportional share would exceed its limit is pinned there and
// the overflow is re-split among the rest.
type PowerAllocator struct {
	StepWatt float64
	Logger   *zap.Logger
}

// Allocate guarantees sum(result) == min(requested, sum(limits)) up to
// rounding granularity and result[b] <= limit[b] for every battery.
func (a *PowerAllocator) Allocate(totalWatt float64, batteries []BatteryShare) map[string]float64 {
	result := make(map[string]float64, len(batteries))
	for _, b := range batteries {
		result[b.Name] = 0
	}
	if totalWatt <= 0 || len(batteries) == 0 {
		return result
	}

	var totalLimit float64
	for _, b := range batteries {
		totalLimit += b.LimitWatt
	}
	remaining := math.Min(totalWatt, totalLimit)

	pool := make([]BatteryShare, 0, len(batteries))
	for _, b := range batteries {
		if b.LimitWatt > 0 {
			pool = append(pool, b)
		}
	}

	for remaining > 0 && len(pool) > 0 {
		var poolLimit float64
		for _, b := range pool {
			poolLimit += b.LimitWatt
		}

		saturated := false
		next := pool[:0]
		for _, b := range pool {
			share := remaining * b.LimitWatt / poolLimit
			if share >= b.LimitWatt {
				result[b.Name] = math.Min(b.LimitWatt, a.round(b.LimitWatt))
				saturated = true
			} else {
				next = append(next, b)
			}
		}
		if saturated {
			var assigned float64
			for _, v := range result {
				assigned += v
			}
			remaining = math.Min(totalWatt, totalLimit) - assigned
			pool = next
			continue
		}

		// no battery saturates: everyone takes its exact share
		for _, b := range pool {
			result[b.Name] = a.round(remaining * b.LimitWatt / poolLimit)
		}
		remaining = 0
	}

	return result
}

func (a *PowerAllocator) round(watt float64) float64 {
	if a.StepWatt <= 0 {
		return watt
	}
	return math.Round(watt/a.StepWatt) * a.StepWatt
}
