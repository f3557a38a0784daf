package service

import (
	"sort"
	"sync"
	"time"

	"venuszero/internal/core/domain"
	"venuszero/internal/core/port"

	"go.uber.org/zap"
)

const historyDateLayout = "2006-01-02"

// ConsumptionHistory holds the rolling per-day consumption record the
// predictive evaluator forecasts from. Mutations persist through the
// store; reads serve the in-memory copy.
type ConsumptionHistory struct {
	MaxDays        int
	MinCredibleKwh float64
	DefaultKwh     float64
	Store          port.StateStore
	Logger         *zap.Logger

	mu      sync.Mutex
	samples []domain.ConsumptionSample
}

// Load restores the persisted history as-is; the next mutation prunes
// entries that fell out of the retention window while the service was
// down.
func (h *ConsumptionHistory) Load() error {
	samples, err := h.Store.LoadHistory()
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.samples = sortedByDate(samples)
	h.mu.Unlock()
	return nil
}

func (h *ConsumptionHistory) Samples() []domain.ConsumptionSample {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.ConsumptionSample, len(h.samples))
	copy(out, h.samples)
	return out
}

// Average is the mean of the retained days, falling back to the
// configured base consumption when the history is empty or degenerate.
func (h *ConsumptionHistory) Average() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.samples) == 0 {
		return h.DefaultKwh
	}
	var sum float64
	for _, s := range h.samples {
		sum += s.Kwh
	}
	avg := sum / float64(len(h.samples))
	if avg <= 0 {
		return h.DefaultKwh
	}
	return avg
}

// CaptureDaily appends or replaces the entry for the given day. Values
// under the credibility threshold are skipped, a stuck or freshly reset
// counter must not pollute the forecast.
func (h *ConsumptionHistory) CaptureDaily(day time.Time, kwh float64) error {
	if kwh < h.MinCredibleKwh {
		h.Logger.Warn("history: skipping daily capture below credibility threshold",
			zap.Float64("kwh", kwh), zap.Float64("threshold", h.MinCredibleKwh))
		return nil
	}
	date := day.Format(historyDateLayout)

	h.mu.Lock()
	replaced := false
	for i := range h.samples {
		if h.samples[i].Date == date {
			h.samples[i].Kwh = kwh
			replaced = true
			break
		}
	}
	if !replaced {
		h.samples = append(h.samples, domain.ConsumptionSample{Date: date, Kwh: kwh})
	}
	h.samples = h.pruned(day, h.samples)
	snapshot := make([]domain.ConsumptionSample, len(h.samples))
	copy(snapshot, h.samples)
	h.mu.Unlock()

	h.Logger.Info("history: captured daily consumption",
		zap.String("date", date), zap.Float64("kwh", kwh), zap.Int("days", len(snapshot)))
	return h.Store.SaveHistory(snapshot)
}

// SeedDefaults fills the trailing MaxDays window, today included, with
// the base consumption placeholder so a fresh install can forecast from
// day one. Today's placeholder is corrected by Backfill once telemetry
// is in.
func (h *ConsumptionHistory) SeedDefaults(now time.Time) error {
	h.mu.Lock()
	have := make(map[string]bool, len(h.samples))
	for _, s := range h.samples {
		have[s.Date] = true
	}
	added := false
	// the window runs from MaxDays-1 days back through today
	for i := h.MaxDays - 1; i >= 0; i-- {
		date := now.AddDate(0, 0, -i).Format(historyDateLayout)
		if !have[date] {
			h.samples = append(h.samples, domain.ConsumptionSample{Date: date, Kwh: h.DefaultKwh})
			added = true
		}
	}
	h.samples = h.pruned(now, h.samples)
	snapshot := make([]domain.ConsumptionSample, len(h.samples))
	copy(snapshot, h.samples)
	h.mu.Unlock()

	if !added {
		return nil
	}
	h.Logger.Info("history: seeded default consumption entries", zap.Int("days", len(snapshot)))
	return h.Store.SaveHistory(snapshot)
}

// Backfill replaces placeholder entries with real values recovered per
// day, subject to the same credibility threshold.
func (h *ConsumptionHistory) Backfill(lookup func(date string) (float64, bool)) error {
	h.mu.Lock()
	changed := false
	for i := range h.samples {
		if h.samples[i].Kwh != h.DefaultKwh {
			continue
		}
		if kwh, ok := lookup(h.samples[i].Date); ok && kwh >= h.MinCredibleKwh {
			h.samples[i].Kwh = kwh
			changed = true
		}
	}
	snapshot := make([]domain.ConsumptionSample, len(h.samples))
	copy(snapshot, h.samples)
	h.mu.Unlock()

	if !changed {
		return nil
	}
	h.Logger.Info("history: backfilled placeholder entries")
	return h.Store.SaveHistory(snapshot)
}

// pruned sorts by date ascending and drops entries older than MaxDays
// before the reference day. The cutoff is a calendar comparison: a gap
// in captures must not keep stale days alive.
func (h *ConsumptionHistory) pruned(reference time.Time, samples []domain.ConsumptionSample) []domain.ConsumptionSample {
	sorted := sortedByDate(samples)
	if h.MaxDays <= 0 {
		return sorted
	}
	cutoff := reference.AddDate(0, 0, -h.MaxDays).Format(historyDateLayout)
	kept := sorted[:0]
	for _, s := range sorted {
		if s.Date > cutoff {
			kept = append(kept, s)
		}
	}
	return kept
}

func sortedByDate(samples []domain.ConsumptionSample) []domain.ConsumptionSample {
	sorted := make([]domain.ConsumptionSample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Date < sorted[j].Date
	})
	return sorted
}
