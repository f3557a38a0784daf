package domain

import "time"

// Power sign convention: positive watts discharge the battery (cover grid
// import), negative watts charge it (absorb grid export).

type BatteryLimits struct {
	MaxChargePowerWatt    float64
	MaxDischargePowerWatt float64
	MinSOC                float64
	MaxSOC                float64
	HysteresisEnabled     bool
	HysteresisPct         float64
}

// BatteryRuntimeState is the latest telemetry snapshot for one battery.
// It is refreshed by the telemetry poller independently of the control
// tick; the controller only reads it.
type BatteryRuntimeState struct {
	Name                    string
	SOC                     float64
	PowerWatt               float64
	StoredEnergyKwh         float64
	TotalCapacityKwh        float64
	DailyDischargeEnergyKwh float64
	LastUpdate              time.Time
	Available               bool
	HysteresisActive        bool
}

// WeeklyChargeState is persisted across restarts. A restored state only
// counts if the completion weekday still matches the configured target,
// otherwise it is stale and discarded.
type WeeklyChargeState struct {
	Complete            bool          `json:"complete"`
	RegistersWritten    bool          `json:"registers_written"`
	CompletionWeekday   *time.Weekday `json:"completion_weekday,omitempty"`
	LastObservedWeekday *time.Weekday `json:"last_observed_weekday,omitempty"`
}

// ConsumptionSample is one day of net household consumption.
type ConsumptionSample struct {
	Date string  `json:"date"`
	Kwh  float64 `json:"kwh"`
}

// TimeSlot is a charge or discharge permission window. The slot belongs
// to its start day; StartMinute > EndMinute means it wraps past midnight
// into the following day.
type TimeSlot struct {
	StartMinute     int
	EndMinute       int
	Days            map[time.Weekday]bool
	AppliesToCharge bool
}

// Contains reports whether the given weekday and minute-of-day fall
// inside the slot, wrap-aware with inclusive bounds.
func (s TimeSlot) Contains(day time.Weekday, minute int) bool {
	if s.StartMinute <= s.EndMinute {
		return s.Days[day] && minute >= s.StartMinute && minute <= s.EndMinute
	}
	// wrapped slot: the part after midnight belongs to the start day
	if s.Days[day] && minute >= s.StartMinute {
		return true
	}
	prev := (day + 6) % 7
	return s.Days[prev] && minute <= s.EndMinute
}

// PredictiveDecision is the decomposed result of one energy-balance
// evaluation. Recomputed on demand, never persisted.
type PredictiveDecision struct {
	ShouldCharge       bool     `json:"should_charge"`
	SolarForecastKwh   *float64 `json:"solar_forecast_kwh,omitempty"`
	StoredEnergyKwh    float64  `json:"stored_energy_kwh"`
	UsableEnergyKwh    float64  `json:"usable_energy_kwh"`
	CutoffEnergyKwh    float64  `json:"cutoff_energy_kwh"`
	AvgSOC             float64  `json:"avg_soc"`
	AvgConsumptionKwh  float64  `json:"avg_consumption_kwh"`
	TotalAvailableKwh  float64  `json:"total_available_kwh"`
	EnergyDeficitKwh   float64  `json:"energy_deficit_kwh"`
	DaysInHistory      int      `json:"days_in_history"`
	Reason             string   `json:"reason"`
	EvaluatedAtSOC     float64  `json:"evaluated_at_soc"`
}

// ControllerState is the single mutable state of the orchestrator. It is
// owned by the control actor and passed through the tick explicitly.
type ControllerState struct {
	Initialized       bool
	PreviousPowerWatt float64
	PreviousErrorWatt float64
	IntegralWatt      float64
	LastErrorSign     int
	LastOutputSign    int
	SignFlipCount     int
	SensorHistory     []float64

	ManualOverride        bool
	PredictiveOverride    bool
	PreEvaluated          bool
	CachedDecision        *PredictiveDecision
	InSlot                bool
	SlotChargeInitialized bool
	NotificationActive    bool

	Weekly WeeklyChargeState
}

// ResetTransients clears the PD feedback memory so the next tick runs
// the first-tick bootstrap. Used on manual reset only.
func (s *ControllerState) ResetTransients() {
	s.Initialized = false
	s.PreviousPowerWatt = 0
	s.PreviousErrorWatt = 0
	s.IntegralWatt = 0
	s.LastErrorSign = 0
	s.LastOutputSign = 0
	s.SignFlipCount = 0
	s.SensorHistory = nil
	s.SlotChargeInitialized = false
}

// DampFeedback clears the accumulated correction terms but keeps the
// last power command, so a mode switch ramps from the standing command
// instead of re-bootstrapping.
func (s *ControllerState) DampFeedback() {
	s.IntegralWatt = 0
	s.PreviousErrorWatt = 0
	s.SignFlipCount = 0
}

// ControlMode names which branch of the orchestrator produced the last
// power command.
type ControlMode string

const (
	ControlModeManualOverride ControlMode = "manual_override"
	ControlModePredictive     ControlMode = "predictive_charging"
	ControlModeNormal         ControlMode = "pd_control"
	ControlModeIdle           ControlMode = "idle"
	ControlModeRestricted     ControlMode = "time_restricted"
)
