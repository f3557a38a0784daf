package config

import (
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level
	MQTT     MQTTConfig `mapstructure:"mqtt"`

	Batteries    []BatteryConfig    `mapstructure:"batteries"`
	Control      ControlConfig      `mapstructure:"control"`
	Predictive   PredictiveConfig   `mapstructure:"predictive"`
	WeeklyCharge WeeklyChargeConfig `mapstructure:"weekly_charge"`
	TimeSlots    []TimeSlotConfig   `mapstructure:"time_slots"`
	Sensors      SensorConfig       `mapstructure:"sensors"`
	StateDir     string             `mapstructure:"state_dir"`
	Port         uint               `mapstructure:"port"`
	HttpLog      bool               `mapstructure:"http_log"`
}

type BatteryConfig struct {
	Name                  string
	Host                  string
	Port                  uint
	Version               string
	MaxChargePowerWatt    uint32  `mapstructure:"max_charge_power"`
	MaxDischargePowerWatt uint32  `mapstructure:"max_discharge_power"`
	MinSOC                float64 `mapstructure:"min_soc"`
	MaxSOC                float64 `mapstructure:"max_soc"`
	HysteresisEnabled     bool    `mapstructure:"hysteresis_enabled"`
	HysteresisPct         float64 `mapstructure:"hysteresis_pct"`
}

type ControlConfig struct {
	IntervalMillis          uint32  `mapstructure:"interval_millis"`
	TelemetryPollMillis     uint32  `mapstructure:"telemetry_poll_millis"`
	Kp                      float64 `mapstructure:"kp"`
	Ki                      float64 `mapstructure:"ki"`
	Kd                      float64 `mapstructure:"kd"`
	IntegralDecay           float64 `mapstructure:"integral_decay"`
	DeadbandWatt            float64 `mapstructure:"deadband"`
	MaxPowerChangeWatt      float64 `mapstructure:"max_power_change"`
	DirectionHysteresisWatt float64 `mapstructure:"direction_hysteresis"`
	AllocationStepWatt      float64 `mapstructure:"allocation_step"`
	OscillationThreshold    int     `mapstructure:"oscillation_threshold"`
	SensorHistorySize       int     `mapstructure:"sensor_history_size"`
}

type PredictiveConfig struct {
	Enabled                   bool
	ContractedPowerWatt       float64 `mapstructure:"contracted_power"`
	DefaultBaseConsumptionKwh float64 `mapstructure:"default_base_consumption_kwh"`
	MinCredibleConsumptionKwh float64 `mapstructure:"min_credible_consumption_kwh"`
	SOCReevaluationThreshold  float64 `mapstructure:"soc_reevaluation_threshold"`
	HistoryDays               int     `mapstructure:"history_days"`
}

type WeeklyChargeConfig struct {
	Enabled bool
	Weekday string
}

// TimeSlotConfig times are "HH:MM". Start > End means the slot wraps past
// midnight; the slot belongs to its start day.
type TimeSlotConfig struct {
	Start           string
	End             string
	Days            []string
	AppliesToCharge bool `mapstructure:"applies_to_charge"`
}

type SensorConfig struct {
	GridPowerTopic     string                 `mapstructure:"grid_power_topic"`
	SolarForecastTopic string                 `mapstructure:"solar_forecast_topic"`
	ExcludedDevices    []ExcludedDeviceConfig `mapstructure:"excluded_devices"`
}

// ExcludedDeviceConfig names a load the batteries must not cover.
// Additional marks a device the grid sensor does not measure: its draw
// is added to the demand the batteries see instead of removed from it.
type ExcludedDeviceConfig struct {
	PowerTopic string `mapstructure:"power_topic"`
	Additional bool   `mapstructure:"additional"`
}

type MQTTConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	BaseTopic string `mapstructure:"base_topic"`
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
