package util

import (
	"venuszero/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		MQTT: config.MQTTConfig{
			Host:      "localhost",
			Port:      1883,
			BaseTopic: "venuszero",
		},
		Batteries: []config.BatteryConfig{
			{
				Name:                  "bat1",
				Host:                  "-.-.-.-",
				Port:                  502,
				Version:               "v2",
				MaxChargePowerWatt:    2500,
				MaxDischargePowerWatt: 800,
				MinSOC:                10,
				MaxSOC:                95,
				HysteresisEnabled:     true,
				HysteresisPct:         5,
			},
		},
		Control: config.ControlConfig{
			IntervalMillis:          2000,
			TelemetryPollMillis:     1500,
			Kp:                      0.65,
			Kd:                      0.5,
			IntegralDecay:           0.9,
			DeadbandWatt:            40,
			MaxPowerChangeWatt:      800,
			DirectionHysteresisWatt: 60,
			AllocationStepWatt:      5,
			OscillationThreshold:    3,
			SensorHistorySize:       2,
		},
		Predictive: config.PredictiveConfig{
			Enabled:                   true,
			ContractedPowerWatt:       4600,
			DefaultBaseConsumptionKwh: 5.0,
			MinCredibleConsumptionKwh: 1.5,
			SOCReevaluationThreshold:  30,
			HistoryDays:               7,
		},
		WeeklyCharge: config.WeeklyChargeConfig{
			Enabled: true,
			Weekday: "sunday",
		},
		Sensors: config.SensorConfig{
			GridPowerTopic: "grid/power",
		},
		StateDir: "/tmp/venuszero-test",
		Port:     8080,
	}
}
