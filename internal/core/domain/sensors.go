package domain

import "fmt"

const (
	SWITCH_ID_MANUAL_OVERRIDE     = "manual_override"
	SWITCH_ID_PREDICTIVE_OVERRIDE = "predictive_override"
	BUTTON_ID_CONTROLLER_RESET    = "controller_reset"

	SENSOR_ID_CONTROL_MODE      = "control_mode"
	SENSOR_ID_TARGET_POWER      = "target_power"
	SENSOR_ID_GRID_CHARGE_STATE = "grid_charge_decision"

	BINARY_SENSOR_ID_WEEKLY_CHARGE = "weekly_charge_active"
	BINARY_SENSOR_ID_IN_SLOT       = "restricted_slot_active"
)

func BatterySOCSensorId(battery string) string {
	return fmt.Sprintf("%s_soc", battery)
}

func BatteryPowerSensorId(battery string) string {
	return fmt.Sprintf("%s_power", battery)
}

func BatteryMaxSOCInputId(battery string) string {
	return fmt.Sprintf("%s_max_soc", battery)
}

func BatteryMinSOCInputId(battery string) string {
	return fmt.Sprintf("%s_min_soc", battery)
}
