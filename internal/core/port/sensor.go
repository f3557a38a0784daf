package port

// SensorReader serves the latest cached value of each external sensor.
// A false second return means the sensor is unavailable and the caller
// must fall back to its conservative default.
type SensorReader interface {
	GridPowerWatt() (float64, bool)
	SolarForecastKwh() (float64, bool)
	// ExcludedDevicesPowerWatt is the summed draw of devices whose
	// consumption the controller must not try to compensate.
	ExcludedDevicesPowerWatt() float64
}

// Notifier raises and clears persistent user-facing notifications keyed
// by a stable id.
type Notifier interface {
	Notify(id string, title string, message string)
	ClearNotification(id string)
}
