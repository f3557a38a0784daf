package venus_modbus

import "fmt"

// battery firmware generations
const (
	VersionV2 = "v2"
	VersionV3 = "v3"
)

// force mode register values
const (
	ForceModeNone      = 0
	ForceModeCharge    = 1
	ForceModeDischarge = 2
)

// value written to the RS485 control register to take over the battery's
// internal work mode
const RS485ControlMagic = 0x55AA

// logical register names
const (
	RegRS485Control            = "rs485_control"
	RegForceMode               = "force_mode"
	RegSetChargePower          = "set_charge_power"
	RegSetDischargePower       = "set_discharge_power"
	RegChargingCutoffCapacity  = "charging_cutoff_capacity"
	RegDischargingCutoffCap    = "discharging_cutoff_capacity"
	RegMaxChargePower          = "max_charge_power"
	RegMaxDischargePower       = "max_discharge_power"
	RegBatterySOC              = "battery_soc"
	RegBatteryPower            = "battery_power"
	RegBatteryTotalEnergy      = "battery_total_energy"
	RegDailyDischargingEnergy  = "total_daily_discharging_energy"
	RegUserWorkMode            = "user_work_mode"
)

// cutoff registers hold SOC percent in 0.1% steps
const SOCRegisterScale = 0.1

// BatteryModbusClient is the register-level surface of a single Venus
// battery. All calls on one client are serialized internally, so two
// goroutines never interleave messages on the same transport.
type BatteryModbusClient interface {
	Open() error
	Close() error
	Info() BatteryInfo
	// EnableControl writes the RS485 takeover magic and zeroes the power
	// command registers.
	EnableControl() error
	// DisableControl zeroes the power command registers and releases the
	// RS485 takeover so the battery resumes its internal work mode.
	DisableControl() error
	GetTelemetry() (*BatteryTelemetry, error)
	ReadPowerFeedback() (*PowerFeedback, error)
	WriteChargePower(watt uint16) error
	WriteDischargePower(watt uint16) error
	WriteForceMode(mode uint16) error
	// WriteSOCCutoffs writes the hardware charge/discharge SOC limits.
	// Returns ErrRegisterUnsupported when the battery variant has no
	// cutoff registers.
	WriteSOCCutoffs(maxSOC float64, minSOC float64) error
	HasRegister(name string) bool
}

type BatteryInfo struct {
	Name    string
	Host    string
	Version string
}

type BatteryTelemetry struct {
	StateOfCharge           float64
	StoredEnergyKwh         float64
	TotalCapacityKwh        float64
	BatteryPowerWatt        float64
	DailyDischargeEnergyKwh float64
}

type PowerFeedback struct {
	ForceMode             uint16
	SetChargePowerWatt    uint16
	SetDischargePowerWatt uint16
	BatteryPowerWatt      float64
}

// registerMap holds per-version register addresses. A missing entry means
// the battery variant does not expose that register (software enforcement
// only).
type registerMap map[string]uint16

var registerMaps = map[string]registerMap{
	VersionV2: {
		RegRS485Control:           42000,
		RegForceMode:              42010,
		RegSetChargePower:         42020,
		RegSetDischargePower:      42021,
		RegChargingCutoffCapacity: 44000,
		RegDischargingCutoffCap:   44001,
		RegMaxChargePower:         44002,
		RegMaxDischargePower:      44003,
		RegBatterySOC:             32104,
		RegBatteryPower:           32102,
		RegBatteryTotalEnergy:     32105,
		RegDailyDischargingEnergy: 33006,
	},
	VersionV3: {
		RegRS485Control:           42000,
		RegForceMode:              42010,
		RegSetChargePower:         42020,
		RegSetDischargePower:      42021,
		// no hardware cutoff registers on v3
		RegMaxChargePower:         44002,
		RegMaxDischargePower:      44003,
		RegBatterySOC:             37005,
		RegBatteryPower:           30001,
		RegBatteryTotalEnergy:     37007,
		RegDailyDischargingEnergy: 33006,
		RegUserWorkMode:           43000,
	},
}

// minimum delay between modbus messages, per firmware generation
var messageWaitMillis = map[string]uint{
	VersionV2: 50,
	VersionV3: 150,
}

func SupportedVersion(version string) bool {
	_, ok := registerMaps[version]
	return ok
}

func forceModeToString(mode uint16) string {
	switch mode {
	case ForceModeNone:
		return "none"
	case ForceModeCharge:
		return "charge"
	case ForceModeDischarge:
		return "discharge"
	default:
		return fmt.Sprintf("unknown(%d)", mode)
	}
}
