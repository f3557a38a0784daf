package venus_modbus

import "fmt"

func CreateTestBatteryModbusClient(name string, version string) *TestBatteryModbusClient {
	return &TestBatteryModbusClient{
		info: BatteryInfo{
			Name:    name,
			Host:    "127.0.0.1",
			Version: version,
		},
		registers: registerMaps[version],
		Telemetry: BatteryTelemetry{
			StateOfCharge:           55,
			StoredEnergyKwh:         2.816,
			TotalCapacityKwh:        5.12,
			BatteryPowerWatt:        0,
			DailyDischargeEnergyKwh: 1.2,
		},
	}
}

// TestBatteryModbusClient keeps written register values in memory and
// serves them back on feedback reads, so write-verify round trips can be
// exercised without a transport. DropWrites makes the next N power/mode
// writes silently not stick.
type TestBatteryModbusClient struct {
	info      BatteryInfo
	registers registerMap

	Telemetry      BatteryTelemetry
	ForceMode      uint16
	ChargePower    uint16
	DischargePower uint16
	ControlEnabled bool
	CutoffMaxSOC   float64
	CutoffMinSOC   float64

	DropWrites int
	FailReads  bool
	WriteCount int
}

func (c *TestBatteryModbusClient) Open() error  { return nil }
func (c *TestBatteryModbusClient) Close() error { return nil }

func (c *TestBatteryModbusClient) Info() BatteryInfo {
	return c.info
}

func (c *TestBatteryModbusClient) EnableControl() error {
	c.ControlEnabled = true
	c.ForceMode = ForceModeNone
	c.ChargePower = 0
	c.DischargePower = 0
	return nil
}

func (c *TestBatteryModbusClient) DisableControl() error {
	c.ControlEnabled = false
	c.ForceMode = ForceModeNone
	c.ChargePower = 0
	c.DischargePower = 0
	return nil
}

func (c *TestBatteryModbusClient) GetTelemetry() (*BatteryTelemetry, error) {
	if c.FailReads {
		return nil, fmt.Errorf("telemetry read failed: %s", c.info.Name)
	}
	t := c.Telemetry
	return &t, nil
}

func (c *TestBatteryModbusClient) ReadPowerFeedback() (*PowerFeedback, error) {
	if c.FailReads {
		return nil, fmt.Errorf("feedback read failed: %s", c.info.Name)
	}
	return &PowerFeedback{
		ForceMode:             c.ForceMode,
		SetChargePowerWatt:    c.ChargePower,
		SetDischargePowerWatt: c.DischargePower,
		BatteryPowerWatt:      c.Telemetry.BatteryPowerWatt,
	}, nil
}

func (c *TestBatteryModbusClient) dropWrite() bool {
	c.WriteCount++
	if c.DropWrites > 0 {
		c.DropWrites--
		return true
	}
	return false
}

func (c *TestBatteryModbusClient) WriteChargePower(watt uint16) error {
	if !c.dropWrite() {
		c.ChargePower = watt
	}
	return nil
}

func (c *TestBatteryModbusClient) WriteDischargePower(watt uint16) error {
	if !c.dropWrite() {
		c.DischargePower = watt
	}
	return nil
}

func (c *TestBatteryModbusClient) WriteForceMode(mode uint16) error {
	if !c.dropWrite() {
		c.ForceMode = mode
	}
	return nil
}

func (c *TestBatteryModbusClient) WriteSOCCutoffs(maxSOC float64, minSOC float64) error {
	if !c.HasRegister(RegChargingCutoffCapacity) {
		return fmt.Errorf("%w: %s", ErrRegisterUnsupported, RegChargingCutoffCapacity)
	}
	c.CutoffMaxSOC = maxSOC
	c.CutoffMinSOC = minSOC
	return nil
}

func (c *TestBatteryModbusClient) HasRegister(name string) bool {
	_, ok := c.registers[name]
	return ok
}
