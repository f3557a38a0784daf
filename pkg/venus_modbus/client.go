package venus_modbus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

var ErrRegisterUnsupported = errors.New("register not supported by this battery variant")

type venusModbusClient struct {
	ModbusClient
	mu        sync.Mutex
	info      BatteryInfo
	registers registerMap
	msgWait   time.Duration
	lastMsg   time.Time
}

func CreateVenusModbusClient(name string, host string, port uint, version string, timeout time.Duration,
	logger *zap.Logger, instrumentation *ModbusInstrument) (BatteryModbusClient, error) {
	regs, ok := registerMaps[version]
	if !ok {
		return nil, fmt.Errorf("unsupported battery version %q", version)
	}
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", host, port),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	// instrumentation
	var inst []ModbusInstrument
	logInst := traceLoggerInstrumentation(logger.With(zap.String("battery", name)))
	if logInst != nil {
		inst = append(inst, *logInst)
	}
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}

	return &venusModbusClient{
		ModbusClient: ModbusClient{
			client:     client,
			instrument: inst,
		},
		info: BatteryInfo{
			Name:    name,
			Host:    host,
			Version: version,
		},
		registers: regs,
		msgWait:   time.Duration(messageWaitMillis[version]) * time.Millisecond,
	}, nil
}

func (c *venusModbusClient) Open() error {
	return c.client.Open()
}

func (c *venusModbusClient) Close() error {
	return c.client.Close()
}

func (c *venusModbusClient) Info() BatteryInfo {
	return c.info
}

// pace enforces the per-firmware minimum gap between modbus messages.
// The battery drops frames that arrive too close together.
func (c *venusModbusClient) pace() {
	elapsed := time.Since(c.lastMsg)
	if elapsed < c.msgWait {
		time.Sleep(c.msgWait - elapsed)
	}
	c.lastMsg = time.Now()
}

func (c *venusModbusClient) readNamedRegister(name string) (uint16, error) {
	addr, ok := c.registers[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrRegisterUnsupported, name)
	}
	c.pace()
	return c.readRegister(addr, modbus.HOLDING_REGISTER)
}

func (c *venusModbusClient) readNamedUint32(name string) (uint32, error) {
	addr, ok := c.registers[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrRegisterUnsupported, name)
	}
	c.pace()
	return c.readUint32(addr, modbus.HOLDING_REGISTER)
}

func (c *venusModbusClient) writeNamedRegister(name string, value uint16) error {
	addr, ok := c.registers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRegisterUnsupported, name)
	}
	c.pace()
	return c.writeRegister(addr, value)
}

func (c *venusModbusClient) EnableControl() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeNamedRegister(RegRS485Control, RS485ControlMagic); err != nil {
		return err
	}
	if err := c.writeNamedRegister(RegForceMode, ForceModeNone); err != nil {
		return err
	}
	if err := c.writeNamedRegister(RegSetChargePower, 0); err != nil {
		return err
	}
	return c.writeNamedRegister(RegSetDischargePower, 0)
}

func (c *venusModbusClient) DisableControl() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeNamedRegister(RegSetChargePower, 0); err != nil {
		return err
	}
	if err := c.writeNamedRegister(RegSetDischargePower, 0); err != nil {
		return err
	}
	if err := c.writeNamedRegister(RegForceMode, ForceModeNone); err != nil {
		return err
	}
	return c.writeNamedRegister(RegRS485Control, 0)
}

func (c *venusModbusClient) GetTelemetry() (*BatteryTelemetry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	soc, err := c.readNamedRegister(RegBatterySOC)
	if err != nil {
		return nil, err
	}
	power, err := c.readBatteryPowerWatt()
	if err != nil {
		return nil, err
	}
	totalEnergy, err := c.readNamedRegister(RegBatteryTotalEnergy)
	if err != nil {
		return nil, err
	}
	dailyDischarge, err := c.readNamedUint32(RegDailyDischargingEnergy)
	if err != nil {
		return nil, err
	}
	socPct := float64(soc)
	storedKwh := float64(totalEnergy) * 0.001
	var capacityKwh float64
	if socPct > 0 {
		capacityKwh = storedKwh / (socPct / 100)
	}
	return &BatteryTelemetry{
		StateOfCharge:           socPct,
		StoredEnergyKwh:         storedKwh,
		TotalCapacityKwh:        capacityKwh,
		BatteryPowerWatt:        power,
		DailyDischargeEnergyKwh: float64(int32(dailyDischarge)) * 0.01,
	}, nil
}

// readBatteryPowerWatt handles the width difference between firmware
// generations: v2 exposes an int32 register pair, v3 a single int16.
func (c *venusModbusClient) readBatteryPowerWatt() (float64, error) {
	if c.info.Version == VersionV2 {
		raw, err := c.readNamedUint32(RegBatteryPower)
		if err != nil {
			return 0, err
		}
		return float64(int32(raw)), nil
	}
	raw, err := c.readNamedRegister(RegBatteryPower)
	if err != nil {
		return 0, err
	}
	return float64(int16(raw)), nil
}

func (c *venusModbusClient) ReadPowerFeedback() (*PowerFeedback, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	forceMode, err := c.readNamedRegister(RegForceMode)
	if err != nil {
		return nil, err
	}
	chargePower, err := c.readNamedRegister(RegSetChargePower)
	if err != nil {
		return nil, err
	}
	dischargePower, err := c.readNamedRegister(RegSetDischargePower)
	if err != nil {
		return nil, err
	}
	batteryPower, err := c.readBatteryPowerWatt()
	if err != nil {
		return nil, err
	}
	return &PowerFeedback{
		ForceMode:             forceMode,
		SetChargePowerWatt:    chargePower,
		SetDischargePowerWatt: dischargePower,
		BatteryPowerWatt:      batteryPower,
	}, nil
}

func (c *venusModbusClient) WriteChargePower(watt uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeNamedRegister(RegSetChargePower, watt)
}

func (c *venusModbusClient) WriteDischargePower(watt uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeNamedRegister(RegSetDischargePower, watt)
}

func (c *venusModbusClient) WriteForceMode(mode uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeNamedRegister(RegForceMode, mode)
}

func (c *venusModbusClient) WriteSOCCutoffs(maxSOC float64, minSOC float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.registers[RegChargingCutoffCapacity]; !ok {
		return fmt.Errorf("%w: %s", ErrRegisterUnsupported, RegChargingCutoffCapacity)
	}
	if err := c.writeNamedRegister(RegChargingCutoffCapacity, uint16(maxSOC/SOCRegisterScale)); err != nil {
		return err
	}
	return c.writeNamedRegister(RegDischargingCutoffCap, uint16(minSOC/SOCRegisterScale))
}

func (c *venusModbusClient) HasRegister(name string) bool {
	_, ok := c.registers[name]
	return ok
}

func traceLoggerInstrumentation(logger *zap.Logger) *ModbusInstrument {
	return &ModbusInstrument{
		RecordTime: func(fnName string, readTime time.Duration) {
			logger.Debug(fmt.Sprintf("modbus [%s]: %d millis", fnName, readTime.Milliseconds()))
		},
	}
}
