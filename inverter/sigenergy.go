package inverter

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/goburrow/modbus"
	"github.com/mjanicki/energy-core/model"
)

// Plant-level Modbus register map (Sigenergy protocol, slave address 247).
// Offsets and scaling factors follow the plant running-information and
// parameter-settings blocks of the inverter's Modbus-TCP protocol.
const (
	plantSlaveAddress = 247

	regSystemTime   = 30000
	regESSSOCOffset = 28 // byte offset within the 30000 block (register 30014), u16, /10
	regBatteryTemp  = 30050
	regPVPower      = 30035 // byte offset 70 within the 30000 block, s32, /1000
	regPlantPower   = 30031 // byte offset 62 within the 30000 block, s32, /1000 (active power; <0 import)
	regGridVoltage  = 31003 // phase A voltage, u16, /10

	regRemoteEMSEnable = 40029
	regRemoteEMSMode   = 40031
	regESSMaxCharge    = 40032 // u32, /1000 kW
	regESSMaxDischarge = 40034 // u32, /1000 kW
	regPVMaxPower      = 40036 // u32, /1000 kW
	regBatteryDoD      = 40038 // u16, /10 percent, extrapolated from the same parameter block

	modeRemoteControl        = 0
	modeStandby              = 1
	modeSelfConsumption      = 2
	modeCommandChargeGrid    = 3
	modeCommandDischargeESS  = 6
)

// SigenergyDriver talks to a Sigenergy hybrid inverter/battery plant over
// Modbus-TCP. It implements Driver.
type SigenergyDriver struct {
	address string
	client  modbus.Client
	handler *modbus.TCPClientHandler
	timeout time.Duration
}

func NewSigenergyDriver(address string, timeout time.Duration) *SigenergyDriver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SigenergyDriver{address: address, timeout: timeout}
}

func (d *SigenergyDriver) Connect(ctx context.Context) error {
	handler := modbus.NewTCPClientHandler(d.address)
	handler.SlaveId = plantSlaveAddress
	handler.Timeout = d.timeout
	if err := handler.Connect(); err != nil {
		return fmt.Errorf("%w: connect to %s: %v", model.ErrInverterUnreachable, d.address, err)
	}
	d.handler = handler
	d.client = modbus.NewClient(handler)
	return nil
}

func (d *SigenergyDriver) Disconnect(ctx context.Context) error {
	if d.handler == nil {
		return nil
	}
	err := d.handler.Close()
	d.handler = nil
	d.client = nil
	return err
}

func (d *SigenergyDriver) Snapshot(ctx context.Context) (model.SystemSnapshot, error) {
	if d.client == nil {
		return model.SystemSnapshot{}, fmt.Errorf("%w: not connected", model.ErrInverterUnreachable)
	}

	main, err := d.client.ReadInputRegisters(regSystemTime, 52)
	if err != nil {
		return model.SystemSnapshot{}, fmt.Errorf("%w: read plant block: %v", model.ErrInverterUnreachable, err)
	}
	grid, err := d.client.ReadInputRegisters(regGridVoltage, 1)
	if err != nil {
		return model.SystemSnapshot{}, fmt.Errorf("%w: read grid voltage: %v", model.ErrInverterUnreachable, err)
	}

	soc := float64(binary.BigEndian.Uint16(main[regESSSOCOffset:regESSSOCOffset+2])) / 10.0
	pvPower := float64(int32(binary.BigEndian.Uint32(main[70:74]))) / 1000.0 * 1000 // kW -> W
	plantPower := float64(int32(binary.BigEndian.Uint32(main[62:66]))) / 1000.0 * 1000
	gridVoltage := float64(binary.BigEndian.Uint16(grid[0:2])) / 10.0

	return model.SystemSnapshot{
		SOCPercent:   soc,
		PVPowerW:     pvPower,
		GridPowerW:   plantPower,
		GridVoltageV: gridVoltage,
		Timestamp:    time.Now(),
	}, nil
}

func (d *SigenergyDriver) SetOperationMode(ctx context.Context, mode OperationMode, powerPercent float64, minSOC float64) error {
	if d.client == nil {
		return fmt.Errorf("%w: not connected", model.ErrInverterUnreachable)
	}
	if _, err := d.client.WriteSingleRegister(regRemoteEMSEnable, 1); err != nil {
		return fmt.Errorf("%w: enable remote EMS: %v", model.ErrActionFailed, err)
	}

	var regMode uint16
	switch mode {
	case ModeGeneral:
		regMode = modeSelfConsumption
	case ModeEcoDischarge:
		regMode = modeCommandDischargeESS
	case ModeFastCharge:
		regMode = modeCommandChargeGrid
	default:
		return fmt.Errorf("%w: unknown operation mode %v", model.ErrInvalidInput, mode)
	}
	if _, err := d.client.WriteSingleRegister(regRemoteEMSMode, regMode); err != nil {
		return fmt.Errorf("%w: set remote EMS mode: %v", model.ErrActionFailed, err)
	}
	return nil
}

func (d *SigenergyDriver) SetGridExportLimit(ctx context.Context, watts float64) error {
	if d.client == nil {
		return fmt.Errorf("%w: not connected", model.ErrInverterUnreachable)
	}
	value := uint32(watts / 1000.0 * 1000)
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, value)
	if _, err := d.client.WriteMultipleRegisters(regESSMaxDischarge, 2, buf); err != nil {
		return fmt.Errorf("%w: set grid export limit: %v", model.ErrActionFailed, err)
	}
	return nil
}

func (d *SigenergyDriver) SetBatteryDoDPercent(ctx context.Context, percent float64) error {
	if d.client == nil {
		return fmt.Errorf("%w: not connected", model.ErrInverterUnreachable)
	}
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: battery DoD %.1f out of range", model.ErrInvalidInput, percent)
	}
	value := uint16(percent * 10)
	if _, err := d.client.WriteSingleRegister(regBatteryDoD, value); err != nil {
		return fmt.Errorf("%w: set battery DoD: %v", model.ErrActionFailed, err)
	}
	return nil
}

func (d *SigenergyDriver) StartFastCharge(ctx context.Context) error {
	return d.SetOperationMode(ctx, ModeFastCharge, 100, 0)
}

func (d *SigenergyDriver) StopFastCharge(ctx context.Context) error {
	return d.SetOperationMode(ctx, ModeGeneral, 0, 0)
}
