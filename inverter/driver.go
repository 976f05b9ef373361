// Package inverter defines the outbound inverter driver contract (§6) and
// two implementations: a Sigenergy Modbus-TCP driver and an in-memory mock.
package inverter

import (
	"context"

	"github.com/mjanicki/energy-core/model"
)

// OperationMode mirrors the three modes the inverter driver contract
// exposes: general self-consumption, forced eco-discharge (selling) and
// forced fast-charge.
type OperationMode int

const (
	ModeGeneral OperationMode = iota
	ModeEcoDischarge
	ModeFastCharge
)

func (m OperationMode) String() string {
	switch m {
	case ModeGeneral:
		return "general"
	case ModeEcoDischarge:
		return "eco_discharge"
	case ModeFastCharge:
		return "fast_charge"
	default:
		return "unknown"
	}
}

// Driver is the inverter I/O collaborator. Every operation is fallible;
// callers (the coordinator) apply their own retry policy on top.
type Driver interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Snapshot(ctx context.Context) (model.SystemSnapshot, error)
	SetOperationMode(ctx context.Context, mode OperationMode, powerPercent float64, minSOC float64) error
	SetGridExportLimit(ctx context.Context, watts float64) error
	SetBatteryDoDPercent(ctx context.Context, percent float64) error
	StartFastCharge(ctx context.Context) error
	StopFastCharge(ctx context.Context) error
}
