package inverter

import (
	"context"
	"sync"

	"github.com/mjanicki/energy-core/model"
)

// MockDriver is an in-memory Driver for tests and dry-run operation. It
// never touches the network; callers seed and inspect its state directly.
type MockDriver struct {
	mu sync.Mutex

	Connected       bool
	Snap            model.SystemSnapshot
	Mode            OperationMode
	PowerPercent    float64
	MinSOC          float64
	GridExportW     float64
	BatteryDoD      float64
	FastCharging    bool
	ConnectErr      error
	SnapshotErr     error
	ActionErr       error
	ConnectCalls    int
	SnapshotCalls   int
}

func NewMockDriver(snap model.SystemSnapshot) *MockDriver {
	return &MockDriver{Snap: snap}
}

func (d *MockDriver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ConnectCalls++
	if d.ConnectErr != nil {
		return d.ConnectErr
	}
	d.Connected = true
	return nil
}

func (d *MockDriver) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Connected = false
	return nil
}

func (d *MockDriver) Snapshot(ctx context.Context) (model.SystemSnapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.SnapshotCalls++
	if d.SnapshotErr != nil {
		return model.SystemSnapshot{}, d.SnapshotErr
	}
	return d.Snap, nil
}

func (d *MockDriver) SetOperationMode(ctx context.Context, mode OperationMode, powerPercent float64, minSOC float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ActionErr != nil {
		return d.ActionErr
	}
	d.Mode = mode
	d.PowerPercent = powerPercent
	d.MinSOC = minSOC
	return nil
}

func (d *MockDriver) SetGridExportLimit(ctx context.Context, watts float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ActionErr != nil {
		return d.ActionErr
	}
	d.GridExportW = watts
	return nil
}

func (d *MockDriver) SetBatteryDoDPercent(ctx context.Context, percent float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ActionErr != nil {
		return d.ActionErr
	}
	d.BatteryDoD = percent
	return nil
}

func (d *MockDriver) StartFastCharge(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ActionErr != nil {
		return d.ActionErr
	}
	d.FastCharging = true
	d.Mode = ModeFastCharge
	return nil
}

func (d *MockDriver) StopFastCharge(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ActionErr != nil {
		return d.ActionErr
	}
	d.FastCharging = false
	d.Mode = ModeGeneral
	return nil
}

// SetSnapshot lets a test update the simulated reading between ticks.
func (d *MockDriver) SetSnapshot(s model.SystemSnapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Snap = s
}
