package inverter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mjanicki/energy-core/model"
)

func TestPollerCachesLatestSnapshot(t *testing.T) {
	driver := NewMockDriver(model.SystemSnapshot{SOCPercent: 55, Timestamp: time.Now()})
	p := NewPoller(driver, 10*time.Millisecond, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, age, err := p.Latest(); err == nil && age >= 0 {
			snap, _, _ := p.Latest()
			if snap.SOCPercent == 55 {
				p.Stop()
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("poller never cached a snapshot")
}

func TestPollerTracksConsecutiveFailures(t *testing.T) {
	driver := NewMockDriver(model.SystemSnapshot{})
	driver.SnapshotErr = errors.New("modbus timeout")
	driver.ConnectErr = errors.New("connection refused")
	p := NewPoller(driver, 5*time.Millisecond, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p.ConsecutiveFailures() >= 2 {
			p.Stop()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected consecutive failures to accumulate")
}

func TestMockDriverStartStopFastCharge(t *testing.T) {
	d := NewMockDriver(model.SystemSnapshot{SOCPercent: 20})
	ctx := context.Background()

	if err := d.StartFastCharge(ctx); err != nil {
		t.Fatal(err)
	}
	if !d.FastCharging || d.Mode != ModeFastCharge {
		t.Fatal("expected fast charge to be active")
	}

	if err := d.StopFastCharge(ctx); err != nil {
		t.Fatal(err)
	}
	if d.FastCharging || d.Mode != ModeGeneral {
		t.Fatal("expected fast charge to be stopped")
	}
}

func TestMockDriverPropagatesActionError(t *testing.T) {
	d := NewMockDriver(model.SystemSnapshot{})
	d.ActionErr = errors.New("inverter rejected command")
	ctx := context.Background()

	if err := d.SetGridExportLimit(ctx, 3000); err == nil {
		t.Fatal("expected action error to propagate")
	}
}
