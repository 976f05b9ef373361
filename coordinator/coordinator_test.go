package coordinator

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/mjanicki/energy-core/charging"
	"github.com/mjanicki/energy-core/forecast"
	"github.com/mjanicki/energy-core/inverter"
	"github.com/mjanicki/energy-core/model"
	"github.com/mjanicki/energy-core/selling"
	"github.com/mjanicki/energy-core/sun"
	"github.com/mjanicki/energy-core/tariff"
	"github.com/mjanicki/energy-core/threshold"
)

// warsaw is a representative site location for tests that need one.
var warsaw = sun.Location{Latitude: 52.2297, Longitude: 21.0122}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestCoordinator(t *testing.T, now time.Time, snap model.SystemSnapshot) (*Coordinator, *inverter.MockDriver) {
	t.Helper()

	clock := model.NewFixedClock(now)

	partialLedger, err := charging.NewPartialLedger("")
	if err != nil {
		t.Fatalf("new partial ledger: %v", err)
	}
	normalLedger, err := charging.NewPartialLedger("")
	if err != nil {
		t.Fatalf("new normal ledger: %v", err)
	}
	chargingEngine := charging.New(charging.DefaultConfig(), clock, warsaw, partialLedger, normalLedger)

	dropLedger, err := selling.NewDropLedger("")
	if err != nil {
		t.Fatalf("new drop ledger: %v", err)
	}
	cycleLedger, err := selling.NewCycleLedger("")
	if err != nil {
		t.Fatalf("new cycle ledger: %v", err)
	}
	sellingEngine := selling.New(selling.DefaultConfig(), clock, dropLedger, cycleLedger)

	thresholdEngine := threshold.New(threshold.DefaultConfig(), clock, nil)
	tariffCalc := tariff.New(tariff.DefaultConfig())

	driver := inverter.NewMockDriver(snap)
	poller := inverter.NewPoller(driver, time.Minute, time.Second, nil)
	// Run does one synchronous refresh before it ever enters its select
	// loop; handing it an already-cancelled context primes the cache with
	// that single refresh and returns immediately, with no goroutine.
	primeCtx, cancelPrime := context.WithCancel(context.Background())
	cancelPrime()
	poller.Run(primeCtx)

	forceAction := NewForceActionStore("", 10*time.Minute)

	cfg := DefaultConfig()
	cfg.LoopInterval = time.Hour

	c := New(cfg, clock, testLogger(), chargingEngine, sellingEngine, thresholdEngine, tariffCalc,
		driver, poller, nil, nil, nil, forecast.Location{Latitude: warsaw.Latitude, Longitude: warsaw.Longitude}, nil, forceAction, dropLedger.Record)

	return c, driver
}

func TestTickChargesOnEmergencyFloor(t *testing.T) {
	now := time.Date(2026, 1, 10, 3, 0, 0, 0, time.UTC)
	snap := model.SystemSnapshot{SOCPercent: 3, BatteryTempC: 20, GridVoltageV: 230, Timestamp: now}
	c, driver := newTestCoordinator(t, now, snap)

	c.tick(context.Background())

	if !driver.FastCharging {
		t.Fatalf("expected fast charge to be started on emergency floor breach, got %+v", driver)
	}
	status := c.GetStatus()
	if !status.ChargingActive {
		t.Fatalf("expected charging session to be active after tick")
	}
	if status.LastTickErr != nil {
		t.Fatalf("unexpected tick error: %v", status.LastTickErr)
	}
}

func TestTickWaitsWithNoPriceCurve(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	snap := model.SystemSnapshot{SOCPercent: 50, BatteryTempC: 20, GridVoltageV: 230, Timestamp: now}
	c, driver := newTestCoordinator(t, now, snap)

	c.tick(context.Background())

	if driver.FastCharging {
		t.Fatalf("did not expect fast charge without a price curve")
	}
	status := c.GetStatus()
	if status.TickCount != 1 {
		t.Fatalf("expected exactly one recorded tick, got %d", status.TickCount)
	}
}

func TestTickUpdatesLatestState(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	snap := model.SystemSnapshot{SOCPercent: 50, BatteryTempC: 20, GridVoltageV: 230, Timestamp: now}
	c, _ := newTestCoordinator(t, now, snap)

	c.tick(context.Background())

	gotSnap, _ := c.LatestState()
	if gotSnap.SOCPercent != 50 {
		t.Fatalf("expected LatestState to reflect the polled snapshot, got SOC %v", gotSnap.SOCPercent)
	}
}

func TestApplyForceActionConsumesOnSuccess(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	snap := model.SystemSnapshot{SOCPercent: 50, BatteryTempC: 20, GridVoltageV: 230, Timestamp: now}
	c, driver := newTestCoordinator(t, now, snap)

	if err := c.forceAction.Put(now, ForceActionCharge); err != nil {
		t.Fatalf("put force-action: %v", err)
	}

	c.tick(context.Background())

	if !driver.FastCharging {
		t.Fatalf("expected forced charge to reach the driver")
	}
	if _, ok := c.forceAction.Peek(now); ok {
		t.Fatalf("expected force-action to be consumed after one tick")
	}
}

func TestApplyRetriesThenFailsFatally(t *testing.T) {
	now := time.Date(2026, 1, 10, 3, 0, 0, 0, time.UTC)
	snap := model.SystemSnapshot{SOCPercent: 3, BatteryTempC: 20, GridVoltageV: 230, Timestamp: now}
	c, driver := newTestCoordinator(t, now, snap)
	driver.ActionErr = model.ErrActionFailed

	c.tick(context.Background())

	status := c.GetStatus()
	if status.LastTickErr == nil {
		t.Fatalf("expected tick to report a fatal action failure after exhausting retries")
	}
}
