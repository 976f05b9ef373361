package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/mjanicki/energy-core/model"
)

// These tests exercise the real Postgres driver end-to-end and are skipped
// unless TEST_POSTGRES_CONN points at a reachable database.
func TestAppendAndGetDecisions(t *testing.T) {
	connString := os.Getenv("TEST_POSTGRES_CONN")
	if connString == "" {
		t.Skip("skipping: TEST_POSTGRES_CONN not set")
	}

	store, err := Open(connString)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if _, err := store.db.ExecContext(ctx, "DELETE FROM decisions"); err != nil {
		t.Fatalf("clean up decisions: %v", err)
	}

	now := time.Now().Truncate(time.Second)
	rec := model.DecisionRecord{
		Timestamp:      now,
		Kind:           model.KindCharge,
		Action:         "start_charge",
		Reason:         "critical SOC",
		Confidence:     0.8,
		Priority:       model.PriorityCritical,
		InputsSnapshot: model.SystemSnapshot{SOCPercent: 8, Timestamp: now},
		DerivedMetrics: map[string]float64{"revenue_pln": 0},
	}
	if err := store.AppendDecision(ctx, rec); err != nil {
		t.Fatalf("append decision: %v", err)
	}

	got, err := store.GetDecisions(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("get decisions: %v", err)
	}
	if len(got) != 1 || got[0].Kind != model.KindCharge {
		t.Fatalf("unexpected decisions: %+v", got)
	}
}

func TestAppendAndGetSystemState(t *testing.T) {
	connString := os.Getenv("TEST_POSTGRES_CONN")
	if connString == "" {
		t.Skip("skipping: TEST_POSTGRES_CONN not set")
	}

	store, err := Open(connString)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if _, err := store.db.ExecContext(ctx, "DELETE FROM system_states"); err != nil {
		t.Fatalf("clean up system states: %v", err)
	}

	now := time.Now().Truncate(time.Second)
	snap := model.SystemSnapshot{SOCPercent: 62, BatteryTempC: 21, PVPowerW: 1200, LoadPowerW: 800, GridPowerW: -400, GridVoltageV: 231, Timestamp: now}
	if err := store.AppendSystemState(ctx, snap, map[string]float64{"high_price_threshold": 0.9}); err != nil {
		t.Fatalf("append system state: %v", err)
	}

	got, err := store.GetSystemState(ctx, 10)
	if err != nil {
		t.Fatalf("get system state: %v", err)
	}
	if len(got) != 1 || got[0].SOCPercent != 62 {
		t.Fatalf("unexpected system states: %+v", got)
	}
}
