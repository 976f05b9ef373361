package selling

import (
	"testing"
	"time"

	"github.com/mjanicki/energy-core/model"
)

func newTestEngine(now time.Time) *Engine {
	clock := model.NewFixedClock(now)
	dropLedger, _ := NewDropLedger("")
	cycleLedger, _ := NewCycleLedger("")
	return New(DefaultConfig(), clock, dropLedger, cycleLedger)
}

func flatCurve(now time.Time, price float64) model.PriceCurve {
	pts := make([]model.PricePoint, 0, 36)
	for i := -24; i < 12; i++ {
		pts = append(pts, model.PricePoint{Timestamp: now.Add(time.Duration(i) * time.Hour), EffectivePricePLNKWh: price})
	}
	return model.PriceCurve{Points: pts}
}

func TestSOCAtOrBelowSafetyMarginNeverStarts(t *testing.T) {
	// moderate margin applies outside evening hours with low confidence.
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(now)
	snapshot := model.SystemSnapshot{SOCPercent: 50, BatteryTempC: 20, GridVoltageV: 230, Timestamp: now}
	curve := flatCurve(now, 0.9)
	th := model.Thresholds{HighPricePLNKWh: 1.0, CriticalChargePLNKWh: 0.4}

	d := e.Decide(snapshot, curve, nil, 0, nil, th)
	if d.Decision == DecisionStart {
		t.Fatal("SOC at/below safety margin must never start selling")
	}
}

func TestSellThenBuyBlocksSale(t *testing.T) {
	now := time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)
	e := newTestEngine(now)
	snapshot := model.SystemSnapshot{SOCPercent: 82, BatteryTempC: 20, GridVoltageV: 230, Timestamp: now}
	curve := flatCurve(now, 0.85)
	forecast := []model.ForecastPoint{
		{Timestamp: now.Add(6 * time.Hour), PricePLNKWh: 1.20, Confidence: 0.9},
		{Timestamp: now.Add(8 * time.Hour), PricePLNKWh: 1.50, Confidence: 0.9},
	}
	th := model.Thresholds{HighPricePLNKWh: 1.0, CriticalChargePLNKWh: 0.4}

	d := e.Decide(snapshot, curve, forecast, 7.0, nil, th)
	if d.Decision != DecisionWait {
		t.Fatalf("expected wait due to sell-then-buy risk, got %v: %s", d.Decision, d.Reason)
	}
}

func TestDynamicSOCFloorLowersMinimum(t *testing.T) {
	now := time.Date(2026, 1, 1, 18, 0, 0, 0, time.UTC) // peak hour and evening
	e := newTestEngine(now)
	snapshot := model.SystemSnapshot{SOCPercent: 72, BatteryTempC: 20, GridVoltageV: 230, Timestamp: now}

	pts := []model.PricePoint{}
	for i := -24; i < 12; i++ {
		price := 1.25
		if i == 4 {
			price = 0.60 // recharge opportunity within 12h
		}
		pts = append(pts, model.PricePoint{Timestamp: now.Add(time.Duration(i) * time.Hour), EffectivePricePLNKWh: price})
	}
	curve := model.PriceCurve{Points: pts}
	th := model.Thresholds{HighPricePLNKWh: 1.0, CriticalChargePLNKWh: 0.4}

	// Evening hours use the conservative 55% margin, so 72% SOC still
	// clears it (72 > 55) and the dynamic floor of 70 should also clear.
	d := e.Decide(snapshot, curve, nil, 0, nil, th)
	if d.Decision != DecisionStart {
		t.Fatalf("expected start with lowered dynamic floor, got %v: %s", d.Decision, d.Reason)
	}
}

func TestNightHoursSuppressSellingWithoutEmergency(t *testing.T) {
	now := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
	e := newTestEngine(now)
	snapshot := model.SystemSnapshot{SOCPercent: 90, BatteryTempC: 20, GridVoltageV: 230, Timestamp: now}
	curve := flatCurve(now, 0.9)
	th := model.Thresholds{HighPricePLNKWh: 1.0, CriticalChargePLNKWh: 0.4}

	d := e.Decide(snapshot, curve, nil, 0, nil, th)
	if d.Decision == DecisionStart {
		t.Fatal("expected night-hours gate to suppress selling")
	}
}

func TestEmergencySpikeOverridesNightHours(t *testing.T) {
	now := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
	e := newTestEngine(now)
	snapshot := model.SystemSnapshot{SOCPercent: 90, BatteryTempC: 20, GridVoltageV: 230, Timestamp: now}
	curve := flatCurve(now, 1.60) // above emergency threshold
	th := model.Thresholds{HighPricePLNKWh: 1.0, CriticalChargePLNKWh: 0.4}

	d := e.Decide(snapshot, curve, nil, 0, nil, th)
	if d.Decision != DecisionStart {
		t.Fatalf("expected emergency spike to override night-hours gate, got %v: %s", d.Decision, d.Reason)
	}
}

func TestSessionStopsAtSafetyMarginHysteresisBand(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(now)
	session := &model.SellingSession{Active: true, StartSOC: 80, TargetSOC: 50}
	snapshot := model.SystemSnapshot{SOCPercent: 50.5, Timestamp: now}
	curve := flatCurve(now, 0.9)
	th := model.Thresholds{HighPricePLNKWh: 1.0, CriticalChargePLNKWh: 0.4}

	d := e.Decide(snapshot, curve, nil, 0, session, th)
	if d.Decision != DecisionStop {
		t.Fatalf("expected stop within the 1%% hysteresis band, got %v", d.Decision)
	}
	if d.NextSession != nil {
		t.Fatal("expected session cleared after stop")
	}
}

func TestProfitMarginGateBlocksLowPrice(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(now)
	snapshot := model.SystemSnapshot{SOCPercent: 90, BatteryTempC: 20, GridVoltageV: 230, Timestamp: now}
	// Default MinSellingPricePLNKWh=0.50, ProfitMarginMultiplier=1.5: the
	// profitable floor is 0.75 PLN/kWh. 0.60 clears the safety/SOC gates
	// but should still be blocked by the profit-margin gate.
	curve := flatCurve(now, 0.60)
	th := model.Thresholds{HighPricePLNKWh: 1.0, CriticalChargePLNKWh: 0.4}

	d := e.Decide(snapshot, curve, nil, 0, nil, th)
	if d.Decision == DecisionStart {
		t.Fatal("expected profit-margin gate to block selling below the profitable threshold")
	}
}

func TestEmergencySpikeBypassesProfitMarginGate(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	// A minimum selling price of 1.20 puts the profitable threshold at
	// 1.80 (1.5x margin), above the 1.60 spike, so only the emergency
	// bypass lets this sale start.
	cfg := DefaultConfig()
	cfg.MinSellingPricePLNKWh = 1.20
	dropLedger, _ := NewDropLedger("")
	cycleLedger, _ := NewCycleLedger("")
	e := New(cfg, model.NewFixedClock(now), dropLedger, cycleLedger)
	snapshot := model.SystemSnapshot{SOCPercent: 90, BatteryTempC: 20, GridVoltageV: 230, Timestamp: now}
	curve := flatCurve(now, 1.60) // above emergency threshold
	th := model.Thresholds{HighPricePLNKWh: 1.0, CriticalChargePLNKWh: 0.4}

	d := e.Decide(snapshot, curve, nil, 0, nil, th)
	if d.Decision != DecisionStart {
		t.Fatalf("expected emergency spike to bypass the profit-margin gate, got %v: %s", d.Decision, d.Reason)
	}
}

func TestDailyCycleCapBlocksFurtherSelling(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cycleLedger, _ := NewCycleLedger("")
	cycleLedger.Record(now)
	cycleLedger.Record(now)
	e := New(DefaultConfig(), model.NewFixedClock(now), func() *DropLedger { l, _ := NewDropLedger(""); return l }(), cycleLedger)

	snapshot := model.SystemSnapshot{SOCPercent: 90, BatteryTempC: 20, GridVoltageV: 230, Timestamp: now}
	curve := flatCurve(now, 0.9)
	th := model.Thresholds{HighPricePLNKWh: 1.0, CriticalChargePLNKWh: 0.4}

	d := e.Decide(snapshot, curve, nil, 0, nil, th)
	if d.Decision == DecisionStart {
		t.Fatal("expected daily cycle cap to block selling")
	}
}
