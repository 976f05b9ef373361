package model

import (
	"testing"
	"time"
)

func TestPriceCurveAt(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	curve := PriceCurve{Points: []PricePoint{
		{Timestamp: base, EffectivePricePLNKWh: 0.5},
		{Timestamp: base.Add(time.Hour), EffectivePricePLNKWh: 0.8},
		{Timestamp: base.Add(2 * time.Hour), EffectivePricePLNKWh: 0.3},
	}}

	p, ok := curve.At(base.Add(90 * time.Minute))
	if !ok {
		t.Fatal("expected a match")
	}
	if p.EffectivePricePLNKWh != 0.8 {
		t.Fatalf("expected 0.8, got %v", p.EffectivePricePLNKWh)
	}

	if _, ok := curve.At(base.Add(-time.Hour)); ok {
		t.Fatal("expected no match before curve start")
	}
}

func TestPriceCurveCheapest(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	curve := PriceCurve{Points: []PricePoint{
		{Timestamp: base, EffectivePricePLNKWh: 0.5},
		{Timestamp: base.Add(time.Hour), EffectivePricePLNKWh: 0.8},
		{Timestamp: base.Add(2 * time.Hour), EffectivePricePLNKWh: 0.3},
	}}

	cheapest, ok := curve.Cheapest(base, base.Add(3*time.Hour))
	if !ok || cheapest.EffectivePricePLNKWh != 0.3 {
		t.Fatalf("expected cheapest 0.3, got %+v ok=%v", cheapest, ok)
	}
}

func TestSnapshotStaleness(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := SystemSnapshot{Timestamp: now.Add(-3 * time.Minute)}
	if !s.IsStale(now) {
		t.Fatal("expected stale at 3 minutes")
	}
	if s.IsUnusable(now) {
		t.Fatal("3 minutes should still be usable")
	}
	s.Timestamp = now.Add(-11 * time.Minute)
	if !s.IsUnusable(now) {
		t.Fatal("expected unusable at 11 minutes")
	}
}

func TestDailySOCDropLedgerPrune(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	l := NewDailySOCDropLedger()
	l.Add(now.AddDate(0, 0, -10), 15)
	l.Add(now, 5)
	l.Prune(now)

	if len(l.Drops) != 1 {
		t.Fatalf("expected 1 entry after prune, got %d", len(l.Drops))
	}
	if got := l.Today(now); got != 5 {
		t.Fatalf("expected today's drop 5, got %v", got)
	}
}

func TestPriorityOutranks(t *testing.T) {
	if !PriorityEmergency.Outranks(PriorityLow) {
		t.Fatal("emergency should outrank low")
	}
	if PriorityLow.Outranks(PriorityEmergency) {
		t.Fatal("low should not outrank emergency")
	}
}

func TestThresholdsValid(t *testing.T) {
	valid := Thresholds{HighPricePLNKWh: 1.0, CriticalChargePLNKWh: 0.5}
	if !valid.Valid() {
		t.Fatal("expected valid thresholds")
	}
	invalid := Thresholds{HighPricePLNKWh: 0.5, CriticalChargePLNKWh: 1.0}
	if invalid.Valid() {
		t.Fatal("expected invalid thresholds")
	}
}
