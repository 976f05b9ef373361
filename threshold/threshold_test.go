package threshold

import (
	"testing"
	"time"

	"github.com/mjanicki/energy-core/model"
)

func TestRefreshFallbackWhenInsufficientSamples(t *testing.T) {
	clock := model.NewFixedClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	e := New(DefaultConfig(), clock, nil)

	for i := 0; i < 5; i++ {
		e.Observe(model.PricePoint{
			Timestamp:            clock.Now().Add(time.Duration(i) * time.Hour),
			EffectivePricePLNKWh: 0.5,
		})
	}

	th := e.Refresh()
	if th != e.cfgFallback() {
		// thresholds should equal fallback values (ComputedAt/SampleCount differ)
		if th.HighPricePLNKWh != e.cfg.Fallback.HighPricePLNKWh {
			t.Fatalf("expected fallback high price, got %v", th.HighPricePLNKWh)
		}
	}
}

func (e *Engine) cfgFallback() model.Thresholds { return e.cfg.Fallback }

func TestRefreshComputesPercentiles(t *testing.T) {
	clock := model.NewFixedClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	cfg := DefaultConfig()
	cfg.MinSamples = 10
	cfg.Multiplier = SeasonMultiplier{time.March: 1.0}
	e := New(cfg, clock, nil)

	for i := 0; i < 100; i++ {
		e.Observe(model.PricePoint{
			Timestamp:            clock.Now().Add(time.Duration(i) * time.Minute),
			EffectivePricePLNKWh: float64(i) / 100.0, // 0.00 .. 0.99
		})
	}

	th := e.Refresh()
	if th.HighPricePLNKWh < 0.70 || th.HighPricePLNKWh > 0.80 {
		t.Fatalf("expected ~0.75 high price, got %v", th.HighPricePLNKWh)
	}
	if th.CriticalChargePLNKWh < 0.20 || th.CriticalChargePLNKWh > 0.30 {
		t.Fatalf("expected ~0.25 critical price, got %v", th.CriticalChargePLNKWh)
	}
	if !th.Valid() {
		t.Fatal("expected critical <= high")
	}
}

func TestRefreshIdempotentWithinInterval(t *testing.T) {
	clock := model.NewFixedClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	cfg := DefaultConfig()
	cfg.MinSamples = 5
	e := New(cfg, clock, nil)

	for i := 0; i < 10; i++ {
		e.Observe(model.PricePoint{Timestamp: clock.Now().Add(time.Duration(i) * time.Minute), EffectivePricePLNKWh: 0.5})
	}

	first := e.Refresh()
	clock.Advance(time.Hour) // within 3h update interval
	for i := 0; i < 10; i++ {
		e.Observe(model.PricePoint{Timestamp: clock.Now().Add(time.Duration(i) * time.Minute), EffectivePricePLNKWh: 5.0})
	}
	second := e.Refresh()

	if first.ComputedAt != second.ComputedAt {
		t.Fatal("expected no refresh within update interval")
	}
}

func TestPercentileInterpolation(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5}
	if got := percentile(sorted, 0); got != 1 {
		t.Fatalf("expected 1, got %v", got)
	}
	if got := percentile(sorted, 100); got != 5 {
		t.Fatalf("expected 5, got %v", got)
	}
	if got := percentile(sorted, 50); got != 3 {
		t.Fatalf("expected 3, got %v", got)
	}
}
