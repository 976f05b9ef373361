package tariff

import (
	"testing"
	"time"
)

func mustLoc(t *testing.T) *time.Location {
	loc, err := time.LoadLocation("Europe/Warsaw")
	if err != nil {
		return time.UTC
	}
	return loc
}

func TestCalculateDeterministic(t *testing.T) {
	c := New(DefaultConfig())
	ts := time.Date(2026, 3, 10, 14, 0, 0, 0, time.Local) // Tuesday, day zone

	p1, err := c.Calculate(500, ts, "")
	if err != nil {
		t.Fatal(err)
	}
	p2, err := c.Calculate(500, ts, "")
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Fatalf("expected deterministic output, got %v vs %v", p1, p2)
	}
}

func TestCalculateDayNightZones(t *testing.T) {
	c := New(DefaultConfig())
	day := time.Date(2026, 3, 10, 14, 0, 0, 0, time.Local)  // Tuesday 14:00 -> day
	night := time.Date(2026, 3, 10, 23, 0, 0, 0, time.Local) // Tuesday 23:00 -> night

	dayPrice, err := c.Calculate(500, day, "")
	if err != nil {
		t.Fatal(err)
	}
	nightPrice, err := c.Calculate(500, night, "")
	if err != nil {
		t.Fatal(err)
	}
	if nightPrice >= dayPrice {
		t.Fatalf("expected night price (%v) cheaper than day price (%v)", nightPrice, dayPrice)
	}
}

func TestCalculateWeekendCollapsesToOffPeak(t *testing.T) {
	c := New(DefaultConfig())
	saturdayDayHour := time.Date(2026, 3, 14, 14, 0, 0, 0, time.Local) // Saturday 14:00

	weekendPrice, err := c.Calculate(500, saturdayDayHour, "")
	if err != nil {
		t.Fatal(err)
	}

	weekdayNight := time.Date(2026, 3, 10, 23, 0, 0, 0, time.Local)
	nightPrice, err := c.Calculate(500, weekdayNight, "")
	if err != nil {
		t.Fatal(err)
	}

	if weekendPrice != nightPrice {
		t.Fatalf("expected weekend day-hour price to equal off-peak price, got %v vs %v", weekendPrice, nightPrice)
	}
}

func TestCalculateFloor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinimumPriceFloorPLNKWh = 5.0
	c := New(cfg)

	p, err := c.Calculate(1, time.Now(), "")
	if err != nil {
		t.Fatal(err)
	}
	if p != 5.0 {
		t.Fatalf("expected floor to apply, got %v", p)
	}
}

func TestCalculateInvalidKind(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Kind = "bogus"
	c := New(cfg)

	if _, err := c.Calculate(500, time.Now(), ""); err == nil {
		t.Fatal("expected error for invalid tariff kind")
	}
}

func TestCalculatePolicySignal(t *testing.T) {
	cfg := Config{
		Kind: KindPolicySignal,
		Zones: []Zone{
			{Name: "cheap", SurchargePLNKWh: 0.10},
			{Name: "expensive", SurchargePLNKWh: 0.50},
		},
		ServiceChargePLNKWh: 0.02,
	}
	c := New(cfg)

	cheap, err := c.Calculate(500, time.Now(), "cheap")
	if err != nil {
		t.Fatal(err)
	}
	expensive, err := c.Calculate(500, time.Now(), "expensive")
	if err != nil {
		t.Fatal(err)
	}
	if cheap >= expensive {
		t.Fatalf("expected cheap (%v) < expensive (%v)", cheap, expensive)
	}

	if _, err := c.Calculate(500, time.Now(), "unknown"); err == nil {
		t.Fatal("expected error for unknown policy signal")
	}
}
