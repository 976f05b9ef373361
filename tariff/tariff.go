// Package tariff implements the Tariff Price Calculator: conversion of a
// raw wholesale market price into an effective end-user price by applying
// time-of-use zone surcharges and a fixed service charge. Deterministic,
// no I/O.
package tariff

import (
	"fmt"
	"time"
)

// Kind selects which zone schedule applies.
type Kind string

const (
	KindFlat          Kind = "flat"
	KindTwoZone       Kind = "two_zone"
	KindThreeZone     Kind = "three_zone"
	KindPolicySignal  Kind = "policy_signal"
)

// Zone is a named time-of-use band with an additive distribution surcharge.
type Zone struct {
	Name           string
	SurchargePLNKWh float64
	// StartHour/EndHour are local hours [0,24) defining the zone's daily
	// window. EndHour may be <= StartHour to express an overnight wrap.
	StartHour int
	EndHour   int
}

// contains reports whether local hour h falls inside the zone's window.
func (z Zone) contains(h int) bool {
	if z.StartHour == z.EndHour {
		return true // whole-day zone
	}
	if z.StartHour < z.EndHour {
		return h >= z.StartHour && h < z.EndHour
	}
	// overnight wrap, e.g. 22-6
	return h >= z.StartHour || h < z.EndHour
}

// Config is the tariff configuration driving the calculator. It is a
// frozen record: swap the whole struct to reconfigure, never mutate a
// live one concurrently.
type Config struct {
	Kind                    Kind
	Zones                   []Zone // ordered; first match wins
	ServiceChargePLNKWh     float64
	MinimumPriceFloorPLNKWh float64
	// WeekendOffPeakZone names the zone substituted on Saturday/Sunday for
	// two_zone/three_zone tariffs (weekends collapse to off-peak).
	WeekendOffPeakZone string
	Location           *time.Location
}

// DefaultConfig returns a representative Polish residential two-zone
// tariff: day (06-22) surcharge higher than night (22-06), plus a flat
// service charge and regulatory floor.
func DefaultConfig() Config {
	loc := time.Local
	return Config{
		Kind: KindTwoZone,
		Zones: []Zone{
			{Name: "day", SurchargePLNKWh: 0.35, StartHour: 6, EndHour: 22},
			{Name: "night", SurchargePLNKWh: 0.18, StartHour: 22, EndHour: 6},
		},
		ServiceChargePLNKWh:     0.05,
		MinimumPriceFloorPLNKWh: 0.10,
		WeekendOffPeakZone:      "night",
		Location:                loc,
	}
}

// Calculator converts raw market prices into effective end-user prices.
type Calculator struct {
	cfg Config
}

func New(cfg Config) *Calculator {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Calculator{cfg: cfg}
}

// Calculate returns the effective price in PLN/kWh for a market price
// quoted in PLN/MWh at the given wall-clock timestamp. policySignal is only
// consulted for KindPolicySignal tariffs, where it selects the zone name
// directly.
func (c *Calculator) Calculate(marketPricePLNPerMWh float64, ts time.Time, policySignal string) (float64, error) {
	if c.cfg.MinimumPriceFloorPLNKWh < 0 || c.cfg.ServiceChargePLNKWh < 0 {
		return 0, fmt.Errorf("invalid_input: negative tariff configuration")
	}

	base := marketPricePLNPerMWh / 1000.0

	zone, err := c.selectZone(ts, policySignal)
	if err != nil {
		return 0, err
	}

	effective := base + zone.SurchargePLNKWh + c.cfg.ServiceChargePLNKWh
	if effective < c.cfg.MinimumPriceFloorPLNKWh {
		effective = c.cfg.MinimumPriceFloorPLNKWh
	}
	return effective, nil
}

func (c *Calculator) selectZone(ts time.Time, policySignal string) (Zone, error) {
	switch c.cfg.Kind {
	case KindFlat:
		if len(c.cfg.Zones) == 0 {
			return Zone{}, nil
		}
		return c.cfg.Zones[0], nil
	case KindTwoZone, KindThreeZone:
		local := ts.In(c.cfg.Location)
		if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
			for _, z := range c.cfg.Zones {
				if z.Name == c.cfg.WeekendOffPeakZone {
					return z, nil
				}
			}
		}
		hour := local.Hour()
		for _, z := range c.cfg.Zones {
			if z.contains(hour) {
				return z, nil
			}
		}
		return Zone{}, fmt.Errorf("invalid_input: no zone matches hour %d", hour)
	case KindPolicySignal:
		for _, z := range c.cfg.Zones {
			if z.Name == policySignal {
				return z, nil
			}
		}
		return Zone{}, fmt.Errorf("invalid_input: no zone matches policy signal %q", policySignal)
	default:
		return Zone{}, fmt.Errorf("invalid_input: unknown tariff kind %q", c.cfg.Kind)
	}
}
