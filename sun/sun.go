// Package sun wraps suncalc for the charging engine's PV-improvement
// clause. That clause only cares about "is the sun plausibly rising/up
// right now", not full solar geometry, so the wrapper collapses suncalc's
// richer output to that.
package sun

import (
	"time"

	"github.com/sixdouglas/suncalc"
)

// Location is the site's coordinates, used for every sun calculation.
type Location struct {
	Latitude  float64
	Longitude float64
}

// Times holds the subset of suncalc.GetTimes this system consults.
type Times struct {
	Sunrise   time.Time
	SolarNoon time.Time
	Sunset    time.Time
}

// TimesFor returns sunrise/solar-noon/sunset for the given local day at loc.
func TimesFor(day time.Time, loc Location) Times {
	raw := suncalc.GetTimes(day, loc.Latitude, loc.Longitude)
	return Times{
		Sunrise:   raw["sunrise"].Time,
		SolarNoon: raw["solarNoon"].Time,
		Sunset:    raw["sunset"].Time,
	}
}

// IsRisingOrUp reports whether, at instant t, the sun is plausibly
// contributing PV generation: at or after sunrise and at or before solar
// noon plus a small grace window (PV keeps climbing past noon for a
// while on a clear day, so "rising" is read loosely as "before afternoon
// decline sets in").
func IsRisingOrUp(t time.Time, loc Location) bool {
	times := TimesFor(t, loc)
	if times.Sunrise.IsZero() || times.SolarNoon.IsZero() {
		return false
	}
	afternoonGrace := times.SolarNoon.Add(2 * time.Hour)
	return !t.Before(times.Sunrise) && !t.After(afternoonGrace)
}
