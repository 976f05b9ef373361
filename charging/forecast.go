package charging

import (
	"time"

	"github.com/mjanicki/energy-core/model"
)

// ConsumptionSample is one observed hour of grid import, used to forecast
// household consumption for Rule 4's interim-cost calculation.
type ConsumptionSample struct {
	Timestamp     time.Time
	GridImportKWh float64
}

// ConsumptionHistory is a 7-day trailing window of hourly consumption
// samples, bucketed by hour-of-day.
type ConsumptionHistory struct {
	samples []ConsumptionSample
}

func NewConsumptionHistory() *ConsumptionHistory {
	return &ConsumptionHistory{}
}

// Record adds a sample and evicts anything older than 7 days relative to
// its own timestamp (a rolling trailing window, not tied to wall clock).
func (h *ConsumptionHistory) Record(s ConsumptionSample) {
	h.samples = append(h.samples, s)
	cutoff := s.Timestamp.AddDate(0, 0, -7)
	kept := h.samples[:0]
	for _, sample := range h.samples {
		if !sample.Timestamp.Before(cutoff) {
			kept = append(kept, sample)
		}
	}
	h.samples = kept
}

// hourlyAverage returns the mean consumption for the given hour-of-day
// across the trailing window, and how many samples backed it.
func (h *ConsumptionHistory) hourlyAverage(hourOfDay int) (float64, int) {
	var sum float64
	var n int
	for _, s := range h.samples {
		if s.Timestamp.Hour() == hourOfDay {
			sum += s.GridImportKWh
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

// timeOfDayFactor scales the raw hourly average to account for systematic
// evening/night demand shape: evening runs hotter, night runs cooler.
func timeOfDayFactor(hour int) float64 {
	switch {
	case hour >= 17 && hour < 21:
		return 1.5
	case hour >= 22 || hour < 6:
		return 0.8
	default:
		return 1.0
	}
}

// forecastHourlyConsumption returns the expected consumption for hourOfDay,
// falling back to the configured constant when too little history exists.
func (e *Engine) forecastHourlyConsumption(hourOfDay int) float64 {
	avg, n := e.history.hourlyAverage(hourOfDay)
	if n < e.cfg.MinConsumptionSamples {
		avg = e.cfg.DefaultHourlyConsumptionKWh
	}
	return avg * timeOfDayFactor(hourOfDay)
}

// interimCost estimates the grid-electricity cost incurred by the
// household between now and windowTime: predicted consumption per hour ×
// the average effective price over the same span.
func (e *Engine) interimCost(now, windowTime time.Time, curve model.PriceCurve) float64 {
	if !windowTime.After(now) {
		return 0
	}
	var totalConsumption float64
	for t := now; t.Before(windowTime); t = t.Add(time.Hour) {
		totalConsumption += e.forecastHourlyConsumption(t.Hour())
	}

	pts := curve.Window(now, windowTime)
	avgPrice := e.cfg_defaultAvgPrice()
	if len(pts) > 0 {
		var sum float64
		for _, p := range pts {
			sum += p.EffectivePricePLNKWh
		}
		avgPrice = sum / float64(len(pts))
	}

	return totalConsumption * avgPrice
}

// cfg_defaultAvgPrice is the fallback average price when the curve has no
// points in the evaluated window (extremely short curves in tests).
func (e *Engine) cfg_defaultAvgPrice() float64 { return 0.5 }
