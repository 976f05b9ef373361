package charging

import (
	"fmt"
	"time"

	"github.com/mjanicki/energy-core/model"
)

// rule5 implements preventive partial charging: when the battery is
// already comfortably charged but a forecast high-price period would
// drain it below a safe floor, top it up just enough to survive that
// period. Returns handled=false when no qualifying high-price period
// exists or the daily partial-session budget is exhausted, letting the
// cascade fall through to Rule 6.
func (e *Engine) rule5(now time.Time, snapshot model.SystemSnapshot, curve model.PriceCurve, th model.Thresholds) (ChargeDecision, bool) {
	window := curve.Window(now, now.Add(12*time.Hour))
	runStart, runEnd, found := longestExpensiveRun(window, th.HighPricePLNKWh, now)
	if !found || runEnd.Sub(runStart) < e.cfg.PreventiveHighPriceMinDur {
		return ChargeDecision{}, false
	}

	durationHours := runEnd.Sub(runStart).Hours()
	var drainKWh float64
	for t := runStart; t.Before(runEnd); t = t.Add(time.Hour) {
		drainKWh += e.forecastHourlyConsumption(t.Hour())
	}
	_ = durationHours

	projectedSOC := snapshot.SOCPercent - drainKWh/e.cfg.BatteryCapacityKWh*100.0
	if projectedSOC >= e.cfg.PreventiveCriticalSOCForecast {
		return ChargeDecision{}, false
	}

	if e.ledger != nil && e.ledger.CountSince(now, e.cfg.PartialLedgerResetHour) >= e.cfg.MaxPartialSessionsPerDay {
		return ChargeDecision{}, false
	}

	neededKWh := e.cfg.PreventiveCriticalSOCForecast - projectedSOC
	neededKWh = neededKWh / 100.0 * e.cfg.BatteryCapacityKWh
	if neededKWh < e.cfg.MinPartialChargeKWh {
		neededKWh = e.cfg.MinPartialChargeKWh
	}

	targetSOC := snapshot.SOCPercent + neededKWh/e.cfg.BatteryCapacityKWh*100.0
	if targetSOC > 100 {
		targetSOC = 100
	}

	if e.ledger != nil {
		if err := e.ledger.Record(now); err != nil {
			// Persistence failure does not block the charge; the budget
			// check is best-effort and will simply under-count this cycle.
			_ = err
		}
	}

	reason := fmt.Sprintf("preventive partial charge: high-price period %s-%s would drain SOC to %.1f%%, topping up to %.1f%%",
		runStart.Format("15:04"), runEnd.Format("15:04"), projectedSOC, targetSOC)
	decision := charge(targetSOC, reason, model.PriorityMedium, 0.65, e.startSession(now, snapshot, targetSOC, true))
	decision.PartialSessionRecorded = true
	return decision, true
}

// longestExpensiveRun finds the longest contiguous run of points priced
// above highThreshold within the window, returning its start/end bounds.
func longestExpensiveRun(pts []model.PricePoint, highThreshold float64, now time.Time) (time.Time, time.Time, bool) {
	var runStart, runEnd time.Time
	inRun := false
	var bestStart, bestEnd time.Time
	found := false

	flush := func() {
		if inRun && (!found || runEnd.Sub(runStart) > bestEnd.Sub(bestStart)) {
			bestStart, bestEnd = runStart, runEnd
			found = true
		}
		inRun = false
	}

	for i, p := range pts {
		if p.EffectivePricePLNKWh > highThreshold {
			end := p.Timestamp.Add(time.Hour)
			if i+1 < len(pts) {
				end = pts[i+1].Timestamp
			}
			if !inRun {
				runStart = p.Timestamp
				inRun = true
			}
			runEnd = end
		} else {
			flush()
		}
	}
	flush()

	return bestStart, bestEnd, found
}
