package charging

import (
	"fmt"
	"time"

	"github.com/mjanicki/energy-core/model"
	"github.com/mjanicki/energy-core/sun"
)

// rule3 implements the smart-critical sub-policy (12 ≤ soc <
// critical_threshold is excluded by the caller; this handles soc <
// critical_threshold).
func (e *Engine) rule3(now time.Time, snapshot model.SystemSnapshot, curve model.PriceCurve, current model.PricePoint, th model.Thresholds) ChargeDecision {
	// Step 1: the soc==10 boundary clause. Strictly ">" high threshold
	// waits; "==" still charges.
	if int(snapshot.SOCPercent) == 10 && current.EffectivePricePLNKWh > th.HighPricePLNKWh {
		return wait(fmt.Sprintf("critical SOC at 10%%, price %.3f exceeds high threshold %.3f, waiting briefly", current.EffectivePricePLNKWh, th.HighPricePLNKWh), model.PriorityCritical, 0.6, nil)
	}

	// Step 2: cheap enough right now.
	if current.EffectivePricePLNKWh <= th.CriticalChargePLNKWh {
		return charge(100, "critical SOC, price at or below critical threshold", model.PriorityCritical, 0.9, e.startSession(now, snapshot, 100, false))
	}

	// Step 3: hours-to-cheapest and savings.
	cheapest, found := cheapestWithin24h(curve, now)
	if found && cheapest.EffectivePricePLNKWh < current.EffectivePricePLNKWh {
		hoursToWait := cheapest.Timestamp.Sub(now).Hours()
		savingsPercent := (current.EffectivePricePLNKWh - cheapest.EffectivePricePLNKWh) / current.EffectivePricePLNKWh * 100.0
		maxWait := e.dynamicMaxWait(savingsPercent, snapshot.SOCPercent)

		if hoursToWait <= maxWait.Hours() && savingsPercent >= e.cfg.MinPriceSavingsPercent {
			return wait(fmt.Sprintf("critical SOC but significant price drop coming: %.3f -> %.3f in %.1fh (%.0f%% savings)",
				current.EffectivePricePLNKWh, cheapest.EffectivePricePLNKWh, hoursToWait, savingsPercent), model.PriorityCritical, 0.7, nil)
		}
	}

	// Step 4: PV-improvement clause.
	if snapshot.SOCPercent > e.cfg.PVImprovementMinSOC && sun.IsRisingOrUp(now, e.loc) {
		times := sun.TimesFor(now, e.loc)
		if !times.SolarNoon.IsZero() && now.Before(times.SolarNoon) {
			return wait("critical SOC but sun rising toward midday, PV expected to improve outlook", model.PriorityCritical, 0.55, nil)
		}
	}

	return charge(100, "critical SOC, no sufficiently cheap window within reach", model.PriorityCritical, 0.85, e.startSession(now, snapshot, 100, false))
}

// dynamicMaxWait scales the base max-wait window by savings magnitude
// (0.7x-1.5x) and halves it when SOC is dangerously low.
func (e *Engine) dynamicMaxWait(savingsPercent, soc float64) time.Duration {
	factor := 0.7 + (savingsPercent/100.0)*0.8
	if factor < 0.7 {
		factor = 0.7
	}
	if factor > 1.5 {
		factor = 1.5
	}
	if soc < e.cfg.Rule3LowSOCUrgency {
		factor *= 0.5
	}
	return time.Duration(float64(e.cfg.Rule3BaseMaxWait) * factor)
}
