package charging

import (
	"fmt"
	"time"

	"github.com/mjanicki/energy-core/model"
)

type candidateWindow struct {
	point      model.PricePoint
	netBenefit float64
}

// rule4 implements the multi-window interim-cost evaluation for the
// opportunistic SOC tier (12 ≤ soc < 50), including the commitment
// mechanism that prevents indefinite postponement.
func (e *Engine) rule4(now time.Time, snapshot model.SystemSnapshot, curve model.PriceCurve, current model.PricePoint, th model.Thresholds, session *model.ChargingSession) ChargeDecision {
	horizon := now.Add(e.cfg.EvaluationHorizon)
	required := e.estimateChargeDuration(snapshot.SOCPercent, 100)
	expectedEnergy := (100 - snapshot.SOCPercent) / 100.0 * e.cfg.BatteryCapacityKWh

	best, found := e.bestWindow(now, horizon, curve, th, current, expectedEnergy, required)

	if !found || best.netBenefit <= e.cfg.NetBenefitThresholdPLN {
		return charge(100, "opportunistic tier: no window beats charging now", model.PriorityMedium, 0.6, e.startSession(now, snapshot, 100, false))
	}

	// Existing commitment bookkeeping.
	var postponement int
	var committedTime *time.Time
	if session != nil {
		postponement = session.PostponementCount
		committedTime = session.CommittedWindowTime
	}

	if committedTime != nil {
		if !committedTime.Equal(best.point.Timestamp) {
			postponement++
		}
		if committedTime.Before(now) {
			// committed window already passed: clear and charge now.
			return charge(100, "committed window passed, charging now", model.PriorityMedium, 0.6, e.startSession(now, snapshot, 100, false))
		}
		if committedTime.Sub(now) <= time.Duration(e.cfg.CommitmentMarginMinutes)*time.Minute {
			return charge(100, "committed window reached, charging now", model.PriorityMedium, 0.75, e.startSession(now, snapshot, 100, false))
		}
	}

	maxAllowed := maxPostponementForSOC(snapshot.SOCPercent)
	if postponement >= maxAllowed {
		return charge(100, fmt.Sprintf("postponement budget exhausted (%d >= %d), charging now", postponement, maxAllowed), model.PriorityMedium, 0.7, e.startSession(now, snapshot, 100, false))
	}

	windowTime := best.point.Timestamp
	windowPrice := best.point.EffectivePricePLNKWh
	nextSession := &model.ChargingSession{
		Active:               false,
		PostponementCount:    postponement,
		CommittedWindowTime:  &windowTime,
		CommittedWindowPrice: &windowPrice,
	}

	return wait(fmt.Sprintf("opportunistic tier: committing to cheaper window at %s (%.3f PLN/kWh), net benefit %.3f",
		windowTime.Format(time.RFC3339), windowPrice, best.netBenefit), model.PriorityLow, 0.65, nextSession)
}

// bestWindow scans [now, horizon) for the candidate window with the
// highest net benefit, skipping windows priced above the critical
// threshold and windows whose contiguous cheap run is shorter than the
// required charging duration.
func (e *Engine) bestWindow(now, horizon time.Time, curve model.PriceCurve, th model.Thresholds, current model.PricePoint, expectedEnergy float64, required time.Duration) (candidateWindow, bool) {
	pts := curve.Window(now, horizon)
	var best candidateWindow
	found := false

	for i, p := range pts {
		if p.EffectivePricePLNKWh > th.CriticalChargePLNKWh {
			continue
		}
		if contiguousCheapDuration(pts, i, th.CriticalChargePLNKWh) < required {
			continue
		}

		chargingSavings := (current.EffectivePricePLNKWh - p.EffectivePricePLNKWh) * expectedEnergy
		cost := e.interimCost(now, p.Timestamp, curve)
		netBenefit := chargingSavings - cost

		if !found || netBenefit > best.netBenefit {
			best = candidateWindow{point: p, netBenefit: netBenefit}
			found = true
		}
	}

	return best, found
}

// contiguousCheapDuration measures how long, starting at pts[i], prices
// stay at or below threshold, assuming each point represents the interval
// until the next point (or 1h for the last point).
func contiguousCheapDuration(pts []model.PricePoint, i int, threshold float64) time.Duration {
	var total time.Duration
	for j := i; j < len(pts); j++ {
		if pts[j].EffectivePricePLNKWh > threshold {
			break
		}
		if j+1 < len(pts) {
			total += pts[j+1].Timestamp.Sub(pts[j].Timestamp)
		} else {
			total += time.Hour
		}
	}
	return total
}

// maxPostponementForSOC caps how many times a commitment may be
// postponed before the engine forces an immediate charge, scaled by how
// dangerous the current SOC is.
func maxPostponementForSOC(soc float64) int {
	switch {
	case soc < 15:
		return 0
	case soc < 20:
		return 1
	case soc < 30:
		return 2
	default:
		return 3
	}
}
