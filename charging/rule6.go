package charging

import (
	"fmt"
	"time"

	"github.com/mjanicki/energy-core/model"
)

// rule6 implements the normal tier (soc ≥ 50) hysteresis policy: enter
// only below the start threshold at a favourably low price, exit at the
// stop threshold, subject to a daily session cap reset at local midnight.
func (e *Engine) rule6(now time.Time, snapshot model.SystemSnapshot, curve model.PriceCurve, session *model.ChargingSession) ChargeDecision {
	if !e.cfg.HysteresisEnabled {
		return wait("normal tier: hysteresis disabled", model.PriorityLow, 0.4, session)
	}

	if snapshot.SOCPercent >= e.cfg.NormalStartThresholdSOC {
		return wait(fmt.Sprintf("normal tier: SOC %.1f%% at or above start threshold %.1f%%, not entering", snapshot.SOCPercent, e.cfg.NormalStartThresholdSOC), model.PriorityLow, 0.4, session)
	}

	if e.normalLedger != nil && e.normalLedger.CountSince(now, 0) >= e.cfg.MaxSessionsPerDay {
		return wait("normal tier: daily session cap reached", model.PriorityLow, 0.4, session)
	}

	if e.normalLedger != nil {
		if lastFullSOC, ok := e.normalLedger.LastFullCharge(); ok {
			minDischarge := lastFullSOC - e.cfg.MinDischargeDepthSOC
			if snapshot.SOCPercent > minDischarge {
				return wait(fmt.Sprintf("normal tier: insufficient discharge depth since last full charge (SOC %.1f%%, need below %.1f%%)", snapshot.SOCPercent, minDischarge), model.PriorityLow, 0.4, session)
			}
		}
	}

	current, ok := curve.At(now)
	if !ok {
		return wait("normal tier: no current price available", model.PriorityLow, 0.3, session)
	}

	gate, ok := percentileOfRecent(curve, now, 40)
	if !ok {
		cheapest, found := cheapestWithin24h(curve, now)
		if !found {
			return wait("normal tier: no price history to gate entry", model.PriorityLow, 0.3, session)
		}
		gate = cheapest.EffectivePricePLNKWh * e.cfg.PercentileFallbackMultiplier
	}

	if current.EffectivePricePLNKWh > gate {
		return wait(fmt.Sprintf("normal tier: price %.3f above entry gate %.3f", current.EffectivePricePLNKWh, gate), model.PriorityLow, 0.4, session)
	}

	if e.normalLedger != nil {
		if err := e.normalLedger.Record(now); err != nil {
			_ = err
		}
	}

	next := e.startSession(now, snapshot, e.cfg.NormalStopThresholdSOC, false)
	if minProtected := now.Add(e.cfg.MinSessionDuration); next.ProtectedUntil.Before(minProtected) {
		next.ProtectedUntil = minProtected
	}

	return charge(e.cfg.NormalStopThresholdSOC, fmt.Sprintf("normal tier: price %.3f at or below entry gate %.3f, opportunistic top-up", current.EffectivePricePLNKWh, gate), model.PriorityLow, 0.5, next)
}
