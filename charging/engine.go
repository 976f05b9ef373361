// Package charging implements the Charging Decision Engine (Component C):
// the 4-tier SOC ladder, multi-window interim-cost evaluation, commitment
// and session protection, preventive partial charging, and hysteresis-
// governed normal-tier charging. Decide is pure with respect to its
// inputs; all session-state mutation is returned as the decision's
// NextSession for the coordinator to persist.
package charging

import (
	"sort"
	"time"

	"github.com/mjanicki/energy-core/model"
	"github.com/mjanicki/energy-core/sun"
	"github.com/mjanicki/energy-core/tariff"
)

// Engine evaluates the charging cascade once per coordinator tick.
type Engine struct {
	cfg         Config
	clock       model.Clock
	loc         sun.Location
	ledger      *PartialLedger // Rule 5 partial-session budget
	normalLedger *PartialLedger // Rule 6 max-sessions-per-day budget
	history     *ConsumptionHistory
}

func New(cfg Config, clock model.Clock, loc sun.Location, ledger, normalLedger *PartialLedger) *Engine {
	return &Engine{cfg: cfg, clock: clock, loc: loc, ledger: ledger, normalLedger: normalLedger, history: NewConsumptionHistory()}
}

// RecordConsumption feeds an observed hour of grid import into the
// rolling history used by Rule 4's interim-cost estimate.
func (e *Engine) RecordConsumption(s ConsumptionSample) { e.history.Record(s) }

// ForecastConsumptionKWh sums the forecast household consumption over
// [now, now+horizon), reusing the same hourly model Rule 4's interim-cost
// evaluation relies on. The coordinator passes this to the selling engine
// so sell-then-buy risk analysis shares one consumption forecast instead
// of each policy maintaining its own.
func (e *Engine) ForecastConsumptionKWh(now time.Time, horizon time.Duration) float64 {
	var total float64
	for t := now; t.Before(now.Add(horizon)); t = t.Add(time.Hour) {
		total += e.forecastHourlyConsumption(t.Hour())
	}
	return total
}

// Decide runs the ordered rule cascade and returns the first matching
// decision.
func (e *Engine) Decide(
	snapshot model.SystemSnapshot,
	curve model.PriceCurve,
	forecast []model.ForecastPoint,
	session *model.ChargingSession,
	th model.Thresholds,
	calc *tariff.Calculator,
) ChargeDecision {
	now := e.clock.Now()

	if snapshot.IsUnusable(now) {
		return wait("snapshot stale beyond usable bound, refusing to act", model.PriorityCritical, 0, session)
	}

	currentPrice, havePrice := curve.At(now)
	if !havePrice {
		// Failure semantics: price curve unavailable -> safe mode.
		if snapshot.SOCPercent < e.cfg.EmergencyThresholdSOC {
			return charge(100, "safe-mode: price curve unavailable, emergency floor breached, charging regardless of price", model.PriorityEmergency, 0.95, e.startSession(now, snapshot, 100, false))
		}
		if snapshot.SOCPercent < e.cfg.CriticalThresholdSOC {
			return charge(100, "safe-mode: price curve unavailable, SOC below critical threshold", model.PriorityCritical, 0.5, session)
		}
		return wait("safe-mode: price curve unavailable", model.PriorityLow, 0.5, session)
	}

	// Rule 1 — active session continuation.
	if session != nil && session.Active {
		if d, handled := e.rule1(now, snapshot, session); handled {
			return d
		}
	}

	// Rule 2 — emergency floor.
	if snapshot.SOCPercent < e.cfg.EmergencyThresholdSOC {
		return charge(100, "emergency floor breached, charging regardless of price", model.PriorityEmergency, 0.95, e.startSession(now, snapshot, 100, false))
	}

	// Rule 3 — critical floor.
	if snapshot.SOCPercent < e.cfg.CriticalThresholdSOC {
		return e.rule3(now, snapshot, curve, currentPrice, th)
	}

	// Rule 4 — multi-window opportunistic tier.
	if snapshot.SOCPercent >= e.cfg.OpportunisticMinSOC && snapshot.SOCPercent < e.cfg.OpportunisticMaxSOC {
		return e.rule4(now, snapshot, curve, currentPrice, th, session)
	}

	// Rule 5 — preventive partial charging.
	if snapshot.SOCPercent >= e.cfg.PreventiveMinSOC && snapshot.SOCPercent <= e.cfg.PreventiveMaxSOC && currentPrice.EffectivePricePLNKWh <= th.CriticalChargePLNKWh {
		if d, handled := e.rule5(now, snapshot, curve, th); handled {
			return d
		}
	}

	// Rule 6 — normal tier with hysteresis.
	if snapshot.SOCPercent >= e.cfg.OpportunisticMaxSOC {
		return e.rule6(now, snapshot, curve, session)
	}

	return wait("no rule matched, holding", model.PriorityLow, 0.3, session)
}

// rule1 evaluates active-session continuation. Returns handled=false when
// the protection window has expired and the target SOC is not yet reached,
// so the caller falls through to the rest of the cascade.
func (e *Engine) rule1(now time.Time, snapshot model.SystemSnapshot, session *model.ChargingSession) (ChargeDecision, bool) {
	if snapshot.SOCPercent >= e.cfg.NearFullStopSOC {
		e.recordFullChargeIfApplicable(session, snapshot.SOCPercent)
		return wait("session stopped: near-full SOC reached", model.PriorityLow, 0.7, nil), true
	}
	if now.Before(session.ProtectedUntil) {
		return charge(session.TargetSOC, "session protected window active, continuing regardless of price", model.PriorityHigh, 0.8, session), true
	}
	// Protection expired: degrade gracefully back into the cascade by
	// treating it as no active session, unless the SOC has actually
	// reached target.
	if snapshot.SOCPercent >= session.TargetSOC {
		e.recordFullChargeIfApplicable(session, snapshot.SOCPercent)
		return wait("session completed: target SOC reached", model.PriorityLow, 0.7, nil), true
	}
	return ChargeDecision{}, false
}

// recordFullChargeIfApplicable stores the stopping SOC as the reference
// point for Rule 6's minimum-discharge-depth gate. Partial sessions
// (Rule 5) don't count as a full charge.
func (e *Engine) recordFullChargeIfApplicable(session *model.ChargingSession, soc float64) {
	if session.PartialSession || e.normalLedger == nil {
		return
	}
	if err := e.normalLedger.RecordFullCharge(soc); err != nil {
		_ = err
	}
}

// startSession creates a new charging session, estimating the protected
// duration from the configured battery model.
func (e *Engine) startSession(now time.Time, snapshot model.SystemSnapshot, targetSOC float64, partial bool) *model.ChargingSession {
	required := e.estimateChargeDuration(snapshot.SOCPercent, targetSOC)
	protectedUntil := now.Add(time.Duration(float64(required) * (1 + e.cfg.ProtectionBufferFrac)))
	return &model.ChargingSession{
		Active:            true,
		StartTime:         now,
		StartSOC:          snapshot.SOCPercent,
		TargetSOC:         targetSOC,
		ProtectedUntil:    protectedUntil,
		PostponementCount: 0,
		PartialSession:    partial,
	}
}

// estimateChargeDuration returns the wall-clock time needed to charge from
// fromSOC to toSOC at the configured charge power.
func (e *Engine) estimateChargeDuration(fromSOC, toSOC float64) time.Duration {
	if toSOC <= fromSOC || e.cfg.ChargePowerKW <= 0 {
		return 0
	}
	deltaKWh := (toSOC - fromSOC) / 100.0 * e.cfg.BatteryCapacityKWh
	hours := deltaKWh / e.cfg.ChargePowerKW
	return time.Duration(hours * float64(time.Hour))
}

// cheapestWithin24h returns the lowest effective price in [now, now+24h).
func cheapestWithin24h(curve model.PriceCurve, now time.Time) (model.PricePoint, bool) {
	return curve.Cheapest(now, now.Add(24*time.Hour))
}

// percentileOfRecent computes the p-th percentile of effective prices
// observed in [now-24h, now+24h) of the curve (whatever history/forecast
// it carries) as the basis for Rule 6's entry gate.
func percentileOfRecent(curve model.PriceCurve, now time.Time, p float64) (float64, bool) {
	pts := curve.Window(now.Add(-24*time.Hour), now.Add(24*time.Hour))
	if len(pts) == 0 {
		return 0, false
	}
	prices := make([]float64, len(pts))
	for i, pt := range pts {
		prices[i] = pt.EffectivePricePLNKWh
	}
	sort.Float64s(prices)
	if len(prices) == 1 {
		return prices[0], true
	}
	rank := (p / 100.0) * float64(len(prices)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(prices) {
		return prices[len(prices)-1], true
	}
	frac := rank - float64(lo)
	return prices[lo]*(1-frac) + prices[hi]*frac, true
}
