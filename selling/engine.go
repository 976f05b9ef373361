// Package selling implements the Selling Decision Engine (Component D):
// safety gates, a risk-adjusted safety margin, dynamic SOC floors keyed to
// price magnitude, sell-then-buy prevention, daily/session SOC-drop
// budgets, and smart timing against forecast peaks.
package selling

import (
	"fmt"
	"time"

	"github.com/mjanicki/energy-core/model"
)

// Engine evaluates the selling cascade once per coordinator tick.
type Engine struct {
	cfg         Config
	clock       model.Clock
	dropLedger  *DropLedger
	cycleLedger *CycleLedger
	sessionSeq  int
}

func New(cfg Config, clock model.Clock, dropLedger *DropLedger, cycleLedger *CycleLedger) *Engine {
	return &Engine{cfg: cfg, clock: clock, dropLedger: dropLedger, cycleLedger: cycleLedger}
}

// Decide evaluates whether to start, continue, or stop selling.
// forecastedConsumptionKWh is the household's forecast net consumption
// (load minus PV) over the sell-then-buy horizon, supplied by the
// coordinator from the shared forecast/consumption-history collaborators.
func (e *Engine) Decide(
	snapshot model.SystemSnapshot,
	curve model.PriceCurve,
	forecast []model.ForecastPoint,
	forecastedConsumptionKWh float64,
	session *model.SellingSession,
	th model.Thresholds,
) SellDecision {
	now := e.clock.Now()

	if session != nil && session.Active {
		return e.continueOrStop(now, snapshot, session)
	}

	current, ok := curve.At(now)
	if !ok {
		return wait("no current price available", 0, RiskMedium, nil)
	}

	avgConfidence := avgForecastConfidence(forecast, now, e.cfg.SellThenBuyHorizon)
	emergency := current.EffectivePricePLNKWh >= e.cfg.EmergencySpikePricePLNKWh

	effectiveMargin := e.riskAdjustedMargin(now, avgConfidence)

	if d, failed := e.safetyGates(now, snapshot, effectiveMargin, emergency); failed {
		return d
	}

	if !emergency {
		minSOC := e.cfg.DefaultMinSOC
		if e.cfg.DynamicThresholdsEnabled && e.isPeakHour(now) && e.rechargeOpportunityExists(curve, now, current.EffectivePricePLNKWh) {
			minSOC = e.cfg.minSOCForPrice(current.EffectivePricePLNKWh)
		}
		if snapshot.SOCPercent < minSOC {
			return wait(fmt.Sprintf("SOC %.1f%% below minimum to sell (%.1f%%)", snapshot.SOCPercent, minSOC), 0.3, RiskLow, nil)
		}
	}

	if blocked, reason := e.profitMarginBlocked(current.EffectivePricePLNKWh, emergency); blocked {
		return wait(reason, 0.2, RiskMedium, nil)
	}

	remainingBudget := e.remainingDropBudget(now)
	if remainingBudget <= 0 {
		return wait("daily SOC-drop budget exhausted", 0.2, RiskLow, nil)
	}

	sellableSOC := snapshot.SOCPercent - effectiveMargin
	if sellableSOC > remainingBudget {
		sellableSOC = remainingBudget
	}
	if sellableSOC <= 0 {
		return wait("no sellable energy above safety margin", 0.2, RiskLow, nil)
	}
	sellableKWh := sellableSOC / 100.0 * e.cfg.BatteryCapacityKWh

	if !emergency {
		if blocked, reason := e.sellThenBuyBlocked(curve, forecast, now, current.EffectivePricePLNKWh, sellableKWh, forecastedConsumptionKWh); blocked {
			return wait(reason, 0.3, RiskHigh, nil)
		}
	}

	if !emergency {
		if peak, found := e.upcomingPeak(forecast, now); found && peak.PricePLNKWh >= current.EffectivePricePLNKWh*(1+e.cfg.PeakMarginFraction) {
			return wait(fmt.Sprintf("smart timing: higher peak of %.3f forecast at %s, waiting", peak.PricePLNKWh, peak.Timestamp.Format("15:04")), 0.4, RiskLow, nil)
		}
	}

	revenue := sellableKWh * e.cfg.DischargeEfficiency * current.EffectivePricePLNKWh * e.cfg.RevenueFactor
	confidence := e.confidence(snapshot, current.EffectivePricePLNKWh, forecastedConsumptionKWh, sellableKWh, e.isPeakHour(now), effectiveMargin)
	risk := e.riskLevel(snapshot, current.EffectivePricePLNKWh)

	if e.cycleLedger != nil {
		if err := e.cycleLedger.Record(now); err != nil {
			_ = err
		}
	}

	e.sessionSeq++
	next := &model.SellingSession{
		SessionID:       fmt.Sprintf("sell-%d-%d", now.Unix(), e.sessionSeq),
		Active:          true,
		StartTime:       now,
		StartSOC:        snapshot.SOCPercent,
		TargetSOC:       effectiveMargin,
		SellingPowerW:   e.cfg.SellingPowerW,
		ExpectedRevenue: revenue,
		Status:          model.SellingActive,
	}

	return SellDecision{
		Decision:        DecisionStart,
		PowerW:          e.cfg.SellingPowerW,
		ExpectedRevenue: revenue,
		Reason:          fmt.Sprintf("selling: SOC %.1f%% above margin %.1f%%, price %.3f PLN/kWh", snapshot.SOCPercent, effectiveMargin, current.EffectivePricePLNKWh),
		Confidence:      confidence,
		RiskLevel:       risk,
		NextSession:     next,
	}
}

// continueOrStop handles an already-active session: stop at target+1%
// hysteresis band, otherwise continue unchanged.
func (e *Engine) continueOrStop(now time.Time, snapshot model.SystemSnapshot, session *model.SellingSession) SellDecision {
	if snapshot.SOCPercent <= session.TargetSOC+1.0 {
		drop := session.StartSOC - snapshot.SOCPercent
		if drop < 0 {
			drop = 0
		}
		return SellDecision{
			Decision:        DecisionStop,
			Reason:          fmt.Sprintf("selling session complete: SOC %.1f%% reached target %.1f%% (+1%% band)", snapshot.SOCPercent, session.TargetSOC),
			Confidence:      0.8,
			RiskLevel:       RiskLow,
			NextSession:     nil,
			SOCDropToRecord: drop,
		}
	}
	return SellDecision{
		Decision:    DecisionContinue,
		PowerW:      session.SellingPowerW,
		Reason:      "selling session in progress",
		Confidence:  0.7,
		RiskLevel:   RiskLow,
		NextSession: session,
	}
}
