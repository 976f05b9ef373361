package selling

import (
	"fmt"
	"time"

	"github.com/mjanicki/energy-core/model"
)

// riskAdjustedMargin computes the floor below which selling is forbidden,
// depending on forecast confidence and time-of-day.
func (e *Engine) riskAdjustedMargin(now time.Time, avgConfidence float64) float64 {
	local := now.In(e.location())
	if inHourRange(local.Hour(), e.cfg.EveningHoursStart, e.cfg.EveningHoursEnd) {
		return e.cfg.EveningMargin
	}
	if avgConfidence >= e.cfg.HighConfidenceThreshold {
		return e.cfg.AggressiveMargin
	}
	return e.cfg.ModerateMargin
}

func (e *Engine) location() *time.Location {
	if e.cfg.Location != nil {
		return e.cfg.Location
	}
	return time.Local
}

// safetyGates runs the five mandatory gates. Gate 5 (night hours) is
// bypassed under an emergency spike override.
func (e *Engine) safetyGates(now time.Time, snapshot model.SystemSnapshot, effectiveMargin float64, emergency bool) (SellDecision, bool) {
	if snapshot.SOCPercent <= effectiveMargin {
		return wait(fmt.Sprintf("safety gate: SOC %.1f%% at or below safety margin %.1f%%", snapshot.SOCPercent, effectiveMargin), 0.2, RiskLow, nil), true
	}
	if snapshot.BatteryTempC < e.cfg.BatteryTempMinC || snapshot.BatteryTempC > e.cfg.BatteryTempMaxC {
		return wait(fmt.Sprintf("safety gate: battery temperature %.1f°C out of range", snapshot.BatteryTempC), 0.1, RiskHigh, nil), true
	}
	if snapshot.GridVoltageV != 0 && (snapshot.GridVoltageV < e.cfg.GridVoltageMinV || snapshot.GridVoltageV > e.cfg.GridVoltageMaxV) {
		return wait(fmt.Sprintf("safety gate: grid voltage %.1fV out of range", snapshot.GridVoltageV), 0.1, RiskHigh, nil), true
	}
	if e.cycleLedger != nil && e.cycleLedger.CountToday(now) >= e.cfg.MaxDailyCycles {
		return wait("safety gate: daily cycle count limit reached", 0.2, RiskMedium, nil), true
	}
	if !emergency && e.isNightHours(now) {
		return wait("safety gate: within night hours, selling suppressed", 0.2, RiskLow, nil), true
	}
	return SellDecision{}, false
}

func inHourRange(hour, start, end int) bool {
	if start == end {
		return true
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

func (e *Engine) isNightHours(now time.Time) bool {
	local := now.In(e.location())
	return inHourRange(local.Hour(), e.cfg.NightHoursStart, e.cfg.NightHoursEnd)
}

func (e *Engine) isPeakHour(now time.Time) bool {
	local := now.In(e.location())
	return inHourRange(local.Hour(), e.cfg.PeakHourStart, e.cfg.PeakHourEnd)
}

// profitMarginBlocked reports whether the current price fails the
// profitability floor: below MinSellingPricePLNKWh outright, or below
// the profit-margin-multiplied threshold derived from it. Both checks
// are bypassed under an emergency spike override.
func (e *Engine) profitMarginBlocked(price float64, emergency bool) (bool, string) {
	if price < e.cfg.MinSellingPricePLNKWh {
		return true, fmt.Sprintf("price %.3f PLN/kWh below minimum selling price %.3f PLN/kWh", price, e.cfg.MinSellingPricePLNKWh)
	}
	if emergency {
		return false, ""
	}
	minProfitablePrice := e.cfg.MinSellingPricePLNKWh * e.cfg.ProfitMarginMultiplier
	if price < minProfitablePrice {
		return true, fmt.Sprintf("price %.3f PLN/kWh below profitable threshold %.3f PLN/kWh (%.1fx margin)", price, minProfitablePrice, e.cfg.ProfitMarginMultiplier)
	}
	return false, ""
}

// rechargeOpportunityExists reports whether a price at or below
// RechargeOpportunityFactor × current is available within the next 12h,
// making it safe to sell down to a lower dynamic floor now.
func (e *Engine) rechargeOpportunityExists(curve model.PriceCurve, now time.Time, currentPrice float64) bool {
	cheapest, found := curve.Cheapest(now, now.Add(12*time.Hour))
	if !found {
		return false
	}
	return cheapest.EffectivePricePLNKWh <= currentPrice*e.cfg.RechargeOpportunityFactor
}

// remainingDropBudget returns the lesser of the per-session cap and the
// remaining daily cumulative budget.
func (e *Engine) remainingDropBudget(now time.Time) float64 {
	remaining := e.cfg.MaxSOCDropPerSession
	if e.dropLedger != nil {
		dailyRemaining := e.cfg.MaxSOCDropPerDay - e.dropLedger.Today(now)
		if dailyRemaining < remaining {
			remaining = dailyRemaining
		}
	}
	return remaining
}

// sellThenBuyBlocked evaluates the sell-then-buy risk: selling now should
// not force a more expensive buy-back later.
func (e *Engine) sellThenBuyBlocked(curve model.PriceCurve, forecast []model.ForecastPoint, now time.Time, currentPrice, sellableKWh, deficitKWh float64) (bool, string) {
	if deficitKWh <= 0 {
		return false, ""
	}
	if deficitKWh > e.cfg.MaxDeficitFractionOfSale*sellableKWh {
		return true, fmt.Sprintf("sell-then-buy: forecast deficit %.1f kWh exceeds %.0f%% of sellable energy", deficitKWh, e.cfg.MaxDeficitFractionOfSale*100)
	}

	maxFuturePrice := maxPriceInWindow(curve, forecast, now, e.cfg.SellThenBuyHorizon)
	buyBackCost := deficitKWh * maxFuturePrice * e.cfg.SellThenBuyMaxPriceSafety
	expectedRevenue := sellableKWh * currentPrice * e.cfg.DischargeEfficiency * e.cfg.RevenueFactor

	if expectedRevenue > 0 && buyBackCost > e.cfg.MaxBuyBackToRevenueRatio*expectedRevenue {
		return true, fmt.Sprintf("sell-then-buy: projected buy-back cost %.2f exceeds %.1fx expected revenue %.2f", buyBackCost, e.cfg.MaxBuyBackToRevenueRatio, expectedRevenue)
	}
	return false, ""
}

// maxPriceInWindow returns the highest price across both the price curve
// and the forecast within [now, now+horizon).
func maxPriceInWindow(curve model.PriceCurve, forecast []model.ForecastPoint, now time.Time, horizon time.Duration) float64 {
	var max float64
	for _, p := range curve.Window(now, now.Add(horizon)) {
		if p.EffectivePricePLNKWh > max {
			max = p.EffectivePricePLNKWh
		}
	}
	for _, f := range forecast {
		if !f.Timestamp.Before(now) && f.Timestamp.Before(now.Add(horizon)) && f.PricePLNKWh > max {
			max = f.PricePLNKWh
		}
	}
	return max
}

// upcomingPeak returns the highest-priced forecast point within the
// smart-timing horizon among those whose confidence meets MinConfidence.
func (e *Engine) upcomingPeak(forecast []model.ForecastPoint, now time.Time) (model.ForecastPoint, bool) {
	var best model.ForecastPoint
	found := false
	for _, f := range forecast {
		if f.Timestamp.Before(now) || !f.Timestamp.Before(now.Add(e.cfg.SmartTimingHorizon)) {
			continue
		}
		if f.Confidence < e.cfg.MinConfidence {
			continue
		}
		if !found || f.PricePLNKWh > best.PricePLNKWh {
			best = f
			found = true
		}
	}
	return best, found
}

// avgForecastConfidence averages forecast confidence over [now, now+horizon).
// ForecastUnavailable is represented by an empty slice, which yields 0.
func avgForecastConfidence(forecast []model.ForecastPoint, now time.Time, horizon time.Duration) float64 {
	var sum float64
	var n int
	for _, f := range forecast {
		if !f.Timestamp.Before(now) && f.Timestamp.Before(now.Add(horizon)) {
			sum += f.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// confidence is the weighted sum from §4.4: SOC headroom (30%), price
// magnitude (30%), household deficit (20%), peak-hour bonus (10%),
// safety-margin headroom (10%).
func (e *Engine) confidence(snapshot model.SystemSnapshot, price, deficitKWh, sellableKWh float64, peakHour bool, margin float64) float64 {
	socHeadroom := clamp01((snapshot.SOCPercent - margin) / 50.0)
	priceMagnitude := clamp01(price / 2.0)
	deficitFactor := clamp01(1.0 - deficitKWh/10.0)
	peakBonus := 0.0
	if peakHour {
		peakBonus = 1.0
	}
	marginHeadroom := clamp01((snapshot.SOCPercent - margin) / 30.0)

	score := socHeadroom*0.30 + priceMagnitude*0.30 + deficitFactor*0.20 + peakBonus*0.10 + marginHeadroom*0.10
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// riskLevel is an ordinal score from SOC and price only; session duration
// is not considered. Low risk when SOC is high and price is high (selling
// surplus at a good price), high risk at the opposite extreme.
func (e *Engine) riskLevel(snapshot model.SystemSnapshot, price float64) RiskLevel {
	score := 0
	if snapshot.SOCPercent < 70 {
		score++
	}
	if price < 0.6 {
		score++
	}
	switch {
	case score == 0:
		return RiskLow
	case score == 1:
		return RiskMedium
	default:
		return RiskHigh
	}
}
