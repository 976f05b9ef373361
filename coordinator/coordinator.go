// Package coordinator implements the control loop (Component E) that
// ties the charging and selling decision engines, the adaptive threshold
// engine, the tariff calculator, and the outbound inverter/price/forecast/
// storage collaborators into one periodic tick: read state, decide,
// apply, persist.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mjanicki/energy-core/charging"
	"github.com/mjanicki/energy-core/forecast"
	"github.com/mjanicki/energy-core/inverter"
	"github.com/mjanicki/energy-core/model"
	"github.com/mjanicki/energy-core/priceapi"
	"github.com/mjanicki/energy-core/selling"
	"github.com/mjanicki/energy-core/storage"
	"github.com/mjanicki/energy-core/tariff"
	"github.com/mjanicki/energy-core/threshold"
)

// Status is the coordinator's self-reported health, mirroring the
// periodic task's own GetStatus shape.
type Status struct {
	Running             bool
	LastTickAt          time.Time
	LastTickErr         error
	TickCount           int64
	ConsecutiveFailures int
	ChargingActive      bool
	SellingActive       bool
}

// Coordinator owns the periodic tick and every collaborator it wires
// together. Reload swaps only the coordinator's own Config; the decision
// engines are never reconstructed mid-run and keep the configs they were
// built with.
type Coordinator struct {
	cfg    Config
	clock  model.Clock
	logger *log.Logger

	chargingEngine  *charging.Engine
	sellingEngine   *selling.Engine
	thresholdEngine *threshold.Engine
	tariffCalc      *tariff.Calculator

	driver      inverter.Driver
	poller      *inverter.Poller
	priceClient *priceapi.Client
	priceCache  *priceapi.Cache
	forecastCli *forecast.Client
	forecastLoc forecast.Location
	store       *storage.Store
	forceAction *ForceActionStore

	mu              sync.Mutex
	chargeSession   *model.ChargingSession
	sellSession     *model.SellingSession
	dropLedgerAdd   func(now time.Time, dropPercent float64) error
	status          Status
	lastSnapshot    model.SystemSnapshot
	lastThresholds  model.Thresholds
	actionRatioEWMA float64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New wires every collaborator into a Coordinator. Nil storage/forecast
// clients are tolerated: the tick degrades gracefully (forecast treated
// as confidence 0, persistence skipped) per the failure-mode rules.
func New(
	cfg Config,
	clock model.Clock,
	logger *log.Logger,
	chargingEngine *charging.Engine,
	sellingEngine *selling.Engine,
	thresholdEngine *threshold.Engine,
	tariffCalc *tariff.Calculator,
	driver inverter.Driver,
	poller *inverter.Poller,
	priceClient *priceapi.Client,
	priceCache *priceapi.Cache,
	forecastCli *forecast.Client,
	forecastLoc forecast.Location,
	store *storage.Store,
	forceAction *ForceActionStore,
	dropLedgerAdd func(now time.Time, dropPercent float64) error,
) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		cfg:             cfg,
		clock:           clock,
		logger:          logger,
		chargingEngine:  chargingEngine,
		sellingEngine:   sellingEngine,
		thresholdEngine: thresholdEngine,
		tariffCalc:      tariffCalc,
		driver:          driver,
		poller:          poller,
		priceClient:     priceClient,
		priceCache:      priceCache,
		forecastCli:     forecastCli,
		forecastLoc:     forecastLoc,
		store:           store,
		forceAction:     forceAction,
		dropLedgerAdd:   dropLedgerAdd,
		stopCh:          make(chan struct{}),
	}
}

// Run starts the poller and drives the tick loop until ctx is cancelled or
// Stop is called. Mirrors the teacher periodic task's ticker/select shape.
func (c *Coordinator) Run(ctx context.Context) {
	c.mu.Lock()
	c.status.Running = true
	c.mu.Unlock()

	if c.poller != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.poller.Run(ctx)
		}()
	}

	ticker := time.NewTicker(c.cfg.LoopInterval)
	defer ticker.Stop()

	c.tick(ctx)
	for {
		select {
		case <-ticker.C:
			c.tick(ctx)
		case <-ctx.Done():
			c.logger.Printf("[COORDINATOR] stopping: %v", ctx.Err())
			c.finish()
			return
		case <-c.stopCh:
			c.logger.Printf("[COORDINATOR] stop requested")
			c.finish()
			return
		}
	}
}

func (c *Coordinator) finish() {
	c.mu.Lock()
	c.status.Running = false
	c.mu.Unlock()
	if c.poller != nil {
		c.poller.Stop()
	}
	c.wg.Wait()
}

// Stop requests a graceful shutdown of the tick loop.
func (c *Coordinator) Stop() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
}

// GetStatus reports the coordinator's current health.
func (c *Coordinator) GetStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LatestState reports the most recently observed system snapshot and
// derived thresholds, for the current-state HTTP endpoint.
func (c *Coordinator) LatestState() (model.SystemSnapshot, model.Thresholds) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSnapshot, c.lastThresholds
}

// Reload swaps the coordinator's own config in place, for SIGHUP hot
// reload. Sessions, ledgers and the threshold engine are untouched.
func (c *Coordinator) Reload(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

// tick executes one full decision cycle: acquire state, refresh price and
// threshold data, resolve the force-action/charging/selling priority
// order, apply the winning decision through the inverter driver with
// retry, and persist the outcome.
func (c *Coordinator) tick(ctx context.Context) {
	now := c.clock.Now()

	tctx, cancel := context.WithTimeout(ctx, c.cfg.IODeadline)
	defer cancel()

	snapshot, age, snapErr := c.poller.Latest()
	if snapErr != nil && c.poller.ConsecutiveFailures() >= 3 {
		c.recordTickResult(fmt.Errorf("inverter snapshot unavailable after %d consecutive failures: %w", c.poller.ConsecutiveFailures(), snapErr))
		return
	}
	_ = age

	curve := c.refreshPriceCurve(tctx, now)
	c.thresholdEngine.ObserveCurve(curve)
	th := c.thresholdEngine.Refresh()

	c.mu.Lock()
	c.lastSnapshot = snapshot
	c.lastThresholds = th
	c.mu.Unlock()

	forecastPoints := c.fetchForecast(tctx, now)

	c.mu.Lock()
	chargeSession := c.chargeSession
	sellSession := c.sellSession
	c.mu.Unlock()

	if cmd, ok := c.forceAction.Peek(now); ok {
		c.applyForceAction(tctx, now, cmd)
		return
	}

	chargeDecision := c.chargingEngine.Decide(snapshot, curve, forecastPoints, chargeSession, th, c.tariffCalc)

	consumptionForecast := c.chargingEngine.ForecastConsumptionKWh(now, c.sellThenBuyHorizon())
	sellDecision := c.sellingEngine.Decide(snapshot, curve, forecastPoints, consumptionForecast, sellSession, th)

	c.mu.Lock()
	c.chargeSession = chargeDecision.NextSession
	c.sellSession = sellDecision.NextSession
	c.mu.Unlock()

	if sellDecision.SOCDropToRecord > 0 && c.dropLedgerAdd != nil {
		if err := c.dropLedgerAdd(now, sellDecision.SOCDropToRecord); err != nil {
			c.logger.Printf("[COORDINATOR] failed to record SOC drop: %v", err)
		}
	}

	kind, action, reason, confidence, priority := c.resolve(chargeDecision, sellDecision)

	applyErr := c.apply(tctx, kind, chargeDecision, sellDecision)

	c.persist(tctx, now, snapshot, kind, action, reason, confidence, priority, sellDecision.ExpectedRevenue, th)

	if applyErr != nil {
		c.recordTickResult(fmt.Errorf("apply decision: %w", applyErr))
		return
	}
	c.recordTickResult(nil)
}

func (c *Coordinator) sellThenBuyHorizon() time.Duration {
	return 12 * time.Hour
}

// resolve picks the winning action per the priority order: emergency >
// force (handled earlier in tick) > active session > sell > charge >
// wait. An active session on either side always wins over a fresh
// decision on the other side, since stopping an in-flight session
// mid-way is itself a decision those engines already made.
func (c *Coordinator) resolve(cd charging.ChargeDecision, sd selling.SellDecision) (model.Kind, string, string, float64, model.Priority) {
	if cd.Priority == model.PriorityEmergency {
		return model.KindCharge, "start_charge", cd.Reason, cd.Confidence, cd.Priority
	}
	if sd.Decision == selling.DecisionContinue || sd.Decision == selling.DecisionStop {
		action := "continue_sell"
		if sd.Decision == selling.DecisionStop {
			action = "stop_sell"
		}
		return model.KindSell, action, sd.Reason, sd.Confidence, model.PriorityHigh
	}
	if cd.NextSession != nil && cd.NextSession.Active {
		return model.KindCharge, "continue_charge", cd.Reason, cd.Confidence, cd.Priority
	}
	if sd.Decision == selling.DecisionStart {
		return model.KindSell, "start_sell", sd.Reason, sd.Confidence, model.PriorityMedium
	}
	if cd.ShouldCharge {
		return model.KindCharge, "start_charge", cd.Reason, cd.Confidence, cd.Priority
	}
	return model.KindWait, "wait", cd.Reason, cd.Confidence, model.PriorityLow
}

// apply drives the inverter driver to match the winning decision, retrying
// failures up to ActionRetryAttempts times back to back, with no delay
// between attempts, before giving up.
func (c *Coordinator) apply(ctx context.Context, kind model.Kind, cd charging.ChargeDecision, sd selling.SellDecision) error {
	var action func(context.Context) error

	switch {
	case kind == model.KindCharge && cd.ShouldCharge:
		action = func(ctx context.Context) error {
			if err := c.driver.SetOperationMode(ctx, inverter.ModeFastCharge, 100, cd.TargetSOC); err != nil {
				return err
			}
			return c.driver.StartFastCharge(ctx)
		}
	case kind == model.KindCharge:
		action = c.driver.StopFastCharge
	case kind == model.KindSell && (sd.Decision == selling.DecisionStart || sd.Decision == selling.DecisionContinue):
		action = func(ctx context.Context) error {
			return c.driver.SetOperationMode(ctx, inverter.ModeEcoDischarge, sd.PowerW, sd.NextSession.TargetSOC)
		}
	case kind == model.KindSell:
		action = func(ctx context.Context) error {
			return c.driver.SetOperationMode(ctx, inverter.ModeGeneral, 0, 0)
		}
	default:
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.ActionRetryAttempts; attempt++ {
		if err := action(ctx); err != nil {
			lastErr = err
			c.logger.Printf("[COORDINATOR] action attempt %d/%d failed: %v", attempt, c.cfg.ActionRetryAttempts, err)
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: exhausted %d attempts: %v", model.ErrActionFailed, c.cfg.ActionRetryAttempts, lastErr)
}

func (c *Coordinator) applyForceAction(ctx context.Context, now time.Time, cmd ForceActionCommand) {
	var err error
	switch cmd {
	case ForceActionCharge:
		if setErr := c.driver.SetOperationMode(ctx, inverter.ModeFastCharge, 100, 100); setErr == nil {
			err = c.driver.StartFastCharge(ctx)
		} else {
			err = setErr
		}
	case ForceActionDischarge:
		err = c.driver.SetOperationMode(ctx, inverter.ModeEcoDischarge, 100, 0)
	case ForceActionAuto:
		err = c.driver.SetOperationMode(ctx, inverter.ModeGeneral, 0, 0)
	}
	if err != nil {
		c.recordTickResult(fmt.Errorf("force-action %s failed: %w", cmd, err))
		return
	}
	if consumeErr := c.forceAction.Consume(now); consumeErr != nil {
		c.logger.Printf("[COORDINATOR] failed to consume force-action: %v", consumeErr)
	}
	c.recordTickResult(nil)
}

func (c *Coordinator) refreshPriceCurve(ctx context.Context, now time.Time) model.PriceCurve {
	if c.priceCache != nil && !c.priceCache.Stale(now, c.cfg.PriceRefreshInterval) {
		curve, _ := c.priceCache.Get()
		return c.withEffectivePrices(curve, now)
	}
	if c.priceClient == nil {
		if c.priceCache != nil {
			curve, _ := c.priceCache.Get()
			return c.withEffectivePrices(curve, now)
		}
		return model.PriceCurve{}
	}
	curve, err := c.priceClient.FetchDayAhead(ctx, now)
	if err != nil {
		c.logger.Printf("[COORDINATOR] price refresh failed, falling back to cache: %v", err)
		if c.priceCache != nil {
			cached, _ := c.priceCache.Get()
			return c.withEffectivePrices(cached, now)
		}
		return model.PriceCurve{}
	}
	curve = c.withEffectivePrices(curve, now)
	if c.priceCache != nil {
		if err := c.priceCache.Put(curve, now, now.Format("2006-01-02")); err != nil {
			c.logger.Printf("[COORDINATOR] failed to persist price cache: %v", err)
		}
	}
	return curve
}

// withEffectivePrices computes each point's effective end-user price via
// the tariff calculator, since the outbound price source only ever
// delivers raw market prices.
func (c *Coordinator) withEffectivePrices(curve model.PriceCurve, now time.Time) model.PriceCurve {
	if c.tariffCalc == nil {
		return curve
	}
	out := make([]model.PricePoint, len(curve.Points))
	for i, p := range curve.Points {
		eff, err := c.tariffCalc.Calculate(p.MarketPricePLNPerMWh, p.Timestamp, "")
		if err != nil {
			eff = p.EffectivePricePLNKWh
		}
		p.EffectivePricePLNKWh = eff
		out[i] = p
	}
	return model.PriceCurve{Points: out}
}

func (c *Coordinator) fetchForecast(ctx context.Context, now time.Time) []model.ForecastPoint {
	if c.forecastCli == nil {
		return nil
	}
	points, err := c.forecastCli.Fetch(ctx, forecast.QueryParams{Location: c.forecastLoc, Horizon: 24 * time.Hour})
	if err != nil {
		c.logger.Printf("[COORDINATOR] forecast fetch failed, continuing without it: %v", err)
		return nil
	}
	return points
}

func (c *Coordinator) persist(
	ctx context.Context,
	now time.Time,
	snapshot model.SystemSnapshot,
	kind model.Kind,
	action, reason string,
	confidence float64,
	priority model.Priority,
	revenue float64,
	th model.Thresholds,
) {
	efficiencyScore := c.efficiencyScore(kind, confidence)

	if c.store == nil {
		return
	}
	rec := model.DecisionRecord{
		Timestamp:      now,
		Kind:           kind,
		Action:         action,
		Reason:         reason,
		Confidence:     confidence,
		Priority:       priority,
		InputsSnapshot: snapshot,
		DerivedMetrics: map[string]float64{
			"revenue_pln":           revenue,
			"high_price_threshold":  th.HighPricePLNKWh,
			"critical_charge_price": th.CriticalChargePLNKWh,
			"efficiency_score":      efficiencyScore,
		},
	}
	if err := c.store.AppendDecision(ctx, rec); err != nil {
		c.logger.Printf("[COORDINATOR] failed to persist decision: %v", err)
	}
	if err := c.store.AppendSystemState(ctx, snapshot, rec.DerivedMetrics); err != nil {
		c.logger.Printf("[COORDINATOR] failed to persist system state: %v", err)
	}
}

// efficiencyScore is a reporting-only metric, never consulted by any
// decision: confidence*0.6 + charging_ratio*0.4, where charging_ratio is
// an exponentially-weighted fraction of recent ticks that resulted in an
// action (charge or sell) rather than a wait.
const actionRatioDecay = 0.1

func (c *Coordinator) efficiencyScore(kind model.Kind, confidence float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	acted := 0.0
	if kind != model.KindWait {
		acted = 1.0
	}
	c.actionRatioEWMA = c.actionRatioEWMA*(1-actionRatioDecay) + acted*actionRatioDecay

	return confidence*0.6 + c.actionRatioEWMA*0.4
}

func (c *Coordinator) recordTickResult(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.LastTickAt = c.clock.Now()
	c.status.TickCount++
	c.status.LastTickErr = err
	c.status.ChargingActive = c.chargeSession != nil && c.chargeSession.Active
	c.status.SellingActive = c.sellSession != nil && c.sellSession.Active
	if err != nil {
		c.status.ConsecutiveFailures++
		c.logger.Printf("[COORDINATOR] tick failed (failures=%d): %v", c.status.ConsecutiveFailures, err)
	} else {
		c.status.ConsecutiveFailures = 0
	}
}
