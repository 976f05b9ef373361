// Package threshold implements the Adaptive Threshold Engine: a rolling
// buffer of observed effective prices publishing two percentile-derived
// bands (high-price, critical-charge) at a bounded refresh cadence.
package threshold

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/mjanicki/energy-core/model"
)

// SeasonMultiplier maps a calendar month to a seasonal adjustment factor
// applied to both thresholds (winter runs slightly higher, summer slightly
// lower).
type SeasonMultiplier map[time.Month]float64

// DefaultSeasonMultiplier gives winter months a small premium and summer
// months a small discount; shoulder months are neutral.
func DefaultSeasonMultiplier() SeasonMultiplier {
	return SeasonMultiplier{
		time.January: 1.08, time.February: 1.08, time.December: 1.08,
		time.June: 0.95, time.July: 0.95, time.August: 0.95,
		time.March: 1.0, time.April: 1.0, time.May: 1.0,
		time.September: 1.0, time.October: 1.0, time.November: 1.02,
	}
}

// Config configures the threshold engine. Percentiles are in [0, 100].
type Config struct {
	MinSamples     int
	UpdateInterval time.Duration
	PercentileHigh float64
	PercentileCrit float64
	MinHigh, MaxHigh float64
	MinCrit, MaxCrit float64
	Multiplier     SeasonMultiplier
	// Fallback is used while insufficient samples exist.
	Fallback model.Thresholds
	// MaxBufferDays bounds how much history is retained.
	MaxBufferDays int
}

func DefaultConfig() Config {
	return Config{
		MinSamples:     48,
		UpdateInterval: 3 * time.Hour,
		PercentileHigh: 75,
		PercentileCrit: 25,
		MinHigh:        0.40, MaxHigh: 2.50,
		MinCrit: 0.10, MaxCrit: 1.00,
		Multiplier:    DefaultSeasonMultiplier(),
		Fallback:      model.Thresholds{HighPricePLNKWh: 0.90, CriticalChargePLNKWh: 0.35},
		MaxBufferDays: 30,
	}
}

// Engine owns the rolling buffer and the current published thresholds. It
// is the single writer of Thresholds; readers after a refresh see a
// consistent, immutable snapshot via Current().
type Engine struct {
	cfg    Config
	clock  model.Clock
	logger *log.Logger

	mu          sync.RWMutex
	samples     map[int64]model.PricePoint // keyed by unix seconds, dedupes by timestamp
	current     model.Thresholds
	lastLogged  time.Time
}

func New(cfg Config, clock model.Clock, logger *log.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
		samples: make(map[int64]model.PricePoint),
		current: cfg.Fallback,
	}
}

// Observe records a price point into the rolling buffer, deduping by
// timestamp, and evicts samples older than MaxBufferDays.
func (e *Engine) Observe(p model.PricePoint) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.samples[p.Timestamp.Unix()] = p
	cutoff := p.Timestamp.AddDate(0, 0, -e.cfg.MaxBufferDays)
	for k, v := range e.samples {
		if v.Timestamp.Before(cutoff) {
			delete(e.samples, k)
		}
	}
}

// ObserveCurve bulk-loads a price curve.
func (e *Engine) ObserveCurve(curve model.PriceCurve) {
	for _, p := range curve.Points {
		e.Observe(p)
	}
}

// Current returns the last-published thresholds without attempting a
// refresh.
func (e *Engine) Current() model.Thresholds {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// Refresh recomputes thresholds from the buffer once the update interval
// has elapsed since the last refresh; within the interval the previous
// thresholds are returned unchanged. When the interval has elapsed but too
// few samples exist, the configured fallback thresholds are published
// (stamped with the current time). Idempotent within the refresh interval.
func (e *Engine) Refresh() model.Thresholds {
	now := e.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if now.Sub(e.current.ComputedAt) < e.cfg.UpdateInterval && !e.current.ComputedAt.IsZero() {
		return e.current
	}

	if len(e.samples) < e.cfg.MinSamples {
		if e.logger != nil && now.Sub(e.lastLogged) >= e.cfg.UpdateInterval {
			e.logger.Printf("threshold: insufficient samples (%d < %d), using fallback", len(e.samples), e.cfg.MinSamples)
			e.lastLogged = now
		}
		e.current = e.cfg.Fallback
		e.current.ComputedAt = now
		e.current.SampleCount = len(e.samples)
		return e.current
	}

	prices := make([]float64, 0, len(e.samples))
	for _, p := range e.samples {
		prices = append(prices, p.EffectivePricePLNKWh)
	}
	sort.Float64s(prices)

	mult := e.cfg.Multiplier[now.Month()]
	if mult == 0 {
		mult = 1.0
	}

	high := clip(percentile(prices, e.cfg.PercentileHigh)*mult, e.cfg.MinHigh, e.cfg.MaxHigh)
	crit := clip(percentile(prices, e.cfg.PercentileCrit)*mult, e.cfg.MinCrit, e.cfg.MaxCrit)
	if crit > high {
		crit = high
	}

	e.current = model.Thresholds{
		HighPricePLNKWh:      high,
		CriticalChargePLNKWh: crit,
		ComputedAt:           now,
		SampleCount:          len(prices),
	}
	return e.current
}

// percentile computes the p-th percentile (0-100) of a pre-sorted slice
// using linear interpolation between closest ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := (p / 100.0) * float64(len(sorted)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func clip(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
