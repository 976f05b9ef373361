package inverter

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mjanicki/energy-core/model"
)

// Poller is the inverter-poller concurrent unit (§5): it refreshes the
// snapshot cache on a fixed interval and exposes the latest reading to the
// coordinator without blocking it on network I/O.
type Poller struct {
	driver   Driver
	interval time.Duration
	timeout  time.Duration
	logger   *log.Logger

	mu                  sync.RWMutex
	last                model.SystemSnapshot
	lastErr             error
	lastUpdated         time.Time
	consecutiveFailures int

	stopCh chan struct{}
}

func NewPoller(driver Driver, interval, timeout time.Duration, logger *log.Logger) *Poller {
	if logger == nil {
		logger = log.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Poller{driver: driver, interval: interval, timeout: timeout, logger: logger, stopCh: make(chan struct{})}
}

// Run drives the polling loop until ctx is cancelled or Stop is called.
// Intended to be launched with `go poller.Run(ctx)`.
func (p *Poller) Run(ctx context.Context) {
	p.refreshOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.refreshOnce(ctx)
		case <-ctx.Done():
			p.logger.Printf("[INVERTER] poller stopped: %v", ctx.Err())
			return
		case <-p.stopCh:
			p.logger.Printf("[INVERTER] poller stopped")
			return
		}
	}
}

func (p *Poller) Stop() {
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
}

func (p *Poller) refreshOnce(ctx context.Context) {
	tctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	snap, err := p.driver.Snapshot(tctx)
	if err != nil {
		if connErr := p.driver.Connect(tctx); connErr == nil {
			snap, err = p.driver.Snapshot(tctx)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.lastErr = err
		p.consecutiveFailures++
		p.logger.Printf("[INVERTER] snapshot refresh failed (failures=%d): %v", p.consecutiveFailures, err)
		return
	}
	p.last = snap
	p.lastErr = nil
	p.lastUpdated = time.Now()
	p.consecutiveFailures = 0
}

// Latest returns the most recently cached snapshot, the age of that
// reading, and the last refresh error (if the most recent refresh failed).
func (p *Poller) Latest() (model.SystemSnapshot, time.Duration, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var age time.Duration
	if !p.lastUpdated.IsZero() {
		age = time.Since(p.lastUpdated)
	}
	return p.last, age, p.lastErr
}

// ConsecutiveFailures reports how many refreshes have failed in a row,
// used by the coordinator to decide when the inverter is fatally lost.
func (p *Poller) ConsecutiveFailures() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.consecutiveFailures
}
