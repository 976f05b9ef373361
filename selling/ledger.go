package selling

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mjanicki/energy-core/model"
)

// DropLedger is the JSON-backed daily SOC-drop ledger (§3 Daily SOC-drop
// ledger; §4.4 daily cumulative cap), persisted to daily_soc_drops.json
// via temp-file + rename.
type DropLedger struct {
	mu     sync.Mutex
	path   string
	ledger *model.DailySOCDropLedger
}

func NewDropLedger(path string) (*DropLedger, error) {
	l := &DropLedger{path: path, ledger: model.NewDailySOCDropLedger()}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("read daily soc-drop ledger: %w", err)
	}
	var drops map[string]float64
	if err := json.Unmarshal(data, &drops); err != nil {
		return nil, fmt.Errorf("decode daily soc-drop ledger: %w", err)
	}
	l.ledger.Drops = drops
	return l, nil
}

// Today returns the cumulative SOC drop recorded for now's calendar date.
func (l *DropLedger) Today(now time.Time) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ledger.Today(now)
}

// Record adds a SOC drop and persists atomically, pruning entries older
// than 7 days.
func (l *DropLedger) Record(now time.Time, dropPercent float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ledger.Add(now, dropPercent)
	l.ledger.Prune(now)
	return l.saveLocked()
}

func (l *DropLedger) saveLocked() error {
	if l.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(l.ledger.Drops, "", "  ")
	if err != nil {
		return fmt.Errorf("encode daily soc-drop ledger: %w", err)
	}
	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, ".soc-drops-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp ledger file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp ledger file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp ledger file: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp ledger file: %w", err)
	}
	return nil
}

// CycleLedger tracks selling-session start timestamps to enforce the
// daily max-cycles safety gate, resetting at local midnight.
type CycleLedger struct {
	mu    sync.Mutex
	path  string
	Starts []time.Time `json:"starts"`
}

func NewCycleLedger(path string) (*CycleLedger, error) {
	l := &CycleLedger{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("read cycle ledger: %w", err)
	}
	if err := json.Unmarshal(data, l); err != nil {
		return nil, fmt.Errorf("decode cycle ledger: %w", err)
	}
	return l, nil
}

// CountToday returns how many selling sessions started on now's local
// calendar date.
func (l *CycleLedger) CountToday(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	local := now.Local()
	boundary := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	count := 0
	for _, s := range l.Starts {
		if !s.Before(boundary) {
			count++
		}
	}
	return count
}

func (l *CycleLedger) Record(at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.Starts = append(l.Starts, at)
	cutoff := at.AddDate(0, 0, -14)
	kept := l.Starts[:0]
	for _, s := range l.Starts {
		if !s.Before(cutoff) {
			kept = append(kept, s)
		}
	}
	l.Starts = kept

	if l.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cycle ledger: %w", err)
	}
	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, ".cycle-ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cycle ledger file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp cycle ledger file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp cycle ledger file: %w", err)
	}
	return os.Rename(tmpPath, l.path)
}
