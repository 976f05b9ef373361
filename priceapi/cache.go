package priceapi

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mjanicki/energy-core/model"
)

// cachedCurve is the on-disk shape of price_cache.json.
type cachedCurve struct {
	Points       []model.PricePoint `json:"points"`
	FetchedAt    time.Time          `json:"fetched_at"`
	BusinessDate string             `json:"business_date"`
}

// Cache is the price-refresher task's published cache (§5): single writer,
// multi-reader, backed by price_cache.json with atomic rename.
type Cache struct {
	mu           sync.RWMutex
	path         string
	curve        model.PriceCurve
	fetchedAt    time.Time
	businessDate string
}

func NewCache(path string) (*Cache, error) {
	c := &Cache{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("read price cache: %w", err)
	}
	var cc cachedCurve
	if err := json.Unmarshal(data, &cc); err != nil {
		return nil, fmt.Errorf("decode price cache: %w", err)
	}
	c.curve = model.PriceCurve{Points: cc.Points}
	c.fetchedAt = cc.FetchedAt
	c.businessDate = cc.BusinessDate
	return c, nil
}

// Get returns the cached curve and when it was fetched.
func (c *Cache) Get() (model.PriceCurve, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.curve, c.fetchedAt
}

// Put replaces the cached curve for businessDate and persists it.
func (c *Cache) Put(curve model.PriceCurve, fetchedAt time.Time, businessDate string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.curve = curve
	c.fetchedAt = fetchedAt
	c.businessDate = businessDate

	if c.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(cachedCurve{Points: curve.Points, FetchedAt: fetchedAt, BusinessDate: businessDate}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode price cache: %w", err)
	}
	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, ".price-cache-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp price cache file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp price cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp price cache file: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp price cache file: %w", err)
	}
	return nil
}

// Stale reports whether the cache is older than maxAge or for a different
// business date than today.
func (c *Cache) Stale(now time.Time, maxAge time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.fetchedAt.IsZero() {
		return true
	}
	if now.Sub(c.fetchedAt) > maxAge {
		return true
	}
	return c.businessDate != now.Format("2006-01-02")
}
