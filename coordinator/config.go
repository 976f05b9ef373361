package coordinator

import "time"

// Config holds the coordinator's own knobs: loop cadence, refresh
// intervals, I/O deadlines, and retry policy. Sub-engine configs (tariff,
// threshold, charging, selling) are aggregated separately by the
// top-level application config.
type Config struct {
	LoopInterval            time.Duration
	PriceRefreshInterval    time.Duration
	InverterRefreshInterval time.Duration
	ThresholdUpdateInterval time.Duration
	IODeadline              time.Duration
	FatalTimeout            time.Duration
	ActionRetryAttempts     int
	ForceActionPath         string
	ForceActionTTL          time.Duration
}

func DefaultConfig() Config {
	return Config{
		LoopInterval:            60 * time.Second,
		PriceRefreshInterval:    5 * time.Minute,
		InverterRefreshInterval: 30 * time.Second,
		ThresholdUpdateInterval: 3 * time.Hour,
		IODeadline:              10 * time.Second,
		FatalTimeout:            15 * time.Minute,
		ActionRetryAttempts:     3,
		ForceActionPath:         "force_action.json",
		ForceActionTTL:          10 * time.Minute,
	}
}
