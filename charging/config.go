package charging

import "time"

// Config holds every tunable named in the charging decision cascade, with
// the defaults called out in the rule descriptions. It is a frozen record:
// hot-reload replaces the whole struct, it is never mutated in place while
// a decision is in flight.
type Config struct {
	EmergencyThresholdSOC float64 // Rule 2, default 5
	CriticalThresholdSOC  float64 // Rule 3, default 12

	// Rule 1 — session protection
	NearFullStopSOC      float64       // default 90
	ProtectionBufferFrac float64       // default 0.10 (10% buffer on estimated duration)

	// Rule 3 — smart critical
	MinPriceSavingsPercent float64       // default 30
	PVImprovementMinSOC    float64       // default 8
	Rule3BaseMaxWait       time.Duration // default 4h, scaled by savings/urgency
	Rule3LowSOCUrgency     float64       // default 8, below this urgency halves max wait

	// Rule 4 — multi-window opportunistic
	OpportunisticMinSOC    float64       // default 12 (inclusive)
	OpportunisticMaxSOC    float64       // default 50 (exclusive)
	EvaluationHorizon      time.Duration // default 12h
	NetBenefitThresholdPLN float64       // default 0.10
	CommitmentMarginMinutes int          // default 30

	// Rule 5 — preventive partial charging
	PreventiveMinSOC            float64 // default 30
	PreventiveMaxSOC            float64 // default 60
	PreventiveHighPriceMinDur   time.Duration // default 3h
	PreventiveCriticalSOCForecast float64 // default 15
	MinPartialChargeKWh         float64 // default 1.0
	MaxPartialSessionsPerDay    int     // default 4
	PartialLedgerResetHour      int     // default 6 (local)

	// Rule 6 — normal tier hysteresis
	HysteresisEnabled       bool
	NormalStartThresholdSOC float64       // default 85
	NormalStopThresholdSOC  float64       // default 95
	MinSessionDuration      time.Duration // default 30m
	MinDischargeDepthSOC    float64       // default 10
	MaxSessionsPerDay       int           // default 4
	PercentileFallbackMultiplier float64 // default 1.10 (1.10x cheapest-next-24h)

	// Battery/charging physical model, used to estimate durations.
	BatteryCapacityKWh   float64
	ChargePowerKW        float64

	// Consumption forecasting (Rule 4 interim cost)
	DefaultHourlyConsumptionKWh float64
	MinConsumptionSamples       int

	Location *time.Location
}

func DefaultConfig() Config {
	return Config{
		EmergencyThresholdSOC: 5,
		CriticalThresholdSOC:  12,

		NearFullStopSOC:      90,
		ProtectionBufferFrac: 0.10,

		MinPriceSavingsPercent: 30,
		PVImprovementMinSOC:    8,
		Rule3BaseMaxWait:       4 * time.Hour,
		Rule3LowSOCUrgency:     8,

		OpportunisticMinSOC:     12,
		OpportunisticMaxSOC:     50,
		EvaluationHorizon:       12 * time.Hour,
		NetBenefitThresholdPLN:  0.10,
		CommitmentMarginMinutes: 30,

		PreventiveMinSOC:              30,
		PreventiveMaxSOC:              60,
		PreventiveHighPriceMinDur:     3 * time.Hour,
		PreventiveCriticalSOCForecast: 15,
		MinPartialChargeKWh:           1.0,
		MaxPartialSessionsPerDay:      4,
		PartialLedgerResetHour:        6,

		HysteresisEnabled:            true,
		NormalStartThresholdSOC:      85,
		NormalStopThresholdSOC:       95,
		MinSessionDuration:           30 * time.Minute,
		MinDischargeDepthSOC:         10,
		MaxSessionsPerDay:            4,
		PercentileFallbackMultiplier: 1.10,

		BatteryCapacityKWh: 10.0,
		ChargePowerKW:      5.0,

		DefaultHourlyConsumptionKWh: 0.8,
		MinConsumptionSamples:       2,

		Location: time.Local,
	}
}
