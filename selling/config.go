package selling

import "time"

// FloorTier is one row of the dynamic minimum-SOC-to-sell table, keyed by
// current price.
type FloorTier struct {
	MinPricePLNKWh float64 // inclusive lower bound
	MinSOC         float64
}

// Config holds every tunable named in the selling decision cascade.
type Config struct {
	// Safety gates
	BatteryTempMinC, BatteryTempMaxC   float64
	GridVoltageMinV, GridVoltageMaxV   float64
	MaxDailyCycles                     int
	NightHoursStart, NightHoursEnd     int // local hours, wraps midnight
	EmergencySpikePricePLNKWh          float64 // default 1.50

	// Risk-adjusted safety margin
	EveningHoursStart, EveningHoursEnd int     // default 18-22
	EveningMargin                      float64 // default 55
	HighConfidenceThreshold            float64 // default 0.8
	AggressiveMargin                   float64 // default 48
	ModerateMargin                     float64 // default 50

	// Dynamic minimum SOC to start selling
	DefaultMinSOC            float64 // default 80
	DynamicThresholdsEnabled bool
	PeakHourStart, PeakHourEnd int // default 17-21
	RechargeOpportunityFactor float64 // default 0.7 (price <= 0.7x current within 12h)
	FloorTable                []FloorTier

	// Sell-then-buy prevention
	SellThenBuyHorizon       time.Duration // default 12h
	SellThenBuyMaxPriceSafety float64      // default 1.25
	MaxDeficitFractionOfSale float64       // default 0.5
	MaxBuyBackToRevenueRatio float64       // default 1.5

	// Daily/session SOC-drop budget
	MaxSOCDropPerSession float64 // default 20
	MaxSOCDropPerDay     float64 // default 40

	// Smart timing
	PeakMarginFraction float64 // default 0.10 (10% higher within next 6h)
	SmartTimingHorizon time.Duration // default 6h
	MinConfidence      float64       // default 0.5

	// Profit-margin gate
	MinSellingPricePLNKWh  float64 // default 0.50
	ProfitMarginMultiplier float64 // default 1.5

	// Expected revenue / physical model
	DischargeEfficiency float64 // default 0.95
	RevenueFactor       float64 // default 1.0
	SellingPowerW       float64 // default 5000
	BatteryCapacityKWh  float64

	Location *time.Location
}

func DefaultConfig() Config {
	return Config{
		BatteryTempMinC: -20, BatteryTempMaxC: 50,
		GridVoltageMinV: 200, GridVoltageMaxV: 250,
		MaxDailyCycles:             2,
		NightHoursStart:            22,
		NightHoursEnd:              6,
		EmergencySpikePricePLNKWh:  1.50,

		EveningHoursStart:       18,
		EveningHoursEnd:         22,
		EveningMargin:           55,
		HighConfidenceThreshold: 0.8,
		AggressiveMargin:        48,
		ModerateMargin:          50,

		DefaultMinSOC:             80,
		DynamicThresholdsEnabled:  true,
		PeakHourStart:             17,
		PeakHourEnd:               21,
		RechargeOpportunityFactor: 0.7,
		FloorTable: []FloorTier{
			{MinPricePLNKWh: 1.20, MinSOC: 70},
			{MinPricePLNKWh: 0.90, MinSOC: 75},
			{MinPricePLNKWh: 0.80, MinSOC: 60},
			{MinPricePLNKWh: 0.70, MinSOC: 80},
			{MinPricePLNKWh: 0, MinSOC: 80},
		},

		SellThenBuyHorizon:        12 * time.Hour,
		SellThenBuyMaxPriceSafety: 1.25,
		MaxDeficitFractionOfSale:  0.5,
		MaxBuyBackToRevenueRatio:  1.5,

		MaxSOCDropPerSession: 20,
		MaxSOCDropPerDay:     40,

		PeakMarginFraction: 0.10,
		SmartTimingHorizon: 6 * time.Hour,
		MinConfidence:      0.5,

		MinSellingPricePLNKWh:  0.50,
		ProfitMarginMultiplier: 1.5,

		DischargeEfficiency: 0.95,
		RevenueFactor:       1.0,
		SellingPowerW:       5000,
		BatteryCapacityKWh:  10.0,

		Location: time.Local,
	}
}

// minSOCForPrice looks up the dynamic floor table for the tier matching
// price, returning the first tier whose MinPricePLNKWh the price meets or
// exceeds (table rows are ordered highest price-break first).
func (c Config) minSOCForPrice(price float64) float64 {
	for _, tier := range c.FloorTable {
		if price >= tier.MinPricePLNKWh {
			return tier.MinSOC
		}
	}
	return c.DefaultMinSOC
}
