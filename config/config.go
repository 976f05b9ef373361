// Package config defines the frozen top-level application configuration:
// JSON load/save/validate plus conversion into each collaborator's own
// config type. A reload (SIGHUP) builds a fresh Config and swaps it in
// whole; nothing here is mutated in place while a tick is in flight.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mjanicki/energy-core/charging"
	"github.com/mjanicki/energy-core/coordinator"
	"github.com/mjanicki/energy-core/selling"
	"github.com/mjanicki/energy-core/tariff"
	"github.com/mjanicki/energy-core/threshold"
)

// TariffZone is the JSON-friendly mirror of tariff.Zone.
type TariffZone struct {
	Name            string  `json:"name"`
	SurchargePLNKWh float64 `json:"surcharge_pln_kwh"`
	StartHour       int     `json:"start_hour"`
	EndHour         int     `json:"end_hour"`
}

// Config is the full application configuration.
type Config struct {
	// Site
	Location  string  `json:"location"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	LogLevel  string  `json:"log_level"`
	LogFormat string  `json:"log_format"`

	// Tariff (Component A)
	TariffKind              string       `json:"tariff_kind"`
	TariffZones             []TariffZone `json:"tariff_zones"`
	ServiceChargePLNKWh     float64      `json:"service_charge_pln_kwh"`
	MinimumPriceFloorPLNKWh float64      `json:"minimum_price_floor_pln_kwh"`
	WeekendOffPeakZone      string       `json:"weekend_off_peak_zone"`

	// Threshold (Component B)
	ThresholdMinSamples     int           `json:"threshold_min_samples"`
	ThresholdUpdateInterval time.Duration `json:"threshold_update_interval"`
	ThresholdPercentileHigh float64       `json:"threshold_percentile_high"`
	ThresholdPercentileCrit float64       `json:"threshold_percentile_crit"`

	// Charging (Component C) — the operator-relevant subset; everything
	// else keeps charging.DefaultConfig()'s values.
	EmergencyThresholdSOC float64 `json:"emergency_threshold_soc"`
	CriticalThresholdSOC  float64 `json:"critical_threshold_soc"`
	NearFullStopSOC       float64 `json:"near_full_stop_soc"`
	BatteryCapacityKWh    float64 `json:"battery_capacity_kwh"`
	ChargePowerKW         float64 `json:"charge_power_kw"`

	// Selling (Component D)
	DefaultMinSOCToSell float64 `json:"default_min_soc_to_sell"`
	SellingPowerW       float64 `json:"selling_power_w"`
	MaxSOCDropPerDay    float64 `json:"max_soc_drop_per_day"`

	// Coordinator (Component E)
	LoopInterval         time.Duration `json:"loop_interval"`
	PriceRefreshInterval time.Duration `json:"price_refresh_interval"`
	ActionRetryAttempts  int           `json:"action_retry_attempts"`
	ForceActionPath      string        `json:"force_action_path"`
	ForceActionTTL       time.Duration `json:"force_action_ttl"`

	// Inverter
	InverterAddress string        `json:"inverter_address"`
	InverterTimeout time.Duration `json:"inverter_timeout"`
	PollInterval    time.Duration `json:"poll_interval"`

	// Price source
	PriceAPIUrlFormat     string `json:"price_api_url_format"`
	PriceAPISecurityToken string `json:"price_api_security_token"`
	PriceCachePath        string `json:"price_cache_path"`

	// Forecast source
	ForecastBaseURL   string `json:"forecast_base_url"`
	ForecastUserAgent string `json:"forecast_user_agent"`

	// Storage
	PostgresConnString string `json:"postgres_conn_string"`

	// Web API
	WebAPIPort int `json:"web_api_port"`

	// Ledger files
	PartialSessionLedgerPath string `json:"partial_session_ledger_path"`
	NormalSessionLedgerPath  string `json:"normal_session_ledger_path"`
	DropLedgerPath           string `json:"drop_ledger_path"`
	CycleLedgerPath          string `json:"cycle_ledger_path"`
}

// DefaultConfig seeds the tariff, threshold, charging, selling and
// coordinator fields from those packages' own DefaultConfig(); site,
// inverter, price/forecast source, storage, web API and ledger-path fields
// are literal defaults set here.
func DefaultConfig() *Config {
	t := tariff.DefaultConfig()
	zones := make([]TariffZone, len(t.Zones))
	for i, z := range t.Zones {
		zones[i] = TariffZone{Name: z.Name, SurchargePLNKWh: z.SurchargePLNKWh, StartHour: z.StartHour, EndHour: z.EndHour}
	}

	th := threshold.DefaultConfig()
	ch := charging.DefaultConfig()
	sl := selling.DefaultConfig()
	co := coordinator.DefaultConfig()

	return &Config{
		Location:  "Europe/Warsaw",
		Latitude:  52.2297,
		Longitude: 21.0122,
		LogLevel:  "info",
		LogFormat: "text",

		TariffKind:              string(t.Kind),
		TariffZones:             zones,
		ServiceChargePLNKWh:     t.ServiceChargePLNKWh,
		MinimumPriceFloorPLNKWh: t.MinimumPriceFloorPLNKWh,
		WeekendOffPeakZone:      t.WeekendOffPeakZone,

		ThresholdMinSamples:     th.MinSamples,
		ThresholdUpdateInterval: th.UpdateInterval,
		ThresholdPercentileHigh: th.PercentileHigh,
		ThresholdPercentileCrit: th.PercentileCrit,

		EmergencyThresholdSOC: ch.EmergencyThresholdSOC,
		CriticalThresholdSOC:  ch.CriticalThresholdSOC,
		NearFullStopSOC:       ch.NearFullStopSOC,
		BatteryCapacityKWh:    ch.BatteryCapacityKWh,
		ChargePowerKW:         ch.ChargePowerKW,

		DefaultMinSOCToSell: sl.DefaultMinSOC,
		SellingPowerW:       sl.SellingPowerW,
		MaxSOCDropPerDay:    sl.MaxSOCDropPerDay,

		LoopInterval:         co.LoopInterval,
		PriceRefreshInterval: co.PriceRefreshInterval,
		ActionRetryAttempts:  co.ActionRetryAttempts,
		ForceActionPath:      co.ForceActionPath,
		ForceActionTTL:       co.ForceActionTTL,

		InverterAddress: "192.168.1.100:502",
		InverterTimeout: 10 * time.Second,
		PollInterval:    30 * time.Second,

		PriceAPIUrlFormat:     "https://web-api.tp.entsoe.eu/api?documentType=A44&out_Domain=10YPL-AREA-----S&in_Domain=10YPL-AREA-----S&periodStart=%s&periodEnd=%s&securityToken=%s",
		PriceAPISecurityToken: "",
		PriceCachePath:        "price_cache.json",

		ForecastBaseURL:   "",
		ForecastUserAgent: "energy-core/1.0 (operator@example.com)",

		PostgresConnString: "",

		WebAPIPort: 8090,

		PartialSessionLedgerPath: "partial_charging_sessions.json",
		NormalSessionLedgerPath:  "normal_sessions.json",
		DropLedgerPath:           "daily_soc_drops.json",
		CycleLedgerPath:          "daily_cycles.json",
	}
}

// MarshalJSON renders the duration fields as human-readable strings
// ("3h", "30s") instead of raw int64 nanoseconds.
func (c *Config) MarshalJSON() ([]byte, error) {
	type Alias Config
	return json.Marshal(&struct {
		*Alias
		ThresholdUpdateInterval string `json:"threshold_update_interval"`
		LoopInterval            string `json:"loop_interval"`
		PriceRefreshInterval    string `json:"price_refresh_interval"`
		ForceActionTTL          string `json:"force_action_ttl"`
		InverterTimeout         string `json:"inverter_timeout"`
		PollInterval            string `json:"poll_interval"`
	}{
		Alias:                   (*Alias)(c),
		ThresholdUpdateInterval: c.ThresholdUpdateInterval.String(),
		LoopInterval:            c.LoopInterval.String(),
		PriceRefreshInterval:    c.PriceRefreshInterval.String(),
		ForceActionTTL:          c.ForceActionTTL.String(),
		InverterTimeout:         c.InverterTimeout.String(),
		PollInterval:            c.PollInterval.String(),
	})
}

// UnmarshalJSON parses the duration fields from human-readable strings,
// falling back to whatever DefaultConfig() already populated them with
// when the field is absent from the input.
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config
	aux := &struct {
		*Alias
		ThresholdUpdateInterval string `json:"threshold_update_interval"`
		LoopInterval            string `json:"loop_interval"`
		PriceRefreshInterval    string `json:"price_refresh_interval"`
		ForceActionTTL          string `json:"force_action_ttl"`
		InverterTimeout         string `json:"inverter_timeout"`
		PollInterval            string `json:"poll_interval"`
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	var err error
	if aux.ThresholdUpdateInterval != "" {
		if c.ThresholdUpdateInterval, err = time.ParseDuration(aux.ThresholdUpdateInterval); err != nil {
			return fmt.Errorf("invalid threshold_update_interval: %w", err)
		}
	}
	if aux.LoopInterval != "" {
		if c.LoopInterval, err = time.ParseDuration(aux.LoopInterval); err != nil {
			return fmt.Errorf("invalid loop_interval: %w", err)
		}
	}
	if aux.PriceRefreshInterval != "" {
		if c.PriceRefreshInterval, err = time.ParseDuration(aux.PriceRefreshInterval); err != nil {
			return fmt.Errorf("invalid price_refresh_interval: %w", err)
		}
	}
	if aux.ForceActionTTL != "" {
		if c.ForceActionTTL, err = time.ParseDuration(aux.ForceActionTTL); err != nil {
			return fmt.Errorf("invalid force_action_ttl: %w", err)
		}
	}
	if aux.InverterTimeout != "" {
		if c.InverterTimeout, err = time.ParseDuration(aux.InverterTimeout); err != nil {
			return fmt.Errorf("invalid inverter_timeout: %w", err)
		}
	}
	if aux.PollInterval != "" {
		if c.PollInterval, err = time.ParseDuration(aux.PollInterval); err != nil {
			return fmt.Errorf("invalid poll_interval: %w", err)
		}
	}
	return nil
}

// LoadConfig loads configuration from a JSON file.
func LoadConfig(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader decodes JSON over DefaultConfig() so that fields
// absent from the file keep their default value, then validates.
func LoadConfigFromReader(reader io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration to a JSON file.
func (c *Config) SaveConfig(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer file.Close()
	return c.SaveConfigToWriter(file)
}

func (c *Config) SaveConfigToWriter(writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("encode config JSON: %w", err)
	}
	return nil
}

// Validate checks the fields that must hold for the collaborators below
// to construct safely.
func (c *Config) Validate() error {
	if c.Location == "" {
		return fmt.Errorf("location cannot be empty")
	}
	if _, err := time.LoadLocation(c.Location); err != nil {
		return fmt.Errorf("invalid location %q: %w", c.Location, err)
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude must be between -90 and 90, got %f", c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude must be between -180 and 180, got %f", c.Longitude)
	}
	if c.CriticalThresholdSOC <= c.EmergencyThresholdSOC {
		return fmt.Errorf("critical_threshold_soc must exceed emergency_threshold_soc")
	}
	if c.BatteryCapacityKWh <= 0 {
		return fmt.Errorf("battery_capacity_kwh must be positive, got %f", c.BatteryCapacityKWh)
	}
	if c.ChargePowerKW <= 0 {
		return fmt.Errorf("charge_power_kw must be positive, got %f", c.ChargePowerKW)
	}
	if c.LoopInterval <= 0 {
		return fmt.Errorf("loop_interval must be positive, got %s", c.LoopInterval)
	}
	if c.ActionRetryAttempts <= 0 {
		return fmt.Errorf("action_retry_attempts must be positive, got %d", c.ActionRetryAttempts)
	}
	if c.WebAPIPort < 0 || c.WebAPIPort > 65535 {
		return fmt.Errorf("web_api_port must be between 0 and 65535, got %d", c.WebAPIPort)
	}
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of debug, info, warn, error", c.LogLevel)
	}
	return nil
}

// TariffConfig builds a tariff.Config from the JSON-exposed fields,
// preserving everything else the engine needs (the resolved
// *time.Location).
func (c *Config) TariffConfig() (tariff.Config, error) {
	loc, err := time.LoadLocation(c.Location)
	if err != nil {
		return tariff.Config{}, fmt.Errorf("resolve location: %w", err)
	}
	zones := make([]tariff.Zone, len(c.TariffZones))
	for i, z := range c.TariffZones {
		zones[i] = tariff.Zone{Name: z.Name, SurchargePLNKWh: z.SurchargePLNKWh, StartHour: z.StartHour, EndHour: z.EndHour}
	}
	return tariff.Config{
		Kind:                    tariff.Kind(c.TariffKind),
		Zones:                   zones,
		ServiceChargePLNKWh:     c.ServiceChargePLNKWh,
		MinimumPriceFloorPLNKWh: c.MinimumPriceFloorPLNKWh,
		WeekendOffPeakZone:      c.WeekendOffPeakZone,
		Location:                loc,
	}, nil
}

// ThresholdConfig builds a threshold.Config, overriding the JSON-exposed
// knobs on top of threshold.DefaultConfig().
func (c *Config) ThresholdConfig() threshold.Config {
	cfg := threshold.DefaultConfig()
	cfg.MinSamples = c.ThresholdMinSamples
	cfg.UpdateInterval = c.ThresholdUpdateInterval
	cfg.PercentileHigh = c.ThresholdPercentileHigh
	cfg.PercentileCrit = c.ThresholdPercentileCrit
	return cfg
}

// ChargingConfig builds a charging.Config, overriding the JSON-exposed
// knobs on top of charging.DefaultConfig().
func (c *Config) ChargingConfig() (charging.Config, error) {
	loc, err := time.LoadLocation(c.Location)
	if err != nil {
		return charging.Config{}, fmt.Errorf("resolve location: %w", err)
	}
	cfg := charging.DefaultConfig()
	cfg.EmergencyThresholdSOC = c.EmergencyThresholdSOC
	cfg.CriticalThresholdSOC = c.CriticalThresholdSOC
	cfg.NearFullStopSOC = c.NearFullStopSOC
	cfg.BatteryCapacityKWh = c.BatteryCapacityKWh
	cfg.ChargePowerKW = c.ChargePowerKW
	cfg.Location = loc
	return cfg, nil
}

// SellingConfig builds a selling.Config, overriding the JSON-exposed
// knobs on top of selling.DefaultConfig().
func (c *Config) SellingConfig() (selling.Config, error) {
	loc, err := time.LoadLocation(c.Location)
	if err != nil {
		return selling.Config{}, fmt.Errorf("resolve location: %w", err)
	}
	cfg := selling.DefaultConfig()
	cfg.DefaultMinSOC = c.DefaultMinSOCToSell
	cfg.SellingPowerW = c.SellingPowerW
	cfg.MaxSOCDropPerDay = c.MaxSOCDropPerDay
	cfg.BatteryCapacityKWh = c.BatteryCapacityKWh
	cfg.Location = loc
	return cfg, nil
}

// CoordinatorConfig builds a coordinator.Config from the JSON-exposed
// knobs on top of coordinator.DefaultConfig().
func (c *Config) CoordinatorConfig() coordinator.Config {
	cfg := coordinator.DefaultConfig()
	cfg.LoopInterval = c.LoopInterval
	cfg.PriceRefreshInterval = c.PriceRefreshInterval
	cfg.ActionRetryAttempts = c.ActionRetryAttempts
	cfg.ForceActionPath = c.ForceActionPath
	cfg.ForceActionTTL = c.ForceActionTTL
	return cfg
}
