// Command energy-core runs the residential battery/PV decision core: it
// wires the charging and selling engines, the adaptive threshold engine,
// the tariff calculator, the inverter driver, the price/forecast sources,
// optional Postgres persistence, and the HTTP control surface into one
// periodic control loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mjanicki/energy-core/charging"
	"github.com/mjanicki/energy-core/config"
	"github.com/mjanicki/energy-core/coordinator"
	"github.com/mjanicki/energy-core/forecast"
	"github.com/mjanicki/energy-core/inverter"
	"github.com/mjanicki/energy-core/model"
	"github.com/mjanicki/energy-core/priceapi"
	"github.com/mjanicki/energy-core/selling"
	"github.com/mjanicki/energy-core/storage"
	"github.com/mjanicki/energy-core/sun"
	"github.com/mjanicki/energy-core/tariff"
	"github.com/mjanicki/energy-core/threshold"
	"github.com/mjanicki/energy-core/webapi"
)

func main() {
	var (
		configFile = flag.String("config", "config.json", "Configuration file path")
		mockDriver = flag.Bool("mock", false, "Use an in-memory inverter driver instead of Sigenergy Modbus")
		info       = flag.Bool("info", false, "Show effective configuration and exit")
		help       = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Println("Error loading configuration:", err)
		os.Exit(1)
	}

	if *info {
		printEffectiveConfig(cfg)
		return
	}

	logger := log.New(os.Stdout, "[ENERGY-CORE] ", log.LstdFlags)

	app, err := build(cfg, *configFile, *mockDriver, logger)
	if err != nil {
		logger.Fatalf("failed to build application: %v", err)
	}
	defer app.closeStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go app.coord.Run(ctx)
	if app.web != nil {
		if err := app.web.Start(); err != nil {
			logger.Printf("web api failed to start: %v", err)
		}
	}

	logger.Printf("energy-core started, listening for config at %s. Press Ctrl+C to stop...", *configFile)

	for sig := range sigChan {
		switch sig {
		case syscall.SIGHUP:
			logger.Printf("reload signal received, reloading %s", *configFile)
			if err := app.reload(*configFile); err != nil {
				logger.Printf("reload failed: %v", err)
			}
			continue
		default:
			logger.Printf("shutdown signal received, stopping...")
		}
		break
	}

	cancel()
	app.coord.Stop()
	if app.web != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := app.web.Stop(shutdownCtx); err != nil {
			logger.Printf("web api shutdown error: %v", err)
		}
	}
	logger.Printf("energy-core stopped")
}

// application bundles every collaborator build wires together. A SIGHUP
// reload re-reads the config file and hands only its coordinator section
// to Coordinator.Reload; the engines, driver, poller and HTTP listener keep
// the settings they were built with.
type application struct {
	coord      *coordinator.Coordinator
	web        *webapi.Server
	store      *storage.Store
	configPath string
}

func (a *application) closeStore() {
	if a.store != nil {
		a.store.Close()
	}
}

func (a *application) reload(path string) error {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.coord.Reload(cfg.CoordinatorConfig())
	return nil
}

func build(cfg *config.Config, configPath string, useMock bool, logger *log.Logger) (*application, error) {
	clock := model.RealClock{}
	loc := sun.Location{Latitude: cfg.Latitude, Longitude: cfg.Longitude}

	chargingCfg, err := cfg.ChargingConfig()
	if err != nil {
		return nil, fmt.Errorf("build charging config: %w", err)
	}
	partialLedger, err := charging.NewPartialLedger(cfg.PartialSessionLedgerPath)
	if err != nil {
		return nil, fmt.Errorf("open partial session ledger: %w", err)
	}
	normalLedger, err := charging.NewPartialLedger(cfg.NormalSessionLedgerPath)
	if err != nil {
		return nil, fmt.Errorf("open normal session ledger: %w", err)
	}
	chargingEngine := charging.New(chargingCfg, clock, loc, partialLedger, normalLedger)

	sellingCfg, err := cfg.SellingConfig()
	if err != nil {
		return nil, fmt.Errorf("build selling config: %w", err)
	}
	dropLedger, err := selling.NewDropLedger(cfg.DropLedgerPath)
	if err != nil {
		return nil, fmt.Errorf("open drop ledger: %w", err)
	}
	cycleLedger, err := selling.NewCycleLedger(cfg.CycleLedgerPath)
	if err != nil {
		return nil, fmt.Errorf("open cycle ledger: %w", err)
	}
	sellingEngine := selling.New(sellingCfg, clock, dropLedger, cycleLedger)

	thresholdEngine := threshold.New(cfg.ThresholdConfig(), clock, log.New(os.Stdout, "[THRESHOLD] ", log.LstdFlags))

	tariffCfg, err := cfg.TariffConfig()
	if err != nil {
		return nil, fmt.Errorf("build tariff config: %w", err)
	}
	tariffCalc := tariff.New(tariffCfg)

	var driver inverter.Driver
	if useMock || cfg.InverterAddress == "" {
		driver = inverter.NewMockDriver(model.SystemSnapshot{SOCPercent: 50, Timestamp: clock.Now()})
	} else {
		driver = inverter.NewSigenergyDriver(cfg.InverterAddress, cfg.InverterTimeout)
	}
	poller := inverter.NewPoller(driver, cfg.PollInterval, cfg.InverterTimeout, log.New(os.Stdout, "[INVERTER] ", log.LstdFlags))

	var priceClient *priceapi.Client
	var priceCache *priceapi.Cache
	if cfg.PriceAPIUrlFormat != "" {
		priceLoc, err := time.LoadLocation(cfg.Location)
		if err != nil {
			return nil, fmt.Errorf("resolve location: %w", err)
		}
		priceClient = priceapi.NewClient(cfg.PriceAPIUrlFormat, cfg.PriceAPISecurityToken, priceLoc)
		priceCache, err = priceapi.NewCache(cfg.PriceCachePath)
		if err != nil {
			return nil, fmt.Errorf("open price cache: %w", err)
		}
	}

	var forecastCli *forecast.Client
	if cfg.ForecastBaseURL != "" {
		forecastCli = forecast.NewClient(cfg.ForecastBaseURL, cfg.ForecastUserAgent)
	}

	var store *storage.Store
	if cfg.PostgresConnString != "" {
		store, err = storage.Open(cfg.PostgresConnString)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
	}

	forceAction := coordinator.NewForceActionStore(cfg.ForceActionPath, cfg.ForceActionTTL)

	coord := coordinator.New(
		cfg.CoordinatorConfig(), clock, logger,
		chargingEngine, sellingEngine, thresholdEngine, tariffCalc,
		driver, poller, priceClient, priceCache, forecastCli,
		forecast.Location{Latitude: cfg.Latitude, Longitude: cfg.Longitude},
		store, forceAction, dropLedger.Record,
	)

	app := &application{coord: coord, store: store, configPath: configPath}
	app.web = webapi.New(coord, priceCache, store, forceAction, clock, func() error { return app.reload(app.configPath) }, cfg.WebAPIPort)

	return app, nil
}

func printEffectiveConfig(cfg *config.Config) {
	fmt.Printf("Effective configuration:\n")
	fmt.Printf("  Location:              %s (%.4f, %.4f)\n", cfg.Location, cfg.Latitude, cfg.Longitude)
	fmt.Printf("  Tariff kind:           %s (%d zones)\n", cfg.TariffKind, len(cfg.TariffZones))
	fmt.Printf("  Emergency/Critical SOC: %.0f%% / %.0f%%\n", cfg.EmergencyThresholdSOC, cfg.CriticalThresholdSOC)
	fmt.Printf("  Battery capacity:      %.1f kWh\n", cfg.BatteryCapacityKWh)
	fmt.Printf("  Min SOC to sell:       %.0f%%\n", cfg.DefaultMinSOCToSell)
	fmt.Printf("  Loop interval:         %s\n", cfg.LoopInterval)
	fmt.Printf("  Inverter address:      %s\n", cfg.InverterAddress)
	fmt.Printf("  Web API port:          %d\n", cfg.WebAPIPort)
	fmt.Printf("  Postgres configured:   %v\n", cfg.PostgresConnString != "")
}

func showHelp() {
	fmt.Println("energy-core - residential battery/PV charging and selling decision core")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Drives a hybrid inverter's charge/discharge decisions from day-ahead")
	fmt.Println("  electricity prices, an adaptive price threshold, and a load/PV forecast,")
	fmt.Println("  with session protection, commitment, and daily SOC-drop budgets.")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  energy-core [OPTIONS]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Basic usage (reads config.json from the current directory)")
	fmt.Println("  energy-core")
	fmt.Println()
	fmt.Println("  # Custom configuration")
	fmt.Println("  energy-core --config=config.json")
	fmt.Println()
	fmt.Println("  # Run against an in-memory inverter, no hardware required")
	fmt.Println("  energy-core --mock")
	fmt.Println()
	fmt.Println("  # Show effective configuration and exit")
	fmt.Println("  energy-core -info")
}
