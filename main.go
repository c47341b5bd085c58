package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"futures-desk/internal/api"
	"futures-desk/internal/events"
	"futures-desk/internal/mode"
	"futures-desk/internal/monitor"
	"futures-desk/internal/reconcile"
	"futures-desk/internal/sim"
	syncctl "futures-desk/internal/sync"
	"futures-desk/pkg/config"
	"futures-desk/pkg/db"
	"futures-desk/pkg/exchange/futures"
)

var buildVersion = "dev"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Config load failed: %v", err)
	}
	log.Printf("✓ Config loaded (port %s, %d symbols)", cfg.Port, len(cfg.Symbols))

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("❌ Database open failed: %v", err)
	}
	defer database.Close()

	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("❌ Migrations failed: %v", err)
	}
	log.Printf("✓ Database ready at %s", cfg.DBPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()
	metrics := monitor.NewSystemMetrics()

	// Bridge store row changes onto the bus for websocket subscribers. The
	// sync controller consumes the feed directly.
	database.OnChange(func(ch db.Change) {
		bus.Publish(events.EventStoreChange, ch)
	})

	exchange := futures.NewClient(futures.Config{
		APIKey:    cfg.ExchangeAPIKey,
		APISecret: cfg.ExchangeAPISecret,
		BaseURL:   cfg.ExchangeBaseURL,
		Timeout:   10 * time.Second,
	})
	if cfg.ExchangeAPIKey == "" {
		log.Printf("⚠️ No exchange credentials configured, live trading commands will be rejected")
	}

	arbiter := mode.NewArbiter(ctx, database, bus, cfg.FallbackWindow)
	defer arbiter.Stop()

	controller := syncctl.NewController(
		exchange,
		sim.New(nil),
		reconcile.NewService(database, cfg.LogRetention),
		arbiter,
		database,
		bus,
		metrics,
		cfg.Symbols,
		syncctl.Cadences{
			Prices:   cfg.PricePollInterval,
			Account:  cfg.AccountPollInterval,
			DemoTick: cfg.DemoTickInterval,
		},
	)
	controller.Start(ctx)
	defer controller.Stop()

	server := api.NewServer(
		bus,
		database,
		controller,
		arbiter,
		metrics,
		api.SystemMeta{
			Venue:   "futures-testnet",
			Symbols: cfg.Symbols,
			Version: buildVersion,
		},
		cfg.JWTSecret,
	)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("❌ API server error: %v", err)
		}
	}()
	log.Printf("✓ API listening on :%s", cfg.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutting down...")
}
