package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"options-core/internal/api"
	"options-core/internal/events"
	"options-core/internal/monitor"
	"options-core/internal/notify"
	"options-core/internal/orchestrator"
	"options-core/internal/session"
	"options-core/internal/supervisor"
	"options-core/pkg/config"
	"options-core/pkg/coord"
	"options-core/pkg/db"
	"options-core/pkg/histdata"
	"options-core/pkg/venue"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store coord.Store
	if cfg.RedisAddr != "" {
		rs, err := coord.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		store = rs
		log.Printf("coordination store: redis at %s", cfg.RedisAddr)
	} else {
		store = coord.NewMemoryStore()
		log.Printf("coordination store: in-memory (single instance)")
	}
	defer store.Close()

	defaults, err := session.LoadDefaults(cfg.SessionDefaultsPath)
	if err != nil {
		log.Fatalf("session defaults: %v", err)
	}
	if defaults.ScanInterval <= 0 {
		defaults.ScanInterval = cfg.ScanInterval
	}

	bus := events.NewBus()
	metrics := monitor.NewSystemMetrics()
	notifier := notify.NewExpoClient(cfg.ExpoPushURL)

	mgr := orchestrator.NewManager(store, database, bus, notifier, metrics, orchestrator.Options{
		Defaults:        defaults,
		Factory:         venue.NewFactory(cfg.VenueWSURL),
		Fallback:        histdata.New(cfg.FallbackBaseURL),
		SupervisorOpts:  supervisor.Options{},
		SyncInterval:    cfg.SyncInterval,
		WatchdogTimeout: cfg.WatchdogTimeout,
		StopGrace:       cfg.StopGrace,
	})
	go mgr.Run(ctx)

	server := api.NewServer(bus, database, mgr, metrics, cfg.JWTSecret)
	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Router,
	}

	go func() {
		log.Printf("api: listening on :%s", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down")

	// Stop sessions first so final snapshots reach the store and
	// database before the sync loop ends.
	for _, st := range mgr.List() {
		_ = mgr.Stop(st.Account)
	}
	time.Sleep(cfg.StopGrace + time.Second)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("api shutdown: %v", err)
	}
	log.Println("stopped")
}
