// mnserver - Mystic Nights private server
//
// A server for the PS2 title Mystic Nights: it speaks the game's binary
// TCP protocol, manages accounts, channels and lobbies, relays in-match
// traffic between the four players of a lobby, exposes a REST monitoring
// API, and publishes telemetry over MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/mysticnights/mnserver/internal/api"
	"github.com/mysticnights/mnserver/internal/cli"
	"github.com/mysticnights/mnserver/internal/config"
	"github.com/mysticnights/mnserver/internal/events"
	"github.com/mysticnights/mnserver/internal/lobby"
	"github.com/mysticnights/mnserver/internal/network"
	"github.com/mysticnights/mnserver/internal/scheduler"
	"github.com/mysticnights/mnserver/internal/session"
	"github.com/mysticnights/mnserver/internal/store"
	"github.com/mysticnights/mnserver/internal/telemetry"
	"github.com/mysticnights/mnserver/internal/util"
)

const (
	AppName    = "mnserver"
	AppVersion = "1.0.0"
	Banner     = `
                            _   _ _       _     _
  _ __ ___  _   _ ___  ___ | |_(_) | ___ | |__ | |_ ___
 | '_ ' _ \| | | / __|/ _ \| __| | |/ _ \| '_ \| __/ __|
 | | | | | | |_| \__ \ (_) | |_| | | (_) | | | | |_\__ \
 |_| |_| |_|\__, |___/\___/ \__|_|_|\___/|_| |_|\__|___/
            |___/  v%s
 Mystic Nights private server
`
)

func main() {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// .env is optional; environment variables override the config file
	if err := godotenv.Load(); err == nil {
		fmt.Println("loaded environment from .env")
	}

	// Initialize logger with defaults first (reconfigured after config load)
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting mnserver")

	// Load configuration
	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Re-initialize logger with config-based settings
	logCfg := util.DefaultLogConfig()
	logCfg.Level = cfg.GetApplicationData().Logging.Level
	logCfg.Directory = cfg.GetApplicationData().Logging.Directory
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	// Validate configuration
	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}

		if cfg.IsFirstRun() {
			log.Info().Msg("first run detected, launching setup wizard")
			if err := config.RunSetupWizard(cfg); err != nil {
				log.Fatal().Err(err).Msg("setup wizard failed")
			}
		} else {
			log.Fatal().Msg("configuration validation failed, please fix the errors above")
		}
	}

	// Log system info
	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the store. The server directory row the client sees is seeded
	// from the configured name and public IP.
	srvData := cfg.GetServerData()
	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.GetDatabase().Type).Msg("failed to open store")
	}
	defer st.Close()

	// Drop lobbies orphaned by a previous run
	if n, err := st.PruneLobbies(ctx, srvData.LobbyKeepPattern); err != nil {
		log.Warn().Err(err).Msg("startup lobby prune failed")
	} else if n > 0 {
		log.Info().Int("pruned", n).Msg("removed lobbies from previous run")
	}

	// Core components
	eventBus := events.NewEventBus()
	registry := session.NewRegistry()
	engine := lobby.NewEngine(st, registry, timingsFromConfig(cfg))
	engine.SetEventBus(eventBus)

	gameServer := network.NewServer(
		cfg.BindAddr(),
		srvData.LobbyPort,
		srvData.GamePort,
		srvData.GameplayClientPort,
		st, registry, engine,
	)

	apiServer := api.NewServer(cfg, st, registry)

	var mqttHandler *telemetry.MQTTHandler
	if cfg.GetApplicationData().MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus, registry)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	sched := scheduler.NewScheduler(cfg, st, registry)

	cliHandler := cli.NewCLI(cfg, eventBus, st, registry)

	// The CLI's quit command goes through the bus
	shutdownCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main.shutdown", func(ctx context.Context, ev events.Event) error {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	// Task 1: game protocol listeners
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().
			Int("lobby_port", srvData.LobbyPort).
			Int("game_port", srvData.GamePort).
			Msg("starting protocol listeners")
		if err := gameServer.Start(ctx); err != nil {
			errCh <- fmt.Errorf("protocol listeners: %w", err)
		}
	}()

	// Task 2: idle watcher for gameplay sessions
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.RunWatcher(ctx)
	}()

	// Task 3: REST API
	if cfg.GetApplicationData().API.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", srvData.APIPort).Msg("starting REST API server")
			if err := apiServer.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("API server failed (non-fatal)")
			}
		}()
	}

	// Task 4: MQTT telemetry
	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	// Task 5: background maintenance
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	// Task 6: interactive admin console
	wg.Add(1)
	go func() {
		defer wg.Done()
		cliHandler.Start(ctx)
	}()

	// Graceful shutdown handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested from console")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()
	registry.CloseAll()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	eventBus.Stop()

	log.Info().Msg("mnserver stopped")
}

// openStore opens the configured persistence backend.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	srvData := cfg.GetServerData()
	dbCfg := cfg.GetDatabase()

	switch dbCfg.Type {
	case "sqlite":
		if err := util.EnsureDir(filepath.Dir(dbCfg.SQLitePath)); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		return store.OpenSQLite(dbCfg.SQLitePath, srvData.Name, srvData.PublicIP)
	case "postgres":
		return store.OpenPostgres(ctx, dbCfg.DSN, srvData.Name, srvData.PublicIP)
	case "memory":
		m := store.NewMemory()
		m.AddServer(srvData.Name, srvData.PublicIP, 1)
		return m, nil
	default:
		return nil, fmt.Errorf("unknown database type %q", dbCfg.Type)
	}
}

// timingsFromConfig maps the configured intervals onto the engine.
func timingsFromConfig(cfg *config.Config) lobby.Timings {
	t := cfg.GetApplicationData().Timers
	d := lobby.DefaultTimings()

	if t.WatcherInterval > 0 {
		d.WatcherInterval = time.Duration(t.WatcherInterval) * time.Second
	}
	if t.IdleThreshold > 0 {
		d.IdleThreshold = time.Duration(t.IdleThreshold) * time.Second
	}
	if t.EchoInterval > 0 {
		d.EchoInterval = time.Duration(t.EchoInterval) * time.Second
	}
	if t.KeepaliveAttempts > 0 {
		d.KeepaliveAttempts = t.KeepaliveAttempts
	}
	if t.ReadyCheckAttempts > 0 {
		d.ReadyCheckAttempts = t.ReadyCheckAttempts
	}
	if t.CountdownInterval > 0 {
		d.CountdownInterval = time.Duration(t.CountdownInterval) * time.Second
	}
	return d
}
