package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/0xmhha/tokenwallet-go/internal/config"
	"github.com/0xmhha/tokenwallet-go/internal/logger"
	"github.com/0xmhha/tokenwallet-go/pkg/admin"
	"github.com/0xmhha/tokenwallet-go/pkg/api"
	"github.com/0xmhha/tokenwallet-go/pkg/client"
	"github.com/0xmhha/tokenwallet-go/pkg/contract"
	"github.com/0xmhha/tokenwallet-go/pkg/eventbus"
	"github.com/0xmhha/tokenwallet-go/pkg/orchestrator"
	"github.com/0xmhha/tokenwallet-go/pkg/scheduler"
	"github.com/0xmhha/tokenwallet-go/pkg/storage"
	"github.com/0xmhha/tokenwallet-go/pkg/telemetry"
)

var (
	// Version information (injected at build time)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

const (
	jobScan    = "scan"
	jobPending = "pending"
	jobSend    = "send"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to configuration file (YAML)")
		showVersion = flag.Bool("version", false, "Show version information and exit")
		rpcEndpoint = flag.String("rpc", "", "Ethereum RPC endpoint URL")
		dbPath      = flag.String("db", "", "Database path")
		startBlock  = flag.Uint64("start-block", 0, "Initial watermark when none is stored; scanning starts at the block after it")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		logFormat   = flag.String("log-format", "", "Log format (json, console)")
		enableAPI   = flag.Bool("api", false, "Enable health and metrics server")
		apiHost     = flag.String("api-host", "", "API server host")
		apiPort     = flag.Int("api-port", 0, "API server port")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("walletd version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", buildTime)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	applyFlags(cfg, *rpcEndpoint, *dbPath, *startBlock, *logLevel, *logFormat)
	applyAPIFlags(cfg, *enableAPI, *apiHost, *apiPort)

	// flags may have changed validated fields
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("Wallet engine stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	log.Info("Starting wallet engine",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_time", buildTime),
		zap.String("rpc_endpoint", cfg.RPC.Endpoint),
		zap.String("db_path", cfg.Database.Path),
		zap.Uint64("network_id", cfg.Chain.NetworkID),
		zap.String("contract", cfg.Contract.Address),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Warn("Failed to flush traces", zap.Error(err))
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Storage
	storageConfig := storage.DefaultConfig(cfg.Database.Path)
	storageConfig.ReadOnly = cfg.Database.ReadOnly
	if cfg.Database.Cache > 0 {
		storageConfig.Cache = cfg.Database.Cache
	}
	store, err := storage.NewPebbleStorage(storageConfig)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	store.SetLogger(log)
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Failed to close storage", zap.Error(err))
		}
	}()
	log.Info("Storage initialized", zap.String("path", cfg.Database.Path))

	// Node connection
	connector, err := client.NewConnector(&client.Config{
		Endpoint:        cfg.RPC.Endpoint,
		DialTimeout:     cfg.RPC.DialTimeout,
		CheckInterval:   cfg.RPC.CheckInterval,
		MaxBackoff:      cfg.RPC.MaxBackoff,
		RetryDelay:      cfg.RPC.RetryDelay,
		PollingInterval: cfg.RPC.PollingInterval,
		ReplayRate:      cfg.RPC.ReplayRate,
		Logger:          log,
		Metrics:         client.NewMetrics(registry, ""),
	})
	if err != nil {
		return fmt.Errorf("failed to create connector: %w", err)
	}
	connector.Start(ctx)
	defer connector.Stop()

	// Notifications
	busMetrics := eventbus.NewMetrics(registry, "")
	bus, err := eventbus.New(cfg.EventBus, busMetrics, log)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}
	go bus.Local.Run()
	defer func() {
		if err := bus.Close(); err != nil {
			log.Warn("Failed to close event bus", zap.Error(err))
		}
	}()
	log.Info("EventBus initialized",
		zap.Int("backends", bus.Len()),
		zap.Int("publish_buffer", cfg.EventBus.PublishBufferSize),
	)

	reader := contract.NewReader(connector, cfg.Contract.Address)

	orch := orchestrator.New(orchestrator.Config{
		NetworkID:                      cfg.Chain.NetworkID,
		ContractAddress:                cfg.Contract.Address,
		MaxAttemptsToSend:              cfg.Transactions.MaxAttemptsToSend,
		MaxParallelPendingTransactions: cfg.Transactions.MaxParallelPendingTransactions,
		PendingTimeout:                 time.Duration(cfg.Transactions.PendingTransactionMaxDays) * 24 * time.Hour,
		ResendInterval:                 cfg.Transactions.ResendInterval,
		StartBlock:                     cfg.Orchestrator.StartBlock,
		Logger:                         log,
		Metrics:                        orchestrator.NewMetrics(registry, ""),
	}, connector, store, reader, bus)

	facade := admin.New(admin.Config{
		NetworkID:        cfg.Chain.NetworkID,
		ChainID:          big.NewInt(cfg.SigningChainID()),
		ContractAddress:  cfg.Contract.Address,
		KeystorePassword: cfg.Admin.KeystorePassword,
		MinLevel:         cfg.Admin.MinLevel,
		GasLimit:         cfg.Admin.GasLimit,
		GasPrice:         cfg.Admin.GasPrice,
		Logger:           log,
		Metrics:          admin.NewMetrics(registry, ""),
	}, connector, store, reader, orch)

	if err := ensureAdminWallet(ctx, cfg, facade, log); err != nil {
		return err
	}

	// Jobs
	sched := scheduler.New(log, scheduler.NewMetrics(registry, ""))
	jobs := []scheduler.Job{
		{
			Name:       jobScan,
			Interval:   cfg.Orchestrator.ScanInterval,
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				_, err := orch.ScanNewerBlocks(ctx)
				return err
			},
		},
		{
			Name:       jobPending,
			Interval:   cfg.Orchestrator.PendingCheckInterval,
			RunOnStart: true,
			Run:        orch.CheckPendingTransactions,
		},
		{
			Name:     jobSend,
			Interval: cfg.Orchestrator.SendInterval,
			Run:      orch.SendRawTransactions,
		},
	}
	for _, job := range jobs {
		if err := sched.Add(job); err != nil {
			return fmt.Errorf("failed to add job %s: %w", job.Name, err)
		}
	}
	orch.SetTriggers(
		func() { sched.Trigger(jobScan) },
		func() { sched.Trigger(jobSend) },
	)
	sched.Start(ctx)

	if cfg.Orchestrator.WatchBlocks {
		go watchBlocks(ctx, cfg, connector, store, orch, log)
	}

	// Health and metrics
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.NewServer(api.DefaultConfig(cfg.API.Host, cfg.API.Port), log, registry)
		if err != nil {
			return fmt.Errorf("failed to create API server: %w", err)
		}
		apiServer.AddReadinessCheck("node", func(context.Context) error {
			if state := connector.State(); state != client.StateConnected {
				return fmt.Errorf("node %s", state)
			}
			return nil
		})
		apiServer.AddReadinessCheck("storage", func(ctx context.Context) error {
			_, _, err := store.LastWatchedBlock(ctx, cfg.Chain.NetworkID)
			return err
		})

		go func() {
			if err := apiServer.Start(); err != nil {
				log.Error("API server failed", zap.Error(err))
			}
		}()
		log.Info("API server started", zap.String("address", cfg.API.Host), zap.Int("port", cfg.API.Port))
	}

	sig := <-sigChan
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	log.Info("Shutting down gracefully...")
	cancel()
	sched.Stop()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	if err := orch.WaitInflight(drainCtx); err != nil {
		log.Warn("Broadcast completions still in flight", zap.Error(err))
	}

	if apiServer != nil {
		if err := apiServer.Stop(drainCtx); err != nil {
			log.Error("Failed to stop API server gracefully", zap.Error(err))
		}
	}

	log.Info("Wallet engine stopped")
	return nil
}

// watchBlocks follows mined blocks from the stored watermark. The first scan
// runs before subscribing so a fresh database starts at the head instead of
// replaying the whole chain.
func watchBlocks(ctx context.Context, cfg *config.Config, connector *client.Connector, store *storage.PebbleStorage, orch *orchestrator.Orchestrator, log *zap.Logger) {
	if _, err := orch.ScanNewerBlocks(ctx); err != nil {
		log.Warn("Initial scan failed", zap.Error(err))
	}

	start := cfg.Orchestrator.StartBlock
	watermark, ok, err := store.LastWatchedBlock(ctx, cfg.Chain.NetworkID)
	if err != nil {
		log.Warn("Failed to read watermark", zap.Error(err))
	} else if ok {
		connector.SetWatermark(watermark)
		start = watermark + 1
	}

	log.Info("Watching mined blocks", zap.Uint64("start_block", start))
	orch.WatchMinedBlocks(ctx, connector.SubscribeMinedBlocks(ctx, start))
}

// ensureAdminWallet imports the configured admin key on first start.
func ensureAdminWallet(ctx context.Context, cfg *config.Config, facade *admin.Facade, log *zap.Logger) error {
	address, err := facade.AdminAddress(ctx)
	switch {
	case err == nil:
		log.Info("Admin wallet loaded", zap.String("address", address))
		return nil
	case !errors.Is(err, admin.ErrAdminWalletMissing):
		return fmt.Errorf("failed to load admin wallet: %w", err)
	case cfg.Admin.PrivateKey == "":
		log.Warn("No admin wallet stored, admin operations are unavailable")
		return nil
	}

	address, err = facade.CreateAdminWallet(ctx, cfg.Admin.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to import admin wallet: %w", err)
	}
	log.Info("Admin wallet imported", zap.String("address", address))
	return nil
}

// loadConfig loads configuration from file and environment variables
func loadConfig(configFile string) (*config.Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg, err := config.Load(context.Background(), configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// loadDotEnv loads environment variables from a .env file if it exists.
func loadDotEnv() error {
	info, err := os.Stat(".env")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat .env: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf(".env exists but is a directory")
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// applyFlags applies command-line flags to configuration
func applyFlags(cfg *config.Config, rpcEndpoint, dbPath string, startBlock uint64, logLevel, logFormat string) {
	if rpcEndpoint != "" {
		cfg.RPC.Endpoint = rpcEndpoint
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if startBlock > 0 {
		cfg.Orchestrator.StartBlock = startBlock
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
}

// applyAPIFlags applies API-related command-line flags to configuration
func applyAPIFlags(cfg *config.Config, enableAPI bool, apiHost string, apiPort int) {
	if enableAPI {
		cfg.API.Enabled = true
	}
	if apiHost != "" {
		cfg.API.Host = apiHost
	}
	if apiPort > 0 {
		cfg.API.Port = apiPort
	}
}
