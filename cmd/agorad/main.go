package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agora/pkg/api"
	"agora/pkg/chain"
	"agora/pkg/governance"
	"agora/pkg/governance/store"
	"agora/pkg/modules"
	"agora/pkg/timelock"
	"agora/pkg/token"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

// DaemonConfig is the daemon configuration, read from AGORA_* environment
// variables with command line overrides for the common knobs.
type DaemonConfig struct {
	Port          int           `envconfig:"PORT" default:"8080"`
	DBPath        string        `envconfig:"DB_PATH" default:""`
	BlockInterval time.Duration `envconfig:"BLOCK_INTERVAL" default:"1s"`

	GovernorAddress string `envconfig:"GOVERNOR_ADDRESS" default:"0x00000000000000000000000000000000000000aa"`
	ExecutorAddress string `envconfig:"EXECUTOR_ADDRESS" default:"0x00000000000000000000000000000000000000ee"`

	MinDelay    uint64 `envconfig:"MIN_DELAY" default:"10"`
	GracePeriod uint64 `envconfig:"GRACE_PERIOD" default:"100"`

	PercentMajority uint64 `envconfig:"PERCENT_MAJORITY" default:"50"`
	QuorumBps       uint64 `envconfig:"QUORUM_BPS" default:"500"`
	VotingDelay     uint64 `envconfig:"VOTING_DELAY" default:"10"`
	VotingPeriod    uint64 `envconfig:"VOTING_PERIOD" default:"100"`
}

func main() {
	var config DaemonConfig
	if err := envconfig.Process("agora", &config); err != nil {
		panic(err)
	}
	flag.IntVar(&config.Port, "port", config.Port, "API listen port")
	flag.StringVar(&config.DBPath, "db", config.DBPath, "Proposal database path (empty for in-memory)")
	flag.DurationVar(&config.BlockInterval, "blockInterval", config.BlockInterval, "Timepoint advance interval")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	clock := chain.NewCounter(0)
	ledger := token.NewLedger(clock)
	registry := modules.NewRegistry()
	router := timelock.NewRouter()

	// The governor is the executor's first module and holds the canceler
	// role, so succeeded proposals can be queued and canceled ones torn down.
	if err := registry.Add(config.GovernorAddress); err != nil {
		logger.Fatal("failed to enable governor module", zap.Error(err))
	}
	executor, err := timelock.NewExecutor(
		config.ExecutorAddress,
		clock,
		registry,
		router,
		config.MinDelay,
		config.GracePeriod,
		[]string{config.GovernorAddress},
		logger.Named("timelock"),
	)
	if err != nil {
		logger.Fatal("failed to create timelock executor", zap.Error(err))
	}

	var proposals governance.ProposalStore
	if config.DBPath == "" {
		proposals = store.NewMemoryStore()
	} else {
		sqliteStore, err := store.NewSqliteStore(config.DBPath)
		if err != nil {
			logger.Fatal("failed to open proposal store", zap.Error(err))
		}
		proposals = sqliteStore
	}

	governanceConfig := governance.DefaultConfig()
	governanceConfig.PercentMajority = config.PercentMajority
	governanceConfig.QuorumBps = config.QuorumBps
	governanceConfig.VotingDelay = config.VotingDelay
	governanceConfig.VotingPeriod = config.VotingPeriod

	service, err := governance.NewService(
		config.GovernorAddress,
		clock,
		ledger,
		proposals,
		executor,
		config.ExecutorAddress,
		governanceConfig,
		logger.Named("governance"),
	)
	if err != nil {
		logger.Fatal("failed to create governance service", zap.Error(err))
	}
	// Proposals may target the governor's own configuration commands.
	if err := router.Register(config.GovernorAddress, service); err != nil {
		logger.Fatal("failed to register governor on router", zap.Error(err))
	}

	// Advance the timepoint counter like a block height.
	ticker := time.NewTicker(config.BlockInterval)
	tickerDone := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				clock.Advance(1)
			case <-tickerDone:
				return
			}
		}
	}()

	server := api.NewServer(clock, ledger, service, executor, registry, config.Port, logger.Named("api"))
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server failed", zap.Error(err))
		}
	}()
	logger.Info("agora daemon started",
		zap.Int("port", config.Port),
		zap.String("governor", config.GovernorAddress),
		zap.String("executor", config.ExecutorAddress),
		zap.Uint64("minDelay", config.MinDelay),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	close(tickerDone)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
}
