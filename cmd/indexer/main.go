package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/gateway-validator/ingestion-core/internal/applydriver"
	"github.com/gateway-validator/ingestion-core/internal/blocktally"
	"github.com/gateway-validator/ingestion-core/internal/cache"
	"github.com/gateway-validator/ingestion-core/internal/common"
	cfgloader "github.com/gateway-validator/ingestion-core/internal/config"
	"github.com/gateway-validator/ingestion-core/internal/db"
	"github.com/gateway-validator/ingestion-core/internal/ingestion"
	"github.com/gateway-validator/ingestion-core/internal/logger"
	"github.com/gateway-validator/ingestion-core/internal/metrics"
	"github.com/gateway-validator/ingestion-core/internal/migrations"
	"github.com/gateway-validator/ingestion-core/internal/reorgtally"
	"github.com/gateway-validator/ingestion-core/internal/store"
	"github.com/gateway-validator/ingestion-core/internal/worker"
	"github.com/gateway-validator/ingestion-core/pkg/chain"
	"github.com/gateway-validator/ingestion-core/pkg/external"
	"github.com/gateway-validator/ingestion-core/pkg/validator"
)

const (
	version = "1.0.0"
	banner  = `
╔═══════════════════════════════════════════╗
║     ingestion-core validator worker v%s  ║
║   Cross-chain event ingestion for Gateway  ║
╚═══════════════════════════════════════════╝
`
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "indexer",
	Short: "ingestion-core - cross-chain event ingestion for a validator",
	Long: `ingestion-core tracks external chains, tallies validator votes on observed
blocks and reorgs, and admits matured events onto the ledger through the
risk-weighted ingress queue.`,
	Version: version,
	RunE:    runWorker,
}

var chainsCmd = &cobra.Command{
	Use:   "chains",
	Short: "List the chains this deployment is configured to observe",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cfgloader.LoadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		fmt.Println("Configured chains:")
		for _, cc := range cfg.Chains {
			fmt.Printf("  - %s  rpc=%s  starport=%s\n", cc.Chain, cc.RPCURL, cc.Starport)
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.AddCommand(chainsCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	fmt.Printf(banner, version)

	cfg, err := cfgloader.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n\nShutting down gracefully...")
		cancel()
	}()

	log := logger.NewComponentLoggerFromConfig(common.ComponentWorker, cfg.Logging)

	var metricsServer *metrics.Server
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics)
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(ctx); err != nil {
				log.Warnw("failed to stop metrics server", "error", err)
			}
		}()
		log.Infow("metrics server started", "address", cfg.Metrics.ListenAddress, "path", cfg.Metrics.Path)
	}

	log.Info("running database migrations...")
	if err := migrations.RunMigrations(cfg.DB.Path); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	sqlDB, err := db.NewSQLiteDBFromConfig(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer sqlDB.Close()

	dbMaintenance := db.NewMaintenanceCoordinator(
		cfg.DB.Path,
		sqlDB,
		cfg.DB.Maintenance,
		logger.NewComponentLoggerFromConfig(common.ComponentStore, cfg.Logging),
	)
	if err := dbMaintenance.Start(ctx); err != nil {
		return fmt.Errorf("failed to start maintenance coordinator: %w", err)
	}
	defer dbMaintenance.Stop()

	st := store.New(sqlDB, logger.NewComponentLoggerFromConfig(common.ComponentStore, cfg.Logging))

	memoize, err := cache.Open(cfg.DB.MemoizeCachePath)
	if err != nil {
		return fmt.Errorf("failed to open memoize cache: %w", err)
	}
	defer memoize.Close()

	// Key custody, the ledger mutator, the price oracle, and real chain RPC
	// transport are consumed collaborators this core does not implement
	// (§1, §6); this entry point wires the in-memory reference
	// implementations so the worker loop is runnable end to end.
	signer, err := ephemeralSigner()
	if err != nil {
		return fmt.Errorf("failed to load validator signing key: %w", err)
	}
	oracle := external.NewFakePriceOracle()
	ledger := external.NewFakeLedger()

	recoverer := validator.NewSecp256k1Recoverer()
	validators := validator.NewThresholdSet([]validator.ID{signer.ID()})

	mutexDeadline := time.Duration(cfg.Worker.MutexDeadlineSeconds) * time.Second
	w := worker.New(st, memoize, signer, cfg.Ingress.Slack, mutexDeadline,
		logger.NewComponentLoggerFromConfig(common.ComponentWorker, cfg.Logging))

	for _, cc := range cfg.Chains {
		id, err := chain.ParseID(cc.Chain)
		if err != nil {
			return fmt.Errorf("chains configuration: %w", err)
		}

		rpc := external.NewFakeChainRPC()

		driver := applydriver.New(ledger, st,
			logger.NewComponentLoggerFromConfig(common.ComponentApplyDriver, cfg.Logging))
		ingress := ingestion.New(st, oracle, driver, cfg.Ingress, nil,
			logger.NewComponentLoggerFromConfig(common.ComponentIngestion, cfg.Logging))
		blockRecv := blocktally.New(st, validators, recoverer, ingress,
			logger.NewComponentLoggerFromConfig(common.ComponentBlockTally, cfg.Logging))
		reorgRecv := reorgtally.New(st, validators, recoverer, ingress, driver,
			logger.NewComponentLoggerFromConfig(common.ComponentReorgTally, cfg.Logging))

		genesis, ok, err := st.GetFirstBlock(ctx, id)
		if err != nil {
			return fmt.Errorf("load first block for %s: %w", id, err)
		}
		if !ok {
			genesis = chain.Block{ChainID: id, Number: 1}
			if err := st.SetFirstBlock(ctx, id, genesis); err != nil {
				return fmt.Errorf("seed first block for %s: %w", id, err)
			}
			if err := st.SetLastProcessedBlock(ctx, id, genesis); err != nil {
				return fmt.Errorf("seed last processed block for %s: %w", id, err)
			}
			log.Infow("no prior FirstBlock found, seeded a fresh genesis", "chain", id, "number", genesis.Number)
		}
		rpc.Seed(genesis)

		w.Register(&worker.Chain{
			ID:            id,
			Starport:      ethcommon.HexToAddress(cc.Starport),
			RPC:           rpc,
			BlockReceiver: blockRecv,
			ReorgReceiver: reorgRecv,
		})
		log.Infow("registered chain", "chain", id, "rpc_url", cc.RPCURL)
	}

	log.Info("starting worker loop...")
	interval := time.Duration(cfg.Worker.PollIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopped")
			return nil
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				log.Warnw("worker tick failed", "error", err)
			}
		}
	}
}

// ephemeralSigner generates a fresh secp256k1 signing key. Key custody and
// persistence are out of scope for this core (§6); a production deployment
// supplies validator.Signer through its own key management, not this CLI.
func ephemeralSigner() (*validator.Secp256k1Signer, error) {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, err
	}
	key := secp256k1.PrivKeyFromBytes(seed[:])
	return validator.NewSecp256k1Signer(key), nil
}
