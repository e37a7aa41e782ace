package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/omenlabs/omend/internal/backend"
	s3blob "github.com/omenlabs/omend/internal/blob/s3"
	"github.com/omenlabs/omend/internal/cache/redis"
	"github.com/omenlabs/omend/internal/config"
	"github.com/omenlabs/omend/internal/domain"
	"github.com/omenlabs/omend/internal/ledger"
	"github.com/omenlabs/omend/internal/orchestrator"
	"github.com/omenlabs/omend/internal/reconcile"
	"github.com/omenlabs/omend/internal/store/postgres"
)

// Dependencies bundles every component that the application modes need to
// operate. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	Store domain.OperationStore
	Slots domain.SubmissionSlots
	Bus   domain.SignalBus

	Provider *ledger.Provider
	Backend  *backend.Client

	Orchestrator *orchestrator.Orchestrator
	Syncer       *orchestrator.Syncer
	Reconciler   *reconcile.Reconciler
	Archiver     *s3blob.Archiver

	Wallet common.Address
}

// needsSigner returns true for modes that submit operations to the ledger.
func needsSigner(mode string) bool {
	return strings.ToLower(mode) == "serve"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}
	deps.Store = postgres.NewOperationStore(pgClient.Pool())

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Slots = redis.NewSubmissionSlots(redisClient, cfg.Orchestrator.SlotTTL.Duration)
	deps.Bus = redis.NewSignalBus(redisClient)

	// --- Ledger ---
	var signer ledger.Signer
	if needsSigner(cfg.Mode) {
		keyHex, err := ledger.ResolveKey(ledger.KeySource{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: resolve wallet key: %w", err)
		}
		local, err := ledger.NewLocalSigner(keyHex)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet signer: %w", err)
		}
		signer = local
		deps.Wallet = local.Address()
	}

	provider, err := ledger.Dial(ctx, cfg.Ledger.RPCURL, signer, ledger.Config{
		ChainID:        cfg.Ledger.ChainID,
		TokenContract:  common.HexToAddress(cfg.Ledger.TokenContract),
		FaucetContract: common.HexToAddress(cfg.Ledger.FaucetContract),
		GasLimit:       cfg.Ledger.GasLimit,
		PollInterval:   cfg.Ledger.PollInterval.Duration,
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: ledger: %w", err)
	}
	closers = append(closers, provider.Close)
	deps.Provider = provider

	// --- Backend ---
	deps.Backend = backend.New(cfg.Backend.BaseURL, cfg.Backend.Timeout.Duration)

	// --- Orchestrator ---
	validator := orchestrator.NewValidator(provider, cfg.Orchestrator.FaucetCooldown.Duration)
	allowance := orchestrator.NewAllowancePreparer(provider, common.HexToAddress(cfg.Ledger.TokenContract))
	submitter := orchestrator.NewSubmitter(provider, deps.Store, logger)
	watcher := orchestrator.NewWatcher(provider, deps.Store, logger)
	syncer := orchestrator.NewSyncer(deps.Backend, deps.Store,
		cfg.Orchestrator.SyncMaxAttempts, cfg.Orchestrator.SyncBackoff.Duration, logger)
	deps.Syncer = syncer

	sequencer := orchestrator.NewSequencer(
		validator, allowance, submitter, watcher, syncer,
		deps.Store, deps.Slots, logger,
	)
	deps.Orchestrator = orchestrator.New(
		sequencer, watcher, syncer, deps.Store, deps.Slots, deps.Bus, logger,
	)

	// --- Reconciler ---
	if cfg.Reconcile.Enabled {
		deps.Reconciler = reconcile.New(deps.Store, syncer,
			cfg.Reconcile.Interval.Duration, cfg.Reconcile.BatchSize, logger)
	}

	// --- S3 archiver ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client), deps.Store,
			cfg.Archive.Retention.Duration, logger,
		)
	}

	return deps, cleanup, nil
}
