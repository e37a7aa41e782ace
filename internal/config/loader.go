package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies OMEND_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known OMEND_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "OMEND_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "OMEND_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "OMEND_WALLET_KEY_PASSWORD")

	// ── Ledger ──
	setStr(&cfg.Ledger.RPCURL, "OMEND_LEDGER_RPC_URL")
	setInt64(&cfg.Ledger.ChainID, "OMEND_LEDGER_CHAIN_ID")
	setStr(&cfg.Ledger.TokenContract, "OMEND_LEDGER_TOKEN_CONTRACT")
	setStr(&cfg.Ledger.FaucetContract, "OMEND_LEDGER_FAUCET_CONTRACT")
	setStr(&cfg.Ledger.FactoryContract, "OMEND_LEDGER_FACTORY_CONTRACT")
	setUint64(&cfg.Ledger.GasLimit, "OMEND_LEDGER_GAS_LIMIT")
	setDuration(&cfg.Ledger.PollInterval, "OMEND_LEDGER_POLL_INTERVAL")

	// ── Backend ──
	setStr(&cfg.Backend.BaseURL, "OMEND_BACKEND_BASE_URL")
	setDuration(&cfg.Backend.Timeout, "OMEND_BACKEND_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "OMEND_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "OMEND_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "OMEND_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "OMEND_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "OMEND_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "OMEND_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "OMEND_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "OMEND_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "OMEND_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "OMEND_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "OMEND_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "OMEND_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "OMEND_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "OMEND_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "OMEND_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "OMEND_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "OMEND_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "OMEND_S3_REGION")
	setStr(&cfg.S3.Bucket, "OMEND_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "OMEND_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "OMEND_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "OMEND_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "OMEND_S3_FORCE_PATH_STYLE")

	// ── Orchestrator ──
	setInt(&cfg.Orchestrator.SyncMaxAttempts, "OMEND_ORCHESTRATOR_SYNC_MAX_ATTEMPTS")
	setDuration(&cfg.Orchestrator.SyncBackoff, "OMEND_ORCHESTRATOR_SYNC_BACKOFF")
	setDuration(&cfg.Orchestrator.SlotTTL, "OMEND_ORCHESTRATOR_SLOT_TTL")
	setDuration(&cfg.Orchestrator.FaucetCooldown, "OMEND_ORCHESTRATOR_FAUCET_COOLDOWN")

	// ── Reconcile ──
	setBool(&cfg.Reconcile.Enabled, "OMEND_RECONCILE_ENABLED")
	setDuration(&cfg.Reconcile.Interval, "OMEND_RECONCILE_INTERVAL")
	setInt(&cfg.Reconcile.BatchSize, "OMEND_RECONCILE_BATCH_SIZE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "OMEND_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "OMEND_ARCHIVE_INTERVAL")
	setDuration(&cfg.Archive.Retention, "OMEND_ARCHIVE_RETENTION")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "OMEND_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "OMEND_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "OMEND_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "OMEND_SERVER_API_KEY")

	// ── Top-level ──
	setStr(&cfg.Mode, "OMEND_MODE")
	setStr(&cfg.LogLevel, "OMEND_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
