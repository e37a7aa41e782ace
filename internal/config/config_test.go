package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// validConfig returns Defaults() with the required secrets filled in, i.e.
// the minimal configuration that passes Validate in serve mode.
func validConfig() Config {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xabc123"
	cfg.Ledger.TokenContract = "0x3333333333333333333333333333333333333333"
	cfg.Ledger.FaucetContract = "0x4444444444444444444444444444444444444444"
	return cfg
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "chaos"
	cfg.LogLevel = "verbose"
	cfg.Redis.Addr = ""
	cfg.Backend.BaseURL = ""

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown mode "chaos"`)
	require.Contains(t, err.Error(), `unknown log_level "verbose"`)
	require.Contains(t, err.Error(), "redis: addr")
	require.Contains(t, err.Error(), "backend: base_url")
}

func TestValidateServeModeRequiresKeySource(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet.PrivateKey = ""
	cfg.Wallet.EncryptedKeyPath = ""

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "wallet:")
}

func TestValidateMonitorModeNeedsNoKey(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "monitor"
	cfg.Wallet = WalletConfig{}
	require.NoError(t, cfg.Validate())
}

func TestValidateEncryptedKeyNeedsPassword(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet.PrivateKey = ""
	cfg.Wallet.EncryptedKeyPath = "/etc/omend/key.enc"
	cfg.Wallet.KeyPassword = ""

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "key_password")
}

func TestValidateDSNSupersedesHostFields(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.DSN = "postgres://app:secret@db:5432/omend"
	cfg.Postgres.Host = ""
	cfg.Postgres.Port = 0
	cfg.Postgres.Database = ""
	require.NoError(t, cfg.Validate())
}

func TestValidateS3OnlyWhenArchiveEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.S3 = S3Config{}
	require.NoError(t, cfg.Validate(), "empty s3 section is fine while archive is off")

	cfg.Archive.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "s3: endpoint")
	require.Contains(t, err.Error(), "s3: bucket")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "omend.toml")
	body := `
mode = "monitor"
log_level = "debug"

[ledger]
rpc_url = "https://rpc.example.org"
chain_id = 137
poll_interval = "5s"

[orchestrator]
sync_max_attempts = 9
slot_ttl = "1m"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "monitor", cfg.Mode)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "https://rpc.example.org", cfg.Ledger.RPCURL)
	require.Equal(t, int64(137), cfg.Ledger.ChainID)
	require.Equal(t, 5*time.Second, cfg.Ledger.PollInterval.Duration)
	require.Equal(t, 9, cfg.Orchestrator.SyncMaxAttempts)
	require.Equal(t, time.Minute, cfg.Orchestrator.SlotTTL.Duration)

	// Untouched sections keep their defaults.
	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.Equal(t, 8000, cfg.Server.Port)
}

func TestLoadEnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "omend.toml")
	body := `
[redis]
addr = "file-redis:6379"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("OMEND_REDIS_ADDR", "env-redis:6379")
	t.Setenv("OMEND_LEDGER_CHAIN_ID", "31337")
	t.Setenv("OMEND_ORCHESTRATOR_FAUCET_COOLDOWN", "48h")
	t.Setenv("OMEND_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("OMEND_SERVER_API_KEY", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	require.Equal(t, int64(31337), cfg.Ledger.ChainID)
	require.Equal(t, 48*time.Hour, cfg.Orchestrator.FaucetCooldown.Duration)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	require.Equal(t, "s3cret", cfg.Server.APIKey)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestDurationRoundTrip(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	require.Equal(t, 90*time.Second, d.Duration)

	out, err := d.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "1m30s", string(out))

	require.Error(t, d.UnmarshalText([]byte("not-a-duration")))
}
