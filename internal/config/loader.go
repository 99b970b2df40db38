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
// built-in defaults, applies IDEAPOOL_* environment variable overrides, and
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

// applyEnvOverrides reads well-known IDEAPOOL_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Network ──
	setStr(&cfg.Network.Cluster, "IDEAPOOL_NETWORK_CLUSTER")
	setStr(&cfg.Network.RPCURL, "IDEAPOOL_NETWORK_RPC_URL")
	setStr(&cfg.Network.MainnetRPCURL, "IDEAPOOL_NETWORK_MAINNET_RPC_URL")
	setStr(&cfg.Network.DevnetRPCURL, "IDEAPOOL_NETWORK_DEVNET_RPC_URL")
	setStr(&cfg.Network.Commitment, "IDEAPOOL_NETWORK_COMMITMENT")
	setStr(&cfg.Network.ExplorerURL, "IDEAPOOL_NETWORK_EXPLORER_URL")
	setDuration(&cfg.Network.RequestTimeout, "IDEAPOOL_NETWORK_REQUEST_TIMEOUT")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "IDEAPOOL_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.KeypairPath, "IDEAPOOL_WALLET_KEYPAIR_PATH")
	setStr(&cfg.Wallet.EncryptedKeyPath, "IDEAPOOL_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "IDEAPOOL_WALLET_KEY_PASSWORD")

	// ── Futarchy ──
	setStr(&cfg.Futarchy.ProgramID, "IDEAPOOL_FUTARCHY_PROGRAM_ID")
	setStr(&cfg.Futarchy.ConditionalVaultProgramID, "IDEAPOOL_FUTARCHY_CONDITIONAL_VAULT_PROGRAM_ID")
	setStr(&cfg.Futarchy.SquadsProgramID, "IDEAPOOL_FUTARCHY_SQUADS_PROGRAM_ID")
	setStr(&cfg.Futarchy.BaseMint, "IDEAPOOL_FUTARCHY_BASE_MINT")
	setStr(&cfg.Futarchy.QuoteMint, "IDEAPOOL_FUTARCHY_QUOTE_MINT")
	setInt(&cfg.Futarchy.BaseDecimals, "IDEAPOOL_FUTARCHY_BASE_DECIMALS")
	setInt(&cfg.Futarchy.QuoteDecimals, "IDEAPOOL_FUTARCHY_QUOTE_DECIMALS")
	setStr(&cfg.Futarchy.PermissionlessSecret, "IDEAPOOL_FUTARCHY_PERMISSIONLESS_SECRET")

	// ── Ledger ──
	setInt(&cfg.Ledger.SubmitMaxRetries, "IDEAPOOL_LEDGER_SUBMIT_MAX_RETRIES")
	setBool(&cfg.Ledger.SkipPreflight, "IDEAPOOL_LEDGER_SKIP_PREFLIGHT")
	setDuration(&cfg.Ledger.ConfirmPollInterval, "IDEAPOOL_LEDGER_CONFIRM_POLL_INTERVAL")

	// ── Pool ──
	setInt(&cfg.Pool.SponsorVoteThreshold, "IDEAPOOL_POOL_SPONSOR_VOTE_THRESHOLD")
	setDuration(&cfg.Pool.LockTTL, "IDEAPOOL_POOL_LOCK_TTL")
	setBool(&cfg.Pool.ResumeEnabled, "IDEAPOOL_POOL_RESUME_ENABLED")

	// ── Trading ──
	setStr(&cfg.Trading.AmountEpsilon, "IDEAPOOL_TRADING_AMOUNT_EPSILON")
	setInt(&cfg.Trading.DefaultSlippageBps, "IDEAPOOL_TRADING_DEFAULT_SLIPPAGE_BPS")
	setInt(&cfg.Trading.MaxTradesPerMinute, "IDEAPOOL_TRADING_MAX_TRADES_PER_MINUTE")
	setDuration(&cfg.Trading.StatsTTL, "IDEAPOOL_TRADING_STATS_TTL")

	// ── Idea store ──
	setStr(&cfg.IdeaStore.Backend, "IDEAPOOL_IDEA_STORE_BACKEND")
	setStr(&cfg.IdeaStore.BaseURL, "IDEAPOOL_IDEA_STORE_BASE_URL")
	setStr(&cfg.IdeaStore.APIKey, "IDEAPOOL_IDEA_STORE_API_KEY")
	setDuration(&cfg.IdeaStore.Timeout, "IDEAPOOL_IDEA_STORE_TIMEOUT")
	setFloat64(&cfg.IdeaStore.RatePerSec, "IDEAPOOL_IDEA_STORE_RATE_PER_SEC")
	setInt(&cfg.IdeaStore.MaxRetries, "IDEAPOOL_IDEA_STORE_MAX_RETRIES")
	setStr(&cfg.IdeaStore.SigningKey, "IDEAPOOL_IDEA_STORE_SIGNING_KEY")
	setStr(&cfg.IdeaStore.SigningSecret, "IDEAPOOL_IDEA_STORE_SIGNING_SECRET")

	// ── Journal ──
	setStr(&cfg.Journal.Backend, "IDEAPOOL_JOURNAL_BACKEND")
	setStr(&cfg.Journal.SQLitePath, "IDEAPOOL_JOURNAL_SQLITE_PATH")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "IDEAPOOL_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "IDEAPOOL_SUPABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "IDEAPOOL_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "IDEAPOOL_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "IDEAPOOL_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "IDEAPOOL_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "IDEAPOOL_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "IDEAPOOL_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "IDEAPOOL_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "IDEAPOOL_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "IDEAPOOL_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "IDEAPOOL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "IDEAPOOL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "IDEAPOOL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "IDEAPOOL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "IDEAPOOL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "IDEAPOOL_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "IDEAPOOL_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "IDEAPOOL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "IDEAPOOL_S3_REGION")
	setStr(&cfg.S3.Bucket, "IDEAPOOL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "IDEAPOOL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "IDEAPOOL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "IDEAPOOL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "IDEAPOOL_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "IDEAPOOL_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "IDEAPOOL_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "IDEAPOOL_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "IDEAPOOL_SERVER_API_KEY")
	setStr(&cfg.Server.AdminAPIKey, "IDEAPOOL_SERVER_ADMIN_API_KEY")
	setInt(&cfg.Server.RequestsPerMinute, "IDEAPOOL_SERVER_REQUESTS_PER_MINUTE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "IDEAPOOL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "IDEAPOOL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "IDEAPOOL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "IDEAPOOL_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "IDEAPOOL_MODE")
	setStr(&cfg.LogLevel, "IDEAPOOL_LOG_LEVEL")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
