// Package config defines the top-level configuration for the idea pool
// orchestrator and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by IDEAPOOL_* environment variables.
type Config struct {
	Network   NetworkConfig   `toml:"network"`
	Wallet    WalletConfig    `toml:"wallet"`
	Futarchy  FutarchyConfig  `toml:"futarchy"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Pool      PoolConfig      `toml:"pool"`
	Trading   TradingConfig   `toml:"trading"`
	IdeaStore IdeaStoreConfig `toml:"idea_store"`
	Journal   JournalConfig   `toml:"journal"`
	Supabase  SupabaseConfig  `toml:"supabase"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// Cluster names accepted by NetworkConfig.Cluster.
const (
	ClusterMainnet = "mainnet-beta"
	ClusterDevnet  = "devnet"
)

// NetworkConfig selects the ledger cluster and its RPC endpoint.
type NetworkConfig struct {
	Cluster        string   `toml:"cluster"`
	RPCURL         string   `toml:"rpc_url"`
	MainnetRPCURL  string   `toml:"mainnet_rpc_url"`
	DevnetRPCURL   string   `toml:"devnet_rpc_url"`
	Commitment     string   `toml:"commitment"`
	ExplorerURL    string   `toml:"explorer_url"`
	RequestTimeout duration `toml:"request_timeout"`
}

// Endpoint resolves the RPC endpoint: an explicit rpc_url wins, otherwise the
// per-cluster default is used.
func (n NetworkConfig) Endpoint() string {
	if n.RPCURL != "" {
		return n.RPCURL
	}
	if n.Cluster == ClusterDevnet {
		return n.DevnetRPCURL
	}
	return n.MainnetRPCURL
}

// WalletConfig holds the operator's signing key sources. At most one is used,
// in the order private_key, encrypted_key_path, keypair_path.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	KeypairPath      string `toml:"keypair_path"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// Configured reports whether any key source is set.
func (w WalletConfig) Configured() bool {
	return w.PrivateKey != "" || w.KeypairPath != "" || w.EncryptedKeyPath != ""
}

// FutarchyConfig holds program ids, mints and the economic parameters used
// when initializing a new DAO.
type FutarchyConfig struct {
	ProgramID                 string `toml:"program_id"`
	ConditionalVaultProgramID string `toml:"conditional_vault_program_id"`
	SquadsProgramID           string `toml:"squads_program_id"`
	BaseMint                  string `toml:"base_mint"`
	QuoteMint                 string `toml:"quote_mint"`
	BaseDecimals              int    `toml:"base_decimals"`
	QuoteDecimals             int    `toml:"quote_decimals"`
	// PermissionlessSecret is the base58 secret of the protocol-designated
	// co-signer required by the proposal container step.
	PermissionlessSecret string `toml:"permissionless_secret"`

	SecondsPerProposal            uint32 `toml:"seconds_per_proposal"`
	TwapStartDelaySeconds         uint32 `toml:"twap_start_delay_seconds"`
	TwapInitialObservation        string `toml:"twap_initial_observation"`
	TwapMaxObservationChangeBps   int    `toml:"twap_max_observation_change_bps"`
	MinQuoteFutarchicLiquidity    uint64 `toml:"min_quote_futarchic_liquidity"`
	MinBaseFutarchicLiquidity     uint64 `toml:"min_base_futarchic_liquidity"`
	PassThresholdBps              uint16 `toml:"pass_threshold_bps"`
	TeamSponsoredPassThresholdBps int16  `toml:"team_sponsored_pass_threshold_bps"`
	BaseToStake                   uint64 `toml:"base_to_stake"`
}

// LedgerConfig controls transaction submission and confirmation.
type LedgerConfig struct {
	SubmitMaxRetries    int      `toml:"submit_max_retries"`
	SkipPreflight       bool     `toml:"skip_preflight"`
	ConfirmPollInterval duration `toml:"confirm_poll_interval"`
}

// PoolConfig holds pool-creation saga parameters.
type PoolConfig struct {
	SponsorVoteThreshold int      `toml:"sponsor_vote_threshold"`
	LockTTL              duration `toml:"lock_ttl"`
	ResumeEnabled        bool     `toml:"resume_enabled"`
}

// TradingConfig holds trading session parameters.
type TradingConfig struct {
	// AmountEpsilon is the largest fractional base-unit remainder tolerated
	// when converting a decimal amount. "0" rejects any remainder.
	AmountEpsilon      string   `toml:"amount_epsilon"`
	DefaultSlippageBps int      `toml:"default_slippage_bps"`
	MaxTradesPerMinute int      `toml:"max_trades_per_minute"`
	StatsTTL           duration `toml:"stats_ttl"`
}

// Idea store backends.
const (
	IdeaStoreHTTP     = "http"
	IdeaStorePostgres = "postgres"
)

// IdeaStoreConfig selects and configures the off-chain idea store.
type IdeaStoreConfig struct {
	Backend    string   `toml:"backend"`
	BaseURL    string   `toml:"base_url"`
	APIKey     string   `toml:"api_key"`
	Timeout    duration `toml:"timeout"`
	RatePerSec float64  `toml:"rate_per_sec"`
	MaxRetries int      `toml:"max_retries"`

	// SigningKey and SigningSecret, when both set, HMAC-sign every request.
	SigningKey    string `toml:"signing_key"`
	SigningSecret string `toml:"signing_secret"`
}

// Saga journal backends.
const (
	JournalPostgres = "postgres"
	JournalSQLite   = "sqlite"
	JournalNone     = "none"
)

// JournalConfig selects where confirmed saga steps are recorded.
type JournalConfig struct {
	Backend    string `toml:"backend"`
	SQLitePath string `toml:"sqlite_path"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters used for receipts.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	AdminAPIKey string   `toml:"admin_api_key"`
	// RequestsPerMinute limits API calls per client IP; 0 disables it.
	RequestsPerMinute int `toml:"requests_per_minute"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Network: NetworkConfig{
			Cluster:        ClusterMainnet,
			MainnetRPCURL:  "https://api.mainnet-beta.solana.com",
			DevnetRPCURL:   "https://api.devnet.solana.com",
			Commitment:     "confirmed",
			ExplorerURL:    "https://solscan.io/tx/",
			RequestTimeout: duration{30 * time.Second},
		},
		Futarchy: FutarchyConfig{
			ProgramID:                     "metaRK9dUBnrAdZN6uUDKvxBVKW5pyCbPVmLtUZwtBp",
			ConditionalVaultProgramID:     "VLTX1ishMBbcX3rdBWGssxawAo1Q2X2qxYFYqiGodVg",
			SquadsProgramID:               "SQDS4ep65T869zMMBKyuUq6aD6EgTu8psMjkvj52pCf",
			BaseMint:                      "METADDFL6wWMWEoKTFJwcThTbUmtarRJZjRpzUvkxhr",
			QuoteMint:                     "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			BaseDecimals:                  6,
			QuoteDecimals:                 6,
			SecondsPerProposal:            3 * 24 * 60 * 60,
			TwapStartDelaySeconds:         24 * 60 * 60,
			TwapInitialObservation:        "1",
			TwapMaxObservationChangeBps:   100,
			MinQuoteFutarchicLiquidity:    10_000,
			MinBaseFutarchicLiquidity:     10_000,
			PassThresholdBps:              300,
			TeamSponsoredPassThresholdBps: 300,
			BaseToStake:                   0,
		},
		Ledger: LedgerConfig{
			SubmitMaxRetries:    3,
			SkipPreflight:       false,
			ConfirmPollInterval: duration{500 * time.Millisecond},
		},
		Pool: PoolConfig{
			SponsorVoteThreshold: 10,
			LockTTL:              duration{5 * time.Minute},
			ResumeEnabled:        true,
		},
		Trading: TradingConfig{
			AmountEpsilon:      "0",
			DefaultSlippageBps: 0,
			MaxTradesPerMinute: 30,
			StatsTTL:           duration{15 * time.Second},
		},
		IdeaStore: IdeaStoreConfig{
			Backend:    IdeaStoreHTTP,
			BaseURL:    "http://localhost:3001/api",
			Timeout:    duration{10 * time.Second},
			RatePerSec: 10,
			MaxRetries: 2,
		},
		Journal: JournalConfig{
			Backend:    JournalSQLite,
			SQLitePath: "ideapool-journal.db",
		},
		Supabase: SupabaseConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "ideapool-receipts",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:           true,
			Port:              8000,
			CORSOrigins:       []string{"http://localhost:3000", "http://localhost:5173"},
			RequestsPerMinute: 120,
		},
		Notify: NotifyConfig{
			Events: []string{"pool_created", "pool_failed", "idea_finalized", "sync_failed"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":    true,
	"readonly": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validCommitments = map[string]bool{
	"processed": true,
	"confirmed": true,
	"finalized": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, readonly)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Network
	if c.Network.Cluster != ClusterMainnet && c.Network.Cluster != ClusterDevnet {
		errs = append(errs, fmt.Sprintf("network: cluster must be %q or %q, got %q", ClusterMainnet, ClusterDevnet, c.Network.Cluster))
	}
	if c.Network.Endpoint() == "" {
		errs = append(errs, "network: no rpc endpoint for cluster "+c.Network.Cluster)
	}
	if !validCommitments[c.Network.Commitment] {
		errs = append(errs, fmt.Sprintf("network: unknown commitment %q", c.Network.Commitment))
	}

	// Wallet: serve mode signs transactions.
	if c.Mode == "serve" {
		if !c.Wallet.Configured() {
			errs = append(errs, "wallet: one of private_key, keypair_path or encrypted_key_path must be set for mode serve")
		}
		if c.Futarchy.PermissionlessSecret == "" {
			errs = append(errs, "futarchy: permissionless_secret is required for mode serve")
		}
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	// Futarchy
	if c.Futarchy.ProgramID == "" {
		errs = append(errs, "futarchy: program_id must not be empty")
	}
	if c.Futarchy.BaseMint == "" || c.Futarchy.QuoteMint == "" {
		errs = append(errs, "futarchy: base_mint and quote_mint must be set")
	}
	if c.Futarchy.QuoteDecimals < 0 || c.Futarchy.QuoteDecimals > 18 {
		errs = append(errs, fmt.Sprintf("futarchy: quote_decimals must be 0-18, got %d", c.Futarchy.QuoteDecimals))
	}
	if c.Futarchy.BaseDecimals < 0 || c.Futarchy.BaseDecimals > 18 {
		errs = append(errs, fmt.Sprintf("futarchy: base_decimals must be 0-18, got %d", c.Futarchy.BaseDecimals))
	}
	if c.Futarchy.SecondsPerProposal == 0 {
		errs = append(errs, "futarchy: seconds_per_proposal must be > 0")
	}
	if c.Futarchy.PassThresholdBps > 10_000 {
		errs = append(errs, "futarchy: pass_threshold_bps must be <= 10000")
	}

	// Ledger
	if c.Ledger.SubmitMaxRetries < 0 {
		errs = append(errs, "ledger: submit_max_retries must be >= 0")
	}
	if c.Ledger.ConfirmPollInterval.Duration <= 0 {
		errs = append(errs, "ledger: confirm_poll_interval must be > 0")
	}

	// Pool
	if c.Pool.SponsorVoteThreshold < 0 {
		errs = append(errs, "pool: sponsor_vote_threshold must be >= 0")
	}
	if c.Pool.LockTTL.Duration <= 0 {
		errs = append(errs, "pool: lock_ttl must be > 0")
	}

	// Trading
	if c.Trading.DefaultSlippageBps < 0 || c.Trading.DefaultSlippageBps > 10_000 {
		errs = append(errs, "trading: default_slippage_bps must be 0-10000")
	}
	if c.Trading.MaxTradesPerMinute < 0 {
		errs = append(errs, "trading: max_trades_per_minute must be >= 0")
	}

	// Idea store
	switch c.IdeaStore.Backend {
	case IdeaStoreHTTP:
		if c.IdeaStore.BaseURL == "" {
			errs = append(errs, "idea_store: base_url is required for the http backend")
		}
	case IdeaStorePostgres:
	default:
		errs = append(errs, fmt.Sprintf("idea_store: unknown backend %q (valid: http, postgres)", c.IdeaStore.Backend))
	}

	// Journal
	switch c.Journal.Backend {
	case JournalSQLite:
		if c.Journal.SQLitePath == "" {
			errs = append(errs, "journal: sqlite_path is required for the sqlite backend")
		}
	case JournalPostgres, JournalNone:
	default:
		errs = append(errs, fmt.Sprintf("journal: unknown backend %q (valid: postgres, sqlite, none)", c.Journal.Backend))
	}

	// Supabase is only needed when a postgres-backed component is selected.
	if c.UsesPostgres() {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// UsesPostgres reports whether any configured component needs the database.
func (c *Config) UsesPostgres() bool {
	return c.IdeaStore.Backend == IdeaStorePostgres || c.Journal.Backend == JournalPostgres
}
