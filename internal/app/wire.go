package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	s3blob "github.com/alanyoungcy/ideapool/internal/blob/s3"
	"github.com/alanyoungcy/ideapool/internal/cache/redis"
	"github.com/alanyoungcy/ideapool/internal/config"
	"github.com/alanyoungcy/ideapool/internal/crypto"
	"github.com/alanyoungcy/ideapool/internal/domain"
	"github.com/alanyoungcy/ideapool/internal/futarchy"
	"github.com/alanyoungcy/ideapool/internal/ideastore"
	"github.com/alanyoungcy/ideapool/internal/ledger"
	"github.com/alanyoungcy/ideapool/internal/notify"
	"github.com/alanyoungcy/ideapool/internal/store/postgres"
	"github.com/alanyoungcy/ideapool/internal/store/sqlite"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/shopspring/decimal"
)

// Dependencies bundles every concrete dependency the services and the HTTP
// surface need. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	Ledger         *ledger.Client
	Protocol       *futarchy.Client
	Permissionless solana.PrivateKey
	BaseMint       solana.PublicKey
	QuoteMint      solana.PublicKey
	DaoParams      futarchy.DaoParams

	// Stores
	IdeaStore domain.IdeaStore
	Journal   domain.SagaJournal
	Audit     domain.AuditStore

	// Caches
	StatsCache  domain.StatsCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	Receipts domain.ReceiptArchive

	// Notifications
	Notifier *notify.Notifier

	// Checks are the dependency probes reported by /api/health.
	Checks map[string]func(context.Context) error
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
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Checks: map[string]func(context.Context) error{}}

	// --- Ledger and protocol ---
	wallet, err := loadWallet(cfg.Wallet)
	if err != nil {
		return fail("wallet", err)
	}
	rpcClient := newRPC(cfg.Network)
	closers = append(closers, func() { _ = rpcClient.Close() })

	deps.Ledger = ledger.NewClient(rpcClient, wallet, ledger.Options{
		Commitment:    rpc.CommitmentType(cfg.Network.Commitment),
		MaxRetries:    cfg.Ledger.SubmitMaxRetries,
		SkipPreflight: cfg.Ledger.SkipPreflight,
		PollInterval:  cfg.Ledger.ConfirmPollInterval.Duration,
		ExplorerURL:   cfg.Network.ExplorerURL,
	}, logger)
	if wallet != nil {
		logger.InfoContext(ctx, "wire: signing wallet loaded", slog.String("public_key", wallet.PublicKey().String()))
	} else {
		logger.WarnContext(ctx, "wire: no wallet configured; ledger writes are disabled")
	}

	programs, err := futarchy.ParsePrograms(cfg.Futarchy.ProgramID, cfg.Futarchy.ConditionalVaultProgramID, cfg.Futarchy.SquadsProgramID)
	if err != nil {
		return fail("futarchy programs", err)
	}
	deps.Protocol = futarchy.NewClient(programs, deps.Ledger)

	if deps.BaseMint, err = solana.PublicKeyFromBase58(cfg.Futarchy.BaseMint); err != nil {
		return fail("futarchy base mint", err)
	}
	if deps.QuoteMint, err = solana.PublicKeyFromBase58(cfg.Futarchy.QuoteMint); err != nil {
		return fail("futarchy quote mint", err)
	}
	if cfg.Futarchy.PermissionlessSecret != "" {
		if deps.Permissionless, err = ledger.ParsePrivateKey(cfg.Futarchy.PermissionlessSecret); err != nil {
			return fail("futarchy permissionless secret", err)
		}
	}
	var team solana.PublicKey
	if wallet != nil {
		team = wallet.PublicKey()
	}
	if deps.DaoParams, err = daoParams(cfg.Futarchy, team); err != nil {
		return fail("futarchy dao params", err)
	}

	// --- PostgreSQL ---
	var pg *postgres.Client
	if cfg.UsesPostgres() {
		pg, err = postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pg.Close)
		if cfg.Supabase.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		deps.Audit = postgres.NewAuditStore(pg.Pool())
		deps.Checks["postgres"] = pg.Ping
	}

	// --- Idea store ---
	switch cfg.IdeaStore.Backend {
	case config.IdeaStorePostgres:
		deps.IdeaStore = postgres.NewIdeaStore(pg.Pool(), logger)
	default:
		var signer *crypto.RequestSigner
		if cfg.IdeaStore.SigningKey != "" && cfg.IdeaStore.SigningSecret != "" {
			signer = &crypto.RequestSigner{Key: cfg.IdeaStore.SigningKey, Secret: cfg.IdeaStore.SigningSecret}
		}
		deps.IdeaStore = ideastore.New(ideastore.Config{
			BaseURL:    cfg.IdeaStore.BaseURL,
			APIKey:     cfg.IdeaStore.APIKey,
			Timeout:    cfg.IdeaStore.Timeout.Duration,
			RatePerSec: cfg.IdeaStore.RatePerSec,
			MaxRetries: cfg.IdeaStore.MaxRetries,
			Signer:     signer,
		}, logger)
	}

	// --- Saga journal ---
	switch cfg.Journal.Backend {
	case config.JournalPostgres:
		deps.Journal = postgres.NewJournalStore(pg.Pool())
	case config.JournalSQLite:
		lite, err := sqlite.Open(cfg.Journal.SQLitePath)
		if err != nil {
			return fail("sqlite journal", err)
		}
		closers = append(closers, func() { _ = lite.Close() })
		deps.Journal = lite
		if deps.Audit == nil {
			deps.Audit = lite
		}
	}

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
		return fail("redis", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.StatsCache = redis.NewStatsCache(redisClient, cfg.Trading.StatsTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.Checks["redis"] = redisClient.Ping

	// --- S3 receipts ---
	if cfg.S3.Enabled {
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
			return fail("s3", err)
		}
		deps.Receipts = s3blob.NewReceipts(s3blob.NewWriter(s3Client, 0), s3blob.NewReader(s3Client), "receipts")
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// loadWallet returns the operator wallet, or a nil Wallet when no key source
// is configured.
func loadWallet(cfg config.WalletConfig) (ledger.Wallet, error) {
	if !cfg.Configured() {
		return nil, nil
	}
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.PrivateKey,
		KeypairPath:      cfg.KeypairPath,
		EncryptedKeyPath: cfg.EncryptedKeyPath,
		KeyPassword:      cfg.KeyPassword,
	})
	if err != nil {
		return nil, err
	}
	return ledger.NewKeypairWallet(key), nil
}

func newRPC(cfg config.NetworkConfig) *rpc.Client {
	timeout := cfg.RequestTimeout.Duration
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return rpc.NewWithCustomRPCClient(jsonrpc.NewClientWithOpts(cfg.Endpoint(), &jsonrpc.RPCClientOpts{
		HTTPClient: &http.Client{Timeout: timeout},
	}))
}

// daoParams converts the configured economics into on-chain DAO parameters.
// The TWAP observation is the configured price in the oracle's fixed-point
// form; its per-update cap is a bps share of that observation.
func daoParams(cfg config.FutarchyConfig, team solana.PublicKey) (futarchy.DaoParams, error) {
	price, err := decimal.NewFromString(cfg.TwapInitialObservation)
	if err != nil {
		return futarchy.DaoParams{}, fmt.Errorf("twap_initial_observation: %w", err)
	}
	obs, err := futarchy.PriceObservation(price, int32(cfg.BaseDecimals), int32(cfg.QuoteDecimals))
	if err != nil {
		return futarchy.DaoParams{}, err
	}
	change := new(big.Int).Mul(obs.Big(), big.NewInt(int64(cfg.TwapMaxObservationChangeBps)))
	change.Quo(change, big.NewInt(10_000))
	maxChange, err := futarchy.U128FromBig(change)
	if err != nil {
		return futarchy.DaoParams{}, err
	}

	return futarchy.DaoParams{
		TwapInitialObservation:            obs,
		TwapMaxObservationChangePerUpdate: maxChange,
		TwapStartDelaySeconds:             cfg.TwapStartDelaySeconds,
		MinQuoteFutarchicLiquidity:        cfg.MinQuoteFutarchicLiquidity,
		MinBaseFutarchicLiquidity:         cfg.MinBaseFutarchicLiquidity,
		BaseToStake:                       cfg.BaseToStake,
		PassThresholdBps:                  cfg.PassThresholdBps,
		SecondsPerProposal:                cfg.SecondsPerProposal,
		TeamSponsoredPassThresholdBps:     cfg.TeamSponsoredPassThresholdBps,
		TeamAddress:                       team,
	}, nil
}
