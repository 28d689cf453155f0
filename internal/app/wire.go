package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	s3blob "github.com/alanyoungcy/retropick/internal/blob/s3"
	"github.com/alanyoungcy/retropick/internal/cache/redis"
	"github.com/alanyoungcy/retropick/internal/chain/evm"
	"github.com/alanyoungcy/retropick/internal/config"
	"github.com/alanyoungcy/retropick/internal/consensus"
	"github.com/alanyoungcy/retropick/internal/crypto"
	"github.com/alanyoungcy/retropick/internal/domain"
	"github.com/alanyoungcy/retropick/internal/feed"
	"github.com/alanyoungcy/retropick/internal/fetch"
	"github.com/alanyoungcy/retropick/internal/notify"
	"github.com/alanyoungcy/retropick/internal/oracle"
	"github.com/alanyoungcy/retropick/internal/settlement"
	"github.com/alanyoungcy/retropick/internal/store/postgres"
	"github.com/alanyoungcy/retropick/internal/workflow"
)

// eventStream is the durable stream every pipeline event is appended to.
const eventStream = "pipeline_events"

// Dependencies bundles everything the run modes and one-shot commands need.
// It is constructed by Wire and torn down by the returned cleanup function.
// Optional components are nil when their backend is disabled.
type Dependencies struct {
	ReplicaID string
	Signer    *crypto.ReportSigner
	Watcher   *evm.LogWatcher

	// Shared state (Redis). MemoryCache stands in for the response cache
	// when Redis is disabled.
	MemoryCache *fetch.MemoryCache
	Redis       *redis.Client
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Persistence (Postgres, S3)
	Postgres *postgres.Client
	Ledger   domain.AttemptStore
	Audit    domain.AuditStore
	S3       *s3blob.Client
	Blobs    domain.BlobReader
	Exporter *s3blob.LedgerExporter

	Notifier *notify.Notifier
	Workflow *workflow.Workflow
}

// Wire constructs the concrete implementations named by cfg and returns
// them together with a cleanup function that releases them in reverse
// order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

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

	deps := &Dependencies{ReplicaID: cfg.Consensus.ReplicaID}
	if deps.ReplicaID == "" {
		deps.ReplicaID = uuid.NewString()
	}

	// --- Signing key and chain ---
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Chain.PrivateKey,
		EncryptedKeyPath: cfg.Chain.EncryptedKeyPath,
		KeyPassword:      cfg.Chain.KeyPassword,
	})
	if err != nil {
		return fail("signing key", err)
	}
	deps.Signer = crypto.NewReportSigner(key)

	chain, err := evm.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fail("chain", err)
	}
	closers = append(closers, func() { _ = chain.Close() })

	market := config.Address(cfg.Chain.MarketAddress)
	reader := evm.NewMarketReader(chain.Eth(), market)
	writer := evm.NewReportWriter(chain.Eth(), deps.Signer, evm.WriterConfig{
		ChainID:        chain.ChainID(),
		GasLimit:       cfg.Chain.GasLimit,
		ReceiptTimeout: cfg.Chain.ReceiptTimeout.Duration,
	}, logger)
	deps.Watcher = evm.NewLogWatcher(chain.Eth(), evm.WatcherConfig{
		Market:    market,
		FromBlock: cfg.Chain.FromBlock,
		Poll:      cfg.Chain.LogPoll.Duration,
		Latest:    cfg.Chain.FollowLatest,
	}, logger)

	// --- Redis ---
	var cache domain.ResponseCache
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = rc.Close() })

		limiter := redis.NewRateLimiter(rc, redis.Limit{
			Requests: cfg.Server.RateLimit,
			Window:   cfg.Server.RateWindow.Duration,
		})
		limiter.SetLimit("fetch:", fetchLimit)

		deps.Redis = rc
		deps.RateLimiter = limiter
		deps.LockManager = redis.NewLockManager(rc)
		deps.SignalBus = redis.NewSignalBus(rc)
		cache = redis.NewResponseCache(rc)
	} else {
		deps.MemoryCache = fetch.NewMemoryCache()
		cache = deps.MemoryCache
	}

	// --- PostgreSQL ---
	if cfg.Supabase.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
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
		deps.Postgres = pg
		deps.Ledger = postgres.NewAttemptStore(pg.Pool())
		deps.Audit = postgres.NewAuditStore(pg.Pool())
	} else {
		deps.Ledger = settlement.NewMemoryLedger()
	}

	// --- S3 report archive ---
	submitOpts := []settlement.Option{settlement.WithLedger(deps.Ledger)}
	if deps.LockManager != nil {
		submitOpts = append(submitOpts, settlement.WithTransmitLock(deps.LockManager, cfg.Workflow.LockTTL.Duration))
	}
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
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
		blobWriter := s3blob.NewWriter(sc)
		deps.S3 = sc
		deps.Blobs = s3blob.NewReader(sc)
		deps.Exporter = s3blob.NewLedgerExporter(blobWriter, deps.Ledger)
		submitOpts = append(submitOpts, settlement.WithArchive(s3blob.NewReportArchive(blobWriter)))
	}

	// --- Fetching, feeds and the oracle ---
	fetchOpts := []fetch.Option{fetch.WithCache(cache)}
	if deps.RateLimiter != nil {
		fetchOpts = append(fetchOpts, fetch.WithRateLimiter(deps.RateLimiter))
	}
	fetcher := fetch.New(logger, fetchOpts...)

	provider, err := buildProvider(ctx, cfg.AI, fetcher, cache, logger)
	if err != nil {
		return fail("oracle", err)
	}

	aggregator, err := buildAggregator(cfg.Consensus, deps, logger)
	if err != nil {
		return fail("consensus", err)
	}

	// --- Event sinks ---
	sinks, err := buildSinks(cfg, deps, logger, &closers)
	if err != nil {
		return fail("event sinks", err)
	}

	sessions, err := cfg.DomainSessions()
	if err != nil {
		return fail("sessions", err)
	}

	deps.Workflow = workflow.New(workflow.Config{
		Creator:          config.Address(cfg.Workflow.CreatorAddress),
		Factory:          config.Address(cfg.Workflow.MarketFactoryAddress),
		Receiver:         config.Address(cfg.Workflow.CREReceiverAddress),
		Market:           market,
		Feeds:            cfg.DomainFeeds(),
		Sessions:         sessions,
		HTTPResolveAfter: cfg.Workflow.HTTPResolveAfter.Duration,
	}, workflow.Deps{
		Feeds:      feed.NewNormalizer(fetcher, logger),
		Oracle:     oracle.NewClient(provider, logger),
		Reader:     reader,
		Submitter:  settlement.NewSubmitter(writer, logger, submitOpts...),
		Ledger:     deps.Ledger,
		Aggregator: aggregator,
		Sink:       sinks,
	}, logger)

	logger.InfoContext(ctx, "dependencies wired",
		slog.String("replica_id", deps.ReplicaID),
		slog.String("signer", deps.Signer.Address().Hex()),
		slog.String("chain_id", chain.ChainID().String()),
		slog.Bool("redis", deps.Redis != nil),
		slog.Bool("postgres", deps.Postgres != nil),
		slog.Bool("s3", deps.S3 != nil),
		slog.String("oracle", provider.Name()),
	)
	return deps, cleanup, nil
}

// fetchLimit bounds outbound requests per upstream host across replicas.
var fetchLimit = redis.Limit{Requests: 10, Window: time.Second}

func buildProvider(ctx context.Context, ai config.AIConfig, req oracle.Requester, cache domain.ResponseCache, logger *slog.Logger) (oracle.Provider, error) {
	oc := oracle.Config{
		Provider:     ai.Provider,
		URL:          ai.URL,
		Model:        ai.Model,
		APIKey:       ai.APIKey,
		MockResponse: ai.MockResponse,
	}
	if strings.EqualFold(strings.TrimSpace(ai.Provider), oracle.ProviderGemini) {
		p, err := oracle.NewGeminiProvider(ctx, oc, cache, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return oracle.NewProvider(oc, req)
}

func buildPolicy(cc config.ConsensusConfig) (consensus.Policy, error) {
	switch strings.ToLower(cc.Policy) {
	case "", "identical":
		return consensus.Identical{}, nil
	case "quorum":
		return consensus.Quorum{Min: cc.Quorum}, nil
	default:
		return nil, fmt.Errorf("%w: unknown consensus policy %q", domain.ErrMissingConfig, cc.Policy)
	}
}

// buildAggregator returns nil in solo mode; a nil Aggregator observes each
// step once.
func buildAggregator(cc config.ConsensusConfig, deps *Dependencies, logger *slog.Logger) (consensus.Aggregator, error) {
	policy, err := buildPolicy(cc)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(cc.Mode) {
	case "", "solo":
		return nil, nil
	case "local":
		return consensus.NewLocalAggregator(cc.Replicas, policy, logger), nil
	case "board":
		if deps.Redis == nil {
			return nil, fmt.Errorf("%w: board consensus needs redis", domain.ErrMissingConfig)
		}
		return consensus.NewBoardAggregator(redis.NewObservationBoard(deps.Redis), policy, consensus.BoardConfig{
			Replica:  deps.ReplicaID,
			Expected: cc.Replicas,
			Timeout:  cc.Timeout.Duration,
			Poll:     cc.Poll.Duration,
		}, logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown consensus mode %q", domain.ErrMissingConfig, cc.Mode)
	}
}

func buildSinks(cfg *config.Config, deps *Dependencies, logger *slog.Logger, closers *[]func()) (workflow.MultiSink, error) {
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	sinks := workflow.MultiSink{deps.Notifier}
	if deps.SignalBus != nil {
		sinks = append(sinks, workflow.BusSink{
			Bus:     deps.SignalBus,
			Channel: cfg.Server.EventChannel,
			Stream:  eventStream,
			Logger:  logger,
		})
	}
	if deps.Audit != nil {
		sinks = append(sinks, workflow.AuditSink{Store: deps.Audit, Logger: logger})
	}
	if cfg.AMQP.URL != "" {
		pub, err := notify.DialAMQP(notify.AMQPConfig{
			URL:           cfg.AMQP.URL,
			Exchange:      cfg.AMQP.Exchange,
			RoutingPrefix: cfg.AMQP.RoutingPrefix,
		}, logger)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, func() { _ = pub.Close() })
		sinks = append(sinks, pub)
	}
	return sinks, nil
}
