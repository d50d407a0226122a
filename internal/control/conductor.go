package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/vietddude/conductor/internal/core/config"
	"github.com/vietddude/conductor/internal/core/consistency"
	"github.com/vietddude/conductor/internal/core/domain"
	"github.com/vietddude/conductor/internal/core/lifecycle"
	"github.com/vietddude/conductor/internal/core/retry"
	"github.com/vietddude/conductor/internal/core/settlement"
	"github.com/vietddude/conductor/internal/core/worker"
	"github.com/vietddude/conductor/internal/health"
	"github.com/vietddude/conductor/internal/infra/attestation"
	"github.com/vietddude/conductor/internal/infra/cache"
	"github.com/vietddude/conductor/internal/infra/chain"
	"github.com/vietddude/conductor/internal/infra/chain/evm"
	"github.com/vietddude/conductor/internal/infra/chain/stacks"
	"github.com/vietddude/conductor/internal/infra/oracle"
	"github.com/vietddude/conductor/internal/infra/pools"
	"github.com/vietddude/conductor/internal/infra/probe"
	redisclient "github.com/vietddude/conductor/internal/infra/redis"
	"github.com/vietddude/conductor/internal/infra/rpc/provider"
	"github.com/vietddude/conductor/internal/infra/rpc/routing"
	"github.com/vietddude/conductor/internal/infra/storage"
	"github.com/vietddude/conductor/internal/infra/storage/memory"
	"github.com/vietddude/conductor/internal/infra/storage/postgres"
)

// SchedulerLockName is the Redis lock guarding queue passes across instances.
const SchedulerLockName = "lifecycle:process-queue"

// Cache is the byte cache shared by the core components.
type Cache interface {
	consistency.Cache
	Ping(ctx context.Context) error
}

// Conductor is the main application struct that wires the orchestration core.
type Conductor struct {
	cfg *config.AppConfig

	Monitor     *lifecycle.Monitor
	Validator   *consistency.Validator
	Settlement  *settlement.Coordinator
	Chains      *chain.Registry
	Transaction storage.TransactionRepository

	scheduler    *worker.Scheduler
	healthServer *health.Server
	db           *postgres.DB
	redisClient  *redisclient.Client
	memCache     *cache.Memory
	closers      []io.Closer
	log          *slog.Logger
}

// NewConductor creates a new Conductor instance with all dependencies initialized.
func NewConductor(ctx context.Context, cfg *config.AppConfig) (*Conductor, error) {
	c := &Conductor{cfg: cfg, log: slog.Default()}

	// 1. Initialize Storage
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := postgres.Migrate(ctx, db.DB.DB); err != nil {
			_ = db.Close()
			return nil, err
		}
		c.db = db
		c.Transaction = postgres.NewTxRepo(db)
		c.log.Info("Using PostgreSQL storage")
	} else {
		c.Transaction = memory.NewTxRepo()
		c.log.Info("Using Memory storage")
	}

	// 2. Initialize Cache
	var sharedCache Cache
	if cfg.Redis.URL != "" {
		rc, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			c.log.Warn("Failed to connect to Redis, using in-process cache", "error", err)
		} else {
			c.redisClient = rc
			sharedCache = rc
		}
	}
	if sharedCache == nil {
		c.memCache = cache.NewMemory(cfg.Consistency.PoolCacheTTL)
		sharedCache = c.memCache
	}

	// 3. Initialize Chains
	var adapters []chain.Adapter
	for _, chCfg := range cfg.Chains {
		p := chainRouter(chCfg, c.log)
		c.closers = append(c.closers, p)
		switch chCfg.Type {
		case domain.ChainTypeEVM:
			adapters = append(adapters, evm.NewEVMAdapter(evm.Config{
				ChainID:       chCfg.ID,
				TokenContract: chCfg.TokenContract,
				MintLookback:  chCfg.MintLookback,
			}, p))
		case domain.ChainTypeStacks:
			adapters = append(adapters, stacks.NewStacksAdapter(stacks.Config{
				ChainID:        chCfg.ID,
				MintContract:   chCfg.MintContract,
				EventsPageSize: chCfg.EventsPageSize,
			}, p))
		default:
			c.closeAll()
			return nil, fmt.Errorf("unsupported chain type %q for %s", chCfg.Type, chCfg.ID)
		}
		c.log.Info("Chain configured", "chain", chCfg.ID, "type", chCfg.Type, "endpoints", 1+len(chCfg.FallbackURLs))
	}
	c.Chains = chain.NewRegistry(adapters...)

	// 4. Initialize Collaborators
	attestations := attestation.NewClient(serviceProvider("attestation", cfg.Attestation))
	rates := oracle.NewClient(serviceProvider("oracle", cfg.Oracle.ServiceConfig), cfg.Oracle.IDs)
	poolClient := pools.NewClient(serviceProvider("pools", cfg.Pools))

	// 5. Initialize Core
	retryOpts := retry.Options{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}
	exec := retry.NewExecutor(c.log).WithDefaults(retryOpts)

	maxRetries := lifecycle.DefaultConfig().MaxRetries
	if cfg.Lifecycle.MaxRetries != nil {
		maxRetries = *cfg.Lifecycle.MaxRetries
	}
	c.Monitor = lifecycle.NewMonitor(lifecycle.Config{
		Concurrency:           cfg.Lifecycle.Concurrency,
		RequiredConfirmations: cfg.Lifecycle.RequiredConfirmations,
		MaxRetries:            maxRetries,
		TransactionTimeout:    cfg.Lifecycle.TransactionTimeout,
		CallTimeout:           cfg.Lifecycle.CallTimeout,
	}, c.Transaction, lifecycle.Sources{
		Confirmations: c.Chains,
		Attestations:  attestations,
		Mints:         c.Chains,
	}, exec, c.log)
	c.Monitor.OnTransition(func(t domain.Transition) {
		c.log.Debug("Transition recorded",
			"id", t.TransactionID,
			"from", t.From,
			"to", t.To,
			"reason", t.Reason,
		)
	})

	c.Validator = consistency.NewValidator(consistency.Config{
		PoolCacheTTL: cfg.Consistency.PoolCacheTTL,
		FetchTimeout: cfg.Consistency.FetchTimeout,
	}, poolClient, poolClient, poolClient, sharedCache, exec, c.log)

	probes, err := c.buildProbes(sharedCache, poolClient, attestations, rates)
	if err != nil {
		c.closeAll()
		return nil, err
	}

	gasPrice, markup, err := cfg.Settlement.Amounts()
	if err != nil {
		c.closeAll()
		return nil, err
	}
	c.Settlement = settlement.NewCoordinator(settlement.Config{
		GasAsset:           cfg.Settlement.GasAsset,
		SettlementAsset:    cfg.Settlement.SettlementAsset,
		GasPrice:           gasPrice,
		MarkupPercent:      markup,
		SettlementDecimals: cfg.Settlement.SettlementDecimals,
		QuoteTTL:           cfg.Settlement.QuoteTTL,
		RateTimeout:        cfg.Settlement.RateTimeout,
		BroadcastTimeout:   cfg.Settlement.BroadcastTimeout,
		ProbeTimeout:       cfg.Settlement.ProbeTimeout,
	}, rates, c.Chains, c.Monitor, probes, exec, c.log)

	// 6. Initialize Scheduler and Health Server
	schedOpts := []worker.Option{worker.WithLogger(c.log)}
	if c.redisClient != nil && cfg.Lifecycle.LockTTL > 0 {
		schedOpts = append(schedOpts, worker.WithLock(c.redisClient, cfg.Lifecycle.LockTTL))
	}
	c.scheduler = worker.NewScheduler(SchedulerLockName, cfg.Lifecycle.PollInterval, c.Monitor.ProcessQueue, schedOpts...)
	c.healthServer = health.NewServer(c.Settlement, cfg.Server.Port)

	return c, nil
}

func (c *Conductor) buildProbes(
	sharedCache Cache,
	poolClient *pools.Client,
	attestations *attestation.Client,
	rates *oracle.Client,
) ([]settlement.HealthProbe, error) {
	probes := []settlement.HealthProbe{
		probe.Func{ProbeName: "cache", Fn: sharedCache.Ping},
		probe.Func{ProbeName: "store", Fn: c.Transaction.Ping},
	}
	if c.cfg.Pools.URL != "" {
		probes = append(probes, probe.Func{ProbeName: "poolDiscovery", Fn: poolClient.Ping})
	}
	if c.cfg.Attestation.URL != "" {
		probes = append(probes, probe.Func{ProbeName: "attestation", Fn: attestations.Ping})
	}
	if c.cfg.Oracle.URL != "" {
		probes = append(probes, probe.Func{ProbeName: "rates", Fn: rates.Ping})
	}
	for _, id := range c.Chains.Chains() {
		adapter, err := c.Chains.Get(id)
		if err != nil {
			return nil, err
		}
		probes = append(probes, probe.Func{ProbeName: "chain:" + string(id), Fn: adapter.Ping})
	}
	if !slices.ContainsFunc(c.cfg.Probes, func(p config.ProbeConfig) bool { return p.Name == "swap" }) {
		probes = append(probes, probe.Func{ProbeName: "swap", Fn: c.swapPing(c.cfg.Consistency.SwapNetwork)})
	}

	for _, p := range c.cfg.Probes {
		switch p.Type {
		case "grpc":
			gp, err := probe.NewGRPC(p.Name, p.URL, p.Service)
			if err != nil {
				return nil, fmt.Errorf("failed to create probe %s: %w", p.Name, err)
			}
			c.closers = append(c.closers, gp)
			probes = append(probes, gp)
		default:
			probes = append(probes, probe.NewHTTP(p.Name, p.URL, c.cfg.Settlement.ProbeTimeout))
		}
	}
	return probes, nil
}

// swapPing checks the node of the network swaps settle on.
func (c *Conductor) swapPing(network domain.ChainID) func(ctx context.Context) error {
	adapter, err := c.Chains.Get(network)
	if err != nil {
		return func(context.Context) error {
			return fmt.Errorf("swap network unavailable: %w", err)
		}
	}
	return adapter.Ping
}

// Start starts the health server, the cache janitor and the queue scheduler.
func (c *Conductor) Start(ctx context.Context) error {
	go func() {
		if err := c.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.Error("Health server failed", "error", err)
		}
	}()

	if c.db != nil {
		c.db.StartMetricsCollector(ctx)
	}
	if c.memCache != nil {
		c.memCache.Start()
	}

	c.log.Info("Starting queue scheduler", "interval", c.cfg.Lifecycle.PollInterval)
	go c.scheduler.Start(ctx)
	return nil
}

// Stop stops the conductor. The scheduler stops with the context passed to Start.
func (c *Conductor) Stop(ctx context.Context) error {
	c.log.Info("Stopping Conductor...")
	err := c.healthServer.Stop(ctx)
	c.closeAll()
	return err
}

func (c *Conductor) closeAll() {
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil {
			c.log.Warn("Failed to close client", "error", err)
		}
	}
	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			c.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if c.memCache != nil {
		c.memCache.Stop()
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.log.Warn("Failed to close database", "error", err)
		}
	}
}

func chainRouter(chCfg config.ChainConfig, logger *slog.Logger) *routing.Router {
	opts := httpOptions(chCfg.RateLimit, chCfg.Burst, chCfg.Headers)
	endpoints := []routing.Endpoint{
		provider.NewHTTPProvider(string(chCfg.ID), chCfg.URL, chCfg.Timeout, opts...),
	}
	for i, url := range chCfg.FallbackURLs {
		name := fmt.Sprintf("%s-fallback-%d", chCfg.ID, i+1)
		endpoints = append(endpoints, provider.NewHTTPProvider(name, url, chCfg.Timeout, opts...))
	}
	return routing.NewRouter(string(chCfg.ID), endpoints, routing.WithLogger(logger))
}

func serviceProvider(name string, svc config.ServiceConfig) *provider.HTTPProvider {
	return provider.NewHTTPProvider(name, svc.URL, svc.Timeout, httpOptions(svc.RateLimit, svc.Burst, svc.Headers)...)
}

func httpOptions(rps float64, burst int, headers map[string]string) []provider.HTTPOption {
	var opts []provider.HTTPOption
	if rps > 0 {
		opts = append(opts, provider.WithRateLimit(rps, burst))
	}
	for k, v := range headers {
		opts = append(opts, provider.WithHeader(k, v))
	}
	return opts
}

// ProcessOnce runs a single queue pass, for one-shot invocations.
func (c *Conductor) ProcessOnce(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Monitor.ProcessQueue(ctx)
}
