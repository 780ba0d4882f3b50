package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"swap-relay/internal/auth"
	"swap-relay/internal/config"
	"swap-relay/internal/quote"
	"swap-relay/internal/registry"
	"swap-relay/internal/relay"
	"swap-relay/internal/server"
	"swap-relay/internal/solana"
	"swap-relay/internal/storage"
	chstore "swap-relay/internal/storage/clickhouse"
	"swap-relay/internal/storage/memory"
	pgstore "swap-relay/internal/storage/postgres"
)

const (
	purgeInterval   = time.Minute
	shutdownTimeout = 30 * time.Second
)

// loadConfig loads the env file, then flags, env and config file.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadEnvFile(envFile); err != nil {
		return config.Config{}, err
	}
	cfgFile, _ := cmd.Flags().GetString("config")
	return config.Load(cfgFile, cmd.Flags())
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	go handleSignals(cancel, done, logger)

	signer, err := relay.NewKeypairSignerFromBase58(cfg.FeePayerKey)
	if err != nil {
		return err
	}

	rpc := solana.NewHTTPClient(cfg.RPCURL)

	stores, cleanup, err := createStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	fees, err := quote.NewFeePolicy(quote.FeeConfig{
		Recipient:    cfg.FeeRecipient,
		Mints:        cfg.FeeMints,
		FeeBps:       cfg.FeeBps,
		MinFeeUSD:    cfg.MinFeeUSD,
		MinTradeUSD:  cfg.MinTradeUSD,
		MintDecimals: cfg.FeeMintDecimals,
	})
	if err != nil {
		return fmt.Errorf("fee policy: %w", err)
	}

	provider, err := quote.NewJupiterProvider(quote.JupiterOptions{
		BaseURL:               cfg.JupiterURL,
		RPC:                   rpc,
		FeePayer:              signer.PublicKey(),
		Fees:                  fees,
		MaxAccounts:           cfg.MaxAccounts,
		PriorityFeeMultiplier: cfg.PriorityFeeMultiplier,
		Logger:                logger,
	})
	if err != nil {
		return err
	}

	issued := quote.NewIssuedRegistry(cfg.IssuedTTL)
	recorder := quote.NewEventRecorder(stores.quoteEvents, quote.RecorderOptions{Logger: logger})
	engine := quote.NewEngine(quote.EngineOptions{
		Provider:      provider,
		RetryAttempts: cfg.RetryAttempts,
		RetryDelay:    cfg.RetryDelay,
		Issued:        issued,
		Recorder:      recorder,
		Logger:        logger,
	})

	subs := registry.New(registry.Options{
		Engine:          engine,
		RefreshInterval: cfg.RefreshInterval,
		SweepInterval:   cfg.SweepInterval,
		IdleTimeout:     cfg.IdleTimeout,
		MaxConcurrent:   cfg.MaxConcurrentComputes,
		Logger:          logger,
	})

	rel, err := relay.New(relay.Options{
		Signer:         signer,
		RPC:            rpc,
		Issued:         issued,
		Fees:           fees,
		Cache:          stores.idempotency,
		Ledger:         stores.sponsorships,
		IdempotencyTTL: cfg.IdempotencyTTL,
		RetryAttempts:  cfg.RetryAttempts,
		RetryDelay:     cfg.RetryDelay,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	var submitter server.Submitter
	if cfg.SubmitEnabled {
		var ws solana.WSClient
		if cfg.WSURL != "" {
			wsConfig := solana.DefaultWSConfig()
			wsConfig.Logger = logger
			wsClient, err := solana.NewWSClient(ctx, cfg.WSURL, &wsConfig)
			if err != nil {
				logger.Warn("solana websocket unavailable, confirming by polling", zap.Error(err))
			} else {
				defer wsClient.Close()
				ws = wsClient
			}
		}
		submitter = relay.NewBroadcaster(relay.BroadcasterOptions{
			RPC:            rpc,
			WS:             ws,
			Issued:         issued,
			ConfirmTimeout: cfg.ConfirmTimeout,
			RetryAttempts:  cfg.RetryAttempts,
			RetryDelay:     cfg.RetryDelay,
			Logger:         logger,
		})
	}

	verifier, err := auth.NewJWTVerifier(auth.JWTConfig{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	})
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		Registry:  subs,
		Relay:     rel,
		Submitter: submitter,
		Ledger:    stores.sponsorships,
		Verifier:  verifier,
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimitPerMinute,
			Burst:             cfg.RateLimitBurst,
		},
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	})

	var wg sync.WaitGroup
	background := []func(context.Context){
		subs.Run,
		recorder.Run,
		srv.Limiter().Run,
		func(ctx context.Context) { issued.Run(ctx, purgeInterval) },
	}
	if mem, ok := stores.idempotency.(*relay.MemoryCache); ok {
		background = append(background, func(ctx context.Context) { mem.Run(ctx, purgeInterval) })
	}
	for _, run := range background {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(run)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("relay listening",
			zap.String("addr", cfg.ListenAddr),
			zap.String("fee_payer", signer.PublicKey().String()),
			zap.Strings("fee_mints", cfg.FeeMints),
			zap.Bool("submit_enabled", cfg.SubmitEnabled),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	srv.Close()
	cancel()
	wg.Wait()

	logger.Info("shutdown complete")
	return nil
}

// handleSignals cancels on the first signal and exits on a second one or
// when shutdown takes too long.
func handleSignals(cancel context.CancelFunc, done <-chan struct{}, logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	case <-done:
		return
	}

	select {
	case sig := <-sigCh:
		logger.Error("received second signal, forcing exit", zap.String("signal", sig.String()))
		os.Exit(1)
	case <-time.After(shutdownTimeout):
		logger.Error("graceful shutdown timed out, forcing exit", zap.Duration("timeout", shutdownTimeout))
		os.Exit(1)
	case <-done:
	}
}

// allStores holds the storage the relay writes to.
type allStores struct {
	sponsorships storage.SponsorshipStore
	quoteEvents  storage.QuoteEventStore
	idempotency  relay.IdempotencyCache
}

// createStores picks Postgres, ClickHouse and Redis when configured and
// in-memory implementations otherwise.
func createStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (*allStores, func(), error) {
	stores := &allStores{
		sponsorships: memory.NewSponsorshipStore(),
		quoteEvents:  memory.NewQuoteEventStore(),
		idempotency:  relay.NewMemoryCache(),
	}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		stores.sponsorships = pgstore.NewSponsorshipStore(pool)
	} else {
		logger.Warn("postgres not configured, sponsorship ledger is in memory")
	}

	if cfg.ClickhouseDSN != "" {
		conn, err := chstore.NewConn(ctx, cfg.ClickhouseDSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		closers = append(closers, func() { conn.Close() })
		stores.quoteEvents = chstore.NewQuoteEventStore(conn)
	}

	if cfg.RedisURL != "" {
		client, err := relay.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		closers = append(closers, func() { client.Close() })
		stores.idempotency = relay.NewRedisCache(client, "")
	}

	return stores, cleanup, nil
}
