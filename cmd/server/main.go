package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"moltens/internal/claim"
	claimmetrics "moltens/internal/claim/metrics"
	"moltens/internal/claim/oracle"
	"moltens/internal/claim/service"
	"moltens/internal/claim/signature"
	"moltens/internal/claim/store/pending"
	"moltens/internal/claim/voucher"
	"moltens/internal/platform/config"
	"moltens/internal/platform/httpserver"
	"moltens/internal/platform/logger"
	"moltens/internal/platform/metrics"
	"moltens/internal/platform/otel"
	"moltens/internal/platform/postgres"
	"moltens/internal/platform/redis"
	audit "moltens/pkg/platform/audit"
	"moltens/pkg/platform/audit/publisher"
	"moltens/pkg/platform/audit/store/kafka"
	auditmemory "moltens/pkg/platform/audit/store/memory"
	auditpostgres "moltens/pkg/platform/audit/store/postgres"
)

const auditBufferSize = 1024

// main wires dependencies, serves HTTP and shuts down on SIGINT/SIGTERM.
// Business logic lives in internal/claim.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	log := logger.New(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	shutdownTracing, err := otel.Setup(ctx, "moltens", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := metrics.New(reg)
	claimMetrics := claimmetrics.New(reg)

	readiness := map[string]readinessCheck{}

	// Pending requests: Redis when configured so replicas share claims.
	pendingOpts := []pending.Option{
		pending.WithTTL(cfg.Claim.PendingTTL),
		pending.WithTokenPrefix(cfg.Claim.TokenPrefix),
	}
	var store service.PendingStore = pending.NewInMemory(pendingOpts...)
	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		store = pending.NewRedis(redisClient.Client, pendingOpts...)
		readiness["redis"] = redisClient.Ready
		log.Info("pending requests stored in redis")
	} else {
		log.Warn("REDIS_URL not set; pending requests are process-local")
	}

	auditPublisher, closeAudit, err := buildAudit(ctx, cfg, log, readiness)
	if err != nil {
		return err
	}
	defer closeAudit()

	signingKey, err := voucher.ParseSigningKey(cfg.Voucher.SigningKey)
	if err != nil {
		return fmt.Errorf("SIGNER_PRIVATE_KEY: %w", err)
	}
	issuer := voucher.NewIssuer(voucher.Config{
		Contract:   cfg.Voucher.ContractAddress(),
		ChainID:    cfg.Voucher.ChainID,
		TTL:        cfg.Voucher.TTL,
		SigningKey: signingKey,
	})
	if addr, ok := issuer.SignerAddress(); ok {
		log.Info("voucher signer configured", "signer", addr.Hex(), "chain_id", cfg.Voucher.ChainID)
	} else if cfg.Voucher.AllowUnsigned {
		log.Warn("SIGNER_PRIVATE_KEY not set; serving unsigned vouchers")
	} else {
		log.Error("SIGNER_PRIVATE_KEY not set; verification will fail with signing_unconfigured")
	}

	templates := cfg.Oracle.ProfileURLs
	if len(templates) == 0 {
		templates = oracle.DefaultProfileURLs
	}
	proofOracle := oracle.NewProfilePages(templates,
		oracle.WithFetchTimeout(cfg.Oracle.FetchTimeout),
		oracle.WithProbeTimeout(cfg.Oracle.ProbeTimeout),
		oracle.WithLogger(log),
		oracle.WithMetrics(claimMetrics),
	)

	svc := claim.NewService(service.Config{
		ParentDomain:    cfg.Claim.ParentDomain,
		ProtocolTag:     cfg.Claim.ProtocolTag,
		RegistrationFee: cfg.Claim.RegistrationFee,
		PendingTTL:      cfg.Claim.PendingTTL,
		AllowUnsigned:   cfg.Voucher.AllowUnsigned,
	}, store, signature.NewVerifier(), proofOracle, issuer,
		service.WithLogger(log),
		service.WithMetrics(claimMetrics),
		service.WithAuditPublisher(auditPublisher),
	)

	apiTimeout := apiTimeoutFor(proofOracle.Budget())
	router := newRouter(routerDeps{
		logger:     log,
		claims:     claim.NewHandler(svc, log),
		metrics:    httpMetrics,
		gatherer:   reg,
		readiness:  readiness,
		apiTimeout: apiTimeout,
	})
	srv := httpserver.New(cfg.Addr, router, httpserver.WithHandlerTimeout(apiTimeout))

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting moltens", "addr", cfg.Addr, "parent_domain", cfg.Claim.ParentDomain)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// buildAudit fans events out to memory plus whichever durable sinks are
// configured. The returned close func drains the async buffer first.
func buildAudit(ctx context.Context, cfg config.Server, log *slog.Logger, readiness map[string]readinessCheck) (*publisher.Publisher, func(), error) {
	stores := audit.Fanout{auditmemory.NewInMemoryStore()}
	var closers []func()

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, err
	}
	if db != nil {
		pgStore := auditpostgres.New(db)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("audit schema: %w", err)
		}
		stores = append(stores, pgStore)
		readiness["postgres"] = pingDB(db)
		closers = append(closers, func() { _ = db.Close() })
	}

	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := kafka.New(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, nil, fmt.Errorf("audit kafka sink: %w", err)
		}
		stores = append(stores, sink)
		readiness["kafka"] = sink.Ping
		closers = append(closers, sink.Close)
	}

	pub := publisher.NewPublisher(stores,
		publisher.WithAsyncBuffer(auditBufferSize),
		publisher.WithLogger(log),
	)
	return pub, func() {
		pub.Close()
		for _, c := range closers {
			c()
		}
	}, nil
}

func pingDB(db *sql.DB) readinessCheck {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}
