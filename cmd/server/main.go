// Package main boots the registry server: configuration, storage, the
// identity binding and its verifier stack, the HTTP surface, and the ledger
// relay. Business rules live in the internal service packages.
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

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"conubium/internal/attestation"
	"conubium/internal/certificate"
	certhandler "conubium/internal/certificate/handler"
	"conubium/internal/identity"
	jwttoken "conubium/internal/jwt_token"
	"conubium/internal/ledger"
	ledgerhandler "conubium/internal/ledger/handler"
	"conubium/internal/platform/config"
	"conubium/internal/platform/httpserver"
	"conubium/internal/platform/kafka/producer"
	"conubium/internal/platform/logger"
	platformmetrics "conubium/internal/platform/metrics"
	platformredis "conubium/internal/platform/redis"
	"conubium/internal/registry/cache"
	reghandler "conubium/internal/registry/handler"
	"conubium/internal/registry/metrics"
	"conubium/internal/registry/models"
	"conubium/internal/registry/service"
	"conubium/internal/registry/store"
	httptransport "conubium/internal/transport/http"
	"conubium/pkg/domain"
)

const shutdownTimeout = 10 * time.Second

// version is stamped by the build via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "conubium:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New(cfg.Server.LogLevel, cfg.Server.LogFormat)
	platformmetrics.SetBuildInfo(version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	health := map[string]httptransport.HealthCheck{}

	// Storage. An unset Postgres URL selects in-memory stores, which is the
	// development default.
	var (
		registryStore service.Store
		ledgerStore   ledger.Store
	)
	if cfg.Database.URL != "" {
		db, err := sql.Open("pgx", cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx, db); err != nil {
			return fmt.Errorf("ensure registry schema: %w", err)
		}
		if err := ledger.EnsureSchema(ctx, db); err != nil {
			return fmt.Errorf("ensure ledger schema: %w", err)
		}
		registryStore = store.NewPostgres(db)
		ledgerStore = ledger.NewPostgres(db)
		health["postgres"] = db.PingContext
		log.Info("using postgres storage")
	} else {
		registryStore = store.NewMemory()
		ledgerStore = ledger.NewMemory()
		log.Warn("no postgres configured, registry state is in-memory and volatile")
	}

	// Status cache. Optional; lifecycle writes invalidate, the read path
	// populates.
	var cacheBackend statusCache
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		cacheBackend = cache.NewRedis(redisClient.Client, config.StatusCacheTTL)
		health["redis"] = redisClient.Health
		log.Info("status cache enabled")
	}

	binding, err := buildBinding(cfg.Registry, registryStore, log)
	if err != nil {
		return fmt.Errorf("build identity binding: %w", err)
	}
	policy, err := resolvePolicy(cfg.Registry.ConsumedPolicy, binding.Mode())
	if err != nil {
		return err
	}

	ledgerMetrics := ledger.NewMetrics()
	recorder := ledger.NewRecorder(ledgerStore,
		ledger.WithRecorderLogger(log),
		ledger.WithRecorderMetrics(ledgerMetrics),
	)

	svcOpts := []service.Option{
		service.WithLogger(log),
		service.WithRecorder(recorder),
		service.WithMetrics(metrics.New()),
	}
	if cacheBackend != nil {
		svcOpts = append(svcOpts, service.WithCache(cacheBackend))
	}
	svc := service.New(registryStore, binding, policy, svcOpts...)

	if err := seedConfig(ctx, svc, cfg.Registry); err != nil {
		return fmt.Errorf("seed registry config: %w", err)
	}
	warnUnverifiable(ctx, svc, cfg.Registry, log)

	certOpts := []certificate.Option{
		certificate.WithLogger(log),
		certificate.WithSigner(jwttoken.NewService(cfg.Server.AttestationSigningKey, "conubium", "relying-parties")),
	}
	if cacheBackend != nil {
		certOpts = append(certOpts, certificate.WithCache(cacheBackend))
	}
	certSvc := certificate.New(registryStore, registryStore, certOpts...)

	if cfg.Server.AdminToken == "" {
		log.Warn("no admin token configured, operator endpoints are disabled")
	}

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Logger:       log,
		HealthChecks: health,
	},
		reghandler.New(svc, log),
		reghandler.NewAdmin(svc, log, cfg.Server.AdminToken),
		certhandler.New(certSvc, log),
		ledgerhandler.New(ledgerStore, log),
	)

	g, gctx := errgroup.WithContext(ctx)

	prod, err := producer.New(cfg.Kafka)
	if err != nil {
		return fmt.Errorf("connect kafka: %w", err)
	}
	if prod != nil {
		defer prod.Close()
		if err := prod.EnsureTopic(ctx, cfg.Kafka.Topic); err != nil {
			return fmt.Errorf("ensure ledger topic: %w", err)
		}
		relay := ledger.NewRelay(ledgerStore, prod, cfg.Kafka.Topic,
			ledger.WithRelayInterval(cfg.Kafka.RelayInterval),
			ledger.WithRelayBatchSize(cfg.Kafka.RelayBatch),
			ledger.WithRelayLogger(log),
			ledger.WithRelayMetrics(ledgerMetrics),
		)
		g.Go(func() error { return relay.Run(gctx) })
		log.Info("ledger relay enabled", "topic", cfg.Kafka.Topic)
	}

	srv := httpserver.New(cfg.Server.Addr, router)
	g.Go(func() error {
		log.Info("registry listening",
			"addr", cfg.Server.Addr,
			"binding_mode", string(binding.Mode()),
			"consumed_policy", string(policy),
			"version", version,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("registry stopped")
	return nil
}

// statusCache is the intersection of the write-side and read-side cache
// interfaces, which both cache implementations satisfy.
type statusCache interface {
	service.StatusCache
	certificate.StatusCache
}

// buildBinding assembles the identity binding variant and, under nullifier
// binding, the verifier stack behind it. The verifier endpoint is read
// through the config store on every validation so operator updates apply
// without a restart.
func buildBinding(cfg config.RegistryConfig, st service.Store, log *slog.Logger) (identity.Binding, error) {
	mode, err := identity.ParseMode(cfg.BindingMode)
	if err != nil {
		return nil, err
	}

	if mode == identity.ModeAddress {
		return identity.NewAddressBinding(service.RosterRoots{Store: st}), nil
	}

	opts := []attestation.SwitchingOption{
		attestation.WithHTTPVerifierOptions(attestation.WithClientLogger(log)),
	}
	if cfg.VerifyingKeyPath != "" {
		local, err := attestation.NewLocalVerifierFromFile(cfg.VerifyingKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load verifying key: %w", err)
		}
		opts = append(opts, attestation.WithFallback(local))
	}
	return identity.NewNullifierBinding(attestation.NewSwitchingVerifier(service.VerifierEndpoints{Store: st}, opts...)), nil
}

// resolvePolicy applies the mode default when no policy is configured:
// nullifier deployments keep identities consumed forever, address
// deployments release them on dissolution.
func resolvePolicy(raw string, mode identity.Mode) (models.ConsumedPolicy, error) {
	if raw == "" {
		if mode == identity.ModeAddress {
			return models.ConsumedPolicyRelease, nil
		}
		return models.ConsumedPolicyMonotonic, nil
	}
	return models.ParseConsumedPolicy(raw)
}

// seedConfig applies startup configuration from the environment without
// clobbering operator updates: values are only written when they differ from
// what the store already holds.
func seedConfig(ctx context.Context, svc *service.Service, cfg config.RegistryConfig) error {
	current, err := svc.GetConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.RosterRoot != "" {
		root, err := domain.ParseHash32(cfg.RosterRoot)
		if err != nil {
			return fmt.Errorf("parse roster root: %w", err)
		}
		if root != current.MembershipRoot {
			if _, err := svc.UpdateRoot(ctx, root); err != nil {
				return err
			}
		}
	}
	if cfg.VerifierURL != "" && cfg.VerifierURL != current.VerifierEndpoint {
		if _, err := svc.UpdateVerifier(ctx, cfg.VerifierURL); err != nil {
			return err
		}
	}
	return nil
}

// warnUnverifiable flags a nullifier deployment that has no way to judge
// attestations yet: every lifecycle operation will be refused until a
// verifier endpoint lands via the admin API.
func warnUnverifiable(ctx context.Context, svc *service.Service, cfg config.RegistryConfig, log *slog.Logger) {
	if svc.BindingMode() != identity.ModeNullifier || cfg.VerifyingKeyPath != "" {
		return
	}
	current, err := svc.GetConfig(ctx)
	if err != nil || current.VerifierEndpoint != "" {
		return
	}
	log.Warn("no identity proof verifier configured, lifecycle operations will be refused until one is set")
}
