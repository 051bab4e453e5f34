package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	cacheadapter "github.com/latchkey/auth-service/internal/adapters/cache"
	emailadapter "github.com/latchkey/auth-service/internal/adapters/email"
	grpcadapter "github.com/latchkey/auth-service/internal/adapters/grpc"
	httpadapter "github.com/latchkey/auth-service/internal/adapters/http"
	"github.com/latchkey/auth-service/internal/adapters/maintenance"
	"github.com/latchkey/auth-service/internal/adapters/postgres"
	"github.com/latchkey/auth-service/internal/adapters/security"
	"github.com/latchkey/auth-service/internal/application"
)

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcLis    net.Listener
	cleanup    *maintenance.CleanupWorker
	cleanupFn  func(context.Context)
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("bootstrapping auth service", "http_port", cfg.HTTPPort, "grpc_port", cfg.GRPCPort)

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	sqlDB, err := pool.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	redisClient, err := cacheadapter.Connect(ctx, cfg.RedisURL)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = sqlDB.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	verifier, err := security.NewWebAuthnVerifier(security.WebAuthnVerifierConfig{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		_ = sqlDB.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init passkey verifier: %w", err)
	}

	repos := postgres.NewRepositories(pool)
	limits := cacheadapter.NewRedisRateLimitStore(redisClient)

	svc := application.NewService(application.Dependencies{
		Config: application.Config{
			MagicLinkBaseURL:     cfg.MagicLinkBaseURL,
			EmailVerifyBaseURL:   cfg.EmailVerifyBaseURL,
			MagicLinkTTL:         cfg.MagicLinkTTL,
			EmailVerificationTTL: cfg.EmailVerificationTTL,
			SessionLifetime:      cfg.SessionLifetime,
			RotationAge:          cfg.RotationAge,
			RotatedRetention:     cfg.RotatedRetention,
			ChallengeTTL:         cfg.ChallengeTTL,
			LockoutThreshold:     cfg.LockoutThreshold,
			LockoutWindow:        cfg.LockoutWindow,
			LockoutDuration:      cfg.LockoutDuration,
		},
		Accounts:   repos.Accounts,
		Sessions:   repos.Sessions,
		Tokens:     repos.Tokens,
		Passkeys:   repos.Passkeys,
		Attempts:   repos.AuthAttempts,
		Lockouts:   cacheadapter.NewRedisLockoutStore(redisClient),
		Challenges: cacheadapter.NewRedisChallengeStore(redisClient),
		Codec:      security.NewOpaqueTokenCodec(),
		Verifier:   verifier,
		Mailer:     emailadapter.NewLoggingMailer(logger),
	})

	ready := func(ctx context.Context) error {
		if err := sqlDB.PingContext(ctx); err != nil {
			return err
		}
		return redisClient.Ping(ctx).Err()
	}

	handler := httpadapter.NewHandler(svc, limits, httpadapter.Config{
		SecureCookies:        cfg.SecureCookies,
		SessionLifetime:      cfg.SessionLifetime,
		RatePolicies:         ratePolicies(cfg.RateLimitRules),
		MagicLinkEmailLimit:  cfg.MagicLinkEmailLimit,
		MagicLinkEmailWindow: cfg.MagicLinkEmailWindow,
	}, ready)
	router := httpadapter.NewRouter(handler)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	grpcadapter.Register(grpcServer, grpcadapter.NewSessionInternalServer(svc))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		_ = sqlDB.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("listen gRPC: %w", err)
	}

	cleanup := maintenance.NewCleanupWorker(
		logger,
		repos.Sessions,
		repos.Tokens,
		cfg.CleanupInterval,
		cfg.RotatedRetention,
	)

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		httpServer: httpServer,
		grpcServer: grpcServer,
		grpcLis:    lis,
		cleanup:    cleanup,
		cleanupFn: func(ctx context.Context) {
			_ = redisClient.Close()
			_ = sqlDB.Close()
		},
	}, nil
}

// Run serves HTTP and gRPC and keeps the cleanup worker ticking until a
// shutdown signal or a server failure.
func (r *Runtime) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	errCh := make(chan error, 2)
	go func() {
		r.logger.Info("http server started", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("grpc server started", "addr", r.grpcLis.Addr().String())
		if err := r.grpcServer.Serve(r.grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("cleanup worker started", "interval", r.cfg.CleanupInterval.String())
		_ = r.cleanup.Run(workerCtx)
	}()

	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case err := <-errCh:
		r.logger.Error("server failure", "error", err)
	}

	cancelWorker()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	r.cleanupFn(shutdownCtx)
	return nil
}

func ratePolicies(rules []RateLimitRule) []httpadapter.RatePolicy {
	policies := make([]httpadapter.RatePolicy, 0, len(rules))
	for _, rule := range rules {
		policies = append(policies, httpadapter.RatePolicy{
			Name:    rule.Name,
			Pattern: rule.Pattern,
			Limit:   rule.Limit,
			Window:  time.Duration(rule.WindowSeconds) * time.Second,
			Mode:    rule.Mode,
		})
	}
	return policies
}
