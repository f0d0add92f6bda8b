// Command ledgerd serves the hash-chained record ledger over HTTP, with a
// gRPC health endpoint driven by a periodic chain audit.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/jmerrifield20/chainledger/internal/api"
	"github.com/jmerrifield20/chainledger/internal/identity"
	"github.com/jmerrifield20/chainledger/internal/ledger"
	"github.com/jmerrifield20/chainledger/internal/monitor"
	"github.com/jmerrifield20/chainledger/internal/store"
	"github.com/jmerrifield20/chainledger/internal/verify"
)

func main() {
	cfg, err := loadConfig(viper.New())
	if err != nil {
		fmt.Fprintln(os.Stderr, "ledgerd:", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ledgerd: build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("ledgerd exited with error", zap.Error(err))
	}
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config, logger *zap.Logger) error {
	if cfg.configFile == "" {
		logger.Warn("no config file found, using defaults and env vars")
	} else {
		logger.Info("config loaded", zap.String("file", cfg.configFile))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Storage ──────────────────────────────────────────────────────────────
	backend, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	defer backend.Close()

	// ── Ledger + verification ────────────────────────────────────────────────
	hub := api.NewHub(logger)
	defer hub.Close()

	l := ledger.New(backend,
		ledger.WithWatermark(cfg.Watermark),
		ledger.WithLogger(logger),
		ledger.WithOnAppend(api.RecordAppend),
		ledger.WithOnAppend(hub.Publish),
	)
	engine := verify.New(l,
		verify.WithDelay(cfg.VerifyDelay),
		verify.WithMaxDepth(cfg.MaxDiffDepth),
		verify.WithLogger(logger),
	)

	n, err := l.Len(ctx)
	if err != nil {
		return fmt.Errorf("read ledger length: %w", err)
	}
	root, _ := l.Root(ctx)
	logger.Info("ledger ready",
		zap.String("backend", cfg.Store.Backend),
		zap.Int("blocks", n),
		zap.String("root", root),
	)

	// ── Auth ─────────────────────────────────────────────────────────────────
	var tokens *identity.ActorTokenIssuer
	if cfg.JWTSecret != "" {
		tokens, err = identity.NewActorTokenIssuer([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.TokenTTL)
		if err != nil {
			return fmt.Errorf("actor tokens: %w", err)
		}
	} else {
		logger.Warn("auth.jwt_secret not set; commits are accepted without an actor token")
	}
	if cfg.AdminSecretHash == "" {
		logger.Info("ledger.admin_secret_hash not set; DELETE /api/v1/ledger is disabled")
	}

	// ── gRPC health + chain monitor ──────────────────────────────────────────
	healthSvc := health.NewServer()
	mon := monitor.New(l, healthSvc, monitor.Config{Interval: cfg.AuditInterval}, logger)
	if cfg.AuditInterval > 0 {
		go mon.Start(ctx)
	} else {
		mon.Check(ctx)
	}

	var grpcServer *grpc.Server
	if cfg.GRPCPort > 0 {
		grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
		if err != nil {
			return fmt.Errorf("gRPC listen on :%d: %w", cfg.GRPCPort, err)
		}
		grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
		healthpb.RegisterHealthServer(grpcServer, healthSvc)

		go func() {
			logger.Info("ledgerd gRPC health listening", zap.Int("port", cfg.GRPCPort))
			if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				logger.Error("gRPC serve error", zap.Error(err))
			}
		}()
	}

	// ── HTTP ─────────────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(ctx, api.RouterConfig{
		Ledger:          l,
		Engine:          engine,
		Hub:             hub,
		Tokens:          tokens,
		AdminSecretHash: cfg.AdminSecretHash,
		CORSOrigins:     cfg.CORSOrigins,
		RateLimit:       cfg.RateLimit,
		Logger:          logger,
	})

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("ledgerd HTTP listening", zap.Int("port", cfg.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	select {
	case <-quit:
	case err := <-serveErr:
		return fmt.Errorf("HTTP listen: %w", err)
	}
	logger.Info("shutting down ledgerd...")
	healthSvc.Shutdown()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	hub.Close()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}

	logger.Info("ledgerd stopped")
	return nil
}

// loggingInterceptor returns a gRPC unary server interceptor that logs each call.
func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)),
		)
		return resp, err
	}
}
