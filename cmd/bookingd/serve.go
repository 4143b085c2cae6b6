package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/MarkoPoloResearchLab/courtbook/internal/grpcserver"
)

func newServeCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the BookingService gRPC server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	grpcServer := grpc.NewServer()
	grpcserver.RegisterBookingServiceServer(grpcServer, grpcserver.NewBookingServer(app.engine, app.generator, app.ledger))

	metricsServer := newMetricsServer(cfg.MetricsAddr, app)
	if metricsServer != nil {
		go func() {
			logger.Info("metrics server starting", zap.String("listen_addr", cfg.MetricsAddr))
			if serveErr := metricsServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				logger.Error("metrics server stopped", zap.Error(serveErr))
			}
		}()
	}

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	if cfg.SettleInterval > 0 {
		go runSettlementLoop(workerCtx, app, cfg.SettleInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server starting", zap.String("listen_addr", cfg.ListenAddr))
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
		stopWorkers()
		grpcServer.GracefulStop()
		shutdownMetrics(metricsServer, logger)
		if serveErr := <-errCh; serveErr != nil && serveErr != grpc.ErrServerStopped {
			return serveErr
		}
		return nil
	case serveErr := <-errCh:
		shutdownMetrics(metricsServer, logger)
		if serveErr == grpc.ErrServerStopped {
			return nil
		}
		return serveErr
	}
}

func newMetricsServer(addr string, app *application) *http.Server {
	if addr == "" {
		return nil
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(app.recorder.Handler()))
	return &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
}

func shutdownMetrics(server *http.Server, logger *zap.Logger) {
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown error", zap.Error(err))
	}
}

// runSettlementLoop captures the holds of started classes every interval until ctx ends.
func runSettlementLoop(ctx context.Context, app *application, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := app.engine.Settle(ctx, epochMillis(), 0)
			if err != nil {
				app.logger.Warn("settlement pass failed", zap.Error(err))
				continue
			}
			if result.Settled > 0 || result.Failed > 0 {
				app.logger.Info("settlement pass", zap.Int("settled", result.Settled), zap.Int("failed", result.Failed))
			}
		}
	}
}
