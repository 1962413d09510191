package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Brownie44l1/skin-analyzer/internal/config"
	"github.com/Brownie44l1/skin-analyzer/internal/handlers"
	"github.com/Brownie44l1/skin-analyzer/internal/inference"
	"github.com/Brownie44l1/skin-analyzer/internal/logger"
	"github.com/Brownie44l1/skin-analyzer/internal/model"
	"github.com/Brownie44l1/skin-analyzer/internal/monitor"
	"github.com/Brownie44l1/skin-analyzer/internal/rpc"
	"github.com/Brownie44l1/skin-analyzer/internal/session"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := logger.Init(cfg.Log.Mode); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	for _, w := range warnings {
		logger.S().Warnf("config: %s", w)
	}
	lg := logger.Log()

	if err := run(cfg, lg); err != nil {
		lg.Error("server stopped", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, lg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := monitor.NewMetrics()
	metrics.SetModelState(model.StateLoading.String())

	sess := session.New(
		inference.NewPipeline(cfg.Model.InputSize, lg, inference.WithMaxPixels(cfg.Upload.MaxPixels)),
		session.WithLogger(lg),
		session.WithRecorder(metrics),
	)

	var health *rpc.HealthServer
	if cfg.RPC.HealthPort > 0 {
		lis, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.RPC.HealthPort))
		if err != nil {
			return fmt.Errorf("failed to listen for gRPC health: %w", err)
		}
		health = rpc.NewHealthServer()
		go func() {
			if err := health.Serve(lis); err != nil {
				lg.Error("gRPC health server failed", zap.Error(err))
			}
		}()
		defer health.Stop()
		lg.Info("gRPC health listening", zap.Int("port", cfg.RPC.HealthPort))
	}

	loader := model.NewLoader(cfg.Model.URL,
		model.WithBuilder(model.ONNXBuilder(model.Options{
			RuntimeLibrary: cfg.Model.RuntimeLibrary,
			InputSize:      cfg.Model.InputSize,
			Softmax:        cfg.Model.Softmax,
		})),
		model.WithLogger(lg),
		model.WithTimeout(cfg.Model.DownloadTimeout),
	)
	defer loader.Close()

	loader.OnSettled(func(c inference.Classifier, err error) {
		state, _, _ := loader.State()
		metrics.SetModelState(state.String())
		metrics.ObserveModelLoad(loader.Elapsed())
		if health != nil {
			health.SetModelReady(err == nil)
		}
		sess.Settle(c, err)
	})
	loader.Start(ctx)

	if cfg.Metrics.Enabled {
		go metrics.SampleProcess(ctx, 5*time.Second, lg)
	}

	gin.SetMode(gin.ReleaseMode)
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = metrics.Handler()
	}
	h := handlers.NewHandler(sess, cfg.Upload.MaxBytes, metrics, lg)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           handlers.NewRouter(h, metricsHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("model_url", cfg.Model.URL),
			zap.Strings("classes", inference.Labels[:]))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	lg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
