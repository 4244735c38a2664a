package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"telesig/internal/core/services"
	handlers "telesig/internal/handlers/http"
	"telesig/internal/infrastructure/middleware"
	"telesig/internal/infrastructure/monitoring"
	"telesig/internal/infrastructure/repositories"
	wsignal "telesig/internal/infrastructure/signal"
	"telesig/internal/infrastructure/storage"
	"telesig/pkg/config"
	"telesig/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl := logger.New(cfg.Logging.Level)
	defer zl.Sync()
	sugar := zl.Sugar()

	factory := repositories.NewFactory(cfg, sugar)
	defer factory.Close()

	metrics := monitoring.NewPrometheusCollector()
	registry := services.NewRegistry(factory.CreateSessionStore(), zl)
	tokens := services.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	defer tokens.Close()

	hub := wsignal.NewHub(wsignal.Config{
		PingInterval:      cfg.Signal.PingInterval,
		PongTimeout:       cfg.Signal.PongTimeout,
		WriteTimeout:      cfg.Signal.WriteTimeout,
		MaxMessageBytes:   cfg.Signal.MaxMessageBytes,
		MessagesPerSecond: cfg.Signal.MessagesPerSecond,
		Burst:             cfg.Signal.Burst,
		ReconnectGrace:    cfg.Session.ReconnectGrace,
		StatsTTL:          3 * cfg.Quality.SampleInterval,
	}, registry, tokens, metrics, zl)

	waitingRoom := services.NewWaitingRoom(registry, hub, cfg.Session.WaitingRoomTimeout, zl)
	negotiator := services.NewNegotiator(registry, hub, zl)
	monitor := services.NewQualityMonitor(services.QualityMonitorConfig{
		SampleInterval:   cfg.Quality.SampleInterval,
		GoodLossMax:      cfg.Quality.GoodLossMax,
		PoorLossMin:      cfg.Quality.PoorLossMin,
		UnreachableAfter: cfg.Quality.UnreachableAfter,
	}, hub, negotiator, hub, zl)
	hub.Bind(waitingRoom, negotiator, monitor)

	var recording *services.RecordingService
	if cfg.Recording.Enabled {
		s3, err := storage.NewS3(context.Background(), storage.S3Config{
			Region:    cfg.Recording.Region,
			Bucket:    cfg.Recording.Bucket,
			Prefix:    cfg.Recording.Prefix,
			AccessKey: cfg.Recording.AccessKey,
			SecretKey: cfg.Recording.SecretKey,
		}, zl)
		if err != nil {
			sugar.Fatalw("failed to initialize recording storage", "error", err)
		}
		recording = services.NewRecordingService(registry, s3, zl)
	}

	sessionHandler := handlers.NewSessionHandler(registry, tokens, recording, monitor, hub, metrics, zl)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(sugar))
	router.Use(middleware.ErrorHandlerMiddleware(sugar))

	router.GET("/ws", gin.WrapF(hub.HandleWebSocket))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":          "healthy",
			"active_sessions": registry.ActiveSessionCount(),
			"connections":     hub.ConnectionCount(),
		})
	})

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(cfg.Auth.JWTSecret))
	sessionHandler.SetupRoutes(api)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		sugar.Infow("signaling server listening", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	sugar.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("server shutdown failed", "error", err)
	}
	hub.Shutdown()
	waitingRoom.Stop()
	monitor.Stop()
	sugar.Info("shutdown complete")
}
