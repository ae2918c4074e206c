// Package main runs the poll rooms HTTP server: anonymous poll
// creation, vote admission, and live result streaming over SSE and
// WebSocket.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pollrooms/backend/config"
	"github.com/pollrooms/backend/internal/middleware"
	"github.com/pollrooms/backend/internal/polls"
	"github.com/pollrooms/backend/internal/ratelimit"
	"github.com/pollrooms/backend/internal/realtime"
	"github.com/pollrooms/backend/internal/store"
	"github.com/pollrooms/backend/pkg/database"
	"github.com/pollrooms/backend/pkg/redis"
	"github.com/pollrooms/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	repo := store.NewRepository(pool)
	hub := realtime.NewHub(repo, logger)

	var limiter ratelimit.Limiter = ratelimit.NewStoreLimiter(repo, ratelimit.DefaultLimit, ratelimit.DefaultWindow)
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Warn("redis unavailable, rate limiting falls back to the store", zap.Error(err))
		} else {
			defer rdb.Close()
			limiter = ratelimit.NewRedisLimiter(rdb.Client, ratelimit.DefaultLimit, ratelimit.DefaultWindow)
		}
	}

	svc := polls.NewService(repo, limiter, hub, logger)
	pollHandler := polls.NewHandler(svc, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	api := router.Group("/api")
	{
		api.POST("/polls", pollHandler.Create)
		api.GET("/polls/:id", pollHandler.Get)
		api.POST("/polls/:id/vote", pollHandler.Vote)
		api.GET("/polls/:id/events", realtime.ServeSSE(hub, logger))
	}
	router.GET("/ws", realtime.ServeWS(hub, logger))

	srv := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     router,
		ReadTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		// WriteTimeout stays 0 by default: SSE and WebSocket responses
		// outlive any fixed budget.
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
