package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/wavemeet/internal/auth"
	"github.com/Tyrowin/wavemeet/internal/push"
	"github.com/Tyrowin/wavemeet/internal/server"
	"github.com/Tyrowin/wavemeet/internal/session"
	"github.com/Tyrowin/wavemeet/internal/storage"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("loading .env failed", "error", err)
	}

	config := server.NewConfigFromEnv()
	if err := config.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	server.SetConfig(config)

	store, err := storage.Open(config.DatabasePath)
	if err != nil {
		logger.Error("opening storage failed", "path", config.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	var notifier session.Notifier = push.Nop{}
	if config.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: config.RedisAddr})
		notifier = push.NewRedisNotifier(client, "", logger)
		logger.Info("push notifications enabled", "redisAddr", config.RedisAddr)
	}

	core := session.New(store, store, notifier, session.Config{
		TypingTTL:       config.TypingTTL,
		CallRingTimeout: config.CallRingTimeout,
		CallEvictDelay:  config.CallEvictDelay,
	}, logger)

	verifier := auth.NewVerifier(config.JWTSecret)
	gateway := server.NewGateway(core, verifier, logger)
	go gateway.Run()

	mux := server.SetupRoutes(gateway)
	httpServer := server.CreateServer(config.Port, mux)

	errCh := make(chan error, 1)
	go func() {
		if err := server.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		os.Exit(1)
	case sig := <-stop:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	if err := server.ShutdownServer(httpServer, config.ShutdownTimeout); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	if err := gateway.Shutdown(config.ShutdownTimeout); err != nil {
		logger.Warn("gateway shutdown incomplete", "error", err)
	}
}
