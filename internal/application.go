package application

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/AlexandrGonin/QuantumTTT3D/internal/config"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/pkg"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/repository"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/repository/storage"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/service"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/telemetry"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/tictactoe"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/transport/rest"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/transport/websocket"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/usecase"
)

// RunApp - runs the application until SIGINT or SIGTERM.
func RunApp(logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy, err := tictactoe.ParseAbandonPolicy(conf.Game.AbandonPolicy)
	if err != nil {
		return fmt.Errorf("invalid game config: %w", err)
	}

	shutdownTracing, err := telemetry.Setup(ctx, conf.OTel.Endpoint, conf.OTel.ServiceName)
	if err != nil {
		return fmt.Errorf("could not set up tracing: %w", err)
	}

	defer func() {
		if err = shutdownTracing(context.Background()); err != nil {
			log.Error("could not flush traces", "error", err)
		}
	}()

	users, closeUsers, err := newUserRepository(ctx, log, conf)
	if err != nil {
		return err
	}
	defer closeUsers()

	clock := pkg.NewSystemClock()

	verifier := service.NewTelegramVerifier(conf.Telegram.BotToken, conf.Telegram.MaxAuthAge, clock)
	authService := service.NewAuthService(logger, verifier, users)

	lobbyRepo := repository.NewLobbyRepository(conf.Lobby.CodeLength, clock)
	lobbyService := service.NewLobbyService(logger, lobbyRepo, clock, policy)
	registry := service.NewRegistry(logger, clock)

	coordinator := usecase.NewCoordinator(logger, lobbyService, registry, clock, usecase.Options{
		HeartbeatTimeout: conf.Session.HeartbeatTimeout,
		ReconnectGrace:   conf.Session.ReconnectGrace,
		LobbyIdleTimeout: conf.Session.LobbyIdleTimeout,
	})

	wsServer := websocket.New(logger, coordinator, conf.Session.SendBuffer, conf.Origins)
	handlers := rest.NewHandlers(logger, authService, coordinator, conf.PublicURL)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("Starting HTTP server", "port", conf.HTTPPort)
		if httpErr := rest.Start(groupCtx, conf.HTTPPort, rest.NewRouter(handlers, wsServer, conf.Origins)); httpErr != nil {
			return fmt.Errorf("HTTP server error: %w", httpErr)
		}

		return nil
	})

	group.Go(func() error {
		return coordinator.RunSweeper(groupCtx, conf.Session.SweepInterval)
	})

	if err = group.Wait(); err != nil {
		return err
	}

	log.Info("Application context canceled, shutting down")

	return nil
}

// newUserRepository - Redis when enabled, process memory otherwise.
func newUserRepository(ctx context.Context, log *slog.Logger, conf *config.Config) (repository.UserRepository, func(), error) {
	if !conf.Redis.Enabled {
		log.Info("Redis disabled, keeping users in memory")
		return repository.NewMemoryUserRepository(), func() {}, nil
	}

	redisStorage, err := storage.NewRedisStorage(ctx, conf.Redis.GetRedisAddr())
	if err != nil {
		return nil, nil, fmt.Errorf("could not connect to redis storage: %w", err)
	}

	closeFn := func() {
		if err := redisStorage.Close(); err != nil {
			log.Error("could not close redis storage", "error", err)
		}
	}

	return repository.NewUserRepository(redisStorage.Connection, conf.Redis.UserTTL), closeFn, nil
}
