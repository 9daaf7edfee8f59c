package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/walletgate/walletgate/internal/authz"
	"github.com/walletgate/walletgate/internal/config"
	"github.com/walletgate/walletgate/internal/gateway"
	"github.com/walletgate/walletgate/internal/keyring"
	"github.com/walletgate/walletgate/internal/keyring/wrap"
	"github.com/walletgate/walletgate/internal/logger"
	"github.com/walletgate/walletgate/internal/metrics"
	"github.com/walletgate/walletgate/internal/phishing"
	"github.com/walletgate/walletgate/internal/session"
	"github.com/walletgate/walletgate/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	store, err := storage.New(cfg.PostgresDSN)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	slog.Info("connected to database")

	wrapper, err := wrap.New(&wrap.Config{
		Provider:        cfg.WrapProvider,
		LocalKeyHex:     cfg.WrapLocalKeyHex,
		AWSKeyID:        cfg.WrapAWSKeyID,
		AWSRegion:       cfg.WrapAWSRegion,
		VaultAddress:    cfg.WrapVaultAddress,
		VaultToken:      cfg.WrapVaultToken,
		VaultTransitKey: cfg.WrapVaultTransit,
	})
	if err != nil {
		slog.Error("failed to initialize wrap provider", "error", err)
		os.Exit(1)
	}

	slog.Info("initialized keystore wrap provider", "provider", wrapper.Name())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kr := keyring.New(storage.NewAccountRepository(store), wrapper)
	if err := kr.Load(ctx); err != nil {
		slog.Error("failed to load keyring", "error", err)
		os.Exit(1)
	}
	slog.Info("keyring loaded", "accounts", len(kr.Accounts()))

	sess := session.New(cfg.PasswordCacheTTL)
	authzService := authz.New(storage.NewOriginRepository(store))

	checker := phishing.New(cfg.PhishingListURL)
	go checker.Run(ctx, cfg.PhishingRefresh)

	server := gateway.New(
		cfg,
		sess,
		kr,
		authzService,
		checker,
		storage.NewMetadataRepository(store),
		storage.NewSettingsRepository(store),
		metrics.New(),
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		slog.Error("server error", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		slog.Info("received shutdown signal", "signal", sig.String())
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("error during shutdown", "error", err)
		}
	}

	slog.Info("walletgated stopped")
}
