package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"firealert/backend/alert"
	"firealert/backend/config"
	"firealert/backend/db"
	"firealert/backend/email"
	"firealert/backend/gemini"
	"firealert/backend/llm"
	"firealert/backend/openai"
	"firealert/backend/rabbitmq"
	"firealert/backend/registry"
	"firealert/backend/server"
	"firealert/backend/verify"
	"firealert/common"

	"github.com/apex/log"
	"github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/text"
	"github.com/joho/godotenv"
)

func main() {
	// Missing .env is normal outside local runs.
	_ = godotenv.Load()
	cfg := config.Load()
	setupLogging(cfg)

	log.Info("Starting the fire alert service...")

	store, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open the %s store: %v", cfg.StoreBackend, err)
	}
	defer closeStore()

	reg := registry.New(store)
	provider, err := visionProvider(cfg)
	if err != nil {
		log.Fatalf("Failed to set up image verification: %v", err)
	}
	verifier := verify.NewClient(verify.Config{
		Enabled:           cfg.VerifyEnabled,
		FailOpen:          cfg.VerifyFailOpen,
		MaxImageDimension: cfg.VerifyMaxImage,
	}, provider)
	if verifier.Enabled() {
		log.Infof("Image verification enabled, fail open: %t", cfg.VerifyFailOpen)
	} else {
		log.Warn("Image verification disabled, every detection is treated as fire")
	}

	coordinator := alert.NewCoordinator(alert.Config{
		Cooldown:                  cfg.AlertCooldown,
		RecentWindow:              cfg.AlertRecentWindow,
		SendingTimeout:            cfg.AlertSendingTimeout,
		AllowCancelAfterConfirmed: cfg.AllowCancelAfterConfirmed,
		VerifyTimeout:             cfg.VerifyTimeout,
		SnapshotBaseURL:           cfg.SnapshotBaseURL,
	}, store, reg, verifier, newSender(cfg))

	if cfg.AMQPURL != "" {
		publisher, err := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatalf("Failed to create the event publisher: %v", err)
		}
		defer publisher.Close()
		coordinator.WithPublisher(publisher)
		log.Infof("Publishing alert events to exchange %s", publisher.GetExchange())
	}

	srv := server.New(cfg, coordinator, reg, verifier)
	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.Router(),
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go srv.RunCleanup(ctx, cfg.CleanupInterval)

	go func() {
		log.Infof("Listening on port %s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shut down: %v", err)
	}
	// Let in-flight verifications write their verdicts.
	coordinator.Wait()
	log.Info("Server exited")
}

func setupLogging(cfg *config.Config) {
	var w io.Writer = os.Stderr
	if cfg.LogFormat == "json" {
		log.SetHandler(json.New(w))
	} else {
		log.SetHandler(text.New(w))
	}
	if lvl, err := log.ParseLevel(cfg.LogLevel); err != nil {
		log.Warnf("Unknown log level %q, using info", cfg.LogLevel)
		log.SetLevel(log.InfoLevel)
	} else {
		log.SetLevel(lvl)
	}
}

func openStore(cfg *config.Config) (db.Store, func(), error) {
	switch cfg.StoreBackend {
	case "mysql":
		sqlDB, err := common.DBConnect(common.DBConfig{
			DSN:                cfg.MySQLDSN(),
			MaxOpenConns:       cfg.DBMaxOpenConns,
			MaxIdleConns:       cfg.DBMaxIdleConns,
			ConnMaxLifetimeMin: cfg.DBConnMaxLifetimeMin,
			PingMaxWait:        cfg.DBPingMaxWaitDuration,
		})
		if err != nil {
			return nil, nil, err
		}
		store := db.NewMySQLStore(sqlDB)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := store.CreateTable(ctx); err != nil {
			sqlDB.Close()
			return nil, nil, err
		}
		return store, func() { sqlDB.Close() }, nil
	case "redis":
		store, err := db.NewRedisStore(db.RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	case "memory":
		log.Warn("Using the in-memory store, data is lost on restart")
		return db.NewMemStore(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// visionProvider returns a nil client when verification is off.
func visionProvider(cfg *config.Config) (llm.Client, error) {
	if !cfg.VerifyEnabled {
		return nil, nil
	}
	switch cfg.VerifyProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, errors.New("VERIFY_PROVIDER=openai but OPENAI_API_KEY is empty")
		}
		return openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel), nil
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, errors.New("VERIFY_PROVIDER=gemini but GEMINI_API_KEY is empty")
		}
		return gemini.NewClient(cfg.GeminiAPIKey, cfg.GeminiModels), nil
	}
	return nil, fmt.Errorf("unknown verification provider %q", cfg.VerifyProvider)
}

func newSender(cfg *config.Config) email.Sender {
	if cfg.SendGridAPIKey == "" {
		log.Warn("SENDGRID_API_KEY is empty, notifications are only logged")
		return email.LogSender{}
	}
	return email.NewSendGridSender(email.Config{
		APIKey:    cfg.SendGridAPIKey,
		FromName:  cfg.SendGridFromName,
		FromEmail: cfg.SendGridFromEmail,
	})
}
