package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davsync/davsync/internal/activity"
	"github.com/davsync/davsync/internal/config"
	"github.com/davsync/davsync/internal/crypto"
	"github.com/davsync/davsync/internal/dav"
	"github.com/davsync/davsync/internal/db"
	"github.com/davsync/davsync/internal/mirror"
	"github.com/davsync/davsync/internal/notify"
	"github.com/davsync/davsync/internal/scheduler"
	engine "github.com/davsync/davsync/internal/sync"
	"github.com/davsync/davsync/internal/web"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if err := run(); err != nil {
		log.Fatalf("davsyncd: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(context.Background()); err != nil {
		return err
	}

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	encryptor, err := crypto.NewEncryptor(cfg.Security.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}

	tracker := activity.NewTracker()
	notifier := notify.New(cfg.Alerts)
	mirrorAdapter := mirror.NewLogAdapter()

	clientFor := func(account *db.Account) (*dav.Client, error) {
		creds, err := decryptCredentials(encryptor, account)
		if err != nil {
			return nil, err
		}
		return dav.NewClient(account.BaseURL, creds, cfg.DAV.RateLimitRPS, cfg.DAV.RateLimitBurst)
	}

	engineFor := func(account *db.Account) (*engine.Engine, error) {
		client, err := clientFor(account)
		if err != nil {
			return nil, err
		}
		return engine.NewEngine(database, database, client, mirrorAdapter, engine.EngineConfig{
			MultigetBatch: cfg.Sync.MultigetBatch,
			FullSyncAfter: time.Duration(cfg.Sync.FullSyncAfterDays) * 24 * time.Hour,
		}), nil
	}

	orchestrator := engine.NewOrchestrator(database, database, engineFor, tracker, notifier)

	sched := scheduler.New(orchestrator, database, cfg.Sync.MinInterval, cfg.Sync.MaxInterval)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	server := web.NewServer(cfg, database, orchestrator, tracker, encryptor, clientFor)
	httpServer := server.HTTPServer()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received %s, shutting down", sig)
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}

	sched.Stop()
	log.Printf("Shutdown complete")
	return nil
}

// decryptCredentials turns stored ciphertext back into transport credentials.
func decryptCredentials(encryptor *crypto.Encryptor, account *db.Account) (dav.Credentials, error) {
	password, err := encryptor.Decrypt(account.Password)
	if err != nil {
		return dav.Credentials{}, fmt.Errorf("failed to decrypt password for %s: %w", account.Name, err)
	}

	creds := dav.Credentials{Username: account.Username, Password: password}

	if account.AuthType == db.AuthBearer {
		token, err := encryptor.Decrypt(account.BearerToken)
		if err != nil {
			return dav.Credentials{}, fmt.Errorf("failed to decrypt token for %s: %w", account.Name, err)
		}
		creds.BearerToken = token
	}

	return creds, nil
}
