// Package web exposes the management HTTP API: accounts, collections,
// discovery, manual sync triggers, sync logs and live activity.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/davsync/davsync/internal/activity"
	"github.com/davsync/davsync/internal/config"
	"github.com/davsync/davsync/internal/crypto"
	"github.com/davsync/davsync/internal/dav"
	"github.com/davsync/davsync/internal/db"
	engine "github.com/davsync/davsync/internal/sync"
)

// Store is the persistence surface the API needs. *db.DB satisfies it.
type Store interface {
	CreateAccount(account *db.Account) error
	GetAccounts() ([]*db.Account, error)
	GetAccountByID(id string) (*db.Account, error)
	GetRecentSyncLogs(accountID string, limit int) ([]*db.SyncLog, error)
	GetCollectionsByAccount(accountID string) ([]*db.Collection, error)
	GetCollectionByID(id string) (*db.Collection, error)
	CreateCollection(col *db.Collection) error
	UpdateCollection(col *db.Collection) error
}

// Syncer triggers sync passes. *sync.Orchestrator satisfies it.
type Syncer interface {
	SyncAccount(ctx context.Context, accountID string, mode engine.Mode) (*engine.Outcome, error)
	IsSyncing(accountID string) bool
}

// ClientFactory builds a WebDAV client for an account, decrypting its
// credentials. Used by the discovery endpoint.
type ClientFactory func(account *db.Account) (*dav.Client, error)

// Server is the management API server.
type Server struct {
	cfg       *config.Config
	store     Store
	syncer    Syncer
	tracker   *activity.Tracker
	encryptor *crypto.Encryptor
	clients   ClientFactory
	engine    *gin.Engine
}

// NewServer wires the API routes.
func NewServer(cfg *config.Config, store Store, syncer Syncer, tracker *activity.Tracker, encryptor *crypto.Encryptor, clients ClientFactory) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:       cfg,
		store:     store,
		syncer:    syncer,
		tracker:   tracker,
		encryptor: encryptor,
		clients:   clients,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	r.GET("/health", s.handleHealth)
	r.GET("/health/ready", s.handleReady)

	api := r.Group("/api")
	api.Use(rateLimiter(), bearerAuth(cfg.Security.APIToken))
	{
		api.GET("/accounts", s.handleListAccounts)
		api.POST("/accounts", s.handleCreateAccount)
		api.GET("/accounts/:id", s.handleGetAccount)
		api.POST("/accounts/:id/sync", s.handleTriggerSync)
		api.GET("/accounts/:id/logs", s.handleSyncLogs)
		api.GET("/accounts/:id/collections", s.handleListCollections)
		api.PATCH("/collections/:id", s.handleUpdateCollection)
		api.POST("/accounts/:id/discover", s.handleDiscover)
		api.GET("/activity", s.handleActivity)
	}

	s.engine = r
	return s
}

// HTTPServer returns a configured http.Server; the caller owns its lifecycle.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
