package web

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/davsync/davsync/internal/dav"
	"github.com/davsync/davsync/internal/db"
	engine "github.com/davsync/davsync/internal/sync"
	"github.com/davsync/davsync/internal/validator"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleReady(c *gin.Context) {
	if _, err := s.store.GetAccounts(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) handleListAccounts(c *gin.Context) {
	accounts, err := s.store.GetAccounts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

type createAccountRequest struct {
	Name         string `json:"name" binding:"required"`
	BaseURL      string `json:"base_url" binding:"required"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	AuthType     string `json:"auth_type"`
	BearerToken  string `json:"bearer_token"`
	SyncInterval int    `json:"sync_interval"`
	Enabled      *bool  `json:"enabled"`
}

func (s *Server) handleCreateAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	v := validator.New(validator.WithAllowPrivateIPs())
	if err := v.ValidateURL(req.BaseURL, s.cfg.IsProduction()); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "base_url: " + err.Error()})
		return
	}

	authType := db.AuthType(req.AuthType)
	if authType == "" {
		authType = db.AuthBasic
	}
	if authType != db.AuthBasic && authType != db.AuthBearer {
		c.JSON(http.StatusBadRequest, gin.H{"error": "auth_type must be basic or bearer"})
		return
	}

	account := &db.Account{
		Name:         req.Name,
		BaseURL:      req.BaseURL,
		Username:     req.Username,
		AuthType:     authType,
		SyncInterval: req.SyncInterval,
		Enabled:      true,
	}
	if req.Enabled != nil {
		account.Enabled = *req.Enabled
	}

	// Secrets are encrypted at rest; only the sync engine decrypts them.
	var err error
	if account.Password, err = s.encryptor.Encrypt(req.Password); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encrypt credentials"})
		return
	}
	if account.BearerToken, err = s.encryptor.Encrypt(req.BearerToken); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encrypt credentials"})
		return
	}

	if err := s.store.CreateAccount(account); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, account)
}

func (s *Server) handleGetAccount(c *gin.Context) {
	account, err := s.store.GetAccountByID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	c.JSON(http.StatusOK, account)
}

func (s *Server) handleTriggerSync(c *gin.Context) {
	accountID := c.Param("id")
	if _, err := s.store.GetAccountByID(accountID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}

	if s.syncer.IsSyncing(accountID) {
		c.JSON(http.StatusConflict, gin.H{"error": "sync already running"})
		return
	}

	mode := engine.ModeFull
	if c.Query("mode") == "push" {
		mode = engine.ModePush
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if _, err := s.syncer.SyncAccount(ctx, accountID, mode); err != nil {
			log.Printf("Triggered sync for account %s failed: %v", accountID, err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

func (s *Server) handleSyncLogs(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 200"})
			return
		}
		limit = parsed
	}

	logs, err := s.store.GetRecentSyncLogs(c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (s *Server) handleListCollections(c *gin.Context) {
	collections, err := s.store.GetCollectionsByAccount(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"collections": collections})
}

type updateCollectionRequest struct {
	SyncEnabled   *bool   `json:"sync_enabled"`
	ForceReadOnly *bool   `json:"force_read_only"`
	GroupMethod   *string `json:"group_method"`
}

func (s *Server) handleUpdateCollection(c *gin.Context) {
	col, err := s.store.GetCollectionByID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "collection not found"})
		return
	}

	var req updateCollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.SyncEnabled != nil {
		col.SyncEnabled = *req.SyncEnabled
	}
	if req.ForceReadOnly != nil {
		col.ForceReadOnly = *req.ForceReadOnly
	}
	if req.GroupMethod != nil {
		gm := db.GroupMethod(*req.GroupMethod)
		if gm != db.GroupMethodCategories && gm != db.GroupMethodVCards {
			c.JSON(http.StatusBadRequest, gin.H{"error": "group_method must be categories or vcard-groups"})
			return
		}
		col.GroupMethod = gm
	}

	if err := s.store.UpdateCollection(col); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, col)
}

// handleDiscover probes the server for collections and registers the ones not
// yet known. Discovered collections start sync-disabled so the operator can
// opt in per collection.
func (s *Server) handleDiscover(c *gin.Context) {
	account, err := s.store.GetAccountByID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}

	client, err := s.clients(account)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	found, err := client.Discover(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	existing, err := s.store.GetCollectionsByAccount(account.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	known := make(map[string]bool, len(existing))
	for _, col := range existing {
		known[dav.PathOnly(col.URL)] = true
	}

	var created []*db.Collection
	for _, disc := range found {
		url := dav.JoinURL(account.BaseURL, disc.URL)
		if known[dav.PathOnly(url)] {
			continue
		}
		col := &db.Collection{
			AccountID:   account.ID,
			Type:        db.CollectionType(disc.Type),
			URL:         url,
			DisplayName: disc.Name,
			GroupMethod: db.GroupMethodCategories,
		}
		if err := s.store.CreateCollection(col); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		created = append(created, col)
	}

	c.JSON(http.StatusOK, gin.H{"discovered": found, "created": created})
}

func (s *Server) handleActivity(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active": s.tracker.Active(),
		"recent": s.tracker.Recent(),
	})
}
