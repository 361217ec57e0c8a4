package config

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const (
	validKey   = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	validToken = "0123456789abcdef0123456789abcdef"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("ENCRYPTION_KEY", validKey)
	t.Setenv("API_TOKEN", validToken)
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if !cfg.IsProduction() {
		t.Error("default environment must be production")
	}
	if cfg.Sync.FullSyncAfterDays != 7 {
		t.Errorf("full sync after = %d days, want 7", cfg.Sync.FullSyncAfterDays)
	}
	if cfg.Sync.MultigetBatch != 10 {
		t.Errorf("multiget batch = %d, want 10", cfg.Sync.MultigetBatch)
	}
	if len(cfg.Security.EncryptionKey) != 32 {
		t.Errorf("key length = %d, want 32", len(cfg.Security.EncryptionKey))
	}
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "")
	t.Setenv("API_TOKEN", "")

	_, err := Load()
	if !errors.Is(err, ErrMissingConfig) {
		t.Fatalf("err = %v, want ErrMissingConfig", err)
	}
	if !strings.Contains(err.Error(), "ENCRYPTION_KEY") || !strings.Contains(err.Error(), "API_TOKEN") {
		t.Errorf("error must name the missing keys: %v", err)
	}
}

func TestLoadRejectsShortKey(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "abcd")
	t.Setenv("API_TOKEN", validToken)

	if _, err := Load(); !errors.Is(err, ErrEncryptionKeySize) {
		t.Errorf("err = %v, want ErrEncryptionKeySize", err)
	}
}

func TestLoadRejectsShortToken(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", validKey)
	t.Setenv("API_TOKEN", "short")

	if _, err := Load(); !errors.Is(err, ErrAPITokenSize) {
		t.Errorf("err = %v, want ErrAPITokenSize", err)
	}
}

func TestLoadRejectsInvalidNumbers(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "not-a-number")

	if _, err := Load(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestLoadRejectsZeroBatch(t *testing.T) {
	setRequired(t)
	t.Setenv("MULTIGET_BATCH_SIZE", "0")

	if _, err := Load(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestValidateWebhookURL(t *testing.T) {
	setRequired(t)
	t.Setenv("ALERT_WEBHOOK_ENABLED", "true")
	t.Setenv("ALERT_WEBHOOK_URL", "not a url")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(context.Background()); !errors.Is(err, ErrValidationFailed) {
		t.Errorf("err = %v, want ErrValidationFailed", err)
	}
}
