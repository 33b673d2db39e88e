package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/config"
)

func localConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Storage.Bucket = "tbm-signatures"
	cfg.Storage.Region = "us-east-1"
	cfg.Storage.Endpoint = "http://localhost:4566"
	cfg.Storage.AccessKey = "test"
	cfg.Storage.SecretKey = "test"
	cfg.Storage.PresignExpiry = 300
	return cfg
}

func TestNewImageStoreRequiresBucket(t *testing.T) {
	cfg := localConfig()
	cfg.Storage.Bucket = ""
	if _, err := NewImageStore(context.Background(), cfg); err == nil {
		t.Fatalf("expected missing bucket to be rejected")
	}
}

func TestURLPresignsPathStyleGet(t *testing.T) {
	store, err := NewImageStore(context.Background(), localConfig())
	if err != nil {
		t.Fatalf("new image store: %v", err)
	}

	url, err := store.URL(context.Background(), "signatures/2025/11/abc.png")
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.HasPrefix(url, "http://localhost:4566/tbm-signatures/signatures/2025/11/abc.png") {
		t.Fatalf("expected path-style url on local endpoint, got %s", url)
	}
	if !strings.Contains(url, "X-Amz-Expires=300") {
		t.Fatalf("expected presign expiry in url, got %s", url)
	}
}
