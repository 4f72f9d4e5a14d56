package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8787" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.DefaultLockTTL != 15*time.Minute {
		t.Fatalf("expected 15m default lock ttl, got %s", cfg.DefaultLockTTL)
	}
	if cfg.VerifierMaxConcurrent != 3 {
		t.Fatalf("expected verifier capacity 3, got %d", cfg.VerifierMaxConcurrent)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "casefile.yaml")
	content := "api_addr: \":9000\"\nminio_bucket: captures\nverifier_max_concurrent: 5\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MINIO_BUCKET", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Fatalf("expected file addr, got %q", cfg.Addr)
	}
	if cfg.MinIOBucket != "from-env" {
		t.Fatalf("expected env to win over file, got %q", cfg.MinIOBucket)
	}
	if cfg.VerifierMaxConcurrent != 5 {
		t.Fatalf("expected 5, got %d", cfg.VerifierMaxConcurrent)
	}
}

func TestLoadRejectsBadLockTTL(t *testing.T) {
	t.Setenv("LOCK_DEFAULT_TTL_SECONDS", "600")
	t.Setenv("LOCK_MAX_TTL_SECONDS", "60")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error")
	}
}
