package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Engine.RetrievalTimeout != 50*time.Millisecond {
		t.Errorf("retrieval timeout = %v, want 50ms", cfg.Engine.RetrievalTimeout)
	}
	if cfg.Index.Backend != "sqlite" {
		t.Errorf("index backend = %q, want sqlite", cfg.Index.Backend)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.HotCacheCapacity != 1024 {
		t.Errorf("hot cache capacity = %d, want 1024", cfg.Engine.HotCacheCapacity)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
engine:
  hot_cache_capacity: 64
  retrieval_timeout: 25ms
index:
  backend: chromem
  path: /tmp/idx
gateway:
  enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.HotCacheCapacity != 64 {
		t.Errorf("hot cache capacity = %d, want 64", cfg.Engine.HotCacheCapacity)
	}
	if cfg.Engine.RetrievalTimeout != 25*time.Millisecond {
		t.Errorf("retrieval timeout = %v, want 25ms", cfg.Engine.RetrievalTimeout)
	}
	if cfg.Index.Backend != "chromem" {
		t.Errorf("backend = %q, want chromem", cfg.Index.Backend)
	}
	// Unset sections keep defaults.
	if cfg.Engine.Durability != "async" {
		t.Errorf("durability = %q, want async", cfg.Engine.Durability)
	}
}

func TestLoadRejectsInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("engine: {}\n"), 0666); err != nil {
		t.Fatal(err)
	}
	// WriteFile's mode is subject to the umask; force the insecure bits.
	if err := os.Chmod(path, 0o666); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for world-writable config")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RECALLD_INDEX_BACKEND", "chromem")
	t.Setenv("RECALLD_RETRIEVAL_TIMEOUT", "30ms")
	t.Setenv("RECALLD_HOT_CACHE_CAPACITY", "32")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Index.Backend != "chromem" {
		t.Errorf("backend = %q, want chromem", cfg.Index.Backend)
	}
	if cfg.Engine.RetrievalTimeout != 30*time.Millisecond {
		t.Errorf("timeout = %v, want 30ms", cfg.Engine.RetrievalTimeout)
	}
	if cfg.Engine.HotCacheCapacity != 32 {
		t.Errorf("capacity = %d, want 32", cfg.Engine.HotCacheCapacity)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := EncryptValue("sk-secret", "passphrase")
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}
	if strings.Contains(enc, "sk-secret") {
		t.Fatal("ciphertext contains plaintext")
	}

	dec, err := DecryptValue(enc, "passphrase")
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if dec != "sk-secret" {
		t.Errorf("decrypted = %q, want sk-secret", dec)
	}

	if _, err := DecryptValue(enc, "wrong"); err == nil {
		t.Fatal("expected error with wrong passphrase")
	}
}

func TestLoadDecryptsAPIKey(t *testing.T) {
	enc, err := EncryptValue("sk-live", "hunter2")
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "embedding:\n  provider: openai\n  api_key: \"enc:" + enc + "\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RECALLD_CONFIG_KEY", "hunter2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Embedding.APIKey != "sk-live" {
		t.Errorf("api_key = %q, want sk-live", cfg.Embedding.APIKey)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Engine.HotCacheCapacity = 0
	cfg.Engine.Durability = "eventually"
	cfg.Index.Backend = "postgres"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(ve.Errors) != 3 {
		t.Errorf("got %d errors, want 3: %v", len(ve.Errors), ve.Errors)
	}
}

func TestValidateFloorBelowTimeout(t *testing.T) {
	cfg := Defaults()
	cfg.Engine.PersistentFloor = cfg.Engine.RetrievalTimeout
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when floor >= timeout")
	}
}
