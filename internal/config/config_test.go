package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "STORAGE_BACKEND", "STORAGE_TIMEOUT", "CACHE_ENABLED", "CACHE_TTL", "SELECTION_SEED", "RENDER_STRICT"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	if cfg.Port != "8787" {
		t.Errorf("port = %s", cfg.Port)
	}
	if cfg.StorageBackend != "postgres" {
		t.Errorf("storage backend = %s", cfg.StorageBackend)
	}
	if cfg.StorageTimeout != 2*time.Second {
		t.Errorf("storage timeout = %v", cfg.StorageTimeout)
	}
	if !cfg.CacheEnabled || cfg.CacheTTL != 30*time.Second {
		t.Errorf("cache = %v %v", cfg.CacheEnabled, cfg.CacheTTL)
	}
	if cfg.SelectionSeed != 0 || cfg.RenderStrict {
		t.Errorf("selection seed %d render strict %v", cfg.SelectionSeed, cfg.RenderStrict)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("STORAGE_TIMEOUT", "750ms")
	t.Setenv("CACHE_TTL", "90")
	t.Setenv("CACHE_ENABLED", "false")
	t.Setenv("SELECTION_SEED", "42")
	t.Setenv("RENDER_STRICT", "true")
	t.Setenv("TRACING_SAMPLE_RATE", "0.25")
	t.Setenv("DEFAULT_CLICK_URL", "https://example.com/")

	cfg := Load()
	if cfg.StorageBackend != "memory" {
		t.Errorf("storage backend = %s", cfg.StorageBackend)
	}
	if cfg.StorageTimeout != 750*time.Millisecond {
		t.Errorf("storage timeout = %v", cfg.StorageTimeout)
	}
	if cfg.CacheTTL != 90*time.Second || cfg.CacheEnabled {
		t.Errorf("cache = %v %v", cfg.CacheEnabled, cfg.CacheTTL)
	}
	if cfg.SelectionSeed != 42 || !cfg.RenderStrict {
		t.Errorf("selection seed %d render strict %v", cfg.SelectionSeed, cfg.RenderStrict)
	}
	if cfg.TracingSampleRate != 0.25 {
		t.Errorf("sample rate = %v", cfg.TracingSampleRate)
	}
	if cfg.DefaultClickURL != "https://example.com/" {
		t.Errorf("default click url = %s", cfg.DefaultClickURL)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("STORAGE_TIMEOUT", "soon")
	t.Setenv("DB_MAX_OPEN_CONNS", "many")
	t.Setenv("CACHE_ENABLED", "maybe")
	cfg := Load()
	if cfg.StorageTimeout != 2*time.Second || cfg.DBMaxOpenConns != 25 || !cfg.CacheEnabled {
		t.Errorf("fallbacks not applied: %v %d %v", cfg.StorageTimeout, cfg.DBMaxOpenConns, cfg.CacheEnabled)
	}
}
