package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HTTPPort != 5720 {
		t.Fatalf("default port = %d", cfg.HTTPPort)
	}
	if cfg.DecoderWorkers != 2 {
		t.Fatalf("default workers = %d", cfg.DecoderWorkers)
	}
	if cfg.BufferSeconds != 15 {
		t.Fatalf("default buffer seconds = %d", cfg.BufferSeconds)
	}
	if cfg.DBPath == "" {
		t.Fatal("expected a default database path")
	}
}

func TestLoadReadsEnv(t *testing.T) {
	t.Setenv("MELISMA_HTTP_PORT", "8099")
	t.Setenv("MELISMA_DB_PATH", "/tmp/test.db")
	t.Setenv("MELISMA_DECODER_WORKERS", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HTTPPort != 8099 || cfg.DBPath != "/tmp/test.db" || cfg.DecoderWorkers != 4 {
		t.Fatalf("env not honored: %+v", cfg)
	}
}

func TestLoadRejectsBadWorkerCount(t *testing.T) {
	t.Setenv("MELISMA_DECODER_WORKERS", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero workers")
	}
}

func TestLoadTrimsMediaRoot(t *testing.T) {
	t.Setenv("MELISMA_MEDIA_ROOT", "/music/")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.MediaRoot != "/music" {
		t.Fatalf("media root = %q", cfg.MediaRoot)
	}
}
