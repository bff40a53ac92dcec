package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Environment != "development" {
		t.Fatalf("expected development environment, got %q", cfg.Environment)
	}
	if cfg.HTTPPort != 3001 {
		t.Fatalf("expected default port 3001, got %d", cfg.HTTPPort)
	}
	if cfg.WorkerCount != 1 {
		t.Fatalf("expected 1 worker in development, got %d", cfg.WorkerCount)
	}
	if cfg.RTPMinPort != 40000 || cfg.RTPMaxPort != 49999 {
		t.Fatalf("unexpected RTP port range [%d, %d]", cfg.RTPMinPort, cfg.RTPMaxPort)
	}
	if cfg.TranscoderBin != "ffmpeg" {
		t.Fatalf("unexpected transcoder binary %q", cfg.TranscoderBin)
	}
}

func TestLoadReadsLegacyKeys(t *testing.T) {
	t.Setenv("NODE_ENV", "test")
	t.Setenv("PORT", "4000")
	t.Setenv("FORCE_TCP", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Environment != "test" {
		t.Fatalf("expected test environment, got %q", cfg.Environment)
	}
	if cfg.HTTPPort != 4000 {
		t.Fatalf("expected port 4000, got %d", cfg.HTTPPort)
	}
	if !cfg.ForceTCP {
		t.Fatal("expected ForceTCP to be set")
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected legacy env warnings")
	}
}

func TestLoadPrefixedKeysWinOverLegacy(t *testing.T) {
	t.Setenv("DUOCAST_HTTP_PORT", "5000")
	t.Setenv("PORT", "4000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HTTPPort != 5000 {
		t.Fatalf("expected prefixed key to win, got port %d", cfg.HTTPPort)
	}
}

func TestLoadRejectsInvalidPortRange(t *testing.T) {
	t.Setenv("DUOCAST_RTP_MIN_PORT", "50000")
	t.Setenv("DUOCAST_RTP_MAX_PORT", "40000")

	if _, err := Load(); err == nil {
		t.Fatal("expected inverted RTP port range to fail")
	}
}

func TestLoadRejectsUnknownEnvironment(t *testing.T) {
	t.Setenv("DUOCAST_ENV", "staging")

	if _, err := Load(); err == nil {
		t.Fatal("expected unknown environment to fail")
	}
}

func TestLoadProductionRequiresAnnouncedIP(t *testing.T) {
	t.Setenv("DUOCAST_ENV", "production")
	t.Setenv("DUOCAST_DB_DSN", "host=localhost user=test dbname=test sslmode=disable")
	t.Setenv("DUOCAST_DB_BACKEND", "postgres")

	if _, err := Load(); err == nil {
		t.Fatal("expected production config without announced IP to fail")
	}

	t.Setenv("DUOCAST_MEDIA_ANNOUNCED_IP", "203.0.113.10")
	if _, err := Load(); err != nil {
		t.Fatalf("expected production config with announced IP to succeed: %v", err)
	}
}

func TestLoadConfigFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "duocast.yml")
	body := []byte("http_port: 8090\nhls_path: /var/lib/duocast/hls\nworker_count: 2\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("DUOCAST_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HTTPPort != 8090 {
		t.Fatalf("expected file port 8090, got %d", cfg.HTTPPort)
	}
	if cfg.HLSPath != "/var/lib/duocast/hls" {
		t.Fatalf("unexpected HLS path %q", cfg.HLSPath)
	}
	if cfg.WorkerCount != 2 {
		t.Fatalf("expected 2 workers from file, got %d", cfg.WorkerCount)
	}

	// Env still wins over the file.
	t.Setenv("DUOCAST_HTTP_PORT", "9000")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HTTPPort != 9000 {
		t.Fatalf("expected env to win over file, got port %d", cfg.HTTPPort)
	}
}

func TestLoadRejectsMalformedConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yml")
	if err := os.WriteFile(path, []byte("http_port: [not an int\n"), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("DUOCAST_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Fatal("expected malformed config file to fail")
	}
}
