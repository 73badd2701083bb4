package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// chdirTemp runs the test from an empty dir so no repo config is picked up.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CONFIG_ENV", "missing")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 || cfg.Mode != "release" {
		t.Errorf("port/mode = %d %s", cfg.Port, cfg.Mode)
	}
	if cfg.JoinTimeout != 30*time.Second || cfg.PingPeriod != 54*time.Second {
		t.Errorf("timeouts = %v %v", cfg.JoinTimeout, cfg.PingPeriod)
	}
	if cfg.DefaultVariant != "video" || cfg.UnpublishPolicy != "tracked" {
		t.Errorf("variant/policy = %s %s", cfg.DefaultVariant, cfg.UnpublishPolicy)
	}
	if cfg.StartRateLimit != 5 || cfg.StartRateInterval != time.Minute {
		t.Errorf("rate limit = %d per %v", cfg.StartRateLimit, cfg.StartRateInterval)
	}
	if cfg.SessionIdleTTL != 10*time.Minute || cfg.SweepInterval != time.Minute {
		t.Errorf("sweep = %v every %v", cfg.SessionIdleTTL, cfg.SweepInterval)
	}
	if len(cfg.ICEServers) != 1 {
		t.Errorf("ice servers = %v", cfg.ICEServers)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := chdirTemp(t)
	if err := os.Mkdir(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatal(err)
	}
	yaml := []byte("port: 9090\napp_id: from-file\ntoken_url: http://tokens.local/api/token\njoin_timeout: 5s\n")
	if err := os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), yaml, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("CALL_APP_ID", "from-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9090 || cfg.JoinTimeout != 5*time.Second {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.TokenURL != "http://tokens.local/api/token" {
		t.Errorf("token url = %s", cfg.TokenURL)
	}
	if cfg.AppID != "from-env" {
		t.Errorf("app id = %s, want env override", cfg.AppID)
	}
}
