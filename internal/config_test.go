package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/loom/internal/auth"
	pkgconfig "github.com/starford/loom/pkg/config"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if !cfg.Auth.Offline() {
		t.Error("default config should be offline")
	}
	if cfg.API.AuthEnabled() {
		t.Error("API auth should be disabled by default")
	}
}

func TestAuthConfig_EmptyModeDefaultsOffline(t *testing.T) {
	cfg := AuthConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to offline: %v", err)
	}
	if cfg.Mode != auth.ModeOffline {
		t.Errorf("mode = %q, want %q", cfg.Mode, auth.ModeOffline)
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_TokenFileModeRequiresPath(t *testing.T) {
	cfg := AuthConfig{Mode: "token_file"}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "token_file is empty") {
		t.Errorf("err = %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestRemoteConfig_BaseURLRequiredOnline(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth = AuthConfig{Mode: "token", Token: "t"}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "remote") {
		t.Fatalf("expected remote validation error, got %v", err)
	}
	cfg.Remote.BaseURL = "https://provider.test"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("online config should validate: %v", err)
	}
}

func TestRemoteConfig_URLTemplates(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Remote.DocumentURL = "https://docs.test/doc"
	if err := cfg.Validate(); err == nil {
		t.Error("document_url without placeholder should fail")
	}
}

func TestSyncConfig_Bounds(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sync.ContextWindow = 10
	if err := cfg.Validate(); err == nil {
		t.Error("context window below minimum should fail")
	}
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("LOOM_TEST_TOKEN", "from-env")
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
app:
  log_level: debug
  http:
    port: 9090
store:
  path: /tmp/loom.db
remote:
  base_url: https://provider.test
  root_folder: Notes
  timeout: 5s
auth:
  mode: token
  token: ${LOOM_TEST_TOKEN}
sync:
  resync_error_threshold: 3
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.HTTP.Port != 9090 || cfg.Remote.RootFolder != "Notes" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Auth.Token != "from-env" {
		t.Errorf("token = %q, want env expansion", cfg.Auth.Token)
	}
	if cfg.Remote.Timeout != 5*time.Second {
		t.Errorf("timeout = %v", cfg.Remote.Timeout)
	}
	if cfg.Sync.ResyncErrorThreshold != 3 || cfg.Sync.ContextWindow != 200 {
		t.Errorf("sync = %+v, defaults should survive partial sections", cfg.Sync)
	}
	if cfg.Remote.MaxRetries != 3 {
		t.Errorf("max_retries = %d, want default", cfg.Remote.MaxRetries)
	}
}
