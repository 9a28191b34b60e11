package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"secsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("SECSYNC_TEST_REMOTE", "https://secretariat.example.org")

	yamlContent := `
remote:
  base_url: "${SECSYNC_TEST_REMOTE}"
  endpoints:
    member: "/v2/members"
database:
  path: "` + filepath.Join(tmpDir, "queue.db") + `"
queue:
  base_delay: 500ms
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "https://secretariat.example.org", cfg.Remote.BaseURL)
	assert.Equal(t, "/v2/members", cfg.Remote.Endpoints["member"])
	assert.Equal(t, "/api/events", cfg.Remote.Endpoints["event"])
	assert.Equal(t, 500*time.Millisecond, cfg.Queue.BaseDelay)
	assert.Equal(t, models.DefaultMaxAttempts, cfg.Queue.MaxAttempts)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		c := Config{Remote: RemoteConfig{BaseURL: "http://localhost:5000"}}
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "missing base url", mutate: func(c *Config) { c.Remote.BaseURL = "" }, wantErr: true},
		{name: "non http base url", mutate: func(c *Config) { c.Remote.BaseURL = "ftp://host" }, wantErr: true},
		{name: "unknown driver", mutate: func(c *Config) { c.Store.Driver = "mongo" }, wantErr: true},
		{name: "redis without address", mutate: func(c *Config) { c.Store.Driver = "redis" }, wantErr: true},
		{name: "memory store", mutate: func(c *Config) { c.Store.Driver = "memory" }},
		{name: "bad strategy", mutate: func(c *Config) { c.Queue.Strategy = "random" }, wantErr: true},
		{name: "zero attempts", mutate: func(c *Config) { c.Queue.MaxAttempts = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if cfg.Queue.MaxAttempts != models.DefaultMaxAttempts {
		t.Errorf("expected default max attempts %d, got %d", models.DefaultMaxAttempts, cfg.Queue.MaxAttempts)
	}
	if cfg.Queue.BaseDelay != models.DefaultRetryBaseDelay {
		t.Errorf("expected default base delay %s, got %s", models.DefaultRetryBaseDelay, cfg.Queue.BaseDelay)
	}
	if cfg.Queue.Strategy != "linear" {
		t.Errorf("expected linear strategy, got %s", cfg.Queue.Strategy)
	}
	if cfg.API.HTTP.Port != 8088 {
		t.Errorf("expected default http port 8088, got %d", cfg.API.HTTP.Port)
	}
	if cfg.Remote.HealthPath != "/api/health" {
		t.Errorf("expected default health path, got %s", cfg.Remote.HealthPath)
	}
	if len(cfg.Remote.Endpoints) != len(models.TargetTypes) {
		t.Errorf("expected endpoints for every target, got %v", cfg.Remote.Endpoints)
	}
}

func TestValidateEndpoints(t *testing.T) {
	tests := []struct {
		name      string
		endpoints map[string]string
		wantErr   bool
	}{
		{
			name:      "complete",
			endpoints: map[string]string{"member": "/m", "event": "/e", "meeting": "/mt"},
		},
		{
			name:      "missing meeting",
			endpoints: map[string]string{"member": "/m", "event": "/e"},
			wantErr:   true,
		},
		{
			name:      "unknown target",
			endpoints: map[string]string{"member": "/m", "event": "/e", "meeting": "/mt", "district": "/d"},
			wantErr:   true,
		},
		{
			name:      "relative path",
			endpoints: map[string]string{"member": "m", "event": "/e", "meeting": "/mt"},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEndpoints(tt.endpoints)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEndpoints() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
