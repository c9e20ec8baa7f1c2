package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultValues(t *testing.T) {
	t.Setenv("VITALCONNECT_CONFIG", "")
	t.Setenv("SERVER_PORT", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Expected SERVER_PORT default 3000, got %d", cfg.Server.Port)
	}

	if cfg.Server.MaxFrameBytes != 1<<20 {
		t.Errorf("Expected max frame default 1MB, got %d", cfg.Server.MaxFrameBytes)
	}

	if !cfg.Outputs.Console.Enabled || !cfg.Outputs.Console.Colorized || cfg.Outputs.Console.Verbose {
		t.Errorf("Unexpected console defaults: %+v", cfg.Outputs.Console)
	}

	if cfg.Outputs.TCPBridge.MaxBackoff != 30*time.Second {
		t.Errorf("Expected tcp bridge max backoff 30s, got %v", cfg.Outputs.TCPBridge.MaxBackoff)
	}

	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Expected REDIS_ADDR default 'localhost:6379', got '%s'", cfg.Redis.Addr)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Expected LOG_LEVEL default 'info', got '%s'", cfg.Log.Level)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("VITALCONNECT_CONFIG", "")
	t.Setenv("SERVER_PORT", "4100")
	t.Setenv("CONSOLE_VERBOSE", "true")
	t.Setenv("TCP_BRIDGE_ENABLED", "1")
	t.Setenv("TCP_BRIDGE_INITIAL_BACKOFF_MS", "250")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("DB_NAME", "vitals")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Expected SERVER_PORT 4100, got %d", cfg.Server.Port)
	}
	if !cfg.Outputs.Console.Verbose {
		t.Errorf("Expected CONSOLE_VERBOSE true")
	}
	if !cfg.Outputs.TCPBridge.Enabled {
		t.Errorf("Expected TCP_BRIDGE_ENABLED true")
	}
	if cfg.Outputs.TCPBridge.InitialBackoff != 250*time.Millisecond {
		t.Errorf("Expected initial backoff 250ms, got %v", cfg.Outputs.TCPBridge.InitialBackoff)
	}
	if cfg.Redis.Addr != "redis:6380" {
		t.Errorf("Expected REDIS_ADDR 'redis:6380', got '%s'", cfg.Redis.Addr)
	}
	if cfg.Database.Database != "vitals" {
		t.Errorf("Expected DB_NAME 'vitals', got '%s'", cfg.Database.Database)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected LOG_LEVEL 'debug', got '%s'", cfg.Log.Level)
	}
}

func TestLoadWithFile_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vitalconnect.yaml")
	content := []byte(`
server:
  port: 5000
outputs:
  tcp_bridge:
    enabled: true
    host: bridge.local
    max_backoff: 10s
  webhook:
    enabled: true
    url: http://hooks.local/vitals
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("SERVER_PORT", "5001")
	t.Setenv("TCP_BRIDGE_HOST", "")

	cfg, err := LoadWithFile(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// 环境变量优先于 YAML
	if cfg.Server.Port != 5001 {
		t.Errorf("Expected env to override port, got %d", cfg.Server.Port)
	}
	if cfg.Outputs.TCPBridge.Host != "bridge.local" {
		t.Errorf("Expected YAML tcp bridge host, got '%s'", cfg.Outputs.TCPBridge.Host)
	}
	if cfg.Outputs.TCPBridge.MaxBackoff != 10*time.Second {
		t.Errorf("Expected YAML max backoff 10s, got %v", cfg.Outputs.TCPBridge.MaxBackoff)
	}
	if cfg.Outputs.Webhook.URL != "http://hooks.local/vitals" {
		t.Errorf("Unexpected webhook url '%s'", cfg.Outputs.Webhook.URL)
	}
}

func TestLoadWithFile_MissingFile(t *testing.T) {
	if _, err := LoadWithFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
		ok      bool
	}{
		{name: "defaults", mutate: func(*Config) {}, ok: true},
		{name: "port zero", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: ErrInvalidPort},
		{name: "port too large", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: ErrInvalidPort},
		{name: "bridge bad port", mutate: func(c *Config) {
			c.Outputs.TCPBridge.Enabled = true
			c.Outputs.TCPBridge.Port = -1
		}, wantErr: ErrInvalidPort},
		{name: "bridge backoff inverted", mutate: func(c *Config) {
			c.Outputs.TCPBridge.Enabled = true
			c.Outputs.TCPBridge.MaxBackoff = time.Millisecond
		}},
		{name: "webhook without url", mutate: func(c *Config) { c.Outputs.Webhook.Enabled = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				if err != nil {
					t.Fatalf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "test-value")

	if value := getEnv("TEST_VAR", "default"); value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	if value := getEnv("NON_EXISTENT_VAR", "default-value"); value != "default-value" {
		t.Errorf("Expected 'default-value', got '%s'", value)
	}

	t.Setenv("TEST_BOOL", "not-a-bool")
	if getEnvBool("TEST_BOOL", true) != true {
		t.Errorf("Expected invalid bool to fall back to default")
	}
}
