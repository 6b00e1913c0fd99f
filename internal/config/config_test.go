package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  port: 9090
auth:
  enabled: true
  username: operator
  password_hash: "$2a$10$abcdefghijklmnopqrstuv"
  session_secret: s3cret
  session_ttl_minutes: 30
gemini:
  api_key: key
  model: gemini-2.5-flash
  attach_video: true
worker:
  cooldown_seconds: 5
  max_attempts: 3
output:
  data_dir: /tmp/extractor
storage:
  backend: gcs
  gcs_bucket: bucket
  prefix: archive
db:
  dsn: postgres://localhost/extractor
pubsub:
  project_id: proj
  topic_name: runs
logging:
  development: false
  level: warn
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.Username != "operator" || cfg.SessionTTL() != 30*time.Minute {
		t.Fatalf("expected auth overrides to apply: %+v", cfg.Auth)
	}
	if cfg.Gemini.Model != "gemini-2.5-flash" || !cfg.Gemini.AttachVideo {
		t.Fatalf("expected gemini overrides to apply: %+v", cfg.Gemini)
	}
	if cfg.Cooldown() != 5*time.Second || cfg.Worker.MaxAttempts != 3 {
		t.Fatalf("expected worker overrides to apply: %+v", cfg.Worker)
	}
	if got := cfg.OutputPath(); got != filepath.Join("/tmp/extractor", "extracted_questions.txt") {
		t.Fatalf("unexpected output path %s", got)
	}
	if cfg.Storage.Backend != StorageGCS || cfg.Storage.Prefix != "archive" {
		t.Fatalf("expected storage overrides to apply: %+v", cfg.Storage)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "warn" {
		t.Fatalf("expected logging overrides to apply: %+v", cfg.Logging)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, "auth:\n  enabled: false\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Fatalf("expected default port 5000, got %d", cfg.Server.Port)
	}
	if cfg.Gemini.Model != "gemini-3-pro-preview" {
		t.Fatalf("unexpected default model %s", cfg.Gemini.Model)
	}
	if cfg.Cooldown() != time.Minute || cfg.Worker.MaxAttempts != 5 {
		t.Fatalf("unexpected worker defaults: %+v", cfg.Worker)
	}
	if cfg.Worker.InitialDelaySeconds != 2 || cfg.Worker.FixedDelaySeconds != 2 {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Worker)
	}
	if cfg.InputPath() != filepath.Join("data", "input_urls.txt") {
		t.Fatalf("unexpected input path %s", cfg.InputPath())
	}
	if cfg.OutputPath() != filepath.Join("data", "extracted_questions.txt") {
		t.Fatalf("unexpected output path %s", cfg.OutputPath())
	}
	if cfg.Auth.LoginRPS != 0.2 || cfg.Auth.LoginBurst != 5 {
		t.Fatalf("unexpected login throttle defaults: %+v", cfg.Auth)
	}
	if cfg.Storage.Backend != StorageNone {
		t.Fatalf("expected storage disabled by default, got %s", cfg.Storage.Backend)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	base := func() Config {
		return Config{
			Server: ServerConfig{Port: 5000, MaxUploadBytes: 1024},
			Auth:   AuthConfig{Enabled: true, Username: "u", Password: "p", SessionTTLMinutes: 10},
			Gemini: GeminiConfig{TimeoutSeconds: 30},
			Worker: WorkerConfig{MaxAttempts: 5, CooldownSeconds: 60},
			Output: OutputConfig{DataDir: "data", InputFile: "in.txt", OutputFile: "out.txt"},
			Storage: StorageConfig{
				Backend: StorageNone,
			},
		}
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}

	testCases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"username", func(c *Config) { c.Auth.Username = "" }, "auth.username"},
		{"password", func(c *Config) { c.Auth.Password = "" }, "auth.password"},
		{"attempts", func(c *Config) { c.Worker.MaxAttempts = 0 }, "worker.max_attempts"},
		{"cooldown", func(c *Config) { c.Worker.CooldownSeconds = -1 }, "worker delays"},
		{"gcs bucket", func(c *Config) { c.Storage.Backend = StorageGCS }, "storage.gcs_bucket"},
		{"backend", func(c *Config) { c.Storage.Backend = "s3" }, "not supported"},
		{"pubsub project", func(c *Config) { c.PubSub.TopicName = "runs" }, "pubsub.project_id"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
