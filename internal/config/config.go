// Package config loads and validates extractor configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends for run artifacts.
const (
	StorageNone   = "none"
	StorageLocal  = "local"
	StorageMemory = "memory"
	StorageGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Gemini  GeminiConfig  `mapstructure:"gemini"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Output  OutputConfig  `mapstructure:"output"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
	MaxUploadBytes         int `mapstructure:"max_upload_bytes"`
}

// AuthConfig defines the login gate and machine API key. LoginRPS throttles
// login attempts per client address; 0 disables it.
type AuthConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	Username          string  `mapstructure:"username"`
	Password          string  `mapstructure:"password"`
	PasswordHash      string  `mapstructure:"password_hash"`
	SessionSecret     string  `mapstructure:"session_secret"`
	SessionTTLMinutes int     `mapstructure:"session_ttl_minutes"`
	CookieSecure      bool    `mapstructure:"cookie_secure"`
	APIKey            string  `mapstructure:"api_key"`
	LoginRPS          float64 `mapstructure:"login_rps"`
	LoginBurst        int     `mapstructure:"login_burst"`
}

// GeminiConfig configures the extraction service client.
type GeminiConfig struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	AttachVideo    bool   `mapstructure:"attach_video"`
	BaseURL        string `mapstructure:"base_url"`
}

// WorkerConfig governs pacing and the retry schedule.
type WorkerConfig struct {
	CooldownSeconds     int `mapstructure:"cooldown_seconds"`
	MaxAttempts         int `mapstructure:"max_attempts"`
	InitialDelaySeconds int `mapstructure:"initial_delay_seconds"`
	FixedDelaySeconds   int `mapstructure:"fixed_delay_seconds"`
}

// OutputConfig locates the uploaded list and the output artifact.
type OutputConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	InputFile  string `mapstructure:"input_file"`
	OutputFile string `mapstructure:"output_file"`
}

// StorageConfig selects where run artifacts are archived.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls the optional Postgres record mirror.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int    `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for run notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EXTRACTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The bare variable name is what deployments already export.
	if err := v.BindEnv("gemini.api_key", "EXTRACTOR_GEMINI_API_KEY", "GEMINI_API_KEY"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("server.max_upload_bytes", 1<<20)
	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.session_ttl_minutes", 720)
	v.SetDefault("auth.cookie_secure", false)
	v.SetDefault("auth.login_rps", 0.2)
	v.SetDefault("auth.login_burst", 5)
	v.SetDefault("gemini.model", "gemini-3-pro-preview")
	v.SetDefault("gemini.timeout_seconds", 300)
	v.SetDefault("gemini.attach_video", false)
	v.SetDefault("worker.cooldown_seconds", 60)
	v.SetDefault("worker.max_attempts", 5)
	v.SetDefault("worker.initial_delay_seconds", 2)
	v.SetDefault("worker.fixed_delay_seconds", 2)
	v.SetDefault("output.data_dir", "data")
	v.SetDefault("output.input_file", "input_urls.txt")
	v.SetDefault("output.output_file", "extracted_questions.txt")
	v.SetDefault("storage.backend", StorageNone)
	v.SetDefault("storage.local_dir", "data/archive")
	v.SetDefault("storage.prefix", "runs")
	v.SetDefault("storage.content_type", "application/x-ndjson")
	v.SetDefault("db.table", "extracted_questions")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be > 0")
	}
	if c.Auth.Enabled {
		if c.Auth.Username == "" {
			return fmt.Errorf("auth.username must be set when auth is enabled")
		}
		if c.Auth.Password == "" && c.Auth.PasswordHash == "" {
			return fmt.Errorf("auth.password or auth.password_hash must be set when auth is enabled")
		}
		if c.Auth.SessionTTLMinutes <= 0 {
			return fmt.Errorf("auth.session_ttl_minutes must be > 0")
		}
	}
	if c.Gemini.TimeoutSeconds <= 0 {
		return fmt.Errorf("gemini.timeout_seconds must be > 0")
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker.max_attempts must be > 0")
	}
	if c.Worker.CooldownSeconds < 0 || c.Worker.InitialDelaySeconds < 0 || c.Worker.FixedDelaySeconds < 0 {
		return fmt.Errorf("worker delays must be >= 0")
	}
	if c.Output.DataDir == "" || c.Output.OutputFile == "" || c.Output.InputFile == "" {
		return fmt.Errorf("output.data_dir, output.input_file and output.output_file must be set")
	}
	switch c.Storage.Backend {
	case StorageNone, StorageMemory:
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is")
	}
	return nil
}

// InputPath is where uploaded URL lists are saved.
func (c Config) InputPath() string {
	return filepath.Join(c.Output.DataDir, c.Output.InputFile)
}

// OutputPath is the JSONL output artifact.
func (c Config) OutputPath() string {
	return filepath.Join(c.Output.DataDir, c.Output.OutputFile)
}

// Cooldown is the pause between successful items.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.Worker.CooldownSeconds) * time.Second
}

// SessionTTL is the login session lifetime.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.Auth.SessionTTLMinutes) * time.Minute
}

// GeminiTimeout bounds a single extraction call.
func (c Config) GeminiTimeout() time.Duration {
	return time.Duration(c.Gemini.TimeoutSeconds) * time.Second
}
