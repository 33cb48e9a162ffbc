package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the bridge binaries.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	WorkFolder         string `json:"work_folder" yaml:"work_folder" toml:"work_folder"`
	MaxWorkFolderBytes int    `json:"max_work_folder_bytes" yaml:"max_work_folder_bytes" toml:"max_work_folder_bytes"`
	MaxRequestBytes    int    `json:"max_request_bytes" yaml:"max_request_bytes" toml:"max_request_bytes"`
	MaxLiveResponses   int    `json:"max_live_responses" yaml:"max_live_responses" toml:"max_live_responses"`
	// PollBackoffMS is the caller-side sleep between empty polls.
	PollBackoffMS int `json:"poll_backoff_ms" yaml:"poll_backoff_ms" toml:"poll_backoff_ms"`
	// EmptyPollBackoffMS is the boundary-side sleep before an empty poll
	// returns, for hosts that poll in a tight loop. Negative disables it.
	EmptyPollBackoffMS int `json:"empty_poll_backoff_ms" yaml:"empty_poll_backoff_ms" toml:"empty_poll_backoff_ms"`

	Backend       string `json:"backend" yaml:"backend" toml:"backend"`
	LlamaCtx      int    `json:"llama_ctx" yaml:"llama_ctx" toml:"llama_ctx"`
	LlamaThreads  int    `json:"llama_threads" yaml:"llama_threads" toml:"llama_threads"`
	ServerURL     string `json:"server_url" yaml:"server_url" toml:"server_url"`
	ServerAPIKey  string `json:"server_api_key" yaml:"server_api_key" toml:"server_api_key"`
	MaxQueueDepth int    `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWaitMS     int    `json:"max_wait_ms" yaml:"max_wait_ms" toml:"max_wait_ms"`
	MaxTokens     int    `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`

	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogJSON  bool   `json:"log_json" yaml:"log_json" toml:"log_json"`

	Addr               string   `json:"addr" yaml:"addr" toml:"addr"`
	CORSEnabled        bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSAllowedOrigins []string `json:"cors_allowed_origins" yaml:"cors_allowed_origins" toml:"cors_allowed_origins"`
}

// Defaults applied by ApplyDefaults.
const (
	DefaultMaxWorkFolderBytes = 256
	DefaultMaxRequestBytes    = 2048
	DefaultPollBackoffMS      = 50
	DefaultEmptyPollBackoffMS = 50
	DefaultBackend            = "llama"
	DefaultLogLevel           = "info"
	DefaultAddr               = ":8080"
)

// Default returns a Config with every default applied.
func Default() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.MaxWorkFolderBytes <= 0 {
		c.MaxWorkFolderBytes = DefaultMaxWorkFolderBytes
	}
	if c.MaxRequestBytes <= 0 {
		c.MaxRequestBytes = DefaultMaxRequestBytes
	}
	if c.PollBackoffMS <= 0 {
		c.PollBackoffMS = DefaultPollBackoffMS
	}
	if c.EmptyPollBackoffMS == 0 {
		c.EmptyPollBackoffMS = DefaultEmptyPollBackoffMS
	}
	if c.Backend == "" {
		c.Backend = DefaultBackend
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
}

// PollBackoff returns PollBackoffMS as a duration.
func (c Config) PollBackoff() time.Duration { return time.Duration(c.PollBackoffMS) * time.Millisecond }

// EmptyPollBackoff returns EmptyPollBackoffMS as a duration; 0 when disabled.
func (c Config) EmptyPollBackoff() time.Duration {
	if c.EmptyPollBackoffMS <= 0 {
		return 0
	}
	return time.Duration(c.EmptyPollBackoffMS) * time.Millisecond
}

// MaxWait returns MaxWaitMS as a duration.
func (c Config) MaxWait() time.Duration { return time.Duration(c.MaxWaitMS) * time.Millisecond }

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
