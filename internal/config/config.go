// Package config loads ambient configuration for the markdown validation
// server: defaults, then an optional TOML file, then environment variables,
// highest precedence last.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration for the mdvalidate server.
type Config struct {
	Store     StoreConfig     `toml:"store"`
	LLM       LLMConfig       `toml:"llm"`
	Cache     CacheConfig     `toml:"cache"`
	Content   ContentConfig   `toml:"content"`
	Transport TransportConfig `toml:"transport"`
	Log       LogConfig       `toml:"log"`
	Async     AsyncConfig     `toml:"async"`
}

// StoreConfig points at the sqlite database backing the persistence layer.
type StoreConfig struct {
	Path string `toml:"path"`
}

// LLMConfig configures the Ollama-backed enhancement capability.
type LLMConfig struct {
	Disabled   bool   `toml:"disabled"`
	Endpoint   string `toml:"endpoint"`
	Model      string `toml:"model"`
	TimeoutSec int    `toml:"timeout_seconds"`
	MaxRetries int    `toml:"max_retries"`
}

// CacheConfig configures the Redis-backed admin cache.
type CacheConfig struct {
	Addr string `toml:"addr"`
	DB   int    `toml:"db"`
}

// ContentConfig locates the per-family rule documents and prompt templates.
type ContentConfig struct {
	RulesDir   string `toml:"rules_dir"`
	PromptsDir string `toml:"prompts_dir"`
	TruthDir   string `toml:"truth_dir"`
}

// TransportConfig selects how the JSON-RPC dispatcher is exposed.
type TransportConfig struct {
	Mode string `toml:"mode"` // "stdio" (default) or "http"
	Port string `toml:"port"`
	Host string `toml:"host"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

// AsyncConfig bounds the worker pool backing the async dispatcher.
type AsyncConfig struct {
	PoolSize int `toml:"pool_size"`
}

// Load builds a Config from defaults, an optional TOML file, and environment
// variables, in that order of increasing precedence.
//
// Config file search order (first found wins):
//  1. configPath, if non-empty (from --config flag)
//  2. MDVALIDATE_CONFIG environment variable
//  3. ./mdvalidate.toml (current directory)
//  4. ~/.config/mdvalidate/mdvalidate.toml
//
// All fields are optional in the config file; environment variables always
// override file values.
func Load(configPath string) (*Config, error) {
	cfg := &Config{
		Store: StoreConfig{
			Path: "mdvalidate.db",
		},
		LLM: LLMConfig{
			Disabled:   false,
			Endpoint:   "http://localhost:11434",
			Model:      "llama3",
			TimeoutSec: 30,
			MaxRetries: 3,
		},
		Cache: CacheConfig{
			Addr: "localhost:6379",
			DB:   0,
		},
		Content: ContentConfig{
			RulesDir:   "rules",
			PromptsDir: "prompts",
			TruthDir:   "truth",
		},
		Transport: TransportConfig{
			Mode: "stdio",
			Port: "8765",
			Host: "127.0.0.1",
		},
		Log: LogConfig{
			Level: "info",
		},
		Async: AsyncConfig{
			PoolSize: 8,
		},
	}

	if err := cfg.loadFile(configPath); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(configPath string) error {
	path := resolveConfigPath(configPath)
	if path == "" {
		return nil
	}
	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	return nil
}

func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv("MDVALIDATE_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("mdvalidate.toml"); err == nil {
		return "mdvalidate.toml"
	}
	if home, err := os.UserHomeDir(); err == nil {
		p := home + "/.config/mdvalidate/mdvalidate.toml"
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func (c *Config) applyEnv() {
	envOverride("MDVALIDATE_STORE_PATH", &c.Store.Path)

	envOverride("MDVALIDATE_LLM_ENDPOINT", &c.LLM.Endpoint)
	envOverride("MDVALIDATE_LLM_MODEL", &c.LLM.Model)
	envOverrideBool("MDVALIDATE_LLM_DISABLED", &c.LLM.Disabled)
	envOverrideInt("MDVALIDATE_LLM_TIMEOUT_SECONDS", &c.LLM.TimeoutSec)
	envOverrideInt("MDVALIDATE_LLM_MAX_RETRIES", &c.LLM.MaxRetries)

	envOverride("MDVALIDATE_CACHE_ADDR", &c.Cache.Addr)
	envOverrideInt("MDVALIDATE_CACHE_DB", &c.Cache.DB)

	envOverride("MDVALIDATE_RULES_DIR", &c.Content.RulesDir)
	envOverride("MDVALIDATE_PROMPTS_DIR", &c.Content.PromptsDir)
	envOverride("MDVALIDATE_TRUTH_DIR", &c.Content.TruthDir)

	envOverride("MDVALIDATE_TRANSPORT", &c.Transport.Mode)
	envOverride("MDVALIDATE_PORT", &c.Transport.Port)
	envOverride("MDVALIDATE_HOST", &c.Transport.Host)

	envOverride("MDVALIDATE_LOG_LEVEL", &c.Log.Level)

	envOverrideInt("MDVALIDATE_ASYNC_POOL_SIZE", &c.Async.PoolSize)
}

// Validate checks that required fields are internally consistent.
func (c *Config) Validate() error {
	switch c.Transport.Mode {
	case "stdio", "http":
	default:
		return fmt.Errorf("invalid transport mode: %q (must be \"stdio\" or \"http\")", c.Transport.Mode)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Async.PoolSize <= 0 {
		return fmt.Errorf("async.pool_size must be positive, got %d", c.Async.PoolSize)
	}
	if !c.LLM.Disabled && c.LLM.TimeoutSec <= 0 {
		return fmt.Errorf("llm.timeout_seconds must be positive, got %d", c.LLM.TimeoutSec)
	}
	return nil
}

func envOverride(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envOverrideBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func envOverrideInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
