// Package config loads runtime configuration from the environment, an
// optional .env file, and an optional YAML file. Environment variables take
// precedence over file values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the orchestration core.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Git      GitConfig      `yaml:"git"`
	Tools    ToolsConfig    `yaml:"tools"`
	Cache    CacheConfig    `yaml:"cache"`
	Orch     OrchConfig     `yaml:"orchestrator"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ProviderConfig selects and configures the active LLM provider.
type ProviderConfig struct {
	// Name is "openai" (or a compatible provider name) or "mock".
	Name string `yaml:"name"`

	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// RequestTimeout applies to non-streaming provider calls.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// StreamIdleTimeout is the maximum gap between stream chunks.
	StreamIdleTimeout time.Duration `yaml:"stream_idle_timeout"`
}

// GitConfig carries ambient Git credentials. Request-supplied credentials
// override these.
type GitConfig struct {
	DefaultService string `yaml:"default_service"`

	GitHubToken string `yaml:"github_token"`

	ForgejoBaseURL  string `yaml:"forgejo_base_url"`
	ForgejoToken    string `yaml:"forgejo_token"`
	ForgejoUsername string `yaml:"forgejo_username"`
	ForgejoPassword string `yaml:"forgejo_password"`
}

// ToolsConfig controls which tools register at startup.
type ToolsConfig struct {
	// EnableGitTools registers the Git-write tools.
	EnableGitTools bool `yaml:"enable_git_tools"`

	// Enabled restricts registration to the named tools. Empty means all.
	Enabled []string `yaml:"enabled"`
}

// CacheConfig tunes the response cache.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// OrchConfig tunes the orchestrator loop.
type OrchConfig struct {
	MaxToolIterations int           `yaml:"max_tool_iterations"`
	ProviderRetries   int           `yaml:"provider_retries"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	TurnTimeout       time.Duration `yaml:"turn_timeout"`
	ToolTimeout       time.Duration `yaml:"tool_timeout"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Provider: ProviderConfig{
			Name:              "mock",
			Model:             "gpt-4o-mini",
			RequestTimeout:    60 * time.Second,
			StreamIdleTimeout: 30 * time.Second,
		},
		Git: GitConfig{DefaultService: "github"},
		Tools: ToolsConfig{
			EnableGitTools: true,
		},
		Cache: CacheConfig{
			TTL:        5 * time.Minute,
			MaxEntries: 1024,
		},
		Orch: OrchConfig{
			MaxToolIterations: 5,
			ProviderRetries:   2,
			RetryBackoff:      500 * time.Millisecond,
			TurnTimeout:       5 * time.Minute,
			ToolTimeout:       30 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// the environment, in increasing precedence. A .env file in the working
// directory is loaded into the environment first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays recognized environment variables onto the config.
func (c *Config) applyEnv(getenv func(string) string) {
	setString(&c.Provider.Name, getenv("DEFAULT_LLM_PROVIDER"))
	setString(&c.Provider.APIKey, getenv("OPENAI_API_KEY"))
	setString(&c.Provider.BaseURL, getenv("OPENAI_BASE_URL"))
	setString(&c.Provider.Model, getenv("OPENAI_MODEL"))

	setString(&c.Git.DefaultService, getenv("DEFAULT_GIT_SERVICE"))
	setString(&c.Git.GitHubToken, getenv("GITHUB_TOKEN"))
	setString(&c.Git.ForgejoBaseURL, getenv("FORGEJO_BASE_URL"))
	setString(&c.Git.ForgejoToken, getenv("FORGEJO_TOKEN"))
	setString(&c.Git.ForgejoUsername, getenv("FORGEJO_USERNAME"))
	setString(&c.Git.ForgejoPassword, getenv("FORGEJO_PASSWORD"))

	if v := getenv("ENABLE_GITHUB_TOOLS"); v != "" {
		c.Tools.EnableGitTools = parseBool(v)
	}
	if v := getenv("MCP_TOOLS_ENABLED"); v != "" {
		c.Tools.Enabled = splitList(v)
	}

	if v := getenv("LLM_CACHE_TTL_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			c.Cache.TTL = time.Duration(secs) * time.Second
		}
	}
	if v := getenv("LLM_CACHE_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Cache.MaxEntries = n
		}
	}
	if v := getenv("LLM_MAX_TOOL_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Orch.MaxToolIterations = n
		}
	}

	if v := getenv("DOCSAGE_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := getenv("DOCSAGE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Server.Port = n
		}
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Provider.Name) {
	case "mock":
	case "":
		return fmt.Errorf("provider name is required")
	default:
		// OpenAI-compatible remote provider. The key may still be empty
		// when the base URL points at an unauthenticated proxy.
	}

	switch c.Git.DefaultService {
	case "github", "forgejo", "mock":
	default:
		return fmt.Errorf("unknown default git service %q", c.Git.DefaultService)
	}

	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache max entries must be positive")
	}
	if c.Orch.MaxToolIterations <= 0 {
		return fmt.Errorf("max tool iterations must be positive")
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
