// Package config handles Sage configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from --config) is checked first.
// Then: ./config.yaml, ~/.config/sage/config.yaml, /etc/sage/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "sage", "config.yaml"))
	}

	paths = append(paths, "/etc/sage/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Sage configuration.
type Config struct {
	Listen    ListenConfig  `yaml:"listen"`
	CORS      CORSConfig    `yaml:"cors"`
	Model     ModelConfig   `yaml:"model"`
	Agent     AgentConfig   `yaml:"agent"`
	Storage   StorageConfig `yaml:"storage"`
	Summary   SummaryConfig `yaml:"summary"`
	Safety    SafetyConfig  `yaml:"safety"`
	Docs      DocsConfig    `yaml:"docs"`
	Search    SearchConfig  `yaml:"search"`
	DataDir   string        `yaml:"data_dir"`
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Model providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAzure     = "azure"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// ModelConfig selects and tunes the text-generation backend.
type ModelConfig struct {
	Provider    string  `yaml:"provider"`
	Name        string  `yaml:"name"`     // Model or Azure deployment name
	BaseURL     string  `yaml:"base_url"` // Azure endpoint, Ollama URL, or OpenAI-compatible base
	APIKey      string  `yaml:"api_key"`
	APIVersion  string  `yaml:"api_version"` // Azure only
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TimeoutSec  int     `yaml:"timeout_sec"`

	// CountTokens enables tiktoken-based counting. When false, token
	// counts are estimated from text length.
	CountTokens bool `yaml:"count_tokens"`
}

// Timeout returns the per-call model timeout.
func (m ModelConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSec) * time.Second
}

// AgentConfig bounds the reasoning loop.
type AgentConfig struct {
	MaxIterations  int `yaml:"max_iterations"`
	RecentWindow   int `yaml:"recent_window"`
	ToolTimeoutSec int `yaml:"tool_timeout_sec"`
}

// ToolTimeout returns the per-tool-call timeout.
func (a AgentConfig) ToolTimeout() time.Duration {
	return time.Duration(a.ToolTimeoutSec) * time.Second
}

// Storage drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverMongo    = "mongodb"
	DriverMemory   = "memory"
)

// StorageConfig selects where transcripts and profiles live.
type StorageConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`     // SQLite file (supports data: prefix)
	DSN      string `yaml:"dsn"`      // Postgres DSN or MongoDB URI
	Database string `yaml:"database"` // MongoDB database name
}

// SummaryConfig controls history summarization.
type SummaryConfig struct {
	Enabled    bool `yaml:"enabled"`
	Cache      bool `yaml:"cache"`
	TimeoutSec int  `yaml:"timeout_sec"`
	MaxTokens  int  `yaml:"max_tokens"` // Transcript budget per summarization call
}

// SafetyConfig controls inbound and outbound text screening.
type SafetyConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Threshold  float64 `yaml:"threshold"`
	PolicyFile string  `yaml:"policy_file"` // Optional Rego module replacing the built-in policy

	// Terms adds or overrides lexicon entries (term -> risk in [0,1]).
	Terms map[string]float64 `yaml:"terms"`
}

// DocsConfig configures the documentation lookup tool.
type DocsConfig struct {
	Path         string       `yaml:"path"` // File or directory of .txt/.md/.pdf
	TopK         int          `yaml:"top_k"`
	BaseURL      string       `yaml:"base_url"` // Default API base for extracted endpoints
	ChunkSize    int          `yaml:"chunk_size"`
	ChunkOverlap int          `yaml:"chunk_overlap"`
	Vector       VectorConfig `yaml:"vector"`
}

// VectorConfig configures the embedding-backed index.
type VectorConfig struct {
	Enabled    bool   `yaml:"enabled"`
	PersistDir string `yaml:"persist_dir"`
	Provider   string `yaml:"provider"` // ollama (default) or openai
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
}

// SearchConfig configures the web_search tool.
type SearchConfig struct {
	Default string        `yaml:"default"`
	SearXNG SearXNGConfig `yaml:"searxng"`
	Brave   APIKeyConfig  `yaml:"brave"`
	Tavily  APIKeyConfig  `yaml:"tavily"`
}

// SearXNGConfig points at a SearXNG instance.
type SearXNGConfig struct {
	URL string `yaml:"url"`
}

// APIKeyConfig is a provider configured by key alone.
type APIKeyConfig struct {
	APIKey string `yaml:"api_key"`
}

// Load reads configuration from a YAML file. Values absent from the
// file keep their [Default] values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8000},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:5174"},
		},
		Model: ModelConfig{
			Provider:    ProviderOllama,
			Name:        "qwen3:4b",
			Temperature: 0.2,
			TimeoutSec:  120,
		},
		Agent: AgentConfig{
			MaxIterations:  15,
			RecentWindow:   6,
			ToolTimeoutSec: 10,
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
			Path:   "data:sage.db",
		},
		Summary: SummaryConfig{
			Enabled:    true,
			Cache:      true,
			TimeoutSec: 60,
			MaxTokens:  2000,
		},
		Safety: SafetyConfig{
			Enabled:   true,
			Threshold: 0.5,
		},
		Docs: DocsConfig{
			TopK:         3,
			BaseURL:      "https://fakestoreapi.com",
			ChunkSize:    600,
			ChunkOverlap: 100,
		},
		DataDir: "~/.local/share/sage",
	}
}

// applyDefaults fills zero values a config file may have cleared.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Listen.Port == 0 {
		c.Listen.Port = d.Listen.Port
	}
	if c.Model.TimeoutSec <= 0 {
		c.Model.TimeoutSec = d.Model.TimeoutSec
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = d.Agent.MaxIterations
	}
	if c.Agent.RecentWindow == 0 {
		c.Agent.RecentWindow = d.Agent.RecentWindow
	}
	if c.Agent.ToolTimeoutSec == 0 {
		c.Agent.ToolTimeoutSec = d.Agent.ToolTimeoutSec
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = d.Storage.Driver
	}
	if c.Summary.TimeoutSec <= 0 {
		c.Summary.TimeoutSec = d.Summary.TimeoutSec
	}
	if c.Summary.MaxTokens <= 0 {
		c.Summary.MaxTokens = d.Summary.MaxTokens
	}
	if c.Safety.Threshold == 0 {
		c.Safety.Threshold = d.Safety.Threshold
	}
	if c.Docs.TopK <= 0 {
		c.Docs.TopK = d.Docs.TopK
	}
	if c.Docs.BaseURL == "" {
		c.Docs.BaseURL = d.Docs.BaseURL
	}
	if c.Docs.ChunkSize <= 0 {
		c.Docs.ChunkSize = d.Docs.ChunkSize
	}
	if c.Docs.ChunkOverlap < 0 || c.Docs.ChunkOverlap >= c.Docs.ChunkSize {
		c.Docs.ChunkOverlap = c.Docs.ChunkSize / 6
	}
}

// Validate reports configuration values that cannot work.
func (c *Config) Validate() error {
	providers := []string{ProviderOpenAI, ProviderAzure, ProviderAnthropic, ProviderOllama}
	if !slices.Contains(providers, c.Model.Provider) {
		return fmt.Errorf("model.provider %q is not one of %v", c.Model.Provider, providers)
	}
	if c.Model.Provider == ProviderAzure && (c.Model.BaseURL == "" || c.Model.APIVersion == "") {
		return fmt.Errorf("model.provider azure requires base_url and api_version")
	}
	drivers := []string{DriverSQLite, DriverPostgres, DriverMongo, DriverMemory}
	if !slices.Contains(drivers, c.Storage.Driver) {
		return fmt.Errorf("storage.driver %q is not one of %v", c.Storage.Driver, drivers)
	}
	if (c.Storage.Driver == DriverPostgres || c.Storage.Driver == DriverMongo) && c.Storage.DSN == "" {
		return fmt.Errorf("storage.driver %s requires storage.dsn", c.Storage.Driver)
	}
	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent.max_iterations must be positive, got %d", c.Agent.MaxIterations)
	}
	if c.Agent.RecentWindow < 1 {
		return fmt.Errorf("agent.recent_window must be positive, got %d", c.Agent.RecentWindow)
	}
	if c.Safety.Threshold < 0 || c.Safety.Threshold > 1 {
		return fmt.Errorf("safety.threshold must be within [0,1], got %v", c.Safety.Threshold)
	}
	return nil
}
