package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings
const (
	EnvConfigPath  = "DRIVE_ORGANIZER_CONFIG"
	EnvCredentials = "DRIVE_ORGANIZER_CREDENTIALS"
	EnvToken       = "DRIVE_ORGANIZER_TOKEN"
	EnvDatabase    = "DRIVE_ORGANIZER_DB"
)

const appDirName = "drive-organizer"

// LLMConfig holds the classification oracle settings
type LLMConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Provider string `json:"provider" yaml:"provider" toml:"provider"` // ollama, bedrock
	Model    string `json:"model" yaml:"model" toml:"model"`
	Endpoint string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	Region   string `json:"region" yaml:"region" toml:"region"` // For AWS Bedrock
	APIKey   string `json:"api_key" yaml:"api_key" toml:"api_key"`
	Timeout  string `json:"timeout" yaml:"timeout" toml:"timeout"`

	// Template file path (relative to config dir or absolute)
	ClassifyTemplate string `json:"classify_template" yaml:"classify_template" toml:"classify_template"`
	// Inline prompt override (optional - takes precedence over the built-in prompt)
	ClassifyPrompt string `json:"classify_prompt,omitempty" yaml:"classify_prompt,omitempty" toml:"classify_prompt,omitempty"`
}

// DatabaseConfig selects the persistence backend
type DatabaseConfig struct {
	// DSN is a SQLite file path, a sqlite:// URL or a postgres:// URL
	DSN string `json:"dsn" yaml:"dsn" toml:"dsn"`
}

// CrawlConfig bounds a scan
type CrawlConfig struct {
	RootID      string `json:"root_id" yaml:"root_id" toml:"root_id"`
	MaxItems    int    `json:"max_items" yaml:"max_items" toml:"max_items"` // 0 = no cap
	PageSize    int64  `json:"page_size" yaml:"page_size" toml:"page_size"`
	MimeFilter  string `json:"mime_filter" yaml:"mime_filter" toml:"mime_filter"`
	SampleLimit int    `json:"sample_limit" yaml:"sample_limit" toml:"sample_limit"`
}

// RetryConfig controls backoff for transient remote errors
type RetryConfig struct {
	MaxAttempts int    `json:"max_attempts" yaml:"max_attempts" toml:"max_attempts"`
	BaseDelay   string `json:"base_delay" yaml:"base_delay" toml:"base_delay"`
}

// Config holds all configuration for drive-organizer
type Config struct {
	Credentials string `json:"credentials" yaml:"credentials" toml:"credentials"`
	Token       string `json:"token" yaml:"token" toml:"token"`
	UserID      string `json:"user_id" yaml:"user_id" toml:"user_id"`

	Database DatabaseConfig `json:"database" yaml:"database" toml:"database"`
	Crawl    CrawlConfig    `json:"crawl" yaml:"crawl" toml:"crawl"`
	Retry    RetryConfig    `json:"retry" yaml:"retry" toml:"retry"`
	LLM      LLMConfig      `json:"llm" yaml:"llm" toml:"llm"`

	// Logging
	LogFile  string `json:"log_file" yaml:"log_file" toml:"log_file"`
	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		UserID: "me",
		Database: DatabaseConfig{
			DSN: DefaultDatabasePath(),
		},
		Crawl:    DefaultCrawlConfig(),
		Retry:    DefaultRetryConfig(),
		LLM:      DefaultLLMConfig(),
		LogFile:  "",
		LogLevel: "info",
	}
}

// DefaultLLMConfig returns default LLM configuration
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Enabled:          true,
		Provider:         "ollama",
		Model:            "llama3.2:latest",
		Endpoint:         "http://localhost:11434/api/generate",
		Timeout:          "120s",
		ClassifyTemplate: "templates/classify.md",
		ClassifyPrompt:   "",
	}
}

// DefaultCrawlConfig returns default crawl bounds
func DefaultCrawlConfig() CrawlConfig {
	return CrawlConfig{
		RootID:      "root",
		MaxItems:    10000,
		PageSize:    1000,
		SampleLimit: 4000,
	}
}

// DefaultRetryConfig returns the default retry policy: 3 attempts, 1s, 2s
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: "1s"}
}

// Format is a configuration file encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatForPath picks the encoding from the file extension; JSON otherwise
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

// LoadConfig loads configuration from file, then applies environment
// overrides. A missing file yields the defaults.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if strings.TrimSpace(configPath) != "" {
		data, err := os.ReadFile(ExpandPath(configPath))
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		case len(data) > 0:
			if err := decode(FormatForPath(configPath), data, cfg); err != nil {
				return nil, err
			}
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(format Format, data []byte, cfg *Config) error {
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode yaml: %w", err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode toml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode json: %w", err)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvCredentials)); v != "" {
		c.Credentials = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvToken)); v != "" {
		c.Token = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDatabase)); v != "" {
		c.Database.DSN = v
	}
}

// Validate checks the configuration for values the service cannot run with
func (c *Config) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return errors.New("user_id is required")
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("database.dsn is required")
	}
	if c.Crawl.MaxItems < 0 {
		return fmt.Errorf("crawl.max_items must be >= 0, got %d", c.Crawl.MaxItems)
	}
	if c.Crawl.PageSize < 0 || c.Crawl.PageSize > 1000 {
		return fmt.Errorf("crawl.page_size must be between 0 and 1000, got %d", c.Crawl.PageSize)
	}
	if c.Crawl.SampleLimit < 0 {
		return fmt.Errorf("crawl.sample_limit must be >= 0, got %d", c.Crawl.SampleLimit)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay != "" {
		if _, err := time.ParseDuration(c.Retry.BaseDelay); err != nil {
			return fmt.Errorf("invalid retry.base_delay: %w", err)
		}
	}

	if c.LLM.Enabled {
		switch strings.ToLower(strings.TrimSpace(c.LLM.Provider)) {
		case "ollama", "bedrock":
		default:
			return fmt.Errorf("invalid llm.provider: %q", c.LLM.Provider)
		}
		if strings.TrimSpace(c.LLM.Model) == "" {
			return errors.New("LLM is enabled but no model specified")
		}
		if c.LLM.Timeout != "" {
			if _, err := time.ParseDuration(c.LLM.Timeout); err != nil {
				return fmt.Errorf("invalid LLM timeout: %w", err)
			}
		}
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %q", c.LogLevel)
	}
	return nil
}

// DefaultConfigDir returns the directory holding config, credentials and data
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", appDirName)
}

// DefaultConfigPath returns the default configuration file path
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.json")
}

// DefaultCredentialPaths returns the default paths for credentials and token
func DefaultCredentialPaths() (string, string) {
	dir := DefaultConfigDir()
	if dir == "" {
		return "", ""
	}
	return filepath.Join(dir, "credentials.json"), filepath.Join(dir, "token.json")
}

// DefaultDatabasePath returns the default SQLite database path
func DefaultDatabasePath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return "drive-organizer.db"
	}
	return filepath.Join(dir, "drive-organizer.db")
}

// DefaultLogDir returns the default log directory path
func DefaultLogDir() string {
	return DefaultConfigDir()
}

// CredentialPaths returns the credential and token paths with ~ expanded
func (c *Config) CredentialPaths() (string, string) {
	credPath, tokenPath := DefaultCredentialPaths()
	if c.Credentials != "" {
		credPath = ExpandPath(c.Credentials)
	}
	if c.Token != "" {
		tokenPath = ExpandPath(c.Token)
	}
	return credPath, tokenPath
}

// ExpandPath expands a leading ~ to the home directory
func ExpandPath(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}

// SaveConfig saves the configuration, encoded by the path's extension
func (c *Config) SaveConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	var data []byte
	var err error
	switch FormatForPath(path) {
	case FormatYAML:
		data, err = yaml.Marshal(c)
	case FormatTOML:
		data, err = toml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// GetLLMTimeout returns parsed timeout for LLM
func (c *Config) GetLLMTimeout() time.Duration {
	if c.LLM.Timeout != "" {
		if d, err := time.ParseDuration(c.LLM.Timeout); err == nil {
			return d
		}
	}
	return 120 * time.Second
}

// GetRetryBaseDelay returns the parsed base backoff delay
func (c *Config) GetRetryBaseDelay() time.Duration {
	if c.Retry.BaseDelay != "" {
		if d, err := time.ParseDuration(c.Retry.BaseDelay); err == nil {
			return d
		}
	}
	return time.Second
}

// LoadTemplate loads a template with proper priority: file first, then inline, then fallback
func LoadTemplate(templatePath, inlinePrompt, fallbackPrompt string) string {
	if strings.TrimSpace(templatePath) != "" {
		var fullPath string
		if filepath.IsAbs(templatePath) {
			fullPath = templatePath
		} else {
			fullPath = filepath.Join(DefaultConfigDir(), templatePath)
		}

		if content, err := os.ReadFile(fullPath); err == nil {
			return strings.TrimSpace(string(content))
		}
	}

	if strings.TrimSpace(inlinePrompt) != "" {
		return inlinePrompt
	}
	return fallbackPrompt
}

// DefaultClassifyPrompt is used when no template file or inline prompt is set.
// Placeholders: {{summary}}, {{files}}, {{ignore_mime}}, {{ignore_large}}.
const DefaultClassifyPrompt = `Please analyze the following Google Drive files and propose a logical folder structure.

File Summary:
{{summary}}

File Details (first 50 files for analysis):
{{files}}

User Preferences:
- Ignore MIME types: {{ignore_mime}}
- Ignore large files: {{ignore_large}}

Please provide a JSON response with the following structure:
{
  "root_folders": [
    {
      "name": "Folder Name",
      "description": "Brief description of what goes in this folder",
      "children": [
        {"name": "Subfolder Name", "description": "Description", "children": [], "files": ["file_id1"]}
      ],
      "files": ["file_id3", "file_id4"]
    }
  ],
  "orphaned_files": ["file_id5"],
  "reasoning": "Brief explanation of the proposed structure"
}

Guidelines:
1. Group files by type, purpose, or project
2. Use clear, descriptive folder names
3. Consider file extensions and MIME types
4. Keep the structure simple and intuitive
5. Don't create too many nested levels (max 3-4)
6. Include only the file IDs in the response, not full metadata

Please respond with only the JSON structure, no additional text.`

// GetClassifyPrompt returns the classification prompt, loading from template file if needed
func (c *LLMConfig) GetClassifyPrompt() string {
	return LoadTemplate(c.ClassifyTemplate, c.ClassifyPrompt, DefaultClassifyPrompt)
}
