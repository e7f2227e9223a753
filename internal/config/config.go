package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	log "github.com/sirupsen/logrus"

	"assistant-bot/internal/domain"
)

// Config represents the entire configuration structure
type Config struct {
	Telegram TelegramConfig `toml:"telegram"`
	Proxy    ProxyConfig    `toml:"proxy"`
	OpenAI   OpenAIConfig   `toml:"openai"`
	Storage  StorageConfig  `toml:"storage"`
	Logging  LoggingConfig  `toml:"logging"`
}

// TelegramConfig contains Telegram Bot settings
type TelegramConfig struct {
	Token          string  `toml:"token"`
	OwnerIDs       []int64 `toml:"owner_ids"`
	PollingTimeout int     `toml:"polling_timeout"`
}

// ProxyConfig contains HTTP proxy settings
type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
}

// OpenAIConfig contains OpenAI API settings. The assistant ids bind the
// three conversation slots; empty entries leave a slot unconfigured.
type OpenAIConfig struct {
	APIKey       string `toml:"api_key"`
	BaseURL      string `toml:"base_url"`
	Timeout      int    `toml:"timeout"`
	AssistantID  string `toml:"assistant_id"`
	AssistantID2 string `toml:"assistant_id_2"`
	AssistantID3 string `toml:"assistant_id_3"`
}

// AssistantIDs returns the slot-indexed assistant ids.
func (c *OpenAIConfig) AssistantIDs() [domain.AssistantSlots]string {
	return [domain.AssistantSlots]string{c.AssistantID, c.AssistantID2, c.AssistantID3}
}

// StorageConfig contains user-record storage settings
type StorageConfig struct {
	Type string `toml:"type"`
	Path string `toml:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Output string `toml:"output"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	// If no config path provided, try default locations
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	log.Infof("Loading configuration from: %s", configPath)

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set default values if not specified
	setDefaults(&cfg)

	return &cfg, nil
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	// First try current directory
	if _, err := os.Stat("config.toml"); err == nil {
		return "config.toml"
	}

	// Then try config directory
	configDir := "config"
	if _, err := os.Stat(filepath.Join(configDir, "config.toml")); err == nil {
		return filepath.Join(configDir, "config.toml")
	}

	// Default to current directory
	return "config.toml"
}

// setDefaults applies default values to configuration fields
func setDefaults(cfg *Config) {
	if cfg.Telegram.PollingTimeout == 0 {
		cfg.Telegram.PollingTimeout = 60
	}
	if cfg.OpenAI.Timeout == 0 {
		cfg.OpenAI.Timeout = 120
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "file"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "data/users.json"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "bot.log"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return &ConfigError{Field: "telegram.token", Message: "telegram token is required"}
	}
	if len(c.Telegram.OwnerIDs) == 0 {
		return &ConfigError{Field: "telegram.owner_ids", Message: "at least one owner id is required"}
	}
	if c.OpenAI.APIKey == "" {
		return &ConfigError{Field: "openai.api_key", Message: "OpenAI API key is required"}
	}
	if c.Proxy.Enabled && c.Proxy.URL == "" {
		return &ConfigError{Field: "proxy.url", Message: "proxy URL is required when proxy is enabled"}
	}
	return nil
}

// IsOwner reports whether the user id is allowed to use the bot.
func (c *Config) IsOwner(userID int64) bool {
	for _, id := range c.Telegram.OwnerIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
