package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BackendConfig locates the backend sidecar that owns the broker protocols.
type BackendConfig struct {
	BaseURL string // http://127.0.0.1:8000
	Spawn   string // optional command to start the sidecar
	Args    []string
}

// RelayConfig is the loopback listener that receives OAuth redirects.
type RelayConfig struct {
	Addr string // 127.0.0.1:4815
}

// OAuthConfig bounds the delegated-login handshake.
type OAuthConfig struct {
	Timeout time.Duration // default 300s
}

// VaultConfig locates the encrypted credential store.
type VaultConfig struct {
	Path   string
	KeyEnv string // env var holding the 32-byte key
}

// BrokerDefaults prefills connect forms; values, not policy.
type BrokerDefaults map[string]map[string]string

// Config is the resolved application configuration.
type Config struct {
	Backend  BackendConfig
	Relay    RelayConfig
	OAuth    OAuthConfig
	Vault    VaultConfig
	StateDir string // trading-mode persistence
	Journal  string // sqlite path, empty disables
	Stream   bool   // subscribe to backend /ws pushes

	LogLevel string
	LogFile  string

	Brokers BrokerDefaults
}

var globalConfig *Config
var configFilePath string

// SetConfigPath sets the file used by Load.
func SetConfigPath(path string) {
	configFilePath = path
}

func GetConfigPath() string {
	return configFilePath
}

// ConfigFile mirrors the on-disk layout (YAML or JSON).
type ConfigFile struct {
	Backend struct {
		BaseURL string   `yaml:"base_url" json:"base_url"`
		Spawn   string   `yaml:"spawn" json:"spawn"`
		Args    []string `yaml:"args" json:"args"`
	} `yaml:"backend" json:"backend"`
	Relay struct {
		Addr string `yaml:"addr" json:"addr"`
	} `yaml:"relay" json:"relay"`
	OAuth struct {
		TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
	} `yaml:"oauth" json:"oauth"`
	Vault struct {
		Path   string `yaml:"path" json:"path"`
		KeyEnv string `yaml:"key_env" json:"key_env"`
	} `yaml:"vault" json:"vault"`
	StateDir string                       `yaml:"state_dir" json:"state_dir"`
	Journal  string                       `yaml:"journal" json:"journal"`
	Stream   *bool                        `yaml:"stream" json:"stream"`
	LogLevel string                       `yaml:"log_level" json:"log_level"`
	LogFile  string                       `yaml:"log_file" json:"log_file"`
	Brokers  map[string]map[string]string `yaml:"brokers" json:"brokers"`
}

// Load reads the configured file (if any) and fills the gaps from the
// environment, then defaults.
func Load() (*Config, error) {
	return LoadFromFile(configFilePath)
}

// LoadFromFile loads configuration with precedence file > env > default.
func LoadFromFile(filePath string) (*Config, error) {
	if globalConfig != nil && configFilePath == filePath {
		return globalConfig, nil
	}

	var configFile *ConfigFile
	if filePath != "" {
		var err error
		configFile, err = loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("load config file %s: %w", filePath, err)
		}
	}

	config := &Config{
		Backend: BackendConfig{
			BaseURL: pickString(configFile, func(cf *ConfigFile) string { return cf.Backend.BaseURL },
				getEnv("DESK_BACKEND_URL", "http://127.0.0.1:8000")),
			Spawn: pickString(configFile, func(cf *ConfigFile) string { return cf.Backend.Spawn },
				getEnv("DESK_BACKEND_SPAWN", "")),
		},
		Relay: RelayConfig{
			Addr: pickString(configFile, func(cf *ConfigFile) string { return cf.Relay.Addr },
				getEnv("DESK_RELAY_ADDR", "127.0.0.1:4815")),
		},
		OAuth: OAuthConfig{
			Timeout: time.Duration(pickInt(configFile, func(cf *ConfigFile) int { return cf.OAuth.TimeoutSeconds },
				parseIntEnv("DESK_OAUTH_TIMEOUT_SECONDS", 300))) * time.Second,
		},
		Vault: VaultConfig{
			Path: pickString(configFile, func(cf *ConfigFile) string { return cf.Vault.Path },
				getEnv("DESK_VAULT_PATH", "data/vault.badger")),
			KeyEnv: pickString(configFile, func(cf *ConfigFile) string { return cf.Vault.KeyEnv },
				getEnv("DESK_VAULT_KEY_ENV", "DESK_VAULT_KEY")),
		},
		StateDir: pickString(configFile, func(cf *ConfigFile) string { return cf.StateDir },
			getEnv("DESK_STATE_DIR", "data/state")),
		Journal: pickString(configFile, func(cf *ConfigFile) string { return cf.Journal },
			getEnv("DESK_JOURNAL_PATH", "data/journal.db")),
		Stream: func() bool {
			if configFile != nil && configFile.Stream != nil {
				return *configFile.Stream
			}
			return parseBoolEnv("DESK_STREAM", true)
		}(),
		LogLevel: pickString(configFile, func(cf *ConfigFile) string { return cf.LogLevel },
			getEnv("LOG_LEVEL", "info")),
		LogFile: pickString(configFile, func(cf *ConfigFile) string { return cf.LogFile },
			getEnv("LOG_FILE", "logs/desk.log")),
		Brokers: BrokerDefaults{},
	}
	if configFile != nil {
		config.Backend.Args = configFile.Backend.Args
		for broker, fields := range configFile.Brokers {
			config.Brokers[strings.ToLower(broker)] = fields
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	globalConfig = config
	configFilePath = filePath
	return config, nil
}

// Get returns the loaded configuration, if any.
func Get() *Config {
	return globalConfig
}

// Validate rejects configurations the process cannot run with.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend base_url is required")
	}
	if !strings.HasPrefix(c.Backend.BaseURL, "http://") && !strings.HasPrefix(c.Backend.BaseURL, "https://") {
		return fmt.Errorf("backend base_url must be http(s): %s", c.Backend.BaseURL)
	}
	if c.Relay.Addr == "" {
		return fmt.Errorf("relay addr is required")
	}
	host, _, err := net.SplitHostPort(c.Relay.Addr)
	if err != nil {
		return fmt.Errorf("relay addr must be host:port: %s", c.Relay.Addr)
	}
	// The relay receives authorization codes; only loopback is acceptable.
	if host != "127.0.0.1" && host != "localhost" && host != "::1" {
		return fmt.Errorf("relay addr must be loopback: %s", c.Relay.Addr)
	}
	if c.OAuth.Timeout <= 0 {
		return fmt.Errorf("oauth timeout must be positive")
	}
	if c.StateDir == "" {
		return fmt.Errorf("state_dir is required")
	}
	return nil
}

// RelayCallbackURL is the redirect target handed to the backend when a
// delegated login starts.
func (c *Config) RelayCallbackURL() string {
	return "http://" + c.Relay.Addr + "/oauth/callback"
}

func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var configFile ConfigFile
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s (supported: .yaml, .yml, .json)", ext)
	}

	return &configFile, nil
}

func pickString(cf *ConfigFile, getter func(*ConfigFile) string, fallback string) string {
	if cf != nil {
		if v := getter(cf); v != "" {
			return v
		}
	}
	return fallback
}

func pickInt(cf *ConfigFile, getter func(*ConfigFile) int, fallback int) int {
	if cf != nil {
		if v := getter(cf); v > 0 {
			return v
		}
	}
	return fallback
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
