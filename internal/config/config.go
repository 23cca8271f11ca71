package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Verifier  VerifierConfig  `yaml:"verifier" envconfig:"VERIFIER"`
	Cache     CacheConfig     `yaml:"cache" envconfig:"CACHE"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
}

// ServerConfig contains the local HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// VerifierConfig contains the remote verification service configuration
type VerifierConfig struct {
	URL       string        `yaml:"url" envconfig:"URL"`
	ProductID string        `yaml:"product_id" envconfig:"PRODUCT_ID"`
	Timeout   time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

// CacheConfig contains the entitlement cache configuration
type CacheConfig struct {
	Path       string `yaml:"path" envconfig:"PATH"`
	StorageKey string `yaml:"storage_key" envconfig:"STORAGE_KEY"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// RateLimitConfig bounds login attempts against the remote verifier
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// WebSocketConfig contains the auth status push channel configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT"`
}

// Default returns the baseline configuration. File and environment values
// overlay it in that order.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8745,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Verifier: VerifierConfig{
			URL:       "https://env-00jxu65bfie3.dev-hz.cloudbasefunction.cn/http/router/admin/card/pub/verify",
			ProductID: "exe-explain",
			Timeout:   10 * time.Second,
		},
		Cache: CacheConfig{
			Path:       filepath.Join("data", "auth_info.json"),
			StorageKey: "auth_info",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: filepath.Join("logs", "cardauth.log"),
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     1,
			Burst:   5,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingPeriod:      30 * time.Second,
			PongWait:        60 * time.Second,
		},
	}
}

// Load loads configuration from environment variables and an optional
// config file. Environment variables take precedence over file values.
func Load() (*Config, error) {
	return LoadFrom(getConfigFilePath())
}

// LoadFrom behaves like Load but reads the given config file path.
func LoadFrom(configFile string) (*Config, error) {
	cfg, err := loadMerged(configFile)
	if err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func loadMerged(configFile string) (*Config, error) {
	cfg := Default()

	// YAML overwrites only the keys present in the document, so partial
	// files keep the baseline for everything else.
	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			data, err := os.ReadFile(configFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := envconfig.Process("CARDAUTH", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	return &cfg, nil
}

// validate checks configuration values
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Verifier.URL == "" {
		return fmt.Errorf("verifier URL is required")
	}
	u, err := url.Parse(c.Verifier.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid verifier URL: %q", c.Verifier.URL)
	}

	if c.Verifier.ProductID == "" {
		return fmt.Errorf("verifier product_id is required")
	}

	if c.Verifier.Timeout <= 0 {
		return fmt.Errorf("verifier timeout must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}

	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		return fmt.Errorf("invalid log output: %q", c.Logging.Output)
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RPS <= 0 {
			return fmt.Errorf("rate limit rps must be positive")
		}
		if c.RateLimit.Burst < 1 {
			return fmt.Errorf("rate limit burst must be at least 1")
		}
	}

	return nil
}

// getConfigFilePath returns the default config file location next to the
// executable, falling back to the working directory.
func getConfigFilePath() string {
	if p := os.Getenv("CARDAUTH_CONFIG_FILE"); p != "" {
		return p
	}

	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "cardauth.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return "cardauth.yaml"
}
