package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/smartdevs17/vault-event-scanner/pkg/utils"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	RPC     RPCConfig     `mapstructure:"rpc"`
	Scanner ScannerConfig `mapstructure:"scanner"`
	Storage StorageConfig `mapstructure:"storage"`
	Sinks   SinksConfig   `mapstructure:"sinks"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// RPCConfig contains node connection configuration
type RPCConfig struct {
	NodeURL        string        `mapstructure:"node_url"`
	NetworkID      int64         `mapstructure:"network_id"` // 0 skips the check
	BackupNodes    []string      `mapstructure:"backup_nodes"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
}

// ScannerConfig controls how block ranges are scanned
type ScannerConfig struct {
	ContractAddress string        `mapstructure:"contract_address"`
	StartBlock      uint64        `mapstructure:"start_block"`
	MaxSpan         uint64        `mapstructure:"max_span"`
	RequestDelay    time.Duration `mapstructure:"request_delay"`
	Limiter         string        `mapstructure:"limiter"` // fixed, token_bucket
	Concurrency     int           `mapstructure:"concurrency"`
	TieBreak        string        `mapstructure:"tie_break"` // log_index, fetch_order
	Events          []string      `mapstructure:"events"`
	Timeout         time.Duration `mapstructure:"timeout"`
	Retry           RetryConfig   `mapstructure:"retry"`
}

// RetryConfig configures backoff for transient node failures
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Type             string        `mapstructure:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
}

// SinksConfig lists where finished scans are delivered
type SinksConfig struct {
	Webhook WebhookConfig `mapstructure:"webhook"`
	NATS    NATSConfig    `mapstructure:"nats"`
}

// WebhookConfig configures the HTTP webhook sink
type WebhookConfig struct {
	Enabled    bool              `mapstructure:"enabled"`
	URL        string            `mapstructure:"url"`
	Timeout    time.Duration     `mapstructure:"timeout"`
	Headers    map[string]string `mapstructure:"headers"`
	MaxRetries int               `mapstructure:"max_retries"`
}

// NATSConfig configures the NATS sink
type NATSConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stderr, stdout, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables using the
// global viper instance, which also carries bound CLI flags.
func Load(configPath string) (*Config, error) {
	return LoadWithViper(viper.GetViper(), configPath)
}

// LoadWithViper loads configuration into v.
func LoadWithViper(v *viper.Viper, configPath string) (*Config, error) {
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("VAULT_SCANNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, utils.WrapError(utils.ErrCodeConfiguration, "Error reading config file", err)
		}
		utils.ComponentLogger("config").Debug("Config file not found, using defaults and environment variables")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, utils.WrapError(utils.ErrCodeConfiguration, "Error unmarshaling config", err)
	}

	// Variables shared with the deployment scripts.
	if nodeURL := os.Getenv("RPC_URL"); nodeURL != "" {
		config.RPC.NodeURL = nodeURL
	}
	if vault := os.Getenv("STAKING_VAULT_ADDRESS"); vault != "" {
		config.Scanner.ContractAddress = vault
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "vault-event-scanner")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	// RPC defaults
	v.SetDefault("rpc.node_url", "https://ethereum-sepolia-rpc.publicnode.com")
	v.SetDefault("rpc.network_id", 0)
	v.SetDefault("rpc.backup_nodes", []string{})
	v.SetDefault("rpc.request_timeout", "30s")
	v.SetDefault("rpc.retry_attempts", 3)
	v.SetDefault("rpc.retry_delay", "2s")

	// Scanner defaults (vault deployment block, 10k-block provider limit)
	v.SetDefault("scanner.contract_address", "")
	v.SetDefault("scanner.start_block", 10300040)
	v.SetDefault("scanner.max_span", 9999)
	v.SetDefault("scanner.request_delay", "500ms")
	v.SetDefault("scanner.limiter", "fixed")
	v.SetDefault("scanner.concurrency", 1)
	v.SetDefault("scanner.tie_break", "log_index")
	v.SetDefault("scanner.events", []string{"Deposited", "Withdrawn", "RewardsAdded"})
	v.SetDefault("scanner.timeout", "0s")
	v.SetDefault("scanner.retry.max_attempts", 3)
	v.SetDefault("scanner.retry.initial_interval", "1s")
	v.SetDefault("scanner.retry.max_interval", "30s")
	v.SetDefault("scanner.retry.max_elapsed_time", "2m")

	// Storage defaults
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.connection_string", "./data/events.db")
	v.SetDefault("storage.max_connections", 10)
	v.SetDefault("storage.max_idle_time", "15m")

	// Sink defaults
	v.SetDefault("sinks.webhook.enabled", false)
	v.SetDefault("sinks.webhook.timeout", "10s")
	v.SetDefault("sinks.webhook.max_retries", 3)
	v.SetDefault("sinks.nats.enabled", false)
	v.SetDefault("sinks.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("sinks.nats.subject_prefix", "vault.events")
	v.SetDefault("sinks.nats.max_reconnects", 10)
	v.SetDefault("sinks.nats.reconnect_wait", "2s")

	// Server defaults
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10m")
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.enable_health", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.RPC.NodeURL == "" {
		return fmt.Errorf("rpc node URL is required")
	}
	if c.RPC.RequestTimeout <= 0 {
		return fmt.Errorf("rpc request timeout must be positive")
	}
	if !utils.IsValidAddress(c.Scanner.ContractAddress) {
		return fmt.Errorf("scanner contract address %q is not a valid address", c.Scanner.ContractAddress)
	}
	if c.Scanner.RequestDelay < 0 {
		return fmt.Errorf("scanner request delay must not be negative")
	}
	if c.Scanner.Concurrency < 1 {
		return fmt.Errorf("scanner concurrency must be at least 1")
	}
	switch c.Scanner.Limiter {
	case "fixed", "token_bucket":
	default:
		return fmt.Errorf("unsupported scanner limiter: %s", c.Scanner.Limiter)
	}
	switch c.Scanner.TieBreak {
	case "log_index", "fetch_order":
	default:
		return fmt.Errorf("unsupported scanner tie break: %s", c.Scanner.TieBreak)
	}
	if c.Scanner.Retry.MaxAttempts < 0 {
		return fmt.Errorf("scanner retry max attempts must not be negative")
	}
	if c.Storage.Enabled {
		switch c.Storage.Type {
		case "sqlite", "postgres", "postgresql":
		default:
			return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
		}
		if c.Storage.ConnectionString == "" {
			return fmt.Errorf("storage connection string is required")
		}
	}
	if c.Sinks.Webhook.Enabled && c.Sinks.Webhook.URL == "" {
		return fmt.Errorf("webhook sink URL is required")
	}
	if c.Sinks.NATS.Enabled && c.Sinks.NATS.URL == "" {
		return fmt.Errorf("nats sink URL is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d is out of range", c.Server.Port)
	}
	return nil
}
