// Package config defines the settings for a crawl and loads them through
// viper from flags, environment, an optional config file and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// AppName is used for the XDG data directory and the env prefix.
const AppName = "netscan"

const (
	DefaultMaxDepth              = 10
	DefaultMaxChannels           = 1000
	DefaultMaxMessagesPerChannel = 1000
	DefaultRateLimitDelay        = 2 * time.Second
	DefaultOutputDir             = "terrorscan_output"
	DefaultCheckpointFile        = "crawl_state.json"
	DefaultLogFile               = "terrorscan.log"
	DefaultLogLevel              = "info"
	DefaultStateStore            = "statestore"
	DefaultDaprGRPCPort          = "50001"
)

var (
	ErrInvalidDepth    = errors.New("max_depth must not be negative")
	ErrInvalidChannels = errors.New("max_channels must be at least 1")
	ErrInvalidMessages = errors.New("max_messages_per_channel must be at least 1")
	ErrInvalidDelay    = errors.New("rate_limit_delay must not be negative")
	ErrNoCrawlID       = errors.New("crawl_id is required when dapr is enabled")
)

// TelegramConfig holds the API credentials used when no credentials file is
// present.
type TelegramConfig struct {
	APIID   string `mapstructure:"api_id"`
	APIHash string `mapstructure:"api_hash"`
	Phone   string `mapstructure:"phone"`
	Code    string `mapstructure:"code"`
}

// DaprConfig selects the Dapr state store as checkpoint backend.
type DaprConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	StateStore string `mapstructure:"state_store"`
	GRPCPort   string `mapstructure:"grpc_port"`
}

// Config holds every setting of a run.
type Config struct {
	MaxDepth              int           `mapstructure:"max_depth"`
	MaxChannels           int           `mapstructure:"max_channels"`
	MaxMessagesPerChannel int           `mapstructure:"max_messages_per_channel"`
	RateLimitDelay        time.Duration `mapstructure:"rate_limit_delay"`
	Resume                bool          `mapstructure:"resume"`

	OutputDir         string `mapstructure:"output_dir"`
	CheckpointFile    string `mapstructure:"checkpoint_file"`
	StorageRoot       string `mapstructure:"storage_root"`
	TDLibDatabaseURL  string `mapstructure:"tdlib_database_url"`
	TDLibVerbosity    int    `mapstructure:"tdlib_verbosity"`
	WebAppNetworkFile string `mapstructure:"webapp_network_file"`
	CrawlID           string `mapstructure:"crawl_id"`

	LogLevel    string `mapstructure:"log_level"`
	LogFile     string `mapstructure:"log_file"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	Telegram TelegramConfig `mapstructure:"telegram"`
	Dapr     DaprConfig     `mapstructure:"dapr"`
}

// XDGDataDir is the default TDLib storage root.
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// Default returns a Config with every default applied.
func Default() Config {
	return Config{
		MaxDepth:              DefaultMaxDepth,
		MaxChannels:           DefaultMaxChannels,
		MaxMessagesPerChannel: DefaultMaxMessagesPerChannel,
		RateLimitDelay:        DefaultRateLimitDelay,
		OutputDir:             DefaultOutputDir,
		CheckpointFile:        DefaultCheckpointFile,
		StorageRoot:           XDGDataDir(),
		TDLibVerbosity:        1,
		LogLevel:              DefaultLogLevel,
		LogFile:               DefaultLogFile,
		Dapr: DaprConfig{
			StateStore: DefaultStateStore,
			GRPCPort:   DefaultDaprGRPCPort,
		},
	}
}

// SetDefaults registers the defaults on v so that unset keys resolve. Keys
// that already have a value or a default, such as a command-specific depth,
// are left alone.
func SetDefaults(v *viper.Viper) {
	d := Default()
	setDefault := func(key string, value any) {
		if !v.IsSet(key) {
			v.SetDefault(key, value)
		}
	}
	setDefault("max_depth", d.MaxDepth)
	setDefault("max_channels", d.MaxChannels)
	setDefault("max_messages_per_channel", d.MaxMessagesPerChannel)
	setDefault("rate_limit_delay", d.RateLimitDelay)
	setDefault("resume", d.Resume)
	setDefault("output_dir", d.OutputDir)
	setDefault("checkpoint_file", d.CheckpointFile)
	setDefault("storage_root", d.StorageRoot)
	setDefault("tdlib_database_url", "")
	setDefault("tdlib_verbosity", d.TDLibVerbosity)
	setDefault("webapp_network_file", "")
	setDefault("crawl_id", "")
	setDefault("log_level", d.LogLevel)
	setDefault("log_file", d.LogFile)
	setDefault("metrics_addr", "")
	setDefault("telegram.api_id", "")
	setDefault("telegram.api_hash", "")
	setDefault("telegram.phone", "")
	setDefault("telegram.code", "")
	setDefault("dapr.enabled", false)
	setDefault("dapr.state_store", d.Dapr.StateStore)
	setDefault("dapr.grpc_port", d.Dapr.GRPCPort)
}

// BindEnv enables NETSCAN_* variables for every key plus the TELEGRAM_*
// names used by Telegram tooling.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(AppName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindings := map[string][]string{
		"telegram.api_id":    {"NETSCAN_TELEGRAM_API_ID", "TELEGRAM_API_ID", "TG_API_ID"},
		"telegram.api_hash":  {"NETSCAN_TELEGRAM_API_HASH", "TELEGRAM_API_HASH", "TG_API_HASH"},
		"telegram.phone":     {"NETSCAN_TELEGRAM_PHONE", "TELEGRAM_PHONE", "TG_PHONE_NUMBER"},
		"telegram.code":      {"NETSCAN_TELEGRAM_CODE", "TELEGRAM_CODE", "TG_PHONE_CODE"},
		"tdlib_database_url": {"NETSCAN_TDLIB_DATABASE_URL", "TDLIB_DATABASE_URL"},
		"dapr.grpc_port":     {"NETSCAN_DAPR_GRPC_PORT", "DAPR_GRPC_PORT"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

// Load resolves a Config from v. Defaults are registered first.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return cfg, cfg.Validate()
}

// ReadFile merges an optional config file into v. An explicit path that
// cannot be read is an error; a missing config.yaml in the search path is
// not.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(filepath.Join(xdg.ConfigHome, AppName))
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// Validate checks the crawl limits and backend settings.
func (c Config) Validate() error {
	if c.MaxDepth < 0 {
		return ErrInvalidDepth
	}
	if c.MaxChannels < 1 {
		return ErrInvalidChannels
	}
	if c.MaxMessagesPerChannel < 1 {
		return ErrInvalidMessages
	}
	if c.RateLimitDelay < 0 {
		return ErrInvalidDelay
	}
	if c.Dapr.Enabled && c.CrawlID == "" {
		return ErrNoCrawlID
	}
	return nil
}
