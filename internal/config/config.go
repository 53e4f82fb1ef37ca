package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// AllowlistFileName is the fixed name of the per-broker allowlist file,
// resolved relative to the executable directory unless overridden.
const AllowlistFileName = "reaper.ini"

type Config struct {
	BrokerAPIURL          string `mapstructure:"broker_api_url"`
	AuthToken             string `mapstructure:"auth_token"`
	AllowlistPath         string `mapstructure:"allowlist_path"`
	PollIntervalSeconds   int    `mapstructure:"poll_interval_seconds"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
	MaxConcurrentBrokers  int    `mapstructure:"max_concurrent_brokers"`
	LogLevel              string `mapstructure:"log_level"`
	LogFormat             string `mapstructure:"log_format"`
	StatusAddr            string `mapstructure:"status_addr"`
	AuditEnabled          bool   `mapstructure:"audit_enabled"`
	AuditMaxSizeMB        int    `mapstructure:"audit_max_size_mb"`
	AuditMaxBackups       int    `mapstructure:"audit_max_backups"`
}

func Default() *Config {
	return &Config{
		PollIntervalSeconds:   10,
		RequestTimeoutSeconds: 30,
		MaxConcurrentBrokers:  1,
		LogLevel:              "info",
		LogFormat:             "text",
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("reaper")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("REAPER")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if cfg.AllowlistPath == "" {
		cfg.AllowlistPath = DefaultAllowlistPath()
	}

	return cfg, nil
}

// DefaultAllowlistPath resolves the allowlist file next to the running
// executable, falling back to the working directory if the executable
// path cannot be determined.
func DefaultAllowlistPath() string {
	exe, err := os.Executable()
	if err != nil {
		return AllowlistFileName
	}
	return filepath.Join(filepath.Dir(exe), AllowlistFileName)
}

// GetDataDir returns the platform data directory for audit logs.
func GetDataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "GaleReaper")
	case "darwin":
		return "/Library/Application Support/GaleReaper"
	default:
		return "/var/lib/gale-reaper"
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "GaleReaper")
	case "darwin":
		return "/Library/Application Support/GaleReaper"
	default:
		return "/etc/gale-reaper"
	}
}
