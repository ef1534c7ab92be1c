package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/virtual-prefs/vprefs"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. VPREFS_PREFS_SYNCINTERVAL.
const EnvPrefix = "VPREFS"

// Config stores all configuration of the preference store.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Prefs PrefsConfig `mapstructure:"prefs"`
}

// PrefsConfig describes where the user and system trees live and how often
// they are flushed in the background.
type PrefsConfig struct {
	UserRoot           string        `mapstructure:"userRoot"`
	SystemRoot         string        `mapstructure:"systemRoot"`
	SystemRootFallback string        `mapstructure:"systemRootFallback"`
	DataFileName       string        `mapstructure:"dataFileName"`
	SyncInterval       time.Duration `mapstructure:"syncInterval"`
	// Owner suffixes the user root's modification file; empty means the current OS user.
	Owner string `mapstructure:"owner"`
}

var (
	ErrEmptyDataFileName   = errors.New("data file name cannot be empty")
	ErrInvalidDataFileName = errors.New("data file name must not contain path separators")
	ErrInvalidSyncInterval = errors.New("sync interval must be positive")
)

// LoadConfig reads configuration from file or environment variables.
// An explicit configPath must exist; without one, a missing config file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(internal.DefaultConfigPath)
		v.AddConfigPath(filepath.Join("/etc", internal.DefaultAppName))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetDefault("prefs.userRoot", internal.DefaultUserRootDir)
	v.SetDefault("prefs.systemRoot", internal.DefaultSystemRootDir)
	v.SetDefault("prefs.systemRootFallback", internal.DefaultSystemRootFallbackDir)
	v.SetDefault("prefs.dataFileName", internal.DefaultDataFileName)
	v.SetDefault("prefs.syncInterval", time.Duration(internal.DefaultSyncIntervalSeconds)*time.Second)
	v.SetDefault("prefs.owner", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // prefs.syncInterval -> VPREFS_PREFS_SYNCINTERVAL
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks the values that the store cannot work around.
func (c *Config) Validate() error {
	name := strings.TrimSpace(c.Prefs.DataFileName)
	if name == "" {
		return ErrEmptyDataFileName
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return ErrInvalidDataFileName
	}
	if c.Prefs.SyncInterval <= 0 {
		return ErrInvalidSyncInterval
	}
	return nil
}
