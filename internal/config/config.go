// Package config loads dsync settings from an optional config file, DSYNC_*
// environment variables, and built-in defaults, in that order of precedence
// after command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/clientdossiers/dsync/internal/offline/sync"
)

// EnvPrefix is prepended to every environment override, e.g.
// DSYNC_BACKEND_URL for backend.url.
const EnvPrefix = "DSYNC"

// Keys understood by Load.
const (
	KeyDBPath          = "db_path"
	KeyBackendURL      = "backend.url"
	KeyBackendToken    = "backend.token"
	KeyPollInterval    = "sync.poll_interval"
	KeyPolicy          = "sync.policy"
	KeyCallTimeout     = "sync.call_timeout"
	KeyStateFile       = "connectivity.state_file"
	KeyDashboardPort   = "dashboard.port"
	KeyLogFile         = "log.file"
	KeyLogMaxSizeMB    = "log.max_size_mb"
	KeyLogMaxBackups   = "log.max_backups"
	KeyBackendListen   = "backend.listen"
	KeyBackendTokens   = "backend.tokens"
	defaultDBPath      = "~/.dsync/outbox.db"
	defaultStateFile   = "~/.dsync/connectivity"
	defaultBackendAddr = "127.0.0.1:8700"
)

// Config is the resolved configuration.
type Config struct {
	DBPath string

	BackendURL   string
	BackendToken string

	PollInterval time.Duration
	Policy       sync.Policy
	CallTimeout  time.Duration

	StateFile     string
	DashboardPort int

	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int

	// Development backend (dsync backend serve).
	BackendListen string
	BackendTokens map[string]string
}

// New returns a viper instance with defaults and environment binding set
// up. Callers may bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault(KeyDBPath, defaultDBPath)
	v.SetDefault(KeyBackendURL, "")
	v.SetDefault(KeyBackendToken, "")
	v.SetDefault(KeyPollInterval, 5*time.Second)
	v.SetDefault(KeyPolicy, "continue")
	v.SetDefault(KeyCallTimeout, time.Duration(0))
	v.SetDefault(KeyStateFile, defaultStateFile)
	v.SetDefault(KeyDashboardPort, 8080)
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyLogMaxSizeMB, 10)
	v.SetDefault(KeyLogMaxBackups, 3)
	v.SetDefault(KeyBackendListen, defaultBackendAddr)
	v.SetDefault(KeyBackendTokens, map[string]string{})

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads path (if non-empty) into v and resolves the result. Without an
// explicit path it looks for config.{yaml,toml,json} in ~/.dsync and
// silently carries on if there is none.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".dsync"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	policy, err := sync.ParsePolicy(v.GetString(KeyPolicy))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyPolicy, err)
	}

	cfg := &Config{
		BackendURL:    v.GetString(KeyBackendURL),
		BackendToken:  v.GetString(KeyBackendToken),
		PollInterval:  v.GetDuration(KeyPollInterval),
		Policy:        policy,
		CallTimeout:   v.GetDuration(KeyCallTimeout),
		DashboardPort: v.GetInt(KeyDashboardPort),
		LogMaxSizeMB:  v.GetInt(KeyLogMaxSizeMB),
		LogMaxBackups: v.GetInt(KeyLogMaxBackups),
		BackendListen: v.GetString(KeyBackendListen),
		BackendTokens: v.GetStringMapString(KeyBackendTokens),
	}

	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("invalid %s: must be positive, got %v", KeyPollInterval, cfg.PollInterval)
	}
	if cfg.DashboardPort < 0 || cfg.DashboardPort > 65535 {
		return nil, fmt.Errorf("invalid %s: %d", KeyDashboardPort, cfg.DashboardPort)
	}

	if cfg.DBPath, err = ExpandHome(v.GetString(KeyDBPath)); err != nil {
		return nil, err
	}
	if cfg.StateFile, err = ExpandHome(v.GetString(KeyStateFile)); err != nil {
		return nil, err
	}
	if cfg.LogFile, err = ExpandHome(v.GetString(KeyLogFile)); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
