// Package config provides configuration management for hookmill.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

const (
	// DefaultWorkerPort is the default HTTP port for the worker service.
	DefaultWorkerPort = 38711

	// DefaultMatchWindowSeconds bounds the resolver's fuzzy-match
	// strategy. Heuristic, not a law: raise it for slow-spawning agents,
	// lower it when many same-typed agents run concurrently.
	DefaultMatchWindowSeconds = 10

	// DefaultContextTTLHours is how long an unconsumed spawn context
	// survives before the janitor prunes it.
	DefaultContextTTLHours = 24

	// StateDirName is the project-local state directory.
	StateDirName = ".hookmill"
)

// Config holds the application configuration.
type Config struct {
	// Worker settings
	WorkerPort int `json:"worker_port"`

	// Database settings
	DBPath   string `json:"db_path"`
	MaxConns int    `json:"max_conns"`

	// Resolver settings
	MatchWindowSeconds int `json:"match_window_seconds"`

	// Spawn context janitor settings
	ContextTTLHours int `json:"context_ttl_hours"`

	// Context injection settings
	RecentAttributions int `json:"recent_attributions"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// DataDir returns the data directory path (~/.hookmill).
func DataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".hookmill")
}

// DBPath returns the attribution history database path.
func DBPath() string {
	return filepath.Join(DataDir(), "hookmill.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// StateDir returns the project-local state directory for cwd, where spawn
// contexts are persisted. The env override exists for tests and sandboxed
// hosts that cannot write inside the project.
func StateDir(cwd string) string {
	if dir := os.Getenv("HOOKMILL_STATE_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(cwd, StateDirName)
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0o750)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		WorkerPort:         DefaultWorkerPort,
		DBPath:             DBPath(),
		MaxConns:           4,
		MatchWindowSeconds: DefaultMatchWindowSeconds,
		ContextTTLHours:    DefaultContextTTLHours,
		RecentAttributions: 10,
	}
}

// Load loads configuration from the settings file, merging with defaults.
// A missing or unparseable settings file yields the defaults.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	var settings map[string]interface{}
	if err := json.Unmarshal(data, &settings); err != nil {
		applyEnv(cfg)
		return cfg, nil
	}

	if v, ok := settings["HOOKMILL_WORKER_PORT"].(float64); ok && v > 0 {
		cfg.WorkerPort = int(v)
	}
	if v, ok := settings["HOOKMILL_DB_PATH"].(string); ok && v != "" {
		cfg.DBPath = v
	}
	if v, ok := settings["HOOKMILL_MAX_CONNS"].(float64); ok && v > 0 {
		cfg.MaxConns = int(v)
	}
	if v, ok := settings["HOOKMILL_MATCH_WINDOW_SECONDS"].(float64); ok && v > 0 {
		cfg.MatchWindowSeconds = int(v)
	}
	if v, ok := settings["HOOKMILL_CONTEXT_TTL_HOURS"].(float64); ok && v > 0 {
		cfg.ContextTTLHours = int(v)
	}
	if v, ok := settings["HOOKMILL_RECENT_ATTRIBUTIONS"].(float64); ok && v > 0 {
		cfg.RecentAttributions = int(v)
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv lets environment variables override file settings, since hooks
// run in whatever environment the host hands them.
func applyEnv(cfg *Config) {
	if v := envInt("HOOKMILL_WORKER_PORT"); v > 0 {
		cfg.WorkerPort = v
	}
	if v := envInt("HOOKMILL_MATCH_WINDOW_SECONDS"); v > 0 {
		cfg.MatchWindowSeconds = v
	}
	if v := envInt("HOOKMILL_CONTEXT_TTL_HOURS"); v > 0 {
		cfg.ContextTTLHours = v
	}
	if v := os.Getenv("HOOKMILL_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
}

func envInt(key string) int {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return v
}

// MatchWindow returns the fuzzy-match window as a duration.
func (c *Config) MatchWindow() time.Duration {
	return time.Duration(c.MatchWindowSeconds) * time.Second
}

// ContextTTL returns the spawn context time-to-live as a duration.
func (c *Config) ContextTTL() time.Duration {
	return time.Duration(c.ContextTTLHours) * time.Hour
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	configOnce.Do(func() {
		var err error
		globalConfig, err = Load()
		if err != nil {
			globalConfig = Default()
		}
	})

	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// GetWorkerPort returns the worker port from environment or config.
func GetWorkerPort() int {
	if v := envInt("HOOKMILL_WORKER_PORT"); v > 0 {
		return v
	}
	return Get().WorkerPort
}
