// Package config handles configuration loading, validation, and
// persistence for the Mystic Nights server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"

	DefaultLobbyPort    = 18000
	DefaultGamePort     = 18001
	DefaultGameplayPort = 3658
	DefaultAPIPort      = 5000
)

// Environment overrides applied on top of the config file.
const (
	EnvDatabaseType = "MN_DB_TYPE"
	EnvPostgresDSN  = "MN_PG_DSN"
	EnvSQLiteFile   = "MN_SQLITE_FILE"
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Server      ServerData      `json:"server"`
	Database    DatabaseConfig  `json:"database"`
	Application ApplicationData `json:"application"`
}

// ServerData describes the advertised server and its listen sockets.
type ServerData struct {
	// Name appears in the client's server selection screen.
	Name string `json:"svr_name"`
	// PublicIP must match the address the patched client connects to;
	// the server directory row is seeded from it.
	PublicIP string `json:"svr_public_ip"`
	// BindAddress is the local address the listeners bind. Empty binds
	// the public IP.
	BindAddress string `json:"svr_bind_address"`

	LobbyPort int `json:"svr_lobby_port"`
	GamePort  int `json:"svr_game_port"`
	// GameplayClientPort is the fixed source port the client uses for
	// its in-match connection.
	GameplayClientPort int `json:"svr_gameplay_client_port"`
	APIPort            int `json:"svr_api_port"`

	// LobbyKeepPattern names the substring of lobby names spared by the
	// startup prune of rooms orphaned by a previous run.
	LobbyKeepPattern string `json:"svr_lobby_keep_pattern"`
}

// DatabaseConfig selects and configures the persistence backend.
type DatabaseConfig struct {
	// Type is sqlite, postgres or memory.
	Type       string `json:"type"`
	SQLitePath string `json:"sqlite_path"`
	DSN        string `json:"postgres_dsn"`
}

// ApplicationData contains operational configuration.
type ApplicationData struct {
	Timers  TimerConfig   `json:"timers"`
	MQTT    MQTTConfig    `json:"mqtt"`
	API     APIConfig     `json:"api"`
	Logging LoggingConfig `json:"logging"`
}

// TimerConfig holds liveness and telemetry intervals.
type TimerConfig struct {
	WatcherInterval    int `json:"watcher_interval_sec"`
	IdleThreshold      int `json:"idle_threshold_sec"`
	EchoInterval       int `json:"echo_interval_sec"`
	KeepaliveAttempts  int `json:"keepalive_attempts"`
	ReadyCheckAttempts int `json:"readycheck_attempts"`
	CountdownInterval  int `json:"countdown_interval_sec"`
	HeartbeatInterval  int `json:"heartbeat_interval_sec"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	CAFile    string `json:"ca_file"`
	ClientID  string `json:"client_id"`
}

// APIConfig holds the monitoring API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level"`
	Directory string `json:"directory"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerData{
			Name:               "MYSTIC",
			PublicIP:           "211.233.10.5",
			LobbyPort:          DefaultLobbyPort,
			GamePort:           DefaultGamePort,
			GameplayClientPort: DefaultGameplayPort,
			APIPort:            DefaultAPIPort,
			LobbyKeepPattern:   "Test",
		},
		Database: DatabaseConfig{
			Type:       "sqlite",
			SQLitePath: "data/mnserver.db",
		},
		Application: ApplicationData{
			Timers: TimerConfig{
				WatcherInterval:    1,
				IdleThreshold:      20,
				EchoInterval:       1,
				KeepaliveAttempts:  5,
				ReadyCheckAttempts: 10,
				CountdownInterval:  1,
				HeartbeatInterval:  60,
			},
			MQTT: MQTTConfig{
				Port: 1883,
			},
			API: APIConfig{
				Enabled: true,
			},
			Logging: LoggingConfig{
				Level:     "info",
				Directory: "logs",
			},
		},
	}
}

// Load reads configuration from a JSON file and applies environment
// overrides.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save config to persist any new default fields added in code updates.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays environment variables onto the loaded file. The
// overrides are not saved back.
func (c *Config) applyEnv() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv(EnvDatabaseType); v != "" {
		c.Database.Type = v
	}
	if v := os.Getenv(EnvPostgresDSN); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(EnvSQLiteFile); v != "" {
		c.Database.SQLitePath = v
	}
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetServerData returns a copy of the server configuration.
func (c *Config) GetServerData() ServerData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server
}

// GetDatabase returns a copy of the database configuration.
func (c *Config) GetDatabase() DatabaseConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Database
}

// GetApplicationData returns a copy of the application configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Application
}

// SetServerData updates the server configuration.
func (c *Config) SetServerData(data ServerData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Server = data
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// BindAddr returns the address the listeners bind.
func (c *Config) BindAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Server.BindAddress != "" {
		return c.Server.BindAddress
	}
	return c.Server.PublicIP
}

// IsFirstRun reports whether initial setup has not been completed.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server.PublicIP == ""
}
