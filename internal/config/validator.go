package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateServerData(&cfg.Server, result)
	validateDatabase(&cfg.Database, result)
	validateApplicationData(&cfg.Application, result)

	return result
}

func validateServerData(data *ServerData, result *ValidationResult) {
	// Required fields
	if strings.TrimSpace(data.Name) == "" {
		result.AddError("server.svr_name", "server name is required")
	} else if len(data.Name) > 12 {
		result.AddError("server.svr_name",
			"server name longer than 12 bytes will not fit the client's list row")
	}

	if strings.TrimSpace(data.PublicIP) == "" {
		result.AddError("server.svr_public_ip", "public IP is required")
	} else if net.ParseIP(data.PublicIP) == nil {
		result.AddError("server.svr_public_ip",
			fmt.Sprintf("not a valid IP address: %s", data.PublicIP))
	}

	if data.BindAddress != "" && net.ParseIP(data.BindAddress) == nil {
		result.AddError("server.svr_bind_address",
			fmt.Sprintf("not a valid IP address: %s", data.BindAddress))
	}

	// Port validation
	validatePort(data.LobbyPort, "server.svr_lobby_port", result)
	validatePort(data.GamePort, "server.svr_game_port", result)
	validatePort(data.GameplayClientPort, "server.svr_gameplay_client_port", result)
	validatePort(data.APIPort, "server.svr_api_port", result)

	// Port conflict detection
	ports := map[int]string{
		data.LobbyPort: "lobby",
		data.GamePort:  "game",
		data.APIPort:   "api",
	}
	if len(ports) < 3 {
		result.AddError("server.ports", "port conflict detected: listen ports must be unique")
	}
}

func validateDatabase(data *DatabaseConfig, result *ValidationResult) {
	switch data.Type {
	case "sqlite":
		if strings.TrimSpace(data.SQLitePath) == "" {
			result.AddError("database.sqlite_path", "sqlite path is required for the sqlite backend")
		}
	case "postgres":
		if strings.TrimSpace(data.DSN) == "" {
			result.AddError("database.postgres_dsn", "DSN is required for the postgres backend")
		}
	case "memory":
		result.AddWarning("database.type", "memory backend does not persist accounts across restarts")
	default:
		result.AddError("database.type",
			fmt.Sprintf("unknown backend %q (expected sqlite, postgres or memory)", data.Type))
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	// Timer validation
	validateTimers(&data.Timers, result)

	// MQTT
	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application.mqtt.port", "invalid MQTT port")
		}
		if data.MQTT.UseTLS {
			if strings.TrimSpace(data.MQTT.CertFile) == "" {
				result.AddError("application.mqtt.cert_file",
					"certificate file is required when TLS is enabled")
			}
			if strings.TrimSpace(data.MQTT.KeyFile) == "" {
				result.AddError("application.mqtt.key_file",
					"key file is required when TLS is enabled")
			}
		}
	}
}

func validateTimers(timers *TimerConfig, result *ValidationResult) {
	if timers.WatcherInterval < 1 {
		result.AddError("timers.watcher_interval_sec", "watcher interval must be at least 1 second")
	}
	if timers.IdleThreshold < 5 {
		result.AddWarning("timers.idle_threshold_sec",
			"idle threshold under 5s will probe players during normal menu navigation")
	}
	if timers.KeepaliveAttempts < 1 {
		result.AddError("timers.keepalive_attempts", "must allow at least 1 keepalive attempt")
	}
	if timers.ReadyCheckAttempts < 1 {
		result.AddError("timers.readycheck_attempts", "must allow at least 1 ready check attempt")
	}
	if timers.HeartbeatInterval < 10 {
		result.AddWarning("timers.heartbeat_interval_sec",
			"heartbeat interval less than 10s may cause excessive traffic")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
