package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mysticnights/mnserver/internal/util"
)

// RunSetupWizard guides the user through first-time configuration.
func RunSetupWizard(cfg *Config) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("╔══════════════════════════════════════════════╗")
	fmt.Println("║      Mystic Nights Server - First Run        ║")
	fmt.Println("╠══════════════════════════════════════════════╣")
	fmt.Println("║  Welcome! Let's configure your server.       ║")
	fmt.Println("╚══════════════════════════════════════════════╝")
	fmt.Println()

	fmt.Println("── Server Identity ──")

	cfg.Server.Name = promptString(reader, "Server name (max 12 chars, shown in-game)", cfg.Server.Name)

	publicIP := cfg.Server.PublicIP
	if publicIP == "" {
		if detected, err := util.GetPublicIP(); err == nil {
			publicIP = detected
		}
	}
	cfg.Server.PublicIP = promptString(reader,
		"Public IP (must match the address patched into the client)", publicIP)

	bindAddr := cfg.Server.BindAddress
	if bindAddr == "" {
		if detected, err := util.GetLocalIP(); err == nil {
			bindAddr = detected
		}
	}
	cfg.Server.BindAddress = promptString(reader,
		"Bind address (leave blank to bind the public IP)", bindAddr)

	fmt.Println()
	fmt.Println("── Network Ports ──")

	cfg.Server.LobbyPort = promptInt(reader, "Lobby port", cfg.Server.LobbyPort)
	cfg.Server.GamePort = promptInt(reader, "Game port", cfg.Server.GamePort)
	cfg.Server.APIPort = promptInt(reader, "Monitoring API port", cfg.Server.APIPort)

	fmt.Println()
	fmt.Println("── Database ──")

	cfg.Database.Type = promptString(reader, "Backend (sqlite/postgres/memory)", cfg.Database.Type)
	switch cfg.Database.Type {
	case "sqlite":
		cfg.Database.SQLitePath = promptString(reader, "SQLite file path", cfg.Database.SQLitePath)
	case "postgres":
		cfg.Database.DSN = promptString(reader, "Postgres DSN", cfg.Database.DSN)
	}

	fmt.Println()
	fmt.Println("── MQTT Telemetry ──")

	cfg.Application.MQTT.Enabled = promptBool(reader, "Enable MQTT telemetry", cfg.Application.MQTT.Enabled)
	if cfg.Application.MQTT.Enabled {
		cfg.Application.MQTT.BrokerURL = promptString(reader, "MQTT broker URL", cfg.Application.MQTT.BrokerURL)
		cfg.Application.MQTT.Port = promptInt(reader, "MQTT broker port", cfg.Application.MQTT.Port)
	}

	// Validate before saving
	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Println("\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Printf("  - [%s] %s\n", e.Field, e.Message)
		}
		retry := promptString(reader, "Would you like to try again? (yes/no)", "yes")
		if strings.ToLower(retry) == "yes" {
			return RunSetupWizard(cfg)
		}
		return fmt.Errorf("configuration validation failed")
	}

	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}

	// Save configuration
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Println()
	fmt.Println("✓ Configuration saved successfully!")
	fmt.Println("  The server will now start with your configuration.")
	fmt.Println()

	return nil
}

func promptString(reader *bufio.Reader, prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Printf("  %s: ", prompt)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func promptInt(reader *bufio.Reader, prompt string, defaultVal int) int {
	fmt.Printf("  %s [%d]: ", prompt, defaultVal)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Printf("    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptBool(reader *bufio.Reader, prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Printf("  %s [%s]: ", prompt, defaultStr)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}
