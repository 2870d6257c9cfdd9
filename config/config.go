package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// Config holds all configuration for the application
type Config struct {
	// WhatsApp configuration
	WhatsApp WhatsAppConfig `json:"whatsapp"`

	// Role catalog configuration
	Catalog CatalogConfig `json:"catalog"`

	// Game configuration
	Game GameConfig `json:"game"`

	// Server configuration
	Server ServerConfig `json:"server"`
}

// WhatsAppConfig holds WhatsApp specific configuration
type WhatsAppConfig struct {
	// Connect the narrator bot on startup
	Enabled bool `json:"enabled" env:"GRIMOIRE_WHATSAPP_ENABLED"`

	// Path to store WhatsApp session data
	StoreDir string `json:"store_dir" env:"GRIMOIRE_WHATSAPP_STORE_DIR"`

	// Client device name
	ClientName string `json:"client_name" env:"GRIMOIRE_WHATSAPP_CLIENT_NAME"`

	// Only this number may issue narrator commands
	NarratorPhone string `json:"narrator_phone" env:"GRIMOIRE_WHATSAPP_NARRATOR_PHONE"`
}

// CatalogConfig selects the roles played
type CatalogConfig struct {
	// Roles YAML file; empty uses the built-in script
	RolesPath string `json:"roles_path" env:"GRIMOIRE_CATALOG_ROLES_PATH"`

	// Script name shown to the narrator
	Script string `json:"script" env:"GRIMOIRE_CATALOG_SCRIPT"`
}

// GameConfig holds game specific configuration
type GameConfig struct {
	// Where the session snapshot is written after every commit
	StatePath string `json:"state_path" env:"GRIMOIRE_GAME_STATE_PATH"`

	// Winner when both sides win in the same transition (good or evil)
	WinTieBreak string `json:"win_tie_break" env:"GRIMOIRE_GAME_WIN_TIE_BREAK"`

	// Minimum players needed to seat a game
	MinPlayers int `json:"min_players" env:"GRIMOIRE_GAME_MIN_PLAYERS"`
}

// ServerConfig holds server specific configuration
type ServerConfig struct {
	// Server port
	Port string `json:"port" env:"GRIMOIRE_SERVER_PORT"`

	// Log level (debug, info, warn, error)
	LogLevel string `json:"log_level" env:"GRIMOIRE_SERVER_LOG_LEVEL"`

	// Path the Prometheus handler is mounted on
	MetricsPath string `json:"metrics_path" env:"GRIMOIRE_SERVER_METRICS_PATH"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		WhatsApp: WhatsAppConfig{
			Enabled:    false,
			StoreDir:   "./whatsapp-store",
			ClientName: "GRIMOIRE",
		},
		Catalog: CatalogConfig{
			Script: "Trouble Brewing",
		},
		Game: GameConfig{
			StatePath:   "./data/game_state.json",
			WinTieBreak: "good",
			MinPlayers:  5,
		},
		Server: ServerConfig{
			Port:        "8080",
			LogLevel:    "info",
			MetricsPath: "/metrics",
		},
	}
}

// LoadConfig loads configuration from a file, creating it with defaults
// when missing, then applies environment overrides
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return config, err
	}

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := SaveConfig(config, path); err != nil {
			return config, err
		}
		return config, ApplyEnv(&config)
	}

	// Read config file
	file, err := os.Open(path)
	if err != nil {
		return config, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&config); err != nil {
		return config, err
	}

	return config, ApplyEnv(&config)
}

// ApplyEnv overlays GRIMOIRE_* environment variables on the config.
// Unset variables leave the current values alone.
func ApplyEnv(config *Config) error {
	if err := env.Parse(config); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// SaveConfig saves configuration to a file
func SaveConfig(config Config, path string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// Create or truncate file
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	// Write config to file
	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(config); err != nil {
		return err
	}

	return nil
}
