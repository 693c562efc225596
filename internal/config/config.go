package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Device kinds
const (
	DeviceEmulator = "emulator"
	DeviceBridge   = "bridge"
)

// Config holds the application configuration
type Config struct {
	Port           int
	CatalogURL     string        // Base URL or directory holding apps.json, defaultapps.json and appdates.csv
	Device         string        // "emulator" or "bridge"
	BridgeURL      string        // Base URL of the device bridge
	DeviceTimeout  time.Duration // Per-request timeout for bridge calls
	Pretokenise    bool          // Initial value of the pretokenise upload setting
	AllowedOrigins []string
	CatalogRefresh time.Duration // Periodic catalog refetch; zero disables
	WatchCatalog   bool          // Refetch when a local catalog directory changes
	LockFile       string        // Held while serving so one process drives the device
	LogLevel       slog.Level
}

// fileConfig is the optional YAML or TOML overlay. Unset fields keep
// their defaults.
type fileConfig struct {
	Port           *int     `yaml:"port" toml:"port"`
	CatalogURL     *string  `yaml:"catalog_url" toml:"catalog_url"`
	Device         *string  `yaml:"device" toml:"device"`
	BridgeURL      *string  `yaml:"bridge_url" toml:"bridge_url"`
	DeviceTimeout  *string  `yaml:"device_timeout" toml:"device_timeout"`
	Pretokenise    *bool    `yaml:"pretokenise" toml:"pretokenise"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
	CatalogRefresh *string  `yaml:"catalog_refresh" toml:"catalog_refresh"`
	WatchCatalog   *bool    `yaml:"watch_catalog" toml:"watch_catalog"`
	LockFile       *string  `yaml:"lock_file" toml:"lock_file"`
	LogLevel       *string  `yaml:"log_level" toml:"log_level"`
}

// Defaults returns the configuration used when nothing is set
func Defaults() *Config {
	return &Config{
		Port:           8080,
		CatalogURL:     "https://banglejs.com/apps",
		Device:         DeviceEmulator,
		BridgeURL:      "http://localhost:8081",
		DeviceTimeout:  30 * time.Second,
		Pretokenise:    true,
		AllowedOrigins: []string{"*"},
		WatchCatalog:   true,
		LockFile:       filepath.Join(os.TempDir(), "apploader.lock"),
		LogLevel:       slog.LevelInfo,
	}
}

// Load reads configuration from the environment with sensible defaults
func Load() *Config {
	return LoadWithLogger(slog.Default())
}

// LoadWithLogger is like Load but allows specifying a logger.
// Precedence, lowest first: defaults, the APPLOADER_CONFIG file, a .env
// file, then the process environment.
func LoadWithLogger(logger *slog.Logger) *Config {
	envFile := getEnv("APPLOADER_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("failed to load env file", "path", envFile, "error", err)
	}

	cfg := Defaults()

	if path := os.Getenv("APPLOADER_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			logger.Warn("failed to load config file, using defaults", "path", path, "error", err)
		} else {
			logger.Info("loaded config file", "path", path)
		}
	}

	cfg.Port = getEnvAsInt("APPLOADER_PORT", cfg.Port)
	cfg.CatalogURL = getEnv("APPLOADER_CATALOG_URL", cfg.CatalogURL)
	cfg.Device = getEnv("APPLOADER_DEVICE", cfg.Device)
	cfg.BridgeURL = getEnv("APPLOADER_BRIDGE_URL", cfg.BridgeURL)
	cfg.DeviceTimeout = getEnvAsDuration("APPLOADER_DEVICE_TIMEOUT", cfg.DeviceTimeout)
	cfg.Pretokenise = getEnvAsBool("APPLOADER_PRETOKENISE", cfg.Pretokenise)
	cfg.AllowedOrigins = getEnvAsList("APPLOADER_ALLOWED_ORIGINS", cfg.AllowedOrigins)
	cfg.CatalogRefresh = getEnvAsDuration("APPLOADER_CATALOG_REFRESH", cfg.CatalogRefresh)
	cfg.WatchCatalog = getEnvAsBool("APPLOADER_WATCH_CATALOG", cfg.WatchCatalog)
	cfg.LockFile = getEnv("APPLOADER_LOCK_FILE", cfg.LockFile)
	cfg.LogLevel = getEnvAsLevel("APPLOADER_LOG_LEVEL", cfg.LogLevel)

	return cfg
}

// Validate checks the values Load cannot default away
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.Device {
	case DeviceEmulator:
	case DeviceBridge:
		if c.BridgeURL == "" {
			return fmt.Errorf("bridge device requires APPLOADER_BRIDGE_URL")
		}
	default:
		return fmt.Errorf("unknown device %q (want %s or %s)", c.Device, DeviceEmulator, DeviceBridge)
	}
	if c.CatalogURL == "" {
		return fmt.Errorf("APPLOADER_CATALOG_URL is required")
	}
	if c.CatalogRefresh < 0 {
		return fmt.Errorf("invalid catalog refresh interval %s", c.CatalogRefresh)
	}
	return nil
}

// applyFile overlays a YAML or TOML file, picked by extension
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &fc)
	case ".yaml", ".yml", "":
		err = yaml.Unmarshal(data, &fc)
	default:
		return fmt.Errorf("unsupported config format %s", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return c.overlay(fc)
}

func (c *Config) overlay(fc fileConfig) error {
	if fc.Port != nil {
		c.Port = *fc.Port
	}
	if fc.CatalogURL != nil {
		c.CatalogURL = *fc.CatalogURL
	}
	if fc.Device != nil {
		c.Device = *fc.Device
	}
	if fc.BridgeURL != nil {
		c.BridgeURL = *fc.BridgeURL
	}
	if fc.DeviceTimeout != nil {
		d, err := time.ParseDuration(*fc.DeviceTimeout)
		if err != nil {
			return fmt.Errorf("device_timeout: %w", err)
		}
		c.DeviceTimeout = d
	}
	if fc.Pretokenise != nil {
		c.Pretokenise = *fc.Pretokenise
	}
	if fc.AllowedOrigins != nil {
		c.AllowedOrigins = fc.AllowedOrigins
	}
	if fc.CatalogRefresh != nil {
		d, err := time.ParseDuration(*fc.CatalogRefresh)
		if err != nil {
			return fmt.Errorf("catalog_refresh: %w", err)
		}
		c.CatalogRefresh = d
	}
	if fc.WatchCatalog != nil {
		c.WatchCatalog = *fc.WatchCatalog
	}
	if fc.LockFile != nil {
		c.LockFile = *fc.LockFile
	}
	if fc.LogLevel != nil {
		var level slog.Level
		if err := level.UnmarshalText([]byte(*fc.LogLevel)); err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
		c.LogLevel = level
	}
	return nil
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList reads a comma-separated list
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvAsLevel(key string, defaultValue slog.Level) slog.Level {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(valueStr)); err != nil {
		return defaultValue
	}
	return level
}
