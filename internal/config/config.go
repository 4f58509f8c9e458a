package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Client ClientConfig `yaml:"client"`
	Paths  PathsConfig  `yaml:"paths"`
	Engine EngineConfig `yaml:"engine"`
	OAuth  OAuthConfig  `yaml:"oauth"`
	Update UpdateConfig `yaml:"update"`
	IPC    IPCConfig    `yaml:"ipc"`
	Log    LogConfig    `yaml:"log"`
}

// ClientConfig identifies this client to the servers it authorizes against
type ClientConfig struct {
	ID          string `yaml:"id"`           // OAuth client ID registered with eduVPN servers
	DisplayName string `yaml:"display_name"` // Name sent when requesting certificates
}

// PathsConfig defines where persistent state lives
type PathsConfig struct {
	StateFile      string `yaml:"state_file"`      // Bolt database holding tokens and settings
	CertificateDir string `yaml:"certificate_dir"` // Directory for issued client certificates
}

// EngineConfig defines how to reach the provisioning engine
type EngineConfig struct {
	Socket string `yaml:"socket"` // Unix socket path of the engine daemon
}

// OAuthConfig defines authorization flow settings
type OAuthConfig struct {
	ListenAddress string `yaml:"listen_address"` // Loopback address for the redirect listener
}

// UpdateConfig defines self-update checking
type UpdateConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DiscoveryURL string `yaml:"discovery_url"` // Release metadata endpoint
}

// IPCConfig defines the single-instance control socket
type IPCConfig struct {
	Socket string `yaml:"socket"`
}

// LogConfig defines logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides
	cfg.ApplyEnvOverrides()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Client: ClientConfig{
			ID:          "org.eduvpn.app.linux",
			DisplayName: "eduVPN client",
		},
		Paths: PathsConfig{
			StateFile:      filepath.Join(dataDir, "state.db"),
			CertificateDir: filepath.Join(dataDir, "certificates"),
		},
		Engine: EngineConfig{
			Socket: filepath.Join(dataDir, "engine.sock"),
		},
		OAuth: OAuthConfig{
			ListenAddress: "127.0.0.1:0",
		},
		Update: UpdateConfig{
			Enabled:      true,
			DiscoveryURL: "https://disco.eduvpn.org/v2/release.json",
		},
		IPC: IPCConfig{
			Socket: filepath.Join(dataDir, "control.sock"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// defaultDataDir places state under the user config directory, falling
// back to the working directory when the environment does not define one.
func defaultDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return "eduvpn-client"
	}
	return filepath.Join(base, "eduvpn-client")
}

// ApplyEnvOverrides applies environment variable overrides
func (c *Config) ApplyEnvOverrides() {
	// Client overrides
	if v := os.Getenv("EDUVPN_CLIENT_ID"); v != "" {
		c.Client.ID = v
	}
	if v := os.Getenv("EDUVPN_CLIENT_DISPLAY_NAME"); v != "" {
		c.Client.DisplayName = v
	}

	// Path overrides
	if v := os.Getenv("EDUVPN_STATE_FILE"); v != "" {
		c.Paths.StateFile = v
	}
	if v := os.Getenv("EDUVPN_CERTIFICATE_DIR"); v != "" {
		c.Paths.CertificateDir = v
	}

	// Engine overrides
	if v := os.Getenv("EDUVPN_ENGINE_SOCKET"); v != "" {
		c.Engine.Socket = v
	}

	// Update overrides
	if v := os.Getenv("EDUVPN_UPDATE_URL"); v != "" {
		c.Update.DiscoveryURL = v
	}

	// Log overrides
	if v := os.Getenv("EDUVPN_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("EDUVPN_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Validate client config
	if c.Client.ID == "" {
		return fmt.Errorf("client.id is required")
	}
	if c.Client.DisplayName == "" {
		return fmt.Errorf("client.display_name is required")
	}

	// Validate paths
	if c.Paths.StateFile == "" {
		return fmt.Errorf("paths.state_file is required")
	}
	if c.Paths.CertificateDir == "" {
		return fmt.Errorf("paths.certificate_dir is required")
	}

	// Validate engine config
	if c.Engine.Socket == "" {
		return fmt.Errorf("engine.socket is required")
	}

	// Validate OAuth config
	if c.OAuth.ListenAddress == "" {
		return fmt.Errorf("oauth.listen_address is required")
	}
	if !strings.HasPrefix(c.OAuth.ListenAddress, "127.0.0.1:") &&
		!strings.HasPrefix(c.OAuth.ListenAddress, "localhost:") {
		return fmt.Errorf("oauth.listen_address must be a loopback address")
	}

	// Validate update config
	if c.Update.Enabled {
		if c.Update.DiscoveryURL == "" {
			return fmt.Errorf("update.discovery_url is required when updates are enabled")
		}
		if !strings.HasPrefix(c.Update.DiscoveryURL, "https://") {
			return fmt.Errorf("update.discovery_url must be an HTTPS URL")
		}
	}

	// Validate IPC config
	if c.IPC.Socket == "" {
		return fmt.Errorf("ipc.socket is required")
	}

	// Validate log config
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: json, text")
	}

	return nil
}

// SetupLogging configures the global slog logger based on the LogConfig.
func SetupLogging(cfg *LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}
