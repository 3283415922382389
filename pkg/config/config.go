// Package config provides configuration management for foreman with embedded defaults.
package config

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

//go:embed defaults/config
var defaultsFS embed.FS

// Config holds all configuration settings for foreman.
type Config struct {
	GameCommand string `json:"game_command"`
	GameArgs    string `json:"game_args"`
	WriteDir    string `json:"write_dir"`
	Changelog   string `json:"changelog"`
	Save        string `json:"save"`

	PasswordLength int  `json:"password_length"`
	RconEnabled    bool `json:"rcon_enabled"`
	RconEnabledSet bool `json:"-"` // tracks if rcon_enabled was explicitly set in config

	ConsoleLog string   `json:"console_log"`
	NotifyURLs []string `json:"notify_urls"`

	// output colors (RGB values as comma-separated strings)
	Colors ColorConfig `json:"-"`

	configDir string // private, set by Load()
}

// ColorConfig holds RGB values for output colors.
// each field stores comma-separated RGB values (e.g., "255,0,0" for red).
type ColorConfig struct {
	Info      string // engine info lines
	Warning   string // warnings
	Error     string // errors
	Script    string // script (mod) output
	Action    string // join/leave/kick/ban/command lines
	Chat      string // player chat
	State     string // lifecycle transitions
	Timestamp string // timestamp prefix
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default location (~/.config/foreman/).
// It installs defaults if needed and fills missing colors from them.
func Load(configDir string) (*Config, error) {
	c := &Config{}
	c.configDir = configDir
	if configDir == "" {
		c.configDir = DefaultConfigDir()
	}

	if err := c.installDefaults(); err != nil {
		return nil, fmt.Errorf("install defaults: %w", err)
	}

	if err := c.loadConfigFile(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := c.loadColorsWithFallback(); err != nil {
		return nil, fmt.Errorf("load colors fallback: %w", err)
	}

	return c, nil
}

// DefaultConfigDir returns the default configuration directory path,
// ~/.config/foreman/ on all platforms.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "foreman")
	}
	return filepath.Join(home, ".config", "foreman")
}

// installDefaults creates the config directory and installs the default config
// file on first run.
func (c *Config) installDefaults() error {
	configPath := filepath.Join(c.configDir, "config")

	_, statErr := os.Stat(configPath)
	if statErr == nil {
		return nil // already installed
	}
	if !os.IsNotExist(statErr) {
		return fmt.Errorf("check config file: %w", statErr)
	}

	if err := os.MkdirAll(c.configDir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := defaultsFS.ReadFile("defaults/config")
	if err != nil {
		return fmt.Errorf("read embedded config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// loadConfigFile parses the user config, falling back to embedded defaults
// when no user config exists.
func (c *Config) loadConfigFile() error {
	configPath := filepath.Join(c.configDir, "config")

	data, err := os.ReadFile(configPath) //nolint:gosec // path is constructed internally
	if err != nil {
		if os.IsNotExist(err) {
			data, err = defaultsFS.ReadFile("defaults/config")
			if err != nil {
				return fmt.Errorf("read embedded defaults: %w", err)
			}
			return c.parseConfigBytes(data)
		}
		return fmt.Errorf("read config: %w", err)
	}

	return c.parseConfigBytes(data)
}

// parseConfigBytes parses configuration from a byte slice into c.
func (c *Config) parseConfigBytes(data []byte) error {
	// ignoreInlineComment is needed to allow # in values (e.g., color_info = #c8c8c8)
	cfg, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, data)
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	section := cfg.Section("") // default section (no section header)

	if key, err := section.GetKey("game_command"); err == nil {
		c.GameCommand = key.String()
	}
	if key, err := section.GetKey("game_args"); err == nil {
		c.GameArgs = key.String()
	}
	if key, err := section.GetKey("write_dir"); err == nil {
		c.WriteDir = key.String()
	}
	if key, err := section.GetKey("changelog"); err == nil {
		c.Changelog = key.String()
	}
	if key, err := section.GetKey("save"); err == nil {
		c.Save = key.String()
	}

	if key, err := section.GetKey("password_length"); err == nil {
		val, err := key.Int()
		if err != nil {
			return fmt.Errorf("invalid password_length: %w", err)
		}
		if val <= 0 {
			return fmt.Errorf("invalid password_length: must be positive, got %d", val)
		}
		c.PasswordLength = val
	}

	if key, err := section.GetKey("rcon_enabled"); err == nil {
		val, boolErr := key.Bool()
		if boolErr != nil {
			return fmt.Errorf("invalid rcon_enabled: %w", boolErr)
		}
		c.RconEnabled = val
		c.RconEnabledSet = true
	}

	if key, err := section.GetKey("console_log"); err == nil {
		c.ConsoleLog = key.String()
	}

	if key, err := section.GetKey("notify_urls"); err == nil {
		for _, u := range strings.Split(key.String(), ",") {
			if u = strings.TrimSpace(u); u != "" {
				c.NotifyURLs = append(c.NotifyURLs, u)
			}
		}
	}

	return c.parseColors(section)
}

// parseColors parses color configuration from the INI section.
// each color_* key is expected to have a hex value (e.g., #ff0000).
// the parsed colors are stored as comma-separated RGB values (e.g., "255,0,0").
func (c *Config) parseColors(section *ini.Section) error {
	for _, ck := range c.colorKeys() {
		key, err := section.GetKey(ck.key)
		if err != nil {
			continue
		}
		hex := strings.TrimSpace(key.String())
		if hex == "" {
			return fmt.Errorf("invalid %s: empty value", ck.key)
		}
		r, g, b, err := parseHexColor(hex)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", ck.key, err)
		}
		*ck.field = fmt.Sprintf("%d,%d,%d", r, g, b)
	}
	return nil
}

// colorKeys maps INI color keys to their ColorConfig fields.
func (c *Config) colorKeys() []struct {
	key   string
	field *string
} {
	return []struct {
		key   string
		field *string
	}{
		{"color_info", &c.Colors.Info},
		{"color_warning", &c.Colors.Warning},
		{"color_error", &c.Colors.Error},
		{"color_script", &c.Colors.Script},
		{"color_action", &c.Colors.Action},
		{"color_chat", &c.Colors.Chat},
		{"color_state", &c.Colors.State},
		{"color_timestamp", &c.Colors.Timestamp},
	}
}

// loadColorsWithFallback fills any missing color values from embedded defaults,
// ensuring all ColorConfig fields are populated after config loading.
func (c *Config) loadColorsWithFallback() error {
	data, err := defaultsFS.ReadFile("defaults/config")
	if err != nil {
		return fmt.Errorf("read embedded defaults: %w", err)
	}

	embedded := &Config{}
	if err := embedded.parseConfigBytes(data); err != nil {
		return fmt.Errorf("parse embedded defaults: %w", err)
	}

	own := c.colorKeys()
	for i, ck := range embedded.colorKeys() {
		if *own[i].field == "" {
			*own[i].field = *ck.field
		}
	}

	if c.PasswordLength == 0 {
		c.PasswordLength = embedded.PasswordLength
	}

	return nil
}

// parseHexColor parses a hex color string (e.g., "#ff0000") into RGB components.
// returns an error if the format is invalid.
func parseHexColor(hex string) (r, g, b int, err error) {
	if hex == "" || hex[0] != '#' {
		return 0, 0, 0, errors.New("hex color must start with #")
	}
	if len(hex) != 7 {
		return 0, 0, 0, errors.New("hex color must be 7 characters (e.g., #ff0000)")
	}

	val, err := strconv.ParseInt(hex[1:], 16, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid hex color %q: %w", hex, err)
	}

	r = int((val >> 16) & 0xFF)
	g = int((val >> 8) & 0xFF)
	b = int(val & 0xFF)
	return r, g, b, nil
}
