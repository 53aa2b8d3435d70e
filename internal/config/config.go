// Package config loads the agent's device identity and shared key.
//
// The identity lives in a small JSON file checked into the device image;
// the key lives in a separate raw file that must never enter version
// control. Both are read once at startup and are immutable afterwards.
package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"tinygo.org/x/bluetooth"
)

// Verbose enables debug output when true
var Verbose bool

// Debugf prints debug messages when Verbose is true
func Debugf(format string, args ...any) {
	if Verbose {
		fmt.Printf("[DEBUG] "+format+"\n", args...)
	}
}

// KeySize is the AES-128 key length in bytes.
const KeySize = 16

// VersionFileName is the version marker file inside the live tree, exposed
// read-only over the version characteristic when configured.
const VersionFileName = "version"

// Config is the device identity and filesystem layout for the OTA agent.
// It is constructed once at process start and passed by reference; no
// component mutates it after Load returns.
type Config struct {
	Name        string `json:"name"`
	ServiceUUID string `json:"service_uuid"`
	ControlUUID string `json:"control_uuid"`
	VersionUUID string `json:"version_uuid,omitempty"`
	LiveDir     string `json:"live_dir,omitempty"`
	StagingDir  string `json:"staging_dir,omitempty"`
	RestartCmd  string `json:"restart_cmd,omitempty"`

	// Parsed UUIDs, populated during validation.
	Service bluetooth.UUID `json:"-"`
	Control bluetooth.UUID `json:"-"`
	Version bluetooth.UUID `json:"-"`

	// HasVersion reports whether the optional version characteristic
	// should be exposed.
	HasVersion bool `json:"-"`
}

// Default returns a Config with the default filesystem layout.
func Default() *Config {
	return &Config{
		LiveDir:    "firmware",
		StagingDir: "new_firmware",
	}
}

// Load reads and validates the JSON config file at path. Missing optional
// fields are filled with defaults; a missing or malformed required field is
// an error, not a zero value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a JSON config document.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Name == "" {
		return fmt.Errorf("config: name must not be empty")
	}
	if c.LiveDir == "" {
		return fmt.Errorf("config: live_dir must not be empty")
	}
	if c.StagingDir == "" {
		return fmt.Errorf("config: staging_dir must not be empty")
	}
	if c.LiveDir == c.StagingDir {
		return fmt.Errorf("config: live_dir and staging_dir must be distinct, both are %q", c.LiveDir)
	}

	var err error
	if c.ServiceUUID == "" {
		return fmt.Errorf("config: service_uuid must not be empty")
	}
	if c.Service, err = bluetooth.ParseUUID(strings.ToLower(c.ServiceUUID)); err != nil {
		return fmt.Errorf("config: invalid service_uuid %q: %w", c.ServiceUUID, err)
	}
	if c.ControlUUID == "" {
		return fmt.Errorf("config: control_uuid must not be empty")
	}
	if c.Control, err = bluetooth.ParseUUID(strings.ToLower(c.ControlUUID)); err != nil {
		return fmt.Errorf("config: invalid control_uuid %q: %w", c.ControlUUID, err)
	}
	if c.VersionUUID != "" {
		if c.Version, err = bluetooth.ParseUUID(strings.ToLower(c.VersionUUID)); err != nil {
			return fmt.Errorf("config: invalid version_uuid %q: %w", c.VersionUUID, err)
		}
		c.HasVersion = true
	}
	return nil
}

// LoadKey reads the shared AES-128 key from a file holding 32 hex
// characters (surrounding whitespace tolerated). The returned key is held
// in memory only; callers must not log or transmit it.
func LoadKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	key, err := ParseKey(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return key, nil
}

// ParseKey decodes a 32-hex-character key string.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) != 2*KeySize {
		return nil, fmt.Errorf("key must be %d hex characters, got %d", 2*KeySize, len(s))
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding key: %w", err)
	}
	return key, nil
}
