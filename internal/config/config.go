package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the name of the config file looked up in the working
	// directory when no path is given
	ConfigFileName = "lvn.yaml"

	DefaultContainerID = "phx-main"
	DefaultLogLevel    = "info"
	DefaultHeartbeat   = 30 * time.Second
	DefaultMaxRejoins  = 3
	DefaultSocketPath  = "/live/websocket"
)

var validate = validator.New()

// Config represents the lvn client configuration
type Config struct {
	// URL is the page that hosts the live view
	URL string `yaml:"url,omitempty" validate:"omitempty,url"`

	// SocketPath is the websocket endpoint, relative to URL
	SocketPath string `yaml:"socket_path,omitempty" validate:"required,startswith=/"`

	// ContainerID is the id of the element the rendered markup is mounted in
	ContainerID string `yaml:"container_id,omitempty" validate:"required"`

	// Minify runs rendered markup through the HTML minifier before parsing
	Minify bool `yaml:"minify,omitempty"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level,omitempty" validate:"oneof=debug info warn error"`

	// Heartbeat is the interval between channel heartbeats
	Heartbeat time.Duration `yaml:"heartbeat,omitempty" validate:"gte=1s"`

	// MaxRejoins bounds how often a session is reseeded after a fatal error
	MaxRejoins int `yaml:"max_rejoins" validate:"gte=0,lte=100"`

	// Params are sent as connect params when joining
	Params map[string]string `yaml:"params,omitempty"`
}

// DefaultConfig returns a new Config with default values
func DefaultConfig() *Config {
	return &Config{
		SocketPath:  DefaultSocketPath,
		ContainerID: DefaultContainerID,
		LogLevel:    DefaultLogLevel,
		Heartbeat:   DefaultHeartbeat,
		MaxRejoins:  DefaultMaxRejoins,
		Params:      map[string]string{},
	}
}

// LoadConfig loads the configuration from path. An empty path means
// ConfigFileName in the working directory. If the file doesn't exist, the
// default config is returned.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = ConfigFileName
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// Parse decodes YAML config data, fills in defaults and validates the result
func Parse(data []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Explicitly empty values fall back to defaults
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.SocketPath == "" {
		c.SocketPath = DefaultSocketPath
	}
	if c.ContainerID == "" {
		c.ContainerID = DefaultContainerID
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Heartbeat == 0 {
		c.Heartbeat = DefaultHeartbeat
	}
	if c.Params == nil {
		c.Params = map[string]string{}
	}
}

// SaveConfig writes the configuration to path
func SaveConfig(path string, config *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	var msgs []string
	for _, e := range validationErrs {
		field := strings.ToLower(e.Field())
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "url":
			msgs = append(msgs, fmt.Sprintf("%s must be an absolute URL", field))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, e.Param()))
		case "gte", "lte":
			msgs = append(msgs, fmt.Sprintf("%s is out of range (%s %s)", field, e.Tag(), e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", field))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
