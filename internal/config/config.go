// Package config loads the lcars.yaml configuration file
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the default configuration file name
const FileName = "lcars.yaml"

// Config represents the lcars.yaml configuration
type Config struct {
	Screen    *ScreenConfig    `yaml:"screen,omitempty"`
	Render    *RenderConfig    `yaml:"render,omitempty"`
	Net       *NetConfig       `yaml:"net,omitempty"`
	Resources *ResourcesConfig `yaml:"resources,omitempty"`
	Log       *LogConfig       `yaml:"log,omitempty"`
}

// ScreenConfig describes the local display
type ScreenConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	// Display is "terminal" or "headless"
	Display string `yaml:"display"`

	// Capture is a PNG file the headless display writes after each paint
	Capture string `yaml:"capture,omitempty"`

	// Panel is the name of the panel shown in local mode
	Panel string `yaml:"panel,omitempty"`

	// UpdateInterval is how often the panel publishes snapshots
	UpdateInterval time.Duration `yaml:"updateInterval"`
}

// RenderConfig controls the render pipeline
type RenderConfig struct {
	// Strategy is "sync" or "async"
	Strategy         string `yaml:"strategy"`
	SelectiveRepaint bool   `yaml:"selectiveRepaint"`
	QueueCapacity    int    `yaml:"queueCapacity"`
	RasterWorkers    int    `yaml:"rasterWorkers"`
}

// NetConfig contains the adapter naming and heartbeat settings
type NetConfig struct {
	HostName          string        `yaml:"hostName,omitempty"`
	Port              int           `yaml:"port"`
	ServiceName       string        `yaml:"serviceName"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	CallTimeout       time.Duration `yaml:"callTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
}

// ResourcesConfig configures the image resource cache
type ResourcesConfig struct {
	Dir        string        `yaml:"dir"`
	MaxEntries int           `yaml:"maxEntries"`
	MaxAge     time.Duration `yaml:"maxAge"`
	// Strategy is "lru", "lfu" or "fifo"
	Strategy string `yaml:"strategy"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File receives logs while the terminal display owns stderr
	File string `yaml:"file,omitempty"`
}

// Load loads configuration from path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults for missing values
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	applyDefaults(&config)
	return &config, nil
}

// Save saves configuration to path
func Save(config *Config, path string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Screen: &ScreenConfig{
			Width:          640,
			Height:         400,
			Display:        "terminal",
			Panel:          "test",
			UpdateInterval: 100 * time.Millisecond,
		},
		Render: &RenderConfig{
			Strategy:         "async",
			SelectiveRepaint: true,
			QueueCapacity:    8,
			RasterWorkers:    2,
		},
		Net: &NetConfig{
			Port:              1099,
			ServiceName:       "lcars",
			HeartbeatInterval: time.Second,
			CallTimeout:       time.Second,
			ShutdownTimeout:   1500 * time.Millisecond,
		},
		Resources: &ResourcesConfig{
			Dir:        "resources",
			MaxEntries: 64,
			MaxAge:     time.Hour,
			Strategy:   "lru",
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "text",
			File:   "lcars.log",
		},
	}
}

// applyDefaults applies default values to missing configuration
func applyDefaults(config *Config) {
	defaults := DefaultConfig()

	if config.Screen == nil {
		config.Screen = defaults.Screen
	} else {
		if config.Screen.Width == 0 {
			config.Screen.Width = defaults.Screen.Width
		}
		if config.Screen.Height == 0 {
			config.Screen.Height = defaults.Screen.Height
		}
		if config.Screen.Display == "" {
			config.Screen.Display = defaults.Screen.Display
		}
		if config.Screen.Panel == "" {
			config.Screen.Panel = defaults.Screen.Panel
		}
		if config.Screen.UpdateInterval == 0 {
			config.Screen.UpdateInterval = defaults.Screen.UpdateInterval
		}
	}

	// selectiveRepaint is a plain bool; an explicit false in the file wins
	if config.Render == nil {
		config.Render = defaults.Render
	} else {
		if config.Render.Strategy == "" {
			config.Render.Strategy = defaults.Render.Strategy
		}
		if config.Render.QueueCapacity == 0 {
			config.Render.QueueCapacity = defaults.Render.QueueCapacity
		}
		if config.Render.RasterWorkers == 0 {
			config.Render.RasterWorkers = defaults.Render.RasterWorkers
		}
	}

	if config.Net == nil {
		config.Net = defaults.Net
	} else {
		if config.Net.Port == 0 {
			config.Net.Port = defaults.Net.Port
		}
		if config.Net.ServiceName == "" {
			config.Net.ServiceName = defaults.Net.ServiceName
		}
		if config.Net.HeartbeatInterval == 0 {
			config.Net.HeartbeatInterval = defaults.Net.HeartbeatInterval
		}
		if config.Net.CallTimeout == 0 {
			config.Net.CallTimeout = defaults.Net.CallTimeout
		}
		if config.Net.ShutdownTimeout == 0 {
			config.Net.ShutdownTimeout = defaults.Net.ShutdownTimeout
		}
	}

	if config.Resources == nil {
		config.Resources = defaults.Resources
	} else {
		if config.Resources.Dir == "" {
			config.Resources.Dir = defaults.Resources.Dir
		}
		if config.Resources.MaxEntries == 0 {
			config.Resources.MaxEntries = defaults.Resources.MaxEntries
		}
		if config.Resources.MaxAge == 0 {
			config.Resources.MaxAge = defaults.Resources.MaxAge
		}
		if config.Resources.Strategy == "" {
			config.Resources.Strategy = defaults.Resources.Strategy
		}
	}

	if config.Log == nil {
		config.Log = defaults.Log
	} else {
		if config.Log.Level == "" {
			config.Log.Level = defaults.Log.Level
		}
		if config.Log.Format == "" {
			config.Log.Format = defaults.Log.Format
		}
	}
}

// Validate checks sizes and enum values
func (c *Config) Validate() error {
	var errs []error
	if c.Screen.Width <= 0 || c.Screen.Height <= 0 {
		errs = append(errs, fmt.Errorf("screen: size %dx%d must be positive", c.Screen.Width, c.Screen.Height))
	}
	switch c.Screen.Display {
	case "terminal", "headless":
	default:
		errs = append(errs, fmt.Errorf("screen: unknown display %q", c.Screen.Display))
	}
	if c.Screen.UpdateInterval < 0 {
		errs = append(errs, errors.New("screen: negative update interval"))
	}
	switch c.Render.Strategy {
	case "sync", "async":
	default:
		errs = append(errs, fmt.Errorf("render: unknown strategy %q", c.Render.Strategy))
	}
	if c.Render.QueueCapacity < 1 {
		errs = append(errs, errors.New("render: queue capacity must be at least 1"))
	}
	if c.Render.RasterWorkers < 1 {
		errs = append(errs, errors.New("render: raster workers must be at least 1"))
	}
	if c.Net.Port <= 0 || c.Net.Port > 65535 {
		errs = append(errs, fmt.Errorf("net: bad port %d", c.Net.Port))
	}
	if c.Net.HeartbeatInterval <= 0 || c.Net.CallTimeout <= 0 || c.Net.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("net: intervals must be positive"))
	}
	switch c.Resources.Strategy {
	case "lru", "lfu", "fifo":
	default:
		errs = append(errs, fmt.Errorf("resources: unknown strategy %q", c.Resources.Strategy))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log: unknown format %q", c.Log.Format))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log: unknown level %q", c.Log.Level))
	}
	return errors.Join(errs...)
}
