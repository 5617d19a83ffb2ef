package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProbeModeTCP  = "tcp"
	ProbeModePing = "ping"
)

// Config represents configuration data for the monitoring service.
type Config struct {
	IntervalSeconds int    `yaml:"interval_seconds"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	DataDirectory   string `yaml:"data_directory"`
	RegistryFile    string `yaml:"registry_file"`
	LogDirectory    string `yaml:"log_directory"`
	ArchiveFile     string `yaml:"archive_file"`
	MaxConcurrency  int    `yaml:"max_concurrency"`
	ListenAddr      string `yaml:"listen_addr"`
	Probe           Probe  `yaml:"probe"`
}

// Probe selects and tunes the reachability strategy.
type Probe struct {
	Mode  string `yaml:"mode"`
	Ports []int  `yaml:"ports"`
}

// DefaultConfig returns sensible defaults in case no configuration file is provided.
func DefaultConfig() Config {
	return Config{
		IntervalSeconds: 5,
		TimeoutSeconds:  2,
		DataDirectory:   filepath.Join(".dist", "data"),
		RegistryFile:    "servers.json",
		LogDirectory:    "logs",
		ArchiveFile:     "samples.db",
		MaxConcurrency:  32,
		ListenAddr:      ":8080",
		Probe: Probe{
			Mode:  ProbeModeTCP,
			Ports: []int{80, 443, 22},
		},
	}
}

// Load reads configuration from yaml file. Missing files fall back to defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalise() error {
	defaults := DefaultConfig()
	if c.IntervalSeconds <= 0 {
		c.IntervalSeconds = defaults.IntervalSeconds
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = defaults.TimeoutSeconds
	}
	if c.DataDirectory == "" {
		c.DataDirectory = defaults.DataDirectory
	}
	if c.RegistryFile == "" {
		c.RegistryFile = defaults.RegistryFile
	}
	if c.LogDirectory == "" {
		c.LogDirectory = defaults.LogDirectory
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = defaults.MaxConcurrency
	}
	if c.ListenAddr == "" {
		c.ListenAddr = defaults.ListenAddr
	}

	c.Probe.Mode = strings.ToLower(strings.TrimSpace(c.Probe.Mode))
	switch c.Probe.Mode {
	case "":
		c.Probe.Mode = ProbeModeTCP
	case ProbeModeTCP, ProbeModePing:
	default:
		return fmt.Errorf("unsupported probe mode %q", c.Probe.Mode)
	}
	if len(c.Probe.Ports) == 0 {
		c.Probe.Ports = defaults.Probe.Ports
	}
	for _, port := range c.Probe.Ports {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("probe port %d out of range", port)
		}
	}
	return nil
}

// Interval is the time between probe rounds.
func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Timeout bounds a single probe.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RegistryPath resolves the registry document location.
func (c Config) RegistryPath() string {
	return c.resolve(c.RegistryFile)
}

// LogPath resolves the directory holding the daily event logs.
func (c Config) LogPath() string {
	return c.resolve(c.LogDirectory)
}

// ArchivePath resolves the sqlite archive location. Empty means archiving is disabled.
func (c Config) ArchivePath() string {
	if c.ArchiveFile == "" {
		return ""
	}
	return c.resolve(c.ArchiveFile)
}

func (c Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDirectory, p)
}
