// Package config loads the localagent YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	CurrentVersion = "v1"

	DefaultListen         = "127.0.0.1:7300"
	DefaultPageSize       = 100
	DefaultMaxPageSize    = 1000
	DefaultMaxChunks      = 1000
	DefaultRetainChunks   = 500
	DefaultReadBufferSize = 4096
	defaultConfigDirName  = ".localagent"
	defaultConfigFileName = "config.yaml"
)

type Config struct {
	Version string        `yaml:"version"`
	Server  ServerConfig  `yaml:"server,omitempty"`
	Log     LogConfig     `yaml:"log,omitempty"`
	Search  SearchConfig  `yaml:"search,omitempty"`
	Process ProcessConfig `yaml:"process,omitempty"`
}

type ServerConfig struct {
	Listen string `yaml:"listen,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"` // console | json
}

type SearchConfig struct {
	// SkipDirs extends the built-in deny-list of directory names.
	SkipDirs        []string `yaml:"skip_dirs,omitempty"`
	DefaultPageSize int      `yaml:"default_page_size,omitempty"`
	MaxPageSize     int      `yaml:"max_page_size,omitempty"`
}

type ProcessConfig struct {
	MaxChunks      int `yaml:"max_chunks,omitempty"`
	RetainChunks   int `yaml:"retain_chunks,omitempty"`
	ReadBufferSize int `yaml:"read_buffer_size,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Version: CurrentVersion,
		Server:  ServerConfig{Listen: DefaultListen},
		Log:     LogConfig{Level: "progress", Format: "console"},
		Search: SearchConfig{
			DefaultPageSize: DefaultPageSize,
			MaxPageSize:     DefaultMaxPageSize,
		},
		Process: ProcessConfig{
			MaxChunks:      DefaultMaxChunks,
			RetainChunks:   DefaultRetainChunks,
			ReadBufferSize: DefaultReadBufferSize,
		},
	}
}

// DefaultPath returns ~/.localagent/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve user home: %w", err)
	}
	return filepath.Join(home, defaultConfigDirName, defaultConfigFileName), nil
}

// Load reads path and fills unset fields from Default. A missing file at the
// default location is not an error; a missing explicit path is.
func Load(path string) (Config, error) {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return Default(), nil
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes, applies defaults and validates the result.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Version == "" {
		c.Version = def.Version
	}
	if c.Server.Listen == "" {
		c.Server.Listen = def.Server.Listen
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Search.DefaultPageSize == 0 {
		c.Search.DefaultPageSize = def.Search.DefaultPageSize
	}
	if c.Search.MaxPageSize == 0 {
		c.Search.MaxPageSize = def.Search.MaxPageSize
	}
	if c.Process.MaxChunks == 0 {
		c.Process.MaxChunks = def.Process.MaxChunks
	}
	if c.Process.RetainChunks == 0 {
		c.Process.RetainChunks = def.Process.RetainChunks
	}
	if c.Process.ReadBufferSize == 0 {
		c.Process.ReadBufferSize = def.Process.ReadBufferSize
	}
}

// Validate checks the invariants between fields.
func (c Config) Validate() error {
	if c.Version != CurrentVersion {
		return fmt.Errorf("unsupported config version %q (want %q)", c.Version, CurrentVersion)
	}
	if c.Search.DefaultPageSize <= 0 || c.Search.MaxPageSize <= 0 {
		return fmt.Errorf("search page sizes must be positive")
	}
	if c.Search.DefaultPageSize > c.Search.MaxPageSize {
		return fmt.Errorf("search.default_page_size (%d) exceeds search.max_page_size (%d)",
			c.Search.DefaultPageSize, c.Search.MaxPageSize)
	}
	if c.Process.MaxChunks <= 0 || c.Process.RetainChunks <= 0 {
		return fmt.Errorf("process chunk limits must be positive")
	}
	if c.Process.RetainChunks >= c.Process.MaxChunks {
		return fmt.Errorf("process.retain_chunks (%d) must be less than process.max_chunks (%d)",
			c.Process.RetainChunks, c.Process.MaxChunks)
	}
	if c.Process.ReadBufferSize <= 0 {
		return fmt.Errorf("process.read_buffer_size must be positive")
	}
	for _, name := range c.Search.SkipDirs {
		if strings.TrimSpace(name) == "" || strings.ContainsAny(name, `/\`) {
			return fmt.Errorf("invalid search.skip_dirs entry %q: must be a bare directory name", name)
		}
	}
	return nil
}
