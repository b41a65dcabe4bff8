// Package config loads scopes settings from a YAML file. A missing file
// means defaults; a present file is merged over the defaults and validated.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Dir is the per-user directory holding the database, logs and config
	Dir = ".scopes"

	defaultAddr     = ":8080"
	defaultBaseURL  = "http://localhost:8080"
	defaultDebounce = 300 * time.Millisecond
)

// DefaultYAML is written by `scopes init-config` and documents every key.
const DefaultYAML = `# scopes configuration
version: 1

server:
  addr: ":8080"
  # db: /path/to/scopes.db   (defaults to ~/.scopes/scopes.db)

client:
  base_url: http://localhost:8080
  # 0 disables the request timeout; a hung fetch keeps its subtree loading.
  timeout: 0s
  prefetch_workers: 4

picker:
  mode: multi
  search_debounce: 300ms

exam:
  problem_count:
    min: 10
    max: 50

log:
  mode: dev
  # level: info  (defaults to debug for dev, info for prod)
  # file: /path/to/scopes.log  (the picker defaults to ~/.scopes/logs/scopes.log)
`

// ServerConfig configures `scopes serve`.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	DB   string `yaml:"db,omitempty"`
}

// ClientConfig configures the hierarchy client.
type ClientConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	UserAgent       string        `yaml:"user_agent,omitempty"`
	PrefetchWorkers int           `yaml:"prefetch_workers"`
}

// PickerConfig configures the interactive picker.
type PickerConfig struct {
	Mode           string        `yaml:"mode"`
	SearchDebounce time.Duration `yaml:"search_debounce"`
}

// Bounds is an inclusive integer range.
type Bounds struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// ExamConfig holds the declared range of the problem-count field.
type ExamConfig struct {
	ProblemCount *Bounds `yaml:"problem_count,omitempty"`
}

// LogConfig selects the zap preset, an optional level over the preset's
// default and an optional output file.
type LogConfig struct {
	Mode  string `yaml:"mode"`
	Level string `yaml:"level,omitempty"`
	File  string `yaml:"file,omitempty"`
}

// Config models the YAML document.
type Config struct {
	Version int          `yaml:"version"`
	Server  ServerConfig `yaml:"server"`
	Client  ClientConfig `yaml:"client"`
	Picker  PickerConfig `yaml:"picker"`
	Exam    ExamConfig   `yaml:"exam"`
	Log     LogConfig    `yaml:"log"`

	// Path is where the config was read from; empty when defaults are used.
	Path string `yaml:"-"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Version: 1,
		Server:  ServerConfig{Addr: defaultAddr},
		Client: ClientConfig{
			BaseURL:         defaultBaseURL,
			PrefetchWorkers: 4,
		},
		Picker: PickerConfig{
			Mode:           "multi",
			SearchDebounce: defaultDebounce,
		},
		Exam: ExamConfig{ProblemCount: &Bounds{Min: 10, Max: 50}},
		Log:  LogConfig{Mode: "dev"},
	}
}

// HomeDir returns ~/.scopes, falling back to ./.scopes.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return Dir
	}
	return filepath.Join(home, Dir)
}

// DefaultPath is the config file location used when --config is not given.
func DefaultPath() string {
	return filepath.Join(HomeDir(), "config.yaml")
}

// DBPath returns the configured database path or the default one.
func (c *Config) DBPath() string {
	if c.Server.DB != "" {
		return c.Server.DB
	}
	return filepath.Join(HomeDir(), "scopes.db")
}

// LogFile returns the configured log file, or fallback when none is set.
func (c *Config) LogFile(fallback string) string {
	if c.Log.File != "" {
		return c.Log.File
	}
	return fallback
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Path = path
	cfg.normalize(filepath.Dir(path))
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// WriteDefault writes DefaultYAML to path unless a file already exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config: %s already exists", path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: ensure dir: %w", err)
	}
	return os.WriteFile(path, []byte(DefaultYAML), 0o644)
}

func (c *Config) normalize(base string) {
	if c.Version == 0 {
		c.Version = 1
	}
	c.Server.Addr = strings.TrimSpace(c.Server.Addr)
	if c.Server.Addr == "" {
		c.Server.Addr = defaultAddr
	}
	c.Server.DB = resolvePath(base, c.Server.DB)
	c.Client.BaseURL = strings.TrimRight(strings.TrimSpace(c.Client.BaseURL), "/")
	if c.Client.BaseURL == "" {
		c.Client.BaseURL = defaultBaseURL
	}
	if c.Client.PrefetchWorkers <= 0 {
		c.Client.PrefetchWorkers = 4
	}
	c.Picker.Mode = strings.ToLower(strings.TrimSpace(c.Picker.Mode))
	if c.Picker.Mode == "" {
		c.Picker.Mode = "multi"
	}
	if c.Picker.SearchDebounce == 0 {
		c.Picker.SearchDebounce = defaultDebounce
	}
	c.Log.Mode = strings.ToLower(strings.TrimSpace(c.Log.Mode))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.File = resolvePath(base, c.Log.File)
}

func (c *Config) validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported config version %d", c.Version)
	}
	if c.Client.Timeout < 0 {
		return fmt.Errorf("client.timeout must not be negative")
	}
	if c.Picker.SearchDebounce < 0 {
		return fmt.Errorf("picker.search_debounce must not be negative")
	}
	switch c.Picker.Mode {
	case "single", "multi":
	default:
		return fmt.Errorf("picker.mode must be 'single' or 'multi'")
	}
	if b := c.Exam.ProblemCount; b != nil {
		if b.Min < 1 {
			return fmt.Errorf("exam.problem_count.min must be >= 1")
		}
		if b.Max < b.Min {
			return fmt.Errorf("exam.problem_count.max must be >= min")
		}
	}
	switch c.Log.Mode {
	case "", "dev", "development", "prod", "production":
	default:
		return fmt.Errorf("log.mode must be 'dev' or 'prod'")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error")
	}
	return nil
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, trimmed[2:])
		}
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}
