// Package config reads rebase.config.json (or .yaml) for the command line
// tool.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file looked up when no path is given.
const DefaultFile = "rebase.config.json"

// DefaultDebounce applies when Watch.DebounceMS is unset.
const DefaultDebounce = 30 * time.Millisecond

type Config struct {
	EntryPoints []string     `json:"EntryPoints" yaml:"EntryPoints"`
	Outdir      string       `json:"Outdir,omitempty" yaml:"Outdir,omitempty"`
	Outfile     string       `json:"Outfile,omitempty" yaml:"Outfile,omitempty"`
	Format      string       `json:"Format,omitempty" yaml:"Format,omitempty"`
	Minify      bool         `json:"Minify,omitempty" yaml:"Minify,omitempty"`
	Sourcemap   bool         `json:"Sourcemap,omitempty" yaml:"Sourcemap,omitempty"`
	Rebase      RebaseConfig `json:"Rebase" yaml:"Rebase"`
	Watch       *WatchConfig `json:"Watch,omitempty" yaml:"Watch,omitempty"`

	// Dir is the directory holding the config file. Relative paths in the
	// config are resolved against it.
	Dir string `json:"-" yaml:"-"`
}

type RebaseConfig struct {
	Include     []string `json:"Include,omitempty" yaml:"Include,omitempty"`
	Exclude     []string `json:"Exclude,omitempty" yaml:"Exclude,omitempty"`
	AssetFolder string   `json:"AssetFolder,omitempty" yaml:"AssetFolder,omitempty"`
	Verbose     bool     `json:"Verbose,omitempty" yaml:"Verbose,omitempty"`
	KeepName    bool     `json:"KeepName,omitempty" yaml:"KeepName,omitempty"`
	SkipHash    bool     `json:"SkipHash,omitempty" yaml:"SkipHash,omitempty"`
}

type WatchConfig struct {
	// Root defaults to the config directory.
	Root       string   `json:"Root,omitempty" yaml:"Root,omitempty"`
	Exclude    []string `json:"Exclude,omitempty" yaml:"Exclude,omitempty"`
	DebounceMS int      `json:"DebounceMS,omitempty" yaml:"DebounceMS,omitempty"`
}

// Parse parses and validates rebase.config.json bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseYAML parses and validates the YAML form of the config.
func ParseYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseFile reads and parses a config file. Files ending in .yaml or .yml are
// read as YAML, anything else as JSON.
func ParseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	parse := Parse
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parse = ParseYAML
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if cfg.Dir, err = filepath.Abs(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if len(cfg.EntryPoints) == 0 {
		return fmt.Errorf("config: EntryPoints is required")
	}
	if cfg.Outdir == "" && cfg.Outfile == "" {
		return fmt.Errorf("config: one of Outdir or Outfile is required")
	}
	if cfg.Outdir != "" && cfg.Outfile != "" {
		return fmt.Errorf("config: Outdir and Outfile are mutually exclusive")
	}
	if cfg.Outfile != "" && len(cfg.EntryPoints) > 1 {
		return fmt.Errorf("config: Outfile requires a single entry point, got %d", len(cfg.EntryPoints))
	}
	if cfg.Outdir != "" {
		first := filepath.Dir(filepath.Clean(cfg.EntryPoints[0]))
		for _, e := range cfg.EntryPoints[1:] {
			if d := filepath.Dir(filepath.Clean(e)); d != first {
				return fmt.Errorf("config: entry points must share one directory, got %q and %q", first, d)
			}
		}
	}
	switch cfg.Format {
	case "", "esm", "cjs", "iife":
	default:
		return fmt.Errorf("config: unknown Format %q", cfg.Format)
	}
	if filepath.IsAbs(cfg.Rebase.AssetFolder) {
		return fmt.Errorf("config: Rebase.AssetFolder must be relative to the output, got %q", cfg.Rebase.AssetFolder)
	}
	if cfg.Watch != nil && cfg.Watch.DebounceMS < 0 {
		return fmt.Errorf("config: Watch.DebounceMS must not be negative")
	}
	return nil
}

// Path resolves p against the config directory.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// WatchRoot is the directory watched in watch mode.
func (c *Config) WatchRoot() string {
	if c.Watch != nil && c.Watch.Root != "" {
		return c.Path(c.Watch.Root)
	}
	if c.Dir != "" {
		return c.Dir
	}
	return "."
}

// Debounce is the quiet period before a rebuild starts.
func (c *Config) Debounce() time.Duration {
	if c.Watch == nil || c.Watch.DebounceMS == 0 {
		return DefaultDebounce
	}
	return time.Duration(c.Watch.DebounceMS) * time.Millisecond
}

// OutputDir is the directory the bundle is written to.
func (c *Config) OutputDir() string {
	if c.Outdir != "" {
		return c.Path(c.Outdir)
	}
	return filepath.Dir(c.Path(c.Outfile))
}
