package calc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Set at link time with -ldflags "-X github.com/daios-ai/calc.Version=...".
var (
	Version   = "dev"
	BuildDate = "unknown"
)

// ConfigEnv names the environment variable holding a config file path.
const ConfigEnv = "CALC_CONFIG"

// Config holds driver settings for the CLI and REPL.
type Config struct {
	Path        string        // file the config was read from, if any
	Timeout     time.Duration // per-line deadline in the REPL
	MaxDepth    int
	CacheLimit  int // <= 0: unbounded
	HistoryFile string
	Trace       bool
	ScriptsDir  string // where "+name" scripts live
}

type configDisk struct {
	Timeout     string `yaml:"timeout,omitempty"`
	MaxDepth    int    `yaml:"max_depth,omitempty"`
	CacheLimit  int    `yaml:"cache_limit,omitempty"`
	HistoryFile string `yaml:"history_file,omitempty"`
	Trace       bool   `yaml:"trace,omitempty"`
	ScriptsDir  string `yaml:"scripts_dir,omitempty"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	hist := ".calc_history"
	if home, err := os.UserHomeDir(); err == nil {
		hist = filepath.Join(home, ".calc_history")
	}
	return &Config{
		Timeout:     5 * time.Second,
		MaxDepth:    DefaultMaxDepth,
		HistoryFile: hist,
		ScriptsDir:  filepath.Join(".", "calculator", "scripts"),
	}
}

// LoadConfig reads settings from path, layered over DefaultConfig. An empty
// path falls back to $CALC_CONFIG; with neither, the defaults are returned.
// Unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = os.Getenv(ConfigEnv)
	}
	if path == "" {
		return cfg, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve %s: %w", path, err)
	}
	file, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer file.Close()

	var raw configDisk
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse %s: %w", abs, err)
	}
	if err := raw.apply(cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", abs, err)
	}
	cfg.Path = abs
	return cfg, nil
}

func (d configDisk) apply(cfg *Config) error {
	if s := strings.TrimSpace(d.Timeout); s != "" {
		t, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		if t <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", s)
		}
		cfg.Timeout = t
	}
	if d.MaxDepth < 0 {
		return fmt.Errorf("max_depth must not be negative")
	}
	if d.MaxDepth > 0 {
		cfg.MaxDepth = d.MaxDepth
	}
	cfg.CacheLimit = d.CacheLimit
	if d.HistoryFile != "" {
		cfg.HistoryFile = d.HistoryFile
	}
	cfg.Trace = d.Trace
	if d.ScriptsDir != "" {
		cfg.ScriptsDir = d.ScriptsDir
	}
	return nil
}

// ScriptPath expands "+name" to a file in the scripts directory; any other
// name is returned unchanged.
func (c *Config) ScriptPath(name string) string {
	if strings.HasPrefix(name, "+") {
		return filepath.Join(c.ScriptsDir, name[1:]+".c5")
	}
	return name
}
