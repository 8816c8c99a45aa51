package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up when none is given.
const FileName = "bridgemeta.yaml"

// Config represents the bridgemeta.yaml configuration.
type Config struct {
	Framework    string         `yaml:"framework"`
	Headers      []HeaderConfig `yaml:"headers"`
	Oracle       OracleConfig   `yaml:"oracle"`
	Overrides    []string       `yaml:"overrides"`
	Dependencies []string       `yaml:"dependencies"`
	Renderers    []string       `yaml:"renderers"`
	Merge        MergeConfig    `yaml:"merge"`
	Output       OutputConfig   `yaml:"output"`

	// Dir is the directory relative paths are resolved against: the
	// directory of the loaded file, or the working directory.
	Dir string `yaml:"-"`
	// Source is the file the configuration was loaded from, if any.
	Source string `yaml:"-"`
}

// HeaderConfig names the files of one compilation unit.
type HeaderConfig struct {
	// Path is the header as the framework names it; ignored_headers
	// directives match against it.
	Path string `yaml:"path"`
	// Preprocessed is the preprocessed text filtered to the framework's
	// own declarations.
	Preprocessed string `yaml:"preprocessed"`
	// Preprocessed64 is the text preprocessed for 64-bit architectures.
	// Defaults to Preprocessed.
	Preprocessed64 string `yaml:"preprocessed64"`
	// Complete is the unfiltered preprocessed text. Defaults to
	// Preprocessed.
	Complete string `yaml:"complete"`
	// Source is the original header, scanned for macros.
	Source string `yaml:"source"`
}

// OracleConfig points at the probe results.
type OracleConfig struct {
	// Tables lists one type table per architecture; at most one 32-bit and
	// one 64-bit.
	Tables  []string `yaml:"tables"`
	Runtime string   `yaml:"runtime"`
}

// MergeConfig controls how override validation errors are handled.
type MergeConfig struct {
	IgnoreErrors bool   `yaml:"ignore_errors"`
	PartialDump  string `yaml:"partial_dump"`
}

// OutputConfig controls where and how output artifacts are generated.
type OutputConfig struct {
	Dir              string `yaml:"dir"`
	MaxSummaryTokens int    `yaml:"max_summary_tokens"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Renderers: []string{"final", "summary"},
		Output: OutputConfig{
			Dir:              ".bridgemeta",
			MaxSummaryTokens: 4000,
		},
		Dir: ".",
	}
}

// Load reads a configuration file from the given path.
// Missing fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.Dir = filepath.Dir(path)
	cfg.Source = path

	// Ensure required defaults
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = ".bridgemeta"
	}
	if cfg.Output.MaxSummaryTokens == 0 {
		cfg.Output.MaxSummaryTokens = 4000
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that a run can be attempted with c.
func (c *Config) Validate() error {
	if len(c.Oracle.Tables) == 0 {
		return fmt.Errorf("no oracle tables configured")
	}
	if len(c.Oracle.Tables) > 2 {
		return fmt.Errorf("%d oracle tables configured, at most one 32-bit and one 64-bit are supported", len(c.Oracle.Tables))
	}
	for i, h := range c.Headers {
		if h.Preprocessed == "" {
			return fmt.Errorf("header %d (%s): missing preprocessed", i, h.Path)
		}
	}
	return nil
}

// Path resolves p against the configuration directory. Empty and absolute
// paths are returned unchanged.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// Paths resolves every element of ps with Path.
func (c *Config) Paths(ps []string) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = c.Path(p)
	}
	return out
}

// IsRendererEnabled returns true if the named renderer is enabled.
func (c *Config) IsRendererEnabled(name string) bool {
	return contains(c.Renderers, name)
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
