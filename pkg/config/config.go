package config

import (
	"bytes"
	_ "embed"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	gotoml "github.com/pelletier/go-toml"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/neural-garage/tools/pkg/analyzer/deadcode"
)

// DirName is the per-project directory holding the cache and, optionally,
// the config file.
const DirName = ".bury"

// DefaultFileName is the file written by "bury init".
const DefaultFileName = "bury.toml"

// Formats lists the accepted output formats.
var Formats = []string{"text", "json", "markdown", "toon", "yaml"}

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "https://github.com/neural-garage/tools/bury.schema.json"

// Config holds all configuration options for bury.
type Config struct {
	// Root selection policy
	Project ProjectConfig `koanf:"project" toml:"project"`

	// Analysis settings
	Analysis AnalysisConfig `koanf:"analysis" toml:"analysis"`

	// Confidence level thresholds
	Thresholds ThresholdConfig `koanf:"thresholds" toml:"thresholds"`

	// File exclusion patterns
	Exclude ExcludeConfig `koanf:"exclude" toml:"exclude"`

	// Cache settings
	Cache CacheConfig `koanf:"cache" toml:"cache"`

	// Output settings
	Output OutputConfig `koanf:"output" toml:"output"`
}

// ProjectConfig describes what counts as a root.
type ProjectConfig struct {
	Name            string   `koanf:"name" toml:"name" comment:"cache namespace, defaults to the directory name"`
	Library         bool     `koanf:"library" toml:"library" comment:"treat every public symbol as used"`
	IncludeTests    bool     `koanf:"include_tests" toml:"include_tests"`
	ModuleInitRoots bool     `koanf:"module_init_roots" toml:"module_init_roots" comment:"top-level module code runs on import"`
	EntryPoints     []string `koanf:"entry_points" toml:"entry_points"`
	TestPatterns    []string `koanf:"test_patterns" toml:"test_patterns"`
	Pins            []string `koanf:"pins" toml:"pins" comment:"symbols that are always live, by FQN or glob"`
}

// AnalysisConfig tunes the analysis run.
type AnalysisConfig struct {
	Workers       int      `koanf:"workers" toml:"workers" comment:"0 uses 2x the CPU count"`
	MaxFileSize   int64    `koanf:"max_file_size" toml:"max_file_size"`
	MinConfidence float64  `koanf:"min_confidence" toml:"min_confidence" comment:"hide dead symbols below this confidence"`
	Languages     []string `koanf:"languages" toml:"languages" comment:"empty analyzes every supported language"`
}

// ThresholdConfig defines confidence level boundaries.
type ThresholdConfig struct {
	High   float64 `koanf:"high" toml:"high"`
	Medium float64 `koanf:"medium" toml:"medium"`
}

// ExcludeConfig defines file exclusion patterns.
type ExcludeConfig struct {
	Patterns   []string `koanf:"patterns" toml:"patterns"`
	Extensions []string `koanf:"extensions" toml:"extensions"`
	Dirs       []string `koanf:"dirs" toml:"dirs"`
	Gitignore  bool     `koanf:"gitignore" toml:"gitignore"`
}

// CacheConfig controls the fact cache.
type CacheConfig struct {
	Enabled    bool   `koanf:"enabled" toml:"enabled"`
	Dir        string `koanf:"dir" toml:"dir"`
	MaxEntries int    `koanf:"max_entries" toml:"max_entries"`
}

// OutputConfig controls output formatting.
type OutputConfig struct {
	Format   string `koanf:"format" toml:"format" comment:"text, json, markdown, toon or yaml"`
	Color    bool   `koanf:"color" toml:"color"`
	Verbose  bool   `koanf:"verbose" toml:"verbose"`
	ShowLive bool   `koanf:"show_live" toml:"show_live"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	roots := deadcode.DefaultRootConfig()
	thresholds := deadcode.DefaultConfidenceThresholds()

	return &Config{
		Project: ProjectConfig{
			IncludeTests:    roots.IncludeTests,
			ModuleInitRoots: roots.ModuleInitRoots,
			EntryPoints:     roots.EntryPatterns,
			TestPatterns:    roots.TestPatterns,
		},
		Analysis: AnalysisConfig{
			MaxFileSize: 1 << 20,
		},
		Thresholds: ThresholdConfig{
			High:   thresholds.HighThreshold,
			Medium: thresholds.MediumThreshold,
		},
		Exclude: ExcludeConfig{
			Patterns: []string{
				"*.min.js",
				"*.d.ts",
				"*_pb2.py",
				"*.pb.go",
			},
			Dirs: []string{
				"vendor",
				"node_modules",
				".git",
				DirName,
				"dist",
				"build",
				"__pycache__",
				".venv",
				"venv",
			},
			Gitignore: true,
		},
		Cache: CacheConfig{
			Enabled:    true,
			Dir:        filepath.Join(DirName, "cache"),
			MaxEntries: 50_000,
		},
		Output: OutputConfig{
			Format: "text",
			Color:  true,
		},
	}
}

// Load loads configuration from a file. Values the file leaves out keep
// their defaults. The file is checked against the embedded JSON schema
// before it is applied.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := DefaultConfig()

	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		parser = toml.Parser()
	}

	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := validateSchema(k.Raw()); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// FileNames are the config file names searched for, in order.
var FileNames = []string{
	"bury.toml",
	"bury.yaml",
	"bury.yml",
	"bury.json",
	".bury.toml",
	".bury.yaml",
	".bury.yml",
	".bury.json",
}

// Find returns the first config file in dir or dir/.bury, or "" if there
// is none.
func Find(dir string) string {
	for _, d := range []string{dir, filepath.Join(dir, DirName)} {
		for _, name := range FileNames {
			path := filepath.Join(d, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path
			}
		}
	}
	return ""
}

// LoadOrDefault loads the config file found in dir, or returns defaults
// when there is none. The returned path is empty for defaults. A file that
// exists but does not load is an error.
func LoadOrDefault(dir string) (*Config, string, error) {
	path := Find(dir)
	if path == "" {
		return DefaultConfig(), "", nil
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// Write saves cfg as TOML.
func Write(path string, cfg *Config) error {
	data, err := gotoml.Marshal(*cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks constraints the schema cannot express.
func (c *Config) Validate() error {
	var errs []error
	if c.Thresholds.Medium > c.Thresholds.High {
		errs = append(errs, fmt.Errorf("thresholds.medium (%g) is above thresholds.high (%g)", c.Thresholds.Medium, c.Thresholds.High))
	}
	if !isFormat(c.Output.Format) {
		errs = append(errs, fmt.Errorf("unknown output format %q", c.Output.Format))
	}
	if c.Analysis.MinConfidence < 0 || c.Analysis.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("analysis.min_confidence must be within [0, 1]"))
	}
	return errors.Join(errs...)
}

func isFormat(f string) bool {
	for _, known := range Formats {
		if f == known {
			return true
		}
	}
	return false
}

// RootConfig converts the project section into the analyzer's root policy.
// Empty pattern lists fall back to the defaults.
func (c *Config) RootConfig() deadcode.RootConfig {
	rc := deadcode.DefaultRootConfig()
	rc.Library = c.Project.Library
	rc.IncludeTests = c.Project.IncludeTests
	rc.ModuleInitRoots = c.Project.ModuleInitRoots
	rc.Pins = append([]string(nil), c.Project.Pins...)
	if len(c.Project.EntryPoints) > 0 {
		rc.EntryPatterns = append([]string(nil), c.Project.EntryPoints...)
	}
	if len(c.Project.TestPatterns) > 0 {
		rc.TestPatterns = append([]string(nil), c.Project.TestPatterns...)
	}
	return rc
}

// ConfidenceThresholds returns the configured level boundaries.
func (c *Config) ConfidenceThresholds() deadcode.ConfidenceThresholds {
	return deadcode.ConfidenceThresholds{
		HighThreshold:   c.Thresholds.High,
		MediumThreshold: c.Thresholds.Medium,
	}
}

// ProjectName returns the configured name or the base name of root.
func (c *Config) ProjectName(root string) string {
	if c.Project.Name != "" {
		return c.Project.Name
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return filepath.Base(root)
	}
	return filepath.Base(abs)
}

// CacheDir resolves the cache directory against root.
func (c *Config) CacheDir(root string) string {
	if filepath.IsAbs(c.Cache.Dir) {
		return c.Cache.Dir
	}
	return filepath.Join(root, c.Cache.Dir)
}

// ShouldExclude checks if a path, relative to the project root, should be
// excluded from analysis.
func (c *Config) ShouldExclude(path string) bool {
	path = filepath.ToSlash(path)

	for _, dir := range c.Exclude.Dirs {
		if strings.Contains(path, "/"+dir+"/") || strings.HasPrefix(path, dir+"/") || path == dir {
			return true
		}
	}

	ext := filepath.Ext(path)
	for _, excludeExt := range c.Exclude.Extensions {
		if ext == excludeExt {
			return true
		}
	}

	base := filepath.Base(path)
	for _, pattern := range c.Exclude.Patterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
		if strings.Contains(pattern, "/") {
			if matched, _ := filepath.Match(pattern, path); matched {
				return true
			}
		}
	}

	return false
}

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, err
	}
	return c.Compile(schemaURL)
})

// validateSchema checks raw koanf data against the embedded schema. The
// data goes through JSON first so every parser yields the same value types.
func validateSchema(raw map[string]any) error {
	sch, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	data, err := stdjson.Marshal(raw)
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	return sch.Validate(inst)
}

// Schema returns the embedded JSON schema.
func Schema() []byte {
	return schemaJSON
}
