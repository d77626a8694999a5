// Package config loads server configuration from defaults, an optional
// project config file, environment variables, and command-line flags, in
// that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// ConfigFileName is the name of the project config file.
const ConfigFileName = "ssl-lsp.yaml"

// ConfigFileNameAlt is the alternate name of the project config file.
const ConfigFileNameAlt = "ssl-lsp.yml"

// envPrefix is the prefix for environment variable overrides, e.g.
// SSL_LSP_INCLUDE_DIR maps to include_dir.
const envPrefix = "SSL_LSP_"

// Config holds everything the server needs to run.
type Config struct {
	// IncludeDir is the root directory for resolving #include paths.
	IncludeDir string `koanf:"include_dir"`

	// ParserLibrary is the path to the SSLC parser shared library.
	// Empty disables grammar-based features (diagnostics, symbols).
	ParserLibrary string `koanf:"parser_library"`

	// ScratchDir is where in-memory document text is persisted for the
	// parser. Defaults to the OS temp directory.
	ScratchDir string `koanf:"scratch_dir"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// MaxIncludeFiles caps how many distinct headers one extraction may
	// visit. Zero means the built-in default.
	MaxIncludeFiles int `koanf:"max_include_files"`

	// MaxFileSize caps the size in bytes of a header read during
	// extraction. Zero means the built-in default.
	MaxFileSize int `koanf:"max_file_size"`
}

func defaults() map[string]any {
	return map[string]any{
		"include_dir":       ".",
		"parser_library":    "",
		"scratch_dir":       os.TempDir(),
		"log_level":         "info",
		"max_include_files": 0,
		"max_file_size":     0,
	}
}

// Load builds a Config for the given working directory. A config file is
// searched for in dir and its ancestors; flags may be nil.
func Load(dir string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(FindProjectRoot(dir)); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			// Only flags the user actually set may override lower layers.
			if !f.Changed {
				return "", nil
			}
			// --include-dir maps to include_dir
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field values after all layers are merged.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q (want debug, info, warn, or error)", c.LogLevel)
	}
	if c.MaxIncludeFiles < 0 {
		return fmt.Errorf("max_include_files must not be negative")
	}
	if c.MaxFileSize < 0 {
		return fmt.Errorf("max_file_size must not be negative")
	}
	return nil
}

// findConfigFile finds the config file in the given directory.
// Returns empty string if not found.
func findConfigFile(dir string) string {
	if dir == "" {
		return ""
	}

	yamlPath := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(yamlPath); err == nil {
		return yamlPath
	}

	ymlPath := filepath.Join(dir, ConfigFileNameAlt)
	if _, err := os.Stat(ymlPath); err == nil {
		return ymlPath
	}

	return ""
}

// FindProjectRoot walks up from the given directory to find a directory
// containing ssl-lsp.yaml or ssl-lsp.yml. Returns empty string if not
// found.
func FindProjectRoot(startDir string) string {
	dir := startDir
	for {
		if findConfigFile(dir) != "" {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
