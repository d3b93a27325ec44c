// Package config reads the settings of an oql deployment from a YAML or
// TOML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/roach88/oql/internal/dialect"
	"github.com/roach88/oql/internal/store"
)

// Settings configures the engine and the database it talks to.
type Settings struct {
	// Model is the directory holding the CUE entity definitions.
	Model string `yaml:"model" toml:"model"`

	Dialect string `yaml:"dialect" toml:"dialect"`
	Driver  string `yaml:"driver" toml:"driver"`
	DSN     string `yaml:"dsn" toml:"dsn"`

	// DefaultSchema and DefaultCatalog replace the {h-schema} and
	// {h-catalog} placeholders of statement text.
	DefaultSchema  string `yaml:"default_schema" toml:"default_schema"`
	DefaultCatalog string `yaml:"default_catalog" toml:"default_catalog"`

	InClauseParameterPadding bool `yaml:"in_clause_parameter_padding" toml:"in_clause_parameter_padding"`
	// MaxInListSize overrides the dialect's in-list cap; 0 keeps it.
	MaxInListSize int `yaml:"max_in_list_size" toml:"max_in_list_size"`

	DefaultBatchFetchSize int `yaml:"default_batch_fetch_size" toml:"default_batch_fetch_size"`
	MaxFetchDepth         int `yaml:"max_fetch_depth" toml:"max_fetch_depth"`

	// QueryTimeout is a Go duration such as "30s"; empty means none.
	QueryTimeout string `yaml:"query_timeout" toml:"query_timeout"`
	FetchSize    int    `yaml:"fetch_size" toml:"fetch_size"`

	// PlanCacheSize bounds the compiled plan cache; 0 disables it.
	PlanCacheSize int    `yaml:"plan_cache_size" toml:"plan_cache_size"`
	LogLevel      string `yaml:"log_level" toml:"log_level"`
}

// Defaults returns the settings used for keys a file leaves out.
func Defaults() Settings {
	return Settings{
		Dialect:               "sqlite",
		Driver:                store.DriverSQLite3,
		DefaultBatchFetchSize: 1,
		MaxFetchDepth:         3,
		PlanCacheSize:         256,
		LogLevel:              "info",
	}
}

// Load reads settings from path on top of Defaults. The format follows the
// extension: .yaml/.yml or .toml. Unknown keys are rejected.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}
	s := Defaults()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = decodeYAML(data, &s)
	case ".toml":
		err = decodeTOML(data, &s)
	default:
		return Settings{}, fmt.Errorf("unsupported settings format %q (want .yaml, .yml or .toml)", ext)
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings in %s: %w", path, err)
	}
	return s, nil
}

func decodeYAML(data []byte, s *Settings) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func decodeTOML(data []byte, s *Settings) error {
	md, err := toml.Decode(string(data), s)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// Validate checks every setting, reporting all problems at once.
func (s Settings) Validate() error {
	var errs []error
	if _, err := dialect.Lookup(s.Dialect); err != nil {
		errs = append(errs, err)
	}
	drivers := []string{store.DriverSQLite3, store.DriverSQLite, store.DriverMySQL}
	if !slices.Contains(drivers, s.Driver) {
		errs = append(errs, fmt.Errorf("driver %q must be one of %v", s.Driver, drivers))
	}
	if s.MaxInListSize < 0 {
		errs = append(errs, fmt.Errorf("max_in_list_size must not be negative"))
	}
	if s.DefaultBatchFetchSize < 1 {
		errs = append(errs, fmt.Errorf("default_batch_fetch_size must be at least 1"))
	}
	if s.MaxFetchDepth < 0 {
		errs = append(errs, fmt.Errorf("max_fetch_depth must not be negative"))
	}
	if s.FetchSize < 0 {
		errs = append(errs, fmt.Errorf("fetch_size must not be negative"))
	}
	if s.PlanCacheSize < 0 {
		errs = append(errs, fmt.Errorf("plan_cache_size must not be negative"))
	}
	if _, err := s.Timeout(); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Timeout parses QueryTimeout.
func (s Settings) Timeout() (time.Duration, error) {
	if s.QueryTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.QueryTimeout)
	if err != nil {
		return 0, fmt.Errorf("query_timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("query_timeout must not be negative")
	}
	return d, nil
}

// Level parses LogLevel.
func (s Settings) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// TargetDialect returns the configured dialect with the in-list cap
// applied.
func (s Settings) TargetDialect() (*dialect.Dialect, error) {
	d, err := dialect.Lookup(s.Dialect)
	if err != nil {
		return nil, err
	}
	if s.MaxInListSize > 0 {
		d = d.WithMaxInListSize(s.MaxInListSize)
	}
	return d, nil
}

// Schema returns the placeholder substitutions.
func (s Settings) Schema() store.Schema {
	return store.Schema{Catalog: s.DefaultCatalog, Schema: s.DefaultSchema}
}
