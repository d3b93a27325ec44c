package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Formats(t *testing.T) {
	testCases := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml",
			file: "oql.yaml",
			content: `
dialect: postgresql
driver: mysql
dsn: "user:pw@tcp(localhost:3306)/app"
default_schema: app
in_clause_parameter_padding: true
max_in_list_size: 500
default_batch_fetch_size: 16
query_timeout: 30s
plan_cache_size: 64
log_level: debug
`,
		},
		{
			name: "toml",
			file: "oql.toml",
			content: `
dialect = "postgresql"
driver = "mysql"
dsn = "user:pw@tcp(localhost:3306)/app"
default_schema = "app"
in_clause_parameter_padding = true
max_in_list_size = 500
default_batch_fetch_size = 16
query_timeout = "30s"
plan_cache_size = 64
log_level = "debug"
`,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := Load(writeFile(t, tc.file, tc.content))
			require.NoError(t, err)

			assert.Equal(t, "postgresql", s.Dialect)
			assert.Equal(t, "mysql", s.Driver)
			assert.Equal(t, "app", s.Schema().Schema)
			assert.True(t, s.InClauseParameterPadding)
			assert.Equal(t, 16, s.DefaultBatchFetchSize)
			assert.Equal(t, 64, s.PlanCacheSize)
			// Keys the file leaves out keep their defaults.
			assert.Equal(t, 3, s.MaxFetchDepth)

			timeout, err := s.Timeout()
			require.NoError(t, err)
			assert.Equal(t, 30*time.Second, timeout)
			level, err := s.Level()
			require.NoError(t, err)
			assert.Equal(t, slog.LevelDebug, level)

			d, err := s.TargetDialect()
			require.NoError(t, err)
			assert.Equal(t, "postgresql", d.Name)
			assert.Equal(t, 500, d.MaxInListSize)
		})
	}
}

func TestLoad_EmptyFileIsDefaults(t *testing.T) {
	s, err := Load(writeFile(t, "empty.yml", ""))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), s)
}

func TestLoad_Rejects(t *testing.T) {
	testCases := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{name: "unknown yaml key", file: "a.yaml", content: "dialekt: sqlite\n", want: "dialekt"},
		{name: "unknown toml key", file: "a.toml", content: "dialekt = \"sqlite\"\n", want: "unknown keys: dialekt"},
		{name: "unknown dialect", file: "a.yaml", content: "dialect: oracle\n", want: `unknown dialect "oracle"`},
		{name: "unknown driver", file: "a.yaml", content: "driver: pgx\n", want: `driver "pgx"`},
		{name: "bad timeout", file: "a.toml", content: "query_timeout = \"soon\"\n", want: "query_timeout"},
		{name: "bad batch size", file: "a.yaml", content: "default_batch_fetch_size: 0\n", want: "default_batch_fetch_size"},
		{name: "bad log level", file: "a.yaml", content: "log_level: loud\n", want: "log_level"},
		{name: "unsupported extension", file: "a.json", content: "{}", want: "unsupported settings format"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tc.file, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	s := Defaults()
	s.PlanCacheSize = -1
	s.FetchSize = -1
	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plan_cache_size")
	assert.Contains(t, err.Error(), "fetch_size")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read settings")
}
