package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calmerge/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calmerge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, StoreGoogle, cfg.Store)
	assert.Equal(t, "Busy", cfg.CensorName)
	assert.True(t, cfg.Delete)
	assert.Equal(t, 1, cfg.Workers)
	assert.Zero(t, cfg.Watch)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
sources: [work@example.com, home@example.com]
destination: merged@example.com
censor: true
exclude: ["private", "OOO"]
workers: 4
watch: 5m
google:
  credentials_file: sa.json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"work@example.com", "home@example.com"}, cfg.Sources)
	assert.Equal(t, "merged@example.com", cfg.Destination)
	assert.True(t, cfg.Censor)
	assert.Equal(t, "Busy", cfg.CensorName)
	assert.True(t, cfg.Delete, "unset keys keep their defaults")
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 5*time.Minute, cfg.Watch)
	assert.Equal(t, "sa.json", cfg.Google.CredentialsFile)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "destination: x\ncensr: true\n"))
	require.Error(t, err)
	assert.True(t, models.IsConfiguration(err))
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.False(t, models.IsConfiguration(err))
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("CALMERGE_SOURCES", "a@example.com, b@example.com,")
	t.Setenv("CALMERGE_DESTINATION", "merged@example.com")
	t.Setenv("CALMERGE_CENSOR", "true")
	t.Setenv("CALMERGE_CENSOR_NAME", "Blocked")
	t.Setenv("CALMERGE_DELETE", "false")
	t.Setenv("CALMERGE_EXCLUDE", "private,lunch")
	t.Setenv("CALMERGE_WORKERS", "8")
	t.Setenv("CALMERGE_WATCH", "300")
	t.Setenv("ICLOUD_USERNAME", "me@icloud.com")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())

	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Sources)
	assert.Equal(t, "merged@example.com", cfg.Destination)
	assert.True(t, cfg.Censor)
	assert.Equal(t, "Blocked", cfg.CensorName)
	assert.False(t, cfg.Delete)
	assert.Equal(t, []string{"private", "lunch"}, cfg.Exclude)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 300*time.Second, cfg.Watch)
	assert.Equal(t, "me@icloud.com", cfg.CalDAV.Username)
}

func TestApplyEnvInvalidValues(t *testing.T) {
	t.Setenv("CALMERGE_CENSOR", "maybe")
	t.Setenv("CALMERGE_WORKERS", "many")

	err := Default().ApplyEnv()
	require.Error(t, err)
	assert.True(t, models.IsConfiguration(err))
	assert.Contains(t, err.Error(), "CALMERGE_CENSOR")
	assert.Contains(t, err.Error(), "CALMERGE_WORKERS")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Sources = []string{"work"}
		cfg.Destination = "merged"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		problem string
	}{
		{name: "no sources", mutate: func(c *Config) { c.Sources = nil }, problem: "source"},
		{name: "no destination", mutate: func(c *Config) { c.Destination = " " }, problem: "destination"},
		{name: "unknown store", mutate: func(c *Config) { c.Store = "exchange" }, problem: "unknown store"},
		{name: "caldav without credentials", mutate: func(c *Config) { c.Store = StoreCalDAV }, problem: "username"},
		{name: "censor without name", mutate: func(c *Config) { c.Censor = true; c.CensorName = "" }, problem: "censor name"},
		{name: "no workers", mutate: func(c *Config) { c.Workers = 0 }, problem: "workers"},
		{name: "negative watch", mutate: func(c *Config) { c.Watch = -time.Second }, problem: "watch"},
		{name: "bad pattern", mutate: func(c *Config) { c.Exclude = []string{"(unclosed"} }, problem: "exclude pattern"},
	}

	require.NoError(t, valid().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, models.IsConfiguration(err))
			assert.Contains(t, err.Error(), tt.problem)
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Workers = 0

	err := cfg.Validate()
	require.Error(t, err)

	var cfgErr *models.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Len(t, cfgErr.Problems, 3)
}

func TestReconcileOptions(t *testing.T) {
	cfg := Default()
	cfg.Censor = true
	cfg.CensorDescription = "private"
	cfg.Exclude = []string{"OOO"}
	cfg.DryRun = true
	cfg.Workers = 3

	opts := cfg.ReconcileOptions()
	assert.True(t, opts.Censor)
	assert.Equal(t, "Busy", opts.CensorName)
	assert.Equal(t, "private", opts.CensorDescription)
	assert.Equal(t, []string{"OOO"}, opts.ExcludePatterns)
	assert.True(t, opts.Delete)
	assert.True(t, opts.DryRun)
	assert.Equal(t, 3, opts.Workers)
}
