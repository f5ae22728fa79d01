// Package config loads merge settings from a YAML file and the environment.
//
// Values are layered: defaults, then the file, then environment variables.
// Command-line flags are applied on top by the caller before Validate.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"calmerge/internal/filter"
	"calmerge/internal/models"
	"calmerge/internal/reconciler"
)

// Supported event stores.
const (
	StoreGoogle = "google"
	StoreCalDAV = "caldav"
)

// GoogleConfig holds Google Calendar credentials.
type GoogleConfig struct {
	// CredentialsFile is a service account JSON key. When set it takes
	// precedence over OAuth tokens.
	CredentialsFile string `yaml:"credentials_file"`
	ClientID        string `yaml:"client_id"`
	ClientSecret    string `yaml:"client_secret"`
	// Account selects the token-<account>.json file written by the auth command.
	Account  string `yaml:"account"`
	TokenDir string `yaml:"token_dir"`
}

// CalDAVConfig holds CalDAV credentials. An empty endpoint means iCloud.
type CalDAVConfig struct {
	Endpoint string `yaml:"endpoint"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Config is the complete configuration of a merge.
type Config struct {
	Sources     []string `yaml:"sources"`
	Destination string   `yaml:"destination"`
	Store       string   `yaml:"store"`

	Censor            bool     `yaml:"censor"`
	CensorName        string   `yaml:"censor_name"`
	CensorDescription string   `yaml:"censor_description"`
	Delete            bool     `yaml:"delete"`
	Exclude           []string `yaml:"exclude"`
	Verbose           bool     `yaml:"verbose"`
	DryRun            bool     `yaml:"dry_run"`
	Workers           int      `yaml:"workers"`

	// Watch is the interval between merges. Zero runs once.
	Watch       time.Duration `yaml:"watch"`
	MetricsAddr string        `yaml:"metrics_addr"`
	LogLevel    string        `yaml:"log_level"`

	Google GoogleConfig `yaml:"google"`
	CalDAV CalDAVConfig `yaml:"caldav"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	opts := reconciler.DefaultOptions()
	return &Config{
		Store:      StoreGoogle,
		CensorName: opts.CensorName,
		Delete:     opts.Delete,
		Workers:    opts.Workers,
		LogLevel:   "info",
		Google: GoogleConfig{
			TokenDir: ".",
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, models.NewConfigurationError(fmt.Sprintf("%s: %v", path, err))
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables on cfg. Lists are comma separated.
// Values that cannot be parsed are reported as *models.ConfigurationError.
func (c *Config) ApplyEnv() error {
	var invalid []string

	setString := func(name string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}
	setList := func(name string, dst *[]string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = splitList(v)
		}
	}
	setBool := func(name string, dst *bool) {
		v := strings.TrimSpace(os.Getenv(name))
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			invalid = append(invalid, name)
			return
		}
		*dst = b
	}

	setList("CALMERGE_SOURCES", &c.Sources)
	setString("CALMERGE_DESTINATION", &c.Destination)
	setString("CALMERGE_STORE", &c.Store)
	setBool("CALMERGE_CENSOR", &c.Censor)
	setString("CALMERGE_CENSOR_NAME", &c.CensorName)
	setString("CALMERGE_CENSOR_DESCRIPTION", &c.CensorDescription)
	setBool("CALMERGE_DELETE", &c.Delete)
	setList("CALMERGE_EXCLUDE", &c.Exclude)
	setBool("CALMERGE_VERBOSE", &c.Verbose)
	setBool("CALMERGE_DRY_RUN", &c.DryRun)
	setString("CALMERGE_METRICS_ADDR", &c.MetricsAddr)
	setString("LOG_LEVEL", &c.LogLevel)

	if v := strings.TrimSpace(os.Getenv("CALMERGE_WORKERS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			invalid = append(invalid, "CALMERGE_WORKERS")
		} else {
			c.Workers = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CALMERGE_WATCH")); v != "" {
		d, err := parseInterval(v)
		if err != nil {
			invalid = append(invalid, "CALMERGE_WATCH")
		} else {
			c.Watch = d
		}
	}

	setString("GOOGLE_APPLICATION_CREDENTIALS", &c.Google.CredentialsFile)
	setString("GOOGLE_CLIENT_ID", &c.Google.ClientID)
	setString("GOOGLE_CLIENT_SECRET", &c.Google.ClientSecret)
	setString("CALMERGE_GOOGLE_ACCOUNT", &c.Google.Account)
	setString("CALMERGE_TOKEN_DIR", &c.Google.TokenDir)

	setString("CALDAV_ENDPOINT", &c.CalDAV.Endpoint)
	setString("ICLOUD_USERNAME", &c.CalDAV.Username)
	setString("ICLOUD_APP_SPECIFIC_PASSWORD", &c.CalDAV.Password)

	if len(invalid) > 0 {
		return models.NewConfigurationError("invalid value for " + strings.Join(invalid, ", "))
	}
	return nil
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var problems []string

	if len(c.Sources) == 0 {
		problems = append(problems, "at least one source calendar is required")
	}
	if strings.TrimSpace(c.Destination) == "" {
		problems = append(problems, "destination calendar is required")
	}

	switch c.Store {
	case StoreGoogle:
	case StoreCalDAV:
		if c.CalDAV.Username == "" || c.CalDAV.Password == "" {
			problems = append(problems, "caldav store requires a username and password")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown store %q, want %s or %s", c.Store, StoreGoogle, StoreCalDAV))
	}

	if c.Censor && strings.TrimSpace(c.CensorName) == "" {
		problems = append(problems, "censor name must not be empty when censoring")
	}
	if c.Workers < 1 {
		problems = append(problems, fmt.Sprintf("workers must be at least 1, got %d", c.Workers))
	}
	if c.Watch < 0 {
		problems = append(problems, "watch interval must not be negative")
	}
	if _, err := filter.CompileExclusions(c.Exclude); err != nil {
		var cfgErr *models.ConfigurationError
		if errors.As(err, &cfgErr) {
			problems = append(problems, cfgErr.Problems...)
		} else {
			problems = append(problems, err.Error())
		}
	}

	if len(problems) > 0 {
		return models.NewConfigurationError(problems...)
	}
	return nil
}

// ReconcileOptions returns the reconciler options described by c.
func (c *Config) ReconcileOptions() reconciler.Options {
	return reconciler.Options{
		ExcludePatterns:   c.Exclude,
		Censor:            c.Censor,
		CensorName:        c.CensorName,
		CensorDescription: c.CensorDescription,
		Delete:            c.Delete,
		Verbose:           c.Verbose,
		DryRun:            c.DryRun,
		Workers:           c.Workers,
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseInterval accepts a Go duration or a plain number of seconds.
func parseInterval(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}
