// Package config loads the YAML configuration file.
//
// A file is decoded twice: once into an untyped tree that is checked
// against the embedded CUE schema, and once into Config. Defaults and
// environment overrides are applied after the schema check, then the
// cross-field rules the schema cannot express are enforced by Validate.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/certcrawl/internal/canonical"
	"github.com/roach88/certcrawl/internal/crawler"
	"github.com/roach88/certcrawl/internal/fingerprint"
	"github.com/roach88/certcrawl/internal/httpx"
	"github.com/roach88/certcrawl/internal/ledger"
	"github.com/roach88/certcrawl/internal/scheduler"
)

//go:embed schema.cue
var schemaCUE string

// Environment variables that override secrets in the file.
const (
	EnvLedgerAPIKey = "CERTCRAWL_LEDGER_API_KEY"
	EnvPostgresDSN  = "CERTCRAWL_POSTGRES_DSN"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Defaults applied to fields the file leaves out.
const (
	DefaultStorePath   = "certcrawl.db"
	DefaultReasonField = "reason"
)

// Config is the whole configuration file.
type Config struct {
	Ledger    LedgerConfig    `yaml:"ledger"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	HTTP      HTTPConfig      `yaml:"http"`
	Store     StoreConfig     `yaml:"store"`
	Sources   []SourceConfig  `yaml:"sources"`
}

// LedgerConfig identifies the notarization ledger.
type LedgerConfig struct {
	Agent        string    `yaml:"agent"`
	VendorID     string    `yaml:"vendor_id"`
	AssetAddress string    `yaml:"asset_address"`
	APIKey       string    `yaml:"api_key"`
	Timeout      Duration  `yaml:"timeout"`
	Pacing       *Duration `yaml:"pacing"` // nil until defaulted; 0s disables pacing
}

// SchedulerConfig controls cycle timing.
type SchedulerConfig struct {
	Period Duration `yaml:"period"`
}

// HTTPConfig controls record fetches.
type HTTPConfig struct {
	Timeout   Duration `yaml:"timeout"`
	UserAgent string   `yaml:"user_agent"`
}

// StoreConfig selects the cursor store backend.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// SourceConfig describes one exchange feed.
type SourceConfig struct {
	Tag              string   `yaml:"tag"`
	BaseURL          string   `yaml:"base_url"`
	Endpoint         string   `yaml:"endpoint"`
	ReasonField      string   `yaml:"reason_field"`
	TimeField        string   `yaml:"time_field"`
	Period           Duration `yaml:"period"`
	NormalizeUnicode bool     `yaml:"normalize_unicode"`
	AllowCycles      bool     `yaml:"allow_cycles"`
	Enabled          *bool    `yaml:"enabled"`
}

// IsEnabled reports whether the source should be crawled. Sources are
// enabled unless the file says otherwise.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// ValidationError carries every problem found in a configuration file.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration:\n  " + strings.Join(e.Problems, "\n  ")
}

// Load reads and parses path, taking overrides from the process environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, os.LookupEnv)
}

// Parse decodes, schema-checks, defaults, overrides and validates data.
// lookupEnv may be nil to disable environment overrides.
func Parse(data []byte, lookupEnv func(string) (string, bool)) (*Config, error) {
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := checkSchema(tree); err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if lookupEnv != nil {
		cfg.applyEnv(lookupEnv)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func checkSchema(tree any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	data := ctx.Encode(tree)
	if err := data.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	err := def.Unify(data).Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}
	var problems []string
	for _, e := range cueerrors.Errors(err) {
		problems = append(problems, strings.TrimSpace(cueerrors.Details(e, nil)))
	}
	return &ValidationError{Problems: problems}
}

func (c *Config) applyDefaults() {
	if c.Ledger.Timeout == 0 {
		c.Ledger.Timeout = Duration(httpx.DefaultTimeout)
	}
	if c.Ledger.Pacing == nil {
		pacing := Duration(crawler.DefaultPacing)
		c.Ledger.Pacing = &pacing
	}
	if c.Scheduler.Period == 0 {
		c.Scheduler.Period = Duration(scheduler.DefaultPeriod)
	}
	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = Duration(httpx.DefaultTimeout)
	}
	if c.HTTP.UserAgent == "" {
		c.HTTP.UserAgent = httpx.DefaultUserAgent
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverSQLite
	}
	if c.Store.Driver == DriverSQLite && c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}
	for i := range c.Sources {
		s := &c.Sources[i]
		if s.Endpoint == "" {
			s.Endpoint = crawler.DefaultEndpoint
		}
		if s.ReasonField == "" {
			s.ReasonField = DefaultReasonField
		}
		if s.TimeField == "" {
			s.TimeField = fingerprint.DefaultTimeField
		}
	}
}

func (c *Config) applyEnv(lookupEnv func(string) (string, bool)) {
	if v, ok := lookupEnv(EnvLedgerAPIKey); ok && v != "" {
		c.Ledger.APIKey = v
	}
	if v, ok := lookupEnv(EnvPostgresDSN); ok && v != "" {
		c.Store.DSN = v
	}
}

// Validate enforces the rules the schema cannot express.
func (c *Config) Validate() error {
	var problems []string
	if c.Ledger.APIKey == "" {
		problems = append(problems, fmt.Sprintf("ledger.api_key: required (or set %s)", EnvLedgerAPIKey))
	}
	if c.Store.Driver == DriverPostgres && c.Store.DSN == "" {
		problems = append(problems, fmt.Sprintf("store.dsn: required for postgres (or set %s)", EnvPostgresDSN))
	}

	seen := make(map[string]int, len(c.Sources))
	for i, s := range c.Sources {
		key := strings.ToLower(s.Tag)
		if j, dup := seen[key]; dup {
			problems = append(problems, fmt.Sprintf("sources[%d].tag: %q duplicates sources[%d]", i, s.Tag, j))
			continue
		}
		seen[key] = i
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	if _, err := c.Formatter(); err != nil {
		return &ValidationError{Problems: []string{err.Error()}}
	}
	return nil
}

// Strategies returns the fingerprint strategy of every source, enabled or not,
// so that records of a paused source can still be fingerprinted offline.
func (c *Config) Strategies() map[string]fingerprint.Strategy {
	out := make(map[string]fingerprint.Strategy, len(c.Sources))
	for _, s := range c.Sources {
		out[s.Tag] = fingerprint.Strategy{
			ReasonField: s.ReasonField,
			TimeField:   s.TimeField,
			Canonical: canonical.Options{
				AllowCycles:  s.AllowCycles,
				NormalizeNFC: s.NormalizeUnicode,
			},
		}
	}
	return out
}

// Formatter builds the fingerprint registry for every source.
func (c *Config) Formatter() (*fingerprint.Formatter, error) {
	return fingerprint.NewFormatter(c.Strategies())
}

// EnabledSources returns the sources to crawl, in file order.
func (c *Config) EnabledSources() []SourceConfig {
	var out []SourceConfig
	for _, s := range c.Sources {
		if s.IsEnabled() {
			out = append(out, s)
		}
	}
	return out
}

// Source finds a source by tag, ignoring case.
func (c *Config) Source(tag string) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if strings.EqualFold(s.Tag, tag) {
			return s, true
		}
	}
	return SourceConfig{}, false
}

// LedgerClientConfig converts the ledger section for ledger.New.
func (c *Config) LedgerClientConfig() ledger.Config {
	return ledger.Config{
		Agent:        c.Ledger.Agent,
		VendorID:     c.Ledger.VendorID,
		AssetAddress: c.Ledger.AssetAddress,
		APIKey:       c.Ledger.APIKey,
		Timeout:      c.Ledger.Timeout.Std(),
		UserAgent:    c.HTTP.UserAgent,
	}
}

// CrawlerSource converts a source entry for crawler.New.
func (s SourceConfig) CrawlerSource() crawler.Source {
	return crawler.Source{
		Tag:      s.Tag,
		BaseURL:  s.BaseURL,
		Endpoint: s.Endpoint,
		Period:   s.Period.Std(),
	}
}

// Duration is a time.Duration written as a Go duration string ("90s", "1h").
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String implements fmt.Stringer.
func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	if parsed < 0 {
		return errors.New("duration must not be negative")
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}
