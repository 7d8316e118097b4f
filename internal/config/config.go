// Package config loads Dori's YAML configuration. Secrets are referenced as
// ${VAR} and expanded from the environment at load time.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Reasoner  ReasonerConfig  `yaml:"reasoner"`
	Store     StoreConfig     `yaml:"store"`
	Cache     CacheConfig     `yaml:"cache"`
	Tools     ToolsConfig     `yaml:"tools"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Persona   PersonaConfig   `yaml:"persona"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Digests   []DigestConfig  `yaml:"digests" validate:"dive"`
}

type ReasonerConfig struct {
	Primary      string                   `yaml:"primary" validate:"required"`
	Fallbacks    []string                 `yaml:"fallbacks"`
	Backends     map[string]BackendConfig `yaml:"backends" validate:"required,min=1,dive"`
	Timeout      time.Duration            `yaml:"timeout" validate:"gte=0"`
	MaxRetries   int                      `yaml:"max_retries" validate:"gte=0,lte=5"`
	RetryBackoff time.Duration            `yaml:"retry_backoff" validate:"gte=0"`
	Cooldowns    CooldownConfig           `yaml:"cooldowns"`
}

type BackendConfig struct {
	Kind    string `yaml:"kind" validate:"omitempty,oneof=gemini openai anthropic"`
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	// APIKey may be empty; the agent then answers with the not-configured
	// reply instead of failing to start.
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type CooldownConfig struct {
	Initial    time.Duration `yaml:"initial" validate:"gte=0"`
	Max        time.Duration `yaml:"max" validate:"gte=0"`
	Multiplier int           `yaml:"multiplier" validate:"gte=0"`
}

type StoreConfig struct {
	Driver       string `yaml:"driver" validate:"oneof=sqlite postgres"`
	DataDir      string `yaml:"data_dir"`
	DSN          string `yaml:"dsn" validate:"required_if=Driver postgres"`
	MaxOpenConns int    `yaml:"max_open_conns" validate:"gte=0"`
}

type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr" validate:"required_if=Enabled true"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db" validate:"gte=0"`
	TTL      time.Duration `yaml:"ttl" validate:"gte=0"`
}

type ToolsConfig struct {
	UnscopedLimit     int           `yaml:"unscoped_limit" validate:"gte=1"`
	ScopedLimit       int           `yaml:"scoped_limit" validate:"gte=1"`
	CertificateWindow time.Duration `yaml:"certificate_window" validate:"gt=0"`
	MaxResultBytes    int           `yaml:"max_result_bytes" validate:"gte=1024"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr" validate:"required"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

type PersonaConfig struct {
	Name    string   `yaml:"name"`
	Company string   `yaml:"company"`
	Tone    string   `yaml:"tone"`
	Rules   []string `yaml:"rules"`
}

type SchedulerConfig struct {
	// Timezone is an IANA zone name; empty means the host's local zone.
	Timezone   string        `yaml:"timezone"`
	RunTimeout time.Duration `yaml:"run_timeout" validate:"gte=0"`
}

// Location resolves Timezone.
func (s SchedulerConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}

// DigestConfig is a question asked on a cron schedule, e.g. a weekday
// morning arrears summary. Paused digests are loaded but not scheduled until
// resumed.
type DigestConfig struct {
	Name     string         `yaml:"name" validate:"required"`
	Schedule string         `yaml:"schedule" validate:"required"`
	Question string         `yaml:"question" validate:"required"`
	Context  map[string]any `yaml:"context"`
	Paused   bool           `yaml:"paused"`
}

// Chain returns the primary backend followed by its fallbacks, without
// duplicates.
func (r ReasonerConfig) Chain() []string {
	seen := map[string]bool{}
	out := make([]string, 0, 1+len(r.Fallbacks))
	for _, name := range append([]string{r.Primary}, r.Fallbacks...) {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func Default() *Config {
	return &Config{
		Reasoner: ReasonerConfig{
			Primary: "gemini",
			Backends: map[string]BackendConfig{
				"gemini": {Kind: "gemini", APIKey: "${GEMINI_API_KEY}"},
			},
			Timeout:      30 * time.Second,
			MaxRetries:   1,
			RetryBackoff: 500 * time.Millisecond,
			Cooldowns: CooldownConfig{
				Initial:    30 * time.Second,
				Max:        10 * time.Minute,
				Multiplier: 4,
			},
		},
		Store: StoreConfig{Driver: "sqlite", DataDir: "./data", MaxOpenConns: 10},
		Cache: CacheConfig{Addr: "localhost:6379", TTL: time.Minute},
		Tools: ToolsConfig{
			UnscopedLimit:     5,
			ScopedLimit:       50,
			CertificateWindow: 30 * 24 * time.Hour,
			MaxResultBytes:    16 * 1024,
		},
		Server:    ServerConfig{Addr: ":8080"},
		Log:       LogConfig{Level: "info", Format: "text"},
		Scheduler: SchedulerConfig{RunTimeout: 2 * time.Minute},
	}
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)}`)

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSecrets resolves ${VAR} references. An API key whose variable is
// unset becomes empty so the backend reports itself as not configured.
func expandSecrets(cfg *Config) {
	for name, b := range cfg.Reasoner.Backends {
		b.BaseURL = expandEnv(b.BaseURL)
		b.APIKey = expandEnv(b.APIKey)
		if envPattern.MatchString(b.APIKey) {
			b.APIKey = ""
		}
		cfg.Reasoner.Backends[name] = b
	}
	cfg.Store.DSN = expandEnv(cfg.Store.DSN)
	cfg.Cache.Addr = expandEnv(cfg.Cache.Addr)
	cfg.Cache.Password = expandEnv(cfg.Cache.Password)
}

// Load reads path. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Parse(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes data over the defaults, expands secrets and validates the
// result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	// Backends are replaced, not merged into the default map.
	defaultBackends := cfg.Reasoner.Backends
	cfg.Reasoner.Backends = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if len(cfg.Reasoner.Backends) == 0 {
		cfg.Reasoner.Backends = defaultBackends
	}
	expandSecrets(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation error: %w", err)
	}
	for _, name := range c.Reasoner.Chain() {
		if _, ok := c.Reasoner.Backends[name]; !ok {
			return fmt.Errorf("reasoner backend %q is not defined under reasoner.backends", name)
		}
	}
	if c.Tools.ScopedLimit < c.Tools.UnscopedLimit {
		return fmt.Errorf("tools.scoped_limit (%d) must not be below tools.unscoped_limit (%d)",
			c.Tools.ScopedLimit, c.Tools.UnscopedLimit)
	}
	if _, err := c.Scheduler.Location(); err != nil {
		return err
	}
	names := map[string]bool{}
	for _, d := range c.Digests {
		if names[d.Name] {
			return fmt.Errorf("duplicate digest %q", d.Name)
		}
		names[d.Name] = true
	}
	return nil
}
