package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"treta/internal/logging"
)

// DefaultFile is read from the working directory when no --config is given.
const DefaultFile = "treta.yml"

// Config models treta.yml. Environment variables and bound flags override
// the file.
type Config struct {
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`
	Timezone string `yaml:"timezone"`
	ScanHour int    `yaml:"scan_hour"`

	HTTP struct {
		Addr                string `yaml:"addr"`
		MaxRequestBodyBytes int64  `yaml:"max_request_body_bytes"`
	} `yaml:"http"`
	Auth struct {
		APIToken     string `yaml:"api_token"`
		JWTSecret    string `yaml:"jwt_secret"`
		DevMode      bool   `yaml:"dev_mode"`
		RequireToken bool   `yaml:"require_token"`
	} `yaml:"auth"`
	Autonomy struct {
		Mode                    string `yaml:"mode"`
		ImpactThreshold         int    `yaml:"impact_threshold"`
		MaxAutoExecutionsPer24h int    `yaml:"max_auto_executions_per_24h"`
	} `yaml:"autonomy"`
	Bus struct {
		CascadeBudget int `yaml:"cascade_budget"`
	} `yaml:"bus"`
	Integrity struct {
		CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
	} `yaml:"integrity"`
	Strategy struct {
		CooldownSeconds     float64 `yaml:"cooldown_seconds"`
		LoopIntervalSeconds int     `yaml:"loop_interval_seconds"`
		MaxPendingActions   int     `yaml:"max_pending_actions"`
	} `yaml:"strategy"`
	Execution struct {
		DefaultTimeoutSeconds int            `yaml:"default_timeout_seconds"`
		Timeouts              map[string]int `yaml:"timeouts"`
		BreakerFailures       int            `yaml:"breaker_failures"`
		BreakerWindowSeconds  int            `yaml:"breaker_window_seconds"`
	} `yaml:"execution"`
	Integrations Integrations `yaml:"integrations"`
}

type Integrations struct {
	LLM struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
		Model   string `yaml:"model"`
	} `yaml:"llm"`
	Gumroad struct {
		BaseURL     string `yaml:"base_url"`
		AccessToken string `yaml:"access_token"`
	} `yaml:"gumroad"`
	Reddit struct {
		BaseURL       string   `yaml:"base_url"`
		Subreddits    []string `yaml:"subreddits"`
		PainThreshold int      `yaml:"pain_threshold"`
	} `yaml:"reddit"`
	ExternalTasks struct {
		BaseURL        string `yaml:"base_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"external_tasks"`
	BreakerFailures    int `yaml:"breaker_failures"`
	BreakerOpenSeconds int `yaml:"breaker_open_seconds"`
}

var autonomyModes = map[string]bool{"manual": true, "partial": true, "disabled": true}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// Load reads path over the defaults, applies the overlay of v and
// validates the result. A missing file is only an error when path was
// given explicitly.
func Load(path string, v *viper.Viper) (*Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config yaml %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if v == nil {
		v = viper.New()
	}
	if err := cfg.Overlay(v); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type binding struct {
	key  string
	envs []string
	set  func(c *Config, v *viper.Viper, key string)
}

func str(f func(*Config) *string) func(*Config, *viper.Viper, string) {
	return func(c *Config, v *viper.Viper, key string) { *f(c) = strings.TrimSpace(v.GetString(key)) }
}

func integer(f func(*Config) *int) func(*Config, *viper.Viper, string) {
	return func(c *Config, v *viper.Viper, key string) { *f(c) = v.GetInt(key) }
}

func boolean(f func(*Config) *bool) func(*Config, *viper.Viper, string) {
	return func(c *Config, v *viper.Viper, key string) { *f(c) = v.GetBool(key) }
}

var bindings = []binding{
	{"data_dir", []string{"TRETA_DATA_DIR"}, str(func(c *Config) *string { return &c.DataDir })},
	{"log_level", []string{"TRETA_LOG_LEVEL"}, str(func(c *Config) *string { return &c.LogLevel })},
	{"timezone", []string{"TRETA_TIMEZONE"}, str(func(c *Config) *string { return &c.Timezone })},
	{"scan_hour", []string{"TRETA_SCAN_HOUR"}, integer(func(c *Config) *int { return &c.ScanHour })},
	{"http.addr", []string{"TRETA_HTTP_ADDR"}, str(func(c *Config) *string { return &c.HTTP.Addr })},
	{"http.max_request_body_bytes", []string{"MAX_REQUEST_BODY_BYTES"}, func(c *Config, v *viper.Viper, key string) {
		c.HTTP.MaxRequestBodyBytes = v.GetInt64(key)
	}},
	{"auth.api_token", []string{"API_TOKEN"}, str(func(c *Config) *string { return &c.Auth.APIToken })},
	{"auth.jwt_secret", []string{"TRETA_JWT_SECRET"}, str(func(c *Config) *string { return &c.Auth.JWTSecret })},
	{"auth.dev_mode", []string{"TRETA_DEV_MODE"}, boolean(func(c *Config) *bool { return &c.Auth.DevMode })},
	{"auth.require_token", []string{"TRETA_REQUIRE_TOKEN"}, boolean(func(c *Config) *bool { return &c.Auth.RequireToken })},
	{"autonomy.mode", []string{"AUTONOMY_MODE"}, str(func(c *Config) *string { return &c.Autonomy.Mode })},
	{"strategy.cooldown_seconds", []string{"TRETA_STRATEGY_COOLDOWN_SECONDS"}, func(c *Config, v *viper.Viper, key string) {
		c.Strategy.CooldownSeconds = v.GetFloat64(key)
	}},
	{"integrations.llm.base_url", []string{"TRETA_LLM_BASE_URL"}, str(func(c *Config) *string { return &c.Integrations.LLM.BaseURL })},
	{"integrations.llm.api_key", []string{"TRETA_LLM_API_KEY"}, str(func(c *Config) *string { return &c.Integrations.LLM.APIKey })},
	{"integrations.llm.model", []string{"TRETA_LLM_MODEL"}, str(func(c *Config) *string { return &c.Integrations.LLM.Model })},
	{"integrations.gumroad.access_token", []string{"GUMROAD_ACCESS_TOKEN"}, str(func(c *Config) *string { return &c.Integrations.Gumroad.AccessToken })},
	{"integrations.external_tasks.base_url", []string{"TRETA_EXTERNAL_TASKS_URL"}, str(func(c *Config) *string { return &c.Integrations.ExternalTasks.BaseURL })},
}

// Overlay applies every environment variable and flag bound in v. Only keys
// that are actually set override the file.
func (c *Config) Overlay(v *viper.Viper) error {
	for _, b := range bindings {
		if err := v.BindEnv(append([]string{b.key}, b.envs...)...); err != nil {
			return fmt.Errorf("bind %s: %w", b.key, err)
		}
		if v.IsSet(b.key) {
			b.set(c, v, b.key)
		}
	}
	return nil
}

// Validate enforces the documented ranges.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config.data_dir is required")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config.log_level: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.ScanHour < 0 || c.ScanHour > 23 {
		return fmt.Errorf("config.scan_hour must be within 0..23, got %d", c.ScanHour)
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return fmt.Errorf("config.http.addr is required")
	}
	if c.HTTP.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config.http.max_request_body_bytes must be positive")
	}
	if !autonomyModes[c.Autonomy.Mode] {
		return fmt.Errorf("config.autonomy.mode must be manual, partial or disabled, got %q", c.Autonomy.Mode)
	}
	if c.Autonomy.ImpactThreshold < 4 || c.Autonomy.ImpactThreshold > 8 {
		return fmt.Errorf("config.autonomy.impact_threshold must be within 4..8, got %d", c.Autonomy.ImpactThreshold)
	}
	if c.Autonomy.MaxAutoExecutionsPer24h < 1 || c.Autonomy.MaxAutoExecutionsPer24h > 5 {
		return fmt.Errorf("config.autonomy.max_auto_executions_per_24h must be within 1..5, got %d", c.Autonomy.MaxAutoExecutionsPer24h)
	}
	if c.Bus.CascadeBudget <= 0 {
		return fmt.Errorf("config.bus.cascade_budget must be positive")
	}
	if c.Integrity.CacheTTLSeconds < 0 {
		return fmt.Errorf("config.integrity.cache_ttl_seconds must not be negative")
	}
	if c.Strategy.CooldownSeconds < 0 {
		return fmt.Errorf("config.strategy.cooldown_seconds must not be negative")
	}
	if c.Strategy.LoopIntervalSeconds <= 0 {
		return fmt.Errorf("config.strategy.loop_interval_seconds must be positive")
	}
	if c.Strategy.MaxPendingActions <= 0 {
		return fmt.Errorf("config.strategy.max_pending_actions must be positive")
	}
	if c.Execution.DefaultTimeoutSeconds <= 0 {
		return fmt.Errorf("config.execution.default_timeout_seconds must be positive")
	}
	for typ, secs := range c.Execution.Timeouts {
		if secs <= 0 {
			return fmt.Errorf("config.execution.timeouts.%s must be positive", typ)
		}
	}
	if c.Execution.BreakerFailures <= 0 || c.Execution.BreakerWindowSeconds <= 0 {
		return fmt.Errorf("config.execution breaker settings must be positive")
	}
	if p := c.Integrations.Reddit.PainThreshold; p < 0 || p > 100 {
		return fmt.Errorf("config.integrations.reddit.pain_threshold must be within 0..100, got %d", p)
	}
	return nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config.timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func seconds(n float64) time.Duration {
	return time.Duration(n * float64(time.Second))
}

func (c *Config) Cooldown() time.Duration     { return seconds(c.Strategy.CooldownSeconds) }
func (c *Config) LoopInterval() time.Duration { return seconds(float64(c.Strategy.LoopIntervalSeconds)) }
func (c *Config) IntegrityTTL() time.Duration { return seconds(float64(c.Integrity.CacheTTLSeconds)) }

// ExecutionTimeouts returns the per action type timeouts.
func (c *Config) ExecutionTimeouts() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.Execution.Timeouts))
	for typ, secs := range c.Execution.Timeouts {
		out[typ] = seconds(float64(secs))
	}
	return out
}

// Path resolves a file name inside the data directory.
func (c *Config) Path(name string) string {
	return filepath.Join(c.DataDir, name)
}

const defaultTemplate = `data_dir: ./.treta_data
log_level: info
timezone: UTC
scan_hour: 9

http:
  addr: 127.0.0.1:8787
  max_request_body_bytes: 1048576

auth:
  api_token: ""
  jwt_secret: ""
  dev_mode: false
  require_token: false

autonomy:
  mode: manual
  impact_threshold: 6
  max_auto_executions_per_24h: 3

bus:
  cascade_budget: 64

integrity:
  cache_ttl_seconds: 15

strategy:
  cooldown_seconds: 1
  loop_interval_seconds: 300
  max_pending_actions: 20

execution:
  default_timeout_seconds: 30
  timeouts:
    queue_external_task: 15
    external_publish: 15
    external_price_update: 15
  breaker_failures: 3
  breaker_window_seconds: 600

integrations:
  llm:
    base_url: https://api.openai.com/v1
    model: gpt-4o-mini
  gumroad:
    base_url: https://api.gumroad.com
  reddit:
    base_url: https://www.reddit.com
    subreddits: [UGCcreators, freelance, ContentCreators, smallbusiness]
    pain_threshold: 60
  external_tasks:
    timeout_seconds: 15
  breaker_failures: 5
  breaker_open_seconds: 30
`
