// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "UCM_"

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name         string `yaml:"name" env:"NAME"`
	Env          string `yaml:"env" env:"ENV"`
	MetricsAddr  string `yaml:"metrics_addr" env:"METRICS_ADDR"`
	LogLevel     string `yaml:"log_level" env:"LOG_LEVEL"`
	ProgressPath string `yaml:"progress_path" env:"PROGRESS_PATH"`
}

// Ledger points at the units commands are sent through and results read from.
type Ledger struct {
	MUURL     string `yaml:"mu_url" env:"MU_URL"`
	CUURL     string `yaml:"cu_url" env:"CU_URL"`
	StreamURL string `yaml:"stream_url" env:"STREAM_URL"`
	TimeoutMs int    `yaml:"timeout_ms" env:"TIMEOUT_MS"`
	// Window is how many recent messages per process are scanned for matches.
	Window int `yaml:"window" env:"WINDOW"`
}

// Timeout returns the per-request HTTP timeout.
func (l Ledger) Timeout() time.Duration { return time.Duration(l.TimeoutMs) * time.Millisecond }

// Processes names the remote processes and modules operations talk to.
type Processes struct {
	Marketplace     string `yaml:"marketplace" env:"MARKETPLACE"`
	Creator         string `yaml:"creator" env:"CREATOR"`
	OrderbookModule string `yaml:"orderbook_module" env:"ORDERBOOK_MODULE"`
	ActivityModule  string `yaml:"activity_module" env:"ACTIVITY_MODULE"`
	OrderbookSource string `yaml:"orderbook_source" env:"ORDERBOOK_SOURCE"`
	ActivitySource  string `yaml:"activity_source" env:"ACTIVITY_SOURCE"`
}

// Policy bounds one polling loop.
type Policy struct {
	MaxAttempts    int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	DelayMs        int `yaml:"delay_ms" env:"DELAY_MS"`
	InitialDelayMs int `yaml:"initial_delay_ms" env:"INITIAL_DELAY_MS"`
	// TransmitAttempts caps sends of the command itself; only compensation uses it.
	TransmitAttempts int `yaml:"transmit_attempts,omitempty" env:"TRANSMIT_ATTEMPTS"`
}

// Delay is the fixed wait between attempts.
func (p Policy) Delay() time.Duration { return time.Duration(p.DelayMs) * time.Millisecond }

// InitialDelay is the wait before the first attempt.
func (p Policy) InitialDelay() time.Duration {
	return time.Duration(p.InitialDelayMs) * time.Millisecond
}

// Retry holds a policy per kind of wait.
type Retry struct {
	Order           Policy `yaml:"order" envPrefix:"ORDER_"`
	Step            Policy `yaml:"step" envPrefix:"STEP_"`
	Deposit         Policy `yaml:"deposit" envPrefix:"DEPOSIT_"`
	DepositResponse Policy `yaml:"deposit_response" envPrefix:"DEPOSIT_RESPONSE_"`
	Compensation    Policy `yaml:"compensation" envPrefix:"COMPENSATION_"`
}

// Wallet stores encrypted or env-backed signing material metadata.
type Wallet struct {
	PrivateKeyBase58 string `yaml:"private_key_base58" env:"PRIVATE_KEY_BASE58"`
	// KeyEnv names the variable holding the key when PrivateKeyBase58 is empty.
	KeyEnv string `yaml:"key_env" env:"KEY_ENV"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App       App       `yaml:"app" envPrefix:"APP_"`
	Ledger    Ledger    `yaml:"ledger" envPrefix:"LEDGER_"`
	Processes Processes `yaml:"processes" envPrefix:"PROCESS_"`
	Retry     Retry     `yaml:"retry" envPrefix:"RETRY_"`
	Wallet    Wallet    `yaml:"wallet"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "ucm"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Ledger.TimeoutMs == 0 {
		c.Ledger.TimeoutMs = 10000
	}
	if c.Ledger.Window == 0 {
		c.Ledger.Window = 100
	}
	if c.Wallet.KeyEnv == "" {
		c.Wallet.KeyEnv = EnvPrefix + "PRIVATE_KEY_BASE58"
	}
	fillPolicy(&c.Retry.Order, 1000, 1000)
	fillPolicy(&c.Retry.Step, 100, 1000)
	fillPolicy(&c.Retry.Deposit, 10, 1000)
	fillPolicy(&c.Retry.DepositResponse, 30, 1000)
	fillPolicy(&c.Retry.Compensation, 100, 1000)
	if c.Retry.Compensation.TransmitAttempts == 0 {
		c.Retry.Compensation.TransmitAttempts = 1
	}
}

func fillPolicy(p *Policy, attempts, delayMs int) {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = attempts
	}
	if p.DelayMs == 0 {
		p.DelayMs = delayMs
	}
}

// Validate checks the fields every run needs.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{"ledger.mu_url": c.Ledger.MUURL, "ledger.cu_url": c.Ledger.CUURL} {
		if raw == "" {
			return fmt.Errorf("%s is required", name)
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s is not an absolute url: %q", name, raw)
		}
	}
	for name, p := range map[string]Policy{
		"order":            c.Retry.Order,
		"step":             c.Retry.Step,
		"deposit":          c.Retry.Deposit,
		"deposit_response": c.Retry.DepositResponse,
		"compensation":     c.Retry.Compensation,
	} {
		if p.MaxAttempts < 1 || p.DelayMs < 0 || p.InitialDelayMs < 0 {
			return fmt.Errorf("retry.%s: max_attempts must be >= 1 and delays >= 0", name)
		}
	}
	return nil
}

// ParseEnv overlays UCM_* environment variables onto cfg.
func ParseEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads a YAML file from disk, applies environment overrides and
// fills defaults.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := ParseEnv(&config); err != nil {
		return nil, err
	}
	config.ApplyDefaults()
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
