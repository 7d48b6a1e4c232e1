// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package config

import (
	"errors"
	"net"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/waypoint-dev/waypoint/internal/secrets"
	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

// EnvPrefix is the prefix for environment overrides, e.g. WAYPOINT_NETWORKING_LISTEN.
const EnvPrefix = "WAYPOINT"

// ProviderTypes lists the provider adapters the gateway can build.
var ProviderTypes = []string{"anthropic", "openai", "openrouter", "google", "local"}

// Config is the top-level Waypoint configuration.
type Config struct {
	DataDir     string                    `mapstructure:"data_dir"`
	Networking  NetworkingConfig          `mapstructure:"networking"`
	Storage     StorageConfig             `mapstructure:"storage"`
	Authority   AuthorityConfig           `mapstructure:"authority"`
	Providers   map[string]ProviderConfig `mapstructure:"providers"`
	Chains      map[string][]string       `mapstructure:"chains"`
	Router      RouterConfig              `mapstructure:"router"`
	Breaker     BreakerConfig             `mapstructure:"breaker"`
	Health      HealthConfig              `mapstructure:"health"`
	RateLimit   RateLimitConfig           `mapstructure:"ratelimit"`
	HopGuard    HopGuardConfig            `mapstructure:"hopguard"`
	TraceWriter TraceWriterConfig         `mapstructure:"tracewriter"`
	Secrets     SecretsConfig             `mapstructure:"secrets"`
	Telemetry   TelemetryConfig           `mapstructure:"telemetry"`
}

// NetworkingConfig controls how the gateway listens for connections.
type NetworkingConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	// TrustedProxies lists CIDRs whose X-Forwarded-For header is believed
	// when identifying callers. Empty means forwarded headers are ignored.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// StorageConfig selects the authoritative-store backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// AuthorityConfig tunes the cached client in front of the authoritative store.
type AuthorityConfig struct {
	CacheTTL     time.Duration   `mapstructure:"cache_ttl"`
	ReadTimeout  time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout time.Duration   `mapstructure:"write_timeout"`
	LKGPath      string          `mapstructure:"lkg_path"`
	Retention    RetentionConfig `mapstructure:"retention"`
}

// RetentionConfig sets how long decision traces are kept, per decision type.
type RetentionConfig struct {
	Routing  time.Duration `mapstructure:"routing"`
	OpsQuery time.Duration `mapstructure:"ops_query"`
	Policy   time.Duration `mapstructure:"policy"`
}

// ProviderConfig declares one provider adapter. Secret names the credential
// handed to the secret resolver, or is a keyring://service/key reference;
// local providers need none.
type ProviderConfig struct {
	Type     string `mapstructure:"type"`
	Secret   string `mapstructure:"secret"`
	Endpoint string `mapstructure:"endpoint"`
	Model    string `mapstructure:"model"`
}

// RouterConfig controls provider attempts.
type RouterConfig struct {
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	DefaultIntent  string        `mapstructure:"default_intent"`
}

// BreakerConfig sets per-provider circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	FailureWindow    time.Duration `mapstructure:"failure_window"`
	BaseCooldown     time.Duration `mapstructure:"base_cooldown"`
	MaxCooldown      time.Duration `mapstructure:"max_cooldown"`
}

// HealthConfig sets the timing thresholds of the health state machine.
type HealthConfig struct {
	StaleAfter      time.Duration `mapstructure:"stale_after"`
	DownAfter       time.Duration `mapstructure:"down_after"`
	DegradedTimeout time.Duration `mapstructure:"degraded_timeout"`
	RecoveryProbes  int           `mapstructure:"recovery_probes"`
	HighLatency     time.Duration `mapstructure:"high_latency"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
}

// RateLimitConfig sets per-caller admission limits.
type RateLimitConfig struct {
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	Burst             int    `mapstructure:"burst"`
	MaxCallers        int    `mapstructure:"max_callers"`
	CallerHeader      string `mapstructure:"caller_header"`
}

// HopGuardConfig bounds request forwarding depth.
type HopGuardConfig struct {
	MaxHops int `mapstructure:"max_hops"`
}

// TraceWriterConfig sizes the decision trace buffer and its flush cadence.
type TraceWriterConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// SecretsConfig locates the layered secret sources.
type SecretsConfig struct {
	KeyringService string        `mapstructure:"keyring_service"`
	VaultFile      string        `mapstructure:"vault_file"`
	EnvPrefix      string        `mapstructure:"env_prefix"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

// TelemetryConfig selects the trace exporter.
type TelemetryConfig struct {
	Tracing string `mapstructure:"tracing"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("networking.listen", "127.0.0.1:18790")
	v.SetDefault("networking.cors_origins", []string{"http://localhost:5173"})
	v.SetDefault("networking.trusted_proxies", []string{})
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.path", "waypoint.db")
	v.SetDefault("authority.cache_ttl", 60*time.Second)
	v.SetDefault("authority.read_timeout", 250*time.Millisecond)
	v.SetDefault("authority.write_timeout", time.Second)
	v.SetDefault("authority.lkg_path", "")
	v.SetDefault("authority.retention.routing", 720*time.Hour)
	v.SetDefault("authority.retention.ops_query", 168*time.Hour)
	v.SetDefault("authority.retention.policy", 2160*time.Hour)
	v.SetDefault("router.attempt_timeout", 20*time.Second)
	v.SetDefault("router.default_intent", "chat")
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.failure_window", 60*time.Second)
	v.SetDefault("breaker.base_cooldown", 30*time.Second)
	v.SetDefault("breaker.max_cooldown", 10*time.Minute)
	v.SetDefault("health.stale_after", 30*time.Second)
	v.SetDefault("health.down_after", 2*time.Minute)
	v.SetDefault("health.degraded_timeout", 5*time.Minute)
	v.SetDefault("health.recovery_probes", 3)
	v.SetDefault("health.high_latency", 10*time.Second)
	v.SetDefault("health.sweep_interval", 5*time.Second)
	v.SetDefault("ratelimit.requests_per_minute", 60)
	v.SetDefault("ratelimit.burst", 60)
	v.SetDefault("ratelimit.max_callers", 10000)
	v.SetDefault("ratelimit.caller_header", "X-Caller-ID")
	v.SetDefault("hopguard.max_hops", 3)
	v.SetDefault("tracewriter.buffer_size", 1024)
	v.SetDefault("tracewriter.batch_size", 64)
	v.SetDefault("tracewriter.flush_interval", time.Second)
	v.SetDefault("secrets.keyring_service", "waypoint")
	v.SetDefault("secrets.vault_file", "")
	v.SetDefault("secrets.env_prefix", "WAYPOINT_SECRET_")
	v.SetDefault("secrets.cache_ttl", 30*time.Second)
	v.SetDefault("telemetry.tracing", "none")
}

// SetupEnv binds WAYPOINT_* environment variables onto v.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, wperr.Errorf(wperr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, wperr.Errorf(wperr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, wperr.Errorf(wperr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors.
// It returns a slice of all validation errors found, collecting all issues
// rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateNetworking()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateProviders()...)
	errs = append(errs, c.validateChains()...)
	errs = append(errs, c.validateTimings()...)
	errs = append(errs, c.validateLimits()...)

	if !slices.Contains([]string{"none", "stdout"}, c.Telemetry.Tracing) {
		errs = append(errs, invalid("telemetry.tracing must be one of [none, stdout], got %q", c.Telemetry.Tracing))
	}

	return errs
}

func (c *Config) validateNetworking() []error {
	if c.Networking.Listen == "" {
		return []error{invalid("networking.listen must not be empty")}
	}

	_, portStr, err := net.SplitHostPort(c.Networking.Listen)
	if err != nil {
		return []error{invalid("networking.listen must be a valid host:port address, got %q: %w", c.Networking.Listen, err)}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return []error{invalid("networking.listen port must be a number, got %q", portStr)}
	}
	if port < 1 || port > 65535 {
		return []error{invalid("networking.listen port must be between 1 and 65535, got %d", port)}
	}
	return nil
}

func (c *Config) validateStorage() []error {
	if c.Storage.Backend != "sqlite" {
		return []error{invalid("storage.backend must be one of [sqlite], got %q", c.Storage.Backend)}
	}
	return nil
}

func (c *Config) validateProviders() []error {
	var errs []error

	for _, id := range sortedKeys(c.Providers) {
		p := c.Providers[id]
		if !slices.Contains(ProviderTypes, p.Type) {
			errs = append(errs, invalid("providers.%s.type must be one of %v, got %q", id, ProviderTypes, p.Type))
			continue
		}
		if p.Type != "local" && p.Secret == "" {
			errs = append(errs, invalid("providers.%s.secret must name a credential", id))
		}
		if secrets.IsKeyringURI(p.Secret) {
			if _, _, err := secrets.ParseKeyringURI(p.Secret); err != nil {
				errs = append(errs, invalid("providers.%s.secret: %v", id, err))
			}
		}
	}

	return errs
}

func (c *Config) validateChains() []error {
	var errs []error

	for _, intent := range sortedKeys(c.Chains) {
		for i, id := range c.Chains[intent] {
			// Only cross-reference when a providers section exists; chains may
			// also name providers published solely by the authoritative store.
			if c.Providers == nil {
				continue
			}
			if _, ok := c.Providers[id]; !ok {
				errs = append(errs, invalid("chains.%s[%d] references provider %q which is not configured", intent, i, id))
			}
		}
	}

	if c.Router.DefaultIntent == "" {
		errs = append(errs, invalid("router.default_intent must not be empty"))
	}

	return errs
}

func (c *Config) validateTimings() []error {
	var errs []error

	positive := []struct {
		key string
		val time.Duration
	}{
		{"authority.cache_ttl", c.Authority.CacheTTL},
		{"authority.read_timeout", c.Authority.ReadTimeout},
		{"authority.write_timeout", c.Authority.WriteTimeout},
		{"router.attempt_timeout", c.Router.AttemptTimeout},
		{"breaker.failure_window", c.Breaker.FailureWindow},
		{"breaker.base_cooldown", c.Breaker.BaseCooldown},
		{"health.stale_after", c.Health.StaleAfter},
		{"health.down_after", c.Health.DownAfter},
		{"health.degraded_timeout", c.Health.DegradedTimeout},
		{"health.sweep_interval", c.Health.SweepInterval},
		{"tracewriter.flush_interval", c.TraceWriter.FlushInterval},
	}
	for _, p := range positive {
		if p.val <= 0 {
			errs = append(errs, invalid("%s must be greater than 0, got %s", p.key, p.val))
		}
	}

	if c.Breaker.MaxCooldown < c.Breaker.BaseCooldown {
		errs = append(errs, invalid("breaker.max_cooldown (%s) must not be less than breaker.base_cooldown (%s)",
			c.Breaker.MaxCooldown, c.Breaker.BaseCooldown))
	}
	if c.Health.DownAfter <= c.Health.StaleAfter {
		errs = append(errs, invalid("health.down_after (%s) must be greater than health.stale_after (%s)",
			c.Health.DownAfter, c.Health.StaleAfter))
	}

	return errs
}

func (c *Config) validateLimits() []error {
	var errs []error

	atLeastOne := []struct {
		key string
		val int
	}{
		{"breaker.failure_threshold", c.Breaker.FailureThreshold},
		{"health.recovery_probes", c.Health.RecoveryProbes},
		{"ratelimit.requests_per_minute", c.RateLimit.RequestsPerMinute},
		{"ratelimit.burst", c.RateLimit.Burst},
		{"ratelimit.max_callers", c.RateLimit.MaxCallers},
		{"tracewriter.buffer_size", c.TraceWriter.BufferSize},
		{"tracewriter.batch_size", c.TraceWriter.BatchSize},
	}
	for _, l := range atLeastOne {
		if l.val < 1 {
			errs = append(errs, invalid("%s must be at least 1, got %d", l.key, l.val))
		}
	}

	if c.HopGuard.MaxHops < 0 {
		errs = append(errs, invalid("hopguard.max_hops must not be negative, got %d", c.HopGuard.MaxHops))
	}

	return errs
}

// SeedChain returns the configured provider ids for intent, if any.
func (c *Config) SeedChain(intent string) []string {
	return slices.Clone(c.Chains[intent])
}

func invalid(format string, args ...any) error {
	return wperr.Errorf(wperr.CodeConfigValidateInvalidValue, "config: "+format, args...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
