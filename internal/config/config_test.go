// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/waypoint-dev/waypoint/internal/config"
	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:18790", cfg.Networking.Listen)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, 60*time.Second, cfg.Authority.CacheTTL)
	assert.Equal(t, 250*time.Millisecond, cfg.Authority.ReadTimeout)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Breaker.BaseCooldown)
	assert.Equal(t, 10*time.Minute, cfg.Breaker.MaxCooldown)
	assert.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 3, cfg.HopGuard.MaxHops)
	assert.Equal(t, 1024, cfg.TraceWriter.BufferSize)
	assert.Equal(t, "chat", cfg.Router.DefaultIntent)
	assert.Equal(t, "WAYPOINT_SECRET_", cfg.Secrets.EnvPrefix)
}

func TestLoad_FromFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "waypoint.yaml")
	content := `
networking:
  listen: "0.0.0.0:9999"
providers:
  anthropic:
    type: anthropic
    secret: anthropic_api_key
  fallback:
    type: local
chains:
  chat: [anthropic, fallback]
breaker:
  base_cooldown: 5s
  max_cooldown: 1m
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9999", cfg.Networking.Listen)
	assert.Equal(t, []string{"anthropic", "fallback"}, cfg.SeedChain("chat"))
	assert.Equal(t, "anthropic_api_key", cfg.Providers["anthropic"].Secret)
	assert.Equal(t, 5*time.Second, cfg.Breaker.BaseCooldown)
	assert.Equal(t, time.Minute, cfg.Breaker.MaxCooldown)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("WAYPOINT_NETWORKING_LISTEN", "10.0.0.1:8080")
	t.Setenv("WAYPOINT_HOPGUARD_MAX_HOPS", "5")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:8080", cfg.Networking.Listen)
	assert.Equal(t, 5, cfg.HopGuard.MaxHops)
}

func TestLoad_ValidationCalledAtLoadTime(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "waypoint.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("storage:\n  backend: postgres\n"), 0o600))

	_, err := config.Load(cfgPath)
	require.Error(t, err)
	assert.True(t, wperr.HasCode(err, wperr.CodeConfigValidateInvalidValue))
	assert.Contains(t, err.Error(), "storage.backend")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, wperr.HasCode(err, wperr.CodeConfigLoadReadFailure))
}

// validConfig returns a config built from the defaults plus one provider chain.
func validConfig(t *testing.T) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.FromViper(v)
	require.NoError(t, err)

	cfg.Providers = map[string]config.ProviderConfig{
		"anthropic": {Type: "anthropic", Secret: "anthropic_api_key"},
		"local":     {Type: "local"},
	}
	cfg.Chains = map[string][]string{"chat": {"anthropic", "local"}}
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.Empty(t, validConfig(t).Validate())
}

func TestValidate_NetworkingListen(t *testing.T) {
	tests := []struct {
		name    string
		listen  string
		wantErr bool
	}{
		{"valid address", "127.0.0.1:8080", false},
		{"valid ipv6", "[::1]:8080", false},
		{"empty listen", "", true},
		{"missing port", "127.0.0.1", true},
		{"port zero", "127.0.0.1:0", true},
		{"port too high", "127.0.0.1:70000", true},
		{"not a number", "127.0.0.1:abc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			cfg.Networking.Listen = tt.listen
			errs := cfg.Validate()
			if tt.wantErr {
				require.NotEmpty(t, errs)
				assert.Contains(t, errs[0].Error(), "networking.listen")
			} else {
				assert.Empty(t, errs)
			}
		})
	}
}

func TestValidate_Providers(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantMsg string
	}{
		{
			name:    "unknown type",
			mutate:  func(c *config.Config) { c.Providers["anthropic"] = config.ProviderConfig{Type: "cohere", Secret: "x"} },
			wantMsg: "providers.anthropic.type",
		},
		{
			name:    "cloud provider without secret",
			mutate:  func(c *config.Config) { c.Providers["anthropic"] = config.ProviderConfig{Type: "anthropic"} },
			wantMsg: "providers.anthropic.secret",
		},
		{
			name: "malformed keyring uri",
			mutate: func(c *config.Config) {
				c.Providers["anthropic"] = config.ProviderConfig{Type: "anthropic", Secret: "keyring://waypoint"}
			},
			wantMsg: "expected keyring://service/key",
		},
		{
			name:    "chain names unknown provider",
			mutate:  func(c *config.Config) { c.Chains["chat"] = []string{"anthropic", "mystery"} },
			wantMsg: `chains.chat[1] references provider "mystery"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			errs := cfg.Validate()
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0].Error(), tt.wantMsg)
		})
	}
}

func TestValidate_KeyringURISecret(t *testing.T) {
	cfg := validConfig(t)
	cfg.Providers["anthropic"] = config.ProviderConfig{Type: "anthropic", Secret: "keyring://waypoint/anthropic_api_key"}
	assert.Empty(t, cfg.Validate())
}

func TestValidate_LocalProviderNeedsNoSecret(t *testing.T) {
	cfg := validConfig(t)
	cfg.Providers["stub"] = config.ProviderConfig{Type: "local"}
	assert.Empty(t, cfg.Validate())
}

func TestValidate_TimingsAndLimits(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantMsg string
	}{
		{"zero attempt timeout", func(c *config.Config) { c.Router.AttemptTimeout = 0 }, "router.attempt_timeout"},
		{"max cooldown below base", func(c *config.Config) { c.Breaker.MaxCooldown = time.Second }, "breaker.max_cooldown"},
		{"down before stale", func(c *config.Config) { c.Health.DownAfter = c.Health.StaleAfter }, "health.down_after"},
		{"zero threshold", func(c *config.Config) { c.Breaker.FailureThreshold = 0 }, "breaker.failure_threshold"},
		{"zero buffer", func(c *config.Config) { c.TraceWriter.BufferSize = 0 }, "tracewriter.buffer_size"},
		{"negative hops", func(c *config.Config) { c.HopGuard.MaxHops = -1 }, "hopguard.max_hops"},
		{"unknown tracing", func(c *config.Config) { c.Telemetry.Tracing = "zipkin" }, "telemetry.tracing"},
		{"empty intent", func(c *config.Config) { c.Router.DefaultIntent = "" }, "router.default_intent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			errs := cfg.Validate()
			require.NotEmpty(t, errs)
			assert.Contains(t, errs[0].Error(), tt.wantMsg)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig(t)
	cfg.Networking.Listen = ""
	cfg.Storage.Backend = "postgres"
	cfg.RateLimit.Burst = 0

	assert.Len(t, cfg.Validate(), 3)
}

func TestDefaultConfigYAMLLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "waypoint.yaml")
	written, err := config.WriteDefault(path)
	require.NoError(t, err)
	require.True(t, written)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"anthropic", "openai"}, cfg.SeedChain("chat"))

	written, err = config.WriteDefault(path)
	require.NoError(t, err)
	assert.False(t, written, "existing file must not be overwritten")
}
