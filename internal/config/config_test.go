package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LOCK_BACKEND", "")
	t.Setenv("REDIS_ENABLED", "")
	t.Setenv("EVENTS_REDIS_CHANNEL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "@every 1m", cfg.SLA.SweepSchedule)
	assert.Equal(t, LockBackendMemory, cfg.Lock.Backend)
	assert.Equal(t, 10*time.Second, cfg.Lock.TTL)
	assert.InDelta(t, 0.5, cfg.Routing.ReviewThreshold, 1e-9)
	assert.InDelta(t, 0.8, cfg.Routing.SelfServiceThreshold, 1e-9)
}

func TestLoadBudgetOverrides(t *testing.T) {
	t.Setenv("SLA_TIER2_FIRST_RESPONSE_MINUTES", "30")
	t.Setenv("SLA_TIER2_RESOLUTION_MINUTES", "240")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, TierBudget{FirstResponseMinutes: 30, ResolutionMinutes: 240}, cfg.SLA.Budgets["tier2"])
	_, ok := cfg.SLA.Budgets["tier0"]
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Lock:    LockConfig{Backend: LockBackendMemory},
			Routing: RoutingConfig{ReviewThreshold: 0.5, SelfServiceThreshold: 0.8},
		}
	}

	cases := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"redis lock without redis", func(c *Config) { c.Lock.Backend = LockBackendRedis }, false},
		{"redis lock with redis", func(c *Config) {
			c.Lock.Backend = LockBackendRedis
			c.Redis.Enabled = true
		}, true},
		{"unknown backend", func(c *Config) { c.Lock.Backend = "etcd" }, false},
		{"event channel without redis", func(c *Config) { c.Events.RedisChannel = "events" }, false},
		{"inverted thresholds", func(c *Config) { c.Routing.SelfServiceThreshold = 0.3 }, false},
		{"threshold out of range", func(c *Config) { c.Routing.ReviewThreshold = 1.5 }, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
