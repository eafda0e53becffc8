package liveness

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero cooldown", func(c *Config) { c.Cooldown = 0 }, false},
		{"negative tolerance", func(c *Config) { c.FrontToleranceDegrees = -1 }, true},
		{"turn equal to tolerance", func(c *Config) { c.TurnThresholdDegrees = 12 }, true},
		{"turn below tolerance", func(c *Config) { c.TurnThresholdDegrees = 10 }, true},
		{"nan turn", func(c *Config) { c.TurnThresholdDegrees = math.NaN() }, true},
		{"smile above one", func(c *Config) { c.SmileThreshold = 1.1 }, true},
		{"negative smile", func(c *Config) { c.SmileThreshold = -0.1 }, true},
		{"negative cooldown", func(c *Config) { c.Cooldown = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SmileThreshold = 2

	m, err := New(cfg)
	assert.Nil(t, m)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestCooldownGate(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	gate := CooldownGate{Duration: 2 * time.Second}

	s := NewSession()
	assert.True(t, gate.IsOpen(s, base), "no prior transition")

	s.LastAdvanceAt = &base
	assert.False(t, gate.IsOpen(s, base))
	assert.False(t, gate.IsOpen(s, base.Add(1999*time.Millisecond)))
	assert.True(t, gate.IsOpen(s, base.Add(2*time.Second)), "boundary is inclusive")
	assert.True(t, gate.IsOpen(s, base.Add(time.Minute)))

	assert.Equal(t, 1500*time.Millisecond, gate.Remaining(s, base.Add(500*time.Millisecond)))
	assert.Zero(t, gate.Remaining(s, base.Add(3*time.Second)))
}
