package physics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DriverLocal, cfg.Driver)
	assert.InDelta(t, 4.0/60.0, cfg.MaxInterval, 1e-12)
	assert.Equal(t, 100, cfg.StatsWindow)
	assert.Equal(t, Vec3{0, -9.8, 0}, cfg.GravityVec())
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	src := `
driver: worker
worker:
  fps: 30
  interpolate: false
  interp_buffer_size: 3
  stall_timeout: 500ms
gravity: [0, -1.6, 0]
iterations: 5
stats: [console, events]
`
	cfg, err := LoadYAML(strings.NewReader(src))
	require.NoError(t, err)

	assert.Equal(t, DriverWorker, cfg.Driver)
	assert.Equal(t, 30.0, cfg.Worker.FPS)
	assert.False(t, cfg.Worker.Interpolate)
	assert.Equal(t, 3, cfg.Worker.InterpBufferSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Worker.StallTimeout)
	assert.Equal(t, WorkerEngineRigid, cfg.Worker.Engine)
	assert.Equal(t, Vec3{0, -1.6, 0}, cfg.GravityVec())
	assert.Equal(t, 5, cfg.Iterations)
	assert.True(t, cfg.HasStats(StatsConsole))
	assert.True(t, cfg.HasStats(StatsEvents))
	assert.False(t, cfg.HasStats(StatsPanel))
	assert.Equal(t, 0.01, cfg.Friction)
}

func TestLoadYAMLEmptyUsesDefaults(t *testing.T) {
	cfg, err := LoadYAML(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		code   ErrorCode
	}{
		{"unknown driver", func(c *Config) { c.Driver = "bullet" }, ErrorCodeUnknownDriver},
		{"unknown sink", func(c *Config) { c.Stats = []StatsSink{"graphite"} }, ErrorCodeUnknownStatsSink},
		{"zero interval", func(c *Config) { c.MaxInterval = 0 }, ErrorCodeInvalidConfig},
		{"worker engine", func(c *Config) { c.Driver = DriverWorker; c.Worker.Engine = "cannon" }, ErrorCodeUnknownEngine},
		{"worker fps", func(c *Config) { c.Driver = DriverWorker; c.Worker.FPS = 0 }, ErrorCodeInvalidConfig},
		{"network url", func(c *Config) { c.Driver = DriverNetwork }, ErrorCodeInvalidConfig},
		{"ammo sub steps", func(c *Config) { c.Driver = DriverAmmo; c.MaxSubSteps = 0 }, ErrorCodeInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, tt.code, GetErrorCode(err))
			assert.True(t, IsFatal(err))
		})
	}
}

func TestUnknownDriverIsSentinel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Driver = "unknown"
	err := cfg.Validate()
	assert.True(t, errors.Is(err, ErrUnknownDriver))
}

func TestStaticContactMaterial(t *testing.T) {
	cfg := DefaultConfig()
	spec := cfg.StaticContactMaterial()
	assert.Equal(t, 1.0, spec.Friction)
	assert.Equal(t, 0.0, spec.Restitution)
	assert.Equal(t, cfg.ContactEquationStiffness, spec.ContactEquationStiffness)
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := LoadFile("../../../../configs/physync.yaml")
	require.NoError(t, err)
	assert.Equal(t, DriverLocal, cfg.Driver)
	assert.Equal(t, []StatsSink{StatsConsole, StatsPanel}, cfg.Stats)
	assert.Equal(t, 2*time.Second, cfg.Worker.StallTimeout)
	assert.Equal(t, "snappy", cfg.Network.Compression)
	assert.Equal(t, "console", cfg.Log.Encoding)
}
