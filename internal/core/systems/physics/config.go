package physics

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/physync/internal/core/observability/log"
)

// StatsSink names an output for performance reports.
type StatsSink string

const (
	StatsConsole StatsSink = "console"
	StatsEvents  StatsSink = "events"
	StatsPanel   StatsSink = "panel"
)

// WorkerEngineRigid is the only engine the worker backend can host.
const WorkerEngineRigid = "rigid"

// NetworkConfig applies to the network driver only.
type NetworkConfig struct {
	// URL selects the transport by scheme: ws://, wss:// or quic://.
	URL                string        `yaml:"url"`
	Compression        string        `yaml:"compression"` // none | snappy | zstd
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	ReconnectInterval  time.Duration `yaml:"reconnect_interval"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

// WorkerConfig applies to the worker driver only.
type WorkerConfig struct {
	FPS              float64       `yaml:"fps"`
	Interpolate      bool          `yaml:"interpolate"`
	InterpBufferSize int           `yaml:"interp_buffer_size"`
	Engine           string        `yaml:"engine"`
	Debug            bool          `yaml:"debug"`
	StallTimeout     time.Duration `yaml:"stall_timeout"`
	CommandQueue     int           `yaml:"command_queue"`
}

// Config is the full option set of the physics system.
type Config struct {
	Driver  DriverKind    `yaml:"driver"`
	Network NetworkConfig `yaml:"network"`
	Worker  WorkerConfig  `yaml:"worker"`

	Gravity                        [3]float64 `yaml:"gravity"`
	Iterations                     int        `yaml:"iterations"`
	Friction                       float64    `yaml:"friction"`
	Restitution                    float64    `yaml:"restitution"`
	ContactEquationStiffness       float64    `yaml:"contact_equation_stiffness"`
	ContactEquationRelaxation      float64    `yaml:"contact_equation_relaxation"`
	FrictionEquationStiffness      float64    `yaml:"friction_equation_stiffness"`
	FrictionEquationRegularization float64    `yaml:"friction_equation_regularization"`

	// MaxInterval caps the seconds simulated by one tick.
	MaxInterval float64 `yaml:"max_interval"`
	Debug       bool    `yaml:"debug"`

	DebugDrawMode DebugDrawMode `yaml:"debug_draw_mode"`
	MaxSubSteps   int           `yaml:"max_sub_steps"`
	FixedTimeStep float64       `yaml:"fixed_time_step"`

	Stats       []StatsSink `yaml:"stats"`
	StatsWindow int         `yaml:"stats_window"`

	Log log.Config `yaml:"log"`
}

// DefaultConfig returns the stock configuration: local driver, earth
// gravity, and a tick never simulating more than four 60 Hz frames.
func DefaultConfig() Config {
	return Config{
		Driver: DriverLocal,
		Network: NetworkConfig{
			Compression:       "none",
			HandshakeTimeout:  5 * time.Second,
			ReconnectInterval: 2 * time.Second,
		},
		Worker: WorkerConfig{
			FPS:              60,
			Interpolate:      true,
			InterpBufferSize: 2,
			Engine:           WorkerEngineRigid,
			StallTimeout:     2 * time.Second,
			CommandQueue:     1024,
		},
		Gravity:                        [3]float64{0, -9.8, 0},
		Iterations:                     10,
		Friction:                       0.01,
		Restitution:                    0.3,
		ContactEquationStiffness:       1e8,
		ContactEquationRelaxation:      3,
		FrictionEquationStiffness:      1e8,
		FrictionEquationRegularization: 3,
		MaxInterval:                    4.0 / 60.0,
		DebugDrawMode:                  DebugNoDebug,
		MaxSubSteps:                    4,
		FixedTimeStep:                  1.0 / 60.0,
		StatsWindow:                    100,
		Log:                            log.Config{Level: "info", Encoding: "json"},
	}
}

// LoadYAML decodes a configuration over the defaults and validates it.
func LoadYAML(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, NewError(ErrorCodeInvalidConfig, "decode physics config", errors.Wrap(err, "yaml"))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, NewError(ErrorCodeInvalidConfig, "open physics config", err)
	}
	defer f.Close()
	return LoadYAML(f)
}

// Validate rejects configurations that cannot start.
func (c Config) Validate() error {
	if !c.Driver.Valid() {
		return NewError(ErrorCodeUnknownDriver, "driver not recognized: "+string(c.Driver), ErrUnknownDriver).
			WithContext("driver", string(c.Driver))
	}
	for _, s := range c.Stats {
		switch s {
		case StatsConsole, StatsEvents, StatsPanel:
		default:
			return NewError(ErrorCodeUnknownStatsSink, "stats sink not recognized: "+string(s), ErrUnknownStatsSink)
		}
	}
	if c.MaxInterval <= 0 {
		return invalid("max_interval must be positive")
	}
	if c.Iterations <= 0 {
		return invalid("iterations must be positive")
	}
	if c.StatsWindow <= 0 {
		return invalid("stats_window must be positive")
	}

	switch c.Driver {
	case DriverWorker:
		if c.Worker.Engine != WorkerEngineRigid {
			return NewError(ErrorCodeUnknownEngine, "worker engine not recognized: "+c.Worker.Engine, ErrUnknownEngine)
		}
		if c.Worker.FPS <= 0 {
			return invalid("worker.fps must be positive")
		}
		if c.Worker.InterpBufferSize < 1 {
			return invalid("worker.interp_buffer_size must be at least 1")
		}
		if c.Worker.CommandQueue < 1 {
			return invalid("worker.command_queue must be at least 1")
		}
	case DriverNetwork:
		if c.Network.URL == "" {
			return NewError(ErrorCodeInvalidConfig, "network driver requires a url", ErrMissingNetworkURL)
		}
		switch c.Network.Compression {
		case "", "none", "snappy", "zstd":
		default:
			return invalid("network.compression must be none, snappy or zstd")
		}
	case DriverAmmo:
		if c.MaxSubSteps < 1 {
			return invalid("max_sub_steps must be at least 1")
		}
		if c.FixedTimeStep <= 0 {
			return invalid("fixed_time_step must be positive")
		}
	}
	return nil
}

// HasStats reports whether sink s is enabled.
func (c Config) HasStats(s StatsSink) bool {
	for _, v := range c.Stats {
		if v == s {
			return true
		}
	}
	return false
}

// GravityVec returns the gravity as a vector.
func (c Config) GravityVec() Vec3 {
	return Vec3(c.Gravity)
}

// EngineConfig derives the Driver.Init options.
func (c Config) EngineConfig() EngineConfig {
	return EngineConfig{
		Gravity:          c.GravityVec(),
		SolverIterations: c.Iterations,
		DebugDrawMode:    c.DebugDrawMode,
		MaxSubSteps:      c.MaxSubSteps,
		FixedTimeStep:    c.FixedTimeStep,
	}
}

// DefaultContactMaterial is the default/default pairing from configuration.
func (c Config) DefaultContactMaterial() ContactMaterialSpec {
	return ContactMaterialSpec{
		Friction:                       c.Friction,
		Restitution:                    c.Restitution,
		ContactEquationStiffness:       c.ContactEquationStiffness,
		ContactEquationRelaxation:      c.ContactEquationRelaxation,
		FrictionEquationStiffness:      c.FrictionEquationStiffness,
		FrictionEquationRegularization: c.FrictionEquationRegularization,
	}
}

// StaticContactMaterial is the static/default pairing: full friction and no
// bounce with the configured equation coefficients.
func (c Config) StaticContactMaterial() ContactMaterialSpec {
	spec := c.DefaultContactMaterial()
	spec.Friction = 1.0
	spec.Restitution = 0.0
	return spec
}

func invalid(msg string) *Error {
	return NewError(ErrorCodeInvalidConfig, msg, ErrInvalidConfig)
}
