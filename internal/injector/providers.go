package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/physync/internal/core/events/bus"
	"github.com/zeusync/physync/internal/core/observability/log"
	"github.com/zeusync/physync/internal/core/systems"
	"github.com/zeusync/physync/internal/core/systems/physics"
)

// PhysicsSet builds a System from a configuration file.
var PhysicsSet = wire.NewSet(
	ProvideConfig,
	ProvideLogger,
	ProvideEventBus,
	ProvideSystem,
)

// ConfigPath is the YAML file to load. Empty selects the defaults.
type ConfigPath string

// DriverOverride replaces the configured driver when non-empty.
type DriverOverride physics.DriverKind

func ProvideConfig(path ConfigPath, driver DriverOverride) (physics.Config, error) {
	cfg := physics.DefaultConfig()
	if path != "" {
		loaded, err := physics.LoadFile(string(path))
		if err != nil {
			return physics.Config{}, err
		}
		cfg = loaded
	}
	if driver != "" {
		cfg.Driver = physics.DriverKind(driver)
		if err := cfg.Validate(); err != nil {
			return physics.Config{}, err
		}
	}
	return cfg, nil
}

func ProvideLogger(cfg physics.Config) log.Log {
	return log.NewWithConfig(cfg.Log)
}

func ProvideEventBus() bus.EventBus {
	return bus.New()
}

func ProvideSystem(cfg physics.Config, logger log.Log, eventBus bus.EventBus) (*systems.System, error) {
	return systems.New(cfg, systems.WithLogger(logger), systems.WithEventBus(eventBus))
}
