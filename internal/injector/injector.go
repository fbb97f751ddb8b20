//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/physync/internal/core/systems"
)

func InitializeSystem(path ConfigPath, driver DriverOverride) (*systems.System, error) {
	wire.Build(PhysicsSet)
	return nil, nil
}
