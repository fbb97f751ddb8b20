package systems

import (
	"github.com/zeusync/physync/internal/core/observability/log"
	"github.com/zeusync/physync/internal/core/systems/physics"
	"github.com/zeusync/physync/internal/core/systems/physics/drivers/ammo"
	"github.com/zeusync/physync/internal/core/systems/physics/drivers/local"
	"github.com/zeusync/physync/internal/core/systems/physics/drivers/network"
	"github.com/zeusync/physync/internal/core/systems/physics/drivers/worker"
)

// newDriver selects the backend named by cfg.Driver.
func newDriver(cfg physics.Config, logger log.Log) (physics.Driver, error) {
	switch cfg.Driver {
	case physics.DriverLocal:
		return local.New(logger), nil
	case physics.DriverWorker:
		return worker.New(logger, cfg.Worker), nil
	case physics.DriverNetwork:
		return network.New(logger, cfg.Network), nil
	case physics.DriverAmmo:
		return ammo.New(logger), nil
	default:
		return nil, physics.NewError(physics.ErrorCodeUnknownDriver,
			"driver not recognized: "+string(cfg.Driver), physics.ErrUnknownDriver)
	}
}
