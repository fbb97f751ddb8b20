// Package local steps the rigid engine synchronously on the caller's
// goroutine.
package local

import (
	"context"

	"github.com/pkg/errors"

	"github.com/zeusync/physync/internal/core/observability/log"
	"github.com/zeusync/physync/internal/core/systems/physics"
	"github.com/zeusync/physync/internal/core/systems/physics/engine/rigid"
)

var (
	_ physics.Driver  = (*Driver)(nil)
	_ physics.Binding = (*Driver)(nil)
)

// Driver owns a rigid.World and steps it inside Step. Body commands apply
// immediately.
type Driver struct {
	logger log.Log
	world  *rigid.World
	closed bool

	nextID   physics.BodyID
	bodies   map[physics.BodyID]*physics.Body
	contacts []physics.Contact
}

func New(logger log.Log) *Driver {
	return &Driver{
		logger: logger.With(log.String("driver", string(physics.DriverLocal))),
		bodies: make(map[physics.BodyID]*physics.Body),
	}
}

func (d *Driver) Kind() physics.DriverKind { return physics.DriverLocal }

func (d *Driver) Init(ctx context.Context, cfg physics.EngineConfig) error {
	if d.world != nil {
		return physics.ErrAlreadyInitialized
	}
	if err := ctx.Err(); err != nil {
		return physics.NewError(physics.ErrorCodeBackendUnavailable, "local engine init", err)
	}
	d.world = rigid.NewWorld(rigid.ConfigFrom(cfg))
	d.logger.Debug("Local engine ready",
		log.Int("iterations", cfg.SolverIterations),
		log.Float64("gravity_y", cfg.Gravity.Y()))
	return nil
}

func (d *Driver) ready() error {
	switch {
	case d.closed:
		return physics.Fault(physics.DriverLocal, physics.ErrDriverClosed, nil)
	case d.world == nil:
		return physics.ErrNotInitialized
	}
	return nil
}

// Step advances the world by dt and dispatches the step's contacts to the
// bodies involved.
func (d *Driver) Step(dt float64) error {
	if err := d.ready(); err != nil {
		return err
	}
	d.world.Step(dt)
	d.contacts = physics.CopyContacts(d.world.Contacts())
	for _, c := range d.contacts {
		if b := d.bodies[c.BodyA]; b != nil {
			b.NotifyCollision(c)
		}
		if b := d.bodies[c.BodyB]; b != nil {
			b.NotifyCollision(c)
		}
	}
	return nil
}

func (d *Driver) AddBody(b *physics.Body, filter physics.CollisionFilter) error {
	if err := d.ready(); err != nil {
		return err
	}
	if b.Bound() {
		return physics.ErrBodyAlreadyRegistered
	}
	d.nextID++
	id := d.nextID
	if err := d.world.AddBody(id, b.Desc(), filter); err != nil {
		return err
	}
	if err := b.Bind(id, d, filter); err != nil {
		d.world.RemoveBody(id)
		return err
	}
	d.bodies[id] = b
	return nil
}

func (d *Driver) RemoveBody(b *physics.Body) error {
	if err := d.ready(); err != nil {
		return err
	}
	if d.bodies[b.ID()] != b {
		return physics.ErrBodyNotRegistered
	}
	id := b.ID()
	b.Unbind()
	d.world.RemoveBody(id)
	delete(d.bodies, id)
	return nil
}

func (d *Driver) AddConstraint(c *physics.Constraint) error {
	if err := d.ready(); err != nil {
		return err
	}
	spec, err := c.Spec()
	if err != nil {
		return err
	}
	return d.world.AddConstraint(spec)
}

func (d *Driver) RemoveConstraint(c *physics.Constraint) error {
	if err := d.ready(); err != nil {
		return err
	}
	if !d.world.RemoveConstraint(c.ID()) {
		return physics.ErrConstraintNotRegistered
	}
	return nil
}

func (d *Driver) AddMaterial(m physics.Material) error {
	if err := d.ready(); err != nil {
		return err
	}
	return d.world.AddMaterial(m)
}

func (d *Driver) AddContactMaterial(a, b string, spec physics.ContactMaterialSpec) error {
	if err := d.ready(); err != nil {
		return err
	}
	return d.world.AddContactMaterial(a, b, spec)
}

func (d *Driver) Material(name string) (physics.Material, bool) {
	if d.world == nil {
		return physics.Material{}, false
	}
	return d.world.Material(name)
}

func (d *Driver) Contacts() []physics.Contact { return d.contacts }

// DebugDrawer is not available for the in-process engine.
func (d *Driver) DebugDrawer(physics.DebugRenderer) (physics.DebugDrawer, bool) {
	return nil, false
}

func (d *Driver) BodyStats() (physics.BodyStats, error) {
	if d.world == nil {
		return physics.BodyStats{}, nil
	}
	s, err := d.world.Counts()
	if err != nil {
		return s, errors.Wrap(err, "count local bodies")
	}
	return s, nil
}

func (d *Driver) Close(context.Context) error {
	if d.closed {
		return nil
	}
	d.closed = true
	for id, b := range d.bodies {
		b.Unbind()
		delete(d.bodies, id)
	}
	d.contacts = nil
	return nil
}

// BodyState implements physics.Binding.
func (d *Driver) BodyState(id physics.BodyID) (physics.BodyState, bool) {
	if d.world == nil {
		return physics.BodyState{}, false
	}
	return d.world.State(id)
}

// Submit implements physics.Binding. Commands take effect immediately.
func (d *Driver) Submit(cmd physics.Command) error {
	if err := d.ready(); err != nil {
		return err
	}
	return d.world.Apply(cmd)
}
