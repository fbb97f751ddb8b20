// Package worker runs the rigid engine on a background goroutine at a fixed
// rate and presents interpolated body poses to the foreground.
//
// Only immutable values cross between the two goroutines: commands travel
// to the background over one channel, snapshots travel back over another.
package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/zeusync/physync/internal/core/observability/log"
	"github.com/zeusync/physync/internal/core/systems/physics"
	"github.com/zeusync/physync/internal/core/systems/physics/engine/rigid"
	"github.com/zeusync/physync/pkg/concurrent"
)

var (
	_ physics.Driver  = (*Driver)(nil)
	_ physics.Binding = (*Driver)(nil)
)

type messageKind uint8

const (
	msgCommand messageKind = iota
	msgAddBody
	msgRemoveBody
	msgAddConstraint
	msgRemoveConstraint
	msgAddMaterial
	msgAddContactMaterial
)

// message is a foreground request applied by the background context before
// its next step.
type message struct {
	kind       messageKind
	cmd        physics.Command
	body       physics.BodyID
	desc       physics.BodyDesc
	filter     physics.CollisionFilter
	constraint physics.ConstraintSpec
	material   physics.Material
	pairA      string
	pairB      string
	spec       physics.ContactMaterialSpec
}

// Driver is the background-stepping backend.
type Driver struct {
	logger log.Log
	cfg    physics.WorkerConfig
	clock  Clock
	ticks  TickSource
	period time.Duration

	group     *concurrent.Group
	commands  chan message
	snapshots chan Snapshot
	exit      chan error
	interp    *Interpolator

	// foreground state
	started     bool
	closed      bool
	fault       *physics.Error
	nextID      physics.BodyID
	bodies      map[physics.BodyID]*physics.Body
	states      map[physics.BodyID]physics.BodyState
	constraints map[physics.ConstraintID]physics.ConstraintSpec
	materials   map[string]physics.Material
	contacts    []physics.Contact
	lastSeen    time.Time

	stale   atomic.Uint64
	dropped atomic.Uint64
}

func New(logger log.Log, cfg physics.WorkerConfig, opts ...Option) *Driver {
	d := &Driver{
		logger:      logger.With(log.String("driver", string(physics.DriverWorker))),
		cfg:         cfg,
		clock:       systemClock{},
		ticks:       tickerSource,
		bodies:      make(map[physics.BodyID]*physics.Body),
		states:      make(map[physics.BodyID]physics.BodyState),
		constraints: make(map[physics.ConstraintID]physics.ConstraintSpec),
		materials:   make(map[string]physics.Material),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.cfg.FPS <= 0 {
		d.cfg.FPS = 60
	}
	if d.cfg.InterpBufferSize < 1 {
		d.cfg.InterpBufferSize = 2
	}
	if d.cfg.CommandQueue < 1 {
		d.cfg.CommandQueue = 1024
	}
	d.period = time.Duration(float64(time.Second) / d.cfg.FPS)
	d.interp = NewInterpolator(d.cfg.InterpBufferSize, d.cfg.Interpolate)
	return d
}

func (d *Driver) Kind() physics.DriverKind { return physics.DriverWorker }

// Period is the background step interval.
func (d *Driver) Period() time.Duration { return d.period }

// Init starts the background context and waits until its world exists.
func (d *Driver) Init(ctx context.Context, cfg physics.EngineConfig) error {
	if d.started {
		return physics.ErrAlreadyInitialized
	}
	if d.cfg.Engine != "" && d.cfg.Engine != physics.WorkerEngineRigid {
		return physics.NewError(physics.ErrorCodeUnknownEngine, "worker engine not recognized: "+d.cfg.Engine, physics.ErrUnknownEngine)
	}

	d.commands = make(chan message, d.cfg.CommandQueue)
	d.snapshots = make(chan Snapshot, d.cfg.InterpBufferSize+1)
	d.exit = make(chan error, 1)
	d.group = concurrent.NewGroup(context.Background())

	ready := make(chan struct{})
	worldCfg := rigid.ConfigFrom(cfg)
	d.group.Go(func(gctx context.Context) error {
		return d.run(gctx, rigid.NewWorld(worldCfg), ready)
	})
	go func() {
		d.exit <- d.group.Wait()
		close(d.exit)
	}()

	select {
	case <-ready:
	case err := <-d.exit:
		return physics.NewError(physics.ErrorCodeBackendUnavailable, "worker context failed to start", err)
	case <-ctx.Done():
		d.group.Stop()
		return physics.NewError(physics.ErrorCodeBackendUnavailable, "worker init", ctx.Err())
	}
	d.started = true
	d.lastSeen = d.clock.Now()
	d.logger.Info("Worker context started",
		log.Float64("fps", d.cfg.FPS),
		log.Bool("interpolate", d.cfg.Interpolate),
		log.Int("buffer", d.cfg.InterpBufferSize))
	return nil
}

// run is the background loop. It owns world exclusively.
func (d *Driver) run(ctx context.Context, world *rigid.World, ready chan<- struct{}) error {
	ticks, stop := d.ticks(d.period)
	defer stop()
	close(ready)

	dt := d.period.Seconds()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ticks:
			if !ok {
				return errors.New("tick source closed")
			}
			d.drainCommands(world)
			world.Step(dt)
			d.publish(capture(world, d.clock.Now()))
		}
	}
}

func (d *Driver) drainCommands(world *rigid.World) {
	for {
		select {
		case m := <-d.commands:
			if err := apply(world, m); err != nil {
				d.logger.Debug("Worker command rejected", log.Error(err))
			}
		default:
			return
		}
	}
}

func apply(world *rigid.World, m message) error {
	switch m.kind {
	case msgCommand:
		return world.Apply(m.cmd)
	case msgAddBody:
		return world.AddBody(m.body, m.desc, m.filter)
	case msgRemoveBody:
		world.RemoveBody(m.body)
	case msgAddConstraint:
		return world.AddConstraint(m.constraint)
	case msgRemoveConstraint:
		world.RemoveConstraint(m.constraint.ID)
	case msgAddMaterial:
		return world.AddMaterial(m.material)
	case msgAddContactMaterial:
		return world.AddContactMaterial(m.pairA, m.pairB, m.spec)
	}
	return nil
}

// publish hands s to the foreground. When the foreground lags the oldest
// queued snapshot is dropped so the newest always gets through.
func (d *Driver) publish(s Snapshot) {
	for {
		select {
		case d.snapshots <- s:
			return
		default:
		}
		select {
		case <-d.snapshots:
			d.dropped.Add(1)
		default:
		}
	}
}

func (d *Driver) ready() error {
	switch {
	case d.fault != nil:
		return d.fault
	case d.closed:
		return physics.Fault(physics.DriverWorker, physics.ErrDriverClosed, nil)
	case !d.started:
		return physics.ErrNotInitialized
	}
	return nil
}

// Step consumes the snapshots received since the last call and renders
// every body for the current render time. dt is ignored: the background
// advances on its own cadence.
func (d *Driver) Step(float64) error {
	if err := d.ready(); err != nil {
		return err
	}
	if err := d.checkExit(); err != nil {
		return err
	}

	now := d.clock.Now()
	received := 0
	for done := false; !done; {
		select {
		case s := <-d.snapshots:
			if err := d.interp.Push(s); err != nil {
				d.stale.Add(1)
				continue
			}
			received++
			d.lastSeen = now
			d.contacts = s.Contacts
			d.dispatch(s.Contacts)
			if d.cfg.Debug {
				d.logger.Debug("Worker snapshot",
					log.Uint64("step", s.Step),
					log.Float64("sim_time", s.SimTime),
					log.Int("contacts", len(s.Contacts)))
			}
		default:
			done = true
		}
	}

	if received == 0 && d.cfg.StallTimeout > 0 && now.Sub(d.lastSeen) > d.cfg.StallTimeout {
		d.fault = physics.Fault(physics.DriverWorker, physics.ErrWorkerStalled,
			errors.Errorf("no snapshot for %s", now.Sub(d.lastSeen)))
		d.group.Stop()
		return d.fault
	}

	renderTime := now.Add(-time.Duration(d.cfg.InterpBufferSize-1) * d.period)
	frame, ok := d.interp.Sample(renderTime)
	if !ok {
		return nil
	}
	for id := range d.bodies {
		if st, ok := frame.State(id); ok {
			d.states[id] = st
		}
	}
	return nil
}

func (d *Driver) checkExit() error {
	select {
	case err, ok := <-d.exit:
		if !ok {
			return nil
		}
		if err == nil {
			err = errors.New("background context exited")
		}
		d.fault = physics.Fault(physics.DriverWorker, physics.ErrWorkerFault, err)
		d.logger.Error("Worker context failed", log.Error(err))
		return d.fault
	default:
		return nil
	}
}

func (d *Driver) dispatch(contacts []physics.Contact) {
	for _, c := range contacts {
		if b := d.bodies[c.BodyA]; b != nil {
			b.NotifyCollision(c)
		}
		if b := d.bodies[c.BodyB]; b != nil {
			b.NotifyCollision(c)
		}
	}
}

func (d *Driver) send(m message) error {
	if err := d.ready(); err != nil {
		return err
	}
	select {
	case d.commands <- m:
		return nil
	default:
		return physics.NewError(physics.ErrorCodeCommandQueue, "worker command queue full", physics.ErrCommandQueue)
	}
}

func (d *Driver) AddBody(b *physics.Body, filter physics.CollisionFilter) error {
	if err := d.ready(); err != nil {
		return err
	}
	if b.Bound() {
		return physics.ErrBodyAlreadyRegistered
	}
	id := d.nextID + 1
	if err := d.send(message{kind: msgAddBody, body: id, desc: b.Desc(), filter: filter}); err != nil {
		return err
	}
	d.nextID = id
	d.states[id] = b.Desc().InitialState()
	d.bodies[id] = b
	return b.Bind(id, d, filter)
}

func (d *Driver) RemoveBody(b *physics.Body) error {
	if err := d.ready(); err != nil {
		return err
	}
	id := b.ID()
	if d.bodies[id] != b {
		return physics.ErrBodyNotRegistered
	}
	if err := d.send(message{kind: msgRemoveBody, body: id}); err != nil {
		return err
	}
	b.Unbind()
	delete(d.bodies, id)
	delete(d.states, id)
	for cid, c := range d.constraints {
		if c.A == id || c.B == id {
			delete(d.constraints, cid)
		}
	}
	return nil
}

func (d *Driver) AddConstraint(c *physics.Constraint) error {
	spec, err := c.Spec()
	if err != nil {
		return err
	}
	if err := d.send(message{kind: msgAddConstraint, constraint: spec}); err != nil {
		return err
	}
	d.constraints[spec.ID] = spec
	return nil
}

func (d *Driver) RemoveConstraint(c *physics.Constraint) error {
	spec, ok := d.constraints[c.ID()]
	if !ok {
		return physics.ErrConstraintNotRegistered
	}
	if err := d.send(message{kind: msgRemoveConstraint, constraint: spec}); err != nil {
		return err
	}
	delete(d.constraints, spec.ID)
	return nil
}

func (d *Driver) AddMaterial(m physics.Material) error {
	if _, exists := d.materials[m.Name]; exists {
		return errors.Wrap(physics.ErrMaterialExists, m.Name)
	}
	if err := d.send(message{kind: msgAddMaterial, material: m}); err != nil {
		return err
	}
	d.materials[m.Name] = m
	return nil
}

func (d *Driver) AddContactMaterial(a, b string, spec physics.ContactMaterialSpec) error {
	for _, name := range []string{a, b} {
		if _, ok := d.materials[name]; !ok {
			return errors.Wrap(physics.ErrMaterialNotFound, name)
		}
	}
	return d.send(message{kind: msgAddContactMaterial, pairA: a, pairB: b, spec: spec})
}

func (d *Driver) Material(name string) (physics.Material, bool) {
	m, ok := d.materials[name]
	return m, ok
}

// Contacts returns the contacts carried by the newest consumed snapshot.
func (d *Driver) Contacts() []physics.Contact { return d.contacts }

func (d *Driver) DebugDrawer(physics.DebugRenderer) (physics.DebugDrawer, bool) {
	return nil, false
}

func (d *Driver) BodyStats() (physics.BodyStats, error) {
	var s physics.BodyStats
	for _, b := range d.bodies {
		if err := s.Count(b.Type()); err != nil {
			return s, err
		}
	}
	s.Contacts = len(d.contacts)
	return s, nil
}

// Discarded returns the snapshots dropped as stale by the foreground and
// those overwritten in the queue before the foreground read them.
func (d *Driver) Discarded() (stale, dropped uint64) {
	return d.stale.Load(), d.dropped.Load()
}

// Close stops the background context and waits for it to exit.
func (d *Driver) Close(ctx context.Context) error {
	if d.closed {
		return nil
	}
	d.closed = true
	for id, b := range d.bodies {
		b.Unbind()
		delete(d.bodies, id)
	}
	if !d.started {
		return nil
	}
	d.group.Stop()
	select {
	case err := <-d.exit:
		var pe *concurrent.PanicError
		if errors.As(err, &pe) {
			return physics.Fault(physics.DriverWorker, physics.ErrWorkerFault, err)
		}
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for worker context")
	}
}

// BodyState implements physics.Binding with the last rendered state.
func (d *Driver) BodyState(id physics.BodyID) (physics.BodyState, bool) {
	st, ok := d.states[id]
	return st, ok
}

// Submit implements physics.Binding. The command is applied before the
// next background step.
func (d *Driver) Submit(cmd physics.Command) error {
	return d.send(message{kind: msgCommand, cmd: cmd})
}
