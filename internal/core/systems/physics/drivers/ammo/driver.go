// Package ammo adapts the discrete engine to the driver contract. Bodies
// are classified by collision flags, stepping uses a fixed sub-step
// accumulator and contacts come from per-pair manifolds.
package ammo

import (
	"context"
	"encoding/binary"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/zeusync/physync/internal/core/observability/log"
	"github.com/zeusync/physync/internal/core/systems/physics"
	"github.com/zeusync/physync/internal/core/systems/physics/engine/discrete"
)

var (
	_ physics.Driver  = (*Driver)(nil)
	_ physics.Binding = (*Driver)(nil)
)

// collision is an active touching pair in the collision map.
type collision struct {
	a, b physics.BodyID
	// seen is the step the pair last had contact points.
	seen uint64
}

// Driver steps a discrete.DynamicsWorld with the configured sub-step
// budget. Body commands apply immediately.
type Driver struct {
	logger log.Log
	cfg    physics.EngineConfig
	world  *discrete.DynamicsWorld
	closed bool

	nextID      physics.BodyID
	bodies      map[physics.BodyID]*physics.Body
	rigid       map[physics.BodyID]*discrete.RigidBody
	constraints map[physics.ConstraintID]*discrete.TypedConstraint

	steps      uint64
	collisions map[uint64]*collision
	// keys holds the collision map keys in the order pairs began touching.
	keys       []uint64
	contacts   []physics.Contact
	onSeparate []func(a, b *physics.Body)

	drawer *debugDrawer
}

func New(logger log.Log) *Driver {
	return &Driver{
		logger:      logger.With(log.String("driver", string(physics.DriverAmmo))),
		bodies:      make(map[physics.BodyID]*physics.Body),
		rigid:       make(map[physics.BodyID]*discrete.RigidBody),
		constraints: make(map[physics.ConstraintID]*discrete.TypedConstraint),
		collisions:  make(map[uint64]*collision),
	}
}

func (d *Driver) Kind() physics.DriverKind { return physics.DriverAmmo }

// Init creates the world with the sub-step budget and debug draw mode.
func (d *Driver) Init(ctx context.Context, cfg physics.EngineConfig) error {
	if d.world != nil {
		return physics.ErrAlreadyInitialized
	}
	if err := ctx.Err(); err != nil {
		return physics.NewError(physics.ErrorCodeBackendUnavailable, "ammo engine init", err)
	}
	if cfg.MaxSubSteps < 1 {
		cfg.MaxSubSteps = 1
	}
	if cfg.FixedTimeStep <= 0 {
		cfg.FixedTimeStep = 1.0 / 60.0
	}
	d.cfg = cfg
	d.world = discrete.NewDynamicsWorld(cfg.Gravity, cfg.SolverIterations)
	d.logger.Debug("Ammo engine ready",
		log.Int("max_sub_steps", cfg.MaxSubSteps),
		log.Float64("fixed_time_step", cfg.FixedTimeStep),
		log.Int("debug_draw_mode", int(cfg.DebugDrawMode)))
	return nil
}

func (d *Driver) ready() error {
	switch {
	case d.closed:
		return physics.Fault(physics.DriverAmmo, physics.ErrDriverClosed, nil)
	case d.world == nil:
		return physics.ErrNotInitialized
	}
	return nil
}

// Step feeds dt to the sub-step accumulator, refreshes the collision map
// and draws the world when a debug drawer is enabled.
func (d *Driver) Step(dt float64) error {
	if err := d.ready(); err != nil {
		return err
	}
	if d.world.StepSimulation(dt, d.cfg.MaxSubSteps, d.cfg.FixedTimeStep) > 0 {
		d.steps++
		d.collect()
	}
	if d.drawer != nil && d.drawer.Enabled() {
		d.world.DebugDrawWorld()
	}
	return nil
}

// collect rebuilds the contact list from the manifolds, notifies bodies of
// pairs that started touching and drops pairs that separated.
func (d *Driver) collect() {
	d.contacts = d.contacts[:0:0]
	disp := d.world.Dispatcher()
	for i := 0; i < disp.NumManifolds(); i++ {
		m := disp.ManifoldByIndexInternal(i)
		if m.NumContacts() == 0 {
			continue
		}
		a, b := bodyID(m.Body0()), bodyID(m.Body1())
		first := len(d.contacts)
		for j := 0; j < m.NumContacts(); j++ {
			p := m.ContactPoint(j)
			// manifold normals point from body1 to body0
			d.contacts = append(d.contacts, physics.Contact{
				BodyA:   a,
				BodyB:   b,
				Point:   p.PositionWorldOnB,
				Normal:  p.NormalWorldOnB.Mul(-1),
				Depth:   -p.Distance,
				Impulse: p.AppliedImpulse,
			})
		}

		key := pairKey(a, b)
		if c, ok := d.collisions[key]; ok {
			c.seen = d.steps
			continue
		}
		d.collisions[key] = &collision{a: a, b: b, seen: d.steps}
		d.keys = append(d.keys, key)
		d.notify(d.contacts[first])
	}

	kept := d.keys[:0]
	for _, key := range d.keys {
		c := d.collisions[key]
		if c.seen == d.steps {
			kept = append(kept, key)
			continue
		}
		delete(d.collisions, key)
		ba, bb := d.bodies[c.a], d.bodies[c.b]
		if ba == nil || bb == nil {
			continue
		}
		for _, fn := range d.onSeparate {
			fn(ba, bb)
		}
	}
	d.keys = kept
}

func (d *Driver) notify(c physics.Contact) {
	if b := d.bodies[c.BodyA]; b != nil {
		b.NotifyCollision(c)
	}
	if b := d.bodies[c.BodyB]; b != nil {
		b.NotifyCollision(c)
	}
}

// OnSeparate registers a handler called when a touching pair separates.
func (d *Driver) OnSeparate(fn func(a, b *physics.Body)) {
	d.onSeparate = append(d.onSeparate, fn)
}

func bodyID(rb *discrete.RigidBody) physics.BodyID {
	return physics.BodyID(rb.UserIndex())
}

// pairKey hashes an unordered pair of body ids.
func pairKey(a, b physics.BodyID) uint64 {
	if b < a {
		a, b = b, a
	}
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(a))
	binary.LittleEndian.PutUint64(buf[8:], uint64(b))
	return xxhash.Sum64(buf[:])
}

func flagsFor(t physics.BodyType) (int, error) {
	switch t {
	case physics.BodyDynamic:
		return 0, nil
	case physics.BodyStatic:
		return discrete.CollisionFlagStaticObject, nil
	case physics.BodyKinematic:
		return discrete.CollisionFlagKinematicObject, nil
	default:
		return 0, physics.NewError(physics.ErrorCodeUnexpectedBodyType, "unexpected body type "+t.String(), physics.ErrUnexpectedBodyType)
	}
}

// classify maps collision flags back to a body type. A body flagged both
// static and kinematic is an assertion failure.
func classify(rb *discrete.RigidBody) (physics.BodyType, error) {
	switch {
	case rb.IsStaticObject() && rb.IsKinematicObject():
		return 0, physics.NewError(physics.ErrorCodeUnexpectedBodyType, "body flagged static and kinematic", physics.ErrUnexpectedBodyType)
	case rb.IsStaticObject():
		return physics.BodyStatic, nil
	case rb.IsKinematicObject():
		return physics.BodyKinematic, nil
	default:
		return physics.BodyDynamic, nil
	}
}

// AddBody creates a rigid body from the body description. filter group
// and mask become the broadphase filter.
func (d *Driver) AddBody(b *physics.Body, filter physics.CollisionFilter) error {
	if err := d.ready(); err != nil {
		return err
	}
	if b.Bound() {
		return physics.ErrBodyAlreadyRegistered
	}
	desc := b.Desc()
	flags, err := flagsFor(desc.Type)
	if err != nil {
		return err
	}
	mass := desc.Mass
	if desc.Type != physics.BodyDynamic {
		mass = 0
	}
	rb := discrete.NewRigidBody(discrete.ConstructionInfo{
		Mass:           mass,
		Shape:          desc.Shape,
		Transform:      discrete.Transform{Origin: desc.Position, Rotation: desc.Orientation},
		LinearDamping:  desc.LinearDamping,
		AngularDamping: desc.AngularDamping,
		Material:       desc.Material,
	})
	rb.SetCollisionFlags(flags)
	rb.SetLinearVelocity(desc.Velocity)
	rb.SetAngularVelocity(desc.AngularVelocity)

	id := d.nextID + 1
	rb.SetUserIndex(int(id))
	if err := d.world.AddRigidBody(rb, int(filter.Group), int(filter.Mask)); err != nil {
		return err
	}
	if err := b.Bind(id, d, filter); err != nil {
		_ = d.world.RemoveRigidBody(rb)
		return err
	}
	d.nextID = id
	d.bodies[id] = b
	d.rigid[id] = rb
	return nil
}

func (d *Driver) RemoveBody(b *physics.Body) error {
	if err := d.ready(); err != nil {
		return err
	}
	id := b.ID()
	if d.bodies[id] != b {
		return physics.ErrBodyNotRegistered
	}
	b.Unbind()
	if err := d.world.RemoveRigidBody(d.rigid[id]); err != nil {
		return err
	}
	delete(d.bodies, id)
	delete(d.rigid, id)
	for cid, tc := range d.constraints {
		if bodyID(tc.A) == id || (tc.B != nil && bodyID(tc.B) == id) {
			delete(d.constraints, cid)
		}
	}
	d.keys = slices.DeleteFunc(d.keys, func(key uint64) bool {
		c := d.collisions[key]
		if c.a == id || c.b == id {
			delete(d.collisions, key)
			return true
		}
		return false
	})
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
	if _, exists := d.constraints[spec.ID]; exists {
		return nil
	}
	a := d.rigid[spec.A]
	var b *discrete.RigidBody
	if c.B != nil {
		b = d.rigid[spec.B]
	}
	if a == nil || (c.B != nil && b == nil) {
		return errors.Wrap(physics.ErrBodyNotRegistered, "constraint body")
	}

	var tc *discrete.TypedConstraint
	switch spec.Kind {
	case physics.ConstraintDistance:
		tc = discrete.NewDistanceConstraint(a, b, spec.Distance)
	default:
		tc = discrete.NewPoint2PointConstraint(a, b, spec.PivotA, spec.PivotB)
	}
	tc.MaxForce = spec.MaxForce
	if err := d.world.AddConstraint(tc); err != nil {
		return err
	}
	d.constraints[spec.ID] = tc
	return nil
}

func (d *Driver) RemoveConstraint(c *physics.Constraint) error {
	if err := d.ready(); err != nil {
		return err
	}
	tc, ok := d.constraints[c.ID()]
	if !ok {
		return physics.ErrConstraintNotRegistered
	}
	delete(d.constraints, c.ID())
	return d.world.RemoveConstraint(tc)
}

func (d *Driver) AddMaterial(m physics.Material) error {
	if err := d.ready(); err != nil {
		return err
	}
	return d.world.RegisterMaterial(m)
}

func (d *Driver) AddContactMaterial(a, b string, spec physics.ContactMaterialSpec) error {
	if err := d.ready(); err != nil {
		return err
	}
	return d.world.SetMaterialPair(a, b, spec)
}

func (d *Driver) Material(name string) (physics.Material, bool) {
	if d.world == nil {
		return physics.Material{}, false
	}
	return d.world.Material(name)
}

func (d *Driver) Contacts() []physics.Contact { return d.contacts }

// DebugDrawer returns the drawer rendering into root, installing it on
// first use. It starts disabled with the configured mode.
func (d *Driver) DebugDrawer(root physics.DebugRenderer) (physics.DebugDrawer, bool) {
	if d.world == nil || root == nil {
		return nil, false
	}
	if d.drawer == nil || d.drawer.root != root {
		d.drawer = newDebugDrawer(root, d.cfg.DebugDrawMode)
		d.world.SetDebugDrawer(d.drawer)
	}
	return d.drawer, true
}

// BodyStats classifies bodies by collision flags and adds manifold and
// collision map sizes.
func (d *Driver) BodyStats() (physics.BodyStats, error) {
	var s physics.BodyStats
	if d.world == nil {
		return s, nil
	}
	var err error
	d.world.CollisionObjects(func(rb *discrete.RigidBody) {
		if err != nil {
			return
		}
		var t physics.BodyType
		if t, err = classify(rb); err == nil {
			err = s.Count(t)
		}
	})
	if err != nil {
		return s, errors.Wrap(err, "count ammo bodies")
	}

	disp := d.world.Dispatcher()
	s.Manifolds = disp.NumManifolds()
	for i := 0; i < s.Manifolds; i++ {
		s.ManifoldContacts += disp.ManifoldByIndexInternal(i).NumContacts()
	}
	s.Contacts = len(d.contacts)
	s.Collisions = len(d.collisions)
	s.CollisionKeys = len(d.keys)
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
	if d.world != nil {
		d.world.SetDebugDrawer(nil)
	}
	d.contacts = nil
	return nil
}

// BodyState implements physics.Binding from the rigid body handle.
func (d *Driver) BodyState(id physics.BodyID) (physics.BodyState, bool) {
	rb, ok := d.rigid[id]
	if !ok {
		return physics.BodyState{}, false
	}
	t := rb.WorldTransform()
	return physics.BodyState{
		Position:        t.Origin,
		Orientation:     t.Rotation,
		Velocity:        rb.LinearVelocity(),
		AngularVelocity: rb.AngularVelocity(),
	}, true
}

// Submit implements physics.Binding through the rigid body API. Points
// are converted to offsets from the body origin.
func (d *Driver) Submit(cmd physics.Command) error {
	if err := d.ready(); err != nil {
		return err
	}
	rb, ok := d.rigid[cmd.Body]
	if !ok {
		return physics.ErrBodyNotRegistered
	}
	origin := rb.WorldTransform().Origin
	switch cmd.Kind {
	case physics.CommandApplyImpulse:
		return rb.ApplyImpulse(cmd.Vector, cmd.Point.Sub(origin))
	case physics.CommandApplyForce:
		return rb.ApplyForce(cmd.Vector, cmd.Point.Sub(origin))
	case physics.CommandSetVelocity:
		rb.SetLinearVelocity(cmd.Vector)
		rb.SetAngularVelocity(cmd.Angular)
	case physics.CommandSetPose:
		rb.SetWorldTransform(discrete.Transform{Origin: cmd.Pose.Position, Rotation: cmd.Pose.Orientation})
	case physics.CommandUpdateProperties:
		p := cmd.Properties
		if rb.IsStaticOrKinematicObject() {
			p.Mass = 0
		}
		return rb.SetMassProps(p.Mass, p.LinearDamping, p.AngularDamping, p.Material)
	default:
		return errors.Errorf("unknown command %s", cmd.Kind)
	}
	return nil
}
