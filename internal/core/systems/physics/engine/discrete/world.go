// Package discrete is an alternate rigid-body engine. It steps in fixed
// sub-steps from an internal accumulator, classifies bodies by collision
// flags and reports contacts as persistent manifolds per body pair.
package discrete

import (
	"math"

	"github.com/pkg/errors"

	"github.com/zeusync/physync/internal/core/systems/physics"
	"github.com/zeusync/physync/internal/core/systems/physics/engine/rigid"
)

// DynamicsWorld owns rigid bodies and constraints. Not safe for concurrent
// use.
type DynamicsWorld struct {
	core *rigid.World

	nextID      physics.BodyID
	bodies      map[physics.BodyID]*RigidBody
	constraints map[*TypedConstraint]physics.ConstraintSpec
	nextCons    physics.ConstraintID

	dispatcher *Dispatcher
	drawer     DebugDraw

	accumulator float64
	fixedStep   float64
}

// NewDynamicsWorld creates a world with the given gravity and solver
// iterations.
func NewDynamicsWorld(gravity physics.Vec3, iterations int) *DynamicsWorld {
	return &DynamicsWorld{
		core: rigid.NewWorld(rigid.Config{
			Gravity:        gravity,
			Iterations:     iterations,
			DefaultContact: physics.ContactMaterialSpec{Friction: 0.5},
		}),
		bodies:      make(map[physics.BodyID]*RigidBody),
		constraints: make(map[*TypedConstraint]physics.ConstraintSpec),
		dispatcher:  newDispatcher(),
	}
}

// Dispatcher exposes the contact manifolds of the last sub-step.
func (w *DynamicsWorld) Dispatcher() *Dispatcher { return w.dispatcher }

// NumCollisionObjects returns the number of bodies in the world.
func (w *DynamicsWorld) NumCollisionObjects() int { return len(w.bodies) }

// CollisionObjects visits every body in insertion order.
func (w *DynamicsWorld) CollisionObjects(fn func(rb *RigidBody)) {
	for _, id := range w.core.BodyIDs() {
		fn(w.bodies[id])
	}
}

// AddRigidBody inserts rb with a broadphase group and mask.
func (w *DynamicsWorld) AddRigidBody(rb *RigidBody, group, mask int) error {
	if rb.world != nil {
		return errors.Wrap(physics.ErrBodyAlreadyRegistered, "rigid body")
	}
	w.nextID++
	id := w.nextID
	t := rb.WorldTransform()
	desc := physics.BodyDesc{
		Type:            rb.bodyType(),
		Shape:           rb.info.Shape,
		BodyProperties:  rb.properties(),
		Position:        t.Origin,
		Orientation:     t.Rotation,
		Velocity:        rb.linVel,
		AngularVelocity: rb.angVel,
	}
	filter := physics.CollisionFilter{Group: uint32(group), Mask: uint32(mask)}
	if rb.flags&CollisionFlagNoContactResponse != 0 {
		filter.Mask = 0
	}
	if err := w.core.AddBody(id, desc, filter); err != nil {
		return err
	}
	core, _ := w.core.Body(id)
	rb.world, rb.core, rb.group, rb.mask = w, core, group, mask
	w.bodies[id] = rb
	return nil
}

// RemoveRigidBody takes rb out of the world, keeping its last state on the
// handle.
func (w *DynamicsWorld) RemoveRigidBody(rb *RigidBody) error {
	if rb.world != w || rb.core == nil {
		return errors.Wrap(physics.ErrBodyNotRegistered, "rigid body")
	}
	st := rb.core.State
	id := rb.core.ID
	w.core.RemoveBody(id)
	delete(w.bodies, id)
	for tc, spec := range w.constraints {
		if spec.A == id || spec.B == id {
			delete(w.constraints, tc)
		}
	}
	w.dispatcher.releaseBody(rb)

	rb.info.Transform = Transform{Origin: st.Position, Rotation: st.Orientation}
	rb.linVel, rb.angVel = st.Velocity, st.AngularVelocity
	rb.world, rb.core = nil, nil
	return nil
}

// RegisterMaterial declares a surface name usable in ConstructionInfo.
func (w *DynamicsWorld) RegisterMaterial(m physics.Material) error {
	return w.core.AddMaterial(m)
}

// SetMaterialPair sets the friction and restitution used when bodies with
// materials a and b touch.
func (w *DynamicsWorld) SetMaterialPair(a, b string, spec physics.ContactMaterialSpec) error {
	return w.core.AddContactMaterial(a, b, spec)
}

func (w *DynamicsWorld) Material(name string) (physics.Material, bool) {
	return w.core.Material(name)
}

// AddConstraint inserts a constraint between bodies already in the world.
func (w *DynamicsWorld) AddConstraint(tc *TypedConstraint) error {
	if tc.A == nil || tc.A.world != w || (tc.B != nil && tc.B.world != w) {
		return errors.Wrap(physics.ErrBodyNotRegistered, "constraint body")
	}
	if _, exists := w.constraints[tc]; exists {
		return nil
	}
	w.nextCons++
	spec := physics.ConstraintSpec{
		ID:       w.nextCons,
		Kind:     tc.Kind,
		A:        tc.A.core.ID,
		PivotA:   tc.PivotA,
		PivotB:   tc.PivotB,
		Distance: tc.Distance,
		MaxForce: tc.MaxForce,
	}
	if tc.B != nil {
		spec.B = tc.B.core.ID
	}
	if err := w.core.AddConstraint(spec); err != nil {
		return err
	}
	w.constraints[tc] = spec
	return nil
}

func (w *DynamicsWorld) RemoveConstraint(tc *TypedConstraint) error {
	spec, ok := w.constraints[tc]
	if !ok {
		return physics.ErrConstraintNotRegistered
	}
	w.core.RemoveConstraint(spec.ID)
	delete(w.constraints, tc)
	return nil
}

// NumConstraints returns the constraint count.
func (w *DynamicsWorld) NumConstraints() int { return len(w.constraints) }

// StepSimulation advances time by timeStep using at most maxSubSteps steps
// of fixedTimeStep. Leftover time carries to the next call; time beyond
// the sub-step budget is dropped. Returns the number of sub-steps taken.
func (w *DynamicsWorld) StepSimulation(timeStep float64, maxSubSteps int, fixedTimeStep float64) int {
	if fixedTimeStep <= 0 || maxSubSteps < 1 {
		return 0
	}
	if fixedTimeStep != w.fixedStep {
		w.fixedStep = fixedTimeStep
		w.accumulator = 0
	}
	w.accumulator += math.Max(timeStep, 0)
	steps := int(w.accumulator / fixedTimeStep)
	w.accumulator -= float64(steps) * fixedTimeStep
	if steps > maxSubSteps {
		steps = maxSubSteps
	}
	for i := 0; i < steps; i++ {
		w.core.Step(fixedTimeStep)
		w.dispatcher.refresh(w.core.Contacts(), w.bodies)
	}
	return steps
}

// Accumulated is the simulated time waiting for the next sub-step.
func (w *DynamicsWorld) Accumulated() float64 { return w.accumulator }

// SetDebugDrawer installs the debug drawing target. Nil removes it.
func (w *DynamicsWorld) SetDebugDrawer(d DebugDraw) { w.drawer = d }

func (w *DynamicsWorld) DebugDrawer() DebugDraw { return w.drawer }

// DebugDrawWorld renders the world into the installed drawer according to
// its debug mode.
func (w *DynamicsWorld) DebugDrawWorld() {
	if w.drawer == nil {
		return
	}
	mode := w.drawer.DebugMode()
	if mode == physics.DebugNoDebug {
		return
	}

	if mode.Has(physics.DebugDrawAabb) || mode.Has(physics.DebugDrawWireframe) {
		aabbColor := physics.Color{1, 0, 0}
		w.CollisionObjects(func(rb *RigidBody) {
			lo, hi := rb.aabb()
			drawBox(w.drawer, lo, hi, aabbColor)
		})
	}
	if mode.Has(physics.DebugDrawContactPoint) {
		w.dispatcher.each(func(m *PersistentManifold) {
			for i := 0; i < m.NumContacts(); i++ {
				p := m.ContactPoint(i)
				w.drawer.DrawContactPoint(p.PositionWorldOnB, p.NormalWorldOnB, p.Distance, p.LifeTime, physics.Color{1, 1, 0})
			}
		})
	}
	if mode.Has(physics.DebugDrawConstraints) {
		for tc := range w.constraints {
			a := tc.A.WorldTransform()
			from := a.Origin.Add(a.Rotation.Rotate(tc.PivotA))
			to := tc.PivotB
			if tc.B != nil {
				b := tc.B.WorldTransform()
				to = b.Origin.Add(b.Rotation.Rotate(tc.PivotB))
			}
			w.drawer.DrawLine(from, to, physics.Color{0, 1, 0})
		}
	}
	if mode.Has(physics.DebugDrawText) || mode.Has(physics.DebugDrawFeaturesText) {
		w.drawer.ReportErrorWarning(debugSummary(w))
	}
}

func drawBox(d DebugDraw, lo, hi physics.Vec3, c physics.Color) {
	corner := func(i int) physics.Vec3 {
		v := lo
		if i&1 != 0 {
			v[0] = hi[0]
		}
		if i&2 != 0 {
			v[1] = hi[1]
		}
		if i&4 != 0 {
			v[2] = hi[2]
		}
		return v
	}
	for i := 0; i < 8; i++ {
		for _, bit := range [3]int{1, 2, 4} {
			if i&bit == 0 {
				d.DrawLine(corner(i), corner(i|bit), c)
			}
		}
	}
}
