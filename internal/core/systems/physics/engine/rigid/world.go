// Package rigid is the default in-process rigid-body engine. It integrates
// with semi-implicit Euler, detects sphere, box and plane contacts and
// resolves them with sequential impulses.
package rigid

import (
	"math"
	"slices"
	"strconv"

	"github.com/pkg/errors"

	"github.com/zeusync/physync/internal/core/systems/physics"
)

const (
	penetrationSlop    = 0.005
	positionCorrection = 0.8
	restitutionFloor   = 0.5
	constraintBias     = 0.2
)

// Config tunes a World.
type Config struct {
	Gravity    physics.Vec3
	Iterations int
	// DefaultContact applies to material pairs without a registered
	// contact material.
	DefaultContact physics.ContactMaterialSpec
}

// ConfigFrom derives a world configuration from driver init options.
func ConfigFrom(cfg physics.EngineConfig) Config {
	return Config{
		Gravity:        cfg.Gravity,
		Iterations:     cfg.SolverIterations,
		DefaultContact: physics.ContactMaterialSpec{Friction: 0.3},
	}
}

// World owns every body, constraint and material of one simulation. It is
// not safe for concurrent use.
type World struct {
	cfg Config

	bodies      map[physics.BodyID]*Body
	order       []physics.BodyID
	constraints map[physics.ConstraintID]physics.ConstraintSpec
	corder      []physics.ConstraintID

	materials        map[string]physics.Material
	contactMaterials map[physics.MaterialPair]physics.ContactMaterialSpec

	contacts []physics.Contact
	impulses []float64
	tangents []physics.Vec3
	targets  []float64
	friction []float64

	time  float64
	steps uint64
}

func NewWorld(cfg Config) *World {
	if cfg.Iterations <= 0 {
		cfg.Iterations = 10
	}
	return &World{
		cfg:              cfg,
		bodies:           make(map[physics.BodyID]*Body),
		constraints:      make(map[physics.ConstraintID]physics.ConstraintSpec),
		materials:        make(map[string]physics.Material),
		contactMaterials: make(map[physics.MaterialPair]physics.ContactMaterialSpec),
	}
}

// Time is the simulated seconds elapsed.
func (w *World) Time() float64 { return w.time }

// Steps is the number of completed steps.
func (w *World) Steps() uint64 { return w.steps }

// AddBody registers a body under an id chosen by the caller.
func (w *World) AddBody(id physics.BodyID, desc physics.BodyDesc, filter physics.CollisionFilter) error {
	if _, exists := w.bodies[id]; exists {
		return errors.Wrapf(physics.ErrBodyAlreadyRegistered, "body %d", id)
	}
	w.bodies[id] = newBody(id, desc, filter)
	w.order = append(w.order, id)
	return nil
}

// RemoveBody drops a body and every constraint referencing it.
func (w *World) RemoveBody(id physics.BodyID) bool {
	if _, ok := w.bodies[id]; !ok {
		return false
	}
	delete(w.bodies, id)
	w.order = slices.DeleteFunc(w.order, func(v physics.BodyID) bool { return v == id })
	w.corder = slices.DeleteFunc(w.corder, func(cid physics.ConstraintID) bool {
		c := w.constraints[cid]
		if c.A == id || c.B == id {
			delete(w.constraints, cid)
			return true
		}
		return false
	})
	return true
}

// Body returns the engine record of id.
func (w *World) Body(id physics.BodyID) (*Body, bool) {
	b, ok := w.bodies[id]
	return b, ok
}

// State returns the current state of id.
func (w *World) State(id physics.BodyID) (physics.BodyState, bool) {
	b, ok := w.bodies[id]
	if !ok {
		return physics.BodyState{}, false
	}
	return b.State, true
}

// BodyIDs lists registered bodies in insertion order.
func (w *World) BodyIDs() []physics.BodyID {
	return slices.Clone(w.order)
}

// Each visits bodies in insertion order.
func (w *World) Each(fn func(b *Body)) {
	for _, id := range w.order {
		fn(w.bodies[id])
	}
}

func (w *World) AddConstraint(c physics.ConstraintSpec) error {
	if _, ok := w.bodies[c.A]; !ok {
		return errors.Wrapf(physics.ErrBodyNotRegistered, "constraint body %d", c.A)
	}
	if c.B != 0 {
		if _, ok := w.bodies[c.B]; !ok {
			return errors.Wrapf(physics.ErrBodyNotRegistered, "constraint body %d", c.B)
		}
	}
	if _, exists := w.constraints[c.ID]; !exists {
		w.corder = append(w.corder, c.ID)
	}
	w.constraints[c.ID] = c
	return nil
}

func (w *World) RemoveConstraint(id physics.ConstraintID) bool {
	if _, ok := w.constraints[id]; !ok {
		return false
	}
	delete(w.constraints, id)
	w.corder = slices.DeleteFunc(w.corder, func(v physics.ConstraintID) bool { return v == id })
	return true
}

func (w *World) AddMaterial(m physics.Material) error {
	if _, exists := w.materials[m.Name]; exists {
		return errors.Wrap(physics.ErrMaterialExists, m.Name)
	}
	w.materials[m.Name] = m
	return nil
}

func (w *World) AddContactMaterial(a, b string, spec physics.ContactMaterialSpec) error {
	for _, name := range []string{a, b} {
		if _, ok := w.materials[name]; !ok {
			return errors.Wrap(physics.ErrMaterialNotFound, name)
		}
	}
	w.contactMaterials[physics.NewMaterialPair(a, b)] = spec
	return nil
}

func (w *World) Material(name string) (physics.Material, bool) {
	m, ok := w.materials[name]
	return m, ok
}

// Contacts returns the contacts of the last step. The slice is reused by
// the next step.
func (w *World) Contacts() []physics.Contact { return w.contacts }

// Counts classifies bodies and reports the last step's contact count.
func (w *World) Counts() (physics.BodyStats, error) {
	var s physics.BodyStats
	for _, id := range w.order {
		if err := s.Count(w.bodies[id].Type); err != nil {
			return s, err
		}
	}
	s.Contacts = len(w.contacts)
	return s, nil
}

// Apply executes a body command immediately.
func (w *World) Apply(cmd physics.Command) error {
	b, ok := w.bodies[cmd.Body]
	if !ok {
		return errors.Wrapf(physics.ErrBodyNotRegistered, "%s body %d", cmd.Kind, cmd.Body)
	}
	switch cmd.Kind {
	case physics.CommandApplyImpulse:
		b.applyImpulse(cmd.Vector, cmd.Point)
	case physics.CommandApplyForce:
		b.force = b.force.Add(cmd.Vector)
		b.torque = b.torque.Add(cmd.Point.Sub(b.State.Position).Cross(cmd.Vector))
	case physics.CommandSetVelocity:
		b.State.Velocity = cmd.Vector
		b.State.AngularVelocity = cmd.Angular
	case physics.CommandSetPose:
		b.State.Position = cmd.Pose.Position
		b.State.Orientation = physics.NormalizeQuat(cmd.Pose.Orientation)
	case physics.CommandUpdateProperties:
		b.Props = cmd.Properties
		b.updateMass()
	default:
		return errors.Errorf("unknown command kind %d", cmd.Kind)
	}
	return nil
}

// Step advances the world by dt seconds in one variable step.
func (w *World) Step(dt float64) {
	if dt <= 0 {
		return
	}
	w.integrateVelocities(dt)
	w.detect()
	w.solve(dt)
	w.integratePositions(dt)
	w.time += dt
	w.steps++
}

func (w *World) integrateVelocities(dt float64) {
	for _, id := range w.order {
		b := w.bodies[id]
		if b.Type != physics.BodyDynamic {
			b.force, b.torque = physics.Vec3{}, physics.Vec3{}
			continue
		}
		accel := w.cfg.Gravity.Add(b.force.Mul(b.invMass))
		b.State.Velocity = b.State.Velocity.Add(accel.Mul(dt))
		b.State.AngularVelocity = b.State.AngularVelocity.Add(b.torque.Mul(b.invInertia * dt))
		if d := b.Props.LinearDamping; d > 0 {
			b.State.Velocity = b.State.Velocity.Mul(math.Pow(1-d, dt))
		}
		if d := b.Props.AngularDamping; d > 0 {
			b.State.AngularVelocity = b.State.AngularVelocity.Mul(math.Pow(1-d, dt))
		}
		b.force, b.torque = physics.Vec3{}, physics.Vec3{}
	}
}

func (w *World) detect() {
	w.contacts = w.contacts[:0]
	for i, ia := range w.order {
		a := w.bodies[ia]
		for _, ib := range w.order[i+1:] {
			b := w.bodies[ib]
			if a.Type != physics.BodyDynamic && b.Type != physics.BodyDynamic {
				continue
			}
			if !a.Filter.Collides(b.Filter) {
				continue
			}
			if c, ok := collide(a, b); ok {
				w.contacts = append(w.contacts, c)
			}
		}
	}
}

// contactSpec resolves the parameters for a touching pair: a registered
// contact material first, then the product of the coefficients both
// materials set, then the world default.
func (w *World) contactSpec(a, b *Body) physics.ContactMaterialSpec {
	if spec, ok := w.contactMaterials[physics.NewMaterialPair(a.Props.Material, b.Props.Material)]; ok {
		return spec
	}
	spec := w.cfg.DefaultContact
	ma, okA := w.materials[a.Props.Material]
	mb, okB := w.materials[b.Props.Material]
	if !okA || !okB {
		return spec
	}
	if ma.Friction >= 0 && mb.Friction >= 0 {
		spec.Friction = ma.Friction * mb.Friction
	}
	if ma.Restitution >= 0 && mb.Restitution >= 0 {
		spec.Restitution = ma.Restitution * mb.Restitution
	}
	return spec
}

func (w *World) solve(dt float64) {
	n := len(w.contacts)
	w.impulses = slices.Grow(w.impulses[:0], n)[:n]
	w.tangents = slices.Grow(w.tangents[:0], n)[:n]
	w.targets = slices.Grow(w.targets[:0], n)[:n]
	w.friction = slices.Grow(w.friction[:0], n)[:n]
	for i, c := range w.contacts {
		a, b := w.bodies[c.BodyA], w.bodies[c.BodyB]
		spec := w.contactSpec(a, b)
		w.impulses[i] = 0
		w.tangents[i] = physics.Vec3{}
		w.targets[i] = 0
		w.friction[i] = spec.Friction
		vn := b.State.Velocity.Sub(a.State.Velocity).Dot(c.Normal)
		if vn < -restitutionFloor {
			w.targets[i] = -spec.Restitution * vn
		}
	}

	for it := 0; it < w.cfg.Iterations; it++ {
		for i := range w.contacts {
			w.solveContact(i)
		}
		for _, id := range w.corder {
			w.solveConstraint(w.constraints[id], dt)
		}
	}

	for i, c := range w.contacts {
		a, b := w.bodies[c.BodyA], w.bodies[c.BodyB]
		w.contacts[i].Impulse = w.impulses[i]
		inv := a.invMass + b.invMass
		if inv == 0 {
			continue
		}
		depth := math.Max(c.Depth-penetrationSlop, 0) * positionCorrection / inv
		corr := c.Normal.Mul(depth)
		a.State.Position = a.State.Position.Sub(corr.Mul(a.invMass))
		b.State.Position = b.State.Position.Add(corr.Mul(b.invMass))
	}
}

func (w *World) solveContact(i int) {
	c := w.contacts[i]
	a, b := w.bodies[c.BodyA], w.bodies[c.BodyB]
	inv := a.invMass + b.invMass
	if inv == 0 {
		return
	}

	rel := b.State.Velocity.Sub(a.State.Velocity)
	vn := rel.Dot(c.Normal)
	j := (w.targets[i] - vn) / inv
	acc := math.Max(w.impulses[i]+j, 0)
	j = acc - w.impulses[i]
	w.impulses[i] = acc
	impulse := c.Normal.Mul(j)
	a.applyLinearImpulse(impulse.Mul(-1))
	b.applyLinearImpulse(impulse)

	// Friction accumulates like the normal impulse: the running total is
	// kept inside the Coulomb cone of the current normal impulse and only
	// the change is applied.
	rel = b.State.Velocity.Sub(a.State.Velocity)
	tangent := rel.Sub(c.Normal.Mul(rel.Dot(c.Normal)))
	old := w.tangents[i]
	total := old.Sub(tangent.Mul(1 / inv))
	limit := w.friction[i] * acc
	switch l := total.Len(); {
	case limit <= 0:
		total = physics.Vec3{}
	case l > limit:
		total = total.Mul(limit / l)
	}
	w.tangents[i] = total
	friction := total.Sub(old)
	a.applyLinearImpulse(friction.Mul(-1))
	b.applyLinearImpulse(friction)
}

func (w *World) solveConstraint(c physics.ConstraintSpec, dt float64) {
	a := w.bodies[c.A]
	b := w.bodies[c.B]

	pa := a.worldPoint(c.PivotA)
	pb := c.PivotB
	var vb physics.Vec3
	invB := 0.0
	if b != nil {
		pb = b.worldPoint(c.PivotB)
		vb = b.State.Velocity
		invB = b.invMass
	}
	inv := a.invMass + invB
	if inv == 0 {
		return
	}

	rel := vb.Sub(a.State.Velocity)
	delta := pb.Sub(pa)

	var impulse physics.Vec3
	switch c.Kind {
	case physics.ConstraintDistance:
		length := delta.Len()
		if length < 1e-9 {
			return
		}
		n := delta.Mul(1 / length)
		err := length - c.Distance
		j := -(rel.Dot(n) + constraintBias*err/dt) / inv
		impulse = n.Mul(j)
	case physics.ConstraintPointToPoint:
		impulse = rel.Add(delta.Mul(constraintBias / dt)).Mul(-1 / inv)
	default:
		return
	}
	if c.MaxForce > 0 {
		if limit := c.MaxForce * dt; impulse.Len() > limit {
			impulse = impulse.Normalize().Mul(limit)
		}
	}
	a.applyLinearImpulse(impulse.Mul(-1))
	if b != nil {
		b.applyLinearImpulse(impulse)
	}
}

func (w *World) integratePositions(dt float64) {
	for _, id := range w.order {
		b := w.bodies[id]
		if b.Type == physics.BodyStatic {
			continue
		}
		b.State.Position = b.State.Position.Add(b.State.Velocity.Mul(dt))
		om := b.State.AngularVelocity
		if om.Len() == 0 {
			continue
		}
		spin := physics.Quat{W: 0, V: om}.Mul(b.State.Orientation).Scale(0.5 * dt)
		b.State.Orientation = b.State.Orientation.Add(spin).Normalize()
	}
}

func (b *Body) String() string {
	return b.Type.String() + " body " + strconv.FormatUint(uint64(b.ID), 10)
}
