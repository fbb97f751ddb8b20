package discrete

import (
	"github.com/zeusync/physync/internal/core/systems/physics"
	"github.com/zeusync/physync/internal/core/systems/physics/engine/rigid"
)

// Collision flags classify a rigid body. A body with neither static nor
// kinematic flag is dynamic.
const (
	CollisionFlagStaticObject      = 1
	CollisionFlagKinematicObject   = 2
	CollisionFlagNoContactResponse = 4
)

// Transform is a body origin plus rotation.
type Transform struct {
	Origin   physics.Vec3
	Rotation physics.Quat
}

// ConstructionInfo describes a rigid body. Zero mass produces a static
// object.
type ConstructionInfo struct {
	Mass           float64
	Shape          physics.Shape
	Transform      Transform
	LinearDamping  float64
	AngularDamping float64
	Material       string
}

// RigidBody is a body handle of the discrete engine. Before it is added to
// a world it holds its own state; afterwards it reads through to the
// world.
type RigidBody struct {
	info      ConstructionInfo
	flags     int
	userIndex int
	linVel    physics.Vec3
	angVel    physics.Vec3

	world *DynamicsWorld
	core  *rigid.Body
	group int
	mask  int
}

func NewRigidBody(info ConstructionInfo) *RigidBody {
	rb := &RigidBody{info: info}
	rb.info.Transform.Rotation = physics.NormalizeQuat(info.Transform.Rotation)
	if info.Mass == 0 {
		rb.flags |= CollisionFlagStaticObject
	}
	return rb
}

func (rb *RigidBody) CollisionFlags() int { return rb.flags }

// SetCollisionFlags changes the classification. Takes effect on the next
// AddRigidBody.
func (rb *RigidBody) SetCollisionFlags(flags int) { rb.flags = flags }

func (rb *RigidBody) IsStaticObject() bool    { return rb.flags&CollisionFlagStaticObject != 0 }
func (rb *RigidBody) IsKinematicObject() bool { return rb.flags&CollisionFlagKinematicObject != 0 }

// IsStaticOrKinematicObject reports whether the body is not moved by the
// solver.
func (rb *RigidBody) IsStaticOrKinematicObject() bool {
	return rb.flags&(CollisionFlagStaticObject|CollisionFlagKinematicObject) != 0
}

func (rb *RigidBody) UserIndex() int       { return rb.userIndex }
func (rb *RigidBody) SetUserIndex(idx int) { rb.userIndex = idx }
func (rb *RigidBody) Shape() physics.Shape { return rb.info.Shape }
func (rb *RigidBody) Mass() float64        { return rb.info.Mass }
func (rb *RigidBody) Material() string     { return rb.info.Material }

// BroadphaseFilter returns the group and mask the body was added with.
func (rb *RigidBody) BroadphaseFilter() (group, mask int) { return rb.group, rb.mask }

func (rb *RigidBody) bodyType() physics.BodyType {
	switch {
	case rb.IsStaticObject():
		return physics.BodyStatic
	case rb.IsKinematicObject():
		return physics.BodyKinematic
	default:
		return physics.BodyDynamic
	}
}

func (rb *RigidBody) WorldTransform() Transform {
	if rb.core != nil {
		return Transform{Origin: rb.core.State.Position, Rotation: rb.core.State.Orientation}
	}
	return rb.info.Transform
}

func (rb *RigidBody) SetWorldTransform(t Transform) {
	t.Rotation = physics.NormalizeQuat(t.Rotation)
	if rb.core != nil {
		rb.core.State.Position = t.Origin
		rb.core.State.Orientation = t.Rotation
		return
	}
	rb.info.Transform = t
}

func (rb *RigidBody) LinearVelocity() physics.Vec3 {
	if rb.core != nil {
		return rb.core.State.Velocity
	}
	return rb.linVel
}

func (rb *RigidBody) AngularVelocity() physics.Vec3 {
	if rb.core != nil {
		return rb.core.State.AngularVelocity
	}
	return rb.angVel
}

func (rb *RigidBody) SetLinearVelocity(v physics.Vec3) {
	if rb.core != nil {
		rb.core.State.Velocity = v
		return
	}
	rb.linVel = v
}

func (rb *RigidBody) SetAngularVelocity(v physics.Vec3) {
	if rb.core != nil {
		rb.core.State.AngularVelocity = v
		return
	}
	rb.angVel = v
}

// ApplyImpulse applies impulse at relPos, an offset from the body origin.
func (rb *RigidBody) ApplyImpulse(impulse, relPos physics.Vec3) error {
	return rb.apply(physics.Command{Kind: physics.CommandApplyImpulse, Vector: impulse, Point: rb.WorldTransform().Origin.Add(relPos)})
}

func (rb *RigidBody) ApplyCentralImpulse(impulse physics.Vec3) error {
	return rb.ApplyImpulse(impulse, physics.Vec3{})
}

// ApplyForce accumulates a force at relPos until the next sub-step.
func (rb *RigidBody) ApplyForce(force, relPos physics.Vec3) error {
	return rb.apply(physics.Command{Kind: physics.CommandApplyForce, Vector: force, Point: rb.WorldTransform().Origin.Add(relPos)})
}

// SetMassProps changes mass and damping. Zero mass does not change flags.
func (rb *RigidBody) SetMassProps(mass, linearDamping, angularDamping float64, material string) error {
	rb.info.Mass = mass
	rb.info.LinearDamping = linearDamping
	rb.info.AngularDamping = angularDamping
	rb.info.Material = material
	if rb.core == nil {
		return nil
	}
	return rb.apply(physics.Command{Kind: physics.CommandUpdateProperties, Properties: rb.properties()})
}

func (rb *RigidBody) properties() physics.BodyProperties {
	return physics.BodyProperties{
		Mass:           rb.info.Mass,
		LinearDamping:  rb.info.LinearDamping,
		AngularDamping: rb.info.AngularDamping,
		Material:       rb.info.Material,
	}
}

func (rb *RigidBody) apply(cmd physics.Command) error {
	if rb.core == nil {
		return physics.ErrBodyNotRegistered
	}
	cmd.Body = rb.core.ID
	return rb.world.core.Apply(cmd)
}

// aabb returns the axis aligned bounds of the bounding sphere.
func (rb *RigidBody) aabb() (lo, hi physics.Vec3) {
	o := rb.WorldTransform().Origin
	if rb.info.Shape.Kind == physics.ShapePlane {
		const extent = 50
		return o.Sub(physics.Vec3{extent, 0, extent}), o.Add(physics.Vec3{extent, 0, extent})
	}
	r := rb.info.Shape.BoundingRadius()
	ext := physics.Vec3{r, r, r}
	return o.Sub(ext), o.Add(ext)
}
