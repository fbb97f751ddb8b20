package rigid

import (
	"github.com/zeusync/physync/internal/core/systems/physics"
)

// Body is the engine-side record of a registered body.
type Body struct {
	ID     physics.BodyID
	Type   physics.BodyType
	Shape  physics.Shape
	Props  physics.BodyProperties
	Filter physics.CollisionFilter
	State  physics.BodyState

	invMass    float64
	invInertia float64
	force      physics.Vec3
	torque     physics.Vec3
}

func newBody(id physics.BodyID, desc physics.BodyDesc, filter physics.CollisionFilter) *Body {
	b := &Body{
		ID:     id,
		Type:   desc.Type,
		Shape:  desc.Shape,
		Props:  desc.BodyProperties,
		Filter: filter,
		State:  desc.InitialState(),
	}
	b.updateMass()
	return b
}

// updateMass derives inverse mass and a scalar inverse inertia from the
// bounding sphere of the shape. Only dynamic bodies respond to impulses.
func (b *Body) updateMass() {
	b.invMass, b.invInertia = 0, 0
	if b.Type != physics.BodyDynamic || b.Props.Mass <= 0 {
		return
	}
	b.invMass = 1 / b.Props.Mass
	r := b.Shape.BoundingRadius()
	if r > 0 {
		b.invInertia = 1 / (0.4 * b.Props.Mass * r * r)
	}
}

func (b *Body) InvMass() float64 { return b.invMass }

func (b *Body) applyImpulse(impulse, point physics.Vec3) {
	if b.invMass == 0 {
		return
	}
	b.State.Velocity = b.State.Velocity.Add(impulse.Mul(b.invMass))
	arm := point.Sub(b.State.Position)
	b.State.AngularVelocity = b.State.AngularVelocity.Add(arm.Cross(impulse).Mul(b.invInertia))
}

func (b *Body) applyLinearImpulse(impulse physics.Vec3) {
	if b.invMass == 0 {
		return
	}
	b.State.Velocity = b.State.Velocity.Add(impulse.Mul(b.invMass))
}

// worldPoint maps a local offset to world space.
func (b *Body) worldPoint(local physics.Vec3) physics.Vec3 {
	return b.State.Position.Add(b.State.Orientation.Rotate(local))
}
