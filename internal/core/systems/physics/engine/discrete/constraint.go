package discrete

import "github.com/zeusync/physync/internal/core/systems/physics"

// TypedConstraint links two rigid bodies, or one body and a world point
// when B is nil.
type TypedConstraint struct {
	Kind           physics.ConstraintKind
	A, B           *RigidBody
	PivotA, PivotB physics.Vec3
	Distance       float64
	// MaxForce caps the corrective force; zero means unbounded.
	MaxForce       float64
}

// NewPoint2PointConstraint pins pivotA on a to pivotB on b.
func NewPoint2PointConstraint(a, b *RigidBody, pivotA, pivotB physics.Vec3) *TypedConstraint {
	return &TypedConstraint{Kind: physics.ConstraintPointToPoint, A: a, B: b, PivotA: pivotA, PivotB: pivotB}
}

// NewDistanceConstraint keeps a and b at distance apart.
func NewDistanceConstraint(a, b *RigidBody, distance float64) *TypedConstraint {
	return &TypedConstraint{Kind: physics.ConstraintDistance, A: a, B: b, Distance: distance}
}
