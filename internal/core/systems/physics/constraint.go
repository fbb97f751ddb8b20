package physics

import "sync/atomic"

// ConstraintID identifies a constraint across goroutines.
type ConstraintID uint64

var constraintSeq atomic.Uint64

type ConstraintKind uint8

const (
	// ConstraintDistance keeps the body anchors at a fixed distance.
	ConstraintDistance ConstraintKind = iota
	// ConstraintPointToPoint pins two anchors together.
	ConstraintPointToPoint
)

// Constraint restricts relative motion of two bodies, or of one body and the
// world when B is nil. It belongs to whoever created it and stays registered
// until removed explicitly.
type Constraint struct {
	id   ConstraintID
	Kind ConstraintKind

	A, B *Body
	// PivotA is local to A. PivotB is local to B, or a world point when B is nil.
	PivotA, PivotB Vec3
	Distance       float64
	// MaxForce caps the corrective impulse per step; zero means unbounded.
	MaxForce float64
}

// NewDistanceConstraint links the centres of a and b at the given distance.
func NewDistanceConstraint(a, b *Body, distance float64) *Constraint {
	return &Constraint{id: ConstraintID(constraintSeq.Add(1)), Kind: ConstraintDistance, A: a, B: b, Distance: distance}
}

// NewPointToPointConstraint pins pivotA on a to pivotB on b.
func NewPointToPointConstraint(a *Body, pivotA Vec3, b *Body, pivotB Vec3) *Constraint {
	return &Constraint{id: ConstraintID(constraintSeq.Add(1)), Kind: ConstraintPointToPoint, A: a, PivotA: pivotA, B: b, PivotB: pivotB}
}

func (c *Constraint) ID() ConstraintID { return c.id }

// ConstraintSpec is a copy of a constraint expressed with body ids, safe to hand to
// another goroutine.
type ConstraintSpec struct {
	ID             ConstraintID
	Kind           ConstraintKind
	A, B           BodyID
	PivotA, PivotB Vec3
	Distance       float64
	MaxForce       float64
}

// Spec resolves the constraint to body ids. Both bodies must be registered.
func (c *Constraint) Spec() (ConstraintSpec, error) {
	if c.A == nil || !c.A.Bound() {
		return ConstraintSpec{}, ErrBodyNotRegistered
	}
	spec := ConstraintSpec{
		ID:       c.id,
		Kind:     c.Kind,
		A:        c.A.ID(),
		PivotA:   c.PivotA,
		PivotB:   c.PivotB,
		Distance: c.Distance,
		MaxForce: c.MaxForce,
	}
	if c.B != nil {
		if !c.B.Bound() {
			return ConstraintSpec{}, ErrBodyNotRegistered
		}
		spec.B = c.B.ID()
	}
	return spec, nil
}
