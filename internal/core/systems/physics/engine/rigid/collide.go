package rigid

import (
	"math"

	"github.com/zeusync/physync/internal/core/systems/physics"
)

// collide returns the contact between a and b, if any. The normal points
// from a to b.
func collide(a, b *Body) (physics.Contact, bool) {
	ka, kb := a.Shape.Kind, b.Shape.Kind
	switch {
	case ka == physics.ShapePlane && kb == physics.ShapePlane:
		return physics.Contact{}, false
	case ka == physics.ShapePlane:
		return planeContact(a, b, false)
	case kb == physics.ShapePlane:
		return planeContact(b, a, true)
	default:
		return sphereContact(a, b)
	}
}

// sphereContact treats both bodies as their bounding spheres.
func sphereContact(a, b *Body) (physics.Contact, bool) {
	ra, rb := a.Shape.BoundingRadius(), b.Shape.BoundingRadius()
	d := b.State.Position.Sub(a.State.Position)
	dist := d.Len()
	if dist >= ra+rb {
		return physics.Contact{}, false
	}
	n := physics.Vec3{0, 1, 0}
	if dist > 1e-9 {
		n = d.Mul(1 / dist)
	}
	return physics.Contact{
		BodyA:  a.ID,
		BodyB:  b.ID,
		Point:  a.State.Position.Add(n.Mul(ra)),
		Normal: n,
		Depth:  ra + rb - dist,
	}, true
}

// planeContact tests other against plane. flip reports that the caller
// passed the plane as the second body.
func planeContact(plane, other *Body, flip bool) (physics.Contact, bool) {
	n := plane.State.Orientation.Rotate(plane.Shape.Normal).Normalize()
	origin := plane.State.Position

	var point physics.Vec3
	dist := math.Inf(1)
	switch other.Shape.Kind {
	case physics.ShapeBox:
		h := other.Shape.HalfExtents
		for _, sx := range [2]float64{-1, 1} {
			for _, sy := range [2]float64{-1, 1} {
				for _, sz := range [2]float64{-1, 1} {
					corner := other.worldPoint(physics.Vec3{sx * h[0], sy * h[1], sz * h[2]})
					if d := corner.Sub(origin).Dot(n); d < dist {
						dist, point = d, corner
					}
				}
			}
		}
	default:
		r := other.Shape.BoundingRadius()
		dist = other.State.Position.Sub(origin).Dot(n) - r
		point = other.State.Position.Sub(n.Mul(r))
	}
	if dist >= 0 {
		return physics.Contact{}, false
	}

	c := physics.Contact{
		BodyA:  plane.ID,
		BodyB:  other.ID,
		Point:  point,
		Normal: n,
		Depth:  -dist,
	}
	if flip {
		c.BodyA, c.BodyB = other.ID, plane.ID
		c.Normal = n.Mul(-1)
	}
	return c, true
}
