package physics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Vec3 and Quat are the math types shared by every backend.
type (
	Vec3 = mgl64.Vec3
	Quat = mgl64.Quat
)

// Pose is the rendered transform of a body.
type Pose struct {
	Position    Vec3
	Orientation Quat
}

// IdentityPose places a body at the origin with no rotation.
func IdentityPose() Pose {
	return Pose{Orientation: mgl64.QuatIdent()}
}

// LerpVec3 linearly interpolates between a and b.
func LerpVec3(a, b Vec3, alpha float64) Vec3 {
	return a.Add(b.Sub(a).Mul(alpha))
}

// SlerpQuat spherically interpolates along the shortest arc.
func SlerpQuat(a, b Quat, alpha float64) Quat {
	if a.Dot(b) < 0 {
		b = b.Scale(-1)
	}
	switch {
	case alpha <= 0:
		return a
	case alpha >= 1:
		return b
	}
	return mgl64.QuatSlerp(a, b, alpha).Normalize()
}

// BlendPose interpolates position linearly and orientation spherically.
// alpha is clamped to [0,1].
func BlendPose(from, to Pose, alpha float64) Pose {
	alpha = mgl64.Clamp(alpha, 0, 1)
	return Pose{
		Position:    LerpVec3(from.Position, to.Position, alpha),
		Orientation: SlerpQuat(from.Orientation, to.Orientation, alpha),
	}
}

// NormalizeQuat returns q normalized, or identity for a zero quaternion.
func NormalizeQuat(q Quat) Quat {
	l := q.Len()
	if l == 0 || math.IsNaN(l) {
		return mgl64.QuatIdent()
	}
	return q.Scale(1 / l)
}
