package worker

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/zeusync/physync/internal/core/systems/physics"
	"github.com/zeusync/physync/pkg/sequence"
)

// Interpolator buffers the most recent snapshots and blends body poses
// for a render time. It never extrapolates past the newest snapshot.
type Interpolator struct {
	buf         *sequence.Ring[Snapshot]
	interpolate bool
}

// NewInterpolator keeps up to capacity snapshots. With interpolate unset
// the newest snapshot is always used verbatim.
func NewInterpolator(capacity int, interpolate bool) *Interpolator {
	if interpolate && capacity < 2 {
		capacity = 2
	}
	return &Interpolator{buf: sequence.NewRing[Snapshot](capacity), interpolate: interpolate}
}

// Push adds s unless it is not newer than the newest buffered snapshot.
func (ip *Interpolator) Push(s Snapshot) error {
	if newest, ok := ip.buf.Newest(); ok && (s.Step <= newest.Step || s.Stamp.Before(newest.Stamp)) {
		return physics.ErrStaleSnapshot
	}
	ip.buf.Push(s)
	return nil
}

func (ip *Interpolator) Len() int { return ip.buf.Len() }

// Newest returns the most recent snapshot.
func (ip *Interpolator) Newest() (Snapshot, bool) { return ip.buf.Newest() }

// Frame is the pair of snapshots bracketing a render time.
type Frame struct {
	From, To Snapshot
	Alpha    float64
}

// Sample selects the snapshots bracketing renderTime. A render time past
// the newest snapshot holds it with alpha 1.
func (ip *Interpolator) Sample(renderTime time.Time) (Frame, bool) {
	n := ip.buf.Len()
	if n == 0 {
		return Frame{}, false
	}
	newest := ip.buf.At(n - 1)
	if !ip.interpolate || n == 1 {
		return Frame{From: newest, To: newest, Alpha: 1}, true
	}
	if !renderTime.Before(newest.Stamp) {
		return Frame{From: ip.buf.At(n - 2), To: newest, Alpha: 1}, true
	}
	for i := n - 2; i >= 0; i-- {
		from := ip.buf.At(i)
		if renderTime.Before(from.Stamp) && i > 0 {
			continue
		}
		to := ip.buf.At(i + 1)
		span := to.Stamp.Sub(from.Stamp)
		alpha := 1.0
		if span > 0 {
			alpha = float64(renderTime.Sub(from.Stamp)) / float64(span)
		}
		return Frame{From: from, To: to, Alpha: mgl64.Clamp(alpha, 0, 1)}, true
	}
	return Frame{}, false
}

// State blends the state of body id inside the frame. Velocities are
// taken from the target snapshot.
func (f Frame) State(id physics.BodyID) (physics.BodyState, bool) {
	to, ok := f.To.Bodies[id]
	if !ok {
		return physics.BodyState{}, false
	}
	from, ok := f.From.Bodies[id]
	if !ok || f.Alpha >= 1 {
		return to, true
	}
	p := physics.BlendPose(from.Pose(), to.Pose(), f.Alpha)
	to.Position, to.Orientation = p.Position, p.Orientation
	return to, true
}
