package discrete

import (
	"strconv"

	"github.com/zeusync/physync/internal/core/systems/physics"
)

const (
	maxManifoldPoints     = 4
	contactMergeThreshold = 0.02
)

// ManifoldPoint is one contact point of a manifold.
type ManifoldPoint struct {
	PositionWorldOnA physics.Vec3
	PositionWorldOnB physics.Vec3
	NormalWorldOnB   physics.Vec3
	// Distance is negative while penetrating.
	Distance       float64
	AppliedImpulse float64
	// LifeTime counts the sub-steps the point has persisted.
	LifeTime int
}

// PersistentManifold caches up to four contact points of one body pair
// for as long as the pair keeps touching.
type PersistentManifold struct {
	body0, body1 *RigidBody
	points       []ManifoldPoint
	touched      bool
}

func (m *PersistentManifold) Body0() *RigidBody { return m.body0 }
func (m *PersistentManifold) Body1() *RigidBody { return m.body1 }
func (m *PersistentManifold) NumContacts() int  { return len(m.points) }

func (m *PersistentManifold) ContactPoint(i int) ManifoldPoint { return m.points[i] }

func (m *PersistentManifold) addPoint(p ManifoldPoint) {
	for i := range m.points {
		if m.points[i].PositionWorldOnB.Sub(p.PositionWorldOnB).Len() < contactMergeThreshold {
			p.LifeTime = m.points[i].LifeTime + 1
			m.points[i] = p
			return
		}
	}
	if len(m.points) == maxManifoldPoints {
		copy(m.points, m.points[1:])
		m.points = m.points[:maxManifoldPoints-1]
	}
	m.points = append(m.points, p)
}

type pairKey struct {
	a, b physics.BodyID
}

// Dispatcher tracks the manifolds of touching pairs.
type Dispatcher struct {
	manifolds map[pairKey]*PersistentManifold
	order     []pairKey
}

func newDispatcher() *Dispatcher {
	return &Dispatcher{manifolds: make(map[pairKey]*PersistentManifold)}
}

func (d *Dispatcher) NumManifolds() int { return len(d.order) }

// ManifoldByIndexInternal returns the i-th manifold.
func (d *Dispatcher) ManifoldByIndexInternal(i int) *PersistentManifold {
	return d.manifolds[d.order[i]]
}

func (d *Dispatcher) each(fn func(m *PersistentManifold)) {
	for _, k := range d.order {
		fn(d.manifolds[k])
	}
}

// refresh merges one sub-step of contacts into the manifolds and drops
// manifolds of pairs that separated.
func (d *Dispatcher) refresh(contacts []physics.Contact, bodies map[physics.BodyID]*RigidBody) {
	for _, m := range d.manifolds {
		m.touched = false
	}
	for _, c := range contacts {
		k := pairKey{c.BodyA, c.BodyB}
		m, ok := d.manifolds[k]
		if !ok {
			m = &PersistentManifold{body0: bodies[c.BodyA], body1: bodies[c.BodyB]}
			d.manifolds[k] = m
			d.order = append(d.order, k)
		}
		m.touched = true
		m.addPoint(ManifoldPoint{
			PositionWorldOnA: c.Point.Add(c.Normal.Mul(c.Depth)),
			PositionWorldOnB: c.Point,
			NormalWorldOnB:   c.Normal.Mul(-1),
			Distance:         -c.Depth,
			AppliedImpulse:   c.Impulse,
		})
	}
	d.prune(func(m *PersistentManifold) bool { return !m.touched })
}

func (d *Dispatcher) releaseBody(rb *RigidBody) {
	d.prune(func(m *PersistentManifold) bool { return m.body0 == rb || m.body1 == rb })
}

func (d *Dispatcher) prune(drop func(m *PersistentManifold) bool) {
	kept := d.order[:0]
	for _, k := range d.order {
		if drop(d.manifolds[k]) {
			delete(d.manifolds, k)
			continue
		}
		kept = append(kept, k)
	}
	d.order = kept
}

func debugSummary(w *DynamicsWorld) string {
	points := 0
	w.dispatcher.each(func(m *PersistentManifold) { points += m.NumContacts() })
	return "bodies " + strconv.Itoa(w.NumCollisionObjects()) +
		" manifolds " + strconv.Itoa(w.dispatcher.NumManifolds()) +
		" contacts " + strconv.Itoa(points)
}
