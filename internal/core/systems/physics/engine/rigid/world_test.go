package rigid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/physync/internal/core/systems/physics"
)

func newTestWorld() *World {
	return NewWorld(Config{
		Gravity:        physics.Vec3{0, -9.8, 0},
		Iterations:     10,
		DefaultContact: physics.ContactMaterialSpec{Friction: 0.3},
	})
}

func TestFreeFall(t *testing.T) {
	w := newTestWorld()
	require.NoError(t, w.AddBody(1, physics.BodyDesc{
		Shape:          physics.Sphere(0.5),
		BodyProperties: physics.BodyProperties{Mass: 1},
		Position:       physics.Vec3{0, 10, 0},
	}, physics.DefaultFilter))

	for i := 0; i < 60; i++ {
		w.Step(1.0 / 60.0)
	}
	st, ok := w.State(1)
	require.True(t, ok)
	assert.Less(t, st.Position.Y(), 10.0)
	// semi-implicit Euler overshoots the analytic 4.9 m drop slightly
	assert.InDelta(t, 10-4.9, st.Position.Y(), 0.15)
	assert.InDelta(t, 1.0, w.Time(), 1e-9)
	assert.Equal(t, uint64(60), w.Steps())
}

func TestSphereRestsOnPlane(t *testing.T) {
	w := newTestWorld()
	require.NoError(t, w.AddBody(1, physics.BodyDesc{Type: physics.BodyStatic, Shape: physics.Plane()}, physics.DefaultFilter))
	require.NoError(t, w.AddBody(2, physics.BodyDesc{
		Shape:          physics.Sphere(0.5),
		BodyProperties: physics.BodyProperties{Mass: 1},
		Position:       physics.Vec3{0, 2, 0},
	}, physics.DefaultFilter))

	for i := 0; i < 240; i++ {
		w.Step(1.0 / 60.0)
	}
	st, _ := w.State(2)
	assert.InDelta(t, 0.5, st.Position.Y(), 0.05)
	require.NotEmpty(t, w.Contacts())
	c := w.Contacts()[0]
	assert.Equal(t, physics.BodyID(1), c.BodyA)
	assert.Equal(t, physics.BodyID(2), c.BodyB)
	assert.InDelta(t, 1.0, c.Normal.Y(), 1e-9)
}

func TestFilterPreventsContact(t *testing.T) {
	w := newTestWorld()
	require.NoError(t, w.AddBody(1, physics.BodyDesc{Type: physics.BodyStatic, Shape: physics.Plane()},
		physics.CollisionFilter{Group: 1, Mask: 1}))
	require.NoError(t, w.AddBody(2, physics.BodyDesc{
		Shape:          physics.Sphere(0.5),
		BodyProperties: physics.BodyProperties{Mass: 1},
		Position:       physics.Vec3{0, 0.4, 0},
	}, physics.CollisionFilter{Group: 2, Mask: 2}))

	w.Step(1.0 / 60.0)
	assert.Empty(t, w.Contacts())
}

func TestCommands(t *testing.T) {
	w := newTestWorld()
	require.NoError(t, w.AddBody(1, physics.BodyDesc{
		Shape:          physics.Sphere(1),
		BodyProperties: physics.BodyProperties{Mass: 2},
	}, physics.DefaultFilter))

	require.NoError(t, w.Apply(physics.Command{Kind: physics.CommandApplyImpulse, Body: 1, Vector: physics.Vec3{4, 0, 0}}))
	st, _ := w.State(1)
	assert.InDelta(t, 2.0, st.Velocity.X(), 1e-9)

	require.NoError(t, w.Apply(physics.Command{Kind: physics.CommandSetPose, Body: 1,
		Pose: physics.Pose{Position: physics.Vec3{5, 5, 5}}}))
	st, _ = w.State(1)
	assert.Equal(t, physics.Vec3{5, 5, 5}, st.Position)
	assert.InDelta(t, 1.0, st.Orientation.W, 1e-9)

	require.NoError(t, w.Apply(physics.Command{Kind: physics.CommandUpdateProperties, Body: 1,
		Properties: physics.BodyProperties{Mass: 4}}))
	b, _ := w.Body(1)
	assert.InDelta(t, 0.25, b.InvMass(), 1e-9)

	err := w.Apply(physics.Command{Kind: physics.CommandSetVelocity, Body: 9})
	assert.ErrorIs(t, err, physics.ErrBodyNotRegistered)
}

func TestStaticBodyIgnoresImpulse(t *testing.T) {
	w := newTestWorld()
	require.NoError(t, w.AddBody(1, physics.BodyDesc{Type: physics.BodyStatic, Shape: physics.Box(physics.Vec3{1, 1, 1})}, physics.DefaultFilter))
	require.NoError(t, w.Apply(physics.Command{Kind: physics.CommandApplyImpulse, Body: 1, Vector: physics.Vec3{10, 0, 0}}))
	w.Step(1.0 / 60.0)
	st, _ := w.State(1)
	assert.Equal(t, physics.Vec3{}, st.Position)
}

func TestCountsAndRemove(t *testing.T) {
	w := newTestWorld()
	require.NoError(t, w.AddBody(1, physics.BodyDesc{Type: physics.BodyStatic, Shape: physics.Plane()}, physics.DefaultFilter))
	require.NoError(t, w.AddBody(2, physics.BodyDesc{Shape: physics.Sphere(1), BodyProperties: physics.BodyProperties{Mass: 1}}, physics.DefaultFilter))
	require.NoError(t, w.AddBody(3, physics.BodyDesc{Type: physics.BodyKinematic, Shape: physics.Sphere(1)}, physics.DefaultFilter))
	assert.ErrorIs(t, w.AddBody(3, physics.BodyDesc{}, physics.DefaultFilter), physics.ErrBodyAlreadyRegistered)

	s, err := w.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, s.Static)
	assert.Equal(t, 1, s.Dynamic)
	assert.Equal(t, 1, s.Kinematic)

	require.NoError(t, w.AddConstraint(physics.ConstraintSpec{ID: 7, Kind: physics.ConstraintDistance, A: 2, B: 3, Distance: 2}))
	assert.True(t, w.RemoveBody(3))
	assert.False(t, w.RemoveConstraint(7))
	assert.False(t, w.RemoveBody(3))
	assert.Equal(t, []physics.BodyID{1, 2}, w.BodyIDs())
}

func TestDistanceConstraintHoldsLength(t *testing.T) {
	w := newTestWorld()
	require.NoError(t, w.AddBody(1, physics.BodyDesc{Type: physics.BodyStatic, Shape: physics.Sphere(0.1), Position: physics.Vec3{0, 5, 0}},
		physics.CollisionFilter{Group: 1, Mask: 0}))
	require.NoError(t, w.AddBody(2, physics.BodyDesc{Shape: physics.Sphere(0.1), BodyProperties: physics.BodyProperties{Mass: 1}, Position: physics.Vec3{0, 3, 0}},
		physics.CollisionFilter{Group: 2, Mask: 0}))
	require.NoError(t, w.AddConstraint(physics.ConstraintSpec{ID: 1, Kind: physics.ConstraintDistance, A: 2, B: 1, Distance: 2}))

	for i := 0; i < 120; i++ {
		w.Step(1.0 / 60.0)
	}
	st, _ := w.State(2)
	assert.InDelta(t, 3.0, st.Position.Y(), 0.1)
}

func TestMaterials(t *testing.T) {
	w := newTestWorld()
	require.NoError(t, w.AddMaterial(physics.Material{Name: "ice", Friction: 0.01}))
	assert.ErrorIs(t, w.AddMaterial(physics.Material{Name: "ice"}), physics.ErrMaterialExists)
	assert.ErrorIs(t, w.AddContactMaterial("ice", "mud", physics.ContactMaterialSpec{}), physics.ErrMaterialNotFound)

	m, ok := w.Material("ice")
	require.True(t, ok)
	assert.Equal(t, 0.01, m.Friction)
	_, ok = w.Material("mud")
	assert.False(t, ok)
}

func slidingSphere(t *testing.T, w *World, material string) {
	t.Helper()
	require.NoError(t, w.AddBody(1, physics.BodyDesc{
		Type:           physics.BodyStatic,
		Shape:          physics.Plane(),
		BodyProperties: physics.BodyProperties{Material: material},
	}, physics.DefaultFilter))
	require.NoError(t, w.AddBody(2, physics.BodyDesc{
		Shape:          physics.Sphere(0.5),
		BodyProperties: physics.BodyProperties{Mass: 1, Material: material},
		Position:       physics.Vec3{0, 0.49, 0},
		Velocity:       physics.Vec3{5, 0, 0},
	}, physics.DefaultFilter))
}

func TestMaterialCoefficientsCombine(t *testing.T) {
	w := newTestWorld()
	require.NoError(t, w.AddMaterial(physics.Material{Name: "ice", Friction: 0, Restitution: 0}))
	slidingSphere(t, w, "ice")

	for i := 0; i < 60; i++ {
		w.Step(1.0 / 60.0)
	}
	st, _ := w.State(2)
	assert.InDelta(t, 5.0, st.Velocity.X(), 1e-6)
	assert.NotEmpty(t, w.Contacts())
}

func TestUnsetMaterialUsesDefaultContact(t *testing.T) {
	w := newTestWorld()
	require.NoError(t, w.AddMaterial(physics.NewMaterial("plain")))
	slidingSphere(t, w, "plain")

	for i := 0; i < 30; i++ {
		w.Step(1.0 / 60.0)
	}
	st, _ := w.State(2)
	// 0.3 * 9.8 m/s^2 for half a second
	assert.InDelta(t, 5.0-1.47, st.Velocity.X(), 0.05)
}

func TestContactMaterialOverridesCoefficients(t *testing.T) {
	w := newTestWorld()
	require.NoError(t, w.AddMaterial(physics.Material{Name: "ice"}))
	require.NoError(t, w.AddContactMaterial("ice", "ice", physics.ContactMaterialSpec{Friction: 0.2}))
	slidingSphere(t, w, "ice")

	for i := 0; i < 30; i++ {
		w.Step(1.0 / 60.0)
	}
	st, _ := w.State(2)
	assert.InDelta(t, 5.0-0.98, st.Velocity.X(), 0.05)
}

func TestFrictionIndependentOfIterations(t *testing.T) {
	for _, iterations := range []int{1, 4, 10} {
		w := NewWorld(Config{
			Gravity:        physics.Vec3{0, -9.8, 0},
			Iterations:     iterations,
			DefaultContact: physics.ContactMaterialSpec{Friction: 0.1},
		})
		slidingSphere(t, w, "")

		for i := 0; i < 30; i++ {
			w.Step(1.0 / 60.0)
		}
		st, _ := w.State(2)
		// Coulomb deceleration mu*g over half a second
		assert.InDelta(t, 5.0-0.49, st.Velocity.X(), 0.05, "iterations %d", iterations)
	}
}
