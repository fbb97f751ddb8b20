package local

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/physync/internal/core/observability/log"
	"github.com/zeusync/physync/internal/core/systems/physics"
)

func newDriver(t *testing.T) *Driver {
	t.Helper()
	d := New(log.NewNop())
	require.NoError(t, d.Init(context.Background(), physics.DefaultConfig().EngineConfig()))
	return d
}

func ball(y float64) *physics.Body {
	return physics.NewBody(physics.BodyDesc{
		Shape:    physics.Sphere(0.5),
		Position: physics.Vec3{0, y, 0},
	}, nil)
}

func TestFreeFallOneSecond(t *testing.T) {
	d := newDriver(t)
	b := ball(10)
	require.NoError(t, d.AddBody(b, physics.DefaultFilter))

	for i := 0; i < 60; i++ {
		require.NoError(t, d.Step(1.0/60.0))
	}
	y := b.Pose().Position.Y()
	assert.Less(t, y, 10.0)
	assert.InDelta(t, 5.1, y, 0.15)
}

func TestNotInitialized(t *testing.T) {
	d := New(log.NewNop())
	assert.ErrorIs(t, d.Step(0.1), physics.ErrNotInitialized)
	assert.ErrorIs(t, d.AddBody(ball(1), physics.DefaultFilter), physics.ErrNotInitialized)

	require.NoError(t, d.Init(context.Background(), physics.EngineConfig{}))
	assert.ErrorIs(t, d.Init(context.Background(), physics.EngineConfig{}), physics.ErrAlreadyInitialized)
}

func TestCommandsApplyImmediately(t *testing.T) {
	d := newDriver(t)
	b := ball(0)
	assert.ErrorIs(t, b.ApplyImpulse(physics.Vec3{1, 0, 0}, physics.Vec3{}), physics.ErrBodyNotRegistered)

	require.NoError(t, d.AddBody(b, physics.DefaultFilter))
	require.NoError(t, b.ApplyImpulse(physics.Vec3{2, 0, 0}, b.Pose().Position))
	assert.InDelta(t, 2.0, b.State().Velocity.X(), 1e-9)

	require.NoError(t, b.SetPose(physics.Pose{Position: physics.Vec3{1, 2, 3}}))
	assert.Equal(t, physics.Vec3{1, 2, 3}, b.Pose().Position)
}

func TestAddRemoveRestoresCounts(t *testing.T) {
	d := newDriver(t)
	ground := physics.NewBody(physics.BodyDesc{Type: physics.BodyStatic, Shape: physics.Plane()}, nil)
	require.NoError(t, d.AddBody(ground, physics.DefaultFilter))
	before, err := d.BodyStats()
	require.NoError(t, err)

	b := ball(3)
	require.NoError(t, d.AddBody(b, physics.DefaultFilter))
	assert.ErrorIs(t, d.AddBody(b, physics.DefaultFilter), physics.ErrBodyAlreadyRegistered)
	mid, err := d.BodyStats()
	require.NoError(t, err)
	assert.Equal(t, before.Dynamic+1, mid.Dynamic)

	require.NoError(t, d.Step(1.0/60.0))
	require.NoError(t, d.RemoveBody(b))
	assert.ErrorIs(t, d.RemoveBody(b), physics.ErrBodyNotRegistered)
	after, err := d.BodyStats()
	require.NoError(t, err)
	assert.Equal(t, before.Static, after.Static)
	assert.Equal(t, before.Dynamic, after.Dynamic)

	// the handle keeps the last simulated state
	assert.Less(t, b.Pose().Position.Y(), 3.0)
}

func TestCollisionHandlers(t *testing.T) {
	d := newDriver(t)
	ground := physics.NewBody(physics.BodyDesc{Type: physics.BodyStatic, Shape: physics.Plane()}, nil)
	b := ball(0.4)
	var hits []physics.Contact
	b.OnCollide(func(c physics.Contact) { hits = append(hits, c) })
	require.NoError(t, d.AddBody(ground, physics.DefaultFilter))
	require.NoError(t, d.AddBody(b, physics.DefaultFilter))

	require.NoError(t, d.Step(1.0/60.0))
	require.Len(t, hits, 1)
	assert.Contains(t, []physics.BodyID{hits[0].BodyA, hits[0].BodyB}, b.ID())
	assert.Len(t, d.Contacts(), 1)
}

func TestConstraintsAndMaterials(t *testing.T) {
	d := newDriver(t)
	a, b := ball(0), ball(5)
	c := physics.NewDistanceConstraint(a, b, 5)
	assert.ErrorIs(t, d.AddConstraint(c), physics.ErrBodyNotRegistered)

	require.NoError(t, d.AddBody(a, physics.DefaultFilter))
	require.NoError(t, d.AddBody(b, physics.DefaultFilter))
	require.NoError(t, d.AddConstraint(c))
	require.NoError(t, d.RemoveConstraint(c))
	assert.ErrorIs(t, d.RemoveConstraint(c), physics.ErrConstraintNotRegistered)

	require.NoError(t, d.AddMaterial(physics.Material{Name: physics.DefaultMaterialName, Friction: 0.01}))
	require.NoError(t, d.AddContactMaterial(physics.DefaultMaterialName, physics.DefaultMaterialName, physics.ContactMaterialSpec{}))
	m, ok := d.Material(physics.DefaultMaterialName)
	require.True(t, ok)
	assert.Equal(t, 0.01, m.Friction)

	_, ok = d.DebugDrawer(nil)
	assert.False(t, ok)
}

func TestClose(t *testing.T) {
	d := newDriver(t)
	b := ball(1)
	require.NoError(t, d.AddBody(b, physics.DefaultFilter))
	require.NoError(t, d.Close(context.Background()))
	assert.False(t, b.Bound())
	err := d.Step(0.1)
	assert.ErrorIs(t, err, physics.ErrDriverClosed)
	assert.True(t, physics.IsFatal(err))
}
