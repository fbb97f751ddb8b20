package ammo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/physync/internal/core/observability/log"
	"github.com/zeusync/physync/internal/core/systems/physics"
)

const fixed = 1.0 / 60.0

func newDriver(t *testing.T) *Driver {
	t.Helper()
	cfg := physics.DefaultConfig()
	cfg.Driver = physics.DriverAmmo
	d := New(log.NewNop())
	require.NoError(t, d.Init(context.Background(), cfg.EngineConfig()))
	return d
}

func ball(y float64) *physics.Body {
	return physics.NewBody(physics.BodyDesc{
		Shape:    physics.Sphere(0.5),
		Position: physics.Vec3{0, y, 0},
	}, nil)
}

func ground() *physics.Body {
	return physics.NewBody(physics.BodyDesc{Type: physics.BodyStatic, Shape: physics.Plane()}, nil)
}

type recorder struct {
	lines    int
	contacts int
	texts    []string
}

func (r *recorder) DrawLine(_, _ physics.Vec3, _ physics.Color)               { r.lines++ }
func (r *recorder) DrawContact(_, _ physics.Vec3, _ float64, _ physics.Color) { r.contacts++ }
func (r *recorder) ReportText(text string)                                    { r.texts = append(r.texts, text) }

func TestFreeFallInFixedSubSteps(t *testing.T) {
	d := newDriver(t)
	b := ball(10)
	require.NoError(t, d.AddBody(b, physics.DefaultFilter))

	for i := 0; i < 60; i++ {
		require.NoError(t, d.Step(fixed))
	}
	assert.InDelta(t, 5.1, b.Pose().Position.Y(), 0.15)
}

func TestStepAccumulatesLeftoverTime(t *testing.T) {
	d := newDriver(t)
	b := ball(10)
	require.NoError(t, d.AddBody(b, physics.DefaultFilter))

	require.NoError(t, d.Step(fixed/2))
	assert.Equal(t, 10.0, b.Pose().Position.Y(), "half a sub-step does not advance")
	require.NoError(t, d.Step(fixed/2))
	assert.Less(t, b.Pose().Position.Y(), 10.0)
}

func TestBodyStatsIncludeManifoldsAndCollisions(t *testing.T) {
	d := newDriver(t)
	platform := physics.NewBody(physics.BodyDesc{
		Type:     physics.BodyKinematic,
		Shape:    physics.Box(physics.Vec3{1, 0.1, 1}),
		Position: physics.Vec3{20, 3, 0},
	}, nil)
	require.NoError(t, d.AddBody(ground(), physics.DefaultFilter))
	require.NoError(t, d.AddBody(ball(0.45), physics.DefaultFilter))
	require.NoError(t, d.AddBody(platform, physics.DefaultFilter))

	require.NoError(t, d.Step(fixed))

	stats, err := d.BodyStats()
	require.NoError(t, err)
	assert.Equal(t, physics.BodyStats{
		Static:           1,
		Dynamic:          1,
		Kinematic:        1,
		Contacts:         1,
		Manifolds:        1,
		ManifoldContacts: 1,
		Collisions:       1,
		CollisionKeys:    1,
	}, stats)
}

func TestCollisionBeginAndSeparate(t *testing.T) {
	d := newDriver(t)
	g, b := ground(), ball(0.45)
	require.NoError(t, d.AddBody(g, physics.DefaultFilter))
	require.NoError(t, d.AddBody(b, physics.DefaultFilter))

	var begun []physics.Contact
	b.OnCollide(func(c physics.Contact) { begun = append(begun, c) })
	separated := 0
	d.OnSeparate(func(x, y *physics.Body) {
		assert.Same(t, g, x)
		assert.Same(t, b, y)
		separated++
	})

	require.NoError(t, d.Step(fixed))
	require.Len(t, begun, 1)
	assert.Equal(t, g.ID(), begun[0].BodyA)
	assert.Equal(t, b.ID(), begun[0].BodyB)
	assert.InDelta(t, 1.0, begun[0].Normal.Y(), 1e-9)
	assert.Greater(t, begun[0].Depth, 0.0)

	require.NoError(t, b.SetPose(physics.Pose{Position: physics.Vec3{0, 5, 0}}))
	require.NoError(t, b.SetVelocity(physics.Vec3{}, physics.Vec3{}))
	require.NoError(t, d.Step(fixed))
	assert.Equal(t, 1, separated)
	assert.Empty(t, d.Contacts())

	stats, err := d.BodyStats()
	require.NoError(t, err)
	assert.Zero(t, stats.Collisions)
	assert.Zero(t, stats.CollisionKeys)
}

func TestFilterGroupsBecomeBroadphaseFilter(t *testing.T) {
	d := newDriver(t)
	require.NoError(t, d.AddBody(ground(), physics.CollisionFilter{Group: 1, Mask: 1}))
	require.NoError(t, d.AddBody(ball(0.45), physics.CollisionFilter{Group: 2, Mask: 2}))

	require.NoError(t, d.Step(fixed))
	assert.Empty(t, d.Contacts())
}

func TestCommandsThroughRigidBody(t *testing.T) {
	d := newDriver(t)
	b := ball(0)
	require.NoError(t, d.AddBody(b, physics.DefaultFilter))

	require.NoError(t, b.ApplyImpulse(physics.Vec3{2, 0, 0}, b.Pose().Position))
	assert.InDelta(t, 2.0, b.State().Velocity.X(), 1e-9)

	require.NoError(t, b.SetPose(physics.Pose{Position: physics.Vec3{1, 2, 3}}))
	assert.Equal(t, physics.Vec3{1, 2, 3}, b.Pose().Position)

	require.NoError(t, b.UpdateProperties(physics.BodyProperties{Mass: 4}))
	require.NoError(t, b.ApplyImpulse(physics.Vec3{4, 0, 0}, b.Pose().Position))
	assert.InDelta(t, 3.0, b.State().Velocity.X(), 1e-9)
}

func TestRemoveBodyKeepsState(t *testing.T) {
	d := newDriver(t)
	g, b := ground(), ball(0.45)
	require.NoError(t, d.AddBody(g, physics.DefaultFilter))
	require.NoError(t, d.AddBody(b, physics.DefaultFilter))
	require.NoError(t, d.Step(fixed))

	y := b.Pose().Position.Y()
	require.NoError(t, d.RemoveBody(b))
	assert.False(t, b.Bound())
	assert.Equal(t, y, b.Pose().Position.Y())
	assert.ErrorIs(t, d.RemoveBody(b), physics.ErrBodyNotRegistered)

	stats, err := d.BodyStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Static)
	assert.Zero(t, stats.Dynamic)
	assert.Zero(t, stats.Collisions)
}

func TestConstraintsAndMaterials(t *testing.T) {
	d := newDriver(t)
	b := ball(1)
	require.NoError(t, d.AddBody(b, physics.DefaultFilter))

	c := physics.NewPointToPointConstraint(b, physics.Vec3{}, nil, physics.Vec3{0, 3, 0})
	require.NoError(t, d.AddConstraint(c))
	for i := 0; i < 120; i++ {
		require.NoError(t, d.Step(fixed))
	}
	assert.InDelta(t, 3.0, b.Pose().Position.Y(), 0.2)
	require.NoError(t, d.RemoveConstraint(c))
	assert.ErrorIs(t, d.RemoveConstraint(c), physics.ErrConstraintNotRegistered)

	require.NoError(t, d.AddMaterial(physics.Material{Name: "ice", Friction: 0.01}))
	assert.ErrorIs(t, d.AddMaterial(physics.Material{Name: "ice"}), physics.ErrMaterialExists)
	require.NoError(t, d.AddMaterial(physics.Material{Name: physics.DefaultMaterialName}))
	require.NoError(t, d.AddContactMaterial("ice", physics.DefaultMaterialName, physics.ContactMaterialSpec{Friction: 0.01}))
	m, ok := d.Material("ice")
	require.True(t, ok)
	assert.Equal(t, 0.01, m.Friction)
}

func TestDebugDrawerRendersWhileEnabled(t *testing.T) {
	cfg := physics.DefaultConfig()
	cfg.DebugDrawMode = physics.DebugDrawAabb | physics.DebugDrawContactPoint | physics.DebugDrawText
	d := New(log.NewNop())
	require.NoError(t, d.Init(context.Background(), cfg.EngineConfig()))
	require.NoError(t, d.AddBody(ground(), physics.DefaultFilter))
	require.NoError(t, d.AddBody(ball(0.45), physics.DefaultFilter))

	rec := &recorder{}
	dd, ok := d.DebugDrawer(rec)
	require.True(t, ok)
	assert.False(t, dd.Enabled())
	assert.Equal(t, cfg.DebugDrawMode, dd.Mode())

	// half a sub-step: nothing is simulated yet and nothing is drawn
	require.NoError(t, d.Step(fixed/2))
	assert.Zero(t, rec.lines)

	dd.Enable()
	require.NoError(t, d.Step(fixed/2))
	assert.Equal(t, 24, rec.lines)
	assert.Equal(t, 1, rec.contacts)
	require.Len(t, rec.texts, 1)
	assert.Equal(t, "bodies 2 manifolds 1 contacts 1", rec.texts[0])

	again, _ := d.DebugDrawer(rec)
	assert.Same(t, dd, again)
}

func TestCloseIsFatalAfterwards(t *testing.T) {
	d := newDriver(t)
	b := ball(1)
	require.NoError(t, d.AddBody(b, physics.DefaultFilter))
	require.NoError(t, d.Close(context.Background()))
	assert.False(t, b.Bound())

	err := d.Step(fixed)
	assert.ErrorIs(t, err, physics.ErrDriverClosed)
	assert.True(t, physics.IsFatal(err))
}
