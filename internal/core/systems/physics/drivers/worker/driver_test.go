package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/physync/internal/core/observability/log"
	"github.com/zeusync/physync/internal/core/systems/physics"
	"github.com/zeusync/physync/pkg/concurrent"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type harness struct {
	d     *Driver
	clock *fakeClock
	ticks chan time.Time
}

func newHarness(t *testing.T, cfg physics.WorkerConfig) *harness {
	t.Helper()
	h := &harness{clock: &fakeClock{now: t0}, ticks: make(chan time.Time)}
	h.d = New(log.NewNop(), cfg,
		WithClock(h.clock),
		WithTickSource(func(time.Duration) (<-chan time.Time, func()) { return h.ticks, func() {} }))
	require.NoError(t, h.d.Init(context.Background(), physics.EngineConfig{SolverIterations: 10}))
	t.Cleanup(func() { _ = h.d.Close(context.Background()) })
	return h
}

// tick runs one background step stamped at the given clock time and waits
// until the foreground consumed the resulting snapshot.
func (h *harness) tick(t *testing.T, at time.Time) {
	t.Helper()
	want := uint64(1)
	if s, ok := h.d.interp.Newest(); ok {
		want = s.Step + 1
	}
	h.clock.Set(at)
	h.ticks <- at
	stepUntil(t, h.d, func() bool {
		s, ok := h.d.interp.Newest()
		return ok && s.Step >= want
	})
}

func stepUntil(t *testing.T, d *Driver, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, d.Step(0))
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func defaultWorkerConfig() physics.WorkerConfig {
	return physics.WorkerConfig{FPS: 60, Interpolate: true, InterpBufferSize: 2, CommandQueue: 64}
}

func TestDriverCommandsApplyBeforeNextStep(t *testing.T) {
	h := newHarness(t, defaultWorkerConfig())
	b := physics.NewBody(physics.BodyDesc{Shape: physics.Sphere(0.5)}, nil)
	require.NoError(t, h.d.AddBody(b, physics.DefaultFilter))
	require.NoError(t, b.SetVelocity(physics.Vec3{60, 0, 0}, physics.Vec3{}))

	// nothing is applied to the foreground copy before the background runs
	assert.Equal(t, 0.0, b.State().Velocity.X())

	h.tick(t, t0)
	assert.Equal(t, 60.0, b.State().Velocity.X())
	assert.InDelta(t, 1.0, b.Pose().Position.X(), 1e-6)
}

func TestDriverInterpolatesBetweenSnapshots(t *testing.T) {
	h := newHarness(t, defaultWorkerConfig())
	p := h.d.Period()
	b := physics.NewBody(physics.BodyDesc{Shape: physics.Sphere(0.5)}, nil)
	require.NoError(t, h.d.AddBody(b, physics.DefaultFilter))
	require.NoError(t, b.SetVelocity(physics.Vec3{1 / p.Seconds(), 0, 0}, physics.Vec3{}))

	h.tick(t, t0)
	h.tick(t, t0.Add(p))

	// render time trails the clock by one period with a buffer of two
	h.clock.Set(t0.Add(p + p/2))
	require.NoError(t, h.d.Step(0))
	assert.InDelta(t, 1.5, b.Pose().Position.X(), 1e-6)

	// starved: hold the newest pose instead of extrapolating
	h.clock.Set(t0.Add(10 * p))
	require.NoError(t, h.d.Step(0))
	assert.InDelta(t, 2.0, b.Pose().Position.X(), 1e-6)
}

func TestDriverStallIsFatal(t *testing.T) {
	cfg := defaultWorkerConfig()
	cfg.StallTimeout = 100 * time.Millisecond
	h := newHarness(t, cfg)

	h.clock.Set(t0.Add(time.Second))
	err := h.d.Step(0)
	require.Error(t, err)
	assert.ErrorIs(t, err, physics.ErrWorkerStalled)
	assert.True(t, physics.IsFatal(err))
	assert.ErrorIs(t, h.d.Step(0), physics.ErrWorkerStalled)
}

func TestDriverBackgroundExitIsFatal(t *testing.T) {
	h := newHarness(t, defaultWorkerConfig())
	close(h.ticks)

	var err error
	deadline := time.Now().Add(2 * time.Second)
	for err == nil && time.Now().Before(deadline) {
		err = h.d.Step(0)
		time.Sleep(time.Millisecond)
	}
	require.Error(t, err)
	assert.ErrorIs(t, err, physics.ErrWorkerFault)
	assert.True(t, physics.IsFatal(err))
}

func TestDriverInitPanicIsBackendUnavailable(t *testing.T) {
	d := New(log.NewNop(), defaultWorkerConfig(),
		WithTickSource(func(time.Duration) (<-chan time.Time, func()) { panic("no timer") }))
	err := d.Init(context.Background(), physics.EngineConfig{})
	require.Error(t, err)
	assert.Equal(t, physics.ErrorCodeBackendUnavailable, physics.GetErrorCode(err))
	var pe *concurrent.PanicError
	assert.ErrorAs(t, err, &pe)
}

func TestDriverUnknownEngine(t *testing.T) {
	cfg := defaultWorkerConfig()
	cfg.Engine = "bullet"
	d := New(log.NewNop(), cfg)
	assert.ErrorIs(t, d.Init(context.Background(), physics.EngineConfig{}), physics.ErrUnknownEngine)
}

func TestDriverCommandQueueFull(t *testing.T) {
	cfg := defaultWorkerConfig()
	cfg.CommandQueue = 1
	h := newHarness(t, cfg)

	require.NoError(t, h.d.AddBody(physics.NewBody(physics.BodyDesc{Shape: physics.Sphere(1)}, nil), physics.DefaultFilter))
	b := physics.NewBody(physics.BodyDesc{Shape: physics.Sphere(1)}, nil)
	err := h.d.AddBody(b, physics.DefaultFilter)
	assert.ErrorIs(t, err, physics.ErrCommandQueue)
	assert.False(t, physics.IsFatal(err))
	assert.False(t, b.Bound())
}

func TestDriverCountsAndContacts(t *testing.T) {
	h := newHarness(t, defaultWorkerConfig())
	ground := physics.NewBody(physics.BodyDesc{Type: physics.BodyStatic, Shape: physics.Plane()}, nil)
	ball := physics.NewBody(physics.BodyDesc{Shape: physics.Sphere(0.5), Position: physics.Vec3{0, 0.4, 0}}, nil)
	var hits int
	ball.OnCollide(func(physics.Contact) { hits++ })

	require.NoError(t, h.d.AddBody(ground, physics.DefaultFilter))
	before, err := h.d.BodyStats()
	require.NoError(t, err)
	require.NoError(t, h.d.AddBody(ball, physics.DefaultFilter))

	h.tick(t, t0)
	assert.Len(t, h.d.Contacts(), 1)
	assert.Equal(t, 1, hits)

	require.NoError(t, h.d.RemoveBody(ball))
	after, err := h.d.BodyStats()
	require.NoError(t, err)
	assert.Equal(t, before.Dynamic, after.Dynamic)
	assert.Equal(t, before.Static, after.Static)
	assert.False(t, ball.Bound())
}

func TestDriverMaterialsAndConstraints(t *testing.T) {
	h := newHarness(t, defaultWorkerConfig())
	require.NoError(t, h.d.AddMaterial(physics.Material{Name: "rubber", Restitution: 0.9}))
	assert.ErrorIs(t, h.d.AddMaterial(physics.Material{Name: "rubber"}), physics.ErrMaterialExists)
	assert.ErrorIs(t, h.d.AddContactMaterial("rubber", "ice", physics.ContactMaterialSpec{}), physics.ErrMaterialNotFound)
	m, ok := h.d.Material("rubber")
	require.True(t, ok)
	assert.Equal(t, 0.9, m.Restitution)

	a := physics.NewBody(physics.BodyDesc{Shape: physics.Sphere(1)}, nil)
	b := physics.NewBody(physics.BodyDesc{Shape: physics.Sphere(1), Position: physics.Vec3{3, 0, 0}}, nil)
	require.NoError(t, h.d.AddBody(a, physics.DefaultFilter))
	require.NoError(t, h.d.AddBody(b, physics.DefaultFilter))
	c := physics.NewDistanceConstraint(a, b, 3)
	require.NoError(t, h.d.AddConstraint(c))
	require.NoError(t, h.d.RemoveBody(b))
	assert.ErrorIs(t, h.d.RemoveConstraint(c), physics.ErrConstraintNotRegistered)
}

func TestDriverClose(t *testing.T) {
	h := newHarness(t, defaultWorkerConfig())
	b := physics.NewBody(physics.BodyDesc{Shape: physics.Sphere(1)}, nil)
	require.NoError(t, h.d.AddBody(b, physics.DefaultFilter))

	require.NoError(t, h.d.Close(context.Background()))
	assert.False(t, b.Bound())
	assert.ErrorIs(t, h.d.Step(0), physics.ErrDriverClosed)
	require.NoError(t, h.d.Close(context.Background()))
}

func TestDriverRealTicker(t *testing.T) {
	cfg := defaultWorkerConfig()
	cfg.FPS = 240
	d := New(log.NewNop(), cfg)
	require.NoError(t, d.Init(context.Background(), physics.EngineConfig{Gravity: physics.Vec3{0, -9.8, 0}}))
	defer d.Close(context.Background())

	b := physics.NewBody(physics.BodyDesc{Shape: physics.Sphere(0.5), Position: physics.Vec3{0, 10, 0}}, nil)
	require.NoError(t, d.AddBody(b, physics.DefaultFilter))
	stepUntil(t, d, func() bool { return b.Pose().Position.Y() < 10 })
}
