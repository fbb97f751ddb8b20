package physics

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBinding struct {
	states   map[BodyID]BodyState
	commands []Command
	err      error
}

func (r *recordingBinding) BodyState(id BodyID) (BodyState, bool) {
	st, ok := r.states[id]
	return st, ok
}

func (r *recordingBinding) Submit(cmd Command) error {
	if r.err != nil {
		return r.err
	}
	r.commands = append(r.commands, cmd)
	return nil
}

func TestNewBodyDefaults(t *testing.T) {
	dyn := NewBody(BodyDesc{Type: BodyDynamic}, nil)
	assert.Equal(t, 1.0, dyn.Desc().Mass)
	assert.Equal(t, DefaultMaterialName, dyn.Desc().Material)
	assert.Equal(t, mgl64.QuatIdent(), dyn.Desc().Orientation)

	static := NewBody(BodyDesc{Type: BodyStatic, Shape: Shape{Kind: ShapePlane}}, nil)
	assert.Equal(t, StaticMaterialName, static.Desc().Material)
	assert.Equal(t, Vec3{0, 1, 0}, static.Desc().Shape.Normal)
}

func TestUnboundBodyRejectsCommands(t *testing.T) {
	b := NewBody(BodyDesc{Position: Vec3{1, 2, 3}}, "entity")
	err := b.ApplyImpulse(Vec3{1, 0, 0}, Vec3{})
	assert.True(t, errors.Is(err, ErrBodyNotRegistered))
	assert.Equal(t, Vec3{1, 2, 3}, b.State().Position)
	assert.Equal(t, "entity", b.Owner())
}

func TestBoundBodyRoutesThroughBinding(t *testing.T) {
	binding := &recordingBinding{states: map[BodyID]BodyState{7: {Position: Vec3{0, 5, 0}}}}
	b := NewBody(BodyDesc{}, nil)
	require.NoError(t, b.Bind(7, binding, DefaultFilter))
	assert.True(t, errors.Is(b.Bind(8, binding, DefaultFilter), ErrBodyAlreadyRegistered))

	require.NoError(t, b.ApplyImpulse(Vec3{1, 0, 0}, Vec3{0, 5, 0}))
	require.NoError(t, b.ApplyForce(Vec3{0, 2, 0}, Vec3{}))
	require.NoError(t, b.UpdateProperties(BodyProperties{Mass: 3}))

	require.Len(t, binding.commands, 3)
	assert.Equal(t, CommandApplyImpulse, binding.commands[0].Kind)
	assert.Equal(t, BodyID(7), binding.commands[0].Body)
	assert.Equal(t, CommandApplyForce, binding.commands[1].Kind)
	assert.Equal(t, DefaultMaterialName, binding.commands[2].Properties.Material)
	assert.Equal(t, 3.0, b.Desc().Mass)

	assert.Equal(t, Vec3{0, 5, 0}, b.State().Position)
	assert.Equal(t, "7", b.Key())

	b.Unbind()
	assert.False(t, b.Bound())
	assert.Equal(t, Vec3{0, 5, 0}, b.Desc().Position)
}

func TestRejectedCommandKeepsProperties(t *testing.T) {
	binding := &recordingBinding{err: ErrCommandQueue}
	b := NewBody(BodyDesc{BodyProperties: BodyProperties{Mass: 2}}, nil)
	require.NoError(t, b.Bind(1, binding, DefaultFilter))
	assert.Error(t, b.UpdateProperties(BodyProperties{Mass: 9}))
	assert.Equal(t, 2.0, b.Desc().Mass)
}

func TestCollisionFilter(t *testing.T) {
	a := CollisionFilter{Group: 1, Mask: 2}
	b := CollisionFilter{Group: 2, Mask: 1}
	c := CollisionFilter{Group: 4, Mask: ^uint32(0)}
	assert.True(t, a.Collides(b))
	assert.False(t, a.Collides(c))
	assert.True(t, DefaultFilter.Collides(DefaultFilter))
}

func TestParseBodyType(t *testing.T) {
	bt, err := ParseBodyType("kinematic")
	require.NoError(t, err)
	assert.Equal(t, BodyKinematic, bt)

	_, err = ParseBodyType("ghost")
	assert.True(t, errors.Is(err, ErrUnexpectedBodyType))
}

func TestBodyStatsCount(t *testing.T) {
	var s BodyStats
	require.NoError(t, s.Count(BodyStatic))
	require.NoError(t, s.Count(BodyDynamic))
	require.NoError(t, s.Count(BodyDynamic))
	assert.Equal(t, BodyStats{Static: 1, Dynamic: 2}, s)
	assert.Equal(t, ErrorCodeUnexpectedBodyType, GetErrorCode(s.Count(BodyType(42))))
}

func TestBodyCollisionHandlers(t *testing.T) {
	b := NewBody(BodyDesc{}, nil)
	var got []Contact
	b.OnCollide(func(c Contact) { got = append(got, c) })
	b.NotifyCollision(Contact{BodyA: 1, BodyB: 2})
	require.Len(t, got, 1)
	assert.Equal(t, BodyID(2), got[0].BodyB)
}

func TestApplyDecodedCommands(t *testing.T) {
	binding := &recordingBinding{}
	b := NewBody(BodyDesc{}, nil)
	require.NoError(t, b.Bind(3, binding, DefaultFilter))

	require.NoError(t, b.Apply(Command{Kind: CommandSetVelocity, Vector: Vec3{1, 0, 0}}))
	require.NoError(t, b.Apply(Command{Kind: CommandUpdateProperties, Properties: BodyProperties{Mass: 2}}))
	assert.Equal(t, 2.0, b.Desc().Mass)
	require.Len(t, binding.commands, 2)
	assert.Equal(t, BodyID(3), binding.commands[0].Body)

	err := b.Apply(Command{Kind: CommandKind(42)})
	assert.True(t, errors.Is(err, ErrNotSupported))
}
