package physics

import (
	"strconv"
	"strings"
)

// BodyID is the engine-assigned identity of a registered body.
type BodyID uint64

// BodyType classifies how the engine moves a body.
type BodyType uint8

const (
	BodyDynamic BodyType = iota
	BodyStatic
	BodyKinematic
)

func (t BodyType) String() string {
	switch t {
	case BodyDynamic:
		return "dynamic"
	case BodyStatic:
		return "static"
	case BodyKinematic:
		return "kinematic"
	default:
		return "unknown(" + strconv.Itoa(int(t)) + ")"
	}
}

// ParseBodyType maps "dynamic", "static" or "kinematic" to a BodyType.
func ParseBodyType(s string) (BodyType, error) {
	switch strings.ToLower(s) {
	case "dynamic", "":
		return BodyDynamic, nil
	case "static":
		return BodyStatic, nil
	case "kinematic":
		return BodyKinematic, nil
	default:
		return 0, NewError(ErrorCodeUnexpectedBodyType, "unknown body type "+strconv.Quote(s), ErrUnexpectedBodyType)
	}
}

// ShapeKind selects the collision geometry of a body.
type ShapeKind uint8

const (
	ShapeSphere ShapeKind = iota
	ShapeBox
	ShapePlane
)

// Shape describes collision geometry. Planes are infinite, pass through the
// body position and face along Normal.
type Shape struct {
	Kind        ShapeKind
	Radius      float64
	HalfExtents Vec3
	Normal      Vec3
}

func Sphere(radius float64) Shape { return Shape{Kind: ShapeSphere, Radius: radius} }

func Box(halfExtents Vec3) Shape { return Shape{Kind: ShapeBox, HalfExtents: halfExtents} }

// Plane returns an upward facing ground plane.
func Plane() Shape { return Shape{Kind: ShapePlane, Normal: Vec3{0, 1, 0}} }

// BoundingRadius is the radius of a sphere enclosing the shape.
func (s Shape) BoundingRadius() float64 {
	switch s.Kind {
	case ShapeSphere:
		return s.Radius
	case ShapeBox:
		return s.HalfExtents.Len()
	default:
		return 0
	}
}

// CollisionFilter limits which bodies collide: two bodies touch only when
// each one's group intersects the other's mask.
type CollisionFilter struct {
	Group uint32
	Mask  uint32
}

var DefaultFilter = CollisionFilter{Group: 1, Mask: ^uint32(0)}

// Collides reports whether bodies with filters f and o may touch.
func (f CollisionFilter) Collides(o CollisionFilter) bool {
	return f.Group&o.Mask != 0 && o.Group&f.Mask != 0
}

// BodyState is the simulation-derived state of a body.
type BodyState struct {
	Position        Vec3
	Orientation     Quat
	Velocity        Vec3
	AngularVelocity Vec3
}

func (s BodyState) Pose() Pose {
	return Pose{Position: s.Position, Orientation: s.Orientation}
}

// BodyProperties are the application-owned tunables of a body.
type BodyProperties struct {
	Mass           float64
	LinearDamping  float64
	AngularDamping float64
	Material       string
}

// BodyDesc is the creation description of a body.
type BodyDesc struct {
	// Key is a stable name used to match remote state; defaults to the id.
	Key   string
	Type  BodyType
	Shape Shape
	BodyProperties

	Position        Vec3
	Orientation     Quat
	Velocity        Vec3
	AngularVelocity Vec3
}

// InitialState is the state a body starts with when registered.
func (d BodyDesc) InitialState() BodyState {
	return BodyState{
		Position:        d.Position,
		Orientation:     NormalizeQuat(d.Orientation),
		Velocity:        d.Velocity,
		AngularVelocity: d.AngularVelocity,
	}
}

// Binding connects a body handle to the driver that owns its state.
type Binding interface {
	BodyState(id BodyID) (BodyState, bool)
	Submit(cmd Command) error
}

// Body is the application handle of a rigid body. Its simulation state is
// owned by the driver it is registered with; mutations go through Submit.
// Handles are used from the foreground goroutine only.
type Body struct {
	desc    BodyDesc
	owner   any
	id      BodyID
	filter  CollisionFilter
	binding Binding

	collideHandlers []func(Contact)
}

// NewBody creates an unregistered body. owner is a back-reference to the
// entity the body belongs to and is never dereferenced by the scheduler.
func NewBody(desc BodyDesc, owner any) *Body {
	desc.Orientation = NormalizeQuat(desc.Orientation)
	if desc.Type == BodyDynamic && desc.Mass <= 0 {
		desc.Mass = 1
	}
	if desc.Material == "" {
		desc.Material = DefaultMaterialName
		if desc.Type == BodyStatic {
			desc.Material = StaticMaterialName
		}
	}
	if desc.Shape.Kind == ShapePlane && desc.Shape.Normal.Len() == 0 {
		desc.Shape.Normal = Vec3{0, 1, 0}
	}
	return &Body{desc: desc, owner: owner, filter: DefaultFilter}
}

func (b *Body) ID() BodyID              { return b.id }
func (b *Body) Type() BodyType          { return b.desc.Type }
func (b *Body) Desc() BodyDesc          { return b.desc }
func (b *Body) Owner() any              { return b.owner }
func (b *Body) Filter() CollisionFilter { return b.filter }
func (b *Body) Bound() bool             { return b.binding != nil }

// Key returns the stable name of the body.
func (b *Body) Key() string {
	if b.desc.Key != "" {
		return b.desc.Key
	}
	return strconv.FormatUint(uint64(b.id), 10)
}

// Bind attaches the body to a driver. Called by drivers from AddBody.
func (b *Body) Bind(id BodyID, binding Binding, filter CollisionFilter) error {
	if b.binding != nil {
		return ErrBodyAlreadyRegistered
	}
	b.id = id
	b.binding = binding
	b.filter = filter
	return nil
}

// Unbind detaches the body, keeping its last observed state as the new
// initial state so a later AddBody resumes from there.
func (b *Body) Unbind() {
	if b.binding == nil {
		return
	}
	if st, ok := b.binding.BodyState(b.id); ok {
		b.desc.Position = st.Position
		b.desc.Orientation = st.Orientation
		b.desc.Velocity = st.Velocity
		b.desc.AngularVelocity = st.AngularVelocity
	}
	b.binding = nil
	b.id = 0
}

// State returns the latest state published by the owning driver.
func (b *Body) State() BodyState {
	if b.binding != nil {
		if st, ok := b.binding.BodyState(b.id); ok {
			return st
		}
	}
	return b.desc.InitialState()
}

func (b *Body) Pose() Pose { return b.State().Pose() }

// ApplyImpulse applies an impulse at a world point.
func (b *Body) ApplyImpulse(impulse, point Vec3) error {
	return b.submit(Command{Kind: CommandApplyImpulse, Vector: impulse, Point: point})
}

// ApplyForce applies a force at a world point for the next step.
func (b *Body) ApplyForce(force, point Vec3) error {
	return b.submit(Command{Kind: CommandApplyForce, Vector: force, Point: point})
}

func (b *Body) SetVelocity(linear, angular Vec3) error {
	return b.submit(Command{Kind: CommandSetVelocity, Vector: linear, Angular: angular})
}

// SetPose teleports the body.
func (b *Body) SetPose(p Pose) error {
	p.Orientation = NormalizeQuat(p.Orientation)
	return b.submit(Command{Kind: CommandSetPose, Pose: p})
}

// UpdateProperties changes mass, damping or material.
func (b *Body) UpdateProperties(props BodyProperties) error {
	if props.Material == "" {
		props.Material = b.desc.Material
	}
	if err := b.submit(Command{Kind: CommandUpdateProperties, Properties: props}); err != nil {
		return err
	}
	b.desc.BodyProperties = props
	return nil
}

// OnCollide registers a handler for contacts involving this body.
func (b *Body) OnCollide(handler func(Contact)) {
	b.collideHandlers = append(b.collideHandlers, handler)
}

// NotifyCollision delivers a contact to the body's handlers.
func (b *Body) NotifyCollision(c Contact) {
	for _, h := range b.collideHandlers {
		h(c)
	}
}

// Apply runs a decoded command, such as one received from a remote peer,
// against the body.
func (b *Body) Apply(cmd Command) error {
	switch cmd.Kind {
	case CommandApplyImpulse:
		return b.ApplyImpulse(cmd.Vector, cmd.Point)
	case CommandApplyForce:
		return b.ApplyForce(cmd.Vector, cmd.Point)
	case CommandSetVelocity:
		return b.SetVelocity(cmd.Vector, cmd.Angular)
	case CommandSetPose:
		return b.SetPose(cmd.Pose)
	case CommandUpdateProperties:
		return b.UpdateProperties(cmd.Properties)
	default:
		return WrapError(ErrNotSupported, "unknown command "+cmd.Kind.String())
	}
}

func (b *Body) submit(cmd Command) error {
	if b.binding == nil {
		return ErrBodyNotRegistered
	}
	cmd.Body = b.id
	return b.binding.Submit(cmd)
}

// CommandKind enumerates body mutations routed through a driver.
type CommandKind uint8

const (
	CommandApplyImpulse CommandKind = iota
	CommandApplyForce
	CommandSetVelocity
	CommandSetPose
	CommandUpdateProperties
)

func (k CommandKind) String() string {
	switch k {
	case CommandApplyImpulse:
		return "apply_impulse"
	case CommandApplyForce:
		return "apply_force"
	case CommandSetVelocity:
		return "set_velocity"
	case CommandSetPose:
		return "set_pose"
	case CommandUpdateProperties:
		return "update_properties"
	default:
		return "unknown"
	}
}

// Command is a serialized body mutation. It is a value type so it can cross
// goroutines or the network without sharing the body.
type Command struct {
	Kind       CommandKind
	Body       BodyID
	Vector     Vec3
	Point      Vec3
	Angular    Vec3
	Pose       Pose
	Properties BodyProperties
}
