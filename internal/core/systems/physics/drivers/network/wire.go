package network

import (
	"github.com/pkg/errors"

	"github.com/zeusync/physync/internal/core/systems/physics"
)

// BodyState is the wire form of one body. Bodies are matched by Key.
type BodyState struct {
	Key             string     `json:"key"`
	Position        [3]float64 `json:"p"`
	Orientation     [4]float64 `json:"q"` // x, y, z, w
	Velocity        [3]float64 `json:"v"`
	AngularVelocity [3]float64 `json:"av"`
}

// ContactState is the wire form of a contact.
type ContactState struct {
	A       string     `json:"a"`
	B       string     `json:"b"`
	Point   [3]float64 `json:"p"`
	Normal  [3]float64 `json:"n"`
	Depth   float64    `json:"d"`
	Impulse float64    `json:"i,omitempty"`
}

// StateMessage is one authoritative state update. Seq increases within a
// Session; a new Session restarts the ordering.
type StateMessage struct {
	Session  string         `json:"session"`
	Seq      uint64         `json:"seq"`
	Time     float64        `json:"t"`
	Bodies   []BodyState    `json:"bodies"`
	Contacts []ContactState `json:"contacts,omitempty"`
}

// CommandMessage is a body mutation forwarded to the authority.
type CommandMessage struct {
	Key         string                  `json:"key"`
	Kind        string                  `json:"kind"`
	Vector      [3]float64              `json:"vec,omitempty"`
	Point       [3]float64              `json:"point,omitempty"`
	Angular     [3]float64              `json:"ang,omitempty"`
	Position    [3]float64              `json:"pos,omitempty"`
	Orientation [4]float64              `json:"rot,omitempty"`
	Properties  *physics.BodyProperties `json:"props,omitempty"`
}

func vec(v physics.Vec3) [3]float64 { return [3]float64(v) }

func quat(q physics.Quat) [4]float64 { return [4]float64{q.V[0], q.V[1], q.V[2], q.W} }

func toQuat(q [4]float64) physics.Quat {
	return physics.NormalizeQuat(physics.Quat{W: q[3], V: physics.Vec3{q[0], q[1], q[2]}})
}

// EncodeBody converts a body state for the wire.
func EncodeBody(key string, st physics.BodyState) BodyState {
	return BodyState{
		Key:             key,
		Position:        vec(st.Position),
		Orientation:     quat(st.Orientation),
		Velocity:        vec(st.Velocity),
		AngularVelocity: vec(st.AngularVelocity),
	}
}

// State converts the wire form back to a body state.
func (b BodyState) State() physics.BodyState {
	return physics.BodyState{
		Position:        physics.Vec3(b.Position),
		Orientation:     toQuat(b.Orientation),
		Velocity:        physics.Vec3(b.Velocity),
		AngularVelocity: physics.Vec3(b.AngularVelocity),
	}
}

// EncodeCommand converts a command addressed to the body named key.
func EncodeCommand(key string, cmd physics.Command) CommandMessage {
	m := CommandMessage{
		Key:         key,
		Kind:        cmd.Kind.String(),
		Vector:      vec(cmd.Vector),
		Point:       vec(cmd.Point),
		Angular:     vec(cmd.Angular),
		Position:    vec(cmd.Pose.Position),
		Orientation: quat(cmd.Pose.Orientation),
	}
	if cmd.Kind == physics.CommandUpdateProperties {
		props := cmd.Properties
		m.Properties = &props
	}
	return m
}

// Command converts the message into a command for body id.
func (m CommandMessage) Command(id physics.BodyID) (physics.Command, error) {
	cmd := physics.Command{
		Body:    id,
		Vector:  physics.Vec3(m.Vector),
		Point:   physics.Vec3(m.Point),
		Angular: physics.Vec3(m.Angular),
		Pose:    physics.Pose{Position: physics.Vec3(m.Position), Orientation: toQuat(m.Orientation)},
	}
	switch m.Kind {
	case physics.CommandApplyImpulse.String():
		cmd.Kind = physics.CommandApplyImpulse
	case physics.CommandApplyForce.String():
		cmd.Kind = physics.CommandApplyForce
	case physics.CommandSetVelocity.String():
		cmd.Kind = physics.CommandSetVelocity
	case physics.CommandSetPose.String():
		cmd.Kind = physics.CommandSetPose
	case physics.CommandUpdateProperties.String():
		cmd.Kind = physics.CommandUpdateProperties
		if m.Properties == nil {
			return physics.Command{}, errors.New("update_properties without properties")
		}
		cmd.Properties = *m.Properties
	default:
		return physics.Command{}, errors.Errorf("unknown command kind %q", m.Kind)
	}
	return cmd, nil
}
