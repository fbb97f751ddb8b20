package physics

import (
	"context"
	"strconv"
)

// DriverKind names a backend variant.
type DriverKind string

const (
	DriverLocal   DriverKind = "local"
	DriverWorker  DriverKind = "worker"
	DriverNetwork DriverKind = "network"
	DriverAmmo    DriverKind = "ammo"
)

// Valid reports whether k is a known backend.
func (k DriverKind) Valid() bool {
	switch k {
	case DriverLocal, DriverWorker, DriverNetwork, DriverAmmo:
		return true
	default:
		return false
	}
}

// Driver is the contract every physics backend implements. All methods are
// called from the foreground goroutine; Init must complete before any other
// call.
type Driver interface {
	Kind() DriverKind

	// Init loads the engine. It is the only call expected to block.
	Init(ctx context.Context, cfg EngineConfig) error
	// Step advances the simulation by at most dt seconds, or refreshes the
	// observable state for backends that advance on their own cadence.
	// A returned *Error with IsFatal() means the backend is gone.
	Step(dt float64) error

	AddBody(b *Body, filter CollisionFilter) error
	RemoveBody(b *Body) error
	AddConstraint(c *Constraint) error
	RemoveConstraint(c *Constraint) error

	AddMaterial(m Material) error
	AddContactMaterial(a, b string, spec ContactMaterialSpec) error
	Material(name string) (Material, bool)

	// Contacts returns the contacts of the most recently completed step.
	Contacts() []Contact
	// DebugDrawer returns a debug visualization handle if the backend has one.
	DebugDrawer(root DebugRenderer) (DebugDrawer, bool)
	// BodyStats counts bodies by classification plus backend contact data.
	// An unknown classification is an assertion error.
	BodyStats() (BodyStats, error)

	Close(ctx context.Context) error
}

// EngineConfig is the option set passed to Driver.Init.
type EngineConfig struct {
	Gravity          Vec3
	SolverIterations int

	// Alternate engine only.
	DebugDrawMode DebugDrawMode
	MaxSubSteps   int
	FixedTimeStep float64
}

// BodyStats is the per-batch body report. Manifold and collision fields are
// only filled by the ammo backend.
type BodyStats struct {
	Static           int `json:"staticBodies"`
	Dynamic          int `json:"dynamicBodies"`
	Kinematic        int `json:"kinematicBodies"`
	Contacts         int `json:"contacts"`
	Manifolds        int `json:"manifolds,omitempty"`
	ManifoldContacts int `json:"manifoldContacts,omitempty"`
	Collisions       int `json:"collisions,omitempty"`
	CollisionKeys    int `json:"collisionKeys,omitempty"`
}

// Count increments the counter matching t. Unknown classifications are an
// assertion failure.
func (s *BodyStats) Count(t BodyType) error {
	switch t {
	case BodyStatic:
		s.Static++
	case BodyDynamic:
		s.Dynamic++
	case BodyKinematic:
		s.Kinematic++
	default:
		return NewError(ErrorCodeUnexpectedBodyType, "unexpected body type "+strconv.Itoa(int(t)), ErrUnexpectedBodyType)
	}
	return nil
}

// Color is an RGB triple in [0,1].
type Color [3]float64

// DebugRenderer is the external visualization collaborator a debug drawer
// draws into.
type DebugRenderer interface {
	DrawLine(from, to Vec3, color Color)
	DrawContact(point, normal Vec3, distance float64, color Color)
	ReportText(text string)
}

// DebugDrawer renders engine internals into a DebugRenderer each step while
// enabled.
type DebugDrawer interface {
	Enable()
	Disable()
	Enabled() bool
	SetMode(mode DebugDrawMode)
	Mode() DebugDrawMode
}

// DebugDrawMode is a bit set of debug drawing features.
type DebugDrawMode int

const (
	DebugNoDebug          DebugDrawMode = 0
	DebugDrawWireframe    DebugDrawMode = 1
	DebugDrawAabb         DebugDrawMode = 2
	DebugDrawFeaturesText DebugDrawMode = 4
	DebugDrawContactPoint DebugDrawMode = 8
	DebugDrawText         DebugDrawMode = 64
	DebugDrawConstraints  DebugDrawMode = 2048
	DebugDrawNormals      DebugDrawMode = 16384
)

func (m DebugDrawMode) Has(flag DebugDrawMode) bool { return m&flag != 0 }
