package discrete

import "github.com/zeusync/physync/internal/core/systems/physics"

// DebugDraw is the drawing target of DebugDrawWorld.
type DebugDraw interface {
	DrawLine(from, to physics.Vec3, color physics.Color)
	DrawContactPoint(pointOnB, normalOnB physics.Vec3, distance float64, lifeTime int, color physics.Color)
	ReportErrorWarning(text string)
	DebugMode() physics.DebugDrawMode
}
