package ammo

import (
	"github.com/zeusync/physync/internal/core/systems/physics"
	"github.com/zeusync/physync/internal/core/systems/physics/engine/discrete"
)

var (
	_ physics.DebugDrawer = (*debugDrawer)(nil)
	_ discrete.DebugDraw  = (*debugDrawer)(nil)
)

// debugDrawer forwards the engine's debug output to a DebugRenderer while
// enabled.
type debugDrawer struct {
	root    physics.DebugRenderer
	mode    physics.DebugDrawMode
	enabled bool
}

func newDebugDrawer(root physics.DebugRenderer, mode physics.DebugDrawMode) *debugDrawer {
	return &debugDrawer{root: root, mode: mode}
}

func (dd *debugDrawer) Enable()                            { dd.enabled = true }
func (dd *debugDrawer) Disable()                           { dd.enabled = false }
func (dd *debugDrawer) Enabled() bool                      { return dd.enabled }
func (dd *debugDrawer) SetMode(mode physics.DebugDrawMode) { dd.mode = mode }
func (dd *debugDrawer) Mode() physics.DebugDrawMode        { return dd.mode }

func (dd *debugDrawer) DrawLine(from, to physics.Vec3, color physics.Color) {
	dd.root.DrawLine(from, to, color)
}

func (dd *debugDrawer) DrawContactPoint(pointOnB, normalOnB physics.Vec3, distance float64, _ int, color physics.Color) {
	dd.root.DrawContact(pointOnB, normalOnB, distance, color)
}

func (dd *debugDrawer) ReportErrorWarning(text string) {
	dd.root.ReportText(text)
}

// DebugMode is what the engine draws: nothing while disabled.
func (dd *debugDrawer) DebugMode() physics.DebugDrawMode {
	if !dd.enabled {
		return physics.DebugNoDebug
	}
	return dd.mode
}
