package worker

import (
	"time"

	"github.com/zeusync/physync/internal/core/systems/physics"
	"github.com/zeusync/physync/internal/core/systems/physics/engine/rigid"
)

// Snapshot is an immutable copy of the world after one background step.
type Snapshot struct {
	Step    uint64
	SimTime float64
	// Stamp is the wall-clock time the step completed.
	Stamp    time.Time
	Bodies   map[physics.BodyID]physics.BodyState
	Contacts []physics.Contact
}

func capture(w *rigid.World, stamp time.Time) Snapshot {
	s := Snapshot{
		Step:     w.Steps(),
		SimTime:  w.Time(),
		Stamp:    stamp,
		Bodies:   make(map[physics.BodyID]physics.BodyState, len(w.BodyIDs())),
		Contacts: physics.CopyContacts(w.Contacts()),
	}
	w.Each(func(b *rigid.Body) {
		s.Bodies[b.ID] = b.State
	})
	return s
}
