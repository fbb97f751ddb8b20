package systems

import "time"

// Component participates in the tick phases it has callbacks for. t is
// the host time of the frame and dt its unclamped delta.
type Component struct {
	Name string

	BeforeStep func(t, dt time.Duration)
	Step       func(t, dt time.Duration)
	AfterStep  func(t, dt time.Duration)
}
