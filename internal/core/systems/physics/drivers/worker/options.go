package worker

import "time"

// Clock supplies wall-clock time for snapshot stamps and render time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// TickSource paces the background context. It returns a channel that
// fires once per period and a stop function.
type TickSource func(period time.Duration) (<-chan time.Time, func())

func tickerSource(period time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(period)
	return t.C, t.Stop
}

type Option func(*Driver)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(d *Driver) { d.clock = c }
}

// WithTickSource replaces the fixed-rate ticker driving the background
// steps.
func WithTickSource(ts TickSource) Option {
	return func(d *Driver) { d.ticks = ts }
}
