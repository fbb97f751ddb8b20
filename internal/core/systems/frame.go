package systems

import (
	"context"
	"time"
)

// Ticker is what a FrameLoop drives. *System implements it.
type Ticker interface {
	Tick(t, dt time.Duration)
}

// FrameSource paces a FrameLoop. It returns a channel firing once per
// frame and a stop function.
type FrameSource func(interval time.Duration) (<-chan time.Time, func())

func tickerFrames(interval time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(interval)
	return t.C, t.Stop
}

// FrameLoop stands in for a host render loop: it calls Tick once per frame
// with the host time since Run started and the measured frame delta.
type FrameLoop struct {
	target   Ticker
	interval time.Duration
	frames   FrameSource
}

// NewFrameLoop targets the given frames per second. Non-positive rates
// fall back to 60.
func NewFrameLoop(target Ticker, targetHz float64) *FrameLoop {
	if targetHz <= 0 {
		targetHz = 60
	}
	interval := time.Duration(float64(time.Second) / targetHz)
	if interval <= 0 {
		interval = time.Second / 60
	}
	return &FrameLoop{target: target, interval: interval, frames: tickerFrames}
}

// WithFrameSource replaces the wall-clock ticker.
func (l *FrameLoop) WithFrameSource(src FrameSource) *FrameLoop {
	l.frames = src
	return l
}

func (l *FrameLoop) Interval() time.Duration { return l.interval }

// Run ticks on the calling goroutine until ctx is cancelled or the frame
// source closes. It returns the number of frames delivered.
func (l *FrameLoop) Run(ctx context.Context) int {
	frames, stop := l.frames(l.interval)
	defer stop()

	var (
		start, last time.Time
		count       int
	)
	for {
		select {
		case <-ctx.Done():
			return count
		case now, ok := <-frames:
			if !ok {
				return count
			}
			if start.IsZero() {
				// the first frame only establishes the time base
				start, last = now, now
				continue
			}
			l.target.Tick(now.Sub(start), now.Sub(last))
			last = now
			count++
		}
	}
}
