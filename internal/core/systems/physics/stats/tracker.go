package stats

import (
	"time"

	"github.com/pkg/errors"

	"github.com/zeusync/physync/internal/core/systems/physics"
)

// DefaultWindow is the number of ticks aggregated into one report.
const DefaultWindow = 100

// TickTiming holds the wall-clock duration of each phase of one tick.
type TickTiming struct {
	BeforeStep time.Duration `json:"before"`
	Engine     time.Duration `json:"engine"`
	AfterStep  time.Duration `json:"after"`
	Total      time.Duration `json:"total"`
}

// TickReport summarizes one full window of ticks, in milliseconds.
type TickReport struct {
	Driver     physics.DriverKind `json:"driver"`
	Ticks      int                `json:"ticks"`
	BeforeStep Summary            `json:"before"`
	Engine     Summary            `json:"engine"`
	AfterStep  Summary            `json:"after"`
	Total      Summary            `json:"total"`
}

// Tracker feeds tick timings into four windows and emits a report each
// time they fill.
type Tracker struct {
	driver physics.DriverKind
	before *Window
	engine *Window
	after  *Window
	total  *Window
}

func NewTracker(driver physics.DriverKind, size int) *Tracker {
	return &Tracker{
		driver: driver,
		before: NewWindow(size),
		engine: NewWindow(size),
		after:  NewWindow(size),
		total:  NewWindow(size),
	}
}

func (t *Tracker) Size() int { return t.total.Size() }

// Pending returns the ticks recorded toward the next report.
func (t *Tracker) Pending() int { return t.total.Count() }

// Record adds one tick. When the windows become full the report is returned
// with ok set and the windows start over.
func (t *Tracker) Record(tm TickTiming) (report TickReport, ok bool, err error) {
	for _, s := range []struct {
		w *Window
		d time.Duration
	}{
		{t.before, tm.BeforeStep},
		{t.engine, tm.Engine},
		{t.after, tm.AfterStep},
		{t.total, tm.Total},
	} {
		if err = s.w.Record(millis(s.d)); err != nil {
			return TickReport{}, false, errors.Wrap(err, "record tick")
		}
	}
	if !t.total.Full() {
		return TickReport{}, false, nil
	}

	report = TickReport{Driver: t.driver, Ticks: t.total.Size()}
	if report.BeforeStep, err = t.before.Drain(); err != nil {
		return TickReport{}, false, err
	}
	if report.Engine, err = t.engine.Drain(); err != nil {
		return TickReport{}, false, err
	}
	if report.AfterStep, err = t.after.Drain(); err != nil {
		return TickReport{}, false, err
	}
	if report.Total, err = t.total.Drain(); err != nil {
		return TickReport{}, false, err
	}
	return report, true, nil
}

// Discard drops a partial window and returns how many ticks it held.
func (t *Tracker) Discard() int {
	n := t.total.Reset()
	t.before.Reset()
	t.engine.Reset()
	t.after.Reset()
	return n
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
