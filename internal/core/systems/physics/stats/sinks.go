package stats

import (
	"strconv"
	"sync"

	"github.com/zeusync/physync/internal/core/events/bus"
	"github.com/zeusync/physync/internal/core/observability/log"
	"github.com/zeusync/physync/internal/core/systems/physics"
)

// Event types published by EventSink.
const (
	EventTickData    = "physics-tick-data"
	EventTickSummary = "physics-tick-summary"
	EventBodyData    = "physics-body-data"
)

const eventSource = "physics"

// Sink receives performance data. TickData is called every tick, the other
// two once per full window.
type Sink interface {
	TickData(tm TickTiming)
	TickSummary(r TickReport)
	BodyData(s physics.BodyStats)
}

// NewSinks builds the sinks named in kinds. Unknown names are a
// configuration error.
func NewSinks(kinds []physics.StatsSink, driver physics.DriverKind, logger log.Log, eventBus bus.EventBus) ([]Sink, *PanelSink, error) {
	var (
		sinks []Sink
		panel *PanelSink
	)
	for _, k := range kinds {
		switch k {
		case physics.StatsConsole:
			sinks = append(sinks, NewConsoleSink(logger))
		case physics.StatsEvents:
			sinks = append(sinks, NewEventSink(eventBus, logger))
		case physics.StatsPanel:
			panel = NewPanelSink(driver)
			sinks = append(sinks, panel)
		default:
			return nil, nil, physics.NewError(physics.ErrorCodeUnknownStatsSink,
				"stats sink not recognized: "+string(k), physics.ErrUnknownStatsSink)
		}
	}
	return sinks, panel, nil
}

// ConsoleSink writes batch reports to the log.
type ConsoleSink struct {
	logger log.Log
}

func NewConsoleSink(logger log.Log) *ConsoleSink {
	return &ConsoleSink{logger: logger.With(log.String("sink", string(physics.StatsConsole)))}
}

func (s *ConsoleSink) TickData(TickTiming) {}

func (s *ConsoleSink) TickSummary(r TickReport) {
	s.logger.Info("Physics tick stats",
		log.String("driver", string(r.Driver)),
		log.Int("ticks", r.Ticks),
		log.Float64("before_avg_ms", r.BeforeStep.Avg),
		log.Float64("before_max_ms", r.BeforeStep.Max),
		log.Float64("engine_avg_ms", r.Engine.Avg),
		log.Float64("engine_min_ms", r.Engine.Min),
		log.Float64("engine_max_ms", r.Engine.Max),
		log.Float64("after_avg_ms", r.AfterStep.Avg),
		log.Float64("after_max_ms", r.AfterStep.Max),
		log.Float64("total_avg_ms", r.Total.Avg),
		log.Float64("total_min_ms", r.Total.Min),
		log.Float64("total_max_ms", r.Total.Max),
	)
}

func (s *ConsoleSink) BodyData(b physics.BodyStats) {
	s.logger.Info("Physics body stats",
		log.Int("static", b.Static),
		log.Int("dynamic", b.Dynamic),
		log.Int("kinematic", b.Kinematic),
		log.Int("contacts", b.Contacts),
		log.Int("manifolds", b.Manifolds),
		log.Int("manifold_contacts", b.ManifoldContacts),
		log.Int("collisions", b.Collisions),
		log.Int("collision_keys", b.CollisionKeys),
	)
}

// EventSink publishes data on the event bus.
type EventSink struct {
	bus    bus.EventBus
	logger log.Log
}

func NewEventSink(eventBus bus.EventBus, logger log.Log) *EventSink {
	return &EventSink{bus: eventBus, logger: logger.With(log.String("sink", string(physics.StatsEvents)))}
}

func (s *EventSink) TickData(tm TickTiming) { s.publish(EventTickData, tm) }

func (s *EventSink) TickSummary(r TickReport) { s.publish(EventTickSummary, r) }

func (s *EventSink) BodyData(b physics.BodyStats) { s.publish(EventBodyData, b) }

func (s *EventSink) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(bus.NewEvent(typ, eventSource, data, nil)); err != nil {
		s.logger.Warn("Stats subscriber failed", log.String("event", typ), log.Error(err))
	}
}

// Row is one labelled line of the stats panel.
type Row struct {
	Label string
	Value string
}

// PanelSink keeps the latest reports as labelled rows for a UI to display.
type PanelSink struct {
	mu     sync.RWMutex
	driver physics.DriverKind
	bodies physics.BodyStats
	report TickReport
}

func NewPanelSink(driver physics.DriverKind) *PanelSink {
	return &PanelSink{driver: driver}
}

func (p *PanelSink) TickData(TickTiming) {}

func (p *PanelSink) TickSummary(r TickReport) {
	p.mu.Lock()
	p.report = r
	p.mu.Unlock()
}

func (p *PanelSink) BodyData(b physics.BodyStats) {
	p.mu.Lock()
	p.bodies = b
	p.mu.Unlock()
}

// Rows returns the panel content. The ammo backend shows manifold and
// collision counters instead of plain contacts.
func (p *PanelSink) Rows() []Row {
	p.mu.RLock()
	defer p.mu.RUnlock()

	b := p.bodies
	var rows []Row
	if p.driver == physics.DriverAmmo {
		rows = []Row{
			{"Static", strconv.Itoa(b.Static)},
			{"Dynamic", strconv.Itoa(b.Dynamic)},
			{"Kinematic", strconv.Itoa(b.Kinematic)},
			{"Manifolds", strconv.Itoa(b.Manifolds)},
			{"Contacts", strconv.Itoa(b.ManifoldContacts)},
			{"Collisions", strconv.Itoa(b.Collisions)},
			{"Coll Keys", strconv.Itoa(b.CollisionKeys)},
		}
	} else {
		rows = []Row{
			{"Static", strconv.Itoa(b.Static)},
			{"Dynamic", strconv.Itoa(b.Dynamic)},
			{"Contacts", strconv.Itoa(b.Contacts)},
		}
	}
	r := p.report
	return append(rows,
		Row{"Before", ms(r.BeforeStep.Avg)},
		Row{"After", ms(r.AfterStep.Avg)},
		Row{"Engine", ms(r.Engine.Avg)},
		Row{"Total", ms(r.Total.Avg)},
	)
}

func ms(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64) + " ms"
}
