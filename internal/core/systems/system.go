// Package systems hosts the physics orchestrator: it owns one driver,
// runs registered components around each engine step and reports
// per-tick performance.
package systems

import (
	"context"
	"slices"
	"time"

	"github.com/pkg/errors"

	"github.com/zeusync/physync/internal/core/events/bus"
	"github.com/zeusync/physync/internal/core/observability/log"
	"github.com/zeusync/physync/internal/core/systems/physics"
	"github.com/zeusync/physync/internal/core/systems/physics/stats"
)

// EventDriverFault is published when the driver reports a fatal fault.
const EventDriverFault = "physics-driver-fault"

// StateIdentity represents the lifecycle state of a System
type StateIdentity uint8

const (
	StateUninitialized StateIdentity = iota
	StateInitializing
	StateReady
	StateFaulted
	StateClosed
)

func (s StateIdentity) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFaulted:
		return "faulted"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Metrics provides runtime metrics of the tick loop
type Metrics struct {
	TickCount          uint64
	SkippedTicks       uint64
	ClampedTicks       uint64
	TotalTickTime      time.Duration
	AverageTickTime    time.Duration
	MaxTickTime        time.Duration
	MinTickTime        time.Duration
	SimulatedTime      time.Duration
	ErrorCount         uint64
	LastError          error
	LastTickTime       time.Time
	BodiesRegistered   int
	ComponentsAttached int
}

// FaultReport is the payload of EventDriverFault.
type FaultReport struct {
	Driver  physics.DriverKind `json:"driver"`
	Code    physics.ErrorCode  `json:"code"`
	Message string             `json:"message"`
}

// System is the physics orchestrator. All methods must be called from the
// goroutine that drives Tick.
type System struct {
	cfg      physics.Config
	logger   log.Log
	bus      bus.EventBus
	driver   physics.Driver
	now      func() time.Time
	renderer physics.DebugRenderer

	state  StateIdentity
	debug  bool
	drawer physics.DebugDrawer

	beforeStep []*Component
	step       []*Component
	afterStep  []*Component

	tracker *stats.Tracker
	sinks   []stats.Sink
	panel   *stats.PanelSink

	bodies  int
	metrics Metrics
}

type Option func(*System)

func WithLogger(logger log.Log) Option {
	return func(s *System) { s.logger = logger }
}

// WithEventBus sets the bus used by the events sink and fault events.
func WithEventBus(b bus.EventBus) Option {
	return func(s *System) { s.bus = b }
}

// WithDriver replaces the driver selected by configuration. Its Kind must
// match the configured driver.
func WithDriver(d physics.Driver) Option {
	return func(s *System) { s.driver = d }
}

// WithDebugRenderer sets where SetDebug(true) draws.
func WithDebugRenderer(r physics.DebugRenderer) Option {
	return func(s *System) { s.renderer = r }
}

// WithClock replaces the wall clock used to time tick phases.
func WithClock(now func() time.Time) Option {
	return func(s *System) { s.now = now }
}

// New validates cfg and constructs the configured driver. The driver is
// fixed for the lifetime of the System.
func New(cfg physics.Config, opts ...Option) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &System{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.Provide()
	}
	s.logger = s.logger.With(log.String("system", "physics"), log.String("driver", string(cfg.Driver)))
	if s.bus == nil && cfg.HasStats(physics.StatsEvents) {
		s.bus = bus.New()
	}

	if s.driver == nil {
		d, err := newDriver(cfg, s.logger)
		if err != nil {
			return nil, err
		}
		s.driver = d
	} else if s.driver.Kind() != cfg.Driver {
		return nil, physics.NewError(physics.ErrorCodeInvalidConfig,
			"driver kind "+string(s.driver.Kind())+" does not match configuration", physics.ErrInvalidConfig)
	}

	sinks, panel, err := stats.NewSinks(cfg.Stats, cfg.Driver, s.logger, s.bus)
	if err != nil {
		return nil, err
	}
	if len(sinks) > 0 {
		s.sinks, s.panel = sinks, panel
		s.tracker = stats.NewTracker(cfg.Driver, cfg.StatsWindow)
	}
	return s, nil
}

// Init loads the driver. Non-ammo drivers then get the default and static
// materials and their contact pairings.
func (s *System) Init(ctx context.Context) error {
	if s.state != StateUninitialized {
		return physics.ErrAlreadyInitialized
	}
	s.state = StateInitializing

	engine := s.cfg.EngineConfig()
	if s.cfg.Driver != physics.DriverAmmo {
		engine.DebugDrawMode, engine.MaxSubSteps, engine.FixedTimeStep = physics.DebugNoDebug, 0, 0
	}
	if err := s.driver.Init(ctx, engine); err != nil {
		s.state = StateFaulted
		s.record(err)
		return errors.Wrap(err, "init physics driver")
	}

	if s.cfg.Driver != physics.DriverAmmo {
		if err := s.registerDefaultMaterials(); err != nil {
			s.state = StateFaulted
			s.record(err)
			return err
		}
	}

	s.state = StateReady
	s.logger.Info("Physics system ready",
		log.Int("iterations", s.cfg.Iterations),
		log.Float64("max_interval", s.cfg.MaxInterval),
		log.Int("stats_sinks", len(s.sinks)))

	if s.cfg.Debug {
		s.SetDebug(true)
	}
	return nil
}

func (s *System) registerDefaultMaterials() error {
	for _, name := range []string{physics.DefaultMaterialName, physics.StaticMaterialName} {
		if err := s.driver.AddMaterial(physics.NewMaterial(name)); err != nil {
			return errors.Wrapf(err, "register %s", name)
		}
	}
	if err := s.driver.AddContactMaterial(physics.DefaultMaterialName, physics.DefaultMaterialName, s.cfg.DefaultContactMaterial()); err != nil {
		return errors.Wrap(err, "register default contact material")
	}
	if err := s.driver.AddContactMaterial(physics.StaticMaterialName, physics.DefaultMaterialName, s.cfg.StaticContactMaterial()); err != nil {
		return errors.Wrap(err, "register static contact material")
	}
	return nil
}

// Tick runs one frame: beforeStep components, the engine step, then step
// and afterStep components. t is the host time, dt the frame delta. Ticks
// before Init completes, after a fatal fault, or with dt <= 0 are ignored.
// The engine never simulates more than the configured max interval.
func (s *System) Tick(t, dt time.Duration) {
	if s.state != StateReady || dt <= 0 {
		s.metrics.SkippedTicks++
		return
	}

	interval := dt.Seconds()
	if interval > s.cfg.MaxInterval {
		interval = s.cfg.MaxInterval
		s.metrics.ClampedTicks++
	}

	// components removed during this tick still run until it ends
	before, step, after := s.beforeStep, s.step, s.afterStep

	start := s.now()
	for _, c := range before {
		c.BeforeStep(t, dt)
	}
	engineStart := s.now()
	err := s.driver.Step(interval)
	engineEnd := s.now()
	for _, c := range step {
		c.Step(t, dt)
	}
	for _, c := range after {
		c.AfterStep(t, dt)
	}
	end := s.now()

	if err != nil {
		s.handleStepError(err)
	}
	s.observe(end.Sub(start), interval, end)

	if s.tracker != nil {
		s.report(stats.TickTiming{
			BeforeStep: engineStart.Sub(start),
			Engine:     engineEnd.Sub(engineStart),
			AfterStep:  end.Sub(engineEnd),
			Total:      end.Sub(start),
		})
	}
}

func (s *System) handleStepError(err error) {
	s.record(err)
	if !physics.IsFatal(err) {
		s.logger.Warn("Physics driver degraded", log.Error(err))
		return
	}

	s.state = StateFaulted
	s.logger.Error("Physics driver fault, simulation stopped", log.Error(err))
	if s.bus == nil {
		return
	}
	report := FaultReport{
		Driver:  s.driver.Kind(),
		Code:    physics.GetErrorCode(err),
		Message: err.Error(),
	}
	if perr := s.bus.Publish(bus.NewEvent(EventDriverFault, "physics", report, nil)); perr != nil {
		s.logger.Warn("Fault subscriber failed", log.Error(perr))
	}
}

func (s *System) observe(d time.Duration, interval float64, at time.Time) {
	m := &s.metrics
	m.TickCount++
	m.TotalTickTime += d
	m.AverageTickTime = m.TotalTickTime / time.Duration(m.TickCount)
	if d > m.MaxTickTime {
		m.MaxTickTime = d
	}
	if m.MinTickTime == 0 || d < m.MinTickTime {
		m.MinTickTime = d
	}
	m.SimulatedTime += time.Duration(interval * float64(time.Second))
	m.LastTickTime = at
}

// report feeds the tracker and, at each window boundary, the summary and
// body counts to the sinks.
func (s *System) report(tm stats.TickTiming) {
	for _, sink := range s.sinks {
		sink.TickData(tm)
	}
	summary, full, err := s.tracker.Record(tm)
	if err != nil {
		s.record(err)
		s.logger.Error("Tick stats window violated", log.Error(err))
		return
	}
	if !full {
		return
	}
	for _, sink := range s.sinks {
		sink.TickSummary(summary)
	}

	counts, err := s.driver.BodyStats()
	if err != nil {
		s.record(err)
		s.logger.Error("Body classification failed", log.Error(err))
		return
	}
	for _, sink := range s.sinks {
		sink.BodyData(counts)
	}
}

func (s *System) record(err error) {
	s.metrics.ErrorCount++
	s.metrics.LastError = err
}

// SetDebug toggles debug drawing. Only the ammo driver has a debug
// drawer; for the others the flag is just recorded.
func (s *System) SetDebug(debug bool) {
	s.debug = debug
	if s.cfg.Driver != physics.DriverAmmo || s.state != StateReady {
		return
	}
	switch {
	case debug && s.drawer == nil:
		if s.renderer == nil {
			s.logger.Warn("Debug drawing requested without a renderer")
			return
		}
		drawer, ok := s.driver.DebugDrawer(s.renderer)
		if !ok {
			return
		}
		drawer.Enable()
		s.drawer = drawer
	case !debug && s.drawer != nil:
		s.drawer.Disable()
		s.drawer = nil
	}
}

func (s *System) Debug() bool { return s.debug }

func (s *System) ready() error {
	switch s.state {
	case StateReady, StateFaulted:
		return nil
	case StateClosed:
		return physics.Fault(s.cfg.Driver, physics.ErrDriverClosed, nil)
	default:
		return physics.ErrNotInitialized
	}
}

// AddBody registers b with the driver. A zero group and mask selects the
// default filter, which collides with everything.
func (s *System) AddBody(b *physics.Body, group, mask uint32) error {
	if err := s.ready(); err != nil {
		return err
	}
	filter := physics.CollisionFilter{Group: group, Mask: mask}
	if group == 0 && mask == 0 {
		filter = physics.DefaultFilter
	}
	if err := s.driver.AddBody(b, filter); err != nil {
		return err
	}
	s.bodies++
	return nil
}

func (s *System) RemoveBody(b *physics.Body) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.driver.RemoveBody(b); err != nil {
		return err
	}
	s.bodies--
	return nil
}

func (s *System) AddConstraint(c *physics.Constraint) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.driver.AddConstraint(c)
}

func (s *System) RemoveConstraint(c *physics.Constraint) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.driver.RemoveConstraint(c)
}

// AddComponent appends c to every phase it has a callback for. Adding the
// same component twice makes it run twice per phase.
func (s *System) AddComponent(c *Component) {
	if c.BeforeStep != nil {
		s.beforeStep = append(slices.Clip(s.beforeStep), c)
	}
	if c.Step != nil {
		s.step = append(slices.Clip(s.step), c)
	}
	if c.AfterStep != nil {
		s.afterStep = append(slices.Clip(s.afterStep), c)
	}
}

// RemoveComponent removes one registration of c from each phase. It takes
// effect from the next tick.
func (s *System) RemoveComponent(c *Component) {
	s.beforeStep = without(s.beforeStep, c)
	s.step = without(s.step, c)
	s.afterStep = without(s.afterStep, c)
}

// without returns a copy of list lacking the first occurrence of c, so a
// tick iterating the old slice is unaffected.
func without(list []*Component, c *Component) []*Component {
	i := slices.Index(list, c)
	if i < 0 {
		return list
	}
	out := make([]*Component, 0, len(list)-1)
	out = append(out, list[:i]...)
	return append(out, list[i+1:]...)
}

// Contacts returns the contacts of the last engine step.
func (s *System) Contacts() []physics.Contact {
	if s.state == StateUninitialized || s.state == StateInitializing {
		return nil
	}
	return s.driver.Contacts()
}

func (s *System) Material(name string) (physics.Material, bool) {
	return s.driver.Material(name)
}

func (s *System) State() StateIdentity    { return s.state }
func (s *System) Driver() physics.Driver  { return s.driver }
func (s *System) Config() physics.Config  { return s.cfg }
func (s *System) EventBus() bus.EventBus  { return s.bus }
func (s *System) Panel() *stats.PanelSink { return s.panel }
func (s *System) Logger() log.Log         { return s.logger }

// Metrics returns a copy of the tick loop metrics.
func (s *System) Metrics() Metrics {
	m := s.metrics
	m.BodiesRegistered = s.bodies
	m.ComponentsAttached = len(s.beforeStep) + len(s.step) + len(s.afterStep)
	return m
}

// Close releases the driver. A partially filled stats window is dropped.
func (s *System) Close(ctx context.Context) error {
	if s.state == StateClosed {
		return nil
	}
	if s.tracker != nil {
		if n := s.tracker.Discard(); n > 0 {
			s.logger.Debug("Dropped partial stats window", log.Int("ticks", n))
		}
	}
	if s.drawer != nil {
		s.drawer.Disable()
		s.drawer = nil
	}
	s.state = StateClosed
	s.bodies = 0
	if err := s.driver.Close(ctx); err != nil {
		return errors.Wrap(err, "close physics driver")
	}
	s.logger.Info("Physics system closed", log.Uint64("ticks", s.metrics.TickCount))
	return nil
}
