// Package network exposes authoritative state received from a remote
// simulation through the driver contract. Nothing is stepped locally.
package network

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/physync/internal/core/observability/log"
	"github.com/zeusync/physync/internal/core/systems/physics"
	"github.com/zeusync/physync/pkg/concurrent"
	"github.com/zeusync/physync/pkg/encoding"
)

var (
	_ physics.Driver  = (*Driver)(nil)
	_ physics.Binding = (*Driver)(nil)
)

const (
	incomingBuffer = 8
	outgoingBuffer = 256
)

type Option func(*Driver)

// WithDialer replaces the scheme based Dial.
func WithDialer(dial Dialer) Option {
	return func(d *Driver) { d.dial = dial }
}

// Driver mirrors remote state. Step only applies the messages received
// since the previous call.
type Driver struct {
	logger log.Log
	cfg    physics.NetworkConfig
	dial   Dialer
	codec  *encoding.Codec

	group     *concurrent.Group
	incoming  chan StateMessage
	outgoing  chan []byte
	connected atomic.Bool
	exited    chan struct{}

	// foreground state
	started     bool
	closed      bool
	online      bool
	session     string
	lastSeq     uint64
	retired     map[string]struct{}
	nextID      physics.BodyID
	bodies      map[physics.BodyID]*physics.Body
	byKey       map[string]physics.BodyID
	states      map[physics.BodyID]physics.BodyState
	constraints map[physics.ConstraintID]struct{}
	materials   map[string]physics.Material
	contacts    []physics.Contact

	stale   atomic.Uint64
	dropped atomic.Uint64
}

func New(logger log.Log, cfg physics.NetworkConfig, opts ...Option) *Driver {
	d := &Driver{
		logger:      logger.With(log.String("driver", string(physics.DriverNetwork))),
		cfg:         cfg,
		dial:        Dial,
		bodies:      make(map[physics.BodyID]*physics.Body),
		byKey:       make(map[string]physics.BodyID),
		retired:     make(map[string]struct{}),
		states:      make(map[physics.BodyID]physics.BodyState),
		constraints: make(map[physics.ConstraintID]struct{}),
		materials:   make(map[string]physics.Material),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.cfg.ReconnectInterval <= 0 {
		d.cfg.ReconnectInterval = 2 * time.Second
	}
	return d
}

func (d *Driver) Kind() physics.DriverKind { return physics.DriverNetwork }

// Init connects to the state source. A failed first connection is fatal;
// later disconnects are retried in the background.
func (d *Driver) Init(ctx context.Context, _ physics.EngineConfig) error {
	if d.started {
		return physics.ErrAlreadyInitialized
	}
	if d.cfg.URL == "" {
		return physics.NewError(physics.ErrorCodeInvalidConfig, "network driver requires a url", physics.ErrMissingNetworkURL)
	}
	compression, err := encoding.ParseCompression(d.cfg.Compression)
	if err != nil {
		return physics.NewError(physics.ErrorCodeInvalidConfig, "network compression", err)
	}
	if d.codec, err = encoding.NewCodec(compression); err != nil {
		return physics.NewError(physics.ErrorCodeBackendUnavailable, "network codec", err)
	}

	conn, err := d.dial(ctx, d.cfg)
	if err != nil {
		return physics.NewError(physics.ErrorCodeBackendUnavailable, "connect to state source", err).
			WithContext("url", d.cfg.URL)
	}

	d.incoming = make(chan StateMessage, incomingBuffer)
	d.outgoing = make(chan []byte, outgoingBuffer)
	d.exited = make(chan struct{})
	d.group = concurrent.NewGroup(context.Background())
	d.connected.Store(true)
	d.online = true
	d.group.Go(func(gctx context.Context) error {
		return d.maintain(gctx, conn)
	})
	go func() {
		if err := d.group.Wait(); err != nil {
			d.logger.Error("Network context failed", log.Error(err))
		}
		close(d.exited)
	}()

	d.started = true
	d.logger.Info("Connected to state source",
		log.String("url", d.cfg.URL),
		log.String("compression", string(compression)))
	return nil
}

// maintain serves conn, then keeps reconnecting until ctx ends.
func (d *Driver) maintain(ctx context.Context, conn Conn) error {
	for {
		err := d.serve(ctx, conn)
		d.connected.Store(false)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		d.logger.Warn("State connection lost", log.Error(err))

		for conn = nil; conn == nil; {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(d.cfg.ReconnectInterval):
			}
			if conn, err = d.dial(ctx, d.cfg); err != nil {
				d.logger.Debug("Reconnect failed", log.Error(err))
				conn = nil
			}
		}
		d.connected.Store(true)
		d.logger.Info("State connection restored", log.String("url", d.cfg.URL))
	}
}

// serve runs the reader and writer of one connection until either fails.
func (d *Driver) serve(ctx context.Context, conn Conn) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return conn.Close()
	})
	g.Go(func() error {
		for {
			data, err := conn.ReadMessage(gctx)
			if err != nil {
				return errors.Wrap(err, "read state")
			}
			var msg StateMessage
			if err := d.codec.Unmarshal(data, &msg); err != nil {
				d.logger.Debug("Malformed state message", log.Error(err))
				continue
			}
			d.deliver(msg)
		}
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case data := <-d.outgoing:
				if err := conn.WriteMessage(gctx, data); err != nil {
					return errors.Wrap(err, "write command")
				}
			}
		}
	})
	return g.Wait()
}

// deliver queues msg for the foreground, dropping the oldest queued
// message when full.
func (d *Driver) deliver(msg StateMessage) {
	for {
		select {
		case d.incoming <- msg:
			return
		default:
		}
		select {
		case <-d.incoming:
			d.dropped.Add(1)
		default:
		}
	}
}

func (d *Driver) ready() error {
	switch {
	case d.closed:
		return physics.Fault(physics.DriverNetwork, physics.ErrDriverClosed, nil)
	case !d.started:
		return physics.ErrNotInitialized
	}
	return nil
}

// Step applies pending state messages. Losing the connection is reported
// once as a non-fatal error while the last state is held.
func (d *Driver) Step(float64) error {
	if err := d.ready(); err != nil {
		return err
	}
	for done := false; !done; {
		select {
		case msg := <-d.incoming:
			if err := d.apply(msg); err != nil {
				var perr *physics.Error
				if !errors.As(err, &perr) || !perr.IsStale() {
					return err
				}
				d.stale.Add(1)
			}
		default:
			done = true
		}
	}

	connected := d.connected.Load()
	switch {
	case d.online && !connected:
		d.online = false
		return physics.NewError(physics.ErrorCodeConnectionLost, "holding last state", physics.ErrConnectionLost).
			WithContext("url", d.cfg.URL)
	case !d.online && connected:
		d.online = true
	}
	return nil
}

// apply installs msg unless it is late: an old sequence of the current
// session or anything from a session that was already replaced.
func (d *Driver) apply(msg StateMessage) error {
	if _, old := d.retired[msg.Session]; old || (msg.Session == d.session && msg.Seq <= d.lastSeq) {
		return physics.NewError(physics.ErrorCodeStaleState, "late state message", physics.ErrStaleState).
			WithContext("session", msg.Session).
			WithContext("seq", msg.Seq)
	}
	if msg.Session != d.session {
		d.logger.Debug("New state session", log.String("session", msg.Session))
		if d.session != "" {
			d.retired[d.session] = struct{}{}
		}
	}
	d.session, d.lastSeq = msg.Session, msg.Seq

	for _, bs := range msg.Bodies {
		if id, ok := d.byKey[bs.Key]; ok {
			d.states[id] = bs.State()
		}
	}

	d.contacts = d.contacts[:0:0]
	for _, cs := range msg.Contacts {
		a, okA := d.byKey[cs.A]
		b, okB := d.byKey[cs.B]
		if !okA || !okB {
			continue
		}
		c := physics.Contact{
			BodyA:   a,
			BodyB:   b,
			Point:   physics.Vec3(cs.Point),
			Normal:  physics.Vec3(cs.Normal),
			Depth:   cs.Depth,
			Impulse: cs.Impulse,
		}
		d.contacts = append(d.contacts, c)
		d.bodies[a].NotifyCollision(c)
		d.bodies[b].NotifyCollision(c)
	}
	return nil
}

// Connected reports whether a connection is currently up.
func (d *Driver) Connected() bool { return d.connected.Load() }

// Discarded returns the stale messages ignored by sequence and those
// overwritten in the queue before the foreground read them.
func (d *Driver) Discarded() (stale, dropped uint64) {
	return d.stale.Load(), d.dropped.Load()
}

// AddBody registers b under its key. Remote state for the key drives it.
func (d *Driver) AddBody(b *physics.Body, filter physics.CollisionFilter) error {
	if err := d.ready(); err != nil {
		return err
	}
	if b.Bound() {
		return physics.ErrBodyAlreadyRegistered
	}
	id := d.nextID + 1
	if err := b.Bind(id, d, filter); err != nil {
		return err
	}
	key := b.Key()
	if _, taken := d.byKey[key]; taken {
		b.Unbind()
		return errors.Wrapf(physics.ErrBodyAlreadyRegistered, "key %q", key)
	}
	d.nextID = id
	d.bodies[id] = b
	d.byKey[key] = id
	d.states[id] = b.Desc().InitialState()
	return nil
}

func (d *Driver) RemoveBody(b *physics.Body) error {
	if err := d.ready(); err != nil {
		return err
	}
	id := b.ID()
	if d.bodies[id] != b {
		return physics.ErrBodyNotRegistered
	}
	key := b.Key()
	b.Unbind()
	delete(d.bodies, id)
	delete(d.byKey, key)
	delete(d.states, id)
	return nil
}

// AddConstraint records the constraint. Solving is the authority's job.
func (d *Driver) AddConstraint(c *physics.Constraint) error {
	if err := d.ready(); err != nil {
		return err
	}
	if _, err := c.Spec(); err != nil {
		return err
	}
	d.constraints[c.ID()] = struct{}{}
	return nil
}

func (d *Driver) RemoveConstraint(c *physics.Constraint) error {
	if _, ok := d.constraints[c.ID()]; !ok {
		return physics.ErrConstraintNotRegistered
	}
	delete(d.constraints, c.ID())
	return nil
}

func (d *Driver) AddMaterial(m physics.Material) error {
	if _, exists := d.materials[m.Name]; exists {
		return errors.Wrap(physics.ErrMaterialExists, m.Name)
	}
	d.materials[m.Name] = m
	return nil
}

func (d *Driver) AddContactMaterial(a, b string, _ physics.ContactMaterialSpec) error {
	for _, name := range []string{a, b} {
		if _, ok := d.materials[name]; !ok {
			return errors.Wrap(physics.ErrMaterialNotFound, name)
		}
	}
	return nil
}

func (d *Driver) Material(name string) (physics.Material, bool) {
	m, ok := d.materials[name]
	return m, ok
}

func (d *Driver) Contacts() []physics.Contact { return d.contacts }

func (d *Driver) DebugDrawer(physics.DebugRenderer) (physics.DebugDrawer, bool) {
	return nil, false
}

func (d *Driver) BodyStats() (physics.BodyStats, error) {
	var s physics.BodyStats
	for _, b := range d.bodies {
		if err := s.Count(b.Type()); err != nil {
			return s, err
		}
	}
	s.Contacts = len(d.contacts)
	return s, nil
}

// Close drops the connection and stops reconnecting.
func (d *Driver) Close(ctx context.Context) error {
	if d.closed {
		return nil
	}
	d.closed = true
	for id, b := range d.bodies {
		b.Unbind()
		delete(d.bodies, id)
	}
	if !d.started {
		return nil
	}
	d.group.Stop()
	defer d.codec.Close()
	select {
	case <-d.exited:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for network context")
	}
}

// BodyState implements physics.Binding with the latest received state.
func (d *Driver) BodyState(id physics.BodyID) (physics.BodyState, bool) {
	st, ok := d.states[id]
	return st, ok
}

// Submit forwards cmd to the authority. Commands queue while disconnected.
func (d *Driver) Submit(cmd physics.Command) error {
	if err := d.ready(); err != nil {
		return err
	}
	b, ok := d.bodies[cmd.Body]
	if !ok {
		return physics.ErrBodyNotRegistered
	}
	data, err := d.codec.Marshal(EncodeCommand(b.Key(), cmd))
	if err != nil {
		return errors.Wrap(err, "encode command")
	}
	select {
	case d.outgoing <- data:
		return nil
	default:
		return physics.NewError(physics.ErrorCodeCommandQueue, "network command queue full", physics.ErrCommandQueue)
	}
}
