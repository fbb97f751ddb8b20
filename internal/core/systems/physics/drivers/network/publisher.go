package network

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/zeusync/physync/internal/core/observability/log"
	"github.com/zeusync/physync/internal/core/systems/physics"
	"github.com/zeusync/physync/pkg/concurrent"
	"github.com/zeusync/physync/pkg/encoding"
)

const peerBuffer = 16

// Publisher serves authoritative state to network drivers and hands their
// commands to OnCommand. Each Publisher run is a fresh session.
type Publisher struct {
	logger   log.Log
	codec    *encoding.Codec
	session  string
	seq      atomic.Uint64
	upgrader websocket.Upgrader
	group    *concurrent.Group

	mu     sync.Mutex
	peers  map[uint64]*peer
	nextID uint64
	closed bool

	onCommand func(CommandMessage)
	skipped   atomic.Uint64
}

type peer struct {
	id   uint64
	conn Conn
	send chan []byte
}

func NewPublisher(logger log.Log, codec *encoding.Codec, onCommand func(CommandMessage)) *Publisher {
	return &Publisher{
		logger:    logger.With(log.String("component", "physics-publisher")),
		codec:     codec,
		session:   uuid.NewString(),
		upgrader:  websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		group:     concurrent.NewGroup(context.Background()),
		peers:     make(map[uint64]*peer),
		onCommand: onCommand,
	}
}

func (p *Publisher) Session() string { return p.session }

// ServeHTTP upgrades the request to a websocket peer.
func (p *Publisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Warn("Websocket upgrade failed", log.Error(err))
		return
	}
	p.attach(newWSConn(ws))
}

// ServeQUIC accepts peers from ln until ctx ends or the listener fails.
func (p *Publisher) ServeQUIC(ctx context.Context, ln *quic.Listener) error {
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "accept quic")
		}
		go func() {
			c, err := acceptQUIC(ctx, conn)
			if err != nil {
				p.logger.Warn("QUIC handshake failed", log.Error(err))
				_ = conn.CloseWithError(1, "handshake")
				return
			}
			p.attach(c)
		}()
	}
}

func (p *Publisher) attach(conn Conn) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = conn.Close()
		return
	}
	p.nextID++
	pr := &peer{id: p.nextID, conn: conn, send: make(chan []byte, peerBuffer)}
	p.peers[pr.id] = pr
	p.mu.Unlock()

	p.logger.Debug("Peer connected", log.Uint64("peer", pr.id))
	p.group.Go(func(ctx context.Context) error {
		err := p.run(ctx, pr)
		p.detach(pr)
		p.logger.Debug("Peer disconnected", log.Uint64("peer", pr.id), log.Error(err))
		return nil
	})
}

func (p *Publisher) detach(pr *peer) {
	p.mu.Lock()
	delete(p.peers, pr.id)
	p.mu.Unlock()
	_ = pr.conn.Close()
}

// run pumps state to the peer and commands from it until either side fails.
func (p *Publisher) run(ctx context.Context, pr *peer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readErr := make(chan error, 1)
	go func() {
		for {
			data, err := pr.conn.ReadMessage(ctx)
			if err != nil {
				readErr <- err
				return
			}
			var cmd CommandMessage
			if err := p.codec.Unmarshal(data, &cmd); err != nil {
				p.logger.Debug("Malformed command", log.Uint64("peer", pr.id), log.Error(err))
				continue
			}
			if p.onCommand != nil {
				p.onCommand(cmd)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = pr.conn.Close()
			return ctx.Err()
		case err := <-readErr:
			return err
		case data := <-pr.send:
			if err := pr.conn.WriteMessage(ctx, data); err != nil {
				return err
			}
		}
	}
}

// Publish sends one state update to every peer. Peers whose queue is full
// skip this update.
func (p *Publisher) Publish(simTime float64, bodies []BodyState, contacts []ContactState) error {
	msg := StateMessage{
		Session:  p.session,
		Seq:      p.seq.Add(1),
		Time:     simTime,
		Bodies:   bodies,
		Contacts: contacts,
	}
	data, err := p.codec.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode state")
	}
	p.broadcast(data)
	return nil
}

// PublishBodies encodes registered bodies and contacts by key.
func (p *Publisher) PublishBodies(simTime float64, bodies []*physics.Body, contacts []physics.Contact) error {
	keys := make(map[physics.BodyID]string, len(bodies))
	states := make([]BodyState, 0, len(bodies))
	for _, b := range bodies {
		keys[b.ID()] = b.Key()
		states = append(states, EncodeBody(b.Key(), b.State()))
	}
	var cs []ContactState
	for _, c := range contacts {
		a, okA := keys[c.BodyA]
		b, okB := keys[c.BodyB]
		if !okA || !okB {
			continue
		}
		cs = append(cs, ContactState{
			A:       a,
			B:       b,
			Point:   vec(c.Point),
			Normal:  vec(c.Normal),
			Depth:   c.Depth,
			Impulse: c.Impulse,
		})
	}
	return p.Publish(simTime, states, cs)
}

func (p *Publisher) broadcast(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pr := range p.peers {
		select {
		case pr.send <- data:
		default:
			p.skipped.Add(1)
		}
	}
}

// Peers returns the number of connected peers.
func (p *Publisher) Peers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.peers)
}

// Skipped counts updates not delivered to slow peers.
func (p *Publisher) Skipped() uint64 { return p.skipped.Load() }

// Close disconnects every peer and waits for their goroutines.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.group.Stop()
	return p.group.Wait()
}
