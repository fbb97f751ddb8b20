package main

import (
	"fmt"
	"time"

	"github.com/zeusync/physync/internal/core/observability/log"
	"github.com/zeusync/physync/internal/core/systems"
	"github.com/zeusync/physync/internal/core/systems/physics"
	"github.com/zeusync/physync/internal/core/systems/physics/drivers/network"
)

const commandBuffer = 256

// scene is the demo world: a ground plane and a stack of balls, addressed
// by key so remote peers can drive them.
type scene struct {
	logger   log.Log
	ground   *physics.Body
	balls    []*physics.Body
	byKey    map[string]*physics.Body
	commands chan network.CommandMessage
}

func newScene(logger log.Log, balls int) *scene {
	s := &scene{
		logger:   logger,
		ground:   physics.NewBody(physics.BodyDesc{Key: "ground", Type: physics.BodyStatic, Shape: physics.Plane()}, nil),
		byKey:    make(map[string]*physics.Body, balls+1),
		commands: make(chan network.CommandMessage, commandBuffer),
	}
	s.byKey[s.ground.Key()] = s.ground
	for i := range balls {
		b := physics.NewBody(physics.BodyDesc{
			Key:            fmt.Sprintf("ball-%d", i),
			Shape:          physics.Sphere(0.5),
			BodyProperties: physics.BodyProperties{Mass: 1},
			Position:       physics.Vec3{float64(i%3) - 1, 2 + 1.5*float64(i), float64(i/3%3) - 1},
		}, nil)
		s.balls = append(s.balls, b)
		s.byKey[b.Key()] = b
	}
	return s
}

func (s *scene) bodies() []*physics.Body {
	return append([]*physics.Body{s.ground}, s.balls...)
}

func (s *scene) register(sys *systems.System) error {
	for _, b := range s.bodies() {
		if err := sys.AddBody(b, 0, 0); err != nil {
			return err
		}
	}
	return nil
}

// enqueue is called from publisher goroutines.
func (s *scene) enqueue(msg network.CommandMessage) {
	select {
	case s.commands <- msg:
	default:
		s.logger.Warn("Dropping remote command", log.String("key", msg.Key), log.String("kind", msg.Kind))
	}
}

// applyCommands drains remote commands before the engine steps.
func (s *scene) applyCommands() *systems.Component {
	return &systems.Component{
		Name: "remote-commands",
		BeforeStep: func(time.Duration, time.Duration) {
			for {
				select {
				case msg := <-s.commands:
					s.apply(msg)
				default:
					return
				}
			}
		},
	}
}

func (s *scene) apply(msg network.CommandMessage) {
	b, ok := s.byKey[msg.Key]
	if !ok {
		s.logger.Debug("Command for unknown body", log.String("key", msg.Key))
		return
	}
	cmd, err := msg.Command(b.ID())
	if err == nil {
		err = b.Apply(cmd)
	}
	if err != nil {
		s.logger.Warn("Remote command rejected", log.String("key", msg.Key), log.Error(err))
	}
}

// publish sends the scene to connected network drivers after each tick.
func (s *scene) publish(pub *network.Publisher, sys *systems.System) *systems.Component {
	bodies := s.bodies()
	return &systems.Component{
		Name: "state-publisher",
		AfterStep: func(t, _ time.Duration) {
			if err := pub.PublishBodies(t.Seconds(), bodies, sys.Contacts()); err != nil {
				s.logger.Warn("Publishing state failed", log.Error(err))
			}
		},
	}
}

// pusher periodically knocks every ball away from an origin point, the
// way a click would push a body away from the camera.
type pusher struct {
	logger log.Log
	origin physics.Vec3
	force  float64
	every  time.Duration
	next   time.Duration
	bodies []*physics.Body
}

func (p *pusher) component() *systems.Component {
	return &systems.Component{Name: "force-push", BeforeStep: p.push}
}

func (p *pusher) push(t, _ time.Duration) {
	if t < p.next {
		return
	}
	p.next = t + p.every
	for _, b := range p.bodies {
		pos := b.Pose().Position
		dir := pos.Sub(p.origin)
		if dir.Len() == 0 {
			continue
		}
		if err := b.ApplyImpulse(dir.Normalize().Mul(p.force), pos); err != nil {
			p.logger.Warn("Force push failed", log.String("key", b.Key()), log.Error(err))
		}
	}
}
