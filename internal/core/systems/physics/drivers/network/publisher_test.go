package network

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/physync/internal/core/observability/log"
	"github.com/zeusync/physync/internal/core/systems/physics"
	"github.com/zeusync/physync/pkg/encoding"
)

// roundTrip connects a driver to pub at url, publishes one state and
// forwards one command back.
func roundTrip(t *testing.T, pub *Publisher, commands <-chan CommandMessage, cfg physics.NetworkConfig) {
	t.Helper()
	d := New(log.NewNop(), cfg)
	require.NoError(t, d.Init(context.Background(), physics.EngineConfig{}))
	t.Cleanup(func() { _ = d.Close(context.Background()) })

	ball := keyed("ball")
	require.NoError(t, d.AddBody(ball, physics.DefaultFilter))
	require.Eventually(t, func() bool { return pub.Peers() == 1 }, 2*time.Second, time.Millisecond)

	require.NoError(t, pub.Publish(0.5, []BodyState{at("ball", 3)}, nil))
	stepUntil(t, d, func() bool { return ball.State().Position.X() == 3 })

	require.NoError(t, ball.SetVelocity(physics.Vec3{1, 0, 0}, physics.Vec3{}))
	select {
	case cmd := <-commands:
		assert.Equal(t, "ball", cmd.Key)
		assert.Equal(t, physics.CommandSetVelocity.String(), cmd.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("command not forwarded")
	}
}

func newTestPublisher(t *testing.T, c encoding.Compression) (*Publisher, <-chan CommandMessage) {
	t.Helper()
	codec, err := encoding.NewCodec(c)
	require.NoError(t, err)
	commands := make(chan CommandMessage, 4)
	pub := NewPublisher(log.NewNop(), codec, func(m CommandMessage) { commands <- m })
	t.Cleanup(func() { _ = pub.Close() })
	return pub, commands
}

func TestWebsocketRoundTrip(t *testing.T) {
	pub, commands := newTestPublisher(t, encoding.CompressionSnappy)
	srv := httptest.NewServer(pub)
	defer srv.Close()

	roundTrip(t, pub, commands, physics.NetworkConfig{
		URL:              "ws" + strings.TrimPrefix(srv.URL, "http"),
		Compression:      "snappy",
		HandshakeTimeout: 2 * time.Second,
	})
}

func TestQUICRoundTrip(t *testing.T) {
	pub, commands := newTestPublisher(t, encoding.CompressionZstd)
	ln, err := ListenQUIC("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = pub.ServeQUIC(ctx, ln) }()

	roundTrip(t, pub, commands, physics.NetworkConfig{
		URL:                "quic://" + ln.Addr().String(),
		Compression:        "zstd",
		HandshakeTimeout:   2 * time.Second,
		InsecureSkipVerify: true,
	})
}

func TestPublishSequencesWithinSession(t *testing.T) {
	pub, _ := newTestPublisher(t, encoding.CompressionNone)
	client, server := newPipe()
	pub.attach(server)
	require.Equal(t, 1, pub.Peers())

	require.NoError(t, pub.Publish(0.1, nil, nil))
	require.NoError(t, pub.Publish(0.2, nil, nil))

	var seqs []uint64
	for range 2 {
		data, err := client.ReadMessage(context.Background())
		require.NoError(t, err)
		var msg StateMessage
		require.NoError(t, pub.codec.Unmarshal(data, &msg))
		assert.Equal(t, pub.Session(), msg.Session)
		seqs = append(seqs, msg.Seq)
	}
	assert.Equal(t, []uint64{1, 2}, seqs)

	require.NoError(t, client.Close())
	require.Eventually(t, func() bool { return pub.Peers() == 0 }, 2*time.Second, time.Millisecond)
}

func TestPublishBodiesUsesKeys(t *testing.T) {
	pub, _ := newTestPublisher(t, encoding.CompressionNone)
	client, server := newPipe()
	pub.attach(server)

	binding := &staticBinding{states: map[physics.BodyID]physics.BodyState{}}
	ball := keyed("ball")
	ground := physics.NewBody(physics.BodyDesc{Type: physics.BodyStatic, Shape: physics.Plane()}, nil)
	require.NoError(t, ball.Bind(1, binding, physics.DefaultFilter))
	require.NoError(t, ground.Bind(2, binding, physics.DefaultFilter))
	binding.states[1] = physics.BodyState{Position: physics.Vec3{0, 2, 0}}

	contacts := []physics.Contact{{BodyA: 2, BodyB: 1, Depth: 0.1}, {BodyA: 2, BodyB: 99}}
	require.NoError(t, pub.PublishBodies(1, []*physics.Body{ball, ground}, contacts))

	data, err := client.ReadMessage(context.Background())
	require.NoError(t, err)
	var msg StateMessage
	require.NoError(t, pub.codec.Unmarshal(data, &msg))
	require.Len(t, msg.Bodies, 2)
	assert.Equal(t, "ball", msg.Bodies[0].Key)
	assert.Equal(t, [3]float64{0, 2, 0}, msg.Bodies[0].Position)
	assert.Equal(t, "2", msg.Bodies[1].Key)
	require.Len(t, msg.Contacts, 1)
	assert.Equal(t, ContactState{A: "2", B: "ball", Depth: 0.1}, msg.Contacts[0])
}

func TestSlowPeerSkipsUpdates(t *testing.T) {
	pub, _ := newTestPublisher(t, encoding.CompressionNone)
	_, server := newPipe()
	// nothing reads the client end, so the pipe and the peer queue fill up
	pub.attach(server)

	for range 32 + peerBuffer + 8 {
		require.NoError(t, pub.Publish(0, nil, nil))
	}
	require.Eventually(t, func() bool { return pub.Skipped() > 0 }, 2*time.Second, time.Millisecond)
}

type staticBinding struct {
	states map[physics.BodyID]physics.BodyState
}

func (b *staticBinding) BodyState(id physics.BodyID) (physics.BodyState, bool) {
	st, ok := b.states[id]
	return st, ok
}

func (b *staticBinding) Submit(physics.Command) error { return nil }
