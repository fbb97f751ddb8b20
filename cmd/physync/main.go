package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/zeusync/physync/internal/core/observability/log"
	"github.com/zeusync/physync/internal/core/systems"
	"github.com/zeusync/physync/internal/core/systems/physics"
	"github.com/zeusync/physync/internal/core/systems/physics/drivers/network"
	"github.com/zeusync/physync/internal/injector"
	"github.com/zeusync/physync/pkg/concurrent"
	"github.com/zeusync/physync/pkg/encoding"
)

type options struct {
	serve string
	quic  string
	hz    float64
	balls int
	push  time.Duration
	force float64
}

func main() {
	var (
		configPath = flag.String("config", "", "physics configuration file (YAML)")
		driver     = flag.String("driver", "", "override the configured driver: local, worker, network or ammo")
		opts       options
	)
	flag.StringVar(&opts.serve, "serve", "", "publish authoritative state over websocket on this address")
	flag.StringVar(&opts.quic, "quic", "", "publish authoritative state over QUIC on this address")
	flag.Float64Var(&opts.hz, "hz", 60, "host frame rate")
	flag.IntVar(&opts.balls, "balls", 8, "number of falling bodies")
	flag.DurationVar(&opts.push, "push", 3*time.Second, "interval between force pushes, 0 disables them")
	flag.Float64Var(&opts.force, "force", 10, "force push impulse")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sys, err := injector.InitializeSystem(injector.ConfigPath(*configPath), injector.DriverOverride(*driver))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error building physics system:", err)
		os.Exit(1)
	}
	if err = run(ctx, sys, opts); err != nil {
		sys.Logger().Error("Physics demo stopped", log.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, sys *systems.System, opts options) error {
	logger := sys.Logger()
	if err := sys.Init(ctx); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sys.Close(closeCtx); err != nil {
			logger.Warn("Closing physics system failed", log.Error(err))
		}
	}()

	sc := newScene(logger, opts.balls)
	if err := sc.register(sys); err != nil {
		return errors.Wrap(err, "register scene")
	}
	if opts.push > 0 {
		p := &pusher{logger: logger, origin: physics.Vec3{0, 1, 8}, force: opts.force, every: opts.push, next: opts.push, bodies: sc.balls}
		sys.AddComponent(p.component())
	}

	group := concurrent.NewGroup(ctx)
	if opts.serve != "" || opts.quic != "" {
		if sys.Config().Driver == physics.DriverNetwork {
			return errors.New("a network driver cannot publish state")
		}
		pub, err := newPublisher(logger, sys.Config().Network, sc)
		if err != nil {
			return err
		}
		defer pub.Close()
		sys.AddComponent(sc.applyCommands())
		sys.AddComponent(sc.publish(pub, sys))
		if err := serve(group, logger, pub, opts); err != nil {
			return err
		}
	}

	loop := systems.NewFrameLoop(sys, opts.hz)
	logger.Info("Physics demo running",
		log.Duration("frame", loop.Interval()),
		log.Int("bodies", len(sc.balls)+1))
	frames := loop.Run(group.Context())

	group.Stop()
	err := group.Wait()
	report(logger, sys, frames)
	return err
}

func newPublisher(logger log.Log, cfg physics.NetworkConfig, sc *scene) (*network.Publisher, error) {
	compression, err := encoding.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, errors.Wrap(err, "publisher compression")
	}
	codec, err := encoding.NewCodec(compression)
	if err != nil {
		return nil, err
	}
	return network.NewPublisher(logger, codec, sc.enqueue), nil
}

func serve(group *concurrent.Group, logger log.Log, pub *network.Publisher, opts options) error {
	if opts.serve != "" {
		mux := http.NewServeMux()
		mux.Handle("/state", pub)
		srv := &http.Server{Addr: opts.serve, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		group.Go(func(ctx context.Context) error {
			go func() {
				<-ctx.Done()
				_ = srv.Close()
			}()
			logger.Info("Serving state over websocket", log.String("addr", opts.serve))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "websocket publisher")
			}
			return nil
		})
	}
	if opts.quic != "" {
		ln, err := network.ListenQUIC(opts.quic)
		if err != nil {
			return err
		}
		group.Go(func(ctx context.Context) error {
			defer ln.Close()
			logger.Info("Serving state over QUIC", log.String("addr", ln.Addr().String()))
			return pub.ServeQUIC(ctx, ln)
		})
	}
	return nil
}

func report(logger log.Log, sys *systems.System, frames int) {
	m := sys.Metrics()
	logger.Info("Physics demo finished",
		log.Int("frames", frames),
		log.Uint64("ticks", m.TickCount),
		log.Uint64("clamped", m.ClampedTicks),
		log.Duration("avg_tick", m.AverageTickTime),
		log.Duration("max_tick", m.MaxTickTime),
		log.Duration("simulated", m.SimulatedTime),
		log.Uint64("errors", m.ErrorCount))
	if panel := sys.Panel(); panel != nil {
		for _, row := range panel.Rows() {
			logger.Info("Stats", log.String("label", row.Label), log.String("value", row.Value))
		}
	}
}
