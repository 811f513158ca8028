package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/docopt/docopt-go"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/numbleroot/strand/clock"
	"github.com/numbleroot/strand/comm"
	"github.com/numbleroot/strand/config"
	"github.com/numbleroot/strand/distributor"
	"github.com/numbleroot/strand/node"
	"github.com/numbleroot/strand/storage"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
)

// Constants

const version = "0.1.0"

const usage = `strand keeps a text document replicated across peers.

Usage:
  strand run [--config=<path>] [--env=<path>] [--loglevel=<level>]
  strand actor
  strand -h | --help
  strand --version

Options:
  -h --help           Show this screen.
  --version           Show version.
  --config=<path>     Path to the TOML configuration [default: config.toml].
  --env=<path>        Path to a .env file with host overrides [default: .env].
  --loglevel=<level>  One of debug, info, warn or error [default: debug].`

// Structs

// daemon is one running replica with its sync
// server and background tasks.
type daemon struct {
	logger    log.Logger
	conf      *config.Config
	node      *node.Node
	service   node.Service
	server    *grpc.Server
	transport *comm.GRPCTransport
	consumer  sarama.Consumer
}

// Functions

// initLogger initializes a JSON gokit-logger set
// to the according log level supplied via cli flag.
func initLogger(loglevel string) log.Logger {

	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger,
		"ts", log.DefaultTimestampUTC,
		"caller", log.DefaultCaller,
	)

	switch strings.ToLower(loglevel) {
	case "info":
		logger = level.NewFilter(logger, level.AllowInfo())
	case "warn":
		logger = level.NewFilter(logger, level.AllowWarn())
	case "error":
		logger = level.NewFilter(logger, level.AllowError())
	default:
		logger = level.NewFilter(logger, level.AllowDebug())
	}

	return logger
}

// loadConfig reads the TOML config, applies the
// overrides of the .env file and validates the result.
func loadConfig(logger log.Logger, configFile string, envFile string) (*config.Config, error) {

	conf, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}

	env, err := config.LoadEnv(envFile)
	if err != nil {
		level.Info(logger).Log("msg", "running without .env overrides", "err", err)
	} else {
		env.Apply(conf)
	}

	err = conf.Validate()
	if err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return conf, nil
}

// initDaemon wires a replica node with its store, its
// sync transport and, if brokers are configured, the
// Kafka broadcast.
func initDaemon(logger log.Logger, conf *config.Config, m *StrandMetrics) (*daemon, error) {

	store, err := storage.Open(conf.Replica.DataPath)
	if err != nil {
		return nil, err
	}

	d := &daemon{
		logger:    logger,
		conf:      conf,
		transport: comm.InitGRPCTransport(conf.PeerAddrs()),
	}

	var broadcaster distributor.Broadcaster

	if len(conf.Kafka.Brokers) > 0 {

		producer, consumer, err := distributor.Dial(conf.Kafka.Brokers, string(conf.Replica.Actor))
		if err != nil {
			_ = store.Close()
			return nil, err
		}

		d.consumer = consumer

		broadcaster = distributor.InitKafkaBroadcaster(producer, conf.Kafka.Topic)
		broadcaster = distributor.NewMetricsBroadcaster(broadcaster, m.Broadcast.Published, m.Broadcast.Failed)
		broadcaster = distributor.NewLoggingBroadcaster(broadcaster, logger)
	}

	n, err := node.InitNode(logger, conf, d.transport, storage.NewLoggingStore(store, logger), broadcaster)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	d.node = n
	d.service = node.NewMetricsService(node.NewLoggingService(n, logger), m.Node)

	d.server = grpc.NewServer(comm.ServerOptions()...)
	comm.RegisterSyncServer(d.server, d.service)

	return d, nil
}

// run serves peers on lis and drives anti-entropy,
// session expiry, garbage collection and persistence
// until ctx is done. It then shuts everything down.
func (d *daemon) run(ctx context.Context, lis net.Listener) error {

	// Background tasks also stop if the server does.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg := new(sync.WaitGroup)
	serveErr := make(chan error, 1)

	go func() {
		serveErr <- d.server.Serve(lis)
	}()

	level.Info(d.logger).Log("msg", "serving sync requests", "addr", lis.Addr().String())

	wg.Add(1)
	go func() {
		defer wg.Done()

		d.node.Coordinator().RunExpiry(ctx, d.conf.Sync.ExpiryInterval.Duration, d.conf.Sync.SessionTimeout.Duration, func(ids []string) {
			level.Warn(d.logger).Log("msg", "sync sessions expired", "sessions", strings.Join(ids, ","))
		})
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.every(ctx, d.conf.Sync.BaseInterval.Duration/2, func() {
			d.service.SyncDue(ctx)
		})
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.every(ctx, d.conf.Sync.GCInterval.Duration, func() {
			d.service.CollectGarbage()
			d.service.Persist()
		})
	}()

	if d.consumer != nil {

		sub := distributor.InitSubscriber(d.logger, d.consumer, d.conf.Kafka.Topic, d.node.Actor(), d.service, sarama.OffsetNewest)

		wg.Add(1)
		go func() {
			defer wg.Done()

			err := sub.Run(ctx)
			if err != nil {
				level.Error(d.logger).Log("msg", "broadcast subscriber stopped", "err", err)
			}
		}()
	}

	var err error

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		err = errors.Wrap(err, "sync server stopped")
	}

	cancel()
	d.server.GracefulStop()
	wg.Wait()

	d.shutdown()

	return err
}

// every calls f each interval until ctx is done.
func (d *daemon) every(ctx context.Context, interval time.Duration, f func()) {

	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f()
		}
	}
}

// shutdown releases connections and persists
// the replica a last time.
func (d *daemon) shutdown() {

	err := d.transport.Close()
	if err != nil {
		level.Warn(d.logger).Log("msg", "failed to close peer connections", "err", err)
	}

	if d.consumer != nil {

		err = d.consumer.Close()
		if err != nil {
			level.Warn(d.logger).Log("msg", "failed to close Kafka consumer", "err", err)
		}
	}

	err = d.node.Close()
	if err != nil {
		level.Error(d.logger).Log("msg", "failed to close replica", "err", err)
	}
}

func main() {

	// Set CPUs usable by strand to all available.
	runtime.GOMAXPROCS(runtime.NumCPU())

	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if actor, _ := opts.Bool("actor"); actor {
		fmt.Println(clock.NewActorID())
		return
	}

	configFile, _ := opts.String("--config")
	envFile, _ := opts.String("--env")
	loglevel, _ := opts.String("--loglevel")

	logger := initLogger(loglevel)

	conf, err := loadConfig(logger, configFile, envFile)
	if err != nil {
		level.Error(logger).Log("msg", "failed to load the config", "err", err)
		os.Exit(2)
	}

	m := NewStrandMetrics(conf.PrometheusAddr)
	go runPromHTTP(logger, conf.PrometheusAddr)

	d, err := initDaemon(logger, conf, m)
	if err != nil {
		level.Error(logger).Log("msg", "failed to initialize replica", "err", err)
		os.Exit(3)
	}

	lis, err := net.Listen("tcp", conf.Replica.Listen)
	if err != nil {
		level.Error(logger).Log("msg", "failed to listen for peers", "addr", conf.Replica.Listen, "err", err)
		d.shutdown()
		os.Exit(4)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = d.run(ctx, lis)
	if err != nil {
		level.Error(logger).Log("msg", "replica stopped with error", "err", err)
		os.Exit(5)
	}
}
