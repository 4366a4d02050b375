package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/c360/ustreamer/config"
	"github.com/c360/ustreamer/errors"
	"github.com/c360/ustreamer/health"
	"github.com/c360/ustreamer/message"
	"github.com/c360/ustreamer/metric"
	"github.com/c360/ustreamer/natsclient"
	"github.com/c360/ustreamer/streamer"
	"github.com/c360/ustreamer/subscription"
	"github.com/c360/ustreamer/transport"
	"github.com/c360/ustreamer/transport/natsbus"
	"github.com/c360/ustreamer/transport/udpbus"
)

const connectTimeout = 10 * time.Second

// app owns every long-lived component of the process. Fields are nil for
// components the config does not enable.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	monitor  *health.Monitor

	nats    *natsclient.Client
	host    transport.Transport
	bus     *udpbus.Transport
	cache   *subscription.Cache
	static  *subscription.StaticFile
	kv      *subscription.KVSource
	updater *subscription.NotificationUpdater
	router  *streamer.Router
	server  *metric.Server

	expectedRules int
}

func newApp(cfg *config.Config, logger *slog.Logger) *app {
	registry := metric.NewMetricsRegistry()
	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		monitor:  health.NewMonitor(appName),
		cache: subscription.NewCache(
			subscription.WithLogger(logger),
			subscription.WithMetrics(registry.CoreMetrics()),
		),
	}
}

// start brings components up in dependency order. Any failure is fatal and
// names the offending component, address or path.
func (a *app) start(ctx context.Context) error {
	if err := a.startMetrics(); err != nil {
		return err
	}
	if err := a.connectHost(ctx); err != nil {
		return err
	}
	if err := a.loadSubscriptions(ctx); err != nil {
		return err
	}
	if err := a.startUpdater(ctx); err != nil {
		return err
	}

	c := a.cfg.Streamer
	a.router = streamer.NewRouter(a.cache,
		streamer.WithConfig(streamer.Config{
			QueueSize:   c.MessageQueueSize,
			WaitTimeout: c.WaitTimeout.Duration(),
			Retry:       c.Retry.ErrorsConfig(),
			EchoTTL:     c.EchoTTL.Duration(),
		}),
		streamer.WithLogger(a.logger),
		streamer.WithMetrics(a.registry),
	)
	a.monitor.Register("router", a.routerHealth)

	return a.startBus(ctx)
}

func (a *app) startMetrics() error {
	m := a.cfg.Metrics
	if !m.Enabled {
		return nil
	}
	a.server = metric.NewServer(m.Addr, m.Path, a.registry)
	a.server.SetHealthHandler(a.monitor)
	if err := a.server.Start(); err != nil {
		return fmt.Errorf("start metrics server on %s: %w", m.Addr, err)
	}
	a.logger.Info("Metrics server listening", "url", a.server.URL())
	return nil
}

func (a *app) connectHost(ctx context.Context) error {
	n := a.cfg.Host.NATS
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(a.logger),
		natsclient.WithMetrics(a.registry.CoreMetrics()),
		natsclient.WithName(appName + "-" + a.cfg.Host.Authority),
		natsclient.WithMaxReconnects(n.MaxReconnects),
		natsclient.WithReconnectWait(n.ReconnectWait.Duration()),
		natsclient.WithCompression(n.Compression),
		natsclient.WithCircuitBreakerThreshold(n.CircuitBreakerThreshold),
		// Our own publishes must not come back as host traffic.
		natsclient.WithNoEcho(),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			a.logger.Info("Host network health changed", "healthy", healthy)
		}),
	}
	if n.Username != "" {
		opts = append(opts, natsclient.WithCredentials(n.Username, n.Password))
	}
	if n.Token != "" {
		opts = append(opts, natsclient.WithToken(n.Token))
	}
	if n.TLS.CertFile != "" || n.TLS.CAFile != "" {
		opts = append(opts, natsclient.WithTLS(n.TLS.CertFile, n.TLS.KeyFile, n.TLS.CAFile))
	}

	client, err := natsclient.NewClient(n.URL(), opts...)
	if err != nil {
		return fmt.Errorf("create NATS client for %s: %w", n.URL(), err)
	}
	a.nats = client
	a.monitor.Register("nats", a.natsHealth)

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS %s: %w", n.URL(), err)
	}
	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("NATS connection timeout for %s: %w", n.URL(), err)
	}

	var codec message.Codec = message.JSONCodec{}
	if n.Codec == "cbor" {
		codec = message.CBORCodec{}
	}
	a.host = natsbus.New(client,
		natsbus.WithCodec(codec),
		natsbus.WithPrefix(n.SubjectPrefix),
		natsbus.WithLogger(a.logger),
	)
	return nil
}

func (a *app) loadSubscriptions(ctx context.Context) error {
	s := a.cfg.Subscriptions

	if s.KVBucket != "" {
		bucket, err := a.openBucket(ctx, s.KVBucket)
		if err != nil {
			return fmt.Errorf("open subscription bucket %s: %w", s.KVBucket, err)
		}
		a.kv = subscription.NewKVSource(a.nats.NewKVStore(bucket), a.logger)
	}

	if s.File != "" {
		var opts []subscription.StaticFileOption
		if s.TopicResourceOverride != 0 {
			opts = append(opts, subscription.WithResourceOverride(s.TopicResourceOverride))
		}
		opts = append(opts, subscription.WithFileLogger(a.logger))
		a.static = subscription.NewStaticFile(s.File, opts...)
		if err := a.cache.Refresh(ctx, a.static); err != nil {
			return fmt.Errorf("load subscriptions %s: %w", s.File, err)
		}
	}

	if a.kv != nil {
		if a.static == nil {
			if err := a.cache.Refresh(ctx, a.kv); err != nil {
				return fmt.Errorf("load subscriptions from bucket %s: %w", s.KVBucket, err)
			}
		} else if err := a.overlayKV(ctx); err != nil {
			return fmt.Errorf("load subscriptions from bucket %s: %w", s.KVBucket, err)
		}
	}

	a.monitor.Register("subscriptions", func() health.Status {
		topics := len(a.cache.Topics())
		if topics == 0 {
			return health.Degraded("", "no subscribed topics")
		}
		return health.Healthy("", fmt.Sprintf("%d topics", topics))
	})
	a.logger.Info("Subscriptions loaded", "topics", len(a.cache.Topics()), "records", a.cache.Len())
	return nil
}

// overlayKV applies bucket topics on top of the static file. Bucket topics
// replace file topics of the same name.
func (a *app) overlayKV(ctx context.Context) error {
	snap, err := a.kv.Load(ctx)
	if err != nil {
		return err
	}
	for topic, recs := range snap {
		if err := a.cache.ReplaceTopic(topic, recs); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) openBucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	bucket, err := a.nats.GetKeyValueBucket(ctx, name)
	if err == nil {
		return bucket, nil
	}
	if !errors.HasCode(err, errors.CodeNotFound) {
		return nil, err
	}
	a.logger.Info("Creating subscription bucket", "bucket", name)
	return a.nats.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: "ustreamer subscriptions by topic",
		History:     5,
	})
}

func (a *app) startUpdater(ctx context.Context) error {
	if !a.cfg.Subscriptions.Updates {
		return nil
	}
	opts := []subscription.UpdaterOption{subscription.WithUpdaterLogger(a.logger)}
	if a.kv != nil {
		opts = append(opts, subscription.WithPersister(a.kv))
	}
	topic := subscription.ChangeTopic(a.cfg.Host.Authority)
	a.updater = subscription.NewNotificationUpdater(a.cache, a.host, topic, opts...)
	if err := a.updater.Start(ctx); err != nil {
		return fmt.Errorf("start subscription updates on %s: %w", topic, err)
	}
	return nil
}

func (a *app) startBus(ctx context.Context) error {
	b := a.cfg.Bus
	if !b.Enabled {
		a.logger.Warn("Bus disabled; no forwarding rules installed")
		return nil
	}

	busCfg, err := udpbus.LoadConfig(b.ConfigFile)
	if err != nil {
		return fmt.Errorf("load bus config %s: %w", b.ConfigFile, err)
	}
	if busCfg.DefaultApplicationID == 0 {
		busCfg.DefaultApplicationID = b.DefaultApplicationID
	}

	bus, err := udpbus.New(busCfg, udpbus.WithLogger(a.logger), udpbus.WithMetrics(a.registry))
	if err != nil {
		return fmt.Errorf("create bus transport from %s: %w", b.ConfigFile, err)
	}
	if err := bus.Start(ctx); err != nil {
		return fmt.Errorf("start bus transport on %s: %w", busCfg.Listen, err)
	}
	a.bus = bus
	a.monitor.Update("bus", health.Healthy("", "listening"))

	hostEP, err := streamer.NewEndpoint("host", a.cfg.Host.Authority, a.host, a.cfg.Host.RewriteAuthority)
	if err != nil {
		return err
	}
	busEP, err := streamer.NewEndpoint("bus", b.Authority, bus, b.RewriteAuthority)
	if err != nil {
		return err
	}

	for _, pair := range [][2]streamer.Endpoint{{hostEP, busEP}, {busEP, hostEP}} {
		if _, err := a.router.AddForwardingRule(ctx, pair[0], pair[1]); err != nil {
			return fmt.Errorf("add forwarding rule %s -> %s: %w", pair[0], pair[1], err)
		}
		a.expectedRules++
	}
	return nil
}

func (a *app) natsHealth() health.Status {
	return natsHealthStatus(a.nats.GetStatus())
}

func natsHealthStatus(st *natsclient.Status) health.Status {
	switch st.Status {
	case natsclient.StatusConnected:
		return health.Healthy("", fmt.Sprintf("connected, rtt %s", st.RTT))
	case natsclient.StatusReconnecting, natsclient.StatusConnecting:
		return health.Degraded("", st.Status.String())
	case natsclient.StatusCircuitOpen:
		return health.Unhealthy("", fmt.Sprintf("circuit open after %d failures, retry in %s", st.FailureCount, st.Backoff))
	default:
		return health.Unhealthy("", fmt.Sprintf("%s after %d failures", st.Status, st.FailureCount))
	}
}

func (a *app) routerHealth() health.Status {
	rules := len(a.router.Rules())
	if rules < a.expectedRules {
		return health.Unhealthy("", fmt.Sprintf("%d of %d forwarding rules active", rules, a.expectedRules))
	}
	return health.Healthy("", fmt.Sprintf("%d forwarding rules active", rules))
}

// run blocks until ctx is done or a background task fails.
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.static != nil && a.cfg.Subscriptions.Watch {
		w := subscription.NewWatcher(a.cache, a.static, a.cfg.Subscriptions.WatchDebounce.Duration(), a.logger)
		g.Go(func() error {
			if err := w.Run(gctx); err != nil {
				return fmt.Errorf("watch %s: %w", a.static.Path(), err)
			}
			return nil
		})
	}
	if a.kv != nil {
		g.Go(func() error {
			if err := a.kv.Watch(gctx, a.cache); err != nil {
				return fmt.Errorf("watch subscription bucket %s: %w", a.cfg.Subscriptions.KVBucket, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	return g.Wait()
}

// stop tears down in reverse start order. It is safe after a partial start.
func (a *app) stop(ctx context.Context) error {
	var errs []error

	if a.router != nil {
		errs = append(errs, a.router.Close(ctx))
	}
	if a.updater != nil {
		errs = append(errs, a.updater.Stop(ctx))
	}
	if a.bus != nil {
		timeout := time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		errs = append(errs, a.bus.Stop(timeout))
	}
	if a.nats != nil {
		errs = append(errs, a.nats.Close(ctx))
	}
	if a.server != nil {
		errs = append(errs, a.server.Stop(ctx))
	}
	return stderrors.Join(errs...)
}
