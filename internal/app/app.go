// Package app assembles the capture-to-delivery components from settings.
package app

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scanrelay/scanrelay/internal/api"
	"github.com/scanrelay/scanrelay/internal/buildinfo"
	"github.com/scanrelay/scanrelay/internal/capture"
	"github.com/scanrelay/scanrelay/internal/conf"
	"github.com/scanrelay/scanrelay/internal/delivery"
	"github.com/scanrelay/scanrelay/internal/errors"
	"github.com/scanrelay/scanrelay/internal/geo"
	"github.com/scanrelay/scanrelay/internal/httpclient"
	"github.com/scanrelay/scanrelay/internal/logger"
	"github.com/scanrelay/scanrelay/internal/mqtt"
	"github.com/scanrelay/scanrelay/internal/observability"
	"github.com/scanrelay/scanrelay/internal/pipeline"
	"github.com/scanrelay/scanrelay/internal/queue"
	"github.com/scanrelay/scanrelay/internal/record"
	"github.com/scanrelay/scanrelay/internal/stats"
	"github.com/scanrelay/scanrelay/internal/telemetry"
)

const shutdownGrace = 15 * time.Second

// App holds the assembled components of one process.
type App struct {
	Settings *conf.Settings
	Build    *buildinfo.Context

	HTTP     *httpclient.Client
	Metrics  *observability.Metrics
	Store    queue.Store
	Queue    *queue.Queue
	Engine   *delivery.Engine
	Pipeline *pipeline.Pipeline
	Stats    *stats.Aggregator
	Board    *stats.Board
	MQTT     mqtt.Client
	Session  *capture.Session
	Reporter *telemetry.Reporter

	log logger.Logger
}

// Option customizes New.
type Option func(*options)

type options struct {
	transport  http.RoundTripper
	mqttClient mqtt.Client
	log        logger.Logger
}

// WithLogger sets the base logger.
func WithLogger(l logger.Logger) Option { return func(o *options) { o.log = l } }

// WithMQTTClient replaces the broker client built from settings.
func WithMQTTClient(c mqtt.Client) Option { return func(o *options) { o.mqttClient = c } }

// WithHTTPTransport replaces the outbound HTTP transport.
func WithHTTPTransport(t http.RoundTripper) Option { return func(o *options) { o.transport = t } }

// New assembles every component described by settings. Nothing is started;
// Run starts the long-running parts.
func New(settings *conf.Settings, build *buildinfo.Context, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Global().Module("scanrelay")
	}

	applyOrigin(settings, build)
	a := &App{Settings: settings, Build: build, log: o.log}

	if settings.Sentry.Enabled {
		reporter, err := telemetry.Install(telemetry.Config{DSN: settings.Sentry.DSN, Release: build.Release()})
		if err != nil {
			a.log.Warn("error telemetry disabled", logger.Error(err))
		} else {
			a.Reporter = reporter
		}
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return nil, err
	}
	a.Metrics = metrics

	a.HTTP = httpclient.New(&httpclient.Config{
		DefaultTimeout: settings.Endpoint.Timeout,
		UserAgent:      userAgent(build),
		Transport:      o.transport,
	})
	metrics.InstrumentClient(a.HTTP)

	a.Store = openStore(&settings.Queue, o.log.Module("queue"))
	a.Queue = queue.Open(a.Store, settings.Queue.Key,
		queue.WithLogger(o.log.Module("queue")),
		queue.WithObserver(metrics.Pipeline.SetQueueSize),
	)

	a.Engine = newEngine(settings, a.HTTP, a.Queue, metrics, o.log.Module("delivery"))

	builder := record.NewBuilder(settings, newLocator(&settings.Location, a.HTTP, o.log.Module("geo")))

	a.Pipeline = pipeline.New(pipeline.Config{
		AutoSave:      settings.Capture.AutoSave,
		DrainInterval: settings.Queue.Drain.Interval,
		HistorySize:   settings.Capture.History,
	}, builder, a.Engine,
		pipeline.WithRecorder(metrics.Pipeline),
		pipeline.WithLogger(o.log.Module("pipeline")),
	)
	a.Pipeline.Indicator().Observe(pipeline.LogTransitions(o.log.Module("status")))

	if settings.Endpoint.URL != "" {
		a.Stats = stats.NewAggregator(settings.Endpoint.URL, a.HTTP, o.log.Module("stats"))
		a.Stats.SetRecorder(metrics.Pipeline)
		a.Board = &stats.Board{}
	}

	a.MQTT = o.mqttClient
	if a.MQTT == nil && settings.MQTT.Broker != "" {
		a.MQTT = mqtt.NewClient(mqtt.ConfigFromSettings(&settings.MQTT), metrics.MQTT, o.log.Module("mqtt"))
	}
	if a.MQTT != nil && settings.MQTT.StatusTopic != "" {
		a.Pipeline.Indicator().Observe(pipeline.PublishStatus(a.MQTT, settings.MQTT.StatusTopic, o.log.Module("mqtt")))
	}

	factory, err := newFactory(settings, a.MQTT, o.log.Module("capture"))
	if err != nil {
		return nil, err
	}
	a.Session = capture.NewSession(factory, a.Pipeline.Input(), o.log.Module("capture"))
	a.Session.OnError(a.Pipeline.EngineFailed)

	return a, nil
}

// applyOrigin fills an unset main.origin with the build's user agent.
func applyOrigin(settings *conf.Settings, build *buildinfo.Context) {
	if settings.Main.Origin == "" {
		settings.Main.Origin = userAgent(build)
	}
}

func userAgent(build *buildinfo.Context) string {
	return "scanrelay/" + build.GetVersion()
}

// openStore opens the configured backend, falling back to process memory so
// detections are never refused because persistence is unavailable.
func openStore(settings *conf.QueueSettings, log logger.Logger) queue.Store {
	store, err := queue.OpenStore(settings)
	if err != nil {
		log.Error("queue store unavailable, using memory",
			logger.String("backend", settings.Backend),
			logger.Error(err))
		return queue.NewMemoryStore()
	}
	return store
}

func newEngine(settings *conf.Settings, client *httpclient.Client, q *queue.Queue, metrics *observability.Metrics, log logger.Logger) *delivery.Engine {
	opts := []delivery.Option{
		delivery.WithRecorder(metrics.Pipeline),
		delivery.WithLogger(log),
	}
	if settings.Endpoint.Fallback.Enabled {
		opts = append(opts, delivery.WithFallback(delivery.NewJSONPTransport(
			settings.Endpoint.URL, client,
			settings.Endpoint.Fallback.Timeout,
			settings.Endpoint.Fallback.MaxPayload,
		)))
	}
	if settings.Queue.Drain.RateLimit > 0 {
		opts = append(opts, delivery.WithDrainRate(settings.Queue.Drain.RateLimit))
	}
	return delivery.NewEngine(delivery.NewDirectTransport(settings.Endpoint.URL, client), q, opts...)
}

func newLocator(settings *conf.LocationSettings, client *httpclient.Client, log logger.Logger) geo.Locator {
	if !settings.Enabled {
		return geo.None{}
	}
	switch settings.Provider {
	case "http":
		return geo.Bounded(geo.NewHTTPLocator(settings.URL, client, settings.Timeout, settings.CacheTTL, log), settings.Timeout)
	default:
		return geo.Static{Location: geo.Location{Lat: settings.Latitude, Lng: settings.Longitude}}
	}
}

func newFactory(settings *conf.Settings, client mqtt.Client, log logger.Logger) (capture.Factory, error) {
	switch settings.Capture.Source {
	case "mqtt":
		if client == nil {
			return nil, errors.Newf("capture source mqtt needs mqtt.broker").
				Component("app").
				Category(errors.CategoryConfiguration).
				Build()
		}
		return capture.MQTTFactory(client, settings.MQTT.DetectionTopic, log), nil
	default:
		return capture.LineFactory(capture.OpenDevice), nil
	}
}

// Run starts the pipeline, the capture engine, the broker connection and the
// control API, and blocks until ctx is done or a component fails. In-flight
// deliveries are given a grace period to settle before Run returns.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.MQTT != nil {
		if err := a.MQTT.Connect(gctx); err != nil {
			a.log.Warn("mqtt connect failed", logger.Error(err))
		}
	}

	g.Go(func() error { return a.Pipeline.Run(gctx) })

	if a.Settings.Capture.AutoStart {
		if err := a.Session.Start(gctx, capture.Mode(a.Settings.Capture.Mode), a.Settings.Capture.Device); err != nil {
			a.log.Error("capture engine failed to start", logger.Error(err))
		}
	}

	if a.Settings.WebServer.Enabled {
		opts := []api.Option{
			api.WithSession(a.Session),
			api.WithMetrics(a.Metrics),
			api.WithRunContext(gctx),
			api.WithLogger(a.log.Module("api")),
		}
		if a.Stats != nil {
			opts = append(opts, api.WithStats(a.Stats, a.Board))
		}
		ctrl := api.New(api.NewEcho(a.log.Module("http")), a.Settings, a.Pipeline, opts...)
		g.Go(func() error { return ctrl.Serve(gctx, a.Settings.WebServer.Listen) })
	}

	if a.Stats != nil && a.Settings.Stats.Days > 0 {
		g.Go(func() error {
			a.refreshStats(gctx)
			return nil
		})
	}

	err := g.Wait()

	if stopErr := a.Session.Stop(); stopErr != nil {
		a.log.Warn("capture engine did not stop cleanly", logger.Error(stopErr))
	}
	waitCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if waitErr := a.Pipeline.Wait(waitCtx); waitErr != nil {
		a.log.Warn("in-flight deliveries still pending at shutdown", logger.Error(waitErr))
	}
	return err
}

// refreshStats keeps the board current, refreshing on the drain interval or
// every minute when periodic drain is off.
func (a *App) refreshStats(ctx context.Context) {
	interval := a.Settings.Queue.Drain.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		res, err := a.Stats.FetchStats(ctx, a.Settings.Stats.Days)
		if err != nil && !errors.Is(err, stats.ErrNoUpdate) && ctx.Err() == nil {
			a.log.Debug("stats refresh failed", logger.Error(err))
		}
		a.Board.Apply(res, err)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close releases the broker connection, the queue store and flushes telemetry.
func (a *App) Close() error {
	if a.MQTT != nil {
		a.MQTT.Disconnect()
	}
	a.HTTP.Close()
	if a.Reporter != nil {
		a.Reporter.Flush(2 * time.Second)
	}
	return a.Queue.Close()
}
