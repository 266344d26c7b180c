package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/goliatone/go-auth-client"
	"github.com/goliatone/go-auth-client/activitymap"
	"github.com/goliatone/go-auth-client/config"
	"github.com/goliatone/go-auth-client/demo"
	"github.com/goliatone/go-auth-client/middleware/csrf"
	"github.com/goliatone/go-auth-client/repository"
	"github.com/goliatone/go-auth-client/telemetry"
	"github.com/goliatone/go-auth-client/widget"
	gconfig "github.com/goliatone/go-config/config"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type App struct {
	config    *gconfig.Container[*config.Config]
	logger    *glog.BaseLogger
	srv       router.Server[*fiber.App]
	backend   *demo.Backend
	storage   authclient.Storage
	closers   []func() error
	registry  *prometheus.Registry
	collector *telemetry.Collector
	page      *widget.Page
	hosts     []*widget.Host
}

func (a *App) Config() *config.Config {
	return a.config.Raw()
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func main() {
	// .env is optional in development
	_ = godotenv.Load()

	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Debug),
		glog.WithName("authwidget"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	cfg := gconfig.New(&config.Config{}).
		WithLogger(lgr.GetLogger("config"))

	ctx := context.Background()
	if err := cfg.Load(ctx); err != nil {
		panic(err)
	}

	if cfg.Raw().Debug {
		fmt.Println("============")
		fmt.Println(print.MaybeHighlightJSON(cfg.Raw()))
		fmt.Println("============")
	}

	app := &App{
		config: cfg,
		logger: lgr,
	}

	if err := WithSentry(ctx, app); err != nil {
		panic(err)
	}
	defer sentry.Flush(2 * time.Second)

	if err := WithDemoBackend(ctx, app); err != nil {
		panic(err)
	}

	if err := WithStorage(ctx, app); err != nil {
		panic(err)
	}

	if err := WithMetrics(ctx, app); err != nil {
		panic(err)
	}

	if err := WithHTTPServer(ctx, app); err != nil {
		panic(err)
	}

	if err := WithWidgets(ctx, app); err != nil {
		panic(err)
	}

	go func() {
		if err := app.srv.Serve(app.Config().GetServer().Address); err != nil {
			app.GetLogger("http").Error("server stopped", "error", err)
		}
	}()

	sig := WaitExitSignal()
	app.GetLogger("app").Info("shutting down", "signal", sig.String())
	Shutdown(app)
}

func WithSentry(_ context.Context, app *App) error {
	scfg := app.Config().GetSentry()
	if scfg.DSN == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:              scfg.DSN,
		Environment:      scfg.GetEnvironment(),
		AttachStacktrace: true,
	})
}

func WithDemoBackend(_ context.Context, app *App) error {
	icfg := app.Config().GetIdentity()
	if !icfg.EmbedDemo {
		return nil
	}

	backend, err := demo.NewBackend(demo.WithLogger(app.GetLogger("demo")))
	if err != nil {
		return err
	}
	app.backend = backend

	// bind before widgets bootstrap against it
	ln, err := net.Listen("tcp", icfg.DemoAddress)
	if err != nil {
		return err
	}

	go func() {
		if err := backend.App().Listener(ln); err != nil {
			app.GetLogger("demo").Error("demo backend stopped", "error", err)
		}
	}()
	app.closers = append(app.closers, backend.App().Shutdown)
	return nil
}

func WithStorage(ctx context.Context, app *App) error {
	scfg := app.Config().GetStorage()
	logger := app.GetLogger("storage")

	switch scfg.GetDriver() {
	case config.StorageSQLite:
		sqldb, err := sql.Open(sqliteshim.ShimName, scfg.DSN)
		if err != nil {
			return err
		}
		db := bun.NewDB(sqldb, sqlitedialect.New())
		store := repository.NewBunStorage(db)
		if err := store.CreateTable(ctx); err != nil {
			return err
		}
		app.storage = store
		app.closers = append(app.closers, db.Close)
	case config.StorageRedis:
		rdb := redis.NewClient(&redis.Options{Addr: scfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not reachable, tokens will not persist until it is", "addr", scfg.RedisAddr, "error", err)
		}
		app.storage = repository.NewRedisStorage(rdb,
			repository.WithRedisPrefix(scfg.RedisPrefix),
			repository.WithRedisTTL(scfg.GetTTL()),
		)
		app.closers = append(app.closers, rdb.Close)
	default:
		app.storage = authclient.NewMemoryStorage()
	}

	logger.Info("token storage ready", "driver", scfg.GetDriver())
	return nil
}

func WithMetrics(_ context.Context, app *App) error {
	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	collector, err := telemetry.NewCollector(app.registry)
	if err != nil {
		return err
	}
	app.collector = collector
	return nil
}

func WithHTTPServer(_ context.Context, app *App) error {
	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			EnablePrintRoutes: app.Config().Debug,
			StrictRouting:     false,
			PassLocalsToViews: true,
			Views:             widget.NewViewEngine(),
		}))
	})

	mcfg := app.Config().GetMetrics()
	if mcfg.Enabled {
		handler := promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{})
		srv.WrappedRouter().Get(mcfg.GetPath(), adaptor.HTTPHandler(handler))
	}

	app.srv = srv
	return nil
}

func WithWidgets(ctx context.Context, app *App) error {
	cfg := app.Config()
	icfg := cfg.GetIdentity()

	scfg := cfg.GetServer()
	pageOpts := []widget.PageOption{
		widget.WithSessionConfig(widget.SessionConfig{
			Path:   widget.DefaultPathPrefix,
			Secure: scfg.SecureCookies(),
		}),
	}
	if scfg.CSRFKey != "" {
		pageOpts = append(pageOpts, widget.WithCSRFConfig(csrf.Config{SecureKey: []byte(scfg.CSRFKey)}))
	} else {
		app.GetLogger("widget").Warn("server.csrf_key not set, widget forms will not survive a restart")
	}

	app.page = widget.NewPage(pageOpts...)
	app.page.Register(app.srv.Router().Group(widget.DefaultPathPrefix))

	for _, w := range cfg.GetWidgets() {
		app.page.CreateElement(w.GetContainerID())

		logger := app.GetLogger("widget." + w.GetContainerID())
		opts := []widget.Option{
			widget.WithLogger(logger),
			widget.WithStorage(app.storage),
			widget.WithActivitySink(app.collector.Sink(w.GetContainerID(), activityLogger(logger, w.GetContainerID()))),
			widget.WithSessionListener(sessionMetrics(app.collector, w.GetContainerID())),
		}
		if icfg.VerifyWithServer {
			opts = append(opts, widget.WithServerVerification())
		}
		if icfg.VerifySignatures {
			opts = append(opts, widget.WithSignatureVerification())
		}

		host, err := widget.Init(ctx, widget.Config{
			ContainerID:  w.GetContainerID(),
			APIURL:       icfg.GetAPIURL(),
			ClientID:     icfg.ClientID,
			ClientSecret: icfg.ClientSecret,
			RedirectURI:  cfg.RedirectURI(widget.DefaultPathPrefix, w),
			Theme:        w.Theme,
			OnError:      reportError(w.GetContainerID()),
		}, app.page, opts...)
		if err != nil {
			return err
		}
		app.hosts = append(app.hosts, host)
	}

	first := widget.DefaultPathPrefix + "/" + cfg.GetWidgets()[0].GetContainerID()
	app.srv.Router().Get("/", func(ctx router.Context) error {
		return ctx.Redirect(first)
	})
	return nil
}

func activityLogger(logger glog.Logger, instance string) authclient.ActivitySink {
	return authclient.ActivitySinkFunc(func(_ context.Context, event authclient.ActivityEvent) error {
		record := activitymap.Normalize(event, activitymap.WithInstance(instance))
		logger.Info("session activity",
			"verb", record.Verb,
			"actor", record.ActorID,
			"object", record.ObjectID,
			"metadata", record.Metadata,
		)
		return nil
	})
}

func sessionMetrics(collector *telemetry.Collector, instance string) func() (authclient.Listener, func()) {
	return func() (authclient.Listener, func()) {
		return collector.Listener(instance)
	}
}

func reportError(instance string) func(string) {
	return func(message string) {
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("widget", instance)
			sentry.CaptureMessage(message)
		})
	}
}

func Shutdown(app *App) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, host := range app.hosts {
		host.Destroy()
		app.collector.Forget(host.ContainerID())
	}

	if err := app.srv.Shutdown(ctx); err != nil {
		app.GetLogger("http").Error("shutdown failed", "error", err)
	}

	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.GetLogger("app").Warn("close failed", "error", err)
		}
	}
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
