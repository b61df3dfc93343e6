package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"uptime-incident-engine/internal/config"
	"uptime-incident-engine/internal/handlers"
	"uptime-incident-engine/internal/monitor"
	"uptime-incident-engine/internal/notify"
	"uptime-incident-engine/internal/probe"
	"uptime-incident-engine/internal/snapshot"
	"uptime-incident-engine/internal/store/memstore"
	"uptime-incident-engine/internal/store/postgres"
	"uptime-incident-engine/internal/ticket"
)

const CONFIGS_PATH = "./configs/config.yaml"

func main() {
	_ = godotenv.Load(".env")

	path := CONFIGS_PATH
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal(err)
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}

	// Root context for the whole app, cancelled on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
	logger.Info("server stopped")
}

func newLogger(cfg config.LogConfig) (*log.Entry, error) {
	l := log.New()
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, errors.Annotate(err, "log level")
	}
	l.SetLevel(level)
	if cfg.Format == "json" {
		l.SetFormatter(&log.JSONFormatter{})
	} else {
		l.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return log.NewEntry(l), nil
}

func run(ctx context.Context, cfg *config.Config, logger *log.Entry) error {
	store, closeStore, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return errors.Trace(err)
	}
	defer closeStore()

	clk := clock.WallClock
	metrics := monitor.NewMetrics()
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		metrics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	board := snapshot.NewBoard()
	existing, err := store.ListMonitors(ctx, "")
	if err != nil {
		return errors.Annotate(err, "loading monitors")
	}
	board.Load(existing)

	client := probe.NewHTTPClient(probe.HTTPClientConfig{
		Timeout:         2 * time.Minute,
		UserAgent:       cfg.Monitoring.UserAgent,
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	})

	notifier, err := newNotifier(cfg.Notifications, client, logger)
	if err != nil {
		return errors.Trace(err)
	}
	incidents := monitor.NewIncidentManager(monitor.IncidentManagerConfig{
		Store:    store,
		Tickets:  newTicketer(cfg.Tickets, client, logger),
		Notifier: notifier,
		Clock:    clk,
		Logger:   logger,
		Metrics:  metrics,
	})
	service := monitor.NewService(monitor.ServiceConfig{
		Store:   store,
		Board:   board,
		Clock:   clk,
		Logger:  logger,
		Metrics: metrics,
	})
	recorder := monitor.NewRecorder(monitor.RecorderConfig{
		Store:     store,
		Incidents: incidents,
		Board:     board,
		Clock:     clk,
		Logger:    logger,
		Metrics:   metrics,
	})
	scheduler := monitor.NewScheduler(monitor.SchedulerConfig{
		Store: store,
		Prober: probe.New(probe.Config{
			HTTPClient:   client,
			Clock:        clk,
			MaxBodyBytes: cfg.Monitoring.MaxBodyBytes,
		}),
		Recorder:     recorder,
		Clock:        clk,
		Logger:       logger,
		Metrics:      metrics,
		Workers:      cfg.Monitoring.Workers,
		JobsBuffer:   cfg.Monitoring.JobsBuffer,
		BatchSize:    cfg.Monitoring.BatchSize,
		PollInterval: cfg.Monitoring.PollIntervalDur,
		ClaimGrace:   cfg.Monitoring.ClaimGraceDur,
	})

	for _, spec := range cfg.Targets {
		m, created, err := service.EnsureMonitor(ctx, cfg.Workspace, spec)
		if err != nil {
			return errors.Annotatef(err, "seeding target %q", spec.Name)
		}
		if created {
			logger.WithFields(log.Fields{"monitor_id": m.ID, "name": m.Name}).Info("seeded monitor from config")
		}
	}

	h := handlers.New(handlers.Config{
		Monitors:      service,
		Incidents:     incidents,
		Stats:         monitor.NewStatistics(store),
		Board:         board,
		Metrics:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		RetentionDays: cfg.Retention.Days,
		Clock:         clk,
		Logger:        logger,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		return service.RunJanitor(gctx, cfg.Retention.CleanupIntervalDur, cfg.Retention.Days)
	})
	g.Go(func() error {
		logger.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Annotate(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeoutDur)
		defer cancel()
		return errors.Annotate(srv.Shutdown(shutdownCtx), "http shutdown")
	})
	return g.Wait()
}

// openStore returns the Postgres store when a database URL is configured
// and the in-memory store otherwise.
func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *log.Entry) (monitor.Store, func(), error) {
	if cfg.URL == "" {
		logger.Warn("no database configured; using in-memory store")
		return memstore.New(), func() {}, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, nil, errors.Annotate(err, "parse db config")
	}
	if cfg.SimpleProtocol {
		// Supabase/PgBouncer (transaction pooling) rejects prepared statements.
		poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	dbpool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, errors.Annotate(err, "create db pool")
	}
	if err := dbpool.Ping(ctx); err != nil {
		dbpool.Close()
		return nil, nil, errors.Annotate(err, "database ping")
	}

	store := postgres.New(dbpool)
	if err := store.Migrate(ctx); err != nil {
		dbpool.Close()
		return nil, nil, errors.Trace(err)
	}
	return store, dbpool.Close, nil
}

func newNotifier(cfg config.NotificationsConfig, client *http.Client, logger *log.Entry) (*notify.Dispatcher, error) {
	sinks := make(map[monitor.Channel]notify.Sink)
	if cfg.SlackWebhookURL != "" {
		sinks[monitor.ChannelSlack] = notify.NewSlack(client, cfg.SlackWebhookURL)
	}
	if cfg.WebhookURL != "" {
		sinks[monitor.ChannelWebhook] = notify.NewWebhook(client, cfg.WebhookURL)
	}
	if cfg.Telegram.Enabled() {
		tbot, err := bot.New(cfg.Telegram.Token, bot.WithSkipGetMe())
		if err != nil {
			return nil, errors.Annotate(err, "telegram bot")
		}
		sinks[monitor.ChannelTelegram] = notify.NewTelegram(tbot, cfg.Telegram.ChatID)
	}
	return notify.NewDispatcher(notify.DispatcherConfig{
		Sinks:  sinks,
		Rate:   cfg.Rate,
		Burst:  cfg.Burst,
		Logger: logger,
	}), nil
}

// newTicketer returns nil when no helpdesk is configured; the incident
// manager then files no tickets.
func newTicketer(cfg config.TicketsConfig, client *http.Client, logger *log.Entry) monitor.Ticketer {
	if cfg.BaseURL == "" {
		return nil
	}
	return ticket.NewClient(ticket.Config{
		BaseURL:    cfg.BaseURL,
		Token:      cfg.Token,
		HTTPClient: client,
		Logger:     logger,
	})
}
