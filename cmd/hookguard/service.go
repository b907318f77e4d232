package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/mattjoyce/hookguard/internal/auth"
	"github.com/mattjoyce/hookguard/internal/config"
	"github.com/mattjoyce/hookguard/internal/dedup"
	"github.com/mattjoyce/hookguard/internal/dispatch"
	"github.com/mattjoyce/hookguard/internal/lock"
	"github.com/mattjoyce/hookguard/internal/log"
	"github.com/mattjoyce/hookguard/internal/metrics"
	"github.com/mattjoyce/hookguard/internal/pipeline"
	"github.com/mattjoyce/hookguard/internal/webhook"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricsNamespace = "hookguard"

// service is the wired process: one dedup store shared by both guards, the
// verification pipeline, the dispatch pool and the HTTP server.
type service struct {
	cfg        *config.Config
	store      dedup.Store
	pipeline   *pipeline.Orchestrator
	dispatcher *dispatch.Dispatcher
	server     *webhook.Server
	sweeper    *dedup.Sweeper
	logger     *slog.Logger
}

func newService(ctx context.Context, cfg *config.Config, gatherer *prometheus.Registry) (*service, error) {
	logger := log.WithComponent("main")

	policy, err := pipeline.ParseFailurePolicy(cfg.Dedup.FailurePolicy)
	if err != nil {
		return nil, err
	}

	store, err := dedup.Open(ctx, dedup.Options{
		Backend:    cfg.Dedup.Backend,
		MaxEntries: cfg.Dedup.MaxEntries,
		Redis: dedup.RedisOptions{
			Addr:         cfg.Dedup.Redis.Addr,
			Username:     cfg.Dedup.Redis.Username,
			Password:     cfg.Dedup.Redis.Password,
			DB:           cfg.Dedup.Redis.DB,
			DialTimeout:  cfg.Dedup.Redis.DialTimeout,
			ReadTimeout:  cfg.Dedup.Redis.ReadTimeout,
			WriteTimeout: cfg.Dedup.Redis.WriteTimeout,
		},
		SQLitePath:  cfg.Dedup.SQLite.Path,
		PostgresURL: cfg.Dedup.Postgres.URL,
	})
	if err != nil {
		return nil, fmt.Errorf("open dedup store: %w", err)
	}
	logger.Info("dedup store opened", "backend", cfg.Dedup.Backend, "failure_policy", policy)

	svc, err := assemble(cfg, store, policy, gatherer)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return svc, nil
}

func assemble(cfg *config.Config, store dedup.Store, policy pipeline.FailurePolicy, gatherer *prometheus.Registry) (*service, error) {
	ks := dedup.Keyspace{
		Prefix:      cfg.Dedup.KeyPrefix,
		EventPrefix: cfg.Dedup.EventPrefix,
		NoncePrefix: cfg.Dedup.NoncePrefix,
	}
	nonces := dedup.NewNonceGuard(store, ks, cfg.Verification.NonceTTL, cfg.Dedup.OpTimeout)
	events := dedup.NewEventDeduplicator(store, ks, cfg.Verification.EventTTL, cfg.Dedup.OpTimeout)

	sink := metrics.NewSink(metricsNamespace)
	var g prometheus.Gatherer
	if gatherer != nil {
		if err := gatherer.Register(sink); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		g = gatherer
	}

	orch, err := pipeline.New(pipeline.Config{
		VerificationToken: cfg.Verification.VerificationToken,
		EncryptKey:        cfg.Verification.EncryptKey,
		Tolerance:         cfg.Verification.TimestampTolerance,
		FailurePolicy:     policy,
	}, pipeline.Deps{
		Nonces:  nonces,
		Events:  events,
		Metrics: sink,
		Logger:  log.WithComponent("pipeline"),
	})
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	handlers := map[string]dispatch.Handler{
		dispatch.HandlerLog: dispatch.LogHandler{Logger: log.WithComponent("handler")},
	}
	if cfg.Dispatch.ForwardURL != "" {
		handlers[dispatch.HandlerForward] = dispatch.NewForwardHandler(cfg.Dispatch.ForwardURL, cfg.Dispatch.HandlerTimeout)
	}
	registry, err := dispatch.NewRegistryFromRoutes(cfg.Dispatch.Routes, handlers)
	if err != nil {
		return nil, fmt.Errorf("build dispatch routes: %w", err)
	}
	disp := dispatch.New(registry, dispatch.Options{
		Workers:        cfg.Dispatch.Workers,
		QueueSize:      cfg.Dispatch.QueueSize,
		HandlerTimeout: cfg.Dispatch.HandlerTimeout,
	})

	whCfg, err := webhook.FromGlobalConfig(cfg)
	if err != nil {
		return nil, err
	}
	tokens := make([]auth.TokenConfig, 0, len(cfg.Admin.Tokens))
	for _, t := range cfg.Admin.Tokens {
		tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	server := webhook.New(whCfg, webhook.Deps{
		Pipeline:   orch,
		Dispatcher: disp,
		Metrics:    sink,
		Gatherer:   g,
		Sweeper:    events,
		Admin:      auth.Guard{AdminToken: cfg.Admin.Token, Tokens: tokens},
	}, log.WithComponent("webhook"))

	var sweeper *dedup.Sweeper
	if cfg.Dedup.Backend != dedup.BackendRedis {
		sweeper = dedup.NewSweeper(store, cfg.Dedup.SweepInterval, log.WithComponent("sweeper"))
	}

	return &service{
		cfg:        cfg,
		store:      store,
		pipeline:   orch,
		dispatcher: disp,
		server:     server,
		sweeper:    sweeper,
		logger:     log.WithComponent("main"),
	}, nil
}

// run blocks until ctx is cancelled or a component fails. Components are
// stopped and waited for before it returns.
func (s *service) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := s.dispatcher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("dispatcher: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := s.server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("webhook: %w", err)
		}
	}()

	var sweepDone <-chan struct{}
	if s.sweeper != nil {
		sweepDone = s.sweeper.Start(ctx)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		s.logger.Error("component failed", "error", runErr)
	}

	cancel()
	wg.Wait()
	if sweepDone != nil {
		<-sweepDone
	}
	return runErr
}

// applyConfig takes the parts of a reloaded config that can change at
// runtime. Everything else needs a restart.
func (s *service) applyConfig(next *config.Config) {
	cur := s.cfg.Verification
	nv := next.Verification
	if cur.VerificationToken == nv.VerificationToken && cur.EncryptKey == nv.EncryptKey {
		s.logger.Info("config reloaded; verification secrets unchanged")
		return
	}
	if err := s.pipeline.Rotate(nv.VerificationToken, nv.EncryptKey); err != nil {
		s.logger.Error("secret rotation failed, keeping previous secrets", "error", err)
		return
	}
	s.cfg.Verification.VerificationToken = nv.VerificationToken
	s.cfg.Verification.EncryptKey = nv.EncryptKey
}

func (s *service) close() error {
	return s.store.Close()
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	path, cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.SetupWithFormat(cfg.Service.LogLevel, cfg.Service.LogFormat, os.Stdout)
	logger := log.WithComponent("main")
	logger.Info("hookguard starting", "version", version, "config", path)
	for _, w := range cfg.Warnings {
		logger.Warn("config adjusted", "detail", w)
	}

	if cfg.Service.PIDFile != "" {
		pidLock, err := lock.Acquire(cfg.Service.PIDFile)
		if err != nil {
			logger.Error("failed to acquire PID lock (another instance may be running)", "path", cfg.Service.PIDFile, "error", err)
			return 1
		}
		defer pidLock.Release()
		logger.Info("acquired PID lock", "path", cfg.Service.PIDFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc, err := newService(ctx, cfg, reg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer func() {
		if err := svc.close(); err != nil {
			logger.Error("closing dedup store", "error", err)
		}
	}()

	watcher := config.NewWatcher(path, cfg, log.WithComponent("config"))
	watcher.OnChange(svc.applyConfig)
	go func() {
		if err := watcher.Run(ctx); err != nil {
			logger.Warn("config watch disabled", "error", err)
		}
	}()

	logger.Info("hookguard running (press Ctrl+C to stop)", "listen", cfg.Webhook.Listen, "path", cfg.Webhook.Path)
	if err := svc.run(ctx); err != nil {
		return 1
	}
	logger.Info("hookguard stopped")
	return 0
}
