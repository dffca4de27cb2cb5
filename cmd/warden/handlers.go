package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/credits"
	"github.com/wardenhq/warden/internal/dupguard"
	"github.com/wardenhq/warden/internal/engine"
	"github.com/wardenhq/warden/internal/evals"
	"github.com/wardenhq/warden/internal/lifecycle"
	"github.com/wardenhq/warden/internal/locks"
	"github.com/wardenhq/warden/internal/observability"
	"github.com/wardenhq/warden/internal/proactive"
	"github.com/wardenhq/warden/internal/prompt"
	"github.com/wardenhq/warden/internal/queue"
	"github.com/wardenhq/warden/internal/ratelimit"
	"github.com/wardenhq/warden/internal/router"
	"github.com/wardenhq/warden/internal/storage"
	"github.com/wardenhq/warden/internal/sweep"
	"github.com/wardenhq/warden/internal/tools"
	"github.com/wardenhq/warden/pkg/models"
)

// exitError carries a CLI exit code through cobra's error path.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit code %d", e.code)
}

func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

// app holds the process-wide dependencies every command starts from.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	stores *storage.StoreSet
	redis  *redis.Client
}

func openApp(path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	stores, err := storage.NewSQLStores(cfg.Database.Driver, cfg.Database.URL, &storage.SQLConfig{
		MaxOpenConns:    cfg.Database.MaxConnections,
		MaxIdleConns:    cfg.Database.MaxConnections / 2,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectTimeout:  10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, stores: stores}
	if cfg.Redis.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", "error", err)
		}
	}
	if err := a.stores.Close(); err != nil {
		a.logger.Warn("close storage", "error", err)
	}
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// logTransport stands in for channel delivery in deployments that have not
// configured a real transport. The message is persisted either way.
type logTransport struct {
	logger *slog.Logger
}

func (t *logTransport) Send(_ context.Context, msg *models.Message) error {
	t.logger.Info("outbound message",
		"channel", msg.Channel, "to", msg.ToAddress, "subject", msg.Subject, "agent", msg.AgentID)
	return nil
}

// platform is the assembled processing stack shared by serve and the
// one-shot commands.
type platform struct {
	engine    *engine.Engine
	queue     *queue.Queue
	scanner   *proactive.Scanner
	sweeper   *sweep.Sweeper
	scheduler *sweep.Scheduler
	refresher *credits.Refresher
	metrics   *observability.Metrics
}

func buildPlatform(a *app, reg prometheus.Registerer) *platform {
	cfg, stores, logger := a.cfg, a.stores, a.logger
	metrics := observability.NewMetrics(reg)

	var locker locks.AgentLocker
	var gate proactive.UserGate
	if a.redis != nil {
		locker = locks.NewRedisLocker(a.redis)
		gate = proactive.NewRedisGate(a.redis)
	} else {
		locker = locks.NewLocalLocker()
		gate = proactive.NewLocalGate()
	}

	rt := router.New(stores.LLMConfig,
		router.WithLogger(logger),
		router.WithVertexDefaults(cfg.Vertex.Project, cfg.Vertex.Location),
	)
	invoker := router.NewInvoker(rt, stores.Completions, logger)

	planCredits := func(planKey string) models.DailyCreditConfig {
		dcc := cfg.DailyCreditConfig()
		dcc.PlanKey = planKey
		return dcc
	}
	embed := func(ctx context.Context, input []string) ([][]float32, int64, error) {
		return invoker.Embed(ctx, "", "", models.CreditUnit, input)
	}
	guard := dupguard.New(stores.Messages, embed, logger)
	transport := &logTransport{logger: logger}
	transports := map[models.Channel]tools.Transport{
		models.ChannelEmail: transport,
		models.ChannelSMS:   transport,
		models.ChannelWeb:   transport,
	}
	outbox := tools.NewOutbox(stores.Messages, stores.Conversations, stores.Allowlists, guard, transports,
		func(planKey string) float64 { return planCredits(planKey).DuplicateThreshold }, logger)

	registry := tools.NewRegistry()
	for _, t := range []*tools.Tool{
		tools.NewSleepTool(),
		tools.NewSendEmailTool(outbox),
		tools.NewSendSMSTool(outbox),
		tools.NewRememberTool(stores.Variables),
	} {
		if err := registry.Register(t); err != nil {
			logger.Error("register tool", "tool", t.Name, "error", err)
		}
	}

	limiter := ratelimit.New(stores.ToolCalls, func(planKey string) models.ToolConfig {
		return models.ToolConfig{PlanKey: planKey, HourlyLimits: cfg.Tools.HourlyLimits}
	})
	dispatcher := tools.NewDispatcher(registry, stores.Variables, stores.ToolCalls, limiter, logger)

	meter := credits.NewMeter(stores.Steps, planCredits)
	archiver := prompt.NewArchiver(stores.Archives, logger)

	var q *queue.Queue
	eng := engine.New(cfg.Engine, stores, locker, meter, invoker, registry, dispatcher, archiver, logger,
		engine.WithEnqueue(func(agentID string) { q.Enqueue(agentID) }),
		engine.WithMetrics(metrics),
	)
	q = queue.New(cfg.Engine.Workers, eng.ProcessAgentEvents, logger)
	observability.RegisterQueueDepth(reg, q.Depth)

	scanner := proactive.NewScanner(stores.Agents, stores.SystemSteps, stores.Messages, gate, cfg.Proactive, logger)

	shutdown := lifecycle.NewRegistry(logger)
	lifecycle.RegisterBuiltins(shutdown, nil, stores.Compute, nil)
	notify := func(ctx context.Context, agent *models.Agent, channel models.Channel, address, subject, body string) error {
		t, ok := transports[channel]
		if !ok {
			return fmt.Errorf("no transport for channel %s", channel)
		}
		return t.Send(ctx, &models.Message{
			AgentID:    agent.ID,
			Channel:    channel,
			ToAddress:  address,
			Subject:    subject,
			Body:       body,
			IsOutbound: true,
		})
	}
	sweeper := sweep.NewSweeper(stores.Agents, stores.Endpoints, stores.Compute, shutdown, nil, notify, cfg.Sweep, logger)
	scheduler := sweep.NewScheduler(stores.Agents, sweep.NewThrottle(cfg.Sweep), q.Enqueue, logger)
	refresher := credits.NewRefresher(stores.Agents, stores.Steps, stores.BurnRates, logger)

	return &platform{
		engine:    eng,
		queue:     q,
		scanner:   scanner,
		sweeper:   sweeper,
		scheduler: scheduler,
		refresher: refresher,
		metrics:   metrics,
	}
}

// burnRateScopes lists the scopes the refresher recomputes: every agent
// active in the last day, plus its owner.
func (a *app) burnRateScopes(ctx context.Context) ([]models.BurnRateSnapshot, error) {
	agents, err := a.stores.Agents.ListRecentlyActive(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	var scopes []models.BurnRateSnapshot
	seenOwner := make(map[string]bool)
	for _, ag := range agents {
		scopes = append(scopes, models.BurnRateSnapshot{ScopeType: models.ScopeAgent, ScopeID: ag.ID})
		key := string(ag.OwnerType) + "/" + ag.OwnerID
		if seenOwner[key] {
			continue
		}
		seenOwner[key] = true
		scope := models.ScopeUser
		if ag.OwnerType == models.OwnerOrg {
			scope = models.ScopeOrg
		}
		scopes = append(scopes, models.BurnRateSnapshot{ScopeType: scope, ScopeID: ag.OwnerID})
	}
	return scopes, nil
}

const sweepInterval = time.Hour

func runServe(ctx context.Context, path string) error {
	a, err := openApp(path)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := buildPlatform(a, prometheus.DefaultRegisterer)
	if _, _, err := p.scheduler.Sync(ctx); err != nil {
		return fmt.Errorf("initial schedule sync: %w", err)
	}
	p.scheduler.Start()
	defer p.scheduler.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.MetricsPort),
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsSrv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server", "error", err)
		}
	}()

	go func() {
		p.refresher.Run(ctx, a.cfg.Credits.BurnRateRefresh, a.cfg.Credits.BurnRateWindowMins, a.burnRateScopes)
	}()
	go func() {
		if err := p.sweeper.Run(ctx, sweepInterval, a.cfg.Tools.Sandbox.IdleTTL); err != nil {
			a.logger.Error("sweeper", "error", err)
		}
	}()
	if a.cfg.Proactive.Enabled {
		go func() {
			if err := p.scanner.Run(ctx, p.queue.Enqueue); err != nil {
				a.logger.Error("proactive scanner", "error", err)
			}
		}()
	}
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if added, removed, err := p.scheduler.Sync(ctx); err != nil {
					a.logger.Error("schedule sync", "error", err)
				} else if added+removed > 0 {
					a.logger.Info("schedules reconciled", "added", added, "removed", removed)
				}
			}
		}
	}()

	a.logger.Info("warden serving",
		"workers", a.cfg.Engine.Workers,
		"metrics_addr", metricsSrv.Addr,
		"driver", a.cfg.Database.Driver,
	)
	return p.queue.Run(ctx)
}

func runPruneArchives(ctx context.Context, path string, days, chunkSize int, dryRun bool) error {
	a, err := openApp(path)
	if err != nil {
		return err
	}
	defer a.Close()

	if days <= 0 {
		days = a.cfg.Archive.RetentionDays
	}
	if chunkSize <= 0 {
		chunkSize = a.cfg.Archive.ChunkSize
	}
	archiver := prompt.NewArchiver(a.stores.Archives, a.logger)
	deleted, err := archiver.Prune(ctx, days, chunkSize, dryRun)
	if err != nil {
		return err
	}
	verb := "deleted"
	if dryRun {
		verb = "would delete"
	}
	fmt.Printf("%s %d prompt archives older than %d days\n", verb, deleted, days)
	return nil
}

type evalFlags struct {
	suites   []string
	scenario string
	agentID  string
	strategy string
	runType  string
	sync     bool
	official bool
}

func runEvals(ctx context.Context, path string, flags evalFlags) error {
	a, err := openApp(path)
	if err != nil {
		return err
	}
	defer a.Close()

	p := buildPlatform(a, prometheus.NewRegistry())
	runner := evals.NewRunner(a.stores, p.engine.ProcessAgentEvents, a.logger)

	runType := models.EvalRunType(flags.runType)
	if flags.official {
		runType = models.EvalRunOfficial
	}
	code, err := runner.Run(ctx, evals.Options{
		Suites:   flags.suites,
		Scenario: flags.scenario,
		AgentID:  flags.agentID,
		Strategy: models.AgentStrategy(flags.strategy),
		RunType:  runType,
		Sync:     flags.sync,
	})
	if code != evals.ExitOK {
		return &exitError{code: code, err: err}
	}
	fmt.Println("all scenarios passed")
	return nil
}

func runSoftExpire(ctx context.Context, path string, async bool) error {
	a, err := openApp(path)
	if err != nil {
		return err
	}

	p := buildPlatform(a, prometheus.NewRegistry())
	pass := func(ctx context.Context) {
		expired, err := p.sweeper.ExpireOnce(ctx)
		if err != nil {
			a.logger.Error("soft-expire pass", "error", err)
			return
		}
		p.metrics.RecordExpirations(len(expired))
		a.logger.Info("soft-expire pass complete", "expired", len(expired))
	}

	if async {
		go func() {
			defer a.Close()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			pass(ctx)
		}()
		fmt.Println("soft-expire pass started")
		return nil
	}
	defer a.Close()
	pass(ctx)
	return nil
}

func runSyncSchedules(ctx context.Context, path string) error {
	a, err := openApp(path)
	if err != nil {
		return err
	}
	defer a.Close()

	p := buildPlatform(a, prometheus.NewRegistry())
	added, removed, err := p.scheduler.Sync(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("schedules reconciled: %d added, %d removed, %d total\n", added, removed, p.scheduler.Entries())
	return nil
}

// superuserAgentID is the fixed ID of the bootstrap admin agent, so the
// command can be re-run safely.
const superuserAgentID = "warden-superuser"

func runCreateSuperuser(ctx context.Context, path, email string) error {
	a, err := openApp(path)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.stores.Agents.Get(ctx, superuserAgentID); err == nil {
		fmt.Println("superuser agent already exists")
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("check superuser agent: %w", err)
	}

	agent := &models.Agent{
		ID:        superuserAgentID,
		OwnerType: models.OwnerUser,
		OwnerID:   "admin",
		Name:      "Warden Admin",
		Charter:   "Operate the platform on behalf of the administrators.",
		LifeState: models.LifeStateActive,
		IsActive:  true,
		PlanKey:   "internal",
		CreatedAt: time.Now().UTC(),
	}
	if email != "" {
		ep, err := a.stores.Endpoints.GetOrCreate(ctx, &models.CommsEndpoint{
			Channel: models.ChannelEmail,
			Address: email,
		})
		if err != nil {
			return fmt.Errorf("create admin endpoint: %w", err)
		}
		agent.PreferredEndpointID = ep.ID
	}
	if err := a.stores.Agents.Create(ctx, agent); err != nil {
		return fmt.Errorf("create superuser agent: %w", err)
	}
	fmt.Printf("created superuser agent %s\n", agent.ID)
	return nil
}
