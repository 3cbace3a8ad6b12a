package bootstrap

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	chclient "ideaflow/internal/adapters/clickhouse"
	"ideaflow/internal/adapters/config"
	"ideaflow/internal/adapters/errors/noop"
	"ideaflow/internal/adapters/errors/sentry"
	"ideaflow/internal/adapters/kafka"
	pgclient "ideaflow/internal/adapters/postgres"
	redisclient "ideaflow/internal/adapters/redis"
	"ideaflow/internal/api"
	"ideaflow/internal/api/health"
	"ideaflow/internal/consumers"
	"ideaflow/internal/events"
	"ideaflow/internal/metrics"
	chrepo "ideaflow/internal/repository/clickhouse"
	pgrepo "ideaflow/internal/repository/postgres"
	redisrepo "ideaflow/internal/repository/redis"
	"ideaflow/internal/services/decision"
	"ideaflow/internal/services/deferral"
	"ideaflow/internal/services/expression"
	ideasvc "ideaflow/internal/services/idea"
	"ideaflow/internal/services/pairtrade"
	"ideaflow/internal/services/proposal"
	"ideaflow/internal/workers"
	deferralworker "ideaflow/internal/workers/deferral"
	"ideaflow/migrations"
	"ideaflow/pkg/errors"
	"ideaflow/pkg/logger"
)

const connectTimeout = 15 * time.Second

// MustInitConfig loads configuration and initializes logger and error tracking
func (c *Container) MustInitConfig() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	c.Config = cfg

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	c.Log = logger.Get()
	c.Log.Infof("Starting %s %s in %s mode", cfg.App.Name, cfg.App.Version, cfg.App.Env)

	c.ErrorTracker = provideErrorTracker(cfg, c.Log)
	logger.SetErrorTracker(c.ErrorTracker)
}

// MustInitInfrastructure connects the data stores and applies migrations
func (c *Container) MustInitInfrastructure() {
	ctx, cancel := context.WithTimeout(c.Context, connectTimeout)
	defer cancel()

	var err error

	c.PG, err = pgclient.NewClient(ctx, c.Config.Postgres)
	if err != nil {
		c.Log.Fatalf("failed to connect postgres: %v", err)
	}
	if err := c.PG.Migrate(ctx, migrations.Postgres()); err != nil {
		c.Log.Fatalf("failed to migrate postgres: %v", err)
	}
	c.Log.Info("PostgreSQL connected")

	c.CH, err = chclient.NewClient(ctx, c.Config.ClickHouse)
	if err != nil {
		c.Log.Fatalf("failed to connect clickhouse: %v", err)
	}
	if err := c.CH.Migrate(ctx, migrations.ClickHouse()); err != nil {
		c.Log.Fatalf("failed to migrate clickhouse: %v", err)
	}
	c.Log.Info("ClickHouse connected")

	c.Redis, err = redisclient.NewClient(ctx, c.Config.Redis)
	if err != nil {
		c.Log.Fatalf("failed to connect redis: %v", err)
	}
	c.Log.Info("Redis connected")
}

// MustInitRepositories builds the gateway, the cached holdings and the audit archive
func (c *Container) MustInitRepositories() {
	db := c.PG.DB()
	c.Repos.Gateway = pgrepo.NewGateway(db)
	c.Repos.Holdings = redisrepo.NewCachedHoldings(pgrepo.NewHoldingsRepository(db), c.Redis, c.Config.Workflow.WeightCacheTTL)
	c.Repos.AuditArchive = chrepo.NewAuditRepository(c.CH.Conn())

	prometheus.MustRegister(metrics.NewPipelineCollector(db))
	c.Log.Info("Repositories initialized")
}

// MustInitAdapters sets up Kafka and the audit sink. Without the archive
// consumer, records are also written to ClickHouse directly.
func (c *Container) MustInitAdapters() {
	c.Adapters.KafkaProducer = kafka.NewProducer(kafka.ProducerConfig{Brokers: c.Config.Kafka.Brokers})

	sink := events.FanOut{events.NewAuditPublisher(c.Adapters.KafkaProducer, c.Config.Kafka.AuditTopic)}
	if !c.Config.Workers.AuditArchiveConsumer {
		sink = append(sink, c.Repos.AuditArchive)
	}
	c.Adapters.AuditSink = sink

	if c.Config.Workers.AuditArchiveConsumer {
		c.Adapters.AuditArchiveConsumer = provideKafkaConsumer(c.Config, kafka.GroupAuditArchive)
	}
	if c.Config.Workers.AggregateConsumer {
		c.Adapters.AggregateConsumer = provideKafkaConsumer(c.Config, kafka.GroupAggregate)
	}
	c.Log.Infow("Kafka adapters initialized", "audit_topic", c.Config.Kafka.AuditTopic)
}

// MustInitServices builds the workflow components
func (c *Container) MustInitServices() {
	loc, err := c.Config.Workflow.Location()
	if err != nil {
		c.Log.Fatalf("invalid workflow timezone: %v", err)
	}
	gw, sink := c.Repos.Gateway, c.Adapters.AuditSink

	c.Services.Ideas = ideasvc.NewService(gw, sink)
	c.Services.Proposals = proposal.NewService(gw, c.Repos.Holdings, sink,
		proposal.WithAdvanceOnProposal(c.Config.Workflow.AdvanceOnProposal))
	c.Services.Decisions = decision.NewService(gw, sink)
	c.Services.Deferrals = deferral.NewService(gw, sink, deferral.WithLocation(loc))
	c.Services.Pairs = pairtrade.NewService(gw, sink)
	c.Services.Expression = expression.NewService(gw)

	c.Log.Infow("Workflow services initialized",
		"timezone", loc.String(),
		"advance_on_proposal", c.Config.Workflow.AdvanceOnProposal,
	)
}

// MustInitBackground creates consumers and the worker scheduler
func (c *Container) MustInitBackground() {
	if c.Adapters.AuditArchiveConsumer != nil {
		c.Background.AuditArchiveSvc = consumers.NewAuditArchiveConsumer(c.Adapters.AuditArchiveConsumer, c.Repos.AuditArchive)
	}
	if c.Adapters.AggregateConsumer != nil {
		c.Background.AggregateSvc = consumers.NewAggregateConsumer(
			c.Adapters.AggregateConsumer, c.Services.Decisions, c.Services.Pairs,
			consumers.WithRecomputeLimit(c.Config.Workers.AggregateRateLimit, c.Config.Workers.AggregateRateBurst),
		)
	}

	c.Background.WorkerScheduler = workers.NewScheduler()
	c.Background.WorkerScheduler.RegisterWorker(deferralworker.NewSweepWorker(
		c.Services.Deferrals,
		c.Redis,
		c.Config.Workers.DeferralSweepInterval,
		c.Config.Workers.DeferralSweepEnabled,
	))
}

// MustInitApplication creates the HTTP server
func (c *Container) MustInitApplication() {
	checks := map[string]health.CheckFunc{
		"postgres":   c.PG.Health,
		"clickhouse": c.CH.Health,
		"redis":      c.Redis.Health,
	}
	c.HTTPServer = api.NewServer(api.ServerConfig{
		Addr:        c.Config.HTTP.Addr,
		ServiceName: c.Config.App.Name,
		Version:     c.Config.App.Version,
	}, health.New(c.Config.App.Name, c.Config.App.Version, checks, c.Background.WorkerScheduler))
}

func provideErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return noop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment, cfg.App.Version)
	if err != nil {
		log.Warnw("Failed to initialize Sentry", "error", err)
		return noop.New()
	}
	log.Info("Error tracking initialized (Sentry)")
	return tracker
}

func provideKafkaConsumer(cfg *config.Config, group string) *kafka.Consumer {
	return kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.GroupID + "-" + group,
		Topic:   cfg.Kafka.AuditTopic,
	})
}
