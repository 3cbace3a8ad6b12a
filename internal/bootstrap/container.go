package bootstrap

import (
	"context"
	"sync"

	chclient "ideaflow/internal/adapters/clickhouse"
	"ideaflow/internal/adapters/config"
	"ideaflow/internal/adapters/kafka"
	pgclient "ideaflow/internal/adapters/postgres"
	redisclient "ideaflow/internal/adapters/redis"
	"ideaflow/internal/api"
	"ideaflow/internal/consumers"
	"ideaflow/internal/domain/audit"
	"ideaflow/internal/domain/portfolio"
	chrepo "ideaflow/internal/repository/clickhouse"
	pgrepo "ideaflow/internal/repository/postgres"
	"ideaflow/internal/services/decision"
	"ideaflow/internal/services/deferral"
	"ideaflow/internal/services/expression"
	ideasvc "ideaflow/internal/services/idea"
	"ideaflow/internal/services/pairtrade"
	"ideaflow/internal/services/proposal"
	"ideaflow/internal/workers"
	"ideaflow/pkg/errors"
	"ideaflow/pkg/logger"
)

// Container holds all application dependencies in initialization order
type Container struct {
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	// Data stores
	PG    *pgclient.Client
	CH    *chclient.Client
	Redis *redisclient.Client

	Repos    *Repositories
	Adapters *Adapters
	Services *Services

	Background *Background
	HTTPServer *api.Server

	Lifecycle *Lifecycle
	WG        *sync.WaitGroup
	Context   context.Context
	Cancel    context.CancelFunc
}

// Repositories groups the persistence gateway and the read-side stores
type Repositories struct {
	Gateway      *pgrepo.Gateway
	Holdings     portfolio.HoldingsProvider
	AuditArchive *chrepo.AuditRepository
}

// Adapters groups messaging
type Adapters struct {
	KafkaProducer *kafka.Producer
	AuditSink     audit.Sink

	AuditArchiveConsumer *kafka.Consumer
	AggregateConsumer    *kafka.Consumer
}

// Services groups the workflow components
type Services struct {
	Ideas      *ideasvc.Service
	Proposals  *proposal.Service
	Decisions  *decision.Service
	Deferrals  *deferral.Service
	Pairs      *pairtrade.Service
	Expression *expression.Service
}

// Background groups long-running processors
type Background struct {
	WorkerScheduler *workers.Scheduler
	AuditArchiveSvc *consumers.AuditArchiveConsumer
	AggregateSvc    *consumers.AggregateConsumer
}

// NewContainer creates an empty dependency container
func NewContainer() *Container {
	ctx, cancel := context.WithCancel(context.Background())

	return &Container{
		Repos:      &Repositories{},
		Adapters:   &Adapters{},
		Services:   &Services{},
		Background: &Background{},
		Lifecycle:  NewLifecycle(),
		WG:         &sync.WaitGroup{},
		Context:    ctx,
		Cancel:     cancel,
	}
}

// MustInit initializes all components in order; any failure is fatal
func (c *Container) MustInit() {
	c.MustInitConfig()
	c.MustInitInfrastructure()
	c.MustInitRepositories()
	c.MustInitAdapters()
	c.MustInitServices()
	c.MustInitBackground()
	c.MustInitApplication()
}

// Start launches consumers, workers and the HTTP server
func (c *Container) Start() error {
	c.Log.Info("Starting all systems...")

	if c.Repos.AuditArchive != nil {
		c.Repos.AuditArchive.Start(c.Context)
	}

	c.startConsumers()

	if err := c.Background.WorkerScheduler.Start(c.Context); err != nil {
		return errors.Wrap(err, "failed to start workers")
	}

	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		if err := c.HTTPServer.Start(); err != nil {
			c.Log.Errorw("HTTP server failed", "error", err)
			c.Cancel()
		}
	}()

	c.Log.Info("All systems operational")
	return nil
}

func (c *Container) startConsumers() {
	type starter interface{ Start(context.Context) error }
	running := map[string]starter{}
	if c.Background.AuditArchiveSvc != nil {
		running[kafka.GroupAuditArchive] = c.Background.AuditArchiveSvc
	}
	if c.Background.AggregateSvc != nil {
		running[kafka.GroupAggregate] = c.Background.AggregateSvc
	}

	names := make([]string, 0, len(running))
	for name, svc := range running {
		names = append(names, name)
		c.WG.Add(1)
		go func() {
			defer c.WG.Done()
			if err := svc.Start(c.Context); err != nil && c.Context.Err() == nil {
				c.Log.Errorw("Consumer failed", "consumer", name, "error", err)
			}
		}()
	}
	c.Log.Infow("Event consumers started", "consumers", names)
}

// Shutdown cancels the application context and cleans up in order
func (c *Container) Shutdown() {
	c.Log.Info("Initiating graceful shutdown...")
	c.Cancel()
	c.Lifecycle.Shutdown(c)
}
