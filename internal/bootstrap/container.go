package bootstrap

import (
	"github.com/shopspring/decimal"

	"marketintel/internal/adapters/ai"
	chclient "marketintel/internal/adapters/clickhouse"
	"marketintel/internal/adapters/config"
	"marketintel/internal/adapters/kafka"
	pgclient "marketintel/internal/adapters/postgres"
	redisclient "marketintel/internal/adapters/redis"
	"marketintel/internal/adapters/search"
	"marketintel/internal/api"
	"marketintel/internal/cost"
	"marketintel/internal/domain/run"
	"marketintel/internal/domain/usage"
	"marketintel/internal/events"
	"marketintel/internal/metrics"
	chrepo "marketintel/internal/repository/clickhouse"
	"marketintel/internal/repository/memory"
	pgrepo "marketintel/internal/repository/postgres"
	"marketintel/internal/repository/sqlite"
	"marketintel/internal/service"
	"marketintel/internal/workers"
	"marketintel/internal/workflow"
	"marketintel/pkg/errors"
	"marketintel/pkg/logger"
	"marketintel/pkg/templates"
)

// Container holds all application dependencies. Components are organized in
// initialization order; Shutdown releases them in reverse.
type Container struct {
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	// Infrastructure layer. Redis, ClickHouse and Kafka are optional;
	// their fields stay nil when disabled.
	Redis      *redisclient.Client
	ClickHouse *chclient.Client
	Postgres   *pgclient.Client
	Kafka      *kafka.Producer

	// Pipeline collaborators
	Store  run.CheckpointStore
	Sink   usage.Sink
	Spend  cost.SpendCache
	Events *events.Publisher

	// Application layer
	Service   *service.Service
	Server    *api.Server
	Scheduler *workers.Scheduler
}

// Build wires the full dependency graph from configuration. Optional
// backends degrade to in-process fallbacks when disabled, so a bare
// deployment needs nothing but an API key.
func Build(cfg *config.Config, tracker errors.Tracker, version string) (*Container, error) {
	c := &Container{
		Config:       cfg,
		Log:          logger.Get().With("component", "bootstrap"),
		ErrorTracker: tracker,
	}

	if err := c.buildInfrastructure(); err != nil {
		return nil, err
	}
	if err := c.buildStore(); err != nil {
		return nil, err
	}
	if err := c.buildService(version); err != nil {
		return nil, err
	}
	c.buildWorkers()

	return c, nil
}

func (c *Container) buildInfrastructure() error {
	cfg := c.Config

	if cfg.Redis.Enabled {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		c.Redis = client
		c.Spend = cost.NewRedisSpendCache(client)
		c.Log.Info("Redis spend cache initialized")
	} else {
		c.Spend = cost.NewMemorySpendCache()
		c.Log.Info("Using in-process spend cache")
	}

	c.Sink = usage.NoopSink{}
	if cfg.ClickHouse.Enabled {
		client, err := chclient.NewClient(cfg.ClickHouse)
		if err != nil {
			return errors.Wrap(err, "connect clickhouse")
		}
		c.ClickHouse = client

		sink, err := chrepo.NewUsageRepository(client.Conn())
		if err != nil {
			return errors.Wrap(err, "init usage audit")
		}
		c.Sink = sink
		c.Log.Info("ClickHouse usage audit initialized")
	}

	if cfg.Kafka.Enabled {
		topic := cfg.Kafka.RunTopic
		if topic == "" {
			topic = kafka.TopicRuns
		}
		c.Kafka = kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers})
		c.Events = events.NewPublisher(c.Kafka, topic)
		c.Log.Infow("Kafka run events enabled", "topic", topic)
	}

	return nil
}

func (c *Container) buildStore() error {
	cfg := c.Config

	switch cfg.Storage.Driver {
	case "sqlite", "":
		store, err := sqlite.NewCheckpointStore(cfg.Storage.SQLitePath)
		if err != nil {
			return errors.Wrap(err, "open sqlite checkpoint store")
		}
		c.Store = store

	case "postgres":
		client, err := pgclient.NewClient(cfg.Storage.Postgres)
		if err != nil {
			return errors.Wrap(err, "connect postgres")
		}
		c.Postgres = client

		store, err := pgrepo.NewCheckpointStore(client.DB())
		if err != nil {
			return errors.Wrap(err, "init postgres checkpoint store")
		}
		c.Store = store

	case "memory":
		c.Store = memory.NewCheckpointStore()

	default:
		return errors.Wrapf(errors.ErrInvalidInput, "unknown storage driver %q", cfg.Storage.Driver)
	}

	metrics.RegisterRunStatsCollector(metrics.NewRunStatsCollector(c.Store))

	c.Log.Infow("Checkpoint store initialized", "driver", cfg.Storage.Driver)
	return nil
}

func (c *Container) buildService(version string) error {
	cfg := c.Config

	chat, err := ai.NewOpenRouterProvider(cfg.AI)
	if err != nil {
		return errors.Wrap(err, "init chat provider")
	}

	searcher, err := search.NewTavilyClient(cfg.Search)
	if err != nil {
		return errors.Wrap(err, "init search provider")
	}

	prompts := templates.Get()
	if dir := cfg.App.PromptsDir; dir != "" {
		prompts, err = templates.NewRegistry(dir)
		if err != nil {
			return errors.Wrap(err, "load prompt templates")
		}
		c.Log.Infow("Prompt templates loaded from disk", "dir", dir, "count", len(prompts.List()))
	}

	c.Service = service.New(service.Config{
		Pipeline: workflow.Config{
			Model:          cfg.AI.DefaultModel,
			MaxRevisions:   cfg.Pipeline.MaxRevisions,
			AutoApprove:    cfg.Pipeline.AutoApprove,
			ReviewTimeout:  cfg.Pipeline.ReviewTimeout,
			DailyCostLimit: decimal.NewFromFloat(cfg.Pipeline.DailyCostLimit),
			ResearchDepth:  cfg.Pipeline.ResearchDepth,
			TrendYear:      cfg.Pipeline.TrendYear,
		},
		DefaultBudget:     decimal.NewFromFloat(cfg.Pipeline.MaxBudget),
		MaxConcurrentRuns: cfg.Pipeline.MaxConcurrentRuns,
	}, workflow.Deps{
		Chat:      chat,
		Search:    searcher,
		Templates: prompts,
		Sink:      c.Sink,
		Store:     c.Store,
		Spend:     c.Spend,
		Events:    c.Events,
		Tracker:   c.ErrorTracker,
	})

	handler := api.NewHandler(c.Service, c.Store, cfg.App.Name, version, c.healthProbes()...)
	c.Server = api.NewServer(api.ServerConfig{Addr: cfg.App.HTTPAddr}, handler)

	return nil
}

// healthProbes exposes every optional backend that is actually connected.
func (c *Container) healthProbes() []api.Probe {
	var probes []api.Probe
	if c.Redis != nil {
		probes = append(probes, api.Probe{Name: "redis", Check: c.Redis.Health})
	}
	if c.ClickHouse != nil {
		probes = append(probes, api.Probe{Name: "clickhouse", Check: c.ClickHouse.Health})
	}
	if c.Postgres != nil {
		probes = append(probes, api.Probe{Name: "postgres", Check: c.Postgres.Health})
	}
	return probes
}

func (c *Container) buildWorkers() {
	cfg := c.Config

	sched := workers.NewScheduler()
	sched.RegisterWorker(workers.NewReviewTimeoutWorker(
		c.Store, c.Service, cfg.Pipeline.ReviewTimeout, cfg.Workers.ReviewSweepInterval))
	sched.RegisterWorker(workers.NewCheckpointPruneWorker(
		c.Store, cfg.Pipeline.CheckpointRetention, cfg.Workers.CheckpointPruneInterval))

	c.Scheduler = sched
	c.Log.Infow("Workers initialized", "registered", len(sched.GetWorkers()))
}
