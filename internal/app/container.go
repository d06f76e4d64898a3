package app

import (
	"context"
	"errors"
	"time"

	"match-service/internal/config"
	"match-service/internal/database"
	"match-service/internal/database/migration"
	dbpostgres "match-service/internal/database/postgres"
	"match-service/internal/infrastructure/cache"
	"match-service/internal/infrastructure/events"
	"match-service/internal/infrastructure/scorer"
	"match-service/internal/logger"
	"match-service/internal/repository"
	"match-service/internal/usecase"

	"go.uber.org/zap"
)

// Container owns every long-lived resource of the process. Fields that the
// configured drivers do not need stay nil.
type Container struct {
	Config config.Config
	Logger *zap.Logger

	DB    database.DB
	Redis *cache.Redis

	Store    repository.MatchRepository
	Rankings cache.RankingCache
	Scorer   scorer.Scorer
	Events   events.Publisher

	Match *usecase.Match
}

func NewContainer(ctx context.Context, cfg config.Config, log *zap.Logger) (*Container, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Container{Config: cfg, Logger: log}

	if err := c.initStore(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	if err := c.initCache(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}

	c.Scorer = scorer.NewClient(cfg.Scorer, logger.Named(log, "scorer"))
	c.Events = newPublisher(cfg.Kafka, logger.Named(log, "events"))

	c.Match = usecase.NewMatchUsecase(c.Store, c.Rankings, c.Scorer, c.Events, usecase.MatchConfig{
		RecommendationThreshold: cfg.Match.RecommendationThreshold,
		CacheTTL:                cfg.Cache.TTL,
		CacheOpTimeout:          cfg.Cache.OpTimeout,
		CoalesceScoring:         cfg.Match.CoalesceScoring,
		SharedScoreTimeout:      cfg.Scorer.Timeout + 30*time.Second,
		BatchWorkers:            cfg.Match.BatchWorkers,
		BatchMaxItems:           cfg.Match.BatchMaxItems,
	}, logger.Named(log, "match"))

	return c, nil
}

func (c *Container) initStore(ctx context.Context) error {
	if c.Config.Database.Driver == config.DriverMemory {
		c.Logger.Warn("[DB] using in-memory match store; data is lost on exit")
		c.Store = repository.NewMemoryMatchRepository()
		return nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := dbpostgres.Connect(connectCtx, c.Config.Database, logger.Named(c.Logger, "db"))
	if err != nil {
		return err
	}
	c.DB = db

	if c.Config.App.MigrateOnStart {
		if err := Migrate(ctx, db, c.Logger); err != nil {
			return err
		}
	}

	c.Store = repository.NewPostgresMatchRepository(db)
	return nil
}

func (c *Container) initCache(ctx context.Context) error {
	if c.Config.Cache.Driver == config.DriverMemory {
		c.Rankings = cache.NewMemoryRankingCache()
		return nil
	}

	r := cache.NewRedis(c.Config.Redis, logger.Named(c.Logger, "cache"))
	if err := r.Connect(ctx); err != nil {
		return err
	}
	c.Redis = r
	c.Rankings = cache.NewRedisRankingCache(r, logger.Named(c.Logger, "cache"))
	return nil
}

func newPublisher(cfg config.KafkaConfig, log *zap.Logger) events.Publisher {
	if len(cfg.Brokers) == 0 {
		return events.NopPublisher{}
	}
	log.Info("[Events] publishing match events", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic))
	return events.NewKafkaPublisher(cfg, log)
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, db database.DB, log *zap.Logger) error {
	migCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	return migration.NewRunner(logger.Named(log, "migration")).Run(migCtx, db.SQLDB())
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Events != nil {
		errs = append(errs, c.Events.Close())
	}
	if c.Redis != nil {
		errs = append(errs, c.Redis.Close())
	}
	if c.DB != nil {
		errs = append(errs, c.DB.Close())
	}
	return errors.Join(errs...)
}
