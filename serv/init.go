package serv

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/evfleet/fleetdb/core"
	"github.com/evfleet/fleetdb/mongodriver"
	"github.com/evfleet/fleetdb/serv/internal/util"
	"github.com/evfleet/fleetdb/storage"
)

// init builds the service components in dependency order
func (s *Service) init(ctx context.Context) error {
	s.initLogger()

	if err := s.initResultCache(); err != nil {
		return err
	}
	if err := s.initDB(ctx); err != nil {
		return err
	}

	h, err := hashConfig(s.conf)
	if err != nil {
		return err
	}
	s.confHash = h

	s.tenants = core.NewTenantCache(s.db, s.conf.Tenants.CacheTTL, s.conf.Tenants.CacheSize)
	s.pricing = storage.NewPricingStorage(s.db)
	s.siteAreas = storage.NewSiteAreaStorage(s.db)
	return nil
}

// initLogger initializes the logger unless one was set with an option
func (s *Service) initLogger() {
	s.level = zap.NewAtomicLevelAt(util.ParseLevel(s.conf.LogLevel))

	if s.log != nil {
		return
	}
	s.log = util.NewLogger(s.conf.LogFormat == "json", s.level).
		With(zap.String("app", s.conf.AppName))
}

// initResultCache initializes the result cache (Redis or in-memory)
func (s *Service) initResultCache() error {
	if s.cache != nil {
		return nil
	}

	// Caching is enabled by default unless explicitly disabled
	if s.conf.Caching.Disable {
		s.log.Info("Result cache disabled")
		return nil
	}

	if s.conf.Redis.URL != "" {
		// Try to use Redis
		cache, err := NewRedisCache(s.conf.Redis.URL, s.conf.Caching)
		if err == nil {
			s.cache = cache
			s.cacheType = CacheRedis
			s.log.Info("Redis result cache enabled")
			return nil
		}
		s.log.Warn("Redis unavailable, falling back to in-memory cache", zap.Error(err))
	}

	cache, err := NewMemoryCache(s.conf.Caching, s.conf.Caching.MaxEntries)
	if err != nil {
		s.log.Warn("Failed to initialize memory cache", zap.Error(err))
		return nil
	}
	s.cache = cache
	s.cacheType = CacheMemory
	s.log.Info("Using in-memory result cache")
	return nil
}

// initDB connects to MongoDB and builds the pipeline executor
func (s *Service) initDB(ctx context.Context) error {
	if s.exec == nil {
		mc := s.conf.Mongo

		connector, err := mongodriver.Open(ctx, mongodriver.Config{
			URI:            mc.URI,
			Database:       mc.Database,
			AppName:        s.conf.AppName,
			ConnectTimeout: mc.ConnectTimeout,
			PingAttempts:   mc.PingAttempts,
			OnRetry: func(attempt uint, err error) {
				s.log.Warn("mongodb not reachable, retrying",
					zap.Uint("attempt", attempt),
					zap.Error(err))
			},
		})
		if err != nil {
			return err
		}
		s.connector = connector

		conn, err := connector.Connect(ctx)
		if err != nil {
			return err
		}
		s.exec = conn
		s.log.Info("Connected to mongodb", zap.String("database", mc.Database))
	}

	opts := []core.Option{
		core.OptionSetLogger(s.log.Named("core")),
		core.OptionSetRateLimit(s.conf.Mongo.MaxQueriesPerSecond, s.conf.Mongo.Burst),
		core.OptionSetPingInterval(s.conf.ChargingStation.PingInterval),
	}
	if s.cache != nil {
		opts = append(opts, core.OptionSetResultCache(s.cache))
	}

	db, err := core.NewDB(s.exec, opts...)
	if err != nil {
		return fmt.Errorf("failed to initialize executor: %w", err)
	}
	s.db = db
	return nil
}
