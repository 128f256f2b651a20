// Package serv bootstraps a fleetdb service from a config file: the
// logger, the MongoDB connection, the result cache and the storage layer.
package serv

import (
	"context"
	"errors"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/evfleet/fleetdb/core"
	"github.com/evfleet/fleetdb/mongodriver"
	"github.com/evfleet/fleetdb/serv/internal/util"
	"github.com/evfleet/fleetdb/storage"
)

// Cache backend names reported by CacheType
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Service holds everything needed to run tenant queries.
type Service struct {
	conf      *Config
	fs        afero.Fs
	log       *zap.Logger
	level     zap.AtomicLevel
	exec      core.Executor
	connector *mongodriver.Connector
	db        *core.DB
	cache     ResultCache
	cacheType string
	tenants   *core.TenantCache
	pricing   *storage.PricingStorage
	siteAreas *storage.SiteAreaStorage

	// guards conf and confHash during reloads
	mu       sync.Mutex
	confHash uint64
}

// Option is a function that modifies the service
type Option func(*Service) error

// OptionSetFS sets the filesystem the config is re-read from on reload
func OptionSetFS(fs afero.Fs) Option {
	return func(s *Service) error {
		s.fs = fs
		return nil
	}
}

// OptionSetLogger replaces the logger built from the config
func OptionSetLogger(log *zap.Logger) Option {
	return func(s *Service) error {
		if log == nil {
			return errors.New("logger is nil")
		}
		s.log = log
		return nil
	}
}

// OptionSetExecutor runs pipelines on exec instead of connecting to the
// configured MongoDB server
func OptionSetExecutor(exec core.Executor) Option {
	return func(s *Service) error {
		s.exec = exec
		return nil
	}
}

// OptionSetResultCache replaces the cache built from the config
func OptionSetResultCache(c ResultCache) Option {
	return func(s *Service) error {
		s.cache = c
		s.cacheType = CacheMemory
		if _, ok := c.(*RedisCache); ok {
			s.cacheType = CacheRedis
		}
		return nil
	}
}

// NewService creates a service from conf and connects to MongoDB.
func NewService(ctx context.Context, conf *Config, options ...Option) (*Service, error) {
	if conf == nil {
		return nil, errors.New("config is nil")
	}

	s := &Service{
		conf:      conf,
		cacheType: CacheNone,
	}

	for _, op := range options {
		if err := op(s); err != nil {
			return nil, err
		}
	}

	if err := s.init(ctx); err != nil {
		_ = s.Close(context.Background())
		return nil, err
	}
	return s, nil
}

// Config returns the active config
func (s *Service) Config() *Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conf
}

// Logger returns the service logger
func (s *Service) Logger() *zap.Logger {
	return s.log
}

// DB returns the pipeline executor
func (s *Service) DB() *core.DB {
	return s.db
}

// Tenants returns the tenant cache
func (s *Service) Tenants() *core.TenantCache {
	return s.tenants
}

// Pricing returns the pricing model storage
func (s *Service) Pricing() *storage.PricingStorage {
	return s.pricing
}

// SiteAreas returns the site area storage
func (s *Service) SiteAreas() *storage.SiteAreaStorage {
	return s.siteAreas
}

// Cache returns the result cache, nil when caching is disabled
func (s *Service) Cache() ResultCache {
	return s.cache
}

// CacheType returns the result cache backend: none, memory or redis
func (s *Service) CacheType() string {
	return s.cacheType
}

// Executor returns what pipelines run on
func (s *Service) Executor() core.Executor {
	return s.exec
}

// Ping checks that MongoDB answers. It is a no-op when the service was
// given its own executor.
func (s *Service) Ping(ctx context.Context) error {
	if s.connector == nil {
		return nil
	}
	return s.connector.Ping(ctx)
}

// Close releases the cache and the MongoDB client
func (s *Service) Close(ctx context.Context) error {
	var errs []error

	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.connector != nil {
		if err := s.connector.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.log != nil {
		_ = s.log.Sync()
	}
	return errors.Join(errs...)
}

// NewLogger builds a console or JSON logger at the given config level
func NewLogger(json bool, level string) *zap.Logger {
	return util.NewLogger(json, util.ParseLevel(level))
}
