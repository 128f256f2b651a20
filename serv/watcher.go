package serv

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/hashstructure/v2"
	"go.uber.org/zap"

	"github.com/evfleet/fleetdb/serv/internal/util"
)

// hashConfig fingerprints every config value
func hashConfig(c *Config) (uint64, error) {
	h, err := hashstructure.Hash(c, hashstructure.FormatV2, nil)
	if err != nil {
		return 0, fmt.Errorf("hash config: %w", err)
	}
	return h, nil
}

// restartHash fingerprints the values that are only read at startup
func restartHash(c *Config) uint64 {
	h, _ := hashstructure.Hash(struct {
		Mongo   Mongo
		Tenants TenantConfig
		Caching CachingConfig
		Redis   RedisConfig
	}{c.Mongo, c.Tenants, c.Caching, c.Redis}, hashstructure.FormatV2, nil)
	return h
}

// WatchConfig reloads the config file whenever it is written.
func (s *Service) WatchConfig() {
	vi := s.Config().vi
	if vi == nil {
		return
	}

	vi.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		if _, err := s.ReloadConfig(); err != nil {
			s.log.Warn("config reload failed", zap.String("file", e.Name), zap.Error(err))
		}
	})
	vi.WatchConfig()
}

// ReloadConfig re-reads the config file and applies the log level and the
// charging station ping interval. It reports whether anything changed.
// Other settings are read at startup only.
func (s *Service) ReloadConfig() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := readInConfig(s.conf.configFile, s.fs)
	if err != nil {
		return false, err
	}

	h, err := hashConfig(c)
	if err != nil {
		return false, err
	}
	if h == s.confHash {
		return false, nil
	}

	if restartHash(c) != restartHash(s.conf) {
		s.log.Warn("mongo, tenants, caching and redis changes need a restart")
	}

	s.level.SetLevel(util.ParseLevel(c.LogLevel))
	s.db.SetPingInterval(c.ChargingStation.PingInterval)

	// keep the watcher attached to the original viper instance
	c.vi = s.conf.vi
	s.conf = c
	s.confHash = h

	s.log.Info("config reloaded",
		zap.String("log_level", c.LogLevel),
		zap.Duration("ping_interval", s.db.PingInterval()))
	return true, nil
}
