package serv

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gosimple/slug"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// Config struct holds the fleetdb service config values
type Config struct {
	// Application name is used in log and debug messages and picks the
	// default database name
	AppName string `mapstructure:"app_name" validate:"required"`

	// Log level can be debug, info, warn, error
	LogLevel string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`

	// Log format can be json or plain
	LogFormat string `mapstructure:"log_format" validate:"omitempty,oneof=json plain"`

	// Mongo connection settings
	Mongo Mongo `mapstructure:"mongo"`

	// Charging station settings used by the site area queries
	ChargingStation ChargingStation `mapstructure:"charging_station"`

	// Tenant lookups are cached in memory
	Tenants TenantConfig `mapstructure:"tenants"`

	// Result caching
	Caching CachingConfig `mapstructure:"caching"`

	// Redis backs the result cache when set
	Redis RedisConfig `mapstructure:"redis"`

	// Inherit config from this other config file
	Inherits string `mapstructure:"inherits" hash:"ignore"`

	configFile string
	vi         *viper.Viper
}

// Mongo struct contains the MongoDB connection settings
type Mongo struct {
	URI            string        `mapstructure:"uri" validate:"required"`
	Database       string        `mapstructure:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PingAttempts   uint          `mapstructure:"ping_attempts"`

	// MaxQueriesPerSecond bounds the pipelines sent to the server, 0 is
	// unlimited
	MaxQueriesPerSecond float64 `mapstructure:"max_queries_per_second" validate:"gte=0"`
	Burst               int     `mapstructure:"burst" validate:"gte=0"`
}

// ChargingStation struct contains the station heartbeat settings
type ChargingStation struct {
	PingInterval time.Duration `mapstructure:"ping_interval" validate:"gte=0"`
}

// TenantConfig struct contains the tenant cache settings
type TenantConfig struct {
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	CacheSize int           `mapstructure:"cache_size" validate:"gte=0"`
}

// CachingConfig struct contains the result cache settings. TTLs are in
// seconds.
type CachingConfig struct {
	Disable            bool     `mapstructure:"disable"`
	TTL                int      `mapstructure:"ttl" validate:"gte=0"`
	FreshTTL           int      `mapstructure:"fresh_ttl" validate:"gte=0,ltefield=TTL"`
	MaxEntries         int      `mapstructure:"max_entries" validate:"gte=0"`
	ExcludeCollections []string `mapstructure:"exclude_collections"`
}

// RedisConfig struct contains the redis settings
type RedisConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

const defaultCacheTTL = 3600

// ttls returns the hard and soft TTLs
func (c CachingConfig) ttls() (time.Duration, time.Duration) {
	ttl := c.TTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	fresh := c.FreshTTL
	if fresh <= 0 {
		fresh = ttl // No SWR - fresh until hard TTL
	}
	return time.Duration(ttl) * time.Second, time.Duration(fresh) * time.Second
}

// ReadInConfig reads the config file, merging it over the file named by its
// inherits key. Values can be overridden with FLEETDB_ prefixed environment
// variables, e.g. FLEETDB_MONGO_URI.
func ReadInConfig(configFile string) (*Config, error) {
	return readInConfig(configFile, nil)
}

// ReadInConfigFS is the same as ReadInConfig but it also takes a filesytem as an argument
func ReadInConfigFS(configFile string, fs afero.Fs) (*Config, error) {
	return readInConfig(configFile, fs)
}

func readInConfig(configFile string, fs afero.Fs) (*Config, error) {
	cp := filepath.Dir(configFile)
	vi := newViper(cp, filepath.Base(configFile))

	if fs != nil {
		vi.SetFs(fs)
	}

	if err := vi.ReadInConfig(); err != nil {
		return nil, err
	}

	if pcf := vi.GetString("inherits"); pcf != "" {
		cf := vi.ConfigFileUsed()
		vi = newViper(cp, pcf)
		if fs != nil {
			vi.SetFs(fs)
		}

		if err := vi.ReadInConfig(); err != nil {
			return nil, err
		}

		if v := vi.GetString("inherits"); v != "" {
			return nil, fmt.Errorf("inherited config (%s) cannot itself inherit (%s)", pcf, v)
		}

		vi.SetConfigFile(cf)

		if err := vi.MergeInConfig(); err != nil {
			return nil, err
		}
	}

	c := &Config{configFile: vi.ConfigFileUsed(), vi: vi}

	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))

	if err := vi.Unmarshal(c, hook); err != nil {
		return nil, fmt.Errorf("failed to decode config, %v", err)
	}

	if c.Mongo.Database == "" {
		c.Mongo.Database = slug.Make(c.AppName)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the config values
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ConfigFile returns the path of the config file that was read
func (c *Config) ConfigFile() string {
	return c.configFile
}

func newViper(configPath, configFile string) *viper.Viper {
	vi := viper.New()

	vi.SetEnvPrefix("FLEETDB")
	vi.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vi.AutomaticEnv()

	if filepath.Ext(configFile) != "" {
		vi.SetConfigFile(filepath.Join(configPath, configFile))
	} else {
		vi.SetConfigName(configFile)
		vi.AddConfigPath(configPath)
		vi.AddConfigPath("./config")
	}

	vi.SetDefault("log_level", "info")
	vi.SetDefault("log_format", "plain")

	vi.SetDefault("mongo.uri", "mongodb://localhost:27017")
	vi.SetDefault("mongo.database", "")
	vi.SetDefault("mongo.connect_timeout", "10s")
	vi.SetDefault("mongo.ping_attempts", 5)
	vi.SetDefault("mongo.max_queries_per_second", 0)
	vi.SetDefault("mongo.burst", 0)

	vi.SetDefault("charging_station.ping_interval", "60s")

	vi.SetDefault("tenants.cache_ttl", "5m")
	vi.SetDefault("tenants.cache_size", 1000)

	vi.SetDefault("caching.disable", false)
	vi.SetDefault("caching.ttl", defaultCacheTTL)
	vi.SetDefault("caching.fresh_ttl", 0)
	vi.SetDefault("caching.max_entries", defaultMemoryCacheSize)

	vi.SetDefault("redis.url", "")

	return vi
}
