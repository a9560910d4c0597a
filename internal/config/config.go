// Package config loads mediator settings from the environment, an optional
// .env file and an optional config file.
//
// Every key can be set as MEDIATOR_<SECTION>_<KEY>, e.g. MEDIATOR_STORE_DRIVER.
// MOBILE_SECRETS and LOGLEVEL are read as aliases for secrets and log.level.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// Route store drivers.
const (
	RoutesStore  = "store"
	RoutesRedis  = "redis"
	RoutesDynamo = "dynamo"
)

// Backup drivers.
const (
	BackupNone   = "none"
	BackupMemory = "memory"
	BackupBolt   = "bolt"
	BackupS3     = "s3"
	BackupGCS    = "gcs"
)

type LogConfig struct {
	Level  slog.Level
	Format string // json or text
}

type ServiceConfig struct {
	Name                  string
	MaxConcurrentForwards int
	ShutdownTimeout       time.Duration
}

type PostgresConfig struct {
	Driver          string // pq or pgx
	DSN             string
	TablePrefix     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type MongoConfig struct {
	URI      string
	Database string
	Prefix   string
}

type StoreConfig struct {
	Driver   string
	Timeout  time.Duration
	Postgres PostgresConfig
	Mongo    MongoConfig
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type DynamoConfig struct {
	Table  string
	Region string
}

type RoutesConfig struct {
	Driver    string
	KeyPrefix string
	Dynamo    DynamoConfig
}

type EventsConfig struct {
	Redis bool
}

type S3Config struct {
	Bucket     string
	Region     string
	Endpoint   string
	PathStyle  bool
	AccessKey  string
	SecretKey  string
	RoleARN    string
	ExternalID string
}

type GCSConfig struct {
	Bucket          string
	Endpoint        string
	CredentialsFile string
}

type BackupConfig struct {
	Driver    string
	Prefix    string
	BoltPath  string
	S3        S3Config
	GCS       GCSConfig
	CacheDir  string // empty disables the local cache
	CacheSize int64
	CacheTTL  time.Duration
}

type OTelConfig struct {
	Tracing bool
	Metrics bool
}

type Config struct {
	Secrets []string
	Log     LogConfig
	Service ServiceConfig
	Store   StoreConfig
	Routes  RoutesConfig
	Redis   RedisConfig
	Events  EventsConfig
	Backup  BackupConfig
	OTel    OTelConfig
}

// Load reads configuration. configFile may be empty.
func Load(configFile string) (*Config, error) {
	loadEnvFile()
	return load(viper.New(), configFile)
}

func load(v *viper.Viper, configFile string) (*Config, error) {
	v.SetEnvPrefix("mediator")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("secrets", "MEDIATOR_SECRETS", "MOBILE_SECRETS"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("log.level", "MEDIATOR_LOG_LEVEL", "LOGLEVEL"); err != nil {
		return nil, err
	}
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	level, err := ParseLevel(v.GetString("log.level"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Secrets: parseList(v.GetString("secrets")),
		Log: LogConfig{
			Level:  level,
			Format: v.GetString("log.format"),
		},
		Service: ServiceConfig{
			Name:                  v.GetString("service.name"),
			MaxConcurrentForwards: v.GetInt("service.max_concurrent_forwards"),
			ShutdownTimeout:       v.GetDuration("service.shutdown_timeout"),
		},
		Store: StoreConfig{
			Driver:  strings.ToLower(v.GetString("store.driver")),
			Timeout: v.GetDuration("store.timeout"),
			Postgres: PostgresConfig{
				Driver:          strings.ToLower(v.GetString("store.postgres.driver")),
				DSN:             v.GetString("store.postgres.dsn"),
				TablePrefix:     v.GetString("store.postgres.table_prefix"),
				MaxOpenConns:    v.GetInt("store.postgres.max_open_conns"),
				MaxIdleConns:    v.GetInt("store.postgres.max_idle_conns"),
				ConnMaxLifetime: v.GetDuration("store.postgres.conn_max_lifetime"),
			},
			Mongo: MongoConfig{
				URI:      v.GetString("store.mongo.uri"),
				Database: v.GetString("store.mongo.database"),
				Prefix:   v.GetString("store.mongo.prefix"),
			},
		},
		Routes: RoutesConfig{
			Driver:    strings.ToLower(v.GetString("routes.driver")),
			KeyPrefix: v.GetString("routes.key_prefix"),
			Dynamo: DynamoConfig{
				Table:  v.GetString("routes.dynamo.table"),
				Region: v.GetString("routes.dynamo.region"),
			},
		},
		Redis: RedisConfig{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Events: EventsConfig{
			Redis: v.GetBool("events.redis"),
		},
		Backup: BackupConfig{
			Driver:   strings.ToLower(v.GetString("backup.driver")),
			Prefix:   v.GetString("backup.prefix"),
			BoltPath: v.GetString("backup.bolt_path"),
			S3: S3Config{
				Bucket:     v.GetString("backup.s3.bucket"),
				Region:     v.GetString("backup.s3.region"),
				Endpoint:   v.GetString("backup.s3.endpoint"),
				PathStyle:  v.GetBool("backup.s3.path_style"),
				AccessKey:  v.GetString("backup.s3.access_key"),
				SecretKey:  v.GetString("backup.s3.secret_key"),
				RoleARN:    v.GetString("backup.s3.role_arn"),
				ExternalID: v.GetString("backup.s3.external_id"),
			},
			GCS: GCSConfig{
				Bucket:          v.GetString("backup.gcs.bucket"),
				Endpoint:        v.GetString("backup.gcs.endpoint"),
				CredentialsFile: v.GetString("backup.gcs.credentials_file"),
			},
			CacheDir:  v.GetString("backup.cache.dir"),
			CacheSize: v.GetInt64("backup.cache.max_size"),
			CacheTTL:  v.GetDuration("backup.cache.ttl"),
		},
		OTel: OTelConfig{
			Tracing: v.GetBool("otel.tracing"),
			Metrics: v.GetBool("otel.metrics"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("secrets", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("service.name", "mediator")
	v.SetDefault("service.max_concurrent_forwards", 10)
	v.SetDefault("service.shutdown_timeout", "30s")
	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("store.timeout", "10s")
	v.SetDefault("store.postgres.driver", "pq")
	v.SetDefault("store.postgres.table_prefix", "mediator_")
	v.SetDefault("store.postgres.max_open_conns", 25)
	v.SetDefault("store.postgres.max_idle_conns", 5)
	v.SetDefault("store.postgres.conn_max_lifetime", "5m")
	v.SetDefault("store.mongo.database", "mediator")
	v.SetDefault("routes.driver", RoutesStore)
	v.SetDefault("routes.key_prefix", "mediator:route:")
	v.SetDefault("routes.dynamo.table", "mediator-routes")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("events.redis", false)
	v.SetDefault("backup.driver", BackupNone)
	v.SetDefault("backup.prefix", "backups")
	v.SetDefault("backup.bolt_path", "mediator-backups.db")
	v.SetDefault("backup.cache.max_size", 256<<20)
	v.SetDefault("backup.cache.ttl", "1h")
	v.SetDefault("otel.tracing", false)
	v.SetDefault("otel.metrics", false)
}

// Validate checks driver names and the settings each driver requires.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required")
		}
		if d := c.Store.Postgres.Driver; d != "pq" && d != "pgx" {
			return fmt.Errorf("store.postgres.driver must be pq or pgx, got %q", d)
		}
	case StoreMongo:
		if c.Store.Mongo.URI == "" {
			return fmt.Errorf("store.mongo.uri is required")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}

	switch c.Routes.Driver {
	case RoutesStore, RoutesRedis:
	case RoutesDynamo:
		if c.Routes.Dynamo.Table == "" {
			return fmt.Errorf("routes.dynamo.table is required")
		}
	default:
		return fmt.Errorf("unknown routes.driver %q", c.Routes.Driver)
	}

	switch c.Backup.Driver {
	case BackupNone, BackupMemory, BackupBolt:
	case BackupS3:
		if c.Backup.S3.Bucket == "" {
			return fmt.Errorf("backup.s3.bucket is required")
		}
	case BackupGCS:
		if c.Backup.GCS.Bucket == "" {
			return fmt.Errorf("backup.gcs.bucket is required")
		}
	default:
		return fmt.Errorf("unknown backup.driver %q", c.Backup.Driver)
	}
	return nil
}

// UsesRedis reports whether any component needs a Redis client.
func (c *Config) UsesRedis() bool {
	return c.Routes.Driver == RoutesRedis || c.Events.Redis
}

// ParseLevel accepts slog level names or the numeric levels 0-5
// (verbose, debug, information, warning, error, fatal).
func ParseLevel(s string) (slog.Level, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		switch {
		case n <= 1:
			return slog.LevelDebug, nil
		case n == 2:
			return slog.LevelInfo, nil
		case n == 3:
			return slog.LevelWarn, nil
		default:
			return slog.LevelError, nil
		}
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log.level %q: %w", s, err)
	}
	return level, nil
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
