package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/rbaliyan/mediator"
	"github.com/rbaliyan/mediator/backup"
	"github.com/rbaliyan/mediator/internal/config"
	"github.com/rbaliyan/mediator/secret"
	"github.com/rbaliyan/mediator/store"
	"github.com/rbaliyan/mediator/store/blob/bolt"
	"github.com/rbaliyan/mediator/store/blob/cached"
	"github.com/rbaliyan/mediator/store/blob/gcs"
	blobmemory "github.com/rbaliyan/mediator/store/blob/memory"
	blobotel "github.com/rbaliyan/mediator/store/blob/otel"
	"github.com/rbaliyan/mediator/store/blob/s3"
	"github.com/rbaliyan/mediator/store/dynamo"
	"github.com/rbaliyan/mediator/store/memory"
	"github.com/rbaliyan/mediator/store/mongo"
	"github.com/rbaliyan/mediator/store/postgres"
	routeredis "github.com/rbaliyan/mediator/store/redis"
	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// components is the wired service plus everything that must be released after it.
type components struct {
	svc     mediator.Service
	closers []func(context.Context) error
}

func (c *components) onClose(fn func(context.Context) error) {
	c.closers = append(c.closers, fn)
}

// close releases resources in reverse order of acquisition.
func (c *components) close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (c *components, err error) {
	c = &components{}
	defer func() {
		if err != nil {
			_ = c.close(context.WithoutCancel(ctx))
		}
	}()

	opts := []mediator.Option{
		mediator.WithLogger(logger),
		mediator.WithSecretVerifier(secret.NewStatic(cfg.Secrets...)),
		mediator.WithServiceName(cfg.Service.Name),
		mediator.WithMaxConcurrentForwards(cfg.Service.MaxConcurrentForwards),
		mediator.WithShutdownTimeout(cfg.Service.ShutdownTimeout),
		mediator.WithTracing(cfg.OTel.Tracing),
		mediator.WithMetrics(cfg.OTel.Metrics),
	}

	st, err := buildStore(ctx, c, cfg, logger)
	if err != nil {
		return nil, err
	}
	opts = append(opts, mediator.WithStore(st))

	var rdb redis.UniversalClient
	if cfg.UsesRedis() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.onClose(func(context.Context) error { return rdb.Close() })
	}
	if cfg.Events.Redis {
		opts = append(opts, mediator.WithRedisClient(rdb))
	}

	routes, err := buildRoutes(ctx, cfg, rdb, logger)
	if err != nil {
		return nil, err
	}
	if routes != nil {
		opts = append(opts, mediator.WithRouteStore(routes))
	}

	backups, err := buildBackups(ctx, c, cfg, logger)
	if err != nil {
		return nil, err
	}
	if backups != nil {
		opts = append(opts, mediator.WithBackupStore(backups))
	}

	c.svc, err = mediator.NewService(opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func buildStore(ctx context.Context, c *components, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.StorePostgres:
		pg := cfg.Store.Postgres
		driver := "postgres"
		if pg.Driver == "pgx" {
			driver = "pgx"
		}
		db, err := sqlx.Open(driver, pg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(pg.MaxOpenConns)
		db.SetMaxIdleConns(pg.MaxIdleConns)
		db.SetConnMaxLifetime(pg.ConnMaxLifetime)
		c.onClose(func(context.Context) error { return db.Close() })
		return postgres.New(db,
			postgres.WithTablePrefix(pg.TablePrefix),
			postgres.WithTimeout(cfg.Store.Timeout),
			postgres.WithLogger(logger),
		), nil

	case config.StoreMongo:
		client, err := mongodriver.Connect(mongoopts.Client().ApplyURI(cfg.Store.Mongo.URI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		c.onClose(client.Disconnect)
		return mongo.New(client,
			mongo.WithDatabase(cfg.Store.Mongo.Database),
			mongo.WithCollectionPrefix(cfg.Store.Mongo.Prefix),
			mongo.WithTimeout(cfg.Store.Timeout),
			mongo.WithLogger(logger),
		), nil

	default:
		logger.Warn("using in-memory store, data is lost on exit")
		return memory.New(), nil
	}
}

// buildRoutes returns nil when routes live in the main store.
func buildRoutes(ctx context.Context, cfg *config.Config, rdb redis.UniversalClient, logger *slog.Logger) (store.RouteStore, error) {
	switch cfg.Routes.Driver {
	case config.RoutesRedis:
		return routeredis.New(rdb,
			routeredis.WithKeyPrefix(cfg.Routes.KeyPrefix),
			routeredis.WithLogger(logger),
		), nil

	case config.RoutesDynamo:
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.Routes.Dynamo.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Routes.Dynamo.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return dynamo.New(dynamodb.NewFromConfig(awsCfg), cfg.Routes.Dynamo.Table, dynamo.WithLogger(logger)), nil

	default:
		return nil, nil
	}
}

// buildBackups returns nil when backups are disabled.
func buildBackups(ctx context.Context, c *components, cfg *config.Config, logger *slog.Logger) (store.BackupStore, error) {
	bc := cfg.Backup

	var blobs store.BlobStore
	switch bc.Driver {
	case config.BackupMemory:
		blobs = blobmemory.New()

	case config.BackupBolt:
		b, err := bolt.Open(bc.BoltPath, bolt.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open bolt: %w", err)
		}
		c.onClose(func(context.Context) error { return b.Close() })
		blobs = b

	case config.BackupS3:
		opts := []s3.Option{
			s3.WithBucket(bc.S3.Bucket),
			s3.WithPrefix(""),
			s3.WithRegion(bc.S3.Region),
			s3.WithEndpoint(bc.S3.Endpoint),
			s3.WithPathStyle(bc.S3.PathStyle),
			s3.WithLogger(logger),
		}
		if bc.S3.AccessKey != "" {
			opts = append(opts, s3.WithStaticCredentials(bc.S3.AccessKey, bc.S3.SecretKey))
		}
		if bc.S3.RoleARN != "" {
			opts = append(opts, s3.WithAssumeRole(bc.S3.RoleARN, "mediator"), s3.WithExternalID(bc.S3.ExternalID))
		}
		s, err := s3.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create s3 store: %w", err)
		}
		blobs = s

	case config.BackupGCS:
		opts := []gcs.Option{
			gcs.WithBucket(bc.GCS.Bucket),
			gcs.WithPrefix(""),
			gcs.WithEndpoint(bc.GCS.Endpoint),
			gcs.WithLogger(logger),
		}
		if bc.GCS.CredentialsFile != "" {
			opts = append(opts, gcs.WithCredentialsFile(bc.GCS.CredentialsFile))
		}
		g, err := gcs.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create gcs store: %w", err)
		}
		c.onClose(func(context.Context) error { return g.Close() })
		blobs = g

	default:
		return nil, nil
	}

	if cfg.OTel.Tracing || cfg.OTel.Metrics {
		o, err := blobotel.New(blobs,
			blobotel.WithTracing(cfg.OTel.Tracing),
			blobotel.WithMetrics(cfg.OTel.Metrics),
			blobotel.WithServiceName(cfg.Service.Name),
		)
		if err != nil {
			return nil, fmt.Errorf("instrument blob store: %w", err)
		}
		blobs = o
	}

	if bc.CacheDir != "" {
		if err := os.MkdirAll(bc.CacheDir, 0o750); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
		cs, err := cached.New(blobs,
			cached.WithCacheDir(bc.CacheDir),
			cached.WithMaxSize(bc.CacheSize),
			cached.WithTTL(bc.CacheTTL),
			cached.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("create blob cache: %w", err)
		}
		c.onClose(func(context.Context) error { return cs.Close() })
		blobs = cs
	}

	return backup.New(blobs, backup.WithPrefix(bc.Prefix), backup.WithLogger(logger)), nil
}
