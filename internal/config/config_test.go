package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefaults(t *testing.T) {
	cfg, err := load(viper.New(), "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Driver != StoreMemory || cfg.Routes.Driver != RoutesStore || cfg.Backup.Driver != BackupNone {
		t.Errorf("unexpected drivers %+v", cfg)
	}
	if cfg.Log.Level != slog.LevelInfo || cfg.Log.Format != "json" {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}
	if cfg.Service.ShutdownTimeout != 30*time.Second || cfg.Service.MaxConcurrentForwards != 10 {
		t.Errorf("unexpected service config %+v", cfg.Service)
	}
	if len(cfg.Secrets) != 0 {
		t.Errorf("expected no secrets by default, got %v", cfg.Secrets)
	}
	if cfg.UsesRedis() {
		t.Error("defaults must not need redis")
	}
}

func TestEnvironment(t *testing.T) {
	t.Setenv("MOBILE_SECRETS", "mobiletoken, second")
	t.Setenv("LOGLEVEL", "3")
	t.Setenv("MEDIATOR_STORE_DRIVER", "postgres")
	t.Setenv("MEDIATOR_STORE_POSTGRES_DSN", "postgres://localhost/mediator")
	t.Setenv("MEDIATOR_STORE_POSTGRES_DRIVER", "pgx")
	t.Setenv("MEDIATOR_ROUTES_DRIVER", "redis")
	t.Setenv("MEDIATOR_BACKUP_DRIVER", "s3")
	t.Setenv("MEDIATOR_BACKUP_S3_BUCKET", "wallet-backups")

	cfg, err := load(viper.New(), "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !slices.Equal(cfg.Secrets, []string{"mobiletoken", "second"}) {
		t.Errorf("unexpected secrets %v", cfg.Secrets)
	}
	if cfg.Log.Level != slog.LevelWarn {
		t.Errorf("expected warn level, got %v", cfg.Log.Level)
	}
	if cfg.Store.Driver != StorePostgres || cfg.Store.Postgres.Driver != "pgx" || cfg.Store.Postgres.DSN == "" {
		t.Errorf("unexpected store config %+v", cfg.Store)
	}
	if !cfg.UsesRedis() {
		t.Error("redis routes need a redis client")
	}
	if cfg.Backup.S3.Bucket != "wallet-backups" {
		t.Errorf("unexpected backup config %+v", cfg.Backup)
	}
}

func TestPrefixedSecretsWin(t *testing.T) {
	t.Setenv("MEDIATOR_SECRETS", "a")
	t.Setenv("MOBILE_SECRETS", "b")
	cfg, err := load(viper.New(), "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !slices.Equal(cfg.Secrets, []string{"a"}) {
		t.Errorf("expected MEDIATOR_SECRETS to take precedence, got %v", cfg.Secrets)
	}
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediator.yaml")
	body := strings.Join([]string{
		"secrets: x,y",
		"store:",
		"  driver: mongo",
		"  mongo:",
		"    uri: mongodb://localhost:27017",
		"backup:",
		"  driver: bolt",
		"  cache:",
		"    dir: /tmp/cache",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := load(viper.New(), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Driver != StoreMongo || cfg.Store.Mongo.Database != "mediator" {
		t.Errorf("unexpected store config %+v", cfg.Store)
	}
	if cfg.Backup.Driver != BackupBolt || cfg.Backup.CacheDir != "/tmp/cache" {
		t.Errorf("unexpected backup config %+v", cfg.Backup)
	}
	if len(cfg.Secrets) != 2 {
		t.Errorf("unexpected secrets %v", cfg.Secrets)
	}
}

func TestValidate(t *testing.T) {
	tests := map[string]map[string]string{
		"unknown store":      {"MEDIATOR_STORE_DRIVER": "cassandra"},
		"postgres no dsn":    {"MEDIATOR_STORE_DRIVER": "postgres"},
		"bad pg driver":      {"MEDIATOR_STORE_DRIVER": "postgres", "MEDIATOR_STORE_POSTGRES_DSN": "x", "MEDIATOR_STORE_POSTGRES_DRIVER": "odbc"},
		"mongo no uri":       {"MEDIATOR_STORE_DRIVER": "mongo"},
		"unknown routes":     {"MEDIATOR_ROUTES_DRIVER": "etcd"},
		"s3 without bucket":  {"MEDIATOR_BACKUP_DRIVER": "s3"},
		"gcs without bucket": {"MEDIATOR_BACKUP_DRIVER": "gcs"},
		"bad level":          {"MEDIATOR_LOG_LEVEL": "loud"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := load(viper.New(), ""); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"0":     slog.LevelDebug,
		"2":     slog.LevelInfo,
		"4":     slog.LevelError,
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
}
