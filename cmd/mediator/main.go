// Command mediator runs the inbox and forwarding service and offers a few
// operator commands against the same configuration.
//
// Usage:
//
//	mediator [-config file] serve
//	mediator [-config file] find-route <relay key>
//	mediator [-config file] list-backups <backup id>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rbaliyan/mediator"
	"github.com/rbaliyan/mediator/internal/config"
)

func main() {
	configFile := flag.String("config", "", "optional config file (yaml, json or toml)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, flag.Args()); err != nil {
		logger.Error("mediator failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config file] serve | find-route <relay key> | list-backups <backup id>\n", os.Args[0])
	flag.PrintDefaults()
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level := new(slog.LevelVar)
	level.Set(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) (err error) {
	cmd, args := args[0], args[1:]
	switch cmd {
	case "serve", "find-route", "list-backups":
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	if cmd != "serve" && len(args) != 1 {
		return fmt.Errorf("%s takes exactly one argument", cmd)
	}

	c, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.close(context.WithoutCancel(ctx)); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	if err := c.svc.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		if cerr := c.svc.Close(context.WithoutCancel(ctx)); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close: %w", cerr))
		}
	}()

	switch cmd {
	case "find-route":
		return findRoute(ctx, c.svc, args[0])
	case "list-backups":
		return listBackups(ctx, c.svc, args[0])
	default:
		return serve(ctx, c.svc, cfg, logger)
	}
}

// serve keeps the service connected until the process is signalled.
// Transports embedding the mediator drive it through the Service API.
func serve(ctx context.Context, svc mediator.Service, cfg *config.Config, logger *slog.Logger) error {
	if len(cfg.Secrets) == 0 {
		logger.Warn("no mobile secrets configured, every create mailbox request will be rejected")
	}
	logger.Info("mediator ready",
		"store", cfg.Store.Driver,
		"routes", cfg.Routes.Driver,
		"backup", cfg.Backup.Driver,
		"connected", svc.IsConnected(),
	)
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func findRoute(ctx context.Context, svc mediator.Service, relayKey string) error {
	mailboxID, err := svc.FindRoute(ctx, relayKey)
	if err != nil {
		return err
	}
	fmt.Println(mailboxID)
	return nil
}

func listBackups(ctx context.Context, svc mediator.Service, backupID string) error {
	backups := svc.Backups()
	if backups == nil {
		return mediator.ErrBackupStoreNotConfigured
	}
	for version, err := range backups.ListBackups(ctx, backupID) {
		if err != nil {
			return err
		}
		fmt.Println(version)
	}
	return nil
}
