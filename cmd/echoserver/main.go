// Command echoserver runs the TCP echo server: it loads the configuration,
// wires the session manager over the work pool and acceptor, publishes stats
// snapshots, and drives a graceful drain on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/echo-server/cacher"
	"github.com/cyberinferno/echo-server/config"
	"github.com/cyberinferno/echo-server/echosession"
	"github.com/cyberinferno/echo-server/logger"
	"github.com/cyberinferno/echo-server/sessionmanager"
	"github.com/cyberinferno/echo-server/statspublisher"
	"github.com/cyberinferno/echo-server/tcpacceptor"
	"github.com/cyberinferno/echo-server/utils"
	"github.com/cyberinferno/echo-server/workpool"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "echoserver",
		Short:        "TCP echo server with a managed session population",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the config file (default: ./echoserver.yaml)")
	return cmd
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := newLogger(cfg.Logging)
	defer func() { _ = log.Close() }()

	pool := workpool.New(cfg.Server.WorkerCount)
	defer pool.Close()

	acceptor := tcpacceptor.New(pool, log)
	factory := echosession.NewFactory(log)
	manager := sessionmanager.New(sessionmanager.Config{
		Endpoint:             cfg.Server.Endpoint,
		ListenBacklog:        cfg.Server.ListenBacklog,
		MaxSessionCount:      cfg.Server.MaxSessionCount,
		RecycledSessionCount: cfg.Server.RecycledSessionCount,
		MaxStoppingSessions:  cfg.Server.MaxStoppingSessions,
		SessionConfig: echosession.Config{
			BufferSize:        cfg.Session.BufferSize,
			NoDelay:           cfg.Session.NoDelay,
			InactivityTimeout: cfg.Session.InactivityTimeout,
		},
	}, factory, acceptor, pool, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	started := make(chan error, 1)
	manager.AsyncStart(func(serr error) { started <- serr })
	if err := <-started; err != nil {
		return fmt.Errorf("echoserver: start: %w", err)
	}

	terminal := make(chan error, 1)
	manager.AsyncWait(func(werr error) { terminal <- werr })

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Stats.Enabled {
		publisher := statspublisher.New(statspublisher.Config{
			Key:      cfg.Stats.Key,
			Interval: cfg.Stats.Interval,
			TTL:      cfg.Stats.TTL,
		}, manager, newStatsCache(cfg.Stats), log)

		g.Go(func() error {
			if perr := publisher.Run(gctx); !errors.Is(perr, context.Canceled) {
				return perr
			}
			return nil
		})
	}

	g.Go(func() error {
		select {
		case werr := <-terminal:
			// The manager stopped on its own, so a fatal error is latched.
			cancel()
			alert(cfg.Alerting, werr)
			return werr
		case <-gctx.Done():
			return drain(manager, terminal, cfg, log)
		}
	})

	return g.Wait()
}

// drain runs the signal-driven graceful stop, bounded by the configured
// drain deadline.
func drain(manager *sessionmanager.Manager, terminal chan error, cfg config.Config, log logger.Logger) error {
	log.Info("shutdown requested, draining sessions",
		logger.Field{Key: "timeout", Value: cfg.Server.StopTimeout.String()})

	stopped := make(chan error, 1)
	manager.AsyncStop(func(serr error) { stopped <- serr })

	select {
	case err := <-stopped:
		alert(cfg.Alerting, err)
		return err
	case err := <-terminal:
		alert(cfg.Alerting, err)
		return err
	case <-time.After(cfg.Server.StopTimeout):
		err := fmt.Errorf("echoserver: drain did not finish within %s", cfg.Server.StopTimeout)
		alert(cfg.Alerting, err)
		return err
	}
}

func newLogger(cfg config.LoggingConfig) logger.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	if cfg.Dir != "" {
		return logger.NewZerologFileLogger("echoserver", cfg.Dir, level)
	}
	return logger.NewZerologLogger(zerolog.New(os.Stdout), "echoserver", level)
}

func newStatsCache(cfg config.StatsConfig) cacher.Cacher[string] {
	if cfg.Backend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return cacher.NewRedisCacher[string](client)
	}

	return cacher.NewMemoryCacher[string](gocache.NoExpiration, time.Minute)
}

func alert(cfg config.AlertingConfig, err error) {
	if cfg.DiscordWebhook == "" || err == nil {
		return
	}

	utils.SendDiscordNotification(cfg.DiscordWebhook,
		fmt.Sprintf("echoserver stopped with error: %v", err))
}
