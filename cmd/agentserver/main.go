// Command agentserver serves the agent HTTP API. Agent runs are queued for
// agentworker.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/smallnest/hilagent/config"
	"github.com/smallnest/hilagent/internal/bootstrap"
	"github.com/smallnest/hilagent/queue"
	"github.com/smallnest/hilagent/server"
	"github.com/smallnest/hilagent/session"
)

func main() {
	configPath := flag.String("config", "", "Path to config.yaml")
	addr := flag.String("addr", "", "Listen address (overrides server.host and server.port)")
	flag.Parse()

	if err := run(*configPath, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "agentserver: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, addr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.Server.Addr()
	}

	logger, err := bootstrap.Logger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backends, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backends.Close()

	sessions := session.NewManager(backends.Redis, session.Options{
		Timeout: cfg.Session.Timeout,
		TaskTTL: cfg.Session.TaskTTL,
		Logger:  logger,
	})

	srv := server.New(server.Options{
		Addr:            addr,
		Sessions:        sessions,
		Queue:           queue.New(backends.Redis, cfg.Queue.Name, queue.WithLogger(logger)),
		Memory:          backends.Memory,
		Checkpoints:     backends.Checkpoints,
		SessionTTL:      cfg.Session.TTL,
		SystemPrompt:    cfg.Agent.SystemPrompt,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Logger:          logger,
	})

	logger.Info("agentserver starting on %s (queue %s)", addr, cfg.Queue.Name)
	if err := srv.Run(ctx); err != nil {
		return err
	}
	logger.Info("agentserver stopped")
	return nil
}
