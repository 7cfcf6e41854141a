// Command agentworker consumes the agent task queue: it runs the ReAct agent
// for invoke and resume tasks and records the outcome on the session.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tmc/langchaingo/tools"

	"github.com/smallnest/hilagent/agent"
	"github.com/smallnest/hilagent/config"
	"github.com/smallnest/hilagent/internal/bootstrap"
	"github.com/smallnest/hilagent/llms/provider"
	"github.com/smallnest/hilagent/log"
	"github.com/smallnest/hilagent/queue"
	"github.com/smallnest/hilagent/schema"
	"github.com/smallnest/hilagent/session"
	"github.com/smallnest/hilagent/tool"
	"github.com/smallnest/hilagent/worker"
)

func main() {
	configPath := flag.String("config", "", "Path to config.yaml")
	consumer := flag.String("name", "", "Consumer name prefix (defaults to the host name)")
	noMCP := flag.Bool("no-mcp", false, "Do not connect the configured MCP servers")
	flag.Parse()

	if err := run(*configPath, *consumer, *noMCP); err != nil {
		fmt.Fprintf(os.Stderr, "agentworker: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, consumer string, noMCP bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
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

	model, err := provider.New(cfg.LLM)
	if err != nil {
		return err
	}
	logger.Info("llm provider %s", cfg.LLM.Type)

	agentTools := tool.Builtin(logger)
	if ws := cfg.WebSearch; ws.APIKey != "" {
		search, err := tool.NewWebSearch(tool.WebSearchOptions{
			APIKey: ws.APIKey, BaseURL: ws.BaseURL, Count: ws.Count, Country: ws.Country, Lang: ws.Lang,
		})
		if err != nil {
			return err
		}
		if ws.Review {
			agentTools = append(agentTools, agent.WithHumanReview(search, schema.AllowAll(), agent.WithReviewLogger(logger)))
		} else {
			agentTools = append(agentTools, search)
		}
	}
	if !noMCP && len(cfg.MCP.Servers) > 0 {
		servers := make([]tool.MCPServer, 0, len(cfg.MCP.Servers))
		for _, s := range cfg.MCP.Servers {
			servers = append(servers, tool.MCPServer{Name: s.Name, URL: s.URL, Transport: s.Transport, Review: s.Review})
		}
		mcpTools := tool.ConnectMCP(ctx, servers, log.Named(logger, "mcp"))
		defer mcpTools.Close()
		agentTools = append(agentTools, mcpTools.Tools()...)
	}
	logToolNames(logger, agentTools)

	a, err := agent.New(model,
		agent.WithTools(agentTools...),
		agent.WithCheckpointer(backends.Checkpoints),
		agent.WithMaxIterations(cfg.Agent.MaxIterations),
		agent.WithTrim(agent.TrimOptions{MaxMessages: cfg.Agent.TrimMaxMessages, KeepSystem: true}),
		agent.WithTemperature(cfg.LLM.Temperature),
		agent.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	sessions := session.NewManager(backends.Redis, session.Options{
		Timeout: cfg.Session.Timeout,
		TaskTTL: cfg.Session.TaskTTL,
		Logger:  logger,
	})
	handlers := worker.New(worker.Options{
		Sessions:     sessions,
		Agent:        a,
		Memory:       backends.Memory,
		SessionTTL:   cfg.Session.TTL,
		CarryHistory: cfg.Agent.CarrySessionHistory,
		Logger:       logger,
	})

	q := queue.New(backends.Redis, cfg.Queue.Name, queue.WithLogger(logger))
	w := queue.NewWorker(q, queue.WorkerOptions{
		Consumer:    consumer,
		Concurrency: cfg.Queue.Workers,
		PollTimeout: cfg.Queue.PollTimeout,
		Heartbeat:   cfg.Queue.Heartbeat,
		Logger:      logger,
	})
	handlers.Register(w)

	logger.Info("agentworker consuming queue %s with %d worker(s)", cfg.Queue.Name, cfg.Queue.Workers)
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("agentworker stopped")
	return nil
}

func logToolNames(logger log.Logger, ts []tools.Tool) {
	names := make([]string, 0, len(ts))
	for _, t := range ts {
		names = append(names, t.Name())
	}
	logger.Info("agent tools: %v", names)
}
