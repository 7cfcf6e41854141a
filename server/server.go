// Package server exposes the agent service over HTTP. Handlers only touch the
// session store, the long-term memory and the task queue; agent runs happen in
// the worker process.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smallnest/hilagent/config"
	"github.com/smallnest/hilagent/log"
	"github.com/smallnest/hilagent/memory"
	"github.com/smallnest/hilagent/queue"
	"github.com/smallnest/hilagent/session"
	"github.com/smallnest/hilagent/store"
)

// Enqueuer submits tasks to the worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any) (*queue.Task, error)
}

// Pinger is implemented by backends that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	Addr        string
	Sessions    *session.Manager
	Queue       Enqueuer
	Memory      memory.Store
	Checkpoints store.CheckpointStore
	// SessionTTL is applied to session records written by the API.
	SessionTTL time.Duration
	// SystemPrompt is used when a request has no system message.
	SystemPrompt    string
	ShutdownTimeout time.Duration
	Logger          log.Logger
}

// Server is the HTTP front of the agent service.
type Server struct {
	sessions        *session.Manager
	queue           Enqueuer
	memory          memory.Store
	checkpoints     store.CheckpointStore
	sessionTTL      time.Duration
	systemPrompt    string
	shutdownTimeout time.Duration
	logger          log.Logger

	srv *http.Server
}

// New creates a server. Memory and Checkpoints may be nil; the long-term
// memory routes then fail and task deletion leaves checkpoints in place.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.GetDefaultLogger()
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = config.DefaultSystemPrompt
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		sessions:        opts.Sessions,
		queue:           opts.Queue,
		memory:          opts.Memory,
		checkpoints:     opts.Checkpoints,
		sessionTTL:      opts.SessionTTL,
		systemPrompt:    opts.SystemPrompt,
		shutdownTimeout: opts.ShutdownTimeout,
		logger:          opts.Logger,
	}
	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /agent/invoke", s.handleInvoke)
	mux.HandleFunc("POST /agent/resume", s.handleResume)
	mux.HandleFunc("GET /system/info", s.handleSystemInfo)
	mux.HandleFunc("GET /agent/active/sessionid/{user_id}", s.handleActiveSession)
	mux.HandleFunc("GET /agent/sessionids/{user_id}", s.handleSessionIDs)
	mux.HandleFunc("GET /agent/tasks/{user_id}/{session_id}", s.handleTasks)
	mux.HandleFunc("GET /agent/status/{user_id}/{session_id}/{task_id}", s.handleStatus)
	mux.HandleFunc("POST /agent/write/longterm", s.handleWriteLongTerm)
	mux.HandleFunc("GET /agent/read/longterm/{user_id}", s.handleReadLongTerm)
	mux.HandleFunc("DELETE /agent/session/{user_id}/{session_id}", s.handleDeleteSession)
	mux.HandleFunc("DELETE /agent/task/{user_id}/{session_id}/{task_id}", s.handleDeleteTask)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return recoverer(s.logger, logRequests(s.logger, mux))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("http server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		s.logger.Info("http server shutting down")
		return s.srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
