package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smallnest/hilagent/log"
)

// Handler processes one task. A returned error is logged; the task is still
// acknowledged unless the worker itself is shutting down.
type Handler func(ctx context.Context, t *Task) error

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	// Consumer prefixes the per-goroutine consumer names. Defaults to the host name.
	Consumer    string
	Concurrency int
	PollTimeout time.Duration
	Heartbeat   time.Duration
	Logger      log.Logger
}

// Worker pulls tasks from a Queue with a fixed pool of goroutines.
type Worker struct {
	queue    *Queue
	opts     WorkerOptions
	logger   log.Logger
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewWorker creates a worker on q.
func NewWorker(q *Queue, opts WorkerOptions) *Worker {
	if opts.Consumer == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "worker"
		}
		opts.Consumer = host
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 2 * time.Second
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.GetDefaultLogger()
	}
	return &Worker{
		queue:    q,
		opts:     opts,
		logger:   opts.Logger,
		handlers: make(map[string]Handler),
	}
}

// Handle registers h for tasks named name.
func (w *Worker) Handle(name string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[name] = h
}

func (w *Worker) handler(name string) (Handler, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	h, ok := w.handlers[name]
	return h, ok
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	consumers := make([]string, w.opts.Concurrency)
	for i := range consumers {
		consumers[i] = ConsumerID(w.opts.Consumer)
	}

	if err := w.beat(ctx, consumers); err != nil {
		return fmt.Errorf("register consumers: %w", err)
	}
	if _, err := w.queue.Recover(ctx); err != nil {
		w.logger.Error("recover orphaned tasks: %v", err)
	}
	w.logger.Info("worker %s started with %d consumer(s) on %s", w.opts.Consumer, len(consumers), w.queue.name)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w.heartbeatLoop(gctx, consumers)
		return nil
	})
	for _, consumer := range consumers {
		g.Go(func() error {
			return w.consume(gctx, consumer)
		})
	}
	err := g.Wait()

	cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	for _, consumer := range consumers {
		if rerr := w.queue.Retire(cleanup, consumer); rerr != nil {
			w.logger.Warn("retire consumer %s: %v", consumer, rerr)
		}
	}
	w.logger.Info("worker %s stopped", w.opts.Consumer)
	return err
}

func (w *Worker) beat(ctx context.Context, consumers []string) error {
	for _, consumer := range consumers {
		if err := w.queue.Heartbeat(ctx, consumer, 3*w.opts.Heartbeat); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) heartbeatLoop(ctx context.Context, consumers []string) {
	ticker := time.NewTicker(w.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.beat(ctx, consumers); err != nil && ctx.Err() == nil {
				w.logger.Warn("heartbeat: %v", err)
			}
			if _, err := w.queue.Recover(ctx); err != nil && ctx.Err() == nil {
				w.logger.Warn("recover: %v", err)
			}
		}
	}
}

func (w *Worker) consume(ctx context.Context, consumer string) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		t, err := w.queue.Dequeue(ctx, consumer, w.opts.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("consumer %s: %v", consumer, err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if t == nil {
			continue
		}
		w.process(ctx, consumer, t)
	}
}

func (w *Worker) process(ctx context.Context, consumer string, t *Task) {
	start := time.Now()
	err := w.dispatch(ctx, t)

	if ctx.Err() != nil {
		// Left in the processing list; a later Recover hands it to another consumer.
		w.logger.Warn("task %s (%s) interrupted by shutdown", t.ID, t.Name)
		return
	}
	if err != nil {
		w.logger.Error("task %s (%s) failed after %s: %v", t.ID, t.Name, time.Since(start), err)
	} else {
		w.logger.Info("task %s (%s) done in %s", t.ID, t.Name, time.Since(start))
	}
	if err := w.queue.Ack(ctx, consumer, t); err != nil {
		w.logger.Error("%v", err)
	}
}

// ErrNoHandler is returned for tasks nobody registered a handler for.
var ErrNoHandler = errors.New("no handler registered")

func (w *Worker) dispatch(ctx context.Context, t *Task) (err error) {
	h, ok := w.handler(t.Name)
	if !ok {
		return fmt.Errorf("%w for %q", ErrNoHandler, t.Name)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return h(ctx, t)
}
