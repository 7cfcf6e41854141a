// Package queue is a small at-least-once task queue on Redis lists.
//
// Producers LPUSH onto queue:{name}:pending. A consumer atomically moves a
// task into its own queue:{name}:processing:{consumer} list with BLMOVE and
// removes it with Ack once handled. Consumers refresh a heartbeat key while
// alive; Recover pushes the processing lists of consumers whose heartbeat
// expired back onto the pending list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/smallnest/hilagent/log"
)

// Task is a unit of work.
type Task struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Attempts   int             `json:"attempts"`

	raw string
}

// Decode unmarshals the payload into v.
func (t *Task) Decode(v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("decode payload of task %s (%s): %w", t.ID, t.Name, err)
	}
	return nil
}

// Queue is a named Redis task queue.
type Queue struct {
	client redis.UniversalClient
	name   string
	logger log.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// New creates a queue named name on client.
func New(client redis.UniversalClient, name string, opts ...Option) *Queue {
	if name == "" {
		name = "default"
	}
	q := &Queue{client: client, name: name, logger: log.GetDefaultLogger()}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) pendingKey() string {
	return fmt.Sprintf("queue:%s:pending", q.name)
}

func (q *Queue) processingKey(consumer string) string {
	return fmt.Sprintf("queue:%s:processing:%s", q.name, consumer)
}

func (q *Queue) heartbeatKey(consumer string) string {
	return fmt.Sprintf("queue:%s:consumer:%s", q.name, consumer)
}

func (q *Queue) consumersKey() string {
	return fmt.Sprintf("queue:%s:consumers", q.name)
}

// Enqueue adds a task carrying payload, marshalled as JSON.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any) (*Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	t := &Task{
		ID:         uuid.NewString(),
		Name:       name,
		Payload:    data,
		EnqueuedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}
	if err := q.client.LPush(ctx, q.pendingKey(), raw).Err(); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", name, err)
	}
	t.raw = string(raw)
	q.logger.Debug("enqueued task %s (%s) on %s", t.ID, name, q.name)
	return t, nil
}

// Dequeue blocks up to timeout for the next task and moves it into the
// consumer's processing list. It returns nil, nil on timeout.
func (q *Queue) Dequeue(ctx context.Context, consumer string, timeout time.Duration) (*Task, error) {
	raw, err := q.client.BLMove(ctx, q.pendingKey(), q.processingKey(consumer), "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		// Drop poison messages instead of redelivering them forever.
		q.client.LRem(ctx, q.processingKey(consumer), 1, raw)
		return nil, fmt.Errorf("decode task: %w", err)
	}
	t.raw = raw
	return &t, nil
}

// Ack removes a handled task from the consumer's processing list.
func (q *Queue) Ack(ctx context.Context, consumer string, t *Task) error {
	if err := q.client.LRem(ctx, q.processingKey(consumer), 1, t.raw).Err(); err != nil {
		return fmt.Errorf("ack task %s: %w", t.ID, err)
	}
	return nil
}

// Heartbeat marks consumer alive for ttl.
func (q *Queue) Heartbeat(ctx context.Context, consumer string, ttl time.Duration) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.heartbeatKey(consumer), time.Now().Unix(), ttl)
		pipe.SAdd(ctx, q.consumersKey(), consumer)
		return nil
	})
	return err
}

// Retire drops the heartbeat of consumer so its unacknowledged tasks become
// eligible for Recover right away.
func (q *Queue) Retire(ctx context.Context, consumer string) error {
	return q.client.Del(ctx, q.heartbeatKey(consumer)).Err()
}

// Recover requeues the tasks held by consumers whose heartbeat expired and
// returns how many were moved.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	consumers, err := q.client.SMembers(ctx, q.consumersKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("list consumers: %w", err)
	}

	moved := 0
	for _, consumer := range consumers {
		alive, err := q.client.Exists(ctx, q.heartbeatKey(consumer)).Result()
		if err != nil {
			return moved, err
		}
		if alive > 0 {
			continue
		}

		n, err := q.requeue(ctx, consumer)
		moved += n
		if err != nil {
			return moved, err
		}
		if err := q.client.SRem(ctx, q.consumersKey(), consumer).Err(); err != nil {
			return moved, err
		}
	}
	if moved > 0 {
		q.logger.Warn("recovered %d orphaned task(s) on %s", moved, q.name)
	}
	return moved, nil
}

// requeueScript swaps a held task for its updated encoding at the head of
// the pending line. Nothing moves when the task is no longer held.
var requeueScript = redis.NewScript(`
if redis.call('LREM', KEYS[1], 1, ARGV[1]) == 0 then
	return 0
end
redis.call('RPUSH', KEYS[2], ARGV[2])
return 1
`)

func (q *Queue) requeue(ctx context.Context, consumer string) (int, error) {
	src := q.processingKey(consumer)
	n := 0
	for {
		// Newest first, so the oldest ends up at the head of the line.
		raw, err := q.client.LIndex(ctx, src, 0).Result()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}

		var t Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			q.logger.Error("drop undecodable task held by %s: %v", consumer, err)
			if err := q.client.LRem(ctx, src, 1, raw).Err(); err != nil {
				return n, err
			}
			continue
		}
		ok, err := q.requeueOne(ctx, src, raw, &t)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
}

// requeueOne moves raw, the encoding of t, from src back to pending with one
// more attempt counted.
func (q *Queue) requeueOne(ctx context.Context, src, raw string, t *Task) (bool, error) {
	t.Attempts++
	data, err := json.Marshal(t)
	if err != nil {
		return false, err
	}
	moved, err := requeueScript.Run(ctx, q.client, []string{src, q.pendingKey()}, raw, string(data)).Int()
	if err != nil {
		return false, fmt.Errorf("requeue task %s: %w", t.ID, err)
	}
	return moved == 1, nil
}

// Len returns the number of pending tasks.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.pendingKey()).Result()
}

// InFlight returns the number of tasks held by consumer.
func (q *Queue) InFlight(ctx context.Context, consumer string) (int64, error) {
	return q.client.LLen(ctx, q.processingKey(consumer)).Result()
}

// ConsumerID builds a consumer name unique to this process.
func ConsumerID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString()[:8], "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}
