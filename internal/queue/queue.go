// Package queue defines the job payload and the asynq client the dispatcher
// enqueues through.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/AaronKronberg/OpusPipeline/internal/task"
)

const typePrefix = "task:"

// TypeName is the asynq task type for kind, e.g. "task:pipeline".
func TypeName(kind task.Kind) string {
	return typePrefix + string(kind)
}

// Payload is the JSON body of every job. DispatchID ties the job to one
// dispatch of the task; jobs from an older dispatch are dropped.
type Payload struct {
	Kind           task.Kind      `json:"kind"`
	TaskID         string         `json:"task_id"`
	DispatchID     string         `json:"dispatch_id"`
	ExecutionID    string         `json:"execution_id"`
	ConfigOverride map[string]any `json:"config_override,omitempty"`
}

// NewJob encodes p as an asynq task of the matching type.
func NewJob(p Payload) (*asynq.Task, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeName(p.Kind), raw), nil
}

// ParsePayload decodes a job body and checks it names a task and a dispatch.
func ParsePayload(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	if _, err := task.ParseKind(string(p.Kind)); err != nil {
		return Payload{}, err
	}
	if p.TaskID == "" || p.DispatchID == "" {
		return Payload{}, fmt.Errorf("%w: payload needs task_id and dispatch_id", task.ErrInvalidInput)
	}
	return p, nil
}

// Options are applied to every enqueued job.
type Options struct {
	Queue    string
	MaxRetry int
	Timeout  time.Duration
}

// For returns the asynq options of the job for dispatchID. The dispatch id
// doubles as the asynq task id, so one dispatch is never enqueued twice.
func (o Options) For(dispatchID string) []asynq.Option {
	opts := []asynq.Option{asynq.MaxRetry(o.MaxRetry), asynq.TaskID(dispatchID)}
	if o.Queue != "" {
		opts = append(opts, asynq.Queue(o.Queue))
	}
	if o.Timeout > 0 {
		opts = append(opts, asynq.Timeout(o.Timeout))
	}
	return opts
}

// Enqueuer hands a job to the broker.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Client enqueues through Redis.
type Client struct {
	client *asynq.Client
}

func NewClient(opt asynq.RedisConnOpt) *Client {
	return &Client{client: asynq.NewClient(opt)}
}

func (c *Client) Enqueue(ctx context.Context, job *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	return c.client.EnqueueContext(ctx, job, opts...)
}

func (c *Client) Close() error {
	return c.client.Close()
}
