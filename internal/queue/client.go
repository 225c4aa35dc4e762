package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

// Render jobs fail fast on bad input, so retries only cover transient
// storage and model errors.
const (
	maxRetry    = 3
	taskTimeout = 2 * time.Minute
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

func (c *Client) EnqueueRenderImage(ctx context.Context, payload RenderImagePayload) (*asynq.TaskInfo, error) {
	task, err := NewRenderImageTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(taskTimeout),
		asynq.TaskID(payload.JobID),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
