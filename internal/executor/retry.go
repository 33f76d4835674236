package executor

import (
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// RetryDelay returns base * 2^n for the n-th retry, capped at max.
func RetryDelay(base, max time.Duration) asynq.RetryDelayFunc {
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		d := base
		for i := 0; i < n && d < max; i++ {
			d *= 2
		}
		if d > max || d <= 0 {
			return max
		}
		return d
	}
}

// ServerConfig builds the asynq server configuration for the worker. The
// zap sugared logger satisfies asynq.Logger.
func ServerConfig(concurrency int, queueName string, base, max time.Duration, log *zap.Logger) asynq.Config {
	return asynq.Config{
		Concurrency:    concurrency,
		Queues:         map[string]int{queueName: 1},
		RetryDelayFunc: RetryDelay(base, max),
		Logger:         log.Named("asynq").Sugar(),
		LogLevel:       asynq.InfoLevel,
	}
}
