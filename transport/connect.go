package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/cenkalti/backoff/v5"
)

// Connect runs op until it succeeds or the connection budget from cfg is
// spent. Failed attempts are logged with the wait before the next one.
// The last error is returned wrapped with the transport name.
func Connect[T any](ctx context.Context, name string, cfg Config, logger watermill.LoggerAdapter, op func() (T, error)) (T, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	attempt := 0
	result, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		return op()
	},
		backoff.WithBackOff(connectBackOff(cfg)),
		backoff.WithMaxElapsedTime(connectMaxElapsed(cfg)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.Error("Broker connection attempt failed", err, watermill.LogFields{
				"transport": name,
				"attempt":   attempt,
				"retry_in":  wait.String(),
			})
		}),
	)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s: connect failed after %d attempt(s): %w", name, attempt, err)
	}
	if attempt > 1 {
		logger.Info("Broker connection established", watermill.LogFields{
			"transport": name,
			"attempts":  attempt,
		})
	}
	return result, nil
}

func connectBackOff(cfg Config) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if cfg == nil {
		return b
	}
	if initial := cfg.GetConnectInitialInterval(); initial > 0 {
		b.InitialInterval = initial
	}
	if maxInterval := cfg.GetConnectMaxInterval(); maxInterval > 0 {
		b.MaxInterval = maxInterval
	}
	return b
}

func connectMaxElapsed(cfg Config) time.Duration {
	if cfg == nil || cfg.GetConnectMaxElapsed() <= 0 {
		return time.Minute
	}
	return cfg.GetConnectMaxElapsed()
}
