package broker

import (
	"context"
	"time"

	"github.com/bodograumann/Propan/pkg/resilience"
)

// ResilientDriverConfig configures the resilient driver wrapper's
// circuit breaker and retry behavior.
type ResilientDriverConfig struct {
	CircuitBreakerEnabled   bool          `env:"BROKER_CB_ENABLED" env-default:"true"`
	CircuitBreakerThreshold int64         `env:"BROKER_CB_THRESHOLD" env-default:"5"`
	CircuitBreakerTimeout   time.Duration `env:"BROKER_CB_TIMEOUT" env-default:"30s"`

	RetryEnabled     bool          `env:"BROKER_RETRY_ENABLED" env-default:"true"`
	RetryMaxAttempts int           `env:"BROKER_RETRY_MAX" env-default:"3"`
	RetryBackoff     time.Duration `env:"BROKER_RETRY_BACKOFF" env-default:"100ms"`
}

// DefaultResilientDriverConfig returns sane defaults matching the
// env-default tags above, for construction outside of config.Load.
func DefaultResilientDriverConfig() ResilientDriverConfig {
	return ResilientDriverConfig{
		CircuitBreakerEnabled:   true,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30 * time.Second,
		RetryEnabled:            true,
		RetryMaxAttempts:        3,
		RetryBackoff:            100 * time.Millisecond,
	}
}

// ResilientDriver wraps a Driver's Connect/Declare/Fetch/Send calls with
// a circuit breaker and retry-with-backoff, so a flaky transport doesn't
// need every adapter to reimplement resilience itself.
// Ack/Nack/Close/NewSubscription pass through unwrapped: acking twice
// already has its own semantics at the call site (watcher scope).
type ResilientDriver struct {
	next     Driver
	cb       *resilience.CircuitBreaker
	retryCfg resilience.RetryConfig
}

// NewResilientDriver wraps next with circuit breaker and retry behavior.
func NewResilientDriver(next Driver, cfg ResilientDriverConfig) *ResilientDriver {
	rd := &ResilientDriver{next: next}

	if cfg.CircuitBreakerEnabled {
		rd.cb = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "broker",
			FailureThreshold: cfg.CircuitBreakerThreshold,
			SuccessThreshold: 2,
			Timeout:          cfg.CircuitBreakerTimeout,
		})
	}

	if cfg.RetryEnabled {
		rd.retryCfg = resilience.RetryConfig{
			MaxAttempts:    cfg.RetryMaxAttempts,
			InitialBackoff: cfg.RetryBackoff,
			MaxBackoff:     5 * time.Second,
			Multiplier:     2.0,
		}
	}

	return rd
}

func (d *ResilientDriver) execute(ctx context.Context, fn resilience.Executor) error {
	operation := fn

	if d.cb != nil {
		cbFn := operation
		operation = func(ctx context.Context) error {
			return d.cb.Execute(ctx, cbFn)
		}
	}

	if d.retryCfg.MaxAttempts > 0 {
		return resilience.Retry(ctx, d.retryCfg, operation)
	}

	return operation(ctx)
}

func (d *ResilientDriver) Connect(ctx context.Context) error {
	return d.execute(ctx, d.next.Connect)
}

func (d *ResilientDriver) NewSubscription(name string) Subscription {
	return d.next.NewSubscription(name)
}

func (d *ResilientDriver) Declare(ctx context.Context, sub Subscription) error {
	return d.execute(ctx, func(ctx context.Context) error {
		return d.next.Declare(ctx, sub)
	})
}

func (d *ResilientDriver) Fetch(ctx context.Context, sub Subscription, params ConsumerParams) ([]*CanonicalMessage, error) {
	var messages []*CanonicalMessage
	err := d.execute(ctx, func(ctx context.Context) error {
		var err error
		messages, err = d.next.Fetch(ctx, sub, params)
		return err
	})
	return messages, err
}

func (d *ResilientDriver) Send(ctx context.Context, destination string, body []byte, contentType string, headers map[string]string, opts map[string]any) error {
	return d.execute(ctx, func(ctx context.Context) error {
		return d.next.Send(ctx, destination, body, contentType, headers, opts)
	})
}

func (d *ResilientDriver) Ack(ctx context.Context, raw any) error {
	return d.next.Ack(ctx, raw)
}

func (d *ResilientDriver) Nack(ctx context.Context, raw any, requeue bool) error {
	return d.next.Nack(ctx, raw, requeue)
}

func (d *ResilientDriver) Close(ctx context.Context) error {
	return d.next.Close(ctx)
}
