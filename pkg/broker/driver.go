package broker

import (
	"context"
	"time"
)

// Subscription is what a handler binds to: a transport-specific
// descriptor (queue name, subject pattern, stream+group, etc.) opaque
// to the core. The core only needs an equality key for logging and
// metrics.
type Subscription interface {
	// Key identifies the subscription for logging/metrics; two
	// subscriptions bound to the same underlying queue/subject should
	// return the same key.
	Key() string
}

// ConsumerParams carries transport-level consumer tuning (prefetch,
// visibility timeout, wait interval, ...), opaque to the core and
// interpreted by whichever Driver receives it.
type ConsumerParams map[string]any

// FetchWaitInterval extracts the "how long to idle before re-fetching"
// knob consumer params commonly carry, returning def when it is absent,
// mirroring the wait_interval the SQS/RabbitMQ/NATS drivers all accept.
func (p ConsumerParams) FetchWaitInterval(def time.Duration) time.Duration {
	if p == nil {
		return def
	}
	if v, ok := p["wait_interval"]; ok {
		if d, ok := v.(time.Duration); ok {
			return d
		}
	}
	return def
}

// Driver is the transport driver contract: the only plug-in
// surface for a concrete broker (RabbitMQ, NATS, Redis Pub/Sub, SQS,
// Kafka, or an in-memory fake). No transport-specific detail leaks
// past this interface into the wrapper/consume-loop pipeline.
type Driver interface {
	// Connect establishes the transport connection. Adapters hold
	// their own URL/credentials from construction.
	Connect(ctx context.Context) error

	// NewSubscription builds this driver's Subscription descriptor for
	// a bare name, used by the broker to install the implicit
	// response-queue handler.
	NewSubscription(name string) Subscription

	// Declare ensures the subscription's queue/subject/stream exists
	// and is ready to be fetched from.
	Declare(ctx context.Context, sub Subscription) error

	// Fetch pulls the next batch of messages for sub, blocking up to
	// the driver's native wait parameter. An empty, nil-error batch is
	// a valid "nothing arrived this poll" result.
	Fetch(ctx context.Context, sub Subscription, params ConsumerParams) ([]*CanonicalMessage, error)

	// Send publishes body to destination with the given content-type
	// label and headers.
	Send(ctx context.Context, destination string, body []byte, contentType string, headers map[string]string, opts map[string]any) error

	// Ack acknowledges successful processing of the frame raw points at.
	Ack(ctx context.Context, raw any) error

	// Nack negatively acknowledges raw; requeue selects redelivery vs. drop.
	Nack(ctx context.Context, raw any, requeue bool) error

	// Close releases the transport connection. Idempotent.
	Close(ctx context.Context) error
}
