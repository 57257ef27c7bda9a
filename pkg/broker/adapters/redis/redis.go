// Package redis implements broker.Driver on top of Redis Pub/Sub.
// Pub/Sub has no redelivery or acknowledgment concept, so Ack/Nack are
// no-ops here: once a message has been delivered to a subscriber it is
// gone regardless of what the handler does with it, matching at-most-
// once delivery. Headers/correlation metadata don't fit in a Pub/Sub
// payload (a bare string), so Send/Fetch wrap the canonical message in
// a small JSON envelope.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bodograumann/Propan/pkg/broker"
	"github.com/bodograumann/Propan/pkg/logger"
	"github.com/redis/go-redis/v9"
)

type subscription struct {
	channel string
}

func (s subscription) Key() string { return s.channel }

// Subscribe builds the redis.Driver's Subscription descriptor for channel.
func Subscribe(channel string) broker.Subscription {
	return subscription{channel: channel}
}

// Config configures the driver's connection.
type Config struct {
	Addr     string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD" env-default:""`
	DB       int    `env:"REDIS_DB" env-default:"0"`
}

// envelope carries the fields a bare Pub/Sub payload has no room for.
type envelope struct {
	Body          []byte            `json:"body"`
	ContentType   string            `json:"content_type,omitempty"`
	MessageID     string            `json:"message_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	ReplyTo       string            `json:"reply_to,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
}

// Driver implements broker.Driver against Redis Pub/Sub.
type Driver struct {
	client *redis.Client

	mu   sync.Mutex
	subs map[string]*redis.PubSub
}

// New builds a redis.Driver from cfg. The connection is established
// lazily by Connect.
func New(cfg Config) *Driver {
	return &Driver{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		subs: map[string]*redis.PubSub{},
	}
}

func (d *Driver) Connect(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

func (d *Driver) NewSubscription(name string) broker.Subscription {
	return subscription{channel: name}
}

func (d *Driver) Declare(ctx context.Context, sub broker.Subscription) error {
	s := sub.(subscription)

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subs[s.channel]; ok {
		return nil
	}
	d.subs[s.channel] = d.client.Subscribe(ctx, s.channel)
	return nil
}

// Fetch collects whatever envelopes arrive on sub's channel within the
// wait interval; an empty result is not an error.
func (d *Driver) Fetch(ctx context.Context, sub broker.Subscription, params broker.ConsumerParams) ([]*broker.CanonicalMessage, error) {
	s := sub.(subscription)

	d.mu.Lock()
	ps, ok := d.subs[s.channel]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("redis: channel %q not declared", s.channel)
	}

	wait := params.FetchWaitInterval(time.Second)
	deadline := time.Now().Add(wait)

	var out []*broker.CanonicalMessage
	for time.Now().Before(deadline) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		fetchCtx, cancel := context.WithTimeout(ctx, remaining)
		msg, err := ps.ReceiveMessage(fetchCtx)
		cancel()
		if err != nil {
			if fetchCtx.Err() != nil || ctx.Err() != nil {
				break
			}
			return out, fmt.Errorf("redis: receive: %w", err)
		}

		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			// Not one of ours (published directly by some other
			// client): treat the raw payload as an opaque text body.
			env = envelope{Body: []byte(msg.Payload), ContentType: broker.ContentTypeText}
		}
		out = append(out, broker.NewCanonicalMessage(env.Body, env.ContentType, env.MessageID, env.CorrelationID, env.ReplyTo, env.Headers, msg))

		if len(out) >= 10 {
			break
		}
	}
	return out, nil
}

func (d *Driver) Send(ctx context.Context, destination string, body []byte, contentType string, headers map[string]string, opts map[string]any) error {
	env := envelope{
		Body:          body,
		ContentType:   contentType,
		CorrelationID: headers["correlation_id"],
		ReplyTo:       headers["reply_to"],
		Headers:       headers,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("redis: marshal envelope: %w", err)
	}
	return d.client.Publish(ctx, destination, payload).Err()
}

// Ack is a no-op: Pub/Sub has already delivered the message to every
// subscriber by the time a handler runs, there is nothing to confirm.
func (d *Driver) Ack(ctx context.Context, raw any) error { return nil }

// Nack is a no-op for the same reason: Pub/Sub has no redelivery, so
// "requeue" has nothing to act on.
func (d *Driver) Nack(ctx context.Context, raw any, requeue bool) error { return nil }

func (d *Driver) Close(ctx context.Context) error {
	logger.L().InfoContext(ctx, "closing redis connection")
	d.mu.Lock()
	for _, ps := range d.subs {
		_ = ps.Close()
	}
	d.mu.Unlock()
	return d.client.Close()
}
