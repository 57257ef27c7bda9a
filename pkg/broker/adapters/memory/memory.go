// Package memory implements an in-process broker.Driver backed by
// mutex-guarded in-memory queues. It exists for tests and local
// development — no bytes cross a socket, so every Send is delivered
// to the next Fetch on the matching queue with no serialization round
// trip beyond what CanonicalMessage already represents.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/bodograumann/Propan/pkg/broker"
)

// queueSubscription is this driver's Subscription descriptor: a bare
// queue name, since the in-memory transport has no richer addressing.
type queueSubscription struct {
	name string
}

func (s queueSubscription) Key() string { return s.name }

// frame is what Ack/Nack receive back via CanonicalMessage.Raw: enough
// to requeue a nacked message onto its original queue.
type frame struct {
	queue string
	msg   *broker.CanonicalMessage
}

// Driver is an in-memory broker.Driver. The zero value is not usable;
// construct with New.
type Driver struct {
	mu     sync.Mutex
	queues map[string][]*broker.CanonicalMessage
	closed bool

	failFetches int
	failErr     error
}

// New builds an empty in-memory driver.
func New() *Driver {
	return &Driver{queues: map[string][]*broker.CanonicalMessage{}}
}

func (d *Driver) Connect(ctx context.Context) error { return nil }

func (d *Driver) NewSubscription(name string) broker.Subscription {
	return queueSubscription{name: name}
}

func (d *Driver) Declare(ctx context.Context, sub broker.Subscription) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	name := sub.Key()
	if _, ok := d.queues[name]; !ok {
		d.queues[name] = nil
	}
	return nil
}

// Fetch returns whatever is queued for sub, waiting up to the
// subscription's wait interval if the queue is currently empty — this
// mirrors the real transports' long-poll behavior closely enough for
// tests to exercise the consume loop's idle-wait branch without
// always hitting it.
func (d *Driver) Fetch(ctx context.Context, sub broker.Subscription, params broker.ConsumerParams) ([]*broker.CanonicalMessage, error) {
	name := sub.Key()
	wait := params.FetchWaitInterval(50 * time.Millisecond)

	d.mu.Lock()
	if d.failFetches > 0 {
		d.failFetches--
		err := d.failErr
		d.mu.Unlock()
		return nil, err
	}
	deadline := time.Now().Add(wait)
	for len(d.queues[name]) == 0 && !d.closed && time.Now().Before(deadline) {
		d.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
		d.mu.Lock()
	}

	batch := d.queues[name]
	d.queues[name] = nil
	d.mu.Unlock()

	out := make([]*broker.CanonicalMessage, len(batch))
	for i, msg := range batch {
		msg.Raw = frame{queue: name, msg: msg}
		out[i] = msg
	}
	return out, nil
}

// Send appends a CanonicalMessage onto destination's queue, declaring
// it implicitly if it doesn't exist yet (a real broker's topic/queue
// auto-creation on first publish).
func (d *Driver) Send(ctx context.Context, destination string, body []byte, contentType string, headers map[string]string, opts map[string]any) error {
	msg := broker.NewCanonicalMessage(body, contentType, "", headers["correlation_id"], headers["reply_to"], headers, nil)

	d.mu.Lock()
	d.queues[destination] = append(d.queues[destination], msg)
	d.mu.Unlock()
	return nil
}

// Ack is a no-op: Fetch already removed the message from its queue,
// there is nothing left to acknowledge against.
func (d *Driver) Ack(ctx context.Context, raw any) error { return nil }

// Nack requeues the message onto its original queue when requeue is
// true; a non-requeuing nack is a no-op, matching a real broker
// dropping the message.
func (d *Driver) Nack(ctx context.Context, raw any, requeue bool) error {
	if !requeue {
		return nil
	}
	f, ok := raw.(frame)
	if !ok {
		return nil
	}
	d.mu.Lock()
	d.queues[f.queue] = append(d.queues[f.queue], f.msg)
	d.mu.Unlock()
	return nil
}

func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// FailNextFetches makes the next n calls to Fetch, across any
// subscription, return err instead of a batch — a test helper for
// simulating a transient transport failure so the consume loop's
// reconnect path can be exercised.
func (d *Driver) FailNextFetches(n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failFetches = n
	d.failErr = err
}

// Peek is a test helper exposing a queue's current contents without
// consuming them.
func (d *Driver) Peek(name string) []*broker.CanonicalMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*broker.CanonicalMessage, len(d.queues[name]))
	copy(out, d.queues[name])
	return out
}
