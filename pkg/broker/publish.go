package broker

import (
	"context"
	"time"
)

// defaultCallbackTimeout bounds an RPC wait when the caller doesn't
// specify one, so a forgotten response_queue can't hang a publisher
// forever.
const defaultCallbackTimeout = 30 * time.Second

// PublishOptions configures a Publish call.
type PublishOptions struct {
	Headers         map[string]string
	ReplyTo         string
	Callback        bool
	CallbackTimeout time.Duration
	RaiseTimeout    bool
	TransportOpts   map[string]any
}

// PublishOption mutates PublishOptions.
type PublishOption func(*PublishOptions)

// WithHeaders attaches headers to the outgoing message.
func WithHeaders(headers map[string]string) PublishOption {
	return func(o *PublishOptions) { o.Headers = headers }
}

// WithReplyTo explicitly sets the reply destination, requesting a
// synchronous wait for the correlated response.
func WithReplyTo(dest string) PublishOption {
	return func(o *PublishOptions) { o.ReplyTo = dest }
}

// WithCallback requests a synchronous reply wait using the broker's
// configured response_queue as reply_to.
func WithCallback(callback bool) PublishOption {
	return func(o *PublishOptions) { o.Callback = callback }
}

// WithCallbackTimeout bounds how long Publish waits for a reply.
func WithCallbackTimeout(d time.Duration) PublishOption {
	return func(o *PublishOptions) { o.CallbackTimeout = d }
}

// WithRaiseTimeout selects whether a callback timeout surfaces as an
// error (true) or a nil result (false, the default).
func WithRaiseTimeout(raise bool) PublishOption {
	return func(o *PublishOptions) { o.RaiseTimeout = raise }
}

// WithTransportOptions passes driver-specific publish tuning through
// untouched (delay seconds, FIFO group id, partition key, ...).
func WithTransportOptions(opts map[string]any) PublishOption {
	return func(o *PublishOptions) { o.TransportOpts = opts }
}

// Publish encodes value, sends it to destination, and — if a reply is
// requested (explicitly via WithReplyTo, or implicitly via
// WithCallback plus a configured response_queue) — waits up to
// callbackTimeout for the correlated response.
func (b *Broker) Publish(ctx context.Context, value any, destination string, opts ...PublishOption) (any, error) {
	cfg := PublishOptions{CallbackTimeout: defaultCallbackTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	replyTo := cfg.ReplyTo
	if cfg.Callback && replyTo == "" {
		replyTo = b.responseQueueName
	}
	if cfg.Callback && replyTo == "" {
		return nil, ErrConfigurationError("callback=true requires reply_to or a broker-level response_queue")
	}

	headers := map[string]string{}
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	var correlationID string
	var resultCh chan correlatorResult
	waiting := replyTo != "" && (cfg.Callback || cfg.ReplyTo != "")
	if waiting {
		correlationID, resultCh = b.correlator.allocate()
		headers["correlation_id"] = correlationID
		headers["reply_to"] = replyTo
	}

	body, contentType, err := Encode(value)
	if err != nil {
		if waiting {
			b.correlator.remove(correlationID)
		}
		return nil, err
	}

	if err := b.driver.Send(ctx, destination, body, contentType, headers, cfg.TransportOpts); err != nil {
		if waiting {
			b.correlator.remove(correlationID)
		}
		return nil, ErrTransportError(err)
	}

	if !waiting {
		return nil, nil
	}

	timeout := cfg.CallbackTimeout
	if timeout <= 0 {
		timeout = defaultCallbackTimeout
	}

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		return res.value, nil

	case <-time.After(timeout):
		b.correlator.remove(correlationID)
		if cfg.RaiseTimeout {
			return nil, ErrTimeout(destination)
		}
		return nil, nil

	case <-ctx.Done():
		b.correlator.remove(correlationID)
		return nil, ctx.Err()
	}
}

// publishOneWay sends an encoded value without registering for (or
// waiting on) a reply — used by the handler wrapper to deliver an RPC
// response, and never by the response-queue handler itself
// (responses don't themselves reply).
func (b *Broker) publishOneWay(ctx context.Context, value any, destination string, headers map[string]string) error {
	body, contentType, err := Encode(value)
	if err != nil {
		return err
	}
	return b.driver.Send(ctx, destination, body, contentType, headers, nil)
}
