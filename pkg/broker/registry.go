package broker

import "context"

// HandlerOptions configures a single registration.
type HandlerOptions struct {
	Retry          RetryPolicy
	Raw            bool
	Description    string
	ConsumerParams ConsumerParams
}

// HandlerOption mutates HandlerOptions; see WithRetry, WithConsumerParams, WithDescription.
type HandlerOption func(*HandlerOptions)

// WithRetry sets the subscription's retry policy. Default is NoRetry.
func WithRetry(policy RetryPolicy) HandlerOption {
	return func(o *HandlerOptions) { o.Retry = policy }
}

// WithConsumerParams sets transport-level consumer tuning
// (prefetch, visibility timeout, wait interval, ...).
func WithConsumerParams(params ConsumerParams) HandlerOption {
	return func(o *HandlerOptions) { o.ConsumerParams = params }
}

// WithDescription attaches a human-readable description to the
// handler record (HandlerRecord.Options.Description). The broker
// stores it but does not write it to any log.
func WithDescription(desc string) HandlerOption {
	return func(o *HandlerOptions) { o.Description = desc }
}

// wrappedCallback is the fully wrapped per-message dispatch function
// produced by the handler wrapper pipeline: one call runs
// decode/resolve/invoke, the optional reply, and the ack/nack/retry
// decision for a single message.
type wrappedCallback func(ctx context.Context, msg *CanonicalMessage) error

// HandlerRecord is a registered binding: subscription, wrapped
// callback, consumer params, retry policy, and (once Start has run) a
// running consume task.
type HandlerRecord struct {
	Subscription Subscription
	Options      HandlerOptions
	callback     wrappedCallback

	cancel context.CancelFunc
	done   chan struct{}
}

func buildHandlerOptions(opts []HandlerOption) HandlerOptions {
	cfg := HandlerOptions{Retry: NoRetry}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// register adds a HandlerRecord to the broker's registry. The registry
// is mutated only before Start and is read-only thereafter.
func (b *Broker) register(sub Subscription, opts HandlerOptions, callback wrappedCallback) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != stateNew && b.state != stateConnected {
		return ErrConfigurationError("handlers must be registered before Start")
	}

	b.handlers = append(b.handlers, &HandlerRecord{
		Subscription: sub,
		Options:      opts,
		callback:     callback,
	})
	return nil
}

// Handle registers a handler whose single parameter is the decoded
// message payload, resolved into type T by the broker's ArgResolver
// Use HandleRaw to bypass decoding entirely (raw mode).
func Handle[T any](b *Broker, sub Subscription, fn func(ctx context.Context, payload T) (any, error), opts ...HandlerOption) error {
	cfg := buildHandlerOptions(opts)
	cfg.Raw = false

	call := func(ctx context.Context, msg *CanonicalMessage) (any, error) {
		decoded := Decode(msg)
		var payload T
		if err := b.resolver.Resolve(ctx, decoded, msg, &payload); err != nil {
			return nil, err
		}
		return fn(ctx, payload)
	}

	return b.register(sub, cfg, b.wrapHandler(sub, cfg, call))
}

// HandleRaw registers a handler that receives the raw CanonicalMessage
// without decoding (raw mode).
func HandleRaw(b *Broker, sub Subscription, fn func(ctx context.Context, msg *CanonicalMessage) (any, error), opts ...HandlerOption) error {
	cfg := buildHandlerOptions(opts)
	cfg.Raw = true

	call := func(ctx context.Context, msg *CanonicalMessage) (any, error) {
		return fn(ctx, msg)
	}

	return b.register(sub, cfg, b.wrapHandler(sub, cfg, call))
}
