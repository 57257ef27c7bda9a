package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bodograumann/Propan/pkg/logger"
)

// state is the broker lifecycle: NEW -> CONNECTED -> RUNNING -> CLOSED.
type state int

const (
	stateNew state = iota
	stateConnected
	stateRunning
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateNew:
		return "new"
	case stateConnected:
		return "connected"
	case stateRunning:
		return "running"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// reconnectBackoff is the fixed delay a consume loop waits before
// retrying a failed Fetch/Declare against the transport.
const reconnectBackoff = 5 * time.Second

// shutdownGrace bounds how long Close waits for in-flight consume
// loops to notice cancellation and exit before returning anyway.
const shutdownGrace = 10 * time.Second

// Broker is the transport-agnostic runtime: it owns the handler
// registry, the RPC correlation table, and the lifecycle state
// machine, and delegates every transport-specific action to a Driver.
type Broker struct {
	driver              Driver
	resolver            ArgResolver
	responseQueueName   string
	responseQueueParams ConsumerParams

	mu       sync.Mutex
	state    state
	handlers []*HandlerRecord

	responseSub Subscription
	correlator  *correlator
}

// Option configures a Broker at construction time.
type Option func(*Broker)

// WithResponseQueue installs an implicit RPC response handler on name
// when Start runs: publishers using WithCallback(true)
// without an explicit reply_to will have replies routed here.
func WithResponseQueue(name string) Option {
	return func(b *Broker) { b.responseQueueName = name }
}

// responseQueueWaitDefault keeps the implicit response handler's poll
// interval short by default: an RPC caller is already waiting on
// WithCallbackTimeout, so the reply queue shouldn't sit idle for a
// whole idleWaitDefault between fetches. WithResponseQueueParams
// overrides this.
const responseQueueWaitDefault = 20 * time.Millisecond

// WithResponseQueueParams overrides the ConsumerParams used for the
// implicit response-queue handler installed by WithResponseQueue.
func WithResponseQueueParams(params ConsumerParams) Option {
	return func(b *Broker) { b.responseQueueParams = params }
}

// WithResolver overrides the default JSON-round-trip ArgResolver with
// a caller-supplied dependency-injection collaborator.
func WithResolver(r ArgResolver) Option {
	return func(b *Broker) { b.resolver = r }
}

// New builds a Broker bound to driver. The broker starts in state NEW:
// handlers may be registered immediately, but nothing connects to the
// transport until Connect/Start run.
func New(driver Driver, opts ...Option) *Broker {
	b := &Broker{
		driver:     driver,
		resolver:   DefaultResolver{},
		state:      stateNew,
		correlator: newCorrelator(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Connect establishes the transport connection without starting any
// consume loops, so a caller can register additional handlers before
// traffic begins.
func (b *Broker) Connect(ctx context.Context) error {
	b.mu.Lock()
	if b.state != stateNew {
		b.mu.Unlock()
		return ErrConfigurationError(fmt.Sprintf("Connect called in state %s, want new", b.state))
	}
	b.mu.Unlock()

	if err := b.driver.Connect(ctx); err != nil {
		return ErrTransportError(err)
	}

	b.mu.Lock()
	b.state = stateConnected
	b.mu.Unlock()
	return nil
}

// Start connects if necessary, installs the implicit response-queue
// handler (if configured), declares every registered subscription, and
// launches one consume loop per HandlerRecord.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	switch b.state {
	case stateNew:
		b.mu.Unlock()
		if err := b.Connect(ctx); err != nil {
			return err
		}
		b.mu.Lock()
	case stateRunning, stateClosed:
		b.mu.Unlock()
		return ErrConfigurationError(fmt.Sprintf("Start called in state %s", b.state))
	}

	if b.responseQueueName != "" {
		b.responseSub = b.driver.NewSubscription(b.responseQueueName)
		respCfg := buildHandlerOptions(nil)
		respCfg.Raw = true
		respCfg.Description = "implicit RPC response handler"
		if b.responseQueueParams != nil {
			respCfg.ConsumerParams = b.responseQueueParams
		} else {
			respCfg.ConsumerParams = ConsumerParams{"wait_interval": responseQueueWaitDefault}
		}
		b.handlers = append(b.handlers, &HandlerRecord{
			Subscription: b.responseSub,
			Options:      respCfg,
			callback:     b.wrapHandler(b.responseSub, respCfg, b.handleResponse),
		})
	}

	handlers := make([]*HandlerRecord, len(b.handlers))
	copy(handlers, b.handlers)
	b.state = stateRunning
	b.mu.Unlock()

	for _, rec := range handlers {
		if err := b.driver.Declare(ctx, rec.Subscription); err != nil {
			return ErrTransportError(err)
		}
	}

	for _, rec := range handlers {
		loopCtx, cancel := context.WithCancel(context.Background())
		rec.cancel = cancel
		rec.done = make(chan struct{})
		go b.runConsumeLoop(loopCtx, rec)
	}

	logger.L().InfoContext(ctx, "broker started", "handlers", len(handlers))
	return nil
}

// handleResponse is the implicit response-queue callback: it
// decodes the reply, extracts the correlation id the requester
// attached as a header, and completes the matching pending future. A
// reply with no known correlation id (already timed out, or never
// ours) is skipped rather than treated as a failure.
func (b *Broker) handleResponse(ctx context.Context, msg *CanonicalMessage) (any, error) {
	correlationID := msg.CorrelationID
	if correlationID == "" {
		correlationID = msg.Headers["correlation_id"]
	}
	if correlationID == "" {
		return nil, ErrSkipMessage
	}

	decoded := Decode(msg)
	if !b.correlator.complete(correlationID, decoded) {
		return nil, ErrSkipMessage
	}
	return nil, nil
}

// Close stops every consume loop, cancels any still-pending RPC
// futures with ErrBrokerClosed, and closes the transport connection.
// Idempotent: calling Close more than once is a no-op after the first.
func (b *Broker) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.state == stateClosed {
		b.mu.Unlock()
		return nil
	}
	handlers := make([]*HandlerRecord, len(b.handlers))
	copy(handlers, b.handlers)
	b.state = stateClosed
	b.mu.Unlock()

	for _, rec := range handlers {
		if rec.cancel != nil {
			rec.cancel()
		}
	}

	graceCtx, cancelGrace := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancelGrace()
	for _, rec := range handlers {
		if rec.done == nil {
			continue
		}
		select {
		case <-rec.done:
		case <-graceCtx.Done():
			logger.L().WarnContext(ctx, "consume loop did not exit within shutdown grace period",
				"subscription", rec.Subscription.Key())
		}
	}

	b.correlator.cancelAll()
	return b.driver.Close(ctx)
}
