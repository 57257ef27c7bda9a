package broker

import (
	"context"
	"sync"
)

// Context scope. Process-wide values use a shared, mutex
// guarded map (set_global/lifetime = process). Per-dispatch values
// ride on context.Context itself: a child context created with
// WithLocal shadows the parent's value and is discarded the moment the
// dispatch that created it returns, which gives scoped acquisition
// ("restored on all exit paths including failure") for free without
// goroutine-local storage. Concurrent dispatches never share a
// context tree, so isolation across concurrent handlers is automatic.

var (
	globalMu sync.RWMutex
	global   = map[string]any{}
)

// SetGlobal stores a process-lifetime value, visible to every dispatch.
func SetGlobal(key string, value any) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global[key] = value
}

// Global reads a process-lifetime value set by SetGlobal.
func Global(key string) (any, bool) {
	globalMu.RLock()
	defer globalMu.RUnlock()
	v, ok := global[key]
	return v, ok
}

type localKey string

// WithLocal returns a child context carrying key=value for the
// lifetime of the returned context and anything derived from it. The
// parent context (and therefore any sibling dispatch) is unaffected.
func WithLocal(ctx context.Context, key string, value any) context.Context {
	return context.WithValue(ctx, localKey(key), value)
}

// Local reads a value set by WithLocal on ctx or one of its ancestors.
func Local(ctx context.Context, key string) (any, bool) {
	v := ctx.Value(localKey(key))
	if v == nil {
		return nil, false
	}
	return v, true
}

const (
	keyMessage      = "message"
	keySubscription = "subscription"
)

// withMessage publishes the canonical message into the scope so
// handlers and ack-adjacent callbacks can retrieve it without explicit
// plumbing.
func withMessage(ctx context.Context, msg *CanonicalMessage) context.Context {
	return WithLocal(ctx, keyMessage, msg)
}

// CurrentMessage retrieves the canonical message published by the
// consume loop for the dispatch ctx belongs to.
func CurrentMessage(ctx context.Context) (*CanonicalMessage, bool) {
	v, ok := Local(ctx, keyMessage)
	if !ok {
		return nil, false
	}
	msg, ok := v.(*CanonicalMessage)
	return msg, ok
}

func withSubscription(ctx context.Context, sub Subscription) context.Context {
	return WithLocal(ctx, keySubscription, sub)
}

// CurrentSubscription retrieves the subscription a dispatch was
// delivered on.
func CurrentSubscription(ctx context.Context) (Subscription, bool) {
	v, ok := Local(ctx, keySubscription)
	if !ok {
		return nil, false
	}
	sub, ok := v.(Subscription)
	return sub, ok
}
