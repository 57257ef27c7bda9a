package broker

import (
	"sync"

	"github.com/google/uuid"
)

// correlatorResult is what a pending RPC publish is waiting to receive:
// either the decoded reply value, or an error (timeout removal races
// are handled by deleting the map entry before delivering, so a late
// reply after removal is simply dropped).
type correlatorResult struct {
	value any
	err   error
}

// correlator maintains the correlation_id -> pending-response table.
// Safe for concurrent use: publish (insert), the response
// handler (remove via complete), and Close (drain via cancelAll) all
// call in from different goroutines.
type correlator struct {
	mu      sync.Mutex
	pending map[string]chan correlatorResult
}

func newCorrelator() *correlator {
	return &correlator{pending: map[string]chan correlatorResult{}}
}

// allocate generates a fresh correlation id, registers an unresolved
// future for it, and returns both.
func (c *correlator) allocate() (string, chan correlatorResult) {
	id := uuid.NewString()
	ch := make(chan correlatorResult, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	return id, ch
}

// complete fulfills the pending future for id, if any. A complete for
// an unknown id (already removed by timeout, or never allocated) is a
// no-op — the caller (the response handler) should treat this as
// SkipMessage.
func (c *correlator) complete(id string, value any) bool {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	ch <- correlatorResult{value: value}
	return true
}

// remove drops the pending entry for id without delivering a result,
// used after a callback timeout so a later complete() becomes a no-op.
func (c *correlator) remove(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// cancelAll completes every still-pending future with BrokerClosed,
// called once by Broker.Close.
func (c *correlator) cancelAll() {
	c.mu.Lock()
	pending := c.pending
	c.pending = map[string]chan correlatorResult{}
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- correlatorResult{err: ErrBrokerClosed()}
	}
}
