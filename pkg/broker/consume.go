package broker

import (
	"context"
	"time"

	"github.com/bodograumann/Propan/pkg/logger"
)

// idleWaitDefault is how long a consume loop sleeps after a poll that
// returned no messages, or after a batch in which a message's dispatch
// returned an error, before trying again. A handler's ConsumerParams
// "wait_interval" (read via FetchWaitInterval) overrides it.
const idleWaitDefault = time.Second

// runConsumeLoop is the per-HandlerRecord consume task: declare
// once at Start, then loop forever fetching batches, dispatching each
// message sequentially through rec.callback, until ctx is cancelled by
// Close. A Fetch error (lost connection, transport hiccup) is treated
// as "not connected" and retried after reconnectBackoff rather than
// killing the loop.
func (b *Broker) runConsumeLoop(ctx context.Context, rec *HandlerRecord) {
	defer close(rec.done)

	connected := true
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !connected {
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectBackoff):
			}
			if err := b.driver.Declare(ctx, rec.Subscription); err != nil {
				logger.L().WarnContext(ctx, "resubscribe failed, retrying",
					"subscription", rec.Subscription.Key(), "error", err)
				continue
			}
			connected = true
			logger.L().InfoContext(ctx, "reconnected",
				"subscription", rec.Subscription.Key())
		}

		messages, err := b.driver.Fetch(ctx, rec.Subscription, rec.Options.ConsumerParams)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.L().WarnContext(ctx, "fetch failed, will reconnect",
				"subscription", rec.Subscription.Key(), "error", err)
			connected = false
			continue
		}

		hasPoison := false
		for _, msg := range messages {
			if err := rec.callback(ctx, msg); err != nil {
				hasPoison = true
				logger.L().ErrorContext(ctx, "message dispatch returned an error after ack/nack",
					"subscription", rec.Subscription.Key(), "message_id", msg.MessageID, "error", err)
			}
		}

		if len(messages) == 0 || hasPoison {
			wait := rec.Options.ConsumerParams.FetchWaitInterval(idleWaitDefault)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}
}
