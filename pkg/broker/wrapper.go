package broker

import (
	"context"

	"github.com/bodograumann/Propan/pkg/logger"
)

// wrapHandler builds the per-message dispatch pipeline: open the
// context scope, open the watcher scope, run call
// (which already decoded/resolved/invoked the user handler), publish
// a reply if the incoming message carried reply_to, then ack/nack
// according to the watcher's verdict.
//
// call is produced by Handle/HandleRaw and already encapsulates
// decode -> resolve -> invoke, parameterized by the handler's declared
// type; wrapHandler itself is generic over none of that, it only
// knows about *CanonicalMessage in and error out.
func (b *Broker) wrapHandler(sub Subscription, opts HandlerOptions, call func(ctx context.Context, msg *CanonicalMessage) (any, error)) wrappedCallback {
	w := newWatcher(opts.Retry)

	return func(ctx context.Context, msg *CanonicalMessage) error {
		ctx = withMessage(ctx, msg)
		ctx = withSubscription(ctx, sub)

		scope := &watcherScope{
			w:         w,
			messageID: msg.MessageID,
			onSuccess: func(ctx context.Context) error {
				return b.driver.Ack(ctx, msg.Raw)
			},
			onMax: func(ctx context.Context) error {
				logger.L().WarnContext(ctx, "push-back retries exhausted, dropping message",
					"subscription", sub.Key(), "message_id", msg.MessageID)
				return b.driver.Ack(ctx, msg.Raw)
			},
			onError: func(ctx context.Context) error {
				return b.driver.Nack(ctx, msg.Raw, true)
			},
		}

		return scope.run(ctx, func(ctx context.Context) error {
			result, err := call(ctx, msg)
			if err != nil {
				if IsSkipMessage(err) {
					return err
				}
				return ErrHandlerInvocation(err)
			}

			if msg.ReplyTo == "" {
				return nil
			}

			headers := map[string]string{}
			if msg.CorrelationID != "" {
				headers["correlation_id"] = msg.CorrelationID
			}
			if err := b.publishOneWay(ctx, result, msg.ReplyTo, headers); err != nil {
				return ErrTransportError(err)
			}
			return nil
		})
	}
}
