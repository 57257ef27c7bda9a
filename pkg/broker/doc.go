// Package broker is the transport-agnostic message-broker runtime:
// handler registry, per-handler consume loop with reconnect and
// push-back (retry) semantics, message decoding, RPC correlation, and
// the publish path with optional synchronous reply wait.
//
// A concrete transport (RabbitMQ, NATS, Redis Pub/Sub, SQS, Kafka, or
// an in-memory fake for tests) plugs in by implementing Driver; none
// of that detail leaks into the handler wrapper pipeline.
//
// # Usage
//
//	driver := memory.New()
//	b := broker.New(driver, broker.WithResponseQueue("replies"))
//	broker.Handle(b, driver.NewSubscription("greet"), func(ctx context.Context, name string) (any, error) {
//	    return "hello " + name, nil
//	})
//	if err := b.Start(ctx); err != nil { ... }
//	defer b.Close(ctx)
//
//	reply, err := b.Publish(ctx, "world", "greet", broker.WithCallback(true))
package broker
