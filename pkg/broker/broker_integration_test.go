package broker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bodograumann/Propan/pkg/broker"
	"github.com/bodograumann/Propan/pkg/broker/adapters/memory"
	"github.com/bodograumann/Propan/pkg/test"
)

type BrokerSuite struct {
	test.Suite

	driver *memory.Driver
	b      *broker.Broker
}

func TestBrokerSuite(t *testing.T) {
	test.Run(t, new(BrokerSuite))
}

func (s *BrokerSuite) SetupTest() {
	s.Suite.SetupTest()
	s.driver = memory.New()
	s.b = broker.New(s.driver, broker.WithResponseQueue("responses"))
}

func (s *BrokerSuite) TearDownTest() {
	s.NoError(s.b.Close(s.Ctx))
}

// Scenario 1: an echo handler registered raw sees exactly the bytes published to it.
func (s *BrokerSuite) TestEchoHandlerRoundTrips() {
	received := make(chan string, 1)
	err := broker.HandleRaw(s.b, s.driver.NewSubscription("echo"), func(ctx context.Context, msg *broker.CanonicalMessage) (any, error) {
		received <- string(msg.Body)
		return nil, nil
	}, broker.WithConsumerParams(broker.ConsumerParams{"wait_interval": 20 * time.Millisecond}))
	s.Require().NoError(err)
	s.Require().NoError(s.b.Start(s.Ctx))

	_, err = s.b.Publish(s.Ctx, "hello", "echo")
	s.NoError(err)

	select {
	case got := <-received:
		s.Equal("hello", got)
	case <-time.After(2 * time.Second):
		s.Fail("handler never ran")
	}
}

// Scenario 2: a typed handler gets its struct payload resolved from JSON.
func (s *BrokerSuite) TestTypedJSONHandlerResolvesPayload() {
	type greeting struct {
		Name string `json:"name"`
	}

	received := make(chan greeting, 1)
	err := broker.Handle(s.b, s.driver.NewSubscription("greet"), func(ctx context.Context, payload greeting) (any, error) {
		received <- payload
		return nil, nil
	}, broker.WithConsumerParams(broker.ConsumerParams{"wait_interval": 20 * time.Millisecond}))
	s.Require().NoError(err)
	s.Require().NoError(s.b.Start(s.Ctx))

	_, err = s.b.Publish(s.Ctx, greeting{Name: "ping"}, "greet")
	s.NoError(err)

	select {
	case got := <-received:
		s.Equal("ping", got.Name)
	case <-time.After(2 * time.Second):
		s.Fail("handler never ran")
	}
}

// Scenario 3: a handler that fails twice then succeeds is retried
// (not dropped) under a retry policy with enough budget.
func (s *BrokerSuite) TestRetryThenSucceed() {
	var attempts int32
	done := make(chan struct{})

	err := broker.HandleRaw(s.b, s.driver.NewSubscription("flaky"), func(ctx context.Context, msg *broker.CanonicalMessage) (any, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return nil, errors.New("transient failure")
		}
		close(done)
		return nil, nil
	}, broker.WithRetry(broker.RetryTimes(5)), broker.WithConsumerParams(broker.ConsumerParams{"wait_interval": 20 * time.Millisecond}))
	s.Require().NoError(err)
	s.Require().NoError(s.b.Start(s.Ctx))

	_, err = s.b.Publish(s.Ctx, []byte("x"), "flaky")
	s.NoError(err)

	select {
	case <-done:
		s.Equal(int32(3), atomic.LoadInt32(&attempts))
	case <-time.After(2 * time.Second):
		s.Fail("handler never succeeded within the retry budget")
	}
}

// A handler that always fails under NoRetry is dropped (acked) after
// its single attempt rather than looping forever.
func (s *BrokerSuite) TestPoisonMessageIsDroppedNotRetried() {
	var attempts int32
	err := broker.HandleRaw(s.b, s.driver.NewSubscription("poison"), func(ctx context.Context, msg *broker.CanonicalMessage) (any, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, errors.New("always fails")
	}, broker.WithConsumerParams(broker.ConsumerParams{"wait_interval": 20 * time.Millisecond}))
	s.Require().NoError(err)
	s.Require().NoError(s.b.Start(s.Ctx))

	_, err = s.b.Publish(s.Ctx, []byte("x"), "poison")
	s.NoError(err)

	time.Sleep(200 * time.Millisecond)
	s.Equal(int32(1), atomic.LoadInt32(&attempts), "NoRetry gives the handler exactly one attempt")
}

// Scenario 4: a handler that always fails with retry=2 gets exactly 3
// invocations (the initial attempt plus 2 retries), then the message
// is dropped rather than requeued forever.
func (s *BrokerSuite) TestPoisonMessageWithRetryBudgetIsDroppedAfterExhaustion() {
	var attempts int32
	sub := s.driver.NewSubscription("poison-2")
	err := broker.HandleRaw(s.b, sub, func(ctx context.Context, msg *broker.CanonicalMessage) (any, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, errors.New("always fails")
	}, broker.WithRetry(broker.RetryTimes(2)), broker.WithConsumerParams(broker.ConsumerParams{"wait_interval": 20 * time.Millisecond}))
	s.Require().NoError(err)
	s.Require().NoError(s.b.Start(s.Ctx))

	_, err = s.b.Publish(s.Ctx, []byte("x"), "poison-2")
	s.NoError(err)

	s.Eventually(func() bool {
		return atomic.LoadInt32(&attempts) == 3
	}, 2*time.Second, 10*time.Millisecond, "retry=2 allows exactly 3 invocations (initial + 2 retries)")

	time.Sleep(100 * time.Millisecond)
	s.Equal(int32(3), atomic.LoadInt32(&attempts), "no further invocations once the message is dropped")
	s.Empty(s.driver.Peek("poison-2"), "an exhausted message is dropped, not left requeued")
}

// Scenario 5: Publish with WithCallback waits for the correlated reply
// and returns its decoded value.
func (s *BrokerSuite) TestRPCRoundTrip() {
	err := broker.Handle(s.b, s.driver.NewSubscription("double"), func(ctx context.Context, payload float64) (any, error) {
		return payload * 2, nil
	}, broker.WithConsumerParams(broker.ConsumerParams{"wait_interval": 20 * time.Millisecond}))
	s.Require().NoError(err)
	s.Require().NoError(s.b.Start(s.Ctx))

	result, err := s.b.Publish(s.Ctx, 21, "double", broker.WithCallback(true), broker.WithCallbackTimeout(2*time.Second))
	s.NoError(err)
	s.Equal(float64(42), result)
}

// Scenario 6: an RPC that never gets a reply times out silently unless
// RaiseTimeout is requested.
func (s *BrokerSuite) TestRPCTimeoutSilentByDefault() {
	s.Require().NoError(s.b.Start(s.Ctx))

	result, err := s.b.Publish(s.Ctx, "x", "nobody-listens",
		broker.WithCallback(true), broker.WithCallbackTimeout(50*time.Millisecond))
	s.NoError(err)
	s.Nil(result)
}

func (s *BrokerSuite) TestRPCTimeoutRaisesWhenRequested() {
	s.Require().NoError(s.b.Start(s.Ctx))

	_, err := s.b.Publish(s.Ctx, "x", "nobody-listens",
		broker.WithCallback(true), broker.WithCallbackTimeout(50*time.Millisecond), broker.WithRaiseTimeout(true))
	s.Error(err)
}

// A handler raising ErrSkipMessage acks without invoking retry logic.
func (s *BrokerSuite) TestSkipMessageAcksWithoutRetry() {
	var attempts int32
	err := broker.HandleRaw(s.b, s.driver.NewSubscription("skip"), func(ctx context.Context, msg *broker.CanonicalMessage) (any, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, broker.ErrSkipMessage
	}, broker.WithRetry(broker.RetryTimes(5)), broker.WithConsumerParams(broker.ConsumerParams{"wait_interval": 20 * time.Millisecond}))
	s.Require().NoError(err)
	s.Require().NoError(s.b.Start(s.Ctx))

	_, err = s.b.Publish(s.Ctx, []byte("x"), "skip")
	s.NoError(err)

	time.Sleep(150 * time.Millisecond)
	s.Equal(int32(1), atomic.LoadInt32(&attempts), "skip acks on the first attempt, no retry loop")
}

// Publish with Callback but no reply_to and no configured response
// queue is a configuration error, not a silent no-op.
func (s *BrokerSuite) TestPublishCallbackWithoutResponseQueueIsConfigurationError() {
	noResponseQueueBroker := broker.New(memory.New())
	s.Require().NoError(noResponseQueueBroker.Start(s.Ctx))
	defer noResponseQueueBroker.Close(s.Ctx)

	_, err := noResponseQueueBroker.Publish(s.Ctx, "x", "somewhere", broker.WithCallback(true))
	s.Error(err)
}

// Close is idempotent and cancels pending RPC futures instead of
// hanging forever.
func (s *BrokerSuite) TestCloseCancelsPendingRPCFutures() {
	closingBroker := broker.New(memory.New(), broker.WithResponseQueue("responses"))
	s.Require().NoError(closingBroker.Start(s.Ctx))

	var wg sync.WaitGroup
	var rpcErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, rpcErr = closingBroker.Publish(s.Ctx, "x", "nobody-listens",
			broker.WithCallback(true), broker.WithCallbackTimeout(10*time.Second), broker.WithRaiseTimeout(true))
	}()

	time.Sleep(50 * time.Millisecond)
	s.NoError(closingBroker.Close(s.Ctx))
	s.NoError(closingBroker.Close(s.Ctx), "Close must be idempotent")

	wg.Wait()
	s.Error(rpcErr, "a pending RPC future is cancelled rather than left hanging")
}
