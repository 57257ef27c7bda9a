package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/bodograumann/Propan/pkg/broker"
	"github.com/bodograumann/Propan/pkg/broker/adapters/memory"
	"github.com/bodograumann/Propan/pkg/test"
)

type MemoryDriverSuite struct {
	test.Suite

	driver *memory.Driver
}

func TestMemoryDriverSuite(t *testing.T) {
	test.Run(t, new(MemoryDriverSuite))
}

func (s *MemoryDriverSuite) SetupTest() {
	s.Suite.SetupTest()
	s.driver = memory.New()
}

func (s *MemoryDriverSuite) TestSendThenFetchRoundTrips() {
	sub := s.driver.NewSubscription("greetings")
	s.Require().NoError(s.driver.Declare(s.Ctx, sub))
	s.Require().NoError(s.driver.Send(s.Ctx, "greetings", []byte("hi"), broker.ContentTypeText, nil, nil))

	messages, err := s.driver.Fetch(s.Ctx, sub, broker.ConsumerParams{"wait_interval": 10 * time.Millisecond})
	s.NoError(err)
	s.Require().Len(messages, 1)
	s.Equal("hi", string(messages[0].Body))
}

func (s *MemoryDriverSuite) TestFetchOnEmptyQueueReturnsEmptyBatchNotError() {
	sub := s.driver.NewSubscription("nothing-here")
	s.Require().NoError(s.driver.Declare(s.Ctx, sub))

	messages, err := s.driver.Fetch(s.Ctx, sub, broker.ConsumerParams{"wait_interval": 10 * time.Millisecond})
	s.NoError(err)
	s.Empty(messages)
}

func (s *MemoryDriverSuite) TestNackWithRequeuePutsMessageBackOnTheQueue() {
	sub := s.driver.NewSubscription("retry-me")
	s.Require().NoError(s.driver.Declare(s.Ctx, sub))
	s.Require().NoError(s.driver.Send(s.Ctx, "retry-me", []byte("x"), "", nil, nil))

	messages, err := s.driver.Fetch(s.Ctx, sub, broker.ConsumerParams{"wait_interval": 10 * time.Millisecond})
	s.Require().NoError(err)
	s.Require().Len(messages, 1)

	s.Require().NoError(s.driver.Nack(s.Ctx, messages[0].Raw, true))

	again, err := s.driver.Fetch(s.Ctx, sub, broker.ConsumerParams{"wait_interval": 10 * time.Millisecond})
	s.NoError(err)
	s.Len(again, 1)
}

func (s *MemoryDriverSuite) TestNackWithoutRequeueDropsMessage() {
	sub := s.driver.NewSubscription("drop-me")
	s.Require().NoError(s.driver.Declare(s.Ctx, sub))
	s.Require().NoError(s.driver.Send(s.Ctx, "drop-me", []byte("x"), "", nil, nil))

	messages, err := s.driver.Fetch(s.Ctx, sub, broker.ConsumerParams{"wait_interval": 10 * time.Millisecond})
	s.Require().NoError(err)
	s.Require().Len(messages, 1)
	s.Require().NoError(s.driver.Nack(s.Ctx, messages[0].Raw, false))

	again, err := s.driver.Fetch(s.Ctx, sub, broker.ConsumerParams{"wait_interval": 10 * time.Millisecond})
	s.NoError(err)
	s.Empty(again)
}

func (s *MemoryDriverSuite) TestFetchRespectsContextCancellation() {
	sub := s.driver.NewSubscription("slow")
	s.Require().NoError(s.driver.Declare(s.Ctx, sub))

	ctx, cancel := context.WithCancel(s.Ctx)
	cancel()

	_, err := s.driver.Fetch(ctx, sub, broker.ConsumerParams{"wait_interval": time.Second})
	s.Error(err)
}
