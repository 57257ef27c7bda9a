package broker_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bodograumann/Propan/pkg/broker"
	"github.com/bodograumann/Propan/pkg/broker/adapters/memory"
	"github.com/bodograumann/Propan/pkg/logger"
	"github.com/bodograumann/Propan/pkg/test"
)

type ReconnectSuite struct {
	test.Suite

	driver *memory.Driver
	b      *broker.Broker
	buf    *bytes.Buffer
	prev   *slog.Logger
}

func TestReconnectSuite(t *testing.T) {
	test.Run(t, new(ReconnectSuite))
}

func (s *ReconnectSuite) SetupTest() {
	s.Suite.SetupTest()
	s.driver = memory.New()
	s.b = broker.New(s.driver)
	s.buf = &bytes.Buffer{}
	s.prev = logger.SetDefault(slog.New(slog.NewJSONHandler(s.buf, nil)))
}

func (s *ReconnectSuite) TearDownTest() {
	s.NoError(s.b.Close(s.Ctx))
	logger.SetDefault(s.prev)
}

// A Fetch failure flips the consume loop into "not connected"; once the
// driver recovers, the loop declares again, logs exactly one
// "reconnected" event, and resumes dispatching to the handler.
func (s *ReconnectSuite) TestConsumeLoopLogsOneReconnectedEventPerRecovery() {
	received := make(chan struct{}, 1)
	sub := s.driver.NewSubscription("flaky-transport")
	err := broker.HandleRaw(s.b, sub, func(ctx context.Context, msg *broker.CanonicalMessage) (any, error) {
		received <- struct{}{}
		return nil, nil
	}, broker.WithConsumerParams(broker.ConsumerParams{"wait_interval": 10 * time.Millisecond}))
	s.Require().NoError(err)

	s.driver.FailNextFetches(1, errors.New("transient transport hiccup"))
	s.Require().NoError(s.b.Start(s.Ctx))

	_, err = s.b.Publish(s.Ctx, []byte("x"), "flaky-transport")
	s.NoError(err)

	select {
	case <-received:
	case <-time.After(7 * time.Second):
		s.Fail("handler never ran after the driver recovered from the injected failure")
	}

	s.Require().NoError(s.b.Close(s.Ctx))

	reconnected := 0
	for _, line := range strings.Split(s.buf.String(), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		s.Require().NoError(json.Unmarshal([]byte(line), &rec))
		if rec["msg"] == "reconnected" {
			reconnected++
			s.Equal("flaky-transport", rec["subscription"])
		}
	}
	s.Equal(1, reconnected, "exactly one reconnected event for the single injected failure")
}
