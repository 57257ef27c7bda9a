// Package kafka implements broker.Driver on top of Kafka using
// IBM/sarama, with a sync-producer publish path plus a
// consumer-group-backed Fetch path.
//
// Kafka has no per-message redelivery the way a queue broker does:
// Nack(requeue=true) is therefore best-effort — it withholds the
// commit so a consumer-group rebalance or restart will redeliver the
// record, but it will not be redelivered to the same still-running
// session the way a requeued AMQP/SQS message would be.
package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/bodograumann/Propan/pkg/broker"
	"github.com/bodograumann/Propan/pkg/logger"
	"github.com/google/uuid"
)

type subscription struct {
	topic string
	group string
}

func (s subscription) Key() string { return s.topic + ":" + s.group }

// Subscribe builds the kafka.Driver's Subscription descriptor for a
// topic and consumer group.
func Subscribe(topic, group string) broker.Subscription {
	return subscription{topic: topic, group: group}
}

// Config configures the driver's connection.
type Config struct {
	Brokers []string `env:"KAFKA_BROKERS" env-separator:","`

	// DefaultGroup is the consumer group used for NewSubscription
	// (the implicit response-queue handler has no caller-chosen group).
	DefaultGroup string `env:"KAFKA_DEFAULT_GROUP" env-default:"propan"`
}

// Driver implements broker.Driver against Kafka.
type Driver struct {
	cfg      Config
	client   sarama.Client
	producer sarama.SyncProducer

	mu      sync.Mutex
	inboxes map[string]chan rawFrame
	groups  map[string]sarama.ConsumerGroup
	cancels map[string]context.CancelFunc
}

// New builds a disconnected kafka.Driver.
func New(cfg Config) *Driver {
	return &Driver{
		inboxes: map[string]chan rawFrame{},
		groups:  map[string]sarama.ConsumerGroup{},
		cancels: map[string]context.CancelFunc{},
		cfg:     cfg,
	}
}

func (d *Driver) Connect(ctx context.Context) error {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest

	client, err := sarama.NewClient(d.cfg.Brokers, cfg)
	if err != nil {
		return fmt.Errorf("kafka: new client: %w", err)
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		return fmt.Errorf("kafka: new producer: %w", err)
	}

	d.client = client
	d.producer = producer
	return nil
}

func (d *Driver) NewSubscription(name string) broker.Subscription {
	return subscription{topic: name, group: d.cfg.DefaultGroup}
}

// Declare starts a consumer-group session for sub's topic/group in a
// background goroutine, forwarding each claimed record into an inbox
// channel that Fetch drains.
func (d *Driver) Declare(ctx context.Context, sub broker.Subscription) error {
	s := sub.(subscription)

	d.mu.Lock()
	if _, ok := d.inboxes[s.Key()]; ok {
		d.mu.Unlock()
		return nil
	}

	group, err := sarama.NewConsumerGroupFromClient(s.group, d.client)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("kafka: new consumer group %q: %w", s.group, err)
	}

	inbox := make(chan rawFrame, 64)
	groupCtx, cancel := context.WithCancel(context.Background())

	d.inboxes[s.Key()] = inbox
	d.groups[s.Key()] = group
	d.cancels[s.Key()] = cancel
	d.mu.Unlock()

	handler := &consumerHandler{inbox: inbox}
	go func() {
		for groupCtx.Err() == nil {
			if err := group.Consume(groupCtx, []string{s.topic}, handler); err != nil {
				logger.L().WarnContext(groupCtx, "kafka consumer group session ended",
					"topic", s.topic, "group", s.group, "error", err)
			}
		}
		close(inbox)
	}()

	return nil
}

// consumerHandler bridges sarama's claim-based consumption model onto
// a plain channel of rawFrame; each rawFrame carries the claim's
// session so Ack can call back into MarkMessage.
type consumerHandler struct {
	inbox chan rawFrame
}

func (h *consumerHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		select {
		case h.inbox <- rawFrame{session: session, message: msg}:
		case <-session.Context().Done():
			return nil
		}
	}
	return nil
}

// rawFrame is what Ack/Nack receive back via CanonicalMessage.Raw.
type rawFrame struct {
	session sarama.ConsumerGroupSession
	message *sarama.ConsumerMessage
}

// Fetch collects records arriving on sub's inbox until 10 have been
// gathered or the wait interval elapses, whichever comes first.
func (d *Driver) Fetch(ctx context.Context, sub broker.Subscription, params broker.ConsumerParams) ([]*broker.CanonicalMessage, error) {
	s := sub.(subscription)

	d.mu.Lock()
	inbox, ok := d.inboxes[s.Key()]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("kafka: subscription %q not declared", s.Key())
	}

	wait := params.FetchWaitInterval(time.Second)
	timer := time.NewTimer(wait)
	defer timer.Stop()

	var out []*broker.CanonicalMessage
	for {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case frame, open := <-inbox:
			if !open {
				return out, fmt.Errorf("kafka: consumer for %q stopped", s.Key())
			}
			out = append(out, toCanonical(frame))
			if len(out) >= 10 {
				return out, nil
			}
		case <-timer.C:
			return out, nil
		}
	}
}

func toCanonical(frame rawFrame) *broker.CanonicalMessage {
	headers := map[string]string{}
	for _, h := range frame.message.Headers {
		headers[string(h.Key)] = string(h.Value)
	}
	replyTo := headers["reply_to"]
	correlationID := headers["correlation_id"]
	contentType := headers["content-type"]
	messageID := headers["message-id"]
	delete(headers, "reply_to")
	delete(headers, "correlation_id")
	delete(headers, "content-type")
	delete(headers, "message-id")

	return broker.NewCanonicalMessage(frame.message.Value, contentType, messageID, correlationID, replyTo, headers, frame)
}

// Send generates a message id header when headers don't already carry
// one, stamps a content-type header, and sends via the shared sync
// producer.
func (d *Driver) Send(ctx context.Context, destination string, body []byte, contentType string, headers map[string]string, opts map[string]any) error {
	kafkaMsg := &sarama.ProducerMessage{
		Topic:     destination,
		Value:     sarama.ByteEncoder(body),
		Timestamp: time.Now(),
	}

	for k, v := range headers {
		kafkaMsg.Headers = append(kafkaMsg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	if contentType != "" {
		kafkaMsg.Headers = append(kafkaMsg.Headers, sarama.RecordHeader{Key: []byte("content-type"), Value: []byte(contentType)})
	}
	if _, ok := headers["message-id"]; !ok {
		kafkaMsg.Headers = append(kafkaMsg.Headers, sarama.RecordHeader{Key: []byte("message-id"), Value: []byte(uuid.NewString())})
	}

	if key, ok := opts["partition_key"].(string); ok && key != "" {
		kafkaMsg.Key = sarama.StringEncoder(key)
	}

	_, _, err := d.producer.SendMessage(kafkaMsg)
	return err
}

func (d *Driver) Ack(ctx context.Context, raw any) error {
	frame, ok := raw.(rawFrame)
	if !ok {
		return fmt.Errorf("kafka: ack: unexpected raw frame %T", raw)
	}
	frame.session.MarkMessage(frame.message, "")
	return nil
}

// Nack withholds the offset commit on requeue (letting a future
// rebalance/restart redeliver the record); a non-requeuing nack marks
// it the same as Ack, since dropping a Kafka record is just "move past
// the offset without further ado".
func (d *Driver) Nack(ctx context.Context, raw any, requeue bool) error {
	frame, ok := raw.(rawFrame)
	if !ok {
		return fmt.Errorf("kafka: nack: unexpected raw frame %T", raw)
	}
	if requeue {
		return nil
	}
	frame.session.MarkMessage(frame.message, "")
	return nil
}

func (d *Driver) Close(ctx context.Context) error {
	logger.L().InfoContext(ctx, "closing kafka driver")
	d.mu.Lock()
	for key, cancel := range d.cancels {
		cancel()
		if group, ok := d.groups[key]; ok {
			_ = group.Close()
		}
	}
	d.mu.Unlock()

	if d.producer != nil {
		if err := d.producer.Close(); err != nil {
			return err
		}
	}
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}
