// Package sqs implements broker.Driver on top of Amazon SQS: queue-url
// caching, a long-polling ReceiveMessage loop, and MessageAttribute-
// based header passthrough.
package sqs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bodograumann/Propan/pkg/broker"
	"github.com/bodograumann/Propan/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type subscription struct {
	queue string
}

func (s subscription) Key() string { return s.queue }

// Subscribe builds the sqs.Driver's Subscription descriptor for queue.
func Subscribe(queue string) broker.Subscription {
	return subscription{queue: queue}
}

// Config configures the driver's connection. EndpointURL lets tests
// point at a local SQS-compatible server (elasticmq, localstack); the
// zero value uses the SDK's default AWS resolution.
type Config struct {
	EndpointURL string `env:"SQS_ENDPOINT_URL" env-default:""`
	Region      string `env:"AWS_REGION" env-default:"us-east-1"`

	MaxMessagesPerPoll int32 `env:"SQS_MAX_MESSAGES" env-default:"10"`
	VisibilityTimeout  int32 `env:"SQS_VISIBILITY_TIMEOUT" env-default:"30"`
}

// Driver implements broker.Driver against Amazon SQS.
type Driver struct {
	cfg    Config
	client *sqs.Client

	mu    sync.Mutex
	urls  map[string]string
}

// New builds a disconnected sqs.Driver.
func New(cfg Config) *Driver {
	return &Driver{cfg: cfg, urls: map[string]string{}}
}

func (d *Driver) Connect(ctx context.Context) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(d.cfg.Region))
	if err != nil {
		return fmt.Errorf("sqs: load aws config: %w", err)
	}

	d.client = sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if d.cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(d.cfg.EndpointURL)
		}
	})
	return nil
}

func (d *Driver) NewSubscription(name string) broker.Subscription {
	return subscription{queue: name}
}

// Declare creates the queue if needed and caches its URL.
func (d *Driver) Declare(ctx context.Context, sub broker.Subscription) error {
	s := sub.(subscription)
	return d.queueURL(ctx, s.queue, true)
}

func (d *Driver) queueURL(ctx context.Context, queue string, create bool) error {
	d.mu.Lock()
	_, ok := d.urls[queue]
	d.mu.Unlock()
	if ok {
		return nil
	}

	var url string
	if create {
		out, err := d.client.CreateQueue(ctx, &sqs.CreateQueueInput{QueueName: aws.String(queue)})
		if err != nil {
			return fmt.Errorf("sqs: create queue %q: %w", queue, err)
		}
		url = aws.ToString(out.QueueUrl)
	} else {
		out, err := d.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queue)})
		if err != nil {
			return fmt.Errorf("sqs: get queue url %q: %w", queue, err)
		}
		url = aws.ToString(out.QueueUrl)
	}

	d.mu.Lock()
	d.urls[queue] = url
	d.mu.Unlock()
	return nil
}

// Fetch issues one long-polling ReceiveMessage call; SQS's own
// WaitTimeSeconds does the blocking, so there is no extra idle loop
// here the way the in-memory driver needs one.
func (d *Driver) Fetch(ctx context.Context, sub broker.Subscription, params broker.ConsumerParams) ([]*broker.CanonicalMessage, error) {
	s := sub.(subscription)

	d.mu.Lock()
	url, ok := d.urls[s.queue]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("sqs: queue %q not declared", s.queue)
	}

	wait := params.FetchWaitInterval(time.Second)
	waitSeconds := int32(wait.Seconds())
	if waitSeconds < 1 {
		waitSeconds = 1
	}
	if waitSeconds > 20 {
		waitSeconds = 20
	}

	out, err := d.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(url),
		MaxNumberOfMessages:   d.cfg.MaxMessagesPerPoll,
		WaitTimeSeconds:       waitSeconds,
		VisibilityTimeout:     d.cfg.VisibilityTimeout,
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, fmt.Errorf("sqs: receive: %w", err)
	}

	messages := make([]*broker.CanonicalMessage, len(out.Messages))
	for i, msg := range out.Messages {
		messages[i] = toCanonical(msg, url)
	}
	return messages, nil
}

// rawFrame carries what Ack/Nack need: the queue URL (ReceiptHandles
// are only valid against the queue they were issued for) plus the
// handle itself.
type rawFrame struct {
	queueURL      string
	receiptHandle string
}

func toCanonical(msg types.Message, queueURL string) *broker.CanonicalMessage {
	headers := map[string]string{}
	for k, attr := range msg.MessageAttributes {
		if attr.StringValue != nil {
			headers[k] = *attr.StringValue
		}
	}
	contentType := headers["content-type"]
	replyTo := headers["reply_to"]
	correlationID := headers["correlation_id"]
	delete(headers, "content-type")
	delete(headers, "reply_to")
	delete(headers, "correlation_id")

	raw := rawFrame{queueURL: queueURL, receiptHandle: aws.ToString(msg.ReceiptHandle)}
	return broker.NewCanonicalMessage([]byte(aws.ToString(msg.Body)), contentType, aws.ToString(msg.MessageId), correlationID, replyTo, headers, raw)
}

func (d *Driver) Send(ctx context.Context, destination string, body []byte, contentType string, headers map[string]string, opts map[string]any) error {
	if err := d.queueURL(ctx, destination, true); err != nil {
		return err
	}
	d.mu.Lock()
	url := d.urls[destination]
	d.mu.Unlock()

	attrs := map[string]types.MessageAttributeValue{}
	if contentType != "" {
		attrs["content-type"] = stringAttr(contentType)
	}
	for k, v := range headers {
		attrs[k] = stringAttr(v)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:          aws.String(url),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attrs,
	}
	if delay, ok := opts["delay_seconds"].(int32); ok {
		input.DelaySeconds = delay
	}
	if groupID, ok := opts["group_id"].(string); ok && groupID != "" {
		input.MessageGroupId = aws.String(groupID)
	}
	if dedupID, ok := opts["deduplication_id"].(string); ok && dedupID != "" {
		input.MessageDeduplicationId = aws.String(dedupID)
	}

	_, err := d.client.SendMessage(ctx, input)
	return err
}

func stringAttr(v string) types.MessageAttributeValue {
	return types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
}

func (d *Driver) Ack(ctx context.Context, raw any) error {
	f, ok := raw.(rawFrame)
	if !ok {
		return fmt.Errorf("sqs: ack: unexpected raw frame %T", raw)
	}
	_, err := d.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(f.queueURL),
		ReceiptHandle: aws.String(f.receiptHandle),
	})
	return err
}

// Nack either makes the message immediately visible again by zeroing
// its visibility timeout (requeue=true) or leaves it for SQS's
// visibility timeout to redeliver it (requeue=false has no "drop"
// equivalent in SQS short of deleting it, which the watcher scope
// already does via Ack on the onMax path — see wrapper.go).
func (d *Driver) Nack(ctx context.Context, raw any, requeue bool) error {
	f, ok := raw.(rawFrame)
	if !ok {
		return fmt.Errorf("sqs: nack: unexpected raw frame %T", raw)
	}
	if !requeue {
		return nil
	}
	_, err := d.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(f.queueURL),
		ReceiptHandle:     aws.String(f.receiptHandle),
		VisibilityTimeout: 0,
	})
	return err
}

func (d *Driver) Close(ctx context.Context) error {
	logger.L().InfoContext(ctx, "closing sqs driver")
	return nil
}
