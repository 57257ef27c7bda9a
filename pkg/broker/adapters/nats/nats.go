// Package nats implements broker.Driver on top of NATS JetStream,
// using JetStream's pull consumers (Fetch) so ack/nack and redelivery
// map directly onto the core's Driver contract — core NATS pub/sub has
// no redelivery or ack concept to build push-back retries on top of.
package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bodograumann/Propan/pkg/broker"
	"github.com/bodograumann/Propan/pkg/logger"
	"github.com/nats-io/nats.go"
)

type subscription struct {
	subject string
}

func (s subscription) Key() string { return s.subject }

// Subscribe builds the nats.Driver's Subscription descriptor for subject.
func Subscribe(subject string) broker.Subscription {
	return subscription{subject: subject}
}

// Config configures the driver's connection and the JetStream stream
// its subscriptions are declared against.
type Config struct {
	URL        string `env:"NATS_URL" env-default:"nats://localhost:4222"`
	StreamName string `env:"NATS_STREAM" env-default:"propan"`
}

// Driver implements broker.Driver against NATS JetStream.
type Driver struct {
	cfg  Config
	conn *nats.Conn
	js   nats.JetStreamContext

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// New builds a disconnected nats.Driver.
func New(cfg Config) *Driver {
	return &Driver{cfg: cfg, subs: map[string]*nats.Subscription{}}
}

func (d *Driver) Connect(ctx context.Context) error {
	conn, err := nats.Connect(d.cfg.URL)
	if err != nil {
		return fmt.Errorf("nats: connect: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		return fmt.Errorf("nats: jetstream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     d.cfg.StreamName,
		Subjects: []string{d.cfg.StreamName + ".>"},
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("nats: add stream: %w", err)
	}

	d.conn = conn
	d.js = js
	return nil
}

func (d *Driver) NewSubscription(name string) broker.Subscription {
	return subscription{subject: d.cfg.StreamName + "." + name}
}

func (d *Driver) Declare(ctx context.Context, sub broker.Subscription) error {
	s := sub.(subscription)

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subs[s.subject]; ok {
		return nil
	}

	durable := "propan-" + sanitizeDurable(s.subject)
	psub, err := d.js.PullSubscribe(s.subject, durable, nats.AckExplicit())
	if err != nil {
		return fmt.Errorf("nats: pull subscribe %q: %w", s.subject, err)
	}
	d.subs[s.subject] = psub
	return nil
}

func sanitizeDurable(subject string) string {
	out := make([]byte, len(subject))
	for i := 0; i < len(subject); i++ {
		c := subject[i]
		if c == '.' || c == '>' || c == '*' {
			out[i] = '_'
		} else {
			out[i] = c
		}
	}
	return string(out)
}

// Fetch pulls the next batch via JetStream's pull consumer, treating a
// fetch timeout (nothing arrived within the wait interval) as a valid
// empty batch rather than an error.
func (d *Driver) Fetch(ctx context.Context, sub broker.Subscription, params broker.ConsumerParams) ([]*broker.CanonicalMessage, error) {
	s := sub.(subscription)

	d.mu.Lock()
	psub, ok := d.subs[s.subject]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("nats: subject %q not declared", s.subject)
	}

	wait := params.FetchWaitInterval(time.Second)
	msgs, err := psub.Fetch(10, nats.MaxWait(wait), nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]*broker.CanonicalMessage, len(msgs))
	for i, msg := range msgs {
		out[i] = toCanonical(msg)
	}
	return out, nil
}

func toCanonical(msg *nats.Msg) *broker.CanonicalMessage {
	headers := map[string]string{}
	var messageID, correlationID, replyTo, contentType string
	if msg.Header != nil {
		messageID = msg.Header.Get("message_id")
		correlationID = msg.Header.Get("correlation_id")
		replyTo = msg.Header.Get("reply_to")
		contentType = msg.Header.Get("content-type")
		for k, v := range msg.Header {
			if k == "message_id" || k == "correlation_id" || k == "reply_to" || k == "content-type" {
				continue
			}
			if len(v) > 0 {
				headers[k] = v[0]
			}
		}
	}
	return broker.NewCanonicalMessage(msg.Data, contentType, messageID, correlationID, replyTo, headers, msg)
}

func (d *Driver) Send(ctx context.Context, destination string, body []byte, contentType string, headers map[string]string, opts map[string]any) error {
	natsMsg := &nats.Msg{
		Subject: d.subjectFor(destination),
		Data:    body,
		Header:  nats.Header{},
	}
	if contentType != "" {
		natsMsg.Header.Set("content-type", contentType)
	}
	for k, v := range headers {
		natsMsg.Header.Set(k, v)
	}

	_, err := d.js.PublishMsg(natsMsg, nats.Context(ctx))
	return err
}

// subjectFor maps a bare destination name onto this driver's stream
// subject namespace, mirroring NewSubscription, so a reply_to carrying
// a bare queue name (as handed to a handler via msg.ReplyTo) resolves
// to the same subject the response queue was declared under.
func (d *Driver) subjectFor(destination string) string {
	if len(destination) > len(d.cfg.StreamName) && destination[:len(d.cfg.StreamName)+1] == d.cfg.StreamName+"." {
		return destination
	}
	return d.cfg.StreamName + "." + destination
}

func (d *Driver) Ack(ctx context.Context, raw any) error {
	msg, ok := raw.(*nats.Msg)
	if !ok {
		return fmt.Errorf("nats: ack: unexpected raw frame %T", raw)
	}
	return msg.Ack()
}

func (d *Driver) Nack(ctx context.Context, raw any, requeue bool) error {
	msg, ok := raw.(*nats.Msg)
	if !ok {
		return fmt.Errorf("nats: nack: unexpected raw frame %T", raw)
	}
	if requeue {
		return msg.Nak()
	}
	return msg.Term()
}

func (d *Driver) Close(ctx context.Context) error {
	logger.L().InfoContext(ctx, "closing nats connection")
	if d.conn == nil {
		return nil
	}
	d.conn.Close()
	return nil
}
