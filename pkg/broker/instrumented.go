package broker

import (
	"context"

	"github.com/bodograumann/Propan/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedDriver wraps a Driver with structured logging and otel
// tracing on every transport operation, without the decorated Driver
// knowing instrumentation exists — no transport-specific detail
// leaks past the Driver interface, and decorators compose the same way.
type InstrumentedDriver struct {
	next   Driver
	tracer trace.Tracer
}

// NewInstrumentedDriver wraps next with logging and tracing.
func NewInstrumentedDriver(next Driver) *InstrumentedDriver {
	return &InstrumentedDriver{
		next:   next,
		tracer: otel.Tracer("pkg/broker"),
	}
}

func (d *InstrumentedDriver) Connect(ctx context.Context) error {
	logger.L().InfoContext(ctx, "connecting transport driver")
	if err := d.next.Connect(ctx); err != nil {
		logger.L().ErrorContext(ctx, "transport connect failed", "error", err)
		return err
	}
	return nil
}

func (d *InstrumentedDriver) NewSubscription(name string) Subscription {
	return d.next.NewSubscription(name)
}

func (d *InstrumentedDriver) Declare(ctx context.Context, sub Subscription) error {
	ctx, span := d.tracer.Start(ctx, "broker.Declare", trace.WithAttributes(
		attribute.String("broker.subscription", sub.Key()),
	))
	defer span.End()

	if err := d.next.Declare(ctx, sub); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.L().ErrorContext(ctx, "declare failed", "subscription", sub.Key(), "error", err)
		return err
	}
	return nil
}

func (d *InstrumentedDriver) Fetch(ctx context.Context, sub Subscription, params ConsumerParams) ([]*CanonicalMessage, error) {
	ctx, span := d.tracer.Start(ctx, "broker.Fetch", trace.WithAttributes(
		attribute.String("broker.subscription", sub.Key()),
	))
	defer span.End()

	messages, err := d.next.Fetch(ctx, sub, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.L().ErrorContext(ctx, "fetch failed", "subscription", sub.Key(), "error", err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("broker.batch_size", len(messages)))
	return messages, nil
}

func (d *InstrumentedDriver) Send(ctx context.Context, destination string, body []byte, contentType string, headers map[string]string, opts map[string]any) error {
	ctx, span := d.tracer.Start(ctx, "broker.Send", trace.WithAttributes(
		attribute.String("broker.destination", destination),
		attribute.String("broker.content_type", contentType),
	))
	defer span.End()

	logger.L().InfoContext(ctx, "publishing message", "destination", destination)

	err := d.next.Send(ctx, destination, body, contentType, headers, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.L().ErrorContext(ctx, "publish failed", "destination", destination, "error", err)
		return err
	}

	span.SetStatus(codes.Ok, "message published")
	return nil
}

func (d *InstrumentedDriver) Ack(ctx context.Context, raw any) error {
	return d.next.Ack(ctx, raw)
}

func (d *InstrumentedDriver) Nack(ctx context.Context, raw any, requeue bool) error {
	return d.next.Nack(ctx, raw, requeue)
}

func (d *InstrumentedDriver) Close(ctx context.Context) error {
	logger.L().InfoContext(ctx, "closing transport driver")
	return d.next.Close(ctx)
}
