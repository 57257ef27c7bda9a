// Command propan-broker starts a Broker against one configured
// transport and logs every message it receives on a fixed queue/topic.
// It exists to give pkg/config a real caller: every knob below comes
// from the environment (or a local .env file), the same way the
// teacher's services bootstrap their Config structs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bodograumann/Propan/pkg/broker"
	"github.com/bodograumann/Propan/pkg/broker/adapters/kafka"
	"github.com/bodograumann/Propan/pkg/broker/adapters/memory"
	"github.com/bodograumann/Propan/pkg/broker/adapters/nats"
	"github.com/bodograumann/Propan/pkg/broker/adapters/rabbitmq"
	"github.com/bodograumann/Propan/pkg/broker/adapters/redis"
	"github.com/bodograumann/Propan/pkg/broker/adapters/sqs"
	"github.com/bodograumann/Propan/pkg/config"
	"github.com/bodograumann/Propan/pkg/logger"
)

// BrokerConfig selects and names the queue/topic propan-broker listens
// on; transport-specific settings live in each adapter's own Config
// and are loaded separately once Driver picks which one applies.
type BrokerConfig struct {
	// Driver selects the transport adapter: memory, rabbitmq, nats,
	// redis, sqs, or kafka.
	Driver string `env:"BROKER_DRIVER" env-default:"memory" validate:"oneof=memory rabbitmq nats redis sqs kafka"`

	// Queue is the subscription name (queue, subject, channel, or
	// topic, depending on Driver) propan-broker listens on.
	Queue string `env:"BROKER_QUEUE" env-default:"propan-broker"`

	// Group is the consumer group, used only by the kafka driver.
	Group string `env:"BROKER_GROUP" env-default:"propan"`

	// ResponseQueue, if set, enables the implicit RPC response
	// handler on the broker (see broker.WithResponseQueue).
	ResponseQueue string `env:"BROKER_RESPONSE_QUEUE" env-default:""`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var logCfg logger.Config
	if err := config.Load(&logCfg); err != nil {
		return fmt.Errorf("loading log config: %w", err)
	}
	logger.Init(logCfg)

	var brokerCfg BrokerConfig
	if err := config.Load(&brokerCfg); err != nil {
		return fmt.Errorf("loading broker config: %w", err)
	}

	var resilientCfg broker.ResilientDriverConfig
	if err := config.Load(&resilientCfg); err != nil {
		return fmt.Errorf("loading resilient driver config: %w", err)
	}

	driver, sub, err := buildDriver(brokerCfg)
	if err != nil {
		return err
	}

	resilient := broker.NewResilientDriver(driver, resilientCfg)
	instrumented := broker.NewInstrumentedDriver(resilient)

	var opts []broker.Option
	if brokerCfg.ResponseQueue != "" {
		opts = append(opts, broker.WithResponseQueue(brokerCfg.ResponseQueue))
	}
	b := broker.New(instrumented, opts...)

	err = broker.HandleRaw(b, sub, func(ctx context.Context, msg *broker.CanonicalMessage) (any, error) {
		logger.L().InfoContext(ctx, "message received",
			"subscription", sub.Key(), "bytes", len(msg.Body))
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("registering handler: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("starting broker: %w", err)
	}
	logger.L().InfoContext(ctx, "broker started", "driver", brokerCfg.Driver, "queue", brokerCfg.Queue)

	<-ctx.Done()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), resilientCfg.RetryBackoff*10)
	defer closeCancel()
	return b.Close(closeCtx)
}

func buildDriver(cfg BrokerConfig) (broker.Driver, broker.Subscription, error) {
	switch cfg.Driver {
	case "memory":
		d := memory.New()
		return d, d.NewSubscription(cfg.Queue), nil

	case "rabbitmq":
		var adapterCfg rabbitmq.Config
		if err := config.Load(&adapterCfg); err != nil {
			return nil, nil, fmt.Errorf("loading rabbitmq config: %w", err)
		}
		return rabbitmq.New(adapterCfg), rabbitmq.Subscribe(cfg.Queue), nil

	case "nats":
		var adapterCfg nats.Config
		if err := config.Load(&adapterCfg); err != nil {
			return nil, nil, fmt.Errorf("loading nats config: %w", err)
		}
		return nats.New(adapterCfg), nats.Subscribe(cfg.Queue), nil

	case "redis":
		var adapterCfg redis.Config
		if err := config.Load(&adapterCfg); err != nil {
			return nil, nil, fmt.Errorf("loading redis config: %w", err)
		}
		return redis.New(adapterCfg), redis.Subscribe(cfg.Queue), nil

	case "sqs":
		var adapterCfg sqs.Config
		if err := config.Load(&adapterCfg); err != nil {
			return nil, nil, fmt.Errorf("loading sqs config: %w", err)
		}
		return sqs.New(adapterCfg), sqs.Subscribe(cfg.Queue), nil

	case "kafka":
		var adapterCfg kafka.Config
		if err := config.Load(&adapterCfg); err != nil {
			return nil, nil, fmt.Errorf("loading kafka config: %w", err)
		}
		return kafka.New(adapterCfg), kafka.Subscribe(cfg.Queue, cfg.Group), nil

	default:
		return nil, nil, fmt.Errorf("unknown BROKER_DRIVER %q", cfg.Driver)
	}
}
