package events

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/outreach/internal/config"
)

// Open builds the publisher selected by cfg.Sink. The returned close
// function releases any broker connection and is never nil.
func Open(ctx context.Context, cfg config.EventsConfig) (Publisher, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Sink {
	case "", "none":
		return Nop{}, noop, nil
	case "sqs":
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.SQSRegion != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.SQSRegion))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("loading AWS config: %w", err)
		}
		return NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.SQSQueueURL), noop, nil
	case "amqp":
		p, err := DialAMQP(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown event sink %q", cfg.Sink)
	}
}
