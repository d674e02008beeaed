package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/websocket"
)

// SinkConfig selects and configures sinks by name: log, websocket, kafka,
// sqs, webhook.
type SinkConfig struct {
	Names         []string
	KafkaBrokers  []string
	KafkaTopic    string
	SQSQueueURL   string
	WebhookURL    string
	WebhookSecret string
}

// BuildSinks constructs the named sinks. The returned closer releases any
// broker connections.
func BuildSinks(ctx context.Context, cfg SinkConfig, logger zerolog.Logger, hub *websocket.Hub) ([]Sink, func() error, error) {
	var (
		sinks   []Sink
		closers []func() error
	)
	closeAll := func() error {
		var first error
		for _, c := range closers {
			if err := c(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	for _, name := range cfg.Names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "":
		case "log":
			sinks = append(sinks, NewLogSink(logger))
		case "websocket", "ws":
			if hub == nil {
				return nil, closeAll, fmt.Errorf("websocket sink requires a hub")
			}
			sinks = append(sinks, NewHubSink(hub))
		case "kafka":
			if len(cfg.KafkaBrokers) == 0 || cfg.KafkaTopic == "" {
				return nil, closeAll, fmt.Errorf("kafka sink requires KAFKA_BROKERS and KAFKA_TOPIC")
			}
			k := NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
			sinks = append(sinks, k)
			closers = append(closers, k.Close)
		case "sqs":
			if cfg.SQSQueueURL == "" {
				return nil, closeAll, fmt.Errorf("sqs sink requires SQS_QUEUE_URL")
			}
			s, err := NewSQSSink(ctx, cfg.SQSQueueURL)
			if err != nil {
				return nil, closeAll, err
			}
			sinks = append(sinks, s)
		case "webhook":
			w, err := NewWebhookSink(cfg.WebhookURL, cfg.WebhookSecret)
			if err != nil {
				return nil, closeAll, fmt.Errorf("webhook sink: %w", err)
			}
			sinks = append(sinks, w)
		default:
			return nil, closeAll, fmt.Errorf("unknown notification sink %q", name)
		}
	}
	return sinks, closeAll, nil
}
