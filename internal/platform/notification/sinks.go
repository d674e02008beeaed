package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/clinic/clinic/internal/platform/webhook"
	"github.com/clinic/clinic/internal/platform/websocket"
)

// =========== Log ===========

// LogSink writes each event as a structured log line.
type LogSink struct{ logger zerolog.Logger }

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("sink", "log").Logger()}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, e Event) error {
	s.logger.Info().
		Str("event_id", e.ID.String()).
		Str("event_type", string(e.Type)).
		Str("appointment_id", e.AppointmentID.String()).
		Str("patient_id", e.PatientID.String()).
		Str("doctor_id", e.DoctorID.String()).
		Time("scheduled_at", e.ScheduledAt).
		Str("from", e.From).
		Str("to", e.To).
		Msg("appointment event")
	return nil
}

// =========== Kafka ===========

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events keyed by appointment id, so one appointment's
// events land on one partition in order.
type KafkaSink struct{ w messageWriter }

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Deliver(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.AppointmentID.String()),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	})
}

func (s *KafkaSink) Close() error { return s.w.Close() }

// =========== SQS ===========

type messageSender interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSSink sends events to one queue. FIFO queues are grouped by
// appointment and deduplicated by event id.
type SQSSink struct {
	client   messageSender
	queueURL string
}

// NewSQSSink loads credentials and region from the default AWS chain.
func NewSQSSink(ctx context.Context, queueURL string) (*SQSSink, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SQSSink{client: sqs.NewFromConfig(cfg), queueURL: queueURL}, nil
}

func (s *SQSSink) Name() string { return "sqs" }

func (s *SQSSink) Deliver(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	in := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(string(e.Type))},
		},
	}
	if strings.HasSuffix(s.queueURL, ".fifo") {
		in.MessageGroupId = aws.String(e.AppointmentID.String())
		in.MessageDeduplicationId = aws.String(e.ID.String())
	}
	_, err = s.client.SendMessage(ctx, in)
	return err
}

// =========== WebSocket ===========

type publisher interface {
	Publish(ctx context.Context, event websocket.Event) error
}

// HubSink pushes each event to the doctor's and the patient's topics.
type HubSink struct{ hub publisher }

func NewHubSink(hub publisher) *HubSink { return &HubSink{hub: hub} }

func (s *HubSink) Name() string { return "websocket" }

func (s *HubSink) Deliver(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	for _, topic := range []string{
		websocket.DoctorTopic(e.DoctorID.String()),
		websocket.PatientTopic(e.PatientID.String()),
	} {
		if err := s.hub.Publish(ctx, websocket.Event{
			Type:       string(e.Type),
			Topic:      topic,
			ResourceID: e.AppointmentID.String(),
			Timestamp:  e.OccurredAt,
			Data:       data,
		}); err != nil {
			return err
		}
	}
	return nil
}

// =========== Webhook ===========

type payloadSender interface {
	Send(ctx context.Context, eventType, eventID string, payload []byte) error
}

// WebhookSink POSTs each event, HMAC-signed, to one subscriber URL.
type WebhookSink struct{ sender payloadSender }

func NewWebhookSink(url, secret string) (*WebhookSink, error) {
	sender, err := webhook.NewSender(url, secret)
	if err != nil {
		return nil, err
	}
	return &WebhookSink{sender: sender}, nil
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Deliver(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.sender.Send(ctx, string(e.Type), e.ID.String(), body)
}

// =========== Metrics ===========

type eventCounter interface {
	Inc(name string, labelPairs ...string)
}

// MetricsSink counts delivered events by type and target status.
type MetricsSink struct{ counter eventCounter }

func NewMetricsSink(counter eventCounter) *MetricsSink { return &MetricsSink{counter: counter} }

func (s *MetricsSink) Name() string { return "metrics" }

func (s *MetricsSink) Deliver(_ context.Context, e Event) error {
	s.counter.Inc("clinic_appointment_events_total", "type", string(e.Type), "to", e.To)
	return nil
}
