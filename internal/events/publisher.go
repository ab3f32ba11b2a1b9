package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/regtech-dq/internal/contracts"
	"github.com/wonny/regtech-dq/pkg/config"
	"github.com/wonny/regtech-dq/pkg/httputil"
	"github.com/wonny/regtech-dq/pkg/logger"
	"github.com/wonny/regtech-dq/pkg/redis"
)

// Envelope wraps every published event
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// Transport delivers envelopes. key groups related events (the batch id).
type Transport interface {
	Send(ctx context.Context, env Envelope, key string) error
	Close() error
}

// Publisher implements contracts.EventPublisher on top of a Transport
type Publisher struct {
	transport Transport
	logger    *logger.Logger
	now       func() time.Time
}

// NewPublisher creates a publisher
func NewPublisher(transport Transport, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.Nop()
	}
	return &Publisher{transport: transport, logger: log, now: time.Now}
}

// PublishCompleted announces a scored batch
func (p *Publisher) PublishCompleted(ctx context.Context, event contracts.BatchQualityCompleted) error {
	return p.publish(ctx, contracts.EventBatchQualityCompleted, event.CorrelationID, event.BatchID, event)
}

// PublishFailed announces a batch that could not be scored
func (p *Publisher) PublishFailed(ctx context.Context, event contracts.BatchQualityFailed) error {
	return p.publish(ctx, contracts.EventBatchQualityFailed, event.CorrelationID, event.BatchID, event)
}

// Close releases the transport
func (p *Publisher) Close() error {
	return p.transport.Close()
}

func (p *Publisher) publish(ctx context.Context, eventType, correlationID, key string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}

	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		OccurredAt:    p.now().UTC(),
		CorrelationID: correlationID,
		Payload:       data,
	}
	if err := p.transport.Send(ctx, env, key); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}

	p.logger.WithFields(map[string]interface{}{
		"event_id":   env.EventID,
		"event_type": eventType,
		"batch_id":   key,
	}).Debug("Event published")
	return nil
}

// New builds the configured publisher.
// rdb is required for the redis transport and ignored otherwise.
func New(cfg config.EventsConfig, rdb *redis.Client, log *logger.Logger) (*Publisher, error) {
	var transport Transport
	switch cfg.Transport {
	case "", "log":
		transport = NewLogTransport(log)
	case "redis":
		if rdb == nil || !rdb.Enabled() {
			return nil, fmt.Errorf("redis event transport requires an enabled redis client")
		}
		transport = NewRedisStreamTransport(rdb, cfg.Stream)
	case "kafka":
		transport = NewKafkaTransport(cfg.KafkaBrokers, cfg.KafkaTopic)
	case "webhook":
		if cfg.WebhookURL == "" {
			return nil, fmt.Errorf("webhook event transport requires EVENTS_WEBHOOK_URL")
		}
		transport = NewWebhookTransport(httputil.New(cfg.WebhookTimeout, log), cfg.WebhookURL)
	default:
		return nil, fmt.Errorf("unknown event transport %q", cfg.Transport)
	}

	if cfg.RatePerSec > 0 {
		transport = RateLimited(transport, cfg.RatePerSec, cfg.Burst)
	}
	return NewPublisher(transport, log), nil
}
