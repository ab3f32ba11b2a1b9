package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"golang.org/x/time/rate"

	"github.com/wonny/regtech-dq/pkg/httputil"
	"github.com/wonny/regtech-dq/pkg/logger"
	"github.com/wonny/regtech-dq/pkg/redis"
)

// LogTransport writes events to the structured log
type LogTransport struct {
	logger *logger.Logger
}

// NewLogTransport creates a log transport
func NewLogTransport(log *logger.Logger) *LogTransport {
	if log == nil {
		log = logger.Nop()
	}
	return &LogTransport{logger: log}
}

// Send logs the envelope
func (t *LogTransport) Send(_ context.Context, env Envelope, key string) error {
	t.logger.WithFields(map[string]interface{}{
		"event_id":       env.EventID,
		"event_type":     env.EventType,
		"correlation_id": env.CorrelationID,
		"key":            key,
		"payload":        string(env.Payload),
	}).Info("Quality event")
	return nil
}

// Close is a no-op
func (t *LogTransport) Close() error { return nil }

// RedisStreamTransport appends envelopes to a Redis stream with XADD
type RedisStreamTransport struct {
	client *redis.Client
	stream string
}

// NewRedisStreamTransport creates a stream transport
func NewRedisStreamTransport(client *redis.Client, stream string) *RedisStreamTransport {
	if stream == "" {
		stream = "dq:events"
	}
	return &RedisStreamTransport{client: client, stream: stream}
}

// Send adds one stream entry with fields type, key and payload (the JSON envelope)
func (t *RedisStreamTransport) Send(ctx context.Context, env Envelope, key string) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return t.client.Redis().XAdd(ctx, &goredis.XAddArgs{
		Stream: t.stream,
		Values: map[string]interface{}{
			"type":    env.EventType,
			"key":     key,
			"payload": string(data),
		},
	}).Err()
}

// Close leaves the shared client open; its owner closes it
func (t *RedisStreamTransport) Close() error { return nil }

// KafkaTransport writes envelopes to a Kafka topic keyed by batch id
type KafkaTransport struct {
	writer *kafka.Writer
}

// NewKafkaTransport creates a synchronous writer
func NewKafkaTransport(brokers []string, topic string) *KafkaTransport {
	return &KafkaTransport{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}}
}

// Send writes one message. The batch id key keeps a batch's events on one partition.
func (t *KafkaTransport) Send(ctx context.Context, env Envelope, key string) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.EventType)},
			{Key: "event_id", Value: []byte(env.EventID)},
		},
	}
	if env.CorrelationID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "correlation_id", Value: []byte(env.CorrelationID)})
	}
	return t.writer.WriteMessages(ctx, msg)
}

// Close flushes and closes the writer
func (t *KafkaTransport) Close() error {
	return t.writer.Close()
}

// WebhookTransport POSTs each envelope as JSON to a fixed URL
type WebhookTransport struct {
	client *httputil.Client
	url    string
}

// NewWebhookTransport creates a webhook transport. 5xx and 429 answers are retried by the client.
func NewWebhookTransport(client *httputil.Client, url string) *WebhookTransport {
	return &WebhookTransport{client: client, url: url}
}

// Send posts the envelope; the key travels in the X-Event-Key header
func (t *WebhookTransport) Send(ctx context.Context, env Envelope, key string) error {
	headers := map[string]string{
		"X-Event-Type": env.EventType,
		"X-Event-ID":   env.EventID,
		"X-Event-Key":  key,
	}
	if env.CorrelationID != "" {
		headers["X-Correlation-ID"] = env.CorrelationID
	}
	resp, err := t.client.PostJSON(ctx, t.url, env, headers)
	if err != nil {
		return err
	}
	return httputil.CheckStatus(resp)
}

// Close is a no-op
func (t *WebhookTransport) Close() error { return nil }

// rateLimited throttles a transport with a token bucket
type rateLimited struct {
	next    Transport
	limiter *rate.Limiter
}

// RateLimited wraps next so that at most perSec events are sent per second (burst allowed).
// Send blocks until a token is available or ctx is done.
func RateLimited(next Transport, perSec float64, burst int) Transport {
	if burst <= 0 {
		burst = 1
	}
	return &rateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(perSec), burst)}
}

func (t *rateLimited) Send(ctx context.Context, env Envelope, key string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return t.next.Send(ctx, env, key)
}

func (t *rateLimited) Close() error {
	return t.next.Close()
}

// MemoryTransport records envelopes in memory (tests, dry runs)
type MemoryTransport struct {
	mu        sync.Mutex
	envelopes []Envelope
	keys      []string
	Err       error
}

// NewMemoryTransport creates an empty recorder
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{}
}

// Send records the envelope, or returns Err when set
func (t *MemoryTransport) Send(_ context.Context, env Envelope, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return t.Err
	}
	t.envelopes = append(t.envelopes, env)
	t.keys = append(t.keys, key)
	return nil
}

// Close is a no-op
func (t *MemoryTransport) Close() error { return nil }

// Envelopes returns a copy of the recorded envelopes
func (t *MemoryTransport) Envelopes() []Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Envelope(nil), t.envelopes...)
}

// Keys returns the recorded keys in send order
func (t *MemoryTransport) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.keys...)
}
