package kafka

import (
	"context"
	"sync/atomic"
	"time"

	segmentio "github.com/segmentio/kafka-go"

	"github.com/defectwise/defectwise/internal/config"
	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/logging"
	appErrors "github.com/defectwise/defectwise/pkg/errors"
)

// ErrProducerClosed is returned when publishing after Close.
var ErrProducerClosed = appErrors.New(appErrors.ErrCodeInternal, "kafka: producer closed")

// ProducerConfig holds producer settings.
type ProducerConfig struct {
	Brokers          []string
	Acks             string // "all", "one" or "none"
	MaxRetries       int
	BatchSize        int
	BatchTimeout     time.Duration
	MaxMessageBytes  int
	CompressionCodec string // "none", "gzip", "snappy", "lz4" or "zstd"
	WriteTimeout     time.Duration
}

// ProducerConfigFromApp maps the application Kafka settings onto a
// producer config. Events drive analysis state, so acks default to "all".
func ProducerConfigFromApp(cfg config.KafkaConfig) ProducerConfig {
	return ProducerConfig{
		Brokers:      cfg.Brokers,
		Acks:         "all",
		MaxRetries:   cfg.ProducerRetries,
		BatchTimeout: cfg.BatchTimeout,
	}
}

// ValidateProducerConfig rejects configs the writer cannot run with.
func ValidateProducerConfig(cfg ProducerConfig) error {
	if len(cfg.Brokers) == 0 {
		return appErrors.New(appErrors.ErrCodeMessageConfigInvalid, "kafka: producer needs at least one broker")
	}
	switch cfg.Acks {
	case "", "all", "one", "none":
	default:
		return appErrors.Newf(appErrors.ErrCodeMessageConfigInvalid, "kafka: unknown acks mode %q", cfg.Acks)
	}
	switch cfg.CompressionCodec {
	case "", "none", "gzip", "snappy", "lz4", "zstd":
	default:
		return appErrors.Newf(appErrors.ErrCodeMessageConfigInvalid, "kafka: unknown compression codec %q", cfg.CompressionCodec)
	}
	return nil
}

// ProducerMetrics counts publish outcomes.
type ProducerMetrics struct {
	MessagesSent   atomic.Int64
	MessagesFailed atomic.Int64
	BytesSent      atomic.Int64
	LastSentAt     atomic.Value // time.Time
}

// ProducerStats is a point-in-time snapshot of ProducerMetrics.
type ProducerStats struct {
	MessagesSent   int64
	MessagesFailed int64
	BytesSent      int64
	LastSentAt     time.Time
}

// WriterInterface abstracts kafka.Writer for testing.
type WriterInterface interface {
	WriteMessages(ctx context.Context, msgs ...segmentio.Message) error
	Close() error
	Stats() segmentio.WriterStats
}

// Producer publishes analysis events.
type Producer struct {
	writer  WriterInterface
	config  ProducerConfig
	logger  logging.Logger
	metrics *ProducerMetrics
	closed  atomic.Bool
}

// NewProducer builds a producer. Messages are keyed by analysis ID, so the
// hash balancer keeps each analysis on one partition.
func NewProducer(cfg ProducerConfig, logger logging.Logger) (*Producer, error) {
	if err := ValidateProducerConfig(cfg); err != nil {
		return nil, err
	}
	applyProducerDefaults(&cfg)

	writer := &segmentio.Writer{
		Addr:         segmentio.TCP(cfg.Brokers...),
		Balancer:     &segmentio.Hash{},
		RequiredAcks: requiredAcks(cfg.Acks),
		MaxAttempts:  cfg.MaxRetries + 1,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Compression:  compressionCodec(cfg.CompressionCodec),
	}

	return &Producer{
		writer:  writer,
		config:  cfg,
		logger:  logger,
		metrics: &ProducerMetrics{},
	}, nil
}

func applyProducerDefaults(cfg *ProducerConfig) {
	if cfg.Acks == "" {
		cfg.Acks = "all"
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 1024 * 1024
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
}

func requiredAcks(acks string) segmentio.RequiredAcks {
	switch acks {
	case "one":
		return segmentio.RequireOne
	case "none":
		return segmentio.RequireNone
	default:
		return segmentio.RequireAll
	}
}

func compressionCodec(codec string) segmentio.Compression {
	switch codec {
	case "gzip":
		return segmentio.Gzip
	case "snappy":
		return segmentio.Snappy
	case "lz4":
		return segmentio.Lz4
	case "zstd":
		return segmentio.Zstd
	default:
		return 0
	}
}

// Publish writes one message and waits for the broker acknowledgement.
func (p *Producer) Publish(ctx context.Context, msg *ProducerMessage) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}
	if err := p.validateMessage(msg); err != nil {
		p.metrics.MessagesFailed.Add(1)
		return err
	}
	if err := p.writer.WriteMessages(ctx, toKafkaMessage(msg)); err != nil {
		p.metrics.MessagesFailed.Add(1)
		return appErrors.Wrapf(err, appErrors.ErrCodeMessagePublishFailed, "kafka: publish to %s", msg.Topic)
	}
	p.metrics.MessagesSent.Add(1)
	p.metrics.BytesSent.Add(int64(len(msg.Value)))
	p.metrics.LastSentAt.Store(time.Now())
	return nil
}

// PublishBatch writes msgs in one round trip and reports per-message
// outcomes. Partial failure is not an error; callers inspect the result.
func (p *Producer) PublishBatch(ctx context.Context, msgs []*ProducerMessage) (*BatchPublishResult, error) {
	if p.closed.Load() {
		return nil, ErrProducerClosed
	}
	result := &BatchPublishResult{}
	if len(msgs) == 0 {
		return result, nil
	}

	kafkaMsgs := make([]segmentio.Message, 0, len(msgs))
	indexes := make([]int, 0, len(msgs))
	for i, msg := range msgs {
		if err := p.validateMessage(msg); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, BatchItemError{Index: i, Topic: topicOf(msg), Error: err})
			continue
		}
		kafkaMsgs = append(kafkaMsgs, toKafkaMessage(msg))
		indexes = append(indexes, i)
	}

	if len(kafkaMsgs) > 0 {
		switch err := p.writer.WriteMessages(ctx, kafkaMsgs...); werr := err.(type) {
		case nil:
			result.Succeeded = len(kafkaMsgs)
		case segmentio.WriteErrors:
			for j, itemErr := range werr {
				if itemErr == nil {
					result.Succeeded++
					continue
				}
				result.Failed++
				result.Errors = append(result.Errors, BatchItemError{
					Index: indexes[j],
					Topic: kafkaMsgs[j].Topic,
					Error: appErrors.Wrap(itemErr, appErrors.ErrCodeMessagePublishFailed, "kafka: publish"),
				})
			}
		default:
			result.Failed += len(kafkaMsgs)
			for j := range kafkaMsgs {
				result.Errors = append(result.Errors, BatchItemError{
					Index: indexes[j],
					Topic: kafkaMsgs[j].Topic,
					Error: appErrors.Wrap(err, appErrors.ErrCodeMessagePublishFailed, "kafka: publish batch"),
				})
			}
		}
	}

	p.metrics.MessagesSent.Add(int64(result.Succeeded))
	p.metrics.MessagesFailed.Add(int64(result.Failed))
	if result.Succeeded > 0 {
		p.metrics.LastSentAt.Store(time.Now())
	}
	if result.Failed > 0 {
		p.logger.Warn("kafka batch publish had failures",
			logging.Int("succeeded", result.Succeeded),
			logging.Int("failed", result.Failed))
	}
	return result, nil
}

// PublishAsync publishes on a background goroutine. Failures are logged,
// not returned; use Publish when the caller must observe the outcome.
func (p *Producer) PublishAsync(ctx context.Context, msg *ProducerMessage) {
	go func() {
		if err := p.Publish(ctx, msg); err != nil {
			p.logger.Error("kafka async publish failed",
				logging.String("topic", topicOf(msg)),
				logging.Err(err))
		}
	}()
}

// Stats returns a snapshot of the producer counters.
func (p *Producer) Stats() ProducerStats {
	stats := ProducerStats{
		MessagesSent:   p.metrics.MessagesSent.Load(),
		MessagesFailed: p.metrics.MessagesFailed.Load(),
		BytesSent:      p.metrics.BytesSent.Load(),
	}
	if v, ok := p.metrics.LastSentAt.Load().(time.Time); ok {
		stats.LastSentAt = v
	}
	return stats
}

// Close flushes buffered messages and releases the writer.
func (p *Producer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrCodeInternal, "kafka: close producer")
	}
	return nil
}

func (p *Producer) validateMessage(msg *ProducerMessage) error {
	if msg == nil {
		return appErrors.New(appErrors.ErrCodeMessageInvalidPayload, "kafka: message is nil")
	}
	if msg.Topic == "" {
		return appErrors.New(appErrors.ErrCodeMessageInvalidPayload, "kafka: message topic is empty")
	}
	if len(msg.Value) == 0 {
		return appErrors.New(appErrors.ErrCodeMessageInvalidPayload, "kafka: message value is empty")
	}
	if len(msg.Value) > p.config.MaxMessageBytes {
		return appErrors.Newf(appErrors.ErrCodeMessageInvalidPayload,
			"kafka: message of %d bytes exceeds limit %d", len(msg.Value), p.config.MaxMessageBytes)
	}
	return nil
}

func toKafkaMessage(msg *ProducerMessage) segmentio.Message {
	out := segmentio.Message{
		Topic: msg.Topic,
		Key:   msg.Key,
		Value: msg.Value,
		Time:  msg.Timestamp,
	}
	for k, v := range msg.Headers {
		out.Headers = append(out.Headers, segmentio.Header{Key: k, Value: []byte(v)})
	}
	return out
}

func topicOf(msg *ProducerMessage) string {
	if msg == nil {
		return ""
	}
	return msg.Topic
}
