package kafka

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	segmentio "github.com/segmentio/kafka-go"

	"github.com/defectwise/defectwise/internal/config"
	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/logging"
	appErrors "github.com/defectwise/defectwise/pkg/errors"
)

var (
	// ErrAlreadyRunning is returned by Start when the consume loop is live.
	ErrAlreadyRunning = appErrors.New(appErrors.ErrCodeConflict, "kafka: consumer already running")

	// ErrConsumerClosed is returned by Start after Close.
	ErrConsumerClosed = appErrors.New(appErrors.ErrCodeInternal, "kafka: consumer closed")
)

// RetryConfig controls redelivery of messages whose handler failed.
type RetryConfig struct {
	MaxRetries      int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	DeadLetterTopic string
}

// ConsumerConfig holds consumer group settings. A zero CommitInterval
// commits offsets synchronously after each handled message.
type ConsumerConfig struct {
	Brokers           []string
	GroupID           string
	Topics            []string
	AutoOffsetReset   string // "earliest" or "latest"
	CommitInterval    time.Duration
	SessionTimeout    time.Duration
	HeartbeatInterval time.Duration
	MaxWait           time.Duration
	FetchMinBytes     int
	FetchMaxBytes     int
	RetryConfig       RetryConfig
}

// ConsumerConfigFromApp maps the application Kafka settings onto a consumer
// config subscribed to topics, with retries parked in the dead-letter topic.
func ConsumerConfigFromApp(cfg config.KafkaConfig, topics ...string) ConsumerConfig {
	return ConsumerConfig{
		Brokers:         cfg.Brokers,
		GroupID:         cfg.GroupID,
		Topics:          topics,
		AutoOffsetReset: cfg.AutoOffsetReset,
		CommitInterval:  cfg.CommitInterval,
		RetryConfig: RetryConfig{
			MaxRetries:      3,
			RetryBackoff:    time.Second,
			MaxRetryBackoff: 30 * time.Second,
			DeadLetterTopic: TopicDeadLetterAnalysis,
		},
	}
}

// ValidateConsumerConfig rejects configs the reader cannot run with.
func ValidateConsumerConfig(cfg ConsumerConfig) error {
	if len(cfg.Brokers) == 0 {
		return appErrors.New(appErrors.ErrCodeMessageConfigInvalid, "kafka: consumer needs at least one broker")
	}
	if cfg.GroupID == "" {
		return appErrors.New(appErrors.ErrCodeMessageConfigInvalid, "kafka: consumer group id is empty")
	}
	if len(cfg.Topics) == 0 {
		return appErrors.New(appErrors.ErrCodeMessageConfigInvalid, "kafka: consumer needs at least one topic")
	}
	switch cfg.AutoOffsetReset {
	case "", "earliest", "latest":
	default:
		return appErrors.Newf(appErrors.ErrCodeMessageConfigInvalid, "kafka: unknown auto offset reset %q", cfg.AutoOffsetReset)
	}
	return nil
}

// ConsumerMetrics counts consume outcomes.
type ConsumerMetrics struct {
	MessagesConsumed     atomic.Int64
	MessagesProcessed    atomic.Int64
	MessagesFailed       atomic.Int64
	MessagesRetried      atomic.Int64
	MessagesDeadLettered atomic.Int64
	LastConsumedAt       atomic.Value // time.Time
}

// ConsumerStats is a point-in-time snapshot of ConsumerMetrics.
type ConsumerStats struct {
	MessagesConsumed     int64
	MessagesProcessed    int64
	MessagesFailed       int64
	MessagesRetried      int64
	MessagesDeadLettered int64
	LastConsumedAt       time.Time
}

// ReaderInterface abstracts kafka.Reader for testing.
type ReaderInterface interface {
	FetchMessage(ctx context.Context) (segmentio.Message, error)
	CommitMessages(ctx context.Context, msgs ...segmentio.Message) error
	Close() error
	Stats() segmentio.ReaderStats
}

// Consumer runs a consumer group over the analysis topics and dispatches
// each message to the handler registered for its topic.
type Consumer struct {
	reader ReaderInterface
	config ConsumerConfig
	logger logging.Logger

	handlers map[string]MessageHandler
	mu       sync.RWMutex

	running atomic.Bool
	closed  atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	deadLetter *Producer
	metrics    *ConsumerMetrics
}

// NewConsumer builds a consumer. When the retry config names a dead-letter
// topic, a producer for it is created against the same brokers.
func NewConsumer(cfg ConsumerConfig, logger logging.Logger) (*Consumer, error) {
	if err := ValidateConsumerConfig(cfg); err != nil {
		return nil, err
	}
	applyConsumerDefaults(&cfg)

	startOffset := segmentio.FirstOffset
	if cfg.AutoOffsetReset == "latest" {
		startOffset = segmentio.LastOffset
	}

	reader := segmentio.NewReader(segmentio.ReaderConfig{
		Brokers:           cfg.Brokers,
		GroupID:           cfg.GroupID,
		GroupTopics:       cfg.Topics,
		MinBytes:          cfg.FetchMinBytes,
		MaxBytes:          cfg.FetchMaxBytes,
		MaxWait:           cfg.MaxWait,
		CommitInterval:    cfg.CommitInterval,
		SessionTimeout:    cfg.SessionTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		StartOffset:       startOffset,
	})

	c := &Consumer{
		reader:   reader,
		config:   cfg,
		logger:   logger,
		handlers: make(map[string]MessageHandler),
		metrics:  &ConsumerMetrics{},
	}

	if cfg.RetryConfig.DeadLetterTopic != "" {
		producer, err := NewProducer(ProducerConfig{Brokers: cfg.Brokers, Acks: "all"}, logger)
		if err != nil {
			_ = reader.Close()
			return nil, err
		}
		c.deadLetter = producer
	}
	return c, nil
}

func applyConsumerDefaults(cfg *ConsumerConfig) {
	if cfg.AutoOffsetReset == "" {
		cfg.AutoOffsetReset = "earliest"
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 30 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 3 * time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = time.Second
	}
	if cfg.FetchMinBytes <= 0 {
		cfg.FetchMinBytes = 1
	}
	if cfg.FetchMaxBytes <= 0 {
		cfg.FetchMaxBytes = 10 * 1024 * 1024
	}
	if cfg.RetryConfig.MaxRetries < 0 {
		cfg.RetryConfig.MaxRetries = 0
	}
	if cfg.RetryConfig.RetryBackoff <= 0 {
		cfg.RetryConfig.RetryBackoff = time.Second
	}
	if cfg.RetryConfig.MaxRetryBackoff <= 0 {
		cfg.RetryConfig.MaxRetryBackoff = 30 * time.Second
	}
}

// Subscribe registers handler for a topic, replacing any previous one.
func (c *Consumer) Subscribe(topic string, handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = handler
}

// Unsubscribe removes the handler for a topic.
func (c *Consumer) Unsubscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, topic)
}

func (c *Consumer) handlerFor(topic string) (MessageHandler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	handler, ok := c.handlers[topic]
	return handler, ok
}

// Start launches the consume loop. It returns immediately; the loop runs
// until ctx is canceled or Close is called.
func (c *Consumer) Start(ctx context.Context) error {
	if c.closed.Load() {
		return ErrConsumerClosed
	}
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go c.consumeLoop(runCtx)

	c.logger.Info("kafka consumer started",
		logging.String("group", c.config.GroupID),
		logging.Any("topics", c.config.Topics))
	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka fetch failed", logging.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		c.metrics.MessagesConsumed.Add(1)
		c.metrics.LastConsumedAt.Store(time.Now())

		consumed := fromKafkaMessage(msg)
		handler, ok := c.handlerFor(consumed.Topic)
		if !ok {
			c.logger.Warn("no handler registered for topic", logging.String("topic", consumed.Topic))
			c.commit(ctx, msg)
			continue
		}

		if err := c.processMessage(ctx, consumed, handler); err != nil {
			// Not committed, so the group redelivers it later.
			c.logger.Error("message left for redelivery",
				logging.String("topic", consumed.Topic),
				logging.Int64("offset", consumed.Offset),
				logging.Err(err))
			continue
		}
		c.commit(ctx, msg)
	}
}

func (c *Consumer) commit(ctx context.Context, msg segmentio.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.Error("kafka commit failed",
			logging.String("topic", msg.Topic),
			logging.Int64("offset", msg.Offset),
			logging.Err(err))
	}
}

// processMessage runs the handler with retries. A nil return means the
// message is finished (handled, dropped, or parked in the dead-letter
// topic) and its offset may be committed. An error means the message must
// stay uncommitted.
func (c *Consumer) processMessage(ctx context.Context, msg *Message, handler MessageHandler) error {
	retry := c.config.RetryConfig
	backoff := retry.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= retry.MaxRetries; attempt++ {
		if attempt > 0 {
			c.metrics.MessagesRetried.Add(1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if retry.MaxRetryBackoff > 0 && backoff > retry.MaxRetryBackoff {
				backoff = retry.MaxRetryBackoff
			}
		}

		if lastErr = handler(ctx, msg); lastErr == nil {
			c.metrics.MessagesProcessed.Add(1)
			return nil
		}
		c.logger.Warn("message handler failed",
			logging.String("topic", msg.Topic),
			logging.Int("attempt", attempt+1),
			logging.Err(lastErr))
	}

	c.metrics.MessagesFailed.Add(1)
	if c.deadLetter == nil || retry.DeadLetterTopic == "" {
		c.logger.Error("dropping message after exhausting retries",
			logging.String("topic", msg.Topic),
			logging.Err(lastErr))
		return nil
	}
	if err := c.sendToDeadLetter(ctx, msg, lastErr); err != nil {
		return err
	}
	c.metrics.MessagesDeadLettered.Add(1)
	return nil
}

func (c *Consumer) sendToDeadLetter(ctx context.Context, msg *Message, cause error) error {
	headers := make(map[string]string, len(msg.Headers)+3)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["original_topic"] = msg.Topic
	headers["error_message"] = cause.Error()
	headers["failed_at"] = time.Now().UTC().Format(time.RFC3339)

	err := c.deadLetter.Publish(ctx, &ProducerMessage{
		Topic:   c.config.RetryConfig.DeadLetterTopic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	})
	if err != nil {
		return appErrors.Wrapf(err, appErrors.ErrCodeMessagePublishFailed, "kafka: dead-letter message from %s", msg.Topic)
	}
	c.logger.Warn("message parked in dead-letter topic",
		logging.String("topic", msg.Topic),
		logging.String("dead_letter_topic", c.config.RetryConfig.DeadLetterTopic),
		logging.Err(cause))
	return nil
}

// Stats returns a snapshot of the consumer counters.
func (c *Consumer) Stats() ConsumerStats {
	stats := ConsumerStats{
		MessagesConsumed:     c.metrics.MessagesConsumed.Load(),
		MessagesProcessed:    c.metrics.MessagesProcessed.Load(),
		MessagesFailed:       c.metrics.MessagesFailed.Load(),
		MessagesRetried:      c.metrics.MessagesRetried.Load(),
		MessagesDeadLettered: c.metrics.MessagesDeadLettered.Load(),
	}
	if v, ok := c.metrics.LastConsumedAt.Load().(time.Time); ok {
		stats.LastConsumedAt = v
	}
	return stats
}

// Close stops the consume loop, waits for the in-flight message, and
// releases the reader and dead-letter producer.
func (c *Consumer) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.running.Store(false)

	var firstErr error
	if c.reader != nil {
		if err := c.reader.Close(); err != nil {
			firstErr = appErrors.Wrap(err, appErrors.ErrCodeInternal, "kafka: close reader")
		}
	}
	if c.deadLetter != nil {
		if err := c.deadLetter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func fromKafkaMessage(msg segmentio.Message) *Message {
	out := &Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
		Timestamp: msg.Time,
	}
	if len(msg.Headers) > 0 {
		out.Headers = make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			out.Headers[h.Key] = string(h.Value)
		}
	}
	return out
}
