package kafka

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	segmentio "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/logging"
	appErrors "github.com/defectwise/defectwise/pkg/errors"
)

type mockKafkaReader struct {
	fetchFunc  func(ctx context.Context) (segmentio.Message, error)
	commitFunc func(ctx context.Context, msgs ...segmentio.Message) error
	closeFunc  func() error
}

func (m *mockKafkaReader) FetchMessage(ctx context.Context) (segmentio.Message, error) {
	if m.fetchFunc != nil {
		return m.fetchFunc(ctx)
	}
	<-ctx.Done()
	return segmentio.Message{}, ctx.Err()
}

func (m *mockKafkaReader) CommitMessages(ctx context.Context, msgs ...segmentio.Message) error {
	if m.commitFunc != nil {
		return m.commitFunc(ctx, msgs...)
	}
	return nil
}

func (m *mockKafkaReader) Close() error {
	if m.closeFunc != nil {
		return m.closeFunc()
	}
	return nil
}

func (m *mockKafkaReader) Stats() segmentio.ReaderStats {
	return segmentio.ReaderStats{}
}

func newTestConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers: []string{"localhost:9092"},
		GroupID: "defectwise-workers",
		Topics:  []string{TopicAnalysisRequested},
	}
}

func newTestConsumer(reader ReaderInterface) *Consumer {
	return &Consumer{
		reader:   reader,
		config:   newTestConsumerConfig(),
		logger:   logging.NewNopLogger(),
		handlers: make(map[string]MessageHandler),
		metrics:  &ConsumerMetrics{},
	}
}

func TestValidateConsumerConfig_Valid(t *testing.T) {
	assert.NoError(t, ValidateConsumerConfig(newTestConsumerConfig()))
}

func TestValidateConsumerConfig_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *ConsumerConfig)
	}{
		{name: "no brokers", mutate: func(cfg *ConsumerConfig) { cfg.Brokers = nil }},
		{name: "no group", mutate: func(cfg *ConsumerConfig) { cfg.GroupID = "" }},
		{name: "no topics", mutate: func(cfg *ConsumerConfig) { cfg.Topics = nil }},
		{name: "bad offset reset", mutate: func(cfg *ConsumerConfig) { cfg.AutoOffsetReset = "newest" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConsumerConfig()
			tt.mutate(&cfg)
			err := ValidateConsumerConfig(cfg)
			assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeMessageConfigInvalid))
		})
	}
}

func TestConsumerConfigFromApp(t *testing.T) {
	cfg := ConsumerConfigFromApp(testKafkaAppConfig(), TopicAnalysisRequested)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
	assert.Equal(t, "defectwise-workers", cfg.GroupID)
	assert.Equal(t, []string{TopicAnalysisRequested}, cfg.Topics)
	assert.Equal(t, TopicDeadLetterAnalysis, cfg.RetryConfig.DeadLetterTopic)
}

func TestSubscribe_RegistersHandler(t *testing.T) {
	c := newTestConsumer(&mockKafkaReader{})
	c.Subscribe(TopicAnalysisRequested, func(_ context.Context, _ *Message) error { return nil })
	assert.Len(t, c.handlers, 1)

	c.Unsubscribe(TopicAnalysisRequested)
	assert.Empty(t, c.handlers)
}

func TestStart_AlreadyRunning(t *testing.T) {
	c := newTestConsumer(&mockKafkaReader{})
	c.running.Store(true)
	err := c.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestStart_AfterClose(t *testing.T) {
	c := newTestConsumer(&mockKafkaReader{})
	require.NoError(t, c.Close())
	err := c.Start(context.Background())
	assert.ErrorIs(t, err, ErrConsumerClosed)
}

func TestConsumeLoop_DispatchAndCommit(t *testing.T) {
	var fetched atomic.Bool
	var committed atomic.Int64
	reader := &mockKafkaReader{
		fetchFunc: func(ctx context.Context) (segmentio.Message, error) {
			if !fetched.CompareAndSwap(false, true) {
				<-ctx.Done()
				return segmentio.Message{}, ctx.Err()
			}
			return segmentio.Message{
				Topic: TopicAnalysisRequested,
				Value: []byte(`{"analysis_id":"a-1"}`),
				Headers: []segmentio.Header{
					{Key: "event_type", Value: []byte(EventTypeAnalysisRequested)},
				},
			}, nil
		},
		commitFunc: func(_ context.Context, msgs ...segmentio.Message) error {
			committed.Add(int64(len(msgs)))
			return nil
		},
	}

	c := newTestConsumer(reader)
	handled := make(chan *Message, 1)
	c.Subscribe(TopicAnalysisRequested, func(_ context.Context, msg *Message) error {
		handled <- msg
		return nil
	})

	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	select {
	case msg := <-handled:
		assert.Equal(t, `{"analysis_id":"a-1"}`, string(msg.Value))
		assert.Equal(t, EventTypeAnalysisRequested, msg.Headers["event_type"])
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}

	require.NoError(t, c.Close())
	assert.Equal(t, int64(1), committed.Load())
	assert.Equal(t, int64(1), c.metrics.MessagesProcessed.Load())
}

func TestConsumeLoop_NoHandlerStillCommits(t *testing.T) {
	var fetched atomic.Bool
	committed := make(chan struct{}, 1)
	reader := &mockKafkaReader{
		fetchFunc: func(ctx context.Context) (segmentio.Message, error) {
			if !fetched.CompareAndSwap(false, true) {
				<-ctx.Done()
				return segmentio.Message{}, ctx.Err()
			}
			return segmentio.Message{Topic: "unclaimed.topic", Value: []byte("v")}, nil
		},
		commitFunc: func(_ context.Context, _ ...segmentio.Message) error {
			committed <- struct{}{}
			return nil
		},
	}

	c := newTestConsumer(reader)
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	select {
	case <-committed:
	case <-time.After(time.Second):
		t.Fatal("unclaimed message was never committed")
	}
}

func TestProcessMessage_RetryThenSuccess(t *testing.T) {
	c := newTestConsumer(&mockKafkaReader{})
	c.config.RetryConfig = RetryConfig{MaxRetries: 2, RetryBackoff: time.Millisecond}

	attempts := 0
	handler := func(_ context.Context, _ *Message) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	}

	err := c.processMessage(context.Background(), &Message{Topic: TopicAnalysisRequested}, handler)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, int64(1), c.metrics.MessagesRetried.Load())
	assert.Equal(t, int64(1), c.metrics.MessagesProcessed.Load())
}

func TestProcessMessage_ExhaustedWithoutDeadLetterDrops(t *testing.T) {
	c := newTestConsumer(&mockKafkaReader{})
	c.config.RetryConfig = RetryConfig{MaxRetries: 1, RetryBackoff: time.Millisecond}

	attempts := 0
	handler := func(_ context.Context, _ *Message) error {
		attempts++
		return errors.New("permanent")
	}

	// No dead-letter topic configured, so the message is dropped and the
	// offset still advances.
	err := c.processMessage(context.Background(), &Message{Topic: TopicAnalysisRequested}, handler)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, int64(1), c.metrics.MessagesFailed.Load())
}

func TestProcessMessage_ExhaustedParksInDeadLetter(t *testing.T) {
	var dlqMsgs []segmentio.Message
	writer := &mockKafkaWriter{
		writeFunc: func(_ context.Context, msgs ...segmentio.Message) error {
			dlqMsgs = append(dlqMsgs, msgs...)
			return nil
		},
	}

	c := newTestConsumer(&mockKafkaReader{})
	c.config.RetryConfig = RetryConfig{
		MaxRetries:      1,
		RetryBackoff:    time.Millisecond,
		DeadLetterTopic: TopicDeadLetterAnalysis,
	}
	c.deadLetter = newTestProducer(writer)

	handler := func(_ context.Context, _ *Message) error { return errors.New("permanent") }

	msg := &Message{
		Topic:   TopicAnalysisRequested,
		Key:     []byte("a-1"),
		Value:   []byte("payload"),
		Headers: map[string]string{"event_type": EventTypeAnalysisRequested},
	}
	err := c.processMessage(context.Background(), msg, handler)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.metrics.MessagesDeadLettered.Load())

	require.Len(t, dlqMsgs, 1)
	assert.Equal(t, TopicDeadLetterAnalysis, dlqMsgs[0].Topic)
	assert.Equal(t, "a-1", string(dlqMsgs[0].Key))
	assert.Equal(t, "payload", string(dlqMsgs[0].Value))

	headers := make(map[string]string, len(dlqMsgs[0].Headers))
	for _, h := range dlqMsgs[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, TopicAnalysisRequested, headers["original_topic"])
	assert.Equal(t, "permanent", headers["error_message"])
	assert.Equal(t, EventTypeAnalysisRequested, headers["event_type"])
}

func TestProcessMessage_DeadLetterFailureKeepsOffset(t *testing.T) {
	writer := &mockKafkaWriter{
		writeFunc: func(_ context.Context, _ ...segmentio.Message) error {
			return errors.New("dead-letter broker down")
		},
	}

	c := newTestConsumer(&mockKafkaReader{})
	c.config.RetryConfig = RetryConfig{
		MaxRetries:      0,
		RetryBackoff:    time.Millisecond,
		DeadLetterTopic: TopicDeadLetterAnalysis,
	}
	c.deadLetter = newTestProducer(writer)

	handler := func(_ context.Context, _ *Message) error { return errors.New("permanent") }

	// Parking failed too, so the error propagates and the offset stays
	// uncommitted for redelivery.
	err := c.processMessage(context.Background(), &Message{Topic: TopicAnalysisRequested, Value: []byte("v")}, handler)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeMessagePublishFailed))
	assert.Equal(t, int64(0), c.metrics.MessagesDeadLettered.Load())
}

func TestProcessMessage_ContextCanceledDuringBackoff(t *testing.T) {
	c := newTestConsumer(&mockKafkaReader{})
	c.config.RetryConfig = RetryConfig{MaxRetries: 3, RetryBackoff: time.Minute}

	ctx, cancel := context.WithCancel(context.Background())
	handler := func(_ context.Context, _ *Message) error {
		cancel()
		return errors.New("transient")
	}

	err := c.processMessage(ctx, &Message{Topic: TopicAnalysisRequested}, handler)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConsumerClose_Idempotent(t *testing.T) {
	closes := 0
	reader := &mockKafkaReader{
		closeFunc: func() error {
			closes++
			return nil
		},
	}
	c := newTestConsumer(reader)
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, closes)
}

func TestConsumerStats(t *testing.T) {
	c := newTestConsumer(&mockKafkaReader{})
	c.metrics.MessagesConsumed.Add(5)
	c.metrics.MessagesProcessed.Add(4)
	c.metrics.MessagesFailed.Add(1)
	c.metrics.LastConsumedAt.Store(time.Now())

	stats := c.Stats()
	assert.Equal(t, int64(5), stats.MessagesConsumed)
	assert.Equal(t, int64(4), stats.MessagesProcessed)
	assert.Equal(t, int64(1), stats.MessagesFailed)
	assert.False(t, stats.LastConsumedAt.IsZero())
}
