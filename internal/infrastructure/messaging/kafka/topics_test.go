package kafka

import (
	"context"
	"testing"
	"time"

	segmentio "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defectwise/defectwise/internal/config"
	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/logging"
	appErrors "github.com/defectwise/defectwise/pkg/errors"
)

type mockKafkaConn struct {
	createFunc func(topics ...segmentio.TopicConfig) error
	deleteFunc func(topics ...string) error
	readFunc   func(topics ...string) ([]segmentio.Partition, error)
	closeFunc  func() error
}

func (m *mockKafkaConn) CreateTopics(topics ...segmentio.TopicConfig) error {
	if m.createFunc != nil {
		return m.createFunc(topics...)
	}
	return nil
}

func (m *mockKafkaConn) DeleteTopics(topics ...string) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(topics...)
	}
	return nil
}

func (m *mockKafkaConn) ReadPartitions(topics ...string) ([]segmentio.Partition, error) {
	if m.readFunc != nil {
		return m.readFunc(topics...)
	}
	return nil, nil
}

func (m *mockKafkaConn) Close() error {
	if m.closeFunc != nil {
		return m.closeFunc()
	}
	return nil
}

func newTestTopicManager(mock ConnInterface) *TopicManager {
	return &TopicManager{
		conn:   mock,
		logger: logging.NewNopLogger(),
	}
}

func testKafkaAppConfig() config.KafkaConfig {
	return config.KafkaConfig{
		Brokers:         []string{"localhost:9092"},
		GroupID:         "defectwise-workers",
		AutoOffsetReset: "earliest",
		ProducerRetries: 3,
		BatchTimeout:    20 * time.Millisecond,
		CommitInterval:  time.Second,
	}
}

func TestTopicConstants(t *testing.T) {
	assert.Equal(t, "analysis.requested", TopicAnalysisRequested)
	assert.Equal(t, "analysis.completed", TopicAnalysisCompleted)
	assert.Equal(t, "analysis.failed", TopicAnalysisFailed)
	assert.Equal(t, "dead_letter.analysis", TopicDeadLetterAnalysis)
}

func TestDefaultTopics(t *testing.T) {
	defaults := DefaultTopics()
	require.Len(t, defaults, 4)

	byName := make(map[string]TopicConfig, len(defaults))
	for _, cfg := range defaults {
		byName[cfg.Name] = cfg
	}
	require.Contains(t, byName, TopicAnalysisRequested)
	require.Contains(t, byName, TopicDeadLetterAnalysis)

	// The request topic fans out across workers; the dead-letter topic
	// retains messages the longest.
	assert.Equal(t, 6, byName[TopicAnalysisRequested].NumPartitions)
	assert.Greater(t, byName[TopicDeadLetterAnalysis].RetentionMs, byName[TopicAnalysisRequested].RetentionMs)
}

func TestProducerConfigFromApp(t *testing.T) {
	cfg := ProducerConfigFromApp(testKafkaAppConfig())
	assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
	assert.Equal(t, "all", cfg.Acks)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 20*time.Millisecond, cfg.BatchTimeout)
}

func TestCreateTopic_Success(t *testing.T) {
	mock := &mockKafkaConn{
		createFunc: func(topics ...segmentio.TopicConfig) error {
			require.Len(t, topics, 1)
			assert.Equal(t, TopicAnalysisRequested, topics[0].Topic)
			assert.Equal(t, 6, topics[0].NumPartitions)

			entries := make(map[string]string, len(topics[0].ConfigEntries))
			for _, e := range topics[0].ConfigEntries {
				entries[e.ConfigName] = e.ConfigValue
			}
			assert.Equal(t, "604800000", entries["retention.ms"])
			assert.Equal(t, "delete", entries["cleanup.policy"])
			return nil
		},
	}
	m := newTestTopicManager(mock)

	err := m.CreateTopic(context.Background(), TopicConfig{
		Name:              TopicAnalysisRequested,
		NumPartitions:     6,
		ReplicationFactor: 1,
		RetentionMs:       int64(7 * 24 * time.Hour / time.Millisecond),
		CleanupPolicy:     "delete",
	})
	assert.NoError(t, err)
}

func TestCreateTopic_AppliesDefaults(t *testing.T) {
	mock := &mockKafkaConn{
		createFunc: func(topics ...segmentio.TopicConfig) error {
			assert.Equal(t, 1, topics[0].NumPartitions)
			assert.Equal(t, 1, topics[0].ReplicationFactor)
			return nil
		},
	}
	m := newTestTopicManager(mock)
	assert.NoError(t, m.CreateTopic(context.Background(), TopicConfig{Name: "defaulted"}))
}

func TestCreateTopic_EmptyName(t *testing.T) {
	m := newTestTopicManager(&mockKafkaConn{})
	err := m.CreateTopic(context.Background(), TopicConfig{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeMessageConfigInvalid))
}

func TestDeleteTopic_Success(t *testing.T) {
	var deleted []string
	mock := &mockKafkaConn{
		deleteFunc: func(topics ...string) error {
			deleted = topics
			return nil
		},
	}
	m := newTestTopicManager(mock)
	require.NoError(t, m.DeleteTopic(context.Background(), "obsolete"))
	assert.Equal(t, []string{"obsolete"}, deleted)
}

func TestTopicExists(t *testing.T) {
	mock := &mockKafkaConn{
		readFunc: func(topics ...string) ([]segmentio.Partition, error) {
			if len(topics) == 1 && topics[0] == TopicAnalysisRequested {
				return []segmentio.Partition{{Topic: TopicAnalysisRequested}}, nil
			}
			return nil, assert.AnError
		},
	}
	m := newTestTopicManager(mock)

	exists, err := m.TopicExists(context.Background(), TopicAnalysisRequested)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = m.TopicExists(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestEnsureTopics_CreatesOnlyMissing(t *testing.T) {
	var created []string
	mock := &mockKafkaConn{
		readFunc: func(topics ...string) ([]segmentio.Partition, error) {
			if len(topics) == 1 && topics[0] == TopicAnalysisCompleted {
				return []segmentio.Partition{{Topic: TopicAnalysisCompleted}}, nil
			}
			return nil, assert.AnError
		},
		createFunc: func(topics ...segmentio.TopicConfig) error {
			for _, cfg := range topics {
				created = append(created, cfg.Topic)
			}
			return nil
		},
	}
	m := newTestTopicManager(mock)

	err := m.EnsureTopics(context.Background(), []TopicConfig{
		{Name: TopicAnalysisRequested},
		{Name: TopicAnalysisCompleted},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{TopicAnalysisRequested}, created)
}

func TestListTopics_Deduplicates(t *testing.T) {
	mock := &mockKafkaConn{
		readFunc: func(_ ...string) ([]segmentio.Partition, error) {
			return []segmentio.Partition{
				{Topic: TopicAnalysisRequested, ID: 0},
				{Topic: TopicAnalysisRequested, ID: 1},
				{Topic: TopicAnalysisCompleted, ID: 0},
			}, nil
		},
	}
	m := newTestTopicManager(mock)

	topics, err := m.ListTopics(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{TopicAnalysisRequested, TopicAnalysisCompleted}, topics)
}

func TestEventEnvelope_RoundTrip(t *testing.T) {
	payload := AnalysisRequestedPayload{
		AnalysisID:  "a-1",
		Filename:    "survey.pdf",
		SourceKey:   "documents/abc123.pdf",
		ContentHash: "abc123",
		RequestedAt: time.Now().UTC().Truncate(time.Second),
	}
	env, err := NewEventEnvelope(EventTypeAnalysisRequested, "apiserver", payload)
	require.NoError(t, err)
	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, "v1", env.SchemaVersion)

	msg, err := env.ToMessage(TopicAnalysisRequested, payload.AnalysisID)
	require.NoError(t, err)
	assert.Equal(t, TopicAnalysisRequested, msg.Topic)
	assert.Equal(t, "a-1", string(msg.Key))
	assert.Equal(t, EventTypeAnalysisRequested, msg.Headers["event_type"])

	decoded, err := MessageToEventEnvelope(&Message{Value: msg.Value})
	require.NoError(t, err)
	assert.Equal(t, env.EventID, decoded.EventID)

	var got AnalysisRequestedPayload
	require.NoError(t, decoded.DecodePayload(&got))
	assert.Equal(t, payload, got)
}

func TestDecodePayload_Empty(t *testing.T) {
	env := &EventEnvelope{EventType: EventTypeAnalysisFailed}
	var payload AnalysisFailedPayload
	err := env.DecodePayload(&payload)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeMessageInvalidPayload))
}

func TestMessageToEventEnvelope_Invalid(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
	}{
		{name: "nil message", msg: nil},
		{name: "empty value", msg: &Message{}},
		{name: "not json", msg: &Message{Value: []byte("not-json")}},
		{name: "missing event type", msg: &Message{Value: []byte(`{"event_id":"e-1"}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MessageToEventEnvelope(tt.msg)
			assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeMessageInvalidPayload))
		})
	}
}
