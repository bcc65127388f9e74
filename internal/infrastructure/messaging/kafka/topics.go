package kafka

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	segmentio "github.com/segmentio/kafka-go"

	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/logging"
	appErrors "github.com/defectwise/defectwise/pkg/errors"
)

const (
	// TopicAnalysisRequested carries submitted documents awaiting a worker.
	TopicAnalysisRequested = "analysis.requested"

	// TopicAnalysisCompleted announces finished analyses with their summary.
	TopicAnalysisCompleted = "analysis.completed"

	// TopicAnalysisFailed announces analyses that could not be processed.
	TopicAnalysisFailed = "analysis.failed"

	// TopicDeadLetterAnalysis receives messages that exhausted their retries.
	TopicDeadLetterAnalysis = "dead_letter.analysis"
)

// Event types carried in EventEnvelope.EventType.
const (
	EventTypeAnalysisRequested = "analysis.requested"
	EventTypeAnalysisCompleted = "analysis.completed"
	EventTypeAnalysisFailed    = "analysis.failed"
)

// envelopeSchemaVersion is bumped when the envelope layout changes.
const envelopeSchemaVersion = "v1"

// AnalysisRequestedPayload asks a worker to analyze an archived document.
type AnalysisRequestedPayload struct {
	AnalysisID  string    `json:"analysis_id"`
	Filename    string    `json:"filename"`
	SourceKey   string    `json:"source_key"`
	ContentHash string    `json:"content_hash"`
	RequestedAt time.Time `json:"requested_at"`
}

// AnalysisCompletedPayload reports a finished analysis.
type AnalysisCompletedPayload struct {
	AnalysisID   string         `json:"analysis_id"`
	Filename     string         `json:"filename"`
	TotalDefects int            `json:"total_defects"`
	Summary      map[string]int `json:"summary"`
	CompletedAt  time.Time      `json:"completed_at"`
}

// AnalysisFailedPayload reports an analysis that gave up.
type AnalysisFailedPayload struct {
	AnalysisID string    `json:"analysis_id"`
	Filename   string    `json:"filename"`
	Reason     string    `json:"reason"`
	FailedAt   time.Time `json:"failed_at"`
}

// EventEnvelope is the wire format shared by every topic. Payload holds the
// event-specific body; consumers route on EventType before decoding it.
type EventEnvelope struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	Source        string            `json:"source"`
	Timestamp     time.Time         `json:"timestamp"`
	SchemaVersion string            `json:"schema_version"`
	TraceID       string            `json:"trace_id,omitempty"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewEventEnvelope wraps payload in a versioned envelope.
func NewEventEnvelope(eventType, source string, payload any) (*EventEnvelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCodeSerialization, "kafka: marshal event payload")
	}
	return &EventEnvelope{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: envelopeSchemaVersion,
		Payload:       body,
	}, nil
}

// DecodePayload unmarshals the envelope payload into v.
func (e *EventEnvelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return appErrors.New(appErrors.ErrCodeMessageInvalidPayload, "kafka: envelope has no payload")
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return appErrors.Wrap(err, appErrors.ErrCodeMessageInvalidPayload, "kafka: decode event payload")
	}
	return nil
}

// ToMessage serializes the envelope for publishing. The key routes every
// event of one analysis to the same partition, preserving their order.
func (e *EventEnvelope) ToMessage(topic, key string) (*ProducerMessage, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCodeSerialization, "kafka: marshal event envelope")
	}
	return &ProducerMessage{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Headers: map[string]string{
			"event_type":     e.EventType,
			"schema_version": e.SchemaVersion,
		},
		Timestamp: e.Timestamp,
	}, nil
}

// MessageToEventEnvelope decodes a consumed message back into an envelope.
func MessageToEventEnvelope(msg *Message) (*EventEnvelope, error) {
	if msg == nil || len(msg.Value) == 0 {
		return nil, appErrors.New(appErrors.ErrCodeMessageInvalidPayload, "kafka: empty message")
	}
	var envelope EventEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCodeMessageInvalidPayload, "kafka: parse event envelope")
	}
	if envelope.EventType == "" {
		return nil, appErrors.New(appErrors.ErrCodeMessageInvalidPayload, "kafka: envelope missing event_type")
	}
	return &envelope, nil
}

// ConnInterface is the kafka-go admin surface used by TopicManager.
type ConnInterface interface {
	CreateTopics(topics ...segmentio.TopicConfig) error
	DeleteTopics(topics ...string) error
	ReadPartitions(topics ...string) ([]segmentio.Partition, error)
	Close() error
}

// TopicManager creates the pipeline topics at startup so workers never
// depend on broker auto-creation defaults.
type TopicManager struct {
	conn   ConnInterface
	logger logging.Logger
}

// NewTopicManager dials the cluster controller for admin operations.
func NewTopicManager(brokers []string, logger logging.Logger) (*TopicManager, error) {
	if len(brokers) == 0 {
		return nil, appErrors.New(appErrors.ErrCodeMessageConfigInvalid, "kafka: no brokers configured")
	}
	conn, err := segmentio.Dial("tcp", brokers[0])
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCodeMessageConfigInvalid, "kafka: dial broker")
	}
	controller, err := conn.Controller()
	if err != nil {
		_ = conn.Close()
		return nil, appErrors.Wrap(err, appErrors.ErrCodeMessageConfigInvalid, "kafka: resolve controller")
	}
	controllerConn, err := segmentio.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		_ = conn.Close()
		return nil, appErrors.Wrap(err, appErrors.ErrCodeMessageConfigInvalid, "kafka: dial controller")
	}
	_ = conn.Close()
	return &TopicManager{conn: controllerConn, logger: logger}, nil
}

// CreateTopic creates one topic. Creating an existing topic is not an error.
func (m *TopicManager) CreateTopic(_ context.Context, cfg TopicConfig) error {
	if cfg.Name == "" {
		return appErrors.New(appErrors.ErrCodeMessageConfigInvalid, "kafka: topic name is empty")
	}
	if cfg.NumPartitions <= 0 {
		cfg.NumPartitions = 1
	}
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = 1
	}
	spec := segmentio.TopicConfig{
		Topic:             cfg.Name,
		NumPartitions:     cfg.NumPartitions,
		ReplicationFactor: cfg.ReplicationFactor,
	}
	if cfg.RetentionMs > 0 {
		spec.ConfigEntries = append(spec.ConfigEntries, segmentio.ConfigEntry{
			ConfigName:  "retention.ms",
			ConfigValue: strconv.FormatInt(cfg.RetentionMs, 10),
		})
	}
	if cfg.CleanupPolicy != "" {
		spec.ConfigEntries = append(spec.ConfigEntries, segmentio.ConfigEntry{
			ConfigName:  "cleanup.policy",
			ConfigValue: cfg.CleanupPolicy,
		})
	}
	if err := m.conn.CreateTopics(spec); err != nil {
		return appErrors.Wrapf(err, appErrors.ErrCodeMessageConfigInvalid, "kafka: create topic %s", cfg.Name)
	}
	m.logger.Info("kafka topic ensured",
		logging.String("topic", cfg.Name),
		logging.Int("partitions", cfg.NumPartitions))
	return nil
}

// DeleteTopic removes a topic.
func (m *TopicManager) DeleteTopic(_ context.Context, name string) error {
	if name == "" {
		return appErrors.New(appErrors.ErrCodeMessageConfigInvalid, "kafka: topic name is empty")
	}
	if err := m.conn.DeleteTopics(name); err != nil {
		return appErrors.Wrapf(err, appErrors.ErrCodeMessageConfigInvalid, "kafka: delete topic %s", name)
	}
	m.logger.Info("kafka topic deleted", logging.String("topic", name))
	return nil
}

// TopicExists reports whether the topic has at least one partition. Unknown
// topics surface as read errors, so those report false rather than failing.
func (m *TopicManager) TopicExists(_ context.Context, name string) (bool, error) {
	partitions, err := m.conn.ReadPartitions(name)
	if err != nil {
		return false, nil
	}
	return len(partitions) > 0, nil
}

// ListTopics returns the distinct topic names visible on the broker.
func (m *TopicManager) ListTopics(_ context.Context) ([]string, error) {
	partitions, err := m.conn.ReadPartitions()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCodeMessageConsumeFailed, "kafka: read partitions")
	}
	seen := make(map[string]struct{})
	var topics []string
	for _, p := range partitions {
		if _, ok := seen[p.Topic]; ok {
			continue
		}
		seen[p.Topic] = struct{}{}
		topics = append(topics, p.Topic)
	}
	return topics, nil
}

// EnsureTopics creates every listed topic that does not exist yet.
func (m *TopicManager) EnsureTopics(ctx context.Context, topics []TopicConfig) error {
	for _, cfg := range topics {
		exists, err := m.TopicExists(ctx, cfg.Name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := m.CreateTopic(ctx, cfg); err != nil {
			return err
		}
	}
	return nil
}

// EnsureDefaultTopics creates the analysis pipeline topics.
func (m *TopicManager) EnsureDefaultTopics(ctx context.Context) error {
	return m.EnsureTopics(ctx, DefaultTopics())
}

// Close releases the admin connection.
func (m *TopicManager) Close() error {
	return m.conn.Close()
}

// DefaultTopics returns the pipeline topics. The request topic gets the
// most partitions so document workers scale out; the dead-letter topic
// keeps messages twice as long to leave room for manual replay.
func DefaultTopics() []TopicConfig {
	const weekMs = int64(7 * 24 * time.Hour / time.Millisecond)
	return []TopicConfig{
		{Name: TopicAnalysisRequested, NumPartitions: 6, ReplicationFactor: 1, RetentionMs: weekMs, CleanupPolicy: "delete"},
		{Name: TopicAnalysisCompleted, NumPartitions: 3, ReplicationFactor: 1, RetentionMs: weekMs, CleanupPolicy: "delete"},
		{Name: TopicAnalysisFailed, NumPartitions: 3, ReplicationFactor: 1, RetentionMs: weekMs, CleanupPolicy: "delete"},
		{Name: TopicDeadLetterAnalysis, NumPartitions: 3, ReplicationFactor: 1, RetentionMs: 2 * weekMs, CleanupPolicy: "delete"},
	}
}
