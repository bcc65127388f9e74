// Package kafka carries analysis lifecycle events between the API server
// and the document workers.
package kafka

import (
	"context"
	"time"
)

// Message is a consumed record, decoupled from the underlying client type
// so handlers never import kafka-go.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// ProducerMessage is a record to publish.
type ProducerMessage struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// MessageHandler processes one consumed message. A nil return commits the
// offset; an error triggers the consumer's retry and dead-letter path.
type MessageHandler func(ctx context.Context, msg *Message) error

// TopicConfig describes a topic to ensure at startup.
type TopicConfig struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
	RetentionMs       int64
	CleanupPolicy     string
}

// BatchPublishResult reports per-message outcomes of a batch publish.
type BatchPublishResult struct {
	Succeeded int
	Failed    int
	Errors    []BatchItemError
}

// BatchItemError ties a failed batch entry to its input index. Index -1
// means the whole batch failed before per-message attribution.
type BatchItemError struct {
	Index int
	Topic string
	Error error
}
