package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProducerMessagesPublished counts successfully published messages per topic.
	ProducerMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_producer_messages_published_total",
			Help: "Total number of messages published to Kafka, by topic.",
		},
		[]string{"topic"},
	)

	// ProducerPublishErrors counts failed publish attempts per topic.
	ProducerPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_producer_publish_errors_total",
			Help: "Total number of failed publish attempts, by topic.",
		},
		[]string{"topic"},
	)

	// ProducerPublishDuration observes publish latency per topic.
	ProducerPublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_producer_publish_duration_seconds",
			Help:    "Duration of Kafka publish operations in seconds, by topic.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)

	// ConsumerMessagesReceived counts messages fetched from Kafka.
	ConsumerMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_messages_received_total",
			Help: "Total number of messages fetched from Kafka, by topic and group.",
		},
		[]string{"topic", "group"},
	)

	// ConsumerMessagesProcessed counts messages handled successfully.
	ConsumerMessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_messages_processed_total",
			Help: "Total number of messages processed successfully, by topic and group.",
		},
		[]string{"topic", "group"},
	)

	// ConsumerMessagesFailed counts messages that exhausted handler retries.
	ConsumerMessagesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_messages_failed_total",
			Help: "Total number of messages that exhausted handler retries, by topic and group.",
		},
		[]string{"topic", "group"},
	)

	// ConsumerDLQPublished counts messages forwarded to the dead-letter queue.
	ConsumerDLQPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_dlq_published_total",
			Help: "Total number of messages forwarded to the DLQ, by topic and group.",
		},
		[]string{"topic", "group"},
	)

	// ConsumerProcessingDuration observes handler latency per topic and group.
	ConsumerProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_consumer_processing_duration_seconds",
			Help:    "Duration of message handler execution in seconds, by topic and group.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic", "group"},
	)
)
