// Package kafka publishes finalized runs to a Kafka topic.
//
// Publisher implements orchestrator.Publisher on top of a segmentio/kafka-go
// Writer: every run that reaches a terminal status becomes one JSON event
// keyed by run ID, so all events for a run land on the same partition.
// Component owns the writer's lifecycle and reports its error counters as
// health.
//
//	kafka:
//	  enabled: true
//	  brokers: ["localhost:9092"]
//	  topic: fanout.runs
//	  compression: snappy
package kafka
