package kafka

import (
	"sync/atomic"

	kafkago "github.com/segmentio/kafka-go"
)

// WriterMetrics is a cumulative view of the publisher. kafka-go resets its
// own WriterStats on every read, so totals are kept here.
type WriterMetrics struct {
	Published    int64   `json:"published"`
	Failed       int64   `json:"failed"`
	Retries      int64   `json:"retries"`
	Bytes        int64   `json:"bytes"`
	AvgWriteTime float64 `json:"avg_write_time_ms"`
	MaxWriteTime float64 `json:"max_write_time_ms"`
	Topic        string  `json:"topic"`
}

type counters struct {
	published atomic.Int64
	failed    atomic.Int64
	retries   atomic.Int64
	bytes     atomic.Int64
}

func (c *counters) snapshot(topic string, stats kafkago.WriterStats) WriterMetrics {
	return WriterMetrics{
		Published:    c.published.Load(),
		Failed:       c.failed.Load(),
		Retries:      c.retries.Load(),
		Bytes:        c.bytes.Load(),
		AvgWriteTime: float64(stats.WriteTime.Avg) / 1e6,
		MaxWriteTime: float64(stats.WriteTime.Max) / 1e6,
		Topic:        topic,
	}
}
