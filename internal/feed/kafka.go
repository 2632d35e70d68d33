package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"booking/internal/domain"
	"booking/internal/observability"
)

// locationMessage is the wire format of a worker location on the stream.
type locationMessage struct {
	WorkerID  string    `json:"worker_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

func encodeSample(s domain.WorkerLocationSample) ([]byte, error) {
	return json.Marshal(locationMessage{
		WorkerID:  s.WorkerID,
		Lat:       s.Lat,
		Lng:       s.Lng,
		Timestamp: s.Timestamp,
	})
}

func decodeSample(b []byte) (domain.WorkerLocationSample, error) {
	var m locationMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return domain.WorkerLocationSample{}, err
	}
	return domain.WorkerLocationSample{
		WorkerID:  m.WorkerID,
		Lat:       m.Lat,
		Lng:       m.Lng,
		Timestamp: m.Timestamp,
	}, nil
}

// LocationProducer writes worker samples to the location topic.
type LocationProducer struct {
	writer *kafka.Writer
}

// NewLocationProducer creates a producer for topic.
func NewLocationProducer(brokers []string, topic string) *LocationProducer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}
	return &LocationProducer{writer: w}
}

// Publish writes a sample keyed by worker so a worker's samples stay ordered.
func (p *LocationProducer) Publish(ctx context.Context, sample domain.WorkerLocationSample) error {
	b, err := encodeSample(sample)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(sample.WorkerID), Value: b})
}

// Close flushes and closes the writer.
func (p *LocationProducer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// SampleIngester accepts decoded samples.
type SampleIngester interface {
	Ingest(ctx context.Context, sample domain.WorkerLocationSample) error
}

// LocationConsumer reads the location topic into an ingester.
type LocationConsumer struct {
	reader *kafka.Reader
	sink   SampleIngester
	log    *slog.Logger
}

// NewLocationConsumer creates a consumer group reader for topic.
func NewLocationConsumer(brokers []string, topic, group string, sink SampleIngester, log *slog.Logger) *LocationConsumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  group,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &LocationConsumer{reader: r, sink: sink, log: log}
}

// Run consumes until ctx is done, backing off on read errors.
func (c *LocationConsumer) Run(ctx context.Context) error {
	c.log.Info("location consumer started", "topic", c.reader.Config().Topic, "group", c.reader.Config().GroupID)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("location consumer stopped")
				return nil
			}
			c.log.Warn("kafka read failed", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		if err := c.handle(ctx, m.Value); err != nil {
			c.log.Warn("location message dropped", "offset", m.Offset, "error", err)
		}
	}
}

func (c *LocationConsumer) handle(ctx context.Context, value []byte) error {
	sample, err := decodeSample(value)
	if err != nil {
		observability.KafkaMessagesTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("decode location: %w", err)
	}
	if err := c.sink.Ingest(ctx, sample); err != nil {
		observability.KafkaMessagesTotal.WithLabelValues("error").Inc()
		return err
	}
	observability.KafkaMessagesTotal.WithLabelValues("ok").Inc()
	return nil
}

// Close closes the reader.
func (c *LocationConsumer) Close() error {
	return c.reader.Close()
}

// Ingest publishes a sample to the stream. The consumer stores it and fans it out.
func (p *LocationProducer) Ingest(ctx context.Context, sample domain.WorkerLocationSample) error {
	if sample.WorkerID == "" || !sample.Point().Valid() {
		return ErrInvalidSample
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}
	return p.Publish(ctx, sample)
}
