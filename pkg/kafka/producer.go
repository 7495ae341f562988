package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// Headers set on every job event.
const (
	HeaderEventType   = "event_type"
	HeaderContentType = "content_type"
	HeaderSource      = "source"
)

// Producer publishes job events as JSON messages keyed by job id.
type Producer struct {
	writer *kafkago.Writer
	source string
}

type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	Compression  kafkago.Compression
	RequiredAcks kafkago.RequiredAcks
	MaxAttempts  int
	// Source names the emitting service in the source header.
	Source string
}

// NewProducer constructs a Producer from the given configuration.
func NewProducer(cfg ProducerConfig) *Producer {
	return &Producer{
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafkago.Hash{},
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			RequiredAcks: cfg.RequiredAcks,
			Compression:  cfg.Compression,
			MaxAttempts:  cfg.MaxAttempts,
		},
		source: cfg.Source,
	}
}

// PublishJSON marshals v and publishes it keyed by key, tagged with
// eventType. Events of one job share a key and so stay ordered on one
// partition.
func (p *Producer) PublishJSON(ctx context.Context, key, eventType string, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	if err := p.writer.WriteMessages(ctx, p.eventMessage(key, eventType, value)); err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}
	return nil
}

// Close flushes pending events. It gives up when ctx is done first.
func (p *Producer) Close(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- p.writer.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("close producer: %w", ctx.Err())
	}
}

func (p *Producer) eventMessage(key, eventType string, value []byte) kafkago.Message {
	headers := []kafkago.Header{
		{Key: HeaderEventType, Value: []byte(eventType)},
		{Key: HeaderContentType, Value: []byte("application/json")},
	}
	if p.source != "" {
		headers = append(headers, kafkago.Header{Key: HeaderSource, Value: []byte(p.source)})
	}
	return kafkago.Message{
		Key:     []byte(key),
		Value:   value,
		Headers: headers,
		Time:    time.Now().UTC(),
	}
}

// CompressionFromString maps textual codec to kafka-go value.
func CompressionFromString(name string) kafkago.Compression {
	switch strings.ToLower(name) {
	case "gzip":
		return kafkago.Gzip
	case "snappy":
		return kafkago.Snappy
	case "lz4":
		return kafkago.Lz4
	case "zstd":
		return kafkago.Zstd
	default:
		return kafkago.Snappy
	}
}
