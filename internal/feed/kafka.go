package feed

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig selects the topic carrying live raw lines.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string // empty reads partition 0 from the newest offset
}

// Kafka streams message values, each holding one or more raw lines.
type Kafka struct {
	r   *kafka.Reader
	log *slog.Logger
}

func readerConfig(cfg KafkaConfig) (kafka.ReaderConfig, error) {
	if len(cfg.Brokers) == 0 {
		return kafka.ReaderConfig{}, errors.New("at least one kafka broker is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return kafka.ReaderConfig{}, errors.New("kafka topic must not be empty")
	}
	rc := kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	}
	if cfg.GroupID == "" {
		rc.StartOffset = kafka.LastOffset
	}
	return rc, nil
}

// NewKafka creates a reader for the configured topic.
func NewKafka(cfg KafkaConfig, log *slog.Logger) (*Kafka, error) {
	rc, err := readerConfig(cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Kafka{
		r:   kafka.NewReader(rc),
		log: log.With(slog.String("component", "kafka-feed")),
	}, nil
}

// Stream implements Source.
func (k *Kafka) Stream(ctx context.Context, h Handler) error {
	k.log.Info("kafka_feed_started", "topic", k.r.Config().Topic, "brokers", strings.Join(k.r.Config().Brokers, ","))
	for {
		m, err := k.r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		k.log.Debug("kafka_message", "partition", m.Partition, "offset", m.Offset, "bytes", len(m.Value))
		if err := h(ctx, string(m.Value)); err != nil {
			return err
		}
	}
}

// Close releases the reader.
func (k *Kafka) Close() error {
	return k.r.Close()
}
