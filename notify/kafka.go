package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/segmentio/kafka-go"

	"github.com/goliatone/go-repository-pipeline/store"
)

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaConfig configures the writer built by NewKafkaWriter.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// RequiredAcks is 0, 1 or -1 (all replicas).
	RequiredAcks int `yaml:"required_acks"`
}

// Validate reports the first invalid field as a *store.ConfigError.
func (c KafkaConfig) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Brokers, validation.Required.Error("at least one broker is required")),
		validation.Field(&c.Topic, validation.Required.Error("topic is required")),
		validation.Field(&c.BatchSize, validation.Min(0).Error("must be non-negative")),
		validation.Field(&c.RequiredAcks, validation.Min(-1), validation.Max(1)),
	)
	if err == nil {
		return nil
	}
	var verrs validation.Errors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &store.ConfigError{Field: "kafka", Message: err.Error()}
	}
	fields := make([]string, 0, len(verrs))
	for f := range verrs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return &store.ConfigError{Field: "kafka." + fields[0], Message: verrs[fields[0]].Error()}
}

// NewKafkaWriter builds a synchronous writer that partitions by message key.
func NewKafkaWriter(cfg KafkaConfig) (*kafka.Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		MaxAttempts:  3,
	}, nil
}

// Kafka publishes events as JSON messages keyed by "<type>:<id>", so every
// change of one entity lands on the same partition in order.
type Kafka[T any] struct {
	writer MessageWriter
}

// NewKafka returns a publisher over w.
func NewKafka[T any](w MessageWriter) (*Kafka[T], error) {
	if w == nil {
		return nil, &store.ConfigError{Field: "writer", Message: "kafka writer is required"}
	}
	return &Kafka[T]{writer: w}, nil
}

// Publish implements Publisher.
func (k *Kafka[T]) Publish(ctx context.Context, event Event[T]) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "encode change event")
	}
	msg := kafka.Message{
		Key:   []byte(event.Type + ":" + event.ID),
		Value: payload,
		Time:  event.At,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(event.Kind)},
			{Key: "type", Value: []byte(event.Type)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return store.External(err, "publish change event")
	}
	return nil
}
