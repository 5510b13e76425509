package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/jz-wilson/catalog-pricer/pipeline/catalog"
)

const DefaultKafkaTopic = "catalog.products.priced"

// messageWriter is the subset of *kafka.Writer used by KafkaSink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes one message per product. Keys follow
// "product.priced.<source>.<external_id>".
type KafkaSink struct {
	writer messageWriter
}

// NewKafkaSink returns a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	return &KafkaSink{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, run catalog.Run, products []catalog.Product) error {
	if len(products) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(products))
	for _, p := range products {
		value, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encoding product %s: %w", p.Label(), err)
		}
		msgs = append(msgs, kafka.Message{
			Key:     []byte(MessageKey(p)),
			Value:   value,
			Headers: []kafka.Header{{Key: "run_id", Value: []byte(run.ID)}},
		})
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publishing %d products: %w", len(msgs), err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// MessageKey partitions messages so every update of a product lands on the
// same partition.
func MessageKey(p catalog.Product) string {
	return fmt.Sprintf("product.priced.%s.%s", p.Source, p.Label())
}
