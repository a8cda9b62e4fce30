// Package kafka publishes order lifecycle events to a Kafka topic.
package kafka

import (
	"context"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Producer struct {
	writer  *kafkago.Writer
	zlogger *zap.Logger
}

func NewProducer(brokers []string, topic string, logger *zap.Logger) *Producer {
	return &Producer{
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafkago.Hash{},
			RequiredAcks: kafkago.RequireOne,
		},
		zlogger: logger,
	}
}

// Publish writes one message keyed so that all events of an order land
// on the same partition.
func (p *Producer) Publish(ctx context.Context, key string, value []byte) error {
	return p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(key),
		Value: value,
	})
}

func (p *Producer) Close() error {
	p.zlogger.Info("Closing Kafka producer")
	return p.writer.Close()
}
