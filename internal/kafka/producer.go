package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"rifa-service/internal/logger"
	"rifa-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// Producer streams order lifecycle events for downstream consumers
// (receipt mailer, analytics). The topic is chosen per event, so one
// writer serves all lifecycle transitions.
type Producer struct {
	writer   *kafka.Writer
	logger   *logger.Logger
	mockMode bool
}

func NewProducer(brokers []string, log *logger.Logger, mockMode bool) *Producer {
	var writer *kafka.Writer
	if !mockMode {
		writer = &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Balancer: &kafka.LeastBytes{},
		}
	}
	return &Producer{writer: writer, logger: log, mockMode: mockMode}
}

// PublishOrderEvent streams one order lifecycle event to the given topic,
// keyed by order id so per-order events stay in partition order.
func (p *Producer) PublishOrderEvent(topic string, event models.OrderEventDto) error {
	msgBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if p.mockMode {
		p.logger.Info("KAFKA", fmt.Sprintf("mock publish [%s]: %s", topic, string(msgBytes)))
		return nil
	}

	return p.writer.WriteMessages(context.Background(),
		kafka.Message{
			Topic: topic,
			Key:   []byte(event.OrderID),
			Value: msgBytes,
		},
	)
}

func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
