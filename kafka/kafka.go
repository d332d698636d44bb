// Package kafka carries task events between API instances. Every instance
// produces the events its own requests cause and consumes all of them, so a
// listener sees changes made through any instance.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/XeroHax/accountability-app/config"
	"github.com/XeroHax/accountability-app/logger"
	"github.com/XeroHax/accountability-app/models"
	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"
)

var (
	TaskEventTopic string = "task_events"
)

// Submitter is the worker pool consumed events are handed to.
type Submitter interface {
	Submit(ctx context.Context, job []byte, partition int32) error
	Partition(userID string) int32
}

func baseConfig(cfg *config.Config) *kafka.ConfigMap {
	m := &kafka.ConfigMap{
		"bootstrap.servers": cfg.KafkaBootstrapServers,
	}
	if cfg.KafkaAPIKey != "" {
		m.SetKey("sasl.username", cfg.KafkaAPIKey)
		m.SetKey("sasl.password", cfg.KafkaAPISecret)
		m.SetKey("security.protocol", "SASL_SSL")
		m.SetKey("sasl.mechanisms", "PLAIN")
	}
	return m
}

type Producer struct {
	producer *kafka.Producer
	topic    string
	done     chan struct{}
}

func NewProducer(cfg *config.Config) (*Producer, error) {
	p, err := kafka.NewProducer(baseConfig(cfg))
	if err != nil {
		logger.Get().Error("failed to initialize Kafka producer",
			zap.String("bootstrap_servers", cfg.KafkaBootstrapServers),
			zap.Error(err))
		return nil, err
	}

	logger.Get().Info("Kafka producer initialized successfully",
		zap.String("bootstrap_servers", cfg.KafkaBootstrapServers))
	kp := &Producer{producer: p, topic: TaskEventTopic, done: make(chan struct{})}
	go kp.reportDeliveries()
	return kp, nil
}

func (p *Producer) reportDeliveries() {
	defer close(p.done)
	for e := range p.producer.Events() {
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			logger.Get().Error("task event delivery failed",
				zap.String("key", string(m.Key)),
				zap.Error(m.TopicPartition.Error))
		}
	}
}

func newMessage(topic string, evt models.TaskEvent) (*kafka.Message, error) {
	value, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("error encoding task event: %w", err)
	}
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(evt.UserID),
		Value:          value,
		Headers:        []kafka.Header{{Key: "type", Value: []byte(evt.Type)}},
	}, nil
}

// Publish produces evt keyed by user id, so one user's events share a
// partition.
func (p *Producer) Publish(ctx context.Context, evt models.TaskEvent) error {
	msg, err := newMessage(p.topic, evt)
	if err != nil {
		return err
	}
	if err := p.producer.Produce(msg, nil); err != nil {
		logger.Get().Error("failed to produce message",
			zap.String("topic", p.topic),
			zap.Error(err))
		return err
	}

	logger.Get().Debug("message produced successfully",
		zap.String("topic", p.topic),
		zap.String("user_id", evt.UserID))
	return nil
}

// Close flushes outstanding messages for up to timeout.
func (p *Producer) Close(timeout time.Duration) {
	if remaining := p.producer.Flush(int(timeout.Milliseconds())); remaining > 0 {
		logger.Get().Warn("unflushed task events on shutdown", zap.Int("remaining", remaining))
	}
	p.producer.Close()
	<-p.done
}

// consumerGroup is per process: every instance must see every event.
func consumerGroup(instance string) string {
	return "task-event-listeners-" + instance
}

// StartConsumer reads task events and submits them to pool until ctx is
// cancelled.
func StartConsumer(ctx context.Context, cfg *config.Config, instance string, pool Submitter) error {
	cm := baseConfig(cfg)
	cm.SetKey("session.timeout.ms", "45000")
	cm.SetKey("client.id", "accountability-api-"+instance)
	cm.SetKey("group.id", consumerGroup(instance))
	cm.SetKey("auto.offset.reset", "latest")

	consumer, err := kafka.NewConsumer(cm)
	if err != nil {
		logger.Get().Error("failed to create consumer",
			zap.String("bootstrap_servers", cfg.KafkaBootstrapServers),
			zap.Error(err))
		return err
	}

	if err := consumer.Subscribe(TaskEventTopic, nil); err != nil {
		logger.Get().Error("failed to subscribe to topic",
			zap.String("topic", TaskEventTopic),
			zap.Error(err))
		consumer.Close()
		return err
	}

	logger.Get().Info("Kafka consumer started successfully",
		zap.String("topic", TaskEventTopic),
		zap.String("group_id", consumerGroup(instance)))

	go func() {
		defer consumer.Close()
		for {
			select {
			case <-ctx.Done():
				logger.Get().Info("Kafka consumer stopping")
				return
			default:
			}

			msg, err := consumer.ReadMessage(500 * time.Millisecond)
			if err != nil {
				if kerr, ok := err.(kafka.Error); ok && kerr.Code() == kafka.ErrTimedOut {
					continue
				}
				logger.Get().Error("consumer error",
					zap.String("topic", TaskEventTopic),
					zap.Error(err))
				continue
			}

			userID := string(msg.Key)
			if err := pool.Submit(ctx, msg.Value, pool.Partition(userID)); err != nil {
				logger.Get().Warn("failed to submit task event",
					zap.String("user_id", userID),
					zap.Error(err))
			}
		}
	}()
	return nil
}
