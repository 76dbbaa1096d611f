package notify

import (
	"encoding/json"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"vitalsync/internal/models"
)

type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
}

// KafkaPublisher writes result events to a topic, keyed by modality so
// each modality's events stay ordered within a partition.
type KafkaPublisher struct {
	producer producer
	topic    string
	log      *zap.Logger
}

func NewKafkaPublisher(p producer, topic string, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: p, topic: topic, log: log}
}

// NewKafkaProducer creates a producer and logs failed deliveries until its
// event channel is closed.
func NewKafkaProducer(brokers string, log *zap.Logger) (*kafka.Producer, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"acks":              "all",
	})
	if err != nil {
		return nil, err
	}

	go func() {
		for ev := range p.Events() {
			switch e := ev.(type) {
			case *kafka.Message:
				if e.TopicPartition.Error != nil {
					log.Warn("Result event delivery failed", zap.Error(e.TopicPartition.Error))
				}
			case kafka.Error:
				log.Warn("Kafka producer error", zap.Error(e))
			}
		}
	}()
	return p, nil
}

func (k *KafkaPublisher) Notify(ev models.ResultEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		k.log.Error("Could not encode result event", zap.String("id", ev.ID), zap.Error(err))
		return
	}
	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &k.topic, Partition: kafka.PartitionAny},
		Key:            []byte(ev.Modality),
		Value:          payload,
	}, nil)
	if err != nil {
		k.log.Warn("Could not queue result event", zap.String("id", ev.ID), zap.String("topic", k.topic), zap.Error(err))
	}
}
