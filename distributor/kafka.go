package distributor

import (
	"github.com/IBM/sarama"
	"github.com/pkg/errors"
)

// Functions

// NewKafkaConfig returns the sarama configuration
// producers and consumers of operations are built with.
func NewKafkaConfig(clientID string) *sarama.Config {

	cfg := sarama.NewConfig()
	cfg.ClientID = clientID

	// Sync producers need successes reported back.
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	cfg.Consumer.Return.Errors = true

	return cfg
}

// Dial connects a producer and a consumer
// to the Kafka cluster reachable via brokers.
func Dial(brokers []string, clientID string) (sarama.SyncProducer, sarama.Consumer, error) {

	if len(brokers) == 0 {
		return nil, nil, errors.New("no Kafka brokers configured")
	}

	cfg := NewKafkaConfig(clientID)

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating Kafka producer failed")
	}

	consumer, err := sarama.NewConsumer(brokers, cfg)
	if err != nil {
		_ = producer.Close()
		return nil, nil, errors.Wrap(err, "creating Kafka consumer failed")
	}

	return producer, consumer, nil
}
