package distributor

import (
	"github.com/IBM/sarama"
	"github.com/numbleroot/strand/crdt"
	"github.com/pkg/errors"
)

// Structs

// Broadcaster publishes operations made on
// this replica to all other replicas.
type Broadcaster interface {

	// Broadcast publishes op.
	Broadcast(op crdt.Operation) error

	// Close stops publishing.
	Close() error
}

// KafkaBroadcaster publishes operations to a topic,
// keyed by their author. All operations of one author
// thus land in the same partition, in the order
// they were made.
type KafkaBroadcaster struct {
	producer sarama.SyncProducer
	topic    string
}

// Functions

// InitKafkaBroadcaster returns a broadcaster
// publishing through producer to topic.
func InitKafkaBroadcaster(producer sarama.SyncProducer, topic string) *KafkaBroadcaster {

	return &KafkaBroadcaster{
		producer: producer,
		topic:    topic,
	}
}

// Broadcast implements Broadcaster.
func (b *KafkaBroadcaster) Broadcast(op crdt.Operation) error {

	data, err := crdt.EncodeOperation(op)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: b.topic,
		Key:   sarama.StringEncoder(op.Author()),
		Value: sarama.ByteEncoder(data),
	}

	_, _, err = b.producer.SendMessage(msg)
	if err != nil {
		return errors.Wrapf(err, "publishing operation %d of '%s' failed", op.Seq(), op.Author())
	}

	return nil
}

// Close implements Broadcaster.
func (b *KafkaBroadcaster) Close() error {
	return b.producer.Close()
}
