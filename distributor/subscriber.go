package distributor

import (
	"context"
	"sync"

	"github.com/IBM/sarama"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/numbleroot/strand/clock"
	"github.com/numbleroot/strand/crdt"
	"github.com/pkg/errors"
)

// Structs

// Applier integrates operations other
// replicas have published.
type Applier interface {
	ApplyBroadcast(op crdt.Operation) error
}

// Subscriber consumes every partition of the operations
// topic and hands all foreign operations to an Applier.
type Subscriber struct {
	logger   log.Logger
	consumer sarama.Consumer
	topic    string
	self     clock.ActorID
	applier  Applier
	offset   int64
}

// Functions

// InitSubscriber returns a subscriber for topic that
// starts consuming each partition at offset, usually
// sarama.OffsetNewest. Operations authored by self
// are skipped.
func InitSubscriber(logger log.Logger, consumer sarama.Consumer, topic string, self clock.ActorID, applier Applier, offset int64) *Subscriber {

	return &Subscriber{
		logger:   log.With(logger, "component", "subscriber", "topic", topic),
		consumer: consumer,
		topic:    topic,
		self:     self,
		applier:  applier,
		offset:   offset,
	}
}

// Run consumes until ctx is done or all partition
// consumers have been closed.
func (s *Subscriber) Run(ctx context.Context) error {

	partitions, err := s.consumer.Partitions(s.topic)
	if err != nil {
		return errors.Wrapf(err, "listing partitions of '%s' failed", s.topic)
	}

	consumers := make([]sarama.PartitionConsumer, 0, len(partitions))

	for _, p := range partitions {

		pc, err := s.consumer.ConsumePartition(s.topic, p, s.offset)
		if err != nil {

			for _, c := range consumers {
				c.AsyncClose()
			}

			return errors.Wrapf(err, "consuming partition %d of '%s' failed", p, s.topic)
		}

		consumers = append(consumers, pc)
	}

	wg := new(sync.WaitGroup)

	for i, pc := range consumers {

		wg.Add(1)
		go func(partition int32, pc sarama.PartitionConsumer) {
			defer wg.Done()
			s.consume(ctx, partition, pc)
		}(partitions[i], pc)
	}

	wg.Wait()

	return nil
}

// consume loops over the messages of one partition.
func (s *Subscriber) consume(ctx context.Context, partition int32, pc sarama.PartitionConsumer) {

	defer func() {
		err := pc.Close()
		if err != nil {
			level.Warn(s.logger).Log("msg", "closing partition consumer failed", "partition", partition, "err", err)
		}
	}()

	for {

		select {

		case <-ctx.Done():
			return

		case msg, ok := <-pc.Messages():
			if !ok {
				return
			}

			err := s.Handle(msg)
			if err != nil {
				level.Warn(s.logger).Log(
					"msg", "dropping published operation",
					"partition", partition,
					"offset", msg.Offset,
					"err", err,
				)
			}

		case cerr, ok := <-pc.Errors():
			if !ok {
				return
			}

			level.Error(s.logger).Log("msg", "consuming failed", "partition", partition, "err", cerr.Err)
		}
	}
}

// Handle decodes a single message and applies it
// unless this replica made the operation itself.
func (s *Subscriber) Handle(msg *sarama.ConsumerMessage) error {

	op, err := crdt.DecodeOperation(msg.Value)
	if err != nil {
		return err
	}

	if op.Author() == s.self {
		return nil
	}

	return s.applier.ApplyBroadcast(op)
}
