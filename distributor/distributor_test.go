package distributor

import (
	"context"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/numbleroot/strand/clock"
	"github.com/numbleroot/strand/crdt"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Variables

var (
	actorA = clock.ActorID("10000000-a071-4227-9e63-a4b0ee84688f")
	actorB = clock.ActorID("20000000-a071-4227-9e63-a4b0ee84688f")
)

// Structs

type chanApplier struct {
	ops chan crdt.Operation
}

// Functions

func (a *chanApplier) ApplyBroadcast(op crdt.Operation) error {
	a.ops <- op
	return nil
}

// TestKafkaBroadcaster executes a white-box unit test
// on publishing operations keyed by their author.
func TestKafkaBroadcaster(t *testing.T) {

	r := crdt.NewReplica(actorA)
	op, err := r.Insert(0, 'k')
	require.Nil(t, err)

	producer := mocks.NewSyncProducer(t, NewKafkaConfig("test"))
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {

		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}

		if string(key) != string(actorA) {
			return errors.Errorf("unexpected key '%s'", key)
		}

		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}

		_, err = crdt.DecodeOperation(value)
		return err
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	b := NewLoggingBroadcaster(NewMetricsBroadcaster(InitKafkaBroadcaster(producer, "ops"), discard.NewCounter(), discard.NewCounter()), log.NewNopLogger())

	require.Nil(t, b.Broadcast(op))

	err = b.Broadcast(op)
	assert.Equal(t, sarama.ErrOutOfBrokers, errors.Cause(err))

	require.Nil(t, b.Close())
}

// TestSubscriber executes a black-box test on
// consuming operations of foreign and own authors.
func TestSubscriber(t *testing.T) {

	own := crdt.NewReplica(actorA)
	foreign := crdt.NewReplica(actorB)

	ownOp, err := own.Insert(0, 'a')
	require.Nil(t, err)
	foreignOp, err := foreign.Insert(0, 'b')
	require.Nil(t, err)

	ownData, err := crdt.EncodeOperation(ownOp)
	require.Nil(t, err)
	foreignData, err := crdt.EncodeOperation(foreignOp)
	require.Nil(t, err)

	consumer := mocks.NewConsumer(t, NewKafkaConfig("test"))
	consumer.SetTopicMetadata(map[string][]int32{"ops": {0}})

	pc := consumer.ExpectConsumePartition("ops", 0, sarama.OffsetOldest)
	pc.YieldMessage(&sarama.ConsumerMessage{Value: []byte("garbage")})
	pc.YieldMessage(&sarama.ConsumerMessage{Value: ownData})
	pc.YieldMessage(&sarama.ConsumerMessage{Value: foreignData})

	applier := &chanApplier{ops: make(chan crdt.Operation, 3)}
	s := InitSubscriber(log.NewNopLogger(), consumer, "ops", actorA, applier, sarama.OffsetOldest)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() {
		done <- s.Run(ctx)
	}()

	select {
	case op := <-applier.ops:
		assert.Equal(t, actorB, op.Author())
	case <-time.After(5 * time.Second):
		t.Fatalf("[distributor.TestSubscriber] Expected foreign operation to be applied\n")
	}

	cancel()
	require.Nil(t, <-done)

	// Own operations and garbage never reach the applier.
	assert.Equal(t, 0, len(applier.ops))

	require.Nil(t, consumer.Close())
}
