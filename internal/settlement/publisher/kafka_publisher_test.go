package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/prize-settlement/pkg/contracts/events"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func newPublisher(legs, completed *fakeWriter) *KafkaPublisher {
	p := NewKafkaPublisher(legs, completed, zap.NewNop())
	p.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return p
}

func TestPublishLegsKeyedByRun(t *testing.T) {
	legs, completed := &fakeWriter{}, &fakeWriter{}
	p := newPublisher(legs, completed)

	err := p.PublishLegs(context.Background(), []events.SettlementLeg{
		{RunID: "run-1", Leg: events.LegSweep, Project: "alpha", Amount: "1.5", TransferID: "tx-1"},
		{RunID: "run-1", Leg: events.LegPayout, Destination: "0xa", Amount: "0.75", FailureReason: "boom"},
	})
	require.NoError(t, err)
	require.Len(t, legs.msgs, 2)

	for _, m := range legs.msgs {
		assert.Equal(t, "run-1", string(m.Key))
	}
	var got events.SettlementLeg
	require.NoError(t, json.Unmarshal(legs.msgs[1].Value, &got))
	assert.Equal(t, "boom", got.FailureReason)
	assert.Equal(t, int64(1_700_000_000_000), got.TsUnixMs)
	assert.Empty(t, completed.msgs)
}

func TestPublishLegsEmptyIsNoop(t *testing.T) {
	legs := &fakeWriter{err: errors.New("must not be called")}
	require.NoError(t, newPublisher(legs, &fakeWriter{}).PublishLegs(context.Background(), nil))
}

func TestPublishCompletedPropagatesWriterError(t *testing.T) {
	completed := &fakeWriter{err: errors.New("broker down")}
	err := newPublisher(&fakeWriter{}, completed).PublishCompleted(context.Background(), events.SettlementCompleted{RunID: "run-1"})
	assert.ErrorContains(t, err, "broker down")
}

func TestCloseClosesBothWriters(t *testing.T) {
	legs, completed := &fakeWriter{}, &fakeWriter{}
	require.NoError(t, newPublisher(legs, completed).Close())
	assert.True(t, legs.closed)
	assert.True(t, completed.closed)
}
