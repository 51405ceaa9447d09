package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	err  error
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ev := OrderEvent{OrderID: 1 << 40, UserID: 7, VoucherID: 3, CreatedAt: time.Unix(1700000000, 0).UTC()}
	require.NoError(t, p.PublishOrderCreated(context.Background(), ev))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "1099511627776", string(w.msgs[0].Key))

	var got OrderEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, ev.OrderID, got.OrderID)
	assert.Equal(t, ev.VoucherID, got.VoucherID)
}

func TestKafkaPublisher_BreakerOpens(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := newKafkaPublisher(w, slog.New(slog.NewTextHandler(io.Discard, nil)))

	for i := 0; i < 5; i++ {
		err := p.PublishOrderCreated(context.Background(), OrderEvent{OrderID: int64(i + 1)})
		require.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}

	err := p.PublishOrderCreated(context.Background(), OrderEvent{OrderID: 99})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestNopPublisher(t *testing.T) {
	var p EventPublisher = NopPublisher{}
	assert.NoError(t, p.PublishOrderCreated(context.Background(), OrderEvent{}))
	assert.NoError(t, p.Close())
}
