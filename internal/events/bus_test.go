package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func stopped(id string) MonitoringStoppedEvent {
	return MonitoringStoppedEvent{
		BaseEvent:   NewBase(MonitoringStopped, time.Now()),
		PositionRef: PositionRef{PositionID: id},
		Reason:      "closed",
	}
}

func TestBusDeliversToTypedAndWildcardHandlers(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 16)

	var typed, all int32
	var wg sync.WaitGroup
	wg.Add(3)

	bus.SubscribeFunc(MonitoringStopped, func(_ context.Context, e Event) error {
		atomic.AddInt32(&typed, 1)
		wg.Done()
		return nil
	})
	bus.SubscribeFunc(AllEvents, func(_ context.Context, e Event) error {
		atomic.AddInt32(&all, 1)
		wg.Done()
		return nil
	})

	require.NoError(t, bus.Publish(stopped("p1")))
	require.NoError(t, bus.Publish(PriceUpdatedEvent{BaseEvent: NewBase(PriceUpdated, time.Now())}))

	wg.Wait()
	require.NoError(t, bus.Shutdown(context.Background()))
	assert.EqualValues(t, 1, typed)
	assert.EqualValues(t, 2, all)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 4)
	defer bus.Shutdown(context.Background())

	var calls int32
	sub := bus.SubscribeFunc(MonitoringStopped, func(context.Context, Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	sub.Unsubscribe()

	require.NoError(t, bus.PublishSync(context.Background(), stopped("p1")))
	assert.EqualValues(t, 0, calls)
	assert.Zero(t, bus.Subscribers(MonitoringStopped))
}

func TestPublishSyncJoinsHandlerErrors(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 4)
	defer bus.Shutdown(context.Background())

	boom := errors.New("boom")
	bus.SubscribeFunc(MonitoringStopped, func(context.Context, Event) error { return boom })

	err := bus.PublishSync(context.Background(), stopped("p1"))
	assert.ErrorIs(t, err, boom)
}

func TestPublishAfterShutdown(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 4)
	require.NoError(t, bus.Shutdown(context.Background()))
	assert.ErrorIs(t, bus.Publish(stopped("p1")), ErrBusClosed)
}

func TestRedisSinkPublishesEnvelope(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pubsub := rdb.Subscribe(ctx, DefaultChannel)
	defer pubsub.Close()
	_, err := pubsub.Receive(ctx)
	require.NoError(t, err)

	sink := NewRedisSink(rdb, "", zaptest.NewLogger(t))
	require.NoError(t, sink.Handle(ctx, stopped("p42")))

	msg, err := pubsub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got struct {
		Type    string                 `json:"type"`
		Payload map[string]interface{} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, string(MonitoringStopped), got.Type)
	assert.Equal(t, "p42", got.Payload["position_id"])
	assert.Equal(t, "closed", got.Payload["reason"])
}
