package eventbus

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/transferout/events"
	test "github.com/alphabill-org/transferout/internal/testutils"
)

func TestEventBus_New(t *testing.T) {
	bus := New()
	defer bus.Close()
	require.NotNil(t, bus)
	require.Empty(t, bus.subs)
	require.False(t, bus.closed)
}

func TestSubscribe_EventBusClosing(t *testing.T) {
	bus := New()
	require.NoError(t, bus.Close())
	channel, err := bus.Subscribe(events.TopicTransferOutStarted, 10)
	require.ErrorIs(t, err, ErrEventBusClosing)
	require.Nil(t, channel)
}

func TestSubscribe_Ok(t *testing.T) {
	bus := New()
	defer bus.Close()
	channel, err := bus.Subscribe(events.TopicTransferOutStarted, 10)
	require.NoError(t, err)
	require.NotNil(t, channel)
	require.Len(t, bus.subs, 1)
	require.Equal(t, 10, cap(channel))
	require.Empty(t, channel)
}

func TestPublish_EventBusClosing(t *testing.T) {
	bus := New()
	require.NoError(t, bus.Close())
	err := bus.Publish(context.Background(), events.TransferOutFailedEvent{})
	require.ErrorIs(t, err, ErrEventBusClosing)
}

func TestPublish_NoSubscribers(t *testing.T) {
	bus := New()
	defer bus.Close()
	require.NoError(t, bus.Publish(context.Background(), events.TransferOutFailedEvent{}))
	require.EqualError(t, bus.Publish(context.Background(), nil), "event is nil")
}

func TestPublish_Ok(t *testing.T) {
	bus := New()
	defer bus.Close()
	started, err := bus.Subscribe(events.TopicTransferOutStarted, 10)
	require.NoError(t, err)
	all, err := bus.Subscribe(AllTopics, 10)
	require.NoError(t, err)

	ev := events.TransferOutStartedEvent{TransactionID: uuid.New(), PendingCashable: 5000}
	require.NoError(t, bus.Publish(context.Background(), ev))
	require.NoError(t, bus.Publish(context.Background(), events.TransferOutCompletedEvent{Cashable: 5000}))

	require.Equal(t, []events.Event{ev}, test.Receive(t, started, 1))
	require.Equal(t, []events.Event{ev, events.TransferOutCompletedEvent{Cashable: 5000}}, test.Receive(t, all, 2))
	// completed event wasn't delivered to "started" subscriber
	require.Empty(t, started)
}

func TestPublish_Overflow(t *testing.T) {
	bus := New()
	defer bus.Close()
	slow, err := bus.Subscribe(AllTopics, 1)
	require.NoError(t, err)
	fast, err := bus.Subscribe(AllTopics, 10)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), events.TransferOutFailedEvent{Cashable: 1}))
	err = bus.Publish(context.Background(), events.TransferOutFailedEvent{Cashable: 2})
	require.ErrorIs(t, err, ErrSubscriberOverflow)
	require.Len(t, slow, 1)
	require.Len(t, fast, 2)
}

func TestUnsubscribe(t *testing.T) {
	bus := New()
	defer bus.Close()
	ch1, err := bus.Subscribe(AllTopics, 10)
	require.NoError(t, err)
	ch2, err := bus.Subscribe(AllTopics, 10)
	require.NoError(t, err)

	bus.Unsubscribe(ch1)
	_, ok := <-ch1
	require.False(t, ok, "expected channel to be closed")
	require.Len(t, bus.subs[AllTopics], 1)

	require.NoError(t, bus.Publish(context.Background(), events.TransferOutFailedEvent{}))
	require.Equal(t, []events.Event{events.TransferOutFailedEvent{}}, test.Receive(t, ch2, 1))

	bus.Unsubscribe(ch2)
	require.Empty(t, bus.subs)
	// unknown channel is ignored
	bus.Unsubscribe(make(chan events.Event))
}

func TestClose_AlreadyClosing(t *testing.T) {
	bus := New()
	ch, err := bus.Subscribe(events.TopicTransferOutFailed, 10)
	require.NoError(t, err)
	require.NoError(t, bus.Close())
	require.True(t, bus.closed)
	require.NoError(t, bus.Close())
	_, ok := <-ch
	require.False(t, ok)
}
