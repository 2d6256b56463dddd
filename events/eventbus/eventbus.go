/*
Package eventbus delivers transfer events to in-process subscribers, ie the
websocket event stream and the daemon's event log.
*/
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/alphabill-org/transferout/events"
)

// AllTopics subscribes to every event published on the bus.
const AllTopics = "*"

var (
	ErrEventBusClosing    = errors.New("event bus is closing")
	ErrSubscriberOverflow = errors.New("subscriber channel is full")
)

type EventBus struct {
	mu     sync.Mutex
	closed bool
	// topic -> subscriber channels
	subs map[string][]chan events.Event
}

func New() *EventBus {
	return &EventBus{subs: make(map[string][]chan events.Event)}
}

/*
Subscribe returns channel which receives events of the topic (or all events
for AllTopics). Slow subscriber loses events once the channel buffer of
"capacity" is full.
*/
func (b *EventBus) Subscribe(topic string, capacity uint) (<-chan events.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrEventBusClosing
	}
	ch := make(chan events.Event, capacity)
	b.subs[topic] = append(b.subs[topic], ch)
	return ch, nil
}

/*
Unsubscribe removes the subscription and closes the channel. Unknown
channels are ignored.
*/
func (b *EventBus) Unsubscribe(ch <-chan events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for topic, chans := range b.subs {
		idx := slices.IndexFunc(chans, func(c chan events.Event) bool { return (<-chan events.Event)(c) == ch })
		if idx < 0 {
			continue
		}
		close(chans[idx])
		if chans = slices.Delete(chans, idx, idx+1); len(chans) == 0 {
			delete(b.subs, topic)
		} else {
			b.subs[topic] = chans
		}
		return
	}
}

/*
Publish delivers the event to subscribers of the event's topic and to the
subscribers of all topics without blocking. Subscribers with full channel
miss the event and ErrSubscriberOverflow is returned after the others have
received it. Publishing event nobody has subscribed to is not an error.
*/
func (b *EventBus) Publish(ctx context.Context, event events.Event) error {
	if event == nil {
		return errors.New("event is nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosing
	}

	dropped := 0
	for _, ch := range slices.Concat(b.subs[event.Topic()], b.subs[AllTopics]) {
		select {
		case ch <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		return fmt.Errorf("%s event dropped for %d subscriber(s): %w", event.Topic(), dropped, ErrSubscriberOverflow)
	}
	return nil
}

// Close closes all subscriber channels, following Subscribe and Publish calls fail.
func (b *EventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, chans := range b.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	return nil
}
