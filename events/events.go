package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	TopicTransferOutStarted   = "TransferOutStarted"
	TopicTransferOutCompleted = "TransferOutCompleted"
	TopicTransferOutFailed    = "TransferOutFailed"
)

type (
	// Event is a transfer lifecycle notification.
	Event interface {
		Topic() string
	}

	// Publisher delivers events to interested parties.
	Publisher interface {
		Publish(ctx context.Context, event Event) error
	}

	PublisherFunc func(ctx context.Context, event Event) error

	/*
		TransferOutStartedEvent is published when the transfer has been accepted
		and persisted, before the first provider is called. Amounts in millicents.
	*/
	TransferOutStartedEvent struct {
		TransactionID   uuid.UUID `json:"transactionId"`
		PendingCashable int64     `json:"pendingCashable"`
		PendingPromo    int64     `json:"pendingPromo"`
		PendingNonCash  int64     `json:"pendingNonCash"`
	}

	/*
		TransferOutCompletedEvent is published when a provider succeeded (or a
		transaction was recovered). Pending is set when there are residual credits
		which still need another attempt.
	*/
	TransferOutCompletedEvent struct {
		Cashable int64     `json:"cashable"`
		Promo    int64     `json:"promo"`
		NonCash  int64     `json:"nonCash"`
		Pending  bool      `json:"pending"`
		TraceID  uuid.UUID `json:"traceId"`
	}

	// TransferOutFailedEvent carries the amounts which were attempted.
	TransferOutFailedEvent struct {
		Cashable int64     `json:"cashable"`
		Promo    int64     `json:"promo"`
		NonCash  int64     `json:"nonCash"`
		TraceID  uuid.UUID `json:"traceId"`
	}

	// Multi publishes events to all the publishers in the list.
	Multi []Publisher
)

func (f PublisherFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}

func (TransferOutStartedEvent) Topic() string   { return TopicTransferOutStarted }
func (TransferOutCompletedEvent) Topic() string { return TopicTransferOutCompleted }
func (TransferOutFailedEvent) Topic() string    { return TopicTransferOutFailed }

func (e TransferOutStartedEvent) Total() int64 {
	return e.PendingCashable + e.PendingPromo + e.PendingNonCash
}

func (e TransferOutCompletedEvent) Total() int64 {
	return e.Cashable + e.Promo + e.NonCash
}

func (e TransferOutFailedEvent) Total() int64 {
	return e.Cashable + e.Promo + e.NonCash
}

/*
Publish sends the event to all publishers, every publisher is called even
when some of them fail.
*/
func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

/*
Envelope is the wire format of the event for external consumers (Redis,
websocket clients).
*/
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func Marshal(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", e.Topic(), err)
	}
	return json.Marshal(Envelope{Type: e.Topic(), Data: data})
}

/*
Unmarshal decodes event from the Envelope format. Returns value type, ie
TransferOutStartedEvent, not pointer.
*/
func Unmarshal(b []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decoding event envelope: %w", err)
	}
	switch env.Type {
	case TopicTransferOutStarted:
		return decode[TransferOutStartedEvent](env.Data)
	case TopicTransferOutCompleted:
		return decode[TransferOutCompletedEvent](env.Data)
	case TopicTransferOutFailed:
		return decode[TransferOutFailedEvent](env.Data)
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
}

func decode[T Event](data []byte) (Event, error) {
	var e T
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decoding %s event: %w", e.Topic(), err)
	}
	return e, nil
}
