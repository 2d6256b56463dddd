package redispub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/alphabill-org/transferout/events"
	"github.com/alphabill-org/transferout/logger"
)

const defaultChannel = "transferout.events"

type (
	Config struct {
		Addr     string // Redis server address, ie "localhost:6379"
		Password string
		DB       int
		// Channel the events are published to, defaults to "transferout.events".
		Channel string
	}

	/*
		Publisher publishes transfer events into Redis pub/sub channel using
		events.Envelope JSON format.
	*/
	Publisher struct {
		rdb     *redis.Client
		channel string
	}
)

/*
New connects to Redis server and returns publisher for the configured channel.
*/
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is not set")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Join(fmt.Errorf("connecting to redis: %w", err), rdb.Close())
	}
	channel := cfg.Channel
	if channel == "" {
		channel = defaultChannel
	}
	return &Publisher{rdb: rdb, channel: channel}, nil
}

func (p *Publisher) Publish(ctx context.Context, event events.Event) error {
	msg, err := events.Marshal(event)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, p.channel, msg).Err(); err != nil {
		return fmt.Errorf("publishing %s event to redis: %w", event.Topic(), err)
	}
	return nil
}

/*
Subscribe calls "handler" for every event received from the channel until ctx
is cancelled. Messages which can't be decoded are logged and skipped.
Returns after the subscription has been confirmed by the server.
*/
func (p *Publisher) Subscribe(ctx context.Context, log *slog.Logger, handler func(events.Event)) error {
	pubsub := p.rdb.Subscribe(ctx, p.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		return errors.Join(fmt.Errorf("subscribing to %q: %w", p.channel, err), pubsub.Close())
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				e, err := events.Unmarshal([]byte(msg.Payload))
				if err != nil {
					log.WarnContext(ctx, "decoding event received from redis", logger.Error(err))
					continue
				}
				handler(e)
			}
		}
	}()
	return nil
}

func (p *Publisher) Close() error {
	return p.rdb.Close()
}
