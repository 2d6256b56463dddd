package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ainvaltin/httpsrv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alphabill-org/transferout/events"
	"github.com/alphabill-org/transferout/events/eventbus"
	"github.com/alphabill-org/transferout/events/redispub"
	"github.com/alphabill-org/transferout/logger"
	"github.com/alphabill-org/transferout/rpc"
)

const (
	defaultRESTAddress = "localhost:29870"
	defaultMaxBodySize = 1 << 16
)

type runConfiguration struct {
	engineConfiguration

	RESTAddress   string
	MaxBodySize   int64
	RedisAddress  string
	RedisPassword string
	RedisDB       int
	RedisChannel  string
}

func newRunCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &runConfiguration{engineConfiguration: engineConfiguration{Base: baseConfig}}
	var cmd = &cobra.Command{
		Use:   "run",
		Short: "Starts the transfer out daemon",
		Long:  `Recovers the transactions left pending by the previous run and starts serving the REST API.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), config)
		},
	}
	config.addFlags(cmd)
	cmd.Flags().StringVar(&config.RESTAddress, "rest-address", defaultRESTAddress, "address the REST API listens on")
	cmd.Flags().Int64Var(&config.MaxBodySize, "rest-max-body", defaultMaxBodySize, "maximum size of the request body in bytes")
	cmd.Flags().StringVar(&config.RedisAddress, "redis-address", "", "publish events to Redis server, disabled when not set")
	cmd.Flags().StringVar(&config.RedisPassword, "redis-password", "", "password of the Redis server")
	cmd.Flags().IntVar(&config.RedisDB, "redis-db", 0, "Redis database to select")
	cmd.Flags().StringVar(&config.RedisChannel, "redis-channel", "", "Redis pub/sub channel of the events (default \"transferout.events\")")
	return cmd
}

func runDaemon(ctx context.Context, config *runConfiguration) (rErr error) {
	obs := config.Base.observe
	log := obs.Logger()

	eng, err := newEngine(&config.engineConfiguration, log)
	if err != nil {
		return err
	}
	defer func() { rErr = errors.Join(rErr, eng.Close()) }()

	bus := eventbus.New()
	defer bus.Close()
	publishers := events.Multi{bus}
	if config.RedisAddress != "" {
		rp, err := redispub.New(ctx, redispub.Config{
			Addr:     config.RedisAddress,
			Password: config.RedisPassword,
			DB:       config.RedisDB,
			Channel:  config.RedisChannel,
		})
		if err != nil {
			return fmt.Errorf("creating redis publisher: %w", err)
		}
		defer rp.Close()
		publishers = append(publishers, rp)
	}

	c, err := eng.coordinator(publishers, obs)
	if err != nil {
		return fmt.Errorf("creating transfer coordinator: %w", err)
	}
	defer c.Wait()

	// transactions interrupted by the previous run must be resolved before new transfers are accepted
	traces, err := c.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recovering pending transactions: %w", err)
	}
	if len(traces) > 0 {
		log.InfoContext(ctx, fmt.Sprintf("recovered %d pending transaction(s)", len(traces)))
	}

	evCh, err := bus.Subscribe(eventbus.AllTopics, 16)
	if err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer bus.Unsubscribe(evCh)
		logEvents(ctx, log, evCh)
		return nil
	})

	g.Go(func() error {
		srv := rpc.NewRESTServer(rpc.ServerConfig{Addr: config.RESTAddress, MaxBodySize: config.MaxBodySize}, obs, log,
			rpc.TransferEndpoints(ctx, c, eng.store, log),
			rpc.EventEndpoints(bus, log),
		)
		log.InfoContext(ctx, fmt.Sprintf("REST API listening on %s", config.RESTAddress))
		return httpsrv.Run(ctx, *srv, httpsrv.ShutdownTimeout(5*time.Second))
	})

	return g.Wait()
}

func logEvents(ctx context.Context, log *slog.Logger, evCh <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-evCh:
			if !ok {
				return
			}
			log.InfoContext(ctx, "event "+e.Topic(), logger.Data(e))
		}
	}
}
