package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/alphabill-org/transferout/events"
	"github.com/alphabill-org/transferout/types"
)

type recoverConfiguration struct {
	engineConfiguration

	TransactionID string
}

func newRecoverCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &recoverConfiguration{engineConfiguration: engineConfiguration{Base: baseConfig}}
	var cmd = &cobra.Command{
		Use:   "recover",
		Short: "Recovers the unfinished transactions of the transaction log",
		Long:  `Runs the recovery without starting the daemon. The daemon must not be running as the transaction log is opened exclusively.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return recoverTransactions(cmd.Context(), config)
		},
	}
	config.addFlags(cmd)
	cmd.Flags().StringVar(&config.TransactionID, "tx", "", "recover only the transaction with given id")
	return cmd
}

func recoverTransactions(ctx context.Context, config *recoverConfiguration) (rErr error) {
	var txID uuid.UUID
	if config.TransactionID != "" {
		var err error
		if txID, err = uuid.Parse(config.TransactionID); err != nil {
			return fmt.Errorf("invalid transaction id: %w", err)
		}
	}

	obs := config.Base.observe
	eng, err := newEngine(&config.engineConfiguration, obs.Logger())
	if err != nil {
		return err
	}
	defer func() { rErr = errors.Join(rErr, eng.Close()) }()

	pub := events.PublisherFunc(func(ctx context.Context, e events.Event) error {
		consoleWriter.Println(fmt.Sprintf("%s %s", e.Topic(), eventAmounts(e)))
		return nil
	})
	c, err := eng.coordinator(pub, obs)
	if err != nil {
		return fmt.Errorf("creating transfer coordinator: %w", err)
	}

	var traces []uuid.UUID
	if txID != uuid.Nil {
		trace, err := c.RecoverTransaction(ctx, txID)
		if err != nil {
			return fmt.Errorf("recovering transaction %s: %w", txID, err)
		}
		if trace != uuid.Nil {
			traces = append(traces, trace)
		}
	} else {
		if traces, err = c.Recover(ctx); err != nil {
			return fmt.Errorf("recovering transactions: %w", err)
		}
	}

	if len(traces) == 0 {
		consoleWriter.Println("Nothing to recover")
		return nil
	}
	for _, trace := range traces {
		consoleWriter.Println("Processed trace " + trace.String())
	}
	return nil
}

func eventAmounts(e events.Event) string {
	if t, ok := e.(interface{ Total() int64 }); ok {
		return types.FormatMillicents(t.Total())
	}
	return ""
}
