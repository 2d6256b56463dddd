package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alphabill-org/transferout/keyvaluedb/boltdb"
	"github.com/alphabill-org/transferout/translog"
	"github.com/alphabill-org/transferout/types"
)

type logConfiguration struct {
	Base   *baseConfiguration
	DBFile string
	State  string
}

func newLogCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &logConfiguration{Base: baseConfig}
	var cmd = &cobra.Command{
		Use:   "log",
		Short: "Inspects the transaction log",
	}
	cmd.PersistentFlags().StringVar(&config.DBFile, flagNameDBFile, "", fmt.Sprintf("transaction log file (default is $TO_HOME/%s)", defaultDBFileName))
	cmd.AddCommand(newLogListCmd(config))
	cmd.AddCommand(newLogPurgeCmd(config))
	return cmd
}

func newLogListCmd(config *logConfiguration) *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "list",
		Short: "Lists the transactions of the log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listTransactions(config)
		},
	}
	cmd.Flags().StringVar(&config.State, "state", "pending", "which transactions to list, one of: pending, archived, all")
	return cmd
}

func newLogPurgeCmd(config *logConfiguration) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Removes the archived transactions, unfinished transactions are kept",
		RunE: func(cmd *cobra.Command, args []string) error {
			return purgeTransactions(config)
		},
	}
}

func (c *logConfiguration) openStore() (*translog.Store, func() error, error) {
	file := c.DBFile
	if file == "" {
		file = c.Base.defaultDBFile()
	}
	db, err := boltdb.New(file)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	store, err := translog.New(db)
	if err != nil {
		return nil, nil, errors.Join(fmt.Errorf("creating transaction log: %w", err), db.Close())
	}
	return store, db.Close, nil
}

func listTransactions(config *logConfiguration) (rErr error) {
	var list func(*translog.Store) ([]*types.TransactionState, error)
	switch strings.ToLower(config.State) {
	case "pending":
		list = (*translog.Store).Pending
	case "archived":
		list = (*translog.Store).Archived
	case "all":
		list = func(s *translog.Store) ([]*types.TransactionState, error) {
			pending, err := s.Pending()
			if err != nil {
				return nil, err
			}
			archived, err := s.Archived()
			if err != nil {
				return nil, err
			}
			return append(pending, archived...), nil
		}
	default:
		return fmt.Errorf("invalid state %q, expected one of: pending, archived, all", config.State)
	}

	store, closeDB, err := config.openStore()
	if err != nil {
		return err
	}
	defer func() { rErr = errors.Join(rErr, closeDB()) }()

	txs, err := list(store)
	if err != nil {
		return fmt.Errorf("loading transactions: %w", err)
	}
	if len(txs) == 0 {
		consoleWriter.Println("No transactions")
		return nil
	}
	for _, ts := range txs {
		consoleWriter.Println(formatTransaction(ts))
	}
	return nil
}

func purgeTransactions(config *logConfiguration) (rErr error) {
	store, closeDB, err := config.openStore()
	if err != nil {
		return err
	}
	defer func() { rErr = errors.Join(rErr, closeDB()) }()

	cnt, err := store.Purge()
	if err != nil {
		return fmt.Errorf("purging transaction log: %w", err)
	}
	consoleWriter.Println(fmt.Sprintf("Removed %d archived transaction(s)", cnt))
	return nil
}

func formatTransaction(ts *types.TransactionState) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s %s requested=%s transferred=%s",
		ts.TransactionID, ts.State, ts.Reason,
		types.FormatMillicents(ts.Requested.Total()),
		types.FormatMillicents(ts.Transferred.Total()))
	if ts.Recoverable {
		sb.WriteString(" recoverable")
	}
	if ts.LastError != "" {
		fmt.Fprintf(&sb, " error=%q", ts.LastError)
	}
	return sb.String()
}
