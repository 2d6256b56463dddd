package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/alphabill-org/transferout/bank"
	"github.com/alphabill-org/transferout/events"
	"github.com/alphabill-org/transferout/keyvaluedb/boltdb"
	"github.com/alphabill-org/transferout/providers/simulated"
	"github.com/alphabill-org/transferout/transfer"
	"github.com/alphabill-org/transferout/translog"
	"github.com/alphabill-org/transferout/txcoordinator"
	"github.com/alphabill-org/transferout/types"
)

const (
	defaultDBFileName = "transferout.db"

	flagNameDBFile          = "db"
	flagNameProviders       = "providers"
	flagNameProviderTimeout = "provider-timeout"
	flagNameProviderLimit   = "provider-limit"
	flagNameProviderDelay   = "provider-delay"
	flagNameBalance         = "balance"
)

/*
engineConfiguration describes the transaction log and the providers, it is
shared by the commands which need the transfer coordinator.
*/
type engineConfiguration struct {
	Base *baseConfiguration

	DBFile string
	// provider ids in priority order
	Providers        []string
	ProviderTimeouts map[string]string
	ProviderLimits   map[string]int64
	ProviderDelay    time.Duration
	// account class -> amount in currency units
	Balance map[string]string
}

type engine struct {
	db        *boltdb.BoltDB
	store     *translog.Store
	ledger    *bank.Ledger
	providers *transfer.Registry
}

func (c *engineConfiguration) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.DBFile, flagNameDBFile, "", fmt.Sprintf("transaction log file (default is $TO_HOME/%s)", defaultDBFileName))
	cmd.Flags().StringSliceVar(&c.Providers, flagNameProviders, []string{"voucher", "handpay", "wallet"}, "transfer providers in priority order")
	cmd.Flags().StringToStringVar(&c.ProviderTimeouts, flagNameProviderTimeout, nil, "timeout of the provider call, ie voucher=10s")
	cmd.Flags().StringToInt64Var(&c.ProviderLimits, flagNameProviderLimit, nil, "maximum amount in millicents the provider moves per call, ie handpay=100000000")
	cmd.Flags().DurationVar(&c.ProviderDelay, flagNameProviderDelay, 0, "simulated duration of the provider call")
	cmd.Flags().StringToStringVar(&c.Balance, flagNameBalance, nil, "initial balance of the account classes, ie cashable=100.00,promo=5. Balance is not checked when not set")
}

func (c *engineConfiguration) dbFile() string {
	if c.DBFile != "" {
		return c.DBFile
	}
	return c.Base.defaultDBFile()
}

/*
newEngine opens the transaction log and builds the provider registry. The
providers keep their journal in the same database as the transaction log.
*/
func newEngine(cfg *engineConfiguration, log *slog.Logger) (_ *engine, rErr error) {
	db, err := boltdb.New(cfg.dbFile())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if rErr != nil {
			rErr = errors.Join(rErr, db.Close())
		}
	}()

	e := &engine{db: db}
	if e.store, err = translog.New(db); err != nil {
		return nil, fmt.Errorf("creating transaction log: %w", err)
	}
	if len(cfg.Balance) != 0 {
		amounts, err := parseBalance(cfg.Balance)
		if err != nil {
			return nil, fmt.Errorf("invalid %s flag: %w", flagNameBalance, err)
		}
		if e.ledger, err = bank.NewLedger(amounts); err != nil {
			return nil, fmt.Errorf("creating ledger: %w", err)
		}
	}
	if e.providers, err = cfg.newRegistry(e, log); err != nil {
		return nil, fmt.Errorf("creating provider registry: %w", err)
	}
	return e, nil
}

func (cfg *engineConfiguration) newRegistry(e *engine, log *slog.Logger) (*transfer.Registry, error) {
	ids := make([]types.ProviderID, len(cfg.Providers))
	for i, id := range cfg.Providers {
		ids[i] = types.ProviderID(id)
	}
	reg, err := transfer.NewRegistry(ids...)
	if err != nil {
		return nil, err
	}
	for id := range cfg.ProviderTimeouts {
		if !containsProvider(ids, id) {
			return nil, fmt.Errorf("%s: unknown provider %q", flagNameProviderTimeout, id)
		}
	}
	for id := range cfg.ProviderLimits {
		if !containsProvider(ids, id) {
			return nil, fmt.Errorf("%s: unknown provider %q", flagNameProviderLimit, id)
		}
	}

	for _, id := range ids {
		opts := []simulated.Option{
			simulated.WithStore(e.db),
			simulated.WithLimit(cfg.ProviderLimits[id.String()]),
			simulated.WithDelay(cfg.ProviderDelay),
		}
		if e.ledger != nil {
			opts = append(opts, simulated.WithLedger(e.ledger))
		}
		p, err := simulated.New(id, log, opts...)
		if err != nil {
			return nil, fmt.Errorf("creating provider %s: %w", id, err)
		}

		var regOpts []transfer.RegisterOption
		if s, ok := cfg.ProviderTimeouts[id.String()]; ok {
			timeout, err := time.ParseDuration(s)
			if err != nil {
				return nil, fmt.Errorf("%s: provider %s: %w", flagNameProviderTimeout, id, err)
			}
			regOpts = append(regOpts, transfer.WithTimeout(timeout))
		}
		if err := reg.Register(id, p, regOpts...); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (e *engine) coordinator(pub events.Publisher, obs transfer.Observability) (*transfer.Coordinator, error) {
	var opts []transfer.Option
	if e.ledger != nil {
		opts = append(opts, transfer.WithBank(e.ledger))
	}
	return transfer.NewCoordinator(e.providers, txcoordinator.NewInMemory(), e.store, pub, obs, opts...)
}

func (e *engine) Close() error {
	return e.db.Close()
}

func parseBalance(balance map[string]string) (types.Amounts, error) {
	var amounts types.Amounts
	for k, v := range balance {
		at, err := types.ParseAccountType(k)
		if err != nil {
			return amounts, err
		}
		mc, err := types.ParseCurrency(v)
		if err != nil {
			return amounts, err
		}
		switch at {
		case types.AccountCashable:
			amounts.Cashable = mc
		case types.AccountPromo:
			amounts.Promo = mc
		case types.AccountNonCash:
			amounts.NonCash = mc
		}
	}
	return amounts, amounts.Validate()
}

func containsProvider(ids []types.ProviderID, id string) bool {
	for _, v := range ids {
		if v.String() == id {
			return true
		}
	}
	return false
}
