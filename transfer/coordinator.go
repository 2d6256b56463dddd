package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/alphabill-org/transferout/bank"
	"github.com/alphabill-org/transferout/events"
	"github.com/alphabill-org/transferout/logger"
	"github.com/alphabill-org/transferout/translog"
	"github.com/alphabill-org/transferout/txcoordinator"
	"github.com/alphabill-org/transferout/types"
)

// owner name used when allocating transaction id from the transaction coordinator
const txOwner = "transferout"

type (
	Observability interface {
		Meter(name string, opts ...metric.MeterOption) metric.Meter
		Logger() *slog.Logger
	}

	/*
		Coordinator accepts transfer requests, enforces that at most one transfer
		(or recovery) is active at a time, runs the provider continuation chain
		and publishes lifecycle events.
	*/
	Coordinator struct {
		providers *Registry
		txc       txcoordinator.Coordinator
		store     *translog.Store
		pub       events.Publisher
		bank      bank.Bank
		log       *slog.Logger
		now       func() time.Time
		m         metrics

		mu         sync.Mutex
		pending    bool
		inProgress bool
		recovering bool
		// caller supplied transaction id of the accepted request
		acceptedID uuid.UUID
		current    *types.TransactionState

		wg sync.WaitGroup
	}

	Option func(*Coordinator)
)

/*
WithBank sets the balance source. Without bank the balance of the requests
which affect balance is not checked.
*/
func WithBank(b bank.Bank) Option {
	return func(c *Coordinator) {
		c.bank = b
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

func NewCoordinator(providers *Registry, txc txcoordinator.Coordinator, store *translog.Store, pub events.Publisher, obs Observability, opts ...Option) (*Coordinator, error) {
	switch {
	case providers == nil:
		return nil, errors.New("provider registry is nil")
	case txc == nil:
		return nil, errors.New("transaction coordinator is nil")
	case store == nil:
		return nil, errors.New("transaction log is nil")
	case pub == nil:
		return nil, errors.New("event publisher is nil")
	case obs == nil:
		return nil, errors.New("observability is nil")
	}
	if err := providers.Validate(); err != nil {
		return nil, fmt.Errorf("invalid provider registry: %w", err)
	}

	c := &Coordinator{
		providers: providers,
		txc:       txc,
		store:     store,
		pub:       pub,
		log:       obs.Logger(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if err := c.initMetrics(obs); err != nil {
		return nil, fmt.Errorf("initializing metrics: %w", err)
	}
	return c, nil
}

// InProgress returns true while a transaction is actively moving funds (transfer or recovery).
func (c *Coordinator) InProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inProgress || c.recovering
}

// Pending returns true while accepted request is waiting for provider dispatch.
func (c *Coordinator) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy()
}

func (c *Coordinator) busy() bool {
	return c.pending || c.inProgress || c.recovering
}

// Current returns copy of the state of the transaction being processed, nil when idle.
func (c *Coordinator) Current() *types.TransactionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	return c.current.Clone()
}

func (c *Coordinator) Providers() *Registry { return c.providers }

// Wait blocks until the transfer started by TransferOut (if any) has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

/*
TransferOut accepts the request for asynchronous processing. Returns false,
without any side effects, when another transfer or recovery is active. Request
with the same (non-nil) transaction id as the active one is accepted without
starting it again.

The outcome is observable only via events. Cancelling ctx cancels the provider
call in flight and leaves the transaction recoverable.
*/
func (c *Coordinator) TransferOut(ctx context.Context, req *types.TransferRequest) bool {
	if req == nil {
		c.log.WarnContext(ctx, "transfer request is nil")
		return false
	}

	c.mu.Lock()
	if c.busy() {
		same := req.TransactionID != uuid.Nil && req.TransactionID == c.acceptedID
		c.mu.Unlock()
		if !same {
			c.log.DebugContext(ctx, "transfer request rejected, busy", logger.TraceID(req.TraceID))
			c.m.transferDone(ctx, req.Reason, statusRejected)
		}
		return same
	}
	c.pending = true
	c.acceptedID = req.TransactionID
	c.wg.Add(1)
	c.mu.Unlock()

	r := *req
	go func() {
		defer c.wg.Done()
		defer c.idle()
		c.run(ctx, &r)
	}()
	return true
}

func (c *Coordinator) idle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = false
	c.inProgress = false
	c.acceptedID = uuid.Nil
	c.current = nil
}

func (c *Coordinator) setCurrent(ts *types.TransactionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = ts.Clone()
	if ts.State == types.StateInProviderCall {
		c.pending = false
		c.inProgress = true
	}
}

func (c *Coordinator) run(ctx context.Context, req *types.TransferRequest) {
	start := c.now()
	if req.TraceID == uuid.Nil {
		req.TraceID = uuid.New()
	}
	log := c.log.With(logger.TraceID(req.TraceID))

	status := statusFailed
	defer func() {
		c.m.transferDone(ctx, req.Reason, status)
		c.m.duration.Record(ctx, c.now().Sub(start).Seconds())
	}()

	failed := events.TransferOutFailedEvent{
		Cashable: req.Amounts.Cashable,
		Promo:    req.Amounts.Promo,
		NonCash:  req.Amounts.NonCash,
		TraceID:  req.TraceID,
	}
	reject := func(msg string, err error) {
		log.WarnContext(ctx, msg, logger.Error(err))
		c.publish(ctx, log, failed)
	}

	if err := req.IsValid(); err != nil {
		reject("invalid transfer request", Fatal(err))
		return
	}
	chain, err := c.providers.Chain(req.ProviderHint)
	if err != nil {
		reject("selecting providers", Fatal(err))
		return
	}
	if req.Reason.AffectsBalance() && c.bank != nil {
		if err := bank.CheckBalance(ctx, c.bank, req.Amounts); err != nil {
			reject("balance check", Fatal(err))
			return
		}
	}

	txID, owned := req.TransactionID, false
	if txID == uuid.Nil {
		if txID, err = c.txc.Begin(ctx, txOwner); err != nil {
			reject("allocating transaction id", err)
			return
		}
		owned = true
		defer func() {
			if err := c.txc.Release(txID); err != nil {
				log.ErrorContext(ctx, "releasing transaction id", logger.Error(err), logger.TxID(txID))
			}
		}()
	} else if !c.txc.IsCurrent(txID) {
		reject("validating transaction id", Fatal(fmt.Errorf("%s: %w", txID, txcoordinator.ErrNotCurrent)))
		return
	}
	log = log.With(logger.TxID(txID))

	// caller may resubmit id of earlier transfer, its record must not be
	// overwritten and the providers must not be called again
	switch prev, err := c.store.Get(txID); {
	case err == nil:
		if prev.NeedsRecovery() {
			reject("transaction id reused", Fatal(fmt.Errorf("%s is %s, use recovery to finish it: %w", txID, prev.State, ErrDuplicateTransfer)))
		} else {
			reject("transaction id reused", Fatal(fmt.Errorf("%s is %s: %w", txID, prev.State, ErrDuplicateTransfer)))
		}
		return
	case !errors.Is(err, translog.ErrNotFound):
		reject("reading transaction log", err)
		return
	}

	ts := types.NewTransactionState(txID, req, owned, c.now())
	if err := c.store.Put(ts); err != nil {
		reject("persisting transaction", err)
		return
	}
	c.setCurrent(ts)
	log.InfoContext(ctx, fmt.Sprintf("transfer out started, %s", req.Amounts), logger.Data(req.Reason))
	c.publish(ctx, log, events.TransferOutStartedEvent{
		TransactionID:   txID,
		PendingCashable: req.Amounts.Cashable,
		PendingPromo:    req.Amounts.Promo,
		PendingNonCash:  req.Amounts.NonCash,
	})

	success := c.runChain(ctx, log, ts, chain)

	switch residual := ts.Residual(); {
	case success && residual.IsZero():
		status = statusCompleted
		c.finish(ctx, log, ts, types.StateCompleted, false)
	case success:
		status = statusPartial
		log.InfoContext(ctx, fmt.Sprintf("transfer out partially completed, residual %s", residual))
		c.finish(ctx, log, ts, types.StateFailed, true)
	default:
		log.WarnContext(ctx, "transfer out failed", logger.Data(ts.LastError))
		c.finish(ctx, log, ts, types.StateFailed, ts.Recoverable)
	}

	if success {
		c.publish(ctx, log, events.TransferOutCompletedEvent{
			Cashable: ts.Transferred.Cashable,
			Promo:    ts.Transferred.Promo,
			NonCash:  ts.Transferred.NonCash,
			Pending:  status == statusPartial,
			TraceID:  ts.TraceID,
		})
	} else {
		c.publish(ctx, log, failed)
	}
}

/*
runChain calls the providers in "chain" sequentially until one of them
succeeds. Each provider is asked to move the residual amount. Returns true
when a provider succeeded, the state of the transaction (amounts, attempted
providers, recoverability) is updated in "ts".
*/
func (c *Coordinator) runChain(ctx context.Context, log *slog.Logger, ts *types.TransactionState, chain []Entry) bool {
	for _, e := range chain {
		if err := ctx.Err(); err != nil {
			c.markFailure(ts, Recoverable("", err))
			return false
		}

		if err := ts.Transition(types.StateInProviderCall, c.now()); err != nil {
			c.markFailure(ts, Fatal(err))
			return false
		}
		ts.ProviderInUse = e.ID
		ts.Attempted = append(ts.Attempted, e.ID)
		// the record must say which provider was called before calling it
		if err := c.store.Put(ts); err != nil {
			log.ErrorContext(ctx, "persisting transaction before provider call", logger.Error(err))
			c.markFailure(ts, Recoverable(e.ID, err))
			return false
		}
		c.setCurrent(ts)

		residual := ts.Residual()
		res, err := c.callProvider(ctx, e, ProviderRequest{
			TransactionID:          ts.TransactionID,
			TraceID:                ts.TraceID,
			Amounts:                residual,
			AssociatedTransactions: ts.AssociatedTransactions,
			Reason:                 ts.Reason,
		})
		plog := log.With(logger.Provider(e.ID.String()))

		if cerr := checkClaim(res, residual); cerr != nil {
			plog.ErrorContext(ctx, "provider returned invalid result", logger.Error(cerr), logger.Data(res))
			c.markFailure(ts, Fatal(fmt.Errorf("provider %s: %w", e.ID, cerr)))
			return false
		}
		if ts.Transferred, err = addClaim(ts.Transferred, res, err); err != nil && !IsRecoverable(err) {
			plog.ErrorContext(ctx, "provider failed unrecoverably", logger.Error(err))
			c.markFailure(ts, err)
			return false
		}

		switch {
		case err == nil && res.Success():
			plog.DebugContext(ctx, fmt.Sprintf("provider transferred %s", res.Transferred))
			return true
		case err == nil:
			plog.InfoContext(ctx, "provider didn't transfer anything, trying next provider")
			ts.LastError = fmt.Sprintf("provider %s: nothing transferred", e.ID)
		case ctx.Err() != nil:
			plog.WarnContext(ctx, "transfer cancelled", logger.Error(err))
			c.markFailure(ts, Recoverable(e.ID, err))
			return false
		default:
			plog.WarnContext(ctx, "provider failed, trying next provider", logger.Error(err))
			c.markFailure(ts, err)
		}
	}
	return false
}

func (c *Coordinator) callProvider(ctx context.Context, e Entry, req ProviderRequest) (res types.TransferResult, err error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	defer func() { c.m.providerCalled(ctx, e.ID, err) }()

	res, err = e.Provider.Transfer(ctx, req)
	if err != nil {
		var fe *FatalError
		if !errors.As(err, &fe) {
			var re *RecoverableError
			if !errors.As(err, &re) {
				err = Recoverable(e.ID, err)
			}
		}
	}
	return res, err
}

/*
checkClaim verifies that provider didn't report negative amounts or more
than it was asked to transfer.
*/
func checkClaim(res types.TransferResult, requested types.Amounts) error {
	if err := res.Transferred.Validate(); err != nil {
		return err
	}
	if !requested.Covers(res.Transferred) {
		return fmt.Errorf("transferred %s is more than requested %s", res.Transferred, requested)
	}
	return nil
}

// addClaim adds amounts moved by provider (also when the call failed) to the total.
func addClaim(total types.Amounts, res types.TransferResult, callErr error) (types.Amounts, error) {
	sum, err := total.Add(res.Transferred)
	if err != nil {
		return total, Fatal(err)
	}
	return sum, callErr
}

/*
markFailure records the error of the transaction. Recoverable error makes the
transaction recoverable, fatal error makes it unrecoverable for good.
*/
func (c *Coordinator) markFailure(ts *types.TransactionState, err error) {
	ts.LastError = err.Error()
	ts.Recoverable = IsRecoverable(err)
}

/*
finish moves the transaction into terminal state and persists it. Completed
and unrecoverable transactions end up in the archive, recoverable ones stay
in the log for recovery.
*/
func (c *Coordinator) finish(ctx context.Context, log *slog.Logger, ts *types.TransactionState, state types.State, recoverable bool) {
	ts.Recoverable = recoverable
	if state == types.StateCompleted {
		ts.ProviderInUse = ""
	}
	if err := ts.Transition(state, c.now()); err != nil {
		log.ErrorContext(ctx, "finishing transaction", logger.Error(err))
		return
	}
	if err := c.store.Put(ts); err != nil {
		log.ErrorContext(ctx, fmt.Sprintf("persisting transaction in state %s", state), logger.Error(err))
	}
	c.setCurrent(ts)
}

func (c *Coordinator) publish(ctx context.Context, log *slog.Logger, e events.Event) {
	if err := c.pub.Publish(context.WithoutCancel(ctx), e); err != nil {
		log.WarnContext(ctx, fmt.Sprintf("publishing %s event", e.Topic()), logger.Error(err))
	}
}
