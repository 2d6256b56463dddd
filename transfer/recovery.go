package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/alphabill-org/transferout/events"
	"github.com/alphabill-org/transferout/logger"
	"github.com/alphabill-org/transferout/translog"
	"github.com/alphabill-org/transferout/types"
)

// RecoveryPhase is the state of the recovery state machine.
type RecoveryPhase uint8

const (
	PhaseIdle RecoveryPhase = iota
	PhaseScanning
	PhasePerProvider
	PhaseRecovered
	PhaseFailed
)

var recoveryTransitions = map[RecoveryPhase][]RecoveryPhase{
	PhaseIdle:        {PhaseScanning},
	PhaseScanning:    {PhasePerProvider, PhaseIdle},
	PhasePerProvider: {PhaseRecovered, PhaseFailed},
	PhaseRecovered:   {PhasePerProvider, PhaseIdle},
	PhaseFailed:      {PhasePerProvider, PhaseIdle},
}

func (p RecoveryPhase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseScanning:
		return "Scanning"
	case PhasePerProvider:
		return "PerProvider"
	case PhaseRecovered:
		return "Recovered"
	case PhaseFailed:
		return "Failed"
	default:
		return fmt.Sprintf("RecoveryPhase(%d)", uint8(p))
	}
}

func (p RecoveryPhase) CanTransitionTo(to RecoveryPhase) bool {
	return slices.Contains(recoveryTransitions[p], to)
}

/*
recovery walks through the recovery phases of single Recover call, the
recovery is not re-entrant, concurrent calls are prevented by the
coordinator's busy flag.
*/
type recovery struct {
	phase RecoveryPhase
	// trace ids of the transactions processed
	traces []uuid.UUID
}

func (r *recovery) to(phase RecoveryPhase) error {
	if !r.phase.CanTransitionTo(phase) {
		return fmt.Errorf("invalid recovery phase transition %s -> %s", r.phase, phase)
	}
	r.phase = phase
	return nil
}

/*
Recover reconciles all transactions left unfinished in the transaction log.
Returns trace ids of all the transactions it processed, recovered or not.
Must be called at startup before accepting new transfers.

ErrBusy is returned when transfer or another recovery is in progress.
*/
func (c *Coordinator) Recover(ctx context.Context) ([]uuid.UUID, error) {
	if !c.startRecovery() {
		return nil, ErrBusy
	}
	defer c.endRecovery()

	r := &recovery{}
	if err := r.to(PhaseScanning); err != nil {
		return nil, err
	}
	pending, err := c.store.Pending()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("loading unfinished transactions: %w", err), r.to(PhaseIdle))
	}
	c.log.InfoContext(ctx, fmt.Sprintf("recovery found %d unfinished transactions", len(pending)))

	for _, ts := range pending {
		if err := ctx.Err(); err != nil {
			return r.traces, errors.Join(err, r.to(PhaseIdle))
		}
		if err := c.recoverOne(ctx, r, ts); err != nil {
			return r.traces, err
		}
	}
	return r.traces, r.to(PhaseIdle)
}

/*
RecoverTransaction runs the recovery for single transaction. Returns the
trace id of the transaction when it was processed, uuid.Nil when the
transaction is unknown or doesn't need recovery.
*/
func (c *Coordinator) RecoverTransaction(ctx context.Context, txID uuid.UUID) (uuid.UUID, error) {
	if !c.startRecovery() {
		return uuid.Nil, ErrBusy
	}
	defer c.endRecovery()

	r := &recovery{}
	if err := r.to(PhaseScanning); err != nil {
		return uuid.Nil, err
	}
	ts, err := c.store.Get(txID)
	switch {
	case errors.Is(err, translog.ErrNotFound):
		return uuid.Nil, r.to(PhaseIdle)
	case err != nil:
		return uuid.Nil, errors.Join(fmt.Errorf("loading transaction %s: %w", txID, err), r.to(PhaseIdle))
	case !ts.NeedsRecovery():
		c.log.DebugContext(ctx, fmt.Sprintf("transaction in state %s doesn't need recovery", ts.State), logger.TxID(txID))
		return uuid.Nil, r.to(PhaseIdle)
	}

	if err := c.recoverOne(ctx, r, ts); err != nil {
		return uuid.Nil, err
	}
	return ts.TraceID, r.to(PhaseIdle)
}

func (c *Coordinator) startRecovery() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy() {
		return false
	}
	c.recovering = true
	return true
}

func (c *Coordinator) endRecovery() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recovering = false
	c.current = nil
}

func (c *Coordinator) recoverOne(ctx context.Context, r *recovery, ts *types.TransactionState) error {
	if err := r.to(PhasePerProvider); err != nil {
		return err
	}
	r.traces = append(r.traces, ts.TraceID)

	status, err := c.recoverTransaction(ctx, ts)
	c.m.recoveryDone(ctx, status)
	if err != nil {
		return errors.Join(err, r.to(PhaseFailed))
	}
	if status == statusCompleted {
		return r.to(PhaseRecovered)
	}
	return r.to(PhaseFailed)
}

/*
recoverTransaction asks the providers in priority order whether they can
recover the transaction, the first one which can is given the transaction.
Returns outcome status, error is returned only when the transaction log
can't be updated.
*/
func (c *Coordinator) recoverTransaction(ctx context.Context, ts *types.TransactionState) (string, error) {
	log := c.log.With(logger.TxID(ts.TransactionID), logger.TraceID(ts.TraceID))
	residual := ts.Residual()

	if err := ts.Transition(types.StateRecovering, c.now()); err != nil {
		return statusFailed, fmt.Errorf("transaction %s: %w", ts.TransactionID, err)
	}
	if err := c.store.Put(ts); err != nil {
		return statusFailed, fmt.Errorf("persisting transaction %s: %w", ts.TransactionID, err)
	}
	c.setCurrent(ts)

	for _, e := range c.providers.Ordered() {
		if !e.Provider.CanRecover(ts.TransactionID) {
			continue
		}
		plog := log.With(logger.Provider(e.ID.String()))
		ts.ProviderInUse = e.ID

		ok, err := c.callRecover(ctx, e, ts.Clone())
		switch {
		case err == nil && ok:
			plog.InfoContext(ctx, fmt.Sprintf("transaction recovered, %s", residual))
			ts.Transferred = ts.Requested
			ts.LastError = ""
			if err := c.finishRecovery(ts, types.StateCompleted, false); err != nil {
				return statusCompleted, err
			}
			c.publish(ctx, log, events.TransferOutCompletedEvent{
				Cashable: residual.Cashable,
				Promo:    residual.Promo,
				NonCash:  residual.NonCash,
				TraceID:  ts.TraceID,
			})
			return statusCompleted, nil
		case err != nil && !IsRecoverable(err):
			plog.ErrorContext(ctx, "recovery failed unrecoverably", logger.Error(err))
			ts.LastError = err.Error()
			if err := c.finishRecovery(ts, types.StateFailed, false); err != nil {
				return statusFailed, err
			}
			c.publishRecoveryFailed(ctx, log, ts, residual)
			return statusFailed, nil
		default:
			if err == nil {
				err = fmt.Errorf("provider %s didn't complete the recovery", e.ID)
			}
			plog.WarnContext(ctx, "recovery failed, will be retried", logger.Error(err))
			ts.LastError = err.Error()
			return statusPending, c.finishRecovery(ts, types.StateFailed, true)
		}
	}

	log.WarnContext(ctx, "no provider can recover the transaction")
	ts.LastError = "no provider can recover the transaction"
	if err := c.finishRecovery(ts, types.StateFailed, false); err != nil {
		return statusFailed, err
	}
	c.publishRecoveryFailed(ctx, log, ts, residual)
	return statusFailed, nil
}

func (c *Coordinator) callRecover(ctx context.Context, e Entry, ts *types.TransactionState) (ok bool, err error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	defer func() { c.m.providerCalled(ctx, e.ID, err) }()

	return e.Provider.Recover(ctx, ts)
}

func (c *Coordinator) finishRecovery(ts *types.TransactionState, state types.State, recoverable bool) error {
	ts.Recoverable = recoverable
	if err := ts.Transition(state, c.now()); err != nil {
		return fmt.Errorf("transaction %s: %w", ts.TransactionID, err)
	}
	if err := c.store.Put(ts); err != nil {
		return fmt.Errorf("persisting transaction %s in state %s: %w", ts.TransactionID, state, err)
	}
	c.setCurrent(ts)
	return nil
}

func (c *Coordinator) publishRecoveryFailed(ctx context.Context, log *slog.Logger, ts *types.TransactionState, residual types.Amounts) {
	c.publish(ctx, log, events.TransferOutFailedEvent{
		Cashable: residual.Cashable,
		Promo:    residual.Promo,
		NonCash:  residual.NonCash,
		TraceID:  ts.TraceID,
	})
}
