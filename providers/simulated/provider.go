/*
Package simulated implements transfer provider which doesn't talk to any
device, it is used by the daemon in demo mode and by tests.

The provider keeps per transaction record of the amounts it has moved so
repeated Transfer calls for the same transaction don't move the funds twice
and Recover can tell whether the transaction was already completed. With
WithStore the records survive restart of the process, the same way device
keeps its own journal.
*/
package simulated

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alphabill-org/transferout/bank"
	"github.com/alphabill-org/transferout/keyvaluedb"
	"github.com/alphabill-org/transferout/logger"
	"github.com/alphabill-org/transferout/transfer"
	"github.com/alphabill-org/transferout/types"
)

type (
	Provider struct {
		id     types.ProviderID
		ledger *bank.Ledger
		db     keyvaluedb.DB
		log    *slog.Logger

		active atomic.Int32

		mu      sync.Mutex
		limit   int64
		delay   time.Duration
		records map[uuid.UUID]*record
		// injected failures, consumed one per call
		transferFailures []failure
		recoverFailures  []error
	}

	record struct {
		Moved types.Amounts `json:"moved"`
		// part of Moved which has been reported to the caller
		Reported types.Amounts `json:"reported"`
	}

	failure struct {
		err error
		// funds are moved before the error is returned
		afterMove bool
	}

	Option func(*Provider)
)

/*
WithLimit sets the maximum total amount single call moves, requests exceeding
the limit are transferred partially. Zero means no limit.
*/
func WithLimit(limit int64) Option {
	return func(p *Provider) {
		p.limit = limit
	}
}

func WithDelay(d time.Duration) Option {
	return func(p *Provider) {
		p.delay = d
	}
}

// WithLedger makes the provider debit the ledger for transfers which affect balance.
func WithLedger(l *bank.Ledger) Option {
	return func(p *Provider) {
		p.ledger = l
	}
}

/*
WithStore makes the provider persist its transaction records in "db", records
are keyed by provider id so multiple providers may share the db.
*/
func WithStore(db keyvaluedb.DB) Option {
	return func(p *Provider) {
		p.db = db
	}
}

func New(id types.ProviderID, log *slog.Logger, opts ...Option) (*Provider, error) {
	if id == "" {
		return nil, errors.New("provider id must not be empty")
	}
	if log == nil {
		return nil, errors.New("logger is nil")
	}
	p := &Provider{
		id:      id,
		log:     log.With(logger.Provider(id.String())),
		records: make(map[uuid.UUID]*record),
	}
	for _, o := range opts {
		o(p)
	}
	if p.limit < 0 {
		return nil, fmt.Errorf("limit must not be negative, got %d", p.limit)
	}
	if p.delay < 0 {
		return nil, fmt.Errorf("delay must not be negative, got %s", p.delay)
	}
	return p, nil
}

func (p *Provider) ID() types.ProviderID { return p.id }

func (p *Provider) Active() bool {
	return p.active.Load() > 0
}

/*
FailNext makes the next Transfer call return "err" without moving funds.
*/
func (p *Provider) FailNext(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transferFailures = append(p.transferFailures, failure{err: err})
}

/*
FailNextAfterMove makes the next Transfer call move the funds but return
"err" instead of the result, as if the confirmation from the device was lost.
*/
func (p *Provider) FailNextAfterMove(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transferFailures = append(p.transferFailures, failure{err: err, afterMove: true})
}

// FailNextRecover makes the next Recover call return "err".
func (p *Provider) FailNextRecover(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recoverFailures = append(p.recoverFailures, err)
}

func (p *Provider) SetLimit(limit int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limit = limit
}

// Moved returns the amounts the provider has moved for the transaction.
func (p *Provider) Moved(txID uuid.UUID) types.Amounts {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, err := p.lookup(txID); err == nil && r != nil {
		return r.Moved
	}
	return types.Amounts{}
}

func (p *Provider) Transfer(ctx context.Context, req transfer.ProviderRequest) (types.TransferResult, error) {
	p.active.Add(1)
	defer p.active.Add(-1)

	if err := p.wait(ctx); err != nil {
		return types.FailedResult(), err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	rec, err := p.lookup(req.TransactionID)
	if err != nil {
		return types.FailedResult(), err
	}
	if rec != nil {
		// repeated call for the same transaction, report what has been moved
		// earlier but not reported yet, never move again. The transaction is
		// done as far as this provider is concerned so the call succeeds
		// even when there is nothing new to report.
		p.log.DebugContext(ctx, "repeated transfer call", logger.TxID(req.TransactionID))
		unreported := req.Amounts.Sub(req.Amounts.Sub(rec.Moved.Sub(rec.Reported)))
		rec.Reported = rec.Moved
		res := types.TransferResult{Transferred: unreported, ZeroTotalOk: true}
		return res, p.save(req.TransactionID, rec)
	}

	var f failure
	if len(p.transferFailures) > 0 {
		f, p.transferFailures = p.transferFailures[0], p.transferFailures[1:]
		if !f.afterMove {
			return types.FailedResult(), f.err
		}
	}

	if req.Amounts.IsZero() {
		if err := p.save(req.TransactionID, &record{}); err != nil {
			return types.FailedResult(), err
		}
		return types.ZeroTotalResult(), nil
	}

	amounts := clamp(req.Amounts, p.limit)
	if err := p.debit(req.Reason, amounts); err != nil {
		return types.FailedResult(), err
	}
	rec = &record{Moved: amounts}
	if f.err == nil {
		rec.Reported = amounts
	}
	p.log.InfoContext(ctx, fmt.Sprintf("transferred %s", amounts), logger.TxID(req.TransactionID), logger.TraceID(req.TraceID))
	if err := p.save(req.TransactionID, rec); err != nil {
		// funds have been moved, they are reported together with the error
		return types.TransferResult{Transferred: amounts, IsPartial: amounts != req.Amounts}, err
	}

	if f.err != nil {
		return types.FailedResult(), f.err
	}
	return types.TransferResult{Transferred: amounts, IsPartial: amounts != req.Amounts}, nil
}

func (p *Provider) CanRecover(txID uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, err := p.lookup(txID)
	if err != nil {
		p.log.Warn("reading transaction record", logger.Error(err), logger.TxID(txID))
		return false
	}
	return rec != nil
}

/*
Recover completes the residual of the transaction. Funds the provider moved
but never reported are counted so they are not moved again.
*/
func (p *Provider) Recover(ctx context.Context, ts *types.TransactionState) (bool, error) {
	p.active.Add(1)
	defer p.active.Add(-1)

	if err := p.wait(ctx); err != nil {
		return false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.recoverFailures) > 0 {
		var err error
		err, p.recoverFailures = p.recoverFailures[0], p.recoverFailures[1:]
		return false, err
	}

	rec, err := p.lookup(ts.TransactionID)
	if err != nil || rec == nil {
		return false, err
	}
	unreported := rec.Moved.Sub(rec.Reported)
	remaining := ts.Residual().Sub(unreported)
	if remaining.IsZero() {
		p.log.InfoContext(ctx, "transaction was already completed", logger.TxID(ts.TransactionID))
		rec.Reported = rec.Moved
		return true, p.save(ts.TransactionID, rec)
	}

	amounts := clamp(remaining, p.limit)
	if err := p.debit(ts.Reason, amounts); err != nil {
		return false, err
	}
	moved, err := rec.Moved.Add(amounts)
	if err != nil {
		return false, transfer.Fatal(err)
	}
	rec.Moved = moved
	if amounts != remaining {
		p.log.InfoContext(ctx, fmt.Sprintf("recovery moved %s of %s", amounts, remaining), logger.TxID(ts.TransactionID))
		return false, p.save(ts.TransactionID, rec)
	}
	rec.Reported = rec.Moved
	p.log.InfoContext(ctx, fmt.Sprintf("recovered, moved %s", amounts), logger.TxID(ts.TransactionID))
	return true, p.save(ts.TransactionID, rec)
}

func (p *Provider) recordKey(txID uuid.UUID) []byte {
	return append([]byte("s/"+p.id.String()+"/"), txID[:]...)
}

// lookup returns nil record when the transaction is unknown. Must be called holding p.mu.
func (p *Provider) lookup(txID uuid.UUID) (*record, error) {
	if rec, ok := p.records[txID]; ok {
		return rec, nil
	}
	if p.db == nil {
		return nil, nil
	}
	rec := &record{}
	found, err := p.db.Get(p.recordKey(txID), rec)
	if err != nil {
		return nil, fmt.Errorf("reading record of transaction %s: %w", txID, err)
	}
	if !found {
		return nil, nil
	}
	p.records[txID] = rec
	return rec, nil
}

func (p *Provider) save(txID uuid.UUID, rec *record) error {
	p.records[txID] = rec
	if p.db == nil {
		return nil
	}
	if err := p.db.Put(p.recordKey(txID), rec); err != nil {
		return fmt.Errorf("persisting record of transaction %s: %w", txID, err)
	}
	return nil
}

func (p *Provider) wait(ctx context.Context) error {
	p.mu.Lock()
	d := p.delay
	p.mu.Unlock()
	if d == 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (p *Provider) debit(reason types.TransferOutReason, amounts types.Amounts) error {
	if p.ledger == nil || !reason.AffectsBalance() {
		return nil
	}
	if err := p.ledger.Debit(amounts); err != nil {
		return transfer.Fatal(err)
	}
	return nil
}

/*
clamp returns "a" limited to total of "limit", classes are drained in the
order cashable, promo, noncash.
*/
func clamp(a types.Amounts, limit int64) types.Amounts {
	if limit <= 0 {
		return a
	}
	take := func(v int64) int64 {
		n := min(v, limit)
		limit -= n
		return n
	}
	return types.Amounts{
		Cashable: take(a.Cashable),
		Promo:    take(a.Promo),
		NonCash:  take(a.NonCash),
	}
}
