package transfer

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/transferout/events"
	testobserve "github.com/alphabill-org/transferout/internal/testutils/observability"
	"github.com/alphabill-org/transferout/keyvaluedb/memorydb"
	"github.com/alphabill-org/transferout/translog"
	"github.com/alphabill-org/transferout/txcoordinator"
	"github.com/alphabill-org/transferout/types"
)

type mockProvider struct {
	mu           sync.Mutex
	transfer     func(ctx context.Context, req ProviderRequest) (types.TransferResult, error)
	canRecover   func(txID uuid.UUID) bool
	recover      func(ctx context.Context, ts *types.TransactionState) (bool, error)
	calls        []ProviderRequest
	recoverCalls []*types.TransactionState
}

// succeeds moving everything it is asked for
func newMockProvider() *mockProvider {
	return &mockProvider{
		transfer: func(ctx context.Context, req ProviderRequest) (types.TransferResult, error) {
			return types.TransferResult{Transferred: req.Amounts}, nil
		},
	}
}

func mockResult(res types.TransferResult, err error) *mockProvider {
	return &mockProvider{
		transfer: func(ctx context.Context, req ProviderRequest) (types.TransferResult, error) {
			return res, err
		},
	}
}

func (p *mockProvider) Active() bool { return false }

func (p *mockProvider) Transfer(ctx context.Context, req ProviderRequest) (types.TransferResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()
	return p.transfer(ctx, req)
}

func (p *mockProvider) CanRecover(txID uuid.UUID) bool {
	if p.canRecover == nil {
		return false
	}
	return p.canRecover(txID)
}

func (p *mockProvider) Recover(ctx context.Context, ts *types.TransactionState) (bool, error) {
	p.mu.Lock()
	p.recoverCalls = append(p.recoverCalls, ts)
	p.mu.Unlock()
	return p.recover(ctx, ts)
}

func (p *mockProvider) Calls() []ProviderRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ProviderRequest(nil), p.calls...)
}

func (p *mockProvider) RecoverCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.recoverCalls)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) Publish(ctx context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func (r *eventRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type namedProvider struct {
	id   types.ProviderID
	p    Provider
	opts []RegisterOption
}

type testEnv struct {
	c      *Coordinator
	events *eventRecorder
	store  *translog.Store
	db     *memorydb.MemoryDB
	txc    *txcoordinator.InMemory
	obs    *testobserve.Observability
}

func newTestEnv(t *testing.T, providers []namedProvider, opts ...Option) *testEnv {
	t.Helper()
	reg, err := NewRegistry()
	require.NoError(t, err)
	for _, p := range providers {
		require.NoError(t, reg.Register(p.id, p.p, p.opts...))
	}

	env := &testEnv{
		events: &eventRecorder{},
		db:     memorydb.New(),
		txc:    txcoordinator.NewInMemory(),
		obs:    testobserve.WithPrometheus(t),
	}
	env.store, err = translog.New(env.db)
	require.NoError(t, err)
	env.c, err = NewCoordinator(reg, env.txc, env.store, env.events, env.obs, opts...)
	require.NoError(t, err)
	return env
}

// transfer starts the transfer and waits for it to finish
func (env *testEnv) transfer(t *testing.T, req *types.TransferRequest) {
	t.Helper()
	require.True(t, env.c.TransferOut(context.Background(), req))
	env.c.Wait()
	require.False(t, env.c.Busy())
}

func (env *testEnv) pending(t *testing.T) []*types.TransactionState {
	t.Helper()
	ts, err := env.store.Pending()
	require.NoError(t, err)
	return ts
}

func (env *testEnv) archived(t *testing.T) []*types.TransactionState {
	t.Helper()
	ts, err := env.store.Archived()
	require.NoError(t, err)
	return ts
}

func cashOut(t *testing.T, amount int64) *types.TransferRequest {
	t.Helper()
	req, err := types.NewSingleAccountRequest(uuid.New(), types.AccountCashable, amount, types.CashOut)
	require.NoError(t, err)
	return req
}
