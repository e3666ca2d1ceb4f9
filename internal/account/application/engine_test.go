package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/txengine/internal/account/domain"
	"github.com/wyfcoding/txengine/pkg/logger"
)

type sliceSource struct {
	msgs []domain.Transaction
	err  error
}

func (s sliceSource) Stream(ctx context.Context, out chan<- domain.Transaction) error {
	for _, msg := range s.msgs {
		select {
		case out <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

type memoryWriter struct {
	mu        sync.Mutex
	snapshots []domain.Snapshot
	failAfter int
	flushed   bool
}

var errWriterClosed = errors.New("writer closed")

func (w *memoryWriter) Write(_ context.Context, snap domain.Snapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failAfter > 0 && len(w.snapshots) >= w.failAfter {
		return errWriterClosed
	}
	w.snapshots = append(w.snapshots, snap)
	return nil
}

func (w *memoryWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushed = true
	return nil
}

func (w *memoryWriter) rendered() map[domain.ClientID]string {
	out := make(map[domain.ClientID]string)
	for client, s := range w.byClient() {
		out[client] = fmt.Sprintf("%s/%s/%s/%t", s.Available.StringFixed(4), s.Held.StringFixed(4), s.Total.StringFixed(4), s.Locked)
	}
	return out
}

func (w *memoryWriter) byClient() map[domain.ClientID]domain.Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[domain.ClientID]domain.Snapshot, len(w.snapshots))
	for _, s := range w.snapshots {
		out[s.Client] = s
	}
	return out
}

type countingRecorder struct {
	NopRecorder
	mu       sync.Mutex
	applied  int
	rejected map[string]int
	started  int
	stopped  int
	written  int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{rejected: make(map[string]int)}
}

func (r *countingRecorder) TransactionApplied(string) {
	r.mu.Lock()
	r.applied++
	r.mu.Unlock()
}

func (r *countingRecorder) TransactionRejected(_ string, reason string) {
	r.mu.Lock()
	r.rejected[reason]++
	r.mu.Unlock()
}

func (r *countingRecorder) AccountStarted() {
	r.mu.Lock()
	r.started++
	r.mu.Unlock()
}

func (r *countingRecorder) AccountStopped() {
	r.mu.Lock()
	r.stopped++
	r.mu.Unlock()
}

func (r *countingRecorder) SnapshotWritten() {
	r.mu.Lock()
	r.written++
	r.mu.Unlock()
}

func msg(t *testing.T, kind domain.Kind, client domain.ClientID, tx domain.TxID, amount string) domain.Transaction {
	t.Helper()
	var amt decimal.NullDecimal
	if amount != "" {
		amt = decimal.NewNullDecimal(decimal.RequireFromString(amount))
	}
	m, err := domain.NewTransaction(kind, client, tx, amt)
	require.NoError(t, err)
	return m
}

func assertSnapshot(t *testing.T, snap domain.Snapshot, available, held, total string, locked bool) {
	t.Helper()
	assert.Equal(t, available, snap.Available.StringFixed(4), "available")
	assert.Equal(t, held, snap.Held.StringFixed(4), "held")
	assert.Equal(t, total, snap.Total.StringFixed(4), "total")
	assert.Equal(t, locked, snap.Locked, "locked")
}

func runEngine(t *testing.T, opts Options, msgs []domain.Transaction) (*memoryWriter, Summary) {
	t.Helper()
	w := &memoryWriter{}
	summary, err := NewEngine(opts, nil).Run(context.Background(), sliceSource{msgs: msgs}, w)
	require.NoError(t, err)
	return w, summary
}

func TestEngine_EndToEndScenario(t *testing.T) {
	t.Parallel()

	w, summary := runEngine(t, DefaultOptions(), []domain.Transaction{
		msg(t, domain.KindDeposit, 1, 1, "10.0"),
		msg(t, domain.KindDeposit, 2, 2, "20.0"),
		msg(t, domain.KindDispute, 1, 1, ""),
		msg(t, domain.KindWithdrawal, 2, 3, "5.0"),
		msg(t, domain.KindChargeback, 1, 1, ""),
	})

	assert.Equal(t, 2, summary.Accounts)
	assert.Equal(t, 2, summary.Snapshots)
	assert.True(t, w.flushed)

	got := w.byClient()
	require.Len(t, got, 2)
	assertSnapshot(t, got[1], "0.0000", "0.0000", "0.0000", true)
	assertSnapshot(t, got[2], "15.0000", "0.0000", "15.0000", false)
}

func TestEngine_SameClientOrdering(t *testing.T) {
	t.Parallel()

	w, _ := runEngine(t, DefaultOptions(), []domain.Transaction{
		msg(t, domain.KindDeposit, 1, 1, "10.0"),
		msg(t, domain.KindWithdrawal, 1, 2, "5.0"),
	})
	assertSnapshot(t, w.byClient()[1], "5.0000", "0.0000", "5.0000", false)

	w, _ = runEngine(t, DefaultOptions(), []domain.Transaction{
		msg(t, domain.KindDeposit, 1, 1, "10.0"),
		msg(t, domain.KindWithdrawal, 1, 2, "5.0"),
		msg(t, domain.KindDispute, 1, 1, ""),
	})
	assertSnapshot(t, w.byClient()[1], "-5.0000", "10.0000", "5.0000", false)
}

func TestEngine_OneSnapshotPerReferencedClient(t *testing.T) {
	t.Parallel()

	w, summary := runEngine(t, DefaultOptions(), []domain.Transaction{
		msg(t, domain.KindDeposit, 3, 1, "1"),
		msg(t, domain.KindDeposit, 3, 2, "1"),
		msg(t, domain.KindDispute, 9, 77, ""),
		msg(t, domain.KindWithdrawal, 4, 3, "1"),
	})

	assert.Equal(t, 3, summary.Snapshots)
	got := w.byClient()
	require.Len(t, got, 3)
	assert.Contains(t, got, domain.ClientID(3))
	assert.Contains(t, got, domain.ClientID(4))
	assert.Contains(t, got, domain.ClientID(9))
	assert.NotContains(t, got, domain.ClientID(1))

	assertSnapshot(t, got[9], "0.0000", "0.0000", "0.0000", false)
	assertSnapshot(t, got[4], "0.0000", "0.0000", "0.0000", false)
}

func TestEngine_EmptyInput(t *testing.T) {
	t.Parallel()

	w, summary := runEngine(t, DefaultOptions(), nil)
	assert.Zero(t, summary.Accounts)
	assert.Empty(t, w.byClient())
	assert.True(t, w.flushed)
}

func TestEngine_CrossClientInterleavingIsIrrelevant(t *testing.T) {
	t.Parallel()

	clientA := []domain.Transaction{
		msg(t, domain.KindDeposit, 1, 1, "10"),
		msg(t, domain.KindWithdrawal, 1, 2, "3"),
		msg(t, domain.KindDispute, 1, 1, ""),
		msg(t, domain.KindResolve, 1, 1, ""),
	}
	clientB := []domain.Transaction{
		msg(t, domain.KindDeposit, 2, 3, "4"),
		msg(t, domain.KindDeposit, 2, 4, "6"),
		msg(t, domain.KindDispute, 2, 3, ""),
		msg(t, domain.KindChargeback, 2, 3, ""),
		msg(t, domain.KindDeposit, 2, 5, "100"),
	}

	sequential := append(append([]domain.Transaction{}, clientA...), clientB...)
	reversed := append(append([]domain.Transaction{}, clientB...), clientA...)
	var alternating []domain.Transaction
	for i := 0; i < len(clientB); i++ {
		if i < len(clientA) {
			alternating = append(alternating, clientA[i])
		}
		alternating = append(alternating, clientB[i])
	}

	opts := Options{InputBuffer: 1, AccountBuffer: 1, ResultBuffer: 1}
	want, _ := runEngine(t, opts, sequential)
	for _, order := range [][]domain.Transaction{reversed, alternating} {
		got, _ := runEngine(t, opts, order)
		assert.Equal(t, want.rendered(), got.rendered())
	}

	snaps := want.byClient()
	assertSnapshot(t, snaps[1], "7.0000", "0.0000", "7.0000", false)
	assertSnapshot(t, snaps[2], "6.0000", "0.0000", "6.0000", true)
}

func TestEngine_MatchesSequentialApplication(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	kinds := []domain.Kind{domain.KindDeposit, domain.KindDeposit, domain.KindWithdrawal, domain.KindDispute, domain.KindResolve, domain.KindChargeback}

	var stream []domain.Transaction
	for i := 0; i < 2000; i++ {
		client := domain.ClientID(rng.Intn(25) + 1)
		kind := kinds[rng.Intn(len(kinds))]
		amount := ""
		tx := domain.TxID(i + 1)
		if kind.RequiresAmount() {
			amount = decimal.New(int64(rng.Intn(100000)), -4).String()
		} else {
			tx = domain.TxID(rng.Intn(i+1) + 1)
		}
		stream = append(stream, msg(t, kind, client, tx, amount))
	}

	expected := make(map[domain.ClientID]*domain.Account)
	for _, m := range stream {
		acc, ok := expected[m.Client]
		if !ok {
			acc = domain.NewAccount(m.Client)
			expected[m.Client] = acc
		}
		_ = acc.Apply(m)
	}

	w, summary := runEngine(t, Options{InputBuffer: 4, AccountBuffer: 2, ResultBuffer: 1}, stream)
	require.Equal(t, len(expected), summary.Snapshots)

	got := w.byClient()
	for client, acc := range expected {
		want := acc.Snapshot()
		snap, ok := got[client]
		require.True(t, ok, "client %d", client)
		assert.True(t, want.Available.Equal(snap.Available), "client %d available", client)
		assert.True(t, want.Held.Equal(snap.Held), "client %d held", client)
		assert.Equal(t, want.Locked, snap.Locked, "client %d locked", client)
	}
}

func TestEngine_RecordsMetrics(t *testing.T) {
	t.Parallel()

	rec := newCountingRecorder()
	w := &memoryWriter{}
	_, err := NewEngine(DefaultOptions(), rec).Run(context.Background(), sliceSource{msgs: []domain.Transaction{
		msg(t, domain.KindDeposit, 1, 1, "1"),
		msg(t, domain.KindWithdrawal, 1, 2, "5"),
		msg(t, domain.KindDispute, 2, 9, ""),
	}}, w)
	require.NoError(t, err)

	assert.Equal(t, 1, rec.applied)
	assert.Equal(t, 1, rec.rejected["insufficient_funds"])
	assert.Equal(t, 1, rec.rejected["not_found"])
	assert.Equal(t, 2, rec.started)
	assert.Equal(t, 2, rec.stopped)
	assert.Equal(t, 2, rec.written)
}

func TestEngine_WriterFailureCancelsPipeline(t *testing.T) {
	t.Parallel()

	var stream []domain.Transaction
	for i := 0; i < 500; i++ {
		stream = append(stream, msg(t, domain.KindDeposit, domain.ClientID(i), domain.TxID(i), "1"))
	}

	w := &memoryWriter{failAfter: 3}
	done := make(chan error, 1)
	go func() {
		_, err := NewEngine(Options{InputBuffer: 1, AccountBuffer: 1, ResultBuffer: 1}, nil).
			Run(context.Background(), sliceSource{msgs: stream}, w)
		done <- err
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, errWriterClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop after writer failure")
	}
}

func TestEngine_SourceFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("read failed")
	w := &memoryWriter{}
	_, err := NewEngine(DefaultOptions(), nil).Run(context.Background(), sliceSource{
		msgs: []domain.Transaction{msg(t, domain.KindDeposit, 1, 1, "1")},
		err:  boom,
	}, w)
	require.ErrorIs(t, err, boom)
}

func TestRouter_FinishWaitsForEverySnapshot(t *testing.T) {
	t.Parallel()

	results := make(chan domain.Snapshot, 10)
	r := NewRouter(results, 1, nil)
	ctx := context.Background()

	for _, m := range []domain.Transaction{
		msg(t, domain.KindDeposit, 5, 1, "2"),
		msg(t, domain.KindDeposit, 6, 2, "3"),
		msg(t, domain.KindDeposit, 5, 3, "4"),
	} {
		require.NoError(t, r.Route(ctx, m))
	}
	assert.Equal(t, 2, r.Accounts())

	r.Finish()
	close(results)

	var clients []int
	for snap := range results {
		clients = append(clients, int(snap.Client))
		if snap.Client == 5 {
			assert.Equal(t, "6", snap.Total.String())
		}
	}
	sort.Ints(clients)
	assert.Equal(t, []int{5, 6}, clients)

	r.Finish()
	assert.ErrorIs(t, r.Route(ctx, msg(t, domain.KindDeposit, 5, 9, "1")), ErrRouterFinished)
}

func TestRouter_FinishDoesNotHangWhenCancelled(t *testing.T) {
	t.Parallel()

	results := make(chan domain.Snapshot)
	r := NewRouter(results, 4, nil)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, r.Route(ctx, msg(t, domain.KindDeposit, 1, 1, "1")))
	require.NoError(t, r.Route(ctx, msg(t, domain.KindDeposit, 2, 2, "1")))
	cancel()

	finished := make(chan struct{})
	go func() {
		r.Finish()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("Finish blocked on an unread results channel after cancellation")
	}
}

func TestAccountMachine_RejectionDoesNotAllocate(t *testing.T) {
	prev := logger.Get()
	logger.SetDefault(logger.New(io.Discard, logger.Config{Level: "info"}))
	t.Cleanup(func() { logger.SetDefault(prev) })

	m := newAccountMachine(1, 1, nil, NopRecorder{})
	ctx := context.Background()
	unknown := msg(t, domain.KindDispute, 1, 99, "")
	m.account.Locked = true
	locked := msg(t, domain.KindDeposit, 1, 2, "5")

	allocs := testing.AllocsPerRun(100, func() {
		m.apply(ctx, locked)
	})
	assert.Zero(t, allocs)

	m.account.Locked = false
	allocs = testing.AllocsPerRun(100, func() {
		m.apply(ctx, unknown)
	})
	assert.Zero(t, allocs)
	assert.True(t, m.account.Available.IsZero())
}
