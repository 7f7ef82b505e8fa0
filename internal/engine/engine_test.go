package engine

import (
	"context"
	"testing"

	"exchange/internal/book"
	"exchange/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingStore wraps Memory to count saves per side and optionally fail
// them.
type recordingStore struct {
	*store.Memory
	saves    map[book.Side]int
	failSave bool
}

func newRecordingStore() *recordingStore {
	return &recordingStore{
		Memory: store.NewMemory(),
		saves:  make(map[book.Side]int),
	}
}

func (r *recordingStore) Save(ctx context.Context, side book.Side, orders []book.Order) error {
	if r.failSave {
		return store.ErrWriteFailed
	}
	r.saves[side]++
	return r.Memory.Save(ctx, side, orders)
}

func newTestEngine(t *testing.T) (*Engine, *recordingStore) {
	t.Helper()
	st := newRecordingStore()
	e, err := New(context.Background(), st)
	require.NoError(t, err)
	return e, st
}

func TestSubmitRestsOnEmptyBook(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	report, err := e.Submit(ctx, book.Buy, 10, 50)
	require.NoError(t, err)

	assert.Equal(t, book.Buy, report.Side)
	assert.Equal(t, int64(50), report.Price)
	assert.Equal(t, int64(10), report.Quantity)
	assert.Equal(t, int64(0), report.Executed)
	assert.Equal(t, book.Buy, book.SideOfID(report.ID))

	bids, asks := e.Snapshot()
	require.Len(t, bids, 1)
	assert.Empty(t, asks)
	assert.Equal(t, report.ID, bids[0].ID)

	// No crossing occurred, so only the bid side was written.
	assert.Equal(t, 1, st.saves[book.Buy])
	assert.Equal(t, 0, st.saves[book.Sell])
}

// Walks a sequence of fills: a small ask partially fills the best bid, a
// larger ask clears it and partially fills the next.
func TestMatchingWalk(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	first, err := e.Submit(ctx, book.Buy, 10, 50)
	require.NoError(t, err)
	second, err := e.Submit(ctx, book.Buy, 12, 52)
	require.NoError(t, err)

	// Ask for 5 at 49 crosses both bids; the 52 bid has priority and
	// absorbs everything, so the walk never touches the 50 bid.
	report, err := e.Submit(ctx, book.Sell, 5, 49)
	require.NoError(t, err)
	assert.Equal(t, int64(49), report.Price)
	assert.Equal(t, int64(5), report.Quantity)
	assert.Equal(t, int64(5), report.Executed)

	_, asks := e.Snapshot()
	assert.Empty(t, asks, "fully matched ask must not rest")

	best, err := e.Lookup(second.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), best.Executed)

	untouched, err := e.Lookup(first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), untouched.Executed)

	// Ask for 11 at 45: clears the 52 bid (7 open) and carries 4 into the
	// 50 bid, which ends partially filled.
	report, err = e.Submit(ctx, book.Sell, 11, 45)
	require.NoError(t, err)
	assert.Equal(t, int64(11), report.Executed)

	bids, asks := e.Snapshot()
	assert.Empty(t, asks)
	require.Len(t, bids, 1)
	assert.Equal(t, first.ID, bids[0].ID)
	assert.Equal(t, int64(4), bids[0].Executed)

	_, err = e.Lookup(second.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound, "consumed orders are unrecoverable")

	// Neither crossing submission rested, so the ask side was never saved.
	assert.Equal(t, 0, st.saves[book.Sell])
}

func TestFIFOAtEqualPrice(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	a, err := e.Submit(ctx, book.Buy, 4, 50)
	require.NoError(t, err)
	b, err := e.Submit(ctx, book.Buy, 8, 50)
	require.NoError(t, err)
	c, err := e.Submit(ctx, book.Buy, 7, 50)
	require.NoError(t, err)

	report, err := e.Submit(ctx, book.Sell, 10, 45)
	require.NoError(t, err)
	assert.Equal(t, int64(10), report.Executed)

	_, err = e.Lookup(a.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound, "oldest order consumed first")

	partial, err := e.Lookup(b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), partial.Executed)

	last, err := e.Lookup(c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), last.Executed, "walk stops after the partial fill")
}

func TestSubmitRestsLeftover(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Submit(ctx, book.Sell, 15, 60)
	require.NoError(t, err)

	// Buy 20 at 61 clears the ask and rests the remaining 5.
	report, err := e.Submit(ctx, book.Buy, 20, 61)
	require.NoError(t, err)
	assert.Equal(t, int64(15), report.Executed)

	bids, asks := e.Snapshot()
	assert.Empty(t, asks)
	require.Len(t, bids, 1)
	assert.Equal(t, int64(20), bids[0].Quantity)
	assert.Equal(t, int64(15), bids[0].Executed)
	assert.Equal(t, int64(5), bids[0].Open())
}

func TestQuantityAtPrefersBids(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	// Leave a bid at 61 with 5 open, then stack more bids around it.
	_, err := e.Submit(ctx, book.Sell, 15, 60)
	require.NoError(t, err)
	_, err = e.Submit(ctx, book.Buy, 20, 61)
	require.NoError(t, err)

	for _, o := range []struct{ qty, price int64 }{
		{10, 61}, {10, 25}, {15, 61}, {1, 61}, {20, 45},
	} {
		_, err := e.Submit(ctx, book.Buy, o.qty, o.price)
		require.NoError(t, err)
	}

	assert.Equal(t, int64(31), e.QuantityAt(61))
}

func TestQuantityAtFallsBackToAsks(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	for _, o := range []struct{ qty, price int64 }{
		{20, 100}, {10, 65}, {10, 80}, {15, 65}, {1, 70}, {20, 65},
	} {
		_, err := e.Submit(ctx, book.Sell, o.qty, o.price)
		require.NoError(t, err)
	}

	assert.Equal(t, int64(45), e.QuantityAt(65))
	assert.Equal(t, int64(0), e.QuantityAt(66))
}

func TestLookupUnknownID(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Lookup("unexisting-id")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	for _, tc := range []struct{ qty, price int64 }{
		{0, 50}, {-1, 50}, {10, 0}, {10, -5},
	} {
		_, err := e.Submit(ctx, book.Buy, tc.qty, tc.price)
		assert.ErrorIs(t, err, ErrInvalidOrder)
	}

	bids, asks := e.Snapshot()
	assert.Empty(t, bids)
	assert.Empty(t, asks)
}

func TestSaveFailureLeavesBooksUntouched(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	resting, err := e.Submit(ctx, book.Buy, 10, 50)
	require.NoError(t, err)

	st.failSave = true

	// A resting submission fails on its own-side save.
	_, err = e.Submit(ctx, book.Buy, 5, 40)
	assert.ErrorIs(t, err, store.ErrWriteFailed)

	// A crossing submission fails on the opposite-side save before any
	// in-memory mutation.
	_, err = e.Submit(ctx, book.Sell, 5, 45)
	assert.ErrorIs(t, err, store.ErrWriteFailed)

	bids, asks := e.Snapshot()
	require.Len(t, bids, 1)
	assert.Empty(t, asks)
	assert.Equal(t, int64(0), bids[0].Executed, "failed submission must not fill resting orders")

	got, err := e.Lookup(resting.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Executed)
}

func TestBooksReloadFromStore(t *testing.T) {
	st := newRecordingStore()
	ctx := context.Background()

	e, err := New(ctx, st)
	require.NoError(t, err)

	first, err := e.Submit(ctx, book.Buy, 10, 50)
	require.NoError(t, err)
	second, err := e.Submit(ctx, book.Buy, 8, 50)
	require.NoError(t, err)
	_, err = e.Submit(ctx, book.Sell, 4, 45)
	require.NoError(t, err)

	// A fresh engine over the same store sees the same committed state,
	// including arrival order at equal prices.
	reloaded, err := New(ctx, st)
	require.NoError(t, err)

	got, err := reloaded.Lookup(first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Executed)

	report, err := reloaded.Submit(ctx, book.Sell, 6, 45)
	require.NoError(t, err)
	assert.Equal(t, int64(6), report.Executed)

	_, err = reloaded.Lookup(first.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	next, err := reloaded.Lookup(second.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), next.Executed)
}
