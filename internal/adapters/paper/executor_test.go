package paper_test

import (
	"context"
	"sync"
	"testing"

	"github.com/alejandrodnm/weatherbot/internal/adapters/paper"
	"github.com/alejandrodnm/weatherbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type books struct {
	mu    sync.Mutex
	books map[string]domain.OrderBook
}

func (b *books) set(token string, asks ...domain.BookEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.books == nil {
		b.books = make(map[string]domain.OrderBook)
	}
	b.books[token] = domain.OrderBook{TokenID: token, Asks: asks}
}

func (b *books) Midpoint(context.Context, string) (float64, error) {
	return 0, domain.ErrDataUnavailable
}

func (b *books) OrderBook(_ context.Context, token string) (domain.OrderBook, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ob, ok := b.books[token]
	if !ok {
		return domain.OrderBook{}, domain.ErrDataUnavailable
	}
	return ob, nil
}

func order(token string, price, size float64) domain.PlaceOrderRequest {
	return domain.PlaceOrderRequest{MarketID: "m1", TokenID: token, Side: domain.SideYes, Price: price, Size: size}
}

func TestPlace_FillsImmediatelyWhenBookIsDeep(t *testing.T) {
	b := &books{}
	b.set("yes", domain.BookEntry{Price: 0.45, Size: 100})
	ex := paper.New(b, 100)
	ctx := context.Background()

	id, err := ex.Place(ctx, order("yes", 0.46, 9))
	require.NoError(t, err)

	o, err := ex.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFilled, o.Status)
	assert.InDelta(t, 9, o.Filled, 1e-9)
	assert.InDelta(t, 20, o.FilledShares, 1e-9)
	assert.InDelta(t, 0.45, o.AvgPrice(), 1e-9)

	bal, _ := ex.Balance(ctx)
	assert.InDelta(t, 91, bal, 1e-9)

	holdings, _ := ex.Positions(ctx)
	require.Len(t, holdings, 1)
	assert.InDelta(t, 20, holdings[0].Shares, 1e-9)
}

func TestPlace_PartialFillThenNewLiquidity(t *testing.T) {
	b := &books{}
	b.set("yes", domain.BookEntry{Price: 0.40, Size: 10}, domain.BookEntry{Price: 0.60, Size: 100})
	ex := paper.New(b, 100)
	ctx := context.Background()

	id, err := ex.Place(ctx, order("yes", 0.46, 10))
	require.NoError(t, err)

	o, _ := ex.Status(ctx, id)
	assert.Equal(t, domain.OrderPartiallyFilled, o.Status)
	assert.InDelta(t, 4, o.Filled, 1e-9, "solo el nivel de 0.40 está dentro del límite")

	// Re-poll sin cambios en el book: el nivel ya consumido no vuelve a llenar.
	o, _ = ex.Status(ctx, id)
	assert.InDelta(t, 4, o.Filled, 1e-9)

	b.set("yes", domain.BookEntry{Price: 0.40, Size: 10}, domain.BookEntry{Price: 0.45, Size: 100})
	o, _ = ex.Status(ctx, id)
	assert.Equal(t, domain.OrderFilled, o.Status)
	assert.InDelta(t, 10, o.Filled, 1e-9)
}

func TestPlace_InsufficientBalance(t *testing.T) {
	ex := paper.New(&books{}, 5)
	_, err := ex.Place(context.Background(), order("yes", 0.5, 6))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestPlace_RejectsInvalidOrders(t *testing.T) {
	ex := paper.New(&books{}, 100)
	for _, req := range []domain.PlaceOrderRequest{order("yes", 0, 5), order("yes", 1, 5), order("yes", 0.5, 0)} {
		_, err := ex.Place(context.Background(), req)
		assert.ErrorIs(t, err, domain.ErrOrderRejected)
	}
}

func TestCancel_RefundsRemainder(t *testing.T) {
	b := &books{}
	b.set("yes", domain.BookEntry{Price: 0.40, Size: 5})
	ex := paper.New(b, 50)
	ctx := context.Background()

	id, err := ex.Place(ctx, order("yes", 0.42, 10))
	require.NoError(t, err)

	ok, err := ex.Cancel(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	o, _ := ex.Status(ctx, id)
	assert.Equal(t, domain.OrderCanceled, o.Status)
	assert.InDelta(t, 2, o.Filled, 1e-9)

	bal, _ := ex.Balance(ctx)
	assert.InDelta(t, 48, bal, 1e-9)

	ok, err = ex.Cancel(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "una orden terminal no se cancela dos veces")
}

func TestStatus_NoBookKeepsOrderOpen(t *testing.T) {
	ex := paper.New(&books{}, 100)
	id, err := ex.Place(context.Background(), order("missing", 0.5, 5))
	require.NoError(t, err)

	o, err := ex.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPending, o.Status)
}

func TestStatus_UnknownOrder(t *testing.T) {
	ex := paper.New(&books{}, 100)
	_, err := ex.Status(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestRedeem_WinPaysOutShares(t *testing.T) {
	b := &books{}
	b.set("yes", domain.BookEntry{Price: 0.45, Size: 100})
	ex := paper.New(b, 9)
	ctx := context.Background()

	_, err := ex.Place(ctx, order("yes", 0.46, 9))
	require.NoError(t, err)
	bal, _ := ex.Balance(ctx)
	require.InDelta(t, 0, bal, 1e-9)

	payout, err := ex.Redeem(ctx, "yes", 20, true)
	require.NoError(t, err)
	assert.InDelta(t, 20, payout, 1e-9)
	bal, _ = ex.Balance(ctx)
	assert.InDelta(t, 20, bal, 1e-9)

	hs, _ := ex.Positions(ctx)
	assert.Empty(t, hs)
}

func TestRedeem_LossDropsHoldingWithoutPayout(t *testing.T) {
	b := &books{}
	b.set("no", domain.BookEntry{Price: 0.40, Size: 100})
	ex := paper.New(b, 10)
	ctx := context.Background()

	_, err := ex.Place(ctx, order("no", 0.41, 4))
	require.NoError(t, err)

	payout, err := ex.Redeem(ctx, "no", 10, false)
	require.NoError(t, err)
	assert.Equal(t, 0.0, payout)
	bal, _ := ex.Balance(ctx)
	assert.InDelta(t, 6, bal, 1e-9)
	hs, _ := ex.Positions(ctx)
	assert.Empty(t, hs)

	_, err = ex.Redeem(ctx, "no", 10, false)
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestWithPositions_RestoredHoldingsRedeem(t *testing.T) {
	ex := paper.New(&books{}, 50, paper.WithPositions([]domain.Position{
		{ID: "p1", TokenID: "yes", Size: 5, Shares: 10},
		{ID: "p2", TokenID: "yes", Size: 3, Shares: 5},
	}))
	ctx := context.Background()

	hs, _ := ex.Positions(ctx)
	require.Len(t, hs, 1)
	assert.InDelta(t, 15, hs[0].Shares, 1e-9)
	assert.InDelta(t, 8.0/15, hs[0].AvgPrice, 1e-9)

	payout, err := ex.Redeem(ctx, "yes", 10, true)
	require.NoError(t, err)
	assert.InDelta(t, 10, payout, 1e-9)
	bal, _ := ex.Balance(ctx)
	assert.InDelta(t, 60, bal, 1e-9)
	hs, _ = ex.Positions(ctx)
	require.Len(t, hs, 1)
	assert.InDelta(t, 5, hs[0].Shares, 1e-9)
}
