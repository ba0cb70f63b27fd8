// Package paper simula la ejecución de órdenes contra los orderbooks reales
// del CLOB sin mover fondos. Implementa ports.OrderExecutor.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/weatherbot/internal/domain"
	"github.com/alejandrodnm/weatherbot/internal/ports"
	"github.com/google/uuid"
)

const fillEpsilon = 1e-9

// Executor mantiene un balance virtual y llena órdenes barriendo los asks
// del book hasta el precio límite. Cada nivel del book se consume una sola
// vez por orden, así un poll posterior solo llena con liquidez nueva.
type Executor struct {
	books ports.PriceFeed
	now   func() time.Time

	mu       sync.Mutex
	balance  float64
	orders   map[string]*virtualOrder
	holdings map[string]*domain.Holding
}

type virtualOrder struct {
	order domain.Order
	taken map[float64]float64 // precio → shares ya consumidas
}

// Option configura el Executor.
type Option func(*Executor)

// WithClock fija el reloj de los timestamps de órdenes.
func WithClock(now func() time.Time) Option { return func(e *Executor) { e.now = now } }

// WithPositions carga como tenencias las posiciones restauradas tras un
// reinicio, para poder redimirlas cuando resuelvan.
func WithPositions(ps []domain.Position) Option {
	return func(e *Executor) {
		for _, p := range ps {
			e.hold(p.TokenID, p.Size, p.Shares)
		}
	}
}

// New crea un Executor con el balance inicial dado.
func New(books ports.PriceFeed, balance float64, opts ...Option) *Executor {
	e := &Executor{
		books:    books,
		now:      time.Now,
		balance:  balance,
		orders:   make(map[string]*virtualOrder),
		holdings: make(map[string]*domain.Holding),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Place bloquea el tamaño completo del balance y llena lo que el book permita.
func (e *Executor) Place(ctx context.Context, req domain.PlaceOrderRequest) (string, error) {
	if req.Price <= 0 || req.Price >= 1 {
		return "", fmt.Errorf("paper.Place: price %.4f outside (0,1): %w", req.Price, domain.ErrOrderRejected)
	}
	if req.Size <= 0 {
		return "", fmt.Errorf("paper.Place: size %.4f: %w", req.Size, domain.ErrOrderRejected)
	}

	now := e.now().UTC()
	e.mu.Lock()
	if req.Size > e.balance+fillEpsilon {
		bal := e.balance
		e.mu.Unlock()
		return "", fmt.Errorf("paper.Place: need $%.2f, have $%.2f: %w", req.Size, bal, domain.ErrInsufficientBalance)
	}
	e.balance -= req.Size
	id := uuid.New().String()
	e.orders[id] = &virtualOrder{
		order: domain.Order{
			ID:        id,
			MarketID:  req.MarketID,
			TokenID:   req.TokenID,
			Side:      req.Side,
			Price:     req.Price,
			Size:      req.Size,
			Status:    domain.OrderPending,
			CreatedAt: now,
			UpdatedAt: now,
		},
		taken: make(map[float64]float64),
	}
	e.mu.Unlock()

	slog.Info("paper: order placed", "order", id, "token", req.TokenID, "price", req.Price, "size", req.Size)
	e.fill(ctx, id)
	return id, nil
}

// Status intenta llenar el remanente con el book actual y devuelve la orden.
func (e *Executor) Status(ctx context.Context, orderID string) (domain.Order, error) {
	e.fill(ctx, orderID)

	e.mu.Lock()
	defer e.mu.Unlock()
	vo, ok := e.orders[orderID]
	if !ok {
		return domain.Order{}, fmt.Errorf("paper.Status: unknown order %s: %w", orderID, domain.ErrDataUnavailable)
	}
	return vo.order, nil
}

// Cancel cancela el remanente y libera su colateral.
func (e *Executor) Cancel(_ context.Context, orderID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	vo, ok := e.orders[orderID]
	if !ok {
		return false, fmt.Errorf("paper.Cancel: unknown order %s: %w", orderID, domain.ErrDataUnavailable)
	}
	if vo.order.Status.Terminal() {
		return false, nil
	}
	e.balance += vo.order.Remaining()
	vo.order.Status = domain.OrderCanceled
	vo.order.UpdatedAt = e.now().UTC()
	slog.Info("paper: order canceled", "order", orderID, "filled", vo.order.Filled, "size", vo.order.Size)
	return true, nil
}

// Positions devuelve las tenencias ordenadas por token.
func (e *Executor) Positions(context.Context) ([]domain.Holding, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Holding, 0, len(e.holdings))
	for _, h := range e.holdings {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out, nil
}

// Redeem liquida tokens de un mercado resuelto: $1 por share si ganó, nada
// si perdió. La tenencia se reduce en ambos casos.
func (e *Executor) Redeem(_ context.Context, tokenID string, shares float64, won bool) (float64, error) {
	if shares <= 0 {
		return 0, fmt.Errorf("paper.Redeem: shares %.4f: %w", shares, domain.ErrOrderRejected)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.holdings[tokenID]
	if !ok {
		return 0, fmt.Errorf("paper.Redeem: no holding for %s: %w", tokenID, domain.ErrDataUnavailable)
	}
	shares = min(shares, h.Shares)
	h.Shares -= shares
	if h.Shares <= fillEpsilon {
		delete(e.holdings, tokenID)
	}

	var payout float64
	if won {
		payout = shares
		e.balance += payout
	}
	slog.Info("paper: redeemed", "token", tokenID, "shares", fmt.Sprintf("%.2f", shares), "won", won, "payout", fmt.Sprintf("$%.2f", payout))
	return payout, nil
}

// Balance devuelve el USDC libre (sin contar colateral bloqueado).
func (e *Executor) Balance(context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance, nil
}

// fill barre los asks con precio <= límite contra el remanente de la orden.
func (e *Executor) fill(ctx context.Context, orderID string) {
	e.mu.Lock()
	vo, ok := e.orders[orderID]
	if !ok || vo.order.Status.Terminal() {
		e.mu.Unlock()
		return
	}
	token := vo.order.TokenID
	e.mu.Unlock()

	book, err := e.books.OrderBook(ctx, token)
	if err != nil {
		slog.Debug("paper: no book, order stays open", "order", orderID, "err", err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if vo.order.Status.Terminal() {
		return
	}

	// Solo la liquidez no consumida por esta orden cuenta.
	avail := domain.OrderBook{TokenID: book.TokenID}
	for _, a := range book.Asks {
		if left := a.Size - vo.taken[a.Price]; left > fillEpsilon {
			avail.Asks = append(avail.Asks, domain.BookEntry{Price: a.Price, Size: left})
		}
	}
	var spent, shares float64
	for _, t := range avail.Takes(vo.order.Price, vo.order.Remaining()) {
		vo.taken[t.Price] += t.Shares
		spent += t.Cost
		shares += t.Shares
	}
	if spent <= fillEpsilon {
		return
	}

	o := &vo.order
	o.Filled += spent
	o.FilledShares += shares
	o.UpdatedAt = e.now().UTC()
	if o.Remaining() <= fillEpsilon {
		o.Status = domain.OrderFilled
	} else {
		o.Status = domain.OrderPartiallyFilled
	}

	e.hold(o.TokenID, spent, shares)

	slog.Info("paper: fill",
		"order", o.ID,
		"spent", fmt.Sprintf("$%.2f", spent),
		"shares", fmt.Sprintf("%.2f", shares),
		"avg", fmt.Sprintf("%.4f", o.AvgPrice()),
		"status", o.Status,
	)
}

// hold suma shares compradas por cost a la tenencia del token. Requiere mu
// tomado, salvo desde New.
func (e *Executor) hold(tokenID string, cost, shares float64) {
	if shares <= 0 {
		return
	}
	h, ok := e.holdings[tokenID]
	if !ok {
		h = &domain.Holding{TokenID: tokenID}
		e.holdings[tokenID] = h
	}
	total := h.AvgPrice*h.Shares + cost
	h.Shares += shares
	h.AvgPrice = total / h.Shares
}
