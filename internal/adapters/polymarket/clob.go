package polymarket

import (
	"cmp"
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"

	"github.com/alejandrodnm/weatherbot/internal/domain"
)

const (
	midpointPath = "/midpoint"
	bookPath     = "/book"
)

// Midpoint devuelve el precio medio del token según el CLOB.
func (c *Client) Midpoint(ctx context.Context, tokenID string) (float64, error) {
	var resp midpointResponse
	u := c.clobBase + midpointPath + "?token_id=" + url.QueryEscape(tokenID)
	if err := c.http.Get(ctx, c.pricesLimiter, u, &resp); err != nil {
		return 0, fmt.Errorf("clob.Midpoint: %w", err)
	}
	mid, err := strconv.ParseFloat(resp.Mid, 64)
	if err != nil || mid <= 0 || mid >= 1 {
		return 0, fmt.Errorf("clob.Midpoint: %s: invalid mid %q: %w", tokenID, resp.Mid, domain.ErrDataUnavailable)
	}
	return mid, nil
}

// OrderBook devuelve el libro del token con bids y asks ordenados.
func (c *Client) OrderBook(ctx context.Context, tokenID string) (domain.OrderBook, error) {
	var resp orderBookResponse
	u := c.clobBase + bookPath + "?token_id=" + url.QueryEscape(tokenID)
	if err := c.http.Get(ctx, c.booksLimiter, u, &resp); err != nil {
		return domain.OrderBook{}, fmt.Errorf("clob.OrderBook: %w", err)
	}
	return toBook(tokenID, resp), nil
}

// toBook ordena cada lado por mejor precio; el CLOB no garantiza el orden.
func toBook(tokenID string, r orderBookResponse) domain.OrderBook {
	book := domain.OrderBook{
		TokenID: cmp.Or(r.AssetID, tokenID),
		Bids:    levels(r.Bids),
		Asks:    levels(r.Asks),
	}
	slices.SortFunc(book.Bids, func(a, b domain.BookEntry) int { return cmp.Compare(b.Price, a.Price) })
	slices.SortFunc(book.Asks, func(a, b domain.BookEntry) int { return cmp.Compare(a.Price, b.Price) })
	return book
}

// levels descarta niveles ilegibles, vacíos o con precio fuera de (0,1).
func levels(raw []bookEntryRaw) []domain.BookEntry {
	out := make([]domain.BookEntry, 0, len(raw))
	for _, r := range raw {
		price, perr := strconv.ParseFloat(r.Price, 64)
		size, serr := strconv.ParseFloat(r.Size, 64)
		if perr != nil || serr != nil || price <= 0 || price >= 1 || size <= 0 {
			continue
		}
		out = append(out, domain.BookEntry{Price: price, Size: size})
	}
	return out
}
