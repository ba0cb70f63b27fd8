package domain

// OrderBook is one token's CLOB book. Bids are sorted best (highest) first,
// asks best (lowest) first.
type OrderBook struct {
	TokenID string
	Bids    []BookEntry
	Asks    []BookEntry
}

// BookEntry is one price level; Size is in shares.
type BookEntry struct {
	Price float64
	Size  float64
}

// Take is the part of one ask level a buy consumes.
type Take struct {
	Price  float64
	Cost   float64 // USDC
	Shares float64
}

func top(levels []BookEntry) float64 {
	if len(levels) == 0 {
		return 0
	}
	return levels[0].Price
}

// BestBid is 0 on an empty side.
func (ob OrderBook) BestBid() float64 { return top(ob.Bids) }

// BestAsk is 0 on an empty side.
func (ob OrderBook) BestAsk() float64 { return top(ob.Asks) }

// Midpoint needs both sides; a one-sided book has no price and yields 0.
func (ob OrderBook) Midpoint() float64 {
	bid, ask := ob.BestBid(), ob.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Takes walks the asks priced at or below limit until usdc is spent.
func (ob OrderBook) Takes(limit, usdc float64) []Take {
	var out []Take
	left := usdc
	for _, a := range ob.Asks {
		if a.Price > limit || left <= 0 {
			break
		}
		cost := min(a.Price*a.Size, left)
		out = append(out, Take{Price: a.Price, Cost: cost, Shares: cost / a.Price})
		left -= cost
	}
	return out
}

// Sweep totals Takes: USDC spent and shares bought.
func (ob OrderBook) Sweep(limit, usdc float64) (spent, shares float64) {
	for _, t := range ob.Takes(limit, usdc) {
		spent += t.Cost
		shares += t.Shares
	}
	return spent, shares
}
