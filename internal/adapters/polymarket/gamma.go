package polymarket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/alejandrodnm/weatherbot/internal/domain"
)

const (
	gammaMarketsPath = "/markets"
	gammaPageSize    = 100
	gammaMaxPages    = 20
	defaultTag       = "weather"
)

// Discover devuelve los mercados de clima activos con criterios parseados.
// Los mercados que no se pueden parsear se omiten; solo falla si Gamma no
// responde en la primera página.
func (c *Client) Discover(ctx context.Context) ([]domain.MarketCriteria, error) {
	now := c.now().UTC()
	var (
		out                  []domain.MarketCriteria
		total, unparsed, old int
	)

	for page := 0; page < gammaMaxPages; page++ {
		q := url.Values{}
		q.Set("tag_slug", c.tag)
		q.Set("active", "true")
		q.Set("closed", "false")
		q.Set("limit", strconv.Itoa(gammaPageSize))
		q.Set("offset", strconv.Itoa(page*gammaPageSize))

		var resp []gammaMarket
		if err := c.http.Get(ctx, c.gammaLimiter, c.gammaBase+gammaMarketsPath+"?"+q.Encode(), &resp); err != nil {
			if page == 0 {
				return nil, fmt.Errorf("gamma.Discover: %w", err)
			}
			slog.Warn("gamma page failed, using partial results", "page", page, "err", err)
			break
		}

		for _, gm := range resp {
			total++
			if gm.Closed || !gm.Active {
				continue
			}
			m, err := parseCriteria(gm, now)
			if err != nil {
				unparsed++
				if !errors.Is(err, domain.ErrParseFailure) {
					slog.Warn("gamma: unexpected parse error", "market", gm.ID, "err", err)
				}
				slog.Debug("gamma: skipping market", "market", gm.ID, "question", gm.Question, "err", err)
				continue
			}
			if !m.Active(now) {
				old++
				continue
			}
			out = append(out, m)
		}

		if len(resp) < gammaPageSize {
			break
		}
	}

	slog.Debug("gamma discovery complete",
		"listed", total,
		"weather", len(out),
		"unparsed", unparsed,
		"resolved", old,
	)
	return out, nil
}
