package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/weatherbot/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Console implementa ports.EventSink escribiendo a un io.Writer.
// En modo tabla los snapshots de cartera se pintan con tablewriter;
// en modo compacto todo cabe en una línea por evento.
type Console struct {
	mu    sync.Mutex
	out   io.Writer
	table bool
	now   func() time.Time
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table, now: time.Now}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table, now: time.Now}
}

// Publish imprime el evento según su tipo. Tipos desconocidos se ignoran.
func (c *Console) Publish(_ context.Context, ev domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	at := ev.At
	if at.IsZero() {
		at = c.now()
	}
	ts := at.Local().Format("15:04:05")

	switch p := ev.Payload.(type) {
	case domain.ScanSummary:
		c.printScan(ts, p)
	case domain.TradeSignal:
		fmt.Fprintf(c.out, "[%s] TRADE %s %s @%.3f $%.2f edge %+.3f [%s] %s\n",
			ts, p.Side, p.MarketID, p.Price, p.Size, p.Edge, p.Tier, compactName(p.Question, 50))
	case domain.RiskStatus:
		c.printRisk(ts, p)
	case domain.Alert:
		fmt.Fprintf(c.out, "[%s] !! %s %s: %s\n", ts, p.Kind, p.MarketID, p.Message)
	case domain.PortfolioSnapshot:
		if c.table {
			c.printPortfolio(ts, p)
		} else {
			c.printPortfolioCompact(ts, p)
		}
	}
}

// printScan imprime lo esencial del ciclo en una línea.
func (c *Console) printScan(ts string, s domain.ScanSummary) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %d mkts → placed:%d", ts, s.Markets, s.Placed)

	keys := make([]string, 0, len(s.Skipped))
	for k := range s.Skipped {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		sb.WriteString(" | skip")
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s:%d", k, s.Skipped[k])
		}
	}
	fmt.Fprintf(&sb, " (%s)", s.Duration.Round(time.Millisecond))
	fmt.Fprintln(c.out, sb.String())
}

func (c *Console) printRisk(ts string, r domain.RiskStatus) {
	if r.Halted {
		fmt.Fprintf(c.out, "[%s] !! TRADING HALTED (%s): %s | daily $%.2f weekly $%.2f monthly $%.2f\n",
			ts, r.Reason, r.Detail, r.Metrics.Daily.PnL, r.Metrics.Weekly.PnL, r.Metrics.Monthly.PnL)
		return
	}
	fmt.Fprintf(c.out, "[%s] >> trading resumed (%s window cleared)\n", ts, r.Window)
}

func (c *Console) printPortfolioCompact(ts string, p domain.PortfolioSnapshot) {
	halt := ""
	if p.Halted {
		halt = " HALTED"
	}
	fmt.Fprintf(c.out, "[%s] bank $%.2f | exp $%.2f (%.0f%%) | %d pos %d open | pnl d:$%.2f w:$%.2f m:$%.2f tot:$%.2f%s\n",
		ts, p.Bankroll, p.TotalExposure, pct(p.TotalExposure, p.Bankroll),
		p.Positions, p.OpenOrders, p.DailyPnL, p.WeeklyPnL, p.MonthlyPnL, p.TotalPnL, halt)
}

// printPortfolio imprime la cartera con el desglose por cluster y por fecha.
func (c *Console) printPortfolio(ts string, p domain.PortfolioSnapshot) {
	fmt.Fprintf(c.out, "\n[%s] PORTFOLIO  bankroll $%.2f  exposure $%.2f (%.1f%%)  positions %d  open orders %d\n",
		ts, p.Bankroll, p.TotalExposure, pct(p.TotalExposure, p.Bankroll), p.Positions, p.OpenOrders)

	pnl := tablewriter.NewWriter(c.out)
	pnl.Header("Daily", "Weekly", "Monthly", "Total", "Status")
	status := "OK"
	if p.Halted {
		status = "HALTED"
	}
	pnl.Append(money(p.DailyPnL), money(p.WeeklyPnL), money(p.MonthlyPnL), money(p.TotalPnL), status)
	pnl.Render()

	if len(p.ClusterExposure) == 0 && len(p.DateExposure) == 0 {
		return
	}
	exp := tablewriter.NewWriter(c.out)
	exp.Header("Bucket", "Key", "Exposure", "% bank")
	for _, k := range sortedKeys(p.ClusterExposure) {
		v := p.ClusterExposure[k]
		exp.Append("cluster", k, money(v), fmt.Sprintf("%.1f%%", pct(v, p.Bankroll)))
	}
	for _, k := range sortedKeys(p.DateExposure) {
		v := p.DateExposure[k]
		exp.Append("date", k, money(v), fmt.Sprintf("%.1f%%", pct(v, p.Bankroll)))
	}
	exp.Render()
}

// PrintTrades imprime el historial reciente de trades, más recientes primero.
func (c *Console) PrintTrades(trades []domain.TradeRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(trades) == 0 {
		fmt.Fprintln(c.out, "\n  No trades recorded yet.")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Time", "Market", "Side", "Price", "Size", "Filled", "Status", "Edge", "Prob", "Tier")
	var filled float64
	for _, t := range trades {
		table.Append(
			t.RecordedAt.Local().Format("01-02 15:04"),
			compactName(marketLabel(t), 38),
			string(t.Side),
			fmt.Sprintf("%.3f", t.Price),
			money(t.Size),
			money(t.Filled),
			string(t.Status),
			fmt.Sprintf("%+.3f", t.Edge),
			fmt.Sprintf("%.3f", t.ForecastProb),
			string(t.Tier),
		)
		if t.Status == domain.OrderFilled || t.Status == domain.OrderPartiallyFilled {
			filled += t.Filled
		}
	}
	table.Render()
	fmt.Fprintf(c.out, "  %d records | filled $%.2f\n\n", len(trades), filled)
}

// --- helpers ---

func marketLabel(t domain.TradeRecord) string {
	if t.Question != "" {
		return t.Question
	}
	return t.MarketID
}

func compactName(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := s[:maxLen]
	if idx := strings.LastIndex(cut, " "); idx > maxLen/2 {
		cut = cut[:idx]
	}
	return cut + "…"
}

func money(v float64) string {
	if v < 0 {
		return fmt.Sprintf("-$%.2f", -v)
	}
	return fmt.Sprintf("$%.2f", v)
}

func pct(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return part / whole * 100
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
