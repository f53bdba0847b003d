package component

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/rovshanmuradov/solana-papertrader/internal/ledger"
	"github.com/rovshanmuradov/solana-papertrader/internal/pnl"
	"github.com/rovshanmuradov/solana-papertrader/internal/store"
	"github.com/rovshanmuradov/solana-papertrader/internal/ui/style"
)

func num(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

func shortMint(mint string) string {
	if len(mint) <= 12 {
		return mint
	}
	return mint[:6] + "…" + mint[len(mint)-4:]
}

// PositionsView renders the valuation of one book.
func PositionsView(book store.BookKind, sum pnl.Summary, sess store.Session) string {
	palette := style.DefaultPalette()
	title := lipgloss.NewStyle().Foreground(palette.Primary).Bold(true).
		Render(fmt.Sprintf("%s book", book))

	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n")

	if sum.NoNativePrice {
		b.WriteString("SOL price unavailable, positions not valued\n")
		return b.String()
	}

	t := NewTable().
		AddColumn("Token", 0, lipgloss.Left).
		AddColumn("Qty", 0, lipgloss.Right).
		AddColumn("Entry $", 0, lipgloss.Right).
		AddColumn("Mark $", 0, lipgloss.Right).
		AddColumn("Cost SOL", 0, lipgloss.Right).
		AddColumn("Value SOL", 0, lipgloss.Right).
		AddColumn("PnL SOL", 0, lipgloss.Right).
		AddColumn("PnL", 0, lipgloss.Left).
		AddColumn("Peak %", 0, lipgloss.Right)

	for _, p := range sum.Positions {
		label := p.Symbol
		if label == "" {
			label = shortMint(p.Mint)
		}
		gauge := NewPnLGauge(6).SetValue(p.PnlPct)
		t.AddStyledRow(palette.Signed(p.PnlSOL),
			label,
			num(p.Quantity, 2),
			num(p.EntryUSD, 8),
			num(p.MarkUSD, 8),
			num(p.CostSOL, 4),
			num(p.ValueSOL, 4),
			num(p.PnlSOL, 4),
			gauge.Bar()+" "+gauge.Label(),
			num(p.PeakPnlPct, 2),
		)
	}
	if t.RowCount() == 0 {
		b.WriteString("No open positions\n")
	} else {
		b.WriteString(t.View())
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Cash %s SOL | Positions %s SOL | Unrealized %s SOL | Realized %s SOL\n",
		num(sess.CashBalanceSOL, 4),
		num(sum.TotalValueSOL, 4),
		num(sum.TotalPnlSOL, 4),
		num(sess.RealizedPnlSOL, 4))
	for _, r := range sum.Removed {
		fmt.Fprintf(&b, "Quarantined %s: %s\n", shortMint(r.Position.Mint), r.Reason)
	}
	return b.String()
}

// TradesView renders a trade log, newest last.
func TradesView(trades []store.Trade) string {
	if len(trades) == 0 {
		return "No trades\n"
	}
	palette := style.DefaultPalette()
	t := NewTable().SetZebra(true).
		AddColumn("Time", 0, lipgloss.Left).
		AddColumn("Book", 0, lipgloss.Left).
		AddColumn("Side", 0, lipgloss.Left).
		AddColumn("Token", 0, lipgloss.Left).
		AddColumn("SOL", 0, lipgloss.Right).
		AddColumn("Tokens", 0, lipgloss.Right).
		AddColumn("Price $", 0, lipgloss.Right).
		AddColumn("PnL SOL", 0, lipgloss.Right).
		AddColumn("ID", 0, lipgloss.Left)

	for _, tr := range trades {
		fg := palette.Buy
		if tr.Side == store.SideSell {
			fg = palette.Sell
		}
		label := tr.Symbol
		if label == "" {
			label = shortMint(tr.Mint)
		}
		pnlCell := ""
		if tr.Side == store.SideSell {
			pnlCell = num(tr.RealizedPnlSOL, 4)
		}
		t.AddStyledRow(fg,
			tr.Timestamp.Local().Format("01-02 15:04:05"),
			string(tr.Book),
			string(tr.Side),
			label,
			num(tr.SolAmount, 4),
			num(tr.TokenQuantity, 2),
			num(tr.PriceUSD, 8),
			pnlCell,
			tr.ID,
		)
	}
	return t.View() + "\n"
}

// StatsView renders session statistics.
func StatsView(book store.BookKind, s ledger.Stats) string {
	t := NewTable().
		AddColumn("Metric", 0, lipgloss.Left).
		AddColumn(string(book), 0, lipgloss.Right)
	t.AddRow("Trades", strconv.Itoa(s.TotalTrades))
	t.AddRow("Buys / Sells", fmt.Sprintf("%d / %d", s.BuyCount, s.SellCount))
	t.AddRow("Win rate", num(s.WinRate, 1)+"%")
	t.AddRow("Avg win SOL", num(s.AvgWinSOL, 4))
	t.AddRow("Avg loss SOL", num(s.AvgLossSOL, 4))
	t.AddRow("Largest win SOL", num(s.LargestWinSOL, 4))
	t.AddRow("Largest loss SOL", num(s.LargestLossSOL, 4))
	t.AddRow("Volume SOL", num(s.VolumeSOL, 4))
	t.AddRow("Realized SOL", num(s.RealizedPnlSOL, 4))
	t.AddRow("Cash SOL", num(s.CashBalanceSOL, 4))
	t.AddRow("Open positions", strconv.Itoa(s.OpenPositions))
	return t.View() + "\n"
}
