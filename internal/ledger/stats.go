package ledger

import (
	"github.com/rovshanmuradov/solana-papertrader/internal/precision"
	"github.com/rovshanmuradov/solana-papertrader/internal/store"
)

// Stats aggregates the trade log of one book.
type Stats struct {
	TotalTrades    int     `json:"total_trades"`
	BuyCount       int     `json:"buy_count"`
	SellCount      int     `json:"sell_count"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	WinRate        float64 `json:"win_rate"`
	AvgWinSOL      float64 `json:"avg_win_sol"`
	AvgLossSOL     float64 `json:"avg_loss_sol"`
	LargestWinSOL  float64 `json:"largest_win_sol"`
	LargestLossSOL float64 `json:"largest_loss_sol"`
	VolumeSOL      float64 `json:"volume_sol"`
	RealizedPnlSOL float64 `json:"realized_pnl_sol"`
	CashBalanceSOL float64 `json:"cash_balance_sol"`
	OpenPositions  int     `json:"open_positions"`
}

// Stats summarises trades made in the current session of this book.
func (l *Ledger) Stats() Stats {
	var s Stats
	l.store.View(func(st *store.State) {
		book := st.Book(l.book)
		s = computeStats(st.Trades, book)
	})
	return s
}

func computeStats(trades []store.Trade, book *store.Book) Stats {
	s := Stats{
		CashBalanceSOL: book.Session.CashBalanceSOL,
		OpenPositions:  len(book.Positions),
	}

	var totalWin, totalLoss float64
	for _, t := range trades {
		if t.Book != book.Kind || t.Timestamp.Before(book.Session.StartedAt) {
			continue
		}
		s.TotalTrades++
		s.VolumeSOL += t.SolAmount

		if t.Side == store.SideBuy {
			s.BuyCount++
			continue
		}
		s.SellCount++
		s.RealizedPnlSOL += t.RealizedPnlSOL
		switch {
		case t.RealizedPnlSOL > 0:
			s.Wins++
			totalWin += t.RealizedPnlSOL
			if t.RealizedPnlSOL > s.LargestWinSOL {
				s.LargestWinSOL = t.RealizedPnlSOL
			}
		case t.RealizedPnlSOL < 0:
			s.Losses++
			totalLoss += t.RealizedPnlSOL
			if t.RealizedPnlSOL < s.LargestLossSOL {
				s.LargestLossSOL = t.RealizedPnlSOL
			}
		}
	}

	if decided := s.Wins + s.Losses; decided > 0 {
		s.WinRate = precision.Percentage.Round(float64(s.Wins) / float64(decided) * 100)
	}
	if s.Wins > 0 {
		s.AvgWinSOL = precision.SolAmount.Round(totalWin / float64(s.Wins))
	}
	if s.Losses > 0 {
		s.AvgLossSOL = precision.SolAmount.Round(totalLoss / float64(s.Losses))
	}
	s.VolumeSOL = precision.SolAmount.Round(s.VolumeSOL)
	s.RealizedPnlSOL = precision.SolAmount.Round(s.RealizedPnlSOL)
	return s
}
