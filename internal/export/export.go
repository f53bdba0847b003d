package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-papertrader/internal/store"
)

// ExportFormat represents the export file format
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

var ErrNoTrades = errors.New("no trades match the export criteria")

// ExportOptions configures the export behavior
type ExportOptions struct {
	Format     ExportFormat
	StartTime  time.Time
	EndTime    time.Time
	MintFilter string
	SideFilter store.Side
	BookFilter store.BookKind
	Strategy   string
	OutputDir  string
}

// TradeExporter writes trade logs to disk.
type TradeExporter struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewTradeExporter(logger *zap.Logger) *TradeExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TradeExporter{logger: logger.Named("export"), now: time.Now}
}

// ExportTrades writes the trades matching options and returns the file path.
func (te *TradeExporter) ExportTrades(trades []store.Trade, options ExportOptions) (string, error) {
	filtered := FilterTrades(trades, options)
	if len(filtered) == 0 {
		return "", ErrNoTrades
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.Before(filtered[j].Timestamp)
	})

	outputPath := filepath.Join(options.OutputDir, te.generateFilename(options))
	if err := os.MkdirAll(options.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	var err error
	switch options.Format {
	case FormatCSV:
		err = te.exportToCSV(filtered, outputPath)
	case FormatJSON:
		err = te.exportToJSON(filtered, outputPath)
	default:
		err = fmt.Errorf("unsupported format: %s", options.Format)
	}
	if err != nil {
		return "", err
	}

	te.logger.Info("Trades exported",
		zap.String("file", outputPath),
		zap.Int("count", len(filtered)),
		zap.String("format", string(options.Format)))

	return outputPath, nil
}

// FilterTrades returns the trades that pass every filter set in options.
func FilterTrades(trades []store.Trade, options ExportOptions) []store.Trade {
	var filtered []store.Trade
	for _, trade := range trades {
		if !options.StartTime.IsZero() && trade.Timestamp.Before(options.StartTime) {
			continue
		}
		if !options.EndTime.IsZero() && !trade.Timestamp.Before(options.EndTime) {
			continue
		}
		if options.MintFilter != "" && trade.Mint != options.MintFilter {
			continue
		}
		if options.SideFilter != "" && trade.Side != options.SideFilter {
			continue
		}
		if options.BookFilter != "" && trade.Book != options.BookFilter {
			continue
		}
		if options.Strategy != "" && trade.StrategyTag != options.Strategy {
			continue
		}
		filtered = append(filtered, trade)
	}
	return filtered
}

func (te *TradeExporter) generateFilename(options ExportOptions) string {
	timestamp := te.now().Format("20060102_150405")

	prefix := "trades_all"
	if options.SideFilter != "" {
		prefix = "trades_" + string(options.SideFilter)
	}
	if options.BookFilter != "" {
		prefix += "_" + string(options.BookFilter)
	}
	if mint := options.MintFilter; mint != "" {
		if len(mint) > 8 {
			mint = mint[:8]
		}
		prefix += "_" + mint
	}

	return fmt.Sprintf("%s_%s.%s", prefix, timestamp, options.Format)
}

// CSVHeaders lists the columns written by exportToCSV.
func CSVHeaders() []string {
	return []string{
		"id", "timestamp", "book", "side", "mint", "symbol",
		"sol_amount", "token_quantity", "price_usd", "market_cap_usd",
		"realized_pnl_sol", "strategy", "note",
	}
}

func csvRow(t store.Trade) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	var note string
	if t.Annotation != nil {
		note = t.Annotation.Note
	}
	return []string{
		t.ID,
		t.Timestamp.UTC().Format(time.RFC3339Nano),
		string(t.Book),
		string(t.Side),
		t.Mint,
		t.Symbol,
		f(t.SolAmount),
		f(t.TokenQuantity),
		f(t.PriceUSD),
		f(t.MarketCapUSD),
		f(t.RealizedPnlSOL),
		t.StrategyTag,
		note,
	}
}

func (te *TradeExporter) exportToCSV(trades []store.Trade, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(CSVHeaders()); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, trade := range trades {
		if err := writer.Write(csvRow(trade)); err != nil {
			return fmt.Errorf("failed to write trade: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func (te *TradeExporter) exportToJSON(trades []store.Trade, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create JSON file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	exportData := struct {
		ExportTime time.Time     `json:"export_time"`
		TradeCount int           `json:"trade_count"`
		Trades     []store.Trade `json:"trades"`
		Summary    ExportSummary `json:"summary"`
	}{
		ExportTime: te.now(),
		TradeCount: len(trades),
		Trades:     trades,
		Summary:    CalculateSummary(trades),
	}

	if err := encoder.Encode(exportData); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// ExportSummary contains summary statistics for exported trades
type ExportSummary struct {
	TotalTrades     int       `json:"total_trades"`
	BuyCount        int       `json:"buy_count"`
	SellCount       int       `json:"sell_count"`
	UniqueTokens    int       `json:"unique_tokens"`
	TotalVolume     float64   `json:"total_volume"`
	TotalBuyVolume  float64   `json:"total_buy_volume"`
	TotalSellVolume float64   `json:"total_sell_volume"`
	TotalPnL        float64   `json:"total_pnl"`
	WinCount        int       `json:"win_count"`
	LossCount       int       `json:"loss_count"`
	WinRate         float64   `json:"win_rate"`
	AvgPnL          float64   `json:"avg_pnl"`
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
}

// CalculateSummary aggregates trades, which must be sorted by time.
func CalculateSummary(trades []store.Trade) ExportSummary {
	summary := ExportSummary{TotalTrades: len(trades)}
	if len(trades) == 0 {
		return summary
	}

	summary.StartDate = trades[0].Timestamp
	summary.EndDate = trades[len(trades)-1].Timestamp

	tokens := make(map[string]struct{})
	for _, trade := range trades {
		tokens[trade.Mint] = struct{}{}

		switch trade.Side {
		case store.SideBuy:
			summary.BuyCount++
			summary.TotalBuyVolume += trade.SolAmount
		case store.SideSell:
			summary.SellCount++
			summary.TotalSellVolume += trade.SolAmount
			summary.TotalPnL += trade.RealizedPnlSOL
			if trade.RealizedPnlSOL > 0 {
				summary.WinCount++
			} else if trade.RealizedPnlSOL < 0 {
				summary.LossCount++
			}
		}
	}

	summary.UniqueTokens = len(tokens)
	summary.TotalVolume = summary.TotalBuyVolume + summary.TotalSellVolume
	if summary.SellCount > 0 {
		summary.WinRate = float64(summary.WinCount) / float64(summary.SellCount) * 100
		summary.AvgPnL = summary.TotalPnL / float64(summary.SellCount)
	}
	return summary
}

// DailyReport represents a daily trading report
type DailyReport struct {
	Date            time.Time     `json:"date"`
	TradeCount      int           `json:"trade_count"`
	Summary         ExportSummary `json:"summary"`
	HourlyBreakdown []HourlyStats `json:"hourly_breakdown"`
	Trades          []store.Trade `json:"trades"`
}

// HourlyStats represents trading statistics for an hour
type HourlyStats struct {
	Hour       int     `json:"hour"`
	TradeCount int     `json:"trade_count"`
	BuyCount   int     `json:"buy_count"`
	SellCount  int     `json:"sell_count"`
	Volume     float64 `json:"volume"`
	PnL        float64 `json:"pnl"`
}

// ExportDailyReport writes the trades of date's calendar day with an hourly
// breakdown. It returns "" when the day has no trades.
func (te *TradeExporter) ExportDailyReport(trades []store.Trade, date time.Time, outputDir string) (string, error) {
	startOfDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	filtered := FilterTrades(trades, ExportOptions{
		StartTime: startOfDay,
		EndTime:   startOfDay.AddDate(0, 0, 1),
	})
	if len(filtered) == 0 {
		te.logger.Info("No trades for daily report", zap.Time("date", startOfDay))
		return "", nil
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.Before(filtered[j].Timestamp)
	})

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(outputDir, fmt.Sprintf("daily_report_%s.json", startOfDay.Format("20060102")))

	report := DailyReport{
		Date:            startOfDay,
		TradeCount:      len(filtered),
		Trades:          filtered,
		Summary:         CalculateSummary(filtered),
		HourlyBreakdown: hourlyBreakdown(filtered),
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	te.logger.Info("Daily report exported",
		zap.String("file", outputPath),
		zap.Time("date", startOfDay),
		zap.Int("trades", len(filtered)))

	return outputPath, nil
}

func hourlyBreakdown(trades []store.Trade) []HourlyStats {
	hourly := make(map[int]*HourlyStats)
	for _, trade := range trades {
		hour := trade.Timestamp.Hour()
		stats, ok := hourly[hour]
		if !ok {
			stats = &HourlyStats{Hour: hour}
			hourly[hour] = stats
		}

		stats.TradeCount++
		stats.Volume += trade.SolAmount
		switch trade.Side {
		case store.SideBuy:
			stats.BuyCount++
		case store.SideSell:
			stats.SellCount++
			stats.PnL += trade.RealizedPnlSOL
		}
	}

	var breakdown []HourlyStats
	for hour := 0; hour < 24; hour++ {
		if stats, ok := hourly[hour]; ok {
			breakdown = append(breakdown, *stats)
		}
	}
	return breakdown
}
