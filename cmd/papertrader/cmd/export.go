package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rovshanmuradov/solana-papertrader/internal/export"
	"github.com/rovshanmuradov/solana-papertrader/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the trade log to CSV or JSON",
	Example: `  papertrader export --format csv --since 2024-01-15
  papertrader export --format json --side SELL --mint DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263
  papertrader export --daily 2024-01-15`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

var (
	exportFormat   string
	exportDir      string
	exportSince    string
	exportUntil    string
	exportMint     string
	exportSide     string
	exportStrategy string
	exportDaily    string
	exportAllBooks bool
)

func init() {
	rootCmd.AddCommand(exportCmd)

	f := exportCmd.Flags()
	f.StringVarP(&exportFormat, "format", "f", string(export.FormatCSV), "csv or json")
	f.StringVarP(&exportDir, "out", "o", "exports", "output directory")
	f.StringVar(&exportSince, "since", "", "first day included (YYYY-MM-DD)")
	f.StringVar(&exportUntil, "until", "", "first day excluded (YYYY-MM-DD)")
	f.StringVar(&exportMint, "mint", "", "only this token")
	f.StringVar(&exportSide, "side", "", "BUY or SELL")
	f.StringVar(&exportStrategy, "strategy", "", "only this strategy tag")
	f.StringVar(&exportDaily, "daily", "", "write a daily report for this day (YYYY-MM-DD)")
	f.BoolVarP(&exportAllBooks, "all", "a", false, "include every book")
}

func parseDay(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation("2006-01-02", value, time.Local)
}

func exportOptions() (export.ExportOptions, error) {
	opts := export.ExportOptions{
		Format:     export.ExportFormat(strings.ToLower(exportFormat)),
		MintFilter: exportMint,
		SideFilter: store.Side(strings.ToUpper(exportSide)),
		Strategy:   exportStrategy,
		OutputDir:  exportDir,
	}
	switch opts.Format {
	case export.FormatCSV, export.FormatJSON:
	default:
		return opts, fmt.Errorf("unsupported format %q", exportFormat)
	}
	switch opts.SideFilter {
	case "", store.SideBuy, store.SideSell:
	default:
		return opts, fmt.Errorf("invalid side %q", exportSide)
	}

	var err error
	if opts.StartTime, err = parseDay(exportSince); err != nil {
		return opts, fmt.Errorf("invalid --since: %w", err)
	}
	if opts.EndTime, err = parseDay(exportUntil); err != nil {
		return opts, fmt.Errorf("invalid --until: %w", err)
	}
	if !exportAllBooks {
		kind, err := book()
		if err != nil {
			return opts, err
		}
		opts.BookFilter = kind
	}
	return opts, nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	opts, err := exportOptions()
	if err != nil {
		return err
	}
	a, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	exporter := export.NewTradeExporter(a.log.Logger)
	trades := a.service.Trades(opts.BookFilter)

	if exportDaily != "" {
		day, err := parseDay(exportDaily)
		if err != nil {
			return fmt.Errorf("invalid --daily: %w", err)
		}
		path, err := exporter.ExportDailyReport(trades, day, opts.OutputDir)
		if err != nil {
			return err
		}
		if path == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "No trades on", exportDaily)
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	}

	path, err := exporter.ExportTrades(trades, opts)
	if errors.Is(err, export.ErrNoTrades) {
		fmt.Fprintln(cmd.OutOrStdout(), err)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
