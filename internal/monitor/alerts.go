package monitor

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-papertrader/internal/pnl"
	"github.com/rovshanmuradov/solana-papertrader/internal/store"
)

// AlertType represents different types of alerts
type AlertType string

const (
	AlertTypeStopLoss     AlertType = "stop_loss"
	AlertTypeTakeProfit   AlertType = "take_profit"
	AlertTypeProfitTarget AlertType = "profit_target"
	AlertTypeLossLimit    AlertType = "loss_limit"
)

// Alert represents a triggered alert
type Alert struct {
	ID        string         `json:"id"`
	Type      AlertType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Book      store.BookKind `json:"book"`
	Mint      string         `json:"mint"`
	Symbol    string         `json:"symbol"`
	Message   string         `json:"message"`
	Severity  string         `json:"severity"` // "info", "warning", "critical"

	MarkUSD   float64 `json:"mark_usd"`
	PnlPct    float64 `json:"pnl_pct"`
	Threshold float64 `json:"threshold"`
}

// AlertConfig holds alert configuration. Zero percentages disable the
// matching alert.
type AlertConfig struct {
	ProfitTargetPercent float64
	LossLimitPercent    float64
	Cooldown            time.Duration
}

func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		ProfitTargetPercent: 50.0,
		LossLimitPercent:    20.0,
		Cooldown:            5 * time.Minute,
	}
}

// AlertHandler is called when an alert is triggered
type AlertHandler func(alert Alert)

// AlertManager watches valued positions against their buy plan and the
// configured P&L thresholds.
type AlertManager struct {
	mu     sync.RWMutex
	config AlertConfig
	logger *zap.Logger
	now    func() time.Time

	alerts    []Alert
	maxAlerts int
	lastAlert map[string]time.Time // book/mint -> last alert time

	handlers []AlertHandler
}

func NewAlertManager(config AlertConfig, logger *zap.Logger) *AlertManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertManager{
		config:    config,
		logger:    logger.Named("alerts"),
		now:       time.Now,
		alerts:    make([]Alert, 0, 100),
		maxAlerts: 1000,
		lastAlert: make(map[string]time.Time),
	}
}

// AddHandler adds an alert handler
func (am *AlertManager) AddHandler(handler AlertHandler) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.handlers = append(am.handlers, handler)
}

// CheckPosition compares p with plan and the thresholds. Handlers run
// synchronously after the manager lock is released.
func (am *AlertManager) CheckPosition(book store.BookKind, p pnl.PositionPnl, plan *store.Plan) []Alert {
	am.mu.Lock()
	now := am.now()
	key := string(book) + "/" + p.Mint
	if last, ok := am.lastAlert[key]; ok && now.Sub(last) < am.config.Cooldown {
		am.mu.Unlock()
		return nil
	}

	label := p.Symbol
	if label == "" {
		label = p.Mint
	}
	base := Alert{
		Timestamp: now,
		Book:      book,
		Mint:      p.Mint,
		Symbol:    p.Symbol,
		MarkUSD:   p.MarkUSD,
		PnlPct:    p.PnlPct,
	}
	var triggered []Alert
	add := func(t AlertType, severity string, threshold float64, msg string) {
		a := base
		a.ID = fmt.Sprintf("alert_%d_%d", now.UnixNano(), len(triggered))
		a.Type = t
		a.Severity = severity
		a.Threshold = threshold
		a.Message = msg
		triggered = append(triggered, a)
	}

	if plan != nil && p.MarkUSD > 0 {
		if plan.StopLossUSD > 0 && p.MarkUSD <= plan.StopLossUSD {
			add(AlertTypeStopLoss, "critical", plan.StopLossUSD,
				fmt.Sprintf("Stop loss hit for %s: %.8g <= %.8g USD", label, p.MarkUSD, plan.StopLossUSD))
		}
		if plan.TakeProfitUSD > 0 && p.MarkUSD >= plan.TakeProfitUSD {
			add(AlertTypeTakeProfit, "info", plan.TakeProfitUSD,
				fmt.Sprintf("Take profit hit for %s: %.8g >= %.8g USD", label, p.MarkUSD, plan.TakeProfitUSD))
		}
	}
	if am.config.ProfitTargetPercent > 0 && p.PnlPct >= am.config.ProfitTargetPercent {
		add(AlertTypeProfitTarget, "info", am.config.ProfitTargetPercent,
			fmt.Sprintf("Profit target reached: %+.1f%% for %s", p.PnlPct, label))
	}
	if am.config.LossLimitPercent > 0 && p.PnlPct <= -am.config.LossLimitPercent {
		add(AlertTypeLossLimit, "warning", -am.config.LossLimitPercent,
			fmt.Sprintf("Loss limit reached: %+.1f%% for %s", p.PnlPct, label))
	}

	if len(triggered) > 0 {
		am.lastAlert[key] = now
		for _, a := range triggered {
			am.record(a)
		}
	}
	handlers := append([]AlertHandler(nil), am.handlers...)
	am.mu.Unlock()

	for _, a := range triggered {
		for _, h := range handlers {
			h(a)
		}
	}
	return triggered
}

func (am *AlertManager) record(alert Alert) {
	if len(am.alerts) >= am.maxAlerts {
		am.alerts = am.alerts[1:]
	}
	am.alerts = append(am.alerts, alert)

	fields := []zap.Field{
		zap.String("type", string(alert.Type)),
		zap.String("book", string(alert.Book)),
		zap.String("mint", alert.Mint),
		zap.String("message", alert.Message),
	}
	switch alert.Severity {
	case "critical":
		am.logger.Error("Alert triggered", fields...)
	case "warning":
		am.logger.Warn("Alert triggered", fields...)
	default:
		am.logger.Info("Alert triggered", fields...)
	}
}

// RecentAlerts returns up to limit of the newest alerts, oldest first.
func (am *AlertManager) RecentAlerts(limit int) []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	if limit <= 0 || limit > len(am.alerts) {
		limit = len(am.alerts)
	}
	result := make([]Alert, limit)
	copy(result, am.alerts[len(am.alerts)-limit:])
	return result
}

// ClearHistory clears the alert cooldowns
func (am *AlertManager) ClearHistory() {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.lastAlert = make(map[string]time.Time)
}
