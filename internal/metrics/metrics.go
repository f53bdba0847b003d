// internal/metrics/metrics.go
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	feedPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrader_feed_polls_total",
			Help: "Market data polls by outcome",
		},
		[]string{"result"},
	)
	feedTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrader_feed_ticks_total",
			Help: "Real-time ticks by arbitration outcome",
		},
		[]string{"result"},
	)
	pollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "papertrader_feed_poll_duration_seconds",
			Help:    "Duration of one market data poll",
			Buckets: prometheus.LinearBuckets(0, 0.1, 10),
		},
	)
	trades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrader_trades_total",
			Help: "Accepted simulated trades",
		},
		[]string{"book", "side"},
	)
	rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrader_trade_rejections_total",
			Help: "Rejected trade intents by reason",
		},
		[]string{"reason"},
	)
	quarantined = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "papertrader_positions_quarantined_total",
			Help: "Positions removed by the corruption check",
		},
	)
)

var registerOnce sync.Once

// Register adds all collectors to reg. Safe to call more than once.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(feedPolls, feedTicks, pollDuration, trades, rejections, quarantined)
	})
}

// ObservePoll records the outcome and duration of a poll.
func ObservePoll(start time.Time, err error) {
	pollDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		feedPolls.WithLabelValues("failed").Inc()
		return
	}
	feedPolls.WithLabelValues("success").Inc()
}

func TickAccepted() { feedTicks.WithLabelValues("accepted").Inc() }
func TickRejected(reason string) { feedTicks.WithLabelValues(reason).Inc() }

func TradeExecuted(book, side string) { trades.WithLabelValues(book, side).Inc() }
func TradeRejected(reason string) { rejections.WithLabelValues(reason).Inc() }

func PositionQuarantined() { quarantined.Inc() }
