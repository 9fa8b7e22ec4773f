package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "raffle"

// 进程内只注册一次，所有 service 共用
var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	TicketsSold = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_sold_total",
			Help:      "Tickets committed, by purchase mode",
		},
		[]string{"mode"},
	)
	TxConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_conflicts_total",
			Help:      "Transaction conflicts observed, by outcome (retried|exhausted)",
		},
		[]string{"outcome"},
	)
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Raffle state transitions applied",
		},
		[]string{"from", "to"},
	)
	Draws = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "draws_total",
			Help:      "Winner draws by result (winner|no_winner|error|skipped)",
		},
		[]string{"result"},
	)
	Payments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_total",
			Help:      "Payment confirmations by result (granted|duplicate|failed)",
		},
		[]string{"result"},
	)
	PaymentAlerts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_alerts_total",
			Help:      "Confirmed payments that could not be reconciled and need an operator",
		},
	)
	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Outbox messages relayed, by result",
		},
		[]string{"result"},
	)
	DBConnPool = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connection_pool",
			Help:      "Database connection pool statistics",
		},
		[]string{"stat"},
	)
)

// RecordDBPoolStats 记录连接池状态
func RecordDBPoolStats(stats sql.DBStats) {
	DBConnPool.WithLabelValues("open").Set(float64(stats.OpenConnections))
	DBConnPool.WithLabelValues("in_use").Set(float64(stats.InUse))
	DBConnPool.WithLabelValues("idle").Set(float64(stats.Idle))
	DBConnPool.WithLabelValues("wait_count").Set(float64(stats.WaitCount))
	DBConnPool.WithLabelValues("wait_duration_ms").Set(float64(stats.WaitDuration.Milliseconds()))
}
