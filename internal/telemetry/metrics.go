package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seckill_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "seckill_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// AdmissionsTotal 准入脚本结果：admitted / out_of_stock / duplicate / error
	AdmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seckill_admissions_total",
			Help: "Seckill admission outcomes",
		},
		[]string{"outcome"},
	)

	// MaterializationsTotal 异步落单结果：created / already_exists / stock_anomaly / error
	MaterializationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seckill_materializations_total",
			Help: "Order materialization outcomes",
		},
		[]string{"outcome"},
	)

	LockBusyTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seckill_worker_lock_busy_total",
		Help: "Entries left pending because the per-user lock was held",
	})

	MalformedEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seckill_worker_malformed_entries_total",
		Help: "Queue entries dropped because they could not be decoded",
	})

	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seckill_order_events_total",
			Help: "Order-created event publish results",
		},
		[]string{"result"},
	)

	// WorkerState 当前 worker 状态，取值见 queue.WorkerState。
	WorkerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "seckill_worker_state",
		Help: "Order worker state (0 starting, 1 draining pending, 2 consuming, 3 restarting, 4 stopped)",
	})

	QueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "seckill_queue_length",
		Help: "Entries currently in the order stream",
	})

	QueuePending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "seckill_queue_pending",
		Help: "Entries delivered to the group but not yet acknowledged",
	})
)
