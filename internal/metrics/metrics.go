// Package metrics registers stream-health counters:
//
//	marketsync_frames_total
//	marketsync_parse_errors_total
//	marketsync_reconnects_total
//	marketsync_throttled_total
//	marketsync_resyncs_total
//	marketsync_snapshot_success_total
//	marketsync_snapshot_errors_total
//	go_* and process_* system metrics
//
// and exposes them over HTTP using the Prometheus handler.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketsync/logger"
)

var (
	once            sync.Once
	framesTotal     *prometheus.CounterVec
	parseErrors     *prometheus.CounterVec
	reconnects      *prometheus.CounterVec
	throttled       *prometheus.CounterVec
	resyncs         *prometheus.CounterVec
	snapshotSuccess *prometheus.CounterVec
	snapshotErrors  *prometheus.CounterVec
)

func Init(address string) {
	once.Do(func() {
		framesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketsync_frames_total",
				Help: "Number of websocket frames received per stream",
			},
			[]string{"stream"},
		)

		parseErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketsync_parse_errors_total",
				Help: "Number of frames dropped because they could not be parsed",
			},
			[]string{"stream"},
		)

		reconnects = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketsync_reconnects_total",
				Help: "Number of websocket reconnect attempts per stream",
			},
			[]string{"stream"},
		)

		throttled = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketsync_throttled_total",
				Help: "Number of non-final emissions suppressed by throttling",
			},
			[]string{"stream"},
		)

		resyncs = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketsync_resyncs_total",
				Help: "Number of order book resyncs triggered by sequence gaps",
			},
			[]string{"symbol"},
		)

		snapshotSuccess = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketsync_snapshot_success_total",
				Help: "Number of successful order book snapshot fetches",
			},
			[]string{"symbol"},
		)

		snapshotErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketsync_snapshot_errors_total",
				Help: "Number of failed order book snapshot fetches",
			},
			[]string{"symbol"},
		)

		_ = prometheus.Register(framesTotal)
		_ = prometheus.Register(parseErrors)
		_ = prometheus.Register(reconnects)
		_ = prometheus.Register(throttled)
		_ = prometheus.Register(resyncs)
		_ = prometheus.Register(snapshotSuccess)
		_ = prometheus.Register(snapshotErrors)
		_ = prometheus.Register(collectors.NewGoCollector())
		_ = prometheus.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		if address == "" {
			return
		}

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			server := &http.Server{
				Addr:              address,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.GetLogger().WithComponent("metrics").WithError(err).Error("metrics server failed")
			}
		}()
	})
}

// InitForTest registers the counters without starting the HTTP listener.
func InitForTest() {
	Init("")
}

// StartCloudWatch begins periodic publication of the counters above to
// CloudWatch when enabled. It is a no-op when the publisher cannot be built.
func StartCloudWatch(ctx context.Context, region, namespace string, interval time.Duration) {
	p, err := newCloudWatchPublisher(ctx, region, namespace)
	if err != nil {
		logger.GetLogger().WithComponent("cloudwatch").WithError(err).Warn("cloudwatch metrics disabled")
		return
	}
	go p.run(ctx, interval)
}

// IncrementFrames increases the received frame counter for a stream.
func IncrementFrames(stream string) {
	if framesTotal != nil {
		framesTotal.WithLabelValues(stream).Inc()
	}
}

// IncrementParseErrors increases the dropped frame counter for a stream.
func IncrementParseErrors(stream string) {
	if parseErrors != nil {
		parseErrors.WithLabelValues(stream).Inc()
	}
}

// IncrementReconnects increases the reconnect counter for a stream.
func IncrementReconnects(stream string) {
	if reconnects != nil {
		reconnects.WithLabelValues(stream).Inc()
	}
}

// IncrementThrottled increases the suppressed emission counter for a stream.
func IncrementThrottled(stream string) {
	if throttled != nil {
		throttled.WithLabelValues(stream).Inc()
	}
}

// IncrementResyncs increases the resync counter for a symbol.
func IncrementResyncs(symbol string) {
	if resyncs != nil {
		resyncs.WithLabelValues(symbol).Inc()
	}
}

// IncrementSnapshotSuccess increases the snapshot success counter for a symbol.
func IncrementSnapshotSuccess(symbol string) {
	if snapshotSuccess != nil {
		snapshotSuccess.WithLabelValues(symbol).Inc()
	}
}

// IncrementSnapshotError increases the snapshot error counter for a symbol.
func IncrementSnapshotError(symbol string) {
	if snapshotErrors != nil {
		snapshotErrors.WithLabelValues(symbol).Inc()
	}
}
