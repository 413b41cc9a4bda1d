// pkg/binance/metrics.go
package binance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	wsConnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feed", Subsystem: "binance", Name: "connects_total",
		Help: "WebSocket connection attempts by outcome",
	}, []string{"status"})

	wsSessionEnds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feed", Subsystem: "binance", Name: "session_ends_total",
		Help: "Sessions torn down, by the worker unit that ended first and its outcome",
	}, []string{"unit", "outcome"})

	wsFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feed", Subsystem: "binance", Name: "frames_total",
		Help: "Inbound frames by classified kind",
	}, []string{"kind"})

	wsMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "feed", Subsystem: "binance", Name: "malformed_frames_total",
		Help: "Inbound frames dropped because they were not valid JSON",
	})

	handlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feed", Subsystem: "binance", Name: "handler_errors_total",
		Help: "Handler invocations that returned an error or panicked",
	}, []string{"kind"})

	controlSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feed", Subsystem: "binance", Name: "control_sent_total",
		Help: "Control messages written to the connection",
	}, []string{"method"})

	controlRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "feed", Subsystem: "binance", Name: "control_requeued_total",
		Help: "Control messages put back after a failed write",
	})

	controlQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "feed", Subsystem: "binance", Name: "control_queue_depth",
		Help: "Control messages waiting to be sent",
	})

	reconnectDelay = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "feed", Subsystem: "binance", Name: "reconnect_delay_seconds",
		Help:    "Delay slept before a reconnect attempt",
		Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32},
	})
)
