// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file exposes Prometheus instrumentation for HTTP traffic. Labels are
// kept bounded:
//
//   - method: HTTP method verb
//   - route:  the registered Gin route (e.g. /api/v1/interviews/:id/feedback),
//     or "unmatched" when no route matched
//   - status: numeric status code as a string
//
// WebSocket session requests live as long as the call, so they are counted
// in their own series and kept out of the latency and size histograms.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/go-interview-backend/internal/observability"
)

const unmatchedRoute = "unmatched"

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: observability.ServiceNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)

	// Generation and scoring wait on the model, so the buckets reach a minute.
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: observability.ServiceNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, excluding WebSocket sessions.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 40, 60},
		},
		[]string{"method", "route"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: observability.ServiceNamespace,
			Name:      "http_requests_inflight",
			Help:      "HTTP requests currently being served, including open WebSocket sessions.",
		},
	)

	// Interview creation carries an inline logo, so the request side is large;
	// responses stay in the JSON range.
	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: observability.ServiceNamespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response body size.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8), // 256B..4MiB
		},
		[]string{"method", "route"},
	)

	wsUpgrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: observability.ServiceNamespace,
			Name:      "websocket_upgrades_total",
			Help:      "WebSocket upgrade attempts by route and result (upgraded or refused).",
		},
		[]string{"route", "result"},
	)
)

func init() {
	prometheus.MustRegister(httpRequests, httpDuration, httpInflight, httpRespSize, wsUpgrades)
}

// Metrics returns a Gin middleware that instruments requests with Prometheus.
//
//	r.Use(middleware.Metrics())
//	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		method := c.Request.Method
		status := c.Writer.Status()
		httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()

		if isUpgrade(c.Request) {
			// A hijacked connection keeps gin's default 200.
			result := "refused"
			if status < http.StatusMultipleChoices {
				result = "upgraded"
			}
			wsUpgrades.WithLabelValues(route, result).Inc()
			return
		}

		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, route).Observe(float64(size))
		}
	}
}

// isUpgrade reports whether r asks for a WebSocket upgrade.
func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
