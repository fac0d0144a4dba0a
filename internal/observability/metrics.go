package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat relay.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the server.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_connections",
			Help: "Number of active websocket connections on this instance.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"event"},
	)
	bridgePublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_bridge_publish_errors_total",
			Help: "Total number of failed publishes to the shared channel.",
		},
	)
	flushSweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_flush_sweeps_total",
			Help: "Total number of flush sweeps by outcome.",
		},
		[]string{"outcome"},
	)
	flushRoomsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_flush_rooms_total",
			Help: "Rooms visited by flush sweeps by outcome.",
		},
		[]string{"outcome"},
	)
	flushMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_flush_messages_total",
			Help: "Messages written to the durable store by flush sweeps.",
		},
	)
	flushSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_flush_sweep_duration_seconds",
			Help:    "Flush sweep latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		wsActiveConnections,
		wsEventsTotal,
		bridgePublishErrorsTotal,
		flushSweepsTotal,
		flushRoomsTotal,
		flushMessagesTotal,
		flushSweepDuration,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		statusInfo := status.Convert(err)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, statusInfo.Code().String()).Inc()
		return resp, err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

// IncWSEvent counts a websocket event such as "connect", "message" or "rejected".
func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncBridgePublishError() {
	bridgePublishErrorsTotal.Inc()
}

// Sweep outcomes.
const (
	SweepCompleted = "completed"
	SweepSkipped   = "skipped"
	SweepFailed    = "failed"
)

// Room outcomes within a sweep.
const (
	RoomFlushed = "flushed"
	RoomEmpty   = "empty"
	RoomFailed  = "failed"
)

func IncFlushSweep(outcome string) {
	flushSweepsTotal.WithLabelValues(outcome).Inc()
}

func IncFlushRoom(outcome string) {
	flushRoomsTotal.WithLabelValues(outcome).Inc()
}

func AddFlushedMessages(n int) {
	flushMessagesTotal.Add(float64(n))
}

func ObserveFlushSweep(d time.Duration) {
	flushSweepDuration.Observe(d.Seconds())
}
