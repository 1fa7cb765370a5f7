package middleware

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// MetricsCollector defines the interface for collecting metrics.
type MetricsCollector interface {
	IncrementCounter(name string, labels ...string)
	RecordHistogram(name string, value float64, labels ...string)
}

// MetricsMiddleware records request counts and latencies.
type MetricsMiddleware struct {
	collector MetricsCollector
}

// NewMetricsMiddleware creates a new metrics middleware.
func NewMetricsMiddleware(collector MetricsCollector) *MetricsMiddleware {
	return &MetricsMiddleware{collector: collector}
}

func (m *MetricsMiddleware) observe(method, kind string, start time.Time, err error) {
	m.collector.RecordHistogram("grpc_request_duration_seconds", time.Since(start).Seconds(), "method", method, "type", kind)
	m.collector.IncrementCounter("grpc_responses_total", "method", method, "type", kind, "code", status.Code(err).String())
}

// UnaryInterceptor returns a unary server interceptor for metrics.
func (m *MetricsMiddleware) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		m.observe(info.FullMethod, "unary", start, err)
		return resp, err
	}
}

// StreamInterceptor returns a stream server interceptor for metrics.
func (m *MetricsMiddleware) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		m.observe(info.FullMethod, "stream", start, err)
		return err
	}
}

// ServerOptions chains the interceptors in the order logging, metrics,
// auth. A nil middleware is skipped.
func ServerOptions(logging *LoggingMiddleware, metrics *MetricsMiddleware, auth *AuthMiddleware) []grpc.ServerOption {
	var unary []grpc.UnaryServerInterceptor
	var stream []grpc.StreamServerInterceptor
	if logging != nil {
		unary = append(unary, logging.UnaryInterceptor())
		stream = append(stream, logging.StreamInterceptor())
	}
	if metrics != nil {
		unary = append(unary, metrics.UnaryInterceptor())
		stream = append(stream, metrics.StreamInterceptor())
	}
	if auth != nil {
		unary = append(unary, auth.UnaryInterceptor())
		stream = append(stream, auth.StreamInterceptor())
	}
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
	}
}
