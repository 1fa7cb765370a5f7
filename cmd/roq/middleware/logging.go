package middleware

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingMiddleware logs every request and turns handler panics into
// Internal errors.
type LoggingMiddleware struct {
	logger zerolog.Logger
}

// NewLoggingMiddleware creates a new logging middleware.
func NewLoggingMiddleware(logger zerolog.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

func (m *LoggingMiddleware) recovered(r interface{}, method string) error {
	m.logger.Error().
		Str("method", method).
		Interface("panic", r).
		Str("stack", string(debug.Stack())).
		Msg("Panic recovered")
	return status.Error(codes.Internal, "internal server error")
}

func (m *LoggingMiddleware) event(err error) *zerolog.Event {
	if err != nil && status.Code(err) != codes.Canceled {
		return m.logger.Error().Err(err)
	}
	return m.logger.Info()
}

// UnaryInterceptor returns a unary server interceptor for logging.
func (m *LoggingMiddleware) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				err = m.recovered(r, info.FullMethod)
			}
			m.event(err).
				Str("method", info.FullMethod).
				Str("user", AuthenticatedUser(ctx)).
				Dur("duration", time.Since(start)).
				Str("code", status.Code(err).String()).
				Msg("Unary request")
		}()

		return handler(ctx, req)
	}
}

// StreamInterceptor returns a stream server interceptor for logging.
func (m *LoggingMiddleware) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		start := time.Now()
		wrapped := &countingServerStream{ServerStream: ss}
		defer func() {
			if r := recover(); r != nil {
				err = m.recovered(r, info.FullMethod)
			}
			m.event(err).
				Str("method", info.FullMethod).
				Str("user", AuthenticatedUser(ss.Context())).
				Dur("duration", time.Since(start)).
				Str("code", status.Code(err).String()).
				Int("messages_sent", wrapped.sent).
				Int("messages_received", wrapped.received).
				Msg("Stream request")
		}()

		return handler(srv, wrapped)
	}
}

// countingServerStream counts the messages moved through a stream.
type countingServerStream struct {
	grpc.ServerStream
	sent     int
	received int
}

func (s *countingServerStream) SendMsg(m interface{}) error {
	err := s.ServerStream.SendMsg(m)
	if err == nil {
		s.sent++
	}
	return err
}

func (s *countingServerStream) RecvMsg(m interface{}) error {
	err := s.ServerStream.RecvMsg(m)
	if err == nil {
		s.received++
	}
	return err
}
