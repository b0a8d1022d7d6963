package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/edgeflare/restless/pkg/httputil"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ResponseRecorder wraps an http.ResponseWriter to capture the status code
// and the number of body bytes written.
type ResponseRecorder struct {
	http.ResponseWriter
	StatusCode int
	Bytes      int
	written    bool
}

func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{ResponseWriter: w, StatusCode: http.StatusOK}
}

func (rr *ResponseRecorder) WriteHeader(statusCode int) {
	if !rr.written {
		rr.StatusCode = statusCode
		rr.written = true
	}
	rr.ResponseWriter.WriteHeader(statusCode)
}

func (rr *ResponseRecorder) Write(b []byte) (int, error) {
	rr.written = true
	n, err := rr.ResponseWriter.Write(b)
	rr.Bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rr *ResponseRecorder) Unwrap() http.ResponseWriter { return rr.ResponseWriter }

// LoggerOptions defines configuration for the logger middleware.
type LoggerOptions struct {
	// Logger defaults to zap.L().
	Logger *zap.Logger
	Format func(reqID string, rec *ResponseRecorder, r *http.Request, latency time.Duration) []zap.Field
}

func defaultFormat(reqID string, rec *ResponseRecorder, r *http.Request, latency time.Duration) []zap.Field {
	fields := []zap.Field{
		zap.String("req_id", reqID),
		zap.Int("status", rec.StatusCode),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("bytes", rec.Bytes),
		zap.String("remote_addr", r.RemoteAddr),
		zap.Duration("latency", latency),
	}
	if q := r.URL.RawQuery; q != "" {
		fields = append(fields, zap.String("query", q))
	}
	if user := httputil.BasicAuthUser(r); user != "" {
		fields = append(fields, zap.String("user", user))
	}
	return fields
}

// statusLevel logs server errors at error level and client errors at warn.
func statusLevel(status int) zapcore.Level {
	switch {
	case status >= 500:
		return zapcore.ErrorLevel
	case status >= 400:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// LoggerWithOptions logs one "response" entry per request. Handlers can reach
// a logger carrying the request id through httputil.Logger.
func LoggerWithOptions(options *LoggerOptions) func(http.Handler) http.Handler {
	var opts LoggerOptions
	if options != nil {
		opts = *options
	}
	if opts.Format == nil {
		opts.Format = defaultFormat
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := r.Context().Value(httputil.LogEntryCtxKey).(*zap.Logger); ok {
				next.ServeHTTP(w, r)
				return
			}
			logger := opts.Logger
			if logger == nil {
				logger = zap.L()
			}

			start := time.Now()
			reqID := httputil.RequestID(r)
			if reqID == "" {
				reqID = uuid.Nil.String()
			}

			rec := NewResponseRecorder(w)
			ctx := context.WithValue(r.Context(), httputil.LogEntryCtxKey, logger.With(zap.String("req_id", reqID)))
			r = r.WithContext(ctx)

			next.ServeHTTP(rec, r)

			if ce := logger.Check(statusLevel(rec.StatusCode), "response"); ce != nil {
				ce.Write(opts.Format(reqID, rec, r, time.Since(start))...)
			}
		})
	}
}
