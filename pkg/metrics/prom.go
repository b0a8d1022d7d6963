package metrics

import (
	"cmp"
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restless_http_requests_total",
			Help: "Total number of HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "restless_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// APIErrors counts handled client and server errors of the generated API.
	APIErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restless_api_errors_total",
			Help: "Total number of API errors by collection and reason",
		},
		[]string{"collection", "reason"},
	)

	PublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restless_publish_errors_total",
			Help: "Total number of change event publish errors by sink",
		},
		[]string{"sink"},
	)

	PublishedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restless_published_events_total",
			Help: "Total number of change events published by table and sink",
		},
		[]string{"table", "sink"},
	)

	EventPublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "restless_event_publish_duration_seconds",
			Help:    "Duration of change event publishing, retries included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sink"},
	)
)

// Handler serves the default registry, OpenMetrics included.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

type PromServerOpts struct {
	Logger *zap.Logger
	Addr   string // defaults to ":9100"
	Path   string // defaults to "/metrics"
	// ShutdownTimeout defaults to 5s, ReadHeaderTimeout to 3s.
	ShutdownTimeout   time.Duration
	ReadHeaderTimeout time.Duration
}

// StartPrometheusServer serves Handler on a dedicated listener until ctx is
// canceled. wg is done once the server has shut down.
func StartPrometheusServer(ctx context.Context, wg *sync.WaitGroup, opts *PromServerOpts) {
	var o PromServerOpts
	if opts != nil {
		o = *opts
	}
	o.Addr = cmp.Or(o.Addr, ":9100")
	o.Path = cmp.Or(o.Path, "/metrics")
	o.ShutdownTimeout = cmp.Or(o.ShutdownTimeout, 5*time.Second)
	o.ReadHeaderTimeout = cmp.Or(o.ReadHeaderTimeout, 3*time.Second)
	logger := cmp.Or(o.Logger, zap.L()).With(zap.String("addr", o.Addr))

	mux := http.NewServeMux()
	mux.Handle("GET "+o.Path, Handler())
	server := &http.Server{Addr: o.Addr, Handler: mux, ReadHeaderTimeout: o.ReadHeaderTimeout}

	wg.Add(1)
	go func() {
		defer wg.Done()
		errc := make(chan error, 1)
		go func() { errc <- server.ListenAndServe() }()
		logger.Info("serving metrics", zap.String("path", o.Path))

		select {
		case err := <-errc:
			if !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", zap.Error(err))
			}
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), o.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown", zap.Error(err))
			}
			<-errc
		}
	}()
}
