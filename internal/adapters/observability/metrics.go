package observability

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"ota_sync/internal/domain"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "otasync", Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "otasync", Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	ExternalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "otasync", Name: "external_requests_total", Help: "Outbound requests to the channel manager."},
		[]string{"service", "endpoint", "status"},
	)
	ExternalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "otasync", Name: "external_request_duration_seconds",
			Help:    "Outbound request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	CacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "otasync", Name: "cache_events_total", Help: "Cache hits/misses/sets/dels."},
		[]string{"cache", "event"}, // event: hit|miss|set|del
	)
	SyncAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "otasync", Name: "sync_attempts_total", Help: "Ledger rows written, by outcome."},
		[]string{"direction", "sync_type", "status"},
	)
	SyncErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "otasync", Name: "sync_errors_total", Help: "Failed channel interactions, by error class."},
		[]string{"sync_type", "reason"},
	)
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "otasync", Name: "webhook_deliveries_total", Help: "Inbound reservation deliveries."},
		[]string{"event", "status"},
	)
)

// Serve exposes reg on a separate listener; an empty addr disables it.
func Serve(addr string, reg *prometheus.Registry) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(reg))

	go func() {
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequests, HTTPLatency, ExternalRequests, ExternalLatency, CacheEvents,
		SyncAttempts, SyncErrors, WebhookDeliveries,
	)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveExternal(service, endpoint string, status int, dur time.Duration) {
	ExternalRequests.WithLabelValues(service, endpoint, strconv.Itoa(status)).Inc()
	ExternalLatency.WithLabelValues(service, endpoint).Observe(dur.Seconds())
}

func ObserveCache(cache, event string) { // event: hit|miss|set|del
	CacheEvents.WithLabelValues(cache, event).Inc()
}

func ObserveSync(direction, syncType, status string) {
	SyncAttempts.WithLabelValues(direction, syncType, status).Inc()
}

func ObserveWebhook(event, status string) {
	WebhookDeliveries.WithLabelValues(event, status).Inc()
}

func ObserveSyncError(syncType string, err error) {
	SyncErrors.WithLabelValues(syncType, LabelErr(err)).Inc()
}

// LabelErr maps an error onto a low-cardinality label.
func LabelErr(err error) string {
	var (
		ve *domain.ValidationError
		ce *domain.ConnectivityError
		re *domain.ExternalRejectionError
		ge *domain.MappingGapError
		cc *domain.ConcurrencyConflict
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &ce):
		return "connectivity"
	case errors.As(err, &re):
		return "rejected"
	case errors.As(err, &ge):
		return "mapping_gap"
	case errors.As(err, &cc):
		return "conflict"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
