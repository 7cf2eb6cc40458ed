// Package metrics exposes Prometheus counters for message builds, deliveries
// and the development sink, plus an HTTP handler serving them.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Build outcomes.
const (
	BuildOK               = "ok"
	BuildMissingHost      = "missing_host"
	BuildMissingFrom      = "missing_from"
	BuildMissingRecipient = "missing_recipient"
	BuildFailed           = "failed"
)

// Sink outcomes.
const (
	SinkAccepted  = "accepted"
	SinkDuplicate = "duplicate"
	SinkRejected  = "rejected"
)

var (
	// BuildsTotal counts Draft.Build calls by outcome.
	BuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailcompose",
			Name:      "builds_total",
			Help:      "Total number of message builds by outcome",
		},
		[]string{"outcome"},
	)

	// DeliveriesTotal counts provider deliveries.
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailcompose",
			Name:      "deliveries_total",
			Help:      "Total number of delivery attempts by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	// DeliveryDuration tracks how long a provider takes to accept a message.
	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mailcompose",
			Name:      "delivery_duration_seconds",
			Help:      "Delivery duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// SinkMessagesTotal counts messages received by the SMTP sink.
	SinkMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailcompose",
			Name:      "sink_messages_total",
			Help:      "Total number of messages received by the SMTP sink by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordBuild records the outcome of a message build.
func RecordBuild(outcome string) {
	BuildsTotal.WithLabelValues(outcome).Inc()
}

// RecordDelivery records a delivery attempt and its duration.
func RecordDelivery(provider string, err error, took time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	DeliveriesTotal.WithLabelValues(provider, outcome).Inc()
	DeliveryDuration.WithLabelValues(provider).Observe(took.Seconds())
}

// RecordSink records a message handled by the SMTP sink.
func RecordSink(outcome string) {
	SinkMessagesTotal.WithLabelValues(outcome).Inc()
}

// Handler returns a router serving /metrics and /healthz.
func Handler() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return r
}

// Serve runs the metrics endpoint on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
