// Package metrics exposes crawl progress as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Namespace prefixes every metric name.
const Namespace = "netscan"

// Recorder implements crawl.Recorder on top of Prometheus collectors.
type Recorder struct {
	ChannelsFetched *prometheus.CounterVec
	ChannelsFailed  *prometheus.CounterVec
	FetchDuration   *prometheus.HistogramVec
	FrontierGauge   prometheus.Gauge
	LinksTotal      prometheus.Counter
}

// NewRecorder creates and registers the crawl metrics on reg. A nil reg
// uses the default registerer.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Recorder{
		ChannelsFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "channels_fetched_total",
			Help:      "Channels fetched successfully, by depth",
		}, []string{"depth"}),
		ChannelsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "channels_failed_total",
			Help:      "Channels whose fetch failed, by depth",
		}, []string{"depth"}),
		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of channel fetches in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~51s
		}, []string{"outcome"}),
		FrontierGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "frontier_size",
			Help:      "Channels waiting in the crawl frontier",
		}),
		LinksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "links_discovered_total",
			Help:      "Channel references extracted from fetched messages",
		}),
	}
}

func (r *Recorder) ChannelFetched(depth int, took time.Duration) {
	r.ChannelsFetched.WithLabelValues(strconv.Itoa(depth)).Inc()
	r.FetchDuration.WithLabelValues("success").Observe(took.Seconds())
}

func (r *Recorder) ChannelFailed(depth int, took time.Duration) {
	r.ChannelsFailed.WithLabelValues(strconv.Itoa(depth)).Inc()
	r.FetchDuration.WithLabelValues("failure").Observe(took.Seconds())
}

func (r *Recorder) LinksDiscovered(n int) {
	r.LinksTotal.Add(float64(n))
}

func (r *Recorder) FrontierSize(n int) {
	r.FrontierGauge.Set(float64(n))
}

// Handler serves /metrics from g and a plain /healthz.
func Handler(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// Serve listens on addr until ctx is done, then shuts the server down.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(g),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
