package metrics

import (
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CollectRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "birdseed_collect_runs_total",
		Help: "Total collection runs",
	}, []string{"op"})
	CollectErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "birdseed_collect_errors_total",
		Help: "Total per-item collection failures",
	}, []string{"op"})
	ItemsScanned = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "birdseed_items_scanned_total",
		Help: "Items read from a source",
	}, []string{"op"})
	ItemsUpdated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "birdseed_items_updated_total",
		Help: "Items written to the store",
	}, []string{"op"})
	CollectDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "birdseed_collect_duration_seconds",
		Help:    "Collection run duration seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	Merges = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "birdseed_entity_merges_total",
		Help: "Duplicate entities merged into a keeper",
	})
	APIRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "birdseed_api_retries_total",
		Help: "Total API retry attempts",
	}, []string{"endpoint"})
	CommandRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "birdseed_command_runs_total",
		Help: "CLI command invocations",
	}, []string{"cmd"})
	CommandErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "birdseed_command_errors_total",
		Help: "CLI command failures",
	}, []string{"cmd"})
)

func init() {
	prometheus.MustRegister(CollectRuns, CollectErrors, ItemsScanned, ItemsUpdated, CollectDuration,
		Merges, APIRetries, CommandRuns, CommandErrors)
}

// Router serves /metrics and /health.
func Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }).Methods(http.MethodGet)
	return r
}

// StartServer starts a metrics HTTP server on addr (e.g., ":9090"). It
// returns nil when no address is configured.
func StartServer(addr string) *http.Server {
	if addr == "" {
		addr = os.Getenv("METRICS_ADDR")
	}
	if addr == "" {
		return nil
	}
	srv := &http.Server{Addr: addr, Handler: Router(), ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// ObserveCollect records one finished collection run.
func ObserveCollect(op string, start time.Time, scanned, updated, errors int) {
	CollectRuns.WithLabelValues(op).Inc()
	CollectDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	ItemsScanned.WithLabelValues(op).Add(float64(scanned))
	ItemsUpdated.WithLabelValues(op).Add(float64(updated))
	CollectErrors.WithLabelValues(op).Add(float64(errors))
}

func IncMerge() { Merges.Inc() }

// IncAPIRetry increments the retry counter for an endpoint.
func IncAPIRetry(endpoint string) { APIRetries.WithLabelValues(endpoint).Inc() }

func IncCommandRun(cmd string)   { CommandRuns.WithLabelValues(cmd).Inc() }
func IncCommandError(cmd string) { CommandErrors.WithLabelValues(cmd).Inc() }
