package httpx

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registrar adds its routes to a mux.
type Registrar interface {
	Register(mux *http.ServeMux)
}

// Handle registers h under pattern and labels its metrics with the pattern
// instead of the raw path.
func Handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, WithRoute(pattern, h))
}

// NewRouter builds the service mux. metrics and gatherer may be nil, in which
// case /metrics serves the default registry and no request metrics are kept.
func NewRouter(log *slog.Logger, metrics *Metrics, gatherer prometheus.Gatherer, routes ...Registrar) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	for _, rt := range routes {
		rt.Register(mux)
	}

	var h http.Handler = mux
	if metrics != nil {
		h = metrics.Middleware(h)
	}
	h = AccessLog(log)(h)
	h = RequestID(h)

	return h
}
