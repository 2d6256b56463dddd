package rpc

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
)

const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	applicationJson   = "application/json"
	applicationCBOR   = "application/cbor"

	apiPathPrefix = "/api/v1"
	meterName     = "rest_api"
)

type (
	// Endpoints adds group of handlers to the API router.
	Endpoints func(r *mux.Router)

	ServerConfig struct {
		Addr string
		// requests with bigger body are rejected
		MaxBodySize int64
	}

	Observability interface {
		Meter(name string, opts ...metric.MeterOption) metric.Meter
		PrometheusRegisterer() prometheus.Registerer
		MetricsHandler() http.Handler
	}
)

/*
NewRESTServer returns server for the operator API with the endpoints mounted
under "/api/v1". When Prometheus exporter is enabled metrics are served on
"/api/v1/metrics".
*/
func NewRESTServer(cfg ServerConfig, obs Observability, log *slog.Logger, endpoints ...Endpoints) *http.Server {
	root := mux.NewRouter()
	root.NotFoundHandler = http.HandlerFunc(http.NotFound)

	api := root.PathPrefix(apiPathPrefix).Subrouter()
	api.Use(
		handlers.CORS(handlers.AllowedHeaders([]string{headerAccept, "Accept-Language", "Content-Language", "Origin", headerContentType})),
		instrumentHTTP(obs.Meter(meterName), log),
	)
	if h := obs.MetricsHandler(); h != nil {
		api.Handle("/metrics", h).Methods(http.MethodGet)
	}
	for _, add := range endpoints {
		add(api)
	}

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           http.MaxBytesHandler(root, cfg.MaxBodySize),
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       3 * time.Second,
		// recovery call blocks until the providers have answered
		WriteTimeout: time.Minute,
		IdleTimeout:  30 * time.Second,
	}
}
