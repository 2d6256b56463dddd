package rpc

import (
	"bufio"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/alphabill-org/transferout/logger"
)

type httpMetrics struct {
	calls    metric.Int64Counter
	duration metric.Float64Histogram
	log      *slog.Logger
}

/*
instrumentHTTP returns middleware which counts the API calls and records how
long serving them took, both labeled with route template, method and status.
When the instruments can't be created the handlers are not instrumented.
*/
func instrumentHTTP(mtr metric.Meter, log *slog.Logger) mux.MiddlewareFunc {
	m := &httpMetrics{log: log}
	var err error
	if m.calls, err = mtr.Int64Counter("calls", metric.WithDescription("Number of API calls")); err != nil {
		log.Error("creating API calls counter", logger.Error(err))
		return func(next http.Handler) http.Handler { return next }
	}
	// providers may block transfer requests for seconds so buckets go up to a minute
	m.duration, err = mtr.Float64Histogram("duration",
		metric.WithDescription("Time spent serving the API call"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60))
	if err != nil {
		log.Error("creating API call duration histogram", logger.Error(err))
		return func(next http.Handler) http.Handler { return next }
	}
	return m.middleware
}

func (m *httpMetrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, req)

		attrs := []attribute.KeyValue{
			semconv.HTTPRequestMethodKey.String(req.Method),
			semconv.HTTPResponseStatusCode(sw.Status()),
		}
		if route := mux.CurrentRoute(req); route != nil {
			tmpl, err := route.GetPathTemplate()
			if err != nil {
				m.log.WarnContext(req.Context(), "reading route path template", logger.Error(err))
			} else {
				attrs = append(attrs, semconv.HTTPRoute(tmpl))
			}
		}
		opt := metric.WithAttributeSet(attribute.NewSet(attrs...))
		m.calls.Add(req.Context(), 1, opt)
		m.duration.Record(req.Context(), time.Since(start).Seconds(), opt)
	})
}

/*
statusWriter remembers the first status code written to the response.
*/
type statusWriter struct {
	http.ResponseWriter
	status int
}

// Status returns 200 when handler wrote body without calling WriteHeader.
func (sw *statusWriter) Status() int {
	if sw.status == 0 {
		return http.StatusOK
	}
	return sw.status
}

func (sw *statusWriter) WriteHeader(code int) {
	if sw.status == 0 {
		sw.status = code
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	return sw.ResponseWriter.Write(b)
}

func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// Hijack is used by the websocket upgrade of the event stream.
func (sw *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(sw.ResponseWriter).Hijack()
	if err == nil && sw.status == 0 {
		sw.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}
