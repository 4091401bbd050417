package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hugolhafner/extoffset/logger"
	"github.com/hugolhafner/extoffset/offset"
	extotel "github.com/hugolhafner/extoffset/otel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// newTelemetry exports the OpenTelemetry instruments through reg.
func newTelemetry(reg prometheus.Registerer) (*extotel.Telemetry, *sdkmetric.MeterProvider, error) {
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	tel, err := extotel.NewTelemetry(nil, mp, propagation.TraceContext{})
	if err != nil {
		_ = mp.Shutdown(context.Background())
		return nil, nil, fmt.Errorf("create telemetry: %w", err)
	}

	return tel, mp, nil
}

func newMux(reg prometheus.Gatherer, health func() *offset.Health, l logger.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(
		"/metrics", promhttp.HandlerFor(
			reg, promhttp.HandlerOpts{
				EnableOpenMetrics: true,
				ErrorLog:          promLogger{l},
			},
		),
	)
	mux.HandleFunc(
		"/healthz", func(w http.ResponseWriter, _ *http.Request) {
			h := health()
			if h == nil || h.Healthy() {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok\n"))
				return
			}
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, "offset store unavailable since %s: %v\n", h.Since().Format(time.RFC3339), h.LastError())
		},
	)
	return mux
}

func serveMetrics(addr string, handler http.Handler, l logger.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		l.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("Metrics server failed", "error", err)
		}
	}()

	return srv
}

type promLogger struct {
	l logger.Logger
}

func (p promLogger) Println(v ...interface{}) {
	p.l.Error("Prometheus handler error", "error", fmt.Sprint(v...))
}
