package otelcol

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"misp-controlplane/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
)

func testConfig() *config.Config {
	var cfg config.Config
	cfg.AppName = "misp-controlplane"
	cfg.AppVersion = "test"
	cfg.AppEnv = "test"
	return &cfg
}

func TestProvideTracerProvider_WithoutCollector(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	tp, err := ProvideTracerProvider(lc, testConfig())
	require.NoError(t, err)

	lc.RequireStart()
	_, span := tp.Tracer("test").Start(context.Background(), "op")
	require.True(t, span.SpanContext().IsValid())
	span.End()
	lc.RequireStop()
}

func TestProvideTracerProvider_UnknownProtocol(t *testing.T) {
	cfg := testConfig()
	cfg.Otel.Addr = "localhost:4317"
	cfg.Otel.Protocol = "carrier-pigeon"

	_, err := ProvideTracerProvider(fxtest.NewLifecycle(t), cfg)
	require.Error(t, err)
}

func TestNewPrometheusMeterProvider_ExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	mp, err := NewPrometheusMeterProvider(testConfig(), reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	counter, err := mp.Meter("test").Int64Counter("misp.license_key.rotations")
	require.NoError(t, err)
	counter.Add(context.Background(), 2)

	w := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var sample string
	for _, line := range strings.Split(w.Body.String(), "\n") {
		if strings.HasPrefix(line, "misp_license_key_rotations_total") {
			sample = line
		}
	}
	require.NotEmpty(t, sample, w.Body.String())
	require.True(t, strings.HasSuffix(sample, " 2"), sample)
}
