package exporter_test

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cirocosta/dataplane-exporter/pkg/exporter"
)

func TestExporter_ServesGatherer(t *testing.T) {
	registry := prometheus.NewRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dataplane_test_gauge",
		Help: "gauge used in tests",
	})
	gauge.Set(42)
	registry.MustRegister(gauge)

	e, err := exporter.New(
		exporter.WithBindAddress("127.0.0.1:0"),
		exporter.WithTelemetryPath("/telemetry"),
		exporter.WithGatherer(registry),
		exporter.WithLogger(zapr.NewLogger(zaptest.NewLogger(t))),
	)
	require.NoError(t, err)
	require.NoError(t, e.Listen())
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)

	go func() {
		runErr <- e.Run(ctx)
	}()

	resp, err := http.Get("http://" + e.Addr().String() + "/telemetry")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "dataplane_test_gauge 42")

	cancel()
	assert.ErrorIs(t, <-runErr, context.Canceled)
}

func TestExporter_CloseWithoutListener(t *testing.T) {
	e, err := exporter.New(
		exporter.WithLogger(zapr.NewLogger(zaptest.NewLogger(t))),
	)
	require.NoError(t, err)

	assert.Nil(t, e.Addr())
	assert.NoError(t, e.Close())
}
