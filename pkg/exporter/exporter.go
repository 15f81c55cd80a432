package exporter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Exporter is responsible for bringing up a web server that exposes the
// metrics of the collectors registered against its gatherer (e.g., see
// `pkg/collector`).
//
type Exporter struct {
	// listenAddress is the full address used by prometheus
	// to listen for scraping requests.
	//
	// Examples:
	// - :9502
	// - 127.0.0.2:1313
	//
	listenAddress string

	// telemetryPath configures the path under which
	// the prometheus metrics are reported.
	//
	// For instance:
	// - /metrics
	// - /telemetry
	//
	telemetryPath string

	// gatherer is where metrics are gathered from on every scrape.
	//
	// default: prometheus.DefaultGatherer
	//
	gatherer prometheus.Gatherer

	// listener is the TCP listener used by the webserver. `nil` if no
	// server is running.
	//
	listener net.Listener

	log logr.Logger
}

// Option is a functional argument that overrides Exporter defaults.
//
type Option func(e *Exporter)

// WithBindAddress overrides the address the server listens on.
//
func WithBindAddress(v string) Option {
	return func(e *Exporter) {
		e.listenAddress = v
	}
}

// WithTelemetryPath overrides the path metrics are served under.
//
func WithTelemetryPath(v string) Option {
	return func(e *Exporter) {
		e.telemetryPath = v
	}
}

// WithGatherer makes the exporter serve metrics from `v` instead of the
// global registry.
//
func WithGatherer(v prometheus.Gatherer) Option {
	return func(e *Exporter) {
		e.gatherer = v
	}
}

// WithLogger overrides the default development logger.
//
func WithLogger(v logr.Logger) Option {
	return func(e *Exporter) {
		e.log = v
	}
}

// New instantiates an Exporter.
//
func New(opts ...Option) (*Exporter, error) {
	e := &Exporter{
		listenAddress: ":9502",
		telemetryPath: "/metrics",
		gatherer:      prometheus.DefaultGatherer,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.log == nil {
		defaultLogger, err := zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("zap new development: %w", err)
		}

		e.log = zapr.NewLogger(defaultLogger)
	}

	e.log = e.log.WithName("exporter")

	return e, nil
}

// Listen binds the listener without serving yet. Run calls it if it wasn't
// called before.
//
func (e *Exporter) Listen() error {
	if e.listener != nil {
		return nil
	}

	listener, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return fmt.Errorf("listen on '%s': %w", e.listenAddress, err)
	}

	e.listener = listener

	return nil
}

// Addr is the address the exporter is listening on, `nil` if not listening.
//
func (e *Exporter) Addr() net.Addr {
	if e.listener == nil {
		return nil
	}

	return e.listener.Addr()
}

// Handler returns the http handler serving metrics under the telemetry
// path.
//
func (e *Exporter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(e.telemetryPath, promhttp.HandlerFor(e.gatherer, promhttp.HandlerOpts{
		ErrorLog:      &promLogger{log: e.log},
		ErrorHandling: promhttp.ContinueOnError,
	}))

	return mux
}

// Run initiates the HTTP server to serve the metrics.
//
// ps.: this is a BLOCKING method - make sure you either make use of goroutines
// to not block if needed.
//
func (e *Exporter) Run(ctx context.Context) error {
	if err := e.Listen(); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{Handler: e.Handler()}
	doneChan := make(chan error, 1)

	go func() {
		defer close(doneChan)

		e.log.WithValues(
			"addr", e.listener.Addr().String(),
			"path", e.telemetryPath,
		).Info("listening")

		err := server.Serve(e.listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			doneChan <- fmt.Errorf(
				"failed listening on address %s: %w",
				e.listenAddress, err,
			)
		}
	}()

	select {
	case err := <-doneChan:
		if err != nil {
			return fmt.Errorf("donechan err: %w", err)
		}
	case <-ctx.Done():
		_ = server.Close()
		return fmt.Errorf("ctx err: %w", ctx.Err())
	}

	return nil
}

// Close gracefully closes the tcp listener associated with it.
//
func (e *Exporter) Close() (err error) {
	if e.listener == nil {
		return nil
	}

	e.log.Info("closing")
	if err := e.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close: %w", err)
	}

	return nil
}

// promLogger adapts logr to the logger promhttp reports gathering errors to.
//
type promLogger struct {
	log logr.Logger
}

func (l *promLogger) Println(v ...interface{}) {
	l.log.Error(errors.New(fmt.Sprint(v...)), "gather")
}
