package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"

	"github.com/cirocosta/dataplane-exporter/pkg/cache"
	"github.com/cirocosta/dataplane-exporter/pkg/collector"
	"github.com/cirocosta/dataplane-exporter/pkg/diaglog"
	"github.com/cirocosta/dataplane-exporter/pkg/exporter"
	"github.com/cirocosta/dataplane-exporter/pkg/grpcclient"
	"github.com/cirocosta/dataplane-exporter/pkg/identity"
)

const grpcKeepaliveTimeout = 10 * time.Second

type command struct {
	telemetryPath string
	bindAddr      string
	apiVersion    string
	namespace     string
	logFile       string
	grpcPort      int
	grpcKeepalive time.Duration
	tls           bool
}

func (c *command) Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "dataplane-exporter",
		Short:        "Prometheus exporter for storage dataplane metrics",
		RunE:         c.RunE,
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&c.bindAddr, "bind-addr",
		":9502", "address to bind the prometheus server to")

	cmd.Flags().StringVar(&c.telemetryPath, "telemetry-path",
		"/metrics", "endpoint at which prometheus metrics are served")

	cmd.Flags().StringVar(&c.apiVersion, "api-version",
		"v1", "api version (v0 or v1) of the storage engine to "+
			"collect info from")

	cmd.Flags().IntVar(&c.grpcPort, "grpc-port",
		grpcclient.DefaultPort, "port the storage engine serves its "+
			"grpc api on")

	cmd.Flags().DurationVar(&c.grpcKeepalive, "grpc-keepalive",
		30*time.Second, "interval between keepalive pings sent to the "+
			"storage engine")

	cmd.Flags().StringVar(&c.namespace, "namespace",
		collector.DefaultNamespace, "namespace prefixing every metric")

	cmd.Flags().StringVar(&c.logFile, "log-file",
		"", "file to mirror diagnostic logs to")
	_ = cmd.MarkFlagFilename("log-file")

	cmd.Flags().BoolVar(&c.tls, "tls",
		false, "whether to use tls when connecting to the storage engine")

	return cmd
}

func (c *command) RunE(_ *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return c.run(ctx)
}

// run connects to the storage engine and only then starts serving metrics.
// If the engine never becomes reachable, nothing is ever served.
//
func (c *command) run(ctx context.Context) error {
	version, err := grpcclient.ParseAPIVersion(c.apiVersion)
	if err != nil {
		return fmt.Errorf("parse api version: %w", err)
	}

	sinkOpts := []diaglog.Option{}
	if c.logFile != "" {
		sinkOpts = append(sinkOpts, diaglog.WithFile(c.logFile))
	}

	sink, err := diaglog.New(sinkOpts...)
	if err != nil {
		return fmt.Errorf("new diaglog: %w", err)
	}
	defer sink.Close()

	log := sink.Logger()
	ident := identity.NewEnv()

	dialerOpts := []grpcclient.GRPCDialerOption{
		grpcclient.WithDialOptions(grpc.WithKeepaliveParams(
			keepalive.ClientParameters{
				Time:    c.grpcKeepalive,
				Timeout: grpcKeepaliveTimeout,
			},
		)),
	}
	if c.tls {
		dialerOpts = append(dialerOpts, grpcclient.WithTransportCredentials(
			credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12}),
		))
	}

	manager, err := grpcclient.InitClient(ctx, version, ident, c.grpcPort,
		grpcclient.WithDialer(grpcclient.NewGRPCDialer(dialerOpts...)),
		grpcclient.WithLogger(log),
	)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("shutting down before connecting to the engine")
			return nil
		}

		return fmt.Errorf("init client: %w", err)
	}

	poolCache := cache.New()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	err = collector.Register(registry, poolCache, ident,
		collector.WithNamespace(c.namespace),
		collector.WithLogger(log),
	)
	if err != nil {
		_ = manager.Close()
		return fmt.Errorf("collector register: %w", err)
	}

	prometheusExporter, err := exporter.New(
		exporter.WithBindAddress(c.bindAddr),
		exporter.WithTelemetryPath(c.telemetryPath),
		exporter.WithGatherer(registry),
		exporter.WithLogger(log),
	)
	if err != nil {
		_ = manager.Close()
		return fmt.Errorf("new exporter: %w", err)
	}
	defer prometheusExporter.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := prometheusExporter.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("prometheus exporter run: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		if err := manager.Close(); err != nil {
			return fmt.Errorf("manager close: %w", err)
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("wait: %w", err)
	}

	return nil
}
