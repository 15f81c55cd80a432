package collector

import (
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/model"
	"go.uber.org/zap"

	"github.com/cirocosta/dataplane-exporter/pkg/cache"
	"github.com/cirocosta/dataplane-exporter/pkg/identity"
)

const (
	// DefaultNamespace prefixes every metric exposed by this package.
	//
	DefaultNamespace = "dataplane"

	poolSubsystem = "disk_pool"
)

// poolLabels is the label schema shared by every pool metric.
//
var poolLabels = []string{"node", "name"}

// ErrEmptyLabel is the cause of a sample that can't be emitted because one
// of its label values is empty.
//
var ErrEmptyLabel = errors.New("empty label value")

// Option is a type used by functional arguments to mutate a collector's
// default behavior.
//
type Option func(c *poolCollector)

// WithNamespace overrides DefaultNamespace.
//
func WithNamespace(v string) Option {
	return func(c *poolCollector) {
		c.namespace = v
	}
}

// WithLogger overrides the default development logger.
//
func WithLogger(v logr.Logger) Option {
	return func(c *poolCollector) {
		c.log = v
	}
}

// poolGauge is one gauge tracked per pool: a vector holding the last value
// set for every (node, name) pair, and the descriptor used to hand out
// immutable snapshots of it.
//
type poolGauge struct {
	name   string
	fqName string
	vec    *prometheus.GaugeVec
	desc   *prometheus.Desc
	value  func(p cache.PoolInfo) float64
}

func newPoolGauge(
	namespace, name, help string, value func(p cache.PoolInfo) float64,
) (*poolGauge, error) {
	fqName := prometheus.BuildFQName(namespace, poolSubsystem, name)
	if !model.IsValidMetricName(model.LabelValue(fqName)) {
		return nil, fmt.Errorf("invalid metric name '%s'", fqName)
	}

	return &poolGauge{
		name:   name,
		fqName: fqName,
		vec: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: poolSubsystem,
			Name:      name,
			Help:      help,
		}, poolLabels),
		desc:  prometheus.NewDesc(fqName, help, poolLabels, nil),
		value: value,
	}, nil
}

// sample sets the gauge for (node, pool) and returns a snapshot of that
// single sample.
//
func (g *poolGauge) sample(node string, pool cache.PoolInfo) (prometheus.Metric, error) {
	if pool.Name == "" {
		return nil, fmt.Errorf("%s pool name: %w", g.name, ErrEmptyLabel)
	}

	gauge, err := g.vec.GetMetricWithLabelValues(node, pool.Name)
	if err != nil {
		return nil, fmt.Errorf("%s with label values: %w", g.name, err)
	}

	gauge.Set(g.value(pool))

	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		return nil, fmt.Errorf("%s write: %w", g.name, err)
	}

	metric, err := prometheus.NewConstMetric(
		g.desc,
		prometheus.GaugeValue,
		m.GetGauge().GetValue(),
		node, pool.Name,
	)
	if err != nil {
		return nil, fmt.Errorf("%s const metric: %w", g.name, err)
	}

	return metric, nil
}

// poolCollector holds what is common to every collector that reports one
// set of gauges per pool found in the cache.
//
type poolCollector struct {
	name      string
	namespace string

	cache     *cache.Cache
	nodeNamer identity.NodeNamer

	gauges []*poolGauge
	descs  []*prometheus.Desc

	log logr.Logger
}

type gaugeDefinition struct {
	name  string
	help  string
	value func(p cache.PoolInfo) float64
}

func newPoolCollector(
	name string,
	c *cache.Cache,
	nodeNamer identity.NodeNamer,
	definitions []gaugeDefinition,
	opts ...Option,
) (*poolCollector, error) {
	pc := &poolCollector{
		name:      name,
		namespace: DefaultNamespace,
		cache:     c,
		nodeNamer: nodeNamer,
	}

	for _, opt := range opts {
		opt(pc)
	}

	if pc.log == nil {
		defaultLogger, err := zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("zap new development: %w", err)
		}

		pc.log = zapr.NewLogger(defaultLogger)
	}

	pc.log = pc.log.WithName(name)

	for _, def := range definitions {
		gauge, err := newPoolGauge(pc.namespace, def.name, def.help, def.value)
		if err != nil {
			return nil, fmt.Errorf("new gauge '%s': %w", def.name, err)
		}

		pc.gauges = append(pc.gauges, gauge)
		pc.descs = append(pc.descs, gauge.desc)
	}

	return pc, nil
}

// Name identifies the collector in logs.
//
func (c *poolCollector) Name() string {
	return c.name
}

// Describe implements the Describe function of the Collector interface.
//
func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range c.descs {
		ch <- desc
	}
}

// Collect implements the Collect function of the Collector interface.
//
func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	for _, metric := range c.collect() {
		ch <- metric
	}
}

// collect produces a snapshot of every gauge for every pool in the cache.
//
// Failures never escape: a cache that can't be locked or a node name that
// can't be resolved (or is empty) yield an empty snapshot, and a sample that
// can't be labeled, e.g. a pool without a name, stops the collection,
// returning what was gathered up to that point.
//
func (c *poolCollector) collect() []prometheus.Metric {
	guard, err := c.cache.Lock()
	if err != nil {
		c.log.Error(err, "error while getting cache resource")
		return nil
	}
	defer guard.Unlock()

	pools := guard.Pools().Items()
	metrics := make([]prometheus.Metric, 0, len(c.gauges)*len(pools))

	node, err := c.nodeNamer.NodeName()
	if err == nil && node == "" {
		err = fmt.Errorf("node name: %w", ErrEmptyLabel)
	}

	if err != nil {
		c.log.Error(err, "unable to get node name")
		return metrics
	}

	for _, pool := range pools {
		for _, gauge := range c.gauges {
			metric, err := gauge.sample(node, pool)
			if err != nil {
				c.log.Error(err, "error while creating metrics with label values",
					"metric", gauge.name, "pool", pool.Name)
				return metrics
			}

			metrics = append(metrics, metric)
		}
	}

	return metrics
}

// Register instantiates the pool collectors and registers them with
// `registerer`, making them available for an exporter to gather.
//
func Register(
	registerer prometheus.Registerer,
	c *cache.Cache,
	nodeNamer identity.NodeNamer,
	opts ...Option,
) error {
	capacity, err := NewPoolCapacityCollector(c, nodeNamer, opts...)
	if err != nil {
		return fmt.Errorf("new pool capacity collector: %w", err)
	}

	status, err := NewPoolStatusCollector(c, nodeNamer, opts...)
	if err != nil {
		return fmt.Errorf("new pool status collector: %w", err)
	}

	for _, collector := range []prometheus.Collector{capacity, status} {
		if err := registerer.Register(collector); err != nil {
			return fmt.Errorf("register: %w", err)
		}
	}

	return nil
}
