package collector

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cirocosta/dataplane-exporter/pkg/cache"
	"github.com/cirocosta/dataplane-exporter/pkg/identity"
)

// PoolCapacityCollector reports the total, used and committed size of every
// pool.
//
type PoolCapacityCollector struct {
	*poolCollector
}

var _ prometheus.Collector = (*PoolCapacityCollector)(nil)

func NewPoolCapacityCollector(
	c *cache.Cache, nodeNamer identity.NodeNamer, opts ...Option,
) (*PoolCapacityCollector, error) {
	pc, err := newPoolCollector("pool_capacity", c, nodeNamer, []gaugeDefinition{
		{
			name: "total_size_bytes",
			help: "Total size of the pool in bytes",
			value: func(p cache.PoolInfo) float64 {
				return float64(p.Capacity)
			},
		},
		{
			name: "used_size_bytes",
			help: "Used size of the pool in bytes",
			value: func(p cache.PoolInfo) float64 {
				return float64(p.Used)
			},
		},
		{
			name: "committed_size_bytes",
			help: "Committed size of the pool in bytes",
			value: func(p cache.PoolInfo) float64 {
				return float64(p.Committed)
			},
		},
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("new pool collector: %w", err)
	}

	return &PoolCapacityCollector{pc}, nil
}
